// Package logs tails and formats the daemon's JSON log files for
// `sigilla logs`.
//
// Tail streams a file with bounded memory, supports negative offsets for
// "last N lines" reads, and waits for new lines in follow mode. Entry parses
// one JSON record and renders it in the same shape as the console handler, so
// the CLI can filter by level, component, or connection without re-reading
// the file.
package logs
