// Package logging assembles structured slog loggers and formatting helpers used
// across Sigilla.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context helpers so connection handlers can tag every
// line they cause, including lines logged by the backend session, with the
// connection and request identifiers. A no-op logger is provided for tests and
// wiring code that cannot fail.
//
// Loggers are always passed to constructors; no package keeps a global logger.
package logging
