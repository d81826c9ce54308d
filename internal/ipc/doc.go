// Package ipc exposes the backend session over a Unix domain socket speaking
// newline-delimited JSON, and ships the matching client used by the CLI.
//
// Every connection gets its own goroutine and may send any number of
// requests. Ping and status answer from cached session state. Message
// requests queue on the session Gate; the holder gets an ack, then the
// backend's messages relayed verbatim up to the terminal result or error.
// Protocol failures produce a single error line and leave the connection
// open.
package ipc
