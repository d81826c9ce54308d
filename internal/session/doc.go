// Package session owns the long-lived claude subprocess behind the daemon.
//
// A Session starts (or resumes) one backend process speaking stream-json,
// reads its stdout on a supervised reader goroutine, and queues every decoded
// message. Stream writes one user turn and relays queued messages until the
// turn's terminal result or error. Callers must hold the Gate for the whole
// call so turns never interleave on the subprocess input.
package session
