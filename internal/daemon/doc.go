// Package daemon coordinates the long-running Sigilla process.
//
// It wires configuration, the backend session, the transcript store, and the
// socket server into a single lifecycle with flock-based locking to prevent
// multiple instances. Shutdown runs in the reverse order: stop accepting
// clients, stop the backend with grace-then-kill, close storage, release the
// lock.
package daemon
