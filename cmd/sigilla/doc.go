// Package main hosts the Sigilla CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into socket
// requests against the daemon (ask, heartbeat, chat, ping), daemon lifecycle
// control (start, stop, restart, status), transcript browsing, log tailing,
// notification checks, and configuration scaffolding. It centralizes configuration resolution and
// socket discovery so subcommands can focus on user experience instead of
// wiring.
package main
