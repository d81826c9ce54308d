// Package transcript persists one row per gated turn in a SQLite database so
// operators can review what the daemon relayed. The daemon writes through
// Store.Record; the CLI reads with Store.Recent.
package transcript
