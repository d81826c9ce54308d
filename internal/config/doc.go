// Package config loads, normalizes, and validates Sigilla configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours SIGILLA_* environment overrides.
// The Config type centralizes every knob the daemon and CLI need, so the
// socket, session id file, and backend command line are resolved in one pass
// and handed to constructors instead of being looked up ad hoc.
package config
