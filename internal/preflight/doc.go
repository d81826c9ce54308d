// Package preflight provides readiness checks for the backend binary and the
// filesystem paths that Sigilla depends on.
//
// The CLI "sigilla start" command runs RunAll before launching the daemon and
// refuses to start when a required check fails. "sigilla status" prints the
// same results as its Checks section.
package preflight
