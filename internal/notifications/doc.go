// Package notifications publishes daemon lifecycle alerts to ntfy.
//
// Only a handful of events are worth waking someone for: the daemon coming
// up, the claude backend exiting underneath it, and explicit test pings.
// With no topic configured NewService returns a no-op, so callers never
// branch on whether alerts are enabled.
package notifications
