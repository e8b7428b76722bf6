// Package session owns gateway session state and reliability primitives.
//
// Ownership boundary:
// - session identity, sequence tracking, heartbeat-ack bookkeeping
// - lifecycle state names
// - retry/backoff primitives shared with the REST dispatcher
// - transport timeouts and security validation
//
// The connection itself (dial, read loop, heartbeat task) is driven by
// internal/gateway; this package only holds what that loop mutates.
package session
