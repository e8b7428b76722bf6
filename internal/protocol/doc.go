// Package protocol owns the gateway wire contract and parsing primitives.
//
// Ownership boundary:
// - frame envelope and opcodes
// - handshake payload shapes (hello, identify, resume, ready)
// - close code classification
//
// Session state and reconnect policy live in internal/gateway; this package
// never holds state.
package protocol
