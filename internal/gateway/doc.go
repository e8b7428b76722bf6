// Package gateway runs the long-lived event stream session.
//
// A Client owns one logical session across many sockets: it performs the
// hello/identify/resume handshake, keeps the connection alive with
// heartbeats, classifies closes, and reconnects with backoff until the
// session ends fatally or is shut down. Events reach callers through a
// Handler.
package gateway
