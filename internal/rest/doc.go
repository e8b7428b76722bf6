// Package rest owns the rate-limited request dispatcher.
//
// Ownership boundary:
// - per-bucket FIFO workers (one in-flight request per bucket)
// - the shared bucket table and the global limit
// - retry policy for 429, 5xx and transport failures
// - rate-limit header parsing and bucket key derivation
//
// Routes and payloads are opaque; callers own their meaning.
package rest
