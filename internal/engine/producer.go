// Package engine drives the per-context state machine described in
// §4.H: HTML_HEAD_META → HTML_HEAD → JOB1 → JSON → HTML_TAIL → COMPLETE,
// sequencing an optional HTML sandwich around a streamed JSON (or raw)
// artifact produced by one or more chained Producers, and sealing every
// JSON response with a fixed-shape epilogue.
package engine

import "context"

// Producer is the contract every job implements (§4.H "Producer
// contract"): Start acquires one-time resources, Step appends as much
// output as fits within maxBytes to sink and reports whether the
// artifact is now complete, Destroy releases resources on any normal
// exit, and DestroyWhileRunning is called instead of Destroy when the
// host abandons the context mid-stream and must still release
// partially-built state (e.g. an open cache temp file).
type Producer interface {
	Start(ctx context.Context) error
	Step(ctx context.Context, sink *Sink, maxBytes int) (final bool, err error)
	Destroy()
	DestroyWhileRunning()
}

// Chainer is implemented by producers that, once final, may hand off to
// a successor producer sharing the same cache file and fingerprint
// (§4.H "Chaining"). In this module only jobs.Tree implements it, to
// chain its inline README; summary, search and blame requests run a
// single producer.
type Chainer interface {
	Producer
	Next() Producer // returns nil if there is no successor
}
