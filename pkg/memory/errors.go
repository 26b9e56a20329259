package memory

import "errors"

// Sentinel errors shared by the memory backends and the retrieval engine.
// Callers classify failures with errors.Is; backends wrap these with
// operation detail via fmt.Errorf("component: op: %w", …).
var (
	// ErrNotFound indicates the requested id is not known to the store.
	// Lookups return it instead of fabricating content.
	ErrNotFound = errors.New("memory: not found")

	// ErrInvalidFilter indicates a structurally invalid filter (empty field
	// or unknown operator). Surfaced to the caller, never retried.
	ErrInvalidFilter = errors.New("memory: invalid filter")

	// ErrUpstream indicates a backend (vector store, graph, model) failure.
	// Idempotent reads may be retried once; writes are retried only by the
	// job layer.
	ErrUpstream = errors.New("memory: upstream failure")

	// ErrConsistency indicates a dual-store post-condition violation; the
	// writer reacts with keyed cleanup on the recording id.
	ErrConsistency = errors.New("memory: consistency violation")

	// ErrUserMismatch indicates a request addressed data owned by a
	// different user. Surfaced to the caller, never retried.
	ErrUserMismatch = errors.New("memory: user mismatch")
)
