// Package mock provides in-memory test doubles for the memory layer
// interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	index := &mock.VectorIndex{}
//	index.UpsertErr = errors.New("boom")
//
//	// inject index into the system under test …
//
//	if got := index.CallCount("DeleteRecording"); got != 1 {
//	    t.Errorf("expected 1 DeleteRecording call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// recorder is the shared call log embedded by every mock.
type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (r *recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// ─────────────────────────────────────────────────────────────────────────────
// VectorIndex mock
// ─────────────────────────────────────────────────────────────────────────────

// VectorIndex is a configurable test double for [memory.VectorIndex]. Upserted
// chunks accumulate in an internal map so that counts and lookups behave like
// a real store unless overridden.
type VectorIndex struct {
	recorder

	// UpsertErr is returned by UpsertChunks when non-nil.
	UpsertErr error

	// SearchResult is returned by Search. When nil, Search returns an empty
	// non-nil slice.
	SearchResult []memory.VectorHit

	// SearchErr is returned by Search when non-nil.
	SearchErr error

	// DeleteErr is returned by DeleteRecording when non-nil.
	DeleteErr error

	// CountOverride, when non-nil, is returned by CountChunks instead of the
	// stored chunk count.
	CountOverride *int

	// HealthErr is returned by HealthCheck when non-nil.
	HealthErr error

	storeMu sync.Mutex
	chunks  map[string]memory.Chunk
}

var _ memory.VectorIndex = (*VectorIndex)(nil)

// Collection implements [memory.VectorIndex].
func (m *VectorIndex) Collection() string { return "memory_chunks" }

// UpsertChunks implements [memory.VectorIndex].
func (m *VectorIndex) UpsertChunks(_ context.Context, chunks []memory.Chunk) error {
	m.record("UpsertChunks", chunks)
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	if m.chunks == nil {
		m.chunks = map[string]memory.Chunk{}
	}
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

// Search implements [memory.VectorIndex].
func (m *VectorIndex) Search(_ context.Context, q memory.VectorQuery) ([]memory.VectorHit, error) {
	m.record("Search", q)
	if m.SearchResult == nil {
		return []memory.VectorHit{}, m.SearchErr
	}
	out := make([]memory.VectorHit, len(m.SearchResult))
	copy(out, m.SearchResult)
	return out, m.SearchErr
}

// GetChunk implements [memory.VectorIndex].
func (m *VectorIndex) GetChunk(_ context.Context, id string) (*memory.Chunk, error) {
	m.record("GetChunk", id)
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	if c, ok := m.chunks[id]; ok {
		return &c, nil
	}
	return nil, memory.ErrNotFound
}

// DeleteRecording implements [memory.VectorIndex].
func (m *VectorIndex) DeleteRecording(_ context.Context, recordingID string) error {
	m.record("DeleteRecording", recordingID)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	for id, c := range m.chunks {
		if c.RecordingID == recordingID {
			delete(m.chunks, id)
		}
	}
	return nil
}

// CountChunks implements [memory.VectorIndex].
func (m *VectorIndex) CountChunks(_ context.Context, recordingID string) (int, error) {
	m.record("CountChunks", recordingID)
	if m.CountOverride != nil {
		return *m.CountOverride, nil
	}
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	n := 0
	for _, c := range m.chunks {
		if c.RecordingID == recordingID {
			n++
		}
	}
	return n, nil
}

// HealthCheck implements [memory.VectorIndex].
func (m *VectorIndex) HealthCheck(context.Context) error {
	m.record("HealthCheck")
	return m.HealthErr
}

// Stored returns a snapshot of the chunks currently held, keyed by id.
func (m *VectorIndex) Stored() map[string]memory.Chunk {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	out := make(map[string]memory.Chunk, len(m.chunks))
	for id, c := range m.chunks {
		out[id] = c
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// EntityGraph mock
// ─────────────────────────────────────────────────────────────────────────────

// EntityGraph is a configurable test double for [memory.EntityGraph]. Merged
// chunks accumulate internally so counts and lookups behave like a real
// store unless overridden.
type EntityGraph struct {
	recorder

	// EnsureRecordingErr is returned by EnsureRecording when non-nil.
	EnsureRecordingErr error

	// MergeChunkErr is returned by MergeChunk when non-nil.
	MergeChunkErr error

	// MergeChunkErrAfter fails MergeChunk only from the Nth call on
	// (1-based) when MergeChunkErr is set. Zero fails every call.
	MergeChunkErrAfter int

	// LinkSequenceErr is returned by LinkSequence when non-nil.
	LinkSequenceErr error

	// MentionHits is returned by SearchEntityMentions.
	MentionHits []memory.EntityMentionHit

	// TextHits is returned by SearchText.
	TextHits []memory.TextHit

	// PathHits is returned by SearchPaths and FindPathsBetween.
	PathHits []memory.PathHit

	// SearchErr is returned by every search method when non-nil.
	SearchErr error

	// DeleteErr is returned by DeleteRecording when non-nil.
	DeleteErr error

	// CountOverride, when non-nil, is returned by CountChunks instead of the
	// stored chunk count.
	CountOverride *int

	// HealthErr is returned by HealthCheck when non-nil.
	HealthErr error

	storeMu    sync.Mutex
	chunks     map[string]memory.Chunk
	sequences  map[string]int
	mergeCalls int
}

var _ memory.EntityGraph = (*EntityGraph)(nil)

// EnsureRecording implements [memory.EntityGraph].
func (m *EntityGraph) EnsureRecording(_ context.Context, rec types.Recording) error {
	m.record("EnsureRecording", rec)
	return m.EnsureRecordingErr
}

// MergeChunk implements [memory.EntityGraph].
func (m *EntityGraph) MergeChunk(_ context.Context, c memory.Chunk) error {
	m.record("MergeChunk", c)
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	m.mergeCalls++
	if m.MergeChunkErr != nil && m.mergeCalls >= m.MergeChunkErrAfter {
		return m.MergeChunkErr
	}
	if m.chunks == nil {
		m.chunks = map[string]memory.Chunk{}
	}
	m.chunks[c.ID] = c
	return nil
}

// LinkSequence implements [memory.EntityGraph].
func (m *EntityGraph) LinkSequence(_ context.Context, recordingID string, chunkIDs []string) error {
	m.record("LinkSequence", recordingID, chunkIDs)
	if m.LinkSequenceErr != nil {
		return m.LinkSequenceErr
	}
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	if m.sequences == nil {
		m.sequences = map[string]int{}
	}
	if len(chunkIDs) > 1 {
		m.sequences[recordingID] = len(chunkIDs) - 1
	}
	return nil
}

// SearchEntityMentions implements [memory.EntityGraph].
func (m *EntityGraph) SearchEntityMentions(_ context.Context, name string, entityType memory.EntityType, userID string, limit int) ([]memory.EntityMentionHit, error) {
	m.record("SearchEntityMentions", name, entityType, userID, limit)
	if m.MentionHits == nil {
		return []memory.EntityMentionHit{}, m.SearchErr
	}
	out := make([]memory.EntityMentionHit, len(m.MentionHits))
	copy(out, m.MentionHits)
	return out, m.SearchErr
}

// SearchText implements [memory.EntityGraph].
func (m *EntityGraph) SearchText(_ context.Context, query string, userID string, limit int) ([]memory.TextHit, error) {
	m.record("SearchText", query, userID, limit)
	if m.TextHits == nil {
		return []memory.TextHit{}, m.SearchErr
	}
	out := make([]memory.TextHit, len(m.TextHits))
	copy(out, m.TextHits)
	return out, m.SearchErr
}

// SearchPaths implements [memory.EntityGraph].
func (m *EntityGraph) SearchPaths(_ context.Context, query string, userID string, maxDepth, limit int) ([]memory.PathHit, error) {
	m.record("SearchPaths", query, userID, maxDepth, limit)
	if m.PathHits == nil {
		return []memory.PathHit{}, m.SearchErr
	}
	out := make([]memory.PathHit, len(m.PathHits))
	copy(out, m.PathHits)
	return out, m.SearchErr
}

// FindPathsBetween implements [memory.EntityGraph].
func (m *EntityGraph) FindPathsBetween(_ context.Context, nameA, nameB string, maxDepth int, userID string, limit int) ([]memory.PathHit, error) {
	m.record("FindPathsBetween", nameA, nameB, maxDepth, userID, limit)
	if m.PathHits == nil {
		return []memory.PathHit{}, m.SearchErr
	}
	out := make([]memory.PathHit, len(m.PathHits))
	copy(out, m.PathHits)
	return out, m.SearchErr
}

// GetChunk implements [memory.EntityGraph].
func (m *EntityGraph) GetChunk(_ context.Context, id string) (*memory.Chunk, error) {
	m.record("GetChunk", id)
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	if c, ok := m.chunks[id]; ok {
		return &c, nil
	}
	return nil, memory.ErrNotFound
}

// GetEntity implements [memory.EntityGraph].
func (m *EntityGraph) GetEntity(_ context.Context, normalized string, entityType memory.EntityType, userID string) (*memory.Entity, error) {
	m.record("GetEntity", normalized, entityType, userID)
	return nil, memory.ErrNotFound
}

// CountChunks implements [memory.EntityGraph].
func (m *EntityGraph) CountChunks(_ context.Context, recordingID string) (int, error) {
	m.record("CountChunks", recordingID)
	if m.CountOverride != nil {
		return *m.CountOverride, nil
	}
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	n := 0
	for _, c := range m.chunks {
		if c.RecordingID == recordingID {
			n++
		}
	}
	return n, nil
}

// CountSequenceEdges implements [memory.EntityGraph].
func (m *EntityGraph) CountSequenceEdges(_ context.Context, recordingID string) (int, error) {
	m.record("CountSequenceEdges", recordingID)
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	return m.sequences[recordingID], nil
}

// DeleteRecording implements [memory.EntityGraph].
func (m *EntityGraph) DeleteRecording(_ context.Context, recordingID string) error {
	m.record("DeleteRecording", recordingID)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	for id, c := range m.chunks {
		if c.RecordingID == recordingID {
			delete(m.chunks, id)
		}
	}
	delete(m.sequences, recordingID)
	return nil
}

// HealthCheck implements [memory.EntityGraph].
func (m *EntityGraph) HealthCheck(context.Context) error {
	m.record("HealthCheck")
	return m.HealthErr
}

// Stored returns a snapshot of the chunk nodes currently held, keyed by id.
func (m *EntityGraph) Stored() map[string]memory.Chunk {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	out := make(map[string]memory.Chunk, len(m.chunks))
	for id, c := range m.chunks {
		out[id] = c
	}
	return out
}
