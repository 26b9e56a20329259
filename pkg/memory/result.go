package memory

import (
	"strings"
	"time"
)

// ResultType tags the variant of a retrieval [Result].
type ResultType string

const (
	ResultChunk        ResultType = "chunk"
	ResultEntity       ResultType = "entity"
	ResultRelationship ResultType = "relationship"
	ResultDocument     ResultType = "document"
	ResultMixed        ResultType = "mixed"
)

// Result is the uniform shape every retriever returns. It is a tagged union:
// Type selects the variant, the typed accessors read the variant-specific
// metadata keys, and Metadata remains the escape hatch for anything a
// backend attaches beyond the standard keys.
type Result struct {
	// ID identifies the underlying item. For chunk results this is the
	// chunk id shared by both stores.
	ID string

	// Type selects the variant.
	Type ResultType

	// Content is the retrievable text of the item.
	Content string

	// Metadata carries the standard keys (recording_id, user_id, positions,
	// language, tags, category, created_at) plus backend extras.
	Metadata map[string]any

	// Score is the retriever-assigned relevance in [0, 1], replaced by the
	// unified score after ranking.
	Score float64

	// Source tags the producing backend and sub-strategy, e.g.
	// "pgvector.chunks" or "neo4j.entity_name". After deduplication a merged
	// result carries the union, comma-joined.
	Source string

	// Timestamp is the creation time of the underlying item; zero when the
	// backend did not report one.
	Timestamp time.Time

	// Entities lists entity surfaces associated with the item.
	Entities []string

	// Relationships lists relationship descriptors associated with the item.
	Relationships []string

	// Embedding optionally carries the item's vector. Usually omitted to
	// keep results small.
	Embedding []float32
}

// Standard metadata keys shared by both stores. Every chunk entry carries
// these under the same names so that filters written against one backend
// apply to the other.
const (
	MetaRecordingID = "recording_id"
	MetaUserID      = "user_id"
	MetaStart       = "start"
	MetaEnd         = "end"
	MetaChunkIndex  = "chunk_index"
	MetaChunkTotal  = "chunk_total"
	MetaLanguage    = "language"
	MetaTags        = "tags"
	MetaCategory    = "category"
	MetaCreatedAt   = "created_at"
	MetaEntityCount = "entity_count"
)

// MetaString returns the named metadata value as a string, or "" when absent
// or not a string.
func (r Result) MetaString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	s, _ := r.Metadata[key].(string)
	return s
}

// MetaInt returns the named metadata value as an int, tolerating the numeric
// types that survive JSON and database round-trips.
func (r Result) MetaInt(key string) (int, bool) {
	if r.Metadata == nil {
		return 0, false
	}
	switch v := r.Metadata[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// RecordingID returns the parent recording id for chunk results.
func (r Result) RecordingID() string { return r.MetaString(MetaRecordingID) }

// UserID returns the owning user id, or "" for unscoped results.
func (r Result) UserID() string { return r.MetaString(MetaUserID) }

// EntityCount returns the number of entities attached to the result,
// preferring the metadata count over the Entities slice length.
func (r Result) EntityCount() int {
	if n, ok := r.MetaInt(MetaEntityCount); ok {
		return n
	}
	return len(r.Entities)
}

// Sources splits the comma-joined Source tag list.
func (r Result) Sources() []string {
	if r.Source == "" {
		return nil
	}
	parts := strings.Split(r.Source, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// HasSource reports whether any source tag starts with prefix.
func (r Result) HasSource(prefix string) bool {
	for _, s := range r.Sources() {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// MergeSources joins two comma-separated source tag lists, dropping
// duplicates while preserving first-seen order.
func MergeSources(a, b string) string {
	seen := map[string]struct{}{}
	var out []string
	for _, src := range append(Result{Source: a}.Sources(), Result{Source: b}.Sources()...) {
		if src == "" {
			continue
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return strings.Join(out, ",")
}

// ChunkResult builds a chunk-variant Result from a chunk and a score. The
// standard metadata keys are populated from the chunk fields; the source tag
// is supplied by the caller.
func ChunkResult(c Chunk, score float64, source string) Result {
	entities := make([]string, 0, len(c.Entities))
	for _, m := range c.Entities {
		entities = append(entities, m.Surface)
	}
	md := map[string]any{
		MetaRecordingID: c.RecordingID,
		MetaUserID:      c.UserID,
		MetaStart:       c.Start,
		MetaEnd:         c.End,
		MetaChunkIndex:  c.Index,
		MetaChunkTotal:  c.Total,
		MetaLanguage:    c.Language,
		MetaEntityCount: len(c.Entities),
	}
	if len(c.Tags) > 0 {
		md[MetaTags] = c.Tags
	}
	if c.Category != "" {
		md[MetaCategory] = c.Category
	}
	if !c.CreatedAt.IsZero() {
		md[MetaCreatedAt] = c.CreatedAt.Format(time.RFC3339)
	}
	return Result{
		ID:        c.ID,
		Type:      ResultChunk,
		Content:   c.Text,
		Metadata:  md,
		Score:     score,
		Source:    source,
		Timestamp: c.CreatedAt,
		Entities:  entities,
	}
}
