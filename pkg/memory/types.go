package memory

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ─────────────────────────────────────────────────────────────────────────────
// Chunks
// ─────────────────────────────────────────────────────────────────────────────

// Chunk is an immutable positional window over a recording's transcript.
// A chunk exists in two physical places — the vector index (with its
// embedding) and the entity graph (as a node) — and both representations
// share the same ID.
type Chunk struct {
	// ID is the stable chunk identifier, deterministically derived from the
	// parent recording id and the chunk index via [ChunkID].
	ID string

	// RecordingID is the parent recording.
	RecordingID string

	// UserID is the owning user, copied from the recording.
	UserID string

	// Text is the transcript substring covered by this chunk.
	Text string

	// Start and End delimit the window [Start, End) in runes of the full
	// transcript text.
	Start int
	End   int

	// Index is the zero-based position of this chunk within the recording.
	Index int

	// Total is the number of chunks the recording was split into.
	Total int

	// Language is the BCP-47 language tag inherited from the transcript.
	Language string

	// Tags are optional free-form labels attached at upload time.
	Tags []string

	// Category is an optional coarse classification attached at upload time.
	Category string

	// CreatedAt is when the chunk was produced by the ingestion pipeline.
	CreatedAt time.Time

	// Entities are the named-entity mentions detected within Text. Positions
	// are absolute transcript offsets (re-based by the pipeline).
	Entities []EntityMention

	// Embedding is the vector representation of Text. Populated by the
	// pipeline before the dual-store write; the graph ignores it.
	Embedding []float32
}

// ChunkID derives the stable chunk identifier for the index-th chunk of a
// recording. The derivation is deterministic so that re-ingesting a recording
// merges onto the same nodes and vector entries instead of duplicating them.
func ChunkID(recordingID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", recordingID, index)
}

// EntityCount returns the number of entity mentions in the chunk.
func (c Chunk) EntityCount() int { return len(c.Entities) }

// ─────────────────────────────────────────────────────────────────────────────
// Entities
// ─────────────────────────────────────────────────────────────────────────────

// EntityType classifies a named entity. The taxonomy is fixed; extractor
// output with an unrecognised type must be mapped to [EntityGeneric].
type EntityType string

const (
	EntityPerson       EntityType = "Person"
	EntityOrganization EntityType = "Organization"
	EntityLocation     EntityType = "Location"
	EntityMoney        EntityType = "MonetaryValue"
	EntityDate         EntityType = "Date"
	EntityTime         EntityType = "Time"
	EntityPercentage   EntityType = "Percentage"
	EntityEvent        EntityType = "Event"
	EntityProduct      EntityType = "Product"
	EntityWorkOfArt    EntityType = "WorkOfArt"
	EntityLaw          EntityType = "Law"
	EntityLanguage     EntityType = "Language"

	// EntityGeneric is the catch-all type for mentions the extractor could
	// not classify.
	EntityGeneric EntityType = "Entity"
)

// EntityTypes lists every recognised entity type, generic last.
var EntityTypes = []EntityType{
	EntityPerson, EntityOrganization, EntityLocation, EntityMoney,
	EntityDate, EntityTime, EntityPercentage, EntityEvent, EntityProduct,
	EntityWorkOfArt, EntityLaw, EntityLanguage, EntityGeneric,
}

// IsValid reports whether t is a recognised entity type.
func (t EntityType) IsValid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CanonicalEntityType maps an arbitrary extractor label to a taxonomy type.
// Matching is case-insensitive and accepts the common NER abbreviations;
// anything unrecognised becomes [EntityGeneric].
func CanonicalEntityType(label string) EntityType {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PERSON", "PER":
		return EntityPerson
	case "ORGANIZATION", "ORG", "COMPANY":
		return EntityOrganization
	case "LOCATION", "LOC", "GPE", "PLACE":
		return EntityLocation
	case "MONETARYVALUE", "MONEY", "CURRENCY":
		return EntityMoney
	case "DATE":
		return EntityDate
	case "TIME":
		return EntityTime
	case "PERCENTAGE", "PERCENT":
		return EntityPercentage
	case "EVENT":
		return EntityEvent
	case "PRODUCT":
		return EntityProduct
	case "WORKOFART", "WORK_OF_ART":
		return EntityWorkOfArt
	case "LAW":
		return EntityLaw
	case "LANGUAGE":
		return EntityLanguage
	default:
		return EntityGeneric
	}
}

// EntityMention is a single typed span within a chunk's text.
type EntityMention struct {
	// Surface is the text exactly as it appears in the transcript.
	Surface string `json:"surface"`

	// Type is the taxonomy classification of the mention.
	Type EntityType `json:"type"`

	// Start and End delimit the span [Start, End) in absolute transcript
	// rune offsets.
	Start int `json:"start"`
	End   int `json:"end"`

	// Confidence is the extractor's confidence in this span (0.0–1.0).
	Confidence float64 `json:"confidence"`
}

// Normalized returns the merge key form of the mention surface: lower-cased,
// punctuation replaced by spaces, whitespace collapsed.
func (m EntityMention) Normalized() string { return NormalizeEntityName(m.Surface) }

// NormalizeEntityName produces the canonical merge-key form of an entity
// surface: lower-cased, punctuation mapped to spaces, runs of whitespace
// collapsed to a single space, and leading/trailing space trimmed.
func NormalizeEntityName(surface string) string {
	var b strings.Builder
	b.Grow(len(surface))
	for _, r := range strings.ToLower(surface) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Entity is a named thing aggregated over all its mentions. Identity within a
// user's data is (Normalized, Type, UserID): a repeated mention increments
// counters on the existing node rather than creating a duplicate.
type Entity struct {
	// Name is the surface form recorded at first mention.
	Name string

	// Normalized is the merge-key form of Name (see [NormalizeEntityName]).
	Normalized string

	// Type is the taxonomy classification.
	Type EntityType

	// UserID scopes the entity to its owner.
	UserID string

	// FirstSeen and LastSeen bracket the mention history.
	FirstSeen time.Time
	LastSeen  time.Time

	// MentionCount is the monotonic number of MENTIONS edges targeting this
	// entity.
	MentionCount int

	// Confidence is the accumulated extraction confidence over all mentions.
	Confidence float64
}

// ─────────────────────────────────────────────────────────────────────────────
// Inferred entity-to-entity relations
// ─────────────────────────────────────────────────────────────────────────────

// RelationRule describes one co-occurrence inference rule: when entities of
// types From and To are mentioned in the same chunk, an edge of type Rel with
// the given strength is merged between them.
type RelationRule struct {
	From     EntityType
	To       EntityType
	Rel      string
	Strength float64
}

// relationRules is evaluated in order; the first matching rule wins.
var relationRules = []RelationRule{
	{EntityPerson, EntityOrganization, "WORKS_FOR", 0.7},
	{EntityPerson, EntityLocation, "LOCATED_IN", 0.6},
	{EntityOrganization, EntityLocation, "BASED_IN", 0.8},
	{EntityPerson, EntityPerson, "ASSOCIATED_WITH", 0.5},
}

// InferRelation returns the relationship type and strength for a pair of
// co-mentioned entity types. Pairs not covered by a specific rule default to
// CO_OCCURS_WITH at strength 0.3.
func InferRelation(from, to EntityType) (rel string, strength float64) {
	for _, r := range relationRules {
		if r.From == from && r.To == to {
			return r.Rel, r.Strength
		}
	}
	return "CO_OCCURS_WITH", 0.3
}

// ─────────────────────────────────────────────────────────────────────────────
// Conversation sessions
// ─────────────────────────────────────────────────────────────────────────────

// DefaultHistoryLimit is the number of most-recent exchanges a session
// retains.
const DefaultHistoryLimit = 10

// Exchange is one user/assistant turn within a conversation session.
type Exchange struct {
	// User is the user's utterance.
	User string `json:"user"`

	// Assistant is the assistant's reply.
	Assistant string `json:"assistant"`

	// Timestamp is when the exchange completed.
	Timestamp time.Time `json:"timestamp"`
}

// Session is the persistent state of one conversation. History is truncated
// to the most recent [DefaultHistoryLimit] exchanges; the delivered
// transcript-fingerprint list grows monotonically.
type Session struct {
	// ID identifies the session.
	ID string

	// UserID is the owning user.
	UserID string

	// History is the ordered exchange log, oldest first.
	History []Exchange

	// DeliveredFingerprints lists the transcript fingerprints already emitted
	// to this session, in delivery order. A fingerprint appears at most once.
	DeliveredFingerprints []string

	// CreatedAt and UpdatedAt are maintained by the session store.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FirstTurn reports whether the session has no recorded exchanges yet.
func (s *Session) FirstTurn() bool { return s == nil || len(s.History) == 0 }

// Delivered reports whether fingerprint has already been emitted to the
// session.
func (s *Session) Delivered(fingerprint string) bool {
	if s == nil {
		return false
	}
	for _, fp := range s.DeliveredFingerprints {
		if fp == fingerprint {
			return true
		}
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Recording bookkeeping
// ─────────────────────────────────────────────────────────────────────────────

// RecordingStatus tracks a recording through the ingestion lifecycle.
type RecordingStatus string

const (
	RecordingPending  RecordingStatus = "pending"
	RecordingIngested RecordingStatus = "ingested"
	RecordingFailed   RecordingStatus = "failed"
)

// RecordingRecord is the bookkeeping row for one recording. It is the
// authority on whether a recording is visible to retrieval: only rows in
// status "ingested" have content in the stores.
type RecordingRecord struct {
	ID         string
	UserID     string
	Filename   string
	Language   string
	Status     RecordingStatus
	ChunkTotal int
	Error      string
	Transcript string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
