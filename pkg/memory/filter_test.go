package memory

import (
	"errors"
	"testing"
	"time"
)

func sampleResult() Result {
	return Result{
		ID:      "rec1_chunk_0",
		Type:    ResultChunk,
		Content: "Alice met Bob at Acme Corp in Berlin",
		Metadata: map[string]any{
			MetaRecordingID: "rec1",
			MetaUserID:      "u1",
			MetaLanguage:    "en",
			MetaChunkIndex:  0,
			MetaTags:        []string{"meeting", "work"},
			"nested":        map[string]any{"deep": "value"},
		},
		Score:     0.8,
		Source:    "pgvector.memory_chunks",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Entities:  []string{"Alice", "Bob", "Acme Corp", "Berlin"},
	}
}

func TestFilterMatches(t *testing.T) {
	t.Parallel()

	r := sampleResult()

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"equals metadata", Filter{Field: "metadata.user_id", Op: OpEquals, Value: "u1"}, true},
		{"equals bare field name", Filter{Field: "user_id", Op: OpEquals, Value: "u1"}, true},
		{"equals mismatch", Filter{Field: "metadata.user_id", Op: OpEquals, Value: "u2"}, false},
		{"not_equals", Filter{Field: "metadata.language", Op: OpNotEquals, Value: "de"}, true},
		{"contains content", Filter{Field: "content", Op: OpContains, Value: "acme"}, true},
		{"contains tag list", Filter{Field: "metadata.tags", Op: OpContains, Value: "meeting"}, true},
		{"not_contains", Filter{Field: "content", Op: OpNotContains, Value: "zurich"}, true},
		{"in", Filter{Field: "metadata.language", Op: OpIn, Value: []string{"en", "de"}}, true},
		{"in mismatch", Filter{Field: "metadata.language", Op: OpIn, Value: []string{"fr", "de"}}, false},
		{"not_in", Filter{Field: "metadata.language", Op: OpNotIn, Value: []string{"fr"}}, true},
		{"gt score", Filter{Field: "score", Op: OpGT, Value: 0.5}, true},
		{"gte boundary", Filter{Field: "score", Op: OpGTE, Value: 0.8}, true},
		{"gt boundary excluded", Filter{Field: "score", Op: OpGT, Value: 0.8}, false},
		{"lt chunk index", Filter{Field: "metadata.chunk_index", Op: OpLT, Value: 1}, true},
		{"numeric cross-type equals", Filter{Field: "metadata.chunk_index", Op: OpEquals, Value: float64(0)}, true},
		{"timestamp gt", Filter{Field: "timestamp", Op: OpGT, Value: "2026-01-01T00:00:00Z"}, true},
		{"timestamp lt", Filter{Field: "timestamp", Op: OpLT, Value: "2026-01-01T00:00:00Z"}, false},
		{"exists", Filter{Field: "metadata.nested.deep", Op: OpExists}, true},
		{"exists missing", Filter{Field: "metadata.absent", Op: OpExists}, false},
		{"not_exists", Filter{Field: "metadata.absent", Op: OpNotExists}, true},
		{"nested equals", Filter{Field: "metadata.nested.deep", Op: OpEquals, Value: "value"}, true},
		{"missing field non-exists op", Filter{Field: "metadata.absent", Op: OpEquals, Value: "x"}, false},
		{"unknown operator matches nothing", Filter{Field: "score", Op: FilterOp("between"), Value: 0.5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.filter.Matches(r); got != tt.want {
				t.Errorf("Matches(%+v) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestFilterValidate(t *testing.T) {
	t.Parallel()

	if err := (Filter{Field: "score", Op: OpGT, Value: 0.1}).Validate(); err != nil {
		t.Errorf("valid filter rejected: %v", err)
	}

	for _, f := range []Filter{
		{Field: "", Op: OpEquals, Value: "x"},
		{Field: "score", Op: FilterOp("between")},
	} {
		err := f.Validate()
		if err == nil {
			t.Errorf("Validate(%+v) = nil, want error", f)
			continue
		}
		if !errors.Is(err, ErrInvalidFilter) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidFilter", f, err)
		}
	}
}

func TestApplyFilters(t *testing.T) {
	t.Parallel()

	results := []Result{
		sampleResult(),
		{ID: "other", Type: ResultChunk, Metadata: map[string]any{MetaUserID: "u2"}},
	}

	t.Run("conjunction", func(t *testing.T) {
		t.Parallel()
		got := ApplyFilters(results, []Filter{
			{Field: "metadata.user_id", Op: OpEquals, Value: "u1"},
			{Field: "content", Op: OpContains, Value: "alice"},
		})
		if len(got) != 1 || got[0].ID != "rec1_chunk_0" {
			t.Errorf("got %d results, want exactly the matching one", len(got))
		}
	})

	t.Run("no filters passes everything", func(t *testing.T) {
		t.Parallel()
		if got := ApplyFilters(results, nil); len(got) != len(results) {
			t.Errorf("got %d results, want %d", len(got), len(results))
		}
	})

	t.Run("nil input yields non-nil empty slice", func(t *testing.T) {
		t.Parallel()
		got := ApplyFilters(nil, []Filter{{Field: "id", Op: OpExists}})
		if got == nil {
			t.Fatal("ApplyFilters returned nil slice")
		}
		if len(got) != 0 {
			t.Errorf("got %d results, want 0", len(got))
		}
	})
}
