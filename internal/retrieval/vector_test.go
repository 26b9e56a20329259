package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mnemovox/mnemovox/pkg/memory"
	memmock "github.com/mnemovox/mnemovox/pkg/memory/mock"
	embmock "github.com/mnemovox/mnemovox/pkg/provider/embeddings/mock"
)

func vectorHit(id, recordingID, userID string, distance float64) memory.VectorHit {
	return memory.VectorHit{
		Chunk: memory.Chunk{
			ID:          id,
			RecordingID: recordingID,
			UserID:      userID,
			Text:        "some transcript text",
			CreatedAt:   time.Now(),
		},
		Distance: distance,
	}
}

func TestVectorSearchScoresAndSorts(t *testing.T) {
	t.Parallel()

	index := &memmock.VectorIndex{SearchResult: []memory.VectorHit{
		vectorHit("c1", "r1", "u1", 0.5),
		vectorHit("c2", "r1", "u1", 0.1),
		vectorHit("c3", "r1", "u1", 1.4), // similarity < 0, dropped by floor
	}}
	r := NewVectorRetriever(index, &embmock.Provider{}, slog.Default())

	results, err := r.Search(context.Background(), "query", memory.SearchOptions{UserID: "u1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "c2" || results[1].ID != "c1" {
		t.Errorf("order = %s, %s, want c2, c1", results[0].ID, results[1].ID)
	}
	if got := results[0].Score; got != 0.9 {
		t.Errorf("score = %v, want 0.9", got)
	}
	if !results[0].HasSource("pgvector.") {
		t.Errorf("source = %q", results[0].Source)
	}
}

func TestVectorSearchSimilarityFloor(t *testing.T) {
	t.Parallel()

	index := &memmock.VectorIndex{SearchResult: []memory.VectorHit{
		vectorHit("c1", "r1", "u1", 0.9), // similarity 0.1 < default floor
	}}
	r := NewVectorRetriever(index, &embmock.Provider{}, slog.Default())

	results, err := r.Search(context.Background(), "query", memory.SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0 below the floor", len(results))
	}

	// Per-call override admits the hit.
	results, err = r.Search(context.Background(), "query", memory.SearchOptions{
		Extras: map[string]any{ExtraSimilarityFloor: 0.05},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results with lowered floor, want 1", len(results))
	}
}

func TestVectorSearchUserScoping(t *testing.T) {
	t.Parallel()

	index := &memmock.VectorIndex{SearchResult: []memory.VectorHit{
		vectorHit("mine", "r1", "u1", 0.1),
		vectorHit("theirs", "r2", "u2", 0.1),
	}}
	r := NewVectorRetriever(index, &embmock.Provider{}, slog.Default())

	results, err := r.Search(context.Background(), "query", memory.SearchOptions{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range results {
		if res.UserID() != "u1" {
			t.Errorf("result %s belongs to %q", res.ID, res.UserID())
		}
	}

	// The scope is also pushed down to the backend query.
	calls := index.Calls()
	if len(calls) == 0 {
		t.Fatal("no backend calls recorded")
	}
	q := calls[len(calls)-1].Args[0].(memory.VectorQuery)
	if q.UserID != "u1" {
		t.Errorf("pushdown UserID = %q, want u1", q.UserID)
	}
}

func TestVectorSearchResidualFilters(t *testing.T) {
	t.Parallel()

	hit := vectorHit("c1", "r1", "u1", 0.1)
	hit.Chunk.Language = "de"
	other := vectorHit("c2", "r2", "u1", 0.1)
	other.Chunk.Language = "en"
	index := &memmock.VectorIndex{SearchResult: []memory.VectorHit{hit, other}}
	r := NewVectorRetriever(index, &embmock.Provider{}, slog.Default())

	// "score gte" is not pushdown-able and must run in-process; language is
	// pushed down (the mock ignores it, so assert on the query instead).
	results, err := r.Search(context.Background(), "query", memory.SearchOptions{
		Filters: []memory.Filter{
			{Field: "metadata.language", Op: memory.OpEquals, Value: "de"},
			{Field: "score", Op: memory.OpGTE, Value: 0.5},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	q := index.Calls()[len(index.Calls())-1].Args[0].(memory.VectorQuery)
	if q.Language != "de" {
		t.Errorf("pushdown Language = %q, want de", q.Language)
	}
	for _, res := range results {
		if res.Score < 0.5 {
			t.Errorf("in-process filter leaked result with score %v", res.Score)
		}
	}
}

func TestVectorSearchBackendError(t *testing.T) {
	t.Parallel()

	index := &memmock.VectorIndex{SearchErr: errors.New("index down")}
	r := NewVectorRetriever(index, &embmock.Provider{}, slog.Default())

	if _, err := r.Search(context.Background(), "query", memory.SearchOptions{}); err == nil {
		t.Error("expected error")
	}
	// One bounded retry: two backend attempts in total.
	if got := index.CallCount("Search"); got != 2 {
		t.Errorf("backend Search calls = %d, want 2", got)
	}
}

func TestVectorGetByID(t *testing.T) {
	t.Parallel()

	index := &memmock.VectorIndex{}
	if err := index.UpsertChunks(context.Background(), []memory.Chunk{
		{ID: "c1", RecordingID: "r1", UserID: "u1", Text: "hello"},
	}); err != nil {
		t.Fatal(err)
	}
	r := NewVectorRetriever(index, &embmock.Provider{}, slog.Default())

	res, err := r.GetByID(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if res.ID != "c1" || res.Content != "hello" {
		t.Errorf("res = %+v", res)
	}

	if _, err := r.GetByID(context.Background(), "nope"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSplitFilters(t *testing.T) {
	t.Parallel()

	after := time.Now().Add(-24 * time.Hour)
	q, residual := splitFilters([]memory.Filter{
		{Field: "metadata.user_id", Op: memory.OpEquals, Value: "u1"},
		{Field: "recording_id", Op: memory.OpIn, Value: []string{"r1", "r2"}},
		{Field: "metadata.language", Op: memory.OpEquals, Value: "en"},
		{Field: "metadata.tags", Op: memory.OpContains, Value: "work"},
		{Field: "metadata.created_at", Op: memory.OpGT, Value: after},
		{Field: "content", Op: memory.OpContains, Value: "cache"},
	})

	if q.UserID != "u1" || q.Language != "en" {
		t.Errorf("q = %+v", q)
	}
	if len(q.RecordingIDs) != 2 || len(q.Tags) != 1 {
		t.Errorf("q lists = %+v", q)
	}
	if !q.After.Equal(after) {
		t.Errorf("After = %v, want %v", q.After, after)
	}
	if len(residual) != 1 || residual[0].Field != "content" {
		t.Errorf("residual = %+v", residual)
	}
}
