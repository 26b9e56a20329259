package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/mnemovox/mnemovox/pkg/memory"
)

func TestNewChunkerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChunker(WithChunkSize(0)); err == nil {
		t.Error("expected error for zero size")
	}
	if _, err := NewChunker(WithChunkSize(100), WithChunkOverlap(100)); err == nil {
		t.Error("expected error for overlap == size")
	}
	if _, err := NewChunker(WithChunkOverlap(-1)); err == nil {
		t.Error("expected error for negative overlap")
	}
}

func TestSplitEmptyTranscript(t *testing.T) {
	t.Parallel()

	c, err := NewChunker()
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Split("", "rec1", "u1", "en", time.Now()); len(got) != 0 {
		t.Errorf("empty transcript yielded %d chunks", len(got))
	}
}

func TestSplitGeometry(t *testing.T) {
	t.Parallel()

	c, err := NewChunker(WithChunkSize(10), WithChunkOverlap(3))
	if err != nil {
		t.Fatal(err)
	}
	text := "abcdefghijklmnopqrstuvwxyz" // 26 runes
	chunks := c.Split(text, "rec1", "u1", "en", time.Now())

	// Windows: [0,10) [7,17) [14,24) [21,26).
	wantWindows := [][2]int{{0, 10}, {7, 17}, {14, 24}, {21, 26}}
	if len(chunks) != len(wantWindows) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(wantWindows))
	}
	for i, ch := range chunks {
		if ch.Start != wantWindows[i][0] || ch.End != wantWindows[i][1] {
			t.Errorf("chunk %d window = [%d,%d), want [%d,%d)",
				i, ch.Start, ch.End, wantWindows[i][0], wantWindows[i][1])
		}
		if ch.ID != memory.ChunkID("rec1", i) {
			t.Errorf("chunk %d id = %q", i, ch.ID)
		}
		if ch.Index != i || ch.Total != len(wantWindows) {
			t.Errorf("chunk %d index/total = %d/%d", i, ch.Index, ch.Total)
		}
		if ch.Text != text[ch.Start:ch.End] {
			t.Errorf("chunk %d text mismatch", i)
		}
	}
}

func TestSplitCoverage(t *testing.T) {
	t.Parallel()

	c, err := NewChunker(WithChunkSize(50), WithChunkOverlap(10))
	if err != nil {
		t.Fatal(err)
	}

	for name, text := range map[string]string{
		"short":     "hello world",
		"exact":     strings.Repeat("x", 50),
		"long":      strings.Repeat("the quick brown fox jumps over the lazy dog. ", 40),
		"multibyte": strings.Repeat("grüße aus münchen — ", 30),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			chunks := c.Split(text, "rec", "u", "de", time.Now())

			// Concatenating windows with overlaps removed must reconstruct the
			// transcript exactly.
			var b strings.Builder
			prevEnd := 0
			for _, ch := range chunks {
				runes := []rune(ch.Text)
				skip := prevEnd - ch.Start
				if skip < 0 {
					t.Fatalf("gap before chunk %d", ch.Index)
				}
				b.WriteString(string(runes[skip:]))
				prevEnd = ch.End
			}
			if b.String() != text {
				t.Errorf("reconstruction mismatch")
			}
		})
	}
}

func TestSplitDeterministic(t *testing.T) {
	t.Parallel()

	c, err := NewChunker(WithChunkSize(20), WithChunkOverlap(5))
	if err != nil {
		t.Fatal(err)
	}
	text := strings.Repeat("deterministic chunking ", 10)
	ts := time.Now()

	a := c.Split(text, "rec", "u", "en", ts)
	b := c.Split(text, "rec", "u", "en", ts)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Text != b[i].Text || a[i].Start != b[i].Start {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}
