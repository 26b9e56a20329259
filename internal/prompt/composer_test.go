package prompt

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mnemovox/mnemovox/internal/rank"
	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/types"
)

func ranked(id, content string, score float64, source string) rank.Ranked {
	return rank.Ranked{Result: memory.Result{ID: id, Content: content, Score: score, Source: source}}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	t.Run("normalises whitespace", func(t *testing.T) {
		t.Parallel()
		a := Fingerprint("  hello   world\n\tagain ")
		b := Fingerprint("hello world again")
		if a != b {
			t.Errorf("fingerprints differ: %q vs %q", a, b)
		}
	})

	t.Run("caps at fifty characters", func(t *testing.T) {
		t.Parallel()
		long := strings.Repeat("x", 120)
		if got := Fingerprint(long); len([]rune(got)) != 50 {
			t.Errorf("len = %d, want 50", len([]rune(got)))
		}
	})

	t.Run("short text passes through", func(t *testing.T) {
		t.Parallel()
		if got := Fingerprint("short"); got != "short" {
			t.Errorf("got %q", got)
		}
	})
}

func TestComposeFirstTurnIncludesAllSections(t *testing.T) {
	t.Parallel()

	c := NewComposer(slog.Default())
	out := c.Compose(Input{
		UserMessage: "What did Alice say about the launch?",
		Context: []rank.Ranked{
			ranked("c1", "alice pushed the launch to friday", 0.85, "pgvector.memory_chunks"),
		},
		PluginOutputs: map[string]string{"calendar": "no events on friday"},
		Session:       &memory.Session{ID: "s1"},
		RecentTranscripts: []types.Transcript{
			{Text: "standup recording monday", CreatedAt: time.Now()},
		},
	})

	want := []string{
		SectionSystem, SectionTranscripts, SectionContext,
		SectionPlugins, SectionTask, SectionFramework, SectionQuality,
	}
	if len(out.Sections) != len(want) {
		t.Fatalf("sections = %v, want %v", out.Sections, want)
	}
	for i, s := range want {
		if out.Sections[i] != s {
			t.Errorf("section[%d] = %s, want %s", i, out.Sections[i], s)
		}
	}
	if !strings.Contains(out.Text, "Mnemovox") {
		t.Error("missing system role line")
	}
	if !strings.Contains(out.Text, "What did Alice say about the launch?") {
		t.Error("missing user message")
	}
	if out.Fallback {
		t.Error("unexpected fallback")
	}
}

func TestComposeContinuationOmitsStaticSections(t *testing.T) {
	t.Parallel()

	c := NewComposer(slog.Default())
	sess := &memory.Session{
		ID:      "s1",
		History: []memory.Exchange{{User: "hi", Assistant: "hello"}},
	}
	out := c.Compose(Input{
		UserMessage: "and then?",
		Context:     []rank.Ranked{ranked("c1", "more context", 0.5, "pgvector.c")},
		Session:     sess,
	})

	for _, s := range out.Sections {
		if s == SectionSystem || s == SectionFramework || s == SectionQuality {
			t.Errorf("continuation included static section %s", s)
		}
	}
	if !strings.Contains(out.Text, "User message: and then?") {
		t.Error("missing minimal task section")
	}
	if strings.Contains(out.Text, "## Task") {
		t.Error("continuation should not carry the full task framing")
	}
	if !strings.Contains(out.Text, "## Conversation so far") {
		t.Error("missing history section")
	}
}

func TestComposeTranscriptFingerprintFilter(t *testing.T) {
	t.Parallel()

	c := NewComposer(slog.Default())
	seen := types.Transcript{Text: "already delivered transcript text", CreatedAt: time.Now()}
	fresh := types.Transcript{Text: "brand new recording about the offsite", CreatedAt: time.Now()}

	sess := &memory.Session{
		ID:                    "s1",
		DeliveredFingerprints: []string{Fingerprint(seen.Text)},
	}
	out := c.Compose(Input{
		UserMessage:       "anything new?",
		Session:           sess,
		RecentTranscripts: []types.Transcript{seen, fresh},
	})

	if strings.Contains(out.Text, "already delivered") {
		t.Error("delivered transcript re-emitted")
	}
	if !strings.Contains(out.Text, "brand new recording") {
		t.Error("fresh transcript missing")
	}
	if len(out.NewFingerprints) != 1 || out.NewFingerprints[0] != Fingerprint(fresh.Text) {
		t.Errorf("new fingerprints = %v", out.NewFingerprints)
	}

	// Once the caller records the fingerprint, a second turn emits nothing.
	sess.DeliveredFingerprints = append(sess.DeliveredFingerprints, out.NewFingerprints...)
	sess.History = []memory.Exchange{{User: "anything new?", Assistant: "yes"}}
	again := c.Compose(Input{
		UserMessage:       "and now?",
		Session:           sess,
		RecentTranscripts: []types.Transcript{seen, fresh},
	})
	if len(again.NewFingerprints) != 0 {
		t.Errorf("second turn fingerprints = %v, want none", again.NewFingerprints)
	}
	for _, s := range again.Sections {
		if s == SectionTranscripts {
			t.Error("transcript section emitted with nothing new")
		}
	}
}

func TestComposeConfidenceBadges(t *testing.T) {
	t.Parallel()

	c := NewComposer(slog.Default())
	out := c.Compose(Input{
		UserMessage: "q",
		Context: []rank.Ranked{
			ranked("a", "very sure", 0.85, "pgvector.c"),
			ranked("b", "fairly sure", 0.65, "pgvector.c"),
			ranked("c", "weak", 0.45, "neo4j.entity_name"),
			ranked("d", "guesswork", 0.1, "neo4j.text_content"),
		},
		Session: &memory.Session{},
	})

	for _, want := range []string{"(HIGH) very sure", "(MODERATE) fairly sure", "(LOW) weak", "(VERY LOW) guesswork"} {
		if !strings.Contains(out.Text, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestComposeGroupsBySource(t *testing.T) {
	t.Parallel()

	c := NewComposer(slog.Default())
	out := c.Compose(Input{
		UserMessage: "q",
		Context: []rank.Ranked{
			ranked("a", "vector item", 0.9, "pgvector.c"),
			ranked("b", "graph item", 0.9, "neo4j.entity_name"),
			ranked("c", "both item", 0.9, "pgvector.c,neo4j.entity_name"),
		},
		Session: &memory.Session{},
	})

	for _, heading := range []string{"Semantic matches", "Knowledge graph matches", "Corroborated (semantic + graph)"} {
		if !strings.Contains(out.Text, heading) {
			t.Errorf("prompt missing group %q", heading)
		}
	}
}

func TestComposeHistoryTruncation(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 300)
	sess := &memory.Session{History: []memory.Exchange{
		{User: "one", Assistant: "r1"},
		{User: "two", Assistant: "r2"},
		{User: "three", Assistant: "r3"},
		{User: "four", Assistant: long},
	}}

	c := NewComposer(slog.Default())
	out := c.Compose(Input{UserMessage: "q", Session: sess})

	if strings.Contains(out.Text, "User: one") {
		t.Error("history should keep only the last three turns")
	}
	if !strings.Contains(out.Text, "User: two") {
		t.Error("missing turn within the window")
	}
	if strings.Contains(out.Text, long) {
		t.Error("assistant reply not truncated")
	}
	if !strings.Contains(out.Text, strings.Repeat("a", 200)+"...") {
		t.Error("missing truncated assistant reply")
	}
}

func TestMinimalFallback(t *testing.T) {
	t.Parallel()

	c := NewComposer(slog.Default())
	out := c.minimal(Input{
		UserMessage: "what happened",
		Context:     []rank.Ranked{ranked("a", "bullet content", 0.5, "pgvector.c")},
	})

	if !out.Fallback {
		t.Error("fallback flag not set")
	}
	if !strings.Contains(out.Text, "- bullet content") {
		t.Error("missing context bullet")
	}
	if !strings.Contains(out.Text, "what happened") {
		t.Error("missing user message")
	}
}
