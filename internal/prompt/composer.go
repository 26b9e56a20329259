// Package prompt assembles the model prompt for one chat turn from the
// retrieval context, plugin outputs, session history, and any transcripts
// not yet delivered to the session. The prompt is built section by section;
// a failing section is dropped rather than failing the turn.
package prompt

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mnemovox/mnemovox/internal/rank"
	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/types"
)

// Section identifiers, in emission order.
const (
	SectionSystem      = "system"
	SectionTranscripts = "recent_transcripts"
	SectionContext     = "retrieval_context"
	SectionPlugins     = "plugin_outputs"
	SectionHistory     = "conversation_history"
	SectionTask        = "task"
	SectionFramework   = "response_framework"
	SectionQuality     = "quality"
)

const (
	// fingerprintLen is the length of the transcript fingerprint prefix.
	fingerprintLen = 50

	// historyTurns is how many recent exchanges the history section shows.
	historyTurns = 3

	// assistantTruncateLen caps replayed assistant messages.
	assistantTruncateLen = 200
)

// Confidence badge thresholds on the unified score.
const (
	badgeHigh     = 0.8
	badgeModerate = 0.6
	badgeLow      = 0.4
)

const systemInstructions = `You are Mnemovox, a personal audio-memory assistant. You answer questions
about the user's recorded conversations, meetings, and voice notes using
only the context provided below. The context comes from transcribed audio;
speaker attribution and exact wording may be imperfect.`

const responseFramework = `Structure your answer as follows: lead with the direct answer, then
supporting details. When you draw on a context item, cite it inline by its
bracketed number, e.g. [2]. If several items agree, cite the highest
confidence one.`

const qualityInstructions = `Only state facts supported by the context or the conversation history. If
the context does not contain the answer, say so plainly instead of
guessing. Do not invent names, dates, or quotes.`

// Input is everything one prompt is built from.
type Input struct {
	// UserMessage is the user's current message.
	UserMessage string

	// Context is the ranked retrieval context, best first.
	Context []rank.Ranked

	// PluginOutputs maps plugin name to its rendered output.
	PluginOutputs map[string]string

	// Session is the conversation session; nil means a fresh session.
	Session *memory.Session

	// RecentTranscripts are transcripts newer than the recency cutoff,
	// before fingerprint filtering.
	RecentTranscripts []types.Transcript
}

// Output is the assembled prompt.
type Output struct {
	// Text is the full prompt text.
	Text string

	// NewFingerprints are the fingerprints of transcripts emitted in this
	// prompt that the session had not seen before. The caller must persist
	// them atomically with the history update.
	NewFingerprints []string

	// Sections lists the section identifiers that made it into the prompt.
	Sections []string

	// Fallback reports that section composition failed badly enough that
	// the minimal prompt was used instead.
	Fallback bool
}

// Fingerprint computes the stable delivery fingerprint of a transcript: the
// leading characters of its whitespace-normalised text.
func Fingerprint(text string) string {
	norm := strings.Join(strings.Fields(text), " ")
	runes := []rune(norm)
	if len(runes) > fingerprintLen {
		runes = runes[:fingerprintLen]
	}
	return string(runes)
}

// Composer builds prompts.
type Composer struct {
	logger *slog.Logger
}

// NewComposer creates a Composer.
func NewComposer(logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{logger: logger.With("component", "prompt")}
}

type section struct {
	id       string
	critical bool
	build    func(in Input, out *Output) (string, error)
}

// Compose assembles the prompt. On the first turn of a session every
// non-empty section is included; on continuations the static sections
// (system role, response framework, quality clauses) are omitted and the
// task section shrinks to the bare user message.
func (c *Composer) Compose(in Input) Output {
	firstTurn := in.Session.FirstTurn()

	sections := []section{
		{SectionSystem, false, func(Input, *Output) (string, error) {
			if !firstTurn {
				return "", nil
			}
			return systemInstructions, nil
		}},
		{SectionTranscripts, false, c.buildTranscripts},
		{SectionContext, true, c.buildContext},
		{SectionPlugins, false, c.buildPlugins},
		{SectionHistory, false, c.buildHistory},
		{SectionTask, true, func(in Input, _ *Output) (string, error) {
			return c.buildTask(in, firstTurn)
		}},
		{SectionFramework, false, func(Input, *Output) (string, error) {
			if !firstTurn {
				return "", nil
			}
			return responseFramework, nil
		}},
		{SectionQuality, false, func(Input, *Output) (string, error) {
			if !firstTurn {
				return "", nil
			}
			return qualityInstructions, nil
		}},
	}

	var out Output
	var parts []string
	criticalFailed := false
	for _, s := range sections {
		text, err := c.buildSafely(s, in, &out)
		if err != nil {
			c.logger.Warn("prompt section failed, dropping it", "section", s.id, "error", err)
			if s.critical {
				criticalFailed = true
			}
			continue
		}
		if text == "" {
			continue
		}
		parts = append(parts, text)
		out.Sections = append(out.Sections, s.id)
	}

	if criticalFailed {
		return c.minimal(in)
	}

	out.Text = strings.Join(parts, "\n\n")
	return out
}

// buildSafely runs one section builder, converting a panic into a section
// error so a bad context item cannot take down the whole prompt.
func (c *Composer) buildSafely(s section, in Input, out *Output) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prompt: section %s: panic: %v", s.id, r)
		}
	}()
	return s.build(in, out)
}

// minimal is the last-resort prompt: role line, context bullets, user
// message.
func (c *Composer) minimal(in Input) Output {
	var b strings.Builder
	b.WriteString("You are Mnemovox, a personal audio-memory assistant.\n\n")
	if len(in.Context) > 0 {
		b.WriteString("Context:\n")
		for _, r := range in.Context {
			text := r.Content
			if text == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", truncate(text, assistantTruncateLen))
		}
		b.WriteString("\n")
	}
	b.WriteString("User message: ")
	b.WriteString(in.UserMessage)
	return Output{Text: b.String(), Sections: []string{SectionTask}, Fallback: true}
}

// ─────────────────────────────────────────────────────────────────────────────
// Section builders
// ─────────────────────────────────────────────────────────────────────────────

// buildTranscripts emits transcripts the session has not seen, newest first,
// and records their fingerprints on the output.
func (c *Composer) buildTranscripts(in Input, out *Output) (string, error) {
	if len(in.RecentTranscripts) == 0 {
		return "", nil
	}

	transcripts := make([]types.Transcript, len(in.RecentTranscripts))
	copy(transcripts, in.RecentTranscripts)
	sort.SliceStable(transcripts, func(i, j int) bool {
		return transcripts[i].CreatedAt.After(transcripts[j].CreatedAt)
	})

	var b strings.Builder
	emitted := map[string]struct{}{}
	for _, t := range transcripts {
		fp := Fingerprint(t.Text)
		if fp == "" || in.Session.Delivered(fp) {
			continue
		}
		if _, dup := emitted[fp]; dup {
			continue
		}
		emitted[fp] = struct{}{}
		out.NewFingerprints = append(out.NewFingerprints, fp)

		if b.Len() == 0 {
			b.WriteString("## New recordings since we last spoke\n")
		}
		fmt.Fprintf(&b, "\n[%s] %s\n", t.CreatedAt.Format(time.DateTime), strings.TrimSpace(t.Text))
	}
	return b.String(), nil
}

// buildContext renders the retrieval context grouped by source type, each
// item numbered and badged with its confidence.
func (c *Composer) buildContext(in Input, _ *Output) (string, error) {
	if len(in.Context) == 0 {
		return "", nil
	}

	groups := map[string][]string{}
	var order []string
	n := 0
	for _, r := range in.Context {
		if r.Content == "" {
			continue
		}
		n++
		g := groupFor(r.Result)
		if _, seen := groups[g]; !seen {
			order = append(order, g)
		}
		groups[g] = append(groups[g], fmt.Sprintf("[%d] (%s) %s", n, badge(r.Score), strings.TrimSpace(r.Content)))
	}
	if n == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("## Retrieved context\n")
	for _, g := range order {
		fmt.Fprintf(&b, "\n### %s\n", g)
		for _, line := range groups[g] {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// buildPlugins renders plugin outputs in name order.
func (c *Composer) buildPlugins(in Input, _ *Output) (string, error) {
	if len(in.PluginOutputs) == 0 {
		return "", nil
	}
	names := make([]string, 0, len(in.PluginOutputs))
	for name := range in.PluginOutputs {
		if strings.TrimSpace(in.PluginOutputs[name]) == "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("## Tool results\n")
	for _, name := range names {
		fmt.Fprintf(&b, "\n### %s\n%s\n", name, strings.TrimSpace(in.PluginOutputs[name]))
	}
	return b.String(), nil
}

// buildHistory replays the last few exchanges, truncating assistant replies.
func (c *Composer) buildHistory(in Input, _ *Output) (string, error) {
	if in.Session == nil || len(in.Session.History) == 0 {
		return "", nil
	}
	history := in.Session.History
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}

	var b strings.Builder
	b.WriteString("## Conversation so far\n")
	for _, ex := range history {
		fmt.Fprintf(&b, "\nUser: %s\nAssistant: %s\n", ex.User, truncate(ex.Assistant, assistantTruncateLen))
	}
	return b.String(), nil
}

func (c *Composer) buildTask(in Input, firstTurn bool) (string, error) {
	if !firstTurn {
		return "User message: " + in.UserMessage, nil
	}
	return fmt.Sprintf("## Task\nAnswer the user's message using the context above.\n\nUser message: %s", in.UserMessage), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// badge maps a unified score onto a confidence label.
func badge(score float64) string {
	switch {
	case score >= badgeHigh:
		return "HIGH"
	case score >= badgeModerate:
		return "MODERATE"
	case score >= badgeLow:
		return "LOW"
	default:
		return "VERY LOW"
	}
}

// groupFor buckets a result by where it came from.
func groupFor(r memory.Result) string {
	vector := r.HasSource("pgvector.")
	graph := r.HasSource("neo4j.")
	switch {
	case vector && graph:
		return "Corroborated (semantic + graph)"
	case graph:
		return "Knowledge graph matches"
	default:
		return "Semantic matches"
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
