package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/provider/llm"
	"github.com/mnemovox/mnemovox/pkg/types"
)

// Extractor produces typed named-entity spans for a chunk of transcript
// text. Positions in the returned mentions are rune offsets relative to the
// given text; the pipeline re-bases them to absolute transcript offsets
// before writing. An extractor may return zero mentions.
type Extractor interface {
	Extract(ctx context.Context, text, language string) ([]memory.EntityMention, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// LLM-backed extractor
// ─────────────────────────────────────────────────────────────────────────────

// surfaceMergeSimilarity is the Jaro-Winkler score above which two entity
// surfaces of the same type are treated as variants of one entity and
// rewritten to a shared canonical surface.
const surfaceMergeSimilarity = 0.92

const extractorSystemPrompt = `You are a named entity recognition engine. Extract every named entity from the user's text.

Respond with ONLY a JSON array, no prose. Each element:
{"surface": "<text exactly as it appears>", "type": "<Person|Organization|Location|MonetaryValue|Date|Time|Percentage|Event|Product|WorkOfArt|Law|Language|Entity>", "confidence": <0.0-1.0>}

Use "Entity" for anything that does not fit another type. Return [] if there are no entities.`

// Compile-time assertion that LLMExtractor satisfies Extractor.
var _ Extractor = (*LLMExtractor)(nil)

// LLMExtractor performs NER through a chat model. The model names surfaces
// and types; span positions are recovered by locating each surface in the
// chunk text, which keeps position bookkeeping independent of how well the
// model counts characters.
type LLMExtractor struct {
	provider llm.Provider
	logger   *slog.Logger
}

// NewLLMExtractor creates an extractor backed by the given chat provider.
func NewLLMExtractor(provider llm.Provider, logger *slog.Logger) *LLMExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{provider: provider, logger: logger}
}

type rawMention struct {
	Surface    string  `json:"surface"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Extract implements [Extractor].
func (e *LLMExtractor) Extract(ctx context.Context, text, language string) ([]memory.EntityMention, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	userMsg := text
	if language != "" {
		userMsg = fmt.Sprintf("Language: %s\n\n%s", language, text)
	}

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: extractorSystemPrompt,
		Messages:     []types.Message{{Role: "user", Content: userMsg}},
	})
	if err != nil {
		return nil, fmt.Errorf("extractor: completion: %w", err)
	}

	raw, err := parseMentionJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}

	mentions := e.locate(text, raw)
	return MergeSimilarSurfaces(mentions), nil
}

// locate converts raw model output into positioned mentions by finding each
// surface in the chunk text. Every occurrence of a surface becomes its own
// mention; surfaces the model hallucinated (absent from the text) are
// dropped with a debug log.
func (e *LLMExtractor) locate(text string, raw []rawMention) []memory.EntityMention {
	runes := []rune(text)
	lower := strings.ToLower(string(runes))

	var mentions []memory.EntityMention
	for _, m := range raw {
		surface := strings.TrimSpace(m.Surface)
		if surface == "" {
			continue
		}
		entityType := memory.CanonicalEntityType(m.Type)
		conf := m.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.5
		}

		needle := strings.ToLower(surface)
		needleLen := len([]rune(needle))
		found := false
		for byteOff := 0; ; {
			idx := strings.Index(lower[byteOff:], needle)
			if idx < 0 {
				break
			}
			abs := byteOff + idx
			runeOff := len([]rune(lower[:abs]))
			mentions = append(mentions, memory.EntityMention{
				Surface:    string(runes[runeOff : runeOff+needleLen]),
				Type:       entityType,
				Start:      runeOff,
				End:        runeOff + needleLen,
				Confidence: conf,
			})
			found = true
			byteOff = abs + len(needle)
		}
		if !found {
			e.logger.Debug("extractor: surface not found in chunk text", "surface", surface)
		}
	}
	return mentions
}

// parseMentionJSON tolerates models that wrap the JSON array in a code fence
// or leading prose.
func parseMentionJSON(content string) ([]rawMention, error) {
	s := strings.TrimSpace(content)
	if start := strings.Index(s, "["); start >= 0 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = s[start : end+1]
		}
	}
	var raw []rawMention
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("parse mention JSON: %w", err)
	}
	return raw, nil
}

// MergeSimilarSurfaces rewrites near-duplicate surfaces of the same entity
// type to a shared canonical form, so that "Jon Doe" and "John Doe" merge to
// one graph node. Within a cluster the surface of the highest-confidence
// mention wins. Span positions and per-mention confidences are untouched.
func MergeSimilarSurfaces(mentions []memory.EntityMention) []memory.EntityMention {
	type cluster struct {
		canonical  string
		normalized string
		confidence float64
	}
	clustersByType := map[memory.EntityType][]*cluster{}

	out := make([]memory.EntityMention, len(mentions))
	copy(out, mentions)

	for i := range out {
		m := &out[i]
		norm := m.Normalized()
		if norm == "" {
			continue
		}

		var matched *cluster
		for _, c := range clustersByType[m.Type] {
			if c.normalized == norm ||
				matchr.JaroWinkler(c.normalized, norm, false) >= surfaceMergeSimilarity {
				matched = c
				break
			}
		}
		if matched == nil {
			clustersByType[m.Type] = append(clustersByType[m.Type], &cluster{
				canonical:  m.Surface,
				normalized: norm,
				confidence: m.Confidence,
			})
			continue
		}
		if m.Confidence > matched.confidence {
			matched.canonical = m.Surface
			matched.normalized = norm
			matched.confidence = m.Confidence
		}
	}

	// Second pass: rewrite every mention to its cluster's canonical surface.
	for i := range out {
		m := &out[i]
		norm := m.Normalized()
		if norm == "" {
			continue
		}
		for _, c := range clustersByType[m.Type] {
			if c.normalized == norm ||
				matchr.JaroWinkler(c.normalized, norm, false) >= surfaceMergeSimilarity {
				m.Surface = c.canonical
				break
			}
		}
	}
	return out
}
