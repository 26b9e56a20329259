// Package chat glues the retrieval engine to a language model: one Chat
// call analyses the query, aggregates context from both stores, runs the
// plugins, composes the prompt, asks the model, and records the exchange on
// the session together with the newly delivered transcript fingerprints.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemovox/mnemovox/internal/aggregate"
	"github.com/mnemovox/mnemovox/internal/plugin"
	"github.com/mnemovox/mnemovox/internal/prompt"
	"github.com/mnemovox/mnemovox/internal/resilience"
	"github.com/mnemovox/mnemovox/internal/session"
	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/provider/llm"
	"github.com/mnemovox/mnemovox/pkg/types"
)

const (
	// Apology is the stable degraded-mode reply. It never varies, so
	// clients and tests can detect it.
	Apology = "I'm sorry, I can't reach your memories right now. Please try again in a moment."

	// DefaultTimeout bounds one whole chat turn, including retrieval and
	// the model call.
	DefaultTimeout = 60 * time.Second

	// DefaultTranscriptWindow is how far back the new-transcript section
	// looks.
	DefaultTranscriptWindow = 24 * time.Hour

	// maxSuggestions caps the follow-up suggestions on a response.
	maxSuggestions = 3

	// transcriptFetchLimit caps how many recent transcripts one turn
	// considers.
	transcriptFetchLimit = 20
)

// Request is one chat turn.
type Request struct {
	// Message is the user's message. Required.
	Message string

	// SessionID continues an existing conversation; empty starts a new one.
	SessionID string

	// UserID scopes retrieval and sessions.
	UserID string

	// Strategy selects the retrieval strategy; empty means adaptive.
	Strategy aggregate.Strategy

	// Filters narrow retrieval in the shared filter algebra.
	Filters []memory.Filter

	// Limit caps the context size; 0 uses the aggregator default.
	Limit int
}

// Source is one context item the answer may cite.
type Source struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Source  string  `json:"source"`
	Snippet string  `json:"snippet"`
}

// Response is the result of one chat turn.
type Response struct {
	// Answer is the assistant's reply; the stable [Apology] when degraded.
	Answer string `json:"response"`

	// SessionID identifies the conversation, generated when the request
	// carried none.
	SessionID string `json:"session_id"`

	// Sources lists the context items behind the answer, best first.
	Sources []Source `json:"sources"`

	// Suggestions are up to three follow-up questions drawn from the
	// top-ranked entities.
	Suggestions []string `json:"suggestions"`

	// Metrics is the aggregation record for the turn. Degraded turns carry
	// zero context results.
	Metrics aggregate.Metrics `json:"metrics"`

	// Degraded reports that the turn failed internally and Answer is the
	// apology.
	Degraded bool `json:"degraded,omitempty"`
}

// Service runs chat turns.
type Service struct {
	aggregator *aggregate.Aggregator
	composer   *prompt.Composer
	model      llm.Provider
	sessions   *session.Manager
	plugins    *plugin.Registry
	catalog    memory.Catalog
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger

	timeout          time.Duration
	transcriptWindow time.Duration
	now              func() time.Time
}

// ServiceOption is a functional option for [NewService].
type ServiceOption func(*Service)

// WithPlugins attaches a plugin registry; its outputs feed the prompt.
func WithPlugins(r *plugin.Registry) ServiceOption {
	return func(s *Service) { s.plugins = r }
}

// WithTimeout overrides the per-turn timeout.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.timeout = d }
}

// WithTranscriptWindow overrides the new-transcript lookback.
func WithTranscriptWindow(d time.Duration) ServiceOption {
	return func(s *Service) { s.transcriptWindow = d }
}

// withClock overrides the clock in tests.
func withClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires a chat service.
func NewService(
	aggregator *aggregate.Aggregator,
	composer *prompt.Composer,
	model llm.Provider,
	sessions *session.Manager,
	catalog memory.Catalog,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		aggregator: aggregator,
		composer:   composer,
		model:      model,
		sessions:   sessions,
		catalog:    catalog,
		logger:     logger.With("component", "chat"),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "chat-llm",
		}),
		timeout:          DefaultTimeout,
		transcriptWindow: DefaultTranscriptWindow,
		now:              time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// turn carries the prepared state of one chat turn between stages.
type turn struct {
	sessionID string
	ranked    []memory.Result
	metrics   aggregate.Metrics
	composed  prompt.Output
	sources   []Source
}

// Chat runs one blocking turn. Internal failures degrade to the stable
// apology with zero-context metrics instead of erroring; only an invalid
// request returns an error.
func (s *Service) Chat(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("chat: empty message")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	t, err := s.prepare(ctx, req)
	if err != nil {
		s.logger.Error("chat turn degraded", "error", err)
		return s.degraded(req, t), nil
	}

	var resp *llm.CompletionResponse
	err = s.breaker.Execute(func() error {
		var cerr error
		resp, cerr = s.model.Complete(ctx, llm.CompletionRequest{
			Messages: []types.Message{{Role: "user", Content: t.composed.Text}},
		})
		return cerr
	})
	if err != nil {
		s.logger.Error("chat turn degraded", "stage", "llm", "error", err)
		return s.degraded(req, t), nil
	}

	answer := strings.TrimSpace(resp.Content)
	s.recordExchange(ctx, t.sessionID, req.Message, answer, t.composed.NewFingerprints)

	return &Response{
		Answer:      answer,
		SessionID:   t.sessionID,
		Sources:     t.sources,
		Suggestions: s.suggestions(t.ranked),
		Metrics:     t.metrics,
	}, nil
}

// ChatStream runs one turn, emitting answer deltas as they arrive. The
// returned response carries the fully accumulated answer.
func (s *Service) ChatStream(ctx context.Context, req Request, emit func(delta string) error) (*Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("chat: empty message")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	t, err := s.prepare(ctx, req)
	if err != nil {
		s.logger.Error("chat stream degraded", "error", err)
		resp := s.degraded(req, t)
		if emitErr := emit(resp.Answer); emitErr != nil {
			return nil, fmt.Errorf("chat: emit: %w", emitErr)
		}
		return resp, nil
	}

	chunks, err := s.model.StreamCompletion(ctx, llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: t.composed.Text}},
	})
	if err != nil {
		s.logger.Error("chat stream degraded", "stage", "llm", "error", err)
		resp := s.degraded(req, t)
		if emitErr := emit(resp.Answer); emitErr != nil {
			return nil, fmt.Errorf("chat: emit: %w", emitErr)
		}
		return resp, nil
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Text != "" {
			b.WriteString(chunk.Text)
			if err := emit(chunk.Text); err != nil {
				return nil, fmt.Errorf("chat: emit: %w", err)
			}
		}
		if chunk.FinishReason == "error" {
			s.logger.Error("chat stream degraded", "stage", "llm", "finish_reason", chunk.FinishReason)
			resp := s.degraded(req, t)
			return resp, nil
		}
	}

	answer := strings.TrimSpace(b.String())
	s.recordExchange(ctx, t.sessionID, req.Message, answer, t.composed.NewFingerprints)

	return &Response{
		Answer:      answer,
		SessionID:   t.sessionID,
		Sources:     t.sources,
		Suggestions: s.suggestions(t.ranked),
		Metrics:     t.metrics,
	}, nil
}

// prepare runs the pre-model stages: session, transcripts, retrieval,
// plugins, prompt.
func (s *Service) prepare(ctx context.Context, req Request) (*turn, error) {
	t := &turn{sessionID: req.SessionID}
	if t.sessionID == "" {
		t.sessionID = uuid.NewString()
	}

	sess, err := s.sessions.GetOrCreate(ctx, t.sessionID, req.UserID)
	if err != nil {
		return t, fmt.Errorf("chat: session: %w", err)
	}

	transcripts, err := s.catalog.RecentTranscripts(ctx, req.UserID, s.now().Add(-s.transcriptWindow), transcriptFetchLimit)
	if err != nil {
		s.logger.Warn("recent transcripts unavailable, continuing without them", "error", err)
		transcripts = nil
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = aggregate.StrategyAdaptive
	}
	ranked, metrics, err := s.aggregator.Retrieve(ctx, req.Message, memory.SearchOptions{
		Filters: req.Filters,
		Limit:   req.Limit,
		UserID:  req.UserID,
	}, strategy)
	t.metrics = metrics
	if err != nil {
		return t, fmt.Errorf("chat: retrieve: %w", err)
	}

	results := make([]memory.Result, 0, len(ranked))
	for _, r := range ranked {
		results = append(results, r.Result)
		t.sources = append(t.sources, Source{
			ID:      r.ID,
			Score:   r.Score,
			Source:  r.Source,
			Snippet: snippet(r.Content),
		})
	}
	t.ranked = results

	var pluginOutputs map[string]string
	if s.plugins != nil {
		rendered := map[string]string{}
		for name, res := range s.plugins.ExecuteAll(ctx, plugin.Context{
			Query:     req.Message,
			UserID:    req.UserID,
			SessionID: t.sessionID,
			Results:   results,
		}) {
			if text := res.Render(); text != "" {
				rendered[name] = text
			}
		}
		pluginOutputs = rendered
	}

	t.composed = s.composer.Compose(prompt.Input{
		UserMessage:       req.Message,
		Context:           ranked,
		PluginOutputs:     pluginOutputs,
		Session:           sess,
		RecentTranscripts: transcripts,
	})
	return t, nil
}

// recordExchange persists the turn. The fingerprints land in the same store
// call as the history entry; a failure here is logged, not surfaced, since
// the answer is already committed to the user.
func (s *Service) recordExchange(ctx context.Context, sessionID, userMsg, answer string, fingerprints []string) {
	ex := memory.Exchange{User: userMsg, Assistant: answer, Timestamp: s.now()}
	if err := s.sessions.RecordExchange(context.WithoutCancel(ctx), sessionID, ex, fingerprints); err != nil {
		s.logger.Error("failed to record exchange", "session_id", sessionID, "error", err)
	}
}

// degraded builds the apology response with zero-context metrics.
func (s *Service) degraded(req Request, t *turn) *Response {
	sessionID := req.SessionID
	var metrics aggregate.Metrics
	if t != nil {
		sessionID = t.sessionID
		metrics = t.metrics
	}
	metrics.ResultCount = 0
	return &Response{
		Answer:    Apology,
		SessionID: sessionID,
		Metrics:   metrics,
		Degraded:  true,
	}
}

// suggestions proposes follow-ups from the entities on the top-ranked
// results.
func (s *Service) suggestions(ranked []memory.Result) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, res := range ranked {
		for _, e := range res.Entities {
			norm := memory.NormalizeEntityName(e)
			if norm == "" {
				continue
			}
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
			out = append(out, fmt.Sprintf("Tell me more about %s", e))
			if len(out) == maxSuggestions {
				return out
			}
		}
	}
	return out
}

func snippet(content string) string {
	const max = 160
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "..."
}
