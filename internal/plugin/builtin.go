package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/mnemovox/mnemovox/pkg/memory"
)

// RecentActivityPlugin summarises the user's recent recording activity from
// the bookkeeping store: how many recordings landed inside the window and
// when the latest one arrived.
type RecentActivityPlugin struct {
	catalog memory.Catalog
	window  time.Duration
}

var _ Plugin = (*RecentActivityPlugin)(nil)

// NewRecentActivityPlugin creates the plugin with the given lookback
// window. A non-positive window defaults to seven days.
func NewRecentActivityPlugin(catalog memory.Catalog, window time.Duration) *RecentActivityPlugin {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &RecentActivityPlugin{catalog: catalog, window: window}
}

// Metadata implements [Plugin].
func (p *RecentActivityPlugin) Metadata() Metadata {
	return Metadata{
		Name:        "recent_activity",
		Description: "summarises recording activity in the recent window",
	}
}

// Execute implements [Plugin].
func (p *RecentActivityPlugin) Execute(ctx context.Context, pctx Context) (Result, error) {
	cutoff := time.Now().Add(-p.window)
	transcripts, err := p.catalog.RecentTranscripts(ctx, pctx.UserID, cutoff, 50)
	if err != nil {
		return Result{}, fmt.Errorf("plugin: recent_activity: %w", err)
	}
	if len(transcripts) == 0 {
		return Result{}, nil
	}

	latest := transcripts[0].CreatedAt
	for _, t := range transcripts[1:] {
		if t.CreatedAt.After(latest) {
			latest = t.CreatedAt
		}
	}
	return Result{Data: map[string]any{
		"recordings_in_window": len(transcripts),
		"latest_recording_at":  latest.Format(time.RFC3339),
		"window":               p.window.String(),
	}}, nil
}

// EntityDigestPlugin lists the distinct entity surfaces present in the
// turn's retrieval context so the model sees who and what the context is
// about at a glance.
type EntityDigestPlugin struct{}

var _ Plugin = (*EntityDigestPlugin)(nil)

// Metadata implements [Plugin].
func (EntityDigestPlugin) Metadata() Metadata {
	return Metadata{
		Name:        "entity_digest",
		Description: "distinct entities mentioned in the retrieval context",
	}
}

// Execute implements [Plugin].
func (EntityDigestPlugin) Execute(_ context.Context, pctx Context) (Result, error) {
	seen := map[string]struct{}{}
	var entities []string
	for _, res := range pctx.Results {
		for _, e := range res.Entities {
			norm := memory.NormalizeEntityName(e)
			if _, dup := seen[norm]; dup || norm == "" {
				continue
			}
			seen[norm] = struct{}{}
			entities = append(entities, e)
		}
	}
	if len(entities) == 0 {
		return Result{}, nil
	}
	if len(entities) > 10 {
		entities = entities[:10]
	}
	return Result{Data: map[string]any{"entities": entities}}, nil
}
