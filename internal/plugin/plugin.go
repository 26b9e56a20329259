// Package plugin runs auxiliary analyses around a chat turn. Plugins are
// opaque to the engine: each receives the turn context and returns a
// key/value output map that the prompt composer renders as a section. A
// registry orders plugins by their declared dependencies and isolates
// failures.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mnemovox/mnemovox/pkg/memory"
)

// Metadata describes a plugin. It is a plain record; dependencies name
// other plugins whose outputs this one wants to see.
type Metadata struct {
	Name         string
	Description  string
	Dependencies []string
}

// Context is the turn state handed to every plugin.
type Context struct {
	// Query is the user's message.
	Query string

	// UserID and SessionID identify the turn.
	UserID    string
	SessionID string

	// Results is the ranked retrieval context for the turn.
	Results []memory.Result

	// Outputs holds the results of plugins that already ran, keyed by
	// plugin name. Only dependencies are guaranteed to be present.
	Outputs map[string]Result
}

// Result is one plugin's output map.
type Result struct {
	// Data is the opaque key/value output.
	Data map[string]any
}

// Render flattens the output map into prompt-ready text, keys sorted.
func (r Result) Render() string {
	if len(r.Data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(r.Data))
	for k := range r.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, r.Data[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

// Plugin is one auxiliary analysis.
type Plugin interface {
	// Metadata returns the plugin's static description.
	Metadata() Metadata

	// Execute runs the analysis for one turn.
	Execute(ctx context.Context, pctx Context) (Result, error)
}
