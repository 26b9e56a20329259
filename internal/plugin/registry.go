package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Registry holds the registered plugins and runs them in dependency order.
type Registry struct {
	logger  *slog.Logger
	plugins map[string]Plugin
	order   []string
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With("component", "plugin"),
		plugins: map[string]Plugin{},
	}
}

// Register adds a plugin and recomputes the execution order. Registering a
// second plugin with the same name is an error.
func (r *Registry) Register(p Plugin) error {
	meta := p.Metadata()
	if meta.Name == "" {
		return fmt.Errorf("plugin: register: empty name")
	}
	if _, dup := r.plugins[meta.Name]; dup {
		return fmt.Errorf("plugin: register %s: already registered", meta.Name)
	}
	r.plugins[meta.Name] = p
	r.order = r.sortTopologically()
	return nil
}

// ExecutionOrder returns the plugin names in the order they will run.
func (r *Registry) ExecutionOrder() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ExecuteAll runs every plugin in dependency order and returns their
// outputs keyed by name. A failing plugin is logged and skipped; its
// dependents still run, just without its output.
func (r *Registry) ExecuteAll(ctx context.Context, pctx Context) map[string]Result {
	outputs := make(map[string]Result, len(r.order))
	for _, name := range r.order {
		p := r.plugins[name]

		pctx.Outputs = outputs
		res, err := r.executeSafely(ctx, p, pctx)
		if err != nil {
			r.logger.Warn("plugin failed, skipping its output", "plugin", name, "error", err)
			continue
		}
		outputs[name] = res
	}
	return outputs
}

func (r *Registry) executeSafely(ctx context.Context, p Plugin, pctx Context) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin: %s: panic: %v", p.Metadata().Name, rec)
		}
	}()
	return p.Execute(ctx, pctx)
}

// sortTopologically orders plugins so dependencies run before dependents
// (Kahn's algorithm, name-sorted for determinism). Dependencies on
// unregistered plugins are ignored. A cycle is logged and broken at the
// lexicographically smallest remaining plugin.
func (r *Registry) sortTopologically() []string {
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for name, p := range r.plugins {
		indegree[name] += 0
		for _, dep := range p.Metadata().Dependencies {
			if _, known := r.plugins[dep]; !known {
				continue
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(order) < len(r.plugins) {
		if len(ready) == 0 {
			// Cycle: every remaining plugin waits on another. Break it at
			// the smallest name and keep going.
			remaining := make([]string, 0, len(r.plugins)-len(order))
			for name, deg := range indegree {
				if deg > 0 {
					remaining = append(remaining, name)
				}
			}
			sort.Strings(remaining)
			broken := remaining[0]
			r.logger.Warn("plugin dependency cycle, breaking it", "plugin", broken, "remaining", remaining)
			indegree[broken] = 0
			ready = append(ready, broken)
		}

		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		indegree[name] = -1

		var woken []string
		for _, dep := range dependents[name] {
			if indegree[dep] <= 0 {
				continue
			}
			indegree[dep]--
			if indegree[dep] == 0 {
				woken = append(woken, dep)
			}
		}
		sort.Strings(woken)
		ready = append(ready, woken...)
	}
	return order
}
