package plugin

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/memory/mock"
	"github.com/mnemovox/mnemovox/pkg/types"
)

// stub is a scriptable test plugin.
type stub struct {
	meta Metadata
	fn   func(Context) (Result, error)

	executed []Context
}

func (s *stub) Metadata() Metadata { return s.meta }

func (s *stub) Execute(_ context.Context, pctx Context) (Result, error) {
	s.executed = append(s.executed, pctx)
	if s.fn != nil {
		return s.fn(pctx)
	}
	return Result{Data: map[string]any{"ran": s.meta.Name}}, nil
}

func TestRegistryTopologicalOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry(slog.Default())
	// c depends on b depends on a; registration order is scrambled.
	for _, s := range []*stub{
		{meta: Metadata{Name: "c", Dependencies: []string{"b"}}},
		{meta: Metadata{Name: "a"}},
		{meta: Metadata{Name: "b", Dependencies: []string{"a"}}},
	} {
		if err := r.Register(s); err != nil {
			t.Fatalf("Register %s: %v", s.meta.Name, err)
		}
	}

	if got, want := r.ExecutionOrder(), []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestRegistryDuplicateName(t *testing.T) {
	t.Parallel()

	r := NewRegistry(slog.Default())
	if err := r.Register(&stub{meta: Metadata{Name: "a"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&stub{meta: Metadata{Name: "a"}}); err == nil {
		t.Error("expected duplicate-name error")
	}
}

func TestRegistryCycleBreaks(t *testing.T) {
	t.Parallel()

	r := NewRegistry(slog.Default())
	for _, s := range []*stub{
		{meta: Metadata{Name: "x", Dependencies: []string{"y"}}},
		{meta: Metadata{Name: "y", Dependencies: []string{"x"}}},
		{meta: Metadata{Name: "solo"}},
	} {
		if err := r.Register(s); err != nil {
			t.Fatalf("Register %s: %v", s.meta.Name, err)
		}
	}

	order := r.ExecutionOrder()
	if len(order) != 3 {
		t.Fatalf("order = %v, want all three plugins", order)
	}
	seen := map[string]bool{}
	for _, n := range order {
		seen[n] = true
	}
	for _, n := range []string{"x", "y", "solo"} {
		if !seen[n] {
			t.Errorf("plugin %s missing from order %v", n, order)
		}
	}
}

func TestExecuteAllPassesDependencyOutputs(t *testing.T) {
	t.Parallel()

	r := NewRegistry(slog.Default())
	first := &stub{meta: Metadata{Name: "first"}, fn: func(Context) (Result, error) {
		return Result{Data: map[string]any{"value": 42}}, nil
	}}
	second := &stub{meta: Metadata{Name: "second", Dependencies: []string{"first"}}}
	for _, s := range []*stub{second, first} {
		if err := r.Register(s); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	outputs := r.ExecuteAll(context.Background(), Context{Query: "q"})
	if len(outputs) != 2 {
		t.Fatalf("outputs = %v", outputs)
	}
	if len(second.executed) != 1 {
		t.Fatalf("second executed %d times", len(second.executed))
	}
	dep, ok := second.executed[0].Outputs["first"]
	if !ok {
		t.Fatal("dependency output not visible to dependent")
	}
	if dep.Data["value"] != 42 {
		t.Errorf("dependency output = %v", dep.Data)
	}
}

func TestExecuteAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	r := NewRegistry(slog.Default())
	bad := &stub{meta: Metadata{Name: "bad"}, fn: func(Context) (Result, error) {
		return Result{}, errors.New("boom")
	}}
	panicky := &stub{meta: Metadata{Name: "panicky"}, fn: func(Context) (Result, error) {
		panic("unexpected")
	}}
	good := &stub{meta: Metadata{Name: "good", Dependencies: []string{"bad"}}}
	for _, s := range []*stub{bad, panicky, good} {
		if err := r.Register(s); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	outputs := r.ExecuteAll(context.Background(), Context{})
	if _, ok := outputs["bad"]; ok {
		t.Error("failed plugin produced an output")
	}
	if _, ok := outputs["panicky"]; ok {
		t.Error("panicking plugin produced an output")
	}
	if _, ok := outputs["good"]; !ok {
		t.Error("dependent of a failed plugin should still run")
	}
}

func TestRecentActivityPlugin(t *testing.T) {
	t.Parallel()

	now := time.Now()
	catalog := &mock.Catalog{TranscriptsResult: []types.Transcript{
		{RecordingID: "r1", Text: "a", CreatedAt: now.Add(-48 * time.Hour)},
		{RecordingID: "r2", Text: "b", CreatedAt: now.Add(-1 * time.Hour)},
	}}

	p := NewRecentActivityPlugin(catalog, 7*24*time.Hour)
	res, err := p.Execute(context.Background(), Context{UserID: "u1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Data["recordings_in_window"] != 2 {
		t.Errorf("count = %v", res.Data["recordings_in_window"])
	}
	if res.Data["latest_recording_at"] != now.Add(-1*time.Hour).Format(time.RFC3339) {
		t.Errorf("latest = %v", res.Data["latest_recording_at"])
	}
}

func TestEntityDigestPlugin(t *testing.T) {
	t.Parallel()

	p := EntityDigestPlugin{}
	res, err := p.Execute(context.Background(), Context{Results: []memory.Result{
		{Entities: []string{"Alice", "Acme Corp"}},
		{Entities: []string{"alice", "Bob"}},
	}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	entities, ok := res.Data["entities"].([]string)
	if !ok {
		t.Fatalf("entities = %T", res.Data["entities"])
	}
	// "alice" normalises to the same form as "Alice" and is dropped.
	if want := []string{"Alice", "Acme Corp", "Bob"}; !reflect.DeepEqual(entities, want) {
		t.Errorf("entities = %v, want %v", entities, want)
	}
}
