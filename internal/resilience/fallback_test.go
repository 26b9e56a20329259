package resilience

import (
	"errors"
	"testing"
)

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("primary", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "secondary")

	var called string
	if err := fg.Execute(func(v string) error { called = v; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "primary" {
		t.Fatalf("called = %q, want primary", called)
	}
}

func TestFallbackGroup_FailoverOrder(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "a", FallbackConfig{})
	fg.AddFallback("b", "b")
	fg.AddFallback("c", "c")

	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		if v != "c" {
			return errBackend
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tried) != 3 || tried[0] != "a" || tried[1] != "b" || tried[2] != "c" {
		t.Fatalf("tried = %v, want [a b c]", tried)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "a", FallbackConfig{})
	fg.AddFallback("b", "b")

	err := fg.Execute(func(string) error { return errBackend })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("a", "a", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fg.AddFallback("b", "b")

	// Trip the primary's breaker.
	_ = fg.Execute(func(v string) error {
		if v == "a" {
			return errBackend
		}
		return nil
	})

	var tried []string
	if err := fg.Execute(func(v string) error { tried = append(tried, v); return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tried) != 1 || tried[0] != "b" {
		t.Fatalf("tried = %v, want [b]: open primary must be skipped without a call", tried)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(2, "primary", FallbackConfig{})
	fg.AddFallback("secondary", 3)

	got, err := ExecuteWithResult(fg, func(v int) (int, error) {
		if v == 2 {
			return 0, errBackend
		}
		return v * 10, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 30 {
		t.Fatalf("result = %d, want 30", got)
	}
}

func TestFallbackGroup_Primary(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup("first", "first", FallbackConfig{})
	fg.AddFallback("second", "second")
	if got := fg.Primary(); got != "first" {
		t.Fatalf("Primary() = %q, want first", got)
	}
}
