package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/memory/mock"
)

func TestGetOrCreateCreatesOnce(t *testing.T) {
	t.Parallel()

	store := &mock.SessionStore{}
	m := NewManager(store, slog.Default())

	first, err := m.GetOrCreate(context.Background(), "s1", "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.ID != "s1" || first.UserID != "u1" {
		t.Fatalf("session = %+v", first)
	}

	second, err := m.GetOrCreate(context.Background(), "s1", "u1")
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if second.ID != "s1" {
		t.Fatalf("session = %+v", second)
	}
	if n := store.CallCount("CreateSession"); n != 1 {
		t.Errorf("CreateSession called %d times, want 1", n)
	}
}

func TestGetOrCreateRejectsForeignUser(t *testing.T) {
	t.Parallel()

	store := &mock.SessionStore{}
	m := NewManager(store, slog.Default())

	if _, err := m.GetOrCreate(context.Background(), "s1", "u1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	_, err := m.GetOrCreate(context.Background(), "s1", "u2")
	if !errors.Is(err, memory.ErrUserMismatch) {
		t.Errorf("err = %v, want ErrUserMismatch", err)
	}
}

func TestRecordExchangeUpdatesHistoryAndFingerprints(t *testing.T) {
	t.Parallel()

	store := &mock.SessionStore{}
	m := NewManager(store, slog.Default())
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, "s1", "u1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	ex := memory.Exchange{User: "hi", Assistant: "hello"}
	if err := m.RecordExchange(ctx, "s1", ex, []string{"fp1"}); err != nil {
		t.Fatalf("RecordExchange: %v", err)
	}

	sess, err := m.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sess.History) != 1 || sess.History[0].User != "hi" {
		t.Errorf("history = %+v", sess.History)
	}
	if !sess.Delivered("fp1") {
		t.Error("fingerprint not recorded")
	}
}

func TestRecordExchangeUnknownSession(t *testing.T) {
	t.Parallel()

	m := NewManager(&mock.SessionStore{}, slog.Default())
	err := m.RecordExchange(context.Background(), "ghost", memory.Exchange{}, nil)
	if !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResetClearsStateKeepsRow(t *testing.T) {
	t.Parallel()

	store := &mock.SessionStore{}
	m := NewManager(store, slog.Default())
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, "s1", "u1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := m.RecordExchange(ctx, "s1", memory.Exchange{User: "hi"}, []string{"fp1"}); err != nil {
		t.Fatalf("RecordExchange: %v", err)
	}
	if err := m.Reset(ctx, "s1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	sess, err := m.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get after reset: %v", err)
	}
	if len(sess.History) != 0 || len(sess.DeliveredFingerprints) != 0 {
		t.Errorf("session not cleared: %+v", sess)
	}
}

func TestDeleteRemovesSession(t *testing.T) {
	t.Parallel()

	store := &mock.SessionStore{}
	m := NewManager(store, slog.Default())
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, "s1", "u1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := m.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, "s1"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentExchangesSerialise(t *testing.T) {
	t.Parallel()

	store := &mock.SessionStore{}
	m := NewManager(store, slog.Default())
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, "s1", "u1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ex := memory.Exchange{User: fmt.Sprintf("msg %d", i)}
			if err := m.RecordExchange(ctx, "s1", ex, []string{fmt.Sprintf("fp%d", i)}); err != nil {
				t.Errorf("RecordExchange: %v", err)
			}
		}(i)
	}
	wg.Wait()

	sess, err := m.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// History truncates to the limit; every fingerprint survives.
	if len(sess.History) != memory.DefaultHistoryLimit {
		t.Errorf("history length = %d, want %d", len(sess.History), memory.DefaultHistoryLimit)
	}
	if len(sess.DeliveredFingerprints) != n {
		t.Errorf("fingerprints = %d, want %d", len(sess.DeliveredFingerprints), n)
	}
}
