// Package mock provides a configurable test double for the stt.Provider
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/mnemovox/mnemovox/pkg/provider/stt"
)

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Call records a single Transcribe invocation.
type Call struct {
	AudioLen int
	Opts     stt.Options
}

// Provider is a test double for [stt.Provider]. Zero value is usable and
// returns an empty transcript. Safe for concurrent use.
type Provider struct {
	mu    sync.Mutex
	calls []Call

	// Result is returned by Transcribe when Err is nil. A nil Result yields
	// an empty transcript rather than a nil pointer.
	Result *stt.Result

	// Err is returned by Transcribe when non-nil.
	Err error
}

// Transcribe implements [stt.Provider].
func (m *Provider) Transcribe(_ context.Context, wav []byte, opts stt.Options) (*stt.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{AudioLen: len(wav), Opts: opts})
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result == nil {
		return &stt.Result{}, nil
	}
	out := *m.Result
	return &out, nil
}

// Calls returns a copy of every recorded invocation, in order.
func (m *Provider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
