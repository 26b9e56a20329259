package mock

import (
	"context"
	"time"

	"github.com/mnemovox/mnemovox/pkg/memory"
	"github.com/mnemovox/mnemovox/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// Retriever mock
// ─────────────────────────────────────────────────────────────────────────────

// Retriever is a configurable test double for [memory.Retriever].
type Retriever struct {
	recorder

	// RetrieverName is returned by Name; defaults to "mock".
	RetrieverName string

	// SearchResult is returned by Search. When nil, Search returns an empty
	// non-nil slice.
	SearchResult []memory.Result

	// SearchErr is returned by Search when non-nil.
	SearchErr error

	// SearchDelay, when positive, makes Search sleep before returning unless
	// the context expires first.
	SearchDelay time.Duration

	// GetByIDResult is returned by GetByID; when nil, GetByID returns
	// [memory.ErrNotFound].
	GetByIDResult *memory.Result

	// HealthErr is returned by HealthCheck when non-nil.
	HealthErr error
}

var _ memory.Retriever = (*Retriever)(nil)

// Name implements [memory.Retriever].
func (m *Retriever) Name() string {
	if m.RetrieverName == "" {
		return "mock"
	}
	return m.RetrieverName
}

// Search implements [memory.Retriever].
func (m *Retriever) Search(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.Result, error) {
	m.record("Search", query, opts)
	if m.SearchDelay > 0 {
		select {
		case <-time.After(m.SearchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.SearchResult == nil {
		return []memory.Result{}, nil
	}
	out := make([]memory.Result, len(m.SearchResult))
	copy(out, m.SearchResult)
	return out, nil
}

// GetByID implements [memory.Retriever].
func (m *Retriever) GetByID(_ context.Context, id string) (*memory.Result, error) {
	m.record("GetByID", id)
	if m.GetByIDResult == nil {
		return nil, memory.ErrNotFound
	}
	r := *m.GetByIDResult
	return &r, nil
}

// HealthCheck implements [memory.Retriever].
func (m *Retriever) HealthCheck(context.Context) error {
	m.record("HealthCheck")
	return m.HealthErr
}

// ─────────────────────────────────────────────────────────────────────────────
// Catalog mock
// ─────────────────────────────────────────────────────────────────────────────

// Catalog is an in-memory test double for [memory.Catalog]. Rows live in
// maps; all mutations behave like the real store.
type Catalog struct {
	recorder

	// CreateRecordingErr is returned by CreateRecording when non-nil.
	CreateRecordingErr error

	// TranscriptsResult is returned by RecentTranscripts.
	TranscriptsResult []types.Transcript

	recordings map[string]memory.RecordingRecord
	jobs       map[string]memory.JobRecord
}

var _ memory.Catalog = (*Catalog)(nil)

// CreateRecording implements [memory.Catalog].
func (m *Catalog) CreateRecording(_ context.Context, rec memory.RecordingRecord) error {
	m.record("CreateRecording", rec)
	if m.CreateRecordingErr != nil {
		return m.CreateRecordingErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordings == nil {
		m.recordings = map[string]memory.RecordingRecord{}
	}
	if rec.Status == "" {
		rec.Status = memory.RecordingPending
	}
	m.recordings[rec.ID] = rec
	return nil
}

// GetRecording implements [memory.Catalog].
func (m *Catalog) GetRecording(_ context.Context, id string) (*memory.RecordingRecord, error) {
	m.record("GetRecording", id)
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recordings[id]; ok {
		return &rec, nil
	}
	return nil, memory.ErrNotFound
}

// SetRecordingIngested implements [memory.Catalog].
func (m *Catalog) SetRecordingIngested(_ context.Context, id string, chunkTotal int, transcript string) error {
	m.record("SetRecordingIngested", id, chunkTotal, transcript)
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recordings[id]
	if !ok {
		return memory.ErrNotFound
	}
	rec.Status = memory.RecordingIngested
	rec.ChunkTotal = chunkTotal
	rec.Transcript = transcript
	rec.Error = ""
	m.recordings[id] = rec
	return nil
}

// SetRecordingFailed implements [memory.Catalog].
func (m *Catalog) SetRecordingFailed(_ context.Context, id string, cause string) error {
	m.record("SetRecordingFailed", id, cause)
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recordings[id]
	if !ok {
		return memory.ErrNotFound
	}
	rec.Status = memory.RecordingFailed
	rec.Error = cause
	m.recordings[id] = rec
	return nil
}

// DeleteRecording implements [memory.Catalog].
func (m *Catalog) DeleteRecording(_ context.Context, id string) error {
	m.record("DeleteRecording", id)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recordings, id)
	return nil
}

// RecentTranscripts implements [memory.Catalog].
func (m *Catalog) RecentTranscripts(_ context.Context, userID string, cutoff time.Time, limit int) ([]types.Transcript, error) {
	m.record("RecentTranscripts", userID, cutoff, limit)
	if m.TranscriptsResult == nil {
		return []types.Transcript{}, nil
	}
	out := make([]types.Transcript, len(m.TranscriptsResult))
	copy(out, m.TranscriptsResult)
	return out, nil
}

// CreateJob implements [memory.Catalog].
func (m *Catalog) CreateJob(_ context.Context, job memory.JobRecord) error {
	m.record("CreateJob", job)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs == nil {
		m.jobs = map[string]memory.JobRecord{}
	}
	if job.Status == "" {
		job.Status = memory.JobQueued
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	m.jobs[job.ID] = job
	return nil
}

// GetJob implements [memory.Catalog].
func (m *Catalog) GetJob(_ context.Context, id string) (*memory.JobRecord, error) {
	m.record("GetJob", id)
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		return &job, nil
	}
	return nil, memory.ErrNotFound
}

// MarkJobRunning implements [memory.Catalog].
func (m *Catalog) MarkJobRunning(_ context.Context, id string) (*memory.JobRecord, error) {
	m.record("MarkJobRunning", id)
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	job.Status = memory.JobRunning
	job.Attempts++
	m.jobs[id] = job
	return &job, nil
}

// MarkJobDone implements [memory.Catalog].
func (m *Catalog) MarkJobDone(_ context.Context, id string) error {
	m.record("MarkJobDone", id)
	return m.setJobStatus(id, memory.JobDone, "")
}

// MarkJobFailed implements [memory.Catalog].
func (m *Catalog) MarkJobFailed(_ context.Context, id string, cause string) error {
	m.record("MarkJobFailed", id, cause)
	return m.setJobStatus(id, memory.JobFailed, cause)
}

func (m *Catalog) setJobStatus(id string, status memory.JobStatus, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return memory.ErrNotFound
	}
	job.Status = status
	job.Error = cause
	m.jobs[id] = job
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SessionStore mock
// ─────────────────────────────────────────────────────────────────────────────

// SessionStore is an in-memory test double for [memory.SessionStore].
type SessionStore struct {
	recorder

	// AppendErr is returned by AppendExchange when non-nil.
	AppendErr error

	sessions map[string]*memory.Session
}

var _ memory.SessionStore = (*SessionStore)(nil)

// GetSession implements [memory.SessionStore].
func (m *SessionStore) GetSession(_ context.Context, id string) (*memory.Session, error) {
	m.record("GetSession", id)
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	out := *sess
	out.History = append([]memory.Exchange(nil), sess.History...)
	out.DeliveredFingerprints = append([]string(nil), sess.DeliveredFingerprints...)
	return &out, nil
}

// CreateSession implements [memory.SessionStore].
func (m *SessionStore) CreateSession(_ context.Context, id, userID string) (*memory.Session, error) {
	m.record("CreateSession", id, userID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = map[string]*memory.Session{}
	}
	now := time.Now()
	sess := &memory.Session{
		ID: id, UserID: userID,
		History:               []memory.Exchange{},
		DeliveredFingerprints: []string{},
		CreatedAt:             now, UpdatedAt: now,
	}
	m.sessions[id] = sess
	out := *sess
	return &out, nil
}

// AppendExchange implements [memory.SessionStore].
func (m *SessionStore) AppendExchange(_ context.Context, sessionID string, ex memory.Exchange, newFingerprints []string, historyLimit int) error {
	m.record("AppendExchange", sessionID, ex, newFingerprints, historyLimit)
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return memory.ErrNotFound
	}
	if historyLimit <= 0 {
		historyLimit = memory.DefaultHistoryLimit
	}
	sess.History = append(sess.History, ex)
	if len(sess.History) > historyLimit {
		sess.History = sess.History[len(sess.History)-historyLimit:]
	}
	for _, fp := range newFingerprints {
		if fp == "" || sess.Delivered(fp) {
			continue
		}
		sess.DeliveredFingerprints = append(sess.DeliveredFingerprints, fp)
	}
	sess.UpdatedAt = time.Now()
	return nil
}

// ResetSession implements [memory.SessionStore].
func (m *SessionStore) ResetSession(_ context.Context, id string) error {
	m.record("ResetSession", id)
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return memory.ErrNotFound
	}
	sess.History = []memory.Exchange{}
	sess.DeliveredFingerprints = []string{}
	sess.UpdatedAt = time.Now()
	return nil
}

// DeleteSession implements [memory.SessionStore].
func (m *SessionStore) DeleteSession(_ context.Context, id string) error {
	m.record("DeleteSession", id)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
