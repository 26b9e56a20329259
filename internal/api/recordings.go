package api

import (
	"io"
	"net/http"
	"time"

	"github.com/mnemovox/mnemovox/pkg/memory"
)

// uploadResponse acknowledges an accepted recording.
type uploadResponse struct {
	RecordingID string `json:"recording_id"`
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
}

// recordingView is the wire shape of a recording row.
type recordingView struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Filename   string    `json:"filename"`
	Language   string    `json:"language,omitempty"`
	Status     string    `json:"status"`
	ChunkTotal int       `json:"chunk_total,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// jobView is the wire shape of a job row.
type jobView struct {
	ID          string    `json:"id"`
	RecordingID string    `json:"recording_id"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// handleUpload accepts a multipart form with an "audio" file part plus
// "user_id" and optional "language" fields, and queues ingestion.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		badRequest(w, "expected multipart form with an audio file")
		return
	}

	userID := r.FormValue("user_id")
	if userID == "" {
		badRequest(w, "user_id is required")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		badRequest(w, "audio file part is required")
		return
	}
	defer file.Close()

	wav, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(wav) == 0 {
		badRequest(w, "audio file is empty")
		return
	}

	recordingID, jobID, err := s.jobs.Submit(r.Context(), userID, header.Filename, r.FormValue("language"), wav)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{
		RecordingID: recordingID,
		JobID:       jobID,
		Status:      string(memory.RecordingPending),
	})
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.jobs.RecordingStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordingView{
		ID:         rec.ID,
		UserID:     rec.UserID,
		Filename:   rec.Filename,
		Language:   rec.Language,
		Status:     string(rec.Status),
		ChunkTotal: rec.ChunkTotal,
		Error:      rec.Error,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	})
}

func (s *Server) handleRecordingDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.DeleteRecording(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	row, err := s.jobs.JobStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobView{
		ID:          row.ID,
		RecordingID: row.RecordingID,
		Status:      string(row.Status),
		Attempts:    row.Attempts,
		MaxAttempts: row.MaxAttempts,
		Error:       row.Error,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	})
}
