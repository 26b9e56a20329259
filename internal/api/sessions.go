package api

import (
	"net/http"
	"time"

	"github.com/mnemovox/mnemovox/pkg/memory"
)

// sessionView is the wire shape of a session.
type sessionView struct {
	ID                  string            `json:"id"`
	UserID              string            `json:"user_id"`
	History             []memory.Exchange `json:"history"`
	DeliveredRecordings int               `json:"delivered_recordings"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	history := sess.History
	if history == nil {
		history = []memory.Exchange{}
	}
	writeJSON(w, http.StatusOK, sessionView{
		ID:                  sess.ID,
		UserID:              sess.UserID,
		History:             history,
		DeliveredRecordings: len(sess.DeliveredFingerprints),
		CreatedAt:           sess.CreatedAt,
		UpdatedAt:           sess.UpdatedAt,
	})
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Reset(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
