package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mnemovox/mnemovox/internal/aggregate"
	"github.com/mnemovox/mnemovox/internal/chat"
	"github.com/mnemovox/mnemovox/pkg/memory"
)

// chatRequest is the wire shape of one chat turn.
type chatRequest struct {
	Message   string          `json:"message"`
	SessionID string          `json:"session_id,omitempty"`
	UserID    string          `json:"user_id"`
	Strategy  string          `json:"strategy,omitempty"`
	Filters   []memory.Filter `json:"filters,omitempty"`
	Limit     int             `json:"limit,omitempty"`
}

// toService validates the request and converts it into the service shape.
func (cr chatRequest) toService() (chat.Request, string) {
	if cr.Message == "" {
		return chat.Request{}, "message is required"
	}
	for _, f := range cr.Filters {
		if err := f.Validate(); err != nil {
			return chat.Request{}, err.Error()
		}
	}
	return chat.Request{
		Message:   cr.Message,
		SessionID: cr.SessionID,
		UserID:    cr.UserID,
		Strategy:  aggregate.Strategy(cr.Strategy),
		Filters:   cr.Filters,
		Limit:     cr.Limit,
	}, ""
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var cr chatRequest
	if err := json.NewDecoder(r.Body).Decode(&cr); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	req, problem := cr.toService()
	if problem != "" {
		badRequest(w, problem)
		return
	}

	start := time.Now()
	resp, err := s.chat.Chat(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.recordTurn(r, resp, time.Since(start))

	writeJSON(w, http.StatusOK, resp)
}

// streamEvent is one websocket frame on /v1/chat/stream. "delta" frames
// carry incremental answer text; the final "done" frame carries the full
// response; "error" frames end the turn.
type streamEvent struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Response *chat.Response `json:"response,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// handleChatStream upgrades to a websocket, reads one chat request, and
// streams the answer as it is generated.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()

	var cr chatRequest
	if err := wsjson.Read(ctx, conn, &cr); err != nil {
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid request frame")
		return
	}
	req, problem := cr.toService()
	if problem != "" {
		_ = wsjson.Write(ctx, conn, streamEvent{Type: "error", Error: problem})
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid request")
		return
	}

	start := time.Now()
	resp, err := s.chat.ChatStream(ctx, req, func(delta string) error {
		return wsjson.Write(ctx, conn, streamEvent{Type: "delta", Text: delta})
	})
	if err != nil {
		_ = wsjson.Write(ctx, conn, streamEvent{Type: "error", Error: "internal error"})
		s.logger.Error("chat stream failed", "error", err)
		conn.Close(websocket.StatusInternalError, "chat failed")
		return
	}
	s.recordTurn(r, resp, time.Since(start))

	if err := wsjson.Write(ctx, conn, streamEvent{Type: "done", Response: resp}); err != nil {
		s.logger.Warn("final stream frame not delivered", "error", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) recordTurn(r *http.Request, resp *chat.Response, elapsed time.Duration) {
	status := "ok"
	if resp.Degraded {
		status = "degraded"
	}
	s.metrics.RecordChatTurn(r.Context(), status)
	s.metrics.ChatTurnDuration.Record(r.Context(), elapsed.Seconds())
}
