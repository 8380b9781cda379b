package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/steward/internal/agent"
	"github.com/haasonsaas/steward/internal/audit"
	"github.com/haasonsaas/steward/internal/chat"
	"github.com/haasonsaas/steward/internal/sessions"
)

type createSessionRequest struct {
	Title string `json:"title"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode"`
}

type decideApprovalRequest struct {
	Decision string `json:"decision"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps chat service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chat.ErrNotOwner):
		// Indistinguishable from a missing session to avoid leaking
		// session existence across users.
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chat.ErrSessionArchived):
		writeError(w, http.StatusConflict, "session is archived")
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message content is required")
	case errors.Is(err, chat.ErrInvalidMode):
		writeError(w, http.StatusBadRequest, "mode must be \"fast\" or \"thinking\"")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	session, err := s.chat.CreateSession(r.Context(), userID(r), req.Title)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	opts := sessions.ListOptions{
		IncludeArchived: r.URL.Query().Get("include_archived") == "true",
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}

	list, err := s.chat.ListSessions(r.Context(), userID(r), opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.chat.GetSession(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	history, err := s.chat.GetHistory(r.Context(), userID(r), r.PathValue("id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": history})
}

func (s *Server) handleArchiveSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.chat.ArchiveSession(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.chat.PendingApprovals(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": pending})
}

// handleSendMessage starts a turn and streams its chunks as SSE.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	chunks, err := s.chat.ContinueTurn(r.Context(), userID(r), r.PathValue("id"), strings.TrimSpace(req.Text), chat.Mode(req.Mode), r.Context().Done())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.streamSSE(w, r, chunks)
}

// handleDecideApproval settles a pending approval and streams the
// continuation of the suspended turn.
func (s *Server) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	var req decideApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var decision agent.Decision
	switch req.Decision {
	case "approve":
		decision = agent.DecisionApprove
	case "deny":
		decision = agent.DecisionDeny
	default:
		writeError(w, http.StatusBadRequest, `decision must be "approve" or "deny"`)
		return
	}

	chunks, err := s.chat.ResumeTurn(r.Context(), userID(r), r.PathValue("id"), r.PathValue("token"), decision, r.Context().Done())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.streamSSE(w, r, chunks)
}

// streamSSE writes each chunk as an SSE data frame until the stream closes
// or the client goes away.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, chunks <-chan *agent.StreamChunk) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			// The turn keeps running server side; drain so it never
			// blocks on this dead stream.
			go func() {
				for range chunks {
				}
			}()
			return
		case chunk, open := <-chunks:
			if !open {
				_, _ = fmt.Fprint(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(chunk)
			if err != nil {
				s.logger.Error("failed to marshal stream chunk", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleQueryAudit serves the audit trail for operators.
func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{
		SessionID: r.URL.Query().Get("session_id"),
	}
	if v := r.URL.Query().Get("type"); v != "" {
		for _, part := range strings.Split(v, ",") {
			q.Types = append(q.Types, audit.InteractionType(strings.TrimSpace(part)))
		}
	}
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp, want RFC3339")
			return
		}
		q.Since = since
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = limit
	}

	records, err := s.auditor.Query(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}
