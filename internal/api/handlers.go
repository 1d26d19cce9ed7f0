package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"inboxsync/internal/backend"
	"inboxsync/internal/inbox"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// LoadRequest is the body of POST /inbox/load. Nil fields keep the
// current filter.
type LoadRequest struct {
	Page        int     `json:"page"`
	Mailbox     *string `json:"mailbox,omitempty"`
	UnreadOnly  *bool   `json:"unread_only,omitempty"`
	Query       *string `json:"query,omitempty"`
	ResetTokens bool    `json:"reset_tokens,omitempty"`
	Append      bool    `json:"append,omitempty"`
}

// LoadResponse pairs what the fetch did with the resulting view.
type LoadResponse struct {
	Result inbox.LoadResult `json:"result"`
	Inbox  inbox.Snapshot   `json:"inbox"`
}

// LabelsRequest is the body of POST /inbox/labels. Action is a shortcut
// for a preset label change and is combined with Add and Remove.
type LabelsRequest struct {
	IDs    []string `json:"ids"`
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
	Action string   `json:"action,omitempty"`
}

// ClassificationResponse is the state of one message's classification.
type ClassificationResponse struct {
	ID             string                  `json:"id"`
	Classification *backend.Classification `json:"classification,omitempty"`
	Request        inbox.RequestEntry      `json:"classify"`
}

// VisibilityRequest is the body of PUT /visibility.
type VisibilityRequest struct {
	Active bool `json:"active"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeEngineError maps an engine failure onto a status code and body.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, inbox.ErrNotSupported):
		writeError(w, http.StatusNotImplemented, "not_supported", err.Error())
		return
	case errors.Is(err, inbox.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}

	ierr := inbox.Classify(err)
	status := http.StatusBadGateway
	switch ierr.Kind {
	case inbox.KindIdentityMissing:
		status = http.StatusPreconditionFailed
	case inbox.KindDisconnected:
		status = http.StatusConflict
	case inbox.KindAuthExpired:
		status = http.StatusUnauthorized
	case inbox.KindConsentRequired:
		status = http.StatusForbidden
	case inbox.KindRateLimited:
		status = http.StatusTooManyRequests
		if ierr.RetryAfter > 0 {
			secs := int((ierr.RetryAfter + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	if status == http.StatusBadGateway {
		s.logger.Warn("engine request failed", "error", err)
	}
	writeError(w, status, string(ierr.Kind), ierr.Message)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}
	if req.Page < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "page must be positive")
		return
	}

	res, err := s.engine.LoadMessages(r.Context(), inbox.LoadOptions{
		Page:        req.Page,
		Mailbox:     req.Mailbox,
		UnreadOnly:  req.UnreadOnly,
		Query:       req.Query,
		ResetTokens: req.ResetTokens,
		Append:      req.Append,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LoadResponse{Result: res, Inbox: s.engine.Snapshot()})
}

// presetLabels returns the label change named by action.
func presetLabels(action string) (add, remove []string, err error) {
	switch strings.ToLower(action) {
	case "":
		return nil, nil, nil
	case "archive":
		return nil, []string{backend.LabelInbox}, nil
	case "read":
		return nil, []string{backend.LabelUnread}, nil
	case "unread":
		return []string{backend.LabelUnread}, nil, nil
	case "star":
		return []string{backend.LabelStarred}, nil, nil
	case "unstar":
		return nil, []string{backend.LabelStarred}, nil
	}
	return nil, nil, fmt.Errorf("unknown action %q", action)
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	var req LabelsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "ids is required")
		return
	}
	add, remove, err := presetLabels(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	add = append(add, req.Add...)
	remove = append(remove, req.Remove...)
	if len(add) == 0 && len(remove) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "no label changes given")
		return
	}

	if err := s.engine.ModifyLabels(r.Context(), req.IDs, add, remove); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message id is required")
		return
	}
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "force must be a boolean")
			return
		}
		force = parsed
	}

	if err := s.engine.Reclassify(r.Context(), force, id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	c, entry := s.engine.Classification(id)
	writeJSON(w, http.StatusOK, ClassificationResponse{ID: id, Classification: c, Request: entry})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req backend.Settings
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.UrgentConfThreshold < 0 || req.UrgentConfThreshold > 1 {
		writeError(w, http.StatusBadRequest, "invalid_request", "urgent_conf_threshold must be between 0 and 1")
		return
	}

	saved, err := s.engine.SaveSettings(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.engine.SetActive(req.Active)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Disconnect(r.Context()); err != nil {
		s.logger.Error("disconnect failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to clear account data")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
