package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/congregio/checkin-engine/internal/database"
	"github.com/congregio/checkin-engine/internal/sessions"
)

// SessionsHandler handles attendance-session lifecycle endpoints.
type SessionsHandler struct {
	manager *sessions.Manager
}

// NewSessionsHandler creates a sessions handler.
func NewSessionsHandler(manager *sessions.Manager) *SessionsHandler {
	return &SessionsHandler{manager: manager}
}

// CreateSessionRequest is the payload for scheduling a session.
type CreateSessionRequest struct {
	Name             string `json:"name"`
	Kind             string `json:"kind"`
	StartsAt         string `json:"starts_at,omitempty"` // RFC 3339, defaults to now
	Online           bool   `json:"online,omitempty"`
	StreamURL        string `json:"stream_url,omitempty"`
	ExpectedCapacity int    `json:"expected_capacity,omitempty"`
	Location         string `json:"location,omitempty"`
}

// sessionPayload shapes a session for JSON responses.
type sessionPayload struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Kind             string `json:"kind"`
	Status           string `json:"status"`
	StartsAt         string `json:"starts_at"`
	EndsAt           string `json:"ends_at,omitempty"`
	Online           bool   `json:"online"`
	StreamURL        string `json:"stream_url,omitempty"`
	ExpectedCapacity int    `json:"expected_capacity,omitempty"`
	Location         string `json:"location,omitempty"`
}

func toSessionPayload(s *database.AttendanceSession) sessionPayload {
	p := sessionPayload{
		ID:               s.ID,
		Name:             s.Name,
		Kind:             string(s.Kind),
		Status:           string(s.Status),
		StartsAt:         s.StartsAt.UTC().Format(time.RFC3339),
		Online:           s.Online,
		StreamURL:        s.StreamURL,
		ExpectedCapacity: s.ExpectedCapacity,
		Location:         s.Location,
	}
	if s.EndsAt != nil {
		p.EndsAt = s.EndsAt.UTC().Format(time.RFC3339)
	}
	return p
}

// Create schedules a new session.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	kind := database.SessionKind(req.Kind)
	if !kind.Valid() {
		respondError(w, http.StatusBadRequest, "unknown session kind")
		return
	}

	var startsAt time.Time
	if req.StartsAt != "" {
		t, err := time.Parse(time.RFC3339, req.StartsAt)
		if err != nil {
			respondError(w, http.StatusBadRequest, "starts_at must be RFC 3339")
			return
		}
		startsAt = t
	}

	s, err := h.manager.Create(r.Context(), sessions.CreateRequest{
		Name:             req.Name,
		Kind:             kind,
		StartsAt:         startsAt,
		Online:           req.Online,
		StreamURL:        req.StreamURL,
		ExpectedCapacity: req.ExpectedCapacity,
		Location:         req.Location,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	respondJSON(w, http.StatusCreated, toSessionPayload(s))
}

// List returns sessions currently accepting check-ins. Optional query
// filters: online=true, location=<name>.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	onlineOnly := r.URL.Query().Get("online") == "true"
	location := r.URL.Query().Get("location")

	list, err := h.manager.ListActive(r.Context(), onlineOnly, location)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	payload := make([]sessionPayload, 0, len(list))
	for i := range list {
		payload = append(payload, toSessionPayload(&list[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": payload})
}

// Start activates a scheduled session.
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Start)
}

// End completes an active session.
func (h *SessionsHandler) End(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.End)
}

// Cancel cancels a scheduled or active session.
func (h *SessionsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.manager.Cancel)
}

func (h *SessionsHandler) transition(w http.ResponseWriter, r *http.Request, step func(ctx context.Context, id string) (*database.AttendanceSession, error)) {
	id := chi.URLParam(r, "id")
	s, err := step(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, sessions.ErrNotFound):
			respondError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, sessions.ErrInvalidTransition):
			respondError(w, http.StatusConflict, "invalid session transition")
		default:
			respondError(w, http.StatusInternalServerError, "failed to update session")
		}
		return
	}
	respondJSON(w, http.StatusOK, toSessionPayload(s))
}
