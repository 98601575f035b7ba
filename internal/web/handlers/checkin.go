package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/congregio/checkin-engine/internal/checkin"
	"github.com/congregio/checkin-engine/internal/config"
	"github.com/congregio/checkin-engine/internal/database"
	"github.com/congregio/checkin-engine/internal/match"
	"github.com/congregio/checkin-engine/internal/sessions"
)

// CheckInHandler handles the live check-in path.
type CheckInHandler struct {
	matcher *match.Engine
	machine *checkin.StateMachine
	cfg     config.MatchingConfig
}

// NewCheckInHandler creates a check-in handler.
func NewCheckInHandler(matcher *match.Engine, machine *checkin.StateMachine, cfg config.MatchingConfig) *CheckInHandler {
	return &CheckInHandler{matcher: matcher, machine: machine, cfg: cfg}
}

// ProbePayload is the live capture from a camera or online client.
type ProbePayload struct {
	Vector   []float32 `json:"vector"`
	Liveness float64   `json:"liveness"`
}

// CheckInRequest is the capture-client check-in payload.
type CheckInRequest struct {
	SessionID  string             `json:"session_id"`
	RequestID  string             `json:"request_id,omitempty"`
	Method     string             `json:"method,omitempty"` // defaults to facial
	Probe      ProbePayload       `json:"probe"`
	DeviceInfo string             `json:"device_info,omitempty"`
	Location   *database.GeoPoint `json:"location,omitempty"`
	OwnerIDs   []string           `json:"owner_ids,omitempty"` // optional camera-local roster
}

// CheckInResponse is the terse status the capture client displays.
type CheckInResponse struct {
	Status     string  `json:"status"` // verified | needs-review | rejected | duplicate
	CheckInID  string  `json:"check_in_id,omitempty"`
	OwnerID    string  `json:"owner_id,omitempty"`
	Confidence float64 `json:"confidence"`
}

// clientStatus maps a verification status to the terse client vocabulary.
func clientStatus(s database.VerificationStatus) string {
	switch s {
	case database.StatusVerified:
		return "verified"
	case database.StatusPending, database.StatusSuspicious:
		return "needs-review"
	case database.StatusRejected:
		return "rejected"
	}
	return "rejected"
}

// CheckIn matches a probe and records the attempt. Every physical
// presentation leaves a trace: timeouts and failed matches are recorded
// as rejected or visitor rows, never dropped.
func (h *CheckInHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req CheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	method := database.CheckInMethod(req.Method)
	if req.Method == "" {
		method = database.MethodFacial
	}
	if !method.Valid() {
		respondError(w, http.StatusBadRequest, "unknown check-in method")
		return
	}
	if len(req.Probe.Vector) == 0 {
		respondError(w, http.StatusBadRequest, "probe vector is required")
		return
	}

	ctx := r.Context()
	probe := match.Probe{Vector: req.Probe.Vector, Liveness: req.Probe.Liveness}
	scope := database.DescriptorScope{OwnerIDs: req.OwnerIDs}

	result, err := h.matcher.Match(ctx, probe, scope)
	if err != nil {
		if errors.Is(err, match.ErrMatchTimeout) {
			c, recErr := h.machine.RecordTimeout(ctx, req.SessionID, req.RequestID, method, req.DeviceInfo, req.Location)
			if recErr != nil {
				log.Printf("checkin: failed to record timed-out attempt: %v", recErr)
				respondError(w, http.StatusGatewayTimeout, "match timed out")
				return
			}
			respondJSON(w, http.StatusOK, CheckInResponse{Status: "rejected", CheckInID: c.ID})
			return
		}
		log.Printf("checkin: match failed for session %s: %v", sanitizeForLog(req.SessionID), err)
		respondError(w, http.StatusInternalServerError, "match failed")
		return
	}

	c, err := h.machine.Record(ctx, checkin.RecordRequest{
		SessionID:  req.SessionID,
		RequestID:  req.RequestID,
		Match:      result,
		Method:     method,
		DeviceInfo: req.DeviceInfo,
		Location:   req.Location,
	})
	if err != nil {
		switch {
		case errors.Is(err, checkin.ErrDuplicateCheckIn):
			respondJSON(w, http.StatusConflict, CheckInResponse{
				Status:     "duplicate",
				OwnerID:    result.OwnerID,
				Confidence: result.Confidence,
			})
		case errors.Is(err, checkin.ErrSessionNotAccepting), errors.Is(err, sessions.ErrNotFound):
			respondError(w, http.StatusConflict, "session not accepting check-ins")
		default:
			log.Printf("checkin: record failed for session %s: %v", sanitizeForLog(req.SessionID), err)
			respondError(w, http.StatusInternalServerError, "failed to record check-in")
		}
		return
	}

	respondJSON(w, http.StatusOK, CheckInResponse{
		Status:     clientStatus(c.Status),
		CheckInID:  c.ID,
		OwnerID:    c.OwnerID,
		Confidence: c.Confidence,
	})
}

// checkInPayload shapes a stored check-in for JSON responses.
type checkInPayload struct {
	ID           string             `json:"id"`
	SessionID    string             `json:"session_id"`
	OwnerID      string             `json:"owner_id,omitempty"`
	Method       string             `json:"method"`
	Status       string             `json:"status"`
	Confidence   float64            `json:"confidence"`
	Reason       string             `json:"reason,omitempty"`
	CheckedInAt  string             `json:"checked_in_at"`
	CheckedOutAt string             `json:"checked_out_at,omitempty"`
	Location     *database.GeoPoint `json:"location,omitempty"`
}

func toCheckInPayload(c *database.CheckIn) checkInPayload {
	p := checkInPayload{
		ID:          c.ID,
		SessionID:   c.SessionID,
		OwnerID:     c.OwnerID,
		Method:      string(c.Method),
		Status:      string(c.Status),
		Confidence:  c.Confidence,
		Reason:      c.Reason,
		CheckedInAt: c.CheckedInAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Location:    c.Location,
	}
	if c.CheckedOutAt != nil {
		p.CheckedOutAt = c.CheckedOutAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return p
}

// Get returns one check-in.
func (h *CheckInHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.machine.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, checkin.ErrNotFound) {
			respondError(w, http.StatusNotFound, "check-in not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load check-in")
		return
	}
	respondJSON(w, http.StatusOK, toCheckInPayload(c))
}

// CheckOut stamps the check-out time; calling it twice returns the
// original timestamp.
func (h *CheckInHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.machine.CheckOut(r.Context(), id)
	if err != nil {
		if errors.Is(err, checkin.ErrNotFound) {
			respondError(w, http.StatusNotFound, "check-in not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to check out")
		return
	}
	respondJSON(w, http.StatusOK, toCheckInPayload(c))
}

// ReviewRequest is the manual moderation decision payload.
type ReviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Approve    bool   `json:"approve"`
}

// Review applies a manual decision to a pending or suspicious check-in.
func (h *CheckInHandler) Review(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.ReviewerID == "" {
		respondError(w, http.StatusBadRequest, "reviewer_id is required")
		return
	}

	c, err := h.machine.Review(r.Context(), id, req.ReviewerID, req.Approve)
	if err != nil {
		switch {
		case errors.Is(err, checkin.ErrNotFound):
			respondError(w, http.StatusNotFound, "check-in not found")
		case errors.Is(err, checkin.ErrNotReviewable):
			respondError(w, http.StatusConflict, "check-in not pending review")
		default:
			respondError(w, http.StatusInternalServerError, "failed to review check-in")
		}
		return
	}
	respondJSON(w, http.StatusOK, toCheckInPayload(c))
}
