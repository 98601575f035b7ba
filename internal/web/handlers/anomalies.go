package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/congregio/checkin-engine/internal/anomaly"
	"github.com/congregio/checkin-engine/internal/database"
)

// AnomaliesHandler handles the anomaly report log endpoints.
type AnomaliesHandler struct {
	detector *anomaly.Detector
}

// NewAnomaliesHandler creates an anomalies handler.
func NewAnomaliesHandler(detector *anomaly.Detector) *AnomaliesHandler {
	return &AnomaliesHandler{detector: detector}
}

// anomalyPayload shapes a report for JSON responses.
type anomalyPayload struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	CheckInID  string `json:"check_in_id,omitempty"`
	Kind       string `json:"kind"`
	Severity   string `json:"severity"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
	Resolved   bool   `json:"resolved"`
	ResolvedBy string `json:"resolved_by,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	ResolvedAt string `json:"resolved_at,omitempty"`
}

func toAnomalyPayload(r *database.AnomalyReport) anomalyPayload {
	p := anomalyPayload{
		ID:         r.ID,
		OwnerID:    r.OwnerID,
		SessionID:  r.SessionID,
		CheckInID:  r.CheckInID,
		Kind:       string(r.Kind),
		Severity:   string(r.Severity),
		Detail:     r.Detail,
		CreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339),
		Resolved:   r.Resolved,
		ResolvedBy: r.ResolvedBy,
		Resolution: r.Resolution,
	}
	if r.ResolvedAt != nil {
		p.ResolvedAt = r.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return p
}

// List returns reports matching the query filters: owner_id, session_id,
// kind, severity, unresolved=true, limit, offset.
func (h *AnomaliesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := database.AnomalyFilter{
		OwnerID:    q.Get("owner_id"),
		SessionID:  q.Get("session_id"),
		Kind:       database.AnomalyKind(q.Get("kind")),
		Severity:   database.AnomalySeverity(q.Get("severity")),
		Unresolved: q.Get("unresolved") == "true",
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		respondError(w, http.StatusBadRequest, "unknown anomaly kind")
		return
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		respondError(w, http.StatusBadRequest, "unknown severity")
		return
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Offset = n
		}
	}

	list, err := h.detector.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list anomalies")
		return
	}

	payload := make([]anomalyPayload, 0, len(list))
	for i := range list {
		payload = append(payload, toAnomalyPayload(&list[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"anomalies": payload})
}

// ResolveRequest is the payload for resolving a report.
type ResolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Resolution string `json:"resolution,omitempty"`
}

// Resolve marks a report resolved. Resolving an already-resolved report
// returns it unchanged.
func (h *AnomaliesHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.ResolvedBy == "" {
		respondError(w, http.StatusBadRequest, "resolved_by is required")
		return
	}

	report, err := h.detector.Resolve(r.Context(), id, req.ResolvedBy, req.Resolution)
	if err != nil {
		if errors.Is(err, anomaly.ErrNotFound) {
			respondError(w, http.StatusNotFound, "anomaly report not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to resolve anomaly")
		return
	}
	respondJSON(w, http.StatusOK, toAnomalyPayload(report))
}
