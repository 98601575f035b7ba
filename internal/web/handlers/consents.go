package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/congregio/checkin-engine/internal/consent"
	"github.com/congregio/checkin-engine/internal/database"
)

// ConsentsHandler handles the consent ledger endpoints.
type ConsentsHandler struct {
	ledger *consent.Ledger
}

// NewConsentsHandler creates a consents handler.
func NewConsentsHandler(ledger *consent.Ledger) *ConsentsHandler {
	return &ConsentsHandler{ledger: ledger}
}

// ConsentRequest is the payload for granting or withdrawing consent.
type ConsentRequest struct {
	OwnerID       string `json:"owner_id"`
	Type          string `json:"type"`
	PolicyVersion string `json:"policy_version,omitempty"`
	DeviceInfo    string `json:"device_info,omitempty"`
}

// consentPayload shapes a consent record for JSON responses.
type consentPayload struct {
	ID            string `json:"id"`
	OwnerID       string `json:"owner_id"`
	Type          string `json:"type"`
	Granted       bool   `json:"granted"`
	PolicyVersion string `json:"policy_version,omitempty"`
	RecordedAt    string `json:"recorded_at"`
}

func toConsentPayload(rec *database.ConsentRecord) consentPayload {
	return consentPayload{
		ID:            rec.ID,
		OwnerID:       rec.OwnerID,
		Type:          string(rec.Type),
		Granted:       rec.Granted,
		PolicyVersion: rec.PolicyVersion,
		RecordedAt:    rec.RecordedAt.UTC().Format(time.RFC3339),
	}
}

func (h *ConsentsHandler) parse(w http.ResponseWriter, r *http.Request) (*ConsentRequest, database.ConsentType, bool) {
	var req ConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return nil, "", false
	}
	if req.OwnerID == "" {
		respondError(w, http.StatusBadRequest, "owner_id is required")
		return nil, "", false
	}
	t := database.ConsentType(req.Type)
	if !t.Valid() {
		respondError(w, http.StatusBadRequest, "unknown consent type")
		return nil, "", false
	}
	return &req, t, true
}

// Grant records a granted consent.
func (h *ConsentsHandler) Grant(w http.ResponseWriter, r *http.Request) {
	req, t, ok := h.parse(w, r)
	if !ok {
		return
	}

	rec, err := h.ledger.Grant(r.Context(), req.OwnerID, t, req.PolicyVersion, consent.RequestContext{
		DeviceInfo: req.DeviceInfo,
		IPAddress:  r.RemoteAddr,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record consent")
		return
	}
	respondJSON(w, http.StatusCreated, toConsentPayload(rec))
}

// Withdraw records a consent withdrawal. Stored descriptors survive
// withdrawal; their removal is a separate explicit call.
func (h *ConsentsHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, t, ok := h.parse(w, r)
	if !ok {
		return
	}

	rec, err := h.ledger.Withdraw(r.Context(), req.OwnerID, t, consent.RequestContext{
		DeviceInfo: req.DeviceInfo,
		IPAddress:  r.RemoteAddr,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record withdrawal")
		return
	}
	respondJSON(w, http.StatusCreated, toConsentPayload(rec))
}

// History returns an owner's full consent history, newest first.
func (h *ConsentsHandler) History(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerId")

	list, err := h.ledger.History(r.Context(), ownerID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load consent history")
		return
	}

	payload := make([]consentPayload, 0, len(list))
	for i := range list {
		payload = append(payload, toConsentPayload(&list[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"consents": payload})
}
