package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/congregio/checkin-engine/internal/consent"
	"github.com/congregio/checkin-engine/internal/database"
	"github.com/congregio/checkin-engine/internal/descriptors"
)

// DescriptorsHandler handles descriptor enrollment endpoints.
type DescriptorsHandler struct {
	store *descriptors.Store
}

// NewDescriptorsHandler creates a descriptors handler.
func NewDescriptorsHandler(store *descriptors.Store) *DescriptorsHandler {
	return &DescriptorsHandler{store: store}
}

// EnrollRequest is the payload for enrolling a descriptor.
type EnrollRequest struct {
	OwnerID     string    `json:"owner_id"`
	Vector      []float32 `json:"vector"`
	Quality     float64   `json:"quality"`
	FamilyLabel string    `json:"family_label,omitempty"`
	PhotoRef    string    `json:"photo_ref,omitempty"`
}

// descriptorPayload shapes a stored descriptor for JSON responses. The
// vector itself is never echoed back.
type descriptorPayload struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	Dim         int     `json:"dim"`
	Quality     float64 `json:"quality"`
	IsPrimary   bool    `json:"is_primary"`
	FamilyLabel string  `json:"family_label,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func toDescriptorPayload(d *database.StoredDescriptor) descriptorPayload {
	return descriptorPayload{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		Dim:         d.Dim,
		Quality:     d.Quality,
		IsPrimary:   d.IsPrimary,
		FamilyLabel: d.FamilyLabel,
		CreatedAt:   d.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Enroll stores a new descriptor for an owner.
func (h *DescriptorsHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.OwnerID == "" {
		respondError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	d, err := h.store.Enroll(r.Context(), descriptors.EnrollRequest{
		OwnerID:     req.OwnerID,
		Vector:      req.Vector,
		Quality:     req.Quality,
		FamilyLabel: req.FamilyLabel,
		PhotoRef:    req.PhotoRef,
	})
	if err != nil {
		switch {
		case errors.Is(err, descriptors.ErrDimensionMismatch):
			respondError(w, http.StatusBadRequest, "descriptor vector has wrong dimension")
		case errors.Is(err, descriptors.ErrLowQuality):
			respondError(w, http.StatusBadRequest, "descriptor quality below minimum")
		case errors.Is(err, descriptors.ErrCapacityExceeded):
			respondError(w, http.StatusConflict, "descriptor capacity exceeded")
		case errors.Is(err, consent.ErrConsentMissing):
			respondError(w, http.StatusForbidden, "no active biometric consent")
		default:
			respondError(w, http.StatusInternalServerError, "failed to enroll descriptor")
		}
		return
	}
	respondJSON(w, http.StatusCreated, toDescriptorPayload(d))
}

// ListByOwner returns all descriptors held by an owner.
func (h *DescriptorsHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerId")

	list, err := h.store.ListByOwner(r.Context(), ownerID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list descriptors")
		return
	}

	payload := make([]descriptorPayload, 0, len(list))
	for i := range list {
		payload = append(payload, toDescriptorPayload(&list[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"descriptors": payload})
}

// SetPrimary marks a descriptor as the owner's primary.
func (h *DescriptorsHandler) SetPrimary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.SetPrimary(r.Context(), id); err != nil {
		if errors.Is(err, descriptors.ErrNotFound) {
			respondError(w, http.StatusNotFound, "descriptor not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to set primary descriptor")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Remove deletes a descriptor.
func (h *DescriptorsHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.Remove(r.Context(), id); err != nil {
		if errors.Is(err, descriptors.ErrNotFound) {
			respondError(w, http.StatusNotFound, "descriptor not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to remove descriptor")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
