package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/congregio/checkin-engine/internal/certificates"
	"github.com/congregio/checkin-engine/internal/database"
)

// CertificatesHandler serves proof-of-presence certificates.
type CertificatesHandler struct {
	issuer *certificates.Issuer
}

// NewCertificatesHandler creates a certificates handler.
func NewCertificatesHandler(issuer *certificates.Issuer) *CertificatesHandler {
	return &CertificatesHandler{issuer: issuer}
}

// certificatePayload shapes a certificate for JSON responses.
type certificatePayload struct {
	Number           string `json:"number"`
	VerificationCode string `json:"verification_code"`
	OwnerID          string `json:"owner_id,omitempty"`
	SessionID        string `json:"session_id"`
	CheckInID        string `json:"check_in_id"`
	IssuedAt         string `json:"issued_at"`
	CheckedInAt      string `json:"checked_in_at"`
	CheckedOutAt     string `json:"checked_out_at,omitempty"`
	DurationMinutes  int    `json:"duration_minutes,omitempty"`
	ArtifactPath     string `json:"artifact_path"`
}

func toCertificatePayload(c *database.PresenceCertificate) certificatePayload {
	p := certificatePayload{
		Number:           c.Number,
		VerificationCode: c.VerificationCode,
		OwnerID:          c.OwnerID,
		SessionID:        c.SessionID,
		CheckInID:        c.CheckInID,
		IssuedAt:         c.IssuedAt.UTC().Format(time.RFC3339),
		CheckedInAt:      c.CheckedInAt.UTC().Format(time.RFC3339),
		DurationMinutes:  int(c.Duration.Minutes()),
		ArtifactPath:     c.ArtifactPath,
	}
	if c.CheckedOutAt != nil {
		p.CheckedOutAt = c.CheckedOutAt.UTC().Format(time.RFC3339)
	}
	return p
}

// Get returns the certificate for a verified check-in, issuing it on
// first request. Issuance is idempotent, so GET is safe to retry.
func (h *CertificatesHandler) Get(w http.ResponseWriter, r *http.Request) {
	checkInID := chi.URLParam(r, "checkInId")

	cert, err := h.issuer.Issue(r.Context(), checkInID)
	if err != nil {
		switch {
		case errors.Is(err, certificates.ErrCheckInNotFound):
			respondError(w, http.StatusNotFound, "check-in not found")
		case errors.Is(err, certificates.ErrNotVerified):
			respondError(w, http.StatusConflict, "check-in not verified")
		default:
			respondError(w, http.StatusInternalServerError, "failed to issue certificate")
		}
		return
	}
	respondJSON(w, http.StatusOK, toCertificatePayload(cert))
}
