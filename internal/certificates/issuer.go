// Package certificates issues proof-of-presence certificates for
// verified check-ins. Certificate numbers are derived deterministically
// from the check-in id, so issuance is idempotent: asking twice returns
// the same artifact, never a duplicate number.
package certificates

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/congregio/checkin-engine/internal/database"
)

var (
	// ErrNotVerified means the check-in is not in the verified state.
	// Certificates are never issued for pending, suspicious or rejected
	// check-ins.
	ErrNotVerified = errors.New("check-in not verified")

	// ErrCheckInNotFound means no check-in exists with the given id.
	ErrCheckInNotFound = errors.New("check-in not found")
)

// Issuer is the sole writer of presence certificates.
type Issuer struct {
	db       database.CertificateStore
	checkins database.CheckInStore
	sessions database.SessionStore
}

// NewIssuer creates a certificate issuer.
func NewIssuer(db database.CertificateStore, checkins database.CheckInStore, sessions database.SessionStore) *Issuer {
	return &Issuer{db: db, checkins: checkins, sessions: sessions}
}

// Number derives the stable certificate number for a check-in id.
// SHA-256 keeps the derivation deterministic across restarts and
// processes; base32 keeps the number typeable.
func Number(checkInID string) string {
	sum := sha256.Sum256([]byte("certificate:" + checkInID))
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])
	return "POP-" + enc[:12]
}

// VerificationCode derives the stable spot-check code printed on the
// artifact, distinct from the number via a different domain prefix.
func VerificationCode(checkInID string) string {
	sum := sha256.Sum256([]byte("verify:" + checkInID))
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])
	return enc[:4] + "-" + enc[4:8]
}

// Issue returns the certificate for a verified check-in, creating it on
// first request. A concurrent double-issue loses the store uniqueness
// race, re-reads and returns the winner's row.
func (i *Issuer) Issue(ctx context.Context, checkInID string) (*database.PresenceCertificate, error) {
	existing, err := i.db.GetByCheckIn(ctx, checkInID)
	if err != nil {
		return nil, fmt.Errorf("certificate lookup: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	c, err := i.checkins.Get(ctx, checkInID)
	if err != nil {
		return nil, fmt.Errorf("get check-in: %w", err)
	}
	if c == nil {
		return nil, ErrCheckInNotFound
	}
	if c.Status != database.StatusVerified {
		return nil, fmt.Errorf("%w: status %s", ErrNotVerified, c.Status)
	}

	sessionSlug := c.SessionID
	if s, err := i.sessions.Get(ctx, c.SessionID); err == nil && s != nil && s.Name != "" {
		sessionSlug = database.NameSlug(s.Name)
	}

	number := Number(checkInID)
	var duration time.Duration
	if c.CheckedOutAt != nil {
		duration = c.CheckedOutAt.Sub(c.CheckedInAt)
	}

	cert := &database.PresenceCertificate{
		ID:               uuid.NewString(),
		Number:           number,
		VerificationCode: VerificationCode(checkInID),
		OwnerID:          c.OwnerID,
		SessionID:        c.SessionID,
		CheckInID:        checkInID,
		IssuedAt:         time.Now(),
		CheckedInAt:      c.CheckedInAt,
		CheckedOutAt:     c.CheckedOutAt,
		Duration:         duration,
		ArtifactPath:     fmt.Sprintf("certificates/%s/%s.pdf", sessionSlug, number),
	}

	if err := i.db.Insert(ctx, cert); err != nil {
		if errors.Is(err, database.ErrDuplicateCertificate) {
			return i.db.GetByCheckIn(ctx, checkInID)
		}
		return nil, fmt.Errorf("insert certificate: %w", err)
	}
	return cert, nil
}

// Get returns the certificate for a check-in without issuing, nil if
// none exists yet.
func (i *Issuer) Get(ctx context.Context, checkInID string) (*database.PresenceCertificate, error) {
	return i.db.GetByCheckIn(ctx, checkInID)
}
