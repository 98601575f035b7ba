package database

import (
	"context"
	"time"
)

// DescriptorScope narrows the candidate set for matching. The zero value
// means "all enrolled descriptors".
type DescriptorScope struct {
	// OwnerIDs restricts candidates to specific owners (camera-local
	// rosters). Empty means all owners.
	OwnerIDs []string
}

// DescriptorStore owns enrolled face descriptors.
type DescriptorStore interface {
	// Insert stores a new descriptor.
	Insert(ctx context.Context, d *StoredDescriptor) error
	// Get retrieves a descriptor by id, nil if not found.
	Get(ctx context.Context, id string) (*StoredDescriptor, error)
	// ListByOwner returns all descriptors held by an owner.
	ListByOwner(ctx context.Context, ownerID string) ([]StoredDescriptor, error)
	// ListAll returns descriptors in scope, for candidate matching.
	ListAll(ctx context.Context, scope DescriptorScope) ([]StoredDescriptor, error)
	// CountByOwner returns the number of descriptors held by an owner.
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	// SetPrimary marks the descriptor primary and atomically demotes the
	// owner's previous primary.
	SetPrimary(ctx context.Context, id string) error
	// Replace overwrites a descriptor's vector and quality in full.
	// Partial vector edits are not supported.
	Replace(ctx context.Context, d *StoredDescriptor) error
	// Delete removes a descriptor.
	Delete(ctx context.Context, id string) error
}

// ConsentStore persists the append-only consent history.
type ConsentStore interface {
	// Append adds a consent record. Records are immutable once written.
	Append(ctx context.Context, rec *ConsentRecord) error
	// Latest returns the most recent record for (owner, type), nil if the
	// owner never recorded consent of that type.
	Latest(ctx context.Context, ownerID string, t ConsentType) (*ConsentRecord, error)
	// History returns all records for an owner, newest first.
	History(ctx context.Context, ownerID string) ([]ConsentRecord, error)
}

// SessionStore persists attendance sessions.
type SessionStore interface {
	Insert(ctx context.Context, s *AttendanceSession) error
	Get(ctx context.Context, id string) (*AttendanceSession, error)
	// UpdateStatus transitions a session from one status to another.
	// The update is conditional on the current status so a session cannot
	// flip mid-check-in; it returns false when the precondition failed.
	UpdateStatus(ctx context.Context, id string, from, to SessionStatus, endedAt *time.Time) (bool, error)
	// ListByStatus returns sessions in the given status, optionally
	// restricted to online sessions or a location.
	ListByStatus(ctx context.Context, status SessionStatus, onlineOnly bool, location string) ([]AttendanceSession, error)
}

// CheckInStore persists check-ins.
type CheckInStore interface {
	Insert(ctx context.Context, c *CheckIn) error
	Get(ctx context.Context, id string) (*CheckIn, error)
	// GetByRequestID returns the check-in recorded for an idempotency key,
	// nil if the key was never seen.
	GetByRequestID(ctx context.Context, requestID string) (*CheckIn, error)
	// ActiveForOwner returns the not-yet-checked-out check-in for
	// (owner, session), nil if none.
	ActiveForOwner(ctx context.Context, ownerID, sessionID string) (*CheckIn, error)
	// ActiveForOwnerAnySession returns all active check-ins an owner holds
	// across every session.
	ActiveForOwnerAnySession(ctx context.Context, ownerID string) ([]CheckIn, error)
	// ListBySession returns check-ins for a session, newest first.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]CheckIn, error)
	// RecentForOwner returns an owner's check-ins since the given time,
	// newest first, across sessions.
	RecentForOwner(ctx context.Context, ownerID string, since time.Time) ([]CheckIn, error)
	// CountPriorForOwner returns how many check-ins an owner had recorded
	// strictly before the given time, for first-timer detection.
	CountPriorForOwner(ctx context.Context, ownerID string, before time.Time) (int, error)
	// SetCheckedOut sets the check-out time if not already set and returns
	// the stored check-in either way.
	SetCheckedOut(ctx context.Context, id string, at time.Time) (*CheckIn, error)
	// UpdateStatus overwrites the verification status and reason.
	UpdateStatus(ctx context.Context, id string, status VerificationStatus, reason string) error
}

// AnomalyStore persists the append-only anomaly log.
type AnomalyStore interface {
	Insert(ctx context.Context, r *AnomalyReport) error
	Get(ctx context.Context, id string) (*AnomalyReport, error)
	List(ctx context.Context, filter AnomalyFilter) ([]AnomalyReport, error)
	// MarkResolved sets the resolution fields; the report stays in the log.
	MarkResolved(ctx context.Context, id, resolvedBy, resolution string, at time.Time) error
}

// CertificateStore persists issued presence certificates.
type CertificateStore interface {
	// Insert stores a certificate. Implementations enforce uniqueness on
	// the check-in id so concurrent issuance cannot mint duplicates.
	Insert(ctx context.Context, c *PresenceCertificate) error
	// GetByCheckIn returns the certificate for a check-in, nil if none.
	GetByCheckIn(ctx context.Context, checkInID string) (*PresenceCertificate, error)
}
