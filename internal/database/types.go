package database

import (
	"time"
)

// MaxFamilyFaces is the maximum number of descriptors a single owner may
// hold, including family-labeled enrollments.
const MaxFamilyFaces = 10

// ConsentType identifies what kind of processing an owner has consented to.
type ConsentType string

// Consent types recognized by the ledger.
const (
	ConsentBiometric ConsentType = "biometric_processing"
	ConsentData      ConsentType = "data_processing"
	ConsentPresence  ConsentType = "presence_tracking"
)

// Valid reports whether the consent type is one of the known values.
func (c ConsentType) Valid() bool {
	switch c {
	case ConsentBiometric, ConsentData, ConsentPresence:
		return true
	}
	return false
}

// SessionKind classifies an attendance session.
type SessionKind string

// Session kinds.
const (
	SessionWorship  SessionKind = "worship"
	SessionMeeting  SessionKind = "meeting"
	SessionTraining SessionKind = "training"
	SessionSpecial  SessionKind = "special"
	SessionOnline   SessionKind = "online"
)

// Valid reports whether the session kind is one of the known values.
func (k SessionKind) Valid() bool {
	switch k {
	case SessionWorship, SessionMeeting, SessionTraining, SessionSpecial, SessionOnline:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of an attendance session.
type SessionStatus string

// Session lifecycle states. The only legal transitions are
// scheduled→active, scheduled→cancelled, active→completed, active→cancelled.
const (
	SessionScheduled SessionStatus = "scheduled"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Valid reports whether the session status is one of the known values.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionScheduled, SessionActive, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal
// session transition. Completed and cancelled are terminal.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionScheduled:
		return next == SessionActive || next == SessionCancelled
	case SessionActive:
		return next == SessionCompleted || next == SessionCancelled
	case SessionCompleted, SessionCancelled:
		return false
	}
	return false
}

// CheckInMethod is how a check-in was captured.
type CheckInMethod string

// Check-in capture methods.
const (
	MethodFacial      CheckInMethod = "facial"
	MethodQR          CheckInMethod = "qr"
	MethodManual      CheckInMethod = "manual"
	MethodOnlineVideo CheckInMethod = "online_video"
	MethodGeolocation CheckInMethod = "geolocation"
)

// Valid reports whether the method is one of the known values.
func (m CheckInMethod) Valid() bool {
	switch m {
	case MethodFacial, MethodQR, MethodManual, MethodOnlineVideo, MethodGeolocation:
		return true
	}
	return false
}

// VerificationStatus is the review state of a recorded check-in.
type VerificationStatus string

// Verification states. Pending check-ins await manual confirmation;
// suspicious ones were recorded but failed a trust gate.
const (
	StatusPending    VerificationStatus = "pending"
	StatusVerified   VerificationStatus = "verified"
	StatusSuspicious VerificationStatus = "suspicious"
	StatusRejected   VerificationStatus = "rejected"
)

// Valid reports whether the verification status is one of the known values.
func (v VerificationStatus) Valid() bool {
	switch v {
	case StatusPending, StatusVerified, StatusSuspicious, StatusRejected:
		return true
	}
	return false
}

// AnomalyKind classifies a fraud or consistency finding.
type AnomalyKind string

// Anomaly kinds raised by the detector and the check-in state machine.
const (
	AnomalyMultipleCheckins AnomalyKind = "multiple_checkins"
	AnomalyUnusualLocation  AnomalyKind = "unusual_location"
	AnomalyLowConfidence    AnomalyKind = "low_confidence"
	AnomalySpoofingAttempt  AnomalyKind = "spoofing_attempt"
	AnomalyRapidSuccession  AnomalyKind = "rapid_succession"
)

// Valid reports whether the anomaly kind is one of the known values.
func (k AnomalyKind) Valid() bool {
	switch k {
	case AnomalyMultipleCheckins, AnomalyUnusualLocation, AnomalyLowConfidence,
		AnomalySpoofingAttempt, AnomalyRapidSuccession:
		return true
	}
	return false
}

// AnomalySeverity ranks how urgently a report needs review.
type AnomalySeverity string

// Severity levels, ordered low to critical.
const (
	SeverityLow      AnomalySeverity = "low"
	SeverityMedium   AnomalySeverity = "medium"
	SeverityHigh     AnomalySeverity = "high"
	SeverityCritical AnomalySeverity = "critical"
)

// Valid reports whether the severity is one of the known values.
func (s AnomalySeverity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// StoredDescriptor is an enrolled face descriptor owned by a member.
// The vector is a fixed-length embedding produced by the external
// extraction model; the engine never stores raw imagery as identity.
type StoredDescriptor struct {
	ID          string
	OwnerID     string
	Vector      []float32
	Dim         int
	Quality     float64 // 0..1 detection/extraction quality
	IsPrimary   bool
	FamilyLabel string // optional, e.g. "spouse", "child-2"
	PhotoRef    string // optional audit-only image reference
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ConsentRecord is one immutable entry in an owner's consent history.
// Withdrawal appends a new record with Granted=false; records are never
// mutated or deleted.
type ConsentRecord struct {
	ID            string
	OwnerID       string
	Type          ConsentType
	Granted       bool
	PolicyVersion string
	DeviceInfo    string
	IPAddress     string
	RecordedAt    time.Time
}

// AttendanceSession is a single service, meeting or online stream that
// accepts check-ins while active.
type AttendanceSession struct {
	ID               string
	Name             string
	Kind             SessionKind
	Status           SessionStatus
	StartsAt         time.Time
	EndsAt           *time.Time // open-ended until completed
	Online           bool
	StreamURL        string
	ExpectedCapacity int
	Location         string
	CreatedAt        time.Time
}

// GeoPoint is a capture-device location sample.
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// CheckIn links an identity (or anonymous visitor) to a session at a
// point in time. OwnerID is empty for visitor check-ins.
type CheckIn struct {
	ID           string
	RequestID    string // client-supplied idempotency key, may be empty
	SessionID    string
	OwnerID      string
	DescriptorID string
	Method       CheckInMethod
	Status       VerificationStatus
	Confidence   float64
	Reason       string // set for rejected/suspicious outcomes
	DeviceInfo   string
	Location     *GeoPoint
	CheckedInAt  time.Time
	CheckedOutAt *time.Time
}

// Active reports whether the check-in has not been checked out yet.
func (c *CheckIn) Active() bool {
	return c.CheckedOutAt == nil
}

// AnomalyReport is an append-only fraud/consistency finding. Resolution
// sets the resolved fields; the report itself is never deleted.
type AnomalyReport struct {
	ID         string
	OwnerID    string // optional
	SessionID  string // optional
	CheckInID  string // optional
	Kind       AnomalyKind
	Severity   AnomalySeverity
	Detail     string
	CreatedAt  time.Time
	Resolved   bool
	ResolvedBy string
	Resolution string
	ResolvedAt *time.Time
}

// PresenceCertificate is an idempotently issued proof-of-presence
// artifact for a verified check-in. Number and VerificationCode are
// derived deterministically from the check-in id, so re-issuing returns
// an identical artifact.
type PresenceCertificate struct {
	ID               string
	Number           string
	VerificationCode string
	OwnerID          string
	SessionID        string
	CheckInID        string
	IssuedAt         time.Time
	CheckedInAt      time.Time
	CheckedOutAt     *time.Time
	Duration         time.Duration
	ArtifactPath     string
}

// AnomalyFilter narrows an anomaly listing. Zero values mean "any".
type AnomalyFilter struct {
	OwnerID    string
	SessionID  string
	Kind       AnomalyKind
	Severity   AnomalySeverity
	Unresolved bool
	Limit      int
	Offset     int
}
