// Package checkin turns a match result plus session context into a
// recorded, status-tagged check-in. It is the sole writer of check-in
// verification status transitions.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/congregio/checkin-engine/internal/anomaly"
	"github.com/congregio/checkin-engine/internal/config"
	"github.com/congregio/checkin-engine/internal/database"
	"github.com/congregio/checkin-engine/internal/match"
	"github.com/congregio/checkin-engine/internal/sessions"
)

var (
	// ErrSessionNotAccepting means the target session is not active.
	ErrSessionNotAccepting = errors.New("session not accepting check-ins")

	// ErrDuplicateCheckIn means the owner already holds an active
	// check-in for the session. No second row is created.
	ErrDuplicateCheckIn = errors.New("duplicate check-in")

	// ErrNotFound means no check-in exists with the given id.
	ErrNotFound = errors.New("check-in not found")

	// ErrNotReviewable means the check-in is not in a state a manual
	// review can act on.
	ErrNotReviewable = errors.New("check-in not pending review")
)

// checkinStripes is the size of the striped lock table serializing
// writes per (owner, session) pair.
const checkinStripes = 64

// StateMachine records check-ins. Writes for the same (owner, session)
// pair are serialized through a striped lock so two near-simultaneous
// attempts cannot both win; attempts for different owners or sessions
// proceed in parallel.
type StateMachine struct {
	db       database.CheckInStore
	sessions *sessions.Manager
	detector *anomaly.Detector

	rapidWindow time.Duration
	threshold   float64

	locks [checkinStripes]sync.Mutex
}

// NewStateMachine creates a check-in state machine.
func NewStateMachine(db database.CheckInStore, mgr *sessions.Manager, det *anomaly.Detector, cfg config.CheckInConfig, matching config.MatchingConfig) *StateMachine {
	return &StateMachine{
		db:          db,
		sessions:    mgr,
		detector:    det,
		rapidWindow: cfg.RapidWindow,
		threshold:   matching.SimilarityThreshold,
	}
}

// stripe returns the lock serializing one (owner, session) pair.
func (sm *StateMachine) stripe(ownerID, sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(ownerID))
	h.Write([]byte{0})
	h.Write([]byte(sessionID))
	return &sm.locks[h.Sum32()%checkinStripes]
}

// RecordRequest carries everything needed to record one check-in.
type RecordRequest struct {
	SessionID  string
	RequestID  string // optional idempotency key for client retries
	Match      match.Result
	Method     database.CheckInMethod
	DeviceInfo string
	Location   *database.GeoPoint
}

// Record applies the state-machine rules and persists exactly one
// check-in row for the attempt, or returns ErrDuplicateCheckIn /
// ErrSessionNotAccepting without writing one.
func (sm *StateMachine) Record(ctx context.Context, req RecordRequest) (*database.CheckIn, error) {
	if !req.Method.Valid() {
		return nil, fmt.Errorf("unknown check-in method %q", req.Method)
	}

	// Replayed retries return the original row instead of a new one.
	if req.RequestID != "" {
		prior, err := sm.db.GetByRequestID(ctx, req.RequestID)
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
		if prior != nil {
			return prior, nil
		}
	}

	accepting, err := sm.sessions.Accepting(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if !accepting {
		return nil, fmt.Errorf("%w: session %s", ErrSessionNotAccepting, req.SessionID)
	}

	ownerID := req.Match.OwnerID

	if ownerID != "" {
		lock := sm.stripe(ownerID, req.SessionID)
		lock.Lock()
		defer lock.Unlock()

		if err := sm.rejectDuplicate(ctx, ownerID, req.SessionID); err != nil {
			return nil, err
		}
	}

	c := &database.CheckIn{
		ID:           uuid.NewString(),
		RequestID:    req.RequestID,
		SessionID:    req.SessionID,
		OwnerID:      ownerID,
		DescriptorID: req.Match.DescriptorID,
		Method:       req.Method,
		Status:       sm.statusFor(req),
		Confidence:   req.Match.Confidence,
		Reason:       sm.reasonFor(req),
		DeviceInfo:   req.DeviceInfo,
		Location:     req.Location,
		CheckedInAt:  time.Now(),
	}
	if err := sm.db.Insert(ctx, c); err != nil {
		return nil, fmt.Errorf("insert check-in: %w", err)
	}

	if req.Match.SpoofSuspected {
		sm.report(ctx, c, database.AnomalySpoofingAttempt,
			fmt.Sprintf("liveness below threshold, confidence %.2f", req.Match.Confidence))
	}

	sm.detector.Observe(anomaly.Event{CheckIn: *c})
	return c, nil
}

// rejectDuplicate enforces at most one active check-in per (owner,
// session). Attempts inside the rapid window additionally raise a
// RAPID_SUCCESSION report.
func (sm *StateMachine) rejectDuplicate(ctx context.Context, ownerID, sessionID string) error {
	active, err := sm.db.ActiveForOwner(ctx, ownerID, sessionID)
	if err != nil {
		return fmt.Errorf("active check-in lookup: %w", err)
	}
	if active == nil {
		return nil
	}

	if time.Since(active.CheckedInAt) < sm.rapidWindow {
		sm.report(ctx, active, database.AnomalyRapidSuccession,
			fmt.Sprintf("repeat attempt %.0fs after check-in", time.Since(active.CheckedInAt).Seconds()))
	}
	return fmt.Errorf("%w: owner %s already active in session %s", ErrDuplicateCheckIn, ownerID, sessionID)
}

// statusFor derives the initial verification status from the match
// outcome. Below-threshold confidence is recorded as suspicious, never
// silently upgraded; a suspected spoof is never verified.
func (sm *StateMachine) statusFor(req RecordRequest) database.VerificationStatus {
	if req.Match.OwnerID == "" {
		// Anonymous visitor, pending manual confirmation.
		return database.StatusPending
	}
	if req.Match.SpoofSuspected {
		return database.StatusSuspicious
	}
	if req.Match.Confidence < sm.threshold {
		return database.StatusSuspicious
	}
	return database.StatusVerified
}

// reasonFor annotates non-verified outcomes for the audit trail.
func (sm *StateMachine) reasonFor(req RecordRequest) string {
	switch {
	case req.Match.OwnerID == "":
		return "no enrolled candidate matched"
	case req.Match.SpoofSuspected:
		return "liveness score below spoofing threshold"
	case req.Match.Confidence < sm.threshold:
		return "confidence below similarity threshold"
	}
	return ""
}

// RecordTimeout records a rejected check-in for a probe whose match
// timed out. Audit completeness requires the failed presentation to
// leave a trace rather than being dropped.
func (sm *StateMachine) RecordTimeout(ctx context.Context, sessionID, requestID string, method database.CheckInMethod, deviceInfo string, location *database.GeoPoint) (*database.CheckIn, error) {
	c := &database.CheckIn{
		ID:          uuid.NewString(),
		RequestID:   requestID,
		SessionID:   sessionID,
		Method:      method,
		Status:      database.StatusRejected,
		Reason:      match.ErrMatchTimeout.Error(),
		DeviceInfo:  deviceInfo,
		Location:    location,
		CheckedInAt: time.Now(),
	}
	if err := sm.db.Insert(ctx, c); err != nil {
		return nil, fmt.Errorf("insert timed-out check-in: %w", err)
	}
	return c, nil
}

// CheckOut stamps the check-out time. Idempotent: a second call returns
// the original timestamp unchanged.
func (sm *StateMachine) CheckOut(ctx context.Context, id string) (*database.CheckIn, error) {
	existing, err := sm.db.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get check-in: %w", err)
	}
	if existing == nil {
		return nil, ErrNotFound
	}

	c, err := sm.db.SetCheckedOut(ctx, id, time.Now())
	if err != nil {
		return nil, fmt.Errorf("set checked out: %w", err)
	}
	return c, nil
}

// Get returns a check-in by id.
func (sm *StateMachine) Get(ctx context.Context, id string) (*database.CheckIn, error) {
	c, err := sm.db.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get check-in: %w", err)
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

// Review applies a manual moderation decision to a pending or
// suspicious check-in. Accepting a below-threshold match leaves a
// LOW_CONFIDENCE report in the log.
func (sm *StateMachine) Review(ctx context.Context, id, reviewerID string, approve bool) (*database.CheckIn, error) {
	c, err := sm.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != database.StatusPending && c.Status != database.StatusSuspicious {
		return nil, fmt.Errorf("%w: status %s", ErrNotReviewable, c.Status)
	}

	status := database.StatusRejected
	reason := fmt.Sprintf("rejected by %s", reviewerID)
	if approve {
		status = database.StatusVerified
		reason = fmt.Sprintf("verified by %s", reviewerID)
	}
	if err := sm.db.UpdateStatus(ctx, id, status, reason); err != nil {
		return nil, fmt.Errorf("update check-in status: %w", err)
	}

	if approve && c.Confidence > 0 && c.Confidence < sm.threshold {
		sm.report(ctx, c, database.AnomalyLowConfidence,
			fmt.Sprintf("manual override accepted confidence %.2f below threshold %.2f", c.Confidence, sm.threshold))
	}

	c.Status = status
	c.Reason = reason
	return c, nil
}

// report logs a detector failure instead of failing the check-in; the
// anomaly log is advisory.
func (sm *StateMachine) report(ctx context.Context, c *database.CheckIn, kind database.AnomalyKind, detail string) {
	_, err := sm.detector.Report(ctx, anomaly.ReportRequest{
		OwnerID:   c.OwnerID,
		SessionID: c.SessionID,
		CheckInID: c.ID,
		Kind:      kind,
		Detail:    detail,
	})
	if err != nil {
		log.Printf("checkin: anomaly report failed: %v", err)
	}
}
