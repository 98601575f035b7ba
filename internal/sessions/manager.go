// Package sessions tracks attendance-session lifecycle. Transitions are
// monotonic: scheduled→active→completed, with cancellation from
// scheduled or active. Nothing moves backward out of a terminal state.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/congregio/checkin-engine/internal/database"
)

var (
	// ErrInvalidTransition means the requested status change is not a
	// legal session transition.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrNotFound means no session exists with the given id.
	ErrNotFound = errors.New("session not found")
)

// Manager owns the AttendanceSession lifecycle. Status changes go
// through conditional store updates, so a session observed as active at
// the start of a check-in cannot silently flip under the caller.
type Manager struct {
	db database.SessionStore
}

// NewManager creates a session manager over the given store.
func NewManager(db database.SessionStore) *Manager {
	return &Manager{db: db}
}

// CreateRequest describes a new session from the external scheduler or
// a manual admin action.
type CreateRequest struct {
	Name             string
	Kind             database.SessionKind
	StartsAt         time.Time
	Online           bool
	StreamURL        string
	ExpectedCapacity int
	Location         string
}

// Create registers a scheduled session.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*database.AttendanceSession, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("unknown session kind %q", req.Kind)
	}
	if req.StartsAt.IsZero() {
		req.StartsAt = time.Now()
	}

	s := &database.AttendanceSession{
		ID:               uuid.NewString(),
		Name:             req.Name,
		Kind:             req.Kind,
		Status:           database.SessionScheduled,
		StartsAt:         req.StartsAt,
		Online:           req.Online || req.Kind == database.SessionOnline,
		StreamURL:        req.StreamURL,
		ExpectedCapacity: req.ExpectedCapacity,
		Location:         req.Location,
		CreatedAt:        time.Now(),
	}
	if err := m.db.Insert(ctx, s); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, id string) (*database.AttendanceSession, error) {
	s, err := m.db.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		return nil, ErrNotFound
	}
	return s, nil
}

// Start moves a scheduled session to active.
func (m *Manager) Start(ctx context.Context, id string) (*database.AttendanceSession, error) {
	return m.transition(ctx, id, database.SessionActive, nil)
}

// End moves an active session to completed and stamps the end time.
func (m *Manager) End(ctx context.Context, id string) (*database.AttendanceSession, error) {
	now := time.Now()
	return m.transition(ctx, id, database.SessionCompleted, &now)
}

// Cancel cancels a scheduled or active session.
func (m *Manager) Cancel(ctx context.Context, id string) (*database.AttendanceSession, error) {
	now := time.Now()
	return m.transition(ctx, id, database.SessionCancelled, &now)
}

// transition performs one legal FSM step as a conditional update keyed
// on the current status. A concurrent transition loses the race and
// fails with ErrInvalidTransition rather than overwriting.
func (m *Manager) transition(ctx context.Context, id string, to database.SessionStatus, endedAt *time.Time) (*database.AttendanceSession, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.Status, to)
	}

	ok, err := m.db.UpdateStatus(ctx, id, s.Status, to, endedAt)
	if err != nil {
		return nil, fmt.Errorf("update session status: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: session %s changed concurrently", ErrInvalidTransition, id)
	}

	s.Status = to
	if endedAt != nil {
		s.EndsAt = endedAt
	}
	return s, nil
}

// ListActive returns sessions currently accepting check-ins, which is
// exactly the active status: scheduled, completed and cancelled
// sessions are excluded.
func (m *Manager) ListActive(ctx context.Context, onlineOnly bool, location string) ([]database.AttendanceSession, error) {
	return m.db.ListByStatus(ctx, database.SessionActive, onlineOnly, location)
}

// Accepting reports whether the session accepts check-ins right now.
func (m *Manager) Accepting(ctx context.Context, id string) (bool, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return s.Status == database.SessionActive, nil
}
