// Package mock provides in-memory implementations of the database
// interfaces for testing.
package mock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/congregio/checkin-engine/internal/database"
)

// DescriptorStore is an in-memory database.DescriptorStore.
type DescriptorStore struct {
	mu          sync.RWMutex
	descriptors map[string]*database.StoredDescriptor

	// Error injection
	InsertError  error
	ListAllError error
}

// NewDescriptorStore creates an empty in-memory descriptor store.
func NewDescriptorStore() *DescriptorStore {
	return &DescriptorStore{descriptors: make(map[string]*database.StoredDescriptor)}
}

// Insert stores a new descriptor.
func (s *DescriptorStore) Insert(ctx context.Context, d *database.StoredDescriptor) error {
	if s.InsertError != nil {
		return s.InsertError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	cp.Vector = append([]float32(nil), d.Vector...)
	s.descriptors[d.ID] = &cp
	return nil
}

// Get retrieves a descriptor by id.
func (s *DescriptorStore) Get(ctx context.Context, id string) (*database.StoredDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.descriptors[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

// ListByOwner returns all descriptors held by an owner, oldest first.
func (s *DescriptorStore) ListByOwner(ctx context.Context, ownerID string) ([]database.StoredDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.StoredDescriptor
	for _, d := range s.descriptors {
		if d.OwnerID == ownerID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListAll returns descriptors in scope.
func (s *DescriptorStore) ListAll(ctx context.Context, scope database.DescriptorScope) ([]database.StoredDescriptor, error) {
	if s.ListAllError != nil {
		return nil, s.ListAllError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ownerSet map[string]struct{}
	if len(scope.OwnerIDs) > 0 {
		ownerSet = make(map[string]struct{}, len(scope.OwnerIDs))
		for _, id := range scope.OwnerIDs {
			ownerSet[id] = struct{}{}
		}
	}

	var out []database.StoredDescriptor
	for _, d := range s.descriptors {
		if ownerSet != nil {
			if _, ok := ownerSet[d.OwnerID]; !ok {
				continue
			}
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountByOwner returns the number of descriptors held by an owner.
func (s *DescriptorStore) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, d := range s.descriptors {
		if d.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

// SetPrimary marks the descriptor primary and demotes the previous one.
func (s *DescriptorStore) SetPrimary(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.descriptors[id]
	if !ok {
		return errors.New("descriptor not found")
	}
	for _, d := range s.descriptors {
		if d.OwnerID == target.OwnerID && d.IsPrimary {
			d.IsPrimary = false
			d.UpdatedAt = time.Now()
		}
	}
	target.IsPrimary = true
	target.UpdatedAt = time.Now()
	return nil
}

// Replace overwrites a descriptor in full.
func (s *DescriptorStore) Replace(ctx context.Context, d *database.StoredDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.descriptors[d.ID]; !ok {
		return errors.New("descriptor not found")
	}
	cp := *d
	cp.Vector = append([]float32(nil), d.Vector...)
	s.descriptors[d.ID] = &cp
	return nil
}

// Delete removes a descriptor.
func (s *DescriptorStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.descriptors, id)
	return nil
}

// ConsentStore is an in-memory database.ConsentStore.
type ConsentStore struct {
	mu      sync.RWMutex
	records []database.ConsentRecord

	AppendError error
}

// NewConsentStore creates an empty in-memory consent store.
func NewConsentStore() *ConsentStore {
	return &ConsentStore{}
}

// Append adds a consent record.
func (s *ConsentStore) Append(ctx context.Context, rec *database.ConsentRecord) error {
	if s.AppendError != nil {
		return s.AppendError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

// Latest returns the most recent record for (owner, type).
func (s *ConsentStore) Latest(ctx context.Context, ownerID string, t database.ConsentType) (*database.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *database.ConsentRecord
	for i := range s.records {
		r := &s.records[i]
		if r.OwnerID != ownerID || r.Type != t {
			continue
		}
		if latest == nil || r.RecordedAt.After(latest.RecordedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// History returns all records for an owner, newest first.
func (s *ConsentStore) History(ctx context.Context, ownerID string) ([]database.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.ConsentRecord
	for _, r := range s.records {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	return out, nil
}

// SessionStore is an in-memory database.SessionStore.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*database.AttendanceSession
}

// NewSessionStore creates an empty in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*database.AttendanceSession)}
}

// Insert stores a session.
func (s *SessionStore) Insert(ctx context.Context, sess *database.AttendanceSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// Get retrieves a session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (*database.AttendanceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

// UpdateStatus transitions a session conditionally on its current status.
func (s *SessionStore) UpdateStatus(ctx context.Context, id string, from, to database.SessionStatus, endedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false, errors.New("session not found")
	}
	if sess.Status != from {
		return false, nil
	}
	sess.Status = to
	if endedAt != nil {
		sess.EndsAt = endedAt
	}
	return true, nil
}

// ListByStatus returns sessions in the given status.
func (s *SessionStore) ListByStatus(ctx context.Context, status database.SessionStatus, onlineOnly bool, location string) ([]database.AttendanceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.AttendanceSession
	for _, sess := range s.sessions {
		if sess.Status != status {
			continue
		}
		if onlineOnly && !sess.Online {
			continue
		}
		if location != "" && sess.Location != location {
			continue
		}
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// CheckInStore is an in-memory database.CheckInStore.
type CheckInStore struct {
	mu       sync.RWMutex
	checkins map[string]*database.CheckIn

	InsertError error
}

// NewCheckInStore creates an empty in-memory check-in store.
func NewCheckInStore() *CheckInStore {
	return &CheckInStore{checkins: make(map[string]*database.CheckIn)}
}

// Insert stores a check-in.
func (s *CheckInStore) Insert(ctx context.Context, c *database.CheckIn) error {
	if s.InsertError != nil {
		return s.InsertError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.checkins[c.ID] = &cp
	return nil
}

// Get retrieves a check-in by id.
func (s *CheckInStore) Get(ctx context.Context, id string) (*database.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checkins[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// GetByRequestID returns the check-in recorded for an idempotency key.
func (s *CheckInStore) GetByRequestID(ctx context.Context, requestID string) (*database.CheckIn, error) {
	if requestID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.checkins {
		if c.RequestID == requestID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

// ActiveForOwner returns the active check-in for (owner, session).
func (s *CheckInStore) ActiveForOwner(ctx context.Context, ownerID, sessionID string) (*database.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.checkins {
		if c.OwnerID == ownerID && c.SessionID == sessionID && c.CheckedOutAt == nil {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

// ActiveForOwnerAnySession returns all active check-ins for an owner.
func (s *CheckInStore) ActiveForOwnerAnySession(ctx context.Context, ownerID string) ([]database.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.CheckIn
	for _, c := range s.checkins {
		if c.OwnerID == ownerID && c.CheckedOutAt == nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

// ListBySession returns check-ins for a session, newest first.
func (s *CheckInStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]database.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.CheckIn
	for _, c := range s.checkins {
		if c.SessionID == sessionID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckedInAt.After(out[j].CheckedInAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecentForOwner returns an owner's check-ins since the given time.
func (s *CheckInStore) RecentForOwner(ctx context.Context, ownerID string, since time.Time) ([]database.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.CheckIn
	for _, c := range s.checkins {
		if c.OwnerID == ownerID && c.CheckedInAt.After(since) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckedInAt.After(out[j].CheckedInAt) })
	return out, nil
}

// CountPriorForOwner counts check-ins recorded before the given time.
func (s *CheckInStore) CountPriorForOwner(ctx context.Context, ownerID string, before time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, c := range s.checkins {
		if c.OwnerID == ownerID && c.CheckedInAt.Before(before) {
			count++
		}
	}
	return count, nil
}

// SetCheckedOut sets the check-out time if unset, returning the stored row.
func (s *CheckInStore) SetCheckedOut(ctx context.Context, id string, at time.Time) (*database.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkins[id]
	if !ok {
		return nil, errors.New("check-in not found")
	}
	if c.CheckedOutAt == nil {
		t := at
		c.CheckedOutAt = &t
	}
	cp := *c
	return &cp, nil
}

// UpdateStatus overwrites the verification status and reason.
func (s *CheckInStore) UpdateStatus(ctx context.Context, id string, status database.VerificationStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkins[id]
	if !ok {
		return errors.New("check-in not found")
	}
	c.Status = status
	c.Reason = reason
	return nil
}

// AnomalyStore is an in-memory database.AnomalyStore.
type AnomalyStore struct {
	mu      sync.RWMutex
	reports map[string]*database.AnomalyReport
	order   []string

	InsertError error
}

// NewAnomalyStore creates an empty in-memory anomaly store.
func NewAnomalyStore() *AnomalyStore {
	return &AnomalyStore{reports: make(map[string]*database.AnomalyReport)}
}

// Insert appends a report to the log.
func (s *AnomalyStore) Insert(ctx context.Context, r *database.AnomalyReport) error {
	if s.InsertError != nil {
		return s.InsertError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reports[r.ID] = &cp
	s.order = append(s.order, r.ID)
	return nil
}

// Get retrieves a report by id.
func (s *AnomalyStore) Get(ctx context.Context, id string) (*database.AnomalyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// List returns reports matching the filter, newest first.
func (s *AnomalyStore) List(ctx context.Context, filter database.AnomalyFilter) ([]database.AnomalyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []database.AnomalyReport
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.reports[s.order[i]]
		if filter.OwnerID != "" && r.OwnerID != filter.OwnerID {
			continue
		}
		if filter.SessionID != "" && r.SessionID != filter.SessionID {
			continue
		}
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		if filter.Severity != "" && r.Severity != filter.Severity {
			continue
		}
		if filter.Unresolved && r.Resolved {
			continue
		}
		matched = append(matched, *r)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// MarkResolved sets the resolution fields on a report.
func (s *AnomalyStore) MarkResolved(ctx context.Context, id, resolvedBy, resolution string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return errors.New("anomaly report not found")
	}
	r.Resolved = true
	r.ResolvedBy = resolvedBy
	r.Resolution = resolution
	t := at
	r.ResolvedAt = &t
	return nil
}

// Count returns the total number of reports in the log.
func (s *AnomalyStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

// CertificateStore is an in-memory database.CertificateStore.
type CertificateStore struct {
	mu        sync.RWMutex
	byCheckIn map[string]*database.PresenceCertificate
}

// NewCertificateStore creates an empty in-memory certificate store.
func NewCertificateStore() *CertificateStore {
	return &CertificateStore{byCheckIn: make(map[string]*database.PresenceCertificate)}
}

// Insert stores a certificate, enforcing one per check-in.
func (s *CertificateStore) Insert(ctx context.Context, c *database.PresenceCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCheckIn[c.CheckInID]; ok {
		return database.ErrDuplicateCertificate
	}
	cp := *c
	s.byCheckIn[c.CheckInID] = &cp
	return nil
}

// GetByCheckIn returns the certificate for a check-in.
func (s *CertificateStore) GetByCheckIn(ctx context.Context, checkInID string) (*database.PresenceCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byCheckIn[checkInID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}
