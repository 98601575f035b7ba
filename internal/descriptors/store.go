// Package descriptors owns enrolled face descriptors: enrollment with
// capacity and quality gates, primary selection, and candidate listing
// for the match engine.
package descriptors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/congregio/checkin-engine/internal/config"
	"github.com/congregio/checkin-engine/internal/consent"
	"github.com/congregio/checkin-engine/internal/database"
)

// Enrollment errors surfaced directly to the caller.
var (
	// ErrCapacityExceeded means the owner already holds the maximum
	// number of descriptors.
	ErrCapacityExceeded = errors.New("descriptor capacity exceeded for owner")

	// ErrLowQuality means the descriptor quality is below the configured
	// minimum. The engine never stores descriptors it cannot trust for
	// later matching.
	ErrLowQuality = errors.New("descriptor quality below minimum")

	// ErrDimensionMismatch means the vector length differs from the
	// system-wide descriptor dimension.
	ErrDimensionMismatch = errors.New("descriptor vector has wrong dimension")

	// ErrNotFound means no descriptor exists with the given id.
	ErrNotFound = errors.New("descriptor not found")
)

// Store is the descriptor enrollment service.
type Store struct {
	db      database.DescriptorStore
	consent *consent.Ledger
	index   *database.DescriptorIndex // optional, kept in sync when set

	minQuality float64
	dim        int
}

// NewStore creates a descriptor store service. index may be nil; when
// set, enroll/remove keep it in sync.
func NewStore(db database.DescriptorStore, ledger *consent.Ledger, index *database.DescriptorIndex, cfg config.MatchingConfig) *Store {
	return &Store{
		db:         db,
		consent:    ledger,
		index:      index,
		minQuality: cfg.MinQuality,
		dim:        cfg.DescriptorDim,
	}
}

// EnrollRequest carries the descriptor-capture payload for enrollment.
type EnrollRequest struct {
	OwnerID     string
	Vector      []float32
	Quality     float64
	FamilyLabel string
	PhotoRef    string
}

// Enroll stores a new descriptor for the owner. The owner must hold
// active biometric consent; the first descriptor for an owner becomes
// primary automatically.
func (s *Store) Enroll(ctx context.Context, req EnrollRequest) (*database.StoredDescriptor, error) {
	if len(req.Vector) != s.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(req.Vector), s.dim)
	}
	if req.Quality < s.minQuality {
		return nil, fmt.Errorf("%w: %.2f < %.2f", ErrLowQuality, req.Quality, s.minQuality)
	}
	if err := s.consent.Require(ctx, req.OwnerID, database.ConsentBiometric); err != nil {
		return nil, err
	}

	count, err := s.db.CountByOwner(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("count descriptors: %w", err)
	}
	if count >= database.MaxFamilyFaces {
		return nil, fmt.Errorf("%w: %d descriptors stored", ErrCapacityExceeded, count)
	}

	now := time.Now()
	d := &database.StoredDescriptor{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		Vector:      req.Vector,
		Dim:         s.dim,
		Quality:     req.Quality,
		IsPrimary:   count == 0,
		FamilyLabel: req.FamilyLabel,
		PhotoRef:    req.PhotoRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.Insert(ctx, d); err != nil {
		return nil, fmt.Errorf("insert descriptor: %w", err)
	}
	if s.index != nil {
		s.index.Add(d)
	}
	return d, nil
}

// SetPrimary marks a descriptor primary, atomically demoting the
// owner's previous primary.
func (s *Store) SetPrimary(ctx context.Context, id string) error {
	d, err := s.db.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get descriptor: %w", err)
	}
	if d == nil {
		return ErrNotFound
	}
	if err := s.db.SetPrimary(ctx, id); err != nil {
		return fmt.Errorf("set primary: %w", err)
	}
	return nil
}

// Replace overwrites a descriptor's vector and quality in full.
// Partial-vector edits are not supported anywhere in the engine.
func (s *Store) Replace(ctx context.Context, id string, vector []float32, quality float64) (*database.StoredDescriptor, error) {
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dim)
	}
	if quality < s.minQuality {
		return nil, fmt.Errorf("%w: %.2f < %.2f", ErrLowQuality, quality, s.minQuality)
	}

	d, err := s.db.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get descriptor: %w", err)
	}
	if d == nil {
		return nil, ErrNotFound
	}

	d.Vector = vector
	d.Quality = quality
	d.UpdatedAt = time.Now()
	if err := s.db.Replace(ctx, d); err != nil {
		return nil, fmt.Errorf("replace descriptor: %w", err)
	}
	if s.index != nil {
		s.index.Add(d)
	}
	return d, nil
}

// Remove deletes a descriptor, on user request or after consent
// withdrawal. Withdrawal alone never triggers this automatically.
func (s *Store) Remove(ctx context.Context, id string) error {
	d, err := s.db.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get descriptor: %w", err)
	}
	if d == nil {
		return ErrNotFound
	}
	if err := s.db.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete descriptor: %w", err)
	}
	if s.index != nil {
		s.index.Remove(id)
	}
	return nil
}

// ListByOwner returns the owner's descriptors.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]database.StoredDescriptor, error) {
	return s.db.ListByOwner(ctx, ownerID)
}
