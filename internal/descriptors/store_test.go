package descriptors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/congregio/checkin-engine/internal/config"
	"github.com/congregio/checkin-engine/internal/consent"
	"github.com/congregio/checkin-engine/internal/database"
	"github.com/congregio/checkin-engine/internal/database/mock"
)

const testDim = 128

func testVector(seed float32) []float32 {
	v := make([]float32, testDim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func newTestStore(t *testing.T) (*Store, *mock.DescriptorStore, *consent.Ledger) {
	t.Helper()
	db := mock.NewDescriptorStore()
	ledger := consent.NewLedger(mock.NewConsentStore(), config.ConsentConfig{CacheTTL: time.Second})
	cfg := config.MatchingConfig{MinQuality: 0.5, DescriptorDim: testDim}
	return NewStore(db, ledger, nil, cfg), db, ledger
}

func grantBiometric(t *testing.T, ledger *consent.Ledger, ownerID string) {
	t.Helper()
	if _, err := ledger.Grant(context.Background(), ownerID, database.ConsentBiometric, "v1", consent.RequestContext{}); err != nil {
		t.Fatalf("granting consent: %v", err)
	}
}

func TestEnroll_FirstDescriptorBecomesPrimary(t *testing.T) {
	store, _, ledger := newTestStore(t)
	grantBiometric(t, ledger, "owner-1")

	d, err := store.Enroll(context.Background(), EnrollRequest{
		OwnerID: "owner-1",
		Vector:  testVector(0.1),
		Quality: 0.9,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.IsPrimary {
		t.Error("expected first descriptor to be primary")
	}
	if d.ID == "" {
		t.Error("expected a generated descriptor id")
	}
}

func TestEnroll_SecondDescriptorNotPrimary(t *testing.T) {
	store, _, ledger := newTestStore(t)
	grantBiometric(t, ledger, "owner-1")

	ctx := context.Background()
	if _, err := store.Enroll(ctx, EnrollRequest{OwnerID: "owner-1", Vector: testVector(0.1), Quality: 0.9}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := store.Enroll(ctx, EnrollRequest{OwnerID: "owner-1", Vector: testVector(0.2), Quality: 0.8, FamilyLabel: "spouse"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.IsPrimary {
		t.Error("expected second descriptor not to be primary")
	}
}

func TestEnroll_RejectsWrongDimension(t *testing.T) {
	store, _, ledger := newTestStore(t)
	grantBiometric(t, ledger, "owner-1")

	_, err := store.Enroll(context.Background(), EnrollRequest{
		OwnerID: "owner-1",
		Vector:  []float32{1, 2, 3},
		Quality: 0.9,
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEnroll_RejectsLowQuality(t *testing.T) {
	store, _, ledger := newTestStore(t)
	grantBiometric(t, ledger, "owner-1")

	_, err := store.Enroll(context.Background(), EnrollRequest{
		OwnerID: "owner-1",
		Vector:  testVector(0.1),
		Quality: 0.3,
	})
	if !errors.Is(err, ErrLowQuality) {
		t.Errorf("expected ErrLowQuality, got %v", err)
	}
}

func TestEnroll_RejectsWithoutConsent(t *testing.T) {
	store, db, _ := newTestStore(t)

	_, err := store.Enroll(context.Background(), EnrollRequest{
		OwnerID: "owner-1",
		Vector:  testVector(0.1),
		Quality: 0.9,
	})
	if !errors.Is(err, consent.ErrConsentMissing) {
		t.Errorf("expected ErrConsentMissing, got %v", err)
	}

	count, _ := db.CountByOwner(context.Background(), "owner-1")
	if count != 0 {
		t.Errorf("expected nothing stored without consent, got %d descriptors", count)
	}
}

func TestEnroll_EnforcesCapacity(t *testing.T) {
	store, _, ledger := newTestStore(t)
	grantBiometric(t, ledger, "owner-1")

	ctx := context.Background()
	for i := 0; i < database.MaxFamilyFaces; i++ {
		label := fmt.Sprintf("member-%d", i)
		if _, err := store.Enroll(ctx, EnrollRequest{OwnerID: "owner-1", Vector: testVector(float32(i)), Quality: 0.9, FamilyLabel: label}); err != nil {
			t.Fatalf("enrollment %d failed: %v", i, err)
		}
	}

	_, err := store.Enroll(ctx, EnrollRequest{OwnerID: "owner-1", Vector: testVector(99), Quality: 0.9})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded after %d enrollments, got %v", database.MaxFamilyFaces, err)
	}
}

func TestEnroll_KeepsIndexInSync(t *testing.T) {
	db := mock.NewDescriptorStore()
	ledger := consent.NewLedger(mock.NewConsentStore(), config.ConsentConfig{CacheTTL: time.Second})
	index := database.NewDescriptorIndex()
	store := NewStore(db, ledger, index, config.MatchingConfig{MinQuality: 0.5, DescriptorDim: testDim})
	grantBiometric(t, ledger, "owner-1")

	d, err := store.Enroll(context.Background(), EnrollRequest{OwnerID: "owner-1", Vector: testVector(0.1), Quality: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if index.Count() != 1 {
		t.Errorf("expected 1 indexed descriptor, got %d", index.Count())
	}

	if err := store.Remove(context.Background(), d.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if index.Count() != 0 {
		t.Errorf("expected empty index after removal, got %d", index.Count())
	}
}

func TestSetPrimary_UnknownDescriptor(t *testing.T) {
	store, _, _ := newTestStore(t)

	err := store.SetPrimary(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetPrimary_DemotesPrevious(t *testing.T) {
	store, db, ledger := newTestStore(t)
	grantBiometric(t, ledger, "owner-1")

	ctx := context.Background()
	first, _ := store.Enroll(ctx, EnrollRequest{OwnerID: "owner-1", Vector: testVector(0.1), Quality: 0.9})
	second, _ := store.Enroll(ctx, EnrollRequest{OwnerID: "owner-1", Vector: testVector(0.2), Quality: 0.9})

	if err := store.SetPrimary(ctx, second.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all, _ := db.ListByOwner(ctx, "owner-1")
	for _, d := range all {
		switch d.ID {
		case first.ID:
			if d.IsPrimary {
				t.Error("expected previous primary to be demoted")
			}
		case second.ID:
			if !d.IsPrimary {
				t.Error("expected new descriptor to be primary")
			}
		}
	}
}

func TestReplace_OverwritesVectorAndQuality(t *testing.T) {
	store, db, ledger := newTestStore(t)
	grantBiometric(t, ledger, "owner-1")

	ctx := context.Background()
	d, _ := store.Enroll(ctx, EnrollRequest{OwnerID: "owner-1", Vector: testVector(0.1), Quality: 0.6})

	updated, err := store.Replace(ctx, d.ID, testVector(0.5), 0.95)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Quality != 0.95 {
		t.Errorf("expected quality 0.95, got %f", updated.Quality)
	}

	stored, _ := db.Get(ctx, d.ID)
	if stored.Vector[0] != testVector(0.5)[0] {
		t.Error("expected vector to be replaced in the store")
	}
}

func TestReplace_GatesApplyToReplacement(t *testing.T) {
	store, _, ledger := newTestStore(t)
	grantBiometric(t, ledger, "owner-1")

	ctx := context.Background()
	d, _ := store.Enroll(ctx, EnrollRequest{OwnerID: "owner-1", Vector: testVector(0.1), Quality: 0.9})

	if _, err := store.Replace(ctx, d.ID, []float32{1}, 0.9); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := store.Replace(ctx, d.ID, testVector(0.2), 0.1); !errors.Is(err, ErrLowQuality) {
		t.Errorf("expected ErrLowQuality, got %v", err)
	}
}

func TestRemove_UnknownDescriptor(t *testing.T) {
	store, _, _ := newTestStore(t)

	err := store.Remove(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
