// Package consent records and enforces per-owner consent for biometric
// processing. History is append-only: withdrawal appends a new record
// and never mutates the old one.
package consent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/congregio/checkin-engine/internal/config"
	"github.com/congregio/checkin-engine/internal/database"
)

// ErrConsentMissing means the owner has no active consent of the
// required type. Matching and enrollment fail closed on it.
var ErrConsentMissing = errors.New("no active consent for owner")

// RequestContext captures where a consent decision came from.
type RequestContext struct {
	DeviceInfo string
	IPAddress  string
}

type cacheEntry struct {
	active    bool
	expiresAt time.Time
}

// Ledger is the consent ledger. Reads may be served from a bounded TTL
// cache; withdrawal evicts the owner's entry before returning, so a
// match started after Withdraw returns never sees the stale grant.
type Ledger struct {
	store database.ConsentStore
	ttl   time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry // keyed by owner|type
}

// NewLedger creates a ledger over the given store.
func NewLedger(store database.ConsentStore, cfg config.ConsentConfig) *Ledger {
	return &Ledger{
		store: store,
		ttl:   cfg.CacheTTL,
		cache: make(map[string]cacheEntry),
	}
}

func cacheKey(ownerID string, t database.ConsentType) string {
	return ownerID + "|" + string(t)
}

// Grant appends a granted consent record.
func (l *Ledger) Grant(ctx context.Context, ownerID string, t database.ConsentType, policyVersion string, reqCtx RequestContext) (*database.ConsentRecord, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown consent type %q", t)
	}

	rec := &database.ConsentRecord{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		Type:          t,
		Granted:       true,
		PolicyVersion: policyVersion,
		DeviceInfo:    reqCtx.DeviceInfo,
		IPAddress:     reqCtx.IPAddress,
		RecordedAt:    time.Now(),
	}
	if err := l.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("append consent grant: %w", err)
	}

	l.mu.Lock()
	l.cache[cacheKey(ownerID, t)] = cacheEntry{active: true, expiresAt: time.Now().Add(l.ttl)}
	l.mu.Unlock()

	return rec, nil
}

// Withdraw appends a withdrawal record and evicts the cached answer so
// the next Active call reads the store. Descriptors are not deleted
// here; removal is a separate explicit operation.
func (l *Ledger) Withdraw(ctx context.Context, ownerID string, t database.ConsentType, reqCtx RequestContext) (*database.ConsentRecord, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown consent type %q", t)
	}

	rec := &database.ConsentRecord{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Type:       t,
		Granted:    false,
		DeviceInfo: reqCtx.DeviceInfo,
		IPAddress:  reqCtx.IPAddress,
		RecordedAt: time.Now(),
	}
	if err := l.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("append consent withdrawal: %w", err)
	}

	// Evict before returning: read-after-write visibility for matching.
	l.mu.Lock()
	delete(l.cache, cacheKey(ownerID, t))
	l.mu.Unlock()

	return rec, nil
}

// Active reports whether the owner currently holds granted consent of
// the given type. Answers may be cached up to the configured TTL.
func (l *Ledger) Active(ctx context.Context, ownerID string, t database.ConsentType) (bool, error) {
	key := cacheKey(ownerID, t)

	l.mu.Lock()
	if e, ok := l.cache[key]; ok && time.Now().Before(e.expiresAt) {
		l.mu.Unlock()
		return e.active, nil
	}
	l.mu.Unlock()

	latest, err := l.store.Latest(ctx, ownerID, t)
	if err != nil {
		return false, fmt.Errorf("read latest consent: %w", err)
	}
	active := latest != nil && latest.Granted

	l.mu.Lock()
	l.cache[key] = cacheEntry{active: active, expiresAt: time.Now().Add(l.ttl)}
	l.mu.Unlock()

	return active, nil
}

// Require returns ErrConsentMissing unless the owner holds active
// consent of the given type.
func (l *Ledger) Require(ctx context.Context, ownerID string, t database.ConsentType) error {
	active, err := l.Active(ctx, ownerID, t)
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("%w: owner %s, type %s", ErrConsentMissing, ownerID, t)
	}
	return nil
}

// History returns the owner's full consent history, newest first.
func (l *Ledger) History(ctx context.Context, ownerID string) ([]database.ConsentRecord, error) {
	return l.store.History(ctx, ownerID)
}
