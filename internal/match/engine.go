// Package match computes similarity between a live probe descriptor and
// the enrolled candidate scope, producing the best consented candidate
// with a confidence score and a liveness verdict.
package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/congregio/checkin-engine/internal/config"
	"github.com/congregio/checkin-engine/internal/consent"
	"github.com/congregio/checkin-engine/internal/database"
)

// ErrMatchTimeout means the candidate scan exceeded the configured
// bound. Callers record the outcome as a rejected check-in rather than
// dropping the request.
var ErrMatchTimeout = errors.New("match timed out against candidate scope")

// Probe is a live capture handed to the engine by a camera or online
// client. The vector and liveness score come from the external
// extraction model.
type Probe struct {
	Vector   []float32
	Liveness float64
}

// Result is the outcome of matching a probe. OwnerID and DescriptorID
// are empty when no candidate cleared the similarity threshold.
type Result struct {
	OwnerID        string
	DescriptorID   string
	Confidence     float64 // cosine similarity of the winning candidate, 0 if none
	SpoofSuspected bool    // liveness score below the spoofing threshold
}

// Matched reports whether a candidate cleared the threshold.
func (r Result) Matched() bool { return r.OwnerID != "" }

// Engine matches probes against enrolled descriptors. Candidate reads
// go through the optional HNSW index when built, else a linear scan of
// the store; both paths exclude owners without active biometric consent
// before scoring.
type Engine struct {
	db      database.DescriptorStore
	consent *consent.Ledger
	index   *database.DescriptorIndex // optional

	threshold float64
	spoofing  float64
	timeout   time.Duration
}

// NewEngine creates a match engine. index may be nil.
func NewEngine(db database.DescriptorStore, ledger *consent.Ledger, index *database.DescriptorIndex, cfg config.MatchingConfig) *Engine {
	return &Engine{
		db:        db,
		consent:   ledger,
		index:     index,
		threshold: cfg.SimilarityThreshold,
		spoofing:  cfg.SpoofingThreshold,
		timeout:   cfg.MatchTimeout,
	}
}

// Match scores the probe against every candidate in scope and returns
// the best one if its similarity clears the threshold. Exceeding the
// configured timeout returns ErrMatchTimeout.
func (e *Engine) Match(ctx context.Context, probe Probe, scope database.DescriptorScope) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result := Result{SpoofSuspected: probe.Liveness < e.spoofing}

	candidates, err := e.candidates(ctx, probe.Vector, scope)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return result, ErrMatchTimeout
		}
		return result, err
	}

	best, bestSim, err := e.pickBest(ctx, probe.Vector, candidates)
	if err != nil {
		return result, err
	}
	if best == nil || bestSim < e.threshold {
		return result, nil
	}

	result.OwnerID = best.OwnerID
	result.DescriptorID = best.ID
	result.Confidence = bestSim
	return result, nil
}

// candidates loads the scoped candidate set. The index path over-fetches
// by the search multiplier so consent filtering cannot starve the scan.
func (e *Engine) candidates(ctx context.Context, vector []float32, scope database.DescriptorScope) ([]database.StoredDescriptor, error) {
	if e.index != nil && e.index.Count() > 0 && len(scope.OwnerIDs) == 0 {
		k := database.HNSWMaxNeighbors * database.HNSWSearchMultiplier
		descriptors, _, err := e.index.Search(vector, k)
		if err == nil {
			return descriptors, nil
		}
		// Index unavailable, fall through to the store scan.
	}

	descriptors, err := e.db.ListAll(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return descriptors, nil
}

// pickBest scores candidates and returns the winner. Owners without
// active biometric consent are excluded entirely, not down-weighted.
// Ties within tieEpsilon resolve to the most recently updated
// descriptor so identity attribution is deterministic.
func (e *Engine) pickBest(ctx context.Context, vector []float32, candidates []database.StoredDescriptor) (*database.StoredDescriptor, float64, error) {
	var best *database.StoredDescriptor
	bestSim := -2.0

	consented := make(map[string]bool)

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, 0, ErrMatchTimeout
			}
			return nil, 0, err
		}

		d := &candidates[i]
		allowed, seen := consented[d.OwnerID]
		if !seen {
			active, err := e.consent.Active(ctx, d.OwnerID, database.ConsentBiometric)
			if err != nil {
				return nil, 0, fmt.Errorf("check consent for %s: %w", d.OwnerID, err)
			}
			allowed = active
			consented[d.OwnerID] = active
		}
		if !allowed {
			continue
		}

		sim := database.CosineSimilarity(vector, d.Vector)
		switch {
		case sim > bestSim+tieEpsilon:
			best = d
			bestSim = sim
		case sim > bestSim-tieEpsilon && best != nil && d.UpdatedAt.After(best.UpdatedAt):
			best = d
			if sim > bestSim {
				bestSim = sim
			}
		}
	}

	if best == nil {
		return nil, 0, nil
	}
	return best, bestSim, nil
}

const tieEpsilon = 1e-6
