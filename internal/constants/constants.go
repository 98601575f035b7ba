// Package constants provides shared default values used across the
// codebase. Runtime values live in config.Config; these are the defaults
// the loader falls back to.
package constants

import "time"

// Matching defaults.
const (
	// DefaultSimilarityThreshold is the minimum cosine similarity for a
	// probe to be attributed to an enrolled owner.
	DefaultSimilarityThreshold = 0.6

	// DefaultSpoofingThreshold is the minimum liveness score below which
	// a probe is flagged as a possible spoof.
	DefaultSpoofingThreshold = 0.85

	// DefaultMinQuality is the minimum descriptor quality accepted at
	// enrollment.
	DefaultMinQuality = 0.5

	// DefaultDescriptorDim is the descriptor vector length produced by
	// the external extraction model.
	DefaultDescriptorDim = 128
)

// Check-in defaults.
const (
	// DefaultRapidCheckinWindow is the minimum interval between two
	// check-in attempts for the same (owner, session) pair.
	DefaultRapidCheckinWindow = 30 * time.Second

	// DefaultMatchTimeout bounds a single match against the candidate
	// scope. A timed-out match is recorded as rejected, never dropped.
	DefaultMatchTimeout = 5 * time.Second
)

// Anomaly detection defaults.
const (
	// DefaultLocationDistanceKm is the distance beyond which a check-in
	// location is inconsistent with the owner's recent history.
	DefaultLocationDistanceKm = 50.0

	// DefaultLocationWindow is how far back recent history reaches for
	// the unusual-location heuristic.
	DefaultLocationWindow = 2 * time.Hour
)

// Consent defaults.
const (
	// DefaultConsentCacheTTL bounds how stale a cached "consent active"
	// answer may be. Withdrawal evicts eagerly, so the TTL only covers
	// grants observed by other processes.
	DefaultConsentCacheTTL = 5 * time.Second
)

// Dashboard defaults.
const (
	// DefaultRecentCheckins is how many recent check-ins the live
	// dashboard returns.
	DefaultRecentCheckins = 20
)
