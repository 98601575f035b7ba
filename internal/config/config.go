package config

import (
	"os"
	"strconv"
	"time"

	"github.com/congregio/checkin-engine/internal/constants"
)

// Config carries all runtime configuration. It is built once at startup
// and passed into component constructors; components never read the
// environment themselves, so tests can vary thresholds per case.
type Config struct {
	Matching MatchingConfig
	CheckIn  CheckInConfig
	Anomaly  AnomalyConfig
	Consent  ConsentConfig
	Database DatabaseConfig
	Web      WebConfig
}

// MatchingConfig controls the match engine.
type MatchingConfig struct {
	SimilarityThreshold float64       // minimum cosine similarity for attribution
	SpoofingThreshold   float64       // minimum liveness score
	MinQuality          float64       // minimum descriptor quality at enrollment
	DescriptorDim       int           // fixed descriptor vector length
	MatchTimeout        time.Duration // bound on a single candidate scan
}

// CheckInConfig controls the check-in state machine.
type CheckInConfig struct {
	RapidWindow time.Duration // duplicate-detection window per (owner, session)
}

// AnomalyConfig controls the anomaly detector.
type AnomalyConfig struct {
	LocationDistanceKm float64       // unusual-location distance bound
	LocationWindow     time.Duration // unusual-location history window
}

// ConsentConfig controls the consent ledger.
type ConsentConfig struct {
	CacheTTL time.Duration // bounded staleness for cached consent answers
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // maximum open connections (default 25)
	MaxIdleConns  int    // maximum idle connections (default 5)
	HNSWIndexPath string // path to persist the descriptor index (optional)
}

// WebConfig holds HTTP server settings.
type WebConfig struct {
	DeviceToken string // shared token capture devices present; empty disables auth
}

// envInt reads an environment variable and parses it as a positive
// integer. Returns the default value if unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float in (0, 1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration string.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// Load builds a Config from the environment, falling back to the
// defaults in the constants package.
func Load() *Config {
	return &Config{
		Matching: MatchingConfig{
			SimilarityThreshold: envFloat("SIMILARITY_THRESHOLD", constants.DefaultSimilarityThreshold),
			SpoofingThreshold:   envFloat("SPOOFING_THRESHOLD", constants.DefaultSpoofingThreshold),
			MinQuality:          envFloat("DESCRIPTOR_MIN_QUALITY", constants.DefaultMinQuality),
			DescriptorDim:       envInt("DESCRIPTOR_DIM", constants.DefaultDescriptorDim),
			MatchTimeout:        envDuration("MATCH_TIMEOUT", constants.DefaultMatchTimeout),
		},
		CheckIn: CheckInConfig{
			RapidWindow: envDuration("RAPID_CHECKIN_WINDOW", constants.DefaultRapidCheckinWindow),
		},
		Anomaly: AnomalyConfig{
			LocationDistanceKm: locationKm(),
			LocationWindow:     envDuration("LOCATION_WINDOW", constants.DefaultLocationWindow),
		},
		Consent: ConsentConfig{
			CacheTTL: envDuration("CONSENT_CACHE_TTL", constants.DefaultConsentCacheTTL),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Web: WebConfig{
			DeviceToken: os.Getenv("DEVICE_TOKEN"),
		},
	}
}

// locationKm reads the unusual-location bound; unlike the threshold
// floats it is not limited to (0, 1].
func locationKm() float64 {
	s := os.Getenv("LOCATION_DISTANCE_KM")
	if s == "" {
		return constants.DefaultLocationDistanceKm
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return constants.DefaultLocationDistanceKm
}
