package config

import (
	"testing"
	"time"

	"github.com/congregio/checkin-engine/internal/constants"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Matching.SimilarityThreshold != constants.DefaultSimilarityThreshold {
		t.Errorf("expected default similarity threshold, got %f", cfg.Matching.SimilarityThreshold)
	}
	if cfg.Matching.DescriptorDim != constants.DefaultDescriptorDim {
		t.Errorf("expected default descriptor dim, got %d", cfg.Matching.DescriptorDim)
	}
	if cfg.CheckIn.RapidWindow != constants.DefaultRapidCheckinWindow {
		t.Errorf("expected default rapid window, got %s", cfg.CheckIn.RapidWindow)
	}
	if cfg.Anomaly.LocationDistanceKm != constants.DefaultLocationDistanceKm {
		t.Errorf("expected default location distance, got %f", cfg.Anomaly.LocationDistanceKm)
	}
	if cfg.Consent.CacheTTL != constants.DefaultConsentCacheTTL {
		t.Errorf("expected default consent cache TTL, got %s", cfg.Consent.CacheTTL)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected 25 max open conns, got %d", cfg.Database.MaxOpenConns)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SIMILARITY_THRESHOLD", "0.75")
	t.Setenv("SPOOFING_THRESHOLD", "0.9")
	t.Setenv("DESCRIPTOR_DIM", "512")
	t.Setenv("RAPID_CHECKIN_WINDOW", "1m")
	t.Setenv("LOCATION_DISTANCE_KM", "120")
	t.Setenv("DATABASE_URL", "postgres://localhost/checkin")
	t.Setenv("DEVICE_TOKEN", "secret")

	cfg := Load()

	if cfg.Matching.SimilarityThreshold != 0.75 {
		t.Errorf("expected 0.75, got %f", cfg.Matching.SimilarityThreshold)
	}
	if cfg.Matching.SpoofingThreshold != 0.9 {
		t.Errorf("expected 0.9, got %f", cfg.Matching.SpoofingThreshold)
	}
	if cfg.Matching.DescriptorDim != 512 {
		t.Errorf("expected 512, got %d", cfg.Matching.DescriptorDim)
	}
	if cfg.CheckIn.RapidWindow != time.Minute {
		t.Errorf("expected 1m, got %s", cfg.CheckIn.RapidWindow)
	}
	if cfg.Anomaly.LocationDistanceKm != 120 {
		t.Errorf("expected 120, got %f", cfg.Anomaly.LocationDistanceKm)
	}
	if cfg.Database.URL != "postgres://localhost/checkin" {
		t.Errorf("unexpected database URL %q", cfg.Database.URL)
	}
	if cfg.Web.DeviceToken != "secret" {
		t.Errorf("unexpected device token %q", cfg.Web.DeviceToken)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SIMILARITY_THRESHOLD", "not-a-number")
	t.Setenv("SPOOFING_THRESHOLD", "1.5")
	t.Setenv("DESCRIPTOR_DIM", "-4")
	t.Setenv("RAPID_CHECKIN_WINDOW", "soon")
	t.Setenv("LOCATION_DISTANCE_KM", "0")

	cfg := Load()

	if cfg.Matching.SimilarityThreshold != constants.DefaultSimilarityThreshold {
		t.Errorf("expected fallback for invalid threshold, got %f", cfg.Matching.SimilarityThreshold)
	}
	if cfg.Matching.SpoofingThreshold != constants.DefaultSpoofingThreshold {
		t.Errorf("expected fallback for out-of-range threshold, got %f", cfg.Matching.SpoofingThreshold)
	}
	if cfg.Matching.DescriptorDim != constants.DefaultDescriptorDim {
		t.Errorf("expected fallback for negative dim, got %d", cfg.Matching.DescriptorDim)
	}
	if cfg.CheckIn.RapidWindow != constants.DefaultRapidCheckinWindow {
		t.Errorf("expected fallback for invalid duration, got %s", cfg.CheckIn.RapidWindow)
	}
	if cfg.Anomaly.LocationDistanceKm != constants.DefaultLocationDistanceKm {
		t.Errorf("expected fallback for zero distance, got %f", cfg.Anomaly.LocationDistanceKm)
	}
}
