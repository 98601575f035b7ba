// Package anomaly inspects the check-in stream for fraud and
// duplication patterns and keeps the append-only report log. Reports
// are advisory: they flag a check-in for review but never block one
// retroactively.
package anomaly

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/congregio/checkin-engine/internal/config"
	"github.com/congregio/checkin-engine/internal/database"
)

//go:embed severity.yaml
var severityYAML []byte

// ErrNotFound means no report exists with the given id.
var ErrNotFound = errors.New("anomaly report not found")

type severityPolicy struct {
	Kinds map[string]string `yaml:"kinds"`
}

// loadSeverities parses the embedded policy table mapping anomaly kinds
// to severities.
func loadSeverities() map[database.AnomalyKind]database.AnomalySeverity {
	var policy severityPolicy
	if err := yaml.Unmarshal(severityYAML, &policy); err != nil {
		// Embedded file, cannot happen in practice.
		panic("failed to unmarshal embedded severity.yaml: " + err.Error())
	}
	out := make(map[database.AnomalyKind]database.AnomalySeverity, len(policy.Kinds))
	for kind, sev := range policy.Kinds {
		out[database.AnomalyKind(kind)] = database.AnomalySeverity(sev)
	}
	return out
}

// Event is one observed check-in write, fed to the detector's stream.
type Event struct {
	CheckIn database.CheckIn
}

// Detector raises anomaly reports, both on direct request from the
// check-in path and from its own observation of the check-in stream.
type Detector struct {
	db       database.AnomalyStore
	checkins database.CheckInStore
	sessions database.SessionStore

	severities map[database.AnomalyKind]database.AnomalySeverity
	distanceKm float64
	window     time.Duration

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewDetector creates an anomaly detector.
func NewDetector(db database.AnomalyStore, checkins database.CheckInStore, sessions database.SessionStore, cfg config.AnomalyConfig) *Detector {
	return &Detector{
		db:         db,
		checkins:   checkins,
		sessions:   sessions,
		severities: loadSeverities(),
		distanceKm: cfg.LocationDistanceKm,
		window:     cfg.LocationWindow,
		events:     make(chan Event, 64),
		done:       make(chan struct{}),
	}
}

// ReportRequest describes a finding to record.
type ReportRequest struct {
	OwnerID   string
	SessionID string
	CheckInID string
	Kind      database.AnomalyKind
	Detail    string
}

// Report appends a finding to the log. Severity is derived from the
// kind via the embedded policy table.
func (d *Detector) Report(ctx context.Context, req ReportRequest) (*database.AnomalyReport, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("unknown anomaly kind %q", req.Kind)
	}

	severity, ok := d.severities[req.Kind]
	if !ok {
		severity = database.SeverityMedium
	}

	r := &database.AnomalyReport{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		SessionID: req.SessionID,
		CheckInID: req.CheckInID,
		Kind:      req.Kind,
		Severity:  severity,
		Detail:    req.Detail,
		CreatedAt: time.Now(),
	}
	if err := d.db.Insert(ctx, r); err != nil {
		return nil, fmt.Errorf("insert anomaly report: %w", err)
	}
	return r, nil
}

// Resolve marks a report resolved. The report stays in the log;
// resolution never deletes.
func (d *Detector) Resolve(ctx context.Context, id, resolvedBy, resolution string) (*database.AnomalyReport, error) {
	r, err := d.db.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get anomaly report: %w", err)
	}
	if r == nil {
		return nil, ErrNotFound
	}
	if r.Resolved {
		return r, nil
	}
	if err := d.db.MarkResolved(ctx, id, resolvedBy, resolution, time.Now()); err != nil {
		return nil, fmt.Errorf("mark resolved: %w", err)
	}
	return d.db.Get(ctx, id)
}

// List returns reports matching the filter, newest first.
func (d *Detector) List(ctx context.Context, filter database.AnomalyFilter) ([]database.AnomalyReport, error) {
	return d.db.List(ctx, filter)
}

// Observe queues a check-in write for background inspection. Drops the
// event when the detector is stopped or the buffer is full; reports are
// advisory and must not slow down the check-in path.
func (d *Detector) Observe(e Event) {
	select {
	case d.events <- e:
	case <-d.done:
	default:
		log.Printf("anomaly: event buffer full, dropping check-in %s", e.CheckIn.ID)
	}
}

// Start launches the background observer goroutine.
func (d *Detector) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case e := <-d.events:
				d.inspect(context.Background(), e)
			case <-d.done:
				return
			}
		}
	}()
}

// Stop terminates the observer goroutine.
func (d *Detector) Stop() {
	close(d.done)
	d.wg.Wait()
}

// inspect runs the stream heuristics for one check-in write.
func (d *Detector) inspect(ctx context.Context, e Event) {
	c := &e.CheckIn
	if c.OwnerID == "" {
		return // visitor check-ins carry no identity to cross-check
	}

	d.checkMultipleSessions(ctx, c)
	d.checkUnusualLocation(ctx, c)
}

// checkMultipleSessions reports an owner holding active check-ins in
// two different concurrently active sessions, which is physically
// implausible for in-person attendance.
func (d *Detector) checkMultipleSessions(ctx context.Context, c *database.CheckIn) {
	active, err := d.checkins.ActiveForOwnerAnySession(ctx, c.OwnerID)
	if err != nil {
		log.Printf("anomaly: active check-in lookup failed for %s: %v", c.OwnerID, err)
		return
	}

	for i := range active {
		other := &active[i]
		if other.ID == c.ID || other.SessionID == c.SessionID {
			continue
		}
		otherSession, err := d.sessions.Get(ctx, other.SessionID)
		if err != nil || otherSession == nil || otherSession.Status != database.SessionActive {
			continue
		}
		_, err = d.Report(ctx, ReportRequest{
			OwnerID:   c.OwnerID,
			SessionID: c.SessionID,
			CheckInID: c.ID,
			Kind:      database.AnomalyMultipleCheckins,
			Detail:    fmt.Sprintf("owner also active in session %s", other.SessionID),
		})
		if err != nil {
			log.Printf("anomaly: report failed: %v", err)
		}
		return
	}
}

// checkUnusualLocation reports a capture location inconsistent with the
// owner's recent check-in history beyond the configured distance bound.
func (d *Detector) checkUnusualLocation(ctx context.Context, c *database.CheckIn) {
	if c.Location == nil {
		return
	}

	recent, err := d.checkins.RecentForOwner(ctx, c.OwnerID, c.CheckedInAt.Add(-d.window))
	if err != nil {
		log.Printf("anomaly: recent check-in lookup failed for %s: %v", c.OwnerID, err)
		return
	}

	for i := range recent {
		prev := &recent[i]
		if prev.ID == c.ID || prev.Location == nil {
			continue
		}
		km := haversineKm(*prev.Location, *c.Location)
		if km > d.distanceKm {
			_, err = d.Report(ctx, ReportRequest{
				OwnerID:   c.OwnerID,
				SessionID: c.SessionID,
				CheckInID: c.ID,
				Kind:      database.AnomalyUnusualLocation,
				Detail:    fmt.Sprintf("%.1f km from check-in %s within %s", km, prev.ID, d.window),
			})
			if err != nil {
				log.Printf("anomaly: report failed: %v", err)
			}
			return
		}
	}
}

// haversineKm computes the great-circle distance between two points.
func haversineKm(a, b database.GeoPoint) float64 {
	const earthRadiusKm = 6371.0

	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
