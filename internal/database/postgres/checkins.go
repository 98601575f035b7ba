package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/congregio/checkin-engine/internal/database"
)

// CheckInRepository provides PostgreSQL-backed check-in storage.
type CheckInRepository struct {
	pool *Pool
}

// NewCheckInRepository creates a check-in repository.
func NewCheckInRepository(pool *Pool) *CheckInRepository {
	return &CheckInRepository{pool: pool}
}

const checkInColumns = `id, request_id, session_id, owner_id, descriptor_id, method, status, confidence, reason, device_info, latitude, longitude, checked_in_at, checked_out_at`

// Insert stores a new check-in.
func (r *CheckInRepository) Insert(ctx context.Context, c *database.CheckIn) error {
	query := `
		INSERT INTO checkins (id, request_id, session_id, owner_id, descriptor_id, method, status, confidence, reason, device_info, latitude, longitude, checked_in_at, checked_out_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	var lat, lng sql.NullFloat64
	if c.Location != nil {
		lat = sql.NullFloat64{Float64: c.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: c.Location.Longitude, Valid: true}
	}
	_, err := r.pool.Exec(ctx, query,
		c.ID,
		nullString(c.RequestID),
		c.SessionID,
		nullString(c.OwnerID),
		nullString(c.DescriptorID),
		string(c.Method),
		string(c.Status),
		c.Confidence,
		nullString(c.Reason),
		nullString(c.DeviceInfo),
		lat,
		lng,
		c.CheckedInAt,
		c.CheckedOutAt,
	)
	if err != nil {
		return fmt.Errorf("insert check-in: %w", err)
	}
	return nil
}

// Get retrieves a check-in by id, nil if not found.
func (r *CheckInRepository) Get(ctx context.Context, id string) (*database.CheckIn, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+checkInColumns+` FROM checkins WHERE id = $1`, id)
	c, err := scanCheckIn(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get check-in: %w", err)
	}
	return c, nil
}

// GetByRequestID returns the check-in recorded for an idempotency key.
func (r *CheckInRepository) GetByRequestID(ctx context.Context, requestID string) (*database.CheckIn, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+checkInColumns+` FROM checkins WHERE request_id = $1`, requestID)
	c, err := scanCheckIn(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get check-in by request id: %w", err)
	}
	return c, nil
}

// ActiveForOwner returns the not-yet-checked-out check-in for (owner,
// session), nil if none.
func (r *CheckInRepository) ActiveForOwner(ctx context.Context, ownerID, sessionID string) (*database.CheckIn, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+checkInColumns+`
		FROM checkins
		WHERE owner_id = $1 AND session_id = $2 AND checked_out_at IS NULL
		ORDER BY checked_in_at DESC
		LIMIT 1
	`, ownerID, sessionID)

	c, err := scanCheckIn(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("active check-in lookup: %w", err)
	}
	return c, nil
}

// ActiveForOwnerAnySession returns all active check-ins an owner holds.
func (r *CheckInRepository) ActiveForOwnerAnySession(ctx context.Context, ownerID string) ([]database.CheckIn, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+checkInColumns+`
		FROM checkins
		WHERE owner_id = $1 AND checked_out_at IS NULL
		ORDER BY checked_in_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query active check-ins: %w", err)
	}
	defer rows.Close()

	return scanCheckIns(rows)
}

// ListBySession returns check-ins for a session, newest first.
func (r *CheckInRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]database.CheckIn, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+checkInColumns+`
		FROM checkins
		WHERE session_id = $1
		ORDER BY checked_in_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query check-ins by session: %w", err)
	}
	defer rows.Close()

	return scanCheckIns(rows)
}

// RecentForOwner returns an owner's check-ins since the given time.
func (r *CheckInRepository) RecentForOwner(ctx context.Context, ownerID string, since time.Time) ([]database.CheckIn, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+checkInColumns+`
		FROM checkins
		WHERE owner_id = $1 AND checked_in_at >= $2
		ORDER BY checked_in_at DESC
	`, ownerID, since)
	if err != nil {
		return nil, fmt.Errorf("query recent check-ins: %w", err)
	}
	defer rows.Close()

	return scanCheckIns(rows)
}

// CountPriorForOwner returns how many check-ins an owner had recorded
// strictly before the given time.
func (r *CheckInRepository) CountPriorForOwner(ctx context.Context, ownerID string, before time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM checkins WHERE owner_id = $1 AND checked_in_at < $2`, ownerID, before).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count prior check-ins: %w", err)
	}
	return count, nil
}

// SetCheckedOut sets the check-out time if not already set and returns
// the stored row either way.
func (r *CheckInRepository) SetCheckedOut(ctx context.Context, id string, at time.Time) (*database.CheckIn, error) {
	if _, err := r.pool.Exec(ctx,
		`UPDATE checkins SET checked_out_at = $2 WHERE id = $1 AND checked_out_at IS NULL`, id, at); err != nil {
		return nil, fmt.Errorf("set checked out: %w", err)
	}
	return r.Get(ctx, id)
}

// UpdateStatus overwrites the verification status and reason.
func (r *CheckInRepository) UpdateStatus(ctx context.Context, id string, status database.VerificationStatus, reason string) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE checkins SET status = $2, reason = $3 WHERE id = $1`, id, string(status), nullString(reason)); err != nil {
		return fmt.Errorf("update check-in status: %w", err)
	}
	return nil
}

func scanCheckIn(scanner interface{ Scan(...any) error }) (*database.CheckIn, error) {
	var c database.CheckIn
	var method, status string
	var requestID, ownerID, descriptorID, reason, deviceInfo sql.NullString
	var lat, lng sql.NullFloat64
	var checkedOutAt sql.NullTime

	err := scanner.Scan(
		&c.ID,
		&requestID,
		&c.SessionID,
		&ownerID,
		&descriptorID,
		&method,
		&status,
		&c.Confidence,
		&reason,
		&deviceInfo,
		&lat,
		&lng,
		&c.CheckedInAt,
		&checkedOutAt,
	)
	if err != nil {
		return nil, err
	}

	c.RequestID = requestID.String
	c.OwnerID = ownerID.String
	c.DescriptorID = descriptorID.String
	c.Method = database.CheckInMethod(method)
	c.Status = database.VerificationStatus(status)
	c.Reason = reason.String
	c.DeviceInfo = deviceInfo.String
	if lat.Valid && lng.Valid {
		c.Location = &database.GeoPoint{Latitude: lat.Float64, Longitude: lng.Float64}
	}
	if checkedOutAt.Valid {
		t := checkedOutAt.Time
		c.CheckedOutAt = &t
	}
	return &c, nil
}

func scanCheckIns(rows *sql.Rows) ([]database.CheckIn, error) {
	var out []database.CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate check-ins: %w", err)
	}
	return out, nil
}

// Verify interface compliance.
var _ database.CheckInStore = (*CheckInRepository)(nil)
