package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/congregio/checkin-engine/internal/database"
)

// CertificateRepository provides PostgreSQL-backed certificate storage.
type CertificateRepository struct {
	pool *Pool
}

// NewCertificateRepository creates a certificate repository.
func NewCertificateRepository(pool *Pool) *CertificateRepository {
	return &CertificateRepository{pool: pool}
}

const certificateColumns = `id, number, verification_code, owner_id, session_id, check_in_id, issued_at, checked_in_at, checked_out_at, duration_seconds, artifact_path`

// Insert stores a certificate. The unique index on check_in_id makes a
// concurrent double-issue fail with ErrDuplicateCertificate.
func (r *CertificateRepository) Insert(ctx context.Context, c *database.PresenceCertificate) error {
	query := `
		INSERT INTO certificates (id, number, verification_code, owner_id, session_id, check_in_id, issued_at, checked_in_at, checked_out_at, duration_seconds, artifact_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		c.ID,
		c.Number,
		c.VerificationCode,
		nullString(c.OwnerID),
		c.SessionID,
		c.CheckInID,
		c.IssuedAt,
		c.CheckedInAt,
		c.CheckedOutAt,
		int64(c.Duration.Seconds()),
		c.ArtifactPath,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return database.ErrDuplicateCertificate
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

// GetByCheckIn returns the certificate for a check-in, nil if none.
func (r *CertificateRepository) GetByCheckIn(ctx context.Context, checkInID string) (*database.PresenceCertificate, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE check_in_id = $1`, checkInID)
	c, err := scanCertificate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	return c, nil
}

func scanCertificate(scanner interface{ Scan(...any) error }) (*database.PresenceCertificate, error) {
	var c database.PresenceCertificate
	var ownerID sql.NullString
	var checkedOutAt sql.NullTime
	var durationSeconds int64

	err := scanner.Scan(
		&c.ID,
		&c.Number,
		&c.VerificationCode,
		&ownerID,
		&c.SessionID,
		&c.CheckInID,
		&c.IssuedAt,
		&c.CheckedInAt,
		&checkedOutAt,
		&durationSeconds,
		&c.ArtifactPath,
	)
	if err != nil {
		return nil, err
	}

	c.OwnerID = ownerID.String
	if checkedOutAt.Valid {
		t := checkedOutAt.Time
		c.CheckedOutAt = &t
	}
	c.Duration = time.Duration(durationSeconds) * time.Second
	return &c, nil
}

// Verify interface compliance.
var _ database.CertificateStore = (*CertificateRepository)(nil)
