package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/congregio/checkin-engine/internal/database"
)

// ConsentRepository provides PostgreSQL-backed consent history storage.
type ConsentRepository struct {
	pool *Pool
}

// NewConsentRepository creates a consent repository.
func NewConsentRepository(pool *Pool) *ConsentRepository {
	return &ConsentRepository{pool: pool}
}

const consentColumns = `id, owner_id, consent_type, granted, policy_version, device_info, ip_address, recorded_at`

// Append adds a consent record. There is no update path; the history is
// append-only by construction.
func (r *ConsentRepository) Append(ctx context.Context, rec *database.ConsentRecord) error {
	query := `
		INSERT INTO consents (id, owner_id, consent_type, granted, policy_version, device_info, ip_address, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.OwnerID,
		string(rec.Type),
		rec.Granted,
		nullString(rec.PolicyVersion),
		nullString(rec.DeviceInfo),
		nullString(rec.IPAddress),
		rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("append consent: %w", err)
	}
	return nil
}

// Latest returns the most recent record for (owner, type), nil if none.
func (r *ConsentRepository) Latest(ctx context.Context, ownerID string, t database.ConsentType) (*database.ConsentRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+consentColumns+`
		FROM consents
		WHERE owner_id = $1 AND consent_type = $2
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`, ownerID, string(t))

	rec, err := scanConsent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("latest consent: %w", err)
	}
	return rec, nil
}

// History returns all records for an owner, newest first.
func (r *ConsentRepository) History(ctx context.Context, ownerID string) ([]database.ConsentRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+consentColumns+`
		FROM consents
		WHERE owner_id = $1
		ORDER BY recorded_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query consent history: %w", err)
	}
	defer rows.Close()

	var out []database.ConsentRecord
	for rows.Next() {
		rec, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	return out, nil
}

func scanConsent(scanner interface{ Scan(...any) error }) (*database.ConsentRecord, error) {
	var rec database.ConsentRecord
	var consentType string
	var policyVersion, deviceInfo, ipAddress sql.NullString

	err := scanner.Scan(
		&rec.ID,
		&rec.OwnerID,
		&consentType,
		&rec.Granted,
		&policyVersion,
		&deviceInfo,
		&ipAddress,
		&rec.RecordedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Type = database.ConsentType(consentType)
	rec.PolicyVersion = policyVersion.String
	rec.DeviceInfo = deviceInfo.String
	rec.IPAddress = ipAddress.String
	return &rec, nil
}

// Verify interface compliance.
var _ database.ConsentStore = (*ConsentRepository)(nil)
