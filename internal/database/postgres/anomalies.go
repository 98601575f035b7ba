package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/congregio/checkin-engine/internal/database"
)

// AnomalyRepository provides PostgreSQL-backed anomaly log storage.
type AnomalyRepository struct {
	pool *Pool
}

// NewAnomalyRepository creates an anomaly repository.
func NewAnomalyRepository(pool *Pool) *AnomalyRepository {
	return &AnomalyRepository{pool: pool}
}

const anomalyColumns = `id, owner_id, session_id, check_in_id, kind, severity, detail, created_at, resolved, resolved_by, resolution, resolved_at`

// Insert appends a report to the log.
func (r *AnomalyRepository) Insert(ctx context.Context, rep *database.AnomalyReport) error {
	query := `
		INSERT INTO anomalies (id, owner_id, session_id, check_in_id, kind, severity, detail, created_at, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		rep.ID,
		nullString(rep.OwnerID),
		nullString(rep.SessionID),
		nullString(rep.CheckInID),
		string(rep.Kind),
		string(rep.Severity),
		nullString(rep.Detail),
		rep.CreatedAt,
		rep.Resolved,
	)
	if err != nil {
		return fmt.Errorf("insert anomaly report: %w", err)
	}
	return nil
}

// Get retrieves a report by id, nil if not found.
func (r *AnomalyRepository) Get(ctx context.Context, id string) (*database.AnomalyReport, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+anomalyColumns+` FROM anomalies WHERE id = $1`, id)
	rep, err := scanAnomaly(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get anomaly report: %w", err)
	}
	return rep, nil
}

// List returns reports matching the filter, newest first.
func (r *AnomalyRepository) List(ctx context.Context, filter database.AnomalyFilter) ([]database.AnomalyReport, error) {
	query := `SELECT ` + anomalyColumns + ` FROM anomalies WHERE 1=1`
	var args []any

	add := func(clause string, arg any) {
		args = append(args, arg)
		query += fmt.Sprintf(" AND "+clause, len(args))
	}
	if filter.OwnerID != "" {
		add("owner_id = $%d", filter.OwnerID)
	}
	if filter.SessionID != "" {
		add("session_id = $%d", filter.SessionID)
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if filter.Severity != "" {
		add("severity = $%d", string(filter.Severity))
	}
	if filter.Unresolved {
		query += " AND NOT resolved"
	}

	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query anomaly reports: %w", err)
	}
	defer rows.Close()

	var out []database.AnomalyReport
	for rows.Next() {
		rep, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anomaly report: %w", err)
		}
		out = append(out, *rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anomaly reports: %w", err)
	}
	return out, nil
}

// MarkResolved sets the resolution fields; the report stays in the log.
func (r *AnomalyRepository) MarkResolved(ctx context.Context, id, resolvedBy, resolution string, at time.Time) error {
	query := `
		UPDATE anomalies
		SET resolved = TRUE, resolved_by = $2, resolution = $3, resolved_at = $4
		WHERE id = $1
	`
	if _, err := r.pool.Exec(ctx, query, id, resolvedBy, nullString(resolution), at); err != nil {
		return fmt.Errorf("mark anomaly resolved: %w", err)
	}
	return nil
}

func scanAnomaly(scanner interface{ Scan(...any) error }) (*database.AnomalyReport, error) {
	var rep database.AnomalyReport
	var kind, severity string
	var ownerID, sessionID, checkInID, detail, resolvedBy, resolution sql.NullString
	var resolvedAt sql.NullTime

	err := scanner.Scan(
		&rep.ID,
		&ownerID,
		&sessionID,
		&checkInID,
		&kind,
		&severity,
		&detail,
		&rep.CreatedAt,
		&rep.Resolved,
		&resolvedBy,
		&resolution,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	rep.OwnerID = ownerID.String
	rep.SessionID = sessionID.String
	rep.CheckInID = checkInID.String
	rep.Kind = database.AnomalyKind(kind)
	rep.Severity = database.AnomalySeverity(severity)
	rep.Detail = detail.String
	rep.ResolvedBy = resolvedBy.String
	rep.Resolution = resolution.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		rep.ResolvedAt = &t
	}
	return &rep, nil
}

// Verify interface compliance.
var _ database.AnomalyStore = (*AnomalyRepository)(nil)
