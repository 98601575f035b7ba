package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/congregio/checkin-engine/internal/database"
)

// SessionRepository provides PostgreSQL-backed session storage.
type SessionRepository struct {
	pool *Pool
}

// NewSessionRepository creates a session repository.
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, name, kind, status, starts_at, ends_at, online, stream_url, expected_capacity, location, created_at`

// Insert stores a new session.
func (r *SessionRepository) Insert(ctx context.Context, s *database.AttendanceSession) error {
	query := `
		INSERT INTO sessions (id, name, kind, status, starts_at, ends_at, online, stream_url, expected_capacity, location, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.Name,
		string(s.Kind),
		string(s.Status),
		s.StartsAt,
		s.EndsAt,
		s.Online,
		nullString(s.StreamURL),
		s.ExpectedCapacity,
		nullString(s.Location),
		s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get retrieves a session by id, nil if not found.
func (r *SessionRepository) Get(ctx context.Context, id string) (*database.AttendanceSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// UpdateStatus transitions a session conditionally on its current
// status. The WHERE clause is the linearization point: of two racing
// transitions exactly one matches the old status and updates a row.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, from, to database.SessionStatus, endedAt *time.Time) (bool, error) {
	query := `
		UPDATE sessions
		SET status = $3, ends_at = COALESCE($4, ends_at)
		WHERE id = $1 AND status = $2
	`
	result, err := r.pool.Exec(ctx, query, id, string(from), string(to), endedAt)
	if err != nil {
		return false, fmt.Errorf("update session status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ListByStatus returns sessions in the given status, optionally
// restricted to online sessions or a location.
func (r *SessionRepository) ListByStatus(ctx context.Context, status database.SessionStatus, onlineOnly bool, location string) ([]database.AttendanceSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status = $1`
	args := []any{string(status)}
	if onlineOnly {
		query += ` AND online`
	}
	if location != "" {
		args = append(args, location)
		query += fmt.Sprintf(` AND location = $%d`, len(args))
	}
	query += ` ORDER BY starts_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions by status: %w", err)
	}
	defer rows.Close()

	var out []database.AttendanceSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func scanSession(scanner interface{ Scan(...any) error }) (*database.AttendanceSession, error) {
	var s database.AttendanceSession
	var kind, status string
	var endsAt sql.NullTime
	var streamURL, location sql.NullString

	err := scanner.Scan(
		&s.ID,
		&s.Name,
		&kind,
		&status,
		&s.StartsAt,
		&endsAt,
		&s.Online,
		&streamURL,
		&s.ExpectedCapacity,
		&location,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Kind = database.SessionKind(kind)
	s.Status = database.SessionStatus(status)
	if endsAt.Valid {
		t := endsAt.Time
		s.EndsAt = &t
	}
	s.StreamURL = streamURL.String
	s.Location = location.String
	return &s, nil
}

// Verify interface compliance.
var _ database.SessionStore = (*SessionRepository)(nil)
