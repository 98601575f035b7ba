package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/congregio/checkin-engine/internal/database"
)

// DescriptorRepository provides PostgreSQL-backed descriptor storage.
type DescriptorRepository struct {
	pool *Pool
}

// NewDescriptorRepository creates a descriptor repository.
func NewDescriptorRepository(pool *Pool) *DescriptorRepository {
	return &DescriptorRepository{pool: pool}
}

const descriptorColumns = `id, owner_id, vector, dim, quality, is_primary, family_label, photo_ref, created_at, updated_at`

// Insert stores a new descriptor.
func (r *DescriptorRepository) Insert(ctx context.Context, d *database.StoredDescriptor) error {
	query := `
		INSERT INTO descriptors (id, owner_id, vector, dim, quality, is_primary, family_label, photo_ref, created_at, updated_at)
		VALUES ($1, $2, $3::vector, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		d.ID,
		d.OwnerID,
		pgvector.NewVector(d.Vector),
		d.Dim,
		d.Quality,
		d.IsPrimary,
		nullString(d.FamilyLabel),
		nullString(d.PhotoRef),
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert descriptor: %w", err)
	}
	return nil
}

// Get retrieves a descriptor by id, nil if not found.
func (r *DescriptorRepository) Get(ctx context.Context, id string) (*database.StoredDescriptor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+descriptorColumns+` FROM descriptors WHERE id = $1`, id)
	d, err := scanDescriptor(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get descriptor: %w", err)
	}
	return d, nil
}

// ListByOwner returns all descriptors held by an owner.
func (r *DescriptorRepository) ListByOwner(ctx context.Context, ownerID string) ([]database.StoredDescriptor, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+descriptorColumns+` FROM descriptors WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query descriptors by owner: %w", err)
	}
	defer rows.Close()

	return scanDescriptors(rows)
}

// ListAll returns descriptors in scope, for candidate matching.
func (r *DescriptorRepository) ListAll(ctx context.Context, scope database.DescriptorScope) ([]database.StoredDescriptor, error) {
	query := `SELECT ` + descriptorColumns + ` FROM descriptors`
	var args []any
	if len(scope.OwnerIDs) > 0 {
		query += ` WHERE owner_id = ANY($1)`
		args = append(args, pq.Array(scope.OwnerIDs))
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query all descriptors: %w", err)
	}
	defer rows.Close()

	return scanDescriptors(rows)
}

// CountByOwner returns the number of descriptors held by an owner.
func (r *DescriptorRepository) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM descriptors WHERE owner_id = $1`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count descriptors: %w", err)
	}
	return count, nil
}

// SetPrimary marks the descriptor primary and demotes the owner's
// previous primary inside one transaction.
func (r *DescriptorRepository) SetPrimary(ctx context.Context, id string) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var ownerID string
	if err := tx.QueryRowContext(ctx, `SELECT owner_id FROM descriptors WHERE id = $1`, id).Scan(&ownerID); err != nil {
		return fmt.Errorf("find descriptor owner: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE descriptors SET is_primary = FALSE WHERE owner_id = $1 AND is_primary`, ownerID); err != nil {
		return fmt.Errorf("demote previous primary: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE descriptors SET is_primary = TRUE, updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("promote descriptor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Replace overwrites a descriptor's vector and quality in full.
func (r *DescriptorRepository) Replace(ctx context.Context, d *database.StoredDescriptor) error {
	query := `
		UPDATE descriptors
		SET vector = $2::vector, quality = $3, updated_at = $4
		WHERE id = $1
	`
	if _, err := r.pool.Exec(ctx, query, d.ID, pgvector.NewVector(d.Vector), d.Quality, d.UpdatedAt); err != nil {
		return fmt.Errorf("replace descriptor: %w", err)
	}
	return nil
}

// Delete removes a descriptor.
func (r *DescriptorRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM descriptors WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete descriptor: %w", err)
	}
	return nil
}

func scanDescriptor(scanner interface{ Scan(...any) error }) (*database.StoredDescriptor, error) {
	var d database.StoredDescriptor
	var vec pgvector.Vector
	var familyLabel, photoRef sql.NullString

	err := scanner.Scan(
		&d.ID,
		&d.OwnerID,
		&vec,
		&d.Dim,
		&d.Quality,
		&d.IsPrimary,
		&familyLabel,
		&photoRef,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Vector = vec.Slice()
	d.FamilyLabel = familyLabel.String
	d.PhotoRef = photoRef.String
	return &d, nil
}

func scanDescriptors(rows *sql.Rows) ([]database.StoredDescriptor, error) {
	var out []database.StoredDescriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descriptors: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Verify interface compliance.
var _ database.DescriptorStore = (*DescriptorRepository)(nil)
