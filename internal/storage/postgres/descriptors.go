package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/featmatch/internal/feature"
)

// DescriptorRepository persists descriptor sets as pgvector rows, one per
// descriptor, in detection order.
type DescriptorRepository struct {
	pool *Pool
}

// NewDescriptorRepository creates a new PostgreSQL descriptor repository
func NewDescriptorRepository(pool *Pool) *DescriptorRepository {
	return &DescriptorRepository{pool: pool}
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", feature.ErrCacheUnavailable, op, err)
}

// Load returns the set stored for image, or feature.ErrNotFound.
func (r *DescriptorRepository) Load(ctx context.Context, image string) (*feature.DescriptorSet, error) {
	set := &feature.DescriptorSet{Image: image}
	var dim, count int
	err := r.pool.QueryRow(ctx,
		`SELECT width, height, dim, count FROM descriptor_sets WHERE image = $1`, image,
	).Scan(&set.Width, &set.Height, &dim, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: descriptors of %s", feature.ErrNotFound, image)
	}
	if err != nil {
		return nil, unavailable("query descriptor set", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT ordinal, x, y, scale, orientation, vector
		FROM descriptors
		WHERE image = $1
		ORDER BY ordinal
	`, image)
	if err != nil {
		return nil, unavailable("query descriptors", err)
	}
	defer rows.Close()

	set.Descriptors = make([]feature.Descriptor, 0, count)
	for rows.Next() {
		var (
			ordinal int
			d       feature.Descriptor
			vec     pgvector.Vector
		)
		if err := rows.Scan(&ordinal, &d.X, &d.Y, &d.Scale, &d.Orientation, &vec); err != nil {
			return nil, unavailable("scan descriptor", err)
		}
		if ordinal != len(set.Descriptors) {
			return nil, fmt.Errorf("%w: descriptors of %s have a gap at %d", feature.ErrCorruptCacheEntry, image, len(set.Descriptors))
		}
		d.Vector = vec.Slice()
		set.Descriptors = append(set.Descriptors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate descriptors", err)
	}

	if len(set.Descriptors) != count || (count > 0 && set.Dim() != dim) {
		return nil, fmt.Errorf("%w: descriptors of %s do not match their header", feature.ErrCorruptCacheEntry, image)
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", feature.ErrCorruptCacheEntry, err)
	}
	return set, nil
}

// Save replaces the set stored for set.Image in a single transaction.
func (r *DescriptorRepository) Save(ctx context.Context, set *feature.DescriptorSet) error {
	if err := set.Validate(); err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("save descriptors", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO descriptor_sets (image, width, height, dim, count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (image) DO UPDATE SET
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			dim = EXCLUDED.dim,
			count = EXCLUDED.count,
			created_at = NOW()
	`, set.Image, set.Width, set.Height, set.Dim(), set.Len())
	if err != nil {
		return unavailable("upsert descriptor set", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM descriptors WHERE image = $1`, set.Image); err != nil {
		return unavailable("clear descriptors", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO descriptors (image, ordinal, x, y, scale, orientation, vector)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return unavailable("prepare descriptor insert", err)
	}
	defer stmt.Close()

	for i, d := range set.Descriptors {
		if _, err := stmt.ExecContext(ctx, set.Image, i, d.X, d.Y, d.Scale, d.Orientation, pgvector.NewVector(d.Vector)); err != nil {
			return unavailable(fmt.Sprintf("insert descriptor %d", i), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit descriptors", err)
	}
	return nil
}

// Images returns the identities with a stored descriptor set.
func (r *DescriptorRepository) Images(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT image FROM descriptor_sets ORDER BY image`)
	if err != nil {
		return nil, unavailable("list descriptor sets", err)
	}
	defer rows.Close()

	var images []string
	for rows.Next() {
		var image string
		if err := rows.Scan(&image); err != nil {
			return nil, unavailable("scan descriptor set", err)
		}
		images = append(images, image)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate descriptor sets", err)
	}
	return images, nil
}
