package content

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorledger/tutorledger/internal/period"
)

// Repository persists the catalogue in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one entry.
func (r *Repository) Get(ctx context.Context, id int64) (Content, error) {
	if r == nil {
		return Content{}, ErrRepositoryNotInitialised
	}
	var (
		c   Content
		key string
	)
	err := r.pool.QueryRow(ctx, `SELECT id, period_key, free, title FROM contents WHERE id = $1`, id).Scan(&c.ID, &key, &c.Free, &c.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Content{}, ErrNotFound
		}
		return Content{}, err
	}
	if c.Period, err = period.Parse(key); err != nil {
		return Content{}, err
	}
	return c, nil
}

// Upsert creates or replaces an entry.
func (r *Repository) Upsert(ctx context.Context, c Content) error {
	if r == nil {
		return ErrRepositoryNotInitialised
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO contents (id, period_key, free, title, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (id) DO UPDATE SET period_key = EXCLUDED.period_key, free = EXCLUDED.free, title = EXCLUDED.title, updated_at = NOW()`,
		c.ID, c.Period.String(), c.Free, c.Title)
	return err
}
