package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tutorledger/tutorledger/internal/platform/db"
)

// ErrIdempotencyConflict is returned when a key was already processed.
var ErrIdempotencyConflict = fmt.Errorf("idempotency key already processed: %w", ErrConflict)

var errIdempotencyKey = fmt.Errorf("idempotency key and module required: %w", ErrValidation)

// IdempotencyStore remembers processed event keys in idempotency_keys.
type IdempotencyStore struct {
	conn db.DBTX
}

// NewIdempotencyStore binds the store to conn, usually the pool.
func NewIdempotencyStore(conn db.DBTX) *IdempotencyStore {
	return &IdempotencyStore{conn: conn}
}

// CheckAndInsert claims key for module. A second claim of the same key
// returns ErrIdempotencyConflict.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.conn == nil {
		return errors.New("shared: idempotency store not initialised")
	}
	if key == "" || module == "" {
		return errIdempotencyKey
	}
	tag, err := s.conn.Exec(ctx, `INSERT INTO idempotency_keys (key, module) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, key, module)
	if err != nil {
		return fmt.Errorf("shared: claim idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Delete releases key so a failed event can be retried.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.conn == nil {
		return nil
	}
	if key == "" {
		return errIdempotencyKey
	}
	_, err := s.conn.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
	return err
}

// Cleanup drops keys claimed more than olderThan ago and reports how many.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.conn == nil {
		return 0, nil
	}
	tag, err := s.conn.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < NOW() - make_interval(secs => $1)`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("shared: cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
