package credit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorledger/tutorledger/internal/platform/db"
)

// Store performs atomic balance updates. Implementations must make Decrement a
// single conditional write so concurrent callers can never drive the balance negative.
type Store interface {
	Get(ctx context.Context, studentID int64) (Account, error)
	// Decrement removes one credit if any remain and returns the new balance.
	Decrement(ctx context.Context, studentID int64) (int, error)
	// Increment adds one credit and returns the new balance.
	Increment(ctx context.Context, studentID int64) (int, error)
	Overwrite(ctx context.Context, account Account) error
}

// PGStore implements Store on the students table.
type PGStore struct {
	db db.DBTX
}

// NewPGStore binds a store to a pool or transaction.
func NewPGStore(conn db.DBTX) *PGStore {
	return &PGStore{db: conn}
}

func (s *PGStore) Get(ctx context.Context, studentID int64) (Account, error) {
	acc := Account{StudentID: studentID}
	var purchased *time.Time
	err := s.db.QueryRow(ctx, `SELECT credits_remaining, credits_cost::double precision, credits_comment, credits_purchased_at FROM students WHERE id = $1`, studentID).
		Scan(&acc.Remaining, &acc.Cost, &acc.Comment, &purchased)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	if purchased != nil {
		acc.PurchasedAt = *purchased
	}
	return acc, nil
}

func (s *PGStore) Decrement(ctx context.Context, studentID int64) (int, error) {
	var remaining int
	err := s.db.QueryRow(ctx, `UPDATE students SET credits_remaining = credits_remaining - 1, updated_at = NOW()
WHERE id = $1 AND credits_remaining > 0
RETURNING credits_remaining`, studentID).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	if _, err := s.Get(ctx, studentID); err != nil {
		return 0, err
	}
	return 0, ErrInsufficientCredit
}

func (s *PGStore) Increment(ctx context.Context, studentID int64) (int, error) {
	var remaining int
	err := s.db.QueryRow(ctx, `UPDATE students SET credits_remaining = credits_remaining + 1, updated_at = NOW()
WHERE id = $1
RETURNING credits_remaining`, studentID).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return remaining, err
}

func (s *PGStore) Overwrite(ctx context.Context, account Account) error {
	var purchased any
	if !account.PurchasedAt.IsZero() {
		purchased = account.PurchasedAt
	}
	tag, err := s.db.Exec(ctx, `UPDATE students
SET credits_remaining = $2, credits_cost = $3, credits_comment = $4, credits_purchased_at = $5, updated_at = NOW()
WHERE id = $1`, account.StudentID, account.Remaining, account.Cost, account.Comment, purchased)
	if err != nil {
		if db.IsCheckViolation(err) {
			return ErrInvalidInput
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Repository persists credit accounts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	if r == nil {
		return ErrRepositoryNotInitialised
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPGStore(tx))
	})
}

// Store returns a non-transactional store.
func (r *Repository) Store() Store {
	return NewPGStore(r.pool)
}
