package students

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/platform/db"
)

// Store is the transaction-bound view of the student directory used by the ledger.
type Store interface {
	Get(ctx context.Context, id int64) (Student, error)
	GetForUpdate(ctx context.Context, id int64) (Student, error)
	SetCurrentPeriod(ctx context.Context, id int64, key period.Key) error
	// TakeLegacyWeeks returns the raw legacy weeks array and clears it.
	TakeLegacyWeeks(ctx context.Context, id int64) ([]byte, error)
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db db.DBTX
}

// NewPGStore binds a store to a pool or transaction.
func NewPGStore(conn db.DBTX) *PGStore {
	return &PGStore{db: conn}
}

const selectStudent = `SELECT id, grade, account_state, COALESCE(current_period, ''), weeks IS NOT NULL FROM students WHERE id = $1`

// GetForUpdate loads and row-locks the student.
func (s *PGStore) GetForUpdate(ctx context.Context, id int64) (Student, error) {
	return scanStudent(s.db.QueryRow(ctx, selectStudent+` FOR UPDATE`, id))
}

// Get loads the student without locking.
func (s *PGStore) Get(ctx context.Context, id int64) (Student, error) {
	return scanStudent(s.db.QueryRow(ctx, selectStudent, id))
}

// SetCurrentPeriod stores the current period pointer; a zero key clears it.
func (s *PGStore) SetCurrentPeriod(ctx context.Context, id int64, key period.Key) error {
	var value any
	if !key.IsZero() {
		value = key.String()
	}
	tag, err := s.db.Exec(ctx, `UPDATE students SET current_period = $2, updated_at = NOW() WHERE id = $1`, id, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TakeLegacyWeeks returns the legacy weeks payload and clears the column in the same statement.
func (s *PGStore) TakeLegacyWeeks(ctx context.Context, id int64) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `UPDATE students s SET weeks = NULL, updated_at = NOW()
FROM (SELECT id, weeks FROM students WHERE id = $1 AND weeks IS NOT NULL FOR UPDATE) old
WHERE s.id = old.id
RETURNING old.weeks::text`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return raw, err
}

// SetState changes the account state.
func (s *PGStore) SetState(ctx context.Context, id int64, state AccountState) error {
	tag, err := s.db.Exec(ctx, `UPDATE students SET account_state = $2, updated_at = NOW() WHERE id = $1`, id, string(state))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanStudent(row pgx.Row) (Student, error) {
	var (
		st      Student
		state   string
		current string
	)
	if err := row.Scan(&st.ID, &st.Grade, &state, &current, &st.HasLegacyWeeks); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Student{}, ErrNotFound
		}
		return Student{}, err
	}
	st.State = AccountState(state)
	if current != "" {
		key, err := period.Parse(current)
		if err != nil {
			return Student{}, err
		}
		st.CurrentPeriod = key
	}
	return st, nil
}

// Repository exposes directory reads and administrative state changes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a student.
func (r *Repository) Get(ctx context.Context, id int64) (Student, error) {
	return NewPGStore(r.pool).Get(ctx, id)
}

// SetState changes the account state.
func (r *Repository) SetState(ctx context.Context, id int64, state AccountState) error {
	return NewPGStore(r.pool).SetState(ctx, id, state)
}
