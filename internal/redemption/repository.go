package redemption

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorledger/tutorledger/internal/platform/db"
	"github.com/tutorledger/tutorledger/internal/shared"
)

// Store persists codes. Claim, Activate and DecrementView must each be one
// conditional write; a false result means the guard did not match.
type Store interface {
	UpsertActivationCode(ctx context.Context, owner int64, code string, at time.Time) (ActivationCode, error)
	Activate(ctx context.Context, code string, at time.Time) (ActivationCode, bool, error)
	GetActivationCode(ctx context.Context, code string) (ActivationCode, error)
	GetActivationCodeByOwner(ctx context.Context, owner int64) (ActivationCode, error)
	InsertViewCodes(ctx context.Context, codes []ViewCode) ([]ViewCode, error)
	GetViewCode(ctx context.Context, code string) (ViewCode, error)
	Claim(ctx context.Context, code string, claimant int64, at time.Time) (ViewCode, bool, error)
	DecrementView(ctx context.Context, code string, claimant int64, at time.Time) (ViewCode, bool, error)
	SetEnabled(ctx context.Context, code string, enabled bool) (ViewCode, error)
	ListViewCodes(ctx context.Context, filter ListFilter) ([]ViewCode, int, error)
	InsertFreeAccess(ctx context.Context, studentID, contentID int64, at time.Time) (bool, error)
}

// Repository implements Store on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const activationColumns = `owner_student_id, code, activated, issued_at, activated_at`

func scanActivation(row pgx.Row) (ActivationCode, error) {
	var ac ActivationCode
	if err := row.Scan(&ac.OwnerStudentID, &ac.Code, &ac.Activated, &ac.IssuedAt, &ac.ActivatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ActivationCode{}, ErrNotFound
		}
		return ActivationCode{}, err
	}
	return ac, nil
}

// UpsertActivationCode replaces the owner's code and resets activation.
func (r *Repository) UpsertActivationCode(ctx context.Context, owner int64, code string, at time.Time) (ActivationCode, error) {
	ac, err := scanActivation(r.pool.QueryRow(ctx, `INSERT INTO activation_codes (owner_student_id, code, activated, issued_at, activated_at)
VALUES ($1, $2, FALSE, $3, NULL)
ON CONFLICT (owner_student_id) DO UPDATE SET code = EXCLUDED.code, activated = FALSE, issued_at = EXCLUDED.issued_at, activated_at = NULL
RETURNING `+activationColumns, owner, code, at))
	if db.IsUniqueViolation(err) {
		return ActivationCode{}, fmt.Errorf("%w: code collision", ErrConflict)
	}
	return ac, err
}

// Activate flips activated only while it is false.
func (r *Repository) Activate(ctx context.Context, code string, at time.Time) (ActivationCode, bool, error) {
	ac, err := scanActivation(r.pool.QueryRow(ctx, `UPDATE activation_codes SET activated = TRUE, activated_at = $2
WHERE code = $1 AND NOT activated
RETURNING `+activationColumns, code, at))
	if errors.Is(err, ErrNotFound) {
		return ActivationCode{}, false, nil
	}
	if err != nil {
		return ActivationCode{}, false, err
	}
	return ac, true, nil
}

func (r *Repository) GetActivationCode(ctx context.Context, code string) (ActivationCode, error) {
	return scanActivation(r.pool.QueryRow(ctx, `SELECT `+activationColumns+` FROM activation_codes WHERE code = $1`, code))
}

func (r *Repository) GetActivationCodeByOwner(ctx context.Context, owner int64) (ActivationCode, error) {
	return scanActivation(r.pool.QueryRow(ctx, `SELECT `+activationColumns+` FROM activation_codes WHERE owner_student_id = $1`, owner))
}

const viewColumns = `id, code, remaining_views, claimed, claimed_by, claimed_at, enabled, payment_state, issued_by, issued_at, batch_id`

func scanView(row pgx.Row) (ViewCode, error) {
	var (
		vc    ViewCode
		state string
	)
	err := row.Scan(&vc.ID, &vc.Code, &vc.RemainingViews, &vc.Claimed, &vc.ClaimedBy, &vc.ClaimedAt,
		&vc.Enabled, &state, &vc.IssuedBy, &vc.IssuedAt, &vc.BatchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ViewCode{}, ErrNotFound
		}
		return ViewCode{}, err
	}
	vc.PaymentState = PaymentState(state)
	return vc, nil
}

// InsertViewCodes stores a batch atomically.
func (r *Repository) InsertViewCodes(ctx context.Context, codes []ViewCode) ([]ViewCode, error) {
	stored := make([]ViewCode, 0, len(codes))
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, vc := range codes {
			batch.Queue(`INSERT INTO view_codes (code, remaining_views, claimed, enabled, payment_state, issued_by, issued_at, batch_id)
VALUES ($1, $2, FALSE, TRUE, $3, $4, $5, $6)
RETURNING `+viewColumns, vc.Code, vc.RemainingViews, string(vc.PaymentState), vc.IssuedBy, vc.IssuedAt, vc.BatchID)
		}
		results := tx.SendBatch(ctx, batch)
		for range codes {
			vc, err := scanView(results.QueryRow())
			if err != nil {
				_ = results.Close()
				return err
			}
			stored = append(stored, vc)
		}
		return results.Close()
	})
	if db.IsUniqueViolation(err) {
		return nil, fmt.Errorf("%w: code collision", ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *Repository) GetViewCode(ctx context.Context, code string) (ViewCode, error) {
	return scanView(r.pool.QueryRow(ctx, `SELECT `+viewColumns+` FROM view_codes WHERE code = $1`, code))
}

// Claim binds the code to claimant on first success. Re-claims by the same
// claimant match the guard but leave claimed_by and claimed_at untouched.
func (r *Repository) Claim(ctx context.Context, code string, claimant int64, at time.Time) (ViewCode, bool, error) {
	vc, err := scanView(r.pool.QueryRow(ctx, `UPDATE view_codes SET
	claimed = TRUE,
	claimed_by = COALESCE(claimed_by, $2),
	claimed_at = COALESCE(claimed_at, $3)
WHERE code = $1 AND enabled AND remaining_views > 0 AND (NOT claimed OR claimed_by = $2)
RETURNING `+viewColumns, code, claimant, at))
	return guarded(vc, err)
}

// DecrementView removes one view from a code held by claimant.
func (r *Repository) DecrementView(ctx context.Context, code string, claimant int64, at time.Time) (ViewCode, bool, error) {
	vc, err := scanView(r.pool.QueryRow(ctx, `UPDATE view_codes SET remaining_views = remaining_views - 1, last_consumed_at = $3
WHERE code = $1 AND enabled AND claimed_by = $2 AND remaining_views > 0
RETURNING `+viewColumns, code, claimant, at))
	return guarded(vc, err)
}

func guarded(vc ViewCode, err error) (ViewCode, bool, error) {
	if errors.Is(err, ErrNotFound) {
		return ViewCode{}, false, nil
	}
	if err != nil {
		return ViewCode{}, false, err
	}
	return vc, true, nil
}

func (r *Repository) SetEnabled(ctx context.Context, code string, enabled bool) (ViewCode, error) {
	return scanView(r.pool.QueryRow(ctx, `UPDATE view_codes SET enabled = $2 WHERE code = $1 RETURNING `+viewColumns, code, enabled))
}

// ListViewCodes returns one page and the total match count.
func (r *Repository) ListViewCodes(ctx context.Context, filter ListFilter) ([]ViewCode, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.BatchID != nil {
		add("batch_id = $%d", *filter.BatchID)
	}
	if filter.Claimed != nil {
		add("claimed = $%d", *filter.Claimed)
	}
	if filter.Enabled != nil {
		add("enabled = $%d", *filter.Enabled)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM view_codes`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := shared.PageRequest{Page: filter.Page, PerPage: filter.PerPage}.Normalize()
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM view_codes%s ORDER BY issued_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		viewColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	codes := []ViewCode{}
	for rows.Next() {
		vc, err := scanView(rows)
		if err != nil {
			return nil, 0, err
		}
		codes = append(codes, vc)
	}
	return codes, total, rows.Err()
}

// InsertFreeAccess records the first completion of free content.
func (r *Repository) InsertFreeAccess(ctx context.Context, studentID, contentID int64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO free_access (student_id, content_id, granted_at) VALUES ($1, $2, $3)
ON CONFLICT (student_id, content_id) DO NOTHING`, studentID, contentID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
