package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/platform/db"
)

// Store persists audit entries. Uniqueness per (student, period) is not
// enforced by storage; callers check before inserting and readers de-duplicate.
type Store interface {
	Exists(ctx context.Context, studentID int64, key period.Key) (bool, error)
	Insert(ctx context.Context, entry Entry) (int64, error)
	DeleteAll(ctx context.Context, studentID int64, key period.Key) (int64, error)
	DeleteStudent(ctx context.Context, studentID int64) (int64, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
	ListForStudent(ctx context.Context, studentID int64) ([]Entry, error)
	AttendedPeriods(ctx context.Context, studentID int64) ([]AttendedPeriod, error)
	ListReport(ctx context.Context, filter ReportFilter) ([]ReportRow, error)
	DriftedStudents(ctx context.Context, limit int) ([]int64, error)
	// LockStudent serialises repairs with ledger transitions of the same student.
	LockStudent(ctx context.Context, studentID int64) error
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db db.DBTX
}

// NewPGStore binds a store to a pool or transaction.
func NewPGStore(conn db.DBTX) *PGStore {
	return &PGStore{db: conn}
}

func (s *PGStore) Exists(ctx context.Context, studentID int64, key period.Key) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM attendance_audit WHERE student_id = $1 AND period_key = $2)`, studentID, key.String()).Scan(&exists)
	return exists, err
}

func (s *PGStore) Insert(ctx context.Context, entry Entry) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `INSERT INTO attendance_audit (student_id, period_key, center, recorded_at)
VALUES ($1, $2, $3, $4) RETURNING id`, entry.StudentID, entry.Period.String(), entry.Center, entry.RecordedAt).Scan(&id)
	return id, err
}

func (s *PGStore) DeleteAll(ctx context.Context, studentID int64, key period.Key) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM attendance_audit WHERE student_id = $1 AND period_key = $2`, studentID, key.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) DeleteStudent(ctx context.Context, studentID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM attendance_audit WHERE student_id = $1`, studentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM attendance_audit WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) ListForStudent(ctx context.Context, studentID int64) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT id, student_id, period_key, center, recorded_at FROM attendance_audit WHERE student_id = $1 ORDER BY recorded_at ASC, id ASC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var (
			entry Entry
			raw   string
		)
		if err := rows.Scan(&entry.ID, &entry.StudentID, &raw, &entry.Center, &entry.RecordedAt); err != nil {
			return nil, err
		}
		if entry.Period, err = period.Parse(raw); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PGStore) AttendedPeriods(ctx context.Context, studentID int64) ([]AttendedPeriod, error) {
	rows, err := s.db.Query(ctx, `SELECT period_key, COALESCE(last_attendance_center, ''), COALESCE(last_attendance_at, updated_at)
FROM student_periods WHERE student_id = $1 AND attended ORDER BY period_key`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	periods := []AttendedPeriod{}
	for rows.Next() {
		var (
			ap  AttendedPeriod
			raw string
		)
		if err := rows.Scan(&raw, &ap.Center, &ap.LastAttendanceAt); err != nil {
			return nil, err
		}
		if ap.Period, err = period.Parse(raw); err != nil {
			return nil, err
		}
		periods = append(periods, ap)
	}
	return periods, rows.Err()
}

// ListReport keeps only the earliest entry of each attended pair before the
// limit applies, so stale and duplicate entries never shorten a page. Center
// is the ledger's last attendance center.
func (s *PGStore) ListReport(ctx context.Context, filter ReportFilter) ([]ReportRow, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.StudentID != 0 {
		add("a.student_id = $%d", filter.StudentID)
	}
	if filter.Grade != "" {
		add("s.grade = $%d", filter.Grade)
	}
	if filter.Center != "" {
		add("COALESCE(p.last_attendance_center, a.center) = $%d", filter.Center)
	}
	if !filter.From.IsZero() {
		add("a.recorded_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("a.recorded_at <= $%d", filter.To)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT DISTINCT ON (a.student_id, a.period_key)
	a.id, a.student_id, s.grade, s.account_state, a.period_key,
	TRUE AS has_record, p.attended, p.paid,
	COALESCE(p.last_attendance_center, a.center) AS center, p.last_attendance_at, a.recorded_at
FROM attendance_audit a
JOIN students s ON s.id = a.student_id
JOIN student_periods p ON p.student_id = a.student_id AND p.period_key = a.period_key AND p.attended`
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY a.student_id, a.period_key, a.recorded_at ASC, a.id ASC"
	args = append(args, limit)
	query = fmt.Sprintf(`SELECT id, student_id, grade, account_state, period_key, has_record, attended, paid, center, last_attendance_at, recorded_at
FROM (%s) report
ORDER BY recorded_at ASC, id ASC
LIMIT $%d`, query, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []ReportRow{}
	for rows.Next() {
		var (
			row      ReportRow
			raw      string
			lastSeen *time.Time
		)
		if err := rows.Scan(&row.EntryID, &row.StudentID, &row.Grade, &row.StudentState, &raw,
			&row.HasRecord, &row.Attended, &row.Paid, &row.Center, &lastSeen, &row.RecordedAt); err != nil {
			return nil, err
		}
		if row.Period, err = period.Parse(raw); err != nil {
			return nil, err
		}
		if lastSeen != nil {
			row.LastAttendanceAt = *lastSeen
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (s *PGStore) DriftedStudents(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(ctx, `SELECT student_id FROM (
	SELECT a.student_id FROM attendance_audit a
	LEFT JOIN student_periods p ON p.student_id = a.student_id AND p.period_key = a.period_key
	WHERE p.student_id IS NULL OR NOT p.attended
	UNION
	SELECT student_id FROM attendance_audit GROUP BY student_id, period_key HAVING COUNT(*) > 1
	UNION
	SELECT p.student_id FROM student_periods p
	WHERE p.attended AND NOT EXISTS (
		SELECT 1 FROM attendance_audit a WHERE a.student_id = p.student_id AND a.period_key = p.period_key)
) drift ORDER BY student_id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGStore) LockStudent(ctx context.Context, studentID int64) error {
	var id int64
	err := s.db.QueryRow(ctx, `SELECT id FROM students WHERE id = $1 FOR UPDATE`, studentID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrStudentNotFound
	}
	return err
}

// Repository wires PGStore to a pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a read-committed transaction; row locks
// taken through LockStudent order it against ledger transitions.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	if r == nil {
		return ErrRepositoryNotInitialised
	}
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, NewPGStore(tx))
	})
}

// Store returns a non-transactional store.
func (r *Repository) Store() Store {
	return NewPGStore(r.pool)
}
