package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutorledger/tutorledger/internal/attendance"
	"github.com/tutorledger/tutorledger/internal/credit"
	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/platform/db"
	"github.com/tutorledger/tutorledger/internal/students"
)

// PeriodStore persists period records keyed by (student, period).
type PeriodStore interface {
	// InsertIfAbsent creates the record unless the key already exists and
	// reports whether it inserted. Existing fields are never overwritten.
	InsertIfAbsent(ctx context.Context, record PeriodRecord) (bool, error)
	Get(ctx context.Context, studentID int64, key period.Key) (PeriodRecord, error)
	GetForUpdate(ctx context.Context, studentID int64, key period.Key) (PeriodRecord, error)
	Update(ctx context.Context, record PeriodRecord) error
	List(ctx context.Context, studentID int64) ([]PeriodRecord, error)
	DeleteAll(ctx context.Context, studentID int64) (int64, error)
}

// TxRepository exposes every store a ledger transition touches, bound to one transaction.
type TxRepository interface {
	Students() students.Store
	Periods() PeriodStore
	Credits() credit.Store
	Audit() attendance.Store
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	students *students.PGStore
	periods  *PGPeriodStore
	credits  *credit.PGStore
	audit    *attendance.PGStore
}

func newTxRepo(conn db.DBTX) *txRepo {
	return &txRepo{
		students: students.NewPGStore(conn),
		periods:  NewPGPeriodStore(conn),
		credits:  credit.NewPGStore(conn),
		audit:    attendance.NewPGStore(conn),
	}
}

func (t *txRepo) Students() students.Store { return t.students }
func (t *txRepo) Periods() PeriodStore     { return t.periods }
func (t *txRepo) Credits() credit.Store    { return t.credits }
func (t *txRepo) Audit() attendance.Store  { return t.audit }

// WithTx runs fn inside a read-committed transaction. Callers lock the student
// row first and the period row second; serialization failures and deadlocks
// surface as ErrConflict.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return ErrRepositoryNotInitialised
	}
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, newTxRepo(tx))
	})
	if db.IsSerializationFailure(err) || db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// PGPeriodStore implements PeriodStore on student_periods.
type PGPeriodStore struct {
	db db.DBTX
}

// NewPGPeriodStore binds a store to a pool or transaction.
func NewPGPeriodStore(conn db.DBTX) *PGPeriodStore {
	return &PGPeriodStore{db: conn}
}

const periodColumns = `student_id, period_key, attended, last_attendance_at, COALESCE(last_attendance_center, ''),
	homework_state, homework_obtained, homework_total,
	quiz_state, quiz_obtained, quiz_total,
	comment, message_student, message_parent, paid, updated_at`

func (s *PGPeriodStore) InsertIfAbsent(ctx context.Context, record PeriodRecord) (bool, error) {
	hwObtained, hwTotal := scoreArgs(record.Homework.Score)
	quizObtained, quizTotal := scoreArgs(record.Quiz.Score)
	var center any
	if record.LastAttendanceCenter != "" {
		center = record.LastAttendanceCenter
	}
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx, `INSERT INTO student_periods (
	student_id, period_key, attended, last_attendance_at, last_attendance_center,
	homework_state, homework_obtained, homework_total,
	quiz_state, quiz_obtained, quiz_total,
	comment, message_student, message_parent, paid, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
ON CONFLICT (student_id, period_key) DO NOTHING`,
		record.StudentID, record.Period.String(), record.Attended, record.LastAttendanceAt, center,
		string(record.Homework.State), hwObtained, hwTotal,
		string(record.Quiz.State), quizObtained, quizTotal,
		record.Comment, record.Messages.Student, record.Messages.Parent, record.Paid, updatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGPeriodStore) Get(ctx context.Context, studentID int64, key period.Key) (PeriodRecord, error) {
	return scanPeriod(s.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM student_periods WHERE student_id = $1 AND period_key = $2`, studentID, key.String()))
}

func (s *PGPeriodStore) GetForUpdate(ctx context.Context, studentID int64, key period.Key) (PeriodRecord, error) {
	return scanPeriod(s.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM student_periods WHERE student_id = $1 AND period_key = $2 FOR UPDATE`, studentID, key.String()))
}

func (s *PGPeriodStore) Update(ctx context.Context, record PeriodRecord) error {
	hwObtained, hwTotal := scoreArgs(record.Homework.Score)
	quizObtained, quizTotal := scoreArgs(record.Quiz.Score)
	var center any
	if record.LastAttendanceCenter != "" {
		center = record.LastAttendanceCenter
	}
	tag, err := s.db.Exec(ctx, `UPDATE student_periods SET
	attended = $3, last_attendance_at = $4, last_attendance_center = $5,
	homework_state = $6, homework_obtained = $7, homework_total = $8,
	quiz_state = $9, quiz_obtained = $10, quiz_total = $11,
	comment = $12, message_student = $13, message_parent = $14, paid = $15, updated_at = $16
WHERE student_id = $1 AND period_key = $2`,
		record.StudentID, record.Period.String(), record.Attended, record.LastAttendanceAt, center,
		string(record.Homework.State), hwObtained, hwTotal,
		string(record.Quiz.State), quizObtained, quizTotal,
		record.Comment, record.Messages.Student, record.Messages.Parent, record.Paid, record.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

func (s *PGPeriodStore) List(ctx context.Context, studentID int64) ([]PeriodRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+periodColumns+` FROM student_periods WHERE student_id = $1`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []PeriodRecord{}
	for rows.Next() {
		record, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

func (s *PGPeriodStore) DeleteAll(ctx context.Context, studentID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM student_periods WHERE student_id = $1`, studentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanPeriod(row pgx.Row) (PeriodRecord, error) {
	var (
		record                  PeriodRecord
		key, hwState, quizState string
		hwObtained, hwTotal     *float64
		quizObtained, quizTotal *float64
		lastAttendance          *time.Time
	)
	err := row.Scan(&record.StudentID, &key, &record.Attended, &lastAttendance, &record.LastAttendanceCenter,
		&hwState, &hwObtained, &hwTotal,
		&quizState, &quizObtained, &quizTotal,
		&record.Comment, &record.Messages.Student, &record.Messages.Parent, &record.Paid, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PeriodRecord{}, ErrPeriodNotFound
		}
		return PeriodRecord{}, err
	}
	if record.Period, err = period.Parse(key); err != nil {
		return PeriodRecord{}, err
	}
	if lastAttendance != nil {
		at := lastAttendance.UTC()
		record.LastAttendanceAt = &at
	}
	record.Homework = Homework{State: HomeworkState(hwState), Score: scoreFrom(hwObtained, hwTotal)}
	record.Quiz = Quiz{State: QuizState(quizState), Score: scoreFrom(quizObtained, quizTotal)}
	return record, nil
}

func scoreArgs(score *Score) (any, any) {
	if score == nil {
		return nil, nil
	}
	return score.Obtained, score.Total
}

func scoreFrom(obtained, total *float64) *Score {
	if obtained == nil || total == nil {
		return nil
	}
	return &Score{Obtained: *obtained, Total: *total}
}

func sortRecords(records []PeriodRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Period.Less(records[j].Period)
	})
}
