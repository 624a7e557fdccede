package attendance

import (
	"context"
	"log/slog"
	"time"

	"github.com/tutorledger/tutorledger/internal/period"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	Store() Store
}

// Record inserts an entry for (studentID, key) unless one already exists.
// The check and the insert are not atomic; readers tolerate duplicates.
func Record(ctx context.Context, store Store, entry Entry) (bool, error) {
	exists, err := store.Exists(ctx, entry.StudentID, entry.Period)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := store.Insert(ctx, entry); err != nil {
		return false, err
	}
	return true, nil
}

// Retract removes every entry for (studentID, key), healing earlier duplicates.
func Retract(ctx context.Context, store Store, studentID int64, key period.Key) (int64, error) {
	return store.DeleteAll(ctx, studentID, key)
}

// Service exposes the audit log to reporting and maintenance.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	clock  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Record appends an entry for the pair if none exists.
func (s *Service) Record(ctx context.Context, studentID int64, key period.Key, center string) (bool, error) {
	var inserted bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		inserted, err = Record(ctx, store, Entry{StudentID: studentID, Period: key, Center: center, RecordedAt: s.clock()})
		return err
	})
	return inserted, err
}

// Retract deletes all entries for the pair.
func (s *Service) Retract(ctx context.Context, studentID int64, key period.Key) (int64, error) {
	var removed int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		removed, err = Retract(ctx, store, studentID, key)
		return err
	})
	return removed, err
}

// ListForReporting returns one row per attended (student, period) pair. Entries
// whose period record is missing or no longer attended are stale and skipped,
// as are duplicates of an already emitted pair. Stores drop both before the
// limit applies; the pass here guards against a store that does not. The read
// never writes.
func (s *Service) ListForReporting(ctx context.Context, filter ReportFilter) ([]ReportRow, error) {
	rows, err := s.repo.Store().ListReport(ctx, filter)
	if err != nil {
		return nil, err
	}
	type pair struct {
		studentID int64
		key       period.Key
	}
	seen := make(map[pair]struct{}, len(rows))
	result := make([]ReportRow, 0, len(rows))
	stale := 0
	for _, row := range rows {
		if !row.HasRecord || !row.Attended {
			stale++
			continue
		}
		p := pair{studentID: row.StudentID, key: row.Period}
		if _, dup := seen[p]; dup {
			stale++
			continue
		}
		seen[p] = struct{}{}
		result = append(result, row)
	}
	if stale > 0 {
		s.logger.Debug("attendance report skipped stale entries", slog.Int("stale", stale))
	}
	return result, nil
}

// Reconcile repairs the log of one student from the ledger, which is the
// source of truth: stale and duplicate entries are removed and missing ones added.
func (s *Service) Reconcile(ctx context.Context, studentID int64) (ReconcileResult, error) {
	result := ReconcileResult{StudentID: studentID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		result = ReconcileResult{StudentID: studentID}
		if err := store.LockStudent(ctx, studentID); err != nil {
			return err
		}
		attended, err := store.AttendedPeriods(ctx, studentID)
		if err != nil {
			return err
		}
		entries, err := store.ListForStudent(ctx, studentID)
		if err != nil {
			return err
		}
		want := make(map[period.Key]AttendedPeriod, len(attended))
		for _, ap := range attended {
			want[ap.Period] = ap
		}
		kept := make(map[period.Key]struct{}, len(entries))
		var stale []int64
		for _, entry := range entries {
			if _, ok := want[entry.Period]; !ok {
				stale = append(stale, entry.ID)
				continue
			}
			if _, dup := kept[entry.Period]; dup {
				stale = append(stale, entry.ID)
				continue
			}
			kept[entry.Period] = struct{}{}
		}
		removed, err := store.DeleteByIDs(ctx, stale)
		if err != nil {
			return err
		}
		result.Removed = int(removed)
		for _, ap := range attended {
			if _, ok := kept[ap.Period]; ok {
				continue
			}
			recordedAt := ap.LastAttendanceAt
			if recordedAt.IsZero() {
				recordedAt = s.clock()
			}
			if _, err := store.Insert(ctx, Entry{StudentID: studentID, Period: ap.Period, Center: ap.Center, RecordedAt: recordedAt}); err != nil {
				return err
			}
			result.Added++
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{StudentID: studentID}, err
	}
	if result.Changed() {
		s.logger.Info("attendance log reconciled",
			slog.Int64("student_id", studentID),
			slog.Int("removed", result.Removed),
			slog.Int("added", result.Added),
		)
	}
	return result, nil
}

// DriftedStudents lists students whose log disagrees with the ledger.
func (s *Service) DriftedStudents(ctx context.Context, limit int) ([]int64, error) {
	return s.repo.Store().DriftedStudents(ctx, limit)
}
