package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tutorledger/tutorledger/internal/attendance"
	"github.com/tutorledger/tutorledger/internal/credit"
	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/shared"
	"github.com/tutorledger/tutorledger/internal/students"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort abstracts operator audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AttendanceNotifier is told about newly attended periods after commit.
type AttendanceNotifier interface {
	AttendanceRecorded(ctx context.Context, event AttendanceEvent) error
}

// Service owns every per-student period transition.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	notifier AttendanceNotifier
	observer shared.OperationObserver
	logger   *slog.Logger
	clock    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		audit:  audit,
		logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetNotifier installs the post-commit attendance notifier.
func (s *Service) SetNotifier(n AttendanceNotifier) {
	s.notifier = n
}

// SetObserver installs an outcome counter for attendance transitions.
func (s *Service) SetObserver(o shared.OperationObserver) {
	s.observer = o
}

// SetClock overrides the time source.
func (s *Service) SetClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// EnsureActive fails with ErrAccountDeactivated unless the student's ledger
// may be mutated.
func (s *Service) EnsureActive(ctx context.Context, studentID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := lockActive(ctx, tx, studentID)
		return err
	})
	if err != nil {
		return fmt.Errorf("ledger: ensure active: %w", err)
	}
	return nil
}

// EnsurePeriod returns the record for key, creating a default one if absent.
func (s *Service) EnsurePeriod(ctx context.Context, studentID int64, key period.Key) (PeriodRecord, error) {
	if key.IsZero() {
		return PeriodRecord{}, fmt.Errorf("%w: period key required", ErrInvalidInput)
	}
	var record PeriodRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		student, err := lockActive(ctx, tx, studentID)
		if err != nil {
			return err
		}
		record, err = s.ensureLocked(ctx, tx, student, key)
		return err
	})
	if err != nil {
		return PeriodRecord{}, fmt.Errorf("ledger: ensure period: %w", err)
	}
	return record, nil
}

// SetAttendance applies the attendance transition. Credits move only on a
// change of the stored paid flag, so repeating a request never double charges
// or double refunds.
//
// The session credit is charged only on a false to true transition. Re-marking
// an already attended period, including one funded remotely and left unpaid,
// refreshes the center and timestamp without charging, even with no credits
// remaining.
func (s *Service) SetAttendance(ctx context.Context, in AttendanceInput) (PeriodRecord, error) {
	record, err := s.setAttendance(ctx, in)
	if s.observer != nil {
		s.observer.ObserveOperation("ledger.attendance", err)
	}
	return record, err
}

func (s *Service) setAttendance(ctx context.Context, in AttendanceInput) (PeriodRecord, error) {
	if in.Period.IsZero() {
		return PeriodRecord{}, fmt.Errorf("%w: period key required", ErrInvalidInput)
	}
	if in.Funding == "" {
		in.Funding = FundingSessionCredit
	}
	switch in.Funding {
	case FundingSessionCredit, FundingViewCode, FundingFreeContent:
	default:
		return PeriodRecord{}, fmt.Errorf("%w: funding %q", ErrInvalidInput, in.Funding)
	}
	in.Center = strings.TrimSpace(in.Center)

	var (
		record   PeriodRecord
		event    *AttendanceEvent
		charged  bool
		refunded bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		student, err := lockActive(ctx, tx, in.StudentID)
		if err != nil {
			return err
		}
		current, err := s.ensureLocked(ctx, tx, student, in.Period)
		if err != nil {
			return err
		}
		now := s.clock()

		if in.Attended {
			if !current.Attended && !current.Paid && in.Funding == FundingSessionCredit {
				if _, err := credit.ConsumeOne(ctx, tx.Credits(), in.StudentID); err != nil {
					return err
				}
				current.Paid = true
				charged = true
			}
			if !current.Attended {
				event = &AttendanceEvent{StudentID: in.StudentID, Period: in.Period, Center: in.Center, Funding: in.Funding, At: now}
			}
			current.Attended = true
			current.LastAttendanceAt = &now
			current.LastAttendanceCenter = in.Center
			if _, err := attendance.Record(ctx, tx.Audit(), attendance.Entry{
				StudentID:  in.StudentID,
				Period:     in.Period,
				Center:     in.Center,
				RecordedAt: now,
			}); err != nil {
				return err
			}
			if event != nil && student.CurrentPeriod != in.Period {
				if err := tx.Students().SetCurrentPeriod(ctx, in.StudentID, in.Period); err != nil {
					return err
				}
			}
		} else {
			if current.Attended {
				current.clearAttendance()
				if current.Paid {
					if _, err := credit.RefundOne(ctx, tx.Credits(), in.StudentID); err != nil {
						return err
					}
					current.Paid = false
					refunded = true
				}
				if student.CurrentPeriod == in.Period {
					if err := tx.Students().SetCurrentPeriod(ctx, in.StudentID, period.Key{}); err != nil {
						return err
					}
				}
			}
			if _, err := attendance.Retract(ctx, tx.Audit(), in.StudentID, in.Period); err != nil {
				return err
			}
		}

		current.UpdatedAt = now
		if err := tx.Periods().Update(ctx, current); err != nil {
			return err
		}
		record = current
		return nil
	})
	if err != nil {
		return PeriodRecord{}, fmt.Errorf("ledger: set attendance: %w", err)
	}

	s.logger.Info("attendance updated",
		slog.Int64("student_id", in.StudentID),
		slog.String("period", in.Period.String()),
		slog.Bool("attended", in.Attended),
		slog.String("funding", string(in.Funding)),
		slog.Bool("charged", charged),
		slog.Bool("refunded", refunded))
	s.recordAudit(ctx, in.ActorID, "ledger:attendance", in.StudentID, map[string]any{
		"period":   in.Period.String(),
		"attended": in.Attended,
		"center":   in.Center,
		"funding":  string(in.Funding),
		"charged":  charged,
		"refunded": refunded,
	})
	if event != nil && s.notifier != nil {
		if err := s.notifier.AttendanceRecorded(ctx, *event); err != nil {
			s.logger.Error("attendance notify", slog.Any("error", err), slog.Int64("student_id", in.StudentID))
		}
	}
	return record, nil
}

// SetHomework records the homework outcome of an attended period.
func (s *Service) SetHomework(ctx context.Context, in HomeworkInput) (PeriodRecord, error) {
	if !in.State.Valid() {
		return PeriodRecord{}, fmt.Errorf("ledger: set homework: %w: homework state %q", ErrInvalidState, in.State)
	}
	if in.Score != nil {
		if in.State != HomeworkDone {
			return PeriodRecord{}, fmt.Errorf("ledger: set homework: %w: score requires %s", ErrInvalidState, HomeworkDone)
		}
		if err := in.Score.Validate(); err != nil {
			return PeriodRecord{}, fmt.Errorf("ledger: set homework: %w", err)
		}
	}
	homework := Homework{State: in.State, Score: in.Score}
	record, err := s.mutate(ctx, in.StudentID, in.Period, true, func(r *PeriodRecord) {
		r.Homework = homework
	})
	if err != nil {
		return PeriodRecord{}, fmt.Errorf("ledger: set homework: %w", err)
	}
	s.recordAudit(ctx, in.ActorID, "ledger:homework", in.StudentID, map[string]any{
		"period": in.Period.String(),
		"state":  string(in.State),
		"score":  scoreText(in.Score),
	})
	return record, nil
}

// SetQuiz records the quiz outcome of an attended period. UNGRADED clears it.
func (s *Service) SetQuiz(ctx context.Context, in QuizInput) (PeriodRecord, error) {
	quiz := in.Quiz
	if !quiz.State.Valid() {
		return PeriodRecord{}, fmt.Errorf("ledger: set quiz: %w: quiz state %q", ErrInvalidState, quiz.State)
	}
	if quiz.State == QuizScored {
		if quiz.Score == nil {
			return PeriodRecord{}, fmt.Errorf("ledger: set quiz: %w: %s requires a score", ErrInvalidState, QuizScored)
		}
		if err := quiz.Score.Validate(); err != nil {
			return PeriodRecord{}, fmt.Errorf("ledger: set quiz: %w", err)
		}
	} else if quiz.Score != nil {
		return PeriodRecord{}, fmt.Errorf("ledger: set quiz: %w: %s carries no score", ErrInvalidState, quiz.State)
	}
	record, err := s.mutate(ctx, in.StudentID, in.Period, true, func(r *PeriodRecord) {
		r.Quiz = quiz
	})
	if err != nil {
		return PeriodRecord{}, fmt.Errorf("ledger: set quiz: %w", err)
	}
	s.recordAudit(ctx, in.ActorID, "ledger:quiz", in.StudentID, map[string]any{
		"period": in.Period.String(),
		"state":  string(quiz.State),
		"score":  scoreText(quiz.Score),
	})
	return record, nil
}

// SetComment stores or clears the period comment. Blank text clears it.
func (s *Service) SetComment(ctx context.Context, studentID int64, key period.Key, text *string, actorID int64) (PeriodRecord, error) {
	var comment *string
	if text != nil && strings.TrimSpace(*text) != "" {
		value := strings.TrimSpace(*text)
		comment = &value
	}
	record, err := s.mutate(ctx, studentID, key, false, func(r *PeriodRecord) {
		r.Comment = comment
	})
	if err != nil {
		return PeriodRecord{}, fmt.Errorf("ledger: set comment: %w", err)
	}
	s.recordAudit(ctx, actorID, "ledger:comment", studentID, map[string]any{
		"period":  key.String(),
		"cleared": comment == nil,
	})
	return record, nil
}

// SetMessageFlag marks whether the student or parent message for the period was sent.
func (s *Service) SetMessageFlag(ctx context.Context, studentID int64, key period.Key, recipient Recipient, sent bool, actorID int64) (PeriodRecord, error) {
	if recipient != RecipientStudent && recipient != RecipientParent {
		return PeriodRecord{}, fmt.Errorf("ledger: set message flag: %w: recipient %q", ErrInvalidInput, recipient)
	}
	record, err := s.mutate(ctx, studentID, key, false, func(r *PeriodRecord) {
		if recipient == RecipientStudent {
			r.Messages.Student = sent
		} else {
			r.Messages.Parent = sent
		}
	})
	if err != nil {
		return PeriodRecord{}, fmt.Errorf("ledger: set message flag: %w", err)
	}
	s.recordAudit(ctx, actorID, "ledger:message", studentID, map[string]any{
		"period":    key.String(),
		"recipient": string(recipient),
		"sent":      sent,
	})
	return record, nil
}

// GetProgress lists every period record of the student in key order.
func (s *Service) GetProgress(ctx context.Context, studentID int64) ([]PeriodRecord, error) {
	var records []PeriodRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		student, err := tx.Students().Get(ctx, studentID)
		if err != nil {
			return err
		}
		if student.HasLegacyWeeks {
			if err := s.migrateLegacy(ctx, tx, studentID); err != nil {
				return err
			}
		}
		records, err = tx.Periods().List(ctx, studentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: get progress: %w", err)
	}
	return records, nil
}

// GetPeriod returns one record without creating it.
func (s *Service) GetPeriod(ctx context.Context, studentID int64, key period.Key) (PeriodRecord, error) {
	var record PeriodRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		student, err := tx.Students().Get(ctx, studentID)
		if err != nil {
			return err
		}
		if student.HasLegacyWeeks {
			if err := s.migrateLegacy(ctx, tx, studentID); err != nil {
				return err
			}
		}
		record, err = tx.Periods().Get(ctx, studentID, key)
		return err
	})
	if err != nil {
		return PeriodRecord{}, fmt.Errorf("ledger: get period: %w", err)
	}
	return record, nil
}

// ResetProgress deletes every period record and audit entry of the student,
// refunding each paid period first.
func (s *Service) ResetProgress(ctx context.Context, studentID int64, actorID int64) (ResetResult, error) {
	result := ResetResult{StudentID: studentID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		student, err := lockActive(ctx, tx, studentID)
		if err != nil {
			return err
		}
		if student.HasLegacyWeeks {
			if err := s.migrateLegacy(ctx, tx, studentID); err != nil {
				return err
			}
		}
		records, err := tx.Periods().List(ctx, studentID)
		if err != nil {
			return err
		}
		for _, record := range records {
			if !record.Paid {
				continue
			}
			if _, err := credit.RefundOne(ctx, tx.Credits(), studentID); err != nil {
				return err
			}
			result.Refunded++
		}
		removed, err := tx.Periods().DeleteAll(ctx, studentID)
		if err != nil {
			return err
		}
		result.RemovedPeriods = int(removed)
		if result.RemovedAudit, err = tx.Audit().DeleteStudent(ctx, studentID); err != nil {
			return err
		}
		if !student.CurrentPeriod.IsZero() {
			return tx.Students().SetCurrentPeriod(ctx, studentID, period.Key{})
		}
		return nil
	})
	if err != nil {
		return ResetResult{}, fmt.Errorf("ledger: reset progress: %w", err)
	}
	s.logger.Info("progress reset",
		slog.Int64("student_id", studentID),
		slog.Int("removed_periods", result.RemovedPeriods),
		slog.Int("refunded", result.Refunded))
	s.recordAudit(ctx, actorID, "ledger:reset", studentID, map[string]any{
		"removed_periods": result.RemovedPeriods,
		"refunded":        result.Refunded,
		"removed_audit":   result.RemovedAudit,
	})
	return result, nil
}

// mutate applies fn to the locked record of an active student.
func (s *Service) mutate(ctx context.Context, studentID int64, key period.Key, requireAttended bool, fn func(*PeriodRecord)) (PeriodRecord, error) {
	if key.IsZero() {
		return PeriodRecord{}, fmt.Errorf("%w: period key required", ErrInvalidInput)
	}
	var record PeriodRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		student, err := lockActive(ctx, tx, studentID)
		if err != nil {
			return err
		}
		current, err := s.ensureLocked(ctx, tx, student, key)
		if err != nil {
			return err
		}
		if requireAttended && !current.Attended {
			return ErrMustAttendFirst
		}
		fn(&current)
		current.UpdatedAt = s.clock()
		if err := tx.Periods().Update(ctx, current); err != nil {
			return err
		}
		record = current
		return nil
	})
	return record, err
}

func lockActive(ctx context.Context, tx TxRepository, studentID int64) (students.Student, error) {
	student, err := tx.Students().GetForUpdate(ctx, studentID)
	if err != nil {
		return students.Student{}, err
	}
	if !student.Active() {
		return students.Student{}, ErrAccountDeactivated
	}
	return student, nil
}

// ensureLocked migrates legacy weeks if present, creates the record if absent
// and returns it row-locked. The student row must already be locked.
func (s *Service) ensureLocked(ctx context.Context, tx TxRepository, student students.Student, key period.Key) (PeriodRecord, error) {
	if student.HasLegacyWeeks {
		if err := s.migrateLegacy(ctx, tx, student.ID); err != nil {
			return PeriodRecord{}, err
		}
	}
	fresh := NewPeriodRecord(student.ID, key)
	fresh.UpdatedAt = s.clock()
	if _, err := tx.Periods().InsertIfAbsent(ctx, fresh); err != nil {
		return PeriodRecord{}, err
	}
	return tx.Periods().GetForUpdate(ctx, student.ID, key)
}

// migrateLegacy moves the positional weeks array into keyed records. Keyed
// records that already exist win over their legacy counterpart.
func (s *Service) migrateLegacy(ctx context.Context, tx TxRepository, studentID int64) error {
	raw, err := tx.Students().TakeLegacyWeeks(ctx, studentID)
	if err != nil || raw == nil {
		return err
	}
	records, err := decodeLegacyWeeks(studentID, raw)
	if err != nil {
		return err
	}
	now := s.clock()
	migrated := 0
	for _, record := range records {
		record.UpdatedAt = now
		inserted, err := tx.Periods().InsertIfAbsent(ctx, record)
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}
		migrated++
		if !record.Attended {
			continue
		}
		recordedAt := now
		if record.LastAttendanceAt != nil {
			recordedAt = *record.LastAttendanceAt
		}
		if _, err := attendance.Record(ctx, tx.Audit(), attendance.Entry{
			StudentID:  studentID,
			Period:     record.Period,
			Center:     record.LastAttendanceCenter,
			RecordedAt: recordedAt,
		}); err != nil {
			return err
		}
	}
	s.logger.Info("legacy weeks migrated", slog.Int64("student_id", studentID), slog.Int("records", migrated))
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, studentID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "student",
		EntityID: strconv.FormatInt(studentID, 10),
		Meta:     meta,
		At:       s.clock(),
	}); err != nil {
		s.logger.Error("audit ledger", slog.Any("error", err), slog.String("action", action))
	}
}

func scoreText(score *Score) any {
	if score == nil {
		return nil
	}
	return score.String()
}
