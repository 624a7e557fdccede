package attendance

import (
	"errors"
	"fmt"
	"time"

	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/shared"
)

// Entry asserts that a student attended a period and has not been un-attended since.
type Entry struct {
	ID         int64
	StudentID  int64
	Period     period.Key
	Center     string
	RecordedAt time.Time
}

// AttendedPeriod is the ledger-side view used to reconcile the log.
type AttendedPeriod struct {
	Period           period.Key
	Center           string
	LastAttendanceAt time.Time
}

// ReportRow joins an audit entry with the student and period snapshots.
// HasRecord is false when the backing period record is missing.
type ReportRow struct {
	EntryID          int64
	StudentID        int64
	Grade            string
	StudentState     string
	Period           period.Key
	HasRecord        bool
	Attended         bool
	Paid             bool
	Center           string
	LastAttendanceAt time.Time
	RecordedAt       time.Time
}

// ReportFilter narrows reporting reads.
type ReportFilter struct {
	StudentID int64
	Grade     string
	Center    string
	From      time.Time
	To        time.Time
	Limit     int
}

// ReconcileResult summarises a repair run for a student.
type ReconcileResult struct {
	StudentID int64
	Removed   int
	Added     int
}

// Changed reports whether the run modified the log.
func (r ReconcileResult) Changed() bool {
	return r.Removed > 0 || r.Added > 0
}

var (
	// ErrRepositoryNotInitialised indicates a missing repository.
	ErrRepositoryNotInitialised = errors.New("attendance repository not initialised")
	// ErrStudentNotFound indicates reconciliation of an unknown student.
	ErrStudentNotFound = fmt.Errorf("attendance: student %w", shared.ErrNotFound)
)
