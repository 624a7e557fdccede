package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/tutorledger/tutorledger/internal/credit"
	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/shared"
	"github.com/tutorledger/tutorledger/internal/students"
)

// HomeworkState is a closed set; the states are mutually exclusive.
type HomeworkState string

const (
	HomeworkNotDone      HomeworkState = "NOT_DONE"
	HomeworkDone         HomeworkState = "DONE"
	HomeworkNoHomework   HomeworkState = "NO_HOMEWORK"
	HomeworkNotCompleted HomeworkState = "NOT_COMPLETED"
)

// Valid reports whether h is a known state.
func (h HomeworkState) Valid() bool {
	switch h {
	case HomeworkNotDone, HomeworkDone, HomeworkNoHomework, HomeworkNotCompleted:
		return true
	}
	return false
}

// QuizState is a closed set; only QuizScored carries a score.
type QuizState string

const (
	QuizUngraded     QuizState = "UNGRADED"
	QuizScored       QuizState = "SCORED"
	QuizDidNotAttend QuizState = "DID_NOT_ATTEND"
	QuizNoQuiz       QuizState = "NO_QUIZ"
)

// Valid reports whether q is a known state.
func (q QuizState) Valid() bool {
	switch q {
	case QuizUngraded, QuizScored, QuizDidNotAttend, QuizNoQuiz:
		return true
	}
	return false
}

// Homework is the homework slot of a period record.
type Homework struct {
	State HomeworkState `json:"state"`
	Score *Score        `json:"score,omitempty"`
}

// Quiz is the quiz slot of a period record.
type Quiz struct {
	State QuizState `json:"state"`
	Score *Score    `json:"score,omitempty"`
}

// Messages tracks which notifications were sent for the period.
type Messages struct {
	Student bool `json:"student"`
	Parent  bool `json:"parent"`
}

// Recipient selects a message flag.
type Recipient string

const (
	RecipientStudent Recipient = "student"
	RecipientParent  Recipient = "parent"
)

// Funding names what pays for an attendance.
type Funding string

const (
	// FundingSessionCredit consumes one prepaid session credit.
	FundingSessionCredit Funding = "SESSION_CREDIT"
	// FundingViewCode is remote attendance paid by a view credit code.
	FundingViewCode Funding = "VIEW_CODE"
	// FundingFreeContent is remote attendance through free content.
	FundingFreeContent Funding = "FREE_CONTENT"
)

// CenterRemote is the center recorded for attendance through content completion.
const CenterRemote = "remote"

// PeriodRecord is the state of one student at one period.
type PeriodRecord struct {
	StudentID            int64      `json:"student_id"`
	Period               period.Key `json:"period"`
	Attended             bool       `json:"attended"`
	LastAttendanceAt     *time.Time `json:"last_attendance_at,omitempty"`
	LastAttendanceCenter string     `json:"last_attendance_center,omitempty"`
	Homework             Homework   `json:"homework"`
	Quiz                 Quiz       `json:"quiz"`
	Comment              *string    `json:"comment,omitempty"`
	Messages             Messages   `json:"messages"`
	Paid                 bool       `json:"paid"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// NewPeriodRecord returns the default record created on first reference.
func NewPeriodRecord(studentID int64, key period.Key) PeriodRecord {
	return PeriodRecord{
		StudentID: studentID,
		Period:    key,
		Homework:  Homework{State: HomeworkNotDone},
		Quiz:      Quiz{State: QuizUngraded},
	}
}

// clearAttendance resets every attendance-dependent field. Paid is left to the caller.
func (r *PeriodRecord) clearAttendance() {
	r.Attended = false
	r.LastAttendanceAt = nil
	r.LastAttendanceCenter = ""
	r.Homework = Homework{State: HomeworkNotDone}
	r.Quiz = Quiz{State: QuizUngraded}
	r.Messages = Messages{}
}

// AttendanceInput requests an attendance transition.
type AttendanceInput struct {
	StudentID int64
	Period    period.Key
	Attended  bool
	Center    string
	Funding   Funding
	ActorID   int64
}

// HomeworkInput requests a homework change.
type HomeworkInput struct {
	StudentID int64
	Period    period.Key
	State     HomeworkState
	Score     *Score
	ActorID   int64
}

// QuizInput requests a quiz change.
type QuizInput struct {
	StudentID int64
	Period    period.Key
	Quiz      Quiz
	ActorID   int64
}

// AttendanceEvent is emitted after a period becomes attended.
type AttendanceEvent struct {
	StudentID int64
	Period    period.Key
	Center    string
	Funding   Funding
	At        time.Time
}

// ResetResult summarises a bulk reset.
type ResetResult struct {
	StudentID      int64 `json:"student_id"`
	RemovedPeriods int   `json:"removed_periods"`
	Refunded       int   `json:"refunded"`
	RemovedAudit   int64 `json:"removed_audit"`
}

var (
	// ErrStudentNotFound indicates an unknown student.
	ErrStudentNotFound = students.ErrNotFound
	// ErrAccountDeactivated rejects any mutation of a deactivated student's ledger.
	ErrAccountDeactivated = students.ErrAccountDeactivated
	// ErrInsufficientCredit rejects a paid attendance without a remaining credit.
	ErrInsufficientCredit = credit.ErrInsufficientCredit
	// ErrPeriodNotFound indicates a period record that does not exist.
	ErrPeriodNotFound = fmt.Errorf("ledger: period %w", shared.ErrNotFound)
	// ErrInvalidState indicates an attendance-dependent mutation on a non-attended period.
	ErrInvalidState = fmt.Errorf("ledger: %w", shared.ErrInvalidState)
	// ErrMustAttendFirst is the InvalidState raised by homework and quiz updates.
	ErrMustAttendFirst = fmt.Errorf("must attend first: %w", ErrInvalidState)
	// ErrConflict indicates a concurrent writer won a race on the same rows.
	ErrConflict = fmt.Errorf("ledger: %w", shared.ErrConflict)
	// ErrInvalidInput indicates malformed input.
	ErrInvalidInput = fmt.Errorf("ledger: invalid input: %w", shared.ErrValidation)
	// ErrRepositoryNotInitialised indicates a missing repository.
	ErrRepositoryNotInitialised = errors.New("ledger repository not initialised")
)
