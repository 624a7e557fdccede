package redemption

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tutorledger/tutorledger/internal/ledger"
	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/shared"
)

// PaymentState records whether a view code batch was paid for.
type PaymentState string

const (
	PaymentUnpaid PaymentState = "UNPAID"
	PaymentPaid   PaymentState = "PAID"
)

// Valid reports whether p is a known state.
func (p PaymentState) Valid() bool {
	return p == PaymentUnpaid || p == PaymentPaid
}

// ActivationCode is the single-use account activation code of a student.
type ActivationCode struct {
	OwnerStudentID int64      `json:"owner_student_id"`
	Code           string     `json:"code"`
	Activated      bool       `json:"activated"`
	IssuedAt       time.Time  `json:"issued_at"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty"`
}

// ViewCode is an N-use content view credit code.
type ViewCode struct {
	ID             int64        `json:"id"`
	Code           string       `json:"code"`
	RemainingViews int          `json:"remaining_views"`
	Claimed        bool         `json:"claimed"`
	ClaimedBy      *int64       `json:"claimed_by,omitempty"`
	ClaimedAt      *time.Time   `json:"claimed_at,omitempty"`
	Enabled        bool         `json:"enabled"`
	PaymentState   PaymentState `json:"payment_state"`
	IssuedBy       int64        `json:"issued_by"`
	IssuedAt       time.Time    `json:"issued_at"`
	BatchID        uuid.UUID    `json:"batch_id"`
}

// Exhausted reports whether no views remain.
func (v ViewCode) Exhausted() bool {
	return v.RemainingViews <= 0
}

// ClaimedByOther reports whether the code is bound to a different claimant.
func (v ViewCode) ClaimedByOther(claimant int64) bool {
	return v.Claimed && (v.ClaimedBy == nil || *v.ClaimedBy != claimant)
}

// ClaimResult is returned by a successful check-and-claim.
type ClaimResult struct {
	ViewCodeID     int64  `json:"view_code_id"`
	Code           string `json:"code"`
	RemainingViews int    `json:"remaining_views"`
}

// IssueBatchInput requests a batch of view codes.
type IssueBatchInput struct {
	Count        int          `validate:"required,gt=0,lte=1000"`
	Views        int          `validate:"required,gt=0,lte=1000"`
	IssuedBy     int64        `validate:"gte=0"`
	PaymentState PaymentState `validate:"required,oneof=UNPAID PAID"`
}

// Batch is an issued set of view codes.
type Batch struct {
	ID    uuid.UUID  `json:"id"`
	Codes []ViewCode `json:"codes"`
}

// ConsumeResult describes a finish-driven consumption.
type ConsumeResult struct {
	Code           string `json:"code"`
	Consumed       bool   `json:"consumed"`
	RemainingViews int    `json:"remaining_views"`
}

// FinishInput is a content completion event.
type FinishInput struct {
	StudentID int64
	ContentID int64
	EventID   string
}

// FinishResult describes what a completion event did.
type FinishResult struct {
	ContentID  int64                `json:"content_id"`
	Period     period.Key           `json:"period"`
	Free       bool                 `json:"free"`
	Duplicate  bool                 `json:"duplicate"`
	Granted    bool                 `json:"granted"`
	Consume    *ConsumeResult       `json:"consume,omitempty"`
	Attendance *ledger.PeriodRecord `json:"attendance,omitempty"`
}

// ListFilter narrows view code listings.
type ListFilter struct {
	BatchID *uuid.UUID
	Claimed *bool
	Enabled *bool
	Page    int
	PerPage int
}

// CodePage is one page of a listing.
type CodePage struct {
	Codes      []ViewCode        `json:"codes"`
	Pagination shared.Pagination `json:"pagination"`
}

var (
	// ErrNotFound indicates an unknown code.
	ErrNotFound = fmt.Errorf("redemption: code %w", shared.ErrNotFound)
	// ErrAlreadyActivated indicates a second activation attempt.
	ErrAlreadyActivated = fmt.Errorf("redemption: code already activated: %w", shared.ErrConflict)
	// ErrAlreadyUsed indicates a view code exhausted or claimed by someone else.
	ErrAlreadyUsed = fmt.Errorf("redemption: code already used: %w", shared.ErrConflict)
	// ErrDisabled indicates a code switched off by an operator.
	ErrDisabled = fmt.Errorf("redemption: code disabled: %w", shared.ErrLocked)
	// ErrConflict indicates a concurrent writer changed the code between update and classification.
	ErrConflict = fmt.Errorf("redemption: %w", shared.ErrConflict)
	// ErrInvalidInput indicates malformed input.
	ErrInvalidInput = fmt.Errorf("redemption: invalid input: %w", shared.ErrValidation)
	// ErrRepositoryNotInitialised indicates a missing repository.
	ErrRepositoryNotInitialised = errors.New("redemption repository not initialised")
)
