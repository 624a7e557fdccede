package credit

import (
	"errors"
	"fmt"
	"time"

	"github.com/tutorledger/tutorledger/internal/shared"
)

// Account is the prepaid session balance embedded in a student.
type Account struct {
	StudentID   int64
	Remaining   int
	Cost        float64
	Comment     string
	PurchasedAt time.Time
}

// SetInput describes an administrative overwrite of an account.
type SetInput struct {
	StudentID   int64   `validate:"required,gt=0"`
	Remaining   int     `validate:"gte=0"`
	Cost        float64 `validate:"gte=0"`
	Comment     string  `validate:"max=500"`
	PurchasedAt time.Time
	ActorID     int64
}

var (
	// ErrInsufficientCredit indicates the balance cannot cover another session.
	ErrInsufficientCredit = fmt.Errorf("credit: insufficient session credit: %w", shared.ErrPaymentRequired)
	// ErrNotFound indicates the owning student does not exist.
	ErrNotFound = fmt.Errorf("credit: account %w", shared.ErrNotFound)
	// ErrInvalidInput indicates a malformed overwrite.
	ErrInvalidInput = fmt.Errorf("credit: invalid input: %w", shared.ErrValidation)
	// ErrRepositoryNotInitialised indicates a missing repository.
	ErrRepositoryNotInitialised = errors.New("credit repository not initialised")
)
