package students

import (
	"errors"
	"fmt"

	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/shared"
)

// AccountState enumerates the lifecycle of a student account.
type AccountState string

const (
	// StateActive is the default state; the ledger may be mutated.
	StateActive AccountState = "ACTIVE"
	// StateDeactivated freezes the ledger.
	StateDeactivated AccountState = "DEACTIVATED"
)

// Valid reports whether s is a known state.
func (s AccountState) Valid() bool {
	return s == StateActive || s == StateDeactivated
}

// Student is the slice of the externally owned roster the ledger depends on.
type Student struct {
	ID             int64
	Grade          string
	State          AccountState
	CurrentPeriod  period.Key
	HasLegacyWeeks bool
}

// Active reports whether the ledger of s may be mutated.
func (s Student) Active() bool {
	return s.State == StateActive
}

var (
	// ErrNotFound indicates an unknown student.
	ErrNotFound = fmt.Errorf("students: student %w", shared.ErrNotFound)
	// ErrAccountDeactivated rejects mutations on a deactivated account.
	ErrAccountDeactivated = fmt.Errorf("students: account deactivated: %w", shared.ErrForbidden)
	// ErrInvalidState indicates an unknown account state.
	ErrInvalidState = errors.New("students: invalid account state")
)
