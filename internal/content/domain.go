// Package content maps viewable content to the ledger period it counts for
// and remembers which view code a student opened it with.
package content

import (
	"errors"
	"fmt"

	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/shared"
)

// Content is a catalogue entry.
type Content struct {
	ID     int64      `json:"id"`
	Period period.Key `json:"period"`
	Free   bool       `json:"free"`
	Title  string     `json:"title"`
}

var (
	// ErrNotFound indicates unknown content.
	ErrNotFound = fmt.Errorf("content: %w", shared.ErrNotFound)
	// ErrNoBinding indicates no open viewing session for the student and content.
	ErrNoBinding = fmt.Errorf("content: no open view for student: %w", shared.ErrInvalidState)
	// ErrInvalidInput indicates a malformed catalogue entry.
	ErrInvalidInput = fmt.Errorf("content: invalid input: %w", shared.ErrValidation)
	// ErrRepositoryNotInitialised indicates a missing repository.
	ErrRepositoryNotInitialised = errors.New("content repository not initialised")
)
