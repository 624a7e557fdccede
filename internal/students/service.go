package students

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tutorledger/tutorledger/internal/shared"
)

// RepositoryPort abstracts the directory for the service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Student, error)
	SetState(ctx context.Context, id int64, state AccountState) error
}

// AuditPort abstracts operator audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes the directory to handlers and the CLI.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Get returns the student.
func (s *Service) Get(ctx context.Context, id int64) (Student, error) {
	return s.repo.Get(ctx, id)
}

// SetState activates or deactivates an account.
func (s *Service) SetState(ctx context.Context, id int64, state AccountState, actorID int64) (Student, error) {
	if !state.Valid() {
		return Student{}, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	if err := s.repo.SetState(ctx, id, state); err != nil {
		return Student{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "students:state",
			Entity:   "student",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"state": string(state)},
		}); err != nil {
			s.logger.Warn("audit student state", slog.Int64("student_id", id), slog.Any("error", err))
		}
	}
	return s.repo.Get(ctx, id)
}
