package credit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/tutorledger/tutorledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	Store() Store
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages session credit accounts.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	validator *validator.Validate
	logger    *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, validator: validator.New(), logger: logger}
}

// ConsumeOne removes one credit from the account.
func ConsumeOne(ctx context.Context, store Store, studentID int64) (int, error) {
	remaining, err := store.Decrement(ctx, studentID)
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// RefundOne returns one credit to the account. Callers must only refund a
// consumption they know happened.
func RefundOne(ctx context.Context, store Store, studentID int64) (int, error) {
	return store.Increment(ctx, studentID)
}

// Get returns the account.
func (s *Service) Get(ctx context.Context, studentID int64) (Account, error) {
	return s.repo.Store().Get(ctx, studentID)
}

// ConsumeOne removes one credit, failing with ErrInsufficientCredit on an empty balance.
func (s *Service) ConsumeOne(ctx context.Context, studentID int64) (Account, error) {
	var acc Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		if _, err := ConsumeOne(ctx, store, studentID); err != nil {
			return err
		}
		var err error
		acc, err = store.Get(ctx, studentID)
		return err
	})
	return acc, err
}

// RefundOne adds one credit back.
func (s *Service) RefundOne(ctx context.Context, studentID int64) (Account, error) {
	var acc Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		if _, err := RefundOne(ctx, store, studentID); err != nil {
			return err
		}
		var err error
		acc, err = store.Get(ctx, studentID)
		return err
	})
	return acc, err
}

// Set overwrites the account. Paid flags on period records are left untouched,
// so un-attending a paid period after an overwrite still refunds one credit.
func (s *Service) Set(ctx context.Context, input SetInput) (Account, error) {
	if err := s.validator.Struct(input); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	acc := Account{
		StudentID:   input.StudentID,
		Remaining:   input.Remaining,
		Cost:        input.Cost,
		Comment:     input.Comment,
		PurchasedAt: input.PurchasedAt,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		return store.Overwrite(ctx, acc)
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, input.ActorID, "credit:set", acc)
	return acc, nil
}

// Clear zeroes the account.
func (s *Service) Clear(ctx context.Context, studentID, actorID int64) (Account, error) {
	acc := Account{StudentID: studentID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		return store.Overwrite(ctx, acc)
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, actorID, "credit:clear", acc)
	return acc, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, acc Account) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "credit_account",
		EntityID: strconv.FormatInt(acc.StudentID, 10),
		Meta: map[string]any{
			"remaining": acc.Remaining,
			"cost":      acc.Cost,
			"comment":   acc.Comment,
		},
	})
	if err != nil {
		s.logger.Warn("audit credit account", slog.Int64("student_id", acc.StudentID), slog.Any("error", err))
	}
}
