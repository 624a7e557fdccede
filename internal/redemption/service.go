package redemption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tutorledger/tutorledger/internal/content"
	"github.com/tutorledger/tutorledger/internal/ledger"
	"github.com/tutorledger/tutorledger/internal/shared"
)

// CatalogPort resolves content to its period and free flag.
type CatalogPort interface {
	Get(ctx context.Context, id int64) (content.Content, error)
}

// BindingPort remembers the code a student opened content with.
type BindingPort interface {
	Bind(ctx context.Context, studentID, contentID int64, code string) error
	Lookup(ctx context.Context, studentID, contentID int64) (string, error)
	Release(ctx context.Context, studentID, contentID int64) error
}

// LedgerPort records remote attendance.
type LedgerPort interface {
	EnsureActive(ctx context.Context, studentID int64) error
	SetAttendance(ctx context.Context, in ledger.AttendanceInput) (ledger.PeriodRecord, error)
}

// IdempotencyPort de-duplicates finish events.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts operator audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Deps groups the collaborators of Service.
type Deps struct {
	Store       Store
	Catalog     CatalogPort
	Bindings    BindingPort
	Ledger      LedgerPort
	Idempotency IdempotencyPort
	Audit       AuditPort
	Observer    shared.OperationObserver
	Logger      *slog.Logger
}

// Service governs activation and view credit codes.
type Service struct {
	store       Store
	catalog     CatalogPort
	bindings    BindingPort
	ledger      LedgerPort
	idempotency IdempotencyPort
	audit       AuditPort
	observer    shared.OperationObserver
	logger      *slog.Logger
	validator   *validator.Validate
	generate    Generator
	clock       func() time.Time
}

const (
	idempotencyModule = "redemption:finish"
	maxCodeAttempts   = 5
)

// NewService builds Service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       deps.Store,
		catalog:     deps.Catalog,
		bindings:    deps.Bindings,
		ledger:      deps.Ledger,
		idempotency: deps.Idempotency,
		audit:       deps.Audit,
		observer:    deps.Observer,
		logger:      logger,
		validator:   validator.New(),
		generate:    RandomCode,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetGenerator overrides the code generator.
func (s *Service) SetGenerator(g Generator) {
	if g != nil {
		s.generate = g
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// IssueActivationCode creates or regenerates the owner's activation code.
func (s *Service) IssueActivationCode(ctx context.Context, owner int64, actorID int64) (ActivationCode, error) {
	if owner <= 0 {
		return ActivationCode{}, fmt.Errorf("%w: owner required", ErrInvalidInput)
	}
	var (
		ac  ActivationCode
		err error
	)
	for range maxCodeAttempts {
		var code string
		if code, err = s.generate(activationGroups); err != nil {
			return ActivationCode{}, err
		}
		ac, err = s.store.UpsertActivationCode(ctx, owner, code, s.clock())
		if !errors.Is(err, ErrConflict) {
			break
		}
	}
	if err != nil {
		return ActivationCode{}, fmt.Errorf("redemption: issue activation code: %w", err)
	}
	s.recordAudit(ctx, actorID, "redemption:activation:issue", "student", strconv.FormatInt(owner, 10), nil)
	return ac, nil
}

// ActivationCodeFor returns the current activation code of owner.
func (s *Service) ActivationCodeFor(ctx context.Context, owner int64) (ActivationCode, error) {
	if owner <= 0 {
		return ActivationCode{}, fmt.Errorf("%w: owner required", ErrInvalidInput)
	}
	ac, err := s.store.GetActivationCodeByOwner(ctx, owner)
	if err != nil {
		return ActivationCode{}, fmt.Errorf("redemption: activation code of %d: %w", owner, err)
	}
	return ac, nil
}

// Activate consumes an activation code.
func (s *Service) Activate(ctx context.Context, code string) (ActivationCode, error) {
	ac, err := s.activate(ctx, code)
	s.observe("redemption.activate", err)
	return ac, err
}

func (s *Service) activate(ctx context.Context, code string) (ActivationCode, error) {
	code = NormalizeCode(code)
	if code == "" {
		return ActivationCode{}, fmt.Errorf("%w: code required", ErrInvalidInput)
	}
	ac, ok, err := s.store.Activate(ctx, code, s.clock())
	if err != nil {
		return ActivationCode{}, fmt.Errorf("redemption: activate: %w", err)
	}
	if ok {
		s.logger.Info("activation code used", slog.Int64("student_id", ac.OwnerStudentID))
		return ac, nil
	}
	current, err := s.store.GetActivationCode(ctx, code)
	if err != nil {
		return ActivationCode{}, fmt.Errorf("redemption: activate: %w", err)
	}
	if current.Activated {
		return ActivationCode{}, ErrAlreadyActivated
	}
	return ActivationCode{}, ErrConflict
}

// IssueViewCodes creates a batch of enabled, unclaimed view codes.
func (s *Service) IssueViewCodes(ctx context.Context, input IssueBatchInput) (Batch, error) {
	if input.PaymentState == "" {
		input.PaymentState = PaymentUnpaid
	}
	if err := s.validator.Struct(input); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	batch := Batch{ID: uuid.New()}
	now := s.clock()
	var err error
	for range maxCodeAttempts {
		codes := make([]ViewCode, 0, input.Count)
		seen := make(map[string]struct{}, input.Count)
		for len(codes) < input.Count {
			code, genErr := s.generate(viewGroups)
			if genErr != nil {
				return Batch{}, genErr
			}
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			codes = append(codes, ViewCode{
				Code:           code,
				RemainingViews: input.Views,
				Enabled:        true,
				PaymentState:   input.PaymentState,
				IssuedBy:       input.IssuedBy,
				IssuedAt:       now,
				BatchID:        batch.ID,
			})
		}
		batch.Codes, err = s.store.InsertViewCodes(ctx, codes)
		if !errors.Is(err, ErrConflict) {
			break
		}
	}
	if err != nil {
		return Batch{}, fmt.Errorf("redemption: issue view codes: %w", err)
	}
	s.logger.Info("view codes issued",
		slog.String("batch_id", batch.ID.String()),
		slog.Int("count", input.Count),
		slog.Int("views", input.Views))
	s.recordAudit(ctx, input.IssuedBy, "redemption:view:issue", "view_code_batch", batch.ID.String(), map[string]any{
		"count":         input.Count,
		"views":         input.Views,
		"payment_state": string(input.PaymentState),
	})
	return batch, nil
}

// CheckAndClaim validates a view code for claimant and binds it on first use.
// The same claimant may re-check a code that still has views left.
func (s *Service) CheckAndClaim(ctx context.Context, code string, claimant int64) (ClaimResult, error) {
	result, err := s.checkAndClaim(ctx, code, claimant)
	s.observe("redemption.claim", err)
	return result, err
}

func (s *Service) checkAndClaim(ctx context.Context, code string, claimant int64) (ClaimResult, error) {
	code = NormalizeCode(code)
	if code == "" || claimant <= 0 {
		return ClaimResult{}, fmt.Errorf("%w: code and claimant required", ErrInvalidInput)
	}
	vc, ok, err := s.store.Claim(ctx, code, claimant, s.clock())
	if err != nil {
		return ClaimResult{}, fmt.Errorf("redemption: claim: %w", err)
	}
	if !ok {
		return ClaimResult{}, s.classifyClaim(ctx, code, claimant)
	}
	return ClaimResult{ViewCodeID: vc.ID, Code: vc.Code, RemainingViews: vc.RemainingViews}, nil
}

func (s *Service) classifyClaim(ctx context.Context, code string, claimant int64) error {
	vc, err := s.store.GetViewCode(ctx, code)
	if err != nil {
		return fmt.Errorf("redemption: claim: %w", err)
	}
	switch {
	case !vc.Enabled:
		return ErrDisabled
	case vc.Exhausted(), vc.ClaimedByOther(claimant):
		return ErrAlreadyUsed
	}
	return ErrConflict
}

// Open claims code for claimant and binds it to the content being viewed.
// Opening never consumes a view.
func (s *Service) Open(ctx context.Context, code string, claimant, contentID int64) (ClaimResult, error) {
	item, err := s.catalog.Get(ctx, contentID)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("redemption: open: %w", err)
	}
	result, err := s.CheckAndClaim(ctx, code, claimant)
	if err != nil {
		return ClaimResult{}, err
	}
	if err := s.bindings.Bind(ctx, claimant, item.ID, result.Code); err != nil {
		return ClaimResult{}, fmt.Errorf("redemption: open: bind: %w", err)
	}
	return result, nil
}

// ConsumeOnFinish removes one view from a code held by claimant. An exhausted
// code is left untouched and reported with Consumed=false.
func (s *Service) ConsumeOnFinish(ctx context.Context, code string, claimant int64) (ConsumeResult, error) {
	code = NormalizeCode(code)
	vc, ok, err := s.store.DecrementView(ctx, code, claimant, s.clock())
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("redemption: consume: %w", err)
	}
	if ok {
		return ConsumeResult{Code: vc.Code, Consumed: true, RemainingViews: vc.RemainingViews}, nil
	}
	current, err := s.store.GetViewCode(ctx, code)
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("redemption: consume: %w", err)
	}
	switch {
	case current.ClaimedByOther(claimant):
		return ConsumeResult{}, ErrAlreadyUsed
	case !current.Enabled:
		return ConsumeResult{}, ErrDisabled
	case current.Exhausted():
		return ConsumeResult{Code: current.Code, RemainingViews: 0}, nil
	}
	return ConsumeResult{}, ErrConflict
}

// Finish handles a content completion event. Free content grants attendance
// once per student; paid content consumes a view of the bound code and then
// records remote attendance. A repeated eventID is reported as Duplicate.
func (s *Service) Finish(ctx context.Context, in FinishInput) (FinishResult, error) {
	if in.StudentID <= 0 || in.ContentID <= 0 {
		return FinishResult{}, fmt.Errorf("%w: student and content required", ErrInvalidInput)
	}
	result := FinishResult{ContentID: in.ContentID}
	eventKey := ""
	if in.EventID = strings.TrimSpace(in.EventID); in.EventID != "" && s.idempotency != nil {
		eventKey = fmt.Sprintf("finish:%d:%s", in.StudentID, in.EventID)
		if err := s.idempotency.CheckAndInsert(ctx, eventKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				result.Duplicate = true
				return result, nil
			}
			return FinishResult{}, fmt.Errorf("redemption: finish: %w", err)
		}
	}
	out, err := s.finish(ctx, in, result)
	s.observe("redemption.finish", err)
	// Once a view or free grant is spent the event must stay recorded.
	if err != nil && eventKey != "" && !out.Granted {
		if delErr := s.idempotency.Delete(ctx, eventKey); delErr != nil {
			s.logger.Error("finish idempotency rollback", slog.Any("error", delErr), slog.String("key", eventKey))
		}
	}
	return out, err
}

func (s *Service) finish(ctx context.Context, in FinishInput, result FinishResult) (FinishResult, error) {
	item, err := s.catalog.Get(ctx, in.ContentID)
	if err != nil {
		return FinishResult{}, fmt.Errorf("redemption: finish: %w", err)
	}
	result.Period = item.Period
	result.Free = item.Free
	// Nothing may be spent for a student the ledger would refuse.
	if err := s.ledger.EnsureActive(ctx, in.StudentID); err != nil {
		return FinishResult{}, fmt.Errorf("redemption: finish: %w", err)
	}

	funding := ledger.FundingViewCode
	if item.Free {
		granted, err := s.store.InsertFreeAccess(ctx, in.StudentID, item.ID, s.clock())
		if err != nil {
			return FinishResult{}, fmt.Errorf("redemption: finish: free access: %w", err)
		}
		if !granted {
			return result, nil
		}
		result.Granted = true
		funding = ledger.FundingFreeContent
	} else {
		code, err := s.bindings.Lookup(ctx, in.StudentID, item.ID)
		if err != nil {
			return FinishResult{}, fmt.Errorf("redemption: finish: %w", err)
		}
		consume, err := s.ConsumeOnFinish(ctx, code, in.StudentID)
		if err != nil {
			return FinishResult{}, err
		}
		result.Consume = &consume
		if err := s.bindings.Release(ctx, in.StudentID, item.ID); err != nil {
			s.logger.Error("release binding", slog.Any("error", err), slog.Int64("content_id", item.ID))
		}
		if !consume.Consumed {
			return result, nil
		}
		result.Granted = true
	}

	record, err := s.ledger.SetAttendance(ctx, ledger.AttendanceInput{
		StudentID: in.StudentID,
		Period:    item.Period,
		Attended:  true,
		Center:    ledger.CenterRemote,
		Funding:   funding,
		ActorID:   in.StudentID,
	})
	if err != nil {
		s.logger.Error("remote attendance after finish",
			slog.Any("error", err),
			slog.Int64("student_id", in.StudentID),
			slog.Int64("content_id", item.ID))
		return result, fmt.Errorf("redemption: finish: %w", err)
	}
	result.Attendance = &record
	return result, nil
}

// SetEnabled switches a view code on or off.
func (s *Service) SetEnabled(ctx context.Context, code string, enabled bool, actorID int64) (ViewCode, error) {
	vc, err := s.store.SetEnabled(ctx, NormalizeCode(code), enabled)
	if err != nil {
		return ViewCode{}, fmt.Errorf("redemption: set enabled: %w", err)
	}
	s.recordAudit(ctx, actorID, "redemption:view:enabled", "view_code", strconv.FormatInt(vc.ID, 10), map[string]any{"enabled": enabled})
	return vc, nil
}

// ListViewCodes returns a page of view codes.
func (s *Service) ListViewCodes(ctx context.Context, filter ListFilter) (CodePage, error) {
	page := shared.PageRequest{Page: filter.Page, PerPage: filter.PerPage}.Normalize()
	filter.Page, filter.PerPage = page.Page, page.PerPage
	codes, total, err := s.store.ListViewCodes(ctx, filter)
	if err != nil {
		return CodePage{}, fmt.Errorf("redemption: list view codes: %w", err)
	}
	return CodePage{Codes: codes, Pagination: shared.NewPagination(page, total)}, nil
}

func (s *Service) observe(op string, err error) {
	if s.observer != nil {
		s.observer.ObserveOperation(op, err)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.clock(),
	}); err != nil {
		s.logger.Error("audit redemption", slog.Any("error", err), slog.String("action", action))
	}
}
