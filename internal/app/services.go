package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tutorledger/tutorledger/internal/attendance"
	"github.com/tutorledger/tutorledger/internal/content"
	"github.com/tutorledger/tutorledger/internal/credit"
	"github.com/tutorledger/tutorledger/internal/ledger"
	"github.com/tutorledger/tutorledger/internal/observability"
	"github.com/tutorledger/tutorledger/internal/rbac"
	"github.com/tutorledger/tutorledger/internal/redemption"
	"github.com/tutorledger/tutorledger/internal/shared"
	"github.com/tutorledger/tutorledger/internal/students"
)

// Services holds the domain services shared by the server, worker and CLI.
type Services struct {
	Students    *students.Service
	Ledger      *ledger.Service
	Credits     *credit.Service
	Attendance  *attendance.Service
	Redemption  *redemption.Service
	Catalog     *content.CachedCatalog
	Idempotency *shared.IdempotencyStore
}

// NewServices wires the services on one pool and Redis client. A nil
// notifier leaves attendance notifications off.
func NewServices(cfg *Config, pool *pgxpool.Pool, rdb *redis.Client, metrics *observability.Metrics, notifier ledger.AttendanceNotifier, logger *slog.Logger) *Services {
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	ledgerService := ledger.NewService(ledger.NewRepository(pool), auditLogger, logger)
	if notifier != nil {
		ledgerService.SetNotifier(notifier)
	}
	if metrics != nil {
		ledgerService.SetObserver(metrics)
	}

	catalog := content.NewCachedCatalog(content.NewRepository(pool), rdb, cfg.ContentCacheTTL)
	var observer shared.OperationObserver
	if metrics != nil {
		observer = metrics
	}
	redemptionService := redemption.NewService(redemption.Deps{
		Store:       redemption.NewRepository(pool),
		Catalog:     catalog,
		Bindings:    content.NewBindingStore(rdb, cfg.ContentBindingTTL),
		Ledger:      ledgerService,
		Idempotency: idempotency,
		Audit:       auditLogger,
		Observer:    observer,
		Logger:      logger,
	})

	return &Services{
		Students:    students.NewService(students.NewRepository(pool), auditLogger, logger),
		Ledger:      ledgerService,
		Credits:     credit.NewService(credit.NewRepository(pool), auditLogger, logger),
		Attendance:  attendance.NewService(attendance.NewRepository(pool), logger),
		Redemption:  redemptionService,
		Catalog:     catalog,
		Idempotency: idempotency,
	}
}

// Handlers returns the HTTP adapters of every service.
func (s *Services) Handlers(logger *slog.Logger) []RouteMounter {
	mw := rbac.Middleware{Logger: logger}
	return []RouteMounter{
		students.NewHandler(logger, s.Students, mw),
		ledger.NewHandler(logger, s.Ledger, mw),
		credit.NewHandler(logger, s.Credits, mw),
		attendance.NewHandler(logger, s.Attendance, mw),
		redemption.NewHandler(logger, s.Redemption, mw),
	}
}
