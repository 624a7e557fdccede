package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tutorledger/tutorledger/internal/app"
	"github.com/tutorledger/tutorledger/internal/content"
	"github.com/tutorledger/tutorledger/internal/credit"
	"github.com/tutorledger/tutorledger/internal/platform/cache"
	"github.com/tutorledger/tutorledger/internal/platform/db"
	"github.com/tutorledger/tutorledger/internal/redemption"
	"github.com/tutorledger/tutorledger/jobs"
	"github.com/tutorledger/tutorledger/migrations"
)

// Backend is everything the commands need from the running system.
type Backend interface {
	Migrate(ctx context.Context) ([]string, error)
	Reconcile(ctx context.Context, payload jobs.ReconcilePayload) (jobs.ReconcileSummary, error)
	IssueActivationCode(ctx context.Context, owner int64) (redemption.ActivationCode, error)
	ActivationCode(ctx context.Context, owner int64) (redemption.ActivationCode, error)
	IssueViewCodes(ctx context.Context, input redemption.IssueBatchInput) (redemption.Batch, error)
	SetCredits(ctx context.Context, input credit.SetInput) (credit.Account, error)
	UpsertContent(ctx context.Context, item content.Content) error
	TriggerJob(ctx context.Context, name string) (*asynq.TaskInfo, error)
	QueueStats(ctx context.Context) (QueueStats, error)
	Close() error
}

// Opener connects a Backend lazily so --help never touches the network.
type Opener func(ctx context.Context) (Backend, error)

// QueueStats summarises the default queue.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// cliActor is the audit actor id of operator commands.
const cliActor int64 = 0

type liveBackend struct {
	cfg       *app.Config
	pool      *pgxpool.Pool
	redis     *redis.Client
	services  *app.Services
	client    *jobs.Client
	inspector *asynq.Inspector
	logger    *slog.Logger
}

// OpenLive connects to PostgreSQL and Redis using the environment configuration.
func OpenLive(ctx context.Context) (Backend, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		return nil, err
	}
	redisOpts := cfg.RedisOptions()
	rdb, err := cache.New(ctx, redisOpts)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &liveBackend{
		cfg:       cfg,
		pool:      pool,
		redis:     rdb,
		services:  app.NewServices(cfg, pool, rdb, nil, nil, logger),
		client:    jobs.NewClient(redisOpts.AsynqOpts()),
		inspector: asynq.NewInspector(redisOpts.AsynqOpts()),
		logger:    logger,
	}, nil
}

func (b *liveBackend) Migrate(ctx context.Context) ([]string, error) {
	return db.Migrate(ctx, b.pool, migrations.FS)
}

func (b *liveBackend) Reconcile(ctx context.Context, payload jobs.ReconcilePayload) (jobs.ReconcileSummary, error) {
	job := jobs.NewReconcileJob(b.services.Attendance, b.logger, nil)
	return job.Run(ctx, payload)
}

func (b *liveBackend) IssueActivationCode(ctx context.Context, owner int64) (redemption.ActivationCode, error) {
	return b.services.Redemption.IssueActivationCode(ctx, owner, cliActor)
}

func (b *liveBackend) ActivationCode(ctx context.Context, owner int64) (redemption.ActivationCode, error) {
	return b.services.Redemption.ActivationCodeFor(ctx, owner)
}

func (b *liveBackend) IssueViewCodes(ctx context.Context, input redemption.IssueBatchInput) (redemption.Batch, error) {
	return b.services.Redemption.IssueViewCodes(ctx, input)
}

func (b *liveBackend) SetCredits(ctx context.Context, input credit.SetInput) (credit.Account, error) {
	return b.services.Credits.Set(ctx, input)
}

func (b *liveBackend) UpsertContent(ctx context.Context, item content.Content) error {
	return b.services.Catalog.Upsert(ctx, item)
}

func (b *liveBackend) TriggerJob(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	switch name {
	case jobs.TaskAttendanceReconcile:
		return b.client.EnqueueReconcile(ctx, jobs.ReconcilePayload{Limit: b.cfg.ReconcileBatch})
	case jobs.TaskIdempotencyCleanup:
		task, err := jobs.NewCleanupTask(jobs.CleanupPayload{})
		if err != nil {
			return nil, err
		}
		return b.client.Enqueue(ctx, task)
	default:
		return nil, fmt.Errorf("jobs: unsupported job %s", name)
	}
}

func (b *liveBackend) QueueStats(ctx context.Context) (QueueStats, error) {
	info, err := b.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

func (b *liveBackend) Close() error {
	var errs []error
	errs = append(errs, b.inspector.Close(), b.client.Close(), b.redis.Close())
	b.pool.Close()
	return errors.Join(errs...)
}
