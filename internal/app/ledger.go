package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/batches"
	ledgerhttp "github.com/odyssey-erp/odyssey-gl/internal/accounting/http"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/pgstore"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recurring"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/trialbalance"
	closepkg "github.com/odyssey-erp/odyssey-gl/internal/close"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// Backend bundles the persistence and coordination resources of a process.
type Backend struct {
	Ledger accounting.Store
	Close  closepkg.Store
	Audit  accounting.AuditPort
	Pool   *pgxpool.Pool
	Redis  *redis.Client
}

// OpenBackend connects the configured store and redis. Redis is optional:
// without it runs are not guarded across replicas.
func OpenBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{}
	switch cfg.Store {
	case StoreMemory:
		store := memstore.New()
		b.Ledger, b.Close = store, store.CloseStore()
		b.Audit = shared.NewSlogAuditor(logger)
	default:
		if cfg.DBAutoMigrate {
			applied, err := db.Migrate(cfg.PGDSN)
			if err != nil {
				return nil, err
			}
			logger.Info("database migrations checked", slog.Bool("applied", applied))
		}
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := pgstore.New(pool)
		b.Pool = pool
		b.Ledger, b.Close = store, store.CloseStore()
		b.Audit = shared.NewAuditLogger(pool)
	}

	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Warn("redis unavailable, distributed locks disabled", slog.Any("error", err))
		} else {
			b.Redis = client
		}
	}
	return b, nil
}

// Shutdown releases the backend connections.
func (b *Backend) Shutdown(logger *slog.Logger) {
	if b == nil {
		return
	}
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
}

// Ledger holds the wired ledger and close services.
type Ledger struct {
	Accounts     *accounts.Service
	Periods      *periods.Service
	Journals     *journals.Service
	Batches      *batches.Service
	TrialBalance *trialbalance.Service
	Recurring    *recurring.Service
	Generator    *recurring.Generator
	Close        *closepkg.Service
}

// LedgerDeps are the ambient collaborators of the ledger services.
type LedgerDeps struct {
	Backend *Backend
	Config  *Config
	Logger  *slog.Logger
	Metrics LedgerMetrics
}

// LedgerMetrics receives posting and close counters.
type LedgerMetrics interface {
	accounting.MetricsPort
	closepkg.MetricsPort
}

// NewLedger wires every ledger service over the backend.
func NewLedger(deps LedgerDeps) (*Ledger, error) {
	checklist, err := deps.Config.Checklist()
	if err != nil {
		return nil, err
	}
	b := deps.Backend
	var (
		ledgerMetrics accounting.MetricsPort
		closeMetrics  closepkg.MetricsPort
	)
	if deps.Metrics != nil {
		ledgerMetrics, closeMetrics = deps.Metrics, deps.Metrics
	}

	l := &Ledger{
		Accounts:     accounts.NewService(b.Ledger, b.Audit),
		Periods:      periods.NewService(b.Ledger, b.Audit),
		Journals:     journals.NewService(b.Ledger, b.Audit, ledgerMetrics),
		TrialBalance: trialbalance.NewService(b.Ledger),
		Recurring:    recurring.NewService(b.Ledger, b.Audit),
	}
	l.Batches = batches.NewService(b.Ledger, l.Journals, b.Audit, ledgerMetrics)

	// Without redis the generator and close run unguarded across replicas and
	// rely on database locks alone. The interface stays nil in that case.
	var runLock recurring.Locker
	if b.Redis != nil {
		runLock = shared.NewLocker(b.Redis)
	}
	l.Generator = recurring.NewGenerator(b.Ledger, l.Journals, runLock, deps.Logger, recurring.GeneratorConfig{
		Concurrency: deps.Config.RecurringConcurrency,
		LockTTL:     deps.Config.RecurringLockTTL,
	})

	l.Close = closepkg.NewService(b.Close, l.Journals, l.TrialBalance, b.Audit, closeMetrics, closepkg.Config{
		Checklist:            checklist,
		RetainedEarningsCode: deps.Config.RetainedEarningsCode,
	})
	if b.Redis != nil {
		l.Close.WithLocker(shared.NewLocker(b.Redis))
	}
	return l, nil
}

// HTTPServices adapts the ledger to the HTTP handler dependencies.
func (l *Ledger) HTTPServices() ledgerhttp.Services {
	return ledgerhttp.Services{
		Accounts:     l.Accounts,
		Periods:      l.Periods,
		Journals:     l.Journals,
		Batches:      l.Batches,
		TrialBalance: l.TrialBalance,
		Recurring:    l.Recurring,
		Generator:    l.Generator,
	}
}
