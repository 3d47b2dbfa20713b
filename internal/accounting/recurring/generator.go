package recurring

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// Locker guards a generation run across replicas.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (shared.Release, error)
}

// GeneratorConfig tunes a Generator.
type GeneratorConfig struct {
	Concurrency int
	LockTTL     time.Duration
}

// Generated describes one entry produced by a run.
type Generated struct {
	TemplateCode string
	Date         time.Time
	EntryID      int64
	Reference    string
	Posted       bool
}

// Failure describes an occurrence that could not be generated. The template
// stays due on Date.
type Failure struct {
	TemplateCode string
	Date         time.Time
	Err          error
}

// RunReport summarises a generation run.
type RunReport struct {
	AsOf      time.Time
	Templates int
	Generated []Generated
	Skipped   int
	Failures  []Failure
}

// Generator materialises due template occurrences through the journal pipeline.
type Generator struct {
	store    accounting.Store
	journals *journals.Service
	locker   Locker
	logger   *slog.Logger
	cfg      GeneratorConfig
}

// NewGenerator constructs a generator. locker may be nil for single replica deployments.
func NewGenerator(store accounting.Store, journalSvc *journals.Service, locker Locker, logger *slog.Logger, cfg GeneratorConfig) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Generator{store: store, journals: journalSvc, locker: locker, logger: logger, cfg: cfg}
}

// Run generates every occurrence due on or before asOf. Overdue templates are
// caught up one occurrence at a time; the first failure stops that template
// without advancing it. Run is idempotent per (template, scheduled date).
func (g *Generator) Run(ctx context.Context, asOf time.Time) (RunReport, error) {
	asOf = accounting.DateOnly(asOf)
	report := RunReport{AsOf: asOf}
	if g.locker != nil {
		release, err := g.locker.Acquire(ctx, shared.RecurringRunLockKey(asOf), g.cfg.LockTTL)
		if err != nil {
			return report, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				g.logger.Warn("release recurring lock", slog.Any("error", err))
			}
		}()
	}

	var due []accounting.RecurringTemplate
	err := g.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		due, err = tx.ListDueTemplates(ctx, asOf)
		return err
	})
	if err != nil {
		return report, err
	}
	report.Templates = len(due)

	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.cfg.Concurrency)
	for _, tpl := range due {
		group.Go(func() error {
			generated, skipped, failure, err := g.catchUp(gctx, tpl, asOf)
			mu.Lock()
			defer mu.Unlock()
			report.Generated = append(report.Generated, generated...)
			report.Skipped += skipped
			if failure != nil {
				report.Failures = append(report.Failures, *failure)
			}
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return report, err
	}
	g.logger.Info("recurring run complete",
		slog.String("as_of", asOf.Format(time.DateOnly)),
		slog.Int("templates", report.Templates),
		slog.Int("generated", len(report.Generated)),
		slog.Int("skipped", report.Skipped),
		slog.Int("failures", len(report.Failures)))
	return report, nil
}

// catchUp returns an error only for context cancellation; occurrence failures
// are reported so other templates keep running.
func (g *Generator) catchUp(ctx context.Context, tpl accounting.RecurringTemplate, asOf time.Time) ([]Generated, int, *Failure, error) {
	var (
		out     []Generated
		skipped int
	)
	for {
		if err := ctx.Err(); err != nil {
			return out, skipped, nil, err
		}
		result, state, err := g.generateNext(ctx, tpl.ID, asOf)
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return out, skipped, nil, err
			}
			g.logger.Error("recurring occurrence failed",
				slog.String("template", tpl.Code),
				slog.String("date", result.Date.Format(time.DateOnly)),
				slog.Any("error", err))
			return out, skipped, &Failure{TemplateCode: tpl.Code, Date: result.Date, Err: err}, nil
		case state == stateDone:
			return out, skipped, nil, nil
		case state == stateSkipped:
			skipped++
		default:
			out = append(out, result)
		}
	}
}

type occurrenceState int

const (
	stateGenerated occurrenceState = iota
	stateSkipped
	stateDone
)

func (g *Generator) generateNext(ctx context.Context, templateID int64, asOf time.Time) (Generated, occurrenceState, error) {
	var (
		result Generated
		state  occurrenceState
		posted accounting.JournalEntry
	)
	err := g.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		tpl, err := tx.GetTemplateForUpdate(ctx, templateID)
		if err != nil {
			return err
		}
		result = Generated{TemplateCode: tpl.Code, Date: tpl.NextRunDate}
		if !tpl.IsActive() || tpl.NextRunDate.After(asOf) {
			state = stateDone
			return nil
		}
		date := tpl.NextRunDate
		key := OccurrenceKey(tpl.ID, date)
		if _, err := tx.GetEntryBySourceKey(ctx, key); err == nil {
			state = stateSkipped
			advance(&tpl, date)
			return tx.UpdateTemplate(ctx, tpl)
		} else if !errors.Is(err, accounting.ErrEntryNotFound) {
			return err
		}

		entry, err := g.journals.CreateDraftTx(ctx, tx, journals.DraftInput{
			Reference: tpl.Code + "-" + date.Format("20060102"),
			Date:      date,
			Source:    accounting.EntrySourceRecurring,
			SourceRef: tpl.Code,
			SourceKey: key,
			Memo:      memo(tpl),
			Lines: []journals.LineInput{
				{AccountID: tpl.DebitAccountID, Debit: tpl.Amount},
				{AccountID: tpl.CreditAccountID, Credit: tpl.Amount},
			},
			ActorID: SystemActor,
		})
		if err != nil {
			return err
		}
		if _, err := g.journals.SubmitTx(ctx, tx, entry.ID, SystemActor); err != nil {
			return err
		}
		if tpl.AutoPost {
			if _, err := g.journals.ApproveTx(ctx, tx, entry.ID, SystemActor); err != nil {
				return err
			}
			posted, _, err = g.journals.PostTx(ctx, tx, entry.ID, SystemActor, false)
			if err != nil {
				return err
			}
			result.Posted = true
		}
		result.EntryID, result.Reference = entry.ID, entry.Reference
		state = stateGenerated
		advance(&tpl, date)
		return tx.UpdateTemplate(ctx, tpl)
	})
	if err != nil {
		return result, stateGenerated, err
	}
	if result.Posted {
		g.journals.RecordPosted(ctx, SystemActor, posted)
	}
	return result, state, nil
}

func memo(tpl accounting.RecurringTemplate) string {
	if tpl.Memo != "" {
		return tpl.Memo
	}
	return tpl.Name
}
