package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/trialbalance"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
)

// ErrIntegrityViolation is returned when the ledger integrity check finds problems.
var ErrIntegrityViolation = errors.New("gl integrity: violations found")

type integrityChecker interface {
	CheckIntegrity(ctx context.Context) (trialbalance.IntegrityReport, error)
}

// GLIntegrityJob verifies posted entries and open period trial balances.
type GLIntegrityJob struct {
	Checker integrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob initialises the integrity check handler.
func NewGLIntegrityJob(checker integrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle runs the check. Violations fail the task without retry so they
// surface in the queue's archived set.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Checker == nil {
		return errors.New("gl integrity: handler not configured")
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)
	logger := j.logger()

	report, err := j.Checker.CheckIntegrity(ctx)
	if err != nil {
		logger.Error("gl integrity check failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.SetIntegrityViolations("unbalanced_entry", len(report.UnbalancedEntry))
	j.Metrics.SetIntegrityViolations("unbalanced_period", len(report.UnbalancedPeriod))
	for _, v := range report.UnbalancedEntry {
		logger.Error("posted entry out of balance",
			slog.Int64("entry_id", v.EntryID),
			slog.String("reference", v.Reference),
			slog.String("delta", accounting.FormatAmount(v.Delta)))
	}
	for _, v := range report.UnbalancedPeriod {
		logger.Error("trial balance out of balance",
			slog.Int64("period_id", v.PeriodID),
			slog.String("period", v.Name),
			slog.String("amount", accounting.FormatAmount(v.Amount)))
	}
	logger.Info("gl integrity check executed",
		slog.String("job", "gl_integrity"),
		slog.Int("entries", report.EntriesChecked),
		slog.Int("periods", report.PeriodsChecked))
	if !report.OK() {
		err := fmt.Errorf("%w: %d entries, %d periods: %w", ErrIntegrityViolation,
			len(report.UnbalancedEntry), len(report.UnbalancedPeriod), asynq.SkipRetry)
		return tracker.End(err)
	}
	return tracker.End(nil)
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
