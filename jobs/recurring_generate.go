package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recurring"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

type recurringRunner interface {
	Run(ctx context.Context, asOf time.Time) (recurring.RunReport, error)
}

// RecurringGenerateJob runs the recurring entry generator.
type RecurringGenerateJob struct {
	Generator recurringRunner
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewRecurringGenerateJob initialises the recurring generation handler.
func NewRecurringGenerateJob(generator recurringRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecurringGenerateJob {
	return &RecurringGenerateJob{
		Generator: generator,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the clock for testing.
func (j *RecurringGenerateJob) WithClock(clock func() time.Time) {
	if clock != nil {
		j.clock = clock
	}
}

// Handle executes one generation run. A run already held by another replica
// is skipped; occurrence failures are logged and retried by the next run.
func (j *RecurringGenerateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Generator == nil {
		return errors.New("recurring generate: handler not configured")
	}
	var payload RecurringGeneratePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	asOf, err := payload.asOf(j.clock())
	if err != nil {
		j.logger().Error("recurring generate payload", slog.Any("error", err))
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskRecurringGenerate)
	logger := j.logger().With(slog.String("as_of", asOf.Format(time.DateOnly)))

	report, err := j.Generator.Run(ctx, asOf)
	if errors.Is(err, shared.ErrLockHeld) {
		logger.Info("recurring run already in progress")
		return tracker.End(nil)
	}
	if err != nil {
		logger.Error("recurring run failed", slog.Any("error", err))
		return tracker.End(err)
	}
	for _, failure := range report.Failures {
		logger.Error("recurring occurrence failed",
			slog.String("template", failure.TemplateCode),
			slog.String("scheduled_for", failure.Date.Format(time.DateOnly)),
			slog.Any("error", failure.Err))
	}
	j.Metrics.AddRecurring(len(report.Generated), report.Skipped, len(report.Failures))
	return tracker.End(nil)
}

func (j *RecurringGenerateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
