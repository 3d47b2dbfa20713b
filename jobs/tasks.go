package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRecurringGenerate generates due recurring journal entries.
	TaskRecurringGenerate = "ledger:recurring_generate"
	// TaskGLIntegrity verifies posted entries and open period balances.
	TaskGLIntegrity = "ledger:gl_integrity"
)

// RecurringGeneratePayload selects the as-of date of a generation run. An
// empty AsOf means the calendar day the task is processed.
type RecurringGeneratePayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// asOf parses the payload date, falling back to today.
func (p RecurringGeneratePayload) asOf(now time.Time) (time.Time, error) {
	if p.AsOf == "" {
		return accounting.DateOnly(now), nil
	}
	t, err := time.Parse(time.DateOnly, p.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("recurring generate: as_of %q: %w", p.AsOf, err)
	}
	return t, nil
}

// NewRecurringGenerateTask constructs a recurring generation task. A zero asOf
// leaves the date to the worker clock, which suits cron registrations.
func NewRecurringGenerateTask(asOf time.Time) (*asynq.Task, error) {
	payload := RecurringGeneratePayload{}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(3)}
	if !asOf.IsZero() {
		payload.AsOf = asOf.Format(time.DateOnly)
		opts = append(opts, asynq.TaskID(RecurringTaskID(asOf)))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecurringGenerate, body, opts...), nil
}

// RecurringTaskID dedupes explicit generation runs per as-of date.
func RecurringTaskID(asOf time.Time) string {
	return "recurring:" + asOf.Format(time.DateOnly)
}

// GLIntegrityPayload carries scheduling metadata.
type GLIntegrityPayload struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// NewGLIntegrityTask constructs an integrity check task.
func NewGLIntegrityTask(requestedBy string) (*asynq.Task, error) {
	body, err := json.Marshal(GLIntegrityPayload{RequestedBy: requestedBy})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
