package close

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// CloseType enumerates the scope of a fiscal period close.
type CloseType string

const (
	CloseTypeMonthEnd   CloseType = "MONTH_END"
	CloseTypeQuarterEnd CloseType = "QUARTER_END"
	CloseTypeYearEnd    CloseType = "YEAR_END"
)

// Valid reports whether the close type is known.
func (t CloseType) Valid() bool {
	switch t {
	case CloseTypeMonthEnd, CloseTypeQuarterEnd, CloseTypeYearEnd:
		return true
	default:
		return false
	}
}

// Status captures the lifecycle of a fiscal period close.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusComplete   Status = "COMPLETE"
	StatusReopened   Status = "REOPENED"
)

var statusTransitions = map[Status][]Status{
	StatusInProgress: {StatusComplete},
	StatusComplete:   {StatusReopened},
	StatusReopened:   {StatusInProgress},
}

// CanTransition reports whether the close state machine allows moving to next.
func (s Status) CanTransition(next Status) bool {
	for _, candidate := range statusTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Severity grades validation issues. Only Blocking issues stop a close.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityBlocking Severity = "BLOCKING"
)

// Valid reports whether the severity is known.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityBlocking
}

// TaskKind distinguishes who completes a checklist task.
type TaskKind string

const (
	// TaskKindExternal tasks are signalled complete by another subsystem.
	TaskKindExternal TaskKind = "EXTERNAL"
	// TaskKindSystemCheck tasks are evaluated by the orchestrator on every attempt.
	TaskKindSystemCheck TaskKind = "SYSTEM_CHECK"
	// TaskKindSystemAction tasks are performed by the orchestrator once all checks pass.
	TaskKindSystemAction TaskKind = "SYSTEM_ACTION"
)

// Task is a checklist item of a close. Completion is scoped to a cycle so a
// reopened close keeps its history while requiring fresh signals.
type Task struct {
	ID             int64
	CloseID        int64
	Code           string
	Name           string
	Kind           TaskKind
	Required       bool
	Sequence       int
	Complete       bool
	CompletedCycle int
	CompletedAt    *time.Time
	CompletedBy    string
	Comment        string
}

// CompleteIn reports whether the task was completed during cycle.
func (t Task) CompleteIn(cycle int) bool {
	return t.Complete && t.CompletedCycle == cycle
}

// ValidationIssue records a problem found while preparing a close.
type ValidationIssue struct {
	ID          int64
	CloseID     int64
	Code        string
	Description string
	Severity    Severity
	System      bool
	Cycle       int
	Resolved    bool
	ResolvedAt  *time.Time
	ResolvedBy  string
	Resolution  string
	CreatedAt   time.Time
}

// Close is a checklist-gated fiscal period close.
type Close struct {
	ID               int64
	Number           string
	PeriodID         int64
	Type             CloseType
	Status           Status
	Cycle            int
	InitiatedBy      string
	InitiatedAt      time.Time
	CompletedBy      string
	CompletedAt      *time.Time
	ReopenedBy       string
	ReopenedAt       *time.Time
	ReopenReason     string
	TrialBalanceID   *int64
	NetIncomeEntryID *int64
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Tasks            []Task
	Issues           []ValidationIssue
}

// CompletionPercentage returns completed tasks over all tasks for the current cycle.
func (c Close) CompletionPercentage() int {
	if len(c.Tasks) == 0 {
		return 0
	}
	done := 0
	for _, task := range c.Tasks {
		if task.CompleteIn(c.Cycle) {
			done++
		}
	}
	return done * 100 / len(c.Tasks)
}

// RemainingRequired lists required, incomplete task codes of the given kinds.
// With no kinds every kind is considered.
func (c Close) RemainingRequired(kinds ...TaskKind) []string {
	var remaining []string
	for _, task := range c.Tasks {
		if !task.Required || task.CompleteIn(c.Cycle) {
			continue
		}
		if len(kinds) > 0 && !containsKind(kinds, task.Kind) {
			continue
		}
		remaining = append(remaining, task.Code)
	}
	return remaining
}

// UnresolvedBlocking counts open Blocking issues.
func (c Close) UnresolvedBlocking() int {
	count := 0
	for _, issue := range c.Issues {
		if issue.Severity == SeverityBlocking && !issue.Resolved {
			count++
		}
	}
	return count
}

func (c *Close) task(code string) (*Task, bool) {
	for i := range c.Tasks {
		if c.Tasks[i].Code == code {
			return &c.Tasks[i], true
		}
	}
	return nil, false
}

func containsKind(kinds []TaskKind, kind TaskKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// CloseStatus is the query view of a close.
type CloseStatus struct {
	Close                Close
	PeriodName           string
	StatusLabel          string
	CompletionPercentage int
	RemainingRequired    []string
	UnresolvedBlocking   int
}

// InitiateInput bundles parameters for starting a close.
type InitiateInput struct {
	PeriodID int64     `validate:"required"`
	Type     CloseType `validate:"required"`
	Number   string
	ActorID  string `validate:"required"`
	Notes    string
}

// Validate ensures the initiate input is coherent.
func (in InitiateInput) Validate() error {
	if err := accounting.ValidateStruct(in); err != nil {
		return err
	}
	if !in.Type.Valid() {
		return accounting.Invalidf("close type %q", in.Type)
	}
	return nil
}

// IssueInput describes an externally raised validation issue.
type IssueInput struct {
	Code        string
	Description string   `validate:"required"`
	Severity    Severity `validate:"required"`
	ActorID     string
}

// Validate ensures the issue input is coherent.
func (in IssueInput) Validate() error {
	if err := accounting.ValidateStruct(in); err != nil {
		return err
	}
	if !in.Severity.Valid() {
		return accounting.Invalidf("severity %q", in.Severity)
	}
	return nil
}

var (
	// ErrCloseNotFound indicates a close could not be loaded.
	ErrCloseNotFound = accounting.NewError(accounting.ErrNotFound, "close: close not found")
	// ErrTaskNotFound indicates an unknown checklist task code.
	ErrTaskNotFound = accounting.NewError(accounting.ErrNotFound, "close: checklist task not found")
	// ErrIssueNotFound indicates an unknown validation issue.
	ErrIssueNotFound = accounting.NewError(accounting.ErrNotFound, "close: validation issue not found")
	// ErrCloseInProgress indicates a close already runs for the period.
	ErrCloseInProgress = accounting.NewError(accounting.ErrStateConflict, "close: close already in progress for this period")
	// ErrCloseNumberExists indicates the close number is taken.
	ErrCloseNumberExists = accounting.NewError(accounting.ErrStateConflict, "close: close number already exists")
	// ErrChecklistLocked indicates checklist updates are not permitted in the current state.
	ErrChecklistLocked = accounting.NewError(accounting.ErrStateConflict, "close: checklist cannot be updated in current state")
	// ErrSystemTask indicates an attempt to complete an orchestrator-owned task.
	ErrSystemTask = accounting.NewError(accounting.ErrValidation, "close: task is evaluated by the close orchestrator")
	// ErrYearEndPeriod indicates a year-end close on a period that is not the last of its fiscal year.
	ErrYearEndPeriod = accounting.NewError(accounting.ErrValidation, "close: year-end close requires the last period of the fiscal year")
	// ErrRetainedEarningsAccount indicates the configured retained earnings account cannot be posted to.
	ErrRetainedEarningsAccount = accounting.NewError(accounting.ErrValidation, "close: retained earnings account unavailable")
	// ErrTrialBalanceOutOfBalance indicates the fresh trial balance does not balance.
	ErrTrialBalanceOutOfBalance = accounting.NewError(accounting.ErrInvariantViolation, "close: trial balance out of balance")
	// ErrUnresolvedValidationIssues indicates open Blocking issues.
	ErrUnresolvedValidationIssues = accounting.NewError(accounting.ErrStateConflict, "close: unresolved validation issues")
	// ErrRequiredTasksIncomplete is returned when trying to close before completing the checklist.
	ErrRequiredTasksIncomplete = accounting.NewError(accounting.ErrStateConflict, "close: checklist not complete")
)

// TrialBalanceOutOfBalanceError carries debits minus credits of the failing trial balance.
type TrialBalanceOutOfBalanceError struct {
	PeriodID int64
	Amount   decimal.Decimal
}

func (e *TrialBalanceOutOfBalanceError) Error() string {
	return fmt.Sprintf("close: trial balance for period %d out of balance by %s", e.PeriodID, accounting.FormatAmount(e.Amount))
}

func (e *TrialBalanceOutOfBalanceError) Unwrap() error { return ErrTrialBalanceOutOfBalance }

// UnresolvedValidationIssuesError carries the number of open Blocking issues.
type UnresolvedValidationIssuesError struct {
	Count int
}

func (e *UnresolvedValidationIssuesError) Error() string {
	return fmt.Sprintf("close: %d unresolved blocking validation issues", e.Count)
}

func (e *UnresolvedValidationIssuesError) Unwrap() error { return ErrUnresolvedValidationIssues }

// RequiredTasksIncompleteError lists required task codes still open.
type RequiredTasksIncompleteError struct {
	Remaining []string
}

func (e *RequiredTasksIncompleteError) Error() string {
	return fmt.Sprintf("close: required tasks incomplete: %s", strings.Join(e.Remaining, ", "))
}

func (e *RequiredTasksIncompleteError) Unwrap() error { return ErrRequiredTasksIncomplete }
