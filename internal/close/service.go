package close

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/trialbalance"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// DefaultRetainedEarningsCode is the equity account receiving year-end net income.
const DefaultRetainedEarningsCode = "3900"

// ErrEvaluationRunning indicates another replica is evaluating the same period.
var ErrEvaluationRunning = accounting.NewError(accounting.ErrStateConflict, "close: evaluation already running for period")

var transferNamespace = uuid.MustParse("0d8f3e7c-6a41-4b9e-8f27-91c4d5a3b210")

// Locker serialises close evaluation across replicas.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (shared.Release, error)
}

// MetricsPort receives close outcomes.
type MetricsPort interface {
	CloseAttempt(closeType, outcome string)
}

// Config tunes the orchestrator.
type Config struct {
	Checklist            []TaskDefinition
	RetainedEarningsCode string
	LockTTL              time.Duration
}

// Service orchestrates fiscal period closes.
type Service struct {
	store    Store
	journals *journals.Service
	tb       *trialbalance.Service
	audit    accounting.AuditPort
	metrics  MetricsPort
	locker   Locker
	cfg      Config
	now      func() time.Time
}

// NewService constructs a Service instance.
func NewService(store Store, journalSvc *journals.Service, tbSvc *trialbalance.Service, audit accounting.AuditPort, metrics MetricsPort, cfg Config) *Service {
	if len(cfg.Checklist) == 0 {
		cfg.Checklist = DefaultChecklist
	}
	if cfg.RetainedEarningsCode == "" {
		cfg.RetainedEarningsCode = DefaultRetainedEarningsCode
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &Service{store: store, journals: journalSvc, tb: tbSvc, audit: audit, metrics: metrics, cfg: cfg, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithLocker enables the cross-replica evaluation guard.
func (s *Service) WithLocker(l Locker) {
	s.locker = l
}

// InitiateClose starts a close for an open period, or restarts a reopened
// close in a new cycle.
func (s *Service) InitiateClose(ctx context.Context, in InitiateInput) (Close, error) {
	if err := in.Validate(); err != nil {
		return Close{}, err
	}
	var c Close
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		period, err := tx.GetPeriodForUpdate(ctx, in.PeriodID)
		if err != nil {
			return err
		}
		if period.IsClosed {
			return &accounting.PeriodClosedError{PeriodID: period.ID, PeriodName: period.Name, Date: period.EndDate}
		}
		if in.Type == CloseTypeYearEnd {
			if err := lastOfFiscalYear(ctx, tx, period); err != nil {
				return err
			}
		}
		latest, err := tx.GetLatestCloseForPeriod(ctx, period.ID)
		switch {
		case err == nil && latest.Status == StatusInProgress:
			return fmt.Errorf("%w: %s", ErrCloseInProgress, latest.Number)
		case err == nil && latest.Status == StatusReopened:
			c, err = tx.GetCloseForUpdate(ctx, latest.ID)
			if err != nil {
				return err
			}
			c.Status = StatusInProgress
			c.Cycle++
			c.CompletedBy, c.CompletedAt = "", nil
			c.TrialBalanceID, c.NetIncomeEntryID = nil, nil
			return tx.UpdateClose(ctx, c)
		case err != nil && !errors.Is(err, ErrCloseNotFound):
			return err
		}
		number := strings.TrimSpace(in.Number)
		if number == "" {
			number = fmt.Sprintf("FPC-%d-%02d", period.FiscalYear, period.Number)
		}
		c, err = tx.InsertClose(ctx, Close{
			Number:      number,
			PeriodID:    period.ID,
			Type:        in.Type,
			Status:      StatusInProgress,
			Cycle:       1,
			InitiatedBy: in.ActorID,
			InitiatedAt: s.now().UTC(),
			Notes:       strings.TrimSpace(in.Notes),
			Tasks:       seedTasks(s.cfg.Checklist, in.Type),
		})
		if errors.Is(err, ErrCloseNumberExists) {
			return fmt.Errorf("%w: %s", ErrCloseNumberExists, number)
		}
		return err
	})
	if err != nil {
		return Close{}, err
	}
	s.record(ctx, in.ActorID, "close.initiate", c, map[string]any{"cycle": c.Cycle})
	return c, nil
}

// CompleteTask records an external subsystem's completion signal.
func (s *Service) CompleteTask(ctx context.Context, closeID int64, code, actorID, comment string) (Task, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	var (
		c    Close
		done Task
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		c, err = inProgress(ctx, tx, closeID)
		if err != nil {
			return err
		}
		task, ok := c.task(code)
		if !ok {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, code)
		}
		if task.Kind != TaskKindExternal {
			return fmt.Errorf("%w: %s", ErrSystemTask, code)
		}
		if task.CompleteIn(c.Cycle) {
			done = *task
			return nil
		}
		s.markComplete(task, c.Cycle, actorID, comment)
		done = *task
		return tx.UpdateTasks(ctx, []Task{*task})
	})
	if err != nil {
		return Task{}, err
	}
	s.record(ctx, actorID, "close.task_complete", c, map[string]any{"task": code})
	return done, nil
}

// AddValidationIssue logs an externally raised issue on an in-progress close.
func (s *Service) AddValidationIssue(ctx context.Context, closeID int64, in IssueInput) (ValidationIssue, error) {
	if err := in.Validate(); err != nil {
		return ValidationIssue{}, err
	}
	var issue ValidationIssue
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := inProgress(ctx, tx, closeID)
		if err != nil {
			return err
		}
		issue, err = tx.InsertIssue(ctx, ValidationIssue{
			CloseID:     c.ID,
			Code:        strings.ToUpper(strings.TrimSpace(in.Code)),
			Description: strings.TrimSpace(in.Description),
			Severity:    in.Severity,
			Cycle:       c.Cycle,
		})
		return err
	})
	if err != nil {
		return ValidationIssue{}, err
	}
	return issue, nil
}

// ResolveValidationIssue marks an issue resolved with a resolution note.
func (s *Service) ResolveValidationIssue(ctx context.Context, closeID, issueID int64, resolution, actorID string) (ValidationIssue, error) {
	if strings.TrimSpace(resolution) == "" {
		return ValidationIssue{}, fmt.Errorf("%w: resolution", accounting.ErrReasonRequired)
	}
	var issue ValidationIssue
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := inProgress(ctx, tx, closeID)
		if err != nil {
			return err
		}
		for _, candidate := range c.Issues {
			if candidate.ID == issueID {
				issue = candidate
			}
		}
		if issue.ID == 0 {
			return ErrIssueNotFound
		}
		if issue.Resolved {
			return nil
		}
		now := s.now().UTC()
		issue.Resolved = true
		issue.ResolvedAt = &now
		issue.ResolvedBy = actorID
		issue.Resolution = strings.TrimSpace(resolution)
		return tx.UpdateIssue(ctx, issue)
	})
	if err != nil {
		return ValidationIssue{}, err
	}
	return issue, nil
}

// CompleteClose evaluates the checklist against a freshly generated trial
// balance while holding the period lock, then closes the period. When a gate
// fails the task and issue bookkeeping of the attempt is kept and the gate
// error is returned.
func (s *Service) CompleteClose(ctx context.Context, closeID int64, actorID string) (Close, error) {
	if strings.TrimSpace(actorID) == "" {
		return Close{}, accounting.Invalidf("actor required")
	}
	var (
		c       Close
		gateErr error
		posted  []accounting.JournalEntry
	)
	if s.locker != nil {
		var periodID int64
		if err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			found, err := tx.GetClose(ctx, closeID)
			periodID = found.PeriodID
			return err
		}); err != nil {
			return Close{}, err
		}
		release, err := s.locker.Acquire(ctx, shared.PeriodCloseLockKey(periodID), s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, shared.ErrLockHeld) {
				return Close{}, ErrEvaluationRunning
			}
			return Close{}, err
		}
		defer func() { _ = release(context.WithoutCancel(ctx)) }()
	}

	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		gateErr, posted = nil, nil
		var err error
		c, err = inProgress(ctx, tx, closeID)
		if err != nil {
			return err
		}
		period, err := tx.GetPeriodForUpdate(ctx, c.PeriodID)
		if err != nil {
			return err
		}
		if period.IsClosed {
			return &accounting.PeriodClosedError{PeriodID: period.ID, PeriodName: period.Name, Date: period.EndDate}
		}
		now := s.now().UTC()

		tb, err := s.tb.GenerateTx(ctx, tx, period.ID, false)
		if err != nil {
			return err
		}
		c.TrialBalanceID = &tb.ID
		if err := s.evaluateChecks(ctx, tx, &c, tb, actorID); err != nil {
			return err
		}
		gateErr = s.gate(c, tb)
		if gateErr != nil {
			return tx.UpdateClose(ctx, c)
		}

		if c.Type == CloseTypeYearEnd {
			entry, err := s.transferNetIncome(ctx, tx, c, period, now, actorID)
			if err != nil {
				return err
			}
			if entry.ID != 0 {
				posted = append(posted, entry)
				c.NetIncomeEntryID = &entry.ID
				if tb, err = s.tb.GenerateTx(ctx, tx, period.ID, false); err != nil {
					return err
				}
				if !tb.IsBalanced {
					return &TrialBalanceOutOfBalanceError{PeriodID: period.ID, Amount: tb.OutOfBalanceAmount}
				}
				c.TrialBalanceID = &tb.ID
			}
			if task, ok := c.task(TaskNetIncomeTransfer); ok {
				s.markComplete(task, c.Cycle, actorID, "")
				if err := tx.UpdateTasks(ctx, []Task{*task}); err != nil {
					return err
				}
			}
		}

		if _, err := trialbalance.FinalizeTx(ctx, tx, tb, now); err != nil {
			return err
		}
		period, err = tx.GetPeriodForUpdate(ctx, period.ID)
		if err != nil {
			return err
		}
		period.IsClosed = true
		period.ClosedAt = &now
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		if !c.Status.CanTransition(StatusComplete) {
			return accounting.TransitionError("close "+c.Number, c.Status, StatusComplete)
		}
		c.Status = StatusComplete
		c.CompletedBy, c.CompletedAt = actorID, &now
		if err := tx.UpdateClose(ctx, c); err != nil {
			return err
		}
		c, err = tx.GetClose(ctx, c.ID)
		return err
	})
	if err != nil {
		s.observe(c.Type, "error")
		return Close{}, err
	}
	if gateErr != nil {
		s.observe(c.Type, "blocked")
		s.record(ctx, actorID, "close.attempt_blocked", c, map[string]any{"reason": gateErr.Error()})
		return Close{}, gateErr
	}
	s.journals.RecordPosted(ctx, actorID, posted...)
	s.observe(c.Type, "complete")
	s.record(ctx, actorID, "close.complete", c, map[string]any{"cycle": c.Cycle})
	return c, nil
}

// evaluateChecks refreshes the orchestrator-owned checks and system issues.
func (s *Service) evaluateChecks(ctx context.Context, tx Tx, c *Close, tb accounting.TrialBalance, actorID string) error {
	var changed []Task
	set := func(code string, ok bool) {
		task, found := c.task(code)
		if !found {
			return
		}
		switch {
		case ok && !task.CompleteIn(c.Cycle):
			s.markComplete(task, c.Cycle, actorID, "")
		case !ok && task.CompleteIn(c.Cycle):
			task.Complete, task.CompletedAt, task.CompletedBy = false, nil, ""
		default:
			return
		}
		changed = append(changed, *task)
	}
	set(TaskGenerateTrialBalance, true)
	set(TaskVerifyTrialBalance, tb.IsBalanced)
	unposted, err := tx.CountUnpostedEntries(ctx, c.PeriodID)
	if err != nil {
		return err
	}
	set(TaskPostAllJournals, unposted == 0)
	if len(changed) > 0 {
		if err := tx.UpdateTasks(ctx, changed); err != nil {
			return err
		}
	}

	if err := tx.DeleteSystemIssues(ctx, c.ID, c.Cycle); err != nil {
		return err
	}
	var issues []ValidationIssue
	for _, line := range tb.Lines {
		if !line.Abnormal {
			continue
		}
		issues = append(issues, ValidationIssue{
			CloseID:     c.ID,
			Code:        "ABNORMAL_BALANCE",
			Description: fmt.Sprintf("account %s %s carries a balance against its %s normal side", line.AccountCode, line.AccountName, strings.ToLower(string(line.NormalBalance))),
			Severity:    SeverityWarning,
			System:      true,
			Cycle:       c.Cycle,
		})
	}
	if unposted > 0 {
		issues = append(issues, ValidationIssue{
			CloseID:     c.ID,
			Code:        "UNPOSTED_ENTRIES",
			Description: fmt.Sprintf("%d journal entries in the period are not posted", unposted),
			Severity:    SeverityWarning,
			System:      true,
			Cycle:       c.Cycle,
		})
	}
	for _, issue := range issues {
		if _, err := tx.InsertIssue(ctx, issue); err != nil {
			return err
		}
	}
	refreshed, err := tx.GetClose(ctx, c.ID)
	if err != nil {
		return err
	}
	c.Tasks, c.Issues = refreshed.Tasks, refreshed.Issues
	return nil
}

// gate applies the completion rules in order: balance, checklist, issues.
func (s *Service) gate(c Close, tb accounting.TrialBalance) error {
	if !tb.IsBalanced {
		return &TrialBalanceOutOfBalanceError{PeriodID: c.PeriodID, Amount: tb.OutOfBalanceAmount}
	}
	if remaining := c.RemainingRequired(TaskKindExternal, TaskKindSystemCheck); len(remaining) > 0 {
		return &RequiredTasksIncompleteError{Remaining: remaining}
	}
	if open := c.UnresolvedBlocking(); open > 0 {
		return &UnresolvedValidationIssuesError{Count: open}
	}
	return nil
}

// transferNetIncome zeroes the fiscal year's revenue and expense balances
// into retained earnings. It returns a zero entry when there is nothing to
// transfer.
func (s *Service) transferNetIncome(ctx context.Context, tx Tx, c Close, period accounting.Period, at time.Time, actorID string) (accounting.JournalEntry, error) {
	tb, err := trialbalance.YearToDateTx(ctx, tx, period, at)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	var lines []journals.LineInput
	for _, line := range tb.Lines {
		if line.AccountType != accounting.AccountTypeRevenue && line.AccountType != accounting.AccountTypeExpense {
			continue
		}
		switch {
		case line.DebitBalance.IsPositive():
			lines = append(lines, journals.LineInput{AccountID: line.AccountID, Credit: line.DebitBalance, Memo: "Close " + line.AccountCode})
		case line.CreditBalance.IsPositive():
			lines = append(lines, journals.LineInput{AccountID: line.AccountID, Debit: line.CreditBalance, Memo: "Close " + line.AccountCode})
		}
	}
	if len(lines) == 0 {
		return accounting.JournalEntry{}, nil
	}
	retained, err := tx.GetAccountByCode(ctx, s.cfg.RetainedEarningsCode)
	if err != nil {
		if errors.Is(err, accounting.ErrAccountNotFound) {
			return accounting.JournalEntry{}, fmt.Errorf("%w: %s not found", ErrRetainedEarningsAccount, s.cfg.RetainedEarningsCode)
		}
		return accounting.JournalEntry{}, err
	}
	if !retained.AllowDirectPosting() || retained.Type != accounting.AccountTypeEquity {
		return accounting.JournalEntry{}, fmt.Errorf("%w: %s", ErrRetainedEarningsAccount, retained.Code)
	}
	switch income := tb.NetIncome; {
	case income.IsPositive():
		lines = append(lines, journals.LineInput{AccountID: retained.ID, Credit: income, Memo: "Net income"})
	case income.IsNegative():
		lines = append(lines, journals.LineInput{AccountID: retained.ID, Debit: income.Neg(), Memo: "Net loss"})
	}
	if len(lines) < 2 {
		return accounting.JournalEntry{}, nil
	}
	return s.journals.CreateAndPostTx(ctx, tx, journals.DraftInput{
		Reference: fmt.Sprintf("%s-NIT-%d", c.Number, c.Cycle),
		Date:      period.EndDate,
		Source:    accounting.EntrySourceYearEndTransfer,
		SourceRef: c.Number,
		SourceKey: uuid.NewSHA1(transferNamespace, []byte(fmt.Sprintf("%d:%d", c.ID, c.Cycle))),
		Memo:      "Year-end net income transfer " + period.Name,
		Lines:     lines,
		ActorID:   actorID,
	})
}

// Reopen returns a completed close to Reopened and reopens its period.
// Completed task flags stay as historical record.
func (s *Service) Reopen(ctx context.Context, closeID int64, reason, actorID string) (Close, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Close{}, accounting.ErrReasonRequired
	}
	if strings.TrimSpace(actorID) == "" {
		return Close{}, accounting.Invalidf("actor required")
	}
	var c Close
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		c, err = tx.GetCloseForUpdate(ctx, closeID)
		if err != nil {
			return err
		}
		if !c.Status.CanTransition(StatusReopened) {
			return accounting.TransitionError("close "+c.Number, c.Status, StatusReopened)
		}
		period, err := tx.GetPeriodForUpdate(ctx, c.PeriodID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		period.IsClosed = false
		period.ClosedAt = nil
		if err := tx.UpdatePeriod(ctx, period); err != nil {
			return err
		}
		if err := trialbalance.SupersedeTx(ctx, tx, period.ID, now); err != nil {
			return err
		}
		c.Status = StatusReopened
		c.ReopenedBy, c.ReopenedAt, c.ReopenReason = actorID, &now, reason
		return tx.UpdateClose(ctx, c)
	})
	if err != nil {
		return Close{}, err
	}
	s.observe(c.Type, "reopened")
	s.record(ctx, actorID, "close.reopen", c, map[string]any{"reason": reason})
	return c, nil
}

// GetCloseStatus returns the close with derived progress figures.
func (s *Service) GetCloseStatus(ctx context.Context, closeID int64) (CloseStatus, error) {
	var status CloseStatus
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.GetClose(ctx, closeID)
		if err != nil {
			return err
		}
		period, err := tx.GetPeriod(ctx, c.PeriodID)
		if err != nil {
			return err
		}
		status = CloseStatus{
			Close:                c,
			PeriodName:           period.Name,
			StatusLabel:          shared.StatusLabel(c.Status),
			CompletionPercentage: c.CompletionPercentage(),
			RemainingRequired:    c.RemainingRequired(),
			UnresolvedBlocking:   c.UnresolvedBlocking(),
		}
		return nil
	})
	return status, err
}

func lastOfFiscalYear(ctx context.Context, tx Tx, period accounting.Period) error {
	periods, err := tx.ListPeriods(ctx)
	if err != nil {
		return err
	}
	for _, p := range periods {
		if p.FiscalYear == period.FiscalYear && p.EndDate.After(period.EndDate) {
			return fmt.Errorf("%w: %s ends before %s", ErrYearEndPeriod, period.Name, p.Name)
		}
	}
	return nil
}

func inProgress(ctx context.Context, tx Tx, closeID int64) (Close, error) {
	c, err := tx.GetCloseForUpdate(ctx, closeID)
	if err != nil {
		return Close{}, err
	}
	if c.Status != StatusInProgress {
		return Close{}, fmt.Errorf("%w: %s is %s", ErrChecklistLocked, c.Number, c.Status)
	}
	return c, nil
}

func (s *Service) markComplete(task *Task, cycle int, actorID, comment string) {
	now := s.now().UTC()
	task.Complete = true
	task.CompletedCycle = cycle
	task.CompletedAt = &now
	task.CompletedBy = actorID
	task.Comment = strings.TrimSpace(comment)
}

func (s *Service) observe(closeType CloseType, outcome string) {
	if s.metrics != nil {
		s.metrics.CloseAttempt(string(closeType), outcome)
	}
}

func (s *Service) record(ctx context.Context, actorID, action string, c Close, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = c.Number
	meta["status"] = c.Status
	meta["period_id"] = c.PeriodID
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "fiscal_period_close",
		EntityID: fmt.Sprintf("%d", c.ID),
		Meta:     meta,
		At:       s.now(),
	})
}
