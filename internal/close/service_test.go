package close_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	lt "github.com/odyssey-erp/odyssey-gl/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/trialbalance"
	closepkg "github.com/odyssey-erp/odyssey-gl/internal/close"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
	_ "github.com/odyssey-erp/odyssey-gl/testing"
)

func initiate(t *testing.T, f *lt.Fixture, month time.Month, closeType closepkg.CloseType) closepkg.Close {
	t.Helper()
	period := f.Period(t, lt.Date(month, 1))
	c, err := f.Close.InitiateClose(f.Ctx, closepkg.InitiateInput{PeriodID: period.ID, Type: closeType, ActorID: lt.Actor})
	require.NoError(t, err)
	require.Equal(t, closepkg.StatusInProgress, c.Status)
	return c
}

func completeExternal(t *testing.T, f *lt.Fixture, c closepkg.Close) {
	t.Helper()
	for _, task := range c.Tasks {
		if task.Kind == closepkg.TaskKindExternal {
			_, err := f.Close.CompleteTask(f.Ctx, c.ID, task.Code, lt.Actor, "signed off")
			require.NoError(t, err)
		}
	}
}

func taskCodes(c closepkg.Close) []string {
	codes := make([]string, 0, len(c.Tasks))
	for _, task := range c.Tasks {
		codes = append(codes, task.Code)
	}
	return codes
}

func TestMonthEndCloseLifecycle(t *testing.T) {
	f := lt.New(t)
	f.Posted(t, "JE-1", lt.Date(time.January, 10), lt.Debit("1000", "500.00"), lt.Credit("4000", "500.00"))
	c := initiate(t, f, time.January, closepkg.CloseTypeMonthEnd)
	require.Equal(t, "FPC-2025-01", c.Number)
	require.Equal(t, 1, c.Cycle)
	require.NotContains(t, taskCodes(c), closepkg.TaskNetIncomeTransfer)

	_, err := f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	var incomplete *closepkg.RequiredTasksIncompleteError
	require.True(t, errors.As(err, &incomplete))
	require.ErrorIs(t, err, closepkg.ErrRequiredTasksIncomplete)
	require.Contains(t, incomplete.Remaining, "DEPRECIATION")
	require.NotContains(t, incomplete.Remaining, "INTERCOMPANY")
	require.NotContains(t, incomplete.Remaining, "INVENTORY")
	require.NotContains(t, incomplete.Remaining, closepkg.TaskVerifyTrialBalance)
	require.Equal(t, 1, f.Metrics.Attempts["MONTH_END/blocked"])

	status, err := f.Close.GetCloseStatus(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, "In Progress", status.StatusLabel)
	require.Equal(t, "Jan 2025", status.PeriodName)
	require.Equal(t, 27, status.CompletionPercentage)

	completeExternal(t, f, c)
	done, err := f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	require.NoError(t, err)
	require.Equal(t, closepkg.StatusComplete, done.Status)
	require.Equal(t, lt.Approver, done.CompletedBy)
	require.NotNil(t, done.TrialBalanceID)
	require.Nil(t, done.NetIncomeEntryID)
	require.Equal(t, 1, f.Metrics.Attempts["MONTH_END/complete"])

	period := f.Period(t, lt.Date(time.January, 1))
	require.True(t, period.IsClosed)
	tb, err := f.TB.Get(f.Ctx, period.ID)
	require.NoError(t, err)
	require.Equal(t, accounting.TrialBalanceStatusFinalized, tb.Status)
	require.Equal(t, *done.TrialBalanceID, tb.ID)

	status, err = f.Close.GetCloseStatus(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 100, status.CompletionPercentage)
	require.Empty(t, status.RemainingRequired)

	late, err := f.Journals.CreateDraft(f.Ctx, draftIn("JE-LATE", lt.Date(time.January, 20)))
	require.NoError(t, err)
	_, err = f.Journals.Submit(f.Ctx, late.ID, lt.Actor)
	require.ErrorIs(t, err, accounting.ErrPeriodClosed)
}

func TestCloseGateOrder(t *testing.T) {
	f := lt.New(t)
	err := f.Store.WithTx(f.Ctx, func(ctx context.Context, tx accounting.Tx) error {
		cash, err := tx.GetAccountByCode(ctx, "1000")
		if err != nil {
			return err
		}
		period, err := accounting.ResolvePeriod(ctx, tx, lt.Date(time.February, 3))
		if err != nil {
			return err
		}
		_, err = tx.InsertEntry(ctx, accounting.JournalEntry{
			Reference: "IMPORTED",
			Date:      lt.Date(time.February, 3),
			Source:    accounting.EntrySourceManual,
			PeriodID:  period.ID,
			Status:    accounting.EntryStatusApproved,
			IsPosted:  true,
			Lines:     []accounting.JournalLine{{AccountID: cash.ID, Debit: lt.Amount("10.00"), Credit: lt.Amount("0")}},
		})
		return err
	})
	require.NoError(t, err)

	c := initiate(t, f, time.February, closepkg.CloseTypeMonthEnd)
	_, err = f.Close.AddValidationIssue(f.Ctx, c.ID, closepkg.IssueInput{Code: "fx", Description: "rates missing", Severity: closepkg.SeverityBlocking, ActorID: lt.Actor})
	require.NoError(t, err)

	_, err = f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	var outOfBalance *closepkg.TrialBalanceOutOfBalanceError
	require.True(t, errors.As(err, &outOfBalance))
	require.Equal(t, "10.00", accounting.FormatAmount(outOfBalance.Amount))
	require.Equal(t, accounting.ErrInvariantViolation, accounting.Category(err))
	require.False(t, f.Period(t, lt.Date(time.February, 1)).IsClosed)

	status, err := f.Close.GetCloseStatus(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Contains(t, status.RemainingRequired, closepkg.TaskVerifyTrialBalance)
}

func TestBlockingIssuesGateCompletion(t *testing.T) {
	f := lt.New(t)
	c := initiate(t, f, time.March, closepkg.CloseTypeMonthEnd)
	completeExternal(t, f, c)

	_, err := f.Close.AddValidationIssue(f.Ctx, c.ID, closepkg.IssueInput{Description: "x", Severity: "SEVERE"})
	require.ErrorIs(t, err, accounting.ErrValidation)
	issue, err := f.Close.AddValidationIssue(f.Ctx, c.ID, closepkg.IssueInput{Code: "bank_gap", Description: "unmatched deposit", Severity: closepkg.SeverityBlocking, ActorID: lt.Actor})
	require.NoError(t, err)
	require.Equal(t, "BANK_GAP", issue.Code)
	_, err = f.Close.AddValidationIssue(f.Ctx, c.ID, closepkg.IssueInput{Description: "memo typo", Severity: closepkg.SeverityInfo, ActorID: lt.Actor})
	require.NoError(t, err)

	_, err = f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	var unresolved *closepkg.UnresolvedValidationIssuesError
	require.True(t, errors.As(err, &unresolved))
	require.Equal(t, 1, unresolved.Count)

	_, err = f.Close.ResolveValidationIssue(f.Ctx, c.ID, issue.ID, " ", lt.Actor)
	require.ErrorIs(t, err, accounting.ErrReasonRequired)
	_, err = f.Close.ResolveValidationIssue(f.Ctx, c.ID, 9999, "n/a", lt.Actor)
	require.ErrorIs(t, err, closepkg.ErrIssueNotFound)
	resolved, err := f.Close.ResolveValidationIssue(f.Ctx, c.ID, issue.ID, "deposit matched", lt.Actor)
	require.NoError(t, err)
	require.True(t, resolved.Resolved)

	done, err := f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	require.NoError(t, err)
	require.Equal(t, closepkg.StatusComplete, done.Status)
}

func TestUnpostedEntriesBlockClose(t *testing.T) {
	f := lt.New(t)
	f.Draft(t, "JE-DRAFT", lt.Date(time.April, 2), lt.Debit("1000", "5.00"), lt.Credit("4000", "5.00"))
	f.Posted(t, "JE-NEG", lt.Date(time.April, 3), lt.Debit("2000", "5.00"), lt.Credit("1000", "5.00"))
	c := initiate(t, f, time.April, closepkg.CloseTypeMonthEnd)
	completeExternal(t, f, c)

	_, err := f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	var incomplete *closepkg.RequiredTasksIncompleteError
	require.True(t, errors.As(err, &incomplete))
	require.Equal(t, []string{closepkg.TaskPostAllJournals}, incomplete.Remaining)

	status, err := f.Close.GetCloseStatus(f.Ctx, c.ID)
	require.NoError(t, err)
	codes := map[string]closepkg.Severity{}
	for _, issue := range status.Close.Issues {
		require.True(t, issue.System)
		codes[issue.Code] = issue.Severity
	}
	require.Equal(t, closepkg.SeverityWarning, codes["UNPOSTED_ENTRIES"])
	require.Equal(t, closepkg.SeverityWarning, codes["ABNORMAL_BALANCE"])

	require.Len(t, status.Close.Issues, 3)

	_, err = f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	require.ErrorIs(t, err, closepkg.ErrRequiredTasksIncomplete)
	status, err = f.Close.GetCloseStatus(f.Ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, status.Close.Issues, 3)
}

func TestTaskAndInitiateGuards(t *testing.T) {
	f := lt.New(t)
	c := initiate(t, f, time.May, closepkg.CloseTypeQuarterEnd)

	_, err := f.Close.InitiateClose(f.Ctx, closepkg.InitiateInput{PeriodID: c.PeriodID, Type: closepkg.CloseTypeMonthEnd, ActorID: lt.Actor})
	require.ErrorIs(t, err, closepkg.ErrCloseInProgress)
	_, err = f.Close.InitiateClose(f.Ctx, closepkg.InitiateInput{PeriodID: c.PeriodID, Type: "WEEKLY", ActorID: lt.Actor})
	require.ErrorIs(t, err, accounting.ErrValidation)

	_, err = f.Close.CompleteTask(f.Ctx, c.ID, closepkg.TaskVerifyTrialBalance, lt.Actor, "")
	require.ErrorIs(t, err, closepkg.ErrSystemTask)
	_, err = f.Close.CompleteTask(f.Ctx, c.ID, "PAYROLL", lt.Actor, "")
	require.ErrorIs(t, err, closepkg.ErrTaskNotFound)

	task, err := f.Close.CompleteTask(f.Ctx, c.ID, "bank_recon", lt.Actor, " matched ")
	require.NoError(t, err)
	require.Equal(t, "matched", task.Comment)
	again, err := f.Close.CompleteTask(f.Ctx, c.ID, "BANK_RECON", lt.Approver, "")
	require.NoError(t, err)
	require.Equal(t, lt.Actor, again.CompletedBy)

	for _, task := range c.Tasks {
		if task.Code == "DEPRECIATION" {
			require.False(t, task.Required)
		}
	}
	_, err = f.Close.Reopen(f.Ctx, c.ID, "typo", lt.Actor)
	require.ErrorIs(t, err, accounting.ErrInvalidTransition)
}

func TestYearEndTransfersNetIncome(t *testing.T) {
	f := lt.New(t)
	f.Posted(t, "JE-SALE", lt.Date(time.December, 5), lt.Debit("1000", "1000.00"), lt.Credit("4000", "1000.00"))
	f.Posted(t, "JE-RENT", lt.Date(time.December, 6), lt.Debit("5000", "300.00"), lt.Credit("1000", "300.00"))
	c := initiate(t, f, time.December, closepkg.CloseTypeYearEnd)
	require.Contains(t, taskCodes(c), closepkg.TaskNetIncomeTransfer)
	completeExternal(t, f, c)

	done, err := f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	require.NoError(t, err)
	require.NotNil(t, done.NetIncomeEntryID)

	transfer, err := f.Journals.GetEntry(f.Ctx, *done.NetIncomeEntryID)
	require.NoError(t, err)
	require.Equal(t, "FPC-2025-12-NIT-1", transfer.Reference)
	require.Equal(t, accounting.EntrySourceYearEndTransfer, transfer.Source)
	require.Equal(t, lt.Date(time.December, 31), transfer.Date)
	require.True(t, transfer.IsPosted)
	require.Equal(t, "1000.00", accounting.FormatAmount(transfer.TotalDebits()))

	tb, err := f.TB.Get(f.Ctx, done.PeriodID)
	require.NoError(t, err)
	require.True(t, tb.IsBalanced)
	require.True(t, tb.NetIncome.IsZero())
	for _, line := range tb.Lines {
		switch line.AccountCode {
		case "4000", "5000":
			require.True(t, line.DebitBalance.IsZero() && line.CreditBalance.IsZero(), line.AccountCode)
		case "3900":
			require.Equal(t, "700.00", accounting.FormatAmount(line.CreditBalance))
		}
	}
	for _, task := range done.Tasks {
		if task.Code == closepkg.TaskNetIncomeTransfer {
			require.True(t, task.CompleteIn(done.Cycle))
		}
	}
	require.Equal(t, 1, f.Metrics.Posted[string(accounting.EntrySourceYearEndTransfer)])
}

func TestYearEndTransfersWholeFiscalYear(t *testing.T) {
	f := lt.New(t)
	f.Posted(t, "JE-JUN", lt.Date(time.June, 12), lt.Debit("1000", "500.00"), lt.Credit("4000", "500.00"))
	f.Posted(t, "JE-SEP", lt.Date(time.September, 3), lt.Debit("5000", "80.00"), lt.Credit("1000", "80.00"))
	f.Posted(t, "JE-DEC", lt.Date(time.December, 9), lt.Debit("1000", "100.00"), lt.Credit("4000", "100.00"))
	c := initiate(t, f, time.December, closepkg.CloseTypeYearEnd)
	completeExternal(t, f, c)

	done, err := f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	require.NoError(t, err)
	require.NotNil(t, done.NetIncomeEntryID)
	transfer, err := f.Journals.GetEntry(f.Ctx, *done.NetIncomeEntryID)
	require.NoError(t, err)
	require.Equal(t, "600.00", accounting.FormatAmount(transfer.TotalDebits()))

	december := f.Period(t, lt.Date(time.December, 1))
	err = f.Store.WithTx(f.Ctx, func(ctx context.Context, tx accounting.Tx) error {
		ytd, err := trialbalance.YearToDateTx(ctx, tx, december, lt.Clock)
		if err != nil {
			return err
		}
		require.True(t, ytd.IsBalanced)
		require.True(t, ytd.NetIncome.IsZero())
		balances := map[string]string{}
		for _, line := range ytd.Lines {
			balances[line.AccountCode] = accounting.FormatAmount(line.DebitBalance.Sub(line.CreditBalance))
		}
		require.Equal(t, "0.00", balances["4000"])
		require.Equal(t, "0.00", balances["5000"])
		require.Equal(t, "-520.00", balances["3900"])
		return nil
	})
	require.NoError(t, err)

	tb, err := f.TB.Get(f.Ctx, done.PeriodID)
	require.NoError(t, err)
	require.True(t, tb.IsBalanced)
	require.Equal(t, accounting.TrialBalanceStatusFinalized, tb.Status)
}

func TestYearEndRequiresLastPeriodOfYear(t *testing.T) {
	f := lt.New(t)
	period := f.Period(t, lt.Date(time.June, 1))
	_, err := f.Close.InitiateClose(f.Ctx, closepkg.InitiateInput{PeriodID: period.ID, Type: closepkg.CloseTypeYearEnd, ActorID: lt.Actor})
	require.ErrorIs(t, err, closepkg.ErrYearEndPeriod)
	require.Equal(t, accounting.ErrValidation, accounting.Category(err))

	c, err := f.Close.InitiateClose(f.Ctx, closepkg.InitiateInput{PeriodID: period.ID, Type: closepkg.CloseTypeMonthEnd, ActorID: lt.Actor})
	require.NoError(t, err)
	require.Equal(t, closepkg.CloseTypeMonthEnd, c.Type)
}

func TestCompleteCloseRacingPostings(t *testing.T) {
	const entries = 40
	f := lt.New(t)
	approved := make([]accounting.JournalEntry, 0, entries)
	for i := 0; i < entries; i++ {
		approved = append(approved, f.Approved(t, fmt.Sprintf("JE-RACE-%02d", i), lt.Date(time.August, 1+i%28), lt.Debit("1000", "10.00"), lt.Credit("4000", "10.00")))
	}
	c := initiate(t, f, time.August, closepkg.CloseTypeMonthEnd)
	completeExternal(t, f, c)

	postErrs := make([]error, entries)
	var closeErr error
	var g errgroup.Group
	for i, entry := range approved {
		g.Go(func() error {
			_, postErrs[i] = f.Journals.Post(f.Ctx, entry.ID, lt.Approver)
			return nil
		})
	}
	g.Go(func() error {
		_, closeErr = f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
		return nil
	})
	require.NoError(t, g.Wait())

	posted := 0
	for _, err := range postErrs {
		if err == nil {
			posted++
			continue
		}
		require.ErrorIs(t, err, accounting.ErrPeriodClosed)
	}
	if closeErr != nil {
		require.ErrorIs(t, closeErr, closepkg.ErrRequiredTasksIncomplete)
		require.Equal(t, entries, posted)
		_, closeErr = f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	}
	require.NoError(t, closeErr)

	tb, err := f.TB.Get(f.Ctx, c.PeriodID)
	require.NoError(t, err)
	require.Equal(t, accounting.TrialBalanceStatusFinalized, tb.Status)
	require.True(t, tb.IsBalanced)
	require.Equal(t, accounting.FormatAmount(lt.Amount("10.00").Mul(decimal.NewFromInt(int64(posted)))), accounting.FormatAmount(tb.TotalDebits))

	err = f.Store.WithTx(f.Ctx, func(ctx context.Context, tx accounting.Tx) error {
		period, err := tx.GetPeriod(ctx, c.PeriodID)
		if err != nil {
			return err
		}
		chart, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		lines, err := tx.PostedLines(ctx, accounting.PostedLineFilter{From: period.StartDate, To: period.EndDate})
		if err != nil {
			return err
		}
		ledger := trialbalance.Build(period, chart, lines, false, lt.Clock)
		require.Equal(t, accounting.FormatAmount(ledger.TotalDebits), accounting.FormatAmount(tb.TotalDebits))
		require.Equal(t, accounting.FormatAmount(ledger.TotalCredits), accounting.FormatAmount(tb.TotalCredits))
		require.Len(t, tb.Lines, len(ledger.Lines))
		return nil
	})
	require.NoError(t, err)
}

func TestReopenStartsNewCycle(t *testing.T) {
	f := lt.New(t)
	f.Posted(t, "JE-1", lt.Date(time.June, 10), lt.Debit("1000", "50.00"), lt.Credit("4000", "50.00"))
	c := initiate(t, f, time.June, closepkg.CloseTypeMonthEnd)
	completeExternal(t, f, c)
	done, err := f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	require.NoError(t, err)

	_, err = f.Close.Reopen(f.Ctx, c.ID, "", lt.Actor)
	require.ErrorIs(t, err, accounting.ErrReasonRequired)
	reopened, err := f.Close.Reopen(f.Ctx, c.ID, "late invoice", lt.Actor)
	require.NoError(t, err)
	require.Equal(t, closepkg.StatusReopened, reopened.Status)
	require.Equal(t, "late invoice", reopened.ReopenReason)
	require.Equal(t, 1, f.Metrics.Attempts["MONTH_END/reopened"])
	require.False(t, f.Period(t, lt.Date(time.June, 1)).IsClosed)
	_, err = f.TB.Get(f.Ctx, done.PeriodID)
	require.ErrorIs(t, err, accounting.ErrTrialBalanceNotFound)

	f.Posted(t, "JE-2", lt.Date(time.June, 20), lt.Debit("1000", "5.00"), lt.Credit("4000", "5.00"))
	restarted, err := f.Close.InitiateClose(f.Ctx, closepkg.InitiateInput{PeriodID: done.PeriodID, Type: closepkg.CloseTypeMonthEnd, ActorID: lt.Actor})
	require.NoError(t, err)
	require.Equal(t, c.ID, restarted.ID)
	require.Equal(t, 2, restarted.Cycle)

	_, err = f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	require.ErrorIs(t, err, closepkg.ErrRequiredTasksIncomplete)
	completeExternal(t, f, restarted)
	second, err := f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	require.NoError(t, err)
	require.Equal(t, closepkg.StatusComplete, second.Status)
	require.Equal(t, 2, second.Cycle)
}

func TestCompleteCloseHonoursPeriodLock(t *testing.T) {
	f := lt.New(t)
	mr := miniredis.RunT(t)
	locker := shared.NewLocker(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	f.Close.WithLocker(locker)
	c := initiate(t, f, time.July, closepkg.CloseTypeMonthEnd)
	completeExternal(t, f, c)

	release, err := locker.Acquire(context.Background(), shared.PeriodCloseLockKey(c.PeriodID), time.Minute)
	require.NoError(t, err)
	_, err = f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	require.ErrorIs(t, err, closepkg.ErrEvaluationRunning)

	require.NoError(t, release(context.Background()))
	done, err := f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	require.NoError(t, err)
	require.Equal(t, closepkg.StatusComplete, done.Status)
	require.False(t, mr.Exists(shared.PeriodCloseLockKey(c.PeriodID)))
}

func TestLoadChecklist(t *testing.T) {
	defs, err := closepkg.LoadChecklist(strings.NewReader(`
tasks:
  - code: generate_trial_balance
    name: Generate trial balance
  - code: PAYROLL
    name: Payroll accrued
    required_for: [YEAR_END]
`))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Equal(t, "GENERATE_TRIAL_BALANCE", defs[0].Code)
	require.False(t, defs[1].RequiredIn(closepkg.CloseTypeMonthEnd))
	require.True(t, defs[1].RequiredIn(closepkg.CloseTypeYearEnd))

	for name, doc := range map[string]string{
		"empty":     "tasks: []",
		"duplicate": "tasks:\n  - {code: A, name: a}\n  - {code: a, name: b}",
		"bad type":  "tasks:\n  - {code: A, name: a, applies_to: [WEEKLY]}",
		"unknown":   "tasks:\n  - {code: A, name: a, owner: ops}",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := closepkg.LoadChecklist(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func draftIn(ref string, date time.Time) journals.DraftInput {
	return journals.DraftInput{Reference: ref, Date: date, Lines: []journals.LineInput{lt.Debit("1000", "1.00"), lt.Credit("4000", "1.00")}, ActorID: lt.Actor}
}
