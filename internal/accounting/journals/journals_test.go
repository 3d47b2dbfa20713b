package journals_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	lt "github.com/odyssey-erp/odyssey-gl/internal/accounting/ledgertest"
	_ "github.com/odyssey-erp/odyssey-gl/testing"
)

func TestPostBalancedEntryUpdatesTrialBalance(t *testing.T) {
	f := lt.New(t)
	entry := f.Posted(t, "JE-001", lt.Date(time.March, 10), lt.Debit("1000", "500.00"), lt.Credit("3000", "500.00"))

	require.Equal(t, accounting.EntryStatusApproved, entry.Status)
	require.NotNil(t, entry.PostedAt)
	require.Equal(t, lt.Approver, entry.PostedBy)

	period := f.Period(t, entry.Date)
	require.Equal(t, int64(1), period.PostingVersion)

	tb, err := f.TB.Generate(f.Ctx, period.ID, false)
	require.NoError(t, err)
	require.True(t, tb.IsBalanced)
	require.Len(t, tb.Lines, 2)
	require.Equal(t, "1000", tb.Lines[0].AccountCode)
	require.Equal(t, "500.00", accounting.FormatAmount(tb.Lines[0].DebitBalance))
	require.Equal(t, "3000", tb.Lines[1].AccountCode)
	require.Equal(t, "500.00", accounting.FormatAmount(tb.Lines[1].CreditBalance))
	require.Equal(t, 1, f.Metrics.Posted[string(accounting.EntrySourceManual)])
	require.Equal(t, 1, f.Audit.Count("journal.post"))
}

func TestSubmitRejectsUnbalancedEntry(t *testing.T) {
	f := lt.New(t)
	entry := f.Draft(t, "JE-002", lt.Date(time.March, 10), lt.Debit("1000", "500.00"), lt.Credit("3000", "499.99"))

	_, err := f.Journals.Submit(f.Ctx, entry.ID, lt.Actor)
	require.ErrorIs(t, err, accounting.ErrUnbalancedEntry)
	require.ErrorIs(t, err, accounting.ErrInvariantViolation)
	var unbalanced *accounting.UnbalancedEntryError
	require.True(t, errors.As(err, &unbalanced))
	require.Equal(t, "0.01", accounting.FormatAmount(unbalanced.Delta))

	stored, err := f.Journals.GetEntry(f.Ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, accounting.EntryStatusDraft, stored.Status)
	require.False(t, stored.IsPosted)
}

func TestDraftValidation(t *testing.T) {
	f := lt.New(t)
	cases := []struct {
		name  string
		lines []journals.LineInput
		want  error
	}{
		{name: "single line", lines: []journals.LineInput{lt.Debit("1000", "1.00")}, want: accounting.ErrTooFewLines},
		{name: "both sides", lines: []journals.LineInput{
			{AccountCode: "1000", Debit: lt.Amount("1.00"), Credit: lt.Amount("1.00")},
			lt.Credit("3000", "1.00"),
		}, want: accounting.ErrInvalidLine},
		{name: "zero line", lines: []journals.LineInput{{AccountCode: "1000"}, lt.Credit("3000", "1.00")}, want: accounting.ErrInvalidLine},
		{name: "negative", lines: []journals.LineInput{lt.Debit("1000", "-1.00"), lt.Credit("3000", "1.00")}, want: accounting.ErrValidation},
		{name: "sub cent", lines: []journals.LineInput{lt.Debit("1000", "1.001"), lt.Credit("3000", "1.001")}, want: accounting.ErrValidation},
		{name: "unknown account", lines: []journals.LineInput{lt.Debit("9999", "1.00"), lt.Credit("3000", "1.00")}, want: accounting.ErrAccountNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.Journals.CreateDraft(f.Ctx, journals.DraftInput{Reference: "BAD-" + tc.name, Date: lt.Date(time.March, 1), Lines: tc.lines, ActorID: lt.Actor})
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := f.Journals.CreateDraft(f.Ctx, journals.DraftInput{Reference: "NOPERIOD", Date: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		Lines: []journals.LineInput{lt.Debit("1000", "1.00"), lt.Credit("3000", "1.00")}, ActorID: lt.Actor})
	require.ErrorIs(t, err, accounting.ErrNoPeriodForDate)

	f.Draft(t, "DUP", lt.Date(time.March, 2), lt.Debit("1000", "1.00"), lt.Credit("3000", "1.00"))
	_, err = f.Journals.CreateDraft(f.Ctx, journals.DraftInput{Reference: "DUP", Date: lt.Date(time.March, 2),
		Lines: []journals.LineInput{lt.Debit("1000", "1.00"), lt.Credit("3000", "1.00")}, ActorID: lt.Actor})
	require.ErrorIs(t, err, accounting.ErrDuplicateReference)
}

func TestControlAccountRejectsDirectPosting(t *testing.T) {
	f := lt.New(t)
	_, err := f.Accounts.Create(f.Ctx, accountInput("1000-01", "Petty Cash", "1000"))
	require.NoError(t, err)

	_, err = f.Journals.CreateDraft(f.Ctx, journals.DraftInput{Reference: "CTRL", Date: lt.Date(time.March, 2),
		Lines: []journals.LineInput{lt.Debit("1000", "1.00"), lt.Credit("3000", "1.00")}, ActorID: lt.Actor})
	require.ErrorIs(t, err, accounting.ErrAccountNotPostable)

	f.Posted(t, "CHILD", lt.Date(time.March, 2), lt.Debit("1000-01", "1.00"), lt.Credit("3000", "1.00"))
}

func TestPostIsIdempotent(t *testing.T) {
	f := lt.New(t)
	entry := f.Posted(t, "JE-003", lt.Date(time.March, 3), lt.Debit("1000", "10.00"), lt.Credit("4000", "10.00"))

	again, err := f.Journals.Post(f.Ctx, entry.ID, lt.Approver)
	require.NoError(t, err)
	require.True(t, again.IsPosted)
	require.Equal(t, entry.PostedAt, again.PostedAt)
	require.Equal(t, 1, f.Audit.Count("journal.post"))
	require.Equal(t, int64(1), f.Period(t, entry.Date).PostingVersion)
}

func TestPostRequiresApproval(t *testing.T) {
	f := lt.New(t)
	entry := f.Draft(t, "JE-004", lt.Date(time.March, 3), lt.Debit("1000", "10.00"), lt.Credit("4000", "10.00"))
	_, err := f.Journals.Post(f.Ctx, entry.ID, lt.Approver)
	require.ErrorIs(t, err, accounting.ErrInvalidTransition)
	require.ErrorIs(t, err, accounting.ErrStateConflict)
}

func TestRejectAndRevise(t *testing.T) {
	f := lt.New(t)
	entry := f.Draft(t, "JE-005", lt.Date(time.March, 4), lt.Debit("1000", "10.00"), lt.Credit("4000", "10.00"))
	_, err := f.Journals.Submit(f.Ctx, entry.ID, lt.Actor)
	require.NoError(t, err)

	_, err = f.Journals.Reject(f.Ctx, entry.ID, " ", lt.Approver)
	require.ErrorIs(t, err, accounting.ErrReasonRequired)

	rejected, err := f.Journals.Reject(f.Ctx, entry.ID, "wrong account", lt.Approver)
	require.NoError(t, err)
	require.Equal(t, accounting.EntryStatusRejected, rejected.Status)
	require.Equal(t, "wrong account", rejected.RejectionReason)

	revised, err := f.Journals.Revise(f.Ctx, entry.ID, lt.Actor)
	require.NoError(t, err)
	require.Equal(t, accounting.EntryStatusDraft, revised.Status)
	require.Empty(t, revised.RejectionReason)

	lines := []journals.LineInput{lt.Debit("1100", "12.00"), lt.Credit("4000", "12.00")}
	updated, err := f.Journals.UpdateDraft(f.Ctx, entry.ID, journals.UpdateInput{Memo: "fixed", Lines: lines, ActorID: lt.Actor})
	require.NoError(t, err)
	require.Equal(t, "fixed", updated.Memo)
	require.Len(t, updated.Lines, 2)
	require.Equal(t, "12.00", accounting.FormatAmount(updated.TotalDebits()))
	require.Equal(t, lt.Date(time.March, 4), updated.Date)

	_, err = f.Journals.UpdateDraft(f.Ctx, entry.ID, journals.UpdateInput{Date: time.Date(2031, time.May, 1, 0, 0, 0, 0, time.UTC), Lines: lines, ActorID: lt.Actor})
	require.ErrorIs(t, err, accounting.ErrNoPeriodForDate)

	moved, err := f.Journals.UpdateDraft(f.Ctx, entry.ID, journals.UpdateInput{Memo: "fixed", Date: lt.Date(time.April, 2), Lines: lines, ActorID: lt.Actor})
	require.NoError(t, err)
	require.Equal(t, lt.Date(time.April, 2), moved.Date)
	require.Equal(t, f.Period(t, lt.Date(time.April, 1)).ID, moved.PeriodID)
}

func TestDiscardDraftReleasesPeriodClose(t *testing.T) {
	f := lt.New(t)
	period := f.Period(t, lt.Date(time.January, 1))
	draft := f.Draft(t, "JE-ABANDONED", lt.Date(time.January, 8), lt.Debit("1000", "40.00"), lt.Credit("4000", "39.00"))
	posted := f.Posted(t, "JE-KEPT", lt.Date(time.January, 9), lt.Debit("1000", "40.00"), lt.Credit("4000", "40.00"))

	_, err := f.Journals.Discard(f.Ctx, draft.ID, "  ", lt.Actor)
	require.ErrorIs(t, err, accounting.ErrReasonRequired)
	_, err = f.Journals.Discard(f.Ctx, posted.ID, "mistake", lt.Actor)
	require.ErrorIs(t, err, accounting.ErrInvalidTransition)

	discarded, err := f.Journals.Discard(f.Ctx, draft.ID, "duplicate of JE-KEPT", lt.Actor)
	require.NoError(t, err)
	require.Equal(t, accounting.EntryStatusRejected, discarded.Status)
	require.False(t, discarded.IsPosted)
	require.Equal(t, "duplicate of JE-KEPT", discarded.RejectionReason)
	require.Equal(t, 1, f.Audit.Count("journal.discard"))

	c := closeJanuary(t, f, period.ID)
	require.NotNil(t, c.TrialBalanceID)
}

func TestClosedPeriodRejectsPostingUntilReopened(t *testing.T) {
	f := lt.New(t)
	f.Posted(t, "JE-010", lt.Date(time.January, 5), lt.Debit("1000", "100.00"), lt.Credit("3000", "100.00"))
	period := f.Period(t, lt.Date(time.January, 1))
	c := closeJanuary(t, f, period.ID)

	_, err := f.Journals.CreateDraft(f.Ctx, journals.DraftInput{Reference: "LATE", Date: lt.Date(time.January, 20),
		Lines: []journals.LineInput{lt.Debit("1000", "5.00"), lt.Credit("3000", "5.00")}, ActorID: lt.Actor})
	require.NoError(t, err)
	late, err := f.Journals.ListEntries(f.Ctx, accounting.EntryFilter{PeriodID: &period.ID, Posted: boolPtr(false)})
	require.NoError(t, err)
	require.Len(t, late, 1)

	_, err = f.Journals.Submit(f.Ctx, late[0].ID, lt.Actor)
	var closed *accounting.PeriodClosedError
	require.True(t, errors.As(err, &closed))
	require.Equal(t, period.ID, closed.PeriodID)
	require.ErrorIs(t, err, accounting.ErrPeriodClosed)

	_, err = f.Close.Reopen(f.Ctx, c.ID, "late invoice correction", lt.Actor)
	require.NoError(t, err)
	_, err = f.Journals.Submit(f.Ctx, late[0].ID, lt.Actor)
	require.NoError(t, err)
	_, err = f.Journals.Approve(f.Ctx, late[0].ID, lt.Approver)
	require.NoError(t, err)
	posted, err := f.Journals.Post(f.Ctx, late[0].ID, lt.Approver)
	require.NoError(t, err)
	require.True(t, posted.IsPosted)
}

func TestReverseMirrorsLines(t *testing.T) {
	f := lt.New(t)
	original := f.Posted(t, "JE-020", lt.Date(time.March, 5), lt.Debit("5000", "250.00"), lt.Credit("1000", "250.00"))

	reversal, err := f.Journals.Reverse(f.Ctx, journals.ReverseInput{EntryID: original.ID, ActorID: lt.Actor})
	require.NoError(t, err)
	require.True(t, reversal.IsPosted)
	require.Equal(t, "REV-JE-020", reversal.Reference)
	require.Equal(t, accounting.EntrySourceReversal, reversal.Source)
	require.NotNil(t, reversal.ReversalOf)
	require.Equal(t, original.ID, *reversal.ReversalOf)
	require.Equal(t, original.Lines[0].AccountID, reversal.Lines[0].AccountID)
	require.True(t, reversal.Lines[0].Credit.Equal(original.Lines[0].Debit))
	require.True(t, reversal.Lines[1].Debit.Equal(original.Lines[1].Credit))

	_, err = f.Journals.Reverse(f.Ctx, journals.ReverseInput{EntryID: original.ID, ActorID: lt.Actor})
	require.ErrorIs(t, err, accounting.ErrAlreadyReversed)
	_, err = f.Journals.Reverse(f.Ctx, journals.ReverseInput{EntryID: reversal.ID, ActorID: lt.Actor})
	require.ErrorIs(t, err, accounting.ErrReversalOfReversal)

	draft := f.Draft(t, "JE-021", lt.Date(time.March, 5), lt.Debit("5000", "1.00"), lt.Credit("1000", "1.00"))
	_, err = f.Journals.Reverse(f.Ctx, journals.ReverseInput{EntryID: draft.ID, ActorID: lt.Actor})
	require.ErrorIs(t, err, accounting.ErrEntryNotPosted)

	tb, err := f.TB.Generate(f.Ctx, original.PeriodID, false)
	require.NoError(t, err)
	require.True(t, tb.NetIncome.IsZero())
	for _, line := range tb.Lines {
		require.True(t, line.DebitBalance.IsZero(), line.AccountCode)
		require.True(t, line.CreditBalance.IsZero(), line.AccountCode)
	}
}

func TestAccountLedgerRunningBalance(t *testing.T) {
	f := lt.New(t)
	f.Posted(t, "L-1", lt.Date(time.February, 10), lt.Debit("1000", "100.00"), lt.Credit("3000", "100.00"))
	f.Posted(t, "L-2", lt.Date(time.March, 1), lt.Debit("1000", "40.00"), lt.Credit("4000", "40.00"))
	f.Posted(t, "L-3", lt.Date(time.March, 20), lt.Debit("5000", "15.00"), lt.Credit("1000", "15.00"))

	ledger, err := f.Journals.GetAccountLedger(f.Ctx, "1000", lt.Date(time.March, 1), lt.Date(time.March, 31))
	require.NoError(t, err)
	require.Equal(t, "100.00", accounting.FormatAmount(ledger.OpeningBalance))
	require.Len(t, ledger.Lines, 2)
	require.Equal(t, "140.00", accounting.FormatAmount(ledger.Lines[0].Balance))
	require.Equal(t, "125.00", accounting.FormatAmount(ledger.ClosingBalance))
	require.Equal(t, "40.00", accounting.FormatAmount(ledger.TotalDebits))
	require.Equal(t, "15.00", accounting.FormatAmount(ledger.TotalCredits))

	revenue, err := f.Journals.GetAccountLedger(f.Ctx, "4000", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "40.00", accounting.FormatAmount(revenue.ClosingBalance))

	_, err = f.Journals.GetAccountLedger(f.Ctx, "1000", lt.Date(time.March, 31), lt.Date(time.March, 1))
	require.ErrorIs(t, err, accounting.ErrValidation)
}
