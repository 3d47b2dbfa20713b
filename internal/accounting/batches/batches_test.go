package batches_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/batches"
	lt "github.com/odyssey-erp/odyssey-gl/internal/accounting/ledgertest"
	_ "github.com/odyssey-erp/odyssey-gl/testing"
)

func newBatch(t *testing.T, f *lt.Fixture, number string, periodID *int64) accounting.PostingBatch {
	t.Helper()
	batch, err := f.Batches.Create(f.Ctx, batches.CreateInput{Number: number, BatchDate: lt.Date(time.March, 31), PeriodID: periodID, ActorID: lt.Actor})
	require.NoError(t, err)
	require.Equal(t, accounting.BatchStatusOpen, batch.Status)
	return batch
}

func approve(t *testing.T, f *lt.Fixture, batchID int64) {
	t.Helper()
	_, err := f.Batches.Submit(f.Ctx, batchID, lt.Actor)
	require.NoError(t, err)
	_, err = f.Batches.Approve(f.Ctx, batchID, lt.Approver)
	require.NoError(t, err)
}

func TestPostBatchPostsAllEntriesInOrder(t *testing.T) {
	f := lt.New(t)
	march := f.Period(t, lt.Date(time.March, 1))
	batch := newBatch(t, f, "B-001", &march.ID)

	late := f.Approved(t, "JE-B", lt.Date(time.March, 20), lt.Debit("1000", "20.00"), lt.Credit("4000", "20.00"))
	early := f.Approved(t, "JE-C", lt.Date(time.March, 5), lt.Debit("5000", "7.50"), lt.Credit("1000", "7.50"))
	sameDay := f.Approved(t, "JE-A", lt.Date(time.March, 20), lt.Debit("1100", "3.00"), lt.Credit("4000", "3.00"))
	for _, e := range []accounting.JournalEntry{late, early, sameDay} {
		require.NoError(t, f.Batches.AddEntry(f.Ctx, batch.ID, e.ID, lt.Actor))
	}
	require.NoError(t, f.Batches.AddEntry(f.Ctx, batch.ID, late.ID, lt.Actor))

	_, err := f.Journals.Post(f.Ctx, late.ID, lt.Approver)
	require.ErrorIs(t, err, accounting.ErrEntryInUnpostedBatch)

	approve(t, f, batch.ID)
	view, err := f.Batches.PostBatch(f.Ctx, batch.ID, lt.Approver)
	require.NoError(t, err)
	require.Equal(t, accounting.BatchStatusPosted, view.Batch.Status)
	require.Equal(t, 3, view.EntryCount)
	require.Equal(t, []string{"JE-C", "JE-A", "JE-B"}, references(view.Entries))
	require.Equal(t, "30.50", accounting.FormatAmount(view.TotalDebits))
	require.True(t, view.TotalDebits.Equal(view.TotalCredits))
	for _, e := range view.Entries {
		require.True(t, e.IsPosted, e.Reference)
	}
	require.Equal(t, []int{3}, f.Metrics.Batches)
	require.Equal(t, int64(3), f.Period(t, march.StartDate).PostingVersion)

	again, err := f.Batches.PostBatch(f.Ctx, batch.ID, lt.Approver)
	require.NoError(t, err)
	require.Equal(t, accounting.BatchStatusPosted, again.Batch.Status)
	require.Equal(t, 1, f.Audit.Count("batch.post"))
}

func TestPostBatchIsAtomic(t *testing.T) {
	f := lt.New(t)
	batch := newBatch(t, f, "B-002", nil)
	good := f.Approved(t, "JE-1", lt.Date(time.March, 1), lt.Debit("1000", "10.00"), lt.Credit("4000", "10.00"))
	bad := f.Approved(t, "JE-2", lt.Date(time.March, 2), lt.Debit("1100", "5.00"), lt.Credit("4000", "5.00"))
	require.NoError(t, f.Batches.AddEntry(f.Ctx, batch.ID, good.ID, lt.Actor))
	require.NoError(t, f.Batches.AddEntry(f.Ctx, batch.ID, bad.ID, lt.Actor))
	approve(t, f, batch.ID)

	_, err := f.Accounts.Deactivate(f.Ctx, "1100", lt.Actor)
	require.NoError(t, err)

	_, err = f.Batches.PostBatch(f.Ctx, batch.ID, lt.Approver)
	var failed *accounting.BatchValidationFailedError
	require.True(t, errors.As(err, &failed))
	require.Equal(t, bad.ID, failed.EntryID)
	require.ErrorIs(t, err, accounting.ErrBatchValidationFailed)
	require.ErrorIs(t, err, accounting.ErrAccountNotPostable)

	view, err := f.Batches.Get(f.Ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, accounting.BatchStatusApproved, view.Batch.Status)
	for _, e := range view.Entries {
		require.False(t, e.IsPosted, e.Reference)
	}
	require.Zero(t, f.Period(t, lt.Date(time.March, 1)).PostingVersion)
}

func TestPostBatchPrecheckRejectsUnapprovedEntries(t *testing.T) {
	f := lt.New(t)
	batch := newBatch(t, f, "B-003", nil)
	ready := f.Approved(t, "JE-1", lt.Date(time.March, 1), lt.Debit("1000", "10.00"), lt.Credit("4000", "10.00"))
	draft := f.Draft(t, "JE-2", lt.Date(time.March, 2), lt.Debit("1000", "5.00"), lt.Credit("4000", "5.00"))
	require.NoError(t, f.Batches.AddEntry(f.Ctx, batch.ID, ready.ID, lt.Actor))
	require.NoError(t, f.Batches.AddEntry(f.Ctx, batch.ID, draft.ID, lt.Actor))
	approve(t, f, batch.ID)

	_, err := f.Batches.PostBatch(f.Ctx, batch.ID, lt.Approver)
	var failed *accounting.BatchValidationFailedError
	require.True(t, errors.As(err, &failed))
	require.Equal(t, draft.ID, failed.EntryID)
	require.ErrorIs(t, err, accounting.ErrInvalidTransition)

	entry, err := f.Journals.GetEntry(f.Ctx, ready.ID)
	require.NoError(t, err)
	require.False(t, entry.IsPosted)
}

func TestBatchWorkflowGuards(t *testing.T) {
	f := lt.New(t)
	march := f.Period(t, lt.Date(time.March, 1))
	batch := newBatch(t, f, "B-004", &march.ID)

	_, err := f.Batches.Create(f.Ctx, batches.CreateInput{Number: "B-004", BatchDate: lt.Date(time.March, 31), ActorID: lt.Actor})
	require.ErrorIs(t, err, accounting.ErrDuplicateBatchNumber)

	_, err = f.Batches.Submit(f.Ctx, batch.ID, lt.Actor)
	require.ErrorIs(t, err, accounting.ErrBatchEmpty)

	april := f.Approved(t, "JE-APR", lt.Date(time.April, 1), lt.Debit("1000", "1.00"), lt.Credit("4000", "1.00"))
	err = f.Batches.AddEntry(f.Ctx, batch.ID, april.ID, lt.Actor)
	require.ErrorIs(t, err, accounting.ErrValidation)

	posted := f.Posted(t, "JE-POSTED", lt.Date(time.March, 1), lt.Debit("1000", "1.00"), lt.Credit("4000", "1.00"))
	err = f.Batches.AddEntry(f.Ctx, batch.ID, posted.ID, lt.Actor)
	require.ErrorIs(t, err, accounting.ErrStateConflict)

	entry := f.Approved(t, "JE-M", lt.Date(time.March, 3), lt.Debit("1000", "1.00"), lt.Credit("4000", "1.00"))
	require.NoError(t, f.Batches.AddEntry(f.Ctx, batch.ID, entry.ID, lt.Actor))
	other := newBatch(t, f, "B-005", nil)
	err = f.Batches.AddEntry(f.Ctx, other.ID, entry.ID, lt.Actor)
	require.ErrorIs(t, err, accounting.ErrEntryAlreadyBatched)

	_, err = f.Batches.Submit(f.Ctx, batch.ID, lt.Actor)
	require.NoError(t, err)
	err = f.Batches.RemoveEntry(f.Ctx, batch.ID, entry.ID, lt.Actor)
	require.ErrorIs(t, err, accounting.ErrBatchNotOpen)

	_, err = f.Batches.Reject(f.Ctx, batch.ID, "", lt.Approver)
	require.ErrorIs(t, err, accounting.ErrReasonRequired)
	rejected, err := f.Batches.Reject(f.Ctx, batch.ID, "missing support", lt.Approver)
	require.NoError(t, err)
	require.Equal(t, accounting.BatchStatusRejected, rejected.Status)

	_, err = f.Batches.PostBatch(f.Ctx, batch.ID, lt.Approver)
	require.ErrorIs(t, err, accounting.ErrInvalidTransition)

	reopened, err := f.Batches.Reopen(f.Ctx, batch.ID, lt.Actor)
	require.NoError(t, err)
	require.Equal(t, accounting.BatchStatusOpen, reopened.Status)
	require.NoError(t, f.Batches.RemoveEntry(f.Ctx, batch.ID, entry.ID, lt.Actor))

	direct, err := f.Journals.Post(f.Ctx, entry.ID, lt.Approver)
	require.NoError(t, err)
	require.True(t, direct.IsPosted)
}

func TestSortForPosting(t *testing.T) {
	entries := []accounting.JournalEntry{
		{Reference: "B", Date: lt.Date(time.May, 2)},
		{Reference: "C", Date: lt.Date(time.May, 1)},
		{Reference: "A", Date: lt.Date(time.May, 2)},
	}
	batches.SortForPosting(entries)
	require.Equal(t, []string{"C", "A", "B"}, references(entries))
}

func references(entries []accounting.JournalEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Reference)
	}
	return out
}
