package trialbalance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	lt "github.com/odyssey-erp/odyssey-gl/internal/accounting/ledgertest"
	_ "github.com/odyssey-erp/odyssey-gl/testing"
)

func TestCheckIntegrityOnHealthyLedger(t *testing.T) {
	f := lt.New(t)
	f.Posted(t, "JE-1", lt.Date(time.March, 3), lt.Debit("1000", "10.00"), lt.Credit("4000", "10.00"))
	f.Posted(t, "JE-2", lt.Date(time.April, 3), lt.Debit("5000", "4.00"), lt.Credit("1000", "4.00"))
	f.Draft(t, "JE-3", lt.Date(time.April, 4), lt.Debit("5000", "4.00"), lt.Credit("1000", "4.00"))

	report, err := f.TB.CheckIntegrity(f.Ctx)
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Equal(t, 2, report.EntriesChecked)
	require.Equal(t, 12, report.PeriodsChecked)
}

func TestCheckIntegrityReportsUnbalancedEntry(t *testing.T) {
	f := lt.New(t)
	var imported accounting.JournalEntry
	err := f.Store.WithTx(f.Ctx, func(ctx context.Context, tx accounting.Tx) error {
		cash, err := tx.GetAccountByCode(ctx, "1000")
		if err != nil {
			return err
		}
		period, err := accounting.ResolvePeriod(ctx, tx, lt.Date(time.May, 6))
		if err != nil {
			return err
		}
		imported, err = tx.InsertEntry(ctx, accounting.JournalEntry{
			Reference: "IMPORTED",
			Date:      lt.Date(time.May, 6),
			Source:    accounting.EntrySourceManual,
			PeriodID:  period.ID,
			Status:    accounting.EntryStatusApproved,
			IsPosted:  true,
			Lines:     []accounting.JournalLine{{AccountID: cash.ID, Debit: lt.Amount("7.25"), Credit: lt.Amount("0")}},
		})
		return err
	})
	require.NoError(t, err)

	report, err := f.TB.CheckIntegrity(f.Ctx)
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Len(t, report.UnbalancedEntry, 1)
	require.Equal(t, imported.ID, report.UnbalancedEntry[0].EntryID)
	require.Equal(t, "7.25", accounting.FormatAmount(report.UnbalancedEntry[0].Delta))
	require.Len(t, report.UnbalancedPeriod, 1)
	require.Equal(t, "May 2025", report.UnbalancedPeriod[0].Name)
	require.Equal(t, "7.25", accounting.FormatAmount(report.UnbalancedPeriod[0].Amount))
}
