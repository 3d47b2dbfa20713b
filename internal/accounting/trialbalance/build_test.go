package trialbalance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	lt "github.com/odyssey-erp/odyssey-gl/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/trialbalance"
	_ "github.com/odyssey-erp/odyssey-gl/testing"
)

var (
	march = accounting.Period{ID: 3, Name: "Mar 2025", StartDate: lt.Date(time.March, 1), EndDate: lt.Date(time.March, 31)}

	chart = []accounting.Account{
		{ID: 5, Code: "5000", Name: "Rent", Type: accounting.AccountTypeExpense, NormalBalance: accounting.NormalBalanceDebit},
		{ID: 1, Code: "1000", Name: "Cash", Type: accounting.AccountTypeAsset, NormalBalance: accounting.NormalBalanceDebit},
		{ID: 4, Code: "4000", Name: "Sales", Type: accounting.AccountTypeRevenue, NormalBalance: accounting.NormalBalanceCredit},
		{ID: 2, Code: "2000", Name: "Payables", Type: accounting.AccountTypeLiability, NormalBalance: accounting.NormalBalanceCredit},
	}
)

func line(account int64, date time.Time, debit, credit string) accounting.PostedLine {
	return accounting.PostedLine{AccountID: account, Date: date, Debit: lt.Amount(debit), Credit: lt.Amount(credit)}
}

func TestBuildAggregatesPeriodActivity(t *testing.T) {
	posted := []accounting.PostedLine{
		line(1, lt.Date(time.March, 2), "1000.00", "0"),
		line(4, lt.Date(time.March, 2), "0", "1000.00"),
		line(5, lt.Date(time.March, 9), "300.00", "0"),
		line(1, lt.Date(time.March, 9), "0", "300.00"),
		line(1, lt.Date(time.April, 1), "999.00", "0"),
	}
	tb := trialbalance.Build(march, chart, posted, false, lt.Clock)

	require.Equal(t, accounting.TrialBalanceStatusDraft, tb.Status)
	require.Equal(t, march.ID, tb.PeriodID)
	require.Len(t, tb.Lines, 3)
	require.Equal(t, "1000", tb.Lines[0].AccountCode)
	require.Equal(t, "700.00", accounting.FormatAmount(tb.Lines[0].DebitBalance))
	require.Equal(t, "1000.00", accounting.FormatAmount(tb.Lines[0].PeriodDebits))
	require.Equal(t, "4000", tb.Lines[1].AccountCode)
	require.Equal(t, "1000.00", accounting.FormatAmount(tb.Lines[1].CreditBalance))
	require.Equal(t, "1000.00", accounting.FormatAmount(tb.TotalDebits))
	require.True(t, tb.IsBalanced)
	require.Equal(t, "700.00", accounting.FormatAmount(tb.NetIncome))
	for _, l := range tb.Lines {
		require.False(t, l.Abnormal, l.AccountCode)
	}
}

func TestBuildIncludeZeroAndAbnormal(t *testing.T) {
	posted := []accounting.PostedLine{
		line(2, lt.Date(time.March, 2), "50.00", "0"),
		line(1, lt.Date(time.March, 2), "0", "50.00"),
	}
	tb := trialbalance.Build(march, chart, posted, true, lt.Clock)
	require.Len(t, tb.Lines, 4)
	require.Equal(t, []string{"1000", "2000", "4000", "5000"}, codes(tb))
	require.True(t, tb.Lines[0].Abnormal)
	require.True(t, tb.Lines[1].Abnormal)
	require.True(t, tb.Lines[2].DebitBalance.IsZero())
	require.True(t, tb.IsBalanced)
}

func TestBuildReportsOutOfBalance(t *testing.T) {
	posted := []accounting.PostedLine{
		line(1, lt.Date(time.March, 2), "10.00", "0"),
		line(4, lt.Date(time.March, 2), "0", "9.99"),
	}
	tb := trialbalance.Build(march, chart, posted, false, lt.Clock)
	require.False(t, tb.IsBalanced)
	require.Equal(t, "0.01", accounting.FormatAmount(tb.OutOfBalanceAmount))
}

func TestGroups(t *testing.T) {
	require.Equal(t, "1200", trialbalance.GroupKey("1200-01"))
	require.Equal(t, "4", trialbalance.GroupKey("4000"))

	posted := []accounting.PostedLine{
		line(1, lt.Date(time.March, 2), "10.00", "0"),
		line(4, lt.Date(time.March, 2), "0", "10.00"),
	}
	groups := trialbalance.Groups(trialbalance.Build(march, chart, posted, false, lt.Clock))
	require.Len(t, groups, 2)
	require.Equal(t, "1", groups[0].Key)
	require.Equal(t, "10.00", accounting.FormatAmount(groups[1].TotalCredits))
}

func TestGenerateRefusesFinalizedPeriod(t *testing.T) {
	f := lt.New(t)
	f.Posted(t, "JE-1", lt.Date(time.March, 3), lt.Debit("1000", "10.00"), lt.Credit("4000", "10.00"))
	period := f.Period(t, lt.Date(time.March, 3))

	first, err := f.TB.Generate(f.Ctx, period.ID, false)
	require.NoError(t, err)
	second, err := f.TB.Generate(f.Ctx, period.ID, true)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	current, err := f.TB.Get(f.Ctx, period.ID)
	require.NoError(t, err)
	require.Equal(t, second.ID, current.ID)

	err = f.Store.WithTx(f.Ctx, func(ctx context.Context, tx accounting.Tx) error {
		_, err := trialbalance.FinalizeTx(ctx, tx, current, lt.Clock)
		return err
	})
	require.NoError(t, err)
	_, err = f.TB.Generate(f.Ctx, period.ID, false)
	require.ErrorIs(t, err, accounting.ErrTrialBalanceFinalized)

	_, err = f.TB.Get(f.Ctx, f.Period(t, lt.Date(time.June, 1)).ID)
	require.ErrorIs(t, err, accounting.ErrTrialBalanceNotFound)
}

func codes(tb accounting.TrialBalance) []string {
	out := make([]string, 0, len(tb.Lines))
	for _, l := range tb.Lines {
		out = append(out, l.AccountCode)
	}
	return out
}
