// Package trialbalance aggregates posted ledger lines into per-period
// trial balance snapshots.
package trialbalance

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// Build computes a trial balance for period from posted lines. It is a pure
// function of its inputs; lines outside the period range are ignored.
func Build(period accounting.Period, accounts []accounting.Account, posted []accounting.PostedLine, includeZero bool, at time.Time) accounting.TrialBalance {
	type activity struct{ debit, credit decimal.Decimal }
	sums := make(map[int64]*activity, len(accounts))
	for _, line := range posted {
		if !period.Contains(line.Date) {
			continue
		}
		a, ok := sums[line.AccountID]
		if !ok {
			a = &activity{}
			sums[line.AccountID] = a
		}
		a.debit = a.debit.Add(line.Debit)
		a.credit = a.credit.Add(line.Credit)
	}

	sorted := append([]accounting.Account(nil), accounts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	tb := accounting.TrialBalance{
		PeriodID:            period.ID,
		GeneratedAt:         at,
		IncludeZeroBalances: includeZero,
		Status:              accounting.TrialBalanceStatusDraft,
		TotalDebits:         decimal.Zero,
		TotalCredits:        decimal.Zero,
		NetIncome:           decimal.Zero,
	}
	for _, account := range sorted {
		a, ok := sums[account.ID]
		if !ok {
			a = &activity{}
		}
		net := a.debit.Sub(a.credit)
		if net.IsZero() && a.debit.IsZero() && !includeZero {
			continue
		}
		line := accounting.TrialBalanceLine{
			AccountID:     account.ID,
			AccountCode:   account.Code,
			AccountName:   account.Name,
			AccountType:   account.Type,
			NormalBalance: account.NormalBalance,
			PeriodDebits:  a.debit,
			PeriodCredits: a.credit,
			DebitBalance:  decimal.Zero,
			CreditBalance: decimal.Zero,
		}
		switch {
		case net.IsPositive():
			line.DebitBalance = net
			line.Abnormal = account.NormalBalance == accounting.NormalBalanceCredit
		case net.IsNegative():
			line.CreditBalance = net.Neg()
			line.Abnormal = account.NormalBalance == accounting.NormalBalanceDebit
		}
		switch account.Type {
		case accounting.AccountTypeRevenue:
			tb.NetIncome = tb.NetIncome.Add(a.credit.Sub(a.debit))
		case accounting.AccountTypeExpense:
			tb.NetIncome = tb.NetIncome.Sub(a.debit.Sub(a.credit))
		}
		tb.TotalDebits = tb.TotalDebits.Add(line.DebitBalance)
		tb.TotalCredits = tb.TotalCredits.Add(line.CreditBalance)
		tb.Lines = append(tb.Lines, line)
	}
	tb.TotalDebits = accounting.Round(tb.TotalDebits)
	tb.TotalCredits = accounting.Round(tb.TotalCredits)
	tb.OutOfBalanceAmount = tb.TotalDebits.Sub(tb.TotalCredits)
	tb.IsBalanced = tb.OutOfBalanceAmount.IsZero()
	return tb
}

// Group collects trial balance rows sharing a code prefix for presentation.
type Group struct {
	Key          string
	Lines        []accounting.TrialBalanceLine
	TotalDebits  decimal.Decimal
	TotalCredits decimal.Decimal
}

// GroupKey returns the prefix used to group an account code: the segment
// before the first dash, or the first digit.
func GroupKey(code string) string {
	if idx := strings.Index(code, "-"); idx > 0 {
		return code[:idx]
	}
	if len(code) >= 1 {
		return code[:1]
	}
	return code
}

// Groups splits tb into code prefix groups ordered by key.
func Groups(tb accounting.TrialBalance) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, line := range tb.Lines {
		key := GroupKey(line.AccountCode)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key, TotalDebits: decimal.Zero, TotalCredits: decimal.Zero})
		}
		groups[i].Lines = append(groups[i].Lines, line)
		groups[i].TotalDebits = groups[i].TotalDebits.Add(line.DebitBalance)
		groups[i].TotalCredits = groups[i].TotalCredits.Add(line.CreditBalance)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups
}
