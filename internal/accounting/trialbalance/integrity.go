package trialbalance

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// UnbalancedEntry is a posted entry whose lines do not balance.
type UnbalancedEntry struct {
	EntryID   int64
	Reference string
	Delta     decimal.Decimal
}

// UnbalancedPeriod is an open period whose fresh trial balance does not balance.
type UnbalancedPeriod struct {
	PeriodID int64
	Name     string
	Amount   decimal.Decimal
}

// IntegrityReport summarises a ledger integrity check.
type IntegrityReport struct {
	EntriesChecked   int
	PeriodsChecked   int
	UnbalancedEntry  []UnbalancedEntry
	UnbalancedPeriod []UnbalancedPeriod
}

// OK reports whether no violation was found.
func (r IntegrityReport) OK() bool {
	return len(r.UnbalancedEntry) == 0 && len(r.UnbalancedPeriod) == 0
}

// CheckIntegrity verifies that every posted entry balances and that each open
// period's trial balance balances. Nothing is persisted.
func (s *Service) CheckIntegrity(ctx context.Context) (IntegrityReport, error) {
	var report IntegrityReport
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		report = IntegrityReport{}
		posted := true
		entries, err := tx.ListEntries(ctx, accounting.EntryFilter{Posted: &posted})
		if err != nil {
			return err
		}
		for _, entry := range entries {
			report.EntriesChecked++
			if !entry.Balanced() {
				report.UnbalancedEntry = append(report.UnbalancedEntry, UnbalancedEntry{
					EntryID:   entry.ID,
					Reference: entry.Reference,
					Delta:     accounting.Round(entry.TotalDebits().Sub(entry.TotalCredits())),
				})
			}
		}

		periods, err := tx.ListPeriods(ctx)
		if err != nil {
			return err
		}
		accounts, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		for _, period := range periods {
			if period.IsClosed {
				continue
			}
			lines, err := tx.PostedLines(ctx, accounting.PostedLineFilter{From: period.StartDate, To: period.EndDate})
			if err != nil {
				return err
			}
			report.PeriodsChecked++
			tb := Build(period, accounts, lines, false, s.now())
			if !tb.IsBalanced {
				report.UnbalancedPeriod = append(report.UnbalancedPeriod, UnbalancedPeriod{
					PeriodID: period.ID,
					Name:     period.Name,
					Amount:   tb.OutOfBalanceAmount,
				})
			}
		}
		return nil
	})
	return report, err
}
