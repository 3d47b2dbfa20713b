package trialbalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// Service generates and stores trial balance snapshots.
type Service struct {
	store accounting.Store
	now   func() time.Time
}

// NewService constructs the trial balance service.
func NewService(store accounting.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Generate builds and stores a new Draft snapshot for the period. Earlier
// drafts are kept; the latest non-superseded snapshot is the current one.
func (s *Service) Generate(ctx context.Context, periodID int64, includeZero bool) (accounting.TrialBalance, error) {
	var tb accounting.TrialBalance
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		tb, err = s.GenerateTx(ctx, tx, periodID, includeZero)
		return err
	})
	return tb, err
}

// GenerateTx is Generate inside a caller-owned transaction. A finalized
// snapshot is never regenerated.
func (s *Service) GenerateTx(ctx context.Context, tx accounting.Tx, periodID int64, includeZero bool) (accounting.TrialBalance, error) {
	period, err := tx.GetPeriod(ctx, periodID)
	if err != nil {
		return accounting.TrialBalance{}, err
	}
	current, err := tx.GetCurrentTrialBalance(ctx, periodID)
	switch {
	case err == nil && current.Status == accounting.TrialBalanceStatusFinalized:
		return accounting.TrialBalance{}, fmt.Errorf("%w: period %s", accounting.ErrTrialBalanceFinalized, period.Name)
	case err != nil && !errors.Is(err, accounting.ErrTrialBalanceNotFound):
		return accounting.TrialBalance{}, err
	}
	accounts, err := tx.ListAccounts(ctx)
	if err != nil {
		return accounting.TrialBalance{}, err
	}
	posted, err := tx.PostedLines(ctx, accounting.PostedLineFilter{From: period.StartDate, To: period.EndDate})
	if err != nil {
		return accounting.TrialBalance{}, err
	}
	return tx.SaveTrialBalance(ctx, Build(period, accounts, posted, includeZero, s.now().UTC()))
}

// YearToDateTx aggregates every posted line from the start of period's fiscal
// year through its end date. The result is not stored; earlier year-end
// transfers inside the range net out of the revenue and expense balances.
func YearToDateTx(ctx context.Context, tx accounting.Tx, period accounting.Period, at time.Time) (accounting.TrialBalance, error) {
	periods, err := tx.ListPeriods(ctx)
	if err != nil {
		return accounting.TrialBalance{}, err
	}
	span := period
	for _, p := range periods {
		if p.FiscalYear == period.FiscalYear && p.StartDate.Before(span.StartDate) {
			span.StartDate = p.StartDate
		}
	}
	accounts, err := tx.ListAccounts(ctx)
	if err != nil {
		return accounting.TrialBalance{}, err
	}
	posted, err := tx.PostedLines(ctx, accounting.PostedLineFilter{From: span.StartDate, To: span.EndDate})
	if err != nil {
		return accounting.TrialBalance{}, err
	}
	return Build(span, accounts, posted, false, at), nil
}

// Get returns the current snapshot of the period: the finalized one when the
// period is closed, otherwise the latest draft.
func (s *Service) Get(ctx context.Context, periodID int64) (accounting.TrialBalance, error) {
	var tb accounting.TrialBalance
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		tb, err = tx.GetCurrentTrialBalance(ctx, periodID)
		return err
	})
	return tb, err
}

// FinalizeTx freezes a Draft snapshot.
func FinalizeTx(ctx context.Context, tx accounting.Tx, tb accounting.TrialBalance, at time.Time) (accounting.TrialBalance, error) {
	if tb.Status != accounting.TrialBalanceStatusDraft {
		return accounting.TrialBalance{}, fmt.Errorf("%w: trial balance %d is %s", accounting.ErrTrialBalanceFinalized, tb.ID, tb.Status)
	}
	if err := tx.UpdateTrialBalanceStatus(ctx, tb.ID, accounting.TrialBalanceStatusFinalized, at); err != nil {
		return accounting.TrialBalance{}, err
	}
	tb.Status = accounting.TrialBalanceStatusFinalized
	tb.FinalizedAt = &at
	return tb, nil
}

// SupersedeTx retires the finalized snapshot of a reopened period.
func SupersedeTx(ctx context.Context, tx accounting.Tx, periodID int64, at time.Time) error {
	current, err := tx.GetCurrentTrialBalance(ctx, periodID)
	if err != nil {
		if errors.Is(err, accounting.ErrTrialBalanceNotFound) {
			return nil
		}
		return err
	}
	if current.Status != accounting.TrialBalanceStatusFinalized {
		return nil
	}
	return tx.UpdateTrialBalanceStatus(ctx, current.ID, accounting.TrialBalanceStatusSuperseded, at)
}
