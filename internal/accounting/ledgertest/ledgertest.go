// Package ledgertest wires the ledger services over an in-memory store for tests.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/batches"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recurring"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/trialbalance"
	closepkg "github.com/odyssey-erp/odyssey-gl/internal/close"
)

// Actor is the user recorded on fixture commands.
const Actor = "user:alice"

// Approver is a second user for approval steps.
const Approver = "user:bob"

// Clock is the fixed instant fixtures run at.
var Clock = time.Date(2025, time.March, 15, 9, 0, 0, 0, time.UTC)

// Fixture bundles services sharing one store.
type Fixture struct {
	Store     *memstore.Store
	Audit     *Audit
	Metrics   *Metrics
	Accounts  *accounts.Service
	Periods   *periods.Service
	Journals  *journals.Service
	Batches   *batches.Service
	TB        *trialbalance.Service
	Recurring *recurring.Service
	Close     *closepkg.Service
	Ctx       context.Context
}

// New builds a fixture with a small chart of accounts and the twelve monthly
// periods of 2025.
func New(t *testing.T) *Fixture {
	t.Helper()
	now := func() time.Time { return Clock }
	store := memstore.New()
	store.WithNow(now)
	audit := &Audit{}
	metrics := &Metrics{}

	f := &Fixture{
		Store:     store,
		Audit:     audit,
		Metrics:   metrics,
		Accounts:  accounts.NewService(store, audit),
		Periods:   periods.NewService(store, audit),
		Journals:  journals.NewService(store, audit, metrics),
		TB:        trialbalance.NewService(store),
		Recurring: recurring.NewService(store, audit),
		Ctx:       context.Background(),
	}
	f.Batches = batches.NewService(store, f.Journals, audit, metrics)
	f.Close = closepkg.NewService(store.CloseStore(), f.Journals, f.TB, audit, metrics, closepkg.Config{})
	f.Accounts.WithNow(now)
	f.Periods.WithNow(now)
	f.Journals.WithNow(now)
	f.Batches.WithNow(now)
	f.TB.WithNow(now)
	f.Recurring.WithNow(now)
	f.Close.WithNow(now)

	for _, in := range []accounts.CreateInput{
		{Code: "1000", Name: "Cash", Type: accounting.AccountTypeAsset},
		{Code: "1100", Name: "Accounts Receivable", Type: accounting.AccountTypeAsset},
		{Code: "2000", Name: "Accounts Payable", Type: accounting.AccountTypeLiability},
		{Code: "3000", Name: "Owner Capital", Type: accounting.AccountTypeEquity},
		{Code: "3900", Name: "Retained Earnings", Type: accounting.AccountTypeEquity},
		{Code: "4000", Name: "Sales Revenue", Type: accounting.AccountTypeRevenue},
		{Code: "5000", Name: "Rent Expense", Type: accounting.AccountTypeExpense},
	} {
		in.ActorID = Actor
		_, err := f.Accounts.Create(f.Ctx, in)
		require.NoError(t, err)
	}
	_, err := f.Periods.CreateMonthly(f.Ctx, 2025, Actor)
	require.NoError(t, err)
	return f
}

// Date returns midnight UTC of the given 2025 day.
func Date(month time.Month, day int) time.Time {
	return time.Date(2025, month, day, 0, 0, 0, 0, time.UTC)
}

// Amount parses a decimal literal.
func Amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// Debit builds a debit line on code.
func Debit(code, amount string) journals.LineInput {
	return journals.LineInput{AccountCode: code, Debit: Amount(amount)}
}

// Credit builds a credit line on code.
func Credit(code, amount string) journals.LineInput {
	return journals.LineInput{AccountCode: code, Credit: Amount(amount)}
}

// Draft creates a draft entry.
func (f *Fixture) Draft(t *testing.T, ref string, date time.Time, lines ...journals.LineInput) accounting.JournalEntry {
	t.Helper()
	entry, err := f.Journals.CreateDraft(f.Ctx, journals.DraftInput{Reference: ref, Date: date, Lines: lines, ActorID: Actor})
	require.NoError(t, err)
	return entry
}

// Approved drives a new entry to Approved.
func (f *Fixture) Approved(t *testing.T, ref string, date time.Time, lines ...journals.LineInput) accounting.JournalEntry {
	t.Helper()
	entry := f.Draft(t, ref, date, lines...)
	_, err := f.Journals.Submit(f.Ctx, entry.ID, Actor)
	require.NoError(t, err)
	entry, err = f.Journals.Approve(f.Ctx, entry.ID, Approver)
	require.NoError(t, err)
	return entry
}

// Posted drives a new entry through the full pipeline.
func (f *Fixture) Posted(t *testing.T, ref string, date time.Time, lines ...journals.LineInput) accounting.JournalEntry {
	t.Helper()
	entry := f.Approved(t, ref, date, lines...)
	entry, err := f.Journals.Post(f.Ctx, entry.ID, Approver)
	require.NoError(t, err)
	require.True(t, entry.IsPosted)
	return entry
}

// Period resolves the period covering date.
func (f *Fixture) Period(t *testing.T, date time.Time) accounting.Period {
	t.Helper()
	period, err := f.Periods.ForDate(f.Ctx, date)
	require.NoError(t, err)
	return period
}
