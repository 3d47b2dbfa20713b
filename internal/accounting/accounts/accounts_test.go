package accounts_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	lt "github.com/odyssey-erp/odyssey-gl/internal/accounting/ledgertest"
	_ "github.com/odyssey-erp/odyssey-gl/testing"
)

func TestCreateDefaultsNormalBalance(t *testing.T) {
	f := lt.New(t)
	cash, err := f.Accounts.Get(f.Ctx, "1000")
	require.NoError(t, err)
	require.Equal(t, accounting.NormalBalanceDebit, cash.NormalBalance)
	require.True(t, cash.AllowDirectPosting())

	revenue, err := f.Accounts.Get(f.Ctx, "4000")
	require.NoError(t, err)
	require.Equal(t, accounting.NormalBalanceCredit, revenue.NormalBalance)

	contra, err := f.Accounts.Create(f.Ctx, accounts.CreateInput{
		Code: "1900", Name: "Accumulated Depreciation", Type: accounting.AccountTypeAsset,
		NormalBalance: accounting.NormalBalanceCredit, ActorID: lt.Actor,
	})
	require.NoError(t, err)
	require.Equal(t, accounting.NormalBalanceCredit, contra.NormalBalance)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := lt.New(t)
	cases := []struct {
		name string
		in   accounts.CreateInput
		want error
	}{
		{name: "missing name", in: accounts.CreateInput{Code: "1200", Type: accounting.AccountTypeAsset}, want: accounting.ErrValidation},
		{name: "bad code", in: accounts.CreateInput{Code: "12 00", Name: "x", Type: accounting.AccountTypeAsset}, want: accounting.ErrValidation},
		{name: "bad type", in: accounts.CreateInput{Code: "1200", Name: "x", Type: "CASHFLOW"}, want: accounting.ErrValidation},
		{name: "duplicate", in: accounts.CreateInput{Code: "1000", Name: "Cash", Type: accounting.AccountTypeAsset}, want: accounting.ErrDuplicateCode},
		{name: "self parent", in: accounts.CreateInput{Code: "1200", Name: "x", ParentCode: "1200", Type: accounting.AccountTypeAsset}, want: accounting.ErrValidation},
		{name: "missing parent", in: accounts.CreateInput{Code: "1200", Name: "x", ParentCode: "1999", Type: accounting.AccountTypeAsset}, want: accounting.ErrAccountNotFound},
		{name: "type mismatch", in: accounts.CreateInput{Code: "1000-01", Name: "x", ParentCode: "1000", Type: accounting.AccountTypeExpense}, want: accounting.ErrInvalidHierarchy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.Accounts.Create(f.Ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestChildPromotesParentToControl(t *testing.T) {
	f := lt.New(t)
	child, err := f.Accounts.Create(f.Ctx, accounts.CreateInput{Code: "1000-01", Name: "Petty Cash", ParentCode: "1000", Type: accounting.AccountTypeAsset, ActorID: lt.Actor})
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)

	parent, err := f.Accounts.Get(f.Ctx, "1000")
	require.NoError(t, err)
	require.True(t, parent.IsControl)
	require.False(t, parent.AllowDirectPosting())

	grandchild, err := f.Accounts.Create(f.Ctx, accounts.CreateInput{Code: "1000-01-A", Name: "Float", ParentCode: "1000-01", Type: accounting.AccountTypeAsset, ActorID: lt.Actor})
	require.NoError(t, err)
	chain, err := f.Accounts.Ancestors(f.Ctx, grandchild.Code)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, "1000-01", chain[0].Code)
	require.Equal(t, "1000", chain[1].Code)
}

func TestChildUnderPostedParentIsRejected(t *testing.T) {
	f := lt.New(t)
	f.Posted(t, "JE-1", lt.Date(time.March, 1), lt.Debit("1100", "10.00"), lt.Credit("4000", "10.00"))

	_, err := f.Accounts.Create(f.Ctx, accounts.CreateInput{Code: "1100-01", Name: "Trade AR", ParentCode: "1100", Type: accounting.AccountTypeAsset, ActorID: lt.Actor})
	require.ErrorIs(t, err, accounting.ErrControlAccountViolation)

	parent, err := f.Accounts.Get(f.Ctx, "1100")
	require.NoError(t, err)
	require.False(t, parent.IsControl)
}

func TestDeactivateBlockedByActivePostings(t *testing.T) {
	f := lt.New(t)
	entry := f.Posted(t, "JE-2", lt.Date(time.March, 2), lt.Debit("5000", "30.00"), lt.Credit("2000", "30.00"))

	_, err := f.Accounts.Deactivate(f.Ctx, "5000", lt.Actor)
	var active *accounting.HasActivePostingsError
	require.True(t, errors.As(err, &active))
	require.Equal(t, 1, active.Lines)
	require.ErrorIs(t, err, accounting.ErrStateConflict)

	_, err = f.Journals.Reverse(f.Ctx, journals.ReverseInput{EntryID: entry.ID, ActorID: lt.Actor})
	require.NoError(t, err)

	account, err := f.Accounts.Deactivate(f.Ctx, "5000", lt.Actor)
	require.NoError(t, err)
	require.False(t, account.IsActive)

	_, err = f.Journals.CreateDraft(f.Ctx, journals.DraftInput{Reference: "JE-3", Date: lt.Date(time.March, 3),
		Lines: []journals.LineInput{lt.Debit("5000", "1.00"), lt.Credit("2000", "1.00")}, ActorID: lt.Actor})
	require.ErrorIs(t, err, accounting.ErrAccountNotPostable)

	account, err = f.Accounts.Activate(f.Ctx, "5000", lt.Actor)
	require.NoError(t, err)
	require.True(t, account.IsActive)
}

const chart = `
accounts:
  - code: 6100-01
    name: Office Supplies
    parent: 6100
    type: expense
  - code: 6100
    name: Office Expenses
    type: expense
  - code: 1000
    name: Cash
    type: asset
  - code: 2900
    name: Deferred Revenue
    type: liability
    normal_balance: credit
`

func TestImportChartOrdersParentsFirst(t *testing.T) {
	f := lt.New(t)
	result, err := f.Accounts.ImportChart(f.Ctx, strings.NewReader(chart), lt.Actor)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"6100", "6100-01", "2900"}, result.Created)
	require.Equal(t, []string{"1000"}, result.Skipped)

	parent, err := f.Accounts.Get(f.Ctx, "6100")
	require.NoError(t, err)
	require.True(t, parent.IsControl)

	again, err := f.Accounts.ImportChart(f.Ctx, strings.NewReader(chart), lt.Actor)
	require.NoError(t, err)
	require.Empty(t, again.Created)
	require.Len(t, again.Skipped, 4)
}

func TestImportChartIsAtomic(t *testing.T) {
	f := lt.New(t)
	_, err := f.Accounts.ImportChart(f.Ctx, strings.NewReader(`
accounts:
  - code: 7000
    name: Other Income
    type: revenue
  - code: 7000-01
    name: Orphan
    parent: 7999
    type: revenue
`), lt.Actor)
	require.ErrorIs(t, err, accounting.ErrAccountNotFound)

	_, err = f.Accounts.Get(f.Ctx, "7000")
	require.ErrorIs(t, err, accounting.ErrAccountNotFound)

	_, err = f.Accounts.ImportChart(f.Ctx, strings.NewReader("accounts: []"), lt.Actor)
	require.ErrorIs(t, err, accounting.ErrValidation)
	_, err = f.Accounts.ImportChart(f.Ctx, strings.NewReader("accounts:\n  - code: 1\n    colour: red\n"), lt.Actor)
	require.ErrorIs(t, err, accounting.ErrValidation)
}
