package journals_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	lt "github.com/odyssey-erp/odyssey-gl/internal/accounting/ledgertest"
	closepkg "github.com/odyssey-erp/odyssey-gl/internal/close"
)

func accountInput(code, name, parent string) accounts.CreateInput {
	return accounts.CreateInput{Code: code, Name: name, ParentCode: parent, Type: accounting.AccountTypeAsset, ActorID: lt.Actor}
}

func boolPtr(v bool) *bool { return &v }

// closeJanuary completes a month-end close with every external task signed off.
func closeJanuary(t *testing.T, f *lt.Fixture, periodID int64) closepkg.Close {
	t.Helper()
	c, err := f.Close.InitiateClose(f.Ctx, closepkg.InitiateInput{PeriodID: periodID, Type: closepkg.CloseTypeMonthEnd, ActorID: lt.Actor})
	require.NoError(t, err)
	for _, task := range c.Tasks {
		if task.Kind == closepkg.TaskKindExternal {
			_, err := f.Close.CompleteTask(f.Ctx, c.ID, task.Code, lt.Actor, "")
			require.NoError(t, err)
		}
	}
	c, err = f.Close.CompleteClose(f.Ctx, c.ID, lt.Approver)
	require.NoError(t, err)
	require.Equal(t, closepkg.StatusComplete, c.Status)
	return c
}
