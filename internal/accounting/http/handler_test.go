package ledgerhttp_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	ledgerhttp "github.com/odyssey-erp/odyssey-gl/internal/accounting/http"
	lt "github.com/odyssey-erp/odyssey-gl/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recurring"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	_ "github.com/odyssey-erp/odyssey-gl/testing"
)

func newRouter(t *testing.T) (http.Handler, *lt.Fixture) {
	t.Helper()
	f := lt.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := ledgerhttp.NewHandler(logger, ledgerhttp.Services{
		Accounts:     f.Accounts,
		Periods:      f.Periods,
		Journals:     f.Journals,
		Batches:      f.Batches,
		TrialBalance: f.TB,
		Recurring:    f.Recurring,
		Generator:    recurring.NewGenerator(f.Store, f.Journals, nil, logger, recurring.GeneratorConfig{}),
	})
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r, f
}

func do(t *testing.T, h http.Handler, method, path, actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if actor != "" {
		req.Header.Set(httpx.ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type entryResponse struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	IsPosted bool   `json:"is_posted"`
	Debits   string `json:"total_debits"`
}

func TestEntryLifecycleOverHTTP(t *testing.T) {
	h, f := newRouter(t)
	rec := do(t, h, http.MethodPost, "/ledger/entries", lt.Actor, `{
		"reference": "JE-HTTP-1",
		"date": "2025-03-02",
		"memo": "cash sale",
		"lines": [
			{"account_code": "1000", "debit": "250.00"},
			{"account_code": "4000", "credit": "250.00"}
		]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[entryResponse](t, rec)
	require.Equal(t, "DRAFT", entry.Status)
	require.Equal(t, "250.00", entry.Debits)

	path := fmt.Sprintf("/ledger/entries/%d", entry.ID)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, path+"/submit", lt.Actor, "").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, path+"/approve", lt.Approver, "").Code)
	rec = do(t, h, http.MethodPost, path+"/post", lt.Approver, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[entryResponse](t, rec).IsPosted)

	period := f.Period(t, lt.Date(3, 2))
	rec = do(t, h, http.MethodPost, fmt.Sprintf("/ledger/periods/%d/trial-balance", period.ID), lt.Actor, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	tb := decode[struct {
		IsBalanced  bool   `json:"is_balanced"`
		TotalDebits string `json:"total_debits"`
		Groups      []struct {
			Key          string   `json:"key"`
			Accounts     []string `json:"accounts"`
			TotalDebits  string   `json:"total_debits"`
			TotalCredits string   `json:"total_credits"`
		} `json:"groups"`
	}](t, rec)
	require.True(t, tb.IsBalanced)
	require.Equal(t, "250.00", tb.TotalDebits)
	require.Len(t, tb.Groups, 2)
	require.Equal(t, "1", tb.Groups[0].Key)
	require.Equal(t, []string{"1000"}, tb.Groups[0].Accounts)
	require.Equal(t, "250.00", tb.Groups[0].TotalDebits)
	require.Equal(t, "4", tb.Groups[1].Key)
	require.Equal(t, "250.00", tb.Groups[1].TotalCredits)

	rec = do(t, h, http.MethodGet, "/ledger/accounts/1000/ledger?from=2025-03-01&to=2025-03-31", lt.Actor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decode[struct {
		ClosingBalance string `json:"closing_balance"`
	}](t, rec)
	require.Equal(t, "250.00", ledger.ClosingBalance)
}

func TestErrorMapping(t *testing.T) {
	h, f := newRouter(t)
	draft := f.Draft(t, "JE-UNBAL", lt.Date(3, 2), lt.Debit("1000", "500.00"), lt.Credit("4000", "499.99"))

	cases := []struct {
		name, method, path, actor, body string
		status                          int
		problem                         string
	}{
		{"missing actor", http.MethodGet, "/ledger/accounts", "", "", http.StatusUnauthorized, ""},
		{"bad body", http.MethodPost, "/ledger/entries", lt.Actor, `{"reference": 1}`, http.StatusBadRequest, "validation-error"},
		{"unknown field", http.MethodPost, "/ledger/batches", lt.Actor, `{"number": "B1", "owner": "x"}`, http.StatusBadRequest, "validation-error"},
		{"bad date", http.MethodPost, "/ledger/entries", lt.Actor, `{"reference": "X", "date": "03/02/2025"}`, http.StatusBadRequest, "validation-error"},
		{"bad id", http.MethodGet, "/ledger/entries/abc", lt.Actor, "", http.StatusBadRequest, "validation-error"},
		{"not found", http.MethodGet, "/ledger/entries/999", lt.Actor, "", http.StatusNotFound, "not-found"},
		{"unbalanced", http.MethodPost, fmt.Sprintf("/ledger/entries/%d/submit", draft.ID), lt.Actor, "", http.StatusUnprocessableEntity, "invariant-violation"},
		{"not approved", http.MethodPost, fmt.Sprintf("/ledger/entries/%d/post", draft.ID), lt.Actor, "", http.StatusConflict, "state-conflict"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.actor, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			problem := decode[httpx.ProblemDetail](t, rec)
			require.Equal(t, tc.status, problem.Status)
			require.Equal(t, tc.problem, problem.Type)
		})
	}

	rec := do(t, h, http.MethodPost, fmt.Sprintf("/ledger/entries/%d/submit", draft.ID), lt.Actor, "")
	require.Contains(t, decode[httpx.ProblemDetail](t, rec).Detail, "0.01")
}

func TestBatchAndRecurringEndpoints(t *testing.T) {
	h, f := newRouter(t)
	first := f.Approved(t, "JE-1", lt.Date(3, 4), lt.Debit("1000", "10.00"), lt.Credit("4000", "10.00"))

	rec := do(t, h, http.MethodPost, "/ledger/batches", lt.Actor, `{"number": "B-100", "batch_date": "2025-03-31"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	batch := decode[struct {
		ID int64 `json:"id"`
	}](t, rec)
	path := fmt.Sprintf("/ledger/batches/%d", batch.ID)

	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, path+"/entries", lt.Actor, fmt.Sprintf(`{"entry_id": %d}`, first.ID)).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, path+"/submit", lt.Actor, "").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, path+"/approve", lt.Approver, "").Code)
	rec = do(t, h, http.MethodPost, path+"/post", lt.Approver, "")
	require.Equal(t, http.StatusOK, rec.Code)
	posted := decode[struct {
		Status     string `json:"status"`
		EntryCount int    `json:"entry_count"`
	}](t, rec)
	require.Equal(t, "POSTED", posted.Status)
	require.Equal(t, 1, posted.EntryCount)

	rec = do(t, h, http.MethodPost, "/ledger/recurring", lt.Actor, `{
		"code": "rent", "name": "Rent", "frequency": "MONTHLY",
		"debit_account_code": "5000", "credit_account_code": "2000",
		"amount": "900.00", "start_date": "2025-01-31"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/ledger/recurring/run", lt.Actor, `{"as_of": "2025-02-28"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[struct {
		Generated []struct {
			Date string `json:"date"`
		} `json:"generated"`
	}](t, rec)
	require.Len(t, report.Generated, 2)
	require.Equal(t, "2025-02-28", report.Generated[1].Date)

	rec = do(t, h, http.MethodGet, "/ledger/recurring/RENT", lt.Actor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2025-03-31", decode[struct {
		NextRunDate string `json:"next_run_date"`
	}](t, rec).NextRunDate)
}

func TestDraftEditingEndpoints(t *testing.T) {
	h, f := newRouter(t)
	draft := f.Draft(t, "JE-EDIT", lt.Date(3, 6), lt.Debit("1000", "5.00"), lt.Credit("4000", "5.00"))
	path := fmt.Sprintf("/ledger/entries/%d", draft.ID)

	rec := do(t, h, http.MethodPut, path, lt.Actor, `{
		"memo": "moved",
		"date": "2025-04-02",
		"lines": [
			{"account_code": "1000", "debit": "7.00"},
			{"account_code": "4000", "credit": "7.00"}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[struct {
		Date     string `json:"date"`
		PeriodID int64  `json:"period_id"`
		Debits   string `json:"total_debits"`
	}](t, rec)
	require.Equal(t, "2025-04-02", moved.Date)
	require.Equal(t, f.Period(t, lt.Date(4, 1)).ID, moved.PeriodID)
	require.Equal(t, "7.00", moved.Debits)

	rec = do(t, h, http.MethodPost, path+"/discard", lt.Actor, `{"reason": ""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, path+"/discard", lt.Actor, `{"reason": "abandoned"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "REJECTED", decode[entryResponse](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/ledger/accounts/1000", lt.Actor, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[struct {
		DirectPosting bool `json:"allow_direct_posting"`
	}](t, rec).DirectPosting)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/ledger/accounts/1100/deactivate", lt.Actor, "").Code)
	rec = do(t, h, http.MethodGet, "/ledger/accounts/1100", lt.Actor, "")
	require.False(t, decode[struct {
		DirectPosting bool `json:"allow_direct_posting"`
	}](t, rec).DirectPosting)
}
