// Package ledgerhttp exposes the ledger commands and queries as JSON endpoints.
package ledgerhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/batches"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recurring"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/trialbalance"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// Services bundles the ledger services served by the handler.
type Services struct {
	Accounts     *accounts.Service
	Periods      *periods.Service
	Journals     *journals.Service
	Batches      *batches.Service
	TrialBalance *trialbalance.Service
	Recurring    *recurring.Service
	Generator    *recurring.Generator
}

// Handler wires ledger endpoints.
type Handler struct {
	logger *slog.Logger
	svc    Services
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, svc Services) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, svc: svc}
}

// MountRoutes registers HTTP routes for the ledger module. Every route
// requires an actor header.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Use(httpx.RequireActor)

		r.Get("/accounts", h.listAccounts)
		r.Post("/accounts", h.createAccount)
		r.Post("/accounts/import", h.importChart)
		r.Get("/accounts/{code}", h.getAccount)
		r.Get("/accounts/{code}/ancestors", h.accountAncestors)
		r.Get("/accounts/{code}/ledger", h.accountLedger)
		r.Post("/accounts/{code}/deactivate", h.deactivateAccount)
		r.Post("/accounts/{code}/activate", h.activateAccount)

		r.Get("/periods", h.listPeriods)
		r.Post("/periods", h.createPeriod)
		r.Post("/periods/monthly", h.createMonthlyPeriods)
		r.Get("/periods/{id}", h.getPeriod)
		r.Get("/periods/{id}/trial-balance", h.getTrialBalance)
		r.Post("/periods/{id}/trial-balance", h.generateTrialBalance)

		r.Get("/entries", h.listEntries)
		r.Post("/entries", h.createDraft)
		r.Get("/entries/{id}", h.getEntry)
		r.Put("/entries/{id}", h.updateDraft)
		r.Post("/entries/{id}/submit", h.submitEntry)
		r.Post("/entries/{id}/approve", h.approveEntry)
		r.Post("/entries/{id}/reject", h.rejectEntry)
		r.Post("/entries/{id}/revise", h.reviseEntry)
		r.Post("/entries/{id}/discard", h.discardEntry)
		r.Post("/entries/{id}/post", h.postEntry)
		r.Post("/entries/{id}/reverse", h.reverseEntry)

		r.Post("/batches", h.createBatch)
		r.Get("/batches/{id}", h.getBatch)
		r.Post("/batches/{id}/entries", h.addBatchEntry)
		r.Delete("/batches/{id}/entries/{entryID}", h.removeBatchEntry)
		r.Post("/batches/{id}/submit", h.submitBatch)
		r.Post("/batches/{id}/approve", h.approveBatch)
		r.Post("/batches/{id}/reject", h.rejectBatch)
		r.Post("/batches/{id}/reopen", h.reopenBatch)
		r.Post("/batches/{id}/post", h.postBatch)

		r.Get("/recurring", h.listTemplates)
		r.Post("/recurring", h.createTemplate)
		r.Post("/recurring/run", h.runRecurring)
		r.Get("/recurring/{code}", h.getTemplate)
		r.Post("/recurring/{code}/suspend", h.suspendTemplate)
		r.Post("/recurring/{code}/reactivate", h.reactivateTemplate)
	})
}

type createAccountRequest struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ParentCode    string `json:"parent_code"`
	Type          string `json:"type"`
	NormalBalance string `json:"normal_balance"`
	IsControl     bool   `json:"is_control"`
}

type createPeriodRequest struct {
	Name         string `json:"name"`
	FiscalYear   int    `json:"fiscal_year"`
	Type         string `json:"type"`
	Number       int    `json:"number"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	IsAdjustment bool   `json:"is_adjustment"`
}

type lineRequest struct {
	AccountID   int64           `json:"account_id"`
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Memo        string          `json:"memo"`
}

type draftRequest struct {
	Reference string        `json:"reference"`
	Date      string        `json:"date"`
	Memo      string        `json:"memo"`
	Lines     []lineRequest `json:"lines"`
}

type updateDraftRequest struct {
	Memo  string        `json:"memo"`
	Date  string        `json:"date"`
	Lines []lineRequest `json:"lines"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type reverseRequest struct {
	Date string `json:"date"`
	Memo string `json:"memo"`
}

type createBatchRequest struct {
	Number      string `json:"number"`
	BatchDate   string `json:"batch_date"`
	PeriodID    *int64 `json:"period_id"`
	Description string `json:"description"`
}

type batchEntryRequest struct {
	EntryID int64 `json:"entry_id"`
}

type templateRequest struct {
	Code               string          `json:"code"`
	Name               string          `json:"name"`
	Frequency          string          `json:"frequency"`
	CustomIntervalDays int             `json:"custom_interval_days"`
	DebitAccountCode   string          `json:"debit_account_code"`
	CreditAccountCode  string          `json:"credit_account_code"`
	Amount             decimal.Decimal `json:"amount"`
	Memo               string          `json:"memo"`
	StartDate          string          `json:"start_date"`
	EndDate            string          `json:"end_date"`
	AutoPost           bool            `json:"auto_post"`
}

type runRequest struct {
	AsOf string `json:"as_of"`
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Accounts.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]accountView, 0, len(list))
	for _, a := range list {
		out = append(out, toAccount(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.svc.Accounts.Create(r.Context(), accounts.CreateInput{
		Code:          req.Code,
		Name:          req.Name,
		Description:   req.Description,
		ParentCode:    req.ParentCode,
		Type:          accounting.AccountType(strings.ToUpper(req.Type)),
		NormalBalance: accounting.NormalBalance(strings.ToUpper(req.NormalBalance)),
		IsControl:     req.IsControl,
		ActorID:       actor(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAccount(account))
}

func (h *Handler) importChart(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Accounts.ImportChart(r.Context(), http.MaxBytesReader(w, r.Body, 4<<20), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.Accounts.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccount(account))
}

func (h *Handler) accountAncestors(w http.ResponseWriter, r *http.Request) {
	chain, err := h.svc.Accounts.Ancestors(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]accountView, 0, len(chain))
	for _, a := range chain {
		out = append(out, toAccount(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) accountLedger(w http.ResponseWriter, r *http.Request) {
	from, err := optionalDateParam(r, "from")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := optionalDateParam(r, "to")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ledger, err := h.svc.Journals.GetAccountLedger(r.Context(), chi.URLParam(r, "code"), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLedger(ledger))
}

func (h *Handler) deactivateAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.Accounts.Deactivate(r.Context(), chi.URLParam(r, "code"), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccount(account))
}

func (h *Handler) activateAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.Accounts.Activate(r.Context(), chi.URLParam(r, "code"), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccount(account))
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Periods.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]periodView, 0, len(list))
	for _, p := range list {
		out = append(out, toPeriod(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var req createPeriodRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := h.svc.Periods.Create(r.Context(), periods.CreateInput{
		Name:         req.Name,
		FiscalYear:   req.FiscalYear,
		Type:         req.Type,
		Number:       req.Number,
		StartDate:    start,
		EndDate:      end,
		IsAdjustment: req.IsAdjustment,
		ActorID:      actor(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPeriod(period))
}

func (h *Handler) createMonthlyPeriods(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FiscalYear int `json:"fiscal_year"`
	}
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.svc.Periods.CreateMonthly(r.Context(), req.FiscalYear, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]periodView, 0, len(created))
	for _, p := range created {
		out = append(out, toPeriod(p))
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	period, err := h.svc.Periods.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriod(period))
}

func (h *Handler) getTrialBalance(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tb, err := h.svc.TrialBalance.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTrialBalance(tb))
}

func (h *Handler) generateTrialBalance(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	includeZero, _ := strconv.ParseBool(r.URL.Query().Get("include_zero"))
	tb, err := h.svc.TrialBalance.Generate(r.Context(), id, includeZero)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTrialBalance(tb))
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	filter, err := entryFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.svc.Journals.ListEntries(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntries(entries))
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.svc.Journals.CreateDraft(r.Context(), journals.DraftInput{
		Reference: req.Reference,
		Date:      date,
		Memo:      req.Memo,
		Lines:     lineInputs(req.Lines),
		ActorID:   actor(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntry(entry))
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.svc.Journals.GetEntry(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntry(entry))
}

func (h *Handler) updateDraft(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req updateDraftRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in := journals.UpdateInput{Memo: req.Memo, Lines: lineInputs(req.Lines), ActorID: actor(r)}
	if req.Date != "" {
		if in.Date, err = parseDate("date", req.Date); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	entry, err := h.svc.Journals.UpdateDraft(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntry(entry))
}

func (h *Handler) submitEntry(w http.ResponseWriter, r *http.Request) {
	h.entryCommand(w, r, h.svc.Journals.Submit)
}

func (h *Handler) approveEntry(w http.ResponseWriter, r *http.Request) {
	h.entryCommand(w, r, h.svc.Journals.Approve)
}

func (h *Handler) reviseEntry(w http.ResponseWriter, r *http.Request) {
	h.entryCommand(w, r, h.svc.Journals.Revise)
}

func (h *Handler) postEntry(w http.ResponseWriter, r *http.Request) {
	h.entryCommand(w, r, h.svc.Journals.Post)
}

func (h *Handler) rejectEntry(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reasonRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.svc.Journals.Reject(r.Context(), id, req.Reason, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntry(entry))
}

func (h *Handler) discardEntry(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reasonRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.svc.Journals.Discard(r.Context(), id, req.Reason, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntry(entry))
}

func (h *Handler) reverseEntry(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	var date time.Time
	if req.Date != "" {
		if date, err = parseDate("date", req.Date); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	entry, err := h.svc.Journals.Reverse(r.Context(), journals.ReverseInput{EntryID: id, Date: date, Memo: req.Memo, ActorID: actor(r)})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntry(entry))
}

func (h *Handler) entryCommand(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64, actorID string) (accounting.JournalEntry, error)) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := fn(r.Context(), id, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntry(entry))
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate("batch_date", req.BatchDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	batch, err := h.svc.Batches.Create(r.Context(), batches.CreateInput{
		Number:      req.Number,
		BatchDate:   date,
		PeriodID:    req.PeriodID,
		Description: req.Description,
		ActorID:     actor(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toBatch(batch))
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.svc.Batches.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBatchView(view))
}

func (h *Handler) addBatchEntry(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req batchEntryRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.Batches.AddEntry(r.Context(), id, req.EntryID, actor(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeBatchEntry(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entryID, err := idParam(r, "entryID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.Batches.RemoveEntry(r.Context(), id, entryID, actor(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submitBatch(w http.ResponseWriter, r *http.Request) {
	h.batchCommand(w, r, h.svc.Batches.Submit)
}

func (h *Handler) approveBatch(w http.ResponseWriter, r *http.Request) {
	h.batchCommand(w, r, h.svc.Batches.Approve)
}

func (h *Handler) reopenBatch(w http.ResponseWriter, r *http.Request) {
	h.batchCommand(w, r, h.svc.Batches.Reopen)
}

func (h *Handler) rejectBatch(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reasonRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	batch, err := h.svc.Batches.Reject(r.Context(), id, req.Reason, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBatch(batch))
}

func (h *Handler) postBatch(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.svc.Batches.PostBatch(r.Context(), id, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBatchView(view))
}

func (h *Handler) batchCommand(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64, actorID string) (accounting.PostingBatch, error)) {
	id, err := idParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	batch, err := fn(r.Context(), id, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBatch(batch))
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Recurring.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]templateView, 0, len(list))
	for _, t := range list {
		out = append(out, toTemplate(t))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var end *time.Time
	if req.EndDate != "" {
		d, err := parseDate("end_date", req.EndDate)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		end = &d
	}
	tpl, err := h.svc.Recurring.Create(r.Context(), recurring.CreateInput{
		Code:               req.Code,
		Name:               req.Name,
		Frequency:          req.Frequency,
		CustomIntervalDays: req.CustomIntervalDays,
		DebitAccountCode:   req.DebitAccountCode,
		CreditAccountCode:  req.CreditAccountCode,
		Amount:             req.Amount,
		Memo:               req.Memo,
		StartDate:          start,
		EndDate:            end,
		AutoPost:           req.AutoPost,
		ActorID:            actor(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTemplate(tpl))
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.svc.Recurring.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTemplate(tpl))
}

func (h *Handler) suspendTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.svc.Recurring.Suspend(r.Context(), chi.URLParam(r, "code"), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTemplate(tpl))
}

func (h *Handler) reactivateTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.svc.Recurring.Reactivate(r.Context(), chi.URLParam(r, "code"), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTemplate(tpl))
}

func (h *Handler) runRecurring(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	asOf, err := parseDate("as_of", req.AsOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.svc.Generator.Run(r.Context(), asOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRunReport(report))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error("ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func actor(r *http.Request) string {
	return shared.ActorFromContext(r.Context())
}

func lineInputs(lines []lineRequest) []journals.LineInput {
	out := make([]journals.LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, journals.LineInput{
			AccountID:   line.AccountID,
			AccountCode: line.AccountCode,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Memo:        line.Memo,
		})
	}
	return out
}
