package ledgerhttp

import (
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/batches"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/recurring"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/trialbalance"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

type accountView struct {
	ID            int64  `json:"id"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ParentID      *int64 `json:"parent_id,omitempty"`
	Type          string `json:"type"`
	NormalBalance string `json:"normal_balance"`
	IsControl     bool   `json:"is_control"`
	IsActive      bool   `json:"is_active"`
	DirectPosting bool   `json:"allow_direct_posting"`
}

func toAccount(a accounting.Account) accountView {
	return accountView{
		ID:            a.ID,
		Code:          a.Code,
		Name:          a.Name,
		Description:   a.Description,
		ParentID:      a.ParentID,
		Type:          string(a.Type),
		NormalBalance: string(a.NormalBalance),
		IsControl:     a.IsControl,
		IsActive:      a.IsActive,
		DirectPosting: a.AllowDirectPosting(),
	}
}

type periodView struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	FiscalYear     int        `json:"fiscal_year"`
	Type           string     `json:"type"`
	Number         int        `json:"number"`
	StartDate      string     `json:"start_date"`
	EndDate        string     `json:"end_date"`
	IsClosed       bool       `json:"is_closed"`
	IsAdjustment   bool       `json:"is_adjustment"`
	PostingVersion int64      `json:"posting_version"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

func toPeriod(p accounting.Period) periodView {
	return periodView{
		ID:             p.ID,
		Name:           p.Name,
		FiscalYear:     p.FiscalYear,
		Type:           string(p.Type),
		Number:         p.Number,
		StartDate:      p.StartDate.Format(time.DateOnly),
		EndDate:        p.EndDate.Format(time.DateOnly),
		IsClosed:       p.IsClosed,
		IsAdjustment:   p.IsAdjustment,
		PostingVersion: p.PostingVersion,
		ClosedAt:       p.ClosedAt,
	}
}

type lineView struct {
	LineNo    int    `json:"line_no"`
	AccountID int64  `json:"account_id"`
	Debit     string `json:"debit"`
	Credit    string `json:"credit"`
	Memo      string `json:"memo,omitempty"`
}

type entryView struct {
	ID              int64      `json:"id"`
	Reference       string     `json:"reference"`
	Date            string     `json:"date"`
	Source          string     `json:"source"`
	SourceRef       string     `json:"source_ref,omitempty"`
	PeriodID        int64      `json:"period_id"`
	BatchID         *int64     `json:"batch_id,omitempty"`
	ReversalOf      *int64     `json:"reversal_of,omitempty"`
	Status          string     `json:"status"`
	StatusLabel     string     `json:"status_label"`
	IsPosted        bool       `json:"is_posted"`
	Memo            string     `json:"memo,omitempty"`
	CreatedBy       string     `json:"created_by"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	PostedBy        string     `json:"posted_by,omitempty"`
	PostedAt        *time.Time `json:"posted_at,omitempty"`
	TotalDebits     string     `json:"total_debits"`
	TotalCredits    string     `json:"total_credits"`
	Lines           []lineView `json:"lines"`
}

func toEntry(e accounting.JournalEntry) entryView {
	v := entryView{
		ID:              e.ID,
		Reference:       e.Reference,
		Date:            e.Date.Format(time.DateOnly),
		Source:          string(e.Source),
		SourceRef:       e.SourceRef,
		PeriodID:        e.PeriodID,
		BatchID:         e.BatchID,
		ReversalOf:      e.ReversalOf,
		Status:          string(e.Status),
		StatusLabel:     shared.StatusLabel(e.Status),
		IsPosted:        e.IsPosted,
		Memo:            e.Memo,
		CreatedBy:       e.CreatedBy,
		ApprovedBy:      e.ApprovedBy,
		RejectionReason: e.RejectionReason,
		PostedBy:        e.PostedBy,
		PostedAt:        e.PostedAt,
		TotalDebits:     accounting.FormatAmount(e.TotalDebits()),
		TotalCredits:    accounting.FormatAmount(e.TotalCredits()),
		Lines:           make([]lineView, 0, len(e.Lines)),
	}
	for _, line := range e.Lines {
		v.Lines = append(v.Lines, lineView{
			LineNo:    line.LineNo,
			AccountID: line.AccountID,
			Debit:     accounting.FormatAmount(line.Debit),
			Credit:    accounting.FormatAmount(line.Credit),
			Memo:      line.Memo,
		})
	}
	return v
}

func toEntries(entries []accounting.JournalEntry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntry(e))
	}
	return out
}

type batchView struct {
	ID              int64       `json:"id"`
	Number          string      `json:"number"`
	BatchDate       string      `json:"batch_date"`
	PeriodID        *int64      `json:"period_id,omitempty"`
	Status          string      `json:"status"`
	StatusLabel     string      `json:"status_label"`
	Description     string      `json:"description,omitempty"`
	RejectionReason string      `json:"rejection_reason,omitempty"`
	PostedBy        string      `json:"posted_by,omitempty"`
	PostedAt        *time.Time  `json:"posted_at,omitempty"`
	EntryCount      int         `json:"entry_count"`
	TotalDebits     string      `json:"total_debits"`
	TotalCredits    string      `json:"total_credits"`
	Entries         []entryView `json:"entries,omitempty"`
}

func toBatch(b accounting.PostingBatch) batchView {
	return batchView{
		ID:              b.ID,
		Number:          b.Number,
		BatchDate:       b.BatchDate.Format(time.DateOnly),
		PeriodID:        b.PeriodID,
		Status:          string(b.Status),
		StatusLabel:     shared.StatusLabel(b.Status),
		Description:     b.Description,
		RejectionReason: b.RejectionReason,
		PostedBy:        b.PostedBy,
		PostedAt:        b.PostedAt,
		TotalDebits:     "0.00",
		TotalCredits:    "0.00",
	}
}

func toBatchView(view batches.BatchView) batchView {
	v := toBatch(view.Batch)
	v.EntryCount = view.EntryCount
	v.TotalDebits = accounting.FormatAmount(view.TotalDebits)
	v.TotalCredits = accounting.FormatAmount(view.TotalCredits)
	v.Entries = toEntries(view.Entries)
	return v
}

type trialBalanceLineView struct {
	AccountCode   string `json:"account_code"`
	AccountName   string `json:"account_name"`
	AccountType   string `json:"account_type"`
	PeriodDebits  string `json:"period_debits"`
	PeriodCredits string `json:"period_credits"`
	DebitBalance  string `json:"debit_balance"`
	CreditBalance string `json:"credit_balance"`
	Abnormal      bool   `json:"abnormal,omitempty"`
}

type trialBalanceView struct {
	ID                 int64                  `json:"id"`
	PeriodID           int64                  `json:"period_id"`
	Status             string                 `json:"status"`
	GeneratedAt        time.Time              `json:"generated_at"`
	FinalizedAt        *time.Time             `json:"finalized_at,omitempty"`
	TotalDebits        string                 `json:"total_debits"`
	TotalCredits       string                 `json:"total_credits"`
	IsBalanced         bool                   `json:"is_balanced"`
	OutOfBalanceAmount string                 `json:"out_of_balance_amount"`
	NetIncome          string                 `json:"net_income"`
	Lines              []trialBalanceLineView `json:"lines"`
	Groups             []trialBalanceGroup    `json:"groups"`
}

type trialBalanceGroup struct {
	Key          string   `json:"key"`
	Accounts     []string `json:"accounts"`
	TotalDebits  string   `json:"total_debits"`
	TotalCredits string   `json:"total_credits"`
}

func toTrialBalance(tb accounting.TrialBalance) trialBalanceView {
	v := trialBalanceView{
		ID:                 tb.ID,
		PeriodID:           tb.PeriodID,
		Status:             string(tb.Status),
		GeneratedAt:        tb.GeneratedAt,
		FinalizedAt:        tb.FinalizedAt,
		TotalDebits:        accounting.FormatAmount(tb.TotalDebits),
		TotalCredits:       accounting.FormatAmount(tb.TotalCredits),
		IsBalanced:         tb.IsBalanced,
		OutOfBalanceAmount: accounting.FormatAmount(tb.OutOfBalanceAmount),
		NetIncome:          accounting.FormatAmount(tb.NetIncome),
		Lines:              make([]trialBalanceLineView, 0, len(tb.Lines)),
		Groups:             []trialBalanceGroup{},
	}
	for _, line := range tb.Lines {
		v.Lines = append(v.Lines, trialBalanceLineView{
			AccountCode:   line.AccountCode,
			AccountName:   line.AccountName,
			AccountType:   string(line.AccountType),
			PeriodDebits:  accounting.FormatAmount(line.PeriodDebits),
			PeriodCredits: accounting.FormatAmount(line.PeriodCredits),
			DebitBalance:  accounting.FormatAmount(line.DebitBalance),
			CreditBalance: accounting.FormatAmount(line.CreditBalance),
			Abnormal:      line.Abnormal,
		})
	}
	for _, g := range trialbalance.Groups(tb) {
		group := trialBalanceGroup{
			Key:          g.Key,
			Accounts:     make([]string, 0, len(g.Lines)),
			TotalDebits:  accounting.FormatAmount(g.TotalDebits),
			TotalCredits: accounting.FormatAmount(g.TotalCredits),
		}
		for _, line := range g.Lines {
			group.Accounts = append(group.Accounts, line.AccountCode)
		}
		v.Groups = append(v.Groups, group)
	}
	return v
}

type ledgerLineView struct {
	EntryID   int64  `json:"entry_id"`
	Reference string `json:"reference"`
	Date      string `json:"date"`
	Debit     string `json:"debit"`
	Credit    string `json:"credit"`
	Memo      string `json:"memo,omitempty"`
	Balance   string `json:"balance"`
}

type accountLedgerView struct {
	Account        accountView      `json:"account"`
	From           string           `json:"from,omitempty"`
	To             string           `json:"to,omitempty"`
	OpeningBalance string           `json:"opening_balance"`
	TotalDebits    string           `json:"total_debits"`
	TotalCredits   string           `json:"total_credits"`
	ClosingBalance string           `json:"closing_balance"`
	Lines          []ledgerLineView `json:"lines"`
}

func toLedger(l journals.AccountLedger) accountLedgerView {
	v := accountLedgerView{
		Account:        toAccount(l.Account),
		From:           optionalDate(l.From),
		To:             optionalDate(l.To),
		OpeningBalance: accounting.FormatAmount(l.OpeningBalance),
		TotalDebits:    accounting.FormatAmount(l.TotalDebits),
		TotalCredits:   accounting.FormatAmount(l.TotalCredits),
		ClosingBalance: accounting.FormatAmount(l.ClosingBalance),
		Lines:          make([]ledgerLineView, 0, len(l.Lines)),
	}
	for _, line := range l.Lines {
		v.Lines = append(v.Lines, ledgerLineView{
			EntryID:   line.EntryID,
			Reference: line.Reference,
			Date:      line.Date.Format(time.DateOnly),
			Debit:     accounting.FormatAmount(line.Debit),
			Credit:    accounting.FormatAmount(line.Credit),
			Memo:      line.Memo,
			Balance:   accounting.FormatAmount(line.Balance),
		})
	}
	return v
}

type templateView struct {
	ID                 int64   `json:"id"`
	Code               string  `json:"code"`
	Name               string  `json:"name"`
	Frequency          string  `json:"frequency"`
	CustomIntervalDays int     `json:"custom_interval_days,omitempty"`
	DebitAccountID     int64   `json:"debit_account_id"`
	CreditAccountID    int64   `json:"credit_account_id"`
	Amount             string  `json:"amount"`
	StartDate          string  `json:"start_date"`
	EndDate            string  `json:"end_date,omitempty"`
	NextRunDate        string  `json:"next_run_date"`
	LastGeneratedDate  *string `json:"last_generated_date,omitempty"`
	GeneratedCount     int     `json:"generated_count"`
	Status             string  `json:"status"`
	AutoPost           bool    `json:"auto_post"`
}

func toTemplate(t accounting.RecurringTemplate) templateView {
	v := templateView{
		ID:                 t.ID,
		Code:               t.Code,
		Name:               t.Name,
		Frequency:          string(t.Frequency),
		CustomIntervalDays: t.CustomIntervalDays,
		DebitAccountID:     t.DebitAccountID,
		CreditAccountID:    t.CreditAccountID,
		Amount:             accounting.FormatAmount(t.Amount),
		StartDate:          t.StartDate.Format(time.DateOnly),
		NextRunDate:        t.NextRunDate.Format(time.DateOnly),
		GeneratedCount:     t.GeneratedCount,
		Status:             string(t.Status),
		AutoPost:           t.AutoPost,
	}
	if t.EndDate != nil {
		v.EndDate = t.EndDate.Format(time.DateOnly)
	}
	if t.LastGeneratedDate != nil {
		d := t.LastGeneratedDate.Format(time.DateOnly)
		v.LastGeneratedDate = &d
	}
	return v
}

type runFailureView struct {
	TemplateCode string `json:"template_code"`
	Date         string `json:"date"`
	Error        string `json:"error"`
}

type runGeneratedView struct {
	TemplateCode string `json:"template_code"`
	Date         string `json:"date"`
	EntryID      int64  `json:"entry_id"`
	Reference    string `json:"reference"`
	Posted       bool   `json:"posted"`
}

type runReportView struct {
	AsOf      string             `json:"as_of"`
	Templates int                `json:"templates"`
	Skipped   int                `json:"skipped"`
	Generated []runGeneratedView `json:"generated"`
	Failures  []runFailureView   `json:"failures"`
}

func toRunReport(r recurring.RunReport) runReportView {
	v := runReportView{
		AsOf:      r.AsOf.Format(time.DateOnly),
		Templates: r.Templates,
		Skipped:   r.Skipped,
		Generated: make([]runGeneratedView, 0, len(r.Generated)),
		Failures:  make([]runFailureView, 0, len(r.Failures)),
	}
	for _, g := range r.Generated {
		v.Generated = append(v.Generated, runGeneratedView{
			TemplateCode: g.TemplateCode,
			Date:         g.Date.Format(time.DateOnly),
			EntryID:      g.EntryID,
			Reference:    g.Reference,
			Posted:       g.Posted,
		})
	}
	for _, f := range r.Failures {
		v.Failures = append(v.Failures, runFailureView{TemplateCode: f.TemplateCode, Date: f.Date.Format(time.DateOnly), Error: f.Err.Error()})
	}
	return v
}

func optionalDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}
