package accounting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether the type is one of the five ledger categories.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	default:
		return false
	}
}

// DefaultNormalBalance returns the side on which the type normally carries its balance.
func (t AccountType) DefaultNormalBalance() NormalBalance {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalBalanceDebit
	default:
		return NormalBalanceCredit
	}
}

// NormalBalance is the side an account's balance is expected on.
type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "DEBIT"
	NormalBalanceCredit NormalBalance = "CREDIT"
)

// Valid reports whether the side is debit or credit.
func (b NormalBalance) Valid() bool {
	return b == NormalBalanceDebit || b == NormalBalanceCredit
}

// Account models a chart of accounts node. Parents are referenced by id only.
type Account struct {
	ID            int64
	Code          string
	Name          string
	Description   string
	ParentID      *int64
	Type          AccountType
	NormalBalance NormalBalance
	IsControl     bool
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AllowDirectPosting reports whether journal lines may target the account.
func (a Account) AllowDirectPosting() bool {
	return !a.IsControl && a.IsActive
}

// SignedBalance returns debit minus credit expressed on the account's normal side.
func (a Account) SignedBalance(debit, credit decimal.Decimal) decimal.Decimal {
	if a.NormalBalance == NormalBalanceCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// PeriodType enumerates period granularity.
type PeriodType string

const (
	PeriodTypeMonthly   PeriodType = "MONTHLY"
	PeriodTypeQuarterly PeriodType = "QUARTERLY"
	PeriodTypeYearly    PeriodType = "YEARLY"
)

// ParsePeriodType normalises user input, accepting ANNUAL as an alias for YEARLY.
func ParsePeriodType(v string) (PeriodType, bool) {
	switch PeriodType(normaliseEnum(v)) {
	case PeriodTypeMonthly:
		return PeriodTypeMonthly, true
	case PeriodTypeQuarterly:
		return PeriodTypeQuarterly, true
	case PeriodTypeYearly, "ANNUAL":
		return PeriodTypeYearly, true
	default:
		return "", false
	}
}

// Period represents a fiscal period window. Dates are inclusive.
type Period struct {
	ID             int64
	Name           string
	FiscalYear     int
	Type           PeriodType
	Number         int
	StartDate      time.Time
	EndDate        time.Time
	IsClosed       bool
	IsAdjustment   bool
	PostingVersion int64
	ClosedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Contains reports whether date falls in the inclusive period range.
func (p Period) Contains(date time.Time) bool {
	d := DateOnly(date)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// Overlaps reports whether the period shares at least one day with [start, end].
func (p Period) Overlaps(start, end time.Time) bool {
	return !DateOnly(start).After(p.EndDate) && !DateOnly(end).Before(p.StartDate)
}

// EntryStatus enumerates journal approval states.
type EntryStatus string

const (
	EntryStatusDraft           EntryStatus = "DRAFT"
	EntryStatusPendingApproval EntryStatus = "PENDING_APPROVAL"
	EntryStatusApproved        EntryStatus = "APPROVED"
	EntryStatusRejected        EntryStatus = "REJECTED"
)

var entryTransitions = map[EntryStatus][]EntryStatus{
	EntryStatusDraft:           {EntryStatusPendingApproval},
	EntryStatusPendingApproval: {EntryStatusApproved, EntryStatusRejected},
	EntryStatusRejected:        {EntryStatusDraft},
}

// CanTransition reports whether the approval workflow allows moving to next.
func (s EntryStatus) CanTransition(next EntryStatus) bool {
	return allowed(entryTransitions, s, next)
}

// EntrySource tags how a journal entry came to exist.
type EntrySource string

const (
	EntrySourceManual          EntrySource = "MANUAL"
	EntrySourceRecurring       EntrySource = "RECURRING"
	EntrySourceReversal        EntrySource = "REVERSAL"
	EntrySourceYearEndTransfer EntrySource = "YEAR_END_TRANSFER"
)

// Valid reports whether the source tag is known.
func (s EntrySource) Valid() bool {
	switch s {
	case EntrySourceManual, EntrySourceRecurring, EntrySourceReversal, EntrySourceYearEndTransfer:
		return true
	default:
		return false
	}
}

// JournalEntry captures posting metadata and its ordered lines.
type JournalEntry struct {
	ID              int64
	Reference       string
	Date            time.Time
	Source          EntrySource
	SourceRef       string
	SourceKey       uuid.UUID
	PeriodID        int64
	BatchID         *int64
	ReversalOf      *int64
	Status          EntryStatus
	IsPosted        bool
	Memo            string
	CreatedBy       string
	SubmittedBy     string
	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectionReason string
	PostedBy        string
	PostedAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Lines           []JournalLine
}

// TotalDebits sums the debit side of every line.
func (e JournalEntry) TotalDebits() decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.Lines {
		total = total.Add(line.Debit)
	}
	return total
}

// TotalCredits sums the credit side of every line.
func (e JournalEntry) TotalCredits() decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.Lines {
		total = total.Add(line.Credit)
	}
	return total
}

// Balanced reports exact equality of both sides at the currency scale.
func (e JournalEntry) Balanced() bool {
	return Round(e.TotalDebits()).Equal(Round(e.TotalCredits()))
}

// JournalLine stores a debit or credit amount for an account.
type JournalLine struct {
	ID        int64
	EntryID   int64
	LineNo    int
	AccountID int64
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Memo      string
}

// BatchStatus enumerates posting batch states.
type BatchStatus string

const (
	BatchStatusOpen            BatchStatus = "OPEN"
	BatchStatusPendingApproval BatchStatus = "PENDING_APPROVAL"
	BatchStatusApproved        BatchStatus = "APPROVED"
	BatchStatusPosted          BatchStatus = "POSTED"
	BatchStatusRejected        BatchStatus = "REJECTED"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusOpen:            {BatchStatusPendingApproval},
	BatchStatusPendingApproval: {BatchStatusApproved, BatchStatusRejected},
	BatchStatusApproved:        {BatchStatusPosted},
	BatchStatusRejected:        {BatchStatusOpen},
}

// CanTransition reports whether the batch workflow allows moving to next.
func (s BatchStatus) CanTransition(next BatchStatus) bool {
	return allowed(batchTransitions, s, next)
}

// PostingBatch groups journal entries for joint approval and posting.
type PostingBatch struct {
	ID              int64
	Number          string
	BatchDate       time.Time
	PeriodID        *int64
	Status          BatchStatus
	Description     string
	CreatedBy       string
	SubmittedBy     string
	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectionReason string
	PostedBy        string
	PostedAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Frequency enumerates recurring schedules.
type Frequency string

const (
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyAnnually  Frequency = "ANNUALLY"
	FrequencyCustom    Frequency = "CUSTOM"
)

// Valid reports whether the frequency is supported.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyAnnually, FrequencyCustom:
		return true
	default:
		return false
	}
}

// TemplateStatus enumerates recurring template states.
type TemplateStatus string

const (
	TemplateStatusActive    TemplateStatus = "ACTIVE"
	TemplateStatusSuspended TemplateStatus = "SUSPENDED"
	TemplateStatusExpired   TemplateStatus = "EXPIRED"
)

var templateTransitions = map[TemplateStatus][]TemplateStatus{
	TemplateStatusActive:    {TemplateStatusSuspended, TemplateStatusExpired},
	TemplateStatusSuspended: {TemplateStatusActive, TemplateStatusExpired},
}

// CanTransition reports whether the template lifecycle allows moving to next.
func (s TemplateStatus) CanTransition(next TemplateStatus) bool {
	return allowed(templateTransitions, s, next)
}

// RecurringTemplate defines a journal entry materialised on a schedule.
type RecurringTemplate struct {
	ID                 int64
	Code               string
	Name               string
	Frequency          Frequency
	CustomIntervalDays int
	DebitAccountID     int64
	CreditAccountID    int64
	Amount             decimal.Decimal
	Memo               string
	StartDate          time.Time
	EndDate            *time.Time
	NextRunDate        time.Time
	LastGeneratedDate  *time.Time
	GeneratedCount     int
	Status             TemplateStatus
	AutoPost           bool
	CreatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsActive reports whether the generator should consider the template.
func (t RecurringTemplate) IsActive() bool {
	return t.Status == TemplateStatusActive
}

// TrialBalanceStatus enumerates trial balance snapshot states.
type TrialBalanceStatus string

const (
	TrialBalanceStatusDraft      TrialBalanceStatus = "DRAFT"
	TrialBalanceStatusFinalized  TrialBalanceStatus = "FINALIZED"
	TrialBalanceStatusSuperseded TrialBalanceStatus = "SUPERSEDED"
)

// TrialBalance is a per-period snapshot of account balances.
type TrialBalance struct {
	ID                  int64
	PeriodID            int64
	GeneratedAt         time.Time
	IncludeZeroBalances bool
	Status              TrialBalanceStatus
	TotalDebits         decimal.Decimal
	TotalCredits        decimal.Decimal
	IsBalanced          bool
	OutOfBalanceAmount  decimal.Decimal
	NetIncome           decimal.Decimal
	FinalizedAt         *time.Time
	Lines               []TrialBalanceLine
}

// TrialBalanceLine holds one account's activity and net balance for the period.
type TrialBalanceLine struct {
	AccountID     int64
	AccountCode   string
	AccountName   string
	AccountType   AccountType
	NormalBalance NormalBalance
	PeriodDebits  decimal.Decimal
	PeriodCredits decimal.Decimal
	DebitBalance  decimal.Decimal
	CreditBalance decimal.Decimal
	Abnormal      bool
}

// PostedLine is a journal line joined with its posted entry header.
type PostedLine struct {
	EntryID    int64
	Reference  string
	Date       time.Time
	PeriodID   int64
	AccountID  int64
	Debit      decimal.Decimal
	Credit     decimal.Decimal
	Memo       string
	ReversalOf *int64
}

// PostedLineFilter narrows PostedLines queries. Zero dates are unbounded.
type PostedLineFilter struct {
	AccountID int64
	From      time.Time
	To        time.Time
}

// EntryFilter narrows ListEntries queries.
type EntryFilter struct {
	PeriodID *int64
	Status   *EntryStatus
	Posted   *bool
	Source   *EntrySource
	From     time.Time
	To       time.Time
	Limit    int
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, candidate := range table[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
