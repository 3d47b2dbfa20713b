package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// Store abstracts transactional ledger persistence. fn runs inside a single
// transaction; returning an error rolls every write back.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Tx exposes the ledger tables within one transaction. Methods suffixed
// ForUpdate take a row lock held until commit.
type Tx interface {
	InsertAccount(ctx context.Context, account Account) (Account, error)
	UpdateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id int64) (Account, error)
	GetAccountByCode(ctx context.Context, code string) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	HasPostings(ctx context.Context, accountID int64) (bool, error)
	CountActivePostings(ctx context.Context, accountID int64) (int, error)

	InsertPeriod(ctx context.Context, period Period) (Period, error)
	UpdatePeriod(ctx context.Context, period Period) error
	GetPeriod(ctx context.Context, id int64) (Period, error)
	GetPeriodForUpdate(ctx context.Context, id int64) (Period, error)
	FindPeriodByDate(ctx context.Context, date time.Time) (Period, error)
	ListPeriods(ctx context.Context) ([]Period, error)

	InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	UpdateEntry(ctx context.Context, entry JournalEntry) error
	ReplaceLines(ctx context.Context, entryID int64, lines []JournalLine) error
	GetEntry(ctx context.Context, id int64) (JournalEntry, error)
	GetEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error)
	GetEntryBySourceKey(ctx context.Context, key uuid.UUID) (JournalEntry, error)
	FindReversal(ctx context.Context, entryID int64) (JournalEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error)
	ListBatchEntries(ctx context.Context, batchID int64) ([]JournalEntry, error)
	CountUnpostedEntries(ctx context.Context, periodID int64) (int, error)
	PostedLines(ctx context.Context, filter PostedLineFilter) ([]PostedLine, error)

	InsertBatch(ctx context.Context, batch PostingBatch) (PostingBatch, error)
	UpdateBatch(ctx context.Context, batch PostingBatch) error
	GetBatch(ctx context.Context, id int64) (PostingBatch, error)
	GetBatchForUpdate(ctx context.Context, id int64) (PostingBatch, error)

	InsertTemplate(ctx context.Context, tpl RecurringTemplate) (RecurringTemplate, error)
	UpdateTemplate(ctx context.Context, tpl RecurringTemplate) error
	GetTemplateByCode(ctx context.Context, code string) (RecurringTemplate, error)
	GetTemplateForUpdate(ctx context.Context, id int64) (RecurringTemplate, error)
	ListTemplates(ctx context.Context) ([]RecurringTemplate, error)
	ListDueTemplates(ctx context.Context, asOf time.Time) ([]RecurringTemplate, error)

	GetCurrentTrialBalance(ctx context.Context, periodID int64) (TrialBalance, error)
	SaveTrialBalance(ctx context.Context, tb TrialBalance) (TrialBalance, error)
	UpdateTrialBalanceStatus(ctx context.Context, id int64, status TrialBalanceStatus, at time.Time) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives ledger counters. A nil port disables recording.
type MetricsPort interface {
	EntryPosted(source string)
	BatchPosted(entries int)
}

// ResolvePeriod loads the period covering date and fails when none exists.
func ResolvePeriod(ctx context.Context, tx Tx, date time.Time) (Period, error) {
	period, err := tx.FindPeriodByDate(ctx, DateOnly(date))
	if err != nil {
		if errors.Is(err, ErrPeriodNotFound) {
			return Period{}, fmt.Errorf("%w: %s", ErrNoPeriodForDate, date.Format(time.DateOnly))
		}
		return Period{}, err
	}
	return period, nil
}
