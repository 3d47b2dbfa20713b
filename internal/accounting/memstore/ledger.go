package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

func (t *tx) InsertAccount(ctx context.Context, account accounting.Account) (accounting.Account, error) {
	for _, existing := range t.st.accounts {
		if strings.EqualFold(existing.Code, account.Code) {
			return accounting.Account{}, accounting.ErrDuplicateCode
		}
	}
	now := t.stamp()
	account.ID = t.st.next("accounts")
	account.CreatedAt, account.UpdatedAt = now, now
	t.st.accounts[account.ID] = account
	return account, nil
}

func (t *tx) UpdateAccount(ctx context.Context, account accounting.Account) error {
	if _, ok := t.st.accounts[account.ID]; !ok {
		return accounting.ErrAccountNotFound
	}
	account.UpdatedAt = t.stamp()
	t.st.accounts[account.ID] = account
	return nil
}

func (t *tx) GetAccount(ctx context.Context, id int64) (accounting.Account, error) {
	account, ok := t.st.accounts[id]
	if !ok {
		return accounting.Account{}, accounting.ErrAccountNotFound
	}
	return account, nil
}

func (t *tx) GetAccountByCode(ctx context.Context, code string) (accounting.Account, error) {
	for _, account := range t.st.accounts {
		if strings.EqualFold(account.Code, code) {
			return account, nil
		}
	}
	return accounting.Account{}, accounting.ErrAccountNotFound
}

func (t *tx) ListAccounts(ctx context.Context) ([]accounting.Account, error) {
	out := make([]accounting.Account, 0, len(t.st.accounts))
	for _, account := range t.st.accounts {
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *tx) HasPostings(ctx context.Context, accountID int64) (bool, error) {
	for _, entry := range t.st.entries {
		if !entry.IsPosted {
			continue
		}
		for _, line := range entry.Lines {
			if line.AccountID == accountID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *tx) CountActivePostings(ctx context.Context, accountID int64) (int, error) {
	reversed := make(map[int64]bool)
	for _, entry := range t.st.entries {
		if entry.ReversalOf != nil {
			reversed[*entry.ReversalOf] = true
		}
	}
	count := 0
	for _, entry := range t.st.entries {
		if !entry.IsPosted || entry.ReversalOf != nil || reversed[entry.ID] {
			continue
		}
		if period, ok := t.st.periods[entry.PeriodID]; !ok || period.IsClosed {
			continue
		}
		for _, line := range entry.Lines {
			if line.AccountID == accountID {
				count++
			}
		}
	}
	return count, nil
}

func (t *tx) InsertPeriod(ctx context.Context, period accounting.Period) (accounting.Period, error) {
	for _, existing := range t.st.periods {
		if existing.FiscalYear == period.FiscalYear && existing.Type == period.Type && existing.Number == period.Number {
			return accounting.Period{}, accounting.ErrDuplicatePeriod
		}
	}
	now := t.stamp()
	period.ID = t.st.next("periods")
	period.CreatedAt, period.UpdatedAt = now, now
	t.st.periods[period.ID] = period
	return period, nil
}

func (t *tx) UpdatePeriod(ctx context.Context, period accounting.Period) error {
	if _, ok := t.st.periods[period.ID]; !ok {
		return accounting.ErrPeriodNotFound
	}
	period.UpdatedAt = t.stamp()
	t.st.periods[period.ID] = period
	return nil
}

func (t *tx) GetPeriod(ctx context.Context, id int64) (accounting.Period, error) {
	period, ok := t.st.periods[id]
	if !ok {
		return accounting.Period{}, accounting.ErrPeriodNotFound
	}
	return period, nil
}

func (t *tx) GetPeriodForUpdate(ctx context.Context, id int64) (accounting.Period, error) {
	return t.GetPeriod(ctx, id)
}

func (t *tx) FindPeriodByDate(ctx context.Context, date time.Time) (accounting.Period, error) {
	for _, period := range t.st.periods {
		if period.Contains(date) {
			return period, nil
		}
	}
	return accounting.Period{}, accounting.ErrPeriodNotFound
}

func (t *tx) ListPeriods(ctx context.Context) ([]accounting.Period, error) {
	out := make([]accounting.Period, 0, len(t.st.periods))
	for _, period := range t.st.periods {
		out = append(out, period)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (t *tx) InsertEntry(ctx context.Context, entry accounting.JournalEntry) (accounting.JournalEntry, error) {
	for _, existing := range t.st.entries {
		if existing.Reference == entry.Reference {
			return accounting.JournalEntry{}, accounting.ErrDuplicateReference
		}
		if entry.SourceKey != uuid.Nil && existing.SourceKey == entry.SourceKey {
			return accounting.JournalEntry{}, accounting.ErrDuplicateSourceKey
		}
		if entry.ReversalOf != nil && existing.ReversalOf != nil && *existing.ReversalOf == *entry.ReversalOf {
			return accounting.JournalEntry{}, accounting.ErrAlreadyReversed
		}
	}
	now := t.stamp()
	entry.ID = t.st.next("journal_entries")
	entry.CreatedAt, entry.UpdatedAt = now, now
	entry.Lines = t.numberLines(entry.ID, entry.Lines)
	t.st.entries[entry.ID] = entry
	return copyEntry(entry), nil
}

func (t *tx) numberLines(entryID int64, lines []accounting.JournalLine) []accounting.JournalLine {
	out := make([]accounting.JournalLine, len(lines))
	for i, line := range lines {
		line.ID = t.st.next("journal_lines")
		line.EntryID = entryID
		line.LineNo = i + 1
		out[i] = line
	}
	return out
}

func (t *tx) UpdateEntry(ctx context.Context, entry accounting.JournalEntry) error {
	current, ok := t.st.entries[entry.ID]
	if !ok {
		return accounting.ErrEntryNotFound
	}
	entry.Lines = current.Lines
	entry.CreatedAt = current.CreatedAt
	entry.UpdatedAt = t.stamp()
	t.st.entries[entry.ID] = entry
	return nil
}

func (t *tx) ReplaceLines(ctx context.Context, entryID int64, lines []accounting.JournalLine) error {
	current, ok := t.st.entries[entryID]
	if !ok {
		return accounting.ErrEntryNotFound
	}
	current.Lines = t.numberLines(entryID, lines)
	current.UpdatedAt = t.stamp()
	t.st.entries[entryID] = current
	return nil
}

func (t *tx) GetEntry(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	entry, ok := t.st.entries[id]
	if !ok {
		return accounting.JournalEntry{}, accounting.ErrEntryNotFound
	}
	return copyEntry(entry), nil
}

func (t *tx) GetEntryForUpdate(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	return t.GetEntry(ctx, id)
}

func (t *tx) GetEntryBySourceKey(ctx context.Context, key uuid.UUID) (accounting.JournalEntry, error) {
	for _, entry := range t.st.entries {
		if key != uuid.Nil && entry.SourceKey == key {
			return copyEntry(entry), nil
		}
	}
	return accounting.JournalEntry{}, accounting.ErrEntryNotFound
}

func (t *tx) FindReversal(ctx context.Context, entryID int64) (accounting.JournalEntry, error) {
	for _, entry := range t.st.entries {
		if entry.ReversalOf != nil && *entry.ReversalOf == entryID {
			return copyEntry(entry), nil
		}
	}
	return accounting.JournalEntry{}, accounting.ErrEntryNotFound
}

func (t *tx) ListEntries(ctx context.Context, filter accounting.EntryFilter) ([]accounting.JournalEntry, error) {
	var out []accounting.JournalEntry
	for _, entry := range t.st.entries {
		if filter.PeriodID != nil && entry.PeriodID != *filter.PeriodID {
			continue
		}
		if filter.Status != nil && entry.Status != *filter.Status {
			continue
		}
		if filter.Posted != nil && entry.IsPosted != *filter.Posted {
			continue
		}
		if filter.Source != nil && entry.Source != *filter.Source {
			continue
		}
		if !inRange(entry.Date, filter.From, filter.To) {
			continue
		}
		out = append(out, copyEntry(entry))
	}
	sortEntries(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *tx) ListBatchEntries(ctx context.Context, batchID int64) ([]accounting.JournalEntry, error) {
	var out []accounting.JournalEntry
	for _, entry := range t.st.entries {
		if entry.BatchID != nil && *entry.BatchID == batchID {
			out = append(out, copyEntry(entry))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) CountUnpostedEntries(ctx context.Context, periodID int64) (int, error) {
	count := 0
	for _, entry := range t.st.entries {
		if entry.PeriodID == periodID && !entry.IsPosted && entry.Status != accounting.EntryStatusRejected {
			count++
		}
	}
	return count, nil
}

func (t *tx) PostedLines(ctx context.Context, filter accounting.PostedLineFilter) ([]accounting.PostedLine, error) {
	var posted []accounting.JournalEntry
	for _, entry := range t.st.entries {
		if entry.IsPosted && inRange(entry.Date, filter.From, filter.To) {
			posted = append(posted, entry)
		}
	}
	sortEntries(posted)
	var out []accounting.PostedLine
	for _, entry := range posted {
		for _, line := range entry.Lines {
			if filter.AccountID != 0 && line.AccountID != filter.AccountID {
				continue
			}
			out = append(out, accounting.PostedLine{
				EntryID:    entry.ID,
				Reference:  entry.Reference,
				Date:       entry.Date,
				PeriodID:   entry.PeriodID,
				AccountID:  line.AccountID,
				Debit:      line.Debit,
				Credit:     line.Credit,
				Memo:       line.Memo,
				ReversalOf: entry.ReversalOf,
			})
		}
	}
	return out, nil
}

func (t *tx) InsertBatch(ctx context.Context, batch accounting.PostingBatch) (accounting.PostingBatch, error) {
	for _, existing := range t.st.batches {
		if existing.Number == batch.Number {
			return accounting.PostingBatch{}, accounting.ErrDuplicateBatchNumber
		}
	}
	now := t.stamp()
	batch.ID = t.st.next("posting_batches")
	batch.CreatedAt, batch.UpdatedAt = now, now
	t.st.batches[batch.ID] = batch
	return batch, nil
}

func (t *tx) UpdateBatch(ctx context.Context, batch accounting.PostingBatch) error {
	current, ok := t.st.batches[batch.ID]
	if !ok {
		return accounting.ErrBatchNotFound
	}
	batch.CreatedAt = current.CreatedAt
	batch.UpdatedAt = t.stamp()
	t.st.batches[batch.ID] = batch
	return nil
}

func (t *tx) GetBatch(ctx context.Context, id int64) (accounting.PostingBatch, error) {
	batch, ok := t.st.batches[id]
	if !ok {
		return accounting.PostingBatch{}, accounting.ErrBatchNotFound
	}
	return batch, nil
}

func (t *tx) GetBatchForUpdate(ctx context.Context, id int64) (accounting.PostingBatch, error) {
	return t.GetBatch(ctx, id)
}

func (t *tx) InsertTemplate(ctx context.Context, tpl accounting.RecurringTemplate) (accounting.RecurringTemplate, error) {
	for _, existing := range t.st.templates {
		if strings.EqualFold(existing.Code, tpl.Code) {
			return accounting.RecurringTemplate{}, accounting.ErrDuplicateTemplateCode
		}
	}
	now := t.stamp()
	tpl.ID = t.st.next("recurring_templates")
	tpl.CreatedAt, tpl.UpdatedAt = now, now
	t.st.templates[tpl.ID] = tpl
	return tpl, nil
}

func (t *tx) UpdateTemplate(ctx context.Context, tpl accounting.RecurringTemplate) error {
	current, ok := t.st.templates[tpl.ID]
	if !ok {
		return accounting.ErrTemplateNotFound
	}
	tpl.CreatedAt = current.CreatedAt
	tpl.UpdatedAt = t.stamp()
	t.st.templates[tpl.ID] = tpl
	return nil
}

func (t *tx) GetTemplateByCode(ctx context.Context, code string) (accounting.RecurringTemplate, error) {
	for _, tpl := range t.st.templates {
		if strings.EqualFold(tpl.Code, code) {
			return tpl, nil
		}
	}
	return accounting.RecurringTemplate{}, accounting.ErrTemplateNotFound
}

func (t *tx) GetTemplateForUpdate(ctx context.Context, id int64) (accounting.RecurringTemplate, error) {
	tpl, ok := t.st.templates[id]
	if !ok {
		return accounting.RecurringTemplate{}, accounting.ErrTemplateNotFound
	}
	return tpl, nil
}

func (t *tx) ListTemplates(ctx context.Context) ([]accounting.RecurringTemplate, error) {
	out := make([]accounting.RecurringTemplate, 0, len(t.st.templates))
	for _, tpl := range t.st.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *tx) ListDueTemplates(ctx context.Context, asOf time.Time) ([]accounting.RecurringTemplate, error) {
	all, _ := t.ListTemplates(ctx)
	var out []accounting.RecurringTemplate
	for _, tpl := range all {
		if tpl.IsActive() && !tpl.NextRunDate.After(asOf) {
			out = append(out, tpl)
		}
	}
	return out, nil
}

func (t *tx) GetCurrentTrialBalance(ctx context.Context, periodID int64) (accounting.TrialBalance, error) {
	var current accounting.TrialBalance
	found := false
	for _, tb := range t.st.trialBalances {
		if tb.PeriodID != periodID || tb.Status == accounting.TrialBalanceStatusSuperseded {
			continue
		}
		if !found || tb.ID > current.ID {
			current, found = tb, true
		}
	}
	if !found {
		return accounting.TrialBalance{}, accounting.ErrTrialBalanceNotFound
	}
	return copyTrialBalance(current), nil
}

func (t *tx) SaveTrialBalance(ctx context.Context, tb accounting.TrialBalance) (accounting.TrialBalance, error) {
	for id, existing := range t.st.trialBalances {
		if existing.PeriodID == tb.PeriodID && existing.Status == accounting.TrialBalanceStatusDraft {
			delete(t.st.trialBalances, id)
		}
	}
	tb.ID = t.st.next("trial_balances")
	tb = copyTrialBalance(tb)
	t.st.trialBalances[tb.ID] = tb
	return copyTrialBalance(tb), nil
}

func (t *tx) UpdateTrialBalanceStatus(ctx context.Context, id int64, status accounting.TrialBalanceStatus, at time.Time) error {
	tb, ok := t.st.trialBalances[id]
	if !ok {
		return accounting.ErrTrialBalanceNotFound
	}
	tb.Status = status
	if status == accounting.TrialBalanceStatusFinalized {
		finalized := at
		tb.FinalizedAt = &finalized
	}
	t.st.trialBalances[id] = tb
	return nil
}

func inRange(date, from, to time.Time) bool {
	if !from.IsZero() && date.Before(from) {
		return false
	}
	if !to.IsZero() && date.After(to) {
		return false
	}
	return true
}

func sortEntries(entries []accounting.JournalEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].ID < entries[j].ID
	})
}
