package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

const accountColumns = `id, code, name, description, parent_id, account_type, normal_balance, is_control, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (accounting.Account, error) {
	var a accounting.Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Description, &a.ParentID, &a.Type, &a.NormalBalance, &a.IsControl, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (t *tx) InsertAccount(ctx context.Context, a accounting.Account) (accounting.Account, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO accounts (code, name, description, parent_id, account_type, normal_balance, is_control, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+accountColumns,
		a.Code, a.Name, a.Description, a.ParentID, a.Type, a.NormalBalance, a.IsControl, a.IsActive)
	created, err := scanAccount(row)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return accounting.Account{}, accounting.ErrDuplicateCode
		}
		return accounting.Account{}, err
	}
	return created, nil
}

func (t *tx) UpdateAccount(ctx context.Context, a accounting.Account) error {
	tag, err := t.tx.Exec(ctx, `UPDATE accounts SET name=$2, description=$3, parent_id=$4, is_control=$5, is_active=$6, updated_at=NOW()
WHERE id=$1`, a.ID, a.Name, a.Description, a.ParentID, a.IsControl, a.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return accounting.ErrAccountNotFound
	}
	return nil
}

func (t *tx) GetAccount(ctx context.Context, id int64) (accounting.Account, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	return a, notFound(err, accounting.ErrAccountNotFound)
}

func (t *tx) GetAccountByCode(ctx context.Context, code string) (accounting.Account, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE upper(code)=upper($1)`, code))
	return a, notFound(err, accounting.ErrAccountNotFound)
}

func (t *tx) ListAccounts(ctx context.Context) ([]accounting.Account, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []accounting.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (t *tx) HasPostings(ctx context.Context, accountID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE l.account_id=$1 AND e.is_posted)`, accountID).Scan(&exists)
	return exists, err
}

// CountActivePostings counts posted lines in open periods whose entries are
// neither reversals nor reversed.
func (t *tx) CountActivePostings(ctx context.Context, accountID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN periods p ON p.id = e.period_id
WHERE l.account_id=$1 AND e.is_posted AND NOT p.is_closed AND e.reversal_of IS NULL
  AND NOT EXISTS (SELECT 1 FROM journal_entries r WHERE r.reversal_of = e.id)`, accountID).Scan(&count)
	return count, err
}

const periodColumns = `id, name, fiscal_year, period_type, period_number, start_date, end_date, is_closed, is_adjustment, posting_version, closed_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (accounting.Period, error) {
	var p accounting.Period
	err := row.Scan(&p.ID, &p.Name, &p.FiscalYear, &p.Type, &p.Number, &p.StartDate, &p.EndDate, &p.IsClosed, &p.IsAdjustment,
		&p.PostingVersion, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	p.StartDate, p.EndDate = accounting.DateOnly(p.StartDate), accounting.DateOnly(p.EndDate)
	return p, err
}

func (t *tx) InsertPeriod(ctx context.Context, p accounting.Period) (accounting.Period, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO periods (name, fiscal_year, period_type, period_number, start_date, end_date, is_closed, is_adjustment)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+periodColumns,
		p.Name, p.FiscalYear, p.Type, p.Number, p.StartDate, p.EndDate, p.IsClosed, p.IsAdjustment)
	created, err := scanPeriod(row)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return accounting.Period{}, accounting.ErrDuplicatePeriod
		}
		return accounting.Period{}, err
	}
	return created, nil
}

func (t *tx) UpdatePeriod(ctx context.Context, p accounting.Period) error {
	tag, err := t.tx.Exec(ctx, `UPDATE periods SET name=$2, is_closed=$3, is_adjustment=$4, posting_version=$5, closed_at=$6, updated_at=NOW()
WHERE id=$1`, p.ID, p.Name, p.IsClosed, p.IsAdjustment, p.PostingVersion, p.ClosedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return accounting.ErrPeriodNotFound
	}
	return nil
}

func (t *tx) GetPeriod(ctx context.Context, id int64) (accounting.Period, error) {
	p, err := scanPeriod(t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1`, id))
	return p, notFound(err, accounting.ErrPeriodNotFound)
}

func (t *tx) GetPeriodForUpdate(ctx context.Context, id int64) (accounting.Period, error) {
	p, err := scanPeriod(t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1 FOR UPDATE`, id))
	return p, notFound(err, accounting.ErrPeriodNotFound)
}

// FindPeriodByDate prefers regular periods over adjustment periods sharing the date.
func (t *tx) FindPeriodByDate(ctx context.Context, date time.Time) (accounting.Period, error) {
	p, err := scanPeriod(t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods
WHERE start_date <= $1 AND end_date >= $1 ORDER BY is_adjustment, start_date LIMIT 1`, date))
	return p, notFound(err, accounting.ErrPeriodNotFound)
}

func (t *tx) ListPeriods(ctx context.Context) ([]accounting.Period, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+periodColumns+` FROM periods ORDER BY start_date, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []accounting.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

const entryColumns = `id, reference, entry_date, source, source_ref, source_key::text, period_id, batch_id, reversal_of, status, is_posted, memo,
created_by, submitted_by, approved_by, approved_at, rejection_reason, posted_by, posted_at, created_at, updated_at`

func scanEntry(row pgx.Row) (accounting.JournalEntry, error) {
	var (
		e   accounting.JournalEntry
		key *string
	)
	err := row.Scan(&e.ID, &e.Reference, &e.Date, &e.Source, &e.SourceRef, &key, &e.PeriodID, &e.BatchID, &e.ReversalOf, &e.Status,
		&e.IsPosted, &e.Memo, &e.CreatedBy, &e.SubmittedBy, &e.ApprovedBy, &e.ApprovedAt, &e.RejectionReason, &e.PostedBy,
		&e.PostedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	e.Date = accounting.DateOnly(e.Date)
	if e.SourceKey, err = parseUUID(key); err != nil {
		return accounting.JournalEntry{}, fmt.Errorf("pgstore: entry %d source key: %w", e.ID, err)
	}
	return e, nil
}

func (t *tx) InsertEntry(ctx context.Context, e accounting.JournalEntry) (accounting.JournalEntry, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO journal_entries
(reference, entry_date, source, source_ref, source_key, period_id, batch_id, reversal_of, status, is_posted, memo, created_by)
VALUES ($1,$2,$3,$4,$5::uuid,$6,$7,$8,$9,$10,$11,$12) RETURNING `+entryColumns,
		e.Reference, e.Date, e.Source, e.SourceRef, nullUUID(e.SourceKey), e.PeriodID, e.BatchID, e.ReversalOf, e.Status, e.IsPosted, e.Memo, e.CreatedBy)
	created, err := scanEntry(row)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case "journal_entries_source_key_key":
				return accounting.JournalEntry{}, accounting.ErrDuplicateSourceKey
			case "journal_entries_reversal_of_key":
				return accounting.JournalEntry{}, accounting.ErrAlreadyReversed
			default:
				return accounting.JournalEntry{}, accounting.ErrDuplicateReference
			}
		}
		return accounting.JournalEntry{}, err
	}
	if err := t.insertLines(ctx, created.ID, e.Lines); err != nil {
		return accounting.JournalEntry{}, err
	}
	created.Lines, err = t.entryLines(ctx, created.ID)
	return created, err
}

func (t *tx) insertLines(ctx context.Context, entryID int64, lines []accounting.JournalLine) error {
	batch := &pgx.Batch{}
	for i, line := range lines {
		batch.Queue(`INSERT INTO journal_lines (entry_id, line_no, account_id, debit, credit, memo) VALUES ($1,$2,$3,$4::numeric,$5::numeric,$6)`,
			entryID, i+1, line.AccountID, numeric(line.Debit), numeric(line.Credit), line.Memo)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *tx) UpdateEntry(ctx context.Context, e accounting.JournalEntry) error {
	tag, err := t.tx.Exec(ctx, `UPDATE journal_entries SET entry_date=$2, period_id=$3, batch_id=$4, status=$5, is_posted=$6, memo=$7,
submitted_by=$8, approved_by=$9, approved_at=$10, rejection_reason=$11, posted_by=$12, posted_at=$13, updated_at=NOW()
WHERE id=$1`, e.ID, e.Date, e.PeriodID, e.BatchID, e.Status, e.IsPosted, e.Memo,
		e.SubmittedBy, e.ApprovedBy, e.ApprovedAt, e.RejectionReason, e.PostedBy, e.PostedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return accounting.ErrEntryNotFound
	}
	return nil
}

func (t *tx) ReplaceLines(ctx context.Context, entryID int64, lines []accounting.JournalLine) error {
	tag, err := t.tx.Exec(ctx, `UPDATE journal_entries SET updated_at=NOW() WHERE id=$1`, entryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return accounting.ErrEntryNotFound
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id=$1`, entryID); err != nil {
		return err
	}
	return t.insertLines(ctx, entryID, lines)
}

func (t *tx) getEntry(ctx context.Context, query string, args ...any) (accounting.JournalEntry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx, query, args...))
	if err != nil {
		return accounting.JournalEntry{}, notFound(err, accounting.ErrEntryNotFound)
	}
	e.Lines, err = t.entryLines(ctx, e.ID)
	return e, err
}

func (t *tx) GetEntry(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	return t.getEntry(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1`, id)
}

func (t *tx) GetEntryForUpdate(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	return t.getEntry(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 FOR UPDATE`, id)
}

func (t *tx) GetEntryBySourceKey(ctx context.Context, key uuid.UUID) (accounting.JournalEntry, error) {
	if key == uuid.Nil {
		return accounting.JournalEntry{}, accounting.ErrEntryNotFound
	}
	return t.getEntry(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE source_key=$1::uuid`, key.String())
}

func (t *tx) FindReversal(ctx context.Context, entryID int64) (accounting.JournalEntry, error) {
	return t.getEntry(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE reversal_of=$1`, entryID)
}

func (t *tx) ListEntries(ctx context.Context, filter accounting.EntryFilter) ([]accounting.JournalEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.PeriodID != nil {
		add("period_id=$%d", *filter.PeriodID)
	}
	if filter.Status != nil {
		add("status=$%d", *filter.Status)
	}
	if filter.Posted != nil {
		add("is_posted=$%d", *filter.Posted)
	}
	if filter.Source != nil {
		add("source=$%d", *filter.Source)
	}
	if !filter.From.IsZero() {
		add("entry_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("entry_date <= $%d", filter.To)
	}
	query := `SELECT ` + entryColumns + ` FROM journal_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY entry_date, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return t.listEntries(ctx, query, args...)
}

func (t *tx) ListBatchEntries(ctx context.Context, batchID int64) ([]accounting.JournalEntry, error) {
	return t.listEntries(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE batch_id=$1 ORDER BY id`, batchID)
}

func (t *tx) listEntries(ctx context.Context, query string, args ...any) ([]accounting.JournalEntry, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var (
		entries []accounting.JournalEntry
		ids     []int64
	)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
		ids = append(ids, e.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return entries, nil
	}
	lines, err := t.linesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Lines = lines[entries[i].ID]
	}
	return entries, nil
}

const lineColumns = `id, entry_id, line_no, account_id, debit::text, credit::text, memo`

func (t *tx) entryLines(ctx context.Context, entryID int64) ([]accounting.JournalLine, error) {
	lines, err := t.linesFor(ctx, []int64{entryID})
	if err != nil {
		return nil, err
	}
	return lines[entryID], nil
}

func (t *tx) linesFor(ctx context.Context, entryIDs []int64) (map[int64][]accounting.JournalLine, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+lineColumns+` FROM journal_lines WHERE entry_id = ANY($1) ORDER BY entry_id, line_no`, entryIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]accounting.JournalLine, len(entryIDs))
	for rows.Next() {
		var (
			line          accounting.JournalLine
			debit, credit string
		)
		if err := rows.Scan(&line.ID, &line.EntryID, &line.LineNo, &line.AccountID, &debit, &credit, &line.Memo); err != nil {
			return nil, err
		}
		if err := (decimals{&line.Debit, &line.Credit}).parse(debit, credit); err != nil {
			return nil, err
		}
		out[line.EntryID] = append(out[line.EntryID], line)
	}
	return out, rows.Err()
}

// CountUnpostedEntries counts entries in the period that could still post.
func (t *tx) CountUnpostedEntries(ctx context.Context, periodID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries WHERE period_id=$1 AND NOT is_posted AND status <> $2`,
		periodID, accounting.EntryStatusRejected).Scan(&count)
	return count, err
}

func (t *tx) PostedLines(ctx context.Context, filter accounting.PostedLineFilter) ([]accounting.PostedLine, error) {
	query := `SELECT e.id, e.reference, e.entry_date, e.period_id, l.account_id, l.debit::text, l.credit::text, l.memo, e.reversal_of
FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE e.is_posted`
	var args []any
	if filter.AccountID != 0 {
		args = append(args, filter.AccountID)
		query += fmt.Sprintf(" AND l.account_id=$%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND e.entry_date >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND e.entry_date <= $%d", len(args))
	}
	query += " ORDER BY e.entry_date, e.id, l.line_no"
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []accounting.PostedLine
	for rows.Next() {
		var (
			pl            accounting.PostedLine
			debit, credit string
		)
		if err := rows.Scan(&pl.EntryID, &pl.Reference, &pl.Date, &pl.PeriodID, &pl.AccountID, &debit, &credit, &pl.Memo, &pl.ReversalOf); err != nil {
			return nil, err
		}
		if err := (decimals{&pl.Debit, &pl.Credit}).parse(debit, credit); err != nil {
			return nil, err
		}
		pl.Date = accounting.DateOnly(pl.Date)
		out = append(out, pl)
	}
	return out, rows.Err()
}

const batchColumns = `id, number, batch_date, period_id, status, description, created_by, submitted_by, approved_by, approved_at,
rejection_reason, posted_by, posted_at, created_at, updated_at`

func scanBatch(row pgx.Row) (accounting.PostingBatch, error) {
	var b accounting.PostingBatch
	err := row.Scan(&b.ID, &b.Number, &b.BatchDate, &b.PeriodID, &b.Status, &b.Description, &b.CreatedBy, &b.SubmittedBy, &b.ApprovedBy,
		&b.ApprovedAt, &b.RejectionReason, &b.PostedBy, &b.PostedAt, &b.CreatedAt, &b.UpdatedAt)
	b.BatchDate = accounting.DateOnly(b.BatchDate)
	return b, err
}

func (t *tx) InsertBatch(ctx context.Context, b accounting.PostingBatch) (accounting.PostingBatch, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO posting_batches (number, batch_date, period_id, status, description, created_by)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+batchColumns, b.Number, b.BatchDate, b.PeriodID, b.Status, b.Description, b.CreatedBy)
	created, err := scanBatch(row)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return accounting.PostingBatch{}, accounting.ErrDuplicateBatchNumber
		}
		return accounting.PostingBatch{}, err
	}
	return created, nil
}

func (t *tx) UpdateBatch(ctx context.Context, b accounting.PostingBatch) error {
	tag, err := t.tx.Exec(ctx, `UPDATE posting_batches SET status=$2, description=$3, submitted_by=$4, approved_by=$5, approved_at=$6,
rejection_reason=$7, posted_by=$8, posted_at=$9, updated_at=NOW() WHERE id=$1`,
		b.ID, b.Status, b.Description, b.SubmittedBy, b.ApprovedBy, b.ApprovedAt, b.RejectionReason, b.PostedBy, b.PostedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return accounting.ErrBatchNotFound
	}
	return nil
}

func (t *tx) GetBatch(ctx context.Context, id int64) (accounting.PostingBatch, error) {
	b, err := scanBatch(t.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM posting_batches WHERE id=$1`, id))
	return b, notFound(err, accounting.ErrBatchNotFound)
}

func (t *tx) GetBatchForUpdate(ctx context.Context, id int64) (accounting.PostingBatch, error) {
	b, err := scanBatch(t.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM posting_batches WHERE id=$1 FOR UPDATE`, id))
	return b, notFound(err, accounting.ErrBatchNotFound)
}

const templateColumns = `id, code, name, frequency, custom_interval_days, debit_account_id, credit_account_id, amount::text, memo,
start_date, end_date, next_run_date, last_generated_date, generated_count, status, auto_post, created_by, created_at, updated_at`

func scanTemplate(row pgx.Row) (accounting.RecurringTemplate, error) {
	var (
		tpl    accounting.RecurringTemplate
		amount string
	)
	err := row.Scan(&tpl.ID, &tpl.Code, &tpl.Name, &tpl.Frequency, &tpl.CustomIntervalDays, &tpl.DebitAccountID, &tpl.CreditAccountID,
		&amount, &tpl.Memo, &tpl.StartDate, &tpl.EndDate, &tpl.NextRunDate, &tpl.LastGeneratedDate, &tpl.GeneratedCount, &tpl.Status,
		&tpl.AutoPost, &tpl.CreatedBy, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return accounting.RecurringTemplate{}, err
	}
	if tpl.Amount, err = parseNumeric(amount); err != nil {
		return accounting.RecurringTemplate{}, err
	}
	tpl.StartDate, tpl.NextRunDate = accounting.DateOnly(tpl.StartDate), accounting.DateOnly(tpl.NextRunDate)
	tpl.EndDate, tpl.LastGeneratedDate = dateOnly(tpl.EndDate), dateOnly(tpl.LastGeneratedDate)
	return tpl, nil
}

func (t *tx) InsertTemplate(ctx context.Context, tpl accounting.RecurringTemplate) (accounting.RecurringTemplate, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO recurring_templates
(code, name, frequency, custom_interval_days, debit_account_id, credit_account_id, amount, memo, start_date, end_date, next_run_date, status, auto_post, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8,$9,$10,$11,$12,$13,$14) RETURNING `+templateColumns,
		tpl.Code, tpl.Name, tpl.Frequency, tpl.CustomIntervalDays, tpl.DebitAccountID, tpl.CreditAccountID, numeric(tpl.Amount), tpl.Memo,
		tpl.StartDate, tpl.EndDate, tpl.NextRunDate, tpl.Status, tpl.AutoPost, tpl.CreatedBy)
	created, err := scanTemplate(row)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return accounting.RecurringTemplate{}, accounting.ErrDuplicateTemplateCode
		}
		return accounting.RecurringTemplate{}, err
	}
	return created, nil
}

func (t *tx) UpdateTemplate(ctx context.Context, tpl accounting.RecurringTemplate) error {
	tag, err := t.tx.Exec(ctx, `UPDATE recurring_templates SET name=$2, memo=$3, end_date=$4, next_run_date=$5, last_generated_date=$6,
generated_count=$7, status=$8, auto_post=$9, updated_at=NOW() WHERE id=$1`,
		tpl.ID, tpl.Name, tpl.Memo, tpl.EndDate, tpl.NextRunDate, tpl.LastGeneratedDate, tpl.GeneratedCount, tpl.Status, tpl.AutoPost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return accounting.ErrTemplateNotFound
	}
	return nil
}

func (t *tx) GetTemplateByCode(ctx context.Context, code string) (accounting.RecurringTemplate, error) {
	tpl, err := scanTemplate(t.tx.QueryRow(ctx, `SELECT `+templateColumns+` FROM recurring_templates WHERE upper(code)=upper($1)`, code))
	return tpl, notFound(err, accounting.ErrTemplateNotFound)
}

func (t *tx) GetTemplateForUpdate(ctx context.Context, id int64) (accounting.RecurringTemplate, error) {
	tpl, err := scanTemplate(t.tx.QueryRow(ctx, `SELECT `+templateColumns+` FROM recurring_templates WHERE id=$1 FOR UPDATE`, id))
	return tpl, notFound(err, accounting.ErrTemplateNotFound)
}

func (t *tx) ListTemplates(ctx context.Context) ([]accounting.RecurringTemplate, error) {
	return t.listTemplates(ctx, `SELECT `+templateColumns+` FROM recurring_templates ORDER BY code`)
}

func (t *tx) ListDueTemplates(ctx context.Context, asOf time.Time) ([]accounting.RecurringTemplate, error) {
	return t.listTemplates(ctx, `SELECT `+templateColumns+` FROM recurring_templates
WHERE status=$1 AND next_run_date <= $2 ORDER BY code`, accounting.TemplateStatusActive, asOf)
}

func (t *tx) listTemplates(ctx context.Context, query string, args ...any) ([]accounting.RecurringTemplate, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var templates []accounting.RecurringTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

const trialBalanceColumns = `id, period_id, generated_at, include_zero, status, total_debits::text, total_credits::text, is_balanced,
out_of_balance::text, net_income::text, finalized_at`

func (t *tx) GetCurrentTrialBalance(ctx context.Context, periodID int64) (accounting.TrialBalance, error) {
	var (
		tb                                  accounting.TrialBalance
		debits, credits, outOfBalance, net string
	)
	err := t.tx.QueryRow(ctx, `SELECT `+trialBalanceColumns+` FROM trial_balances
WHERE period_id=$1 AND status <> $2 ORDER BY id DESC LIMIT 1`, periodID, accounting.TrialBalanceStatusSuperseded).
		Scan(&tb.ID, &tb.PeriodID, &tb.GeneratedAt, &tb.IncludeZeroBalances, &tb.Status, &debits, &credits, &tb.IsBalanced,
			&outOfBalance, &net, &tb.FinalizedAt)
	if err != nil {
		return accounting.TrialBalance{}, notFound(err, accounting.ErrTrialBalanceNotFound)
	}
	if err := (decimals{&tb.TotalDebits, &tb.TotalCredits, &tb.OutOfBalanceAmount, &tb.NetIncome}).parse(debits, credits, outOfBalance, net); err != nil {
		return accounting.TrialBalance{}, err
	}
	tb.Lines, err = t.trialBalanceLines(ctx, tb.ID)
	return tb, err
}

func (t *tx) trialBalanceLines(ctx context.Context, id int64) ([]accounting.TrialBalanceLine, error) {
	rows, err := t.tx.Query(ctx, `SELECT account_id, account_code, account_name, account_type, normal_balance,
period_debits::text, period_credits::text, debit_balance::text, credit_balance::text, abnormal
FROM trial_balance_lines WHERE trial_balance_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []accounting.TrialBalanceLine
	for rows.Next() {
		var (
			line                    accounting.TrialBalanceLine
			pd, pc, debBal, credBal string
		)
		if err := rows.Scan(&line.AccountID, &line.AccountCode, &line.AccountName, &line.AccountType, &line.NormalBalance,
			&pd, &pc, &debBal, &credBal, &line.Abnormal); err != nil {
			return nil, err
		}
		if err := (decimals{&line.PeriodDebits, &line.PeriodCredits, &line.DebitBalance, &line.CreditBalance}).parse(pd, pc, debBal, credBal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// SaveTrialBalance supersedes the period's previous draft and stores tb as
// the current snapshot.
func (t *tx) SaveTrialBalance(ctx context.Context, tb accounting.TrialBalance) (accounting.TrialBalance, error) {
	if _, err := t.tx.Exec(ctx, `UPDATE trial_balances SET status=$2 WHERE period_id=$1 AND status=$3`,
		tb.PeriodID, accounting.TrialBalanceStatusSuperseded, accounting.TrialBalanceStatusDraft); err != nil {
		return accounting.TrialBalance{}, err
	}
	err := t.tx.QueryRow(ctx, `INSERT INTO trial_balances
(period_id, generated_at, include_zero, status, total_debits, total_credits, is_balanced, out_of_balance, net_income, finalized_at)
VALUES ($1,$2,$3,$4,$5::numeric,$6::numeric,$7,$8::numeric,$9::numeric,$10) RETURNING id`,
		tb.PeriodID, tb.GeneratedAt, tb.IncludeZeroBalances, tb.Status, numeric(tb.TotalDebits), numeric(tb.TotalCredits), tb.IsBalanced,
		numeric(tb.OutOfBalanceAmount), numeric(tb.NetIncome), tb.FinalizedAt).Scan(&tb.ID)
	if err != nil {
		return accounting.TrialBalance{}, err
	}
	batch := &pgx.Batch{}
	for i, line := range tb.Lines {
		batch.Queue(`INSERT INTO trial_balance_lines
(trial_balance_id, line_no, account_id, account_code, account_name, account_type, normal_balance,
 period_debits, period_credits, debit_balance, credit_balance, abnormal)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9::numeric,$10::numeric,$11::numeric,$12)`,
			tb.ID, i+1, line.AccountID, line.AccountCode, line.AccountName, line.AccountType, line.NormalBalance,
			numeric(line.PeriodDebits), numeric(line.PeriodCredits), numeric(line.DebitBalance), numeric(line.CreditBalance), line.Abnormal)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return accounting.TrialBalance{}, err
	}
	return tb, nil
}

func (t *tx) UpdateTrialBalanceStatus(ctx context.Context, id int64, status accounting.TrialBalanceStatus, at time.Time) error {
	var finalized *time.Time
	if status == accounting.TrialBalanceStatusFinalized {
		finalized = utc(&at)
	}
	tag, err := t.tx.Exec(ctx, `UPDATE trial_balances SET status=$2, finalized_at=COALESCE($3::timestamptz, finalized_at) WHERE id=$1`, id, status, finalized)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return accounting.ErrTrialBalanceNotFound
	}
	return nil
}

var _ accounting.Tx = (*tx)(nil)
