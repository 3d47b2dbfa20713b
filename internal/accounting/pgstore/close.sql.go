package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"

	closepkg "github.com/odyssey-erp/odyssey-gl/internal/close"
)

const closeColumns = `id, number, period_id, close_type, status, cycle, initiated_by, initiated_at, completed_by, completed_at,
reopened_by, reopened_at, reopen_reason, trial_balance_id, net_income_entry_id, notes, created_at, updated_at`

func scanClose(row pgx.Row) (closepkg.Close, error) {
	var c closepkg.Close
	err := row.Scan(&c.ID, &c.Number, &c.PeriodID, &c.Type, &c.Status, &c.Cycle, &c.InitiatedBy, &c.InitiatedAt, &c.CompletedBy,
		&c.CompletedAt, &c.ReopenedBy, &c.ReopenedAt, &c.ReopenReason, &c.TrialBalanceID, &c.NetIncomeEntryID, &c.Notes,
		&c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (t *tx) InsertClose(ctx context.Context, c closepkg.Close) (closepkg.Close, error) {
	created, err := scanClose(t.tx.QueryRow(ctx, `INSERT INTO fiscal_period_closes
(number, period_id, close_type, status, cycle, initiated_by, initiated_at, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+closeColumns,
		c.Number, c.PeriodID, c.Type, c.Status, c.Cycle, c.InitiatedBy, c.InitiatedAt, c.Notes))
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return closepkg.Close{}, closepkg.ErrCloseNumberExists
		}
		return closepkg.Close{}, err
	}
	for _, task := range c.Tasks {
		task.CloseID = created.ID
		err := t.tx.QueryRow(ctx, `INSERT INTO close_tasks (close_id, code, name, kind, required, sequence)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, task.CloseID, task.Code, task.Name, task.Kind, task.Required, task.Sequence).Scan(&task.ID)
		if err != nil {
			return closepkg.Close{}, err
		}
		created.Tasks = append(created.Tasks, task)
	}
	return created, nil
}

func (t *tx) UpdateClose(ctx context.Context, c closepkg.Close) error {
	tag, err := t.tx.Exec(ctx, `UPDATE fiscal_period_closes SET status=$2, cycle=$3, completed_by=$4, completed_at=$5, reopened_by=$6,
reopened_at=$7, reopen_reason=$8, trial_balance_id=$9, net_income_entry_id=$10, notes=$11, updated_at=NOW() WHERE id=$1`,
		c.ID, c.Status, c.Cycle, c.CompletedBy, c.CompletedAt, c.ReopenedBy, c.ReopenedAt, c.ReopenReason, c.TrialBalanceID,
		c.NetIncomeEntryID, c.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return closepkg.ErrCloseNotFound
	}
	return nil
}

func (t *tx) GetClose(ctx context.Context, id int64) (closepkg.Close, error) {
	return t.loadClose(ctx, `SELECT `+closeColumns+` FROM fiscal_period_closes WHERE id=$1`, id)
}

func (t *tx) GetCloseForUpdate(ctx context.Context, id int64) (closepkg.Close, error) {
	return t.loadClose(ctx, `SELECT `+closeColumns+` FROM fiscal_period_closes WHERE id=$1 FOR UPDATE`, id)
}

func (t *tx) GetLatestCloseForPeriod(ctx context.Context, periodID int64) (closepkg.Close, error) {
	return t.loadClose(ctx, `SELECT `+closeColumns+` FROM fiscal_period_closes WHERE period_id=$1 ORDER BY id DESC LIMIT 1`, periodID)
}

func (t *tx) loadClose(ctx context.Context, query string, args ...any) (closepkg.Close, error) {
	c, err := scanClose(t.tx.QueryRow(ctx, query, args...))
	if err != nil {
		return closepkg.Close{}, notFound(err, closepkg.ErrCloseNotFound)
	}
	if c.Tasks, err = t.closeTasks(ctx, c.ID); err != nil {
		return closepkg.Close{}, err
	}
	if c.Issues, err = t.closeIssues(ctx, c.ID); err != nil {
		return closepkg.Close{}, err
	}
	return c, nil
}

func (t *tx) closeTasks(ctx context.Context, closeID int64) ([]closepkg.Task, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, close_id, code, name, kind, required, sequence, complete, completed_cycle, completed_at,
completed_by, comment FROM close_tasks WHERE close_id=$1 ORDER BY sequence, id`, closeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []closepkg.Task
	for rows.Next() {
		var task closepkg.Task
		if err := rows.Scan(&task.ID, &task.CloseID, &task.Code, &task.Name, &task.Kind, &task.Required, &task.Sequence, &task.Complete,
			&task.CompletedCycle, &task.CompletedAt, &task.CompletedBy, &task.Comment); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (t *tx) closeIssues(ctx context.Context, closeID int64) ([]closepkg.ValidationIssue, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, close_id, code, description, severity, system, cycle, resolved, resolved_at, resolved_by,
resolution, created_at FROM close_validation_issues WHERE close_id=$1 ORDER BY id`, closeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var issues []closepkg.ValidationIssue
	for rows.Next() {
		var issue closepkg.ValidationIssue
		if err := rows.Scan(&issue.ID, &issue.CloseID, &issue.Code, &issue.Description, &issue.Severity, &issue.System, &issue.Cycle,
			&issue.Resolved, &issue.ResolvedAt, &issue.ResolvedBy, &issue.Resolution, &issue.CreatedAt); err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (t *tx) UpdateTasks(ctx context.Context, tasks []closepkg.Task) error {
	for _, task := range tasks {
		tag, err := t.tx.Exec(ctx, `UPDATE close_tasks SET complete=$3, completed_cycle=$4, completed_at=$5, completed_by=$6, comment=$7
WHERE id=$1 AND close_id=$2`, task.ID, task.CloseID, task.Complete, task.CompletedCycle, task.CompletedAt, task.CompletedBy, task.Comment)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return closepkg.ErrTaskNotFound
		}
	}
	return nil
}

func (t *tx) InsertIssue(ctx context.Context, issue closepkg.ValidationIssue) (closepkg.ValidationIssue, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO close_validation_issues (close_id, code, description, severity, system, cycle)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		issue.CloseID, issue.Code, issue.Description, issue.Severity, issue.System, issue.Cycle).Scan(&issue.ID, &issue.CreatedAt)
	if err != nil {
		return closepkg.ValidationIssue{}, err
	}
	return issue, nil
}

func (t *tx) UpdateIssue(ctx context.Context, issue closepkg.ValidationIssue) error {
	tag, err := t.tx.Exec(ctx, `UPDATE close_validation_issues SET resolved=$3, resolved_at=$4, resolved_by=$5, resolution=$6
WHERE id=$1 AND close_id=$2`, issue.ID, issue.CloseID, issue.Resolved, issue.ResolvedAt, issue.ResolvedBy, issue.Resolution)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return closepkg.ErrIssueNotFound
	}
	return nil
}

func (t *tx) DeleteSystemIssues(ctx context.Context, closeID int64, cycle int) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM close_validation_issues WHERE close_id=$1 AND system AND cycle=$2`, closeID, cycle)
	return err
}

var _ closepkg.Tx = (*tx)(nil)
