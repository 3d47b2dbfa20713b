package memstore

import (
	"context"

	closepkg "github.com/odyssey-erp/odyssey-gl/internal/close"
)

func (t *tx) InsertClose(ctx context.Context, c closepkg.Close) (closepkg.Close, error) {
	for _, existing := range t.st.closes {
		if existing.Number == c.Number {
			return closepkg.Close{}, closepkg.ErrCloseNumberExists
		}
	}
	now := t.stamp()
	c.ID = t.st.next("fiscal_period_closes")
	c.CreatedAt, c.UpdatedAt = now, now
	c = copyClose(c)
	for i := range c.Tasks {
		c.Tasks[i].ID = t.st.next("close_tasks")
		c.Tasks[i].CloseID = c.ID
	}
	t.st.closes[c.ID] = c
	return copyClose(c), nil
}

func (t *tx) UpdateClose(ctx context.Context, c closepkg.Close) error {
	current, ok := t.st.closes[c.ID]
	if !ok {
		return closepkg.ErrCloseNotFound
	}
	c.Tasks = current.Tasks
	c.Issues = current.Issues
	c.CreatedAt = current.CreatedAt
	c.UpdatedAt = t.stamp()
	t.st.closes[c.ID] = c
	return nil
}

func (t *tx) GetClose(ctx context.Context, id int64) (closepkg.Close, error) {
	c, ok := t.st.closes[id]
	if !ok {
		return closepkg.Close{}, closepkg.ErrCloseNotFound
	}
	return copyClose(c), nil
}

func (t *tx) GetCloseForUpdate(ctx context.Context, id int64) (closepkg.Close, error) {
	return t.GetClose(ctx, id)
}

func (t *tx) GetLatestCloseForPeriod(ctx context.Context, periodID int64) (closepkg.Close, error) {
	var latest closepkg.Close
	found := false
	for _, c := range t.st.closes {
		if c.PeriodID == periodID && (!found || c.ID > latest.ID) {
			latest, found = c, true
		}
	}
	if !found {
		return closepkg.Close{}, closepkg.ErrCloseNotFound
	}
	return copyClose(latest), nil
}

func (t *tx) UpdateTasks(ctx context.Context, tasks []closepkg.Task) error {
	for _, task := range tasks {
		c, ok := t.st.closes[task.CloseID]
		if !ok {
			return closepkg.ErrCloseNotFound
		}
		updated := false
		for i := range c.Tasks {
			if c.Tasks[i].ID == task.ID {
				c.Tasks[i] = task
				updated = true
			}
		}
		if !updated {
			return closepkg.ErrTaskNotFound
		}
		t.st.closes[c.ID] = c
	}
	return nil
}

func (t *tx) InsertIssue(ctx context.Context, issue closepkg.ValidationIssue) (closepkg.ValidationIssue, error) {
	c, ok := t.st.closes[issue.CloseID]
	if !ok {
		return closepkg.ValidationIssue{}, closepkg.ErrCloseNotFound
	}
	issue.ID = t.st.next("close_validation_issues")
	issue.CreatedAt = t.stamp()
	c.Issues = append(c.Issues, issue)
	t.st.closes[c.ID] = c
	return issue, nil
}

func (t *tx) UpdateIssue(ctx context.Context, issue closepkg.ValidationIssue) error {
	c, ok := t.st.closes[issue.CloseID]
	if !ok {
		return closepkg.ErrCloseNotFound
	}
	for i := range c.Issues {
		if c.Issues[i].ID == issue.ID {
			c.Issues[i] = issue
			t.st.closes[c.ID] = c
			return nil
		}
	}
	return closepkg.ErrIssueNotFound
}

func (t *tx) DeleteSystemIssues(ctx context.Context, closeID int64, cycle int) error {
	c, ok := t.st.closes[closeID]
	if !ok {
		return closepkg.ErrCloseNotFound
	}
	kept := c.Issues[:0]
	for _, issue := range c.Issues {
		if issue.System && issue.Cycle == cycle {
			continue
		}
		kept = append(kept, issue)
	}
	c.Issues = kept
	t.st.closes[closeID] = c
	return nil
}
