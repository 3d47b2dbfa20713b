package close

import (
	"context"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// Store runs close workflows in one transaction spanning the ledger and close tables.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Tx extends the ledger transaction with close persistence.
type Tx interface {
	accounting.Tx

	// InsertClose persists the header and its seeded tasks.
	InsertClose(ctx context.Context, c Close) (Close, error)
	UpdateClose(ctx context.Context, c Close) error
	GetClose(ctx context.Context, id int64) (Close, error)
	GetCloseForUpdate(ctx context.Context, id int64) (Close, error)
	GetLatestCloseForPeriod(ctx context.Context, periodID int64) (Close, error)
	UpdateTasks(ctx context.Context, tasks []Task) error
	InsertIssue(ctx context.Context, issue ValidationIssue) (ValidationIssue, error)
	UpdateIssue(ctx context.Context, issue ValidationIssue) error
	DeleteSystemIssues(ctx context.Context, closeID int64, cycle int) error
}
