// Package pgstore persists the ledger and close workflows in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	closepkg "github.com/odyssey-erp/odyssey-gl/internal/close"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// Store implements accounting.Store and close.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx runs fn in a RepeatableRead transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounting.Tx) error) error {
	return s.run(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

// CloseStore exposes the same pool through the close transaction interface.
func (s *Store) CloseStore() closepkg.Store {
	return closeStore{s: s}
}

type closeStore struct {
	s *Store
}

func (c closeStore) WithTx(ctx context.Context, fn func(context.Context, closepkg.Tx) error) error {
	return c.s.run(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

func (s *Store) run(ctx context.Context, fn func(context.Context, *tx) error) error {
	if s == nil || s.pool == nil {
		return errors.New("pgstore: store not initialised")
	}
	err := db.WithTx(ctx, s.pool, func(ctx context.Context, pgtx pgx.Tx) error {
		return fn(ctx, &tx{tx: pgtx})
	})
	return transient(err)
}

type tx struct {
	tx pgx.Tx
}

// transient classifies serialization and deadlock failures as retryable.
func transient(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", accounting.ErrTransient, pgErr.Message)
	}
	return err
}

// uniqueViolation returns the constraint name of a 23505 error.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

func numeric(d decimal.Decimal) string {
	return accounting.Round(d).StringFixed(accounting.CurrencyScale)
}

func parseNumeric(v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, fmt.Errorf("pgstore: parse numeric %q: %w", v, err)
	}
	return d, nil
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

func parseUUID(v *string) (uuid.UUID, error) {
	if v == nil || *v == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(*v)
}

func dateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := accounting.DateOnly(*t)
	return &d
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// decimals parses numeric text columns selected with a ::text cast.
type decimals []*decimal.Decimal

func (d decimals) parse(values ...string) error {
	for i, v := range values {
		parsed, err := parseNumeric(v)
		if err != nil {
			return err
		}
		*d[i] = parsed
	}
	return nil
}
