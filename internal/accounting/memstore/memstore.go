// Package memstore provides an in-memory ledger store. Each transaction works
// on a copy of the state that replaces the committed state only when the
// transaction function succeeds, so failed commands leave no trace.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	closepkg "github.com/odyssey-erp/odyssey-gl/internal/close"
)

// Store is a process-local implementation of accounting.Store and close.Store.
// Transactions are serialised by a single mutex.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithNow overrides the clock used for timestamps.
func (s *Store) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithTx executes fn against a private copy of the state.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounting.Tx) error) error {
	return s.run(ctx, func(ctx context.Context, t *tx) error { return fn(ctx, t) })
}

// CloseStore exposes the same state through the close transaction interface.
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
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	draft := s.state.clone()
	if err := fn(ctx, &tx{st: draft, now: s.now}); err != nil {
		return err
	}
	s.state = draft
	return nil
}

type state struct {
	seq           map[string]int64
	accounts      map[int64]accounting.Account
	periods       map[int64]accounting.Period
	entries       map[int64]accounting.JournalEntry
	batches       map[int64]accounting.PostingBatch
	templates     map[int64]accounting.RecurringTemplate
	trialBalances map[int64]accounting.TrialBalance
	closes        map[int64]closepkg.Close
}

func newState() *state {
	return &state{
		seq:           map[string]int64{},
		accounts:      map[int64]accounting.Account{},
		periods:       map[int64]accounting.Period{},
		entries:       map[int64]accounting.JournalEntry{},
		batches:       map[int64]accounting.PostingBatch{},
		templates:     map[int64]accounting.RecurringTemplate{},
		trialBalances: map[int64]accounting.TrialBalance{},
		closes:        map[int64]closepkg.Close{},
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.seq {
		out.seq[k] = v
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.periods {
		out.periods[k] = v
	}
	for k, v := range s.entries {
		out.entries[k] = copyEntry(v)
	}
	for k, v := range s.batches {
		out.batches[k] = v
	}
	for k, v := range s.templates {
		out.templates[k] = v
	}
	for k, v := range s.trialBalances {
		out.trialBalances[k] = copyTrialBalance(v)
	}
	for k, v := range s.closes {
		out.closes[k] = copyClose(v)
	}
	return out
}

func (s *state) next(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

func copyEntry(e accounting.JournalEntry) accounting.JournalEntry {
	e.Lines = append([]accounting.JournalLine(nil), e.Lines...)
	return e
}

func copyTrialBalance(tb accounting.TrialBalance) accounting.TrialBalance {
	tb.Lines = append([]accounting.TrialBalanceLine(nil), tb.Lines...)
	return tb
}

func copyClose(c closepkg.Close) closepkg.Close {
	c.Tasks = append([]closepkg.Task(nil), c.Tasks...)
	c.Issues = append([]closepkg.ValidationIssue(nil), c.Issues...)
	return c
}

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) stamp() time.Time {
	return t.now().UTC()
}
