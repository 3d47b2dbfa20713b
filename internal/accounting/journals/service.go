// Package journals implements the journal entry lifecycle: drafting,
// approval, posting and reversal. Posted entries are never mutated.
package journals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// Service orchestrates journal entry commands.
type Service struct {
	store   accounting.Store
	audit   accounting.AuditPort
	metrics accounting.MetricsPort
	now     func() time.Time
}

// NewService constructs the journal service. audit and metrics may be nil.
func NewService(store accounting.Store, audit accounting.AuditPort, metrics accounting.MetricsPort) *Service {
	return &Service{store: store, audit: audit, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateDraft stores a new Draft entry.
func (s *Service) CreateDraft(ctx context.Context, in DraftInput) (accounting.JournalEntry, error) {
	var entry accounting.JournalEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		entry, err = s.CreateDraftTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.record(ctx, in.ActorID, "journal.create", entry, nil)
	return entry, nil
}

// UpdateDraft replaces the memo and lines of a Draft entry and, when a date
// is given, moves it to the period covering that date.
func (s *Service) UpdateDraft(ctx context.Context, id int64, in UpdateInput) (accounting.JournalEntry, error) {
	if err := in.Validate(); err != nil {
		return accounting.JournalEntry{}, err
	}
	var entry accounting.JournalEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		entry, err = tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if entry.Status != accounting.EntryStatusDraft {
			return fmt.Errorf("%w: entry %s is %s", accounting.ErrInvalidTransition, entry.Reference, entry.Status)
		}
		resolved, err := resolveLines(ctx, tx, in.Lines)
		if err != nil {
			return err
		}
		if !in.Date.IsZero() {
			period, err := accounting.ResolvePeriod(ctx, tx, in.Date)
			if err != nil {
				return err
			}
			if entry.BatchID != nil && period.ID != entry.PeriodID {
				return accounting.Invalidf("entry %s belongs to batch %d and cannot move to period %s", entry.Reference, *entry.BatchID, period.Name)
			}
			entry.Date = accounting.DateOnly(in.Date)
			entry.PeriodID = period.ID
		}
		entry.Memo = strings.TrimSpace(in.Memo)
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, entry.ID, resolved); err != nil {
			return err
		}
		entry, err = tx.GetEntry(ctx, entry.ID)
		return err
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.record(ctx, in.ActorID, "journal.update", entry, nil)
	return entry, nil
}

// Discard abandons a Draft entry by marking it Rejected with reason, so it no
// longer counts as pending work for its period. Entries held by a batch must
// be removed from the batch first.
func (s *Service) Discard(ctx context.Context, id int64, reason, actorID string) (accounting.JournalEntry, error) {
	if strings.TrimSpace(reason) == "" {
		return accounting.JournalEntry{}, accounting.ErrReasonRequired
	}
	return s.command(ctx, "journal.discard", actorID, func(ctx context.Context, tx accounting.Tx) (accounting.JournalEntry, error) {
		entry, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return accounting.JournalEntry{}, err
		}
		if entry.Status != accounting.EntryStatusDraft || entry.IsPosted {
			return accounting.JournalEntry{}, accounting.TransitionError("journal entry "+entry.Reference, entry.Status, accounting.EntryStatusRejected)
		}
		if entry.BatchID != nil {
			return accounting.JournalEntry{}, fmt.Errorf("%w: entry %s belongs to batch %d", accounting.ErrInvalidTransition, entry.Reference, *entry.BatchID)
		}
		entry.Status = accounting.EntryStatusRejected
		entry.RejectionReason = strings.TrimSpace(reason)
		return entry, tx.UpdateEntry(ctx, entry)
	})
}

// Submit moves a balanced Draft into PendingApproval.
func (s *Service) Submit(ctx context.Context, id int64, actorID string) (accounting.JournalEntry, error) {
	return s.command(ctx, "journal.submit", actorID, func(ctx context.Context, tx accounting.Tx) (accounting.JournalEntry, error) {
		return s.SubmitTx(ctx, tx, id, actorID)
	})
}

// Approve accepts a PendingApproval entry.
func (s *Service) Approve(ctx context.Context, id int64, approver string) (accounting.JournalEntry, error) {
	return s.command(ctx, "journal.approve", approver, func(ctx context.Context, tx accounting.Tx) (accounting.JournalEntry, error) {
		return s.ApproveTx(ctx, tx, id, approver)
	})
}

// Reject declines a PendingApproval entry with a reason.
func (s *Service) Reject(ctx context.Context, id int64, reason, actorID string) (accounting.JournalEntry, error) {
	if strings.TrimSpace(reason) == "" {
		return accounting.JournalEntry{}, accounting.ErrReasonRequired
	}
	return s.command(ctx, "journal.reject", actorID, func(ctx context.Context, tx accounting.Tx) (accounting.JournalEntry, error) {
		entry, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return accounting.JournalEntry{}, err
		}
		if err := transition(&entry, accounting.EntryStatusRejected); err != nil {
			return accounting.JournalEntry{}, err
		}
		entry.RejectionReason = strings.TrimSpace(reason)
		return entry, tx.UpdateEntry(ctx, entry)
	})
}

// Revise returns a Rejected entry to Draft for correction.
func (s *Service) Revise(ctx context.Context, id int64, actorID string) (accounting.JournalEntry, error) {
	return s.command(ctx, "journal.revise", actorID, func(ctx context.Context, tx accounting.Tx) (accounting.JournalEntry, error) {
		entry, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return accounting.JournalEntry{}, err
		}
		if err := transition(&entry, accounting.EntryStatusDraft); err != nil {
			return accounting.JournalEntry{}, err
		}
		entry.SubmittedBy, entry.RejectionReason = "", ""
		return entry, tx.UpdateEntry(ctx, entry)
	})
}

// Post writes an Approved entry into the ledger. Posting an already posted
// entry returns it unchanged.
func (s *Service) Post(ctx context.Context, id int64, actorID string) (accounting.JournalEntry, error) {
	var (
		entry  accounting.JournalEntry
		posted bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		entry, posted, err = s.PostTx(ctx, tx, id, actorID, false)
		return err
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	if posted {
		s.RecordPosted(ctx, actorID, entry)
	}
	return entry, nil
}

// Reverse posts a mirror image of a posted entry.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (accounting.JournalEntry, error) {
	var reversal accounting.JournalEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		reversal, err = s.ReverseTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.RecordPosted(ctx, in.ActorID, reversal)
	return reversal, nil
}

// GetEntry loads an entry with its lines.
func (s *Service) GetEntry(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	var entry accounting.JournalEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		entry, err = tx.GetEntry(ctx, id)
		return err
	})
	return entry, err
}

// ListEntries returns entries matching filter ordered by date then id.
func (s *Service) ListEntries(ctx context.Context, filter accounting.EntryFilter) ([]accounting.JournalEntry, error) {
	var entries []accounting.JournalEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		entries, err = tx.ListEntries(ctx, filter)
		return err
	})
	return entries, err
}

// RecordPosted emits audit and metric events for entries committed by a caller's transaction.
func (s *Service) RecordPosted(ctx context.Context, actorID string, entries ...accounting.JournalEntry) {
	for _, entry := range entries {
		if s.metrics != nil {
			s.metrics.EntryPosted(string(entry.Source))
		}
		s.record(ctx, actorID, "journal.post", entry, map[string]any{
			"period_id": entry.PeriodID,
			"debits":    accounting.FormatAmount(entry.TotalDebits()),
		})
	}
}

func (s *Service) command(ctx context.Context, action, actorID string, fn func(context.Context, accounting.Tx) (accounting.JournalEntry, error)) (accounting.JournalEntry, error) {
	var entry accounting.JournalEntry
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		entry, err = fn(ctx, tx)
		return err
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.record(ctx, actorID, action, entry, nil)
	return entry, nil
}

func (s *Service) record(ctx context.Context, actorID, action string, entry accounting.JournalEntry, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["reference"] = entry.Reference
	meta["status"] = entry.Status
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entry.ID),
		Meta:     meta,
		At:       s.now(),
	})
}

func transition(entry *accounting.JournalEntry, next accounting.EntryStatus) error {
	if !entry.Status.CanTransition(next) {
		return accounting.TransitionError("journal entry "+entry.Reference, entry.Status, next)
	}
	entry.Status = next
	return nil
}

func resolveLines(ctx context.Context, tx accounting.Tx, lines []LineInput) ([]accounting.JournalLine, error) {
	out := make([]accounting.JournalLine, 0, len(lines))
	for i, line := range lines {
		var (
			account accounting.Account
			err     error
		)
		if line.AccountID != 0 {
			account, err = tx.GetAccount(ctx, line.AccountID)
		} else {
			account, err = tx.GetAccountByCode(ctx, strings.ToUpper(strings.TrimSpace(line.AccountCode)))
		}
		if err != nil {
			if errors.Is(err, accounting.ErrAccountNotFound) {
				return nil, fmt.Errorf("%w: line %d account %s", accounting.ErrAccountNotFound, i+1, lineAccount(line))
			}
			return nil, err
		}
		if !account.AllowDirectPosting() {
			return nil, fmt.Errorf("%w: line %d account %s", accounting.ErrAccountNotPostable, i+1, account.Code)
		}
		out = append(out, accounting.JournalLine{
			AccountID: account.ID,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Memo:      strings.TrimSpace(line.Memo),
		})
	}
	return out, nil
}

func lineAccount(line LineInput) string {
	if line.AccountID != 0 {
		return fmt.Sprintf("#%d", line.AccountID)
	}
	return line.AccountCode
}
