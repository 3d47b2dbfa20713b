// Package batches groups journal entries for joint approval and atomic posting.
package batches

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// CreateInput describes a new posting batch.
type CreateInput struct {
	Number      string `validate:"required,max=64"`
	BatchDate   time.Time
	PeriodID    *int64
	Description string `validate:"max=500"`
	ActorID     string
}

// Validate ensures the batch input is well formed.
func (in CreateInput) Validate() error {
	if err := accounting.ValidateStruct(in); err != nil {
		return err
	}
	if in.BatchDate.IsZero() {
		return accounting.Invalidf("batch date required")
	}
	return nil
}

// BatchView is a batch with its entries and totals computed on read.
type BatchView struct {
	Batch        accounting.PostingBatch
	Entries      []accounting.JournalEntry
	EntryCount   int
	TotalDebits  decimal.Decimal
	TotalCredits decimal.Decimal
}

// Service manages posting batches.
type Service struct {
	store    accounting.Store
	journals *journals.Service
	audit    accounting.AuditPort
	metrics  accounting.MetricsPort
	now      func() time.Time
}

// NewService constructs the batch service on top of the journal pipeline.
func NewService(store accounting.Store, journalSvc *journals.Service, audit accounting.AuditPort, metrics accounting.MetricsPort) *Service {
	return &Service{store: store, journals: journalSvc, audit: audit, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create opens a new batch.
func (s *Service) Create(ctx context.Context, in CreateInput) (accounting.PostingBatch, error) {
	in.Number = strings.TrimSpace(in.Number)
	if err := in.Validate(); err != nil {
		return accounting.PostingBatch{}, err
	}
	var batch accounting.PostingBatch
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		if in.PeriodID != nil {
			if _, err := tx.GetPeriod(ctx, *in.PeriodID); err != nil {
				return err
			}
		}
		var err error
		batch, err = tx.InsertBatch(ctx, accounting.PostingBatch{
			Number:      in.Number,
			BatchDate:   accounting.DateOnly(in.BatchDate),
			PeriodID:    in.PeriodID,
			Status:      accounting.BatchStatusOpen,
			Description: strings.TrimSpace(in.Description),
			CreatedBy:   in.ActorID,
		})
		if errors.Is(err, accounting.ErrDuplicateBatchNumber) {
			return fmt.Errorf("%w: %s", accounting.ErrDuplicateBatchNumber, in.Number)
		}
		return err
	})
	if err != nil {
		return accounting.PostingBatch{}, err
	}
	s.record(ctx, in.ActorID, "batch.create", batch, nil)
	return batch, nil
}

// AddEntry assigns an unposted entry to an Open batch.
func (s *Service) AddEntry(ctx context.Context, batchID, entryID int64, actorID string) error {
	var batch accounting.PostingBatch
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		batch, err = openBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		entry, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.IsPosted {
			return fmt.Errorf("%w: entry %s already posted", accounting.ErrStateConflict, entry.Reference)
		}
		if entry.BatchID != nil {
			if *entry.BatchID == batch.ID {
				return nil
			}
			return fmt.Errorf("%w: entry %s in batch %d", accounting.ErrEntryAlreadyBatched, entry.Reference, *entry.BatchID)
		}
		if batch.PeriodID != nil && entry.PeriodID != *batch.PeriodID {
			return accounting.Invalidf("entry %s belongs to period %d, batch to period %d", entry.Reference, entry.PeriodID, *batch.PeriodID)
		}
		id := batch.ID
		entry.BatchID = &id
		return tx.UpdateEntry(ctx, entry)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "batch.add_entry", batch, map[string]any{"entry_id": entryID})
	return nil
}

// RemoveEntry detaches an entry from an Open batch.
func (s *Service) RemoveEntry(ctx context.Context, batchID, entryID int64, actorID string) error {
	var batch accounting.PostingBatch
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		batch, err = openBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		entry, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.BatchID == nil || *entry.BatchID != batch.ID {
			return fmt.Errorf("%w: entry %s not in batch %s", accounting.ErrEntryNotFound, entry.Reference, batch.Number)
		}
		entry.BatchID = nil
		return tx.UpdateEntry(ctx, entry)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "batch.remove_entry", batch, map[string]any{"entry_id": entryID})
	return nil
}

// Submit moves a non-empty Open batch into PendingApproval.
func (s *Service) Submit(ctx context.Context, batchID int64, actorID string) (accounting.PostingBatch, error) {
	return s.command(ctx, "batch.submit", actorID, batchID, func(ctx context.Context, tx accounting.Tx, batch *accounting.PostingBatch) error {
		entries, err := tx.ListBatchEntries(ctx, batch.ID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("%w: %s", accounting.ErrBatchEmpty, batch.Number)
		}
		if err := transition(batch, accounting.BatchStatusPendingApproval); err != nil {
			return err
		}
		batch.SubmittedBy = actorID
		return nil
	})
}

// Approve accepts a PendingApproval batch. Contained entries keep their own approval state.
func (s *Service) Approve(ctx context.Context, batchID int64, approver string) (accounting.PostingBatch, error) {
	if strings.TrimSpace(approver) == "" {
		return accounting.PostingBatch{}, accounting.Invalidf("approver required")
	}
	return s.command(ctx, "batch.approve", approver, batchID, func(ctx context.Context, tx accounting.Tx, batch *accounting.PostingBatch) error {
		if err := transition(batch, accounting.BatchStatusApproved); err != nil {
			return err
		}
		now := s.now().UTC()
		batch.ApprovedBy, batch.ApprovedAt = approver, &now
		return nil
	})
}

// Reject declines a PendingApproval batch.
func (s *Service) Reject(ctx context.Context, batchID int64, reason, actorID string) (accounting.PostingBatch, error) {
	if strings.TrimSpace(reason) == "" {
		return accounting.PostingBatch{}, accounting.ErrReasonRequired
	}
	return s.command(ctx, "batch.reject", actorID, batchID, func(ctx context.Context, tx accounting.Tx, batch *accounting.PostingBatch) error {
		if err := transition(batch, accounting.BatchStatusRejected); err != nil {
			return err
		}
		batch.RejectionReason = strings.TrimSpace(reason)
		return nil
	})
}

// Reopen returns a Rejected batch to Open.
func (s *Service) Reopen(ctx context.Context, batchID int64, actorID string) (accounting.PostingBatch, error) {
	return s.command(ctx, "batch.reopen", actorID, batchID, func(ctx context.Context, tx accounting.Tx, batch *accounting.PostingBatch) error {
		if err := transition(batch, accounting.BatchStatusOpen); err != nil {
			return err
		}
		batch.SubmittedBy, batch.RejectionReason = "", ""
		return nil
	})
}

// PostBatch posts every entry of an Approved batch in one transaction,
// ordered by entry date then reference. Any failure aborts the whole batch.
// Posting a posted batch is a no-op.
func (s *Service) PostBatch(ctx context.Context, batchID int64, actorID string) (BatchView, error) {
	var (
		view   BatchView
		posted []accounting.JournalEntry
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		posted = nil
		batch, err := tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.Status == accounting.BatchStatusPosted {
			view, err = loadView(ctx, tx, batch)
			return err
		}
		if batch.Status != accounting.BatchStatusApproved {
			return accounting.TransitionError("batch "+batch.Number, batch.Status, accounting.BatchStatusPosted)
		}
		entries, err := tx.ListBatchEntries(ctx, batch.ID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("%w: %s", accounting.ErrBatchEmpty, batch.Number)
		}
		SortForPosting(entries)
		for _, entry := range entries {
			if reason, cause := precheck(entry); reason != "" {
				return &accounting.BatchValidationFailedError{BatchID: batch.ID, EntryID: entry.ID, Reason: reason, Err: cause}
			}
		}
		for _, entry := range entries {
			result, didPost, err := s.journals.PostTx(ctx, tx, entry.ID, actorID, true)
			if err != nil {
				return &accounting.BatchValidationFailedError{BatchID: batch.ID, EntryID: entry.ID, Reason: err.Error(), Err: err}
			}
			if didPost {
				posted = append(posted, result)
			}
		}
		if err := transition(&batch, accounting.BatchStatusPosted); err != nil {
			return err
		}
		now := s.now().UTC()
		batch.PostedBy, batch.PostedAt = actorID, &now
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return err
		}
		view, err = loadView(ctx, tx, batch)
		return err
	})
	if err != nil {
		return BatchView{}, err
	}
	if len(posted) > 0 {
		s.journals.RecordPosted(ctx, actorID, posted...)
		if s.metrics != nil {
			s.metrics.BatchPosted(len(posted))
		}
		s.record(ctx, actorID, "batch.post", view.Batch, map[string]any{"entries": len(posted)})
	}
	return view, nil
}

// Get loads a batch with its entries and totals.
func (s *Service) Get(ctx context.Context, batchID int64) (BatchView, error) {
	var view BatchView
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		batch, err := tx.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		view, err = loadView(ctx, tx, batch)
		return err
	})
	return view, err
}

// SortForPosting orders entries by date, then reference.
func SortForPosting(entries []accounting.JournalEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].Reference < entries[j].Reference
	})
}

func precheck(entry accounting.JournalEntry) (string, error) {
	if entry.IsPosted {
		return "", nil
	}
	if entry.Status != accounting.EntryStatusApproved {
		return fmt.Sprintf("entry %s is %s", entry.Reference, entry.Status), accounting.TransitionError("journal entry "+entry.Reference, entry.Status, accounting.EntryStatusApproved)
	}
	if !entry.Balanced() {
		err := accounting.NewUnbalancedEntryError(entry)
		return err.Error(), err
	}
	return "", nil
}

func openBatch(ctx context.Context, tx accounting.Tx, id int64) (accounting.PostingBatch, error) {
	batch, err := tx.GetBatchForUpdate(ctx, id)
	if err != nil {
		return accounting.PostingBatch{}, err
	}
	if batch.Status != accounting.BatchStatusOpen {
		return accounting.PostingBatch{}, fmt.Errorf("%w: %s is %s", accounting.ErrBatchNotOpen, batch.Number, batch.Status)
	}
	return batch, nil
}

func loadView(ctx context.Context, tx accounting.Tx, batch accounting.PostingBatch) (BatchView, error) {
	entries, err := tx.ListBatchEntries(ctx, batch.ID)
	if err != nil {
		return BatchView{}, err
	}
	SortForPosting(entries)
	view := BatchView{Batch: batch, Entries: entries, EntryCount: len(entries), TotalDebits: decimal.Zero, TotalCredits: decimal.Zero}
	for _, entry := range entries {
		view.TotalDebits = view.TotalDebits.Add(entry.TotalDebits())
		view.TotalCredits = view.TotalCredits.Add(entry.TotalCredits())
	}
	return view, nil
}

func transition(batch *accounting.PostingBatch, next accounting.BatchStatus) error {
	if !batch.Status.CanTransition(next) {
		return accounting.TransitionError("batch "+batch.Number, batch.Status, next)
	}
	batch.Status = next
	return nil
}

func (s *Service) command(ctx context.Context, action, actorID string, batchID int64, fn func(context.Context, accounting.Tx, *accounting.PostingBatch) error) (accounting.PostingBatch, error) {
	var batch accounting.PostingBatch
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		batch, err = tx.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &batch); err != nil {
			return err
		}
		return tx.UpdateBatch(ctx, batch)
	})
	if err != nil {
		return accounting.PostingBatch{}, err
	}
	s.record(ctx, actorID, action, batch, nil)
	return batch, nil
}

func (s *Service) record(ctx context.Context, actorID, action string, batch accounting.PostingBatch, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = batch.Number
	meta["status"] = batch.Status
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "posting_batch",
		EntityID: fmt.Sprintf("%d", batch.ID),
		Meta:     meta,
		At:       s.now(),
	})
}
