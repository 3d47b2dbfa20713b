package journals

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// The Tx variants below run inside a caller-owned transaction so batches,
// the recurring generator and the close orchestrator share one pipeline.

// CreateDraftTx validates in and inserts a Draft entry.
func (s *Service) CreateDraftTx(ctx context.Context, tx accounting.Tx, in DraftInput) (accounting.JournalEntry, error) {
	in.Reference = strings.TrimSpace(in.Reference)
	if err := in.Validate(); err != nil {
		return accounting.JournalEntry{}, err
	}
	lines, err := resolveLines(ctx, tx, in.Lines)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	period, err := accounting.ResolvePeriod(ctx, tx, in.Date)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	source := in.Source
	if source == "" {
		source = accounting.EntrySourceManual
	}
	entry, err := tx.InsertEntry(ctx, accounting.JournalEntry{
		Reference:  in.Reference,
		Date:       accounting.DateOnly(in.Date),
		Source:     source,
		SourceRef:  in.SourceRef,
		SourceKey:  in.SourceKey,
		PeriodID:   period.ID,
		ReversalOf: in.ReversalOf,
		Status:     accounting.EntryStatusDraft,
		Memo:       strings.TrimSpace(in.Memo),
		CreatedBy:  in.ActorID,
		Lines:      lines,
	})
	if err != nil {
		if errors.Is(err, accounting.ErrDuplicateReference) {
			return accounting.JournalEntry{}, fmt.Errorf("%w: %s", accounting.ErrDuplicateReference, in.Reference)
		}
		return accounting.JournalEntry{}, err
	}
	return entry, nil
}

// SubmitTx checks balance and period state, then moves the entry to PendingApproval.
func (s *Service) SubmitTx(ctx context.Context, tx accounting.Tx, id int64, actorID string) (accounting.JournalEntry, error) {
	entry, err := tx.GetEntryForUpdate(ctx, id)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	if entry.Status != accounting.EntryStatusDraft {
		return accounting.JournalEntry{}, accounting.TransitionError("journal entry "+entry.Reference, entry.Status, accounting.EntryStatusPendingApproval)
	}
	if !entry.Balanced() {
		return accounting.JournalEntry{}, accounting.NewUnbalancedEntryError(entry)
	}
	period, err := accounting.ResolvePeriod(ctx, tx, entry.Date)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	if period.IsClosed {
		return accounting.JournalEntry{}, &accounting.PeriodClosedError{PeriodID: period.ID, PeriodName: period.Name, Date: entry.Date}
	}
	if err := checkPostable(ctx, tx, entry); err != nil {
		return accounting.JournalEntry{}, err
	}
	entry.PeriodID = period.ID
	entry.Status = accounting.EntryStatusPendingApproval
	entry.SubmittedBy = actorID
	return entry, tx.UpdateEntry(ctx, entry)
}

// ApproveTx accepts a PendingApproval entry.
func (s *Service) ApproveTx(ctx context.Context, tx accounting.Tx, id int64, approver string) (accounting.JournalEntry, error) {
	if strings.TrimSpace(approver) == "" {
		return accounting.JournalEntry{}, accounting.Invalidf("approver required")
	}
	entry, err := tx.GetEntryForUpdate(ctx, id)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	if err := transition(&entry, accounting.EntryStatusApproved); err != nil {
		return accounting.JournalEntry{}, err
	}
	now := s.now().UTC()
	entry.ApprovedBy, entry.ApprovedAt = approver, &now
	return entry, tx.UpdateEntry(ctx, entry)
}

// PostTx posts an Approved entry under a lock on its period row. The bool
// result is false when the entry was already posted. viaBatch is set by the
// batch manager, the only path allowed to post entries assigned to a batch.
func (s *Service) PostTx(ctx context.Context, tx accounting.Tx, id int64, actorID string, viaBatch bool) (accounting.JournalEntry, bool, error) {
	entry, err := tx.GetEntryForUpdate(ctx, id)
	if err != nil {
		return accounting.JournalEntry{}, false, err
	}
	if entry.IsPosted {
		return entry, false, nil
	}
	if entry.Status != accounting.EntryStatusApproved {
		return accounting.JournalEntry{}, false, fmt.Errorf("%w: entry %s is %s, not %s",
			accounting.ErrInvalidTransition, entry.Reference, entry.Status, accounting.EntryStatusApproved)
	}
	if entry.BatchID != nil && !viaBatch {
		return accounting.JournalEntry{}, false, fmt.Errorf("%w: entry %s batch %d", accounting.ErrEntryInUnpostedBatch, entry.Reference, *entry.BatchID)
	}
	period, err := tx.GetPeriodForUpdate(ctx, entry.PeriodID)
	if err != nil {
		return accounting.JournalEntry{}, false, err
	}
	if period.IsClosed {
		return accounting.JournalEntry{}, false, &accounting.PeriodClosedError{PeriodID: period.ID, PeriodName: period.Name, Date: entry.Date}
	}
	if !period.Contains(entry.Date) {
		return accounting.JournalEntry{}, false, fmt.Errorf("%w: entry %s dated outside period %s", accounting.ErrInvariantViolation, entry.Reference, period.Name)
	}
	if !entry.Balanced() {
		return accounting.JournalEntry{}, false, accounting.NewUnbalancedEntryError(entry)
	}
	if err := checkPostable(ctx, tx, entry); err != nil {
		return accounting.JournalEntry{}, false, err
	}
	now := s.now().UTC()
	entry.IsPosted = true
	entry.PostedAt = &now
	entry.PostedBy = actorID
	if err := tx.UpdateEntry(ctx, entry); err != nil {
		return accounting.JournalEntry{}, false, err
	}
	period.PostingVersion++
	if err := tx.UpdatePeriod(ctx, period); err != nil {
		return accounting.JournalEntry{}, false, err
	}
	return entry, true, nil
}

// CreateAndPostTx drives a system generated entry through the whole pipeline.
func (s *Service) CreateAndPostTx(ctx context.Context, tx accounting.Tx, in DraftInput) (accounting.JournalEntry, error) {
	entry, err := s.CreateDraftTx(ctx, tx, in)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	if _, err := s.SubmitTx(ctx, tx, entry.ID, in.ActorID); err != nil {
		return accounting.JournalEntry{}, err
	}
	if _, err := s.ApproveTx(ctx, tx, entry.ID, in.ActorID); err != nil {
		return accounting.JournalEntry{}, err
	}
	entry, _, err = s.PostTx(ctx, tx, entry.ID, in.ActorID, false)
	return entry, err
}

// ReverseTx creates and posts the mirror entry of a posted entry.
func (s *Service) ReverseTx(ctx context.Context, tx accounting.Tx, in ReverseInput) (accounting.JournalEntry, error) {
	original, err := tx.GetEntryForUpdate(ctx, in.EntryID)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	if !original.IsPosted {
		return accounting.JournalEntry{}, fmt.Errorf("%w: %s", accounting.ErrEntryNotPosted, original.Reference)
	}
	if original.ReversalOf != nil {
		return accounting.JournalEntry{}, fmt.Errorf("%w: %s", accounting.ErrReversalOfReversal, original.Reference)
	}
	if existing, err := tx.FindReversal(ctx, original.ID); err == nil {
		return accounting.JournalEntry{}, fmt.Errorf("%w: %s by %s", accounting.ErrAlreadyReversed, original.Reference, existing.Reference)
	} else if !errors.Is(err, accounting.ErrEntryNotFound) {
		return accounting.JournalEntry{}, err
	}
	period, err := tx.GetPeriod(ctx, original.PeriodID)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	if period.IsClosed {
		return accounting.JournalEntry{}, &accounting.PeriodClosedError{PeriodID: period.ID, PeriodName: period.Name, Date: original.Date}
	}

	date := original.Date
	if !in.Date.IsZero() {
		date = in.Date
	}
	memo := strings.TrimSpace(in.Memo)
	if memo == "" {
		memo = "Reversal of " + original.Reference
	}
	lines := make([]LineInput, 0, len(original.Lines))
	for _, line := range original.Lines {
		lines = append(lines, LineInput{AccountID: line.AccountID, Debit: line.Credit, Credit: line.Debit, Memo: line.Memo})
	}
	originalID := original.ID
	return s.CreateAndPostTx(ctx, tx, DraftInput{
		Reference:  "REV-" + original.Reference,
		Date:       date,
		Source:     accounting.EntrySourceReversal,
		SourceRef:  original.Reference,
		ReversalOf: &originalID,
		Memo:       memo,
		Lines:      lines,
		ActorID:    in.ActorID,
	})
}

func checkPostable(ctx context.Context, tx accounting.Tx, entry accounting.JournalEntry) error {
	for _, line := range entry.Lines {
		account, err := tx.GetAccount(ctx, line.AccountID)
		if err != nil {
			return err
		}
		if !account.AllowDirectPosting() {
			return fmt.Errorf("%w: entry %s line %d account %s", accounting.ErrAccountNotPostable, entry.Reference, line.LineNo, account.Code)
		}
	}
	return nil
}

