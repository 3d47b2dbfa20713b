package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Error categories. Every ledger error matches exactly one of these with errors.Is.
var (
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("accounting: validation failed")
	// ErrInvariantViolation marks input that would break a ledger invariant.
	ErrInvariantViolation = errors.New("accounting: invariant violation")
	// ErrStateConflict marks commands that are invalid for the current state.
	ErrStateConflict = errors.New("accounting: state conflict")
	// ErrTransient marks storage or serialization failures that are safe to retry.
	ErrTransient = errors.New("accounting: transient failure")
	// ErrNotFound marks missing entities.
	ErrNotFound = errors.New("accounting: not found")
)

type ledgerError struct {
	msg  string
	kind error
}

func (e *ledgerError) Error() string { return e.msg }

func (e *ledgerError) Unwrap() error { return e.kind }

// NewError returns a sentinel that matches kind with errors.Is.
func NewError(kind error, msg string) error {
	return &ledgerError{msg: msg, kind: kind}
}

var (
	// ErrAccountNotFound indicates a missing account.
	ErrAccountNotFound = NewError(ErrNotFound, "accounting: account not found")
	// ErrPeriodNotFound indicates a missing accounting period.
	ErrPeriodNotFound = NewError(ErrNotFound, "accounting: period not found")
	// ErrEntryNotFound indicates a missing journal entry.
	ErrEntryNotFound = NewError(ErrNotFound, "accounting: journal entry not found")
	// ErrBatchNotFound indicates a missing posting batch.
	ErrBatchNotFound = NewError(ErrNotFound, "accounting: posting batch not found")
	// ErrTemplateNotFound indicates a missing recurring template.
	ErrTemplateNotFound = NewError(ErrNotFound, "accounting: recurring template not found")
	// ErrTrialBalanceNotFound indicates no current trial balance exists for a period.
	ErrTrialBalanceNotFound = NewError(ErrNotFound, "accounting: trial balance not found")

	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = NewError(ErrValidation, "accounting: journal requires at least two lines")
	// ErrInvalidLine indicates a line that is not exactly one positive side.
	ErrInvalidLine = NewError(ErrValidation, "accounting: line must carry exactly one non-zero side")
	// ErrAccountNotPostable indicates an inactive or control account used on a line.
	ErrAccountNotPostable = NewError(ErrValidation, "accounting: account does not accept direct postings")
	// ErrNoPeriodForDate indicates no accounting period covers the entry date.
	ErrNoPeriodForDate = NewError(ErrValidation, "accounting: no accounting period covers date")
	// ErrReasonRequired indicates a rejection or reopen without explanation.
	ErrReasonRequired = NewError(ErrValidation, "accounting: reason required")

	// ErrUnbalancedEntry indicates debit != credit.
	ErrUnbalancedEntry = NewError(ErrInvariantViolation, "accounting: journal lines must balance")
	// ErrControlAccountViolation indicates a posting against, or nesting under, a control-account rule breach.
	ErrControlAccountViolation = NewError(ErrInvariantViolation, "accounting: control account violation")
	// ErrInvalidHierarchy indicates a parent of an incompatible account type.
	ErrInvalidHierarchy = NewError(ErrInvariantViolation, "accounting: invalid account hierarchy")

	// ErrDuplicateCode indicates an account code already exists.
	ErrDuplicateCode = NewError(ErrStateConflict, "accounting: account code already exists")
	// ErrDuplicateReference indicates a journal reference already exists.
	ErrDuplicateReference = NewError(ErrStateConflict, "accounting: journal reference already exists")
	// ErrDuplicateSourceKey indicates an entry already exists for the idempotency key.
	ErrDuplicateSourceKey = NewError(ErrStateConflict, "accounting: source key already linked")
	// ErrDuplicatePeriod indicates the fiscal year, type and number already exist.
	ErrDuplicatePeriod = NewError(ErrStateConflict, "accounting: period already exists")
	// ErrDuplicateBatchNumber indicates a batch number already exists.
	ErrDuplicateBatchNumber = NewError(ErrStateConflict, "accounting: batch number already exists")
	// ErrDuplicateTemplateCode indicates a template code already exists.
	ErrDuplicateTemplateCode = NewError(ErrStateConflict, "accounting: template code already exists")
	// ErrPeriodOverlap indicates the requested period conflicts with an existing range.
	ErrPeriodOverlap = NewError(ErrStateConflict, "accounting: period overlaps existing range")
	// ErrPeriodClosed indicates the period no longer accepts postings.
	ErrPeriodClosed = NewError(ErrStateConflict, "accounting: period closed")
	// ErrHasActivePostings indicates an account with posted lines in an open period.
	ErrHasActivePostings = NewError(ErrStateConflict, "accounting: account has active postings")
	// ErrInvalidTransition indicates a workflow transition not allowed from the current state.
	ErrInvalidTransition = NewError(ErrStateConflict, "accounting: invalid status transition")
	// ErrEntryNotPosted indicates an operation that needs a posted entry.
	ErrEntryNotPosted = NewError(ErrStateConflict, "accounting: journal entry not posted")
	// ErrEntryInUnpostedBatch indicates a direct post of an entry owned by a batch.
	ErrEntryInUnpostedBatch = NewError(ErrStateConflict, "accounting: entry belongs to an unposted batch")
	// ErrEntryAlreadyBatched indicates the entry already belongs to a batch.
	ErrEntryAlreadyBatched = NewError(ErrStateConflict, "accounting: entry already assigned to a batch")
	// ErrAlreadyReversed indicates the entry already has a reversal.
	ErrAlreadyReversed = NewError(ErrStateConflict, "accounting: entry already reversed")
	// ErrReversalOfReversal indicates an attempt to reverse a reversing entry.
	ErrReversalOfReversal = NewError(ErrStateConflict, "accounting: reversing entries cannot be reversed")
	// ErrBatchNotOpen indicates the batch no longer accepts changes.
	ErrBatchNotOpen = NewError(ErrStateConflict, "accounting: batch not open")
	// ErrBatchEmpty indicates a batch submitted without entries.
	ErrBatchEmpty = NewError(ErrStateConflict, "accounting: batch has no entries")
	// ErrBatchValidationFailed indicates a batch entry that cannot be posted.
	ErrBatchValidationFailed = NewError(ErrStateConflict, "accounting: batch validation failed")
	// ErrTrialBalanceFinalized indicates the period trial balance is frozen.
	ErrTrialBalanceFinalized = NewError(ErrStateConflict, "accounting: trial balance finalized")
	// ErrTemplateInactive indicates the template is suspended or expired.
	ErrTemplateInactive = NewError(ErrStateConflict, "accounting: recurring template inactive")
)

// UnbalancedEntryError reports the totals of an entry whose sides differ.
type UnbalancedEntryError struct {
	EntryID int64
	Debits  decimal.Decimal
	Credits decimal.Decimal
	Delta   decimal.Decimal
}

// NewUnbalancedEntryError computes the delta as debits minus credits.
func NewUnbalancedEntryError(entry JournalEntry) *UnbalancedEntryError {
	debits, credits := entry.TotalDebits(), entry.TotalCredits()
	return &UnbalancedEntryError{EntryID: entry.ID, Debits: debits, Credits: credits, Delta: debits.Sub(credits)}
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("accounting: entry %d unbalanced: debits %s credits %s delta %s",
		e.EntryID, FormatAmount(e.Debits), FormatAmount(e.Credits), FormatAmount(e.Delta))
}

func (e *UnbalancedEntryError) Unwrap() error { return ErrUnbalancedEntry }

// PeriodClosedError identifies the closed period a posting resolved to.
type PeriodClosedError struct {
	PeriodID   int64
	PeriodName string
	Date       time.Time
}

func (e *PeriodClosedError) Error() string {
	return fmt.Sprintf("accounting: period %s (%d) is closed for date %s", e.PeriodName, e.PeriodID, e.Date.Format(time.DateOnly))
}

func (e *PeriodClosedError) Unwrap() error { return ErrPeriodClosed }

// BatchValidationFailedError names the first batch entry that blocked posting.
type BatchValidationFailedError struct {
	BatchID int64
	EntryID int64
	Reason  string
	Err     error
}

func (e *BatchValidationFailedError) Error() string {
	return fmt.Sprintf("accounting: batch %d entry %d: %s", e.BatchID, e.EntryID, e.Reason)
}

func (e *BatchValidationFailedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrBatchValidationFailed}
	}
	return []error{ErrBatchValidationFailed, e.Err}
}

// HasActivePostingsError reports how many lines prevent deactivation.
type HasActivePostingsError struct {
	AccountCode string
	Lines       int
}

func (e *HasActivePostingsError) Error() string {
	return fmt.Sprintf("accounting: account %s has %d active posted lines", e.AccountCode, e.Lines)
}

func (e *HasActivePostingsError) Unwrap() error { return ErrHasActivePostings }

// Invalidf wraps ErrValidation with a formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// TransitionError wraps ErrInvalidTransition with the attempted states.
func TransitionError[S ~string](entity string, from, to S) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, entity, from, to)
}

// Category returns the taxonomy sentinel err belongs to, or nil when unclassified.
func Category(err error) error {
	for _, kind := range []error{ErrTransient, ErrValidation, ErrInvariantViolation, ErrStateConflict, ErrNotFound} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
