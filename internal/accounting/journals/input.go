package journals

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// LineInput is a draft journal line. Either AccountID or AccountCode identifies the account.
type LineInput struct {
	AccountID   int64
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Memo        string
}

// DraftInput describes a new journal entry.
type DraftInput struct {
	Reference  string `validate:"required,max=64"`
	Date       time.Time
	Source     accounting.EntrySource
	SourceRef  string
	SourceKey  uuid.UUID
	ReversalOf *int64
	Memo       string `validate:"max=500"`
	Lines      []LineInput
	ActorID    string
}

// Validate checks input shape. Balance is not checked so drafts can be edited unbalanced.
func (in DraftInput) Validate() error {
	if err := accounting.ValidateStruct(in); err != nil {
		return err
	}
	if in.Date.IsZero() {
		return accounting.Invalidf("entry date required")
	}
	if in.Source != "" && !in.Source.Valid() {
		return accounting.Invalidf("entry source %q", in.Source)
	}
	return validateLines(in.Lines)
}

func validateLines(lines []LineInput) error {
	if len(lines) < 2 {
		return accounting.ErrTooFewLines
	}
	for i, line := range lines {
		if line.AccountID == 0 && strings.TrimSpace(line.AccountCode) == "" {
			return fmt.Errorf("%w: line %d has no account", accounting.ErrInvalidLine, i+1)
		}
		if err := accounting.CheckAmount(line.Debit); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		if err := accounting.CheckAmount(line.Credit); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return fmt.Errorf("%w: line %d", accounting.ErrInvalidLine, i+1)
		}
	}
	return nil
}

// UpdateInput replaces the editable fields of a Draft entry. A zero Date keeps
// the current date.
type UpdateInput struct {
	Memo    string `validate:"max=500"`
	Date    time.Time
	Lines   []LineInput
	ActorID string
}

// Validate checks input shape.
func (in UpdateInput) Validate() error {
	if err := accounting.ValidateStruct(in); err != nil {
		return err
	}
	return validateLines(in.Lines)
}

// ReverseInput requests a reversal of a posted entry. A zero Date reuses the original date.
type ReverseInput struct {
	EntryID int64
	Date    time.Time
	Memo    string
	ActorID string
}
