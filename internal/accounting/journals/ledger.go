package journals

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// LedgerLine is a posted line with the running balance after it.
type LedgerLine struct {
	accounting.PostedLine
	Balance decimal.Decimal
}

// AccountLedger lists the posted activity of one account over a date range.
// Balances are expressed on the account's normal side.
type AccountLedger struct {
	Account        accounting.Account
	From           time.Time
	To             time.Time
	OpeningBalance decimal.Decimal
	TotalDebits    decimal.Decimal
	TotalCredits   decimal.Decimal
	ClosingBalance decimal.Decimal
	Lines          []LedgerLine
}

// GetAccountLedger returns posted lines for code between from and to
// inclusive. A zero from starts at the first posting.
func (s *Service) GetAccountLedger(ctx context.Context, code string, from, to time.Time) (AccountLedger, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return AccountLedger{}, accounting.Invalidf("ledger range ends before it starts")
	}
	var out AccountLedger
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		account, err := tx.GetAccountByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
		if err != nil {
			return err
		}
		out = AccountLedger{Account: account, From: from, To: to}
		opening := decimal.Zero
		if !from.IsZero() {
			prior, err := tx.PostedLines(ctx, accounting.PostedLineFilter{AccountID: account.ID, To: accounting.DateOnly(from).AddDate(0, 0, -1)})
			if err != nil {
				return err
			}
			for _, line := range prior {
				opening = opening.Add(account.SignedBalance(line.Debit, line.Credit))
			}
		}
		lines, err := tx.PostedLines(ctx, accounting.PostedLineFilter{AccountID: account.ID, From: from, To: to})
		if err != nil {
			return err
		}
		out.OpeningBalance = opening
		out.TotalDebits, out.TotalCredits = decimal.Zero, decimal.Zero
		running := opening
		out.Lines = make([]LedgerLine, 0, len(lines))
		for _, line := range lines {
			running = running.Add(account.SignedBalance(line.Debit, line.Credit))
			out.TotalDebits = out.TotalDebits.Add(line.Debit)
			out.TotalCredits = out.TotalCredits.Add(line.Credit)
			out.Lines = append(out.Lines, LedgerLine{PostedLine: line, Balance: running})
		}
		out.ClosingBalance = running
		return nil
	})
	return out, err
}
