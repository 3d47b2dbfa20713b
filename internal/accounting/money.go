package accounting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyScale is the number of minor-unit digits carried by ledger amounts.
const CurrencyScale int32 = 2

// Round rounds d to the currency scale.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyScale)
}

// CheckAmount rejects negative amounts and amounts finer than the minor unit.
func CheckAmount(d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("%w: amount %s is negative", ErrValidation, d.String())
	}
	if !d.Equal(Round(d)) {
		return fmt.Errorf("%w: amount %s exceeds %d decimal places", ErrValidation, d.String(), CurrencyScale)
	}
	return nil
}

// ParseAmount parses a textual amount and enforces CheckAmount.
func ParseAmount(v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", ErrValidation, v)
	}
	if err := CheckAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// FormatAmount renders d with exactly CurrencyScale decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(CurrencyScale)
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func normaliseEnum(v string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(v), "-", "_"))
}
