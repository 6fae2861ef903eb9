package models

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in the smallest currency unit (cents).
// It is stored as a BIGINT and travels as exact decimal text ("150.00").
type Amount int64

// AmountScale is the number of fractional digits carried by an Amount.
const AmountScale = 2

var (
	ErrAmountSyntax    = errors.New("amount is not a decimal number")
	ErrAmountPrecision = errors.New("amount has more than 2 decimal places")
	ErrAmountRange     = errors.New("amount out of range")
)

// maxAmount keeps sums of two balances inside int64 and matches numeric(15,2).
var maxAmount = decimal.New(1, 13)

// ParseAmount converts decimal text such as "12.5" or "-3.10" into an Amount.
// Thousands separators are not accepted.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrAmountSyntax
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrAmountSyntax
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal rejects values that cannot be represented exactly in cents.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	if d.Abs().GreaterThanOrEqual(maxAmount) {
		return 0, ErrAmountRange
	}
	cents := d.Shift(AmountScale)
	if !cents.IsInteger() {
		return 0, ErrAmountPrecision
	}
	return Amount(cents.IntPart()), nil
}

// MustAmount is ParseAmount for literals in tests and seeds.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(fmt.Sprintf("models.MustAmount(%q): %v", s, err))
	}
	return a
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -AmountScale)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(AmountScale)
}

func (a Amount) Neg() Amount { return -a }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts both "12.34" and 12.34; the number form is parsed
// from its source text, never through float64.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		b = b[1 : len(b)-1]
	}
	v, err := ParseAmount(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
