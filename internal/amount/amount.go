// Package amount parses and formats ledger amounts.
//
// Amounts are stored as integer decimal strings in base units. The display
// unit has 6 decimal places (1 unit = 1,000,000 base units). Parsing never
// goes through floating point.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const Decimals = 6

// MaxDigits bounds significant digits, matching the NUMERIC(78,0) ledger
// column. Every such value converts to a finite float64.
const MaxDigits = 78

var ErrInvalidAmount = errors.New("invalid amount")

// Unit is the number of base units in one display unit.
var Unit = big.NewInt(1_000_000)

// ParseError describes a rejected amount string.
type ParseError struct {
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid amount %q: %s", e.Value, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrInvalidAmount }

// Parse converts an integer decimal string (e.g. "2000000000") to a big.Int.
//
// Rules:
//   - Surrounding whitespace is ignored
//   - Empty input is rejected
//   - Signs, decimal points and any non-digit are rejected
//   - More than MaxDigits significant digits is rejected
func Parse(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, &ParseError{Value: s, Reason: "empty"}
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return nil, &ParseError{Value: s, Reason: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	if n := len(strings.TrimLeft(trimmed, "0")); n > MaxDigits {
		return nil, &ParseError{Value: s, Reason: fmt.Sprintf("%d digits exceeds the limit of %d", n, MaxDigits)}
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, &ParseError{Value: s, Reason: "not a base-10 integer"}
	}
	return v, nil
}

// MustParse is Parse for constants. It panics on bad input.
func MustParse(s string) *big.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsMultipleOf reports whether a is exactly divisible by m.
func IsMultipleOf(a, m *big.Int) bool {
	if a == nil || m == nil || m.Sign() == 0 {
		return false
	}
	return new(big.Int).Rem(a, m).Sign() == 0
}

// ToDisplay rescales base units to display units (a / 10^6).
func ToDisplay(a *big.Int) float64 {
	if a == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(a, -Decimals).Float64()
	return f
}

// Format renders base units as a display string with exactly 6 decimal
// places (e.g. "2000.000000").
func Format(a *big.Int) string {
	if a == nil {
		return "0.000000"
	}
	return decimal.NewFromBigInt(a, -Decimals).StringFixed(Decimals)
}

// Float returns the nearest float64 to a. Only used for statistics.
func Float(a *big.Int) float64 {
	if a == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(a).Float64()
	return f
}
