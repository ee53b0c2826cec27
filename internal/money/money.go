// Package money provides the fixed-point decimal type used for every
// price, amount, and PnL figure in mirrorbot. Nothing upstream of here is
// allowed to hold a bare float64 for money — parsing always goes through
// FromString or FromJSONNumber so a malformed API response fails loudly
// instead of silently rounding through float64.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

func init() {
	decimal.DivisionPrecision = 28
}

// Money is a fixed-point decimal amount. The zero value is 0.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{}

// FromString parses a decimal string such as "0.5432" or "-12". It rejects
// anything that isn't valid decimal notation — in particular it never
// round-trips through float64.
func FromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money.FromString: %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// FromJSONNumber parses a json.Number, the only sanctioned path for numeric
// JSON fields to enter the system. Use with `json.Decoder.UseNumber()`.
func FromJSONNumber(n json.Number) (Money, error) {
	return FromString(n.String())
}

// FromInt builds a Money from a whole number of units, e.g. FromInt(100)
// for 100 USDC.
func FromInt(i int64) Money {
	return Money{d: decimal.NewFromInt(i)}
}

// MustFromString is FromString but panics on error. Only safe for constants
// known at compile time (defaults, test fixtures).
func MustFromString(s string) Money {
	m, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) String() string { return m.d.String() }

// StringFixed renders m rounded half-up to dp decimal places.
func (m Money) StringFixed(dp int32) string {
	return m.d.StringFixed(dp)
}

func (m Money) Add(other Money) Money { return Money{d: m.d.Add(other.d)} }
func (m Money) Sub(other Money) Money { return Money{d: m.d.Sub(other.d)} }
func (m Money) Mul(other Money) Money { return Money{d: m.d.Mul(other.d)} }

// Div divides m by other. Callers on a hot path where other might be zero
// should prefer SafeDiv.
func (m Money) Div(other Money) Money { return Money{d: m.d.Div(other.d)} }

// SafeDiv divides m by other, returning fallback if other is zero instead
// of propagating a division-by-zero decimal (which would be +/-Inf-like).
func (m Money) SafeDiv(other, fallback Money) Money {
	if other.IsZero() {
		return fallback
	}
	return m.Div(other)
}

// Neg returns -m.
func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

// Abs returns |m|.
func (m Money) Abs() Money { return Money{d: m.d.Abs()} }

// Clamp restricts m to [lo, hi].
func (m Money) Clamp(lo, hi Money) Money {
	if m.LessThan(lo) {
		return lo
	}
	if m.GreaterThan(hi) {
		return hi
	}
	return m
}

// RoundHalfUp rounds to dp decimal places using half-up rounding, the
// convention used for every persisted amount.
func (m Money) RoundHalfUp(dp int32) Money {
	return Money{d: m.d.RoundHalfUp(dp)}
}

// Floor truncates toward negative infinity at dp decimal places. Used where
// rounding up would overspend — e.g. deriving a share count from a USDC
// notional before submitting an order.
func (m Money) Floor(dp int32) Money {
	shifted := m.d.Shift(dp)
	return Money{d: shifted.Floor().Shift(-dp)}
}

// IntPart returns the integer value of m with no fractional component,
// truncating toward zero. Callers that need base-unit (micro-USDC,
// micro-share) integers should Mul by the unit factor first.
func (m Money) IntPart() int64 {
	return m.d.IntPart()
}

func (m Money) IsZero() bool             { return m.d.IsZero() }
func (m Money) IsNegative() bool         { return m.d.IsNegative() }
func (m Money) IsPositive() bool         { return m.d.IsPositive() }
func (m Money) Equal(o Money) bool       { return m.d.Equal(o.d) }
func (m Money) LessThan(o Money) bool    { return m.d.LessThan(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThanOrEqual(o Money) bool    { return m.d.LessThanOrEqual(o.d) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.d.GreaterThanOrEqual(o.d) }

// Float64 exposes an approximate float64 for display/metrics purposes only.
// Never feed the result back into a Money computation.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

// MarshalJSON encodes as a JSON string, matching how the CLOB API itself
// serializes prices and sizes — never as a bare JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.d.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number, since some
// upstream endpoints use one or the other inconsistently.
func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("money.UnmarshalJSON: %q: %w", s, err)
		}
		m.d = d
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("money.UnmarshalJSON: %s: %w", b, err)
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return fmt.Errorf("money.UnmarshalJSON: %q: %w", n, err)
	}
	m.d = d
	return nil
}
