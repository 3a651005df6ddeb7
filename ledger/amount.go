package ledger

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Token balance in the smallest unit
// =============================================================================

// Amount is a non-negative integer token amount of arbitrary precision.
// The zero value is a valid zero amount.
//
// Arithmetic never wraps: Sub returns ErrNegativeAmount rather than
// producing a negative value.
type Amount struct {
	v decimal.Decimal
}

// ZeroAmount is the additive identity.
var ZeroAmount = Amount{}

// NewAmount returns an Amount for a non-negative int64. Negative input panics;
// it is meant for constants and tests.
func NewAmount(n int64) Amount {
	if n < 0 {
		panic(fmt.Sprintf("ledger: negative amount %d", n))
	}
	return Amount{v: decimal.NewFromInt(n)}
}

// ParseAmount parses a base-10 string of digits, e.g. "500".
func ParseAmount(s string) (Amount, error) {
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return Amount{}, fmt.Errorf("%w: %q is not a non-negative integer", ErrInvalidAmount, s)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return Amount{v: d}, nil
}

// MustParseAmount is ParseAmount for literals known to be valid.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Add(b Amount) Amount { return Amount{v: a.v.Add(b.v)} }

// Sub returns a-b, or ErrNegativeAmount when b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.v.LessThan(b.v) {
		return a, fmt.Errorf("%w: %s - %s", ErrNegativeAmount, a, b)
	}
	return Amount{v: a.v.Sub(b.v)}, nil
}

func (a Amount) Cmp(b Amount) int { return a.v.Cmp(b.v) }
func (a Amount) Equal(b Amount) bool { return a.v.Equal(b.v) }
func (a Amount) LessThan(b Amount) bool { return a.v.LessThan(b.v) }
func (a Amount) IsZero() bool { return a.v.IsZero() }
func (a Amount) IsPositive() bool { return a.v.IsPositive() }
func (a Amount) Decimal() decimal.Decimal { return a.v }
func (a Amount) String() string { return a.v.String() }

// MarshalJSON encodes the amount as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.v.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	parsed, err := ParseAmount(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// =============================================================================
// QUANTITY - Exact product stock count
// =============================================================================

// Quantity counts product units. Values are exact decimals so that quantity
// accounting never accumulates floating point error.
type Quantity struct {
	v decimal.Decimal
}

func NewQuantity(n int64) Quantity { return Quantity{v: decimal.NewFromInt(n)} }

func NewQuantityFromDecimal(d decimal.Decimal) Quantity { return Quantity{v: d} }

func (q Quantity) Add(o Quantity) Quantity { return Quantity{v: q.v.Add(o.v)} }

// Sub returns q-o, or ErrInsufficientQuantity when o > q.
func (q Quantity) Sub(o Quantity) (Quantity, error) {
	if q.v.LessThan(o.v) {
		return q, fmt.Errorf("%w: %s - %s", ErrInsufficientQuantity, q, o)
	}
	return Quantity{v: q.v.Sub(o.v)}, nil
}

func (q Quantity) Cmp(o Quantity) int { return q.v.Cmp(o.v) }
func (q Quantity) Equal(o Quantity) bool { return q.v.Equal(o.v) }
func (q Quantity) LessThan(o Quantity) bool { return q.v.LessThan(o.v) }
func (q Quantity) IsNegative() bool { return q.v.IsNegative() }
func (q Quantity) Decimal() decimal.Decimal { return q.v }
func (q Quantity) String() string { return q.v.String() }

// MarshalJSON encodes the quantity as a bare JSON number.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.v.String()), nil
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	d, err := decimal.NewFromString(string(bytes.Trim(data, `"`)))
	if err != nil {
		return fmt.Errorf("ledger: invalid quantity %s: %w", data, err)
	}
	q.v = d
	return nil
}
