package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ASSET ACCESSORS
// =============================================================================

// String returns the value at key if it is a non-empty string.
func (a Asset) String(key string) (string, bool) {
	s, ok := a[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Address returns the value at key as an Address, or "" when absent.
func (a Asset) Address(key string) Address {
	s, _ := a.String(key)
	return Address(s)
}

// Float returns the value at key if it is a finite number.
func (a Asset) Float(key string) (float64, bool) {
	var f float64
	switch v := a[key].(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// maxDecimalExponent bounds the exponent of json.Number literals. Larger
// exponents are out of float64 range and make decimal arithmetic unbounded.
const maxDecimalExponent = 350

// Decimal returns the value at key as an exact decimal if it is a finite
// number. json.Number literals are converted without going through float64,
// but must still be within float64 range.
func (a Asset) Decimal(key string) (decimal.Decimal, bool) {
	switch v := a[key].(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, false
		}
		if exp := d.Exponent(); exp > maxDecimalExponent || exp < -maxDecimalExponent {
			return decimal.Zero, false
		}
		return d, true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(v)), 0), true
	case uint32:
		return decimal.NewFromInt(int64(v)), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0), true
	}
	f, ok := a.Float(key)
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

// Quantity returns the value at key as a Quantity.
func (a Asset) Quantity(key string) (Quantity, bool) {
	d, ok := a.Decimal(key)
	if !ok {
		return Quantity{}, false
	}
	return NewQuantityFromDecimal(d), true
}

// Amount returns the string value at key parsed as an Amount.
func (a Asset) Amount(key string) (Amount, bool) {
	s, ok := a.String(key)
	if !ok {
		return Amount{}, false
	}
	amt, err := ParseAmount(s)
	if err != nil {
		return Amount{}, false
	}
	return amt, true
}

// =============================================================================
// ASSET VALIDATOR - Accumulates every invalid field
// =============================================================================

// AssetValidator collects field errors for one transaction. It never stops at
// the first failure.
//
//	return ledger.NewAssetValidator(tx).
//		RequireString("marketId").
//		RequireFinite("latitude").
//		Errors()
type AssetValidator struct {
	tx   *Transaction
	errs FieldErrors
}

func NewAssetValidator(tx *Transaction) *AssetValidator {
	return &AssetValidator{tx: tx}
}

// RequireString rejects a missing, empty or non-string value.
func (v *AssetValidator) RequireString(key string) *AssetValidator {
	if _, ok := v.tx.Asset.String(key); !ok {
		v.add(key, "A string value")
	}
	return v
}

// RequireFinite rejects a missing, non-numeric, NaN or infinite value.
func (v *AssetValidator) RequireFinite(key string) *AssetValidator {
	if _, ok := v.tx.Asset.Float(key); !ok {
		v.add(key, "A number value")
	}
	return v
}

// RequireNonNegative is RequireFinite that also rejects negative numbers.
func (v *AssetValidator) RequireNonNegative(key string) *AssetValidator {
	d, ok := v.tx.Asset.Decimal(key)
	if !ok || d.IsNegative() {
		v.add(key, "A non-negative number value")
	}
	return v
}

// RequireAmount rejects anything but a string of decimal digits.
func (v *AssetValidator) RequireAmount(key string) *AssetValidator {
	if _, ok := v.tx.Asset.Amount(key); !ok {
		v.add(key, "A non-negative integer string")
	}
	return v
}

func (v *AssetValidator) Errors() FieldErrors {
	return v.errs
}

func (v *AssetValidator) add(key, expected string) {
	var value any
	if v.tx.Asset != nil {
		value = v.tx.Asset[key]
	}
	v.errs = append(v.errs, &FieldError{
		Message:       fmt.Sprintf("Invalid \"asset.%s\" defined on transaction", key),
		TransactionID: v.tx.ID,
		Field:         ".asset." + key,
		Value:         value,
		Expected:      expected,
	})
}
