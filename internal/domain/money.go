package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places every stored amount carries.
const MoneyScale = 2

// Money is a fixed-point amount stored as BIGINT hundredths (paise) to avoid
// floating point errors.
type Money int64

// Round is the single rounding rule used for every computed amount: two decimal
// places, halves rounded away from zero (round-half-up for non-negative amounts).
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// MoneyFromDecimal rounds d with Round and converts it to hundredths.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money(Round(d).Shift(MoneyScale).IntPart())
}

// ParseMoney parses a decimal string. Inputs with more than two significant
// decimal places, or whose hundredths do not fit in an int64, are rejected
// rather than silently rounded or wrapped.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, Validationf("invalid amount %q", s)
	}
	return moneyFromExact(d)
}

func moneyFromExact(d decimal.Decimal) (Money, error) {
	if !d.Equal(Round(d)) {
		return 0, Validationf("amount %s has more than %d decimal places", d.String(), MoneyScale)
	}
	if !d.Shift(MoneyScale).BigInt().IsInt64() {
		return 0, Validationf("amount %s is out of range", d.String())
	}
	return MoneyFromDecimal(d), nil
}

// Decimal converts the hundredths back to a decimal value.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -MoneyScale)
}

// String renders the amount with exactly two decimals, e.g. "882.00".
func (m Money) String() string {
	return m.Decimal().StringFixed(MoneyScale)
}

func (m Money) IsPositive() bool { return m > 0 }

// MarshalJSON encodes the amount as a decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a decimal string ("12.50") or a JSON number (12.5).
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode amount: %w", err)
		}
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
