package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// MicrosScale is the number of fractional digits persisted for amounts.
// Balances are stored as BIGINT micros (10^-6) to avoid floating point errors.
const MicrosScale = 6

var (
	microsFactor = decimal.NewFromInt(1_000_000)
	maxMicros    = decimal.NewFromInt(math.MaxInt64)
	minMicros    = decimal.NewFromInt(math.MinInt64)
)

// MaxAmount is the largest value representable as int64 micros.
var MaxAmount = FromMicros(math.MaxInt64)

// Money represents a monetary value in a specific currency.
type Money struct {
	Amount   int64  // micros
	Currency string // ISO 4217
}

// NewMoney creates a new Money instance from micros.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return FromMicros(m.Amount)
}

// ToMicros converts a decimal.Decimal to int64 micros, truncating any
// precision beyond MicrosScale. Values outside FitsMicros wrap.
func ToMicros(d decimal.Decimal) int64 {
	return d.Mul(microsFactor).IntPart()
}

// FromMicros converts int64 micros back to a decimal.Decimal.
func FromMicros(micros int64) decimal.Decimal {
	return decimal.NewFromInt(micros).Div(microsFactor)
}

// FitsMicros reports whether d converts to int64 micros without overflow.
func FitsMicros(d decimal.Decimal) bool {
	m := d.Mul(microsFactor).Truncate(0)
	return m.Cmp(minMicros) >= 0 && m.Cmp(maxMicros) <= 0
}

// HasValidScale reports whether d can be stored as micros without losing precision.
func HasValidScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MicrosScale))
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}
