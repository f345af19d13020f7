package domain

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(10_500_000, "USD") // 10.50 USD
	d := m.ToDecimal()
	assert.Equal(t, "10.5", d.String())
}

func TestToMicros(t *testing.T) {
	d := decimal.NewFromFloat(10.50)
	assert.Equal(t, int64(10_500_000), ToMicros(d))
}

func TestToMicros_Negative(t *testing.T) {
	d := decimal.RequireFromString("-70.25")
	assert.Equal(t, int64(-70_250_000), ToMicros(d))
	assert.True(t, FromMicros(-70_250_000).Equal(d))
}

func TestHasValidScale(t *testing.T) {
	assert.True(t, HasValidScale(decimal.RequireFromString("0.000001")))
	assert.True(t, HasValidScale(decimal.RequireFromString("100")))
	assert.False(t, HasValidScale(decimal.RequireFromString("0.0000001")))
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "70.00 USD", NewMoney(70_000_000, "USD").String())
}

func TestFitsMicros(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{name: "zero", in: "0", want: true},
		{name: "max", in: "9223372036854.775807", want: true},
		{name: "min", in: "-9223372036854.775808", want: true},
		{name: "one_micro_over_max", in: "9223372036854.775808", want: false},
		{name: "one_micro_under_min", in: "-9223372036854.775809", want: false},
		{name: "ten_trillion", in: "10000000000000", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FitsMicros(decimal.RequireFromString(tc.in)))
		})
	}
}

func TestToMicros_Bounds(t *testing.T) {
	assert.Equal(t, int64(math.MaxInt64), ToMicros(MaxAmount))
	assert.True(t, FromMicros(ToMicros(MaxAmount)).Equal(MaxAmount))
	assert.False(t, FitsMicros(MaxAmount.Add(decimal.New(1, -MicrosScale))))
}
