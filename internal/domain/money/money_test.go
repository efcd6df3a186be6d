package money

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddInterval(t *testing.T) {
	base := time.Date(2026, time.January, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		unit  IntervalUnit
		count int
		want  time.Time
	}{
		{"one day", UnitDay, 1, time.Date(2026, time.January, 16, 10, 30, 0, 0, time.UTC)},
		{"two weeks", UnitWeek, 2, time.Date(2026, time.January, 29, 10, 30, 0, 0, time.UTC)},
		{"one month", UnitMonth, 1, time.Date(2026, time.February, 15, 10, 30, 0, 0, time.UTC)},
		{"quarter", UnitMonth, 3, time.Date(2026, time.April, 15, 10, 30, 0, 0, time.UTC)},
		{"one year", UnitYear, 1, time.Date(2027, time.January, 15, 10, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddInterval(base, tt.unit, tt.count))
		})
	}
}

func TestAddInterval_MonthOverflowNormalises(t *testing.T) {
	jan31 := time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC), AddInterval(jan31, UnitMonth, 1))

	leap := time.Date(2028, time.February, 29, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2029, time.March, 1, 0, 0, 0, 0, time.UTC), AddInterval(leap, UnitYear, 1))
}

func TestIntervalValidate(t *testing.T) {
	require.NoError(t, Interval{Unit: UnitMonth, Count: 1}.Validate())
	require.Error(t, Interval{Unit: UnitMonth, Count: 0}.Validate())
	require.Error(t, Interval{Unit: "fortnight", Count: 1}.Validate())
	require.Error(t, Interval{Unit: "months", Count: 1}.Validate())
}

func TestParseUnit(t *testing.T) {
	u, err := ParseUnit("Months")
	require.NoError(t, err)
	assert.Equal(t, UnitMonth, u)

	_, err = ParseUnit("decade")
	assert.Error(t, err)
}

func TestFormatMoney(t *testing.T) {
	amount := decimal.RequireFromString("1234567.5")

	tests := []struct {
		name     string
		currency string
		cfg      FormatConfig
		want     string
	}{
		{"default usd", "USD", DefaultFormat(), "$1,234,567.50"},
		{"euro style", "EUR", FormatConfig{DecimalSeparator: ",", ThousandSeparator: ".", Position: SymbolRightSpace}, "1.234.567,50 €"},
		{"left with space", "MYR", FormatConfig{DecimalSeparator: ".", ThousandSeparator: ",", Position: SymbolLeftSpace}, "RM 1,234,567.50"},
		{"right no space", "GBP", FormatConfig{DecimalSeparator: ".", ThousandSeparator: "", Position: SymbolRight}, "1234567.50£"},
		{"zero decimal", "JPY", DefaultFormat(), "¥1,234,568"},
		{"unknown symbol", "XYZ", DefaultFormat(), "XYZ1,234,567.50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMoney(amount, tt.currency, tt.cfg))
		})
	}
}

func TestFormatMoney_SmallAndNegative(t *testing.T) {
	assert.Equal(t, "$0.99", FormatMoney(decimal.RequireFromString("0.99"), "USD", DefaultFormat()))
	assert.Equal(t, "$-1,000.00", FormatMoney(decimal.NewFromInt(-1000), "usd", DefaultFormat()))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1999), MinorUnits(decimal.RequireFromString("19.99"), "USD"))
	assert.Equal(t, int64(500), MinorUnits(decimal.NewFromInt(500), "JPY"))
	assert.Equal(t, int64(1000), MinorUnits(decimal.RequireFromString("9.999"), "EUR"))
}

func TestValidateCurrency(t *testing.T) {
	require.NoError(t, ValidateCurrency("USD"))
	require.Error(t, ValidateCurrency("usd"))
	require.Error(t, ValidateCurrency("US"))
	require.Error(t, ValidateCurrency("USD1"))
}

func TestMonthlyFactor(t *testing.T) {
	assert.True(t, Interval{Unit: UnitMonth, Count: 1}.MonthlyFactor().Equal(decimal.NewFromInt(1)))
	assert.True(t, Interval{Unit: UnitDay, Count: 30}.MonthlyFactor().Equal(decimal.NewFromInt(1)))
	assert.True(t, Interval{Unit: UnitYear, Count: 1}.MonthlyFactor().Mul(decimal.NewFromInt(12)).Round(12).Equal(decimal.NewFromInt(1)))
	assert.True(t, Interval{Unit: UnitMonth, Count: 0}.MonthlyFactor().IsZero())
}

func TestMonthlyAmount(t *testing.T) {
	tests := []struct {
		name     string
		interval Interval
		amount   string
		want     string
	}{
		{"yearly", Interval{Unit: UnitYear, Count: 1}, "120.00", "10"},
		{"quarterly", Interval{Unit: UnitMonth, Count: 3}, "29.97", "9.99"},
		{"weekly", Interval{Unit: UnitWeek, Count: 1}, "6.00", "26"},
		{"daily", Interval{Unit: UnitDay, Count: 1}, "1.50", "45"},
		{"every two years", Interval{Unit: UnitYear, Count: 2}, "240", "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.interval.MonthlyAmount(decimal.RequireFromString(tt.amount))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}
