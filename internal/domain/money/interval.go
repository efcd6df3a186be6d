package money

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// IntervalUnit is the calendar unit of a billing interval.
type IntervalUnit string

const (
	UnitDay   IntervalUnit = "day"
	UnitWeek  IntervalUnit = "week"
	UnitMonth IntervalUnit = "month"
	UnitYear  IntervalUnit = "year"
)

// ParseUnit accepts singular or plural unit names in any case.
func ParseUnit(s string) (IntervalUnit, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case "day":
		return UnitDay, nil
	case "week":
		return UnitWeek, nil
	case "month":
		return UnitMonth, nil
	case "year":
		return UnitYear, nil
	}
	return "", fmt.Errorf("invalid interval unit %q", s)
}

// Interval is a billing period such as "every 3 months".
type Interval struct {
	Unit  IntervalUnit `json:"unit"`
	Count int          `json:"count"`
}

// Validate checks the unit and that Count is positive.
func (i Interval) Validate() error {
	switch i.Unit {
	case UnitDay, UnitWeek, UnitMonth, UnitYear:
	default:
		return fmt.Errorf("invalid interval unit %q", i.Unit)
	}
	if i.Count < 1 {
		return fmt.Errorf("interval count must be positive, got %d", i.Count)
	}
	return nil
}

// After returns t advanced by one interval.
func (i Interval) After(t time.Time) time.Time {
	return AddInterval(t, i.Unit, i.Count)
}

// String renders e.g. "1 month" or "3 weeks".
func (i Interval) String() string {
	if i.Count == 1 {
		return fmt.Sprintf("1 %s", i.Unit)
	}
	return fmt.Sprintf("%d %ss", i.Count, i.Unit)
}

// AddInterval adds count units to t with calendar arithmetic.
// Month and year overflow follow time.AddDate normalisation, so Jan 31 + 1 month is Mar 3 (or Mar 2 in leap years).
func AddInterval(t time.Time, unit IntervalUnit, count int) time.Time {
	switch unit {
	case UnitDay:
		return t.AddDate(0, 0, count)
	case UnitWeek:
		return t.AddDate(0, 0, 7*count)
	case UnitMonth:
		return t.AddDate(0, count, 0)
	case UnitYear:
		return t.AddDate(count, 0, 0)
	default:
		return t
	}
}

// MonthlyFactor is the multiplier that normalises one interval's amount to a month.
func (i Interval) MonthlyFactor() decimal.Decimal {
	return i.MonthlyAmount(decimal.NewFromInt(1))
}

// MonthlyAmount normalises amount charged once per interval to a month.
// It multiplies before dividing so whole ratios such as 120/12 stay exact.
func (i Interval) MonthlyAmount(amount decimal.Decimal) decimal.Decimal {
	if i.Count < 1 {
		return decimal.Zero
	}
	n := int64(i.Count)
	var num, den int64
	switch i.Unit {
	case UnitDay:
		num, den = 30, n
	case UnitWeek:
		num, den = 52, 12*n
	case UnitMonth:
		num, den = 1, n
	case UnitYear:
		num, den = 1, 12*n
	default:
		return decimal.Zero
	}
	return amount.Mul(decimal.NewFromInt(num)).Div(decimal.NewFromInt(den))
}
