package generic

import (
	"time"
)

// =============================================================================
// MONTH - First-of-month calendar key (installments are keyed by month)
// =============================================================================

// Month is a calendar month, stored as midnight UTC on its first day.
// The zero value is not a valid month; use MonthOf or NewMonth.
type Month struct {
	t time.Time
}

// MonthLayout is the wire/storage format of a Month ("2006-01-02", always day 01).
const MonthLayout = "2006-01-02"

// NewMonth returns the given month of year.
func NewMonth(year int, month time.Month) Month {
	return Month{t: time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)}
}

// MonthOf returns the month containing t, read in t's own location.
func MonthOf(t time.Time) Month { return NewMonth(t.Year(), t.Month()) }

// ParseMonth accepts "2006-01-02" (any day, truncated), "2006-01" or RFC3339.
func ParseMonth(s string) (Month, error) {
	for _, layout := range []string{MonthLayout, "2006-01", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return MonthOf(t), nil
		}
	}
	_, err := time.Parse(MonthLayout, s)
	return Month{}, err
}

// Before reports whether m is earlier than other.
func (m Month) Before(other Month) bool { return m.t.Before(other.t) }

// After reports whether m is later than other.
func (m Month) After(other Month) bool { return m.t.After(other.t) }

// Equal reports whether m and other are the same month.
func (m Month) Equal(other Month) bool { return m.t.Equal(other.t) }

// BeforeOrEqual reports whether m is not later than other.
func (m Month) BeforeOrEqual(other Month) bool { return !m.After(other) }

// AddMonths returns the month n months later (earlier when n < 0).
func (m Month) AddMonths(n int) Month { return Month{t: m.t.AddDate(0, n, 0)} }

// Next returns the following month.
func (m Month) Next() Month { return m.AddMonths(1) }

// Time returns midnight UTC on the first day of the month.
func (m Month) Time() time.Time { return m.t }

// Year returns the calendar year.
func (m Month) Year() int { return m.t.Year() }

// MonthOfYear returns the month within its year.
func (m Month) MonthOfYear() time.Month { return m.t.Month() }

// IsZero reports whether m is the zero value.
func (m Month) IsZero() bool { return m.t.IsZero() }

// Key is the "YYYY-MM" bucket label used by reports.
func (m Month) Key() string { return m.t.Format("2006-01") }

// String renders the month as "2006-01-02".
func (m Month) String() string { return m.t.Format(MonthLayout) }

// MarshalText renders the month as "2006-01-02".
func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts any format ParseMonth accepts.
func (m *Month) UnmarshalText(b []byte) error {
	parsed, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MonthsBetween counts whole months from a to b (negative when b is earlier).
func MonthsBetween(a, b Month) int {
	return (b.Year()-a.Year())*12 + int(b.MonthOfYear()) - int(a.MonthOfYear())
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// EndOfMonth returns the last instant of the month containing t.
func EndOfMonth(t time.Time) time.Time {
	return MonthOf(t).Next().Time().Add(-time.Nanosecond)
}
