package generic

// =============================================================================
// PERIOD - Half-open range of months, the unit of schedule generation
// =============================================================================

// Period is the month range [Start, End). End is exclusive so that
// "from March until the end date's month" never includes the end month.
//
// Examples:
//   - Twelve months ahead of October 2026: [2026-10, 2027-10)
//   - Start and end in the same month: empty
//   - End before start: empty (not an error)
type Period struct {
	Start Month
	End   Month
}

// HorizonMonths is how far ahead open-ended schedules are generated.
const HorizonMonths = 12

// Horizon returns the exclusive end of the default schedule horizon for now.
func Horizon(now Month) Month {
	return now.AddMonths(HorizonMonths)
}

// IsEmpty is true when the period holds no month.
func (p Period) IsEmpty() bool {
	return !p.Start.Before(p.End)
}

// Contains returns true if m is within [Start, End).
func (p Period) Contains(m Month) bool {
	return !m.Before(p.Start) && m.Before(p.End)
}

// Months returns every month of the period in ascending order.
func (p Period) Months() []Month {
	if p.IsEmpty() {
		return nil
	}
	months := make([]Month, 0, MonthsBetween(p.Start, p.End))
	for current := p.Start; current.Before(p.End); current = current.Next() {
		months = append(months, current)
	}
	return months
}

// Len is the number of months in the period.
func (p Period) Len() int {
	if p.IsEmpty() {
		return 0
	}
	return MonthsBetween(p.Start, p.End)
}

// Clamp shrinks the period so that it ends no later than end.
func (p Period) Clamp(end Month) Period {
	if end.Before(p.End) {
		p.End = end
	}
	return p
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Key() + ", " + p.End.Key() + ")"
}
