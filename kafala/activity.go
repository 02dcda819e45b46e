package kafala

import "time"

// IsActive is the single "active sponsorship" rule: no end date, or an end
// date strictly after now. A sponsorship closed with a future end date is
// still active today.
func IsActive(endDate *time.Time, now time.Time) bool {
	if endDate == nil {
		return true
	}
	return endDate.After(now)
}
