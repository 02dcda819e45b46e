package kafala

import "time"

// AlertAge is the age from which a beneficiary is flagged as approaching
// adulthood (and the end of sponsorship).
const AlertAge = 17.5

// CalculateAge returns the age in whole years at now. A birthday later in the
// current year does not count yet.
func CalculateAge(birthDate, now time.Time) int {
	if birthDate.IsZero() {
		return 0
	}
	by, bm, bd := birthDate.Date()
	ny, nm, nd := now.In(birthDate.Location()).Date()

	age := ny - by
	if nm < bm || (nm == bm && nd < bd) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// IsEligibleForAlert reports whether age has reached AlertAge.
func IsEligibleForAlert(age float64) bool {
	return age >= AlertAge
}
