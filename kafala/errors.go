package kafala

import (
	"fmt"

	"github.com/warp/kafala-engine/generic"
)

// =============================================================================
// DOMAIN ERRORS
// =============================================================================

var (
	// ErrNoActiveSponsorship is returned when a sponsor has nothing to allocate to.
	ErrNoActiveSponsorship = fmt.Errorf("%w: no active sponsorship for this sponsor", generic.ErrValidation)

	// ErrSponsorRequired is returned for a KAFALA payment without a sponsor.
	ErrSponsorRequired = fmt.Errorf("%w: a sponsor is required for a KAFALA payment", generic.ErrValidation)

	// ErrForbiddenPaymentFields is returned for a KAFALA payment naming a
	// beneficiary or guardian: the allocation carries that breakdown.
	ErrForbiddenPaymentFields = fmt.Errorf("%w: beneficiary and guardian are not allowed on a KAFALA payment", generic.ErrValidation)

	// ErrSponsorshipHasPayments is returned when deleting a sponsorship whose
	// installments already received money. Close it instead.
	ErrSponsorshipHasPayments = fmt.Errorf("%w: sponsorship has paid installments", generic.ErrConflict)

	// ErrRescheduleDropsPayments is returned when new dates would leave a
	// partly paid installment outside the schedule.
	ErrRescheduleDropsPayments = fmt.Errorf("%w: new dates exclude partly paid installments", generic.ErrConflict)

	// ErrActiveSponsorshipExists is the class of ActiveSponsorshipError.
	ErrActiveSponsorshipExists = fmt.Errorf("%w: an active sponsorship already exists for this beneficiary", generic.ErrConflict)
)

// ActiveSponsorshipError reports the sponsorship that blocks a new one.
type ActiveSponsorshipError struct {
	BeneficiaryID BeneficiaryID
	Existing      SponsorshipID
	SponsorID     SponsorID
}

func (e *ActiveSponsorshipError) Error() string {
	return fmt.Sprintf("beneficiary %s already has active sponsorship %s (sponsor %s)",
		e.BeneficiaryID, e.Existing, e.SponsorID)
}

func (e *ActiveSponsorshipError) Unwrap() error {
	return ErrActiveSponsorshipExists
}
