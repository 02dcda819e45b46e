package kafala

import (
	"github.com/shopspring/decimal"
	"github.com/warp/kafala-engine/generic"
)

// AllocateSingleBeneficiaryFIFO pours amount into one beneficiary's unsettled
// installments, oldest month first, with no equal split. Kept for payment
// types that name a beneficiary directly rather than a sponsor.
//
// Lines carry the installment's sponsorship; the caller sets BeneficiaryID.
func AllocateSingleBeneficiaryFIFO(amount decimal.Decimal, installments []Installment) []AllocationLine {
	if !amount.IsPositive() {
		return nil
	}
	sponsorshipOf := make(map[InstallmentID]SponsorshipID, len(installments))
	for _, inst := range installments {
		sponsorshipOf[inst.ID] = inst.SponsorshipID
	}

	applications, _ := generic.ApplyFIFO(amount, obligationsOf(installments))
	lines := make([]AllocationLine, 0, len(applications))
	for _, a := range applications {
		id := InstallmentID(a.ObligationID)
		lines = append(lines, AllocationLine{
			SponsorshipID: sponsorshipOf[id],
			InstallmentID: id,
			Month:         a.Month,
			AmountApplied: a.Amount,
		})
	}
	return lines
}

func withBeneficiary(lines []AllocationLine, id BeneficiaryID) []AllocationLine {
	for i := range lines {
		lines[i].BeneficiaryID = id
	}
	return lines
}
