/*
allocator.go - Payment allocation (equal split, then FIFO per beneficiary)

PURPOSE:
  Turns a lump-sum payment from a sponsor into installment updates.

ALGORITHM:
  1. Recompute the sponsor's active count, then its due amounts
  2. Load active sponsorships with their unsettled installments
  3. Re-read pledge and count, share = pledge / count
  4. Extend each schedule up to HorizonMonths ahead
  5. Reload unsettled installments
  6. Split the payment equally by beneficiary headcount
  7. FIFO per beneficiary, oldest month first
  8. Commit: paid += applied, settled = paid >= due (preview: nothing)
  9. Totals: per beneficiary, installments touched, amount remaining

EQUAL SPLIT:
  Every beneficiary receives the same nominal share regardless of what it
  owes. A beneficiary with fewer open installments than its share leaves a
  surplus, reported in AmountRemaining. That is an outcome, not an error.

  Example: 600 for A (nothing open) and B (one installment due 300)
    A: share 300, applied 0
    B: share 300, applied 300
    remaining 300

PREVIEW:
  Preview runs the same steps, including recomputation and horizon
  extension, inside a unit that is always rolled back. Installment IDs are
  natural keys, so a previewed plan still names the right rows once the
  commit path regenerates them.

OVERRIDE:
  ApplyPlan applies an edited plan line by line without re-checking shares.
  Each installment still derives its own settled flag.

REVERSAL:
  ReverseAllocation undoes a committed plan: paid = max(0, paid - applied).

FAILURE:
  All checks happen before the first write. A missing installment fails the
  whole unit: a partially applied plan would corrupt the ledger.
*/
package kafala

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/kafala-engine/generic"
)

// AllocateOptions selects preview (Commit false) or commit.
type AllocateOptions struct {
	Commit bool
}

// Allocate splits amount across the sponsor's active beneficiaries.
func (e *Engine) Allocate(ctx context.Context, sponsorID SponsorID, amount decimal.Decimal, opts AllocateOptions) (*AllocationResult, error) {
	var res *AllocationResult
	run := func(s Store) error {
		var err error
		res, err = e.allocate(ctx, s, sponsorID, amount, opts.Commit, e.Now())
		return err
	}

	var err error
	if opts.Commit {
		err = e.store.WithTx(ctx, run)
	} else {
		err = e.readOnly(ctx, run)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) allocate(ctx context.Context, s Store, sponsorID SponsorID, amount decimal.Decimal, commit bool, now time.Time) (*AllocationResult, error) {
	if err := e.checkAllocatable(ctx, s, sponsorID, amount, now); err != nil {
		return nil, err
	}

	active, err := e.prepareSponsor(ctx, s, sponsorID, now)
	if err != nil {
		return nil, err
	}

	lines := splitAndApply(amount, active)
	res := summarize(amount, lines)
	touched := touchedIn(lines)
	for _, sp := range active {
		if _, ok := res.AmountsByBeneficiary[sp.BeneficiaryID]; !ok {
			res.AmountsByBeneficiary[sp.BeneficiaryID] = decimal.Zero
		}
		for _, inst := range sp.Installments {
			if _, ok := touched[inst.ID]; ok {
				res.Installments[inst.ID] = inst
			}
		}
	}

	if commit {
		if err := applyLines(ctx, s, lines); err != nil {
			return nil, err
		}
	}

	e.log.Info("allocated payment",
		"sponsor", sponsorID,
		"amount", amount.String(),
		"beneficiaries", len(active),
		"installments", res.InstallmentsTouched,
		"remaining", res.AmountRemaining.String(),
		"commit", commit)
	return res, nil
}

// checkAllocatable runs the read-only preconditions of an allocation.
func (e *Engine) checkAllocatable(ctx context.Context, s Store, sponsorID SponsorID, amount decimal.Decimal, now time.Time) error {
	if err := generic.CheckAmount(amount); err != nil {
		return err
	}
	if _, err := s.FindSponsor(ctx, sponsorID); err != nil {
		return err
	}
	n, err := s.CountActiveSponsorships(ctx, sponsorID, now)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoActiveSponsorship
	}
	return nil
}

// prepareSponsor brings the sponsor's obligations up to date (steps 1 to 5)
// and returns its active sponsorships with their unsettled installments.
func (e *Engine) prepareSponsor(ctx context.Context, s Store, sponsorID SponsorID, now time.Time) ([]Sponsorship, error) {
	if _, err := e.recompute(ctx, s, sponsorID, now); err != nil {
		return nil, err
	}

	active, err := s.FindActiveSponsorships(ctx, sponsorID, now)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, ErrNoActiveSponsorship
	}

	sponsor, err := s.FindSponsor(ctx, sponsorID)
	if err != nil {
		return nil, err
	}
	if _, err := e.extendHorizon(ctx, s, active, sponsor.PledgeValue, sponsor.ActiveSponsorshipCount, now); err != nil {
		return nil, err
	}

	return s.FindActiveSponsorships(ctx, sponsorID, now)
}

// splitAndApply is steps 6 and 7: equal split, then FIFO per beneficiary.
// Lines come out beneficiary-major, month ascending within a beneficiary.
func splitAndApply(amount decimal.Decimal, active []Sponsorship) []AllocationLine {
	shares := generic.SplitEvenly(amount, len(active))
	var lines []AllocationLine
	for i, sp := range active {
		applications, _ := generic.ApplyFIFO(shares[i], obligationsOf(sp.Installments))
		for _, a := range applications {
			lines = append(lines, AllocationLine{
				BeneficiaryID: sp.BeneficiaryID,
				SponsorshipID: sp.ID,
				InstallmentID: InstallmentID(a.ObligationID),
				Month:         a.Month,
				AmountApplied: a.Amount,
			})
		}
	}
	return lines
}

func obligationsOf(installments []Installment) []generic.Obligation {
	obligations := make([]generic.Obligation, len(installments))
	for i, inst := range installments {
		obligations[i] = generic.Obligation{
			ID:      string(inst.ID),
			Month:   inst.Month,
			Due:     inst.AmountDue,
			Paid:    inst.AmountPaid,
			Settled: inst.Settled,
		}
	}
	return obligations
}

func touchedIn(lines []AllocationLine) map[InstallmentID]struct{} {
	ids := make(map[InstallmentID]struct{}, len(lines))
	for _, l := range lines {
		ids[l.InstallmentID] = struct{}{}
	}
	return ids
}

// =============================================================================
// APPLYING AND REVERSING LINES
// =============================================================================

// ApplyPlan commits an externally edited plan as given.
func (e *Engine) ApplyPlan(ctx context.Context, lines []AllocationLine) (*AllocationResult, error) {
	var res *AllocationResult
	err := e.store.WithTx(ctx, func(s Store) error {
		var err error
		res, err = e.applyPlan(ctx, s, lines)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) applyPlan(ctx context.Context, s Store, lines []AllocationLine) (*AllocationResult, error) {
	before, err := loadLineInstallments(ctx, s, lines)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		if l.AmountApplied.IsNegative() {
			return nil, &generic.ValidationError{Field: "amountApplied", Message: "must not be negative"}
		}
		if !generic.IsWholeUnits(l.AmountApplied) {
			return nil, &generic.ValidationError{Field: "amountApplied", Message: "must not have more than 2 decimal places"}
		}
	}
	if err := applyLines(ctx, s, lines); err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.AmountApplied)
	}
	res := summarize(total, lines)
	res.Installments = before

	e.log.Info("applied edited plan", "lines", len(lines), "total", total.String())
	return res, nil
}

// applyLines adds each line to its installment. Every installment is checked
// before the first write.
func applyLines(ctx context.Context, s Store, lines []AllocationLine) error {
	if _, err := loadLineInstallments(ctx, s, lines); err != nil {
		return err
	}
	for _, l := range lines {
		inst, err := s.FindInstallment(ctx, l.InstallmentID)
		if err != nil {
			return err
		}
		paid := inst.AmountPaid.Add(l.AmountApplied)
		settled := generic.IsSettled(paid, inst.AmountDue)
		if err := s.UpdateInstallment(ctx, inst.ID, InstallmentPatch{AmountPaid: &paid, Settled: &settled}); err != nil {
			return err
		}
	}
	return nil
}

// ReverseAllocation undoes the committed plan of a payment. Legacy payments
// without a plan are left alone.
func (e *Engine) ReverseAllocation(ctx context.Context, paymentID PaymentID) error {
	return e.store.WithTx(ctx, func(s Store) error {
		p, err := s.FindPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		return e.reverse(ctx, s, p)
	})
}

func (e *Engine) reverse(ctx context.Context, s Store, p *Payment) error {
	if p.Allocation.IsLegacy() {
		return nil
	}
	lines := p.Allocation.Lines
	if _, err := loadLineInstallments(ctx, s, lines); err != nil {
		return err
	}
	for _, l := range lines {
		inst, err := s.FindInstallment(ctx, l.InstallmentID)
		if err != nil {
			return err
		}
		paid := generic.MaxZero(inst.AmountPaid.Sub(l.AmountApplied))
		settled := generic.IsSettled(paid, inst.AmountDue)
		if err := s.UpdateInstallment(ctx, inst.ID, InstallmentPatch{AmountPaid: &paid, Settled: &settled}); err != nil {
			return err
		}
	}
	e.log.Info("reversed allocation", "payment", p.ID, "lines", len(lines))
	return nil
}

// loadLineInstallments returns the current state of every installment the
// lines name, failing on the first missing one or on a line naming the
// wrong sponsorship.
func loadLineInstallments(ctx context.Context, s Store, lines []AllocationLine) (map[InstallmentID]Installment, error) {
	found := make(map[InstallmentID]Installment, len(lines))
	for _, l := range lines {
		if _, ok := found[l.InstallmentID]; ok {
			continue
		}
		inst, err := s.FindInstallment(ctx, l.InstallmentID)
		if err != nil {
			return nil, err
		}
		if l.SponsorshipID != "" && inst.SponsorshipID != l.SponsorshipID {
			return nil, &generic.ValidationError{
				Field:   "sponsorshipId",
				Message: fmt.Sprintf("installment %s belongs to sponsorship %s, not %s", inst.ID, inst.SponsorshipID, l.SponsorshipID),
			}
		}
		found[inst.ID] = *inst
	}
	return found, nil
}
