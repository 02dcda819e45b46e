/*
payments.go - Recording payments with their allocation

PURPOSE:
  A payment and the installment updates it causes are written in one unit:
  either both survive or neither does.

ROUTING:
  KAFALA + edited plan   -> recompute, extend horizon, apply plan (edited)
  KAFALA                 -> Allocate commit                       (auto)
  other + sponsor + beneficiary with an active sponsorship of that sponsor
                         -> single-beneficiary FIFO               (fifo)
  anything else          -> recorded without allocation

FIELD RULES:
  KAFALA payments name a sponsor and never a beneficiary or guardian: the
  plan carries the beneficiary breakdown.

DELETION:
  The plan is reversed before the payment row is removed, in the same unit.
*/
package kafala

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/kafala-engine/generic"
)

// PaymentInput is a payment as submitted. Allocation is an edited preview
// plan; nil means "compute it".
type PaymentInput struct {
	Amount        decimal.Decimal
	Date          time.Time
	Type          PaymentType
	SponsorID     SponsorID
	BeneficiaryID BeneficiaryID
	GuardianID    GuardianID
	ReceiptID     ReceiptID
	Allocation    []AllocationLine
}

// PaymentOutcome is the stored payment plus the allocation statistics.
// Result is nil when the payment was recorded without allocation.
type PaymentOutcome struct {
	Payment *Payment
	Result  *AllocationResult
}

// ValidatePaymentInput checks the field rules that need no store access.
func ValidatePaymentInput(in PaymentInput) error {
	if err := generic.CheckAmount(in.Amount); err != nil {
		return err
	}
	if !in.Type.Valid() {
		return &generic.ValidationError{Field: "type", Message: "unknown payment type " + string(in.Type)}
	}
	if in.Type != PaymentKafala {
		if in.Allocation != nil {
			return &generic.ValidationError{Field: "allocation", Message: "only KAFALA payments accept an allocation"}
		}
		return nil
	}

	if in.SponsorID == "" {
		return ErrSponsorRequired
	}
	if in.BeneficiaryID != "" || in.GuardianID != "" {
		return ErrForbiddenPaymentFields
	}
	total := decimal.Zero
	for _, l := range in.Allocation {
		if l.AmountApplied.IsNegative() {
			return &generic.ValidationError{Field: "allocation", Message: "amounts must not be negative"}
		}
		if !generic.IsWholeUnits(l.AmountApplied) {
			return &generic.ValidationError{Field: "allocation", Message: "amounts must not have more than 2 decimal places"}
		}
		total = total.Add(l.AmountApplied)
	}
	if total.GreaterThan(in.Amount) {
		return &generic.ValidationError{Field: "allocation", Message: "allocates more than the payment amount"}
	}
	return nil
}

// CreatePayment validates, allocates and stores a payment in one unit.
func (e *Engine) CreatePayment(ctx context.Context, in PaymentInput) (*PaymentOutcome, error) {
	if in.Type == "" {
		in.Type = PaymentKafala
	}
	if err := ValidatePaymentInput(in); err != nil {
		return nil, err
	}

	now := e.Now()
	p := Payment{
		ID:            PaymentID(e.newID()),
		Amount:        in.Amount,
		Date:          in.Date.UTC(),
		Type:          in.Type,
		SponsorID:     in.SponsorID,
		BeneficiaryID: in.BeneficiaryID,
		GuardianID:    in.GuardianID,
		ReceiptID:     in.ReceiptID,
		CreatedAt:     now,
	}
	if in.Date.IsZero() {
		p.Date = now
	}

	var result *AllocationResult
	err := e.store.WithTx(ctx, func(s Store) error {
		if err := checkReferences(ctx, s, in); err != nil {
			return err
		}

		var err error
		switch {
		case in.Type == PaymentKafala && in.Allocation != nil:
			result, err = e.applyEdited(ctx, s, in, now)
			if err == nil {
				p.Allocation = result.Plan(SourceEdited)
			}
		case in.Type == PaymentKafala:
			result, err = e.allocate(ctx, s, in.SponsorID, in.Amount, true, now)
			if err == nil {
				p.Allocation = result.Plan(SourceAuto)
			}
		case in.SponsorID != "" && in.BeneficiaryID != "":
			result, err = e.allocateLegacy(ctx, s, in, now)
			if err == nil && result != nil {
				p.Allocation = result.Plan(SourceFIFO)
			}
		}
		if err != nil {
			return err
		}
		return s.SavePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("recorded payment",
		"payment", p.ID,
		"type", p.Type,
		"amount", p.Amount.String(),
		"allocated", p.Allocation.Total().String())
	return &PaymentOutcome{Payment: &p, Result: result}, nil
}

func checkReferences(ctx context.Context, s Store, in PaymentInput) error {
	if in.SponsorID != "" {
		if _, err := s.FindSponsor(ctx, in.SponsorID); err != nil {
			return err
		}
	}
	if in.BeneficiaryID != "" {
		if _, err := s.FindBeneficiary(ctx, in.BeneficiaryID); err != nil {
			return err
		}
	}
	if in.GuardianID != "" {
		if _, err := s.FindGuardian(ctx, in.GuardianID); err != nil {
			return err
		}
	}
	return nil
}

// applyEdited brings the sponsor's schedule to the same state a preview saw,
// then applies the edited lines as given.
func (e *Engine) applyEdited(ctx context.Context, s Store, in PaymentInput, now time.Time) (*AllocationResult, error) {
	checked := make(map[SponsorshipID]bool)
	for _, l := range in.Allocation {
		if checked[l.SponsorshipID] {
			continue
		}
		sp, err := s.FindSponsorship(ctx, l.SponsorshipID)
		if err != nil {
			return nil, err
		}
		if sp.SponsorID != in.SponsorID {
			return nil, &generic.ValidationError{
				Field:   "allocation",
				Message: "sponsorship " + string(sp.ID) + " does not belong to sponsor " + string(in.SponsorID),
			}
		}
		checked[l.SponsorshipID] = true
	}

	count, err := e.recompute(ctx, s, in.SponsorID, now)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		active, err := s.FindActiveSponsorships(ctx, in.SponsorID, now)
		if err != nil {
			return nil, err
		}
		sponsor, err := s.FindSponsor(ctx, in.SponsorID)
		if err != nil {
			return nil, err
		}
		if _, err := e.extendHorizon(ctx, s, active, sponsor.PledgeValue, count, now); err != nil {
			return nil, err
		}
	}

	res, err := e.applyPlan(ctx, s, in.Allocation)
	if err != nil {
		return nil, err
	}
	res.AmountRemaining = in.Amount.Sub(res.Plan(SourceEdited).Total())
	return res, nil
}

// allocateLegacy runs the single-beneficiary FIFO. It returns nil when the
// beneficiary has no active sponsorship with this sponsor.
func (e *Engine) allocateLegacy(ctx context.Context, s Store, in PaymentInput, now time.Time) (*AllocationResult, error) {
	sp, err := s.FindActiveSponsorshipForBeneficiary(ctx, in.BeneficiaryID, now)
	if err != nil {
		return nil, err
	}
	if sp == nil || sp.SponsorID != in.SponsorID {
		return nil, nil
	}

	unsettled := false
	open, err := s.FindInstallments(ctx, InstallmentFilter{SponsorshipID: sp.ID, Settled: &unsettled})
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}

	lines := withBeneficiary(AllocateSingleBeneficiaryFIFO(in.Amount, open), in.BeneficiaryID)
	res := summarize(in.Amount, lines)
	touched := touchedIn(lines)
	for _, inst := range open {
		if _, ok := touched[inst.ID]; ok {
			res.Installments[inst.ID] = inst
		}
	}
	if err := applyLines(ctx, s, lines); err != nil {
		return nil, err
	}
	return res, nil
}

// DeletePayment reverses the payment's allocation and removes it.
func (e *Engine) DeletePayment(ctx context.Context, id PaymentID) error {
	err := e.store.WithTx(ctx, func(s Store) error {
		p, err := s.FindPayment(ctx, id)
		if err != nil {
			return err
		}
		if err := e.reverse(ctx, s, p); err != nil {
			return err
		}
		return s.DeletePayment(ctx, id)
	})
	if err != nil {
		return err
	}
	e.log.Info("deleted payment", "payment", id)
	return nil
}
