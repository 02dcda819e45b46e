package kafala

import (
	"context"

	"github.com/warp/kafala-engine/generic"
)

// RecordReceipt stores a receipt. Receipt numbers are unique; a duplicate is
// reported by the store as a conflict.
func (e *Engine) RecordReceipt(ctx context.Context, r Receipt) (*Receipt, error) {
	if r.Number == "" {
		return nil, &generic.ValidationError{Field: "number", Message: "is required"}
	}
	if !r.Type.Valid() {
		return nil, &generic.ValidationError{Field: "type", Message: "unknown payment type " + string(r.Type)}
	}
	if !r.Total.IsPositive() {
		return nil, generic.ErrNonPositiveAmount
	}
	if r.ID == "" {
		r.ID = ReceiptID(e.newID())
	}
	if r.IssuedAt.IsZero() {
		r.IssuedAt = e.Now()
	}
	r.Total = generic.RoundMoney(r.Total)

	err := e.store.WithTx(ctx, func(s Store) error {
		if r.SponsorID != "" {
			if _, err := s.FindSponsor(ctx, r.SponsorID); err != nil {
				return err
			}
		}
		return s.SaveReceipt(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("recorded receipt", "receipt", r.ID, "number", r.Number, "total", r.Total.String())
	return &r, nil
}

// RecordTransfer stores a transfer to a guardian covering Months months of a
// sponsor's pledge.
func (e *Engine) RecordTransfer(ctx context.Context, t Transfer) (*Transfer, error) {
	if t.Months <= 0 {
		return nil, &generic.ValidationError{Field: "months", Message: "must be positive"}
	}
	if !t.PledgeValue.IsPositive() {
		return nil, generic.ErrNonPositiveAmount
	}
	if t.ID == "" {
		t.ID = TransferID(e.newID())
	}
	if t.Date.IsZero() {
		t.Date = e.Now()
	}

	err := e.store.WithTx(ctx, func(s Store) error {
		if _, err := s.FindGuardian(ctx, t.GuardianID); err != nil {
			return err
		}
		if _, err := s.FindBeneficiary(ctx, t.BeneficiaryID); err != nil {
			return err
		}
		if _, err := s.FindSponsor(ctx, t.SponsorID); err != nil {
			return err
		}
		return s.SaveTransfer(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}
