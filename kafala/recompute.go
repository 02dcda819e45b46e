/*
recompute.go - Keeps cached counts and due amounts consistent

PURPOSE:
  A sponsor's pledge is divided across its active sponsorships. Whenever
  the pledge or the set of active sponsorships changes, two derived values
  must be rewritten, in this order:

    1. Sponsor.ActiveSponsorshipCount  (RecomputeActiveCount)
    2. Installment.AmountDue of every unsettled installment of every active
       sponsorship = pledge / count      (RecomputeInstallmentAmounts)

  Amounts depend on the count, so the count always goes first, and both run
  in the same unit as the change that triggered them.

FROZEN HISTORY:
  Settled installments are never rewritten. A pledge change describes
  future obligation, not a restatement of the past.

SETTLING:
  Lowering AmountDue can leave an unsettled row whose AmountPaid already
  covers it. Recomputation then sets Settled on that row (settleCovered), so
  Settled == AmountPaid >= AmountDue holds after every recompute.

ZERO COUNT:
  A sponsor with no active sponsorship is a valid state: amounts are left
  alone.
*/
package kafala

import (
	"context"
	"time"

	"github.com/warp/kafala-engine/generic"
)

// RecomputeActiveCount counts the sponsor's active sponsorships, stores the
// count on the sponsor and returns it.
func (e *Engine) RecomputeActiveCount(ctx context.Context, sponsorID SponsorID) (int, error) {
	var count int
	err := e.store.WithTx(ctx, func(s Store) error {
		var err error
		count, err = e.recomputeActiveCount(ctx, s, sponsorID, e.Now())
		return err
	})
	return count, err
}

// RecomputeInstallmentAmounts rewrites AmountDue on the sponsor's open
// installments from its pledge and stored count.
func (e *Engine) RecomputeInstallmentAmounts(ctx context.Context, sponsorID SponsorID) error {
	return e.store.WithTx(ctx, func(s Store) error {
		return e.recomputeInstallmentAmounts(ctx, s, sponsorID, e.Now())
	})
}

// Recompute runs the count then the amounts in one unit.
func (e *Engine) Recompute(ctx context.Context, sponsorID SponsorID) (int, error) {
	var count int
	err := e.store.WithTx(ctx, func(s Store) error {
		var err error
		count, err = e.recompute(ctx, s, sponsorID, e.Now())
		return err
	})
	return count, err
}

func (e *Engine) recompute(ctx context.Context, s Store, sponsorID SponsorID, now time.Time) (int, error) {
	count, err := e.recomputeActiveCount(ctx, s, sponsorID, now)
	if err != nil {
		return 0, err
	}
	if err := e.recomputeInstallmentAmounts(ctx, s, sponsorID, now); err != nil {
		return 0, err
	}
	return count, nil
}

func (e *Engine) recomputeActiveCount(ctx context.Context, s Store, sponsorID SponsorID, now time.Time) (int, error) {
	if _, err := s.FindSponsor(ctx, sponsorID); err != nil {
		return 0, err
	}
	count, err := s.CountActiveSponsorships(ctx, sponsorID, now)
	if err != nil {
		return 0, err
	}
	if err := s.UpdateSponsor(ctx, sponsorID, SponsorPatch{ActiveSponsorshipCount: &count}); err != nil {
		return 0, err
	}
	return count, nil
}

func (e *Engine) recomputeInstallmentAmounts(ctx context.Context, s Store, sponsorID SponsorID, now time.Time) error {
	sponsor, err := s.FindSponsor(ctx, sponsorID)
	if err != nil {
		return err
	}
	if sponsor.ActiveSponsorshipCount == 0 {
		return nil
	}
	share := generic.DivideMoney(sponsor.PledgeValue, sponsor.ActiveSponsorshipCount)

	active, err := s.FindActiveSponsorships(ctx, sponsorID, now)
	if err != nil {
		return err
	}

	unsettled := false
	rewritten := 0
	for _, sp := range active {
		filter := InstallmentFilter{SponsorshipID: sp.ID, Settled: &unsettled}
		n, err := s.UpdateInstallments(ctx, filter, InstallmentPatch{AmountDue: &share})
		if err != nil {
			return err
		}
		rewritten += n

		// A lower due can be covered by what was already paid.
		if err := settleCovered(ctx, s, filter); err != nil {
			return err
		}
	}

	e.log.Debug("recomputed installment amounts",
		"sponsor", sponsorID,
		"active", sponsor.ActiveSponsorshipCount,
		"share", share.String(),
		"rewritten", rewritten)
	return nil
}

// settleCovered flips Settled on rows matching filter whose paid amount
// already covers the due amount.
func settleCovered(ctx context.Context, s Store, filter InstallmentFilter) error {
	rows, err := s.FindInstallments(ctx, filter)
	if err != nil {
		return err
	}
	settled := true
	for _, inst := range rows {
		if inst.Settled || !generic.IsSettled(inst.AmountPaid, inst.AmountDue) {
			continue
		}
		if err := s.UpdateInstallment(ctx, inst.ID, InstallmentPatch{Settled: &settled}); err != nil {
			return err
		}
	}
	return nil
}
