/*
lifecycle.go - Registry writes that move the derived values

PURPOSE:
  Every write that changes a sponsor's pledge or the set of its active
  sponsorships must run the recompute pair in the same unit. This file holds
  those writes so that no caller can forget it.

OPERATIONS:
  CreateSponsorship      Check, (close previous), insert, count, generate, amounts
  CloseSponsorship       End date = now, recompute
  RescheduleSponsorship  Date/pledge change: drop unsettled rows, regenerate
  DeleteSponsorship      Only when nothing was paid, then recompute
  UpdateSponsorPledge    New pledge, recompute
  UpdateBirthDate        New birth date, age cache rewritten
  RefreshAgeCaches       Age cache of every beneficiary
  ExtendSchedules        Horizon extension for every sponsor

ONE ACTIVE SPONSORSHIP PER BENEFICIARY:
  Checked at creation. With closePrevious the blocking sponsorship is closed
  (end date = now) and its sponsor recomputed in the same unit.
*/
package kafala

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/kafala-engine/generic"
)

// =============================================================================
// REGISTRY
// =============================================================================

// SaveSponsor creates a sponsor. The active count always starts at zero.
func (e *Engine) SaveSponsor(ctx context.Context, sp Sponsor) (*Sponsor, error) {
	if !sp.Type.Valid() {
		return nil, &generic.ValidationError{Field: "type", Message: "unknown sponsor type " + string(sp.Type)}
	}
	if !sp.PledgeValue.IsPositive() {
		return nil, &generic.ValidationError{Field: "pledgeValue", Message: "must be positive"}
	}
	if sp.ID == "" {
		sp.ID = SponsorID(e.newID())
	}
	if sp.CreatedAt.IsZero() {
		sp.CreatedAt = e.Now()
	}
	sp.PledgeValue = generic.RoundMoney(sp.PledgeValue)
	sp.ActiveSponsorshipCount = 0

	if err := e.store.WithTx(ctx, func(s Store) error {
		return s.SaveSponsor(ctx, sp)
	}); err != nil {
		return nil, err
	}
	return &sp, nil
}

// SaveGuardian creates or replaces a guardian.
func (e *Engine) SaveGuardian(ctx context.Context, g Guardian) (*Guardian, error) {
	if g.ID == "" {
		g.ID = GuardianID(e.newID())
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = e.Now()
	}
	if err := e.store.WithTx(ctx, func(s Store) error {
		return s.SaveGuardian(ctx, g)
	}); err != nil {
		return nil, err
	}
	return &g, nil
}

// SaveBeneficiary creates or replaces a beneficiary, rewriting its age cache.
func (e *Engine) SaveBeneficiary(ctx context.Context, b Beneficiary) (*Beneficiary, error) {
	if b.BirthDate.IsZero() {
		return nil, &generic.ValidationError{Field: "birthDate", Message: "is required"}
	}
	if b.ID == "" {
		b.ID = BeneficiaryID(e.newID())
	}
	now := e.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.AgeCache = CalculateAge(b.BirthDate, now)

	err := e.store.WithTx(ctx, func(s Store) error {
		if _, err := s.FindGuardian(ctx, b.GuardianID); err != nil {
			return err
		}
		return s.SaveBeneficiary(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateBirthDate changes a beneficiary's birth date and its age cache together.
func (e *Engine) UpdateBirthDate(ctx context.Context, id BeneficiaryID, birthDate time.Time) (*Beneficiary, error) {
	if birthDate.IsZero() {
		return nil, &generic.ValidationError{Field: "birthDate", Message: "is required"}
	}
	var out *Beneficiary
	err := e.store.WithTx(ctx, func(s Store) error {
		b, err := s.FindBeneficiary(ctx, id)
		if err != nil {
			return err
		}
		b.BirthDate = birthDate
		b.AgeCache = CalculateAge(birthDate, e.Now())
		if err := s.SaveBeneficiary(ctx, *b); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// RefreshAgeCaches rewrites every stale age cache and returns how many changed.
func (e *Engine) RefreshAgeCaches(ctx context.Context) (int, error) {
	changed := 0
	err := e.store.WithTx(ctx, func(s Store) error {
		all, err := s.ListBeneficiaries(ctx)
		if err != nil {
			return err
		}
		now := e.Now()
		for _, b := range all {
			age := CalculateAge(b.BirthDate, now)
			if age == b.AgeCache {
				continue
			}
			b.AgeCache = age
			if err := s.SaveBeneficiary(ctx, b); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		e.log.Info("refreshed age caches", "changed", changed)
	}
	return changed, nil
}

// =============================================================================
// SPONSORSHIPS
// =============================================================================

// SponsorshipInput describes a new sponsorship. A zero PledgeValue takes the
// sponsor's current pledge as the snapshot.
type SponsorshipInput struct {
	SponsorID     SponsorID
	BeneficiaryID BeneficiaryID
	StartDate     time.Time
	EndDate       *time.Time
	PledgeValue   decimal.Decimal
}

// CreateSponsorship links a sponsor to a beneficiary and schedules its
// installments. When the beneficiary already has an active sponsorship the
// call fails with an *ActiveSponsorshipError, unless closePrevious is set.
func (e *Engine) CreateSponsorship(ctx context.Context, in SponsorshipInput, closePrevious bool) (*Sponsorship, error) {
	if in.StartDate.IsZero() {
		return nil, &generic.ValidationError{Field: "startDate", Message: "is required"}
	}
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return nil, generic.ErrInvalidPeriod
	}
	if in.PledgeValue.IsNegative() {
		return nil, &generic.ValidationError{Field: "pledgeValue", Message: "must be positive"}
	}

	var created *Sponsorship
	err := e.store.WithTx(ctx, func(s Store) error {
		now := e.Now()
		sponsor, err := s.FindSponsor(ctx, in.SponsorID)
		if err != nil {
			return err
		}
		if _, err := s.FindBeneficiary(ctx, in.BeneficiaryID); err != nil {
			return err
		}

		existing, err := s.FindActiveSponsorshipForBeneficiary(ctx, in.BeneficiaryID, now)
		if err != nil {
			return err
		}
		if existing != nil {
			if !closePrevious {
				return &ActiveSponsorshipError{
					BeneficiaryID: in.BeneficiaryID,
					Existing:      existing.ID,
					SponsorID:     existing.SponsorID,
				}
			}
			if err := e.close(ctx, s, existing, now); err != nil {
				return err
			}
		}

		sp := Sponsorship{
			ID:            SponsorshipID(e.newID()),
			SponsorID:     in.SponsorID,
			BeneficiaryID: in.BeneficiaryID,
			StartDate:     in.StartDate.UTC(),
			EndDate:       utcPtr(in.EndDate),
			PledgeValue:   in.PledgeValue,
			CreatedAt:     now,
		}
		if sp.PledgeValue.IsZero() {
			sp.PledgeValue = sponsor.PledgeValue
		}
		if err := s.SaveSponsorship(ctx, sp); err != nil {
			return err
		}

		count, err := e.recomputeActiveCount(ctx, s, sp.SponsorID, now)
		if err != nil {
			return err
		}
		if _, err := e.generate(ctx, s, sp.ID, SchedulePeriod(sp.StartDate, sp.EndDate, now), sponsor.PledgeValue, count); err != nil {
			return err
		}
		if err := e.recomputeInstallmentAmounts(ctx, s, sp.SponsorID, now); err != nil {
			return err
		}

		created = &sp
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("created sponsorship",
		"sponsorship", created.ID,
		"sponsor", created.SponsorID,
		"beneficiary", created.BeneficiaryID,
		"closed_previous", closePrevious)
	return created, nil
}

// CloseSponsorship ends a sponsorship now. Closing an already ended
// sponsorship returns it unchanged.
func (e *Engine) CloseSponsorship(ctx context.Context, id SponsorshipID) (*Sponsorship, error) {
	var out *Sponsorship
	err := e.store.WithTx(ctx, func(s Store) error {
		sp, err := s.FindSponsorship(ctx, id)
		if err != nil {
			return err
		}
		now := e.Now()
		if sp.ActiveAt(now) {
			if err := e.close(ctx, s, sp, now); err != nil {
				return err
			}
		}
		out = sp
		return nil
	})
	return out, err
}

func (e *Engine) close(ctx context.Context, s Store, sp *Sponsorship, now time.Time) error {
	end := now
	sp.EndDate = &end
	if err := s.SaveSponsorship(ctx, *sp); err != nil {
		return err
	}
	if _, err := e.recompute(ctx, s, sp.SponsorID, now); err != nil {
		return err
	}
	e.log.Info("closed sponsorship", "sponsorship", sp.ID, "sponsor", sp.SponsorID)
	return nil
}

// SponsorshipChange lists the editable fields of a sponsorship. ClearEndDate
// reopens a sponsorship (EndDate is then ignored).
type SponsorshipChange struct {
	StartDate    *time.Time
	EndDate      *time.Time
	ClearEndDate bool
	PledgeValue  *decimal.Decimal
}

// RescheduleSponsorship applies a change. When dates or the pledge snapshot
// change, installments with nothing paid are dropped and the schedule
// regenerated. Settled and partly paid months are kept as they are; new dates
// that would leave a partly paid month outside the schedule are refused
// (ErrRescheduleDropsPayments). Reopening a sponsorship whose beneficiary is
// sponsored elsewhere is an ActiveSponsorshipError.
func (e *Engine) RescheduleSponsorship(ctx context.Context, id SponsorshipID, change SponsorshipChange) (*Sponsorship, error) {
	var out *Sponsorship
	err := e.store.WithTx(ctx, func(s Store) error {
		sp, err := s.FindSponsorship(ctx, id)
		if err != nil {
			return err
		}
		now := e.Now()
		wasActive := sp.ActiveAt(now)

		changed := false
		if change.StartDate != nil && !change.StartDate.Equal(sp.StartDate) {
			sp.StartDate = change.StartDate.UTC()
			changed = true
		}
		switch {
		case change.ClearEndDate:
			if sp.EndDate != nil {
				sp.EndDate = nil
				changed = true
			}
		case change.EndDate != nil:
			if sp.EndDate == nil || !change.EndDate.Equal(*sp.EndDate) {
				sp.EndDate = utcPtr(change.EndDate)
				changed = true
			}
		}
		if change.PledgeValue != nil && !change.PledgeValue.Equal(sp.PledgeValue) {
			if !change.PledgeValue.IsPositive() {
				return &generic.ValidationError{Field: "pledgeValue", Message: "must be positive"}
			}
			sp.PledgeValue = *change.PledgeValue
			changed = true
		}
		if sp.EndDate != nil && sp.EndDate.Before(sp.StartDate) {
			return generic.ErrInvalidPeriod
		}
		if !wasActive && sp.ActiveAt(now) {
			other, err := s.FindActiveSponsorshipForBeneficiary(ctx, sp.BeneficiaryID, now)
			if err != nil {
				return err
			}
			if other != nil && other.ID != sp.ID {
				return &ActiveSponsorshipError{BeneficiaryID: sp.BeneficiaryID, Existing: other.ID, SponsorID: other.SponsorID}
			}
		}

		if err := s.SaveSponsorship(ctx, *sp); err != nil {
			return err
		}

		if changed {
			period := SchedulePeriod(sp.StartDate, sp.EndDate, now)
			unsettled := false
			open, err := s.FindInstallments(ctx, InstallmentFilter{SponsorshipID: id, Settled: &unsettled})
			if err != nil {
				return err
			}
			for _, inst := range open {
				if inst.AmountPaid.IsPositive() && !period.Contains(inst.Month) {
					return ErrRescheduleDropsPayments
				}
			}
			dropped, err := s.DeleteInstallments(ctx, InstallmentFilter{SponsorshipID: id, Settled: &unsettled, Unpaid: true})
			if err != nil {
				return err
			}
			count, err := e.recomputeActiveCount(ctx, s, sp.SponsorID, now)
			if err != nil {
				return err
			}
			sponsor, err := s.FindSponsor(ctx, sp.SponsorID)
			if err != nil {
				return err
			}
			created, err := e.generate(ctx, s, id, period, sponsor.PledgeValue, count)
			if err != nil {
				return err
			}
			e.log.Info("rescheduled sponsorship", "sponsorship", id, "dropped", dropped, "created", created)
		}

		if _, err := e.recompute(ctx, s, sp.SponsorID, now); err != nil {
			return err
		}
		out = sp
		return nil
	})
	return out, err
}

// DeleteSponsorship removes a sponsorship and its installments. Sponsorships
// with paid installments cannot be deleted (ErrSponsorshipHasPayments).
func (e *Engine) DeleteSponsorship(ctx context.Context, id SponsorshipID) error {
	return e.store.WithTx(ctx, func(s Store) error {
		sp, err := s.FindSponsorship(ctx, id)
		if err != nil {
			return err
		}
		rows, err := s.FindInstallments(ctx, InstallmentFilter{SponsorshipID: id})
		if err != nil {
			return err
		}
		for _, inst := range rows {
			if inst.AmountPaid.IsPositive() {
				return ErrSponsorshipHasPayments
			}
		}

		if _, err := s.DeleteInstallments(ctx, InstallmentFilter{SponsorshipID: id}); err != nil {
			return err
		}
		if err := s.DeleteSponsorship(ctx, id); err != nil {
			return err
		}
		_, err = e.recompute(ctx, s, sp.SponsorID, e.Now())
		return err
	})
}

// =============================================================================
// SPONSORS
// =============================================================================

// UpdateSponsorPledge changes the sponsor's monthly pledge and rewrites the
// due amount of its open installments.
func (e *Engine) UpdateSponsorPledge(ctx context.Context, id SponsorID, pledge decimal.Decimal) (*Sponsor, error) {
	if !pledge.IsPositive() {
		return nil, &generic.ValidationError{Field: "pledgeValue", Message: "must be positive"}
	}
	pledge = generic.RoundMoney(pledge)

	var out *Sponsor
	err := e.store.WithTx(ctx, func(s Store) error {
		if err := s.UpdateSponsor(ctx, id, SponsorPatch{PledgeValue: &pledge}); err != nil {
			return err
		}
		if _, err := e.recompute(ctx, s, id, e.Now()); err != nil {
			return err
		}
		var err error
		out, err = s.FindSponsor(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("updated sponsor pledge", "sponsor", id, "pledge", pledge.String())
	return out, nil
}

// ExtendSchedules recomputes every sponsor with active sponsorships and
// extends their schedules to the horizon, one unit per sponsor. It returns
// the number of installments created.
func (e *Engine) ExtendSchedules(ctx context.Context) (int, error) {
	sponsors, err := e.store.ListSponsors(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, sponsor := range sponsors {
		err := e.store.WithTx(ctx, func(s Store) error {
			now := e.Now()
			count, err := e.recompute(ctx, s, sponsor.ID, now)
			if err != nil || count == 0 {
				return err
			}
			active, err := s.FindActiveSponsorships(ctx, sponsor.ID, now)
			if err != nil {
				return err
			}
			fresh, err := s.FindSponsor(ctx, sponsor.ID)
			if err != nil {
				return err
			}
			n, err := e.extendHorizon(ctx, s, active, fresh.PledgeValue, count, now)
			if err != nil {
				return err
			}
			total += n
			return nil
		})
		if err != nil {
			return total, err
		}
	}
	e.log.Info("extended schedules", "sponsors", len(sponsors), "created", total)
	return total, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
