/*
generator.go - Monthly installment schedule

PURPOSE:
  Creates one installment per calendar month of a sponsorship, from the
  month of the start date up to (exclusive) the month of the end date, or
  HorizonMonths ahead of the current month when the sponsorship is open
  ended.

IDEMPOTENCE:
  Installment IDs are derived from (sponsorship, month) and the store skips
  months that already exist. Re-running the generator over a range that is
  partly or fully scheduled inserts only the missing months and never
  overwrites an existing row. The allocator relies on this to extend the
  horizon lazily.

EMPTY RANGES:
  Start and end in the same month, or end before start, generate nothing.
  This is not an error.

SHARE:
  pledge / max(activeCount, 1), rounded to the currency unit. The count
  fallback covers a sponsorship created before its sponsor's count has been
  recomputed.
*/
package kafala

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/kafala-engine/generic"
)

// InstallmentKey is the ID of the installment of sponsorship id for month m.
func InstallmentKey(id SponsorshipID, m Month) InstallmentID {
	return InstallmentID(string(id) + "-" + m.Key())
}

// SchedulePeriod returns the months to generate for a sponsorship starting at
// start and ending at end (nil = open ended, HorizonMonths ahead of now).
func SchedulePeriod(start time.Time, end *time.Time, now time.Time) generic.Period {
	p := generic.Period{Start: generic.MonthOf(start)}
	if end != nil {
		p.End = generic.MonthOf(*end)
	} else {
		p.End = generic.Horizon(generic.MonthOf(now))
	}
	return p
}

// PlanInstallments builds the unsaved installments of period, each due share.
func PlanInstallments(id SponsorshipID, period generic.Period, share decimal.Decimal) []Installment {
	months := period.Months()
	batch := make([]Installment, 0, len(months))
	for _, m := range months {
		batch = append(batch, Installment{
			ID:            InstallmentKey(id, m),
			SponsorshipID: id,
			Month:         m,
			AmountDue:     share,
			AmountPaid:    decimal.Zero,
		})
	}
	return batch
}

// GenerateInstallments schedules the sponsorship's monthly installments and
// returns how many rows were created (duplicates are skipped).
func (e *Engine) GenerateInstallments(ctx context.Context, sponsorshipID SponsorshipID, start time.Time, pledge decimal.Decimal, activeCount int, end *time.Time) (int, error) {
	var created int
	err := e.store.WithTx(ctx, func(s Store) error {
		if _, err := s.FindSponsorship(ctx, sponsorshipID); err != nil {
			return err
		}
		var err error
		created, err = e.generate(ctx, s, sponsorshipID, SchedulePeriod(start, end, e.Now()), pledge, activeCount)
		return err
	})
	return created, err
}

func (e *Engine) generate(ctx context.Context, s Store, id SponsorshipID, period generic.Period, pledge decimal.Decimal, activeCount int) (int, error) {
	if period.IsEmpty() {
		return 0, nil
	}
	share := generic.DivideMoney(pledge, activeCount)
	created, err := s.CreateInstallments(ctx, PlanInstallments(id, period, share))
	if err != nil {
		return 0, err
	}
	if created > 0 {
		e.log.Debug("generated installments",
			"sponsorship", id,
			"period", period.String(),
			"created", created,
			"share", share.String())
	}
	return created, nil
}

// extendHorizon makes sure every sponsorship in active has installments up to
// HorizonMonths ahead of now, bounded by its own end date. Generation resumes
// after the furthest scheduled month, settled or not.
func (e *Engine) extendHorizon(ctx context.Context, s Store, active []Sponsorship, pledge decimal.Decimal, count int, now time.Time) (int, error) {
	horizon := generic.Horizon(generic.MonthOf(now))
	total := 0
	for _, sp := range active {
		last, ok, err := s.LastInstallmentMonth(ctx, sp.ID)
		if err != nil {
			return 0, err
		}

		period := generic.Period{Start: generic.MonthOf(sp.StartDate), End: horizon}
		if ok {
			period.Start = last.Next()
		}
		if sp.EndDate != nil {
			period = period.Clamp(generic.MonthOf(*sp.EndDate))
		}

		n, err := e.generate(ctx, s, sp.ID, period, pledge, count)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
