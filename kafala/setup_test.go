package kafala_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/kafala-engine/generic"
	"github.com/warp/kafala-engine/kafala"
	"github.com/warp/kafala-engine/kafala/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testNow pins the clock: current month March 2025, horizon end March 2026.
var testNow = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	engine *kafala.Engine
	store  *store.Memory
	seq    int
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{t: t, ctx: context.Background(), store: store.NewMemory()}
	f.engine = kafala.NewEngine(f.store,
		kafala.WithClock(func() time.Time { return testNow }),
		kafala.WithIDGenerator(func() string {
			f.seq++
			return fmt.Sprintf("id-%03d", f.seq)
		}),
	)
	return f
}

func money(v int64) decimal.Decimal { return generic.Money(v) }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func month(y int, m time.Month) kafala.Month { return generic.NewMonth(y, m) }

func (f *fixture) sponsor(pledge int64) *kafala.Sponsor {
	sp, err := f.engine.SaveSponsor(f.ctx, kafala.Sponsor{
		Type:        kafala.SponsorIndividual,
		LastName:    "Sponsor",
		FirstName:   fmt.Sprint(f.seq),
		PledgeValue: money(pledge),
	})
	require.NoError(f.t, err)
	return sp
}

func (f *fixture) beneficiary() *kafala.Beneficiary {
	g, err := f.engine.SaveGuardian(f.ctx, kafala.Guardian{LastName: "Guardian"})
	require.NoError(f.t, err)
	b, err := f.engine.SaveBeneficiary(f.ctx, kafala.Beneficiary{
		LastName:   "Orphan",
		BirthDate:  day(2015, time.June, 1),
		GuardianID: g.ID,
	})
	require.NoError(f.t, err)
	return b
}

func (f *fixture) sponsorship(sponsorID kafala.SponsorID, start time.Time) *kafala.Sponsorship {
	b := f.beneficiary()
	sp, err := f.engine.CreateSponsorship(f.ctx, kafala.SponsorshipInput{
		SponsorID:     sponsorID,
		BeneficiaryID: b.ID,
		StartDate:     start,
	}, false)
	require.NoError(f.t, err)
	return sp
}

func (f *fixture) installments(id kafala.SponsorshipID) []kafala.Installment {
	rows, err := f.store.FindInstallments(f.ctx, kafala.InstallmentFilter{SponsorshipID: id})
	require.NoError(f.t, err)
	return rows
}

func (f *fixture) installment(id kafala.SponsorshipID, m kafala.Month) kafala.Installment {
	inst, err := f.store.FindInstallment(f.ctx, kafala.InstallmentKey(id, m))
	require.NoError(f.t, err)
	return *inst
}

func (f *fixture) openInstallments(id kafala.SponsorshipID) []kafala.Installment {
	unsettled := false
	rows, err := f.store.FindInstallments(f.ctx, kafala.InstallmentFilter{SponsorshipID: id, Settled: &unsettled})
	require.NoError(f.t, err)
	return rows
}

// lastScheduledMonth is the month before the horizon: the only installment a
// sponsorship starting then gets.
var lastScheduledMonth = day(2026, time.February, 1)

// twoSingleInstallmentSponsorships builds a sponsor pledging 600 for two
// beneficiaries, each with exactly one open installment due 300.
func (f *fixture) twoSingleInstallmentSponsorships() (*kafala.Sponsor, *kafala.Sponsorship, *kafala.Sponsorship) {
	s := f.sponsor(600)
	a := f.sponsorship(s.ID, lastScheduledMonth)
	b := f.sponsorship(s.ID, lastScheduledMonth)
	require.Len(f.t, f.installments(a.ID), 1)
	require.Len(f.t, f.installments(b.ID), 1)
	return s, a, b
}

// settle marks an installment as fully paid.
func (f *fixture) settle(inst kafala.Installment) {
	paid := inst.AmountDue
	settled := true
	require.NoError(f.t, f.store.UpdateInstallment(f.ctx, inst.ID, kafala.InstallmentPatch{AmountPaid: &paid, Settled: &settled}))
}
