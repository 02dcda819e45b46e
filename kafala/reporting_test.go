package kafala_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/kafala-engine/generic"
	"github.com/warp/kafala-engine/kafala"
)

func findMonth[T any](t *testing.T, rows []T, key string, monthOf func(T) string) T {
	t.Helper()
	for _, r := range rows {
		if monthOf(r) == key {
			return r
		}
	}
	t.Fatalf("month %s not in series", key)
	var zero T
	return zero
}

func TestDashboard(t *testing.T) {
	// GIVEN: One sponsor (600) with two orphans since January, a 600 payment
	//        this month, and an idle sponsor
	// THEN: The rollups reflect the schedule and the allocation plan

	f := newFixture(t)
	s := f.sponsor(600)
	f.sponsorship(s.ID, day(2025, time.January, 1))
	f.sponsorship(s.ID, day(2025, time.January, 1))
	f.sponsor(1000)

	_, err := f.engine.CreatePayment(f.ctx, kafala.PaymentInput{Amount: money(600), Date: testNow, SponsorID: s.ID})
	require.NoError(t, err)

	d, err := kafala.NewReporter(f.store).Dashboard(f.ctx, testNow)
	require.NoError(t, err)

	assert.Equal(t, 2, d.Sponsors)
	assert.Equal(t, 2, d.Beneficiaries)
	assert.Equal(t, 2, d.Guardians)
	assert.Equal(t, 1, d.ActiveSponsors)
	assert.Equal(t, 1, d.InactiveSponsors)
	assert.True(t, d.AveragePledge.Equal(money(600)))
	assert.True(t, d.KafalaReceivedMonth.Equal(money(600)))
	assert.True(t, d.ExpectedThisMonth.Equal(money(600)))
	assert.True(t, d.MonthlyPaymentRate.Equal(money(100)))

	require.Len(t, d.ExpectedByMonth, 24)
	require.Len(t, d.CollectedByMonth, 12)
	require.Len(t, d.OverdueByMonth, 12)

	byKey := func(m kafala.MonthAmount) string { return m.Month }
	assert.True(t, findMonth(t, d.CollectedByMonth, "2025-01", byKey).Amount.Equal(money(600)),
		"collected against the installment month, not the payment date")
	assert.True(t, findMonth(t, d.CollectedByMonth, "2025-03", byKey).Amount.IsZero())

	countKey := func(m kafala.MonthCount) string { return m.Month }
	assert.Equal(t, 0, findMonth(t, d.OverdueByMonth, "2025-01", countKey).Count)
	assert.Equal(t, 2, findMonth(t, d.OverdueByMonth, "2025-02", countKey).Count)
	assert.Equal(t, 0, findMonth(t, d.OverdueByMonth, "2025-03", countKey).Count, "current month is never overdue")

	assert.True(t, d.RecoveryRate.Equal(decimal.RequireFromString("33.33")))
	assert.Equal(t, 0, d.LateSponsors)

	require.Len(t, d.TopSponsors, 1)
	assert.Equal(t, s.ID, d.TopSponsors[0].SponsorID)
}

func TestDashboard_AgeAlertsAndBuckets(t *testing.T) {
	f := newFixture(t)
	g, err := f.engine.SaveGuardian(f.ctx, kafala.Guardian{LastName: "G"})
	require.NoError(t, err)
	for _, birth := range []time.Time{
		day(2022, time.January, 1),   // 3
		day(2007, time.January, 1),   // 18
		day(2007, time.September, 1), // 17
	} {
		_, err := f.engine.SaveBeneficiary(f.ctx, kafala.Beneficiary{LastName: "B", BirthDate: birth, GuardianID: g.ID})
		require.NoError(t, err)
	}

	d, err := kafala.NewReporter(f.store).Dashboard(f.ctx, testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, d.AgeAlerts)
	assert.Equal(t, []kafala.AgeBucket{
		{Range: "0-5", Count: 1},
		{Range: "6-10", Count: 0},
		{Range: "11-15", Count: 0},
		{Range: "16-18", Count: 2},
	}, d.AgeDistribution)
}

func TestDashboard_LateSponsor(t *testing.T) {
	f := newFixture(t)
	s := f.sponsor(300)
	f.sponsorship(s.ID, day(2024, time.June, 1))

	d, err := kafala.NewReporter(f.store).Dashboard(f.ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, d.LateSponsors, "June 2024 is unpaid and older than six months")
}

func TestCollectedByInstallmentMonth_LegacyFallsBackToPaymentDate(t *testing.T) {
	plan := kafala.NewPlan(kafala.SourceAuto, []kafala.AllocationLine{
		{Month: month(2025, time.January), AmountApplied: money(100)},
		{Month: month(2025, time.February), AmountApplied: money(50)},
	})
	got := kafala.CollectedByInstallmentMonth([]kafala.Payment{
		{Amount: money(150), Date: testNow, Allocation: plan},
		{Amount: money(70), Date: day(2025, time.February, 3)},
	})

	assert.True(t, got["2025-01"].Equal(money(100)))
	assert.True(t, got["2025-02"].Equal(money(120)))
	assert.True(t, got["2025-03"].IsZero())
}

func TestSponsorshipStats(t *testing.T) {
	f := newFixture(t)
	s := f.sponsor(300)
	sp := f.sponsorship(s.ID, day(2025, time.January, 1))
	_, err := f.engine.Allocate(f.ctx, s.ID, money(450), kafala.AllocateOptions{Commit: true})
	require.NoError(t, err)

	summaries, err := kafala.NewReporter(f.store).SponsorshipStats(f.ctx, kafala.SponsorshipFilter{SponsorID: s.ID}, testNow)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	got := summaries[0]
	assert.Equal(t, sp.ID, got.Sponsorship.ID)
	assert.True(t, got.Active)
	assert.Equal(t, 14, got.Stats.Total)
	assert.Equal(t, 1, got.Stats.Settled)
	assert.Equal(t, 13, got.Stats.Pending)
	assert.True(t, got.Stats.AmountPaid.Equal(money(450)))
	assert.True(t, got.Stats.AmountRemaining.Equal(money(14*300-450)))
}

func TestStatsOf_Empty(t *testing.T) {
	st := kafala.StatsOf(nil)
	assert.Equal(t, 0, st.Total)
	assert.True(t, st.AmountRemaining.Equal(generic.Money(0)))
}
