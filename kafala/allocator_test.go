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

// =============================================================================
// WORKED SCENARIOS
// =============================================================================

func TestRecompute_PledgeSplitAcrossActiveSponsorships(t *testing.T) {
	// GIVEN: Sponsor pledging 600 with 2 active sponsorships
	// THEN: Every open installment is due 300

	f := newFixture(t)
	s := f.sponsor(600)
	a := f.sponsorship(s.ID, day(2025, time.January, 1))
	b := f.sponsorship(s.ID, day(2025, time.January, 1))

	for _, id := range []kafala.SponsorshipID{a.ID, b.ID} {
		rows := f.installments(id)
		require.Len(t, rows, 14, "January 2025 up to the horizon (exclusive March 2026)")
		for _, inst := range rows {
			assert.True(t, inst.AmountDue.Equal(money(300)), "month %s", inst.Month.Key())
		}
	}

	stored, err := f.store.FindSponsor(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ActiveSponsorshipCount)
}

func TestAllocate_FullPayment_SettlesBoth(t *testing.T) {
	// GIVEN: 2 beneficiaries each with one open installment due 300
	// WHEN: 600 is allocated with commit
	// THEN: 2 lines of 300, nothing remaining, both settled

	f := newFixture(t)
	s, a, b := f.twoSingleInstallmentSponsorships()

	res, err := f.engine.Allocate(f.ctx, s.ID, money(600), kafala.AllocateOptions{Commit: true})
	require.NoError(t, err)

	require.Len(t, res.Lines, 2)
	for _, l := range res.Lines {
		assert.True(t, l.AmountApplied.Equal(money(300)))
	}
	assert.True(t, res.AmountRemaining.IsZero())
	assert.Equal(t, 2, res.InstallmentsTouched)

	for _, sp := range []*kafala.Sponsorship{a, b} {
		inst := f.installment(sp.ID, generic.MonthOf(lastScheduledMonth))
		assert.True(t, inst.AmountPaid.Equal(money(300)))
		assert.True(t, inst.Settled)
	}
}

func TestAllocate_PartialPayment_SplitsEqually(t *testing.T) {
	// GIVEN: Same setup
	// WHEN: 250 is allocated
	// THEN: 125 each, both unsettled, nothing remaining

	f := newFixture(t)
	s, a, b := f.twoSingleInstallmentSponsorships()

	res, err := f.engine.Allocate(f.ctx, s.ID, money(250), kafala.AllocateOptions{Commit: true})
	require.NoError(t, err)

	assert.True(t, res.AmountRemaining.IsZero())
	for _, sp := range []*kafala.Sponsorship{a, b} {
		assert.True(t, res.AmountsByBeneficiary[sp.BeneficiaryID].Equal(money(125)))
		inst := f.installment(sp.ID, generic.MonthOf(lastScheduledMonth))
		assert.True(t, inst.AmountPaid.Equal(money(125)))
		assert.False(t, inst.Settled)
	}
}

func TestAllocate_BeneficiaryWithNothingOpen_LeavesSurplus(t *testing.T) {
	// GIVEN: A has no open installment, B has one due 300
	// WHEN: 600 is allocated
	// THEN: A's share stays unapplied, 300 remaining

	f := newFixture(t)
	s, a, b := f.twoSingleInstallmentSponsorships()
	f.settle(f.installment(a.ID, generic.MonthOf(lastScheduledMonth)))

	res, err := f.engine.Allocate(f.ctx, s.ID, money(600), kafala.AllocateOptions{Commit: true})
	require.NoError(t, err)

	assert.True(t, res.AmountRemaining.Equal(money(300)))
	assert.True(t, res.AmountsByBeneficiary[a.BeneficiaryID].IsZero())
	assert.Contains(t, res.AmountsByBeneficiary, a.BeneficiaryID, "zero entries are reported")
	assert.True(t, res.AmountsByBeneficiary[b.BeneficiaryID].Equal(money(300)))

	inst := f.installment(b.ID, generic.MonthOf(lastScheduledMonth))
	assert.True(t, inst.AmountPaid.Equal(money(300)))
	assert.True(t, inst.Settled)
}

func TestDeletePayment_RestoresInstallments(t *testing.T) {
	// GIVEN: The full payment of 600 recorded
	// WHEN: The payment is deleted
	// THEN: Both installments are back to unpaid

	f := newFixture(t)
	s, a, b := f.twoSingleInstallmentSponsorships()

	out, err := f.engine.CreatePayment(f.ctx, kafala.PaymentInput{
		Amount: money(600), Date: testNow, Type: kafala.PaymentKafala, SponsorID: s.ID,
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.DeletePayment(f.ctx, out.Payment.ID))

	for _, sp := range []*kafala.Sponsorship{a, b} {
		inst := f.installment(sp.ID, generic.MonthOf(lastScheduledMonth))
		assert.True(t, inst.AmountPaid.IsZero())
		assert.False(t, inst.Settled)
	}
	_, err = f.store.FindPayment(f.ctx, out.Payment.ID)
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestAllocate_FIFOWithinBeneficiary(t *testing.T) {
	// GIVEN: 2 beneficiaries from January, 300 due per month
	// WHEN: 900 is allocated (450 each)
	// THEN: January settled, February half paid, months non-decreasing

	f := newFixture(t)
	s := f.sponsor(600)
	a := f.sponsorship(s.ID, day(2025, time.January, 1))
	f.sponsorship(s.ID, day(2025, time.January, 1))

	res, err := f.engine.Allocate(f.ctx, s.ID, money(900), kafala.AllocateOptions{Commit: true})
	require.NoError(t, err)

	last := map[kafala.BeneficiaryID]kafala.Month{}
	for _, l := range res.Lines {
		if prev, ok := last[l.BeneficiaryID]; ok {
			assert.False(t, l.Month.Before(prev), "lines of one beneficiary go oldest month first")
		}
		last[l.BeneficiaryID] = l.Month
	}

	jan := f.installment(a.ID, month(2025, time.January))
	feb := f.installment(a.ID, month(2025, time.February))
	mar := f.installment(a.ID, month(2025, time.March))
	assert.True(t, jan.Settled)
	assert.True(t, feb.AmountPaid.Equal(money(150)))
	assert.False(t, feb.Settled)
	assert.True(t, mar.AmountPaid.IsZero())
}

func TestAllocate_Conservation(t *testing.T) {
	f := newFixture(t)
	s := f.sponsor(900)
	for i := 0; i < 3; i++ {
		f.sponsorship(s.ID, day(2025, time.January, 1))
	}

	for _, amount := range []string{"100", "0.01", "899.99", "12600", "20000"} {
		res, err := f.engine.Allocate(f.ctx, s.ID, decimal.RequireFromString(amount), kafala.AllocateOptions{})
		require.NoError(t, err)

		applied := decimal.Zero
		for _, l := range res.Lines {
			applied = applied.Add(l.AmountApplied)
		}
		assert.True(t, applied.Equal(decimal.RequireFromString(amount).Sub(res.AmountRemaining)), "amount %s", amount)
		assert.False(t, res.AmountRemaining.IsNegative(), "amount %s", amount)
	}
}

func TestAllocate_EqualSplit_RoundingResidueOnLast(t *testing.T) {
	// GIVEN: 3 beneficiaries, plenty open
	// WHEN: 100 is previewed
	// THEN: 33.33 / 33.33 / 33.34

	f := newFixture(t)
	s := f.sponsor(900)
	var sponsorships []*kafala.Sponsorship
	for i := 0; i < 3; i++ {
		sponsorships = append(sponsorships, f.sponsorship(s.ID, day(2025, time.January, 1)))
	}

	res, err := f.engine.Allocate(f.ctx, s.ID, money(100), kafala.AllocateOptions{})
	require.NoError(t, err)

	want := []string{"33.33", "33.33", "33.34"}
	for i, sp := range sponsorships {
		got := res.AmountsByBeneficiary[sp.BeneficiaryID]
		assert.True(t, got.Equal(decimal.RequireFromString(want[i])), "beneficiary %d got %s", i, got)
	}
	assert.True(t, res.AmountRemaining.IsZero())
}

func TestAllocate_SettledFlagMatchesAmounts(t *testing.T) {
	f := newFixture(t)
	s := f.sponsor(600)
	a := f.sponsorship(s.ID, day(2025, time.January, 1))
	b := f.sponsorship(s.ID, day(2025, time.January, 1))

	_, err := f.engine.Allocate(f.ctx, s.ID, decimal.RequireFromString("1234.56"), kafala.AllocateOptions{Commit: true})
	require.NoError(t, err)

	for _, id := range []kafala.SponsorshipID{a.ID, b.ID} {
		for _, inst := range f.installments(id) {
			assert.Equal(t, generic.IsSettled(inst.AmountPaid, inst.AmountDue), inst.Settled, "month %s", inst.Month.Key())
		}
	}
}

func TestReverseAllocation_RoundTrip(t *testing.T) {
	// GIVEN: A partially paid schedule
	// WHEN: A payment is committed then reversed
	// THEN: Every installment is back to its exact previous state

	f := newFixture(t)
	s := f.sponsor(600)
	a := f.sponsorship(s.ID, day(2025, time.January, 1))
	b := f.sponsorship(s.ID, day(2025, time.January, 1))

	_, err := f.engine.Allocate(f.ctx, s.ID, money(250), kafala.AllocateOptions{Commit: true})
	require.NoError(t, err)
	before := append(f.installments(a.ID), f.installments(b.ID)...)

	out, err := f.engine.CreatePayment(f.ctx, kafala.PaymentInput{
		Amount: money(1000), Date: testNow, SponsorID: s.ID,
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.ReverseAllocation(f.ctx, out.Payment.ID))

	after := append(f.installments(a.ID), f.installments(b.ID)...)
	require.Len(t, after, len(before))
	for i := range before {
		assert.True(t, before[i].AmountPaid.Equal(after[i].AmountPaid), "installment %s", before[i].ID)
		assert.Equal(t, before[i].Settled, after[i].Settled, "installment %s", before[i].ID)
	}
}

func TestReverseAllocation_NeverNegative(t *testing.T) {
	f := newFixture(t)
	s, a, _ := f.twoSingleInstallmentSponsorships()

	out, err := f.engine.CreatePayment(f.ctx, kafala.PaymentInput{Amount: money(600), Date: testNow, SponsorID: s.ID})
	require.NoError(t, err)

	// Someone lowered the paid amount behind the payment's back.
	inst := f.installment(a.ID, generic.MonthOf(lastScheduledMonth))
	paid := money(100)
	require.NoError(t, f.store.UpdateInstallment(f.ctx, inst.ID, kafala.InstallmentPatch{AmountPaid: &paid}))

	require.NoError(t, f.engine.ReverseAllocation(f.ctx, out.Payment.ID))
	inst = f.installment(a.ID, generic.MonthOf(lastScheduledMonth))
	assert.True(t, inst.AmountPaid.IsZero())
	assert.False(t, inst.Settled)
}

// =============================================================================
// PREVIEW, HORIZON, OVERRIDE
// =============================================================================

func TestAllocate_Preview_DoesNotMutate(t *testing.T) {
	// GIVEN: Schedules truncated after May 2025
	// WHEN: A large payment is previewed
	// THEN: The plan reaches the horizon but the store is left untouched

	f := newFixture(t)
	s := f.sponsor(600)
	a := f.sponsorship(s.ID, day(2025, time.January, 1))
	b := f.sponsorship(s.ID, day(2025, time.January, 1))

	june := month(2025, time.June)
	for _, id := range []kafala.SponsorshipID{a.ID, b.ID} {
		_, err := f.store.DeleteInstallments(f.ctx, kafala.InstallmentFilter{SponsorshipID: id, From: &june})
		require.NoError(t, err)
	}

	res, err := f.engine.Allocate(f.ctx, s.ID, money(100000), kafala.AllocateOptions{Commit: false})
	require.NoError(t, err)
	assert.Equal(t, 28, res.InstallmentsTouched, "preview saw the extended schedule")
	assert.True(t, res.AmountRemaining.Equal(money(100000-28*300)))

	for _, id := range []kafala.SponsorshipID{a.ID, b.ID} {
		rows := f.installments(id)
		assert.Len(t, rows, 5, "extension rolled back")
		for _, inst := range rows {
			assert.True(t, inst.AmountPaid.IsZero())
		}
	}
}

func TestAllocate_Commit_ExtendsHorizon(t *testing.T) {
	f := newFixture(t)
	s := f.sponsor(300)
	a := f.sponsorship(s.ID, day(2025, time.January, 1))

	june := month(2025, time.June)
	_, err := f.store.DeleteInstallments(f.ctx, kafala.InstallmentFilter{SponsorshipID: a.ID, From: &june})
	require.NoError(t, err)

	_, err = f.engine.Allocate(f.ctx, s.ID, money(300), kafala.AllocateOptions{Commit: true})
	require.NoError(t, err)

	rows := f.installments(a.ID)
	require.Len(t, rows, 14)
	assert.Equal(t, "2026-02", rows[len(rows)-1].Month.Key())
}

func TestAllocate_HorizonStopsAtEndDate(t *testing.T) {
	f := newFixture(t)
	s := f.sponsor(300)
	b := f.beneficiary()
	end := day(2025, time.August, 20)
	sp, err := f.engine.CreateSponsorship(f.ctx, kafala.SponsorshipInput{
		SponsorID: s.ID, BeneficiaryID: b.ID, StartDate: day(2025, time.January, 1), EndDate: &end,
	}, false)
	require.NoError(t, err)
	require.Len(t, f.installments(sp.ID), 7, "January to July")

	_, err = f.engine.Allocate(f.ctx, s.ID, money(300), kafala.AllocateOptions{Commit: true})
	require.NoError(t, err)
	assert.Len(t, f.installments(sp.ID), 7)
}

func TestApplyPlan_AppliesEditedLinesAsGiven(t *testing.T) {
	// GIVEN: A plan edited away from the equal split (500 / 100)
	// WHEN: The plan is applied
	// THEN: Each line lands as given, settled derived per installment

	f := newFixture(t)
	_, a, b := f.twoSingleInstallmentSponsorships()
	m := generic.MonthOf(lastScheduledMonth)

	lines := []kafala.AllocationLine{
		{BeneficiaryID: a.BeneficiaryID, SponsorshipID: a.ID, InstallmentID: kafala.InstallmentKey(a.ID, m), Month: m, AmountApplied: money(500)},
		{BeneficiaryID: b.BeneficiaryID, SponsorshipID: b.ID, InstallmentID: kafala.InstallmentKey(b.ID, m), Month: m, AmountApplied: money(100)},
	}
	res, err := f.engine.ApplyPlan(f.ctx, lines)
	require.NoError(t, err)
	assert.Equal(t, 2, res.InstallmentsTouched)

	instA := f.installment(a.ID, m)
	instB := f.installment(b.ID, m)
	assert.True(t, instA.AmountPaid.Equal(money(500)))
	assert.True(t, instA.Settled)
	assert.True(t, instB.AmountPaid.Equal(money(100)))
	assert.False(t, instB.Settled)
}

func TestApplyPlan_MissingInstallment_AbortsWholeUnit(t *testing.T) {
	// GIVEN: A plan whose second line names a deleted installment
	// WHEN: The plan is applied
	// THEN: Not found, and the first line left no trace

	f := newFixture(t)
	_, a, b := f.twoSingleInstallmentSponsorships()
	m := generic.MonthOf(lastScheduledMonth)

	lines := []kafala.AllocationLine{
		{BeneficiaryID: a.BeneficiaryID, SponsorshipID: a.ID, InstallmentID: kafala.InstallmentKey(a.ID, m), Month: m, AmountApplied: money(300)},
		{BeneficiaryID: b.BeneficiaryID, SponsorshipID: b.ID, InstallmentID: "gone", Month: m, AmountApplied: money(300)},
	}
	_, err := f.engine.ApplyPlan(f.ctx, lines)
	require.Error(t, err)
	assert.True(t, generic.IsNotFound(err))

	inst := f.installment(a.ID, m)
	assert.True(t, inst.AmountPaid.IsZero())
}

func TestApplyPlan_WrongSponsorship_Rejected(t *testing.T) {
	f := newFixture(t)
	_, a, b := f.twoSingleInstallmentSponsorships()
	m := generic.MonthOf(lastScheduledMonth)

	_, err := f.engine.ApplyPlan(f.ctx, []kafala.AllocationLine{
		{BeneficiaryID: a.BeneficiaryID, SponsorshipID: b.ID, InstallmentID: kafala.InstallmentKey(a.ID, m), Month: m, AmountApplied: money(10)},
	})
	assert.True(t, generic.IsClientError(err))
}

// =============================================================================
// FAILURES
// =============================================================================

func TestAllocate_Rejections(t *testing.T) {
	f := newFixture(t)
	lonely := f.sponsor(600)
	s, _, _ := f.twoSingleInstallmentSponsorships()

	_, err := f.engine.Allocate(f.ctx, lonely.ID, money(100), kafala.AllocateOptions{})
	assert.ErrorIs(t, err, kafala.ErrNoActiveSponsorship)
	assert.True(t, generic.IsClientError(err))

	_, err = f.engine.Allocate(f.ctx, s.ID, decimal.Zero, kafala.AllocateOptions{})
	assert.ErrorIs(t, err, generic.ErrNonPositiveAmount)

	_, err = f.engine.Allocate(f.ctx, s.ID, money(-5), kafala.AllocateOptions{})
	assert.ErrorIs(t, err, generic.ErrNonPositiveAmount)

	_, err = f.engine.Allocate(f.ctx, "missing", money(100), kafala.AllocateOptions{})
	assert.True(t, generic.IsNotFound(err))
}

func TestAllocate_SubCentAmount_Rejected(t *testing.T) {
	// GIVEN: Two beneficiaries due 300 each
	f := newFixture(t)
	s, a, b := f.twoSingleInstallmentSponsorships()

	// WHEN: The payment carries a tenth of a cent
	_, err := f.engine.Allocate(f.ctx, s.ID, decimal.RequireFromString("100.005"), kafala.AllocateOptions{Commit: true})

	// THEN: Rejected as a validation error, nothing paid
	assert.ErrorIs(t, err, generic.ErrSubUnitAmount)
	assert.True(t, generic.IsClientError(err))
	for _, id := range []kafala.SponsorshipID{a.ID, b.ID} {
		for _, inst := range f.installments(id) {
			assert.True(t, inst.AmountPaid.IsZero())
		}
	}
}

func TestApplyPlan_SubCentLine_Rejected(t *testing.T) {
	f := newFixture(t)
	_, a, _ := f.twoSingleInstallmentSponsorships()
	inst := f.installments(a.ID)[0]

	_, err := f.engine.ApplyPlan(f.ctx, []kafala.AllocationLine{{
		SponsorshipID: a.ID,
		InstallmentID: inst.ID,
		Month:         inst.Month,
		AmountApplied: decimal.RequireFromString("50.005"),
	}})

	assert.ErrorIs(t, err, generic.ErrValidation)
	assert.True(t, f.installment(a.ID, inst.Month).AmountPaid.IsZero())
}
