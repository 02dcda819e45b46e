package kafala_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/kafala-engine/generic"
	"github.com/warp/kafala-engine/kafala"
)

// =============================================================================
// ACTIVITY & AGE
// =============================================================================

func TestIsActive(t *testing.T) {
	past := testNow.Add(-time.Second)
	future := testNow.Add(time.Second)

	assert.True(t, kafala.IsActive(nil, testNow))
	assert.True(t, kafala.IsActive(&future, testNow))
	assert.False(t, kafala.IsActive(&past, testNow))
	assert.False(t, kafala.IsActive(&testNow, testNow), "ending now is no longer active")
}

func TestCalculateAge(t *testing.T) {
	tests := []struct {
		birth time.Time
		want  int
	}{
		{day(2015, time.March, 15), 10},
		{day(2015, time.March, 16), 9},
		{day(2015, time.February, 28), 10},
		{day(2025, time.March, 1), 0},
		{day(2026, time.January, 1), 0},
		{time.Time{}, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, kafala.CalculateAge(tt.birth, testNow), "born %s", tt.birth.Format("2006-01-02"))
	}
}

func TestIsEligibleForAlert(t *testing.T) {
	assert.False(t, kafala.IsEligibleForAlert(17))
	assert.True(t, kafala.IsEligibleForAlert(17.5))
	assert.True(t, kafala.IsEligibleForAlert(18))
}

// =============================================================================
// SCHEDULE
// =============================================================================

func TestSchedulePeriod(t *testing.T) {
	open := kafala.SchedulePeriod(day(2025, time.January, 20), nil, testNow)
	assert.Equal(t, "2025-01", open.Start.Key())
	assert.Equal(t, "2026-03", open.End.Key())
	assert.Equal(t, 14, open.Len())

	end := day(2025, time.April, 1)
	bounded := kafala.SchedulePeriod(day(2025, time.January, 20), &end, testNow)
	assert.Equal(t, 3, bounded.Len(), "end month excluded")

	before := day(2024, time.December, 1)
	assert.True(t, kafala.SchedulePeriod(day(2025, time.January, 20), &before, testNow).IsEmpty())
}

func TestPlanInstallments(t *testing.T) {
	period := generic.Period{Start: month(2025, time.November), End: month(2026, time.February)}
	batch := kafala.PlanInstallments("sp-1", period, money(200))

	require.Len(t, batch, 3)
	assert.Equal(t, kafala.InstallmentID("sp-1-2025-11"), batch[0].ID)
	assert.Equal(t, kafala.InstallmentID("sp-1-2026-01"), batch[2].ID)
	for _, inst := range batch {
		assert.True(t, inst.AmountDue.Equal(money(200)))
		assert.True(t, inst.AmountPaid.IsZero())
		assert.False(t, inst.Settled)
	}
}

// =============================================================================
// LEGACY FIFO
// =============================================================================

func TestAllocateSingleBeneficiaryFIFO(t *testing.T) {
	rows := []kafala.Installment{
		{ID: "mar", SponsorshipID: "sp", Month: month(2025, time.March), AmountDue: money(300)},
		{ID: "jan", SponsorshipID: "sp", Month: month(2025, time.January), AmountDue: money(300), AmountPaid: money(300), Settled: true},
		{ID: "feb", SponsorshipID: "sp", Month: month(2025, time.February), AmountDue: money(300), AmountPaid: money(100)},
	}

	lines := kafala.AllocateSingleBeneficiaryFIFO(money(250), rows)

	require.Len(t, lines, 2)
	assert.Equal(t, kafala.InstallmentID("feb"), lines[0].InstallmentID)
	assert.True(t, lines[0].AmountApplied.Equal(money(200)))
	assert.Equal(t, kafala.InstallmentID("mar"), lines[1].InstallmentID)
	assert.True(t, lines[1].AmountApplied.Equal(money(50)))
	assert.Equal(t, kafala.SponsorshipID("sp"), lines[1].SponsorshipID)

	assert.Empty(t, kafala.AllocateSingleBeneficiaryFIFO(money(0), rows))
	assert.Empty(t, kafala.AllocateSingleBeneficiaryFIFO(money(100), nil))
}

// =============================================================================
// PLAN CODEC
// =============================================================================

func TestPlanCodec(t *testing.T) {
	plan := kafala.NewPlan(kafala.SourceEdited, []kafala.AllocationLine{{
		BeneficiaryID: "b", SponsorshipID: "sp", InstallmentID: "sp-2025-01",
		Month: month(2025, time.January), AmountApplied: money(125),
	}})

	data, err := kafala.MarshalPlan(plan)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"installmentId":"sp-2025-01"`)
	assert.Contains(t, string(data), `"month":"2025-01-01"`)

	back, err := kafala.UnmarshalPlan(data)
	require.NoError(t, err)
	assert.Equal(t, kafala.SourceEdited, back.Source)
	assert.True(t, back.Total().Equal(money(125)))
	assert.True(t, back.Lines[0].Month.Equal(month(2025, time.January)))
}

func TestUnmarshalPlan_Variants(t *testing.T) {
	t.Run("empty and null are legacy", func(t *testing.T) {
		for _, in := range []string{"", "  ", "null"} {
			p, err := kafala.UnmarshalPlan([]byte(in))
			require.NoError(t, err)
			assert.True(t, p.IsLegacy())
		}
	})

	t.Run("bare array is version 0", func(t *testing.T) {
		p, err := kafala.UnmarshalPlan([]byte(`[{"beneficiaryId":"b","sponsorshipId":"sp","installmentId":"i","month":"2025-02-01","amountApplied":"10.5"}]`))
		require.NoError(t, err)
		assert.Equal(t, 0, p.Version)
		assert.Equal(t, kafala.SourceAuto, p.Source)
		assert.True(t, p.Total().Equal(generic.MustParseMoney("10.5")))
	})

	t.Run("future version is rejected", func(t *testing.T) {
		_, err := kafala.UnmarshalPlan([]byte(`{"version":2,"source":"auto","lines":[]}`))
		assert.True(t, generic.IsClientError(err))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := kafala.UnmarshalPlan([]byte(`{`))
		assert.Error(t, err)
	})
}

func TestMarshalPlan_Nil(t *testing.T) {
	data, err := kafala.MarshalPlan(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}
