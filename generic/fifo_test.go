package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/kafala-engine/generic"
)

func TestApplyFIFO(t *testing.T) {
	// GIVEN: Jan (due 300), Feb (due 300), Mar (due 300), listed out of order
	// WHEN: 450 is applied
	// THEN: Jan +300, Feb +150, Mar untouched

	jan := generic.NewMonth(2025, time.January)
	obligations := []generic.Obligation{
		{ID: "mar", Month: jan.AddMonths(2), Due: dec("300")},
		{ID: "jan", Month: jan, Due: dec("300")},
		{ID: "feb", Month: jan.AddMonths(1), Due: dec("300")},
	}

	apps, remaining := generic.ApplyFIFO(dec("450"), obligations)

	require.Len(t, apps, 2)
	assert.Equal(t, "jan", apps[0].ObligationID)
	assert.True(t, apps[0].Amount.Equal(dec("300")))
	assert.Equal(t, "feb", apps[1].ObligationID)
	assert.True(t, apps[1].Amount.Equal(dec("150")))
	assert.True(t, remaining.IsZero())
	assert.Equal(t, "mar", obligations[0].ID, "input is not reordered")
}

func TestApplyFIFO_SkipsSettledAndOverpaid(t *testing.T) {
	jan := generic.NewMonth(2025, time.January)
	obligations := []generic.Obligation{
		{ID: "settled", Month: jan, Due: dec("300"), Paid: dec("300"), Settled: true},
		{ID: "overpaid", Month: jan.AddMonths(1), Due: dec("200"), Paid: dec("250")},
		{ID: "open", Month: jan.AddMonths(2), Due: dec("300"), Paid: dec("100")},
	}

	apps, remaining := generic.ApplyFIFO(dec("500"), obligations)

	require.Len(t, apps, 1)
	assert.Equal(t, "open", apps[0].ObligationID)
	assert.True(t, apps[0].Amount.Equal(dec("200")))
	assert.True(t, remaining.Equal(dec("300")))
}

func TestApplyFIFO_NothingToApply(t *testing.T) {
	apps, remaining := generic.ApplyFIFO(dec("0"), []generic.Obligation{{ID: "a", Due: dec("10")}})
	assert.Empty(t, apps)
	assert.True(t, remaining.IsZero())

	apps, remaining = generic.ApplyFIFO(dec("10"), nil)
	assert.Empty(t, apps)
	assert.True(t, remaining.Equal(dec("10")))
}

func TestIsSettled(t *testing.T) {
	assert.True(t, generic.IsSettled(dec("300"), dec("300")))
	assert.True(t, generic.IsSettled(dec("301"), dec("300")))
	assert.False(t, generic.IsSettled(dec("299.99"), dec("300")))
}
