package generic_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/kafala-engine/generic"
)

func TestMonth(t *testing.T) {
	m := generic.MonthOf(time.Date(2025, time.November, 23, 18, 0, 0, 0, time.UTC))
	assert.Equal(t, "2025-11", m.Key())
	assert.Equal(t, "2025-11-01", m.String())
	assert.Equal(t, "2026-02", m.AddMonths(3).Key())
	assert.Equal(t, "2024-11", m.AddMonths(-12).Key())
	assert.True(t, m.Before(m.Next()))
	assert.Equal(t, 14, generic.MonthsBetween(generic.NewMonth(2025, time.January), generic.NewMonth(2026, time.March)))
}

func TestParseMonth(t *testing.T) {
	for _, in := range []string{"2025-03-17", "2025-03", "2025-03-17T10:00:00Z"} {
		m, err := generic.ParseMonth(in)
		require.NoError(t, err, in)
		assert.Equal(t, "2025-03", m.Key(), in)
	}
	_, err := generic.ParseMonth("March")
	assert.Error(t, err)
}

func TestMonth_JSON(t *testing.T) {
	var got struct {
		Month generic.Month `json:"month"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"month":"2025-07"}`), &got))
	assert.Equal(t, "2025-07", got.Month.Key())

	out, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"month":"2025-07-01"}`, string(out))
}

func TestPeriod(t *testing.T) {
	start := generic.NewMonth(2025, time.October)

	p := generic.Period{Start: start, End: generic.Horizon(start)}
	assert.Equal(t, 12, p.Len())
	assert.True(t, p.Contains(start))
	assert.False(t, p.Contains(p.End), "end is exclusive")
	assert.Equal(t, "2026-09", p.Months()[11].Key())

	assert.True(t, generic.Period{Start: start, End: start}.IsEmpty())
	assert.True(t, generic.Period{Start: start, End: start.AddMonths(-2)}.IsEmpty())
	assert.Empty(t, generic.Period{Start: start, End: start.AddMonths(-2)}.Months())

	clamped := p.Clamp(start.AddMonths(3))
	assert.Equal(t, 3, clamped.Len())
	assert.Equal(t, 12, p.Clamp(start.AddMonths(20)).Len(), "a later end does not extend")
}

func TestEndOfMonth(t *testing.T) {
	end := generic.EndOfMonth(time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 29, end.Day())
	assert.Equal(t, time.February, end.Month())
	assert.Equal(t, 23, end.Hour())
}
