package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_RegistersJobs(t *testing.T) {
	a := newTestAPI(t)

	s, err := NewScheduler(a.h.Engine, SchedulerConfig{
		Enabled:        true,
		ExtendSpec:     "0 2 * * *",
		AgeRefreshSpec: "30 2 * * *",
	}, a.h.Log)

	require.NoError(t, err)
	next := s.Entries()
	require.Len(t, next, 2)
	for _, n := range next {
		assert.Equal(t, 2, n.Hour())
	}
}

func TestNewScheduler_Disabled(t *testing.T) {
	a := newTestAPI(t)

	s, err := NewScheduler(a.h.Engine, SchedulerConfig{Enabled: false, ExtendSpec: "0 2 * * *"}, a.h.Log)

	require.NoError(t, err)
	assert.Empty(t, s.Entries())
}

func TestNewScheduler_InvalidSpec(t *testing.T) {
	a := newTestAPI(t)

	_, err := NewScheduler(a.h.Engine, SchedulerConfig{Enabled: true, ExtendSpec: "every day"}, a.h.Log)

	require.Error(t, err)
	assert.Contains(t, err.Error(), JobExtendSchedules)
}

func TestScheduler_RunRecordsHistory(t *testing.T) {
	// GIVEN: A sponsor whose schedule already reaches the horizon
	a := newTestAPI(t)
	a.seedTwoOrphans()
	s, err := NewScheduler(a.h.Engine, SchedulerConfig{}, a.h.Log)
	require.NoError(t, err)
	ctx := context.Background()

	// WHEN: Jobs run, one of them unknown
	n, err := s.Run(ctx, JobExtendSchedules, "cron")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = s.Run(ctx, "compact", "manual")

	// THEN: Both runs are recorded, most recent first
	require.Error(t, err)
	runs := s.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, "compact", runs[0].Job)
	assert.NotEmpty(t, runs[0].Error)
	assert.Equal(t, JobExtendSchedules, runs[1].Job)
	assert.Empty(t, runs[1].Error)
}

func TestScheduler_StartStop(t *testing.T) {
	a := newTestAPI(t)
	s, err := NewScheduler(a.h.Engine, SchedulerConfig{Enabled: true, AgeRefreshSpec: "@daily"}, a.h.Log)
	require.NoError(t, err)

	s.Start()
	s.Stop()
}
