package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiez/opensymphony-quartz-backup/engine"
	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

func TestTriggered_SimpleTrigger_AdvancesAndCounts(t *testing.T) {
	fireAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	trig := &jobstore.Trigger{
		Type:   jobstore.TriggerTypeSimple,
		Simple: &jobstore.SimpleTriggerFields{RepeatCount: 2, RepeatInterval: time.Minute},
	}

	require.NoError(t, engine.Triggered(trig, fireAt))
	assert.Equal(t, 1, trig.Simple.TimesTriggered)
	require.NotNil(t, trig.NextFireTime)
	assert.Equal(t, fireAt.Add(time.Minute), *trig.NextFireTime)

	require.NoError(t, engine.Triggered(trig, *trig.NextFireTime))
	assert.Equal(t, 2, trig.Simple.TimesTriggered)
	require.NotNil(t, trig.NextFireTime)

	require.NoError(t, engine.Triggered(trig, *trig.NextFireTime))
	assert.Equal(t, 3, trig.Simple.TimesTriggered)
	assert.Nil(t, trig.NextFireTime, "repeat count exhausted, no further fires")
}

func TestTriggered_SimpleTrigger_RespectsEndTime(t *testing.T) {
	fireAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	end := fireAt.Add(30 * time.Second)
	trig := &jobstore.Trigger{
		Type:    jobstore.TriggerTypeSimple,
		EndTime: &end,
		Simple:  &jobstore.SimpleTriggerFields{RepeatCount: jobstore.RepeatForever, RepeatInterval: time.Minute},
	}

	require.NoError(t, engine.Triggered(trig, fireAt))
	assert.Nil(t, trig.NextFireTime, "next fire falls after end time")
}

func TestTriggered_CronTrigger_ComputesNextFromExpression(t *testing.T) {
	fireAt := time.Date(2026, 1, 1, 11, 59, 0, 0, time.UTC)
	trig := &jobstore.Trigger{
		Type: jobstore.TriggerTypeCron,
		Cron: &jobstore.CronTriggerFields{CronExpression: "0 * * * *"},
	}

	require.NoError(t, engine.Triggered(trig, fireAt))
	require.NotNil(t, trig.NextFireTime)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), *trig.NextFireTime)
}

func TestFirstFireTime_SimpleTrigger_IsStartTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	trig := &jobstore.Trigger{
		Type:      jobstore.TriggerTypeSimple,
		StartTime: start,
		Simple:    &jobstore.SimpleTriggerFields{RepeatCount: 0},
	}

	next, err := engine.FirstFireTime(trig)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, start, *next)
}
