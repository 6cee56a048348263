package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

func TestApplySimpleMisfire_RescheduleNowWithExistingCount(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stale := now.Add(-time.Hour)
	trig := &jobstore.Trigger{
		Type:               jobstore.TriggerTypeSimple,
		NextFireTime:       &stale,
		MisfireInstruction: jobstore.MisfireSimpleRescheduleNowWithExistingCount,
		Simple:             &jobstore.SimpleTriggerFields{RepeatCount: 10, RepeatInterval: time.Minute, TimesTriggered: 3},
	}

	require.NoError(t, applySimpleMisfire(trig, now))
	assert.Equal(t, now, *trig.NextFireTime)
	assert.Equal(t, 3, trig.Simple.TimesTriggered)
	assert.Equal(t, 10, trig.Simple.RepeatCount)
}

func TestApplySimpleMisfire_RescheduleNowWithRemainingCount(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stale := now.Add(-time.Hour)
	trig := &jobstore.Trigger{
		Type:               jobstore.TriggerTypeSimple,
		NextFireTime:       &stale,
		MisfireInstruction: jobstore.MisfireSimpleRescheduleNowWithRemainingCount,
		Simple:             &jobstore.SimpleTriggerFields{RepeatCount: 10, RepeatInterval: time.Minute, TimesTriggered: 3},
	}

	require.NoError(t, applySimpleMisfire(trig, now))
	assert.Equal(t, now, *trig.NextFireTime)
	assert.Equal(t, 0, trig.Simple.TimesTriggered)
	assert.Equal(t, 7, trig.Simple.RepeatCount, "remaining = original repeat count minus times already triggered")
}

func TestApplySimpleMisfire_SmartPolicy_NonRepeatingFiresNow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stale := now.Add(-time.Hour)
	trig := &jobstore.Trigger{
		Type:               jobstore.TriggerTypeSimple,
		NextFireTime:       &stale,
		MisfireInstruction: jobstore.MisfireSmartPolicy,
		Simple:             &jobstore.SimpleTriggerFields{RepeatCount: 0, TimesTriggered: 0},
	}

	require.NoError(t, applySimpleMisfire(trig, now))
	assert.Equal(t, now, *trig.NextFireTime)
}

func TestApplySimpleMisfire_Ignore_CatchesUpPastNow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	stale := now.Add(-9 * time.Minute)
	trig := &jobstore.Trigger{
		Type:               jobstore.TriggerTypeSimple,
		NextFireTime:       &stale,
		MisfireInstruction: jobstore.MisfireIgnore,
		Simple:             &jobstore.SimpleTriggerFields{RepeatCount: jobstore.RepeatForever, RepeatInterval: time.Minute},
	}

	require.NoError(t, applySimpleMisfire(trig, now))
	require.NotNil(t, trig.NextFireTime)
	assert.True(t, trig.NextFireTime.After(now))
	assert.True(t, trig.Simple.TimesTriggered > 0)
}

func TestApplyCronMisfire_SmartPolicyFiresOnceNow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stale := now.Add(-time.Hour)
	trig := &jobstore.Trigger{
		Type:               jobstore.TriggerTypeCron,
		NextFireTime:       &stale,
		MisfireInstruction: jobstore.MisfireSmartPolicy,
		Cron:               &jobstore.CronTriggerFields{CronExpression: "0 * * * *"},
	}

	require.NoError(t, applyCronMisfire(trig, now))
	assert.Equal(t, now, *trig.NextFireTime)
}

func TestApplyCronMisfire_IgnoreAdvancesToNextSchedule(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)
	stale := now.Add(-time.Hour)
	trig := &jobstore.Trigger{
		Type:               jobstore.TriggerTypeCron,
		NextFireTime:       &stale,
		MisfireInstruction: jobstore.MisfireIgnore,
		Cron:               &jobstore.CronTriggerFields{CronExpression: "0 * * * *"},
	}

	require.NoError(t, applyCronMisfire(trig, now))
	require.NotNil(t, trig.NextFireTime)
	assert.Equal(t, time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC), *trig.NextFireTime)
}
