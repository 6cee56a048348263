package cluster_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiez/opensymphony-quartz-backup/cluster"
	"github.com/stiez/opensymphony-quartz-backup/internal/clock"
	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

func TestTick_ChecksInAndSkipsHealthyPeers(t *testing.T) {
	store := jobstore.NewMemStore()
	fc := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.InsertSchedulerInstance(context.Background(), &jobstore.SchedulerInstance{
		InstanceId:      "peer-1",
		LastCheckinTime: fc.Now(),
		CheckinInterval: 15 * time.Second,
	}))

	m, err := cluster.NewManager(store, cluster.Config{InstanceId: "self"}, cluster.WithClock(fc))
	require.NoError(t, err)

	require.NoError(t, m.Tick(context.Background()))

	instances, err := store.SchedulerInstances(context.Background())
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, inst := range instances {
		ids[inst.InstanceId] = true
		if inst.InstanceId == "peer-1" {
			assert.Empty(t, inst.Recoverer, "a healthy peer must not be claimed for recovery")
		}
	}
	assert.True(t, ids["self"], "Tick must upsert this instance's own heartbeat")
	assert.True(t, ids["peer-1"])
}

func TestTick_ClaimsAndRecoversFailedPeer(t *testing.T) {
	store := jobstore.NewMemStore()
	ctx := context.Background()
	fc := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	jobKey := jobstore.Key{Name: "recoverable-job", Group: jobstore.DefaultGroup}
	require.NoError(t, store.InsertJob(ctx, &jobstore.JobDetail{
		Key:              jobKey,
		JobClass:         "widget.Refresh",
		Durable:          true,
		RequestsRecovery: true,
	}))

	origTriggerKey := jobstore.Key{Name: "orig-trigger", Group: jobstore.DefaultGroup}
	firedTime := fc.Now().Add(-5 * time.Minute)
	require.NoError(t, store.InsertTrigger(ctx, &jobstore.Trigger{
		Key:           origTriggerKey,
		JobKey:        jobKey,
		StartTime:     firedTime,
		NextFireTime:  &firedTime,
		State:         jobstore.StateWaiting,
		Type:          jobstore.TriggerTypeSimple,
		Simple:        &jobstore.SimpleTriggerFields{RepeatCount: 0},
	}))

	volatileTriggerKey := jobstore.Key{Name: "volatile-trigger", Group: jobstore.DefaultGroup}
	require.NoError(t, store.InsertTrigger(ctx, &jobstore.Trigger{
		Key:          volatileTriggerKey,
		JobKey:       jobKey,
		Volatile:     true,
		StartTime:    firedTime,
		NextFireTime: &firedTime,
		State:        jobstore.StateWaiting,
		Type:         jobstore.TriggerTypeSimple,
		Simple:       &jobstore.SimpleTriggerFields{RepeatCount: 0},
	}))

	// Drive both triggers through the real acquire → fire path under
	// "dead-1" so the fired-trigger ledger looks exactly like what a live
	// instance would have left behind before crashing mid-execution.
	claimed, err := store.AcquireNextTriggers(ctx, "dead-1", fc.Now(), time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	_, err = store.TriggersFired(ctx, "dead-1", claimed)
	require.NoError(t, err)

	require.NoError(t, store.InsertSchedulerInstance(ctx, &jobstore.SchedulerInstance{
		InstanceId:      "dead-1",
		LastCheckinTime: fc.Now().Add(-time.Hour),
		CheckinInterval: 15 * time.Second,
	}))

	m, err := cluster.NewManager(store, cluster.Config{InstanceId: "self", CheckinInterval: 15 * time.Second}, cluster.WithClock(fc))
	require.NoError(t, err)

	require.NoError(t, m.Tick(ctx))

	instances, err := store.SchedulerInstances(ctx)
	require.NoError(t, err)
	for _, inst := range instances {
		assert.NotEqual(t, "dead-1", inst.InstanceId, "recovery must remove the dead instance's heartbeat row")
	}

	remaining, err := store.FiredTriggersByInstance(ctx, "dead-1")
	require.NoError(t, err)
	assert.Empty(t, remaining, "recovery must clear the dead instance's whole fired-trigger ledger")

	names, err := store.TriggerNamesInGroup(ctx, "RECOVERING_JOBS")
	require.NoError(t, err)
	require.Len(t, names, 1, "only the non-volatile recoverable entry should produce a synthetic recovery trigger")

	recoveryTrigger, err := store.GetTrigger(ctx, jobstore.Key{Name: names[0], Group: "RECOVERING_JOBS"})
	require.NoError(t, err)
	assert.Equal(t, jobKey, recoveryTrigger.JobKey)
	assert.Equal(t, origTriggerKey.Name, recoveryTrigger.JobDataMap[jobstore.FailedJobOriginalTriggerName])
	assert.Equal(t, origTriggerKey.Group, recoveryTrigger.JobDataMap[jobstore.FailedJobOriginalTriggerGroup])
	require.NotNil(t, recoveryTrigger.NextFireTime)
	assert.True(t, firedTime.Equal(*recoveryTrigger.NextFireTime), "a recovery trigger must fire at the original fired time, not at recovery time")
	assert.Equal(t, jobstore.MisfireFireNow, recoveryTrigger.MisfireInstruction)
}

func TestTick_RecoveryUnblocksStatefulJobSiblings(t *testing.T) {
	store := jobstore.NewMemStore()
	ctx := context.Background()
	fc := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	jobKey := jobstore.Key{Name: "stateful-job", Group: jobstore.DefaultGroup}
	require.NoError(t, store.InsertJob(ctx, &jobstore.JobDetail{
		Key:      jobKey,
		JobClass: "widget.Refresh",
		Durable:  true,
		Stateful: true,
	}))

	firingTriggerKey := jobstore.Key{Name: "firing-trigger", Group: jobstore.DefaultGroup}
	firedTime := fc.Now().Add(-5 * time.Minute)
	require.NoError(t, store.InsertTrigger(ctx, &jobstore.Trigger{
		Key:          firingTriggerKey,
		JobKey:       jobKey,
		StartTime:    firedTime,
		NextFireTime: &firedTime,
		State:        jobstore.StateWaiting,
		Type:         jobstore.TriggerTypeSimple,
		Simple:       &jobstore.SimpleTriggerFields{RepeatCount: 0},
	}))

	blockedSiblingKey := jobstore.Key{Name: "blocked-sibling", Group: jobstore.DefaultGroup}
	futureFire := fc.Now().Add(time.Hour)
	require.NoError(t, store.InsertTrigger(ctx, &jobstore.Trigger{
		Key:          blockedSiblingKey,
		JobKey:       jobKey,
		StartTime:    fc.Now(),
		NextFireTime: &futureFire,
		State:        jobstore.StateWaiting,
		Type:         jobstore.TriggerTypeSimple,
		Simple:       &jobstore.SimpleTriggerFields{RepeatCount: jobstore.RepeatForever},
	}))

	// Fire firingTriggerKey under "dead-1": the stateful-job cascade in
	// TriggersFired blocks blockedSiblingKey, exactly as a live instance
	// would leave things before crashing mid-execution. The acquisition
	// window is kept short so blockedSiblingKey's own (future) fire time
	// isn't swept up alongside it.
	claimed, err := store.AcquireNextTriggers(ctx, "dead-1", fc.Now(), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	_, err = store.TriggersFired(ctx, "dead-1", claimed)
	require.NoError(t, err)

	state, err := store.GetTriggerState(ctx, blockedSiblingKey)
	require.NoError(t, err)
	require.Equal(t, jobstore.StateBlocked, state, "precondition: the sibling must be BLOCKED before recovery")

	require.NoError(t, store.InsertSchedulerInstance(ctx, &jobstore.SchedulerInstance{
		InstanceId:      "dead-1",
		LastCheckinTime: fc.Now().Add(-time.Hour),
		CheckinInterval: 15 * time.Second,
	}))

	m, err := cluster.NewManager(store, cluster.Config{InstanceId: "self", CheckinInterval: 15 * time.Second}, cluster.WithClock(fc))
	require.NoError(t, err)

	require.NoError(t, m.Tick(ctx))

	state, err = store.GetTriggerState(ctx, blockedSiblingKey)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StateWaiting, state, "recovering the dead instance must unblock the stateful job's sibling triggers")
}

func TestTick_DoesNotReclaimAlreadyClaimedPeer(t *testing.T) {
	store := jobstore.NewMemStore()
	ctx := context.Background()
	fc := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, store.InsertSchedulerInstance(ctx, &jobstore.SchedulerInstance{
		InstanceId:      "dead-1",
		LastCheckinTime: fc.Now().Add(-time.Hour),
		CheckinInterval: 15 * time.Second,
		Recoverer:       "other-instance",
	}))

	m, err := cluster.NewManager(store, cluster.Config{InstanceId: "self"}, cluster.WithClock(fc))
	require.NoError(t, err)

	require.NoError(t, m.Tick(ctx))

	instances, err := store.SchedulerInstances(ctx)
	require.NoError(t, err)
	for _, inst := range instances {
		if inst.InstanceId == "dead-1" {
			assert.Equal(t, "other-instance", inst.Recoverer, "an instance already claimed by a peer must not be reclaimed")
		}
	}
}
