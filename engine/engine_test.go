package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiez/opensymphony-quartz-backup/engine"
	"github.com/stiez/opensymphony-quartz-backup/internal/clock"
	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

type recordingRunnable struct {
	mu      *sync.Mutex
	calls   *[]map[string]any
	failure error
}

func (r recordingRunnable) Execute(ctx context.Context, dataMap map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.calls = append(*r.calls, dataMap)
	return r.failure
}

func newRecordingResolver(failure error) (jobstore.ClassResolver, *[]map[string]any) {
	var mu sync.Mutex
	calls := make([]map[string]any, 0)
	resolver := jobstore.ClassResolverFunc(func(className string) (jobstore.JobFactory, error) {
		return stubFactory{runnable: recordingRunnable{mu: &mu, calls: &calls, failure: failure}}, nil
	})
	return resolver, &calls
}

type stubFactory struct {
	runnable jobstore.Runnable
}

func (f stubFactory) NewJob(ctx context.Context) (jobstore.Runnable, error) {
	return f.runnable, nil
}

func seedDueTrigger(t *testing.T, store *jobstore.MemStore, now time.Time) jobstore.Key {
	t.Helper()
	jobKey := jobstore.Key{Name: "job-1", Group: jobstore.DefaultGroup}
	require.NoError(t, store.InsertJob(context.Background(), &jobstore.JobDetail{
		Key:      jobKey,
		JobClass: "widget.Refresh",
		Durable:  true,
	}))

	triggerKey := jobstore.Key{Name: "trigger-1", Group: jobstore.DefaultGroup}
	require.NoError(t, store.InsertTrigger(context.Background(), &jobstore.Trigger{
		Key:          triggerKey,
		JobKey:       jobKey,
		StartTime:    now,
		NextFireTime: &now,
		State:        jobstore.StateWaiting,
		Type:         jobstore.TriggerTypeSimple,
		Simple:       &jobstore.SimpleTriggerFields{RepeatCount: 0},
		JobDataMap:   map[string]any{"k": "v"},
		Dirty:        true,
	}))
	return triggerKey
}

func TestAcquireAndFire_DispatchesDueTrigger(t *testing.T) {
	store := jobstore.NewMemStore()
	fc := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	triggerKey := seedDueTrigger(t, store, fc.Now())

	resolver, calls := newRecordingResolver(nil)
	e, err := engine.NewEngine(store, resolver, engine.Config{InstanceId: "self", AcquisitionTimeWindow: time.Minute}, engine.WithClock(fc))
	require.NoError(t, err)

	dispatched, err := e.AcquireAndFire(context.Background())
	require.NoError(t, err)
	require.Len(t, dispatched, 1)
	assert.Equal(t, triggerKey, dispatched[0])

	require.Len(t, *calls, 1)
	assert.Equal(t, "v", (*calls)[0]["k"])

	state, err := store.GetTriggerState(context.Background(), triggerKey)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StateComplete, state, "a one-shot simple trigger has no further fires after completing")
}

func TestAcquireAndFire_NoDueTriggersReturnsEmpty(t *testing.T) {
	store := jobstore.NewMemStore()
	fc := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	resolver, _ := newRecordingResolver(nil)
	e, err := engine.NewEngine(store, resolver, engine.Config{InstanceId: "self"}, engine.WithClock(fc))
	require.NoError(t, err)

	dispatched, err := e.AcquireAndFire(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dispatched)
}

func TestAcquireAndFire_JobFailureMarksTriggerError(t *testing.T) {
	store := jobstore.NewMemStore()
	fc := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	triggerKey := seedDueTrigger(t, store, fc.Now())

	resolver, _ := newRecordingResolver(assert.AnError)
	e, err := engine.NewEngine(store, resolver, engine.Config{InstanceId: "self", AcquisitionTimeWindow: time.Minute}, engine.WithClock(fc))
	require.NoError(t, err)

	dispatched, err := e.AcquireAndFire(context.Background())
	require.NoError(t, err)
	require.Len(t, dispatched, 1)

	trig, err := store.GetTrigger(context.Background(), triggerKey)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StateError, trig.State)
}

func TestScanMisfires_EndTimeCappedTriggerCompletes(t *testing.T) {
	store := jobstore.NewMemStore()
	fc := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	triggerKey := jobstore.Key{Name: "expiring", Group: jobstore.DefaultGroup}
	stale := fc.Now().Add(-2 * time.Minute)
	endTime := fc.Now().Add(-time.Minute)
	require.NoError(t, store.InsertJob(context.Background(), &jobstore.JobDetail{
		Key:      jobstore.Key{Name: "job", Group: jobstore.DefaultGroup},
		JobClass: "stub",
		Durable:  true,
	}))
	require.NoError(t, store.InsertTrigger(context.Background(), &jobstore.Trigger{
		Key:                triggerKey,
		JobKey:             jobstore.Key{Name: "job", Group: jobstore.DefaultGroup},
		StartTime:          stale,
		NextFireTime:       &stale,
		EndTime:            &endTime,
		State:              jobstore.StateWaiting,
		Type:               jobstore.TriggerTypeSimple,
		MisfireInstruction: jobstore.MisfireFireNow,
		Simple:             &jobstore.SimpleTriggerFields{RepeatCount: jobstore.RepeatForever, RepeatInterval: time.Minute},
	}))

	resolver, _ := newRecordingResolver(nil)
	e, err := engine.NewEngine(store, resolver, engine.Config{InstanceId: "self", MisfireThreshold: time.Second}, engine.WithClock(fc))
	require.NoError(t, err)

	fixed, err := e.ScanMisfires(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)

	trig, err := store.GetTrigger(context.Background(), triggerKey)
	require.NoError(t, err)
	assert.Nil(t, trig.NextFireTime)
	assert.Equal(t, jobstore.StateComplete, trig.State, "a misfired trigger whose recomputed fire time falls past EndTime must complete, not stay WAITING forever")
}
