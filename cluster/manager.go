// Package cluster implements the checkin/failure-detection/recovery loop
// spec'd for a clustered job store: each scheduler instance maintains its own
// heartbeat row, watches for peers that stopped checking in, and claims
// ownership of a failed peer's in-flight work before replaying or discarding
// it. It is the Go analogue of the teacher's SendHeartbeat/TryTakeOverJob
// pair, generalized from one job's lease to a whole instance's fired-trigger
// ledger.
package cluster

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stiez/opensymphony-quartz-backup/internal/clock"
	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

type Manager struct {
	store  jobstore.Store
	config Config
	clock  clock.Clock
	logger zerolog.Logger
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option     { return func(m *Manager) { m.clock = c } }
func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.logger = l } }

func NewManager(store jobstore.Store, config Config, opts ...Option) (*Manager, error) {
	if config.InstanceId == "" {
		return nil, errors.New("cluster: config.InstanceId must not be empty")
	}
	config = config.withDefaults()
	m := &Manager{
		store:  store,
		config: config,
		clock:  clock.Real{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run ticks at config.CheckinInterval until ctx is canceled. Each tick's
// errors are logged and swallowed — a transient failure to refresh a
// heartbeat or claim a peer's recovery must not stop the loop, matching the
// never-propagate-to-the-caller failure policy spec'd for the cluster
// manager.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.CheckinInterval)
	defer ticker.Stop()

	if err := m.Tick(ctx); err != nil {
		m.logger.Error().Err(err).Msg("cluster: initial tick failed")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.logger.Error().Err(err).Msg("cluster: tick failed")
			}
		}
	}
}

// Tick runs one checkin/failure-detection/recovery pass: refresh this
// instance's heartbeat, list every instance, and attempt to claim recovery of
// any peer whose heartbeat has gone stale.
func (m *Manager) Tick(ctx context.Context) error {
	now := m.clock.Now()

	if err := m.checkin(ctx, now); err != nil {
		return errors.Wrap(err, "cluster: checkin")
	}

	instances, err := m.store.SchedulerInstances(ctx)
	if err != nil {
		return errors.Wrap(err, "cluster: list scheduler instances")
	}

	for _, inst := range instances {
		if inst.InstanceId == m.config.InstanceId {
			continue
		}
		if !inst.IsFailed(now) {
			continue
		}
		if inst.Recoverer != "" {
			continue
		}
		claimed, err := m.store.ClaimRecovery(ctx, inst.InstanceId, m.config.InstanceId)
		if err != nil {
			m.logger.Error().Err(err).Str("dead_instance", inst.InstanceId).Msg("cluster: claim recovery failed")
			continue
		}
		if !claimed {
			continue
		}
		if err := m.recover(ctx, inst.InstanceId); err != nil {
			m.logger.Error().Err(err).Str("dead_instance", inst.InstanceId).Msg("cluster: recovery walk failed")
			continue
		}
	}
	return nil
}

func (m *Manager) checkin(ctx context.Context, now time.Time) error {
	inst := &jobstore.SchedulerInstance{
		InstanceId:      m.config.InstanceId,
		LastCheckinTime: now,
		CheckinInterval: m.config.CheckinInterval,
	}
	return m.store.InsertSchedulerInstance(ctx, inst)
}

// recover walks deadInstanceId's fired-trigger ledger under the cluster's
// STATE_ACCESS advisory lock. A volatile entry is simply discarded — its
// trigger's state was never meant to survive a restart. A non-volatile entry
// for a job that requested recovery gets a synthetic fire-now SimpleTrigger
// in Config.RecoveryGroup, carrying the original trigger/job identity and
// scheduled fire time in its job data map, so the job implementation can
// recognize and resume a recovered run (see jobstore.FailedJobOriginalTrigger*
// keys). Everything else is just removed from the ledger; the trigger itself
// is left for the next acquisition sweep to pick up normally.
//
// A stateful job's sibling triggers were cascaded to BLOCKED/PAUSED_BLOCKED
// when the dead instance fired it (see postgres/acquisition.go's
// fireOneTrigger); with that instance gone they'd otherwise stay blocked
// forever, so every distinct stateful job found in the ledger gets its
// siblings unblocked once the walk is done.
func (m *Manager) recover(ctx context.Context, deadInstanceId string) error {
	return m.store.WithLock(ctx, "STATE_ACCESS", func(ctx context.Context) error {
		entries, err := m.store.FiredTriggersByInstance(ctx, deadInstanceId)
		if err != nil {
			return errors.Wrap(err, "cluster: list fired triggers for dead instance")
		}

		statefulJobs := make(map[jobstore.Key]struct{})
		for _, f := range entries {
			if !f.Volatile && f.RequestsRecovery && f.JobKey != nil {
				if err := m.insertRecoveryTrigger(ctx, f); err != nil {
					return err
				}
			}
			if f.IsStateful && f.JobKey != nil {
				statefulJobs[*f.JobKey] = struct{}{}
			}
			if err := m.store.DeleteFiredTrigger(ctx, f.EntryId); err != nil {
				return errors.Wrapf(err, "cluster: delete fired trigger entry %s", f.EntryId)
			}
		}

		for jobKey := range statefulJobs {
			if err := m.unblockJob(ctx, jobKey); err != nil {
				return err
			}
		}

		return m.store.RemoveSchedulerInstance(ctx, deadInstanceId)
	})
}

// unblockJob restores jobKey's BLOCKED/PAUSED_BLOCKED sibling triggers to
// WAITING/PAUSED now that the instance that had it EXECUTING is gone.
func (m *Manager) unblockJob(ctx context.Context, jobKey jobstore.Key) error {
	if _, err := m.store.UpdateTriggerStateForJob(ctx, jobKey, jobstore.StateWaiting, jobstore.StateBlocked); err != nil {
		return errors.Wrapf(err, "cluster: unblock triggers for job %s", jobKey)
	}
	if _, err := m.store.UpdateTriggerStateForJob(ctx, jobKey, jobstore.StatePaused, jobstore.StatePausedBlocked); err != nil {
		return errors.Wrapf(err, "cluster: unpause blocked triggers for job %s", jobKey)
	}
	return nil
}

func (m *Manager) insertRecoveryTrigger(ctx context.Context, f *jobstore.FiredTrigger) error {
	now := m.clock.Now()
	recoveryTrigger := &jobstore.Trigger{
		Key:       jobstore.Key{Name: "recover-" + uuid.NewString(), Group: m.config.RecoveryGroup},
		JobKey:    *f.JobKey,
		StartTime: now,
		State:     jobstore.StateWaiting,
		Type:      jobstore.TriggerTypeSimple,
		Simple: &jobstore.SimpleTriggerFields{
			RepeatCount:    0,
			RepeatInterval: 0,
		},
		JobDataMap: map[string]any{
			jobstore.FailedJobOriginalTriggerName:         f.TriggerKey.Name,
			jobstore.FailedJobOriginalTriggerGroup:        f.TriggerKey.Group,
			jobstore.FailedJobOriginalTriggerFiretimeInMs: f.SchedTime.UnixMilli(),
		},
		Dirty:              true,
		MisfireInstruction: jobstore.MisfireFireNow,
	}
	recoveryTrigger.NextFireTime = &f.SchedTime

	if err := m.store.InsertTrigger(ctx, recoveryTrigger); err != nil {
		return errors.Wrapf(err, "cluster: insert recovery trigger for job %s", f.JobKey)
	}
	return nil
}
