package jobstore

import (
	"context"
	"time"
)

// CompletionInstruction tells TriggeredJobComplete how the trigger should move
// forward after a job execution finishes.
type CompletionInstruction int

const (
	// InstructionNoop leaves the trigger's own next-fire-time/state handling to
	// whatever TriggersFired already computed; only ledger and BLOCKED/PAUSED_BLOCKED
	// cascades happen.
	InstructionNoop CompletionInstruction = iota
	// InstructionSetTriggerComplete forces the trigger to COMPLETE regardless of
	// next-fire-time (an executor/job instruction to stop the series early).
	InstructionSetTriggerComplete
	// InstructionSetTriggerError forces the trigger (and, when the job is
	// stateful, every other trigger of the same job) to ERROR.
	InstructionSetTriggerError
	// InstructionDeleteTrigger removes the trigger row entirely on completion.
	InstructionDeleteTrigger
)

// Store is the full persistence contract: Job/Trigger/Calendar repositories,
// the fired-trigger ledger, the trigger state machine's conditional
// transitions, acquisition and completion, cluster heartbeat/recovery
// primitives, and misfire enumeration. One implementation, postgres.Store,
// backs it with pgx; an in-memory fake backs unit tests that don't need real
// SQL semantics.
//
// Every method that mutates state runs inside a database transaction: its own,
// committed or rolled back before the method returns, or, when called with the
// ctx of a WithLock callback, the transaction WithLock opened.
type Store interface {
	JobRepository
	TriggerRepository
	CalendarRepository
	FiredTriggerLedger
	PauseResume
	ClusterRepository

	// AcquireNextTriggers claims up to maxCount WAITING triggers whose
	// next-fire-time falls at or before noLaterThan, ordered by next-fire-time
	// ascending, and transitions each claimed trigger WAITING→ACQUIRED with a
	// matching fired-trigger ledger row inserted in state ACQUIRED. timeWindow
	// extends the "at or before" test past noLaterThan so near-future triggers
	// can be claimed in the same sweep. Rows whose conditional UPDATE loses the
	// race are silently skipped, never reported as errors.
	AcquireNextTriggers(
		ctx context.Context,
		instanceId string,
		noLaterThan time.Time,
		timeWindow time.Duration,
		maxCount int,
	) ([]*Trigger, error)

	// TriggersFired upgrades each trigger's fired-trigger entry to EXECUTING and
	// applies the ACQUIRED→EXECUTING trigger transition: COMPLETE if there are
	// no further fires, BLOCKED (with every sibling trigger of a stateful job
	// also moved WAITING→BLOCKED) if the job is stateful, otherwise WAITING.
	// next-fire-time is recomputed by the caller
	// (engine, via the trigger variant) before this is invoked, so this method
	// receives the already-advanced Trigger.
	//
	// A trigger that no longer exists, or whose fired-trigger entry is no longer
	// ACQUIRED (e.g. the instance holding it died mid-fire), is reported in the
	// returned slice with Err set instead of failing the whole batch.
	TriggersFired(ctx context.Context, instanceId string, triggers []*Trigger) ([]*FireResult, error)

	// TriggeredJobComplete removes the fired-trigger entry for triggerKey/jobKey
	// and, for a stateful job, cascades BLOCKED→WAITING and PAUSED_BLOCKED→PAUSED
	// for every other trigger of the same job. jobDataMap is nil when the job
	// did not mark its data dirty (write-skip).
	TriggeredJobComplete(
		ctx context.Context,
		triggerKey Key,
		jobKey Key,
		instruction CompletionInstruction,
		jobDataMap map[string]any,
	) error

	// GetMisfiredTriggers returns WAITING triggers whose next-fire-time is
	// strictly before misfireTime, optionally filtered to one group, ordered by
	// next-fire-time ascending and capped at maxCount (0 means unbounded).
	GetMisfiredTriggers(ctx context.Context, group string, misfireTime time.Time, maxCount int) ([]*Trigger, error)

	// WithLock runs fn while holding the named row-level advisory lock. The
	// lock is released when fn returns, by commit or rollback of the enclosing
	// transaction — never explicitly. Used by misfire scanning and cluster
	// recovery, the two operations that need to serialize across the cluster.
	WithLock(ctx context.Context, lockName string, fn func(ctx context.Context) error) error
}

// FireResult pairs a fired Trigger with an error encountered while recording its
// fire, so TriggersFired can report partial failure without discarding the
// triggers that did succeed.
type FireResult struct {
	Trigger   *Trigger
	JobDetail *JobDetail
	Err       error
}

// JobRepository is the CRUD surface for Job.
type JobRepository interface {
	// InsertJob fails with ErrObjectAlreadyExists if job.Key already exists.
	// Cascades insertion of job.Listeners.
	InsertJob(ctx context.Context, job *JobDetail) error

	// UpdateJob replaces the base row and the listener set (delete-then-insert).
	UpdateJob(ctx context.Context, job *JobDetail) error

	// DeleteJob cascades deletion of listener rows. Callers must delete the
	// job's triggers first (or rely on the trigger-repository cascade that
	// removes the job automatically once its last trigger is gone).
	DeleteJob(ctx context.Context, key Key) error

	GetJob(ctx context.Context, key Key) (*JobDetail, error)
	JobExists(ctx context.Context, key Key) (bool, error)

	// JobGroupNames and JobNamesInGroup return ordered sequences in the
	// database's natural order; callers must not depend on ordering beyond set
	// semantics.
	JobGroupNames(ctx context.Context) ([]string, error)
	JobNamesInGroup(ctx context.Context, group string) ([]string, error)

	// TriggerKeysForJob lists every trigger referencing key, used both by the
	// job-orphan cascade and by pause/resume-by-job.
	TriggerKeysForJob(ctx context.Context, key Key) ([]Key, error)
}

// TriggerRepository is the CRUD surface for Trigger, including the variant
// dispatch: a trigger read selects the base row, dispatches on the variant
// discriminator, and joins in the variant row.
type TriggerRepository interface {
	InsertTrigger(ctx context.Context, trigger *Trigger) error
	UpdateTrigger(ctx context.Context, trigger *Trigger) error

	// DeleteTrigger cascades the variant row, listener rows, and any
	// fired-trigger entries. If this was the job's last trigger and the job is
	// non-durable, the job row is deleted too.
	DeleteTrigger(ctx context.Context, key Key) error

	GetTrigger(ctx context.Context, key Key) (*Trigger, error)
	TriggerExists(ctx context.Context, key Key) (bool, error)

	// GetTriggerState returns StateDeleted when key does not exist.
	GetTriggerState(ctx context.Context, key Key) (TriggerState, error)

	TriggerGroupNames(ctx context.Context) ([]string, error)
	TriggerNamesInGroup(ctx context.Context, group string) ([]string, error)

	// UpdateTriggerStateFromStates performs the conditional
	// `UPDATE ... SET state=new WHERE key=? AND state IN (olds...)` race
	// resolver, returning the number of rows actually changed (0 or 1 for a
	// single key). A 0 result is the designed "lost the race" signal, not an
	// error.
	UpdateTriggerStateFromStates(ctx context.Context, key Key, new TriggerState, olds ...TriggerState) (int, error)

	// UpdateTriggerGroupStateFromStates applies the same conditional transition
	// to every trigger in group currently in one of olds, for pause/resume of an
	// entire group. Returns the count of rows changed.
	UpdateTriggerGroupStateFromStates(ctx context.Context, group string, new TriggerState, olds ...TriggerState) (int, error)

	// UpdateTriggerStateForJob applies the conditional transition to every
	// trigger of jobKey, used by completion's BLOCKED→WAITING /
	// PAUSED_BLOCKED→PAUSED cascade and by recovery's unblock step.
	UpdateTriggerStateForJob(ctx context.Context, jobKey Key, new TriggerState, olds ...TriggerState) (int, error)

	// TriggersForCalendar lists triggers referencing calendarName, used to
	// enforce the calendar-in-use invariant.
	TriggersForCalendar(ctx context.Context, calendarName string) ([]Key, error)
}

// CalendarRepository is the CRUD surface for Calendar.
type CalendarRepository interface {
	InsertCalendar(ctx context.Context, cal *Calendar) error
	UpdateCalendar(ctx context.Context, cal *Calendar) error

	// DeleteCalendar fails with ErrCalendarInUse if any trigger still
	// references name, and leaves the database unchanged in that case.
	DeleteCalendar(ctx context.Context, name string) error

	GetCalendar(ctx context.Context, name string) (*Calendar, error)
	CalendarNames(ctx context.Context) ([]string, error)
}

// FiredTriggerLedger is the fire-instance ledger surface.
type FiredTriggerLedger interface {
	FiredTriggersByInstance(ctx context.Context, instanceId string) ([]*FiredTrigger, error)
	FiredTriggersByTriggerKey(ctx context.Context, key Key) ([]*FiredTrigger, error)

	// DeleteFiredTrigger removes one ledger row by EntryId; used by recovery to
	// clear each of a dead instance's entries.
	DeleteFiredTrigger(ctx context.Context, entryId string) error
}

// PauseResume is the pause/resume surface spanning triggers, groups, and jobs.
type PauseResume interface {
	PausedTriggerGroups(ctx context.Context) ([]string, error)
	AddPausedTriggerGroup(ctx context.Context, group string) error
	RemovePausedTriggerGroup(ctx context.Context, group string) error
	IsTriggerGroupPaused(ctx context.Context, group string) (bool, error)
}

// ClusterRepository is the heartbeat/recovery-claim surface.
type ClusterRepository interface {
	InsertSchedulerInstance(ctx context.Context, inst *SchedulerInstance) error
	UpdateCheckinTime(ctx context.Context, instanceId string, at time.Time) error
	SchedulerInstances(ctx context.Context) ([]*SchedulerInstance, error)
	RemoveSchedulerInstance(ctx context.Context, instanceId string) error

	// ClaimRecovery atomically sets recoverer on deadInstanceId's heartbeat row,
	// only if it is currently unclaimed. ok is false if another instance
	// already claimed it.
	ClaimRecovery(ctx context.Context, deadInstanceId string, recovererId string) (ok bool, err error)
}
