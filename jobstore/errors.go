package jobstore

import "errors"

// Sentinel error kinds. Callers should compare with errors.Is; the postgres and
// codec packages wrap these with github.com/pkg/errors to attach a stack trace
// and contextual message without losing the sentinel identity.
var (
	// ErrObjectAlreadyExists is returned when an Insert collides with an existing
	// job, trigger, or calendar identity.
	ErrObjectAlreadyExists = errors.New("jobstore: object already exists")

	// ErrJobPersistenceFailure wraps a generic database or serialization failure.
	// It is the catch-all kind; specific causes are attached via errors.Wrap.
	ErrJobPersistenceFailure = errors.New("jobstore: job persistence failure")

	// ErrClassLoad is returned when a job class, or a class embedded in a
	// job-data map, cannot be resolved by the configured ClassResolver.
	ErrClassLoad = errors.New("jobstore: class could not be resolved")

	// ErrCalendarInUse is returned when deleting a calendar still referenced by
	// at least one trigger.
	ErrCalendarInUse = errors.New("jobstore: calendar is still referenced by a trigger")

	// ErrCodecConstraint is returned by the properties-mode codec when the
	// job-data map contains a non-string key/value, or an explicit nil value.
	ErrCodecConstraint = errors.New("jobstore: job data map violates codec constraint")
)

// Lost-race and fencing conditions. The conditional state transitions
// (Update*StateFromStates, UpdateTriggerStateForJob) and AcquireNextTriggers
// report a lost race as a zero count or a skipped row, never as an error. The
// postgres store's UpdateJob, UpdateTrigger, UpdateCalendar and
// UpdateCheckinTime do return ErrNoRowsAffected when their row is missing, and
// TriggersFired sets it as a FireResult's Err.
var (
	// ErrNoRowsAffected signals a conditional UPDATE matched zero rows: another
	// instance already won the race, or the row moved to a terminal state.
	// Callers at the engine layer treat this as "skip, don't fail".
	ErrNoRowsAffected = errors.New("jobstore: conditional update affected no rows")
)
