package jobstore

// TriggerState is the string-valued trigger state enumeration. It is persisted
// verbatim in the TRIGGER_STATE column.
type TriggerState string

const (
	StateWaiting       TriggerState = "WAITING"
	StateAcquired      TriggerState = "ACQUIRED"
	StateExecuting     TriggerState = "EXECUTING"
	StatePaused        TriggerState = "PAUSED"
	StateBlocked       TriggerState = "BLOCKED"
	StatePausedBlocked TriggerState = "PAUSED_BLOCKED"
	StateComplete      TriggerState = "COMPLETE"
	StateError         TriggerState = "ERROR"

	// StateDeleted is never persisted; Store.GetTriggerState returns it when
	// the row is absent.
	StateDeleted TriggerState = "DELETED"
)

// FiredTriggerState is the entry-state column of a fired-trigger ledger row.
type FiredTriggerState string

const (
	FiredAcquired  FiredTriggerState = "ACQUIRED"
	FiredExecuting FiredTriggerState = "EXECUTING"
)

// pausedCounterpart maps the paired states used by pause/resume: WAITING and
// ACQUIRED both pause to PAUSED, BLOCKED pauses to PAUSED_BLOCKED.
var pausedCounterpart = map[TriggerState]TriggerState{
	StateWaiting:  StatePaused,
	StateAcquired: StatePaused,
	StateBlocked:  StatePausedBlocked,
}

// PausedStateFor returns the state a trigger currently in from moves to when
// paused, and ok=false if from has no paused counterpart (e.g. it is already
// terminal, or already paused).
func PausedStateFor(from TriggerState) (TriggerState, bool) {
	s, ok := pausedCounterpart[from]
	return s, ok
}

// resumeCounterpart is the inverse of pausedCounterpart.
var resumeCounterpart = map[TriggerState]TriggerState{
	StatePaused:        StateWaiting,
	StatePausedBlocked: StateBlocked,
}

// ResumeStateFor returns the state a paused trigger moves to when resumed.
// Resume inverts pause exactly: a resumed WAITING-turned-PAUSED trigger returns
// to WAITING even if it would otherwise have gone stale; the caller (engine) is
// responsible for re-validating next-fire-time afterward.
func ResumeStateFor(from TriggerState) (TriggerState, bool) {
	s, ok := resumeCounterpart[from]
	return s, ok
}

// IsTerminal reports whether a trigger in this state has no further scheduling
// activity without an explicit operator action.
func IsTerminal(s TriggerState) bool {
	return s == StateComplete || s == StateError
}
