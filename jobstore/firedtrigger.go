package jobstore

import "time"

// FiredTrigger is one in-flight fire-instance ledger row. EntryId is minted by
// the owning scheduler instance and is globally unique.
type FiredTrigger struct {
	EntryId     string
	TriggerKey  Key
	Volatile    bool
	InstanceId  string
	FiredTime   time.Time
	SchedTime   time.Time
	State       FiredTriggerState

	// JobKey, IsStateful, RequestsRecovery are filled in once the job is bound
	// at fire time.
	JobKey           *Key
	IsStateful       bool
	RequestsRecovery bool
}
