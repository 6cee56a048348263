package jobstore

import "fmt"

// Key identifies a Job, Trigger, or Calendar by name within a group. Calendars are
// identified by name alone; callers pass an empty Group for calendar keys.
type Key struct {
	Name  string
	Group string
}

func (k Key) String() string {
	if k.Group == "" {
		return k.Name
	}
	return fmt.Sprintf("%s.%s", k.Group, k.Name)
}

func (k Key) IsZero() bool {
	return k.Name == "" && k.Group == ""
}

// DefaultGroup is used when a caller does not specify a trigger or job group.
const DefaultGroup = "DEFAULT"

// RecoveryGroup is the reserved trigger group holding synthetic triggers created
// by cluster recovery. Job implementations can recognize a recovery run by
// inspecting the firing trigger's group.
const RecoveryGroup = "RECOVERING_JOBS"

// Job-data keys injected into a recovery trigger's JobDataMap.
const (
	FailedJobOriginalTriggerName          = "QRTZ_FAILED_JOB_ORIG_TRIGGER_NAME"
	FailedJobOriginalTriggerGroup         = "QRTZ_FAILED_JOB_ORIG_TRIGGER_GROUP"
	FailedJobOriginalTriggerFiretimeInMs  = "QRTZ_FAILED_JOB_ORIG_TRIGGER_FIRETIME_IN_MILLISECONDS"
)
