package cluster

import "time"

// Config configures a Manager instance. Every field defaults the same way
// the teacher's ExecutorConfig does: zero means "apply the documented
// default", applied once by NewManager.
type Config struct {
	// InstanceId identifies this scheduler instance's heartbeat row.
	// Required.
	InstanceId string

	// CheckinInterval is how often this instance refreshes its own
	// heartbeat and scans for failed peers. Defaults to 15s.
	CheckinInterval time.Duration

	// RecoveryGroup is the trigger group synthetic recovery triggers are
	// inserted under. Defaults to jobstore.RecoveryGroup.
	RecoveryGroup string
}

func (c Config) withDefaults() Config {
	if c.CheckinInterval <= 0 {
		c.CheckinInterval = 15 * time.Second
	}
	if c.RecoveryGroup == "" {
		c.RecoveryGroup = "RECOVERING_JOBS"
	}
	return c
}
