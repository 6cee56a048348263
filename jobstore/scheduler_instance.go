package jobstore

import "time"

// SchedulerInstance is one scheduler-instance heartbeat row.
type SchedulerInstance struct {
	InstanceId      string
	LastCheckinTime time.Time
	CheckinInterval time.Duration

	// Recoverer is the instance-id currently processing this peer's recovery,
	// empty when nobody has claimed it.
	Recoverer string
}

// IsFailed reports whether last-checkin + 2×interval is in the past, evaluated
// at asOf.
func (s SchedulerInstance) IsFailed(asOf time.Time) bool {
	return s.LastCheckinTime.Add(2 * s.CheckinInterval).Before(asOf)
}
