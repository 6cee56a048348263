package jobstore

// JobDetail is the persisted definition of a job. JobClass is an opaque string
// resolved at execution time by a ClassResolver; this store never loads or
// invokes job code itself.
type JobDetail struct {
	Key Key

	Description string

	// JobClass names the job implementation. Opaque to the store; resolved by
	// ClassResolver at the façade layer.
	JobClass string

	Durable          bool
	Volatile         bool
	Stateful         bool
	RequestsRecovery bool

	// JobDataMap is the job's persisted data. Nil means "no data".
	JobDataMap map[string]any

	// Listeners is the ordered set of listener names associated with this job.
	// Inserting a job or trigger cascades insertion of its listener associations.
	Listeners []string
}

// IsOrphanable reports whether this job may be deleted once its last trigger is
// removed: a non-durable job exists only while at least one trigger references it.
func (j JobDetail) IsOrphanable() bool {
	return !j.Durable
}
