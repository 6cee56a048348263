package jobstore

// MisfireInstruction is the persisted policy code governing how a trigger is
// rescheduled after a misfire. The zero value is "smart policy" — let the
// trigger variant choose a sensible default.
type MisfireInstruction int

const (
	// MisfireSmartPolicy lets the variant pick a default appropriate to itself.
	MisfireSmartPolicy MisfireInstruction = 0

	// MisfireFireNow sets next-fire-time to now.
	MisfireFireNow MisfireInstruction = 1

	// MisfireIgnore advances next-fire-time past now using the variant's natural
	// schedule, without an extra fire.
	MisfireIgnore MisfireInstruction = 2

	// Simple-trigger-only instructions, mirroring Quartz's SimpleTrigger misfire
	// handling.
	MisfireSimpleRescheduleNowWithExistingCount   MisfireInstruction = 3
	MisfireSimpleRescheduleNowWithRemainingCount  MisfireInstruction = 4
	MisfireSimpleRescheduleNextWithExistingCount  MisfireInstruction = 5
	MisfireSimpleRescheduleNextWithRemainingCount MisfireInstruction = 6

	// Cron-trigger-only instruction, distinct constant space to avoid a
	// SimpleTrigger code being silently applied to a CronTrigger.
	MisfireCronFireOnceNow MisfireInstruction = 11
)
