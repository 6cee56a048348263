package jobstore

import "time"

// TriggerType is the persisted TRIGGER_TYPE discriminator.
type TriggerType string

const (
	TriggerTypeSimple TriggerType = "SIMPLE"
	TriggerTypeCron   TriggerType = "CRON"
	TriggerTypeBlob   TriggerType = "BLOB"
)

// Trigger is the base trigger row plus exactly one variant payload, selected by
// Type: a base record plus a discriminated union of variant payloads.
type Trigger struct {
	Key    Key
	JobKey Key

	Description string
	Volatile    bool

	// NextFireTime is absent (nil) when the trigger has no further scheduled
	// fires. The postgres package stores nil as SQL NULL in a timestamptz
	// column; no -1 sentinel is written (see DESIGN.md).
	NextFireTime *time.Time
	PrevFireTime *time.Time

	StartTime time.Time
	EndTime   *time.Time

	CalendarName string

	MisfireInstruction MisfireInstruction
	State              TriggerState

	// JobDataMap is nil when the trigger carries no data of its own (it may
	// instead inherit the job's data map at fire time).
	JobDataMap map[string]any

	// Dirty mirrors the façade-maintained "dirty" flag gating whether JobDataMap
	// is rewritten on update (the codec write-skip optimization).
	Dirty bool

	Listeners []string

	Type   TriggerType
	Simple *SimpleTriggerFields
	Cron   *CronTriggerFields
	Blob   *BlobTriggerFields
}

// SimpleTriggerFields is the SIMPLE_TRIGGERS variant payload.
type SimpleTriggerFields struct {
	RepeatCount    int // -1 means repeat forever
	RepeatInterval time.Duration
	TimesTriggered int
}

// CronTriggerFields is the CRON_TRIGGERS variant payload.
type CronTriggerFields struct {
	CronExpression string
	TimeZoneID     string
}

// BlobTriggerFields is the extensibility escape hatch: an opaque,
// already-serialized trigger payload this store never interprets.
type BlobTriggerFields struct {
	Data []byte
}

// HasNoFurtherFires reports whether the trigger has exhausted its schedule.
func (t *Trigger) HasNoFurtherFires() bool {
	return t.NextFireTime == nil
}

// RepeatForever is the SimpleTrigger sentinel for an unbounded repeat count.
const RepeatForever = -1
