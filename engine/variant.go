package engine

import (
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

// parseCron compiles the trigger's cron expression against its configured
// time zone. It uses a robfig/cron parser with an optional leading seconds
// field, so both five-field expressions and six-field expressions that begin
// with a seconds field are accepted.
func parseCron(f *jobstore.CronTriggerFields) (cron.Schedule, error) {
	loc := time.UTC
	if f.TimeZoneID != "" {
		l, err := time.LoadLocation(f.TimeZoneID)
		if err != nil {
			return nil, errors.Wrapf(err, "engine: load time zone %q", f.TimeZoneID)
		}
		loc = l
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(f.CronExpression)
	if err != nil {
		return nil, errors.Wrapf(err, "engine: parse cron expression %q", f.CronExpression)
	}
	return cronInLocation{sched, loc}, nil
}

// cronInLocation forces Next to compute against a fixed zone regardless of
// what zone the caller's reference time carries, so two engine instances in
// different host time zones agree on the same fire sequence.
type cronInLocation struct {
	cron.Schedule
	loc *time.Location
}

func (c cronInLocation) Next(t time.Time) time.Time {
	return c.Schedule.Next(t.In(c.loc))
}

// FirstFireTime computes the trigger's initial next-fire-time at insert time,
// before it has ever fired.
func FirstFireTime(t *jobstore.Trigger) (*time.Time, error) {
	switch t.Type {
	case jobstore.TriggerTypeSimple:
		ft := t.StartTime
		return capToEnd(t, &ft), nil
	case jobstore.TriggerTypeCron:
		sched, err := parseCron(t.Cron)
		if err != nil {
			return nil, err
		}
		ft := sched.Next(t.StartTime.Add(-time.Nanosecond))
		return capToEnd(t, &ft), nil
	case jobstore.TriggerTypeBlob:
		return nil, nil
	default:
		return nil, errors.Errorf("engine: unknown trigger type %q", t.Type)
	}
}

func capToEnd(t *jobstore.Trigger, candidate *time.Time) *time.Time {
	if candidate == nil {
		return nil
	}
	if t.EndTime != nil && candidate.After(*t.EndTime) {
		return nil
	}
	return candidate
}

// Triggered advances a trigger's fire bookkeeping after it fires at firedTime:
// PrevFireTime is set, TimesTriggered (for SimpleTrigger) is incremented, and
// NextFireTime is recomputed from the trigger's natural schedule. A nil
// NextFireTime on return means the trigger has no further scheduled fires.
func Triggered(t *jobstore.Trigger, firedTime time.Time) error {
	prev := firedTime
	t.PrevFireTime = &prev

	switch t.Type {
	case jobstore.TriggerTypeSimple:
		t.Simple.TimesTriggered++
		if t.Simple.RepeatCount != jobstore.RepeatForever && t.Simple.TimesTriggered > t.Simple.RepeatCount {
			t.NextFireTime = nil
			return nil
		}
		next := firedTime.Add(t.Simple.RepeatInterval)
		t.NextFireTime = capToEnd(t, &next)
		return nil
	case jobstore.TriggerTypeCron:
		sched, err := parseCron(t.Cron)
		if err != nil {
			return err
		}
		next := sched.Next(firedTime)
		t.NextFireTime = capToEnd(t, &next)
		return nil
	case jobstore.TriggerTypeBlob:
		t.NextFireTime = nil
		return nil
	default:
		return errors.Errorf("engine: unknown trigger type %q", t.Type)
	}
}
