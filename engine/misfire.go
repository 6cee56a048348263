package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

// ScanMisfires finds every WAITING trigger whose next-fire-time has fallen
// more than MisfireThreshold behind now and reschedules it according to its
// misfire instruction. The whole scan runs under the cluster's TRIGGER_ACCESS
// advisory lock, so two instances never apply conflicting misfire arithmetic
// to the same trigger concurrently.
func (e *Engine) ScanMisfires(ctx context.Context) (int, error) {
	var fixed int
	err := e.store.WithLock(ctx, "TRIGGER_ACCESS", func(ctx context.Context) error {
		misfireTime := e.clock.Now().Add(-e.config.MisfireThreshold)
		triggers, err := e.store.GetMisfiredTriggers(ctx, "", misfireTime, e.config.AcquireBatchSize*10)
		if err != nil {
			return errors.Wrap(err, "engine: scan misfired triggers")
		}
		for _, t := range triggers {
			if err := applyMisfireInstruction(t, e.clock.Now()); err != nil {
				e.logger.Error().Err(err).Str("trigger", t.Key.String()).Msg("engine: misfire arithmetic failed")
				continue
			}
			if t.NextFireTime == nil {
				t.State = jobstore.StateComplete
			}
			if err := e.store.UpdateTrigger(ctx, t); err != nil {
				if errors.Is(err, jobstore.ErrNoRowsAffected) {
					continue
				}
				return errors.Wrap(err, "engine: persist misfire reschedule")
			}
			fixed++
			if e.metrics != nil {
				e.metrics.misfiresHandled.Inc()
			}
		}
		return nil
	})
	return fixed, err
}

// applyMisfireInstruction mutates t in place per the four instruction
// classes: smart policy (variant picks its own default), fire-now, ignore,
// and (SimpleTrigger only) the four reschedule-with-count variants. Cron's
// smart policy and its one explicit instruction both resolve to fire-once-now,
// since a cron schedule has no notion of "remaining count" to preserve.
func applyMisfireInstruction(t *jobstore.Trigger, now time.Time) error {
	switch t.Type {
	case jobstore.TriggerTypeSimple:
		return applySimpleMisfire(t, now)
	case jobstore.TriggerTypeCron:
		return applyCronMisfire(t, now)
	case jobstore.TriggerTypeBlob:
		return nil
	default:
		return errors.Errorf("engine: unknown trigger type %q", t.Type)
	}
}

func applySimpleMisfire(t *jobstore.Trigger, now time.Time) error {
	instr := t.MisfireInstruction
	if instr == jobstore.MisfireSmartPolicy {
		if t.Simple.RepeatCount == 0 {
			instr = jobstore.MisfireFireNow
		} else {
			instr = jobstore.MisfireSimpleRescheduleNowWithRemainingCount
		}
	}

	switch instr {
	case jobstore.MisfireFireNow:
		t.NextFireTime = capToEnd(t, &now)
		return nil

	case jobstore.MisfireIgnore:
		next := *t.NextFireTime
		for !next.After(now) {
			t.Simple.TimesTriggered++
			if t.Simple.RepeatCount != jobstore.RepeatForever && t.Simple.TimesTriggered > t.Simple.RepeatCount {
				t.NextFireTime = nil
				return nil
			}
			next = next.Add(t.Simple.RepeatInterval)
		}
		t.NextFireTime = capToEnd(t, &next)
		return nil

	case jobstore.MisfireSimpleRescheduleNowWithExistingCount:
		t.NextFireTime = capToEnd(t, &now)
		return nil

	case jobstore.MisfireSimpleRescheduleNowWithRemainingCount:
		if t.Simple.RepeatCount != jobstore.RepeatForever {
			t.Simple.RepeatCount = t.Simple.RepeatCount - t.Simple.TimesTriggered
		}
		t.Simple.TimesTriggered = 0
		t.NextFireTime = capToEnd(t, &now)
		return nil

	case jobstore.MisfireSimpleRescheduleNextWithExistingCount:
		next := now.Add(t.Simple.RepeatInterval)
		t.NextFireTime = capToEnd(t, &next)
		return nil

	case jobstore.MisfireSimpleRescheduleNextWithRemainingCount:
		if t.Simple.RepeatCount != jobstore.RepeatForever {
			t.Simple.RepeatCount = t.Simple.RepeatCount - t.Simple.TimesTriggered
		}
		t.Simple.TimesTriggered = 0
		next := now.Add(t.Simple.RepeatInterval)
		t.NextFireTime = capToEnd(t, &next)
		return nil

	default:
		return errors.Errorf("engine: misfire instruction %d is not valid for a simple trigger", instr)
	}
}

func applyCronMisfire(t *jobstore.Trigger, now time.Time) error {
	instr := t.MisfireInstruction
	if instr == jobstore.MisfireSmartPolicy {
		instr = jobstore.MisfireCronFireOnceNow
	}

	switch instr {
	case jobstore.MisfireCronFireOnceNow, jobstore.MisfireFireNow:
		t.NextFireTime = capToEnd(t, &now)
		return nil
	case jobstore.MisfireIgnore:
		sched, err := parseCron(t.Cron)
		if err != nil {
			return err
		}
		next := sched.Next(now)
		t.NextFireTime = capToEnd(t, &next)
		return nil
	default:
		return errors.Errorf("engine: misfire instruction %d is not valid for a cron trigger", instr)
	}
}
