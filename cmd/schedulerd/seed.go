package main

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/stiez/opensymphony-quartz-backup/engine"
	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

// seedFile is the static bootstrap document named by --seed: a list of jobs
// and the triggers that should exist once, the same declared-once role
// configs/default.yaml plays for ChuLiYu-raft-recovery's worker/wal/snapshot
// sections. Unlike that config, this isn't read through viper: it's a content
// document, not a settings overlay, so it's unmarshaled with yaml.Unmarshal
// directly and applied idempotently at startup.
type seedFile struct {
	Jobs []seedJob `yaml:"jobs"`
}

type seedJob struct {
	Name     string         `yaml:"name"`
	Group    string         `yaml:"group"`
	Class    string         `yaml:"class"`
	Durable  bool           `yaml:"durable"`
	Data     map[string]any `yaml:"data"`
	Triggers []seedTrigger  `yaml:"triggers"`
}

type seedTrigger struct {
	Name           string `yaml:"name"`
	Group          string `yaml:"group"`
	CronExpression string `yaml:"cron"`
	RepeatEverySec int64  `yaml:"repeat_every_seconds"`
	RepeatCount    int    `yaml:"repeat_count"`
}

// loadSeedFile parses path into a seedFile. A path that cannot be read,
// including one that does not exist, is returned as the os.ReadFile error.
func loadSeedFile(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, errors.Wrap(err, "parse seed file")
	}
	return &sf, nil
}

// applySeed inserts every job and trigger named in sf that doesn't already
// exist. It never overwrites an existing job or trigger, so re-running the
// daemon against a populated store is a no-op.
func applySeed(ctx context.Context, store jobstore.Store, sf *seedFile, now time.Time, logger zerolog.Logger) error {
	for _, sj := range sf.Jobs {
		jobKey := jobstore.Key{Name: sj.Name, Group: groupOrDefault(sj.Group)}

		exists, err := store.JobExists(ctx, jobKey)
		if err != nil {
			return errors.Wrapf(err, "check job %s", jobKey)
		}
		if !exists {
			job := &jobstore.JobDetail{
				Key:        jobKey,
				JobClass:   sj.Class,
				Durable:    sj.Durable,
				JobDataMap: sj.Data,
			}
			if err := store.InsertJob(ctx, job); err != nil {
				return errors.Wrapf(err, "seed job %s", jobKey)
			}
			logger.Info().Str("job", jobKey.String()).Msg("seeded job")
		}

		for _, st := range sj.Triggers {
			if err := applySeedTrigger(ctx, store, jobKey, st, now, logger); err != nil {
				return err
			}
		}
	}
	return nil
}

func applySeedTrigger(ctx context.Context, store jobstore.Store, jobKey jobstore.Key, st seedTrigger, now time.Time, logger zerolog.Logger) error {
	triggerKey := jobstore.Key{Name: st.Name, Group: groupOrDefault(st.Group)}

	exists, err := store.TriggerExists(ctx, triggerKey)
	if err != nil {
		return errors.Wrapf(err, "check trigger %s", triggerKey)
	}
	if exists {
		return nil
	}

	trig := &jobstore.Trigger{
		Key:       triggerKey,
		JobKey:    jobKey,
		StartTime: now,
		State:     jobstore.StateWaiting,
		Dirty:     true,
	}

	switch {
	case st.CronExpression != "":
		trig.Type = jobstore.TriggerTypeCron
		trig.Cron = &jobstore.CronTriggerFields{CronExpression: st.CronExpression}
	default:
		trig.Type = jobstore.TriggerTypeSimple
		trig.Simple = &jobstore.SimpleTriggerFields{
			RepeatCount:    st.RepeatCount,
			RepeatInterval: time.Duration(st.RepeatEverySec) * time.Second,
		}
	}
	firstFire, err := engine.FirstFireTime(trig)
	if err != nil {
		return errors.Wrapf(err, "compute first fire time for %s", triggerKey)
	}
	trig.NextFireTime = firstFire

	if err := store.InsertTrigger(ctx, trig); err != nil {
		return errors.Wrapf(err, "seed trigger %s", triggerKey)
	}
	logger.Info().Str("trigger", triggerKey.String()).Msg("seeded trigger")
	return nil
}

func groupOrDefault(group string) string {
	if group == "" {
		return jobstore.DefaultGroup
	}
	return group
}
