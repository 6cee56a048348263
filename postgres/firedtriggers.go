package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

func (s *Store) FiredTriggersByInstance(ctx context.Context, instanceId string) ([]*jobstore.FiredTrigger, error) {
	return s.queryFiredTriggers(ctx, fmt.Sprintf(
		`SELECT entry_id, trigger_name, trigger_group, is_volatile, instance_name, fired_time,
			sched_time, state, job_name, job_group, is_stateful, requests_recovery
		FROM %sfired_triggers WHERE instance_name=$1`, s.tablePrefix), instanceId)
}

func (s *Store) FiredTriggersByTriggerKey(ctx context.Context, key jobstore.Key) ([]*jobstore.FiredTrigger, error) {
	return s.queryFiredTriggers(ctx, fmt.Sprintf(
		`SELECT entry_id, trigger_name, trigger_group, is_volatile, instance_name, fired_time,
			sched_time, state, job_name, job_group, is_stateful, requests_recovery
		FROM %sfired_triggers WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix), key.Name, key.Group)
}

func (s *Store) queryFiredTriggers(ctx context.Context, query string, args ...any) ([]*jobstore.FiredTrigger, error) {
	var out []*jobstore.FiredTrigger
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return errors.Wrap(err, "postgres: query fired triggers")
		}
		defer rows.Close()
		for rows.Next() {
			f := &jobstore.FiredTrigger{}
			var state string
			var jobName, jobGroup sql.NullString
			if err := rows.Scan(&f.EntryId, &f.TriggerKey.Name, &f.TriggerKey.Group, &f.Volatile,
				&f.InstanceId, &f.FiredTime, &f.SchedTime, &state, &jobName, &jobGroup,
				&f.IsStateful, &f.RequestsRecovery); err != nil {
				return errors.Wrap(err, "postgres: scan fired trigger")
			}
			f.State = jobstore.FiredTriggerState(state)
			if jobName.Valid {
				f.JobKey = &jobstore.Key{Name: jobName.String, Group: jobGroup.String}
			}
			out = append(out, f)
		}
		return errors.Wrap(rows.Err(), "postgres: iterate fired triggers")
	})
	return out, err
}

func (s *Store) insertFiredTrigger(ctx context.Context, tx *sql.Tx, f *jobstore.FiredTrigger) error {
	query := fmt.Sprintf(`INSERT INTO %sfired_triggers
		(entry_id, trigger_name, trigger_group, is_volatile, instance_name, fired_time,
		 sched_time, state, job_name, job_group, is_stateful, requests_recovery)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, s.tablePrefix)
	var jobName, jobGroup any
	if f.JobKey != nil {
		jobName, jobGroup = f.JobKey.Name, f.JobKey.Group
	}
	_, err := tx.ExecContext(ctx, query, f.EntryId, f.TriggerKey.Name, f.TriggerKey.Group, f.Volatile,
		f.InstanceId, f.FiredTime, f.SchedTime, string(f.State), jobName, jobGroup,
		f.IsStateful, f.RequestsRecovery)
	return errors.Wrap(err, "postgres: insert fired trigger")
}

func (s *Store) DeleteFiredTrigger(ctx context.Context, entryId string) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`DELETE FROM %sfired_triggers WHERE entry_id=$1`, s.tablePrefix)
		_, err := tx.ExecContext(ctx, query, entryId)
		return errors.Wrap(err, "postgres: delete fired trigger")
	})
}
