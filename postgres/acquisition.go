package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

// AcquireNextTriggers is the cluster-safe claim step: select candidate rows,
// then flip each one WAITING→ACQUIRED with a row-scoped conditional UPDATE so
// a competing instance's identical sweep only ever wins rows this one missed.
func (s *Store) AcquireNextTriggers(
	ctx context.Context,
	instanceId string,
	noLaterThan time.Time,
	timeWindow time.Duration,
	maxCount int,
) ([]*jobstore.Trigger, error) {
	var acquired []*jobstore.Trigger

	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		cutoff := noLaterThan.Add(timeWindow)
		query := fmt.Sprintf(`SELECT trigger_name, trigger_group FROM %striggers
			WHERE trigger_state=$1 AND next_fire_time IS NOT NULL AND next_fire_time <= $2
			ORDER BY next_fire_time ASC LIMIT $3`, s.tablePrefix)
		rows, err := tx.QueryContext(ctx, query, string(jobstore.StateWaiting), cutoff, limitOrAll(maxCount))
		if err != nil {
			return errors.Wrap(err, "postgres: select acquisition candidates")
		}
		var candidates []jobstore.Key
		for rows.Next() {
			var k jobstore.Key
			if err := rows.Scan(&k.Name, &k.Group); err != nil {
				rows.Close()
				return errors.Wrap(err, "postgres: scan acquisition candidate")
			}
			candidates = append(candidates, k)
		}
		closeErr := rows.Close()
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "postgres: iterate acquisition candidates")
		}
		if closeErr != nil {
			return errors.Wrap(closeErr, "postgres: close acquisition candidate rows")
		}

		for _, key := range candidates {
			updateQuery := fmt.Sprintf(`UPDATE %striggers SET trigger_state=$1
				WHERE trigger_name=$2 AND trigger_group=$3 AND trigger_state=$4`, s.tablePrefix)
			res, err := tx.ExecContext(ctx, updateQuery, string(jobstore.StateAcquired),
				key.Name, key.Group, string(jobstore.StateWaiting))
			if err != nil {
				return errors.Wrap(err, "postgres: acquire trigger")
			}
			if n, _ := res.RowsAffected(); n == 0 {
				// Another instance's sweep won this row first; skip, not an error.
				continue
			}

			trig, err := s.getTriggerTx(ctx, tx, key)
			if err != nil {
				return err
			}
			if trig == nil {
				continue
			}

			fired := &jobstore.FiredTrigger{
				EntryId:    uuid.NewString(),
				TriggerKey: trig.Key,
				Volatile:   trig.Volatile,
				InstanceId: instanceId,
				FiredTime:  noLaterThan,
				SchedTime:  *trig.NextFireTime,
				State:      jobstore.FiredAcquired,
				JobKey:     &trig.JobKey,
			}
			if err := s.insertFiredTrigger(ctx, tx, fired); err != nil {
				return err
			}

			acquired = append(acquired, trig)
		}
		return nil
	})

	return acquired, err
}

func limitOrAll(maxCount int) any {
	if maxCount <= 0 {
		return nil // NULL disables LIMIT in Postgres
	}
	return maxCount
}

// TriggersFired applies the ACQUIRED→EXECUTING transition. The caller
// (package engine) has already recomputed each trigger's next-fire-time
// using the trigger's variant schedule; this method only decides the
// resulting state and fans a stateful job's BLOCKED cascade out to its
// sibling triggers.
func (s *Store) TriggersFired(ctx context.Context, instanceId string, triggers []*jobstore.Trigger) ([]*jobstore.FireResult, error) {
	var results []*jobstore.FireResult

	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, t := range triggers {
			res, err := s.fireOneTrigger(ctx, tx, instanceId, t)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	return results, err
}

func (s *Store) fireOneTrigger(ctx context.Context, tx *sql.Tx, instanceId string, t *jobstore.Trigger) (*jobstore.FireResult, error) {
	ledgerQuery := fmt.Sprintf(`SELECT entry_id FROM %sfired_triggers
		WHERE trigger_name=$1 AND trigger_group=$2 AND instance_name=$3 AND state=$4`, s.tablePrefix)
	var entryId string
	err := tx.QueryRowContext(ctx, ledgerQuery, t.Key.Name, t.Key.Group, instanceId, string(jobstore.FiredAcquired)).Scan(&entryId)
	if errors.Is(err, sql.ErrNoRows) {
		return &jobstore.FireResult{Trigger: t, Err: jobstore.ErrNoRowsAffected}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "postgres: find fired-trigger ledger entry")
	}

	job, err := s.getJobTx(ctx, tx, t.JobKey)
	if err != nil {
		return nil, err
	}

	newState := jobstore.StateWaiting
	switch {
	case t.HasNoFurtherFires():
		newState = jobstore.StateComplete
	case job != nil && job.Stateful:
		newState = jobstore.StateBlocked
	}

	encoded, shouldWrite, err := s.codec.Serialize(t.JobDataMap, t.Dirty)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: encode trigger data map")
	}

	var updateQuery string
	var args []any
	if shouldWrite {
		updateQuery = fmt.Sprintf(`UPDATE %striggers SET trigger_state=$1, next_fire_time=$2, prev_fire_time=$3, job_data=$4
			WHERE trigger_name=$5 AND trigger_group=$6 AND trigger_state=$7`, s.tablePrefix)
		args = []any{string(newState), tsInput(t.NextFireTime), tsInput(t.PrevFireTime),
			encoded, t.Key.Name, t.Key.Group, string(jobstore.StateAcquired)}
	} else {
		updateQuery = fmt.Sprintf(`UPDATE %striggers SET trigger_state=$1, next_fire_time=$2, prev_fire_time=$3
			WHERE trigger_name=$4 AND trigger_group=$5 AND trigger_state=$6`, s.tablePrefix)
		args = []any{string(newState), tsInput(t.NextFireTime), tsInput(t.PrevFireTime),
			t.Key.Name, t.Key.Group, string(jobstore.StateAcquired)}
	}
	res, err := tx.ExecContext(ctx, updateQuery, args...)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: apply fired trigger transition")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &jobstore.FireResult{Trigger: t, Err: jobstore.ErrNoRowsAffected}, nil
	}

	if newState == jobstore.StateBlocked {
		blockQuery := fmt.Sprintf(`UPDATE %striggers SET trigger_state=$1
			WHERE job_name=$2 AND job_group=$3 AND trigger_state=$4`, s.tablePrefix)
		if _, err := tx.ExecContext(ctx, blockQuery, string(jobstore.StateBlocked),
			t.JobKey.Name, t.JobKey.Group, string(jobstore.StateWaiting)); err != nil {
			return nil, errors.Wrap(err, "postgres: block sibling triggers of stateful job")
		}
	}

	// job was fetched above purely to decide newState; the ledger row still
	// needs its is_stateful/requests_recovery columns filled in from it so
	// a later cluster recovery walk (which reads the ledger, not the job
	// table) can tell a stateful job's fired entry apart from any other.
	isStateful := job != nil && job.Stateful
	requestsRecovery := job != nil && job.RequestsRecovery
	ledgerUpdate := fmt.Sprintf(`UPDATE %sfired_triggers SET state=$1, is_stateful=$2, requests_recovery=$3
		WHERE entry_id=$4`, s.tablePrefix)
	if _, err := tx.ExecContext(ctx, ledgerUpdate, string(jobstore.FiredExecuting), isStateful, requestsRecovery, entryId); err != nil {
		return nil, errors.Wrap(err, "postgres: mark fired-trigger entry executing")
	}

	out := *t
	out.State = newState
	return &jobstore.FireResult{Trigger: &out, JobDetail: job}, nil
}

func (s *Store) getJobTx(ctx context.Context, tx *sql.Tx, key jobstore.Key) (*jobstore.JobDetail, error) {
	query := fmt.Sprintf(`SELECT job_name, job_group, description, job_class,
		is_durable, is_volatile, is_stateful, requests_recovery, job_data
		FROM %sjob_details WHERE job_name=$1 AND job_group=$2`, s.tablePrefix)
	j := &jobstore.JobDetail{}
	var data []byte
	err := tx.QueryRowContext(ctx, query, key.Name, key.Group).Scan(&j.Key.Name, &j.Key.Group,
		&j.Description, &j.JobClass, &j.Durable, &j.Volatile, &j.Stateful, &j.RequestsRecovery, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "postgres: get job (within transaction)")
	}
	dataMap, err := s.codec.Deserialize(data)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: decode job data map")
	}
	j.JobDataMap = dataMap
	return j, nil
}

func (s *Store) TriggeredJobComplete(
	ctx context.Context,
	triggerKey jobstore.Key,
	jobKey jobstore.Key,
	instruction jobstore.CompletionInstruction,
	jobDataMap map[string]any,
) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		delFired := fmt.Sprintf(`DELETE FROM %sfired_triggers WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix)
		if _, err := tx.ExecContext(ctx, delFired, triggerKey.Name, triggerKey.Group); err != nil {
			return errors.Wrap(err, "postgres: delete fired-trigger entry on completion")
		}

		switch instruction {
		case jobstore.InstructionSetTriggerComplete:
			if err := s.setTriggerState(ctx, tx, triggerKey, jobstore.StateComplete); err != nil {
				return err
			}
		case jobstore.InstructionDeleteTrigger:
			if err := s.DeleteTrigger(ctx, triggerKey); err != nil {
				return err
			}
		case jobstore.InstructionSetTriggerError:
			if err := s.setTriggerState(ctx, tx, triggerKey, jobstore.StateError); err != nil {
				return err
			}
		}

		if jobDataMap != nil {
			encoded, _, err := s.codec.Serialize(jobDataMap, true)
			if err != nil {
				return errors.Wrap(err, "postgres: encode job data map")
			}
			query := fmt.Sprintf(`UPDATE %sjob_details SET job_data=$1 WHERE job_name=$2 AND job_group=$3`, s.tablePrefix)
			if _, err := tx.ExecContext(ctx, query, encoded, jobKey.Name, jobKey.Group); err != nil {
				return errors.Wrap(err, "postgres: write back job data map")
			}
		}

		job, err := s.getJobTx(ctx, tx, jobKey)
		if err != nil {
			return err
		}
		if job == nil || !job.Stateful {
			return nil
		}

		if instruction == jobstore.InstructionSetTriggerError {
			query := fmt.Sprintf(`UPDATE %striggers SET trigger_state=$1 WHERE job_name=$2 AND job_group=$3`, s.tablePrefix)
			_, err := tx.ExecContext(ctx, query, string(jobstore.StateError), jobKey.Name, jobKey.Group)
			return errors.Wrap(err, "postgres: error out sibling triggers")
		}

		unblock := fmt.Sprintf(`UPDATE %striggers SET trigger_state=$1
			WHERE job_name=$2 AND job_group=$3 AND trigger_state=$4`, s.tablePrefix)
		if _, err := tx.ExecContext(ctx, unblock, string(jobstore.StateWaiting),
			jobKey.Name, jobKey.Group, string(jobstore.StateBlocked)); err != nil {
			return errors.Wrap(err, "postgres: unblock sibling triggers")
		}
		unpause := fmt.Sprintf(`UPDATE %striggers SET trigger_state=$1
			WHERE job_name=$2 AND job_group=$3 AND trigger_state=$4`, s.tablePrefix)
		_, err = tx.ExecContext(ctx, unpause, string(jobstore.StatePaused),
			jobKey.Name, jobKey.Group, string(jobstore.StatePausedBlocked))
		return errors.Wrap(err, "postgres: unpause blocked-paused sibling triggers")
	})
}

func (s *Store) setTriggerState(ctx context.Context, tx *sql.Tx, key jobstore.Key, state jobstore.TriggerState) error {
	query := fmt.Sprintf(`UPDATE %striggers SET trigger_state=$1 WHERE trigger_name=$2 AND trigger_group=$3`, s.tablePrefix)
	_, err := tx.ExecContext(ctx, query, string(state), key.Name, key.Group)
	return errors.Wrap(err, "postgres: set trigger state")
}
