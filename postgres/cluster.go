package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

func (s *Store) InsertSchedulerInstance(ctx context.Context, inst *jobstore.SchedulerInstance) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`INSERT INTO %sscheduler_state
			(instance_name, last_checkin_time, checkin_interval, recoverer)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (instance_name) DO UPDATE SET
				last_checkin_time=EXCLUDED.last_checkin_time,
				checkin_interval=EXCLUDED.checkin_interval`, s.tablePrefix)
		_, err := tx.ExecContext(ctx, query, inst.InstanceId, inst.LastCheckinTime,
			inst.CheckinInterval.Milliseconds(), inst.Recoverer)
		return errors.Wrap(err, "postgres: insert scheduler instance")
	})
}

func (s *Store) UpdateCheckinTime(ctx context.Context, instanceId string, at time.Time) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`UPDATE %sscheduler_state SET last_checkin_time=$1 WHERE instance_name=$2`, s.tablePrefix)
		res, err := tx.ExecContext(ctx, query, at, instanceId)
		if err != nil {
			return errors.Wrap(err, "postgres: update checkin time")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return jobstore.ErrNoRowsAffected
		}
		return nil
	})
}

func (s *Store) SchedulerInstances(ctx context.Context) ([]*jobstore.SchedulerInstance, error) {
	var out []*jobstore.SchedulerInstance
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`SELECT instance_name, last_checkin_time, checkin_interval, recoverer
			FROM %sscheduler_state`, s.tablePrefix)
		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return errors.Wrap(err, "postgres: list scheduler instances")
		}
		defer rows.Close()
		for rows.Next() {
			inst := &jobstore.SchedulerInstance{}
			var intervalMs int64
			if err := rows.Scan(&inst.InstanceId, &inst.LastCheckinTime, &intervalMs, &inst.Recoverer); err != nil {
				return errors.Wrap(err, "postgres: scan scheduler instance")
			}
			inst.CheckinInterval = time.Duration(intervalMs) * time.Millisecond
			out = append(out, inst)
		}
		return errors.Wrap(rows.Err(), "postgres: iterate scheduler instances")
	})
	return out, err
}

func (s *Store) RemoveSchedulerInstance(ctx context.Context, instanceId string) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`DELETE FROM %sscheduler_state WHERE instance_name=$1`, s.tablePrefix)
		_, err := tx.ExecContext(ctx, query, instanceId)
		return errors.Wrap(err, "postgres: remove scheduler instance")
	})
}

// ClaimRecovery is the cluster analogue of the teacher's TryTakeOverJob: lock
// the row, check the precondition, then write, all inside one transaction so
// a second claimant waits on the row lock, then finds recoverer already set
// and returns false without writing.
func (s *Store) ClaimRecovery(ctx context.Context, deadInstanceId string, recovererId string) (bool, error) {
	var claimed bool
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var current string
		lockQuery := fmt.Sprintf(`SELECT recoverer FROM %sscheduler_state WHERE instance_name=$1 FOR UPDATE`, s.tablePrefix)
		err := tx.QueryRowContext(ctx, lockQuery, deadInstanceId).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "postgres: lock scheduler instance for recovery claim")
		}
		if current != "" {
			return nil
		}

		updateQuery := fmt.Sprintf(`UPDATE %sscheduler_state SET recoverer=$1 WHERE instance_name=$2`, s.tablePrefix)
		if _, err := tx.ExecContext(ctx, updateQuery, recovererId, deadInstanceId); err != nil {
			return errors.Wrap(err, "postgres: claim recovery")
		}
		claimed = true
		return nil
	})
	return claimed, err
}
