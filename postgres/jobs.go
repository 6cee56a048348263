package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

func (s *Store) InsertJob(ctx context.Context, job *jobstore.JobDetail) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// A newly inserted job has no on-disk row to compare against, so its
		// data map is always written regardless of the write-skip optimization.
		encoded, _, err := s.codec.Serialize(job.JobDataMap, true)
		if err != nil {
			return errors.Wrap(err, "postgres: encode job data map")
		}
		query := fmt.Sprintf(`INSERT INTO %sjob_details
			(job_name, job_group, description, job_class, is_durable, is_volatile,
			 is_stateful, requests_recovery, job_data)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, s.tablePrefix)
		_, err = tx.ExecContext(ctx, query,
			job.Key.Name, job.Key.Group, job.Description, job.JobClass,
			job.Durable, job.Volatile, job.Stateful, job.RequestsRecovery, encoded,
		)
		if isUniqueViolation(err) {
			return jobstore.ErrObjectAlreadyExists
		}
		if err != nil {
			return errors.Wrap(err, "postgres: insert job")
		}
		return s.replaceJobListeners(ctx, tx, job.Key, job.Listeners)
	})
}

func (s *Store) UpdateJob(ctx context.Context, job *jobstore.JobDetail) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		encoded, shouldWrite, err := s.codec.Serialize(job.JobDataMap, true)
		if err != nil {
			return errors.Wrap(err, "postgres: encode job data map")
		}
		var query string
		if shouldWrite {
			query = fmt.Sprintf(`UPDATE %sjob_details SET
				description=$1, job_class=$2, is_durable=$3, is_volatile=$4,
				is_stateful=$5, requests_recovery=$6, job_data=$7
				WHERE job_name=$8 AND job_group=$9`, s.tablePrefix)
		} else {
			query = fmt.Sprintf(`UPDATE %sjob_details SET
				description=$1, job_class=$2, is_durable=$3, is_volatile=$4,
				is_stateful=$5, requests_recovery=$6
				WHERE job_name=$7 AND job_group=$8`, s.tablePrefix)
		}
		var res sql.Result
		if shouldWrite {
			res, err = tx.ExecContext(ctx, query,
				job.Description, job.JobClass, job.Durable, job.Volatile,
				job.Stateful, job.RequestsRecovery, encoded,
				job.Key.Name, job.Key.Group,
			)
		} else {
			res, err = tx.ExecContext(ctx, query,
				job.Description, job.JobClass, job.Durable, job.Volatile,
				job.Stateful, job.RequestsRecovery,
				job.Key.Name, job.Key.Group,
			)
		}
		if err != nil {
			return errors.Wrap(err, "postgres: update job")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return jobstore.ErrNoRowsAffected
		}
		return s.replaceJobListeners(ctx, tx, job.Key, job.Listeners)
	})
}

func (s *Store) replaceJobListeners(ctx context.Context, tx *sql.Tx, key jobstore.Key, listeners []string) error {
	delQuery := fmt.Sprintf(`DELETE FROM %sjob_listeners WHERE job_name=$1 AND job_group=$2`, s.tablePrefix)
	if _, err := tx.ExecContext(ctx, delQuery, key.Name, key.Group); err != nil {
		return errors.Wrap(err, "postgres: clear job listeners")
	}
	insQuery := fmt.Sprintf(`INSERT INTO %sjob_listeners (job_name, job_group, listener_name) VALUES ($1,$2,$3)`, s.tablePrefix)
	for _, l := range listeners {
		if _, err := tx.ExecContext(ctx, insQuery, key.Name, key.Group, l); err != nil {
			return errors.Wrap(err, "postgres: insert job listener")
		}
	}
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, key jobstore.Key) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		delListeners := fmt.Sprintf(`DELETE FROM %sjob_listeners WHERE job_name=$1 AND job_group=$2`, s.tablePrefix)
		if _, err := tx.ExecContext(ctx, delListeners, key.Name, key.Group); err != nil {
			return errors.Wrap(err, "postgres: delete job listeners")
		}
		delJob := fmt.Sprintf(`DELETE FROM %sjob_details WHERE job_name=$1 AND job_group=$2`, s.tablePrefix)
		_, err := tx.ExecContext(ctx, delJob, key.Name, key.Group)
		return errors.Wrap(err, "postgres: delete job")
	})
}

func (s *Store) GetJob(ctx context.Context, key jobstore.Key) (*jobstore.JobDetail, error) {
	var job *jobstore.JobDetail
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`SELECT job_name, job_group, description, job_class,
			is_durable, is_volatile, is_stateful, requests_recovery, job_data
			FROM %sjob_details WHERE job_name=$1 AND job_group=$2`, s.tablePrefix)
		row := tx.QueryRowContext(ctx, query, key.Name, key.Group)

		j := &jobstore.JobDetail{}
		var data []byte
		if err := row.Scan(&j.Key.Name, &j.Key.Group, &j.Description, &j.JobClass,
			&j.Durable, &j.Volatile, &j.Stateful, &j.RequestsRecovery, &data); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return errors.Wrap(err, "postgres: get job")
		}
		dataMap, err := s.codec.Deserialize(data)
		if err != nil {
			return errors.Wrap(err, "postgres: decode job data map")
		}
		j.JobDataMap = dataMap

		listenerQuery := fmt.Sprintf(`SELECT listener_name FROM %sjob_listeners
			WHERE job_name=$1 AND job_group=$2`, s.tablePrefix)
		rows, err := tx.QueryContext(ctx, listenerQuery, key.Name, key.Group)
		if err != nil {
			return errors.Wrap(err, "postgres: get job listeners")
		}
		defer rows.Close()
		for rows.Next() {
			var l string
			if err := rows.Scan(&l); err != nil {
				return errors.Wrap(err, "postgres: scan job listener")
			}
			j.Listeners = append(j.Listeners, l)
		}
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "postgres: iterate job listeners")
		}

		job = j
		return nil
	})
	return job, err
}

func (s *Store) JobExists(ctx context.Context, key jobstore.Key) (bool, error) {
	var exists bool
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`SELECT true FROM %sjob_details WHERE job_name=$1 AND job_group=$2`, s.tablePrefix)
		err := tx.QueryRowContext(ctx, query, key.Name, key.Group).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return errors.Wrap(err, "postgres: job exists")
	})
	return exists, err
}

func (s *Store) JobGroupNames(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, fmt.Sprintf(`SELECT DISTINCT job_group FROM %sjob_details ORDER BY job_group`, s.tablePrefix))
}

func (s *Store) JobNamesInGroup(ctx context.Context, group string) ([]string, error) {
	return s.queryStrings(ctx, fmt.Sprintf(`SELECT job_name FROM %sjob_details WHERE job_group=$1 ORDER BY job_name`, s.tablePrefix), group)
}

func (s *Store) TriggerKeysForJob(ctx context.Context, key jobstore.Key) ([]jobstore.Key, error) {
	var out []jobstore.Key
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`SELECT trigger_name, trigger_group FROM %striggers
			WHERE job_name=$1 AND job_group=$2`, s.tablePrefix)
		rows, err := tx.QueryContext(ctx, query, key.Name, key.Group)
		if err != nil {
			return errors.Wrap(err, "postgres: trigger keys for job")
		}
		defer rows.Close()
		for rows.Next() {
			var k jobstore.Key
			if err := rows.Scan(&k.Name, &k.Group); err != nil {
				return errors.Wrap(err, "postgres: scan trigger key")
			}
			out = append(out, k)
		}
		return errors.Wrap(rows.Err(), "postgres: iterate trigger keys")
	})
	return out, err
}

// queryStrings runs a single-column query in its own transaction and
// collects the results. It is shared by every *GroupNames/*NamesInGroup
// method across the repositories.
func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	var out []string
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return errors.Wrap(err, "postgres: query strings")
		}
		defer rows.Close()
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return errors.Wrap(err, "postgres: scan string")
			}
			out = append(out, v)
		}
		return errors.Wrap(rows.Err(), "postgres: iterate strings")
	})
	return out, err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// pgx/v5/stdlib surfaces *pgconn.PgError through database/sql's generic
	// error wrapping; sqlstate 23505 is unique_violation regardless of driver.
	type sqlStater interface{ SQLState() string }
	var ss sqlStater
	if errors.As(err, &ss) {
		return ss.SQLState() == "23505"
	}
	return false
}
