package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

func (s *Store) InsertTrigger(ctx context.Context, trigger *jobstore.Trigger) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		encoded, _, err := s.codec.Serialize(trigger.JobDataMap, true)
		if err != nil {
			return errors.Wrap(err, "postgres: encode trigger data map")
		}
		query := fmt.Sprintf(`INSERT INTO %striggers
			(trigger_name, trigger_group, job_name, job_group, description, is_volatile,
			 next_fire_time, prev_fire_time, trigger_state, trigger_type, start_time, end_time,
			 calendar_name, misfire_instr, job_data)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`, s.tablePrefix)
		_, err = tx.ExecContext(ctx, query,
			trigger.Key.Name, trigger.Key.Group, trigger.JobKey.Name, trigger.JobKey.Group,
			trigger.Description, trigger.Volatile,
			tsInput(trigger.NextFireTime), tsInput(trigger.PrevFireTime),
			string(trigger.State), string(trigger.Type), trigger.StartTime, tsInput(trigger.EndTime),
			trigger.CalendarName, int(trigger.MisfireInstruction), encoded,
		)
		if isUniqueViolation(err) {
			return jobstore.ErrObjectAlreadyExists
		}
		if err != nil {
			return errors.Wrap(err, "postgres: insert trigger")
		}
		if err := s.replaceTriggerListeners(ctx, tx, trigger.Key, trigger.Listeners); err != nil {
			return err
		}
		return s.insertVariant(ctx, tx, trigger)
	})
}

func (s *Store) insertVariant(ctx context.Context, tx *sql.Tx, trigger *jobstore.Trigger) error {
	switch trigger.Type {
	case jobstore.TriggerTypeSimple:
		query := fmt.Sprintf(`INSERT INTO %ssimple_triggers
			(trigger_name, trigger_group, repeat_count, repeat_interval, times_triggered)
			VALUES ($1,$2,$3,$4,$5)`, s.tablePrefix)
		_, err := tx.ExecContext(ctx, query, trigger.Key.Name, trigger.Key.Group,
			trigger.Simple.RepeatCount, trigger.Simple.RepeatInterval.Milliseconds(), trigger.Simple.TimesTriggered)
		return errors.Wrap(err, "postgres: insert simple trigger variant")
	case jobstore.TriggerTypeCron:
		query := fmt.Sprintf(`INSERT INTO %scron_triggers
			(trigger_name, trigger_group, cron_expression, time_zone_id)
			VALUES ($1,$2,$3,$4)`, s.tablePrefix)
		_, err := tx.ExecContext(ctx, query, trigger.Key.Name, trigger.Key.Group,
			trigger.Cron.CronExpression, trigger.Cron.TimeZoneID)
		return errors.Wrap(err, "postgres: insert cron trigger variant")
	case jobstore.TriggerTypeBlob:
		query := fmt.Sprintf(`INSERT INTO %sblob_triggers
			(trigger_name, trigger_group, blob_data) VALUES ($1,$2,$3)`, s.tablePrefix)
		_, err := tx.ExecContext(ctx, query, trigger.Key.Name, trigger.Key.Group, trigger.Blob.Data)
		return errors.Wrap(err, "postgres: insert blob trigger variant")
	default:
		return errors.Errorf("postgres: unknown trigger type %q", trigger.Type)
	}
}

func (s *Store) deleteVariant(ctx context.Context, tx *sql.Tx, key jobstore.Key, t jobstore.TriggerType) error {
	var table string
	switch t {
	case jobstore.TriggerTypeSimple:
		table = "simple_triggers"
	case jobstore.TriggerTypeCron:
		table = "cron_triggers"
	case jobstore.TriggerTypeBlob:
		table = "blob_triggers"
	default:
		return errors.Errorf("postgres: unknown trigger type %q", t)
	}
	query := fmt.Sprintf(`DELETE FROM %s%s WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix, table)
	_, err := tx.ExecContext(ctx, query, key.Name, key.Group)
	return errors.Wrapf(err, "postgres: delete %s variant", table)
}

func (s *Store) UpdateTrigger(ctx context.Context, trigger *jobstore.Trigger) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		encoded, shouldWrite, err := s.codec.Serialize(trigger.JobDataMap, trigger.Dirty)
		if err != nil {
			return errors.Wrap(err, "postgres: encode trigger data map")
		}

		var query string
		var args []any
		if shouldWrite {
			query = fmt.Sprintf(`UPDATE %striggers SET
				job_name=$1, job_group=$2, description=$3, is_volatile=$4,
				next_fire_time=$5, prev_fire_time=$6, trigger_state=$7, trigger_type=$8,
				start_time=$9, end_time=$10, calendar_name=$11, misfire_instr=$12, job_data=$13
				WHERE trigger_name=$14 AND trigger_group=$15`, s.tablePrefix)
			args = []any{
				trigger.JobKey.Name, trigger.JobKey.Group, trigger.Description, trigger.Volatile,
				tsInput(trigger.NextFireTime), tsInput(trigger.PrevFireTime), string(trigger.State),
				string(trigger.Type), trigger.StartTime, tsInput(trigger.EndTime),
				trigger.CalendarName, int(trigger.MisfireInstruction), encoded,
				trigger.Key.Name, trigger.Key.Group,
			}
		} else {
			query = fmt.Sprintf(`UPDATE %striggers SET
				job_name=$1, job_group=$2, description=$3, is_volatile=$4,
				next_fire_time=$5, prev_fire_time=$6, trigger_state=$7, trigger_type=$8,
				start_time=$9, end_time=$10, calendar_name=$11, misfire_instr=$12
				WHERE trigger_name=$13 AND trigger_group=$14`, s.tablePrefix)
			args = []any{
				trigger.JobKey.Name, trigger.JobKey.Group, trigger.Description, trigger.Volatile,
				tsInput(trigger.NextFireTime), tsInput(trigger.PrevFireTime), string(trigger.State),
				string(trigger.Type), trigger.StartTime, tsInput(trigger.EndTime),
				trigger.CalendarName, int(trigger.MisfireInstruction),
				trigger.Key.Name, trigger.Key.Group,
			}
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return errors.Wrap(err, "postgres: update trigger")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return jobstore.ErrNoRowsAffected
		}
		if err := s.replaceTriggerListeners(ctx, tx, trigger.Key, trigger.Listeners); err != nil {
			return err
		}
		if err := s.deleteVariant(ctx, tx, trigger.Key, trigger.Type); err != nil {
			return err
		}
		return s.insertVariant(ctx, tx, trigger)
	})
}

func (s *Store) replaceTriggerListeners(ctx context.Context, tx *sql.Tx, key jobstore.Key, listeners []string) error {
	delQuery := fmt.Sprintf(`DELETE FROM %strigger_listeners WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix)
	if _, err := tx.ExecContext(ctx, delQuery, key.Name, key.Group); err != nil {
		return errors.Wrap(err, "postgres: clear trigger listeners")
	}
	insQuery := fmt.Sprintf(`INSERT INTO %strigger_listeners (trigger_name, trigger_group, listener_name) VALUES ($1,$2,$3)`, s.tablePrefix)
	for _, l := range listeners {
		if _, err := tx.ExecContext(ctx, insQuery, key.Name, key.Group, l); err != nil {
			return errors.Wrap(err, "postgres: insert trigger listener")
		}
	}
	return nil
}

func (s *Store) DeleteTrigger(ctx context.Context, key jobstore.Key) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		trig, err := s.getTriggerTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if trig == nil {
			return nil
		}

		if err := s.deleteVariant(ctx, tx, key, trig.Type); err != nil {
			return err
		}
		delListeners := fmt.Sprintf(`DELETE FROM %strigger_listeners WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix)
		if _, err := tx.ExecContext(ctx, delListeners, key.Name, key.Group); err != nil {
			return errors.Wrap(err, "postgres: delete trigger listeners")
		}
		delFired := fmt.Sprintf(`DELETE FROM %sfired_triggers WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix)
		if _, err := tx.ExecContext(ctx, delFired, key.Name, key.Group); err != nil {
			return errors.Wrap(err, "postgres: delete fired triggers for trigger")
		}
		delTrigger := fmt.Sprintf(`DELETE FROM %striggers WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix)
		if _, err := tx.ExecContext(ctx, delTrigger, key.Name, key.Group); err != nil {
			return errors.Wrap(err, "postgres: delete trigger")
		}

		return s.orphanJobIfUnreferenced(ctx, tx, trig.JobKey)
	})
}

func (s *Store) orphanJobIfUnreferenced(ctx context.Context, tx *sql.Tx, jobKey jobstore.Key) error {
	var durable bool
	query := fmt.Sprintf(`SELECT is_durable FROM %sjob_details WHERE job_name=$1 AND job_group=$2`, s.tablePrefix)
	err := tx.QueryRowContext(ctx, query, jobKey.Name, jobKey.Group).Scan(&durable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "postgres: check job durability")
	}
	if durable {
		return nil
	}

	var remaining int
	countQuery := fmt.Sprintf(`SELECT count(*) FROM %striggers WHERE job_name=$1 AND job_group=$2`, s.tablePrefix)
	if err := tx.QueryRowContext(ctx, countQuery, jobKey.Name, jobKey.Group).Scan(&remaining); err != nil {
		return errors.Wrap(err, "postgres: count remaining triggers")
	}
	if remaining > 0 {
		return nil
	}

	delListeners := fmt.Sprintf(`DELETE FROM %sjob_listeners WHERE job_name=$1 AND job_group=$2`, s.tablePrefix)
	if _, err := tx.ExecContext(ctx, delListeners, jobKey.Name, jobKey.Group); err != nil {
		return errors.Wrap(err, "postgres: delete orphaned job listeners")
	}
	delJob := fmt.Sprintf(`DELETE FROM %sjob_details WHERE job_name=$1 AND job_group=$2`, s.tablePrefix)
	_, err = tx.ExecContext(ctx, delJob, jobKey.Name, jobKey.Group)
	return errors.Wrap(err, "postgres: delete orphaned job")
}

func (s *Store) GetTrigger(ctx context.Context, key jobstore.Key) (*jobstore.Trigger, error) {
	var trig *jobstore.Trigger
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		trig, err = s.getTriggerTx(ctx, tx, key)
		return err
	})
	return trig, err
}

func (s *Store) getTriggerTx(ctx context.Context, tx *sql.Tx, key jobstore.Key) (*jobstore.Trigger, error) {
	query := fmt.Sprintf(`SELECT trigger_name, trigger_group, job_name, job_group, description,
		is_volatile, next_fire_time, prev_fire_time, trigger_state, trigger_type, start_time,
		end_time, calendar_name, misfire_instr, job_data
		FROM %striggers WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix)
	row := tx.QueryRowContext(ctx, query, key.Name, key.Group)

	t := &jobstore.Trigger{}
	var state, typ string
	var nextFire, prevFire, endTime sql.NullTime
	var data []byte
	err := row.Scan(&t.Key.Name, &t.Key.Group, &t.JobKey.Name, &t.JobKey.Group, &t.Description,
		&t.Volatile, &nextFire, &prevFire, &state, &typ, &t.StartTime, &endTime,
		&t.CalendarName, (*int)(&t.MisfireInstruction), &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "postgres: get trigger")
	}
	t.State = jobstore.TriggerState(state)
	t.Type = jobstore.TriggerType(typ)
	if nextFire.Valid {
		t.NextFireTime = &nextFire.Time
	}
	if prevFire.Valid {
		t.PrevFireTime = &prevFire.Time
	}
	if endTime.Valid {
		t.EndTime = &endTime.Time
	}
	dataMap, err := s.codec.Deserialize(data)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: decode trigger data map")
	}
	t.JobDataMap = dataMap

	listenerQuery := fmt.Sprintf(`SELECT listener_name FROM %strigger_listeners
		WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix)
	rows, err := tx.QueryContext(ctx, listenerQuery, key.Name, key.Group)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: get trigger listeners")
	}
	defer rows.Close()
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, errors.Wrap(err, "postgres: scan trigger listener")
		}
		t.Listeners = append(t.Listeners, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "postgres: iterate trigger listeners")
	}

	if err := s.loadVariant(ctx, tx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) loadVariant(ctx context.Context, tx *sql.Tx, t *jobstore.Trigger) error {
	switch t.Type {
	case jobstore.TriggerTypeSimple:
		query := fmt.Sprintf(`SELECT repeat_count, repeat_interval, times_triggered
			FROM %ssimple_triggers WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix)
		f := &jobstore.SimpleTriggerFields{}
		var intervalMs int64
		err := tx.QueryRowContext(ctx, query, t.Key.Name, t.Key.Group).Scan(&f.RepeatCount, &intervalMs, &f.TimesTriggered)
		if err != nil {
			return errors.Wrap(err, "postgres: load simple trigger variant")
		}
		f.RepeatInterval = time.Duration(intervalMs) * time.Millisecond
		t.Simple = f
	case jobstore.TriggerTypeCron:
		query := fmt.Sprintf(`SELECT cron_expression, time_zone_id
			FROM %scron_triggers WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix)
		f := &jobstore.CronTriggerFields{}
		if err := tx.QueryRowContext(ctx, query, t.Key.Name, t.Key.Group).Scan(&f.CronExpression, &f.TimeZoneID); err != nil {
			return errors.Wrap(err, "postgres: load cron trigger variant")
		}
		t.Cron = f
	case jobstore.TriggerTypeBlob:
		query := fmt.Sprintf(`SELECT blob_data FROM %sblob_triggers
			WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix)
		f := &jobstore.BlobTriggerFields{}
		if err := tx.QueryRowContext(ctx, query, t.Key.Name, t.Key.Group).Scan(&f.Data); err != nil {
			return errors.Wrap(err, "postgres: load blob trigger variant")
		}
		t.Blob = f
	default:
		return errors.Errorf("postgres: unknown trigger type %q", t.Type)
	}
	return nil
}

func (s *Store) TriggerExists(ctx context.Context, key jobstore.Key) (bool, error) {
	var exists bool
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`SELECT true FROM %striggers WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix)
		err := tx.QueryRowContext(ctx, query, key.Name, key.Group).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return errors.Wrap(err, "postgres: trigger exists")
	})
	return exists, err
}

func (s *Store) GetTriggerState(ctx context.Context, key jobstore.Key) (jobstore.TriggerState, error) {
	state := jobstore.StateDeleted
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`SELECT trigger_state FROM %striggers WHERE trigger_name=$1 AND trigger_group=$2`, s.tablePrefix)
		var raw string
		err := tx.QueryRowContext(ctx, query, key.Name, key.Group).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "postgres: get trigger state")
		}
		state = jobstore.TriggerState(raw)
		return nil
	})
	return state, err
}

func (s *Store) TriggerGroupNames(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, fmt.Sprintf(`SELECT DISTINCT trigger_group FROM %striggers ORDER BY trigger_group`, s.tablePrefix))
}

func (s *Store) TriggerNamesInGroup(ctx context.Context, group string) ([]string, error) {
	return s.queryStrings(ctx, fmt.Sprintf(`SELECT trigger_name FROM %striggers WHERE trigger_group=$1 ORDER BY trigger_name`, s.tablePrefix), group)
}

func (s *Store) UpdateTriggerStateFromStates(ctx context.Context, key jobstore.Key, new jobstore.TriggerState, olds ...jobstore.TriggerState) (int, error) {
	var n int
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`UPDATE %striggers SET trigger_state=$1
			WHERE trigger_name=$2 AND trigger_group=$3 AND trigger_state = ANY($4)`, s.tablePrefix)
		res, err := tx.ExecContext(ctx, query, string(new), key.Name, key.Group, statesToStrings(olds))
		if err != nil {
			return errors.Wrap(err, "postgres: conditional trigger state update")
		}
		rows, err := res.RowsAffected()
		n = int(rows)
		return errors.Wrap(err, "postgres: rows affected")
	})
	return n, err
}

func (s *Store) UpdateTriggerGroupStateFromStates(ctx context.Context, group string, new jobstore.TriggerState, olds ...jobstore.TriggerState) (int, error) {
	var n int
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`UPDATE %striggers SET trigger_state=$1
			WHERE trigger_group=$2 AND trigger_state = ANY($3)`, s.tablePrefix)
		res, err := tx.ExecContext(ctx, query, string(new), group, statesToStrings(olds))
		if err != nil {
			return errors.Wrap(err, "postgres: conditional group state update")
		}
		rows, err := res.RowsAffected()
		n = int(rows)
		return errors.Wrap(err, "postgres: rows affected")
	})
	return n, err
}

func (s *Store) UpdateTriggerStateForJob(ctx context.Context, jobKey jobstore.Key, new jobstore.TriggerState, olds ...jobstore.TriggerState) (int, error) {
	var n int
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`UPDATE %striggers SET trigger_state=$1
			WHERE job_name=$2 AND job_group=$3 AND trigger_state = ANY($4)`, s.tablePrefix)
		res, err := tx.ExecContext(ctx, query, string(new), jobKey.Name, jobKey.Group, statesToStrings(olds))
		if err != nil {
			return errors.Wrap(err, "postgres: conditional job-scoped state update")
		}
		rows, err := res.RowsAffected()
		n = int(rows)
		return errors.Wrap(err, "postgres: rows affected")
	})
	return n, err
}

func (s *Store) TriggersForCalendar(ctx context.Context, calendarName string) ([]jobstore.Key, error) {
	var out []jobstore.Key
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`SELECT trigger_name, trigger_group FROM %striggers WHERE calendar_name=$1`, s.tablePrefix)
		rows, err := tx.QueryContext(ctx, query, calendarName)
		if err != nil {
			return errors.Wrap(err, "postgres: triggers for calendar")
		}
		defer rows.Close()
		for rows.Next() {
			var k jobstore.Key
			if err := rows.Scan(&k.Name, &k.Group); err != nil {
				return errors.Wrap(err, "postgres: scan trigger key")
			}
			out = append(out, k)
		}
		return errors.Wrap(rows.Err(), "postgres: iterate triggers for calendar")
	})
	return out, err
}

func statesToStrings(states []jobstore.TriggerState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
