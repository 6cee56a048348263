package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

func (s *Store) GetMisfiredTriggers(ctx context.Context, group string, misfireTime time.Time, maxCount int) ([]*jobstore.Trigger, error) {
	var out []*jobstore.Trigger
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var query string
		var args []any
		if group == "" {
			query = fmt.Sprintf(`SELECT trigger_name, trigger_group FROM %striggers
				WHERE trigger_state=$1 AND next_fire_time IS NOT NULL AND next_fire_time < $2
				ORDER BY next_fire_time ASC LIMIT $3`, s.tablePrefix)
			args = []any{string(jobstore.StateWaiting), misfireTime, limitOrAll(maxCount)}
		} else {
			query = fmt.Sprintf(`SELECT trigger_name, trigger_group FROM %striggers
				WHERE trigger_state=$1 AND trigger_group=$2 AND next_fire_time IS NOT NULL AND next_fire_time < $3
				ORDER BY next_fire_time ASC LIMIT $4`, s.tablePrefix)
			args = []any{string(jobstore.StateWaiting), group, misfireTime, limitOrAll(maxCount)}
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return errors.Wrap(err, "postgres: select misfired triggers")
		}
		var keys []jobstore.Key
		for rows.Next() {
			var k jobstore.Key
			if err := rows.Scan(&k.Name, &k.Group); err != nil {
				rows.Close()
				return errors.Wrap(err, "postgres: scan misfired trigger key")
			}
			keys = append(keys, k)
		}
		closeErr := rows.Close()
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "postgres: iterate misfired trigger keys")
		}
		if closeErr != nil {
			return errors.Wrap(closeErr, "postgres: close misfired trigger rows")
		}

		for _, k := range keys {
			trig, err := s.getTriggerTx(ctx, tx, k)
			if err != nil {
				return err
			}
			if trig != nil {
				out = append(out, trig)
			}
		}
		return nil
	})
	return out, err
}
