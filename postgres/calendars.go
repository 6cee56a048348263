package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

func (s *Store) InsertCalendar(ctx context.Context, cal *jobstore.Calendar) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`INSERT INTO %scalendars (calendar_name, calendar) VALUES ($1,$2)`, s.tablePrefix)
		_, err := tx.ExecContext(ctx, query, cal.Name, cal.Serialized)
		if isUniqueViolation(err) {
			return jobstore.ErrObjectAlreadyExists
		}
		return errors.Wrap(err, "postgres: insert calendar")
	})
}

func (s *Store) UpdateCalendar(ctx context.Context, cal *jobstore.Calendar) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`UPDATE %scalendars SET calendar=$1 WHERE calendar_name=$2`, s.tablePrefix)
		res, err := tx.ExecContext(ctx, query, cal.Serialized, cal.Name)
		if err != nil {
			return errors.Wrap(err, "postgres: update calendar")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return jobstore.ErrNoRowsAffected
		}
		return nil
	})
}

func (s *Store) DeleteCalendar(ctx context.Context, name string) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var inUse int
		countQuery := fmt.Sprintf(`SELECT count(*) FROM %striggers WHERE calendar_name=$1`, s.tablePrefix)
		if err := tx.QueryRowContext(ctx, countQuery, name).Scan(&inUse); err != nil {
			return errors.Wrap(err, "postgres: count triggers referencing calendar")
		}
		if inUse > 0 {
			return jobstore.ErrCalendarInUse
		}
		delQuery := fmt.Sprintf(`DELETE FROM %scalendars WHERE calendar_name=$1`, s.tablePrefix)
		_, err := tx.ExecContext(ctx, delQuery, name)
		return errors.Wrap(err, "postgres: delete calendar")
	})
}

func (s *Store) GetCalendar(ctx context.Context, name string) (*jobstore.Calendar, error) {
	var cal *jobstore.Calendar
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`SELECT calendar_name, calendar FROM %scalendars WHERE calendar_name=$1`, s.tablePrefix)
		c := &jobstore.Calendar{}
		err := tx.QueryRowContext(ctx, query, name).Scan(&c.Name, &c.Serialized)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "postgres: get calendar")
		}
		cal = c
		return nil
	})
	return cal, err
}

func (s *Store) CalendarNames(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, fmt.Sprintf(`SELECT calendar_name FROM %scalendars ORDER BY calendar_name`, s.tablePrefix))
}
