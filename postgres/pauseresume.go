package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
)

func (s *Store) PausedTriggerGroups(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, fmt.Sprintf(`SELECT trigger_group FROM %spaused_trigger_grps ORDER BY trigger_group`, s.tablePrefix))
}

func (s *Store) AddPausedTriggerGroup(ctx context.Context, group string) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`INSERT INTO %spaused_trigger_grps (trigger_group) VALUES ($1) ON CONFLICT DO NOTHING`, s.tablePrefix)
		_, err := tx.ExecContext(ctx, query, group)
		return errors.Wrap(err, "postgres: add paused trigger group")
	})
}

func (s *Store) RemovePausedTriggerGroup(ctx context.Context, group string) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`DELETE FROM %spaused_trigger_grps WHERE trigger_group=$1`, s.tablePrefix)
		_, err := tx.ExecContext(ctx, query, group)
		return errors.Wrap(err, "postgres: remove paused trigger group")
	})
}

func (s *Store) IsTriggerGroupPaused(ctx context.Context, group string) (bool, error) {
	var paused bool
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`SELECT true FROM %spaused_trigger_grps WHERE trigger_group=$1`, s.tablePrefix)
		err := tx.QueryRowContext(ctx, query, group).Scan(&paused)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return errors.Wrap(err, "postgres: is trigger group paused")
	})
	return paused, err
}
