// Package postgres implements jobstore.Store against PostgreSQL. It opens a
// database/sql.DB through the pgx stdlib driver so the same code that runs
// against a live database in production can be exercised against
// github.com/DATA-DOG/go-sqlmock in tests, without a real connection.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stiez/opensymphony-quartz-backup/codec"
	"github.com/stiez/opensymphony-quartz-backup/internal/clock"
	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

// Store implements jobstore.Store. Every repository method runs inside its own
// transaction unless it is invoked from inside a WithLock callback, in which
// case it joins that callback's transaction instead of opening a new one.
type Store struct {
	db          *sql.DB
	tablePrefix string
	txTimeout   time.Duration
	clock       clock.Clock
	codec       jobstore.Codec
	logger      zerolog.Logger
}

var _ jobstore.Store = (*Store)(nil)

// Option configures a Store at construction time.
type Option func(*Store)

func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) { s.txTimeout = d }
}

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithCodec(c jobstore.Codec) Option {
	return func(s *Store) { s.codec = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open dials dsn through the pgx stdlib driver and returns a ready Store.
// Callers that already hold a *sql.DB (tests, or a shared pool) should use
// NewStore instead.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: open connection")
	}
	s := NewStore(db, opts...)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "postgres: ping")
	}
	return s, nil
}

// NewStore wraps an already-open *sql.DB. This is the constructor tests use
// with go-sqlmock, since sqlmock.New returns a *sql.DB bound to its own
// driver rather than a DSN you can pass to Open.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
		tablePrefix: "qrtz_",
		txTimeout:   5 * time.Second,
		clock:       clock.Real{},
		codec:       codec.BinaryCodec{},
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

type txKey struct{}

// beginTx starts a ReadCommitted transaction bounded by s.txTimeout. Trigger
// state changes are conditional UPDATEs whose WHERE clause names the expected
// prior state, so a row another transaction has already moved matches zero
// rows; ClaimRecovery and WithLock take a FOR UPDATE row lock before writing.
func (s *Store) beginTx(ctx context.Context) (*sql.Tx, context.Context, func(), error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	tx, err := s.db.BeginTx(timeoutCtx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		cancel()
		return nil, nil, nil, errors.Wrap(err, "postgres: begin transaction")
	}
	return tx, timeoutCtx, cancel, nil
}

func (s *Store) rollback(cancel func(), tx *sql.Tx) {
	defer cancel()
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.Error().Err(err).Str("table_prefix", s.tablePrefix).Msg("postgres: rollback failed")
	}
}

// withTx runs fn against a transaction: either the one WithLock (or an
// enclosing withTx) already opened for this ctx, or (the common case) a
// fresh one that withTx commits or rolls back before returning. Either way,
// the ctx handed to fn carries txKey{}, so any Store method fn calls on ctx
// joins the same transaction instead of opening a second, independently
// committed one on another connection — the same join-don't-nest guarantee
// WithLock provides.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx, tx)
	}

	tx, timeoutCtx, cancel, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer s.rollback(cancel, tx)

	txCtx := context.WithValue(timeoutCtx, txKey{}, tx)
	if err := fn(txCtx, tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "postgres: commit transaction")
}

// WithLock holds the named row-level advisory lock (a FOR UPDATE read against
// a seeded row in the locks table) for the duration of fn, and commits or
// rolls back the one transaction fn's nested Store calls all join.
func (s *Store) WithLock(ctx context.Context, lockName string, fn func(ctx context.Context) error) error {
	tx, timeoutCtx, cancel, err := s.beginTx(ctx)
	if err != nil {
		return err
	}
	defer s.rollback(cancel, tx)

	var held bool
	query := fmt.Sprintf(`SELECT true FROM %slocks WHERE lock_name = $1 FOR UPDATE`, s.tablePrefix)
	if err := tx.QueryRowContext(timeoutCtx, query, lockName).Scan(&held); err != nil {
		return errors.Wrapf(err, "postgres: acquire lock %q", lockName)
	}

	lockedCtx := context.WithValue(timeoutCtx, txKey{}, tx)
	if err := fn(lockedCtx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "postgres: commit locked transaction")
}

// tsInput converts a nil *time.Time to a driver-understood NULL and a
// non-nil one to its pointee, matching the teacher's tsInput helper for the
// zero-time/NULL boundary.
func tsInput(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
