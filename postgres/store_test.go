package postgres_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiez/opensymphony-quartz-backup/codec"
	"github.com/stiez/opensymphony-quartz-backup/jobstore"
	"github.com/stiez/opensymphony-quartz-backup/postgres"
)

// sqlstateError fakes the SQLState() interface pgx/v5's driver errors expose,
// letting isUniqueViolation's type assertion fire without a live connection.
type sqlstateError struct{ code string }

func (e sqlstateError) Error() string    { return "pq: duplicate key value violates unique constraint" }
func (e sqlstateError) SQLState() string { return e.code }

func newTestStore(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return postgres.NewStore(db, postgres.WithTablePrefix("qrtz_")), mock
}

func TestInsertJob_UniqueViolationMapsToObjectAlreadyExists(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO qrtz_job_details")).
		WillReturnError(sqlstateError{code: "23505"})
	mock.ExpectRollback()

	err := store.InsertJob(context.Background(), &jobstore.JobDetail{
		Key:      jobstore.Key{Name: "job-1", Group: jobstore.DefaultGroup},
		JobClass: "widget.Refresh",
	})

	assert.ErrorIs(t, err, jobstore.ErrObjectAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertJob_EncodesDataMapAndCommits(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO qrtz_job_details")).
		WithArgs("job-1", jobstore.DefaultGroup, "", "widget.Refresh", false, false, false, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM qrtz_job_listeners")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.InsertJob(context.Background(), &jobstore.JobDetail{
		Key:      jobstore.Key{Name: "job-1", Group: jobstore.DefaultGroup},
		JobClass: "widget.Refresh",
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJob_NoRowsAffectedReturnsSentinel(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE qrtz_job_details SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.UpdateJob(context.Background(), &jobstore.JobDetail{
		Key:      jobstore.Key{Name: "missing", Group: jobstore.DefaultGroup},
		JobClass: "widget.Refresh",
	})

	assert.ErrorIs(t, err, jobstore.ErrNoRowsAffected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJob_DecodesJobDataMapThroughCodec(t *testing.T) {
	store, mock := newTestStore(t)

	encoded, _, err := codec.BinaryCodec{}.Serialize(map[string]any{"count": 3}, true)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"job_name", "job_group", "description", "job_class",
		"is_durable", "is_volatile", "is_stateful", "requests_recovery", "job_data",
	}).AddRow("job-1", jobstore.DefaultGroup, "", "widget.Refresh", true, false, false, false, encoded)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT job_name, job_group")).WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT listener_name FROM qrtz_job_listeners")).
		WillReturnRows(sqlmock.NewRows([]string{"listener_name"}))
	mock.ExpectCommit()

	job, err := store.GetJob(context.Background(), jobstore.Key{Name: "job-1", Group: jobstore.DefaultGroup})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 3, job.JobDataMap["count"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLock_JoinsNestedStoreCallIntoSameTransaction(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT true FROM qrtz_locks WHERE lock_name = $1 FOR UPDATE")).
		WithArgs("STATE_ACCESS").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT true FROM qrtz_job_details")).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(true))
	mock.ExpectCommit()

	var exists bool
	err := store.WithLock(context.Background(), "STATE_ACCESS", func(ctx context.Context) error {
		var err error
		exists, err = store.JobExists(ctx, jobstore.Key{Name: "job-1", Group: jobstore.DefaultGroup})
		return err
	})

	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTriggeredJobComplete_DeleteTriggerJoinsTheSameTransaction(t *testing.T) {
	store, mock := newTestStore(t)

	triggerKey := jobstore.Key{Name: "trigger-1", Group: jobstore.DefaultGroup}
	jobKey := jobstore.Key{Name: "job-1", Group: jobstore.DefaultGroup}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM qrtz_fired_triggers WHERE trigger_name=$1 AND trigger_group=$2")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	triggerRows := sqlmock.NewRows([]string{
		"trigger_name", "trigger_group", "job_name", "job_group", "description",
		"is_volatile", "next_fire_time", "prev_fire_time", "trigger_state", "trigger_type",
		"start_time", "end_time", "calendar_name", "misfire_instr", "job_data",
	}).AddRow(triggerKey.Name, triggerKey.Group, jobKey.Name, jobKey.Group, "",
		false, nil, nil, string(jobstore.StateExecuting), string(jobstore.TriggerTypeSimple),
		time.Now(), nil, "", 0, []byte(nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT trigger_name, trigger_group")).WillReturnRows(triggerRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT listener_name FROM qrtz_trigger_listeners")).
		WillReturnRows(sqlmock.NewRows([]string{"listener_name"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT repeat_count, repeat_interval, times_triggered")).
		WillReturnRows(sqlmock.NewRows([]string{"repeat_count", "repeat_interval", "times_triggered"}).AddRow(0, int64(0), 0))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM qrtz_simple_triggers")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM qrtz_trigger_listeners")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM qrtz_fired_triggers WHERE trigger_name=$1 AND trigger_group=$2")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM qrtz_triggers")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT is_durable FROM qrtz_job_details")).
		WillReturnRows(sqlmock.NewRows([]string{"is_durable"}).AddRow(true))

	jobRows := sqlmock.NewRows([]string{
		"job_name", "job_group", "description", "job_class",
		"is_durable", "is_volatile", "is_stateful", "requests_recovery", "job_data",
	}).AddRow(jobKey.Name, jobKey.Group, "", "widget.Refresh", true, false, false, false, []byte(nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT job_name, job_group")).WillReturnRows(jobRows)

	mock.ExpectCommit()

	err := store.TriggeredJobComplete(context.Background(), triggerKey, jobKey, jobstore.InstructionDeleteTrigger, nil)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet(), "DeleteTrigger must join the outer transaction instead of opening its own Begin/Commit pair")
}

func TestTriggersFired_LedgerRowRecordsStatefulAndRequestsRecovery(t *testing.T) {
	store, mock := newTestStore(t)

	triggerKey := jobstore.Key{Name: "trigger-1", Group: jobstore.DefaultGroup}
	jobKey := jobstore.Key{Name: "job-1", Group: jobstore.DefaultGroup}
	nextFire := time.Now().Add(time.Hour)
	trig := &jobstore.Trigger{
		Key:          triggerKey,
		JobKey:       jobKey,
		State:        jobstore.StateAcquired,
		Type:         jobstore.TriggerTypeSimple,
		NextFireTime: &nextFire,
		Simple:       &jobstore.SimpleTriggerFields{RepeatCount: jobstore.RepeatForever},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT entry_id FROM qrtz_fired_triggers")).
		WillReturnRows(sqlmock.NewRows([]string{"entry_id"}).AddRow("entry-1"))

	jobRows := sqlmock.NewRows([]string{
		"job_name", "job_group", "description", "job_class",
		"is_durable", "is_volatile", "is_stateful", "requests_recovery", "job_data",
	}).AddRow(jobKey.Name, jobKey.Group, "", "widget.Refresh", true, false, true, true, []byte(nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT job_name, job_group")).WillReturnRows(jobRows)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE qrtz_triggers SET trigger_state=$1, next_fire_time=$2, prev_fire_time=$3")).
		WithArgs(string(jobstore.StateBlocked), sqlmock.AnyArg(), sqlmock.AnyArg(), triggerKey.Name, triggerKey.Group, string(jobstore.StateAcquired)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE qrtz_triggers SET trigger_state=$1\n\t\t\tWHERE job_name=$2")).
		WithArgs(string(jobstore.StateBlocked), jobKey.Name, jobKey.Group, string(jobstore.StateWaiting)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE qrtz_fired_triggers SET state=$1, is_stateful=$2, requests_recovery=$3")).
		WithArgs(string(jobstore.FiredExecuting), true, true, "entry-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectCommit()

	results, err := store.TriggersFired(context.Background(), "instance-1", []*jobstore.Trigger{trig})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, mock.ExpectationsWereMet(), "a stateful job's fired-trigger ledger row must record is_stateful/requests_recovery so cluster recovery can read them back")
}

func TestAcquireNextTriggers_SkipsRowWonByAnotherInstance(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT trigger_name, trigger_group FROM qrtz_triggers")).
		WillReturnRows(sqlmock.NewRows([]string{"trigger_name", "trigger_group"}).
			AddRow("trigger-1", jobstore.DefaultGroup))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE qrtz_triggers SET trigger_state=$1")).
		WithArgs(string(jobstore.StateAcquired), "trigger-1", jobstore.DefaultGroup, string(jobstore.StateWaiting)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	claimed, err := store.AcquireNextTriggers(context.Background(), "instance-1", time.Now(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "a row another instance already flipped must be skipped, not retried")
	require.NoError(t, mock.ExpectationsWereMet())
}
