package pgstore_test

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/hotmeshio/durable-go/store"
	"github.com/hotmeshio/durable-go/store/pgstore"
)

func newTestStore(t *testing.T) (*pgstore.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "postgres")
	return pgstore.New(sqlxDB, "jobs"), mock
}

func TestPgCreateJob(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO jobs \(job_id, context, fields\) VALUES \(\$1, '\{\}'::jsonb, \$2\)`).
		WithArgs("wf-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.CreateJob(ctx, "wf-1", map[string][]byte{"status": []byte("running")}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetFields(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT fields FROM jobs WHERE job_id = \$1`).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"fields"}).AddRow(`{"status":"running"}`))

	fields, err := s.GetFields(ctx, "wf-1", []string{"status", "missing"})
	require.NoError(t, err)
	require.Equal(t, []byte("running"), fields["status"])
	_, present := fields["missing"]
	require.False(t, present)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetFieldNotFound(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT fields FROM jobs WHERE job_id = \$1`).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"fields"}).AddRow(`{}`))

	_, err := s.GetField(ctx, "wf-1", "status")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgIncrementFieldByFloat(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`(?s)UPDATE jobs\s+SET fields = jsonb_set\(.*RETURNING \(fields->>\$2\)::float8`).
		WithArgs("wf-1", "counter", 2.5).
		WillReturnRows(sqlmock.NewRows([]string{"float8"}).AddRow(2.5))

	total, err := s.IncrementFieldByFloat(ctx, "wf-1", "counter", 2.5)
	require.NoError(t, err)
	require.Equal(t, 2.5, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDeleteFields(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE jobs SET fields = fields - \$2::text\[\] WHERE job_id = \$1`).
		WithArgs("wf-1", "{a,b}").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.DeleteFields(ctx, "wf-1", []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgExpireAndDelete(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectExec(`(?s)UPDATE jobs\s+SET expire_at = CASE.*WHERE job_id = \$1`).
		WithArgs("wf-1", int64(60)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Expire(ctx, "wf-1", 60))

	mock.ExpectExec(`DELETE FROM jobs WHERE job_id = \$1`).
		WithArgs("wf-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Delete(ctx, "wf-1"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgMutateContextSetWholeDocument(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs SET context = \$2::jsonb WHERE job_id = \$1`).
		WithArgs("wf-1", `{"k":"v"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT context FROM jobs WHERE job_id = \$1`).
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"context"}).AddRow(`{"k":"v"}`))
	mock.ExpectCommit()

	out, err := s.MutateContext(ctx, "wf-1", store.ContextMutation{
		Op:    store.OpSet,
		Value: []byte(`{"k":"v"}`),
	})
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, string(out))
	require.NoError(t, mock.ExpectationsWereMet())
}
