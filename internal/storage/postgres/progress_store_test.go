package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/progressive-loader/internal/store"
)

var columns = []string{
	"id", "url", "started_at", "updated_at", "finished_at", "status",
	"total_bytes", "bytes_received", "percent", "error_message",
}

func newMockStore(t *testing.T) (*ProgressStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewProgressStoreWithPool(mock, "")
	require.NoError(t, err)
	return s, mock
}

func TestNewProgressStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewProgressStoreWithPool(mock, "load_runs; DROP TABLE x")
	require.Error(t, err)
	_, err = NewProgressStoreWithPool(nil, "")
	require.Error(t, err)
}

func TestUpsertLoadStart(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO load_runs").
		WithArgs(id, "https://example.com/wasm/pongo.wasm", now, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertLoadStart(context.Background(), id, "https://example.com/wasm/pongo.wasm", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordProgress(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	snap := store.ProgressSnapshot{TotalBytes: 1024, BytesReceived: 512, Percent: 50, At: time.Now()}

	mock.ExpectExec("UPDATE load_runs").
		WithArgs(snap.TotalBytes, snap.BytesReceived, snap.Percent, snap.At, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.RecordProgress(context.Background(), id, snap))

	mock.ExpectExec("UPDATE load_runs").
		WithArgs(snap.TotalBytes, snap.BytesReceived, snap.Percent, snap.At, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := s.RecordProgress(context.Background(), id, snap)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteLoad(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()
	msg := "missing Content-Length"

	mock.ExpectExec("UPDATE load_runs").
		WithArgs(now, store.RunError, &msg, id).
		WillReturnError(errors.New("conn closed"))

	err := s.CompleteLoad(context.Background(), id, now, store.RunError, &msg)
	require.ErrorContains(t, err, "conn closed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLoad(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(2 * time.Second)

	mock.ExpectQuery("SELECT (.+) FROM load_runs WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			id, "https://example.com/a.wasm", started, finished, &finished, "success",
			int64(1024), int64(1024), 100, (*string)(nil),
		))

	run, err := s.GetLoad(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, run.ID)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, int64(1024), run.BytesReceived)
	require.Equal(t, 100, run.Percent)
	require.NotNil(t, run.FinishedAt)
	require.Nil(t, run.ErrorMessage)

	mock.ExpectQuery("SELECT (.+) FROM load_runs WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = s.GetLoad(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListLoads(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	started := time.Unix(1700000000, 0).UTC()
	status := store.RunRunning
	filter := string(status)

	mock.ExpectQuery("SELECT (.+) FROM load_runs").
		WithArgs(&filter, 10, 0).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(uuid.New(), "https://example.com/a.wasm", started, started, (*time.Time)(nil), "running",
				int64(2048), int64(512), 25, (*string)(nil)).
			AddRow(uuid.New(), "https://example.com/b.wasm", started, started, (*time.Time)(nil), "running",
				int64(-1), int64(0), 0, (*string)(nil)))

	runs, err := s.ListLoads(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, 25, runs[0].Percent)
	require.Equal(t, int64(-1), runs[1].TotalBytes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS load_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
