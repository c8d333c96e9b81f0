package state

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadMissingSlotReturnsNil(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.Load(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)
	rec := &Record{
		Slot:             "alpha",
		InstanceID:       "i-0abc",
		Addr:             "10.0.0.5",
		State:            StateWorking,
		CreatedAt:        created,
		LastActivityAt:   created.Add(time.Minute),
		PhaseSince:       created.Add(30 * time.Second),
		ProvisionRetries: 2,
		WorkRetries:      1,
		LastError:        "ssh reset",
	}
	require.NoError(t, s.Save(ctx, rec))
	require.Equal(t, int64(1), rec.Version)

	got, err := s.Load(ctx, "alpha")
	require.NoError(t, err)
	require.Equal(t, rec.InstanceID, got.InstanceID)
	require.Equal(t, StateWorking, got.State)
	require.True(t, got.CreatedAt.Equal(created))
	require.True(t, got.LastActivityAt.Equal(created.Add(time.Minute)))
	require.Equal(t, 2, got.ProvisionRetries)
	require.Equal(t, 1, got.WorkRetries)
	require.Equal(t, "ssh reset", got.LastError)
	require.Equal(t, int64(1), got.Version)
}

func TestSaveRequiresSlot(t *testing.T) {
	s := openTestStore(t)
	require.Error(t, s.Save(context.Background(), &Record{State: StateAbsent}))
}

func TestSaveAdvancesVersionEveryWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &Record{Slot: "alpha", State: StateAbsent}
	for i := int64(1); i <= 5; i++ {
		rec.State = StateProvisioning
		require.NoError(t, s.Save(ctx, rec))
		require.Equal(t, i, rec.Version)
	}
}

func TestStaleWriterLosesCAS(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &Record{Slot: "alpha", State: StateProvisioning}
	require.NoError(t, s.Save(ctx, rec))

	// A second orchestrator loads the same version and writes first.
	other, err := s.Load(ctx, "alpha")
	require.NoError(t, err)
	other.State = StateAwaitingReady
	require.NoError(t, s.Save(ctx, other))

	rec.State = StateDestroying
	err = s.Save(ctx, rec)
	require.ErrorIs(t, err, ErrStaleRecord)

	// The winner's write is intact.
	got, err := s.Load(ctx, "alpha")
	require.NoError(t, err)
	require.Equal(t, StateAwaitingReady, got.State)
	require.Equal(t, int64(2), got.Version)
}

func TestDuplicateInsertIsStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Record{Slot: "alpha", State: StateAbsent}))

	// Another fresh orchestrator that never loaded the record tries to
	// insert from scratch.
	err := s.Save(ctx, &Record{Slot: "alpha", State: StateAbsent})
	require.ErrorIs(t, err, ErrStaleRecord)
}

func TestZeroTimesSurviveRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &Record{Slot: "alpha", State: StateAbsent}))
	got, err := s.Load(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, got.CreatedAt.IsZero())
	require.True(t, got.LastActivityAt.IsZero())
	require.True(t, got.PhaseSince.IsZero())
}

func TestControlFlagsDefaultAndUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.GetControl(ctx, "alpha")
	require.NoError(t, err)
	require.Equal(t, "alpha", c.Slot)
	require.False(t, c.Paused)
	require.False(t, c.DestroyRequested)

	require.NoError(t, s.SetControl(ctx, Control{Slot: "alpha", Paused: true}))
	c, err = s.GetControl(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, c.Paused)
	require.False(t, c.UpdatedAt.IsZero())

	require.NoError(t, s.SetControl(ctx, Control{Slot: "alpha", DestroyRequested: true}))
	c, err = s.GetControl(ctx, "alpha")
	require.NoError(t, err)
	require.False(t, c.Paused, "upsert replaces, not merges")
	require.True(t, c.DestroyRequested)
}

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS worker_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewStore(db)
	require.NoError(t, err)
	return s, mock
}

func TestSaveSurfacesDatabaseErrors(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectExec("UPDATE worker_records").
		WillReturnError(sql.ErrConnDone)

	err := s.Save(context.Background(), &Record{Slot: "alpha", State: StateWorking, Version: 3})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrStaleRecord, "an io failure must not look like a lost race")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSurfacesDatabaseErrors(t *testing.T) {
	s, mock := mockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM worker_records").
		WillReturnError(sql.ErrConnDone)

	_, err := s.Load(context.Background(), "alpha")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
