package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandstream/stoker/pkg/faults"
	"github.com/sandstream/stoker/pkg/state"
)

func seedRecord(t *testing.T, h *harness, mutate func(*state.Record)) {
	t.Helper()
	rec := &state.Record{Slot: "test", State: state.StateAbsent}
	mutate(rec)
	require.NoError(t, h.store.Save(context.Background(), rec))
}

func TestReconcileFreshStart(t *testing.T) {
	h := newHarness(t, testConfig())

	rec, err := h.orch.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, state.StateAbsent, rec.State)
	require.Equal(t, "test", rec.Slot)
}

func TestReconcileAdoptsOrphanForDestruction(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	// An instance carries our slot tag but no record claims it: a create
	// went out and the process died before the response was persisted.
	id := func() string { h.prov.mu.Lock(); defer h.prov.mu.Unlock(); return h.prov.spawnLocked() }()

	rec, err := h.orch.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, state.StateDestroying, rec.State)
	require.Equal(t, id, rec.InstanceID)

	h.driveUntil(t, ctx, rec, func(r *state.Record) bool { return r.State == state.StateAbsent })
	require.Equal(t, 0, h.prov.liveCount())
}

func TestReconcileVanishedInstanceResetsRecord(t *testing.T) {
	h := newHarness(t, testConfig())
	seedRecord(t, h, func(r *state.Record) {
		r.State = state.StateWorking
		r.InstanceID = "i-gone"
		r.Addr = "10.0.0.9"
		r.CreatedAt = time.Now().Add(-time.Hour)
	})

	rec, err := h.orch.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, state.StateAbsent, rec.State)
	require.Empty(t, rec.InstanceID)
}

func TestReconcileResumesAfterCrashDuringProvisioning(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	// The record says PROVISIONING and the instance exists: the create
	// succeeded but the crash lost the response.
	id := func() string { h.prov.mu.Lock(); defer h.prov.mu.Unlock(); return h.prov.spawnLocked() }()
	seedRecord(t, h, func(r *state.Record) {
		r.State = state.StateProvisioning
		r.CreatedAt = time.Now()
		r.PhaseSince = time.Now()
	})

	rec, err := h.orch.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, state.StateAwaitingReady, rec.State)
	require.Equal(t, id, rec.InstanceID, "existing instance is adopted, not duplicated")

	h.driveUntil(t, ctx, rec, func(r *state.Record) bool { return r.State == state.StateWorking })
	require.Equal(t, 0, h.prov.createCalls, "no second create for an adopted instance")
}

func TestReconcileKeepsConfiguringInPlace(t *testing.T) {
	h := newHarness(t, testConfig())
	h.prov.mu.Lock()
	id := h.prov.spawnLocked()
	h.prov.mu.Unlock()
	seedRecord(t, h, func(r *state.Record) {
		r.State = state.StateConfiguring
		r.InstanceID = id
		r.CreatedAt = time.Now()
		r.PhaseSince = time.Now()
	})

	rec, err := h.orch.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, state.StateConfiguring, rec.State)
	require.Equal(t, "10.0.0.7", rec.Addr, "missing address is backfilled from the provider")
}

func TestReconcileFailedRecordGoesToTeardown(t *testing.T) {
	h := newHarness(t, testConfig())
	h.prov.mu.Lock()
	id := h.prov.spawnLocked()
	h.prov.mu.Unlock()
	seedRecord(t, h, func(r *state.Record) {
		r.State = state.StateFailed
		r.InstanceID = id
		r.LastError = "configure rejected"
	})

	rec, err := h.orch.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, state.StateDestroying, rec.State)
}

func TestReconcileTrustsRecordWhenProviderUnreachable(t *testing.T) {
	h := newHarness(t, testConfig())
	h.prov.describeErr = faults.Transientf("api down")
	seedRecord(t, h, func(r *state.Record) {
		r.State = state.StateWorking
		r.InstanceID = "i-aaaa"
		r.Addr = "10.0.0.9"
	})

	rec, err := h.orch.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, state.StateWorking, rec.State)
	require.Equal(t, "i-aaaa", rec.InstanceID)
}
