package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandstream/stoker/pkg/state"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"stokerd"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func useTempState(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stoker.db")
	t.Setenv("STOKER_STATE_PATH", path)
	t.Setenv("STOKER_SLOT", "test")
	return path
}

func TestHelpAndBadInvocations(t *testing.T) {
	code, out, _ := run(t, "help")
	require.Equal(t, exitOK, code)
	require.Contains(t, out, "Usage: stokerd")

	code, _, errOut := run(t, "frobnicate")
	require.Equal(t, exitPermanent, code)
	require.Contains(t, errOut, "unknown command")

	code, _, errOut = run(t)
	require.Equal(t, exitPermanent, code)
	require.Contains(t, errOut, "Usage: stokerd")
}

func TestStatusOnFreshSlot(t *testing.T) {
	useTempState(t)
	code, out, _ := run(t, "status")
	require.Equal(t, exitOK, code)
	require.Contains(t, out, "slot:        test")
	require.Contains(t, out, "state:       ABSENT")
}

func TestStatusJSONReflectsRecord(t *testing.T) {
	path := useTempState(t)

	store, err := state.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), &state.Record{
		Slot:       "test",
		State:      state.StateWorking,
		InstanceID: "i-0abc",
		Addr:       "10.0.0.7",
	}))
	require.NoError(t, store.Close())

	code, out, _ := run(t, "status", "-json")
	require.Equal(t, exitOK, code)
	require.Contains(t, out, `"state": "WORKING"`)
	require.Contains(t, out, `"instance_id": "i-0abc"`)
}

func TestPauseResumeAndDestroyRequestFlags(t *testing.T) {
	path := useTempState(t)
	ctx := context.Background()

	code, _, _ := run(t, "pause")
	require.Equal(t, exitOK, code)
	code, _, _ = run(t, "destroy")
	require.Equal(t, exitOK, code)

	store, err := state.Open(path)
	require.NoError(t, err)
	ctl, err := store.GetControl(ctx, "test")
	require.NoError(t, err)
	require.True(t, ctl.Paused)
	require.True(t, ctl.DestroyRequested)
	require.NoError(t, store.Close())

	code, _, _ = run(t, "resume")
	require.Equal(t, exitOK, code)

	store, err = state.Open(path)
	require.NoError(t, err)
	ctl, err = store.GetControl(ctx, "test")
	require.NoError(t, err)
	require.False(t, ctl.Paused)
	require.True(t, ctl.DestroyRequested, "resume must not clear a pending destroy request")
	require.NoError(t, store.Close())
}
