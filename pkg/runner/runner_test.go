package runner

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandstream/stoker/pkg/workqueue"
)

// scriptedRemote returns canned stdout/err per command, in call order.
type scriptedRemote struct {
	cmds []string
	outs []string
	errs []error
}

func (s *scriptedRemote) Run(ctx context.Context, addr, cmd string) (string, error) {
	i := len(s.cmds)
	s.cmds = append(s.cmds, cmd)
	var out string
	var err error
	if i < len(s.outs) {
		out = s.outs[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return out, err
}

func (s *scriptedRemote) RunInput(ctx context.Context, addr, cmd string, stdin []byte) (string, error) {
	return s.Run(ctx, addr, cmd)
}

func TestEmptyQueueMeansIdleNotError(t *testing.T) {
	r := New(workqueue.NewMemoryQueue(), &scriptedRemote{}, NewMemoryArtifactStore(), "~/workspace")

	done, err := r.RunOneCycle(context.Background(), "10.0.0.7")
	require.NoError(t, err)
	require.False(t, done)
}

func TestSuccessfulCycleAcksAndPublishes(t *testing.T) {
	q := workqueue.NewMemoryQueue()
	q.Enqueue(&workqueue.Unit{ID: "u-1", Command: "make test"})
	store := NewMemoryArtifactStore()
	rem := &scriptedRemote{outs: []string{"ok: 42 passed\n"}}
	r := New(q, rem, store, "~/workspace")

	done, err := r.RunOneCycle(context.Background(), "10.0.0.7")
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, "cd ~/workspace && make test", rem.cmds[0])
	require.Equal(t, 0, q.InflightCount())

	blob, ok := store.Get("u-1.out")
	require.True(t, ok)
	require.Equal(t, "ok: 42 passed\n", string(blob))
}

func TestFailedUnitStaysInFlightButPublishesOutput(t *testing.T) {
	q := workqueue.NewMemoryQueue()
	q.Enqueue(&workqueue.Unit{ID: "u-1", Command: "make test"})
	store := NewMemoryArtifactStore()
	rem := &scriptedRemote{
		outs: []string{"partial output\n"},
		errs: []error{fmt.Errorf("exit status 2")},
	}
	r := New(q, rem, store, "~/workspace")

	done, err := r.RunOneCycle(context.Background(), "10.0.0.7")
	require.Error(t, err)
	require.False(t, done)
	require.Equal(t, 1, q.InflightCount(), "failed unit is left to the queue's re-delivery")

	blob, ok := store.Get("u-1.out")
	require.True(t, ok, "a failed unit's output is exactly what the operator needs")
	require.Equal(t, "partial output\n", string(blob))
}

func TestNoArtifactForEmptyOutput(t *testing.T) {
	q := workqueue.NewMemoryQueue()
	q.Enqueue(&workqueue.Unit{ID: "u-1", Command: "true"})
	store := NewMemoryArtifactStore()
	r := New(q, &scriptedRemote{}, store, "~/workspace")

	done, err := r.RunOneCycle(context.Background(), "10.0.0.7")
	require.NoError(t, err)
	require.True(t, done)
	_, ok := store.Get("u-1.out")
	require.False(t, ok)
}
