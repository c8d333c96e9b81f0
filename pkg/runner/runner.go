// Package runner drives one work cycle on a configured worker: pull the
// next unit, execute it remotely, publish the result, acknowledge.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sandstream/stoker/pkg/remote"
	"github.com/sandstream/stoker/pkg/workqueue"
)

// Runner executes queue units on the worker.
type Runner struct {
	queue     workqueue.Source
	runner    remote.Runner
	artifacts ArtifactStore
	workdir   string
	log       *slog.Logger
}

// New builds a runner that executes units inside workdir on the worker.
func New(queue workqueue.Source, rr remote.Runner, artifacts ArtifactStore, workdir string) *Runner {
	return &Runner{
		queue:     queue,
		runner:    rr,
		artifacts: artifacts,
		workdir:   workdir,
		log:       slog.Default().With("component", "runner"),
	}
}

// RunOneCycle executes a single unit. workDone is false with a nil error
// when the queue is legitimately empty; that is the orchestrator's signal
// to go idle, not a failure.
func (r *Runner) RunOneCycle(ctx context.Context, addr string) (workDone bool, err error) {
	unit, err := r.queue.Next(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch next unit: %w", err)
	}
	if unit == nil {
		return false, nil
	}

	r.log.Info("executing unit", "unit_id", unit.ID)
	out, runErr := r.runner.Run(ctx, addr, fmt.Sprintf("cd %s && %s", r.workdir, unit.Command))

	// Publish whatever output exists even on failure; a failed unit's
	// output is exactly what an operator wants to see.
	if out != "" {
		if perr := r.artifacts.Put(ctx, unit.ID+".out", []byte(out)); perr != nil {
			if runErr == nil {
				return false, fmt.Errorf("unit %s: %w", unit.ID, perr)
			}
			r.log.Warn("artifact publish failed after unit error", "unit_id", unit.ID, "error", perr)
		}
	}
	if runErr != nil {
		// No ack: the unit stays in-flight and the queue's re-delivery
		// contract decides its fate.
		return false, fmt.Errorf("unit %s: %w", unit.ID, runErr)
	}

	if err := r.queue.Ack(ctx, unit); err != nil {
		return false, fmt.Errorf("ack unit %s: %w", unit.ID, err)
	}
	return true, nil
}
