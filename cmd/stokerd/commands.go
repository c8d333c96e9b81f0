package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/sandstream/stoker/pkg/config"
	"github.com/sandstream/stoker/pkg/provision"
	"github.com/sandstream/stoker/pkg/state"
)

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print the record as JSON")
	if err := fs.Parse(args); err != nil {
		return exitPermanent
	}

	cfg := config.Load()
	store, err := state.Open(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(stderr, "open state: %v\n", err)
		return exitPermanent
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := store.Load(ctx, cfg.Slot)
	if err != nil {
		fmt.Fprintf(stderr, "load record: %v\n", err)
		return exitPermanent
	}
	if rec == nil {
		rec = &state.Record{Slot: cfg.Slot, State: state.StateAbsent}
	}
	ctl, err := store.GetControl(ctx, cfg.Slot)
	if err != nil {
		fmt.Fprintf(stderr, "load control: %v\n", err)
		return exitPermanent
	}

	if *asJSON {
		out := map[string]any{
			"slot":              rec.Slot,
			"state":             rec.State,
			"instance_id":       rec.InstanceID,
			"addr":              rec.Addr,
			"created_at":        rec.CreatedAt,
			"last_activity_at":  rec.LastActivityAt,
			"provision_retries": rec.ProvisionRetries,
			"configure_retries": rec.ConfigureRetries,
			"work_retries":      rec.WorkRetries,
			"destroy_failures":  rec.DestroyFailures,
			"last_error":        rec.LastError,
			"paused":            ctl.Paused,
			"destroy_requested": ctl.DestroyRequested,
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return exitOK
	}

	fmt.Fprintf(stdout, "slot:        %s\n", rec.Slot)
	fmt.Fprintf(stdout, "state:       %s\n", rec.State)
	if rec.InstanceID != "" {
		fmt.Fprintf(stdout, "instance:    %s (%s)\n", rec.InstanceID, rec.Addr)
	}
	if !rec.CreatedAt.IsZero() {
		fmt.Fprintf(stdout, "age:         %s\n", time.Since(rec.CreatedAt).Round(time.Second))
	}
	if !rec.LastActivityAt.IsZero() {
		fmt.Fprintf(stdout, "last active: %s ago\n", time.Since(rec.LastActivityAt).Round(time.Second))
	}
	if rec.LastError != "" {
		fmt.Fprintf(stdout, "last error:  %s\n", rec.LastError)
	}
	if ctl.Paused {
		fmt.Fprintln(stdout, "provisioning is PAUSED")
	}
	if ctl.DestroyRequested {
		fmt.Fprintln(stdout, "destruction REQUESTED")
	}
	return exitOK
}

// runDestroy requests teardown. By default it flags the running daemon; with
// --now it terminates the instance directly, for when the daemon is gone but
// the resource may not be.
func runDestroy(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("destroy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	now := fs.Bool("now", false, "terminate directly instead of signalling the daemon")
	if err := fs.Parse(args); err != nil {
		return exitPermanent
	}

	cfg := config.Load()
	store, err := state.Open(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(stderr, "open state: %v\n", err)
		return exitPermanent
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if !*now {
		ctl, err := store.GetControl(ctx, cfg.Slot)
		if err != nil {
			fmt.Fprintf(stderr, "load control: %v\n", err)
			return exitPermanent
		}
		ctl.Slot = cfg.Slot
		ctl.DestroyRequested = true
		if err := store.SetControl(ctx, ctl); err != nil {
			fmt.Fprintf(stderr, "request destroy: %v\n", err)
			return exitPermanent
		}
		fmt.Fprintln(stdout, "destruction requested; the daemon will tear down at its next poll")
		return exitOK
	}

	spec, err := config.LoadWorkerSpec(cfg.WorkerSpec)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return exitPermanent
	}
	prov, err := provision.NewEC2Provisioner(ctx, spec.Region, cfg.Slot)
	if err != nil {
		fmt.Fprintf(stderr, "provisioner: %v\n", err)
		return exitPermanent
	}

	inst, err := prov.Describe(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "describe: %v\n", err)
		return exitRetryExhausted
	}
	if inst == nil {
		fmt.Fprintln(stdout, "no live instance for this slot")
	} else {
		if err := prov.Destroy(ctx, inst.ID); err != nil {
			fmt.Fprintf(stderr, "destroy %s: %v\n", inst.ID, err)
			return exitRetryExhausted
		}
		fmt.Fprintf(stdout, "terminated %s\n", inst.ID)
	}

	// Bring the record back in line with reality.
	rec, err := store.Load(ctx, cfg.Slot)
	if err != nil {
		fmt.Fprintf(stderr, "load record: %v\n", err)
		return exitPermanent
	}
	if rec != nil && !rec.State.Terminal() {
		rec.Reset()
		if err := store.Save(ctx, rec); err != nil {
			fmt.Fprintf(stderr, "save record: %v\n", err)
			return exitPermanent
		}
	}
	return exitOK
}

func runPause(args []string, stdout, stderr io.Writer, paused bool) int {
	cfg := config.Load()
	store, err := state.Open(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(stderr, "open state: %v\n", err)
		return exitPermanent
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ctl, err := store.GetControl(ctx, cfg.Slot)
	if err != nil {
		fmt.Fprintf(stderr, "load control: %v\n", err)
		return exitPermanent
	}
	ctl.Slot = cfg.Slot
	ctl.Paused = paused
	if err := store.SetControl(ctx, ctl); err != nil {
		fmt.Fprintf(stderr, "update control: %v\n", err)
		return exitPermanent
	}
	if paused {
		fmt.Fprintln(stdout, "provisioning paused")
	} else {
		fmt.Fprintln(stdout, "provisioning resumed")
	}
	return exitOK
}
