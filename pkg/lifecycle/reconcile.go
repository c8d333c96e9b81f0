package lifecycle

import (
	"context"

	"github.com/sandstream/stoker/pkg/state"
)

// Reconcile compares the durable record against live infrastructure at
// startup and corrects drift in both directions: an instance the record
// does not know is adopted for destruction, and a record whose instance has
// vanished is brought back to ABSENT. The record is the system's only
// truth, but the cloud is the only place money is spent.
func (o *Orchestrator) Reconcile(ctx context.Context) (*state.Record, error) {
	rec, err := o.d.Store.Load(ctx, o.cfg.Slot)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &state.Record{Slot: o.cfg.Slot, State: state.StateAbsent}
	}

	inst, err := o.d.Provisioner.Describe(ctx)
	if err != nil {
		// Cannot see the cloud; trust the record and let the normal loop's
		// retries deal with the API being down.
		o.log.Warn("reconcile describe failed", "error", err)
		return rec, nil
	}

	switch {
	case rec.State.Terminal() && inst != nil:
		// Orphan: a live instance carries our slot tag but no record owns
		// it. Adopt it solely to destroy it.
		o.log.Warn("adopting orphan instance for destruction", "instance_id", inst.ID)
		rec.Reset()
		rec.Slot = o.cfg.Slot
		rec.InstanceID = inst.ID
		rec.Addr = inst.Addr
		rec.CreatedAt = inst.LaunchedAt
		if err := o.transition(ctx, rec, state.StateDestroying, "orphan instance detected"); err != nil {
			return nil, err
		}

	case !rec.State.Terminal() && inst == nil:
		if rec.State == state.StateProvisioning || rec.State == state.StateDestroying {
			// Provisioning may not have issued a create yet, and a destroy
			// may already have finished; both states handle an absent
			// instance themselves.
			break
		}
		o.log.Warn("recorded instance no longer exists", "instance_id", rec.InstanceID,
			"recorded_state", string(rec.State))
		from := rec.State
		rec.Reset()
		rec.Slot = o.cfg.Slot
		rec.PhaseSince = o.now()
		if err := o.save(ctx, rec); err != nil {
			return nil, err
		}
		o.d.Emitter.Transition(ctx, string(from), string(state.StateAbsent), "instance vanished")

	case !rec.State.Terminal() && inst != nil:
		// Adopt identity details a crash may have lost.
		changed := false
		if rec.InstanceID == "" {
			rec.InstanceID = inst.ID
			changed = true
		}
		if rec.Addr == "" && inst.Addr != "" {
			rec.Addr = inst.Addr
			changed = true
		}
		switch rec.State {
		case state.StateProvisioning:
			// The create went through before the crash; pick up from
			// waiting for readiness.
			if err := o.transition(ctx, rec, state.StateAwaitingReady, "resumed after restart"); err != nil {
				return nil, err
			}
		case state.StateFailed:
			if err := o.transition(ctx, rec, state.StateDestroying, "failed resource teardown"); err != nil {
				return nil, err
			}
		default:
			// CONFIGURING re-runs its idempotent steps; WORKING, IDLE, and
			// DESTROYING simply continue.
			if changed {
				if err := o.save(ctx, rec); err != nil {
					return nil, err
				}
			}
		}
	}

	return rec, nil
}
