package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/sandstream/stoker/pkg/events"
	"github.com/sandstream/stoker/pkg/faults"
	"github.com/sandstream/stoker/pkg/probe"
	"github.com/sandstream/stoker/pkg/state"
)

// provisionPhase drives creation attempts with jittered backoff until an
// instance id is obtained, the retry budget runs out, or the provider says
// the spec can never work. Each attempt's outcome is persisted before the
// next one starts, so a crash never forgets that a create may have gone out.
func (o *Orchestrator) provisionPhase(ctx context.Context, rec *state.Record) error {
	bo := phaseBackoff(o.cfg.ProvisionBackoff, o.cfg.ProvisionCap)
	for {
		id, err := o.d.Provisioner.Create(ctx, o.spec)
		if err == nil {
			rec.InstanceID = id
			rec.ProvisionRetries = 0
			rec.LastError = ""
			return o.transition(ctx, rec, state.StateAwaitingReady, "instance created")
		}

		rec.ProvisionRetries++
		rec.LastError = err.Error()
		if faults.IsPermanent(err) {
			return o.enterFailed(ctx, rec, err, "provisioning rejected")
		}
		if rec.ProvisionRetries >= o.cfg.ProvisionAttempts {
			return o.enterFailed(ctx, rec, err, "provisioning retries exhausted")
		}

		if err := o.save(ctx, rec); err != nil {
			return err
		}
		o.d.Emitter.Retry(ctx, "provision", rec.ProvisionRetries, err)
		if err := o.sleep(ctx, bo.NextBackOff()); err != nil {
			// Cancelled mid-phase: an instance may or may not exist; the
			// destroy path and reconciliation sort it out either way.
			return o.transition(context.WithoutCancel(ctx), rec, state.StateDestroying, "operator cancel")
		}
	}
}

// tickAwaitingReady probes once per interval. Readiness has a wall-clock
// deadline rather than a retry budget: an unreachable instance is billing
// without producing value.
func (o *Orchestrator) tickAwaitingReady(ctx context.Context, rec *state.Record) (time.Duration, error) {
	if rec.Addr == "" {
		inst, err := o.d.Provisioner.Describe(ctx)
		if err != nil {
			o.log.Warn("describe failed while awaiting ready", "error", err)
			return o.cfg.ReadyInterval, nil
		}
		if inst != nil && inst.Addr != "" {
			rec.Addr = inst.Addr
			if err := o.save(ctx, rec); err != nil {
				return 0, err
			}
		}
	}

	if rec.Addr != "" && o.d.Prober.Probe(ctx, rec.Addr) == probe.Ready {
		rec.LastError = ""
		return 0, o.transition(ctx, rec, state.StateConfiguring, "instance reachable")
	}

	if o.now().Sub(rec.PhaseSince) >= o.cfg.ReadyDeadline {
		err := faults.Transientf("instance %s not ready within %s", rec.InstanceID, o.cfg.ReadyDeadline)
		return 0, o.enterFailed(ctx, rec, err, "readiness deadline exceeded")
	}
	return o.cfg.ReadyInterval, nil
}

// configurePhase applies the baseline, retrying the whole ordered sequence
// from the top on transient failure.
func (o *Orchestrator) configurePhase(ctx context.Context, rec *state.Record) error {
	bo := phaseBackoff(o.cfg.ProvisionBackoff, o.cfg.ProvisionCap)
	for {
		err := o.d.Configurator.Apply(ctx, rec.Addr)
		if err == nil {
			rec.ConfigureRetries = 0
			rec.LastError = ""
			rec.LastActivityAt = o.now()
			return o.transition(ctx, rec, state.StateWorking, "baseline configured")
		}

		rec.ConfigureRetries++
		rec.LastError = err.Error()
		if faults.IsPermanent(err) {
			return o.enterFailed(ctx, rec, err, "configuration rejected")
		}
		if rec.ConfigureRetries >= o.cfg.ConfigureAttempts {
			return o.enterFailed(ctx, rec, err, "configuration retries exhausted")
		}

		if err := o.save(ctx, rec); err != nil {
			return err
		}
		o.d.Emitter.Retry(ctx, "configure", rec.ConfigureRetries, err)
		if err := o.sleep(ctx, bo.NextBackOff()); err != nil {
			return o.transition(context.WithoutCancel(ctx), rec, state.StateDestroying, "operator cancel")
		}
	}
}

// tickWorking runs one work cycle. The cycle gets a stall deadline so a hung
// remote command counts as a failure instead of wedging the loop.
func (o *Orchestrator) tickWorking(ctx context.Context, rec *state.Record) (time.Duration, error) {
	cycleCtx, cancel := context.WithTimeout(ctx, o.cfg.StallThreshold)
	workDone, err := o.d.Runner.RunOneCycle(cycleCtx, rec.Addr)
	cancel()

	switch {
	case err == nil && workDone:
		rec.LastActivityAt = o.now()
		rec.WorkRetries = 0
		rec.LastError = ""
		// Completed work is recorded even if a cancel arrived mid-cycle.
		if err := o.save(context.WithoutCancel(ctx), rec); err != nil {
			return 0, err
		}
		o.d.Emitter.Transition(ctx, string(state.StateWorking), string(state.StateWorking), "work cycle complete")
		return 0, nil

	case err == nil:
		// Queue legitimately empty.
		return 0, o.transition(ctx, rec, state.StateIdle, "queue empty")

	default:
		if ctx.Err() != nil {
			// Operator cancel, not a worker fault; the safety check at the
			// top of the next tick starts teardown.
			return 0, nil
		}
		rec.WorkRetries++
		rec.LastError = err.Error()
		if rec.WorkRetries >= o.cfg.WorkRetryLimit {
			return 0, o.enterFailed(ctx, rec, err, "work cycle retries exhausted")
		}
		if err := o.save(ctx, rec); err != nil {
			return 0, err
		}
		o.d.Emitter.Retry(ctx, "work", rec.WorkRetries, err)
		return o.cfg.PollInterval, nil
	}
}

// tickIdle waits for new work or the idle timeout, whichever comes first.
func (o *Orchestrator) tickIdle(ctx context.Context, rec *state.Record) (time.Duration, error) {
	pending, err := o.d.Queue.HasPending(ctx)
	if err != nil {
		o.log.Warn("workload poll failed while idle", "error", err)
	} else if pending {
		return 0, o.transition(ctx, rec, state.StateWorking, "work pending")
	}

	if o.now().Sub(rec.PhaseSince) >= o.cfg.IdleTimeout {
		return 0, o.transition(ctx, rec, state.StateDestroying, "idle timeout")
	}
	return o.cfg.PollInterval, nil
}

// destroyPhase retries destruction indefinitely: an undestroyed resource is
// an open-ended financial liability, so unlike every other phase this one
// never gives up and ignores cancellation.
func (o *Orchestrator) destroyPhase(ctx context.Context, rec *state.Record, ctl state.Control) error {
	// Teardown must finish even when the surrounding context is already
	// cancelled by the operator.
	dctx := context.WithoutCancel(ctx)
	bo := phaseBackoff(o.cfg.ProvisionBackoff, o.cfg.DestroyBackoffCap)

	// Every attempt failure, including a failed existence check, is persisted
	// and escalated before the next try.
	fail := func(err error) error {
		rec.DestroyFailures++
		rec.LastError = err.Error()
		if serr := o.save(dctx, rec); serr != nil {
			return serr
		}
		sev := events.DestroySeverity(rec.DestroyFailures)
		o.d.Emitter.Escalation(dctx, sev,
			fmt.Sprintf("destroy unconfirmed (%d consecutive failures); resource may still be billing", rec.DestroyFailures), err)
		return o.sleep(dctx, bo.NextBackOff())
	}

	for {
		// The record may lack an id when a create call was interrupted
		// before its response arrived. The slot tag is the authority: going
		// ABSENT requires either a confirmed destroy or a successful
		// describe that found nothing.
		if rec.InstanceID == "" {
			inst, err := o.d.Provisioner.Describe(dctx)
			if err != nil {
				if err := fail(err); err != nil {
					return err
				}
				continue
			}
			if inst == nil {
				break
			}
			rec.InstanceID = inst.ID
			if err := o.save(dctx, rec); err != nil {
				return err
			}
		}

		if err := o.d.Provisioner.Destroy(dctx, rec.InstanceID); err != nil {
			if err := fail(err); err != nil {
				return err
			}
			continue
		}
		break
	}

	failedClass := o.failClass
	wasFailed := o.failed
	o.failed = false
	o.failClass = faults.Unknown

	rec.Reset()
	rec.Slot = o.cfg.Slot
	if err := o.save(dctx, rec); err != nil {
		return err
	}
	o.d.Emitter.Transition(dctx, string(state.StateDestroying), string(state.StateAbsent), "destruction confirmed")

	if ctl.DestroyRequested {
		ctl.DestroyRequested = false
		if err := o.d.Store.SetControl(dctx, ctl); err != nil {
			o.log.Warn("failed to clear destroy request", "error", err)
		}
	}

	switch {
	case ctx.Err() != nil:
		return ErrCancelled
	case wasFailed && failedClass == faults.Permanent:
		return ErrPermanentFailure
	case wasFailed:
		return ErrRetryExhausted
	}
	return nil
}
