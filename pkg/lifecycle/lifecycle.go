// Package lifecycle is the control loop for one ephemeral worker slot:
// decide when the resource should exist, bring it from nothing to working,
// drive work on it, and guarantee it is torn down.
//
// All state lives in the durable worker record; the orchestrator is the only
// writer and every transition is a compare-and-swap, so crashes and
// accidentally duplicated orchestrators are detected rather than raced.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/sandstream/stoker/pkg/config"
	"github.com/sandstream/stoker/pkg/events"
	"github.com/sandstream/stoker/pkg/faults"
	"github.com/sandstream/stoker/pkg/probe"
	"github.com/sandstream/stoker/pkg/provision"
	"github.com/sandstream/stoker/pkg/state"
	"github.com/sandstream/stoker/pkg/workqueue"
)

// Terminal loop outcomes, mapped to exit codes by the CLI.
var (
	// ErrRetryExhausted: a phase ran out of its transient-retry budget.
	ErrRetryExhausted = errors.New("lifecycle: transient retries exhausted")
	// ErrPermanentFailure: the infrastructure rejected the spec outright.
	ErrPermanentFailure = errors.New("lifecycle: permanent failure")
	// ErrCancelled: an operator stopped the loop; teardown completed first.
	ErrCancelled = errors.New("lifecycle: operator cancelled")
	// ErrStaleOrchestrator: another process advanced the record. This
	// instance must step down immediately; acting on a stale record could
	// create a second resource.
	ErrStaleOrchestrator = errors.New("lifecycle: record advanced by another orchestrator")
)

// Store is the slice of the state store the orchestrator needs.
type Store interface {
	Load(ctx context.Context, slot string) (*state.Record, error)
	Save(ctx context.Context, rec *state.Record) error
	GetControl(ctx context.Context, slot string) (state.Control, error)
	SetControl(ctx context.Context, c state.Control) error
}

// Configurator pushes the software baseline onto a ready worker.
type Configurator interface {
	Apply(ctx context.Context, addr string) error
}

// WorkRunner drives one work cycle. workDone=false with nil error means the
// queue was empty.
type WorkRunner interface {
	RunOneCycle(ctx context.Context, addr string) (workDone bool, err error)
}

// Deps are the orchestrator's collaborators. They return outcomes; only the
// orchestrator applies state transitions.
type Deps struct {
	Store        Store
	Queue        workqueue.Source
	Provisioner  provision.Provisioner
	Prober       probe.Prober
	Configurator Configurator
	Runner       WorkRunner
	Emitter      *events.Emitter
	Logger       *slog.Logger
}

// Orchestrator runs the state machine for a single slot.
type Orchestrator struct {
	cfg  *config.Config
	spec provision.Spec
	d    Deps
	log  *slog.Logger

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// set when entering FAILED so the loop can report why it exited after
	// teardown finishes
	failClass faults.Class
	failed    bool
}

// New builds an orchestrator. Emitter and Logger default when nil.
func New(cfg *config.Config, spec provision.Spec, d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Emitter == nil {
		d.Emitter = events.NewEmitter(d.Logger, cfg.Slot)
	}
	return &Orchestrator{
		cfg:   cfg,
		spec:  spec,
		d:     d,
		log:   d.Logger.With("component", "lifecycle", "slot", cfg.Slot),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run reconciles against live infrastructure, then drives the state machine
// until an operator cancels, another orchestrator takes over, or a failed
// lifecycle finishes tearing down. A clean cycle (work done, idle timeout,
// resource destroyed) loops back to waiting for work.
func (o *Orchestrator) Run(ctx context.Context) error {
	rec, err := o.Reconcile(ctx)
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil && rec.State.Terminal() {
			return ErrCancelled
		}

		wait, err := o.tick(ctx, rec)
		if err != nil {
			return err
		}
		if wait > 0 {
			if err := o.sleep(ctx, wait); err != nil && rec.State.Terminal() {
				return ErrCancelled
			}
		}
	}
}

// tick performs at most one phase action and returns how long to wait
// before the next one.
func (o *Orchestrator) tick(ctx context.Context, rec *state.Record) (time.Duration, error) {
	ctl, err := o.d.Store.GetControl(ctx, o.cfg.Slot)
	if err != nil {
		o.log.Warn("control read failed", "error", err)
		ctl = state.Control{Slot: o.cfg.Slot}
	}

	// Safety policies outrank the per-state logic: operator cancel or
	// force-destroy, then the hard lifetime cap.
	if !rec.State.Terminal() && rec.State != state.StateDestroying {
		switch {
		case ctx.Err() != nil:
			// The context is already dead; the transition must still be
			// persisted so teardown survives a crash right here.
			if err := o.transition(context.WithoutCancel(ctx), rec, state.StateDestroying, "operator cancel"); err != nil {
				return 0, err
			}
			return 0, nil
		case ctl.DestroyRequested:
			if err := o.transition(ctx, rec, state.StateDestroying, "operator force-destroy"); err != nil {
				return 0, err
			}
			return 0, nil
		case !rec.CreatedAt.IsZero() && o.now().Sub(rec.CreatedAt) >= o.cfg.MaxLifetime:
			if err := o.transition(ctx, rec, state.StateDestroying, "max lifetime exceeded"); err != nil {
				return 0, err
			}
			return 0, nil
		}
	}

	switch rec.State {
	case state.StateAbsent, "":
		return o.tickAbsent(ctx, rec, ctl)
	case state.StateProvisioning:
		return 0, o.provisionPhase(ctx, rec)
	case state.StateAwaitingReady:
		return o.tickAwaitingReady(ctx, rec)
	case state.StateConfiguring:
		return 0, o.configurePhase(ctx, rec)
	case state.StateWorking:
		return o.tickWorking(ctx, rec)
	case state.StateIdle:
		return o.tickIdle(ctx, rec)
	case state.StateFailed:
		// A failed resource is never left running.
		return 0, o.transition(ctx, rec, state.StateDestroying, "failed resource teardown")
	case state.StateDestroying:
		return 0, o.destroyPhase(ctx, rec, ctl)
	default:
		return 0, faults.Permanentf("unknown record state %q", rec.State)
	}
}

// tickAbsent provisions eagerly when work exists, never speculatively.
func (o *Orchestrator) tickAbsent(ctx context.Context, rec *state.Record, ctl state.Control) (time.Duration, error) {
	if ctx.Err() != nil {
		return 0, ErrCancelled
	}
	if ctl.DestroyRequested {
		// Nothing exists; the request is trivially satisfied. Clearing it
		// here keeps it from killing the next worker right after launch.
		ctl.DestroyRequested = false
		if err := o.d.Store.SetControl(ctx, ctl); err != nil {
			o.log.Warn("failed to clear destroy request", "error", err)
		}
	}
	if ctl.Paused {
		return o.cfg.PollInterval, nil
	}
	pending, err := o.d.Queue.HasPending(ctx)
	if err != nil {
		o.log.Warn("workload poll failed", "error", err)
		return o.cfg.PollInterval, nil
	}
	if !pending {
		return o.cfg.PollInterval, nil
	}

	now := o.now()
	rec.Reset()
	rec.Slot = o.cfg.Slot
	rec.CreatedAt = now
	rec.State = state.StateProvisioning
	rec.PhaseSince = now
	if err := o.save(ctx, rec); err != nil {
		return 0, err
	}
	o.d.Emitter.Transition(ctx, string(state.StateAbsent), string(state.StateProvisioning), "work pending")
	return 0, nil
}

// transition applies a state change, persists it, and emits the event.
func (o *Orchestrator) transition(ctx context.Context, rec *state.Record, to state.WorkerState, reason string) error {
	from := rec.State
	rec.State = to
	rec.PhaseSince = o.now()
	if err := o.save(ctx, rec); err != nil {
		return err
	}
	o.d.Emitter.Transition(ctx, string(from), string(to), reason)
	return nil
}

// save persists the record, translating a lost CAS into a step-down.
func (o *Orchestrator) save(ctx context.Context, rec *state.Record) error {
	err := o.d.Store.Save(ctx, rec)
	if errors.Is(err, state.ErrStaleRecord) {
		return ErrStaleOrchestrator
	}
	return err
}

// enterFailed records the failure and transitions to FAILED; the next tick
// starts teardown.
func (o *Orchestrator) enterFailed(ctx context.Context, rec *state.Record, err error, reason string) error {
	o.failed = true
	o.failClass = faults.Classify(err)
	rec.LastError = err.Error()
	return o.transition(ctx, rec, state.StateFailed, reason)
}

// phaseBackoff builds the jittered exponential retry policy shared by the
// blocking phases.
func phaseBackoff(base, cap time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = cap
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}
