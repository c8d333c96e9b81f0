// Package events emits structured lifecycle telemetry: one slog line plus an
// OpenTelemetry counter increment per state transition, retry, and escalation.
// The process installs whatever meter provider it wants; with none installed
// the counters are no-ops and only the log lines remain.
package events

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Severity orders escalation levels for destroy-failure alerting.
type Severity int

const (
	SeverityWarn Severity = iota
	SeverityError
	SeverityPage
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityPage:
		return "page"
	default:
		return "warn"
	}
}

// Emitter publishes lifecycle events for one slot.
type Emitter struct {
	log  *slog.Logger
	slot string

	transitions metric.Int64Counter
	retries     metric.Int64Counter
	escalations metric.Int64Counter
}

// NewEmitter builds an emitter for slot, logging through logger (or
// slog.Default when nil).
func NewEmitter(logger *slog.Logger, slot string) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter("github.com/sandstream/stoker")
	transitions, _ := meter.Int64Counter("stoker.transitions",
		metric.WithDescription("Worker state transitions"))
	retries, _ := meter.Int64Counter("stoker.retries",
		metric.WithDescription("Per-phase retry attempts"))
	escalations, _ := meter.Int64Counter("stoker.escalations",
		metric.WithDescription("Destroy-failure escalations by severity"))

	return &Emitter{
		log:         logger.With("component", "lifecycle", "slot", slot),
		slot:        slot,
		transitions: transitions,
		retries:     retries,
		escalations: escalations,
	}
}

// Transition records a state change and why it happened.
func (e *Emitter) Transition(ctx context.Context, from, to, reason string) {
	e.log.InfoContext(ctx, "state transition",
		"event_id", uuid.NewString(),
		"from", from,
		"to", to,
		"reason", reason,
	)
	e.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("slot", e.slot),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// Retry records one failed attempt within a phase.
func (e *Emitter) Retry(ctx context.Context, phase string, attempt int, err error) {
	e.log.WarnContext(ctx, "phase retry",
		"phase", phase,
		"attempt", attempt,
		"error", err,
	)
	e.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("slot", e.slot),
		attribute.String("phase", phase),
	))
}

// Escalation records an alert-worthy condition, typically a destroy failure.
// Severity climbs with consecutive failures; a PAGE means an undestroyed
// resource is accruing cost and needs a human.
func (e *Emitter) Escalation(ctx context.Context, sev Severity, msg string, err error) {
	attrs := []any{"severity", sev.String(), "error", err}
	switch sev {
	case SeverityWarn:
		e.log.WarnContext(ctx, msg, attrs...)
	default:
		e.log.ErrorContext(ctx, msg, attrs...)
	}
	e.escalations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("slot", e.slot),
		attribute.String("severity", sev.String()),
	))
}

// DestroySeverity maps a consecutive destroy-failure count to a severity.
func DestroySeverity(consecutive int) Severity {
	switch {
	case consecutive >= 10:
		return SeverityPage
	case consecutive >= 3:
		return SeverityError
	default:
		return SeverityWarn
	}
}
