// Package probe answers one question: can the worker accept commands yet.
// Probing is a pure read; it never mutates resource state.
package probe

import (
	"context"
	"time"

	"github.com/sandstream/stoker/pkg/remote"
)

// Result is the outcome of a single probe.
type Result int

const (
	// NotYet means the worker did not answer; normal while booting.
	NotYet Result = iota
	// Ready means the control channel handshake succeeded.
	Ready
	// Error means the probe itself could not run, e.g. its context was
	// already cancelled. Callers treat it like NotYet; the readiness
	// deadline bounds both.
	Error
)

func (r Result) String() string {
	switch r {
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return "not-yet"
	}
}

// Prober checks reachability of a worker at addr.
type Prober interface {
	Probe(ctx context.Context, addr string) Result
}

// SSHProber reports Ready once a full SSH handshake succeeds. Every failure
// mode of a booting instance (connection refused, reset, auth subsystem not
// up) maps to NotYet; the orchestrator's readiness deadline bounds how long
// NotYet is tolerated.
type SSHProber struct {
	dialer  remote.Dialer
	timeout time.Duration
}

// NewSSHProber wraps a dialer with a per-probe timeout.
func NewSSHProber(d remote.Dialer) *SSHProber {
	return &SSHProber{dialer: d, timeout: 8 * time.Second}
}

// Probe attempts the handshake and closes the connection immediately. A
// per-probe timeout expiring is NotYet (slow boot); the caller's own context
// dying is Error (the probe could not run).
func (p *SSHProber) Probe(parent context.Context, addr string) Result {
	if addr == "" {
		return NotYet
	}
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	client, err := p.dialer.Dial(ctx, addr)
	if err != nil {
		if parent.Err() != nil {
			return Error
		}
		return NotYet
	}
	_ = client.Close()
	return Ready
}
