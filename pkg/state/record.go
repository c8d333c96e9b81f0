// Package state persists the per-slot worker record that is the single
// source of truth for whether a remote worker resource exists.
package state

import "time"

// WorkerState is the lifecycle phase of a slot's worker resource.
type WorkerState string

const (
	StateAbsent        WorkerState = "ABSENT"
	StateProvisioning  WorkerState = "PROVISIONING"
	StateAwaitingReady WorkerState = "AWAITING_READY"
	StateConfiguring   WorkerState = "CONFIGURING"
	StateWorking       WorkerState = "WORKING"
	StateIdle          WorkerState = "IDLE"
	StateDestroying    WorkerState = "DESTROYING"
	StateFailed        WorkerState = "FAILED"
)

// Terminal reports whether no resource is expected to exist in this state.
func (s WorkerState) Terminal() bool {
	return s == StateAbsent || s == ""
}

// Record tracks one slot's worker resource. It is mutated only by the
// orchestrator; every transition is persisted with a compare-and-swap on
// Version so a second orchestrator instance is detected, not raced.
type Record struct {
	Slot       string
	InstanceID string
	Addr       string // reachable address, set once the provider reports one
	State      WorkerState

	CreatedAt      time.Time // provisioning start, drives the lifetime cap
	LastActivityAt time.Time // last completed work cycle, drives idle timeout
	PhaseSince     time.Time // entry into the current state

	ProvisionRetries int
	ConfigureRetries int
	WorkRetries      int
	DestroyFailures  int

	LastError string

	// Version is the CAS token. Zero means the record has never been saved.
	Version int64
}

// Reset returns the record to ABSENT, keeping slot identity and version so
// the CAS chain stays unbroken.
func (r *Record) Reset() {
	r.InstanceID = ""
	r.Addr = ""
	r.State = StateAbsent
	r.CreatedAt = time.Time{}
	r.LastActivityAt = time.Time{}
	r.PhaseSince = time.Time{}
	r.ProvisionRetries = 0
	r.ConfigureRetries = 0
	r.WorkRetries = 0
	r.DestroyFailures = 0
	r.LastError = ""
}

// Control carries operator requests to a running orchestrator. The CLI writes
// it, the loop reads it at every poll boundary.
type Control struct {
	Slot             string
	Paused           bool
	DestroyRequested bool
	UpdatedAt        time.Time
}
