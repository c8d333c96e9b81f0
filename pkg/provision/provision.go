// Package provision creates and destroys the remote worker resource through
// the infrastructure API. Creation is idempotent under retry via a stable
// per-slot tag, and destruction treats "already gone" as success.
package provision

import (
	"context"
	"time"
)

// Instance is the provider's view of a live worker resource.
type Instance struct {
	ID         string
	Addr       string // reachable address; empty until the provider assigns one
	Running    bool
	LaunchedAt time.Time
}

// Spec is what to create. Mirrors the provisioning half of the worker spec.
type Spec struct {
	Region        string
	InstanceType  string
	ImageID       string
	SubnetID      string
	SecurityGroup string
	KeyName       string
}

// Provisioner is the infrastructure contract. Errors from Create and Destroy
// carry a faults classification so the orchestrator can pick between backoff
// and immediate failure.
type Provisioner interface {
	// Create launches the slot's worker, or adopts one that a lost prior
	// attempt already launched, and returns its instance id.
	Create(ctx context.Context, spec Spec) (string, error)
	// Destroy terminates the instance. A missing or already-terminated
	// instance is success.
	Destroy(ctx context.Context, id string) error
	// Describe looks up the slot's live instance by its stable tag.
	// Returns nil, nil when none exists. Pure read.
	Describe(ctx context.Context) (*Instance, error)
}

// SlotTagKey is the tag that binds an instance to its logical slot. The
// concrete instance id changes every cycle; the tag never does.
const SlotTagKey = "stoker:slot"
