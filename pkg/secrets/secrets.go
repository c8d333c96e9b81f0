// Package secrets fetches short-lived credentials at the moment they are
// needed. Values never touch the durable record or the logs; callers receive
// a Value, use it, and wipe it.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Value wraps secret bytes. Its String and formatting output is redacted so
// an accidental log line cannot leak the material.
type Value struct {
	data []byte
}

// NewValue wraps raw secret material.
func NewValue(data []byte) Value {
	return Value{data: data}
}

// Reveal returns the secret bytes. Keep the result scoped to the single
// operation that consumes it.
func (v Value) Reveal() []byte { return v.data }

// String implements fmt.Stringer with a fixed redaction.
func (v Value) String() string { return "[REDACTED]" }

// GoString mirrors String so %#v cannot leak either.
func (v Value) GoString() string { return "secrets.Value{[REDACTED]}" }

// Zero overwrites the secret material in place.
func (v Value) Zero() {
	for i := range v.data {
		v.data[i] = 0
	}
}

// Provider fetches a named secret from an external store.
type Provider interface {
	Fetch(ctx context.Context, name string) (Value, error)
}

// EnvProvider resolves secrets from STOKER_SECRET_<NAME> environment
// variables. Development fallback; production uses the secret store.
type EnvProvider struct{}

// Fetch reads the secret from the environment.
func (EnvProvider) Fetch(ctx context.Context, name string) (Value, error) {
	key := "STOKER_SECRET_" + strings.ToUpper(strings.NewReplacer("-", "_", "/", "_").Replace(name))
	v := os.Getenv(key)
	if v == "" {
		return Value{}, fmt.Errorf("secret %q not set (env %s)", name, key)
	}
	return NewValue([]byte(v)), nil
}
