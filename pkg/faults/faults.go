// Package faults classifies infrastructure errors so the orchestrator can
// decide between retrying with backoff and failing immediately.
package faults

import (
	"errors"
	"fmt"
)

// Class partitions failures by how the caller should react.
type Class int

const (
	// Unknown failures are treated as transient; retrying a permanent
	// error wastes a few attempts, giving up on a transient one leaks work.
	Unknown Class = iota
	// Transient covers network trouble, rate limits, and other conditions
	// expected to clear on their own.
	Transient
	// Permanent covers quota exhaustion, invalid specs, and auth failures;
	// no number of retries will help.
	Permanent
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

type classified struct {
	class Class
	err   error
}

func (e *classified) Error() string { return fmt.Sprintf("%s: %v", e.class, e.err) }
func (e *classified) Unwrap() error { return e.err }

// Transientf wraps a formatted error as Transient.
func Transientf(format string, args ...any) error {
	return &classified{class: Transient, err: fmt.Errorf(format, args...)}
}

// Permanentf wraps a formatted error as Permanent.
func Permanentf(format string, args ...any) error {
	return &classified{class: Permanent, err: fmt.Errorf(format, args...)}
}

// Mark wraps err with an explicit class. A nil err returns nil.
func Mark(err error, class Class) error {
	if err == nil {
		return nil
	}
	return &classified{class: class, err: err}
}

// Classify returns the innermost class attached to err, or Unknown.
func Classify(err error) Class {
	var c *classified
	if errors.As(err, &c) {
		return c.class
	}
	return Unknown
}

// IsPermanent reports whether err is classified Permanent.
func IsPermanent(err error) bool { return Classify(err) == Permanent }
