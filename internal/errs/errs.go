// Package errs defines the small error taxonomy Aegis uses to decide
// whether a failure is retried, recorded, or fatal.
package errs

import (
	"errors"
	"fmt"
)

// Transient wraps a failure expected to clear on retry: a network
// blip or a store restart. Nothing retries inside a sync pass: a
// replication round that hits one reports the region failed for that
// round, the next tick tries again from the unchanged watermark, and
// the region's circuit breaker opens after three consecutive rounds
// that all failed.
type Transient struct {
	Op  string
	Err error
}

func (e *Transient) Error() string { return fmt.Sprintf("transient: %s: %v", e.Op, e.Err) }
func (e *Transient) Unwrap() error { return e.Err }

// NewTransient wraps err as a Transient error attributed to op.
func NewTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Op: op, Err: err}
}

// Config wraps a failure in configuration: a missing primary region,
// an unknown region reference, malformed JSON. Fatal at load time.
type Config struct {
	Field string
	Err   error
}

func (e *Config) Error() string { return fmt.Sprintf("config: %s: %v", e.Field, e.Err) }
func (e *Config) Unwrap() error { return e.Err }

// NewConfig wraps err as a Config error attributed to field.
func NewConfig(field string, err error) error {
	if err == nil {
		return nil
	}
	return &Config{Field: field, Err: err}
}

// Data wraps a failure in a single record or item: a document missing
// an id, an unknown store type for a key. The enclosing operation
// skips the item and continues; Data errors never abort a pass.
type Data struct {
	Item string
	Err  error
}

func (e *Data) Error() string { return fmt.Sprintf("data: %s: %v", e.Item, e.Err) }
func (e *Data) Unwrap() error { return e.Err }

// NewData wraps err as a Data error attributed to item.
func NewData(item string, err error) error {
	if err == nil {
		return nil
	}
	return &Data{Item: item, Err: err}
}

// Invariant wraps a failure that should be structurally impossible: a
// cancellation observed after commit, two in-flight failovers. The
// orchestrator returns one when it rejects a second concurrent
// failover; it keeps accepting commands once the in-flight one ends.
type Invariant struct {
	Violation string
}

func (e *Invariant) Error() string { return fmt.Sprintf("invariant violation: %s", e.Violation) }

// NewInvariant constructs an Invariant error describing violation.
func NewInvariant(violation string) error {
	return &Invariant{Violation: violation}
}

// IsTransient reports whether err (or any error it wraps) is a
// Transient.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

// IsInvariant reports whether err (or any error it wraps) is an
// Invariant.
func IsInvariant(err error) bool {
	var i *Invariant
	return errors.As(err, &i)
}
