package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownCity marks a request for a city outside the configured table.
// Fatal to the single call, never to the process.
var ErrUnknownCity = errors.New("unknown city")

// PersistenceError wraps a raw, curated, or columnar write failure. It is
// dead-lettered and re-raised to the immediate caller so per-unit loops can
// count it without aborting sibling units.
type PersistenceError struct {
	Op  string // "insert_raw", "upsert_curated", "insert_columnar"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PoisonMessageError wraps an event that cannot be deserialized. It is
// dead-lettered and skipped, never retried.
type PoisonMessageError struct {
	Err error
}

func (e *PoisonMessageError) Error() string {
	return fmt.Sprintf("poison message: %v", e.Err)
}

func (e *PoisonMessageError) Unwrap() error { return e.Err }
