package durable

import (
	"errors"
	"fmt"
)

var (
	// ErrSerialization is reported when a value cannot be encoded for the
	// durable store. The in-memory write still happens.
	ErrSerialization = errors.New("durable: serialization failed")

	// ErrCorrupt marks a persisted entry that could not be decoded. Such
	// entries are deleted and treated as absent.
	ErrCorrupt = errors.New("durable: corrupt entry")
)

// OpError describes a durable store failure that was handled in the
// background and delivered through Config.OnError instead of returned.
type OpError struct {
	Op        string // "write", "delete", "load", "relieve"
	Namespace string
	Key       string
	Err       error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("durable %s %s: %v", e.Op, e.Namespace, e.Err)
	}
	return fmt.Sprintf("durable %s %s:%s: %v", e.Op, e.Namespace, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
