// Package kv defines the storage ports used by the share layer: a plain
// key-value store for transient state and a handle store that issues opaque
// identifiers for persisted payloads.
package kv

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key or handle does not exist.
var ErrNotFound = errors.New("kv: not found")

// Handle is an opaque identifier issued by a HandleStore.
type Handle string

// Store is a key-value abstraction over whatever persistence the platform
// offers.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Lister is implemented by stores that can enumerate keys.
type Lister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// HandleStore persists payloads and hands back a handle for retrieval.
type HandleStore interface {
	Put(ctx context.Context, payload []byte) (Handle, error)
	Fetch(ctx context.Context, h Handle) ([]byte, error)
}

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Op  string // "get", "set", "remove", "put", "fetch", "keys"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("kv: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("kv: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Wrap returns err as a *StorageError unless it already is one or is nil.
func Wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Key: key, Err: err}
}

// IsNotFound reports whether err means the key or handle is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
