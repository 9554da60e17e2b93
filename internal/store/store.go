// Package store persists the application state as a single opaque blob
// under a fixed root key. Only the snapshot handed to Write survives a
// restart; everything else is process memory.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when no state has been written yet.
var ErrNotFound = errors.New("store: state not found")

// Store reads and writes the serialized state blob.
type Store interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}
