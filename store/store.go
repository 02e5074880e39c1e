// Package store persists compressed git objects keyed by their hex id.
//
// Backends never interpret the bytes they hold: what is Put is exactly what
// Get returns, so the stored form can be served verbatim as a loose object.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("object not found")

type Backend interface {
	// Put stores compressed under sha. Storing an existing sha is a no-op.
	Put(ctx context.Context, sha string, compressed []byte) error
	// Get returns the bytes stored under sha, or an error wrapping ErrNotFound.
	Get(ctx context.Context, sha string) ([]byte, error)
	Exists(ctx context.Context, sha string) (bool, error)
	// Delete removes sha. Deleting a missing sha is not an error.
	Delete(ctx context.Context, sha string) error
	Close() error
}
