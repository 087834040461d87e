// Package blob defines the interface for the audit archive's object
// storage backend. The engine writes one immutable record per terminal
// job; backends only need to support writes.
package blob

import (
	"context"
	"io"
)

// Store persists immutable objects and returns a backend-specific URI
// for each stored object.
type Store interface {
	// PutObject uploads data under the given path and returns the URI
	// of the stored object.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Discard is a Store that drops every object. Useful when archiving is
// disabled or in dry runs.
type Discard struct{}

// PutObject consumes the reader and reports success without storing
// anything.
func (Discard) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	_, err := io.Copy(io.Discard, r)
	if err != nil {
		return "", err
	}
	return "discard://" + path, nil
}
