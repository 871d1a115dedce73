// Package store defines the hierarchical JSON document store the ledger runs on.
//
// Paths are slash separated ("users/budi"). Every operation is atomic on its own
// path only; there are no transactions across paths. Conditional writes
// (GetWithETag + SetIfMatch) give callers optimistic concurrency on a single path.
package store

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnavailable wraps every transport or backend failure.
	ErrUnavailable = errors.New("store unavailable")
	// ErrConflict is returned by SetIfMatch when the node changed since it was read.
	ErrConflict = errors.New("store: etag mismatch")
	// ErrUnsupportedPath is returned by backends that cannot address a path.
	ErrUnsupportedPath = errors.New("store: unsupported path")
)

// NullETag is the ETag of a node that does not exist.
const NullETag = "null_etag"

type Store interface {
	// Get decodes the node at path into dst. found is false when the node is null.
	Get(ctx context.Context, path string, dst any) (found bool, err error)
	// Set overwrites the node at path. Setting nil deletes it.
	Set(ctx context.Context, path string, v any) error
	// Update merges fields into the node at path, one level deep.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Push appends v under path with a generated, chronologically sortable key.
	Push(ctx context.Context, path string, v any) (string, error)
	Delete(ctx context.Context, path string) error
	GetWithETag(ctx context.Context, path string, dst any) (etag string, found bool, err error)
	// SetIfMatch writes v only when the node's current ETag equals etag.
	SetIfMatch(ctx context.Context, path string, v any, etag string) error
}

// Join builds a store path from segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Segments splits a path into its non-empty segments.
func Segments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ValidKey reports whether s can be used as a single path segment.
func ValidKey(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	return !strings.ContainsAny(s, "/.$#[]")
}
