// Package content provides document storage over the GitHub Contents API with
// blob-sha optimistic concurrency, plus a local git-backed implementation for
// deployments without a remote repository.
package content

import (
	"context"
	"errors"
)

// File is one stored document. SHA is the git blob hash of the committed
// content and doubles as the optimistic-lock token for writes.
type File struct {
	Data []byte
	SHA  string
}

// Entry describes one item of a directory listing.
type Entry struct {
	Name string
	Path string
	SHA  string
	Type string // "file" or "dir"
}

// Store is the document storage contract shared by the GitHub and local
// backends. Put returns the new blob sha of the written content. A Put whose
// sha no longer matches the committed blob fails with ErrSHAConflict; writers
// of fresh paths pass an empty sha.
type Store interface {
	Get(ctx context.Context, path string) (File, error)
	Put(ctx context.Context, path string, data []byte, message, sha string) (string, error)
	List(ctx context.Context, path string) ([]Entry, error)
	Ping(ctx context.Context) error
}

var (
	ErrNotFound    = errors.New("content: not found")
	ErrSHAConflict = errors.New("content: sha conflict")
)
