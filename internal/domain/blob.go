package domain

import "context"

// BlobStore persists opaque byte blobs under a key with version-tagged
// conditional writes.
//
// Get returns ErrBlobNotFound when the key is absent. Put writes data only
// if the stored version still equals ifVersion; an empty ifVersion means
// the key must not exist yet. A mismatch returns ErrVersionConflict.
type BlobStore interface {
	Get(ctx context.Context, key string) (data []byte, version string, err error)
	Put(ctx context.Context, key string, data []byte, ifVersion string) (version string, err error)
	Delete(ctx context.Context, key string) error
	Name() string
}
