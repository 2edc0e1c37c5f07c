package vectorindex

import (
	"context"
	"errors"
	"fmt"

	"agent-market/internal/domain"
)

// Snapshot is an index loaded from a blob together with the blob version it
// was read at. Saving it back is conditional on that version.
type Snapshot struct {
	Index   *Index
	Version string // "" when no blob existed
}

// Load reads the index stored under key. A missing blob yields an empty
// index of the given dimension.
func Load(ctx context.Context, blobs domain.BlobStore, key string, dim int) (*Snapshot, error) {
	data, version, err := blobs.Get(ctx, key)
	if errors.Is(err, domain.ErrBlobNotFound) {
		idx, err := New(dim)
		if err != nil {
			return nil, err
		}
		return &Snapshot{Index: idx}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load index %s: %w", domain.ErrStoreFailed, key, err)
	}
	idx, err := Decode(data, dim)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Index: idx, Version: version}, nil
}

// Save writes the full index back under key, conditional on the version it
// was loaded at. A concurrent writer surfaces as ErrVersionConflict.
func Save(ctx context.Context, blobs domain.BlobStore, key string, snap *Snapshot) error {
	data, err := Encode(snap.Index)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreFailed, err)
	}
	version, err := blobs.Put(ctx, key, data, snap.Version)
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("%w: save index %s: %w", domain.ErrStoreFailed, key, err)
	}
	snap.Version = version
	return nil
}
