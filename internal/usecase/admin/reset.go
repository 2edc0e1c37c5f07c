// Package admin holds maintenance operations over the whole marketplace.
package admin

import (
	"context"
	"log/slog"

	"agent-market/internal/domain"
)

// Resetter wipes registry, sessions and the vector index blob.
type Resetter struct {
	registry domain.AgentRegistry
	sessions domain.NegotiationStore
	blobs    domain.BlobStore
	indexKey string
	logger   *slog.Logger
}

// NewResetter creates a Resetter for the index stored under indexKey.
func NewResetter(registry domain.AgentRegistry, sessions domain.NegotiationStore, blobs domain.BlobStore, indexKey string, logger *slog.Logger) *Resetter {
	return &Resetter{
		registry: registry,
		sessions: sessions,
		blobs:    blobs,
		indexKey: indexKey,
		logger:   logger,
	}
}

// ResetResult counts what a reset removed.
type ResetResult struct {
	AgentsRemoved   int  `json:"agents_removed"`
	SessionsRemoved int  `json:"sessions_removed"`
	IndexDeleted    bool `json:"index_deleted"`
}

// Reset removes every profile, row binding, session and the index blob.
// The index goes first so that a partial failure never leaves vectors
// whose rows are unbound in a fresh registry.
func (r *Resetter) Reset(ctx context.Context) (*ResetResult, error) {
	res := &ResetResult{}

	if err := r.blobs.Delete(ctx, r.indexKey); err != nil {
		return res, domain.Classify(domain.ErrStoreFailed, domain.WrapOp("admin.reset index", err))
	}
	res.IndexDeleted = true

	n, err := r.registry.Reset(ctx)
	if err != nil {
		return res, domain.Classify(domain.ErrStoreFailed, domain.WrapOp("admin.reset agents", err))
	}
	res.AgentsRemoved = n

	n, err = r.sessions.Reset(ctx)
	if err != nil {
		return res, domain.Classify(domain.ErrStoreFailed, domain.WrapOp("admin.reset sessions", err))
	}
	res.SessionsRemoved = n

	r.logger.Warn("marketplace reset",
		"agents_removed", res.AgentsRemoved,
		"sessions_removed", res.SessionsRemoved,
		"index_key", r.indexKey,
	)
	return res, nil
}
