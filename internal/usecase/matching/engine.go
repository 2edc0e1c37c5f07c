// Package matching registers marketplace agents into the vector index and
// ranks registered agents against a free-text need.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"agent-market/internal/adapter/vectorindex"
	"agent-market/internal/domain"
	"agent-market/internal/infra/tracer"
)

// Default ranking settings.
const (
	DefaultSimilarityThreshold = 0.3
	DefaultSearchMargin        = 5
	DefaultMaxResults          = 5
	DefaultMaxSaveRetries      = 3
	DefaultIndexKey            = "agent_vectors.index"
)

// Deps holds injected dependencies for the matching engine.
type Deps struct {
	Embedder  domain.Embedder
	Registry  domain.AgentRegistry
	Blobs     domain.BlobStore
	Extractor domain.ProfileExtractor // optional, nil = Create disabled
	Logger    *slog.Logger

	IndexKey            string
	SimilarityThreshold float64
	SearchMargin        int
	DefaultMaxResults   int
	MaxSaveRetries      int
	Now                 func() time.Time // optional, nil = time.Now
}

// Engine implements agent registration and match ranking. Index writes
// are serialized in-process and conditional on the blob version across
// processes.
type Engine struct {
	deps Deps
	mu   sync.Mutex // single index writer
}

// NewEngine creates a matching engine, filling unset settings with defaults.
func NewEngine(deps Deps) *Engine {
	if deps.IndexKey == "" {
		deps.IndexKey = DefaultIndexKey
	}
	if deps.SimilarityThreshold == 0 {
		deps.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if deps.SearchMargin <= 0 {
		deps.SearchMargin = DefaultSearchMargin
	}
	if deps.DefaultMaxResults <= 0 {
		deps.DefaultMaxResults = DefaultMaxResults
	}
	if deps.MaxSaveRetries <= 0 {
		deps.MaxSaveRetries = DefaultMaxSaveRetries
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{deps: deps}
}

// RegisterRequest describes an agent to add to the marketplace.
type RegisterRequest struct {
	AgentID     string
	Description string
	Services    []string
	Pricing     map[string]float64
	Role        domain.Role // optional, empty = derived from the agent ID
}

// RegisterResult reports where the agent landed in the index.
type RegisterResult struct {
	AgentID   string `json:"agent_id"`
	Row       int    `json:"row"`
	IndexSize int    `json:"index_size"`
}

// Register embeds the description, upserts the profile and appends the
// embedding to the index. Re-registering an agent appends a new row and
// its earlier rows stop resolving.
//
// A failed index save leaves the profile persisted without a row; the
// divergence is logged and surfaces as ErrStoreFailed.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (_ *RegisterResult, err error) {
	ctx, span := tracer.StartSpan(ctx, "matching.register",
		trace.WithAttributes(tracer.StringAttr("agent.id", req.AgentID)),
	)
	defer func() { tracer.Finish(span, err) }()

	if err := validateRegister(req); err != nil {
		return nil, err
	}

	vec, err := e.deps.Embedder.Embed(ctx, req.Description)
	if err != nil {
		return nil, domain.Classify(domain.ErrEmbeddingFailed, err)
	}

	now := e.deps.Now().UTC()
	profile := &domain.AgentProfile{
		AgentID:      req.AgentID,
		Description:  req.Description,
		Services:     req.Services,
		Pricing:      req.Pricing,
		Role:         req.Role,
		Status:       domain.AgentActive,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	if err := e.deps.Registry.Upsert(ctx, profile); err != nil {
		return nil, domain.Classify(domain.ErrStoreFailed, err)
	}

	row, size, err := e.appendVector(ctx, req.AgentID, vec)
	if err != nil {
		e.deps.Logger.Error("index diverged from registry",
			"agent_id", req.AgentID,
			"error", err,
		)
		return nil, err
	}

	span.SetAttributes(tracer.IntAttr("index.row", row), tracer.IntAttr("index.size", size))
	e.deps.Logger.Info("agent registered", "agent_id", req.AgentID, "row", row, "index_size", size)
	return &RegisterResult{AgentID: req.AgentID, Row: row, IndexSize: size}, nil
}

// appendVector runs the load-add-save cycle, retrying on version
// conflicts and store throttling, then binds the new row to the agent.
func (e *Engine) appendVector(ctx context.Context, agentID string, vec []float32) (row, size int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	dim := e.deps.Embedder.Dimensions()
	for attempt := 1; ; attempt++ {
		snap, err := vectorindex.Load(ctx, e.deps.Blobs, e.deps.IndexKey, dim)
		if err != nil {
			return 0, 0, err
		}
		row, err = snap.Index.Add(vec)
		if err != nil {
			return 0, 0, err
		}

		err = vectorindex.Save(ctx, e.deps.Blobs, e.deps.IndexKey, snap)
		if domain.IsRetryableError(err) {
			if attempt >= e.deps.MaxSaveRetries {
				return 0, 0, fmt.Errorf("%w: save index after %d attempts: %w", domain.ErrStoreFailed, attempt, err)
			}
			e.deps.Logger.Debug("index save retry, reloading", "agent_id", agentID, "attempt", attempt, "cause", err)
			continue
		}
		if err != nil {
			return 0, 0, err
		}

		if err := e.deps.Registry.BindRow(ctx, row, agentID); err != nil {
			return 0, 0, domain.Classify(domain.ErrStoreFailed, err)
		}
		return row, snap.Index.Len(), nil
	}
}

func validateRegister(req RegisterRequest) error {
	switch {
	case strings.TrimSpace(req.AgentID) == "":
		return domain.NewDomainError("Matching.Register", domain.ErrInvalidInput, "agent_id is required")
	case strings.TrimSpace(req.Description) == "":
		return domain.NewDomainError("Matching.Register", domain.ErrInvalidInput, "description is required")
	case req.Role != "" && !req.Role.Valid():
		return domain.NewDomainError("Matching.Register", domain.ErrInvalidInput, "unknown role "+string(req.Role))
	}
	return nil
}

// FindRequest describes a match query.
type FindRequest struct {
	AgentID    string // querying agent, excluded from results
	Query      string
	MaxResults int // <= 0 = configured default
}

// Match is one ranked candidate.
type Match struct {
	Profile *domain.AgentProfile `json:"profile"`
	Score   float64              `json:"score"`
}

// FindResult is the ranked candidate list plus the index size it was drawn from.
type FindResult struct {
	Matches     []Match `json:"matches"`
	TotalAgents int     `json:"total_agents"`
}

// FindMatches ranks active agents by similarity to the query. The querying
// agent, inactive agents, unbound or superseded rows and scores at or
// below the threshold are skipped.
func (e *Engine) FindMatches(ctx context.Context, req FindRequest) (_ *FindResult, err error) {
	ctx, span := tracer.StartSpan(ctx, "matching.find_matches",
		trace.WithAttributes(tracer.StringAttr("agent.id", req.AgentID)),
	)
	defer func() { tracer.Finish(span, err) }()

	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.NewDomainError("Matching.FindMatches", domain.ErrInvalidInput, "query is required")
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = e.deps.DefaultMaxResults
	}

	vec, err := e.deps.Embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, domain.Classify(domain.ErrEmbeddingFailed, err)
	}

	snap, err := vectorindex.Load(ctx, e.deps.Blobs, e.deps.IndexKey, e.deps.Embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	result := &FindResult{Matches: []Match{}, TotalAgents: snap.Index.Len()}
	if snap.Index.Len() == 0 {
		return result, nil
	}

	// Skipped rows can crowd out eligible ones, so widen k until the limit
	// is filled or the whole index has been scanned.
	total := snap.Index.Len()
	k := limit + e.deps.SearchMargin
	for {
		matches, searched, err := e.collectMatches(ctx, snap.Index, vec, k, limit, req.AgentID)
		if err != nil {
			return nil, err
		}
		result.Matches = matches
		if len(matches) == limit || searched < k || k >= total {
			break
		}
		k *= 2
	}

	span.SetAttributes(tracer.IntAttr("matches", len(result.Matches)))
	return result, nil
}

// collectMatches searches the top k rows and keeps up to limit eligible
// matches in score order. searched is the number of hits returned.
func (e *Engine) collectMatches(ctx context.Context, idx *vectorindex.Index, vec []float32, k, limit int, self string) (_ []Match, searched int, _ error) {
	hits, err := idx.Search(vec, k)
	if err != nil {
		return nil, 0, err
	}
	rows := make([]int, len(hits))
	for i, h := range hits {
		rows[i] = h.Row
	}
	profiles, err := e.deps.Registry.Rows(ctx, rows)
	if err != nil {
		return nil, 0, domain.Classify(domain.ErrStoreFailed, err)
	}

	matches := []Match{}
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if len(matches) == limit {
			break
		}
		p, ok := profiles[h.Row]
		if !ok {
			continue
		}
		score := float64(h.Score)
		if p.AgentID == self || !p.IsActive() || score <= e.deps.SimilarityThreshold || seen[p.AgentID] {
			continue
		}
		seen[p.AgentID] = true
		matches = append(matches, Match{Profile: p, Score: score})
	}
	return matches, len(hits), nil
}

// Deactivate hides an agent from match results. Its index rows stay.
func (e *Engine) Deactivate(ctx context.Context, agentID string) error {
	if strings.TrimSpace(agentID) == "" {
		return domain.NewDomainError("Matching.Deactivate", domain.ErrInvalidInput, "agent_id is required")
	}
	if err := e.deps.Registry.SetStatus(ctx, agentID, domain.AgentInactive); err != nil {
		return err
	}
	e.deps.Logger.Info("agent deactivated", "agent_id", agentID)
	return nil
}

// Agent returns the stored profile for agentID.
func (e *Engine) Agent(ctx context.Context, agentID string) (*domain.AgentProfile, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, domain.NewDomainError("Matching.Agent", domain.ErrInvalidInput, "agent_id is required")
	}
	return e.deps.Registry.Get(ctx, agentID)
}
