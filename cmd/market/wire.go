package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"agent-market/internal/adapter/blob"
	"agent-market/internal/adapter/decision"
	"agent-market/internal/adapter/embedding"
	"agent-market/internal/adapter/llm"
	"agent-market/internal/adapter/store/sqlite"
	"agent-market/internal/domain"
	"agent-market/internal/infra/config"
	"agent-market/internal/infra/logger"
	"agent-market/internal/infra/tracer"
	"agent-market/internal/usecase/admin"
	"agent-market/internal/usecase/matching"
	"agent-market/internal/usecase/negotiation"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	matching    *matching.Engine
	negotiation *negotiation.Engine
	reset       *admin.Resetter

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// wireApp builds every component from cfg. On error, everything opened so
// far is closed.
func wireApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.logger = log
	if logCloser != nil {
		a.closers = append(a.closers, logCloser)
	}

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, func() error { return tracerShutdown(context.Background()) })

	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreFailed, err)
	}
	a.closers = append(a.closers, db.Close)

	blobs, err := newBlobStore(ctx, cfg.Blob, log)
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(ctx, cfg.Embedding, log)
	if err != nil {
		return nil, err
	}

	provider, err := llm.NewProvider(ctx, cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	oracle := decision.NewOracle(provider, log,
		decision.WithModel(cfg.LLM.Model),
		decision.WithMaxTokens(cfg.LLM.MaxTokens),
		decision.WithTemperature(cfg.LLM.Temperature),
		decision.WithTimeout(cfg.LLM.Timeout),
	)

	extractor := decision.NewExtractor(provider, logger.Component(log, "extract"),
		decision.WithModel(cfg.LLM.Model),
		decision.WithTimeout(cfg.LLM.Timeout),
	)

	a.wireEngines(db, blobs, embedder, oracle, extractor)

	log.Debug("market wired",
		"store", cfg.Store.Path,
		"blob", blobs.Name(),
		"embedding", cfg.Embedding.Provider,
		"llm", provider.Name(),
	)
	return a, nil
}

func (a *app) wireEngines(db *sql.DB, blobs domain.BlobStore, embedder domain.Embedder, oracle *decision.Oracle, extractor domain.ProfileExtractor) {
	cfg := a.cfg
	agents := sqlite.NewAgentStore(db)
	sessions := sqlite.NewSessionStore(db)

	a.matching = matching.NewEngine(matching.Deps{
		Embedder:            embedder,
		Registry:            agents,
		Blobs:               blobs,
		Extractor:           extractor,
		Logger:              logger.Component(a.logger, "matching"),
		IndexKey:            cfg.Blob.Key,
		SimilarityThreshold: cfg.Matching.SimilarityThreshold,
		SearchMargin:        cfg.Matching.SearchMargin,
		DefaultMaxResults:   cfg.Matching.DefaultMaxResults,
		MaxSaveRetries:      cfg.Matching.MaxSaveRetries,
	})

	a.negotiation = negotiation.NewEngine(negotiation.Deps{
		Registry:      agents,
		Sessions:      sessions,
		Oracle:        oracle,
		Opener:        oracle,
		Roles:         domain.SuffixRoleResolver{Suffix: cfg.Negotiation.BuyerSuffix},
		Logger:        logger.Component(a.logger, "negotiation"),
		HistoryWindow: cfg.Negotiation.HistoryWindow,
		FallbackPrice: cfg.Negotiation.FallbackPrice,
		OpenCompletes: cfg.Negotiation.OpenCompletes,
	})

	a.reset = admin.NewResetter(agents, sessions, blobs, cfg.Blob.Key, logger.Component(a.logger, "admin"))
}

func newBlobStore(ctx context.Context, cfg config.BlobConfig, log *slog.Logger) (domain.BlobStore, error) {
	switch cfg.Backend {
	case "file":
		return blob.NewFileStore(cfg.Dir)
	case "s3":
		return blob.NewS3Store(ctx, cfg.Bucket, cfg.Region, log)
	case "memory":
		log.Warn("memory blob backend: the vector index is lost on exit")
		return blob.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: blob backend %q", domain.ErrInvalidInput, cfg.Backend)
	}
}

func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig, log *slog.Logger) (domain.Embedder, error) {
	var provider domain.EmbeddingProvider
	switch cfg.Provider {
	case "bedrock":
		p, err := embedding.NewTitanProvider(ctx, cfg.Region, log,
			embedding.WithTitanModel(cfg.Model),
			embedding.WithTitanDimensions(cfg.Dimensions),
		)
		if err != nil {
			return nil, fmt.Errorf("embedding: %w", err)
		}
		provider = p
	case "openai":
		opts := []embedding.OpenAIOption{
			embedding.WithOpenAIModel(cfg.Model),
			embedding.WithOpenAIDimensions(cfg.Dimensions),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, embedding.WithOpenAIBaseURL(cfg.BaseURL))
		}
		provider = embedding.NewOpenAIProvider(cfg.APIKey, opts...)
	default:
		return nil, fmt.Errorf("%w: embedding provider %q", domain.ErrInvalidInput, cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		provider = embedding.NewCachedEmbedder(provider, cfg.CacheSize)
	}

	opts := []embedding.ClientOption{embedding.WithTimeout(cfg.Timeout)}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, embedding.WithRateLimit(cfg.RequestsPerSecond))
	}
	if cfg.CircuitBreaker.Enabled {
		opts = append(opts, embedding.WithCircuitBreaker(cfg.CircuitBreaker))
	}
	return embedding.NewClient(provider, cfg.Dimensions, log, opts...), nil
}
