// Package app wires the application together.
//
// Setup builds every component in dependency order and returns an App whose
// Close releases resources in reverse order. Construction fails fast: a
// missing credential or unreachable database is reported before any work
// starts.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/nutrikb/nutrikb/db"
	"github.com/nutrikb/nutrikb/internal/batch"
	"github.com/nutrikb/nutrikb/internal/blob"
	"github.com/nutrikb/nutrikb/internal/config"
	"github.com/nutrikb/nutrikb/internal/docstore"
	"github.com/nutrikb/nutrikb/internal/index"
	"github.com/nutrikb/nutrikb/internal/ingest"
	"github.com/nutrikb/nutrikb/internal/layout"
	"github.com/nutrikb/nutrikb/internal/llm"
	"github.com/nutrikb/nutrikb/internal/log"
	"github.com/nutrikb/nutrikb/internal/retrieval"
	"github.com/nutrikb/nutrikb/internal/segment"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	DBPool    *pgxpool.Pool
	LLM       *llm.Client
	Docs      *docstore.Store
	Blobs     *blob.FSStore
	Index     *index.Store
	Pipeline  *ingest.Pipeline
	Batch     *batch.Coordinator
	Retrieval *retrieval.Engine

	cleanups []func()
}

// Setup creates and initializes the application. Call Close to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, tear down everything already initialized.
	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool
	a.cleanups = append(a.cleanups, pool.Close)

	client, err := llm.Setup(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing llm client: %w", err)
	}
	a.LLM = client

	a.Docs = docstore.New(pool, logger)

	blobs, err := blob.NewFSStore(cfg.BlobDir, cfg.CacheDir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing blob storage: %w", err)
	}
	a.Blobs = blobs

	idx, err := index.New(cfg.IndexPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening file index: %w", err)
	}
	a.Index = idx

	parser, err := layout.NewHTTPParser(cfg.ParserURL, cfg.ParserAPIKey)
	if err != nil {
		return nil, fmt.Errorf("initializing layout parser: %w", err)
	}

	segmenter := segment.New(client, segment.Config{
		Delimiter: cfg.SegmentDelimiter,
		MinLength: cfg.MinSegmentLength,
		Timeout:   cfg.SegmentTimeout,
	}, logger)

	a.Pipeline = ingest.New(ingest.Deps{
		Parser:    parser,
		Segmenter: segmenter,
		Embedder:  client,
		Vectors:   a.Docs,
		Blobs:     blobs,
		Index:     idx,
	}, ingest.Config{
		ParseTimeout:   cfg.ParseTimeout,
		EmbedTimeout:   cfg.EmbedTimeout,
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		EmbedRateLimit: cfg.EmbedRateLimit,
	}, logger)

	a.Batch = batch.New(idx, a.Pipeline, cfg.BatchWorkers, logger)

	a.Retrieval = retrieval.New(client, a.Docs, client, retrieval.Config{
		TranslateTimeout: cfg.TranslateTimeout,
		EmbedTimeout:     cfg.EmbedTimeout,
	}, logger)

	return a, nil
}

// Close releases all resources in reverse construction order.
func (a *App) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}

// provideDBPool runs migrations, then creates a pgx pool whose connections
// understand the pgvector type.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
