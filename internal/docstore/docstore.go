// Package docstore persists passage vectors in PostgreSQL + pgvector.
//
// It is the production implementation behind the vector-store interfaces the
// ingestion and retrieval packages define for themselves. Upserts are
// idempotent per passage ID, so re-ingesting a document overwrites its
// previous vectors instead of duplicating them.
//
// Store is safe for concurrent use by multiple goroutines.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/nutrikb/nutrikb/internal/log"
)

// queryTimeout bounds one vector search so a slow index scan cannot block
// a retrieval request indefinitely.
const queryTimeout = 10 * time.Second

// Passage is one stored text span with its embedding.
type Passage struct {
	ID        string
	Filename  string
	Content   string
	Embedding []float32
	Metadata  map[string]string
	CreatedAt time.Time
}

// Hit is one similarity-search result.
type Hit struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// Store manages passage persistence and vector search.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Store over an existing connection pool.
// The pool must have pgvector types registered (see app.Setup).
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Upsert inserts or replaces one passage by ID.
func (s *Store) Upsert(ctx context.Context, p Passage) error {
	if p.ID == "" {
		return errors.New("passage ID must not be empty")
	}
	if len(p.Embedding) == 0 {
		return fmt.Errorf("passage %q has no embedding", p.ID)
	}

	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO passages (id, filename, content, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			filename = EXCLUDED.filename,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		p.ID, p.Filename, p.Content, pgvector.NewVector(p.Embedding), metadataJSON, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert passage %q: %w", p.ID, err)
	}

	s.logger.Debug("upserted passage", "id", p.ID, "content_length", len(p.Content))
	return nil
}

// Query returns the topK most similar passages to the embedding, ordered by
// cosine similarity descending.
func (s *Store) Query(ctx context.Context, embedding []float32, topK int) ([]Hit, error) {
	if len(embedding) == 0 {
		return nil, errors.New("query embedding must not be empty")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(queryCtx, `
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM passages
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(embedding), topK,
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			hit          Hit
			metadataJSON []byte
			similarity   float64
		)
		if err := rows.Scan(&hit.ID, &hit.Content, &metadataJSON, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		hit.Similarity = float32(similarity)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &hit.Metadata); err != nil {
				s.logger.Warn("failed to parse passage metadata", "passage_id", hit.ID, "error", err)
				hit.Metadata = map[string]string{}
			}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	return hits, nil
}

// Count returns the total number of stored passages.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM passages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	return count, nil
}

// DeleteByFilename removes all passages ingested from one document.
func (s *Store) DeleteByFilename(ctx context.Context, filename string) error {
	if filename == "" {
		return errors.New("filename must not be empty")
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM passages WHERE filename = $1`, filename)
	if err != nil {
		return fmt.Errorf("failed to delete passages for %q: %w", filename, err)
	}
	s.logger.Debug("deleted passages", "filename", filename, "count", tag.RowsAffected())
	return nil
}
