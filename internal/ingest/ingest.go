// Package ingest orchestrates single-document ingestion.
//
// One Ingest call takes a document from blob storage (or a local path)
// through parse, filter/segment, embed, and upsert, then flips the file
// index's vectorized flag. The guarantee is all-or-nothing per document:
// the flag is updated only after every passage upsert has succeeded, so the
// index never reflects partial vectorization.
//
// Degraded segmentation (the LLM yields nothing usable) is not a failure;
// the pipeline falls back to whole-document chunking so the document is
// still retrievable, just less precisely filtered.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nutrikb/nutrikb/internal/docstore"
	"github.com/nutrikb/nutrikb/internal/layout"
	"github.com/nutrikb/nutrikb/internal/log"
)

// Segmenter filters a parsed layout into passages. An empty result signals a
// degraded outcome, never an error.
type Segmenter interface {
	FilterAndSegment(ctx context.Context, parsed *layout.Layout) []string
}

// Embedder produces an embedding vector for one text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists passages. Satisfied by docstore.Store.
type VectorStore interface {
	Upsert(ctx context.Context, p docstore.Passage) error
}

// BlobStorage is the slice of blob.Storage the pipeline needs.
type BlobStorage interface {
	Download(ctx context.Context, key string) (string, error)
	UploadString(ctx context.Context, content, key string) error
}

// IndexStore is the slice of the file index the pipeline mutates.
type IndexStore interface {
	UpdateVectorizationStatus(filename string, vectorized bool) (bool, error)
}

// Deps are the pipeline's collaborators, injected explicitly.
type Deps struct {
	Parser    layout.Parser
	Segmenter Segmenter
	Embedder  Embedder
	Vectors   VectorStore
	Blobs     BlobStorage
	Index     IndexStore
}

// Config holds pipeline tuning knobs. Zero values get conservative defaults.
type Config struct {
	ParseTimeout   time.Duration
	EmbedTimeout   time.Duration
	ChunkSize      int     // fallback chunk window, in runes
	ChunkOverlap   int     // fallback chunk overlap, in runes
	EmbedRateLimit float64 // embeds per second, 0 = unlimited
}

// Pipeline ingests one document at a time.
type Pipeline struct {
	deps    Deps
	cfg     Config
	limiter *rate.Limiter
	logger  log.Logger
}

// New creates a Pipeline.
func New(deps Deps, cfg Config, logger log.Logger) *Pipeline {
	if cfg.ParseTimeout <= 0 {
		cfg.ParseTimeout = 2 * time.Minute
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 800
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.EmbedRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EmbedRateLimit), 1)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, limiter: limiter, logger: logger}
}

// Option configures one Ingest call.
type Option func(*callOptions)

type callOptions struct {
	useFilter   bool
	updateIndex bool
}

// WithoutFilter skips LLM segmentation and vectorizes whole-document chunks.
func WithoutFilter() Option {
	return func(o *callOptions) { o.useFilter = false }
}

// WithoutIndexUpdate leaves the file index untouched on success.
func WithoutIndexUpdate() Option {
	return func(o *callOptions) { o.updateIndex = false }
}

// Ingest processes one document identified by a storage key or local path.
// Returns nil only when every passage of the document has been embedded and
// upserted (and, unless disabled, the index flag flipped). Any embedding or
// upsert failure aborts the whole document with no index mutation.
func (p *Pipeline) Ingest(ctx context.Context, source string, opts ...Option) error {
	call := &callOptions{useFilter: true, updateIndex: true}
	for _, opt := range opts {
		opt(call)
	}

	filename := path.Base(strings.ReplaceAll(source, `\`, `/`))
	localPath, err := p.materialize(ctx, source)
	if err != nil {
		return fmt.Errorf("materializing %q: %w", source, err)
	}

	parseCtx, cancel := context.WithTimeout(ctx, p.cfg.ParseTimeout)
	parsed, err := p.deps.Parser.Parse(parseCtx, localPath)
	cancel()
	if err != nil {
		return fmt.Errorf("parsing %q: %w", filename, err)
	}

	var segments []string
	filtered := false
	if call.useFilter {
		segments = p.deps.Segmenter.FilterAndSegment(ctx, parsed)
		filtered = len(segments) > 0
	}
	if !filtered {
		segments = chunkText(concatenate(parsed), p.cfg.ChunkSize, p.cfg.ChunkOverlap)
		if call.useFilter {
			p.logger.Warn("segmentation degraded, falling back to chunked vectorization",
				"filename", filename, "chunks", len(segments))
		}
	}
	if len(segments) == 0 {
		return fmt.Errorf("document %q produced no text", filename)
	}

	if err := p.vectorize(ctx, filename, segments, filtered); err != nil {
		return err
	}

	// The filtered text is persisted as an audit artifact; its loss does not
	// undo the vectorization above.
	if filtered {
		auditKey := "filtered/" + filename + ".txt"
		if err := p.deps.Blobs.UploadString(ctx, strings.Join(segments, "\n\n"), auditKey); err != nil {
			p.logger.Warn("failed to persist filtered-text artifact",
				"filename", filename, "key", auditKey, "error", err)
		}
	}

	if call.updateIndex {
		found, err := p.deps.Index.UpdateVectorizationStatus(filename, true)
		if err != nil {
			return fmt.Errorf("updating index for %q: %w", filename, err)
		}
		if !found {
			p.logger.Warn("vectorized document has no index record", "filename", filename)
		}
	}

	p.logger.Info("ingested document",
		"filename", filename, "passages", len(segments), "filtered", filtered)
	return nil
}

// materialize resolves source to a local file path, downloading from blob
// storage when source is not an existing local file. A relative source that
// matches a file in the working directory shadows the storage key of the
// same name, so the chosen branch is logged.
func (p *Pipeline) materialize(ctx context.Context, source string) (string, error) {
	if info, err := os.Stat(source); err == nil && !info.IsDir() {
		p.logger.Debug("using local file", "source", source)
		return source, nil
	}
	p.logger.Debug("downloading from blob storage", "key", source)
	return p.deps.Blobs.Download(ctx, source)
}

// vectorize embeds and upserts every segment; the first failure aborts.
func (p *Pipeline) vectorize(ctx context.Context, filename string, segments []string, filtered bool) error {
	sourceType := "chunked"
	if filtered {
		sourceType = "filtered"
	}
	indexedAt := time.Now().Format(time.RFC3339)

	for i, text := range segments {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		embedCtx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
		embedding, err := p.deps.Embedder.Embed(embedCtx, text)
		cancel()
		if err != nil {
			return fmt.Errorf("embedding passage %d of %q: %w", i, filename, err)
		}

		passage := docstore.Passage{
			ID:        fmt.Sprintf("%s#%d", filename, i),
			Filename:  filename,
			Content:   text,
			Embedding: embedding,
			Metadata: map[string]string{
				"filename":      filename,
				"segment_index": strconv.Itoa(i),
				"source_type":   sourceType,
				"indexed_at":    indexedAt,
			},
		}
		if err := p.deps.Vectors.Upsert(ctx, passage); err != nil {
			return fmt.Errorf("upserting passage %q: %w", passage.ID, err)
		}
	}
	return nil
}

// concatenate joins all block markdown in document order, for the fallback
// whole-document path.
func concatenate(parsed *layout.Layout) string {
	if parsed == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range parsed.Blocks {
		content := strings.TrimSpace(block.MarkdownContent)
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(content)
	}
	return b.String()
}
