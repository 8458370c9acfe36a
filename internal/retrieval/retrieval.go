// Package retrieval answers top-K similarity queries over the passage store.
//
// Queries are expanded bilingually: the query language is detected, a
// best-effort LLM translation produces the other-language variant, and
// candidates from both variants are merged with the original query's hits
// taking precedence on ties. Translation failure degrades to single-variant
// search rather than failing the query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nutrikb/nutrikb/internal/docstore"
	"github.com/nutrikb/nutrikb/internal/log"
)

var (
	// ErrInvalidTopK is returned when k is not positive.
	ErrInvalidTopK = errors.New("top-k must be positive")
	// ErrEmptyQuery is returned when the query is empty or whitespace.
	ErrEmptyQuery = errors.New("query must not be empty")
)

// Language labels returned by DetectLanguage.
const (
	LanguageChinese = "chinese"
	LanguageEnglish = "english"
)

// Embedder produces an embedding vector for one text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs a nearest-neighbor query. Satisfied by docstore.Store.
type Searcher interface {
	Query(ctx context.Context, embedding []float32, limit int) ([]docstore.Hit, error)
}

// Translator produces text from a prompt. Satisfied by llm.Client.
type Translator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config holds retrieval tuning knobs.
type Config struct {
	TranslateTimeout time.Duration
	EmbedTimeout     time.Duration
}

// Engine performs bilingual top-K retrieval.
type Engine struct {
	embedder   Embedder
	searcher   Searcher
	translator Translator
	cfg        Config
	logger     log.Logger
}

// New creates an Engine. A nil translator disables bilingual expansion.
func New(embedder Embedder, searcher Searcher, translator Translator, cfg Config, logger log.Logger) *Engine {
	if cfg.TranslateTimeout <= 0 {
		cfg.TranslateTimeout = 30 * time.Second
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{embedder: embedder, searcher: searcher, translator: translator, cfg: cfg, logger: logger}
}

// TopK returns the content of the k most similar passages to query, most
// similar first. Fewer than k results means the store holds fewer distinct
// passages, not an error.
func (e *Engine) TopK(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, k)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	variants := []string{query}
	if translated := e.translate(ctx, query); translated != "" {
		variants = append(variants, translated)
	}

	// Over-fetch per variant so dedup across variants still fills k slots.
	poolSize := k * 2
	merged := make([]docstore.Hit, 0, poolSize*len(variants))
	byID := make(map[string]int)
	byText := make(map[string]int)
	for i, variant := range variants {
		hits, err := e.search(ctx, variant, poolSize)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			// The original variant already produced results; a failed
			// expansion variant only narrows the pool.
			e.logger.Warn("expanded-variant search failed", "variant", variant, "error", err)
			continue
		}
		merged = mergeHits(merged, hits, byID, byText)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if len(merged) > k {
		merged = merged[:k]
	}

	results := make([]string, len(merged))
	for i, hit := range merged {
		results[i] = hit.Content
	}
	return results, nil
}

func (e *Engine) search(ctx context.Context, text string, limit int) ([]docstore.Hit, error) {
	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	defer cancel()
	embedding, err := e.embedder.Embed(embedCtx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return e.searcher.Query(ctx, embedding, limit)
}

// mergeHits folds hits into merged, deduplicating by passage ID and then by
// content. An already-seen passage is only replaced when the new similarity
// is strictly higher, so earlier variants win ties.
func mergeHits(merged, hits []docstore.Hit, byID, byText map[string]int) []docstore.Hit {
	for _, hit := range hits {
		pos, seen := byID[hit.ID]
		if !seen {
			pos, seen = byText[hit.Content]
		}
		if seen {
			if hit.Similarity > merged[pos].Similarity {
				merged[pos] = hit
			}
			continue
		}
		merged = append(merged, hit)
		byID[hit.ID] = len(merged) - 1
		byText[hit.Content] = len(merged) - 1
	}
	return merged
}

// translate returns the other-language variant of query, or "" when
// translation is unavailable or fails.
func (e *Engine) translate(ctx context.Context, query string) string {
	if e.translator == nil {
		return ""
	}

	var prompt string
	switch DetectLanguage(query) {
	case LanguageChinese:
		prompt = fmt.Sprintf("请将以下中文检索词翻译成英文，只输出译文，不要任何解释：\n%s", query)
	default:
		prompt = fmt.Sprintf("请将以下英文检索词翻译成中文，只输出译文，不要任何解释：\n%s", query)
	}

	translateCtx, cancel := context.WithTimeout(ctx, e.cfg.TranslateTimeout)
	defer cancel()
	translated, err := e.translator.Generate(translateCtx, prompt)
	if err != nil {
		e.logger.Warn("query translation failed, searching single variant",
			"query", query, "error", err)
		return ""
	}
	translated = strings.TrimSpace(translated)
	if translated == "" || translated == query {
		return ""
	}
	return translated
}

// DetectLanguage classifies text as chinese or english by comparing CJK rune
// weight against Latin letters. Empty text and ties classify as chinese,
// matching the corpus's dominant language.
func DetectLanguage(text string) string {
	var cjk, latin int
	for _, r := range text {
		switch {
		case isCJK(r):
			cjk++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin++
		}
	}
	if cjk*2 >= latin {
		return LanguageChinese
	}
	return LanguageEnglish
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // unified ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // extension A
		(r >= 0x3000 && r <= 0x303F) // CJK punctuation
}
