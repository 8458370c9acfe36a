// Package segment turns a parsed document layout into an ordered list of
// high-information, non-reference passages.
//
// Segmentation is LLM-assisted: the concatenated markdown is sent to the
// chat model with a fixed instruction to split it into information-dense
// paragraphs separated by a sentinel delimiter. All failure modes are
// degraded outcomes (an empty result), never errors, so the ingestion
// pipeline can fall back to unfiltered vectorization.
package segment

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nutrikb/nutrikb/internal/layout"
	"github.com/nutrikb/nutrikb/internal/log"
	"github.com/nutrikb/nutrikb/internal/reference"
)

// Generator produces text from a plain prompt.
// Satisfied by llm.Client.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config holds segmenter tuning knobs.
type Config struct {
	// Delimiter is the sentinel the model is asked to place between
	// paragraphs. Must satisfy config.Validate's delimiter rules.
	Delimiter string

	// MinLength drops candidate segments shorter than this many runes as
	// non-informational.
	MinLength int

	// Timeout bounds one segmentation LLM call. A stuck model call degrades
	// like any other LLM failure instead of blocking the caller.
	Timeout time.Duration
}

// Segmenter filters and segments parsed layouts.
type Segmenter struct {
	gen       Generator
	delimiter string
	minLength int
	timeout   time.Duration
	logger    log.Logger
}

// New creates a Segmenter. Zero-value config fields fall back to ";;", a
// 10-rune floor, and a 2-minute call timeout.
func New(gen Generator, cfg Config, logger log.Logger) *Segmenter {
	if cfg.Delimiter == "" {
		cfg.Delimiter = ";;"
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Segmenter{
		gen:       gen,
		delimiter: cfg.Delimiter,
		minLength: cfg.MinLength,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
}

const promptTemplate = `你是营养健康文献整理助手。请将下面的文档内容切分为若干信息量高的独立段落。

要求：
1. 保留原文内容，不要改写、总结或补充。
2. 每个段落应当是一个完整的知识点。
3. 丢弃目录、页眉页脚等无信息内容。
4. 段落之间仅用 %s 分隔，不要输出编号或其他说明。

文档内容：
%s`

// FilterAndSegment returns the document's high-information passages in
// original order, or an empty slice on any degraded outcome (nothing to
// segment, LLM failure, zero survivors).
func (s *Segmenter) FilterAndSegment(ctx context.Context, parsed *layout.Layout) []string {
	text := s.concatenate(parsed)
	if text == "" {
		s.logger.Warn("no content blocks to segment")
		return nil
	}

	prompt := fmt.Sprintf(promptTemplate, s.delimiter, text)
	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := s.gen.Generate(genCtx, prompt)
	if err != nil {
		s.logger.Warn("segmentation LLM call failed, degrading", "error", err)
		return nil
	}

	segments := s.split(raw)
	if len(segments) == 0 {
		s.logger.Warn("segmentation yielded no usable passages, degrading")
	}
	return segments
}

// concatenate joins non-structural block markdown in document order.
func (s *Segmenter) concatenate(parsed *layout.Layout) string {
	if parsed == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range parsed.Blocks {
		if block.Structural() {
			continue
		}
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

// split breaks model output on the delimiter and keeps informational,
// non-reference survivors.
func (s *Segmenter) split(raw string) []string {
	raw = stripCodeFences(raw)

	var out []string
	for _, candidate := range strings.Split(raw, s.delimiter) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if utf8.RuneCountInString(candidate) < s.minLength {
			continue
		}
		if reference.IsReference(candidate) {
			continue
		}
		out = append(out, candidate)
	}
	return out
}

// stripCodeFences removes a surrounding markdown code fence if the model
// wrapped its output in one.
func stripCodeFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	// Drop an optional language tag on the fence line.
	if idx := strings.Index(t, "\n"); idx >= 0 {
		t = t[idx+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
