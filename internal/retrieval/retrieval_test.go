package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrikb/nutrikb/internal/docstore"
	"github.com/nutrikb/nutrikb/internal/log"
)

type mockEmbedder struct {
	err       error
	callCount int
	texts     []string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.callCount++
	m.texts = append(m.texts, text)
	if m.err != nil {
		return nil, m.err
	}
	return []float32{float32(len(text))}, nil
}

type mockSearcher struct {
	// hits are returned in call order, one slice per Query call.
	hits      [][]docstore.Hit
	err       error
	callCount int
	limits    []int
}

func (m *mockSearcher) Query(_ context.Context, _ []float32, limit int) ([]docstore.Hit, error) {
	m.callCount++
	m.limits = append(m.limits, limit)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.hits) == 0 {
		return nil, nil
	}
	hits := m.hits[0]
	m.hits = m.hits[1:]
	return hits, nil
}

type mockTranslator struct {
	response  string
	err       error
	callCount int
}

func (m *mockTranslator) Generate(_ context.Context, _ string) (string, error) {
	m.callCount++
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func hit(id, content string, similarity float32) docstore.Hit {
	return docstore.Hit{ID: id, Content: content, Similarity: similarity}
}

func TestTopKContractViolations(t *testing.T) {
	e := New(&mockEmbedder{}, &mockSearcher{}, nil, Config{}, log.NewNop())

	_, err := e.TopK(context.Background(), "膳食纤维", 0)
	require.ErrorIs(t, err, ErrInvalidTopK)

	_, err = e.TopK(context.Background(), "膳食纤维", -3)
	require.ErrorIs(t, err, ErrInvalidTopK)

	_, err = e.TopK(context.Background(), "", 5)
	require.ErrorIs(t, err, ErrEmptyQuery)

	_, err = e.TopK(context.Background(), "   \t\n", 5)
	require.ErrorIs(t, err, ErrEmptyQuery)
}

func TestTopKSingleVariantOrdering(t *testing.T) {
	searcher := &mockSearcher{hits: [][]docstore.Hit{{
		hit("a#0", "全谷物富含膳食纤维", 0.92),
		hit("a#1", "适量饮水", 0.71),
		hit("b#0", "每天摄入蔬菜", 0.85),
	}}}
	e := New(&mockEmbedder{}, searcher, nil, Config{}, log.NewNop())

	results, err := e.TopK(context.Background(), "膳食纤维的来源", 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"全谷物富含膳食纤维", "每天摄入蔬菜"}, results)
	// No translator means exactly one embed and one search.
	assert.Equal(t, 1, searcher.callCount)
	// The candidate pool over-fetches to survive dedup.
	assert.Equal(t, []int{4}, searcher.limits)
}

func TestTopKBilingualMergeOriginalWinsTies(t *testing.T) {
	searcher := &mockSearcher{hits: [][]docstore.Hit{
		{ // original-variant hits
			hit("a#0", "dietary fiber sources", 0.90),
			hit("b#0", "whole grains", 0.80),
		},
		{ // translated-variant hits: a#0 ties, c#0 is new
			hit("a#0", "dietary fiber sources", 0.90),
			hit("c#0", "每天摄入蔬菜", 0.85),
		},
	}}
	translator := &mockTranslator{response: "膳食纤维来源"}
	e := New(&mockEmbedder{}, searcher, translator, Config{}, log.NewNop())

	results, err := e.TopK(context.Background(), "dietary fiber sources", 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"dietary fiber sources", "每天摄入蔬菜", "whole grains"}, results)
	assert.Equal(t, 1, translator.callCount)
	assert.Equal(t, 2, searcher.callCount)
}

func TestTopKStrictlyHigherSimilarityReplaces(t *testing.T) {
	searcher := &mockSearcher{hits: [][]docstore.Hit{
		{hit("a#0", "全谷物", 0.70)},
		{hit("a#0", "全谷物", 0.88)},
	}}
	translator := &mockTranslator{response: "whole grains"}
	e := New(&mockEmbedder{}, searcher, translator, Config{}, log.NewNop())

	results, err := e.TopK(context.Background(), "全谷物", 5)
	require.NoError(t, err)

	require.Equal(t, []string{"全谷物"}, results)
}

func TestTopKDedupByContentAcrossIDs(t *testing.T) {
	// The same passage text stored under two IDs collapses into one result.
	searcher := &mockSearcher{hits: [][]docstore.Hit{
		{hit("a#0", "维生素D促进钙吸收", 0.90)},
		{hit("z#4", "维生素D促进钙吸收", 0.86)},
	}}
	translator := &mockTranslator{response: "vitamin D calcium"}
	e := New(&mockEmbedder{}, searcher, translator, Config{}, log.NewNop())

	results, err := e.TopK(context.Background(), "维生素D", 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"维生素D促进钙吸收"}, results)
}

func TestTopKTranslationFailureDegradesToSingleVariant(t *testing.T) {
	searcher := &mockSearcher{hits: [][]docstore.Hit{
		{hit("a#0", "全谷物富含膳食纤维", 0.92)},
	}}
	translator := &mockTranslator{err: errors.New("model unavailable")}
	e := New(&mockEmbedder{}, searcher, translator, Config{}, log.NewNop())

	results, err := e.TopK(context.Background(), "膳食纤维", 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"全谷物富含膳食纤维"}, results)
	assert.Equal(t, 1, searcher.callCount)
}

func TestTopKIdenticalTranslationSkipsSecondSearch(t *testing.T) {
	searcher := &mockSearcher{hits: [][]docstore.Hit{
		{hit("a#0", "vitamin D", 0.9)},
	}}
	translator := &mockTranslator{response: "vitamin D deficiency"}
	e := New(&mockEmbedder{}, searcher, translator, Config{}, log.NewNop())

	_, err := e.TopK(context.Background(), "vitamin D deficiency", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, searcher.callCount)
}

func TestTopKOriginalVariantSearchFailureIsFatal(t *testing.T) {
	searcher := &mockSearcher{err: errors.New("connection refused")}
	e := New(&mockEmbedder{}, searcher, nil, Config{}, log.NewNop())

	_, err := e.TopK(context.Background(), "膳食纤维", 3)
	require.Error(t, err)
}

func TestTopKEmbedFailureIsFatal(t *testing.T) {
	embedder := &mockEmbedder{err: errors.New("quota exceeded")}
	e := New(embedder, &mockSearcher{}, nil, Config{}, log.NewNop())

	_, err := e.TopK(context.Background(), "膳食纤维", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestTopKFewerResultsThanK(t *testing.T) {
	searcher := &mockSearcher{hits: [][]docstore.Hit{
		{hit("a#0", "唯一的段落", 0.5)},
	}}
	e := New(&mockEmbedder{}, searcher, nil, Config{}, log.NewNop())

	results, err := e.TopK(context.Background(), "任何内容", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"唯一的段落"}, results)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"每日营养建议", LanguageChinese},
		{"daily nutrition recommendations", LanguageEnglish},
		{"", LanguageChinese},
		{"维生素D", LanguageChinese},
		{"vitamin D 与钙", LanguageEnglish},
		{"123 456", LanguageChinese},
		{"维生素D缺乏与骨质疏松 review", LanguageChinese},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.text))
		})
	}
}
