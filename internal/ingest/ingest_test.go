package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrikb/nutrikb/internal/docstore"
	"github.com/nutrikb/nutrikb/internal/layout"
	"github.com/nutrikb/nutrikb/internal/log"
)

type mockParser struct {
	layout    *layout.Layout
	err       error
	callCount int
	lastPath  string
}

func (m *mockParser) Parse(_ context.Context, localPath string) (*layout.Layout, error) {
	m.callCount++
	m.lastPath = localPath
	if m.err != nil {
		return nil, m.err
	}
	return m.layout, nil
}

type mockSegmenter struct {
	segments  []string
	callCount int
}

func (m *mockSegmenter) FilterAndSegment(_ context.Context, _ *layout.Layout) []string {
	m.callCount++
	return m.segments
}

type mockEmbedder struct {
	err       error
	failAfter int // fail on the Nth call when > 0
	callCount int
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.callCount++
	if m.err != nil && (m.failAfter == 0 || m.callCount >= m.failAfter) {
		return nil, m.err
	}
	return []float32{float32(len(text)), 1, 2}, nil
}

type mockVectorStore struct {
	err      error
	upserted []docstore.Passage
}

func (m *mockVectorStore) Upsert(_ context.Context, p docstore.Passage) error {
	if m.err != nil {
		return m.err
	}
	m.upserted = append(m.upserted, p)
	return nil
}

type mockBlobs struct {
	downloadPath string
	downloadErr  error
	uploadErr    error
	downloads    []string
	uploads      map[string]string
}

func (m *mockBlobs) Download(_ context.Context, key string) (string, error) {
	m.downloads = append(m.downloads, key)
	if m.downloadErr != nil {
		return "", m.downloadErr
	}
	return m.downloadPath, nil
}

func (m *mockBlobs) UploadString(_ context.Context, content, key string) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	if m.uploads == nil {
		m.uploads = make(map[string]string)
	}
	m.uploads[key] = content
	return nil
}

type mockIndex struct {
	found     bool
	err       error
	callCount int
	lastName  string
	lastFlag  bool
}

func (m *mockIndex) UpdateVectorizationStatus(filename string, vectorized bool) (bool, error) {
	m.callCount++
	m.lastName = filename
	m.lastFlag = vectorized
	if m.err != nil {
		return false, m.err
	}
	return m.found, nil
}

type fixture struct {
	parser    *mockParser
	segmenter *mockSegmenter
	embedder  *mockEmbedder
	vectors   *mockVectorStore
	blobs     *mockBlobs
	index     *mockIndex
	pipeline  *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		parser: &mockParser{layout: &layout.Layout{Blocks: []layout.Block{
			{Type: "text", MarkdownContent: "全谷物富含膳食纤维，有助于维持肠道健康。"},
			{Type: "text", MarkdownContent: "每天摄入 300 到 500 克蔬菜。"},
		}}},
		segmenter: &mockSegmenter{segments: []string{
			"全谷物富含膳食纤维，有助于维持肠道健康。",
			"每天摄入 300 到 500 克蔬菜。",
		}},
		embedder: &mockEmbedder{},
		vectors:  &mockVectorStore{},
		blobs:    &mockBlobs{},
		index:    &mockIndex{found: true},
	}
	f.pipeline = New(Deps{
		Parser:    f.parser,
		Segmenter: f.segmenter,
		Embedder:  f.embedder,
		Vectors:   f.vectors,
		Blobs:     f.blobs,
		Index:     f.index,
	}, Config{}, log.NewNop())
	return f
}

func writeTempDoc(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "dietary-guide.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4 stub"), 0o644))
	return p
}

func TestIngestFilteredPath(t *testing.T) {
	f := newFixture(t)
	localPath := writeTempDoc(t)

	err := f.pipeline.Ingest(context.Background(), localPath)
	require.NoError(t, err)

	// Local files are used directly, no blob round-trip.
	assert.Empty(t, f.blobs.downloads)
	assert.Equal(t, localPath, f.parser.lastPath)

	require.Len(t, f.vectors.upserted, 2)
	assert.Equal(t, "dietary-guide.pdf#0", f.vectors.upserted[0].ID)
	assert.Equal(t, "dietary-guide.pdf#1", f.vectors.upserted[1].ID)
	assert.Equal(t, "filtered", f.vectors.upserted[0].Metadata["source_type"])
	assert.Equal(t, "dietary-guide.pdf", f.vectors.upserted[0].Filename)

	// Audit artifact carries the joined filtered text.
	content, ok := f.blobs.uploads["filtered/dietary-guide.pdf.txt"]
	require.True(t, ok)
	assert.Contains(t, content, "全谷物富含膳食纤维")

	assert.Equal(t, 1, f.index.callCount)
	assert.Equal(t, "dietary-guide.pdf", f.index.lastName)
	assert.True(t, f.index.lastFlag)
}

func TestIngestTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	localPath := writeTempDoc(t)

	require.NoError(t, f.pipeline.Ingest(context.Background(), localPath))
	require.NoError(t, f.pipeline.Ingest(context.Background(), localPath))

	// The second run re-upserts the same passage IDs, so the store sees
	// duplicates of the same keys rather than new rows.
	require.Len(t, f.vectors.upserted, 4)
	assert.Equal(t, f.vectors.upserted[0].ID, f.vectors.upserted[2].ID)
	assert.Equal(t, f.vectors.upserted[1].ID, f.vectors.upserted[3].ID)
	assert.Equal(t, f.vectors.upserted[0].Content, f.vectors.upserted[2].Content)

	// The flag stays true: both runs flip it to true, never back.
	assert.Equal(t, 2, f.index.callCount)
	assert.True(t, f.index.lastFlag)
}

func TestIngestDownloadsWhenNotLocal(t *testing.T) {
	f := newFixture(t)
	f.blobs.downloadPath = writeTempDoc(t)

	err := f.pipeline.Ingest(context.Background(), "uploads/dietary-guide.pdf")
	require.NoError(t, err)

	require.Equal(t, []string{"uploads/dietary-guide.pdf"}, f.blobs.downloads)
	assert.Equal(t, f.blobs.downloadPath, f.parser.lastPath)
	// Filename is the base of the storage key.
	assert.Equal(t, "dietary-guide.pdf", f.vectors.upserted[0].Filename)
}

func TestIngestLogsMaterializeBranch(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	f.pipeline = New(Deps{
		Parser:    f.parser,
		Segmenter: f.segmenter,
		Embedder:  f.embedder,
		Vectors:   f.vectors,
		Blobs:     f.blobs,
		Index:     f.index,
	}, Config{}, log.NewWithWriter(&buf, log.Config{Level: slog.LevelDebug}))

	require.NoError(t, f.pipeline.Ingest(context.Background(), writeTempDoc(t)))
	assert.Contains(t, buf.String(), "using local file")

	buf.Reset()
	f.blobs.downloadPath = writeTempDoc(t)
	require.NoError(t, f.pipeline.Ingest(context.Background(), "uploads/other.pdf"))
	assert.Contains(t, buf.String(), "downloading from blob storage")
}

func TestIngestDegradedSegmentationFallsBackToChunks(t *testing.T) {
	f := newFixture(t)
	f.segmenter.segments = nil

	err := f.pipeline.Ingest(context.Background(), writeTempDoc(t))
	require.NoError(t, err)

	assert.Equal(t, 1, f.segmenter.callCount)
	require.NotEmpty(t, f.vectors.upserted)
	assert.Equal(t, "chunked", f.vectors.upserted[0].Metadata["source_type"])
	// Degraded runs still flip the index flag.
	assert.Equal(t, 1, f.index.callCount)
	// No audit artifact for unfiltered text.
	assert.Empty(t, f.blobs.uploads)
}

func TestIngestWithoutFilterSkipsSegmenter(t *testing.T) {
	f := newFixture(t)

	err := f.pipeline.Ingest(context.Background(), writeTempDoc(t), WithoutFilter())
	require.NoError(t, err)

	assert.Zero(t, f.segmenter.callCount)
	assert.Equal(t, "chunked", f.vectors.upserted[0].Metadata["source_type"])
}

func TestIngestWithoutIndexUpdate(t *testing.T) {
	f := newFixture(t)

	err := f.pipeline.Ingest(context.Background(), writeTempDoc(t), WithoutIndexUpdate())
	require.NoError(t, err)

	assert.Zero(t, f.index.callCount)
}

func TestIngestEmbedFailureAbortsBeforeIndexFlip(t *testing.T) {
	f := newFixture(t)
	f.embedder.err = errors.New("quota exceeded")
	f.embedder.failAfter = 2

	err := f.pipeline.Ingest(context.Background(), writeTempDoc(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	// First passage made it in, but the index was never touched.
	assert.Len(t, f.vectors.upserted, 1)
	assert.Zero(t, f.index.callCount)
}

func TestIngestUpsertFailureAbortsBeforeIndexFlip(t *testing.T) {
	f := newFixture(t)
	f.vectors.err = errors.New("connection reset")

	err := f.pipeline.Ingest(context.Background(), writeTempDoc(t))
	require.Error(t, err)
	assert.Zero(t, f.index.callCount)
}

func TestIngestParseFailure(t *testing.T) {
	f := newFixture(t)
	f.parser.err = errors.New("parser unavailable")

	err := f.pipeline.Ingest(context.Background(), writeTempDoc(t))
	require.Error(t, err)
	assert.Zero(t, f.embedder.callCount)
	assert.Zero(t, f.index.callCount)
}

func TestIngestAuditUploadFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.blobs.uploadErr = errors.New("bucket unavailable")

	err := f.pipeline.Ingest(context.Background(), writeTempDoc(t))
	require.NoError(t, err)
	assert.Equal(t, 1, f.index.callCount)
}

func TestIngestUnknownIndexRecordIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.index.found = false

	err := f.pipeline.Ingest(context.Background(), writeTempDoc(t))
	require.NoError(t, err)
	assert.Equal(t, 1, f.index.callCount)
}

func TestIngestIndexUpdateFailure(t *testing.T) {
	f := newFixture(t)
	f.index.err = errors.New("disk full")

	err := f.pipeline.Ingest(context.Background(), writeTempDoc(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestIngestEmptyDocument(t *testing.T) {
	f := newFixture(t)
	f.segmenter.segments = nil
	f.parser.layout = &layout.Layout{}

	err := f.pipeline.Ingest(context.Background(), writeTempDoc(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text")
}

func TestChunkText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{
			name: "empty",
			text: "",
			size: 10,
		},
		{
			name: "shorter than window",
			text: "短文本",
			size: 10,
			want: []string{"短文本"},
		},
		{
			name:    "exact windows with overlap",
			text:    "abcdefghij",
			size:    4,
			overlap: 2,
			want:    []string{"abcd", "cdef", "efgh", "ghij"},
		},
		{
			name:    "cjk runes counted not bytes",
			text:    "一二三四五六",
			size:    4,
			overlap: 1,
			want:    []string{"一二三四", "四五六"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunkText(tt.text, tt.size, tt.overlap))
		})
	}
}

func TestChunkTextCoversAllRunes(t *testing.T) {
	text := strings.Repeat("营养", 500)
	chunks := chunkText(text, 120, 20)
	require.NotEmpty(t, chunks)

	var rebuilt strings.Builder
	for i, c := range chunks {
		runes := []rune(c)
		if i == 0 {
			rebuilt.WriteString(c)
			continue
		}
		require.GreaterOrEqual(t, len(runes), 20, fmt.Sprintf("chunk %d too short", i))
		rebuilt.WriteString(string(runes[20:]))
	}
	assert.Equal(t, text, rebuilt.String())
}
