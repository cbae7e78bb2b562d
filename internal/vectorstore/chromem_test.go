package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/record"
)

func newMemoryStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func chunk(vec []float32, lvl1, lvl2, lvl3, value string) record.Chunk {
	return record.Chunk{
		SearchText:  "[" + lvl1 + "] " + value,
		ContextText: value,
		Embedding:   vec,
		Meta:        record.ChunkMeta{Lvl1: lvl1, Lvl2: lvl2, Lvl3: lvl3, Lvl4: value},
	}
}

func seed(t *testing.T, s *ChromemStore) (string, string) {
	t.Helper()
	ctx := context.Background()
	first, err := s.Insert(ctx, []record.Chunk{
		chunk([]float32{1, 0, 0}, "휴가", "연차", "1년차", "15일"),
		chunk([]float32{0.9, 0.1, 0}, "휴가", "병가", "진단서", "60일"),
	}, DocumentMeta{Filename: "leave.xlsx", FileType: "xlsx", UploadedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	second, err := s.Insert(ctx, []record.Chunk{
		chunk([]float32{0, 0, 1}, "복무", "출장", "국내", "일비 2만원"),
	}, DocumentMeta{Filename: "travel.pdf", FileType: "pdf", UploadedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	return first, second
}

func TestChromem_InsertAndSearch(t *testing.T) {
	s := newMemoryStore(t)
	first, _ := seed(t, s)
	assert.NotEmpty(t, first)

	res, err := s.Search(context.Background(), []float32{1, 0, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "15일", res[0].Meta.Lvl4)
	assert.Equal(t, first, res[0].DocumentID)
	assert.Equal(t, "leave.xlsx", res[0].Filename)
	assert.InDelta(t, 1.0, res[0].Score, 1e-5)
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
}

func TestChromem_SearchThresholdAndEmpty(t *testing.T) {
	s := newMemoryStore(t)

	res, err := s.Search(context.Background(), []float32{1, 0, 0}, 5, 0.3)
	require.NoError(t, err)
	assert.Empty(t, res)

	seed(t, s)
	res, err = s.Search(context.Background(), []float32{0, 1, 0}, 5, 0.99)
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = s.Search(context.Background(), []float32{1, 0}, 5, 0.3)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChromem_DimensionMismatchOnInsert(t *testing.T) {
	s := newMemoryStore(t)
	s.SetEmbeddingDimension(3)

	_, err := s.Insert(context.Background(), []record.Chunk{chunk([]float32{1, 0}, "a", "", "", "v")}, DocumentMeta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.True(t, ingesterr.IsValidation(err))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Points)
}

func TestChromem_ListDocuments(t *testing.T) {
	s := newMemoryStore(t)
	first, second := seed(t, s)

	docs, err := s.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, first, docs[0].ID)
	assert.Equal(t, 2, docs[0].Chunks)
	assert.Equal(t, "xlsx", docs[0].FileType)
	assert.Equal(t, second, docs[1].ID)
	assert.Equal(t, "travel.pdf", docs[1].Filename)
}

func TestChromem_DeleteDocument(t *testing.T) {
	s := newMemoryStore(t)
	first, _ := seed(t, s)
	ctx := context.Background()

	ok, err := s.DeleteDocument(ctx, "no-such-doc")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DeleteDocument(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Points)
	assert.Equal(t, 1, st.Documents)

	ok, err = s.DeleteDocument(ctx, first)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChromem_Outline(t *testing.T) {
	s := newMemoryStore(t)
	seed(t, s)
	ctx := context.Background()

	lvl1, err := s.Outline(ctx, OutlineQuery{Level: OutlineLvl1})
	require.NoError(t, err)
	assert.Equal(t, []string{"복무", "휴가"}, lvl1)

	lvl2, err := s.Outline(ctx, OutlineQuery{Level: OutlineLvl2, Parent: "휴가"})
	require.NoError(t, err)
	assert.Equal(t, []string{"병가", "연차"}, lvl2)

	lvl3, err := s.Outline(ctx, OutlineQuery{Level: OutlineLvl3, Parent: "연차"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1년차"}, lvl3)

	detail, err := s.Outline(ctx, OutlineQuery{Level: OutlineDetail, Parent: "진단서"})
	require.NoError(t, err)
	assert.Equal(t, []string{"60일"}, detail)

	none, err := s.Outline(ctx, OutlineQuery{Level: OutlineLvl2, Parent: "없음"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.Outline(ctx, OutlineQuery{Level: 9})
	assert.True(t, ingesterr.IsValidation(err))
}

func TestChromem_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewChromemStore(ChromemConfig{Path: dir}, zap.NewNop())
	require.NoError(t, err)
	first, _ := seed(t, s)

	reopened, err := NewChromemStore(ChromemConfig{Path: dir}, zap.NewNop())
	require.NoError(t, err)
	st, err := reopened.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.Points)
	assert.Equal(t, 3, st.Dimension)

	docs, err := reopened.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, docs[0].ID)
}

func TestRetryOperation(t *testing.T) {
	log := zap.NewNop()
	p := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

	calls := 0
	err := retryOperation(context.Background(), p, "test", "op", log, func(context.Context) error {
		calls++
		if calls < 2 {
			return ingesterr.Transient("op", assert.AnError)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = retryOperation(ctx, RetryPolicy{MaxAttempts: 3, Backoff: time.Hour}, "test", "op", log, func(context.Context) error {
		return ingesterr.Transient("op", assert.AnError)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDistinct(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, distinct([]string{"b", "", "a", "b"}))
	assert.Empty(t, distinct(nil))
}
