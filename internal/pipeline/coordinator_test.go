package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/embedding"
	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/parser"
	"github.com/dgallion1/docingest/internal/preprocess"
	"github.com/dgallion1/docingest/internal/record"
	"github.com/dgallion1/docingest/internal/vectorstore"
)

const testDim = 4

// fakeEmbedder returns vectors that all point roughly the same way, so every
// stored chunk is a reasonable hit for any query.
type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	queries []string
	errs    []error // returned, in order, before the first success
	short   int     // vectors dropped from every batch
}

func vectorFor(text string) []float32 {
	v := make([]float32, testDim)
	v[0] = 1
	sum := 0
	for _, r := range text {
		sum += int(r)
	}
	v[1+sum%(testDim-1)] = 0.5
	return v
}

func (f *fakeEmbedder) nextErr() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return vectorFor(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, texts)
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts[:len(texts)-min(f.short, len(texts))] {
		out = append(out, vectorFor(t))
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return testDim }

func (f *fakeEmbedder) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// recordingStore is a real in-memory store that remembers what was inserted.
type recordingStore struct {
	*vectorstore.ChromemStore

	mu       sync.Mutex
	inserted [][]record.Chunk
}

func (s *recordingStore) Insert(ctx context.Context, chunks []record.Chunk, meta vectorstore.DocumentMeta) (string, error) {
	s.mu.Lock()
	s.inserted = append(s.inserted, chunks)
	s.mu.Unlock()
	return s.ChromemStore.Insert(ctx, chunks, meta)
}

func (s *recordingStore) inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

func newTestCoordinator(t *testing.T, emb embedding.Embedder, opts Options) (*Coordinator, *recordingStore) {
	t.Helper()
	mem, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	store := &recordingStore{ChromemStore: mem}

	pools, err := NewPools(2, 2, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pools.Release)

	c, err := NewCoordinator(emb, store, pools, opts, zap.NewNop())
	require.NoError(t, err)
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c, store
}

func buildSheet(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestNewCoordinator_RequiresDependencies(t *testing.T) {
	pools, err := NewPools(1, 1, nil)
	require.NoError(t, err)
	defer pools.Release()

	_, err = NewCoordinator(nil, nil, pools, Options{}, nil)
	assert.ErrorIs(t, err, ErrNoEmbedder)
	_, err = NewCoordinator(&fakeEmbedder{}, nil, pools, Options{}, nil)
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestIngest_LabelForwardFill(t *testing.T) {
	emb := &fakeEmbedder{}
	opts := Options{Parser: parser.Options{
		Layout: parser.Layout{Lvl1: 0, Lvl2: -1, Lvl3: -1, Detail: 1, Remarks: -1},
	}}
	c, store := newTestCoordinator(t, emb, opts)

	data := buildSheet(t, [][]any{
		{"분류", "내용"},
		{"A", "first"},
		{nil, "second"},
		{"B", "third"},
	})
	res, err := c.Ingest(context.Background(), IngestRequest{Filename: "rules.xlsx", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "table", res.Structure)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, testDim, res.Dimension)

	require.Equal(t, 1, store.inserts())
	chunks := store.inserted[0]
	require.Len(t, chunks, 3)
	var got [][2]string
	for _, ch := range chunks {
		got = append(got, [2]string{ch.Meta.Lvl1, ch.Meta.Lvl2})
		assert.Equal(t, res.DocumentID, ch.DocumentID)
	}
	assert.Equal(t, [][2]string{{"A", ""}, {"A", ""}, {"B", ""}}, got)

	assert.Equal(t, "[A] 내용: second", chunks[1].SearchText)
	assert.Equal(t, "A\n[Sheet1!B3] 내용: second", chunks[1].ContextText)
	assert.Equal(t, "Sheet1!B3", chunks[1].Meta.Locator)
	assert.Equal(t, []int{0, 1, 2}, []int{chunks[0].Index, chunks[1].Index, chunks[2].Index})
}

func TestIngest_ExactMaxLengthTextIsOneChunk(t *testing.T) {
	emb := &fakeEmbedder{}
	c, store := newTestCoordinator(t, emb, Options{})

	text := strings.Repeat("가", 500)
	res, err := c.Ingest(context.Background(), IngestRequest{Filename: "memo.txt", Data: []byte(text)})
	require.NoError(t, err)
	assert.Equal(t, "plain_text", res.Structure)
	require.Equal(t, 1, res.Chunks)
	assert.Equal(t, 250, res.Tokens)

	ch := store.inserted[0][0]
	assert.Equal(t, 500, utf8.RuneCountInString(ch.SearchText))
	assert.Equal(t, ch.SearchText, ch.ContextText)
}

func TestIngest_LongTextIsChunked(t *testing.T) {
	c, store := newTestCoordinator(t, &fakeEmbedder{}, Options{})

	var sb strings.Builder
	for i := range 40 {
		sb.WriteString("This is sentence number ")
		sb.WriteString(strings.Repeat("x", i%5+1))
		sb.WriteString(" about leave policy. ")
	}
	res, err := c.Ingest(context.Background(), IngestRequest{Filename: "policy.txt", Data: []byte(sb.String())})
	require.NoError(t, err)
	assert.Greater(t, res.Chunks, 1)
	for _, ch := range store.inserted[0] {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.SearchText), 500)
	}
}

func TestIngest_EmptyDocumentNeverEmbeds(t *testing.T) {
	emb := &fakeEmbedder{}
	c, store := newTestCoordinator(t, emb, Options{})

	_, err := c.Ingest(context.Background(), IngestRequest{Filename: "blank.txt", Data: []byte("  \n\t\n")})
	require.Error(t, err)
	assert.True(t, ingesterr.IsExtraction(err), "got %v", err)
	assert.Zero(t, emb.batchCount())
	assert.Zero(t, store.inserts())
}

func TestIngest_FewerVectorsNeverInserts(t *testing.T) {
	emb := &fakeEmbedder{short: 1}
	c, store := newTestCoordinator(t, emb, Options{})

	_, err := c.Ingest(context.Background(), IngestRequest{Filename: "memo.txt", Data: []byte("연차 휴가는 15일입니다.")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVectorCount)
	assert.Equal(t, 1, emb.batchCount())
	assert.Zero(t, store.inserts())
}

func TestIngest_RejectsBeforeExtraction(t *testing.T) {
	emb := &fakeEmbedder{}
	c, _ := newTestCoordinator(t, emb, Options{MaxFileSize: 8})

	_, err := c.Ingest(context.Background(), IngestRequest{Filename: "data.csv", Data: []byte("a,b")})
	assert.True(t, ingesterr.IsValidation(err))

	_, err = c.Ingest(context.Background(), IngestRequest{Filename: "big.txt", Data: []byte("more than eight bytes")})
	assert.True(t, ingesterr.IsValidation(err))

	_, err = c.Ingest(context.Background(), IngestRequest{Filename: "broken.xlsx", Data: []byte("nope")})
	assert.True(t, ingesterr.IsExtraction(err))
	assert.Zero(t, emb.batchCount())
}

func TestIngest_RetriesTransientEmbeddingErrors(t *testing.T) {
	emb := &fakeEmbedder{errs: []error{ingesterr.Transient("embed", assert.AnError)}}
	c, store := newTestCoordinator(t, emb, Options{})

	_, err := c.Ingest(context.Background(), IngestRequest{Filename: "memo.txt", Data: []byte("출장 여비 규정 안내문입니다.")})
	require.NoError(t, err)
	assert.Equal(t, 2, emb.batchCount())
	assert.Equal(t, 1, store.inserts())
}

func TestIngest_PermanentEmbeddingErrorIsNotRetried(t *testing.T) {
	emb := &fakeEmbedder{errs: []error{assert.AnError}}
	c, store := newTestCoordinator(t, emb, Options{})

	_, err := c.Ingest(context.Background(), IngestRequest{Filename: "memo.txt", Data: []byte("출장 여비 규정 안내문입니다.")})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, emb.batchCount())
	assert.Zero(t, store.inserts())
}

func TestIngest_EmbeddingOutageNeverInserts(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer ts.Close()

	emb := embedding.NewOpenAI(embedding.Config{APIKey: "k", BaseURL: ts.URL, Model: "m", Dimensions: testDim})
	c, store := newTestCoordinator(t, emb, Options{})

	_, err := c.Ingest(context.Background(), IngestRequest{Filename: "memo.txt", Data: []byte("출장 여비 규정 안내문입니다.")})
	require.Error(t, err)
	assert.True(t, ingesterr.IsTransient(err), "got %v", err)
	assert.Zero(t, store.inserts())
	// Each attempt sends the batch, then the single text on its own.
	assert.EqualValues(t, 2*MaxRetries, calls.Load())
}

func TestIngest_PreprocessedTextIsEmbedded(t *testing.T) {
	emb := &fakeEmbedder{}
	c, store := newTestCoordinator(t, emb, Options{Preprocessor: preprocess.New()})

	_, err := c.Ingest(context.Background(), IngestRequest{Filename: "memo.txt", Data: []byte("연차 휴가는 입사 1년 후에 15일이 주어집니다.")})
	require.NoError(t, err)

	raw := store.inserted[0][0].SearchText
	embedded := emb.batches[0][0]
	assert.NotEqual(t, raw, embedded)
	assert.Contains(t, embedded, "연차")
	assert.NotContains(t, embedded, ".")
	assert.Contains(t, raw, ".")
}

func TestIngest_ReplacesPreviousDocument(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeEmbedder{}, Options{})
	ctx := context.Background()

	first, err := c.Ingest(ctx, IngestRequest{Filename: "v1.txt", Data: []byte("첫 번째 버전의 규정입니다.")})
	require.NoError(t, err)
	second, err := c.Ingest(ctx, IngestRequest{Filename: "v2.txt", Data: []byte("두 번째 버전의 규정입니다."), ReplaceDocumentID: first.DocumentID})
	require.NoError(t, err)
	assert.True(t, second.Replaced)

	docs, err := c.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, second.DocumentID, docs[0].ID)
}

func TestSearch(t *testing.T) {
	emb := &fakeEmbedder{}
	c, _ := newTestCoordinator(t, emb, Options{Preprocessor: preprocess.New()})
	ctx := context.Background()

	_, err := c.Search(ctx, SearchRequest{Query: "  "})
	assert.True(t, ingesterr.IsValidation(err))
	_, err = c.Search(ctx, SearchRequest{Query: "연차", Limit: MaxSearchLimit + 1})
	assert.True(t, ingesterr.IsValidation(err))
	bad := float32(1.5)
	_, err = c.Search(ctx, SearchRequest{Query: "연차", ScoreThreshold: &bad})
	assert.True(t, ingesterr.IsValidation(err))

	res, err := c.Search(ctx, SearchRequest{Query: "연차"})
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Empty(t, res)

	doc, err := c.Ingest(ctx, IngestRequest{Filename: "memo.txt", Data: []byte("연차 휴가는 15일입니다.")})
	require.NoError(t, err)

	res, err = c.Search(ctx, SearchRequest{Query: "연차 휴가는 며칠인가요"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, doc.DocumentID, res[0].DocumentID)
	assert.Equal(t, "memo.txt", res[0].Filename)

	// Too little survives preprocessing of "a", so the raw query is embedded.
	_, err = c.Search(ctx, SearchRequest{Query: "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", emb.queries[len(emb.queries)-1])
}

func TestKeywords(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeEmbedder{}, Options{})

	_, err := c.Keywords(" ", 3)
	assert.True(t, ingesterr.IsValidation(err))

	kw, err := c.Keywords("연차 휴가 연차 병가 휴가 연차", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"연차", "휴가"}, kw)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "validation", outcome(ingesterr.Validationf("x")))
	assert.Equal(t, "chunking", outcome(&ingesterr.ChunkingError{Reason: "x"}))
	assert.Equal(t, "transient", outcome(ingesterr.Transient("op", assert.AnError)))
	assert.Equal(t, "canceled", outcome(context.Canceled))
	assert.Equal(t, "error", outcome(assert.AnError))
}

func TestNewDocument(t *testing.T) {
	uploaded := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	doc := newDocument("plan.txt", "txt", uploaded, []record.Chunk{{SearchText: "a"}, {SearchText: "b"}})

	require.NotEmpty(t, doc.ID)
	for i, ch := range doc.Chunks {
		assert.Equal(t, doc.ID, ch.DocumentID)
		assert.Equal(t, i, ch.Index)
	}

	meta := documentMeta(doc)
	assert.Equal(t, vectorstore.DocumentMeta{ID: doc.ID, Filename: "plan.txt", FileType: "txt", UploadedAt: uploaded}, meta)

	other := newDocument("plan.txt", "txt", uploaded, []record.Chunk{{SearchText: "a"}})
	assert.NotEqual(t, doc.ID, other.ID)
}
