package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/chunker"
	"github.com/dgallion1/docingest/internal/embedding"
	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/metrics"
	"github.com/dgallion1/docingest/internal/parser"
	"github.com/dgallion1/docingest/internal/preprocess"
	"github.com/dgallion1/docingest/internal/record"
	"github.com/dgallion1/docingest/internal/vectorstore"
)

var (
	ErrNoEmbedder  = errors.New("pipeline: embedder is required")
	ErrNoStore     = errors.New("pipeline: vector store is required")
	ErrVectorCount = errors.New("embedding returned a different number of vectors than chunks")

	errNoContent = errors.New("no extractable content")
)

// DefaultMinPreprocessedRunes is the shortest preprocessed text that is
// embedded instead of the raw search text.
const DefaultMinPreprocessedRunes = 2

// Options tune a Coordinator. Zero values fall back to defaults.
type Options struct {
	Chunk        chunker.Config
	Parser       parser.Options
	MaxFileSize  int64
	Preprocessor preprocess.Preprocessor // nil embeds search text as is
	MinRunes     int
}

// Coordinator runs one document through extract, render, embed and insert.
// It is safe for concurrent use; each call is sequential within itself.
type Coordinator struct {
	embedder embedding.Embedder
	store    vectorstore.Store
	pools    *Pools
	chunker  *chunker.Chunker
	keywords preprocess.Preprocessor
	opts     Options
	log      *zap.Logger

	backoff func(int) time.Duration
	dim     atomic.Int64
}

func NewCoordinator(embedder embedding.Embedder, store vectorstore.Store, pools *Pools, opts Options, log *zap.Logger) (*Coordinator, error) {
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	if store == nil {
		return nil, ErrNoStore
	}
	if pools == nil {
		return nil, errors.New("pipeline: pools are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Chunk == (chunker.Config{}) {
		opts.Chunk = chunker.DefaultConfig()
	}
	if opts.MinRunes <= 0 {
		opts.MinRunes = DefaultMinPreprocessedRunes
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = parser.DefaultMaxFileSize
	}
	if opts.Parser.Logger == nil {
		opts.Parser.Logger = log
	}

	c := &Coordinator{
		embedder: embedder,
		store:    store,
		pools:    pools,
		chunker:  chunker.New(opts.Chunk),
		keywords: opts.Preprocessor,
		opts:     opts,
		log:      log,
		backoff:  Backoff,
	}
	if c.keywords == nil {
		c.keywords = preprocess.New()
	}
	return c, nil
}

// ProgressFunc observes the stages of a run.
type ProgressFunc func(status JobStatus, chunks int)

type IngestRequest struct {
	Filename string
	Data     []byte

	// ReplaceDocumentID, when set, is deleted once the new document is stored.
	ReplaceDocumentID string

	Progress ProgressFunc
}

func (r IngestRequest) progress(status JobStatus, chunks int) {
	if r.Progress != nil {
		r.Progress(status, chunks)
	}
}

type IngestResult struct {
	DocumentID string        `json:"document_id"`
	Filename   string        `json:"filename"`
	FileType   string        `json:"file_type"`
	Structure  string        `json:"structure"`
	Units      int           `json:"units"`
	Chunks     int           `json:"chunks"`
	Tokens     int           `json:"estimated_tokens"`
	Dimension  int           `json:"dimension"`
	Replaced   bool          `json:"replaced,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// Ingest stores one document and returns its new id. Nothing is inserted
// unless every stage before insert succeeded.
func (c *Coordinator) Ingest(ctx context.Context, req IngestRequest) (res *IngestResult, err error) {
	start := time.Now()
	fileType := parser.FileType(req.Filename)
	log := c.log.With(zap.String("filename", req.Filename), zap.String("file_type", fileType))

	defer func() {
		metrics.DocumentsTotal.WithLabelValues(fileType, outcome(err)).Inc()
		if err != nil {
			log.Warn("ingestion failed", zap.Error(err))
		}
	}()

	if err := parser.Validate(req.Filename, int64(len(req.Data)), c.opts.MaxFileSize); err != nil {
		return nil, err
	}

	req.progress(StatusParsing, 0)
	result, err := c.extract(ctx, req, fileType)
	if err != nil {
		return nil, err
	}

	req.progress(StatusChunking, 0)
	chunks, err := c.render(result)
	if err != nil {
		return nil, err
	}
	doc := newDocument(req.Filename, fileType, start, chunks)
	docID := doc.ID
	log.Info("document rendered",
		zap.String("document_id", docID),
		zap.Stringer("structure", result.Kind),
		zap.Int("units", result.Len()),
		zap.Int("chunks", len(chunks)))

	req.progress(StatusEmbedding, len(chunks))
	if err := c.embed(ctx, log, chunks); err != nil {
		return nil, err
	}

	req.progress(StatusStoring, len(chunks))
	stageStart := time.Now()
	stored, err := submit(ctx, c.pools.store, func(ctx context.Context) (string, error) {
		return c.store.Insert(ctx, doc.Chunks, documentMeta(doc))
	})
	metrics.IngestDuration.WithLabelValues("store").Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("storing %s: %w", req.Filename, err)
	}
	metrics.ChunksTotal.WithLabelValues(fileType).Add(float64(len(chunks)))

	tokens := 0
	for _, ch := range chunks {
		tokens += chunker.EstimateTokens(ch.SearchText)
	}

	res = &IngestResult{
		DocumentID: stored,
		Filename:   req.Filename,
		FileType:   fileType,
		Structure:  result.Kind.String(),
		Units:      result.Len(),
		Chunks:     len(chunks),
		Tokens:     tokens,
		Dimension:  int(c.dim.Load()),
	}
	if old := req.ReplaceDocumentID; old != "" && old != stored {
		ok, derr := c.DeleteDocument(ctx, old)
		if derr != nil {
			log.Warn("replacing previous document failed", zap.String("previous_id", old), zap.Error(derr))
		}
		res.Replaced = ok
	}
	res.Duration = time.Since(start)

	log.Info("document ingested",
		zap.String("document_id", stored),
		zap.Int("chunks", len(chunks)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// newDocument assigns a fresh id to chunks and numbers them in order.
func newDocument(filename, fileType string, uploaded time.Time, chunks []record.Chunk) record.Document {
	doc := record.Document{
		ID:         uuid.NewString(),
		Filename:   filename,
		FileType:   fileType,
		UploadedAt: uploaded,
		Chunks:     chunks,
	}
	for i := range doc.Chunks {
		doc.Chunks[i].DocumentID = doc.ID
		doc.Chunks[i].Index = i
	}
	return doc
}

func documentMeta(doc record.Document) vectorstore.DocumentMeta {
	return vectorstore.DocumentMeta{ID: doc.ID, Filename: doc.Filename, FileType: doc.FileType, UploadedAt: doc.UploadedAt}
}

func (c *Coordinator) extract(ctx context.Context, req IngestRequest, fileType string) (record.Result, error) {
	start := time.Now()
	defer func() {
		metrics.IngestDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	}()

	ex, err := parser.ForFile(req.Filename, c.opts.Parser)
	if err != nil {
		return record.Result{}, err
	}
	result, err := ex.Extract(ctx, req.Data, req.Filename)
	if err != nil {
		if ingesterr.IsExtraction(err) || ingesterr.IsValidation(err) {
			return record.Result{}, err
		}
		return record.Result{}, ingesterr.Extraction(fileType, err)
	}
	if result.Kind == record.KindEmpty {
		return record.Result{}, ingesterr.Extraction(fileType, errNoContent)
	}
	return result, nil
}

// render turns extracted content into chunks: one per table record, or the
// chunker's output for plain text.
func (c *Coordinator) render(result record.Result) ([]record.Chunk, error) {
	var chunks []record.Chunk
	switch result.Kind {
	case record.KindTable:
		chunks = make([]record.Chunk, 0, len(result.Records))
		for _, r := range result.Records {
			chunks = append(chunks, recordChunk(r))
		}
	case record.KindPlainText:
		for _, text := range c.chunker.Chunk(result.Text()) {
			chunks = append(chunks, textChunk(text))
		}
	}
	if len(chunks) == 0 {
		return nil, &ingesterr.ChunkingError{Reason: fmt.Sprintf("%d %s units produced no chunks", result.Len(), result.Kind)}
	}
	return chunks, nil
}

// embed fills in every chunk's vector. The embedded text is the preprocessed
// search text, or the search text itself when too little survives.
func (c *Coordinator) embed(ctx context.Context, log *zap.Logger, chunks []record.Chunk) error {
	start := time.Now()
	defer func() {
		metrics.IngestDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	}()

	inputs := make([]string, len(chunks))
	for i, ch := range chunks {
		inputs[i] = preprocess.OrRaw(c.opts.Preprocessor, ch.SearchText, c.opts.MinRunes)
	}

	vectors, err := submit(ctx, c.pools.embed, func(ctx context.Context) ([][]float32, error) {
		return withRetry(ctx, c.backoff, func(attempt int, err error) {
			log.Warn("retryable embedding error", zap.Int("attempt", attempt), zap.Error(err))
		}, func(ctx context.Context) ([][]float32, error) {
			return c.embedder.EmbedBatch(ctx, inputs)
		})
	})
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: got %d for %d chunks", ErrVectorCount, len(vectors), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	dim := c.embedder.Dimension()
	if dim == 0 {
		dim = len(vectors[0])
	}
	if dim > 0 && c.dim.Swap(int64(dim)) != int64(dim) {
		c.store.SetEmbeddingDimension(dim)
	}
	return nil
}

// outcome is the metrics label for a finished run.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case ingesterr.IsValidation(err):
		return "validation"
	case ingesterr.IsExtraction(err):
		return "extraction"
	case ingesterr.IsChunking(err):
		return "chunking"
	case ingesterr.IsTransient(err):
		return "transient"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
