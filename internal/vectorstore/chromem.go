package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/record"
)

const catalogDimensionKey = "dimension"

// ChromemConfig configures the embedded store. An empty Path keeps
// everything in memory.
type ChromemConfig struct {
	Path           string
	Compress       bool
	CollectionName string
}

func (c *ChromemConfig) ApplyDefaults() {
	if c.CollectionName == "" {
		c.CollectionName = DefaultCollectionName
	}
}

// ChromemStore implements Store on chromem-go. Chunks live in one collection;
// a second collection holds one entry per document so listing and deletes
// don't need to walk every chunk.
type ChromemStore struct {
	db      *chromem.DB
	chunks  *chromem.Collection
	catalog *chromem.Collection
	config  ChromemConfig
	log     *zap.Logger

	dim atomic.Int64
}

// NewChromemStore opens (or creates) the embedded database.
func NewChromemStore(config ChromemConfig, log *zap.Logger) (*ChromemStore, error) {
	config.ApplyDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db: %w", err)
		}
		config.Path = path
	}

	chunks, err := db.GetOrCreateCollection(config.CollectionName, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", config.CollectionName, err)
	}
	catalog, err := db.GetOrCreateCollection(config.CollectionName+"_documents", nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening document catalog: %w", err)
	}

	s := &ChromemStore{
		db:      db,
		chunks:  chunks,
		catalog: catalog,
		config:  config,
		log:     log.With(zap.String("backend", "chromem")),
	}
	if dim := s.storedDimension(context.Background()); dim > 0 {
		s.dim.Store(int64(dim))
	}

	s.log.Info("chromem store ready",
		zap.String("path", config.Path),
		zap.String("collection", config.CollectionName),
		zap.Int("points", chunks.Count()),
		zap.Int("dimension", int(s.dim.Load())))
	return s, nil
}

// noEmbedding refuses to embed: vectors always come from the pipeline.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store expects precomputed embeddings")
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(path)
}

func (s *ChromemStore) SetEmbeddingDimension(n int) {
	s.dim.Store(int64(n))
	s.log.Info("embedding dimension set", zap.Int("dimension", n))
}

// storedDimension reads the vector size recorded with any catalog entry.
func (s *ChromemStore) storedDimension(ctx context.Context) int {
	entries, err := s.allCatalog(ctx)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		if n, err := strconv.Atoi(e.Metadata[catalogDimensionKey]); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func (s *ChromemStore) retry(ctx context.Context, name string, op func(context.Context) error) error {
	return retryOperation(ctx, RetryPolicy{MaxAttempts: 1}, "chromem", name, s.log, op)
}

func (s *ChromemStore) Insert(ctx context.Context, chunks []record.Chunk, meta DocumentMeta) (string, error) {
	if len(chunks) == 0 {
		return "", ErrEmptyInsert
	}
	dim := int(s.dim.Load())
	if err := checkDimensions(chunks, dim); err != nil {
		return "", err
	}
	if dim == 0 {
		dim = len(chunks[0].Embedding)
		if err := checkDimensions(chunks, dim); err != nil {
			return "", err
		}
		s.dim.CompareAndSwap(0, int64(dim))
	}
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.UploadedAt.IsZero() {
		meta.UploadedAt = time.Now()
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        uuid.NewString(),
			Metadata:  stringPayload(chunkPayload(c, meta)),
			Embedding: c.Embedding,
			Content:   c.SearchText,
		}
	}

	err := s.retry(ctx, "upsert", func(ctx context.Context) error {
		return s.chunks.AddDocuments(ctx, docs, runtime.NumCPU())
	})
	if err != nil {
		return "", err
	}

	entry := chromem.Document{
		ID: meta.ID,
		Metadata: map[string]string{
			fieldFilename:       meta.Filename,
			fieldFileType:       meta.FileType,
			fieldUploadedAt:     meta.UploadedAt.UTC().Format(time.RFC3339),
			"chunk_count":       strconv.Itoa(len(chunks)),
			catalogDimensionKey: strconv.Itoa(dim),
		},
		Embedding: []float32{1},
		Content:   meta.Filename,
	}
	if err := s.catalog.AddDocument(ctx, entry); err != nil {
		return "", fmt.Errorf("recording document %s: %w", meta.ID, err)
	}

	s.log.Info("document stored",
		zap.String("document_id", meta.ID),
		zap.String("filename", meta.Filename),
		zap.Int("chunks", len(docs)))
	return meta.ID, nil
}

func (s *ChromemStore) Search(ctx context.Context, query []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, ingesterr.Validationf("limit must be positive, got %d", limit)
	}
	if dim := int(s.dim.Load()); dim > 0 && len(query) != dim {
		return nil, fmt.Errorf("%w: %w", ErrDimensionMismatch,
			ingesterr.Validationf("query has %d dimensions, store expects %d", len(query), dim))
	}
	total := s.chunks.Count()
	if total == 0 {
		return nil, nil
	}

	var hits []chromem.Result
	err := s.retry(ctx, "search", func(ctx context.Context) error {
		var err error
		hits, err = s.chunks.QueryEmbedding(ctx, query, min(limit, total), nil, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		// Zero vectors normalise to NaN and never pass the threshold.
		if !(h.Similarity >= scoreThreshold) {
			continue
		}
		out = append(out, resultFromFields(h.ID, h.Similarity, stringFields(h.Metadata)))
	}
	return out, nil
}

func (s *ChromemStore) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	if documentID == "" {
		return false, nil
	}
	if _, err := s.catalog.GetByID(ctx, documentID); err != nil {
		return false, nil
	}
	err := s.retry(ctx, "delete", func(ctx context.Context) error {
		return s.chunks.Delete(ctx, map[string]string{fieldDocumentID: documentID}, nil)
	})
	if err != nil {
		return false, err
	}
	if err := s.catalog.Delete(ctx, nil, nil, documentID); err != nil {
		return false, fmt.Errorf("removing catalog entry %s: %w", documentID, err)
	}
	s.log.Info("document deleted", zap.String("document_id", documentID))
	return true, nil
}

// allCatalog returns every catalog entry. chromem only exposes similarity
// queries, so this asks for as many neighbours as there are entries.
func (s *ChromemStore) allCatalog(ctx context.Context) ([]chromem.Result, error) {
	n := s.catalog.Count()
	if n == 0 {
		return nil, nil
	}
	return s.catalog.QueryEmbedding(ctx, []float32{1}, n, nil, nil)
}

func (s *ChromemStore) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	entries, err := s.allCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	out := make([]DocumentInfo, 0, len(entries))
	for _, e := range entries {
		uploaded, _ := time.Parse(time.RFC3339, e.Metadata[fieldUploadedAt])
		chunks, _ := strconv.Atoi(e.Metadata["chunk_count"])
		out = append(out, DocumentInfo{
			ID:         e.ID,
			Filename:   e.Metadata[fieldFilename],
			FileType:   e.Metadata[fieldFileType],
			UploadedAt: uploaded,
			Chunks:     chunks,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.Before(out[j].UploadedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *ChromemStore) Outline(ctx context.Context, q OutlineQuery) ([]string, error) {
	field := q.Level.field()
	if field == "" {
		return nil, ingesterr.Validationf("unknown outline level %d", q.Level)
	}
	total := s.chunks.Count()
	dim := int(s.dim.Load())
	if total == 0 || dim == 0 {
		return []string{}, nil
	}

	var where map[string]string
	if parent := q.Level.parentField(); parent != "" && q.Parent != "" {
		where = map[string]string{parent: q.Parent}
	}
	probe := make([]float32, dim)
	for i := range probe {
		probe[i] = 1
	}
	hits, err := s.chunks.QueryEmbedding(ctx, probe, total, where, nil)
	if err != nil {
		return nil, fmt.Errorf("outline query: %w", err)
	}
	labels := make([]string, 0, len(hits))
	for _, h := range hits {
		labels = append(labels, h.Metadata[field])
	}
	return distinct(labels), nil
}

func (s *ChromemStore) Stats(ctx context.Context) (Stats, error) {
	return Stats{
		Backend:    "chromem",
		Collection: s.config.CollectionName,
		Points:     s.chunks.Count(),
		Documents:  s.catalog.Count(),
		Dimension:  int(s.dim.Load()),
		Status:     "green",
	}, nil
}

func (s *ChromemStore) Health(ctx context.Context) error {
	if s.db == nil {
		return ingesterr.Transient("chromem health", errors.New("database not open"))
	}
	return ctx.Err()
}

// Close is a no-op: persistent collections are written on every change.
func (s *ChromemStore) Close() error { return nil }

var _ Store = (*ChromemStore)(nil)
