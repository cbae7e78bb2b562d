// Package vectorstore persists embedded chunks and answers similarity and
// outline queries over them.
package vectorstore

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dgallion1/docingest/internal/record"
)

var (
	ErrInvalidConfig     = errors.New("invalid vector store configuration")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrEmptyInsert       = errors.New("no chunks to insert")
)

// Store is the persistence boundary of the ingestion pipeline.
type Store interface {
	// SetEmbeddingDimension fixes the vector size used for new collections
	// and for insert validation.
	SetEmbeddingDimension(n int)
	// Insert stores every chunk of one document and returns the document id.
	Insert(ctx context.Context, chunks []record.Chunk, meta DocumentMeta) (string, error)
	// Search returns up to limit hits scoring at least scoreThreshold.
	Search(ctx context.Context, query []float32, limit int, scoreThreshold float32) ([]SearchResult, error)
	// DeleteDocument removes all chunks of a document. It reports false when
	// nothing matched.
	DeleteDocument(ctx context.Context, documentID string) (bool, error)
	ListDocuments(ctx context.Context) ([]DocumentInfo, error)
	Stats(ctx context.Context) (Stats, error)
	// Outline lists distinct labels one level below the query's parent.
	Outline(ctx context.Context, q OutlineQuery) ([]string, error)
	Health(ctx context.Context) error
	Close() error
}

// DocumentMeta describes the source file of an insert.
type DocumentMeta struct {
	ID         string
	Filename   string
	FileType   string
	UploadedAt time.Time
}

// SearchResult is one scored chunk.
type SearchResult struct {
	ID          string
	Score       float32
	DocumentID  string
	ChunkIndex  int
	SearchText  string
	ContextText string
	Filename    string
	FileType    string
	UploadedAt  time.Time
	Meta        record.ChunkMeta
}

// DocumentInfo summarises one stored document.
type DocumentInfo struct {
	ID         string    `json:"document_id"`
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	UploadedAt time.Time `json:"uploaded_at"`
	Chunks     int       `json:"chunk_count"`
}

type Stats struct {
	Backend    string `json:"backend"`
	Collection string `json:"collection"`
	Points     int    `json:"points"`
	Documents  int    `json:"documents"`
	Dimension  int    `json:"dimension"`
	Status     string `json:"status"`
}

// OutlineLevel selects which label an outline query returns.
type OutlineLevel int

const (
	OutlineLvl1 OutlineLevel = iota + 1
	OutlineLvl2
	OutlineLvl3
	OutlineDetail
)

// OutlineQuery asks for the distinct labels at Level whose parent label
// equals Parent. An empty Parent matches every parent.
type OutlineQuery struct {
	Level  OutlineLevel
	Parent string
}

// field is the payload key holding labels of this level.
func (l OutlineLevel) field() string {
	switch l {
	case OutlineLvl1:
		return fieldLvl1
	case OutlineLvl2:
		return fieldLvl2
	case OutlineLvl3:
		return fieldLvl3
	case OutlineDetail:
		return fieldLvl4
	}
	return ""
}

// parentField is the payload key the parent label is matched against.
func (l OutlineLevel) parentField() string {
	switch l {
	case OutlineLvl2:
		return fieldLvl1
	case OutlineLvl3:
		return fieldLvl2
	case OutlineDetail:
		return fieldLvl3
	}
	return ""
}

// distinct returns the sorted set of non-empty labels.
func distinct(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}
