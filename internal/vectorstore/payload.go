package vectorstore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/record"
)

// Payload keys stored with every point.
const (
	fieldDocumentID   = "document_id"
	fieldChunkIndex   = "chunk_index"
	fieldSearchText   = "search_text"
	fieldContextText  = "context_text"
	fieldLvl1         = "lvl1"
	fieldLvl2         = "lvl2"
	fieldLvl3         = "lvl3"
	fieldLvl4         = "lvl4"
	fieldLocator      = "locator"
	fieldSheet        = "sheet"
	fieldPage         = "page"
	fieldIsNumeric    = "is_numeric"
	fieldColumnHeader = "column_header"
	fieldFilename     = "filename"
	fieldFileType     = "file_type"
	fieldUploadedAt   = "uploaded_at"
)

// keywordFields get a keyword payload index so filters stay cheap.
var keywordFields = []string{fieldDocumentID, fieldLvl1, fieldLvl2, fieldLvl3}

// chunkPayload flattens a chunk and its document into typed payload values.
func chunkPayload(c record.Chunk, meta DocumentMeta) map[string]any {
	return map[string]any{
		fieldDocumentID:   meta.ID,
		fieldChunkIndex:   int64(c.Index),
		fieldSearchText:   c.SearchText,
		fieldContextText:  c.ContextText,
		fieldLvl1:         c.Meta.Lvl1,
		fieldLvl2:         c.Meta.Lvl2,
		fieldLvl3:         c.Meta.Lvl3,
		fieldLvl4:         c.Meta.Lvl4,
		fieldLocator:      c.Meta.Locator,
		fieldSheet:        c.Meta.Sheet,
		fieldPage:         int64(c.Meta.Page),
		fieldIsNumeric:    c.Meta.IsNumeric,
		fieldColumnHeader: c.Meta.ColumnHeader,
		fieldFilename:     meta.Filename,
		fieldFileType:     meta.FileType,
		fieldUploadedAt:   meta.UploadedAt.UTC().Format(time.RFC3339),
	}
}

// stringPayload renders a typed payload for stores that only keep strings.
func stringPayload(p map[string]any) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// fields reads payload values back regardless of how the backend typed them.
type fields interface {
	str(key string) string
	num(key string) int
	flag(key string) bool
}

type stringFields map[string]string

func (f stringFields) str(key string) string { return f[key] }

func (f stringFields) num(key string) int {
	n, _ := strconv.Atoi(f[key])
	return n
}

func (f stringFields) flag(key string) bool {
	b, _ := strconv.ParseBool(f[key])
	return b
}

func resultFromFields(id string, score float32, f fields) SearchResult {
	uploaded, _ := time.Parse(time.RFC3339, f.str(fieldUploadedAt))
	return SearchResult{
		ID:          id,
		Score:       score,
		DocumentID:  f.str(fieldDocumentID),
		ChunkIndex:  f.num(fieldChunkIndex),
		SearchText:  f.str(fieldSearchText),
		ContextText: f.str(fieldContextText),
		Filename:    f.str(fieldFilename),
		FileType:    f.str(fieldFileType),
		UploadedAt:  uploaded,
		Meta: record.ChunkMeta{
			Lvl1:         f.str(fieldLvl1),
			Lvl2:         f.str(fieldLvl2),
			Lvl3:         f.str(fieldLvl3),
			Lvl4:         f.str(fieldLvl4),
			Locator:      f.str(fieldLocator),
			Sheet:        f.str(fieldSheet),
			Page:         f.num(fieldPage),
			IsNumeric:    f.flag(fieldIsNumeric),
			ColumnHeader: f.str(fieldColumnHeader),
		},
	}
}

// documentCatalog groups chunk payloads by document id, preserving first-seen
// order.
type documentCatalog struct {
	order []string
	docs  map[string]*DocumentInfo
}

func newDocumentCatalog() *documentCatalog {
	return &documentCatalog{docs: make(map[string]*DocumentInfo)}
}

func (c *documentCatalog) add(f fields) {
	id := f.str(fieldDocumentID)
	if id == "" {
		return
	}
	info, ok := c.docs[id]
	if !ok {
		uploaded, _ := time.Parse(time.RFC3339, f.str(fieldUploadedAt))
		info = &DocumentInfo{
			ID:         id,
			Filename:   f.str(fieldFilename),
			FileType:   f.str(fieldFileType),
			UploadedAt: uploaded,
		}
		c.docs[id] = info
		c.order = append(c.order, id)
	}
	info.Chunks++
}

func (c *documentCatalog) list() []DocumentInfo {
	out := make([]DocumentInfo, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.docs[id])
	}
	return out
}

// checkDimensions rejects vectors whose size differs from dim. A zero dim
// skips the check.
func checkDimensions(chunks []record.Chunk, dim int) error {
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: %w", ErrDimensionMismatch,
				ingesterr.Validationf("chunk %d has no embedding", i))
		}
		if dim > 0 && len(c.Embedding) != dim {
			return fmt.Errorf("%w: %w", ErrDimensionMismatch,
				ingesterr.Validationf("chunk %d has %d dimensions, store expects %d", i, len(c.Embedding), dim))
		}
	}
	return nil
}
