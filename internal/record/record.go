package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LocatorKind identifies which address fields of a Locator are meaningful.
type LocatorKind string

const (
	KindSheet     LocatorKind = "sheet"
	KindPage      LocatorKind = "page"
	KindParagraph LocatorKind = "paragraph"
	KindLine      LocatorKind = "line"
)

// Locator is a format-specific address of an extracted unit.
// Row, Col, Table and Paragraph are 1-based; zero means not applicable.
type Locator struct {
	Kind      LocatorKind
	Sheet     string
	Page      int
	Table     int
	Row       int
	Col       int
	Paragraph int
	Cell      string // A1-style address for sheets
}

func (l Locator) String() string {
	switch l.Kind {
	case KindSheet:
		if l.Cell != "" {
			return l.Sheet + "!" + l.Cell
		}
		return fmt.Sprintf("%s!R%dC%d", l.Sheet, l.Row, l.Col)
	case KindPage:
		if l.Table > 0 {
			return fmt.Sprintf("p%d/t%d r%dc%d", l.Page, l.Table, l.Row, l.Col)
		}
		return fmt.Sprintf("p%d line %d", l.Page, l.Row)
	case KindParagraph:
		if l.Table > 0 {
			return fmt.Sprintf("t%d r%dc%d", l.Table, l.Row, l.Col)
		}
		return fmt.Sprintf("para %d", l.Paragraph)
	case KindLine:
		return fmt.Sprintf("line %d", l.Row)
	}
	return ""
}

// StructuredRecord is one semantic unit of extracted content.
type StructuredRecord struct {
	Locator      Locator
	Value        string
	RowContext   string
	ColumnHeader string
	IsNumeric    bool

	// Outline labels. Lvl1..Lvl3 are forward-filled by the tracker,
	// Lvl4 is specific to this record.
	Lvl1 string
	Lvl2 string
	Lvl3 string
	Lvl4 string
}

// Breadcrumb joins the non-empty lvl1..lvl3 labels.
func (r StructuredRecord) Breadcrumb() string {
	parts := make([]string, 0, 3)
	for _, l := range []string{r.Lvl1, r.Lvl2, r.Lvl3} {
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " > ")
}

// SyntheticHeader is the placeholder used for columns without a header label.
func SyntheticHeader(col int) string {
	return fmt.Sprintf("Column %d", col)
}

// IsNumeric reports whether s parses as a number, ignoring thousands separators.
func IsNumeric(s string) bool {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// ChunkMeta is the typed metadata carried by every stored chunk.
type ChunkMeta struct {
	Lvl1         string
	Lvl2         string
	Lvl3         string
	Lvl4         string
	Locator      string
	Sheet        string
	Page         int
	IsNumeric    bool
	ColumnHeader string
}

// Chunk is the unit sent to embedding and storage.
type Chunk struct {
	SearchText  string
	ContextText string
	DocumentID  string
	Index       int
	Embedding   []float32
	Meta        ChunkMeta
}

// Document owns the ordered chunks of one ingestion run.
type Document struct {
	ID         string
	Filename   string
	FileType   string
	UploadedAt time.Time
	Chunks     []Chunk
}
