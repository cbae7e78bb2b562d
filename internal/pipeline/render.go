package pipeline

import (
	"fmt"
	"strings"

	"github.com/dgallion1/docingest/internal/record"
)

// searchText is the compact rendering that gets embedded:
// "[lvl1 > lvl2 > lvl3] header: value".
func searchText(r record.StructuredRecord) string {
	text := r.Value
	if h := displayHeader(r.ColumnHeader); h != "" {
		text = h + ": " + r.Value
	}
	if b := r.Breadcrumb(); b != "" {
		text = "[" + b + "] " + text
	}
	return text
}

// contextText is the verbose rendering handed to readers of a search hit,
// one fact per line.
func contextText(r record.StructuredRecord) string {
	var lines []string
	if b := r.Breadcrumb(); b != "" {
		lines = append(lines, b)
	}
	if r.Lvl4 != "" && r.Lvl4 != r.Value {
		lines = append(lines, "detail: "+r.Lvl4)
	}

	cell := r.Value
	if h := displayHeader(r.ColumnHeader); h != "" {
		cell = h + ": " + r.Value
	}

	if r.Locator.Kind == record.KindSheet {
		line := fmt.Sprintf("[%s] %s", r.Locator, cell)
		if r.RowContext != "" {
			line += " (row: " + r.RowContext + ")"
		}
		return strings.Join(append(lines, line), "\n")
	}

	lines = append(lines, cell)
	if r.RowContext != "" {
		lines = append(lines, "row: "+r.RowContext)
	}
	if loc := r.Locator.String(); loc != "" {
		lines = append(lines, "source: "+loc)
	}
	return strings.Join(lines, "\n")
}

// displayHeader drops synthetic "Column N" headers, which carry no meaning
// for search.
func displayHeader(h string) string {
	h = strings.TrimSpace(h)
	if strings.HasPrefix(h, "Column ") {
		return ""
	}
	return h
}

func recordChunk(r record.StructuredRecord) record.Chunk {
	return record.Chunk{
		SearchText:  searchText(r),
		ContextText: contextText(r),
		Meta: record.ChunkMeta{
			Lvl1:         r.Lvl1,
			Lvl2:         r.Lvl2,
			Lvl3:         r.Lvl3,
			Lvl4:         r.Lvl4,
			Locator:      r.Locator.String(),
			Sheet:        r.Locator.Sheet,
			Page:         r.Locator.Page,
			IsNumeric:    r.IsNumeric,
			ColumnHeader: r.ColumnHeader,
		},
	}
}

func textChunk(text string) record.Chunk {
	return record.Chunk{SearchText: text, ContextText: text}
}
