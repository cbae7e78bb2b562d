package parser

import (
	"bytes"
	"context"
	"strings"

	"github.com/fumiama/go-docx"
	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/record"
	"github.com/dgallion1/docingest/internal/structure"
)

// DOCXExtractor handles .docx files. Paragraphs are classified by heading
// style and outline numbering; tables go through the same path as
// spreadsheet sheets.
type DOCXExtractor struct {
	opts Options
}

func (e *DOCXExtractor) Extract(ctx context.Context, data []byte, filename string) (record.Result, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return record.Empty(), ingesterr.Extraction("docx", err)
	}
	log := e.opts.Logger.With(zap.String("file", filename))

	var (
		paras  []docxPara
		tables []*docx.Table
	)
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			if text := docxParagraphText(it); text != "" {
				paras = append(paras, docxPara{text: text, heading: docxHeadingLevel(it)})
			}
		case *docx.Table:
			tables = append(tables, it)
		}
	}

	// Pass 1: paragraphs.
	tracker := structure.NewTracker(e.opts.Rules)
	var recs []record.StructuredRecord
	structured := false
	for i, p := range paras {
		if p.heading > 0 {
			tracker.Set(p.heading, p.text)
			structured = true
			continue
		}
		labels, ok := tracker.ObserveText(p.text)
		if ok {
			structured = true
			continue
		}
		recs = append(recs, labeled(record.StructuredRecord{
			Locator:   record.Locator{Kind: record.KindParagraph, Paragraph: i + 1},
			Value:     p.text,
			IsNumeric: record.IsNumeric(p.text),
		}, labels))
	}

	// Pass 2: tables.
	for ti, t := range tables {
		if err := ctx.Err(); err != nil {
			return record.Empty(), err
		}
		g, merges := docxTableGrid(t)
		g = structure.ResolveMerges(g, merges)
		if len(g) < 2 {
			continue
		}
		tableNo := ti + 1
		tr := newTableBuilder(e.opts, g[0]).build(g, func(r, c int) record.Locator {
			return record.Locator{Kind: record.KindParagraph, Table: tableNo, Row: r + 1, Col: c + 1}
		})
		if len(tr) > 0 {
			structured = true
		}
		log.Debug("docx table extracted", zap.Int("table", tableNo), zap.Int("records", len(tr)))
		recs = append(recs, tr...)
	}

	if structured {
		return record.Table(recs), nil
	}

	lines := make([]string, 0, len(paras))
	for _, p := range paras {
		lines = append(lines, p.text)
	}
	for _, t := range tables {
		g, _ := docxTableGrid(t)
		for _, row := range g {
			lines = append(lines, rowContext(row, -1))
		}
	}
	return record.PlainText(lines), nil
}

type docxPara struct {
	text    string
	heading int
}

// docxTableGrid lays a table out on its column grid. Horizontal spans and
// vertical merges are returned as merge ranges anchored at the cell holding
// the text; covered cells stay empty.
func docxTableGrid(t *docx.Table) (structure.Grid, []structure.MergeRange) {
	var (
		g      structure.Grid
		merges []structure.MergeRange
		// open vertical merge per starting column, as an index into merges
		open = map[int]int{}
	)
	for r, row := range t.TableRows {
		var line []string
		col := 0
		for _, c := range row.TableCells {
			span := 1
			var vm *docx.WvMerge
			if p := c.TableCellProperties; p != nil {
				if p.GridSpan != nil && p.GridSpan.Val > 1 {
					span = p.GridSpan.Val
				}
				vm = p.VMerge
			}
			for len(line) < col+span {
				line = append(line, "")
			}

			switch {
			case vm != nil && vm.Val != "restart":
				if i, ok := open[col]; ok {
					merges[i].RowEnd = r
				}
			case vm != nil:
				merges = append(merges, structure.MergeRange{RowStart: r, RowEnd: r, ColStart: col, ColEnd: col + span - 1})
				open[col] = len(merges) - 1
				line[col] = docxCellText(c)
			default:
				delete(open, col)
				line[col] = docxCellText(c)
				if span > 1 {
					merges = append(merges, structure.MergeRange{RowStart: r, RowEnd: r, ColStart: col, ColEnd: col + span - 1})
				}
			}
			col += span
		}
		g = append(g, line)
	}
	return g, merges
}

func docxCellText(c *docx.WTableCell) string {
	parts := make([]string, 0, len(c.Paragraphs))
	for _, p := range c.Paragraphs {
		if t := docxParagraphText(p); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// docxHeadingLevel maps Heading1..Heading3 styles to outline levels.
func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	switch style {
	case "heading1", "title":
		return 1
	case "heading2":
		return 2
	case "heading3":
		return 3
	}
	return 0
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
