package parser

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	pdflib "github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/record"
	"github.com/dgallion1/docingest/internal/structure"
)

// PDFExtractor handles PDF files. Borderless tables are recovered from the
// horizontal layout of text runs; everything else is read as prose lines.
type PDFExtractor struct {
	opts Options
}

// pdfSpan is a run of text with no column gap inside it.
type pdfSpan struct {
	X, End float64
	Text   string
}

type pdfLine struct {
	spans []pdfSpan
}

func (l pdfLine) text() string {
	parts := make([]string, 0, len(l.spans))
	for _, s := range l.spans {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

func (e *PDFExtractor) Extract(ctx context.Context, data []byte, filename string) (record.Result, error) {
	r, err := openPDF(data)
	if err != nil {
		return record.Empty(), ingesterr.Extraction("pdf", err)
	}
	log := e.opts.Logger.With(zap.String("file", filename))

	tracker := structure.NewTracker(e.opts.Rules)
	var (
		recs       []record.StructuredRecord
		plain      []string
		structured bool
	)
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return record.Empty(), err
		}
		lines, err := readPageLines(r, i, e.opts.ColumnGap)
		if err != nil {
			log.Warn("skipping page", zap.Int("page", i), zap.Error(err))
			continue
		}
		for _, l := range lines {
			plain = append(plain, l.text())
		}
		pr, ok := e.page(i, lines, tracker)
		structured = structured || ok
		recs = append(recs, pr...)
	}

	if !structured {
		return record.PlainText(plain), nil
	}
	return record.Table(recs), nil
}

// page turns one page into records. The bool reports whether a table or an
// outline heading was found.
func (e *PDFExtractor) page(page int, lines []pdfLine, tracker *structure.Tracker) ([]record.StructuredRecord, bool) {
	var recs []record.StructuredRecord
	structured := false
	tableNo := 0
	for _, blk := range detectTables(lines, e.opts.ColumnGap) {
		if blk.table {
			tableNo++
			structured = true
			recs = append(recs, e.table(page, tableNo, lines[blk.start:blk.end], tracker)...)
			continue
		}
		for i := blk.start; i < blk.end; i++ {
			text := strings.TrimSpace(lines[i].text())
			if text == "" {
				continue
			}
			labels, ok := tracker.ObserveText(text)
			if ok {
				structured = true
				continue
			}
			recs = append(recs, labeled(record.StructuredRecord{
				Locator:   record.Locator{Kind: record.KindPage, Page: page, Row: i + 1},
				Value:     text,
				IsNumeric: record.IsNumeric(text),
			}, labels))
		}
	}
	return recs, structured
}

func (e *PDFExtractor) table(page, tableNo int, lines []pdfLine, tracker *structure.Tracker) []record.StructuredRecord {
	g := pdfGrid(lines, e.opts.ColumnGap)
	b := newTableBuilder(e.opts, g[0])
	b.tracker = tracker
	b.detectOutline = true

	// Label columns only; the header row must not leak into data rows.
	body := structure.ForwardFillColumns(g[1:], b.layout.labelCols())
	g = append(structure.Grid{g[0]}, body...)

	return b.build(g, func(r, c int) record.Locator {
		return record.Locator{Kind: record.KindPage, Page: page, Table: tableNo, Row: r + 1, Col: c + 1}
	})
}

func openPDF(data []byte) (r *pdflib.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r, err = nil, fmt.Errorf("open pdf: %v", rec)
		}
	}()
	return pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
}

// readPageLines reads the text rows of one page top to bottom. A broken page
// is reported as an error instead of failing the whole document.
func readPageLines(r *pdflib.Reader, num int, gap float64) (lines []pdfLine, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			lines, err = nil, fmt.Errorf("page %d: %v", num, rec)
		}
	}()

	p := r.Page(num)
	if p.V.IsNull() {
		return nil, nil
	}
	rows, err := p.GetTextByRow()
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if spans := mergeSpans(row.Content, gap); len(spans) > 0 {
			lines = append(lines, pdfLine{spans: spans})
		}
	}
	if len(lines) > 0 {
		return lines, nil
	}

	text, err := p.GetPlainText(nil)
	if err != nil {
		return nil, err
	}
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, pdfLine{spans: []pdfSpan{{Text: l, End: estimateWidth(l)}}})
		}
	}
	return lines, nil
}

// mergeSpans joins text runs of one row into spans, starting a new span
// wherever the horizontal gap reaches the column gap. Run widths are not
// reported by the reader, so they are estimated from a 10pt font.
func mergeSpans(texts []pdflib.Text, gap float64) []pdfSpan {
	sorted := make([]pdflib.Text, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t.S) != "" {
			sorted = append(sorted, t)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var spans []pdfSpan
	for _, t := range sorted {
		w := t.W
		if w <= 0 {
			w = estimateWidth(t.S)
		}
		if n := len(spans); n > 0 && t.X-spans[n-1].End < gap {
			if t.X-spans[n-1].End > 2 {
				spans[n-1].Text += " "
			}
			spans[n-1].Text += t.S
			spans[n-1].End = max(spans[n-1].End, t.X+w)
			continue
		}
		spans = append(spans, pdfSpan{X: t.X, End: t.X + w, Text: t.S})
	}

	out := spans[:0]
	for _, s := range spans {
		s.Text = strings.Join(strings.Fields(s.Text), " ")
		if s.Text != "" {
			out = append(out, s)
		}
	}
	return out
}

func estimateWidth(s string) float64 {
	w := 0.0
	for _, r := range s {
		if unicode.Is(unicode.Hangul, r) || unicode.Is(unicode.Han, r) {
			w += 10
		} else {
			w += 5
		}
	}
	return w
}

type pdfBlock struct {
	start, end int
	table      bool
}

// detectTables splits lines into alternating prose and table blocks. A table
// is at least two consecutive lines, each with two or more spans, whose span
// starts line up with the line before.
func detectTables(lines []pdfLine, gap float64) []pdfBlock {
	var blocks []pdfBlock
	prose := 0
	i := 0
	for i < len(lines) {
		j := i
		if len(lines[i].spans) >= 2 {
			j = i + 1
			for j < len(lines) && len(lines[j].spans) >= 2 && sharedAnchors(lines[j-1], lines[j], gap) >= 2 {
				j++
			}
		}
		if j-i < 2 {
			i++
			continue
		}
		if prose < i {
			blocks = append(blocks, pdfBlock{start: prose, end: i})
		}
		blocks = append(blocks, pdfBlock{start: i, end: j, table: true})
		prose, i = j, j
	}
	if prose < len(lines) {
		blocks = append(blocks, pdfBlock{start: prose, end: len(lines)})
	}
	return blocks
}

func sharedAnchors(a, b pdfLine, tol float64) int {
	n := 0
	for _, sb := range b.spans {
		for _, sa := range a.spans {
			if math.Abs(sa.X-sb.X) <= tol {
				n++
				break
			}
		}
	}
	return n
}

// pdfGrid assigns the spans of a table block to columns clustered by their
// start position.
func pdfGrid(lines []pdfLine, tol float64) structure.Grid {
	var xs []float64
	for _, l := range lines {
		for _, s := range l.spans {
			xs = append(xs, s.X)
		}
	}
	sort.Float64s(xs)
	var anchors []float64
	for _, x := range xs {
		if len(anchors) == 0 || x-anchors[len(anchors)-1] > tol {
			anchors = append(anchors, x)
		}
	}

	g := make(structure.Grid, len(lines))
	for r, l := range lines {
		row := make([]string, len(anchors))
		for _, s := range l.spans {
			c := 0
			for k, a := range anchors {
				if a <= s.X {
					c = k
				}
			}
			if row[c] != "" {
				row[c] += " " + s.Text
			} else {
				row[c] = s.Text
			}
		}
		g[r] = row
	}
	return g
}
