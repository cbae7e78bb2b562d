package parser

import (
	"context"
	"testing"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/structure"
)

func line(spans ...pdfSpan) pdfLine { return pdfLine{spans: spans} }

func span(x float64, text string) pdfSpan {
	return pdfSpan{X: x, End: x + estimateWidth(text), Text: text}
}

func TestMergeSpans(t *testing.T) {
	got := mergeSpans([]pdflib.Text{
		{X: 200, S: "42"},
		{X: 50, S: "Hello"},
		{X: 80, S: "World"},
		{X: 120, S: "  "},
	}, DefaultColumnGap)

	require.Len(t, got, 2)
	assert.Equal(t, "Hello World", got[0].Text)
	assert.Equal(t, 50.0, got[0].X)
	assert.Equal(t, "42", got[1].Text)
}

func TestDetectTables(t *testing.T) {
	lines := []pdfLine{
		line(span(50, "Intro paragraph")),
		line(span(50, "Name"), span(200, "Days"), span(350, "Note")),
		line(span(52, "Annual"), span(201, "15"), span(349, "paid")),
		line(span(50, "Sick"), span(199, "60")),
		line(span(50, "Closing remark")),
		line(span(50, "lonely"), span(300, "row")),
	}
	blocks := detectTables(lines, DefaultColumnGap)
	assert.Equal(t, []pdfBlock{
		{start: 0, end: 1},
		{start: 1, end: 4, table: true},
		{start: 4, end: 6},
	}, blocks)
}

func TestDetectTables_MisalignedRowsAreProse(t *testing.T) {
	lines := []pdfLine{
		line(span(50, "a"), span(200, "b")),
		line(span(120, "c"), span(400, "d")),
	}
	assert.Equal(t, []pdfBlock{{start: 0, end: 2}}, detectTables(lines, DefaultColumnGap))
}

func TestPDFGrid(t *testing.T) {
	g := pdfGrid([]pdfLine{
		line(span(50, "Name"), span(200, "Days"), span(350, "Note")),
		line(span(52, "Annual"), span(351, "paid")),
	}, DefaultColumnGap)
	assert.Equal(t, structure.Grid{
		{"Name", "Days", "Note"},
		{"Annual", "", "paid"},
	}, g)
}

func TestPDFPage_TableAndHeadings(t *testing.T) {
	opts := testOptions()
	opts.Layout = Layout{Lvl1: 0, Lvl2: -1, Lvl3: -1, Detail: 2, Remarks: -1}
	e := &PDFExtractor{opts: opts}

	lines := []pdfLine{
		line(span(50, "제1조(휴가)")),
		line(span(50, "구분"), span(150, "일수"), span(250, "비고")),
		line(span(50, "연차"), span(150, "15"), span(250, "유급")),
		line(span(150, "16"), span(250, "유급")),
		line(span(50, "끝")),
	}

	recs, structured := e.page(1, lines, structure.NewTracker(opts.Rules))
	assert.True(t, structured)
	require.Len(t, recs, 5)

	assert.Equal(t, "15", recs[0].Value)
	assert.Equal(t, "p1/t1 r2c2", recs[0].Locator.String())
	assert.Equal(t, "일수", recs[0].ColumnHeader)
	assert.Equal(t, "연차", recs[0].Lvl1)
	assert.Equal(t, "유급", recs[0].Lvl4)

	assert.Equal(t, "16", recs[2].Value)
	assert.Equal(t, "연차", recs[2].Lvl1, "label column forward-filled")

	assert.Equal(t, "끝", recs[4].Value)
	assert.Equal(t, "p1 line 5", recs[4].Locator.String())
}

func TestPDF_Corrupt(t *testing.T) {
	_, err := (&PDFExtractor{opts: testOptions()}).Extract(context.Background(), []byte("%PDF-garbage"), "x.pdf")
	require.Error(t, err)
	assert.True(t, ingesterr.IsExtraction(err))
}
