package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/record"
)

func buildXLSX(t *testing.T, fill func(f *excelize.File)) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	fill(f)
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func setRows(t *testing.T, f *excelize.File, sheet string, start int, rows [][]any) {
	t.Helper()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, start+i)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
}

func TestXLSX_MergedLabelsForwardFill(t *testing.T) {
	data := buildXLSX(t, func(f *excelize.File) {
		setRows(t, f, "Sheet1", 1, [][]any{
			{"구분", "항목", "세부", "내용", "비고"},
			{"휴가", "연차", "1년차", "15일", "유급"},
			{nil, nil, "2년차", "16일"},
			{nil, "병가", "진단서", "60일"},
		})
		require.NoError(t, f.MergeCell("Sheet1", "A2", "A4"))
		require.NoError(t, f.MergeCell("Sheet1", "B2", "B3"))
	})

	ex, err := ForFile("leave.xlsx", testOptions())
	require.NoError(t, err)
	res, err := ex.Extract(context.Background(), data, "leave.xlsx")
	require.NoError(t, err)
	require.Equal(t, record.KindTable, res.Kind)
	require.Len(t, res.Records, 4)

	first := res.Records[0]
	assert.Equal(t, "15일", first.Value)
	assert.Equal(t, "Sheet1!D2", first.Locator.String())
	assert.Equal(t, "내용", first.ColumnHeader)
	assert.Equal(t, "휴가 | 연차 | 1년차 | 유급", first.RowContext)
	assert.Equal(t, "15일 / 유급", first.Lvl4)

	assert.Equal(t, "Sheet1!E2", res.Records[1].Locator.String())
	assert.Equal(t, "비고", res.Records[1].ColumnHeader)

	third := res.Records[2]
	assert.Equal(t, "16일", third.Value)
	assert.Equal(t, []string{"휴가", "연차", "2년차"}, []string{third.Lvl1, third.Lvl2, third.Lvl3})
	assert.Equal(t, "16일", third.Lvl4)

	fourth := res.Records[3]
	assert.Equal(t, "Sheet1!D4", fourth.Locator.String())
	assert.Equal(t, []string{"휴가", "병가", "진단서"}, []string{fourth.Lvl1, fourth.Lvl2, fourth.Lvl3})
}

func TestXLSX_BorderedBlockIsTheTable(t *testing.T) {
	data := buildXLSX(t, func(f *excelize.File) {
		setRows(t, f, "Sheet1", 1, [][]any{{"휴가 규정 요약"}})
		setRows(t, f, "Sheet1", 3, [][]any{
			{"구분", "항목", "세부", "일수"},
			{"휴가", "경조", "결혼", 5},
			{"휴가", "경조", "사망", 3},
		})
		setRows(t, f, "Sheet1", 7, [][]any{{"주석", "", "", "참고용"}})

		border := []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		}
		style, err := f.NewStyle(&excelize.Style{Border: border})
		require.NoError(t, err)
		require.NoError(t, f.SetCellStyle("Sheet1", "A3", "D5", style))
	})

	res, err := (&XLSXExtractor{opts: testOptions()}).Extract(context.Background(), data, "b.xlsx")
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	assert.Equal(t, "5", res.Records[0].Value)
	assert.Equal(t, "Sheet1!D4", res.Records[0].Locator.String())
	assert.Equal(t, "일수", res.Records[0].ColumnHeader)
	assert.True(t, res.Records[0].IsNumeric)
	assert.Equal(t, "사망", res.Records[1].Lvl3)
	assert.Equal(t, "Sheet1!D5", res.Records[1].Locator.String())
}

func TestXLSX_EmptySheetContributesNothing(t *testing.T) {
	data := buildXLSX(t, func(f *excelize.File) {
		_, err := f.NewSheet("Blank")
		require.NoError(t, err)
		setRows(t, f, "Sheet1", 1, [][]any{
			{"a", "b", "c", "header"},
			{"x", "y", "z", "value"},
		})
	})

	res, err := (&XLSXExtractor{opts: testOptions()}).Extract(context.Background(), data, "c.xlsx")
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Sheet1", res.Records[0].Locator.Sheet)
}

func TestXLSX_NoRecordsIsEmpty(t *testing.T) {
	data := buildXLSX(t, func(f *excelize.File) {})

	res, err := (&XLSXExtractor{opts: testOptions()}).Extract(context.Background(), data, "d.xlsx")
	require.NoError(t, err)
	assert.Equal(t, record.KindEmpty, res.Kind)
}

func TestXLSX_CorruptFile(t *testing.T) {
	_, err := (&XLSXExtractor{opts: testOptions()}).Extract(context.Background(), []byte("not a zip"), "e.xlsx")
	require.Error(t, err)
	assert.True(t, ingesterr.IsExtraction(err))
}

func TestMergeRanges(t *testing.T) {
	got := mergeRanges([]excelize.MergeCell{{"B2:C4", "v"}, {"bad:C4", ""}})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].RowStart)
	assert.Equal(t, 3, got[0].RowEnd)
	assert.Equal(t, 1, got[0].ColStart)
	assert.Equal(t, 2, got[0].ColEnd)
}
