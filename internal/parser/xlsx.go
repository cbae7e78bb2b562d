package parser

import (
	"bytes"
	"context"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/record"
	"github.com/dgallion1/docingest/internal/structure"
)

// XLSXExtractor handles .xlsx workbooks. Each sheet is scanned on its own;
// bordered rows form the table, the first of them being the header.
type XLSXExtractor struct {
	opts Options
}

func (e *XLSXExtractor) Extract(ctx context.Context, data []byte, filename string) (record.Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return record.Empty(), ingesterr.Extraction("xlsx", err)
	}
	defer f.Close()

	log := e.opts.Logger.With(zap.String("file", filename))
	var recs []record.StructuredRecord
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return record.Empty(), err
		}
		sr, err := e.sheet(f, sheet)
		if err != nil {
			log.Warn("skipping sheet", zap.String("sheet", sheet), zap.Error(err))
			continue
		}
		log.Debug("sheet extracted", zap.String("sheet", sheet), zap.Int("records", len(sr)))
		recs = append(recs, sr...)
	}
	return record.Table(recs), nil
}

func (e *XLSXExtractor) sheet(f *excelize.File, sheet string) ([]record.StructuredRecord, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	merges, err := f.GetMergeCells(sheet)
	if err != nil {
		return nil, err
	}
	grid := structure.ResolveMerges(structure.Grid(rows), mergeRanges(merges))

	rowIdx := borderedRows(f, sheet, grid)
	if len(rowIdx) == 0 {
		rowIdx = nonEmptyRows(grid)
	}
	if len(rowIdx) < 2 {
		return nil, nil
	}

	table := make(structure.Grid, len(rowIdx))
	for i, r := range rowIdx {
		table[i] = grid[r]
	}
	b := newTableBuilder(e.opts, table[0])
	return b.build(table, func(r, c int) record.Locator {
		row := rowIdx[r] + 1
		name, _ := excelize.CoordinatesToCellName(c+1, row)
		return record.Locator{Kind: record.KindSheet, Sheet: sheet, Row: row, Col: c + 1, Cell: name}
	}), nil
}

// mergeRanges converts excelize merge areas into 0-based ranges. Areas with
// unreadable corners are dropped.
func mergeRanges(mcs []excelize.MergeCell) []structure.MergeRange {
	out := make([]structure.MergeRange, 0, len(mcs))
	for _, mc := range mcs {
		c1, r1, err := excelize.CellNameToCoordinates(mc.GetStartAxis())
		if err != nil {
			continue
		}
		c2, r2, err := excelize.CellNameToCoordinates(mc.GetEndAxis())
		if err != nil {
			continue
		}
		out = append(out, structure.MergeRange{
			RowStart: r1 - 1, RowEnd: r2 - 1,
			ColStart: c1 - 1, ColEnd: c2 - 1,
		})
	}
	return out
}

// borderedRows returns the indices of rows with at least one bordered cell.
func borderedRows(f *excelize.File, sheet string, g structure.Grid) []int {
	bordered := map[int]bool{}
	var out []int
	for r, row := range g {
		for c := range row {
			name, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				continue
			}
			idx, err := f.GetCellStyle(sheet, name)
			if err != nil || idx == 0 {
				continue
			}
			has, seen := bordered[idx]
			if !seen {
				has = styleHasBorder(f, idx)
				bordered[idx] = has
			}
			if has {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func styleHasBorder(f *excelize.File, idx int) bool {
	st, err := f.GetStyle(idx)
	if err != nil || st == nil {
		return false
	}
	for _, b := range st.Border {
		if b.Style > 0 {
			return true
		}
	}
	return false
}

func nonEmptyRows(g structure.Grid) []int {
	var out []int
	for r, row := range g {
		if !rowEmpty(row) {
			out = append(out, r)
		}
	}
	return out
}
