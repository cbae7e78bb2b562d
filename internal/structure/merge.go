package structure

// Grid is a dense 2-D table of cell values. Empty string means absent.
type Grid [][]string

// MergeRange is an inclusive, 0-based rectangle of merged cells.
type MergeRange struct {
	RowStart, RowEnd int
	ColStart, ColEnd int
}

func (m MergeRange) valid() bool {
	return m.RowStart >= 0 && m.ColStart >= 0 && m.RowStart <= m.RowEnd && m.ColStart <= m.ColEnd
}

// Width returns the length of the longest row.
func (g Grid) Width() int {
	w := 0
	for _, row := range g {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

// Clone returns a dense copy with every row padded to the grid width.
func (g Grid) Clone() Grid {
	w := g.Width()
	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = make([]string, w)
		copy(out[i], row)
	}
	return out
}

// ResolveMerges fills every cell inside a merge range with the value of the
// range's top-left cell. The input grid is not modified. Malformed ranges are
// ignored and ranges reaching past the grid are clipped to it. A range whose
// top-left cell is empty stays empty.
func ResolveMerges(g Grid, ranges []MergeRange) Grid {
	out := g.Clone()
	if len(out) == 0 {
		return out
	}
	width := len(out[0])

	for _, m := range ranges {
		if !m.valid() || m.RowStart >= len(out) || m.ColStart >= width {
			continue
		}
		rowEnd := min(m.RowEnd, len(out)-1)
		colEnd := min(m.ColEnd, width-1)

		v := out[m.RowStart][m.ColStart]
		if v == "" {
			continue
		}
		for r := m.RowStart; r <= rowEnd; r++ {
			for c := m.ColStart; c <= colEnd; c++ {
				out[r][c] = v
			}
		}
	}
	return out
}

// ForwardFillColumns is the merge heuristic for sources without merge
// metadata: scanning top to bottom, an empty cell in a selected column takes
// the nearest previous non-empty value of that column. A nil cols selects
// every column. Call it once per table block so the fill resets at table
// boundaries.
func ForwardFillColumns(g Grid, cols []int) Grid {
	out := g.Clone()
	if len(out) == 0 {
		return out
	}
	width := len(out[0])
	if cols == nil {
		cols = make([]int, width)
		for i := range cols {
			cols[i] = i
		}
	}

	for _, c := range cols {
		if c < 0 || c >= width {
			continue
		}
		last := ""
		for r := range out {
			if out[r][c] == "" {
				out[r][c] = last
			} else {
				last = out[r][c]
			}
		}
	}
	return out
}
