package parser

import (
	"strings"

	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/record"
	"github.com/dgallion1/docingest/internal/structure"
)

// Layout maps table columns to outline slots. Indices are 0-based; a
// negative index disables the slot.
//
// HeaderNames, keyed by slot name (lvl1, lvl2, lvl3, detail, remarks), lists
// header labels accepted for that slot. When set, the header row is checked:
// a slot whose positional column carries a different header is moved to the
// column that matches.
type Layout struct {
	Lvl1    int
	Lvl2    int
	Lvl3    int
	Detail  int
	Remarks int

	HeaderNames map[string][]string
}

func DefaultLayout() Layout {
	return Layout{Lvl1: 0, Lvl2: 1, Lvl3: 2, Detail: 3, Remarks: 4}
}

// unset reports whether every slot points at the first column, which is
// what a zero Layout looks like.
func (l Layout) unset() bool {
	return l.Lvl1 == 0 && l.Lvl2 == 0 && l.Lvl3 == 0 && l.Detail == 0 && l.Remarks == 0
}

// slots returns pointers to the slot indices keyed by slot name.
func (l *Layout) slots() map[string]*int {
	return map[string]*int{
		"lvl1":    &l.Lvl1,
		"lvl2":    &l.Lvl2,
		"lvl3":    &l.Lvl3,
		"detail":  &l.Detail,
		"remarks": &l.Remarks,
	}
}

// Resolve validates the layout against a header row.
func (l Layout) Resolve(header []string, log *zap.Logger) Layout {
	if len(l.HeaderNames) == 0 {
		return l
	}
	out := l
	out.HeaderNames = nil
	slots := out.slots()
	for slot, names := range l.HeaderNames {
		idx, ok := slots[slot]
		if !ok || len(names) == 0 {
			continue
		}
		if *idx >= 0 && *idx < len(header) && headerMatches(header[*idx], names) {
			continue
		}
		found := -1
		for c, h := range header {
			if headerMatches(h, names) {
				found = c
				break
			}
		}
		if found < 0 {
			log.Warn("header not found, keeping positional column",
				zap.String("slot", slot), zap.Int("column", *idx), zap.Strings("accepted", names))
			continue
		}
		*idx = found
	}
	return out
}

func headerMatches(h string, names []string) bool {
	h = strings.TrimSpace(h)
	for _, n := range names {
		if strings.EqualFold(h, strings.TrimSpace(n)) {
			return true
		}
	}
	return false
}

func (l Layout) isLabel(col int) bool {
	return col == l.Lvl1 || col == l.Lvl2 || col == l.Lvl3
}

func (l Layout) labelCols() []int {
	var cols []int
	for _, c := range []int{l.Lvl1, l.Lvl2, l.Lvl3} {
		if c >= 0 {
			cols = append(cols, c)
		}
	}
	return cols
}

// tableBuilder turns a merge-resolved grid into records. The first grid row
// is the header.
type tableBuilder struct {
	layout  Layout
	tracker *structure.Tracker
	rules   structure.RuleSet

	// detectOutline runs the first cell of each row through the outline
	// rules before the layout slots are read.
	detectOutline bool
}

func newTableBuilder(opts Options, header []string) *tableBuilder {
	return &tableBuilder{
		layout:  opts.Layout.Resolve(header, opts.Logger),
		tracker: structure.NewTracker(opts.Rules),
		rules:   opts.Rules,
	}
}

func (b *tableBuilder) build(g structure.Grid, locate func(r, c int) record.Locator) []record.StructuredRecord {
	if len(g) < 2 {
		return nil
	}
	header := g[0]
	var recs []record.StructuredRecord
	for r := 1; r < len(g); r++ {
		row := g[r]
		if rowEmpty(row) {
			continue
		}

		skip := -1
		if b.detectOutline && len(row) > 0 {
			if level, label, ok := b.rules.Match(row[0]); ok {
				b.tracker.Set(level, label)
				skip = 0
			}
		}
		slot := func(c int) string {
			if c == skip {
				return ""
			}
			return cell(row, c)
		}
		labels := b.tracker.Observe(structure.Slots{
			Lvl1:    slot(b.layout.Lvl1),
			Lvl2:    slot(b.layout.Lvl2),
			Lvl3:    slot(b.layout.Lvl3),
			Detail:  slot(b.layout.Detail),
			Remarks: slot(b.layout.Remarks),
		})

		for c, v := range row {
			v = strings.TrimSpace(v)
			if v == "" || c == skip || b.layout.isLabel(c) {
				continue
			}
			h := strings.TrimSpace(cell(header, c))
			if h == "" {
				h = record.SyntheticHeader(c + 1)
			}
			recs = append(recs, labeled(record.StructuredRecord{
				Locator:      locate(r, c),
				Value:        v,
				RowContext:   rowContext(row, c),
				ColumnHeader: h,
				IsNumeric:    record.IsNumeric(v),
			}, labels))
		}
	}
	return recs
}

func cell(row []string, c int) string {
	if c < 0 || c >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[c])
}

func rowEmpty(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// rowContext joins the other non-empty cells of the row.
func rowContext(row []string, except int) string {
	parts := make([]string, 0, len(row))
	for c, v := range row {
		if c == except {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " | ")
}
