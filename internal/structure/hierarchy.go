package structure

import "strings"

// Slots are the raw label inputs read from one row.
type Slots struct {
	Lvl1, Lvl2, Lvl3 string
	Detail, Remarks  string
}

// Labels is a snapshot of tracker state for a single record.
type Labels struct {
	Lvl1, Lvl2, Lvl3, Lvl4 string
}

// Tracker forward-fills outline labels across the rows or paragraphs of one
// document. A Tracker is not safe for concurrent use; create one per scan.
type Tracker struct {
	rules            RuleSet
	lvl1, lvl2, lvl3 string
}

// NewTracker returns a tracker using rules for prose detection. A nil rule
// set uses DefaultRules.
func NewTracker(rules RuleSet) *Tracker {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Tracker{rules: rules}
}

// Current returns the labels in effect, with an empty Lvl4.
func (t *Tracker) Current() Labels {
	return Labels{Lvl1: t.lvl1, Lvl2: t.lvl2, Lvl3: t.lvl3}
}

// Observe applies one tabular row. Levels are taken top-down: a changed lvl1
// clears lvl2 and lvl3, a changed lvl2 clears lvl3. A slot repeating the
// current label (as merged cells do) leaves lower levels alone.
func (t *Tracker) Observe(s Slots) Labels {
	if v := strings.TrimSpace(s.Lvl1); v != "" && v != t.lvl1 {
		t.set(1, v)
	}
	if v := strings.TrimSpace(s.Lvl2); v != "" && v != t.lvl2 {
		t.set(2, v)
	}
	if v := strings.TrimSpace(s.Lvl3); v != "" {
		t.set(3, v)
	}

	l := t.Current()
	l.Lvl4 = joinDetail(s.Detail, s.Remarks)
	return l
}

// ObserveText applies one prose paragraph. When an outline rule matches, the
// matched level is set and true is returned. Unmatched text keeps the current
// labels and becomes the record's Lvl4.
func (t *Tracker) ObserveText(text string) (Labels, bool) {
	if level, label, ok := t.rules.Match(text); ok {
		t.set(level, label)
		return t.Current(), true
	}
	l := t.Current()
	l.Lvl4 = strings.TrimSpace(text)
	return l, false
}

// Set applies a label at level, with the same resets as Observe. Empty labels
// and unknown levels are ignored.
func (t *Tracker) Set(level int, label string) {
	if label = strings.TrimSpace(label); label != "" {
		t.set(level, label)
	}
}

func (t *Tracker) set(level int, label string) {
	switch level {
	case 1:
		t.lvl1, t.lvl2, t.lvl3 = label, "", ""
	case 2:
		t.lvl2, t.lvl3 = label, ""
	case 3:
		t.lvl3 = label
	}
}

func joinDetail(detail, remarks string) string {
	detail = strings.TrimSpace(detail)
	remarks = strings.TrimSpace(remarks)
	switch {
	case detail == "":
		return remarks
	case remarks == "":
		return detail
	}
	return detail + " / " + remarks
}
