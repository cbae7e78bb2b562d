package record

import "strings"

// ResultKind tags what an extractor found.
type ResultKind int

const (
	KindEmpty ResultKind = iota
	KindTable
	KindPlainText
)

func (k ResultKind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindPlainText:
		return "plain_text"
	default:
		return "empty"
	}
}

// Result is the tagged output of a format extractor: structured records,
// unstructured lines, or nothing at all.
type Result struct {
	Kind    ResultKind
	Records []StructuredRecord
	Lines   []string
}

// Table wraps structured records. An empty slice yields Empty.
func Table(recs []StructuredRecord) Result {
	if len(recs) == 0 {
		return Empty()
	}
	return Result{Kind: KindTable, Records: recs}
}

// PlainText keeps non-empty lines. No surviving lines yields Empty.
func PlainText(lines []string) Result {
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		return Empty()
	}
	return Result{Kind: KindPlainText, Lines: kept}
}

func Empty() Result { return Result{Kind: KindEmpty} }

// Text joins plain-text lines with newlines.
func (r Result) Text() string {
	return strings.Join(r.Lines, "\n")
}

// Len is the number of units the result carries.
func (r Result) Len() int {
	switch r.Kind {
	case KindTable:
		return len(r.Records)
	case KindPlainText:
		return len(r.Lines)
	}
	return 0
}
