package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/record"
	"github.com/dgallion1/docingest/internal/structure"
)

// Extractor converts raw document bytes into structured records or plain
// lines. Finding no table is not an error.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string) (record.Result, error)
}

// DefaultMaxFileSize is the upload ceiling applied when none is configured.
const DefaultMaxFileSize = 10 << 20

// DefaultColumnGap is the horizontal whitespace, in points, that separates
// PDF table columns.
const DefaultColumnGap = 18.0

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".xlsx": true,
	".docx": true,
	".pdf":  true,
	".txt":  true,
}

// Options are shared by all extractors.
type Options struct {
	Layout    Layout
	Rules     structure.RuleSet
	ColumnGap float64
	Logger    *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		Layout:    DefaultLayout(),
		Rules:     structure.DefaultRules(),
		ColumnGap: DefaultColumnGap,
	}
}

func (o Options) withDefaults() Options {
	if o.Layout.unset() {
		o.Layout.Lvl1, o.Layout.Lvl2, o.Layout.Lvl3, o.Layout.Detail, o.Layout.Remarks = 0, 1, 2, 3, 4
	}
	if o.Rules == nil {
		o.Rules = structure.DefaultRules()
	}
	if o.ColumnGap <= 0 {
		o.ColumnGap = DefaultColumnGap
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// ForFile returns the extractor for a filename's extension.
func ForFile(filename string, opts Options) (Extractor, error) {
	opts = opts.withDefaults()
	switch FileType(filename) {
	case "xlsx":
		return &XLSXExtractor{opts: opts}, nil
	case "docx":
		return &DOCXExtractor{opts: opts}, nil
	case "pdf":
		return &PDFExtractor{opts: opts}, nil
	case "txt":
		return &TextExtractor{opts: opts}, nil
	default:
		return nil, ingesterr.Validationf("unsupported file extension: %q", filepath.Ext(filename))
	}
}

// FileType is the lower-cased extension without its dot.
func FileType(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// Validate rejects a document before any parsing happens.
func Validate(filename string, size, maxBytes int64) error {
	if strings.TrimSpace(filename) == "" {
		return ingesterr.Validationf("filename is required")
	}
	if !IsSupportedExtension(filename) {
		return ingesterr.Validationf("unsupported file extension: %q", filepath.Ext(filename))
	}
	if size <= 0 {
		return ingesterr.Validationf("file %s is empty", filename)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileSize
	}
	if size > maxBytes {
		return ingesterr.Validationf("file %s is %d bytes, limit is %d", filename, size, maxBytes)
	}
	return nil
}

// lineResult classifies prose lines through the outline rules. Matched lines
// become labels, the rest records. Without a single match the document has no
// structure and the lines are returned as plain text.
func lineResult(lines []string, tracker *structure.Tracker, locate func(i int) record.Locator) record.Result {
	var recs []record.StructuredRecord
	matched := false
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		labels, ok := tracker.ObserveText(line)
		if ok {
			matched = true
			continue
		}
		recs = append(recs, labeled(record.StructuredRecord{
			Locator:   locate(i),
			Value:     line,
			IsNumeric: record.IsNumeric(line),
		}, labels))
	}
	if !matched {
		return record.PlainText(lines)
	}
	return record.Table(recs)
}

func labeled(r record.StructuredRecord, l structure.Labels) record.StructuredRecord {
	r.Lvl1, r.Lvl2, r.Lvl3, r.Lvl4 = l.Lvl1, l.Lvl2, l.Lvl3, l.Lvl4
	return r
}

func extractionf(format, msg string, args ...any) error {
	return ingesterr.Extraction(format, fmt.Errorf(msg, args...))
}
