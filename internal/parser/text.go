package parser

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/record"
	"github.com/dgallion1/docingest/internal/structure"
)

// TextExtractor handles plain text files in UTF-8 or CP949.
type TextExtractor struct {
	opts Options
}

func (e *TextExtractor) Extract(ctx context.Context, data []byte, filename string) (record.Result, error) {
	text := decodeText(data)
	if strings.TrimSpace(text) == "" {
		return record.Empty(), ingesterr.Extraction("txt", errors.New("no text after decoding"))
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return record.Empty(), ingesterr.Extraction("txt", err)
	}
	if err := ctx.Err(); err != nil {
		return record.Empty(), err
	}

	tracker := structure.NewTracker(e.opts.Rules)
	return lineResult(lines, tracker, func(i int) record.Locator {
		return record.Locator{Kind: record.KindLine, Row: i + 1}
	}), nil
}

// decodeText tries UTF-8, then CP949, then falls back to UTF-8 with invalid
// bytes replaced. The CP949 decoder substitutes U+FFFD instead of failing, so
// its output is only accepted when nothing was substituted.
func decodeText(data []byte) string {
	data = trimBOM(data)
	if utf8.Valid(data) {
		return string(data)
	}
	if out, err := korean.EUCKR.NewDecoder().Bytes(data); err == nil && !bytes.ContainsRune(out, utf8.RuneError) {
		return string(out)
	}
	return strings.ToValidUTF8(string(data), "�")
}

func trimBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}
