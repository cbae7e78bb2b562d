package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// SentenceSplitter breaks normalized text into sentences. Implementations
// must not drop or reorder content.
type SentenceSplitter interface {
	Split(text string) []string
}

var sentenceEnd = regexp.MustCompile(`[.!?。]\s+`)

// RegexSplitter ends a sentence at . ! ? or 。 followed by whitespace. The
// terminator stays with its sentence.
type RegexSplitter struct{}

func (RegexSplitter) Split(text string) []string {
	var out []string
	start := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		_, size := utf8.DecodeRuneInString(text[m[0]:])
		if s := strings.TrimSpace(text[start : m[0]+size]); s != "" {
			out = append(out, s)
		}
		start = m[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
