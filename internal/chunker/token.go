package chunker

import (
	"strings"
	"unicode"
)

// EstimateTokens gives a rough embedding-model token count for mixed
// Korean/English text: ~1.33 tokens per Latin word plus one token per Hangul
// syllable pair. Only used for reporting.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	hangul := 0
	var latin strings.Builder
	for _, r := range text {
		if unicode.Is(unicode.Hangul, r) {
			hangul++
			latin.WriteRune(' ')
			continue
		}
		latin.WriteRune(r)
	}
	words := len(strings.Fields(latin.String()))
	tokens := int(float64(words)*1.33) + (hangul+1)/2
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
