// Package embedding turns chunk text into dense vectors through an
// OpenAI-compatible embeddings API.
package embedding

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns exactly len(texts) vectors in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the vector size, or 0 while it is still unknown.
	Dimension() int
}

var (
	ErrEmptyResponse = errors.New("empty embedding response")
	ErrNoDimension   = errors.New("embedding dimension unknown")
)

const (
	// DefaultMaxInputRunes bounds every input sent to the model.
	DefaultMaxInputRunes = 512
	// EmptyPlaceholder stands in for blank inputs, which most providers reject.
	EmptyPlaceholder = "빈 텍스트"
)

// Prepare trims text, truncates it to max runes and substitutes the
// placeholder for blank input.
func Prepare(text string, max int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return EmptyPlaceholder
	}
	if max > 0 && utf8.RuneCountInString(text) > max {
		text = string([]rune(text)[:max])
	}
	return text
}
