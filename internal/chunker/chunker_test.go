package chunker

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentences(n int) string {
	var sb strings.Builder
	for i := range n {
		fmt.Fprintf(&sb, "The quick brown fox jumps over the lazy dog number %d. ", i)
	}
	return sb.String()
}

func TestChunk_ExactMaxLengthIsOneChunk(t *testing.T) {
	text := strings.Repeat("가", 500)
	chunks := Chunk(text, DefaultConfig())
	require.Len(t, chunks, 1)
	assert.Equal(t, 500, runeLen(chunks[0]))
}

func TestChunk_EmptyAndNoise(t *testing.T) {
	assert.Empty(t, Chunk("", DefaultConfig()))
	assert.Empty(t, Chunk("  \n\t ", DefaultConfig()))
	assert.Empty(t, Chunk("짧다.", DefaultConfig()))
	assert.Equal(t, []string{"0123456789"}, Chunk("0123456789", DefaultConfig()))
}

func TestChunk_RespectsMaxLength(t *testing.T) {
	cfg := DefaultConfig()
	chunks := Chunk(sentences(100), cfg)
	require.Greater(t, len(chunks), 5)
	for i, c := range chunks {
		assert.LessOrEqual(t, runeLen(c), cfg.MaxChunkLength, "chunk %d", i)
	}
}

func TestChunk_OverlapPrefixesFollowingChunks(t *testing.T) {
	cfg := Config{MaxChunkLength: 120, Overlap: 30, MinChunkLength: 10}
	text := sentences(20)

	c := New(cfg)
	bodies := c.pack(c.splitter.Split(normalizeSpace(text)))
	chunks := c.Chunk(text)
	require.Equal(t, len(bodies), len(chunks))
	require.Greater(t, len(chunks), 2)

	assert.Equal(t, bodies[0], chunks[0])
	for i := 1; i < len(chunks); i++ {
		ov := overlapText(bodies[i-1], cfg.Overlap)
		require.NotEmpty(t, ov, "chunk %d", i)
		assert.True(t, strings.HasSuffix(bodies[i-1], ov), "overlap must be trailing words of predecessor")
		assert.True(t, strings.HasPrefix(chunks[i], ov+" "), "chunk %d: %q", i, chunks[i])
		assert.LessOrEqual(t, runeLen(ov), cfg.Overlap)
	}
}

func TestChunk_OverlapNeverSplitsWords(t *testing.T) {
	ov := overlapText("alpha beta gamma delta", 12)
	assert.Equal(t, "gamma delta", ov)

	ov = overlapText("alpha beta gamma delta", 11)
	assert.Equal(t, "delta", ov)

	assert.Equal(t, "", overlapText("short", 50))
	assert.Equal(t, "", overlapText("x "+strings.Repeat("y", 60), 50))
}

func TestChunk_ZeroOverlap(t *testing.T) {
	cfg := Config{MaxChunkLength: 120, Overlap: 0, MinChunkLength: 10}
	c := New(cfg)
	text := sentences(10)
	assert.Equal(t, c.pack(c.splitter.Split(normalizeSpace(text))), c.Chunk(text))
}

func TestChunk_LongSentenceSplitByDelimiter(t *testing.T) {
	cfg := Config{MaxChunkLength: 50, Overlap: 0, MinChunkLength: 1}
	text := "alpha beta gamma, delta epsilon zeta, eta theta iota, kappa lambda mu, nu xi omicron"

	chunks := Chunk(text, cfg)
	assert.Equal(t, []string{
		"alpha beta gamma, delta epsilon zeta,",
		"eta theta iota, kappa lambda mu, nu xi omicron",
	}, chunks)
}

func TestChunk_ForcedWhitespaceBreak(t *testing.T) {
	cfg := Config{MaxChunkLength: 20, Overlap: 0, MinChunkLength: 1}
	chunks := Chunk("aaaa bbbb cccc dddd eeee ffff", cfg)
	assert.Equal(t, []string{"aaaa bbbb cccc dddd", "eeee ffff"}, chunks)
}

func TestChunk_HardCutWithoutWhitespace(t *testing.T) {
	cfg := Config{MaxChunkLength: 10, Overlap: 0, MinChunkLength: 1}
	chunks := Chunk("abcdefghijklmnopqrstuvwxy", cfg)
	assert.Equal(t, []string{"abcdefghij", "klmnopqrst", "uvwxy"}, chunks)
}

func TestChunk_DeterministicAndIdempotent(t *testing.T) {
	cfg := Config{MaxChunkLength: 200, Overlap: 0, MinChunkLength: 10}
	text := sentences(30)

	first := Chunk(text, cfg)
	assert.Equal(t, first, Chunk(text, cfg))

	again := Chunk(strings.Join(first, " "), cfg)
	assert.Equal(t, first, again)
}

func TestChunk_NormalizesWhitespace(t *testing.T) {
	chunks := Chunk("Line one is here.\n\nLine   two\tis here.", DefaultConfig())
	assert.Equal(t, []string{"Line one is here. Line two is here."}, chunks)
}

func TestConfigNormalize(t *testing.T) {
	c := Config{MaxChunkLength: 0, Overlap: -1, MinChunkLength: -5}.normalize()
	assert.Equal(t, Config{MaxChunkLength: 500, Overlap: 0, MinChunkLength: 0}, c)

	c = Config{MaxChunkLength: 100, Overlap: 80}.normalize()
	assert.Equal(t, 50, c.Overlap)
}

func TestChunk_TinyLimitsTerminate(t *testing.T) {
	done := make(chan []string, 1)
	go func() { done <- Chunk("ab cd ef", Config{MaxChunkLength: 2, Overlap: 1}) }()

	select {
	case chunks := <-done:
		require.NotEmpty(t, chunks)
		assert.Equal(t, "ab", chunks[0])
	case <-time.After(2 * time.Second):
		t.Fatal("chunking did not finish")
	}
}

type pipeSplitter struct{}

func (pipeSplitter) Split(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func TestChunk_CustomSplitter(t *testing.T) {
	cfg := Config{MaxChunkLength: 15, Overlap: 0, MinChunkLength: 1}
	c := New(cfg, WithSplitter(pipeSplitter{}))
	assert.Equal(t, []string{"first part", "second part"}, c.Chunk("first part | second part"))
}

func TestRegexSplitter(t *testing.T) {
	got := RegexSplitter{}.Split("첫 문장입니다. 두 번째! 세 번째? 끝。 마지막")
	assert.Equal(t, []string{"첫 문장입니다.", "두 번째!", "세 번째?", "끝。", "마지막"}, got)

	assert.Equal(t, []string{"Pi is 3.14 roughly."}, RegexSplitter{}.Split("Pi is 3.14 roughly."))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("hello world"))
	assert.Equal(t, 3, EstimateTokens("안녕하세요"))
}
