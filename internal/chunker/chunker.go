package chunker

import (
	"strings"
	"unicode/utf8"
)

// Config controls chunking behavior. Lengths are in characters (runes).
type Config struct {
	MaxChunkLength int // Upper bound for a packed chunk.
	Overlap        int // Trailing words carried over from the previous chunk.
	MinChunkLength int // Shorter chunks are dropped as noise.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxChunkLength: 500,
		Overlap:        50,
		MinChunkLength: 10,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.MaxChunkLength <= 0 {
		c.MaxChunkLength = d.MaxChunkLength
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap > c.MaxChunkLength/2 {
		c.Overlap = c.MaxChunkLength / 2
	}
	if c.MinChunkLength < 0 {
		c.MinChunkLength = 0
	}
	return c
}

// Delimiters tried, in order, when a single sentence is longer than a chunk.
var Delimiters = []string{", ", "; ", " - ", " – "}

// Chunker packs sentences into bounded, overlapping chunks. It holds no
// per-call state and is safe for concurrent use.
type Chunker struct {
	cfg      Config
	splitter SentenceSplitter
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSplitter replaces the regex sentence splitter.
func WithSplitter(s SentenceSplitter) Option {
	return func(c *Chunker) {
		if s != nil {
			c.splitter = s
		}
	}
}

func New(cfg Config, opts ...Option) *Chunker {
	c := &Chunker{cfg: cfg.normalize(), splitter: RegexSplitter{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config { return c.cfg }

// Chunk splits text with a default-splitter Chunker built from cfg.
func Chunk(text string, cfg Config) []string {
	return New(cfg).Chunk(text)
}

// Chunk splits text into sentence-aware chunks. Output order follows the
// input and the result is deterministic for a given text and config.
func (c *Chunker) Chunk(text string) []string {
	text = normalizeSpace(text)
	if text == "" {
		return nil
	}
	sentences := c.splitter.Split(text)
	if len(sentences) == 0 {
		return nil
	}

	bodies := c.pack(sentences)
	chunks := c.addOverlap(bodies)

	out := chunks[:0]
	for _, ch := range chunks {
		ch = strings.TrimSpace(ch)
		if runeLen(ch) < c.cfg.MinChunkLength || ch == "" {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// capacity is the packing limit for the chunk at position n. Chunks after
// the first leave room for the overlap prefix. It is never below one rune,
// otherwise a single-rune piece could never be placed.
func (c *Chunker) capacity(n int) int {
	if n == 0 || c.cfg.Overlap == 0 {
		return c.cfg.MaxChunkLength
	}
	return max(c.cfg.MaxChunkLength-c.cfg.Overlap-1, 1)
}

// pack greedily fills chunks with whole sentences.
func (c *Chunker) pack(sentences []string) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0

	queue := append([]string(nil), sentences...)
	for len(queue) > 0 {
		s := queue[0]
		sLen := runeLen(s)
		limit := c.capacity(len(chunks))

		need := sLen
		if curLen > 0 {
			need += 1 + curLen
		}
		if need <= limit {
			if curLen > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(s)
			curLen = need
			queue = queue[1:]
			continue
		}

		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
			continue
		}

		// Empty chunk and the sentence still doesn't fit.
		pieces := splitLong(s, limit)
		queue = append(pieces, queue[1:]...)
	}
	if curLen > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// splitLong breaks a sentence longer than limit. Delimiters are tried in
// priority order; otherwise the sentence is cut at the last whitespace before
// the limit, or at the limit itself when there is none. Every returned piece
// is shorter than s.
func splitLong(s string, limit int) []string {
	for _, delim := range Delimiters {
		if !strings.Contains(s, delim) {
			continue
		}
		parts := strings.SplitAfter(s, delim)
		var pieces []string
		var cur strings.Builder
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if cur.Len() > 0 && runeLen(cur.String())+1+runeLen(p) > limit {
				pieces = append(pieces, cur.String())
				cur.Reset()
			}
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(p)
		}
		if cur.Len() > 0 {
			pieces = append(pieces, cur.String())
		}
		if len(pieces) > 1 {
			return pieces
		}
	}
	return forceSplit(s, limit)
}

func forceSplit(s string, limit int) []string {
	if limit < 1 {
		limit = 1
	}
	var pieces []string
	runes := []rune(s)
	for len(runes) > limit {
		cut := -1
		for i := limit; i > 0; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		if cut <= 0 {
			cut = limit
		}
		pieces = append(pieces, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}
	if len(runes) > 0 {
		pieces = append(pieces, string(runes))
	}
	return pieces
}

// addOverlap prefixes every chunk after the first with trailing whole words
// of its predecessor, up to the configured overlap.
func (c *Chunker) addOverlap(bodies []string) []string {
	if c.cfg.Overlap == 0 || len(bodies) < 2 {
		return bodies
	}
	out := make([]string, len(bodies))
	out[0] = bodies[0]
	for i := 1; i < len(bodies); i++ {
		ov := overlapText(bodies[i-1], c.cfg.Overlap)
		if ov == "" {
			out[i] = bodies[i]
			continue
		}
		out[i] = ov + " " + bodies[i]
	}
	return out
}

// overlapText returns the longest run of trailing words of prev whose
// length, counting one separator per word, stays within n.
func overlapText(prev string, n int) string {
	if runeLen(prev) <= n {
		return ""
	}
	words := strings.Fields(prev)
	total := 0
	start := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		w := runeLen(words[i]) + 1
		if total+w > n {
			break
		}
		total += w
		start = i
	}
	if start == len(words) {
		return ""
	}
	return strings.Join(words[start:], " ")
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
