// Package preprocess reduces Korean text to content words for embedding and
// keyword extraction.
package preprocess

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	newlines = regexp.MustCompile(`\n+`)
	disallow = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?;:\-]`)
	spaces   = regexp.MustCompile(`\s+`)
)

const edgePunct = ".,!?;:-"

// DefaultStopwords are particles, copulas, pronouns and filler nouns that
// carry no search value on their own.
var DefaultStopwords = []string{
	"이", "가", "을", "를", "은", "는", "에", "의", "로", "으로", "와", "과", "도", "만", "부터", "까지",
	"에게", "에서", "께", "께서", "한테", "에게서", "로부터", "라서", "서",
	"입니다", "습니다", "했습니다", "있습니다", "없습니다", "합니다", "됩니다",
	"이다", "이었다", "였다", "했다", "있다", "없다", "하다", "되다", "것", "수", "때", "곳",
	"그", "저", "그것", "이것", "저것", "여기", "거기", "저기",
	"누구", "무엇", "언제", "어디", "어떻게", "왜", "어느", "몇",
	"아", "어", "오", "우", "음", "네", "예", "응", "좀", "정말", "진짜", "참",
	"및", "등", "즉", "또한", "그리고", "하지만", "그러나", "따라서", "그래서",
	"위해", "통해", "대해", "관해", "같은", "다른", "새로운", "이런", "그런", "저런",
	"말", "이야기", "내용", "경우", "상황", "상태", "문제", "방법", "결과",
}

// Preprocessor is what the ingestion pipeline and search need from a filter.
type Preprocessor interface {
	Preprocess(text string) string
	ExtractKeywords(text string, max int) []string
}

// Filter keeps tokens of two or more characters that contain Hangul, are not
// pure digits and are not stopwords. It is safe for concurrent use.
type Filter struct {
	stopwords map[string]struct{}
	keepLatin bool
}

// Option configures a Filter.
type Option func(*Filter)

// WithStopwords adds words to the stopword set.
func WithStopwords(words ...string) Option {
	return func(f *Filter) {
		for _, w := range words {
			f.stopwords[norm.NFC.String(w)] = struct{}{}
		}
	}
}

// WithLatin also keeps tokens without Hangul.
func WithLatin() Option {
	return func(f *Filter) { f.keepLatin = true }
}

func New(opts ...Option) *Filter {
	f := &Filter{stopwords: make(map[string]struct{}, len(DefaultStopwords))}
	for _, w := range DefaultStopwords {
		f.stopwords[w] = struct{}{}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Clean normalizes to NFC, replaces newlines and unsupported symbols with
// spaces and collapses whitespace.
func Clean(text string) string {
	text = norm.NFC.String(text)
	text = newlines.ReplaceAllString(text, " ")
	text = disallow.ReplaceAllString(text, " ")
	text = spaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Tokens returns the surviving tokens in input order.
func (f *Filter) Tokens(text string) []string {
	cleaned := Clean(text)
	if cleaned == "" {
		return nil
	}
	var out []string
	for _, w := range strings.Fields(cleaned) {
		w = strings.Trim(w, edgePunct)
		if utf8.RuneCountInString(w) < 2 || isDigits(w) {
			continue
		}
		if !f.keepLatin && !containsHangul(w) {
			continue
		}
		if _, stop := f.stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Preprocess joins the surviving tokens with single spaces. The result may be
// empty; callers decide whether to fall back to the raw text.
func (f *Filter) Preprocess(text string) string {
	return strings.Join(f.Tokens(text), " ")
}

// ExtractKeywords returns up to max tokens by descending frequency, ties in
// order of first occurrence. A non-positive max means 10.
func (f *Filter) ExtractKeywords(text string, max int) []string {
	if max <= 0 {
		max = 10
	}
	tokens := f.Tokens(text)
	counts := make(map[string]int, len(tokens))
	var order []string
	for _, t := range tokens {
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > max {
		order = order[:max]
	}
	return order
}

// OrRaw returns the preprocessed text, or the trimmed input when fewer than
// minRunes characters survive.
func OrRaw(p Preprocessor, text string, minRunes int) string {
	if p == nil {
		return strings.TrimSpace(text)
	}
	if out := p.Preprocess(text); utf8.RuneCountInString(out) >= minRunes {
		return out
	}
	return strings.TrimSpace(text)
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func containsHangul(s string) bool {
	for _, r := range s {
		if (r >= 'ㄱ' && r <= 'ㅣ') || (r >= '가' && r <= '힣') {
			return true
		}
	}
	return false
}
