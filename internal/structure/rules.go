package structure

import (
	"regexp"
	"strings"
)

// Rule maps an outline pattern to a hierarchy level. Title is the index of the
// submatch holding the label payload.
type Rule struct {
	Level   int
	Pattern *regexp.Regexp
	Title   int
}

// RuleSet is an ordered rule table; the first matching rule wins.
type RuleSet []Rule

const labelPunct = " \t()[]（）「」『』<>〈〉:：.-·"

// Match returns the level and cleaned label of the first rule matching text.
// A rule whose payload is empty after stripping punctuation does not count as
// a match.
func (rs RuleSet) Match(text string) (int, string, bool) {
	text = strings.TrimSpace(text)
	for _, r := range rs {
		m := r.Pattern.FindStringSubmatch(text)
		if m == nil || r.Title >= len(m) {
			continue
		}
		label := strings.Trim(m[r.Title], labelPunct)
		if label == "" {
			continue
		}
		return r.Level, label, true
	}
	return 0, "", false
}

// DefaultRules covers Korean statute numbering and its English counterpart.
func DefaultRules() RuleSet {
	return RuleSet{
		{Level: 1, Pattern: regexp.MustCompile(`^제\s*\d+\s*조(?:의\s*\d+)?\s*[(（]\s*(.*?)\s*[)）]`), Title: 1},
		{Level: 1, Pattern: regexp.MustCompile(`(?i)^article\s+\d+\s*\((.*?)\)`), Title: 1},
		{Level: 1, Pattern: regexp.MustCompile(`^제\s*\d+\s*장\s*(.*)$`), Title: 1},
		{Level: 1, Pattern: regexp.MustCompile(`(?i)^chapter\s+\d+[.:]?\s*(.*)$`), Title: 1},

		{Level: 2, Pattern: regexp.MustCompile(`^([①-⑳])\s*(.*)$`), Title: 2},
		{Level: 2, Pattern: regexp.MustCompile(`^\(\d+\)\s*(.*)$`), Title: 1},

		{Level: 3, Pattern: regexp.MustCompile(`^\d+\)\s*(.*)$`), Title: 1},
		{Level: 3, Pattern: regexp.MustCompile(`^[가-하]\.\s*(.*)$`), Title: 1},
		{Level: 3, Pattern: regexp.MustCompile(`^[a-z]\)\s*(.*)$`), Title: 1},
		{Level: 3, Pattern: regexp.MustCompile(`^[a-z]\.\s+(.*)$`), Title: 1},
	}
}
