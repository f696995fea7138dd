package analysis

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTextLength bounds submitted idea text, in runes
const MaxTextLength = 5000

// NormalizeText trims the text, drops control and zero-width characters and
// collapses whitespace runs to a single space.
func NormalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	space := false
	for _, r := range text {
		switch {
		case r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\ufeff':
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// TextLength counts runes of the normalized text so that padding with
// whitespace does not earn length bonuses.
func TextLength(text string) int {
	return utf8.RuneCountInString(NormalizeText(text))
}

// NormalizeTags lowercases, trims and deduplicates tags, keeping first-seen order
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		t = strings.TrimPrefix(t, "#")
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
