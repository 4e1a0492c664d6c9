package blog

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

const wordsPerMinute = 200

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

	mdImage     = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdLink      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	htmlTag     = regexp.MustCompile(`<[^>]*>`)
	mdHeading   = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
	mdListItem  = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	mdCodeFence = regexp.MustCompile("(?m)^```.*$")
	mdMarks     = regexp.MustCompile("[*_`~>|]")
	nonSlug     = regexp.MustCompile(`[^a-z0-9]+`)
)

// ValidSlug reports whether s is a lowercase, hyphen separated slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// Slugify turns a title into a URL slug.
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = strings.NewReplacer("å", "a", "ä", "a", "ö", "o", "é", "e", "ü", "u").Replace(s)
	s = nonSlug.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 80 {
		s = strings.TrimRight(s[:80], "-")
	}
	return s
}

// PlainText strips markdown and HTML markup and collapses whitespace.
func PlainText(body string) string {
	s := mdCodeFence.ReplaceAllString(body, " ")
	s = mdImage.ReplaceAllString(s, " ")
	s = mdLink.ReplaceAllString(s, "$1")
	s = htmlTag.ReplaceAllString(s, " ")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdListItem.ReplaceAllString(s, "")
	s = mdMarks.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// Excerpt returns at most maxLen runes of the plain text, cut at a word
// boundary with a trailing ellipsis when shortened.
func Excerpt(body string, maxLen int) string {
	text := PlainText(body)
	if maxLen <= 0 || utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:maxLen])
	if runes[maxLen] != ' ' {
		if i := strings.LastIndex(cut, " "); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimRight(cut, " .,;:") + "..."
}

// ReadTime estimates reading time at 200 words per minute, never below one minute.
func ReadTime(body string) string {
	words := len(strings.Fields(PlainText(body)))
	minutes := int(math.Ceil(float64(words) / wordsPerMinute))
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%d min read", minutes)
}
