package ai

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	styleBlock  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	scriptBlock = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	htmlTag     = regexp.MustCompile(`<[^>]+>`)
	whitespace  = regexp.MustCompile(`\s+`)

	entityReplacer = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">")
)

// StripHTML reduces an HTML body to collapsed plain text.
func StripHTML(s string) string {
	s = styleBlock.ReplaceAllString(s, "")
	s = scriptBlock.ReplaceAllString(s, "")
	s = htmlTag.ReplaceAllString(s, " ")
	s = entityReplacer.Replace(s)
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Truncate cuts s to n runes and appends "..." when anything was dropped.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
