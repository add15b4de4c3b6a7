package voice

import (
	"regexp"
	"strings"
)

var (
	markupChars = regexp.MustCompile("[*#_`~]")
	mdLink      = regexp.MustCompile(`\[(.*?)\]\(.*?\)`)
	listBullet  = regexp.MustCompile(`(?m)^\s*-\s`)
)

// CleanMarkdown strips the markup a speech engine would read literally:
// emphasis and heading markers, link targets and list bullets. Newlines
// become sentence pauses.
func CleanMarkdown(text string) string {
	text = markupChars.ReplaceAllString(text, "")
	text = mdLink.ReplaceAllString(text, "$1")
	text = listBullet.ReplaceAllString(text, "")
	return strings.ReplaceAll(text, "\n", ". ")
}
