package classify

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// sanitize strips HTML markup from generated text before it reaches a
// notification card. Markdown is left as is.
func sanitize(s string) string {
	if !strings.ContainsAny(s, "<>&") {
		return strings.TrimSpace(s)
	}
	// StrictPolicy escapes entities; cards render plain text and markdown.
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}
