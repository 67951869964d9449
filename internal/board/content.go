package board

import "github.com/microcosm-cc/bluemonday"

var contentPolicy = newContentPolicy()

func newContentPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "s", "br", "div", "span", "p")
	return p
}

// SanitizeContent strips everything but inline formatting from card HTML.
// Input handlers call it before UpdateCardContent.
func SanitizeContent(html string) string {
	return contentPolicy.Sanitize(html)
}
