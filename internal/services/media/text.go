package media

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// plainText drops markup such as <em class="keyword"> highlights and decodes
// HTML entities.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}
