package pipeline

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/newsletter-worker/internal/model"
)

// selectContent picks the text to hand to the extractor: the pre-cleaned
// plain-text body when present, otherwise the raw body stripped of HTML.
// The choice is made once per email and used for both the length check and
// extraction so the two can never disagree.
func selectContent(email *model.Email) string {
	if text := strings.TrimSpace(email.Content); text != "" {
		return text
	}
	return strings.TrimSpace(stripHTML(email.RawContent))
}

// stripHTML reduces an HTML document to its visible text. Falls back to the
// input unchanged when it does not parse as HTML.
func stripHTML(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return raw
	}
	doc.Find("script, style, head").Remove()
	text := doc.Text()

	// Collapse the whitespace runs left behind by removed tags.
	fields := strings.Fields(text)
	return strings.Join(fields, " ")
}
