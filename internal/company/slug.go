package company

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// deaccent folds accented characters to their base form.
var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify derives the display slug for a new company record: diacritics
// folded, lower-cased, runs of non-alphanumerics collapsed to single hyphens,
// trimmed, then suffixed with the unix timestamp so that slugs are unique
// even for equal names. The timestamp suffix is also why the slug cannot
// serve as a dedup key.
func Slugify(name string, now time.Time) string {
	folded, _, err := transform.String(deaccent, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(folded) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "company"
	}
	return fmt.Sprintf("%s-%d", slug, now.Unix())
}
