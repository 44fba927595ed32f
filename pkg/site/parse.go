package site

import (
	"regexp"
	"strconv"
	"strings"
)

// trademarkRE matches the marketing symbols the storefront appends to
// titles, both literal and HTML-entity encoded.
var trademarkRE = regexp.MustCompile(`(™|®|©|&trade;|&reg;|&copy;|&#8482;|&#174;|&#169;)`)

// CleanTitle strips trademark symbols and surrounding whitespace so the
// same game matches across category feeds and detail pages.
func CleanTitle(title string) string {
	return strings.TrimSpace(trademarkRE.ReplaceAllString(title, ""))
}

// ParsePrice turns the storefront's price text into a number. "free" is
// price 0; empty or unparsable text means no price was shown.
func ParsePrice(text string) *float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if strings.EqualFold(text, "free") {
		zero := 0.0
		return &zero
	}

	if i := strings.Index(text, "$"); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSpace(text)

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}
	return &v
}
