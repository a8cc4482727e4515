package router

import (
	"regexp"
	"strings"
)

var (
	postcodeRe = regexp.MustCompile(`\b([A-Z]{1,2}\d{1,2}[A-Z]?)\s?(\d[A-Z]{2})\b`)
	outwardRe  = regexp.MustCompile(`\b([A-Z]{1,2}\d{1,2}[A-Z]?)\b`)
	skuRe      = regexp.MustCompile(`\b([A-Z0-9_]{4,})\b`)
	phoneRe    = regexp.MustCompile(`\+?\d{7,15}`)
	qtyRe      = regexp.MustCompile(`\b(\d{1,3})\b`)
)

// extractPostcode finds a full UK-style postcode, or an outward prefix on
// its own ("E1"), returning "" when neither appears.
func extractPostcode(text string) string {
	up := strings.ToUpper(text)
	if m := postcodeRe.FindStringSubmatch(up); m != nil {
		return m[1] + " " + m[2]
	}
	if m := outwardRe.FindStringSubmatch(up); m != nil {
		return m[1]
	}
	return ""
}

// extractSKU finds an upper-case token that looks like an internal code:
// at least four characters with at least one digit, to avoid catching
// shouted words.
func extractSKU(text string) string {
	for _, m := range skuRe.FindAllStringSubmatch(strings.ToUpper(text), -1) {
		cand := m[1]
		for _, ch := range cand {
			if ch >= '0' && ch <= '9' {
				return cand
			}
		}
	}
	return ""
}

func extractPhone(text string) string {
	return phoneRe.FindString(text)
}

// extractQuantity returns the first small standalone number that is not
// part of a postcode or phone number.
func extractQuantity(text string, postcode, phone string) string {
	stripped := text
	if postcode != "" {
		stripped = strings.ReplaceAll(strings.ToUpper(stripped), postcode, " ")
	}
	if phone != "" {
		stripped = strings.ReplaceAll(stripped, phone, " ")
	}
	return qtyRe.FindString(stripped)
}
