package retrieval

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tendaro/tendaro/internal/storage"
)

var (
	wsRe   = regexp.MustCompile(`\s+`)
	wordRe = regexp.MustCompile(`[a-z0-9'_]+`)
)

// NormalizeText lowercases and collapses whitespace.
func NormalizeText(s string) string {
	return wsRe.ReplaceAllString(strings.TrimSpace(strings.ToLower(s)), " ")
}

// Tokenize splits normalized text into word tokens.
func Tokenize(s string) []string {
	return wordRe.FindAllString(NormalizeText(s), -1)
}

// ParseTags decodes a JSON tag array stored as text; malformed input yields
// no tags rather than an error, since tags only ever boost matching.
func ParseTags(tagsJSON string) []string {
	if tagsJSON == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil
	}
	return tags
}

// NormalizePostcode strips spaces and uppercases, UK style: "e1 6an" -> "E16AN".
func NormalizePostcode(pc string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pc), " ", ""))
}

// OutwardPrefix returns the outward code of a normalized postcode: the part
// before the final three inward characters, or the whole code when too
// short ("E16AN" -> "E1", "E1" -> "E1").
func OutwardPrefix(pc string) string {
	pc = NormalizePostcode(pc)
	if len(pc) > 3 {
		return pc[:len(pc)-3]
	}
	return pc
}

// FormatPrice renders a price with two decimals so fact values compare
// byte-for-byte across lookups.
func FormatPrice(p float64) string {
	return fmt.Sprintf("%.2f", p)
}

// FormatStock renders availability as stable wording.
func FormatStock(inStock bool) string {
	if inStock {
		return "in stock"
	}
	return "out of stock"
}

// FormatItem renders the one-line catalog item summary used as the
// catalog.item fact value.
func FormatItem(it storage.CatalogItem) string {
	unit := it.Unit
	if unit == "" {
		unit = "each"
	}
	return fmt.Sprintf("%s | £%s/%s | %s", it.Name, FormatPrice(it.Price), unit, FormatStock(it.InStock))
}

// FormatDeliveryRule renders the full rule summary used as the
// delivery.rule fact value.
func FormatDeliveryRule(r DeliveryRule) string {
	out := fmt.Sprintf("fee £%s", FormatPrice(r.Fee))
	if r.MinOrder > 0 {
		out += fmt.Sprintf(", minimum order £%s", FormatPrice(r.MinOrder))
	}
	if r.ETAMin > 0 {
		out += fmt.Sprintf(", around %d min", r.ETAMin)
	}
	return out
}

// SKUFromClaimKey extracts the trailing id segment of a claim key
// ("catalog.price.WINGS_1KG" -> "WINGS_1KG"), or "" when malformed.
func SKUFromClaimKey(claimKey string) string {
	parts := strings.SplitN(claimKey, ".", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}
