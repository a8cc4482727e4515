package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/tendaro/tendaro/internal/dialog"
	"github.com/tendaro/tendaro/internal/storage"
)

// TenantStore is the read surface the gateway needs from storage.
type TenantStore interface {
	SnapshotVersion(tenantKey string) (int64, error)
	GetCatalogItem(tenantKey, sku string) (storage.CatalogItem, error)
	ListCatalogItems(tenantKey string) ([]storage.CatalogItem, error)
	GetDeliveryArea(tenantKey, prefix string) (storage.DeliveryArea, error)
	GetDeliveryException(tenantKey, postcode string) (storage.DeliveryException, error)
	GetBranch(tenantKey, id string) (storage.Branch, error)
	ListBranches(tenantKey string) ([]storage.Branch, error)
	GetFAQ(tenantKey, id string) (storage.FAQ, error)
	ListFAQs(tenantKey string) ([]storage.FAQ, error)
	ListSynonyms(tenantKey string) ([]storage.Synonym, error)
	ListDeliveryAreas(tenantKey string) ([]storage.DeliveryArea, error)
}

// Gateway is the uniform read-only lookup capability over the tenant
// stores. Lookups are idempotent and safe to retry; every returned fact
// carries a source reference the verifier can re-resolve.
type Gateway struct {
	store TenantStore
}

// NewGateway creates a Gateway over the given tenant store.
func NewGateway(store TenantStore) *Gateway {
	return &Gateway{store: store}
}

// Lookup resolves one claim key. Supported vocabulary:
//
//	catalog.price.<sku>      unit price
//	catalog.stock.<sku>      "in stock" / "out of stock"
//	catalog.item.<sku>       one-line item summary
//	delivery.fee.<postcode>  delivery fee for a covered postcode
//	delivery.rule.<postcode> full rule summary (fee, minimum, ETA)
//	branch.hours.<branch_id> opening hours JSON
//	branch.nearest.<postcode> nearest branch name and id
//	faq.answer.<faq_id>      the FAQ answer text
//
// Returns ErrNotFound when the key does not resolve and ErrUnavailable
// when the store cannot be reached.
func (g *Gateway) Lookup(ctx context.Context, tenantKey, claimKey string) (dialog.Fact, error) {
	if err := ctx.Err(); err != nil {
		return dialog.Fact{}, err
	}

	parts := strings.SplitN(claimKey, ".", 3)
	if len(parts) != 3 || parts[2] == "" {
		return dialog.Fact{}, fmt.Errorf("%w: %q", ErrBadClaimKey, claimKey)
	}
	domain, field, id := parts[0], parts[1], parts[2]

	version, err := g.store.SnapshotVersion(tenantKey)
	if err != nil {
		return dialog.Fact{}, g.storeErr(err)
	}

	switch {
	case domain == "catalog" && field == "price":
		it, err := g.store.GetCatalogItem(tenantKey, id)
		if err != nil {
			return dialog.Fact{}, g.storeErr(err)
		}
		return g.fact(claimKey, FormatPrice(it.Price), "catalog", id, version), nil

	case domain == "catalog" && field == "stock":
		it, err := g.store.GetCatalogItem(tenantKey, id)
		if err != nil {
			return dialog.Fact{}, g.storeErr(err)
		}
		return g.fact(claimKey, FormatStock(it.InStock), "catalog", id, version), nil

	case domain == "catalog" && field == "item":
		it, err := g.store.GetCatalogItem(tenantKey, id)
		if err != nil {
			return dialog.Fact{}, g.storeErr(err)
		}
		return g.fact(claimKey, FormatItem(it), "catalog", id, version), nil

	case domain == "delivery" && (field == "fee" || field == "rule"):
		rule, ok, err := g.deliveryRuleFor(tenantKey, id)
		if err != nil {
			return dialog.Fact{}, g.storeErr(err)
		}
		if !ok {
			return dialog.Fact{}, ErrNotFound
		}
		value := FormatPrice(rule.Fee)
		if field == "rule" {
			value = FormatDeliveryRule(rule)
		}
		return g.fact(claimKey, value, "delivery", NormalizePostcode(id), version), nil

	case domain == "branch" && field == "hours":
		b, err := g.store.GetBranch(tenantKey, id)
		if err != nil {
			return dialog.Fact{}, g.storeErr(err)
		}
		return g.fact(claimKey, b.Hours, "branches", id, version), nil

	case domain == "branch" && field == "nearest":
		b, ok, err := g.nearestBranch(tenantKey, id)
		if err != nil {
			return dialog.Fact{}, g.storeErr(err)
		}
		if !ok {
			return dialog.Fact{}, ErrNotFound
		}
		return g.fact(claimKey, fmt.Sprintf("%s (%s)", b.Name, b.ID), "branches", b.ID, version), nil

	case domain == "faq" && field == "answer":
		f, err := g.store.GetFAQ(tenantKey, id)
		if err != nil {
			return dialog.Fact{}, g.storeErr(err)
		}
		return g.fact(claimKey, f.Answer, "faq", id, version), nil
	}

	return dialog.Fact{}, fmt.Errorf("%w: %q", ErrBadClaimKey, claimKey)
}

// SearchItems finds catalog items matching free text and/or canonical tags,
// returning each match as an independently verifiable catalog.item fact.
// Ordering is deterministic: score descending, then SKU ascending.
func (g *Gateway) SearchItems(ctx context.Context, tenantKey, query string, tags []string, limit int) ([]dialog.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 6
	}

	version, err := g.store.SnapshotVersion(tenantKey)
	if err != nil {
		return nil, g.storeErr(err)
	}
	items, err := g.store.ListCatalogItems(tenantKey)
	if err != nil {
		return nil, g.storeErr(err)
	}

	qTokens := Tokenize(query)
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[NormalizeText(t)] = true
	}

	type scored struct {
		item  storage.CatalogItem
		score float64
	}
	var matches []scored
	for _, it := range items {
		score := scoreItem(it, qTokens, tagSet)
		if score > 0 {
			matches = append(matches, scored{item: it, score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].item.SKU < matches[j].item.SKU
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	facts := make([]dialog.Fact, len(matches))
	for i, m := range matches {
		facts[i] = g.fact("catalog.item."+m.item.SKU, FormatItem(m.item), "catalog", m.item.SKU, version)
	}
	return facts, nil
}

// BestFAQ returns the best-matching FAQ entry for a question, along with
// its answer fact, using Jaccard token similarity with a small boost for
// tag-hint intersection. ErrNotFound when nothing clears minSim.
func (g *Gateway) BestFAQ(ctx context.Context, tenantKey, question string, hintTags []string) (storage.FAQ, dialog.Fact, error) {
	const minSim = 0.18

	if err := ctx.Err(); err != nil {
		return storage.FAQ{}, dialog.Fact{}, err
	}

	version, err := g.store.SnapshotVersion(tenantKey)
	if err != nil {
		return storage.FAQ{}, dialog.Fact{}, g.storeErr(err)
	}
	faqs, err := g.store.ListFAQs(tenantKey)
	if err != nil {
		return storage.FAQ{}, dialog.Fact{}, g.storeErr(err)
	}

	qTokens := Tokenize(question)
	hints := make(map[string]bool, len(hintTags))
	for _, t := range hintTags {
		hints[NormalizeText(t)] = true
	}

	var best storage.FAQ
	bestScore := 0.0
	for _, f := range faqs {
		score := jaccard(qTokens, Tokenize(f.Question))
		for _, tag := range ParseTags(f.Tags) {
			if hints[NormalizeText(tag)] {
				score += 0.05
				break
			}
		}
		if score > bestScore || (score == bestScore && score > 0 && f.ID < best.ID) {
			best = f
			bestScore = score
		}
	}
	if bestScore < minSim {
		return storage.FAQ{}, dialog.Fact{}, ErrNotFound
	}

	fact := g.fact("faq.answer."+best.ID, best.Answer, "faq", best.ID, version)
	return best, fact, nil
}

// NearestBranch resolves the branch closest to a postcode (or the stable
// first branch when the postcode is empty or matches nothing) together
// with its branch.nearest fact.
func (g *Gateway) NearestBranch(ctx context.Context, tenantKey, postcode string) (storage.Branch, dialog.Fact, error) {
	if err := ctx.Err(); err != nil {
		return storage.Branch{}, dialog.Fact{}, err
	}

	version, err := g.store.SnapshotVersion(tenantKey)
	if err != nil {
		return storage.Branch{}, dialog.Fact{}, g.storeErr(err)
	}
	b, ok, err := g.nearestBranch(tenantKey, postcode)
	if err != nil {
		return storage.Branch{}, dialog.Fact{}, g.storeErr(err)
	}
	if !ok {
		return storage.Branch{}, dialog.Fact{}, ErrNotFound
	}

	key := "branch.nearest." + NormalizePostcode(postcode)
	if NormalizePostcode(postcode) == "" {
		key = "branch.nearest." + b.ID
	}
	fact := g.fact(key, fmt.Sprintf("%s (%s)", b.Name, b.ID), "branches", b.ID, version)
	return b, fact, nil
}

func (g *Gateway) fact(key, value, store, id string, version int64) dialog.Fact {
	return dialog.Fact{
		Key:   key,
		Value: value,
		Source: dialog.SourceRef{
			Store:   store,
			ID:      id,
			Version: version,
		},
	}
}

// storeErr maps storage errors onto the gateway's error vocabulary.
func (g *Gateway) storeErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// DeliveryRule is the effective delivery rule for one postcode.
type DeliveryRule struct {
	Postcode string
	Fee      float64
	MinOrder float64
	ETAMin   int
	Source   string // "exception" or "prefix"
}

// deliveryRuleFor resolves a postcode against the exact exceptions first,
// then the prefix areas.
func (g *Gateway) deliveryRuleFor(tenantKey, postcode string) (DeliveryRule, bool, error) {
	pc := NormalizePostcode(postcode)
	if pc == "" {
		return DeliveryRule{}, false, nil
	}

	ex, err := g.store.GetDeliveryException(tenantKey, pc)
	if err == nil {
		return DeliveryRule{Postcode: pc, Fee: ex.Fee, MinOrder: ex.MinOrder, ETAMin: ex.ETAMin, Source: "exception"}, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return DeliveryRule{}, false, err
	}

	area, err := g.store.GetDeliveryArea(tenantKey, OutwardPrefix(pc))
	if err == nil {
		return DeliveryRule{Postcode: pc, Fee: area.Fee, MinOrder: area.MinOrder, ETAMin: area.ETAMin, Source: "prefix"}, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return DeliveryRule{}, false, err
	}
	return DeliveryRule{}, false, nil
}

// nearestBranch picks the branch whose outward prefix matches the postcode;
// when several match, the lexicographically smallest id wins as a stable
// tie-break. With no prefix match the first branch by id is returned.
func (g *Gateway) nearestBranch(tenantKey, postcode string) (storage.Branch, bool, error) {
	branches, err := g.store.ListBranches(tenantKey)
	if err != nil {
		return storage.Branch{}, false, err
	}
	if len(branches) == 0 {
		return storage.Branch{}, false, nil
	}

	out := OutwardPrefix(NormalizePostcode(postcode))
	var candidates []storage.Branch
	for _, b := range branches {
		if out != "" && OutwardPrefix(NormalizePostcode(b.Postcode)) == out {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
		return candidates[0], true, nil
	}

	// ListBranches orders by id, so index 0 is already the stable fallback.
	return branches[0], true, nil
}

func scoreItem(it storage.CatalogItem, qTokens []string, tagSet map[string]bool) float64 {
	nameTokens := Tokenize(it.Name)
	score := jaccard(qTokens, nameTokens)

	for _, tag := range ParseTags(it.Tags) {
		norm := NormalizeText(tag)
		if tagSet[norm] {
			score += 0.5
		}
		for _, qt := range qTokens {
			if qt == norm {
				score += 0.25
			}
		}
	}
	if NormalizeText(it.CategoryID) != "" {
		for _, qt := range qTokens {
			if qt == NormalizeText(it.CategoryID) {
				score += 0.25
			}
		}
	}
	return math.Round(score*1000) / 1000
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	sa := make(map[string]bool, len(a))
	for _, t := range a {
		sa[t] = true
	}
	sb := make(map[string]bool, len(b))
	for _, t := range b {
		sb[t] = true
	}
	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
