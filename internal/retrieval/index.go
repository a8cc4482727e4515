package retrieval

import (
	"fmt"
	"sort"
	"sync"
)

// Index is the read-mostly per-tenant vocabulary the router classifies
// against: canonical tags, category ids, catalog name tokens, FAQ tokens,
// and delivery coverage prefixes. Built from one data snapshot, so a router
// classification is deterministic for that snapshot.
type Index struct {
	TenantKey       string
	SnapshotVersion int64

	canonical  map[string]string // term -> canonical tag (includes identity)
	tags       map[string]bool   // canonical tags present in the catalog
	categories map[string]bool
	nameTokens map[string][]string // token -> SKUs whose name contains it
	faqTokens  map[string]bool
	prefixes   []string // sorted delivery coverage outward prefixes
	skus       map[string]bool
}

// BuildIndex assembles the index from the tenant's current snapshot.
func BuildIndex(store TenantStore, tenantKey string) (*Index, error) {
	version, err := store.SnapshotVersion(tenantKey)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot version: %w", err)
	}

	idx := &Index{
		TenantKey:       tenantKey,
		SnapshotVersion: version,
		canonical:       make(map[string]string),
		tags:            make(map[string]bool),
		categories:      make(map[string]bool),
		nameTokens:      make(map[string][]string),
		faqTokens:       make(map[string]bool),
		skus:            make(map[string]bool),
	}

	items, err := store.ListCatalogItems(tenantKey)
	if err != nil {
		return nil, fmt.Errorf("listing catalog: %w", err)
	}
	for _, it := range items {
		idx.skus[it.SKU] = true
		if cid := NormalizeText(it.CategoryID); cid != "" {
			idx.categories[cid] = true
			idx.canonical[cid] = cid
		}
		for _, tag := range ParseTags(it.Tags) {
			t := NormalizeText(tag)
			if t == "" {
				continue
			}
			idx.tags[t] = true
			idx.canonical[t] = t
		}
		for _, tok := range Tokenize(it.Name) {
			idx.nameTokens[tok] = append(idx.nameTokens[tok], it.SKU)
		}
	}

	faqs, err := store.ListFAQs(tenantKey)
	if err != nil {
		return nil, fmt.Errorf("listing faqs: %w", err)
	}
	for _, f := range faqs {
		for _, tok := range Tokenize(f.Question) {
			idx.faqTokens[tok] = true
		}
	}

	syns, err := store.ListSynonyms(tenantKey)
	if err != nil {
		return nil, fmt.Errorf("listing synonyms: %w", err)
	}
	for _, sy := range syns {
		term, canon := NormalizeText(sy.Term), NormalizeText(sy.Canonical)
		if term == "" || canon == "" {
			continue
		}
		idx.canonical[term] = canon
		idx.canonical[canon] = canon
	}

	areas, err := store.ListDeliveryAreas(tenantKey)
	if err != nil {
		return nil, fmt.Errorf("listing delivery areas: %w", err)
	}
	seen := make(map[string]bool, len(areas))
	for _, a := range areas {
		p := OutwardPrefix(a.Prefix)
		if p != "" && !seen[p] {
			seen[p] = true
			idx.prefixes = append(idx.prefixes, p)
		}
	}
	sort.Strings(idx.prefixes)

	return idx, nil
}

// Canonical maps a term through the synonym table; unknown terms map to
// themselves.
func (x *Index) Canonical(term string) string {
	t := NormalizeText(term)
	if c, ok := x.canonical[t]; ok {
		return c
	}
	return t
}

// KnownTags returns the sorted canonical tags and categories, used by the
// router's fuzzy near-miss matching.
func (x *Index) KnownTags() []string {
	out := make([]string, 0, len(x.tags)+len(x.categories))
	for t := range x.tags {
		out = append(out, t)
	}
	for c := range x.categories {
		if !x.tags[c] {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// IsTag reports whether a canonical term is a known catalog tag or
// category.
func (x *Index) IsTag(term string) bool {
	c := x.Canonical(term)
	return x.tags[c] || x.categories[c]
}

// HasSKU reports whether a SKU exists in the catalog.
func (x *Index) HasSKU(sku string) bool {
	return x.skus[sku]
}

// MatchNameTokens returns how many of the tokens appear in catalog item
// names, used as router evidence for product intent.
func (x *Index) MatchNameTokens(tokens []string) int {
	n := 0
	for _, t := range tokens {
		if len(x.nameTokens[t]) > 0 {
			n++
		}
	}
	return n
}

// MatchFAQTokens returns how many of the tokens appear in FAQ questions.
func (x *Index) MatchFAQTokens(tokens []string) int {
	n := 0
	for _, t := range tokens {
		if x.faqTokens[t] {
			n++
		}
	}
	return n
}

// CoveragePrefixes returns the sorted delivery coverage outward prefixes,
// used to hint clarifier questions.
func (x *Index) CoveragePrefixes() []string {
	return x.prefixes
}

// Cache hands out per-tenant indexes, rebuilding whenever the tenant's
// snapshot version moves (imports bump it).
type Cache struct {
	store TenantStore

	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewCache creates an index cache over the store.
func NewCache(store TenantStore) *Cache {
	return &Cache{store: store, indexes: make(map[string]*Index)}
}

// Get returns the index for a tenant, rebuilding it if the snapshot
// version changed since the cached build.
func (c *Cache) Get(tenantKey string) (*Index, error) {
	version, err := c.store.SnapshotVersion(tenantKey)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	idx, ok := c.indexes[tenantKey]
	c.mu.RUnlock()
	if ok && idx.SnapshotVersion == version {
		return idx, nil
	}

	idx, err = BuildIndex(c.store, tenantKey)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.indexes[tenantKey] = idx
	c.mu.Unlock()
	return idx, nil
}

// Warm builds the tenant index eagerly so the first turn after an import
// does not pay the rebuild cost.
func (c *Cache) Warm(tenantKey string) error {
	_, err := c.Get(tenantKey)
	return err
}

// Invalidate drops the cached index so the next Get rebuilds.
func (c *Cache) Invalidate(tenantKey string) {
	c.mu.Lock()
	delete(c.indexes, tenantKey)
	c.mu.Unlock()
}
