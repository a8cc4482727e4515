// Package ingest imports tenant data bundles and runs the background
// reindex queue.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tendaro/tendaro/internal/storage"
)

// bundleItem is one catalog entry of the bundle's catalog.json.
type bundleItem struct {
	SKU          string   `json:"sku"`
	Name         string   `json:"name"`
	CategoryID   string   `json:"category_id"`
	CategoryName string   `json:"category_name"`
	Price        float64  `json:"price"`
	Unit         string   `json:"unit"`
	Tags         []string `json:"tags"`
	InStock      *bool    `json:"in_stock"`
}

// bundleDelivery is the shape of delivery.json.
type bundleDelivery struct {
	Areas []struct {
		Prefix   string  `json:"prefix"`
		Fee      float64 `json:"fee"`
		MinOrder float64 `json:"min_order"`
		ETAMin   int     `json:"eta_min"`
	} `json:"areas"`
	Exceptions []struct {
		Postcode string  `json:"postcode"`
		Fee      float64 `json:"fee"`
		MinOrder float64 `json:"min_order"`
		ETAMin   int     `json:"eta_min"`
	} `json:"exceptions"`
}

type bundleBranch struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Postcode string            `json:"postcode"`
	Phone    string            `json:"phone"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Hours    map[string]string `json:"hours"`
}

type bundleFAQ struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Tags     []string `json:"tags"`
}

type bundleMeta struct {
	Name string `json:"name"`
}

// LoadBundle reads a tenant bundle directory. Expected files:
//
//	tenant.json    {"name": ...}                    (optional)
//	catalog.json   [items]                          (required)
//	delivery.json  {"areas": [...], "exceptions": [...]}
//	branches.json  [branches]
//	faq.json       [entries]
//	synonyms.json  {"term": "canonical", ...}
//
// Missing optional files leave their section empty.
func LoadBundle(tenantKey, dir string) (storage.TenantBundle, error) {
	var out storage.TenantBundle
	out.Name = tenantKey

	var meta bundleMeta
	if ok, err := readJSON(filepath.Join(dir, "tenant.json"), &meta); err != nil {
		return out, err
	} else if ok && meta.Name != "" {
		out.Name = meta.Name
	}

	var items []bundleItem
	if ok, err := readJSON(filepath.Join(dir, "catalog.json"), &items); err != nil {
		return out, err
	} else if !ok {
		return out, fmt.Errorf("bundle %s: catalog.json is required", dir)
	}
	for _, it := range items {
		if it.SKU == "" || it.Name == "" {
			return out, fmt.Errorf("catalog item missing sku or name: %+v", it)
		}
		inStock := true
		if it.InStock != nil {
			inStock = *it.InStock
		}
		out.Items = append(out.Items, storage.CatalogItem{
			TenantKey:    tenantKey,
			SKU:          it.SKU,
			Name:         it.Name,
			CategoryID:   it.CategoryID,
			CategoryName: it.CategoryName,
			Price:        it.Price,
			Unit:         it.Unit,
			Tags:         marshalOrEmpty(it.Tags),
			InStock:      inStock,
		})
	}

	var delivery bundleDelivery
	if _, err := readJSON(filepath.Join(dir, "delivery.json"), &delivery); err != nil {
		return out, err
	}
	for _, a := range delivery.Areas {
		out.Areas = append(out.Areas, storage.DeliveryArea{
			TenantKey: tenantKey, Prefix: a.Prefix, Fee: a.Fee, MinOrder: a.MinOrder, ETAMin: a.ETAMin,
		})
	}
	for _, e := range delivery.Exceptions {
		out.Exceptions = append(out.Exceptions, storage.DeliveryException{
			TenantKey: tenantKey, Postcode: e.Postcode, Fee: e.Fee, MinOrder: e.MinOrder, ETAMin: e.ETAMin,
		})
	}

	var branches []bundleBranch
	if _, err := readJSON(filepath.Join(dir, "branches.json"), &branches); err != nil {
		return out, err
	}
	for _, b := range branches {
		if b.ID == "" {
			return out, fmt.Errorf("branch missing id: %+v", b)
		}
		hours, err := json.Marshal(b.Hours)
		if err != nil {
			return out, fmt.Errorf("encoding hours for branch %s: %w", b.ID, err)
		}
		out.Branches = append(out.Branches, storage.Branch{
			TenantKey: tenantKey, ID: b.ID, Name: b.Name, Postcode: b.Postcode,
			Phone: b.Phone, Lat: b.Lat, Lon: b.Lon, Hours: string(hours),
		})
	}

	var faqs []bundleFAQ
	if _, err := readJSON(filepath.Join(dir, "faq.json"), &faqs); err != nil {
		return out, err
	}
	for _, f := range faqs {
		if f.ID == "" {
			return out, fmt.Errorf("faq missing id: %+v", f)
		}
		out.FAQs = append(out.FAQs, storage.FAQ{
			TenantKey: tenantKey, ID: f.ID, Question: f.Question, Answer: f.Answer,
			Tags: marshalOrEmpty(f.Tags),
		})
	}

	var synonyms map[string]string
	if _, err := readJSON(filepath.Join(dir, "synonyms.json"), &synonyms); err != nil {
		return out, err
	}
	for term, canonical := range synonyms {
		out.Synonyms = append(out.Synonyms, storage.Synonym{
			TenantKey: tenantKey, Term: term, Canonical: canonical,
		})
	}

	return out, nil
}

// combinedBundle is the single-document bundle shape accepted over HTTP:
// all sections in one JSON object instead of one file each.
type combinedBundle struct {
	Name     string            `json:"name"`
	Catalog  []bundleItem      `json:"catalog"`
	Delivery bundleDelivery    `json:"delivery"`
	Branches []bundleBranch    `json:"branches"`
	FAQ      []bundleFAQ       `json:"faq"`
	Synonyms map[string]string `json:"synonyms"`
}

// ParseBundle decodes a combined bundle document.
func ParseBundle(tenantKey string, data []byte) (storage.TenantBundle, error) {
	var doc combinedBundle
	if err := json.Unmarshal(data, &doc); err != nil {
		return storage.TenantBundle{}, fmt.Errorf("parsing bundle: %w", err)
	}
	if len(doc.Catalog) == 0 {
		return storage.TenantBundle{}, fmt.Errorf("bundle has no catalog items")
	}

	out := storage.TenantBundle{Name: doc.Name}
	if out.Name == "" {
		out.Name = tenantKey
	}
	for _, it := range doc.Catalog {
		if it.SKU == "" || it.Name == "" {
			return out, fmt.Errorf("catalog item missing sku or name: %+v", it)
		}
		inStock := true
		if it.InStock != nil {
			inStock = *it.InStock
		}
		out.Items = append(out.Items, storage.CatalogItem{
			TenantKey:    tenantKey,
			SKU:          it.SKU,
			Name:         it.Name,
			CategoryID:   it.CategoryID,
			CategoryName: it.CategoryName,
			Price:        it.Price,
			Unit:         it.Unit,
			Tags:         marshalOrEmpty(it.Tags),
			InStock:      inStock,
		})
	}
	for _, a := range doc.Delivery.Areas {
		out.Areas = append(out.Areas, storage.DeliveryArea{
			TenantKey: tenantKey, Prefix: a.Prefix, Fee: a.Fee, MinOrder: a.MinOrder, ETAMin: a.ETAMin,
		})
	}
	for _, e := range doc.Delivery.Exceptions {
		out.Exceptions = append(out.Exceptions, storage.DeliveryException{
			TenantKey: tenantKey, Postcode: e.Postcode, Fee: e.Fee, MinOrder: e.MinOrder, ETAMin: e.ETAMin,
		})
	}
	for _, b := range doc.Branches {
		if b.ID == "" {
			return out, fmt.Errorf("branch missing id: %+v", b)
		}
		hours, err := json.Marshal(b.Hours)
		if err != nil {
			return out, fmt.Errorf("encoding hours for branch %s: %w", b.ID, err)
		}
		out.Branches = append(out.Branches, storage.Branch{
			TenantKey: tenantKey, ID: b.ID, Name: b.Name, Postcode: b.Postcode,
			Phone: b.Phone, Lat: b.Lat, Lon: b.Lon, Hours: string(hours),
		})
	}
	for _, f := range doc.FAQ {
		if f.ID == "" {
			return out, fmt.Errorf("faq missing id: %+v", f)
		}
		out.FAQs = append(out.FAQs, storage.FAQ{
			TenantKey: tenantKey, ID: f.ID, Question: f.Question, Answer: f.Answer,
			Tags: marshalOrEmpty(f.Tags),
		})
	}
	for term, canonical := range doc.Synonyms {
		out.Synonyms = append(out.Synonyms, storage.Synonym{
			TenantKey: tenantKey, Term: term, Canonical: canonical,
		})
	}
	return out, nil
}

// Importer replaces tenant snapshots and queues the follow-up reindex.
type Importer struct {
	store *storage.Store
}

// NewImporter creates an Importer.
func NewImporter(store *storage.Store) *Importer {
	return &Importer{store: store}
}

// ImportDir loads a bundle directory, replaces the tenant's snapshot
// atomically, and enqueues a reindex job. Returns the new snapshot
// version.
func (i *Importer) ImportDir(tenantKey, dir string) (int64, error) {
	bundle, err := LoadBundle(tenantKey, dir)
	if err != nil {
		return 0, fmt.Errorf("loading bundle: %w", err)
	}
	return i.ImportBundle(tenantKey, bundle)
}

// ImportJSON imports a combined bundle document.
func (i *Importer) ImportJSON(tenantKey string, data []byte) (int64, error) {
	bundle, err := ParseBundle(tenantKey, data)
	if err != nil {
		return 0, err
	}
	return i.ImportBundle(tenantKey, bundle)
}

// ImportBundle replaces the tenant snapshot and enqueues the reindex job.
func (i *Importer) ImportBundle(tenantKey string, bundle storage.TenantBundle) (int64, error) {
	version, err := i.store.ReplaceTenantBundle(tenantKey, bundle)
	if err != nil {
		return 0, fmt.Errorf("replacing tenant snapshot: %w", err)
	}

	payload, err := json.Marshal(reindexPayload{TenantKey: tenantKey, Version: version})
	if err != nil {
		return 0, err
	}
	if err := i.store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        JobTypeReindex,
		PayloadJSON: string(payload),
	}); err != nil {
		return 0, fmt.Errorf("enqueueing reindex: %w", err)
	}

	return version, nil
}

// readJSON decodes a JSON file into v. Returns (false, nil) when the file
// does not exist.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func marshalOrEmpty(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	blob, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(blob)
}
