package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// GetTenant returns one tenant by key.
func (s *Store) GetTenant(key string) (Tenant, error) {
	var t Tenant
	var createdAt string
	err := s.db.QueryRow(
		`SELECT key, name, snapshot_version, created_at FROM tenants WHERE key = ?`, key,
	).Scan(&t.Key, &t.Name, &t.SnapshotVersion, &createdAt)
	if err == sql.ErrNoRows {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	t.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Tenant{}, fmt.Errorf("parsing created_at for tenant %s: %w", key, err)
	}
	return t, nil
}

// ListTenants returns all tenants ordered by key.
func (s *Store) ListTenants() ([]Tenant, error) {
	rows, err := s.db.Query(`SELECT key, name, snapshot_version, created_at FROM tenants ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		var t Tenant
		var createdAt string
		if err := rows.Scan(&t.Key, &t.Name, &t.SnapshotVersion, &createdAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for tenant %s: %w", t.Key, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SnapshotVersion returns the current tenant data snapshot version, used by
// the verifier's source references and by index cache invalidation.
func (s *Store) SnapshotVersion(tenantKey string) (int64, error) {
	var v int64
	err := s.db.QueryRow(`SELECT snapshot_version FROM tenants WHERE key = ?`, tenantKey).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return v, err
}

// TenantBundle is the full normalized data set of one tenant, written in a
// single transaction by ReplaceTenantBundle.
type TenantBundle struct {
	Name       string
	Items      []CatalogItem
	Areas      []DeliveryArea
	Exceptions []DeliveryException
	Branches   []Branch
	FAQs       []FAQ
	Synonyms   []Synonym
}

// ReplaceTenantBundle atomically replaces all data for a tenant and bumps
// its snapshot version. Readers either see the old snapshot or the new one,
// never a mix.
func (s *Store) ReplaceTenantBundle(tenantKey string, b TenantBundle) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning bundle transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(`
		INSERT INTO tenants (key, name, snapshot_version, created_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET name = excluded.name, snapshot_version = snapshot_version + 1`,
		tenantKey, b.Name, now,
	); err != nil {
		return 0, fmt.Errorf("upserting tenant: %w", err)
	}

	for _, table := range []string{"catalog_items", "delivery_areas", "delivery_exceptions", "branches", "faqs", "synonyms"} {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE tenant_key = ?", table), tenantKey); err != nil {
			return 0, fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	for _, it := range b.Items {
		if _, err := tx.Exec(`
			INSERT INTO catalog_items (tenant_key, sku, name, category_id, category_name, price, unit, tags, in_stock)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tenantKey, it.SKU, it.Name, it.CategoryID, it.CategoryName, it.Price, it.Unit, it.Tags, it.InStock,
		); err != nil {
			return 0, fmt.Errorf("inserting catalog item %s: %w", it.SKU, err)
		}
	}
	for _, a := range b.Areas {
		if _, err := tx.Exec(`
			INSERT INTO delivery_areas (tenant_key, prefix, fee, min_order, eta_min) VALUES (?, ?, ?, ?, ?)`,
			tenantKey, a.Prefix, a.Fee, a.MinOrder, a.ETAMin,
		); err != nil {
			return 0, fmt.Errorf("inserting delivery area %s: %w", a.Prefix, err)
		}
	}
	for _, e := range b.Exceptions {
		if _, err := tx.Exec(`
			INSERT INTO delivery_exceptions (tenant_key, postcode, fee, min_order, eta_min) VALUES (?, ?, ?, ?, ?)`,
			tenantKey, e.Postcode, e.Fee, e.MinOrder, e.ETAMin,
		); err != nil {
			return 0, fmt.Errorf("inserting delivery exception %s: %w", e.Postcode, err)
		}
	}
	for _, br := range b.Branches {
		if _, err := tx.Exec(`
			INSERT INTO branches (tenant_key, id, name, postcode, phone, lat, lon, hours)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			tenantKey, br.ID, br.Name, br.Postcode, br.Phone, br.Lat, br.Lon, br.Hours,
		); err != nil {
			return 0, fmt.Errorf("inserting branch %s: %w", br.ID, err)
		}
	}
	for _, f := range b.FAQs {
		if _, err := tx.Exec(`
			INSERT INTO faqs (tenant_key, id, question, answer, tags) VALUES (?, ?, ?, ?, ?)`,
			tenantKey, f.ID, f.Question, f.Answer, f.Tags,
		); err != nil {
			return 0, fmt.Errorf("inserting faq %s: %w", f.ID, err)
		}
	}
	for _, sy := range b.Synonyms {
		if _, err := tx.Exec(`
			INSERT INTO synonyms (tenant_key, term, canonical) VALUES (?, ?, ?)`,
			tenantKey, sy.Term, sy.Canonical,
		); err != nil {
			return 0, fmt.Errorf("inserting synonym %s: %w", sy.Term, err)
		}
	}

	var version int64
	if err := tx.QueryRow(`SELECT snapshot_version FROM tenants WHERE key = ?`, tenantKey).Scan(&version); err != nil {
		return 0, fmt.Errorf("reading snapshot version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing bundle: %w", err)
	}
	return version, nil
}

// GetCatalogItem returns one catalog item by SKU.
func (s *Store) GetCatalogItem(tenantKey, sku string) (CatalogItem, error) {
	var it CatalogItem
	var inStock int
	err := s.db.QueryRow(`
		SELECT tenant_key, sku, name, category_id, category_name, price, unit, tags, in_stock
		FROM catalog_items WHERE tenant_key = ? AND sku = ?`, tenantKey, sku,
	).Scan(&it.TenantKey, &it.SKU, &it.Name, &it.CategoryID, &it.CategoryName, &it.Price, &it.Unit, &it.Tags, &inStock)
	if err == sql.ErrNoRows {
		return CatalogItem{}, ErrNotFound
	}
	if err != nil {
		return CatalogItem{}, err
	}
	it.InStock = inStock != 0
	return it, nil
}

// ListCatalogItems returns all catalog items of a tenant ordered by SKU.
func (s *Store) ListCatalogItems(tenantKey string) ([]CatalogItem, error) {
	rows, err := s.db.Query(`
		SELECT tenant_key, sku, name, category_id, category_name, price, unit, tags, in_stock
		FROM catalog_items WHERE tenant_key = ? ORDER BY sku`, tenantKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CatalogItem
	for rows.Next() {
		var it CatalogItem
		var inStock int
		if err := rows.Scan(&it.TenantKey, &it.SKU, &it.Name, &it.CategoryID, &it.CategoryName, &it.Price, &it.Unit, &it.Tags, &inStock); err != nil {
			return nil, err
		}
		it.InStock = inStock != 0
		out = append(out, it)
	}
	return out, rows.Err()
}

// GetDeliveryArea returns the prefix rule for an outward postcode prefix.
func (s *Store) GetDeliveryArea(tenantKey, prefix string) (DeliveryArea, error) {
	var a DeliveryArea
	err := s.db.QueryRow(`
		SELECT tenant_key, prefix, fee, min_order, eta_min
		FROM delivery_areas WHERE tenant_key = ? AND prefix = ?`, tenantKey, prefix,
	).Scan(&a.TenantKey, &a.Prefix, &a.Fee, &a.MinOrder, &a.ETAMin)
	if err == sql.ErrNoRows {
		return DeliveryArea{}, ErrNotFound
	}
	return a, err
}

// ListDeliveryAreas returns all prefix rules of a tenant.
func (s *Store) ListDeliveryAreas(tenantKey string) ([]DeliveryArea, error) {
	rows, err := s.db.Query(`
		SELECT tenant_key, prefix, fee, min_order, eta_min
		FROM delivery_areas WHERE tenant_key = ? ORDER BY prefix`, tenantKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryArea
	for rows.Next() {
		var a DeliveryArea
		if err := rows.Scan(&a.TenantKey, &a.Prefix, &a.Fee, &a.MinOrder, &a.ETAMin); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetDeliveryException returns the exact-postcode override, if any.
func (s *Store) GetDeliveryException(tenantKey, postcode string) (DeliveryException, error) {
	var e DeliveryException
	err := s.db.QueryRow(`
		SELECT tenant_key, postcode, fee, min_order, eta_min
		FROM delivery_exceptions WHERE tenant_key = ? AND postcode = ?`, tenantKey, postcode,
	).Scan(&e.TenantKey, &e.Postcode, &e.Fee, &e.MinOrder, &e.ETAMin)
	if err == sql.ErrNoRows {
		return DeliveryException{}, ErrNotFound
	}
	return e, err
}

// GetBranch returns one branch by id.
func (s *Store) GetBranch(tenantKey, id string) (Branch, error) {
	var b Branch
	err := s.db.QueryRow(`
		SELECT tenant_key, id, name, postcode, phone, lat, lon, hours
		FROM branches WHERE tenant_key = ? AND id = ?`, tenantKey, id,
	).Scan(&b.TenantKey, &b.ID, &b.Name, &b.Postcode, &b.Phone, &b.Lat, &b.Lon, &b.Hours)
	if err == sql.ErrNoRows {
		return Branch{}, ErrNotFound
	}
	return b, err
}

// ListBranches returns all branches of a tenant ordered by id.
func (s *Store) ListBranches(tenantKey string) ([]Branch, error) {
	rows, err := s.db.Query(`
		SELECT tenant_key, id, name, postcode, phone, lat, lon, hours
		FROM branches WHERE tenant_key = ? ORDER BY id`, tenantKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.TenantKey, &b.ID, &b.Name, &b.Postcode, &b.Phone, &b.Lat, &b.Lon, &b.Hours); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetFAQ returns one FAQ entry by id.
func (s *Store) GetFAQ(tenantKey, id string) (FAQ, error) {
	var f FAQ
	err := s.db.QueryRow(`
		SELECT tenant_key, id, question, answer, tags
		FROM faqs WHERE tenant_key = ? AND id = ?`, tenantKey, id,
	).Scan(&f.TenantKey, &f.ID, &f.Question, &f.Answer, &f.Tags)
	if err == sql.ErrNoRows {
		return FAQ{}, ErrNotFound
	}
	return f, err
}

// ListFAQs returns all FAQ entries of a tenant ordered by id.
func (s *Store) ListFAQs(tenantKey string) ([]FAQ, error) {
	rows, err := s.db.Query(`
		SELECT tenant_key, id, question, answer, tags
		FROM faqs WHERE tenant_key = ? ORDER BY id`, tenantKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FAQ
	for rows.Next() {
		var f FAQ
		if err := rows.Scan(&f.TenantKey, &f.ID, &f.Question, &f.Answer, &f.Tags); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListSynonyms returns term -> canonical mappings of a tenant.
func (s *Store) ListSynonyms(tenantKey string) ([]Synonym, error) {
	rows, err := s.db.Query(`
		SELECT tenant_key, term, canonical FROM synonyms WHERE tenant_key = ? ORDER BY term`, tenantKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Synonym
	for rows.Next() {
		var sy Synonym
		if err := rows.Scan(&sy.TenantKey, &sy.Term, &sy.Canonical); err != nil {
			return nil, err
		}
		out = append(out, sy)
	}
	return out, rows.Err()
}

// SetTenantConfig upserts a per-tenant config key.
func (s *Store) SetTenantConfig(tenantKey, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO tenant_config (tenant_key, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_key, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		tenantKey, key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetTenantConfig returns all config keys of a tenant.
func (s *Store) GetTenantConfig(tenantKey string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM tenant_config WHERE tenant_key = ?`, tenantKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
