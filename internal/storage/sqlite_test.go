package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBundle() TenantBundle {
	return TenantBundle{
		Name: "Halal House",
		Items: []CatalogItem{
			{SKU: "CHICK_WINGS_1KG", Name: "Chicken Wings 1kg", CategoryID: "poultry", Price: 4.50, Unit: "kg", Tags: `["chicken","wings"]`, InStock: true},
			{SKU: "LAMB_MINCE_500G", Name: "Lamb Mince 500g", CategoryID: "lamb", Price: 5.25, Unit: "pack", Tags: `["lamb","mince"]`, InStock: false},
		},
		Areas: []DeliveryArea{
			{Prefix: "E1", Fee: 2.50, MinOrder: 15, ETAMin: 45},
		},
		Exceptions: []DeliveryException{
			{Postcode: "E16AN", Fee: 0, MinOrder: 25, ETAMin: 30},
		},
		Branches: []Branch{
			{ID: "br-bethnal", Name: "Bethnal Green", Postcode: "E2 6AH", Hours: `{"mon":"09:00-18:00"}`},
		},
		FAQs: []FAQ{
			{ID: "faq-halal", Question: "Is all your meat halal certified?", Answer: "Yes, all our meat is 100% halal certified.", Tags: `["halal"]`},
		},
		Synonyms: []Synonym{
			{Term: "murgh", Canonical: "chicken"},
		},
	}
}

func TestReplaceTenantBundleBumpsVersion(t *testing.T) {
	s := openTestStore(t)

	v1, err := s.ReplaceTenantBundle("halal-house", testBundle())
	if err != nil {
		t.Fatalf("ReplaceTenantBundle: %v", err)
	}
	if v1 != 1 {
		t.Errorf("first import version = %d, want 1", v1)
	}

	v2, err := s.ReplaceTenantBundle("halal-house", testBundle())
	if err != nil {
		t.Fatalf("second ReplaceTenantBundle: %v", err)
	}
	if v2 != 2 {
		t.Errorf("second import version = %d, want 2", v2)
	}

	got, err := s.SnapshotVersion("halal-house")
	if err != nil {
		t.Fatalf("SnapshotVersion: %v", err)
	}
	if got != v2 {
		t.Errorf("SnapshotVersion = %d, want %d", got, v2)
	}
}

func TestReplaceTenantBundleReplacesRows(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.ReplaceTenantBundle("halal-house", testBundle()); err != nil {
		t.Fatalf("ReplaceTenantBundle: %v", err)
	}

	smaller := testBundle()
	smaller.Items = smaller.Items[:1]
	if _, err := s.ReplaceTenantBundle("halal-house", smaller); err != nil {
		t.Fatalf("second ReplaceTenantBundle: %v", err)
	}

	items, err := s.ListCatalogItems("halal-house")
	if err != nil {
		t.Fatalf("ListCatalogItems: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("got %d items after replace, want 1", len(items))
	}
	if _, err := s.GetCatalogItem("halal-house", "LAMB_MINCE_500G"); !errors.Is(err, ErrNotFound) {
		t.Errorf("removed item lookup error = %v, want ErrNotFound", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.ReplaceTenantBundle("halal-house", testBundle()); err != nil {
		t.Fatalf("ReplaceTenantBundle: %v", err)
	}
	other := testBundle()
	other.Name = "Other Shop"
	if _, err := s.ReplaceTenantBundle("other-shop", other); err != nil {
		t.Fatalf("ReplaceTenantBundle other: %v", err)
	}

	if _, err := s.GetCatalogItem("other-shop", "CHICK_WINGS_1KG"); err != nil {
		t.Fatalf("other tenant should see its own item: %v", err)
	}

	smaller := testBundle()
	smaller.Items = nil
	if _, err := s.ReplaceTenantBundle("halal-house", smaller); err != nil {
		t.Fatalf("ReplaceTenantBundle: %v", err)
	}
	if _, err := s.GetCatalogItem("other-shop", "CHICK_WINGS_1KG"); err != nil {
		t.Errorf("replacing one tenant must not touch another: %v", err)
	}
}

func TestGetDeliveryExceptionAndArea(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.ReplaceTenantBundle("halal-house", testBundle()); err != nil {
		t.Fatalf("ReplaceTenantBundle: %v", err)
	}

	ex, err := s.GetDeliveryException("halal-house", "E16AN")
	if err != nil {
		t.Fatalf("GetDeliveryException: %v", err)
	}
	if ex.MinOrder != 25 {
		t.Errorf("exception MinOrder = %v, want 25", ex.MinOrder)
	}

	area, err := s.GetDeliveryArea("halal-house", "E1")
	if err != nil {
		t.Fatalf("GetDeliveryArea: %v", err)
	}
	if area.Fee != 2.50 {
		t.Errorf("area Fee = %v, want 2.50", area.Fee)
	}

	if _, err := s.GetDeliveryArea("halal-house", "N1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown prefix error = %v, want ErrNotFound", err)
	}
}

func TestJobComplete(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "job-c", Type: "tenant_reindex", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	claimed, err := s.ClaimNextJob([]string{"tenant_reindex"})
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextJob = %+v, %v", claimed, err)
	}
	if err := s.CompleteJob(claimed.ID); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	again, err := s.ClaimNextJob([]string{"tenant_reindex"})
	if err != nil {
		t.Fatalf("ClaimNextJob after complete: %v", err)
	}
	if again != nil {
		t.Errorf("completed job was claimed again: %+v", again)
	}
}

func TestJobRetryBackoffThenTerminalFail(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "job-1", Type: "tenant_reindex", PayloadJSON: `{"tenant_key":"halal-house"}`, MaxAttempts: 2}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"tenant_reindex"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed == nil || claimed.ID != "job-1" {
		t.Fatalf("claimed = %+v, want job-1", claimed)
	}

	// Running job is not claimable again.
	again, err := s.ClaimNextJob([]string{"tenant_reindex"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("claimed running job %s twice", again.ID)
	}

	if err := s.FailJob("job-1", "index build failed"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	// First failure reschedules with backoff; force it due now.
	if _, err := s.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), "job-1"); err != nil {
		t.Fatalf("resetting run_after: %v", err)
	}

	claimed, err = s.ClaimNextJob([]string{"tenant_reindex"})
	if err != nil {
		t.Fatalf("reclaim after fail: %v", err)
	}
	if claimed == nil {
		t.Fatal("failed job should be retryable before max_attempts")
	}

	// Second failure hits max_attempts and goes terminal.
	if err := s.FailJob("job-1", "index build failed again"); err != nil {
		t.Fatalf("second FailJob: %v", err)
	}
	claimed, err = s.ClaimNextJob([]string{"tenant_reindex"})
	if err != nil {
		t.Fatalf("claim after terminal fail: %v", err)
	}
	if claimed != nil {
		t.Errorf("terminally failed job was claimed: %+v", claimed)
	}
}

func TestSessionExpiry(t *testing.T) {
	s := openTestStore(t)

	row := SessionRow{
		TenantKey: "halal-house",
		SessionID: "sess-1",
		StateJSON: `{}`,
		UpdatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	if err := s.SaveSession(row); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	if _, err := s.GetSession("halal-house", "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired session error = %v, want ErrNotFound", err)
	}

	n, err := s.PurgeExpiredSessions()
	if err != nil {
		t.Fatalf("PurgeExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
}

func TestTurnAuditRoundTrip(t *testing.T) {
	s := openTestStore(t)

	a := TurnAudit{
		ID:        "turn-1",
		TenantKey: "halal-house",
		SessionID: "sess-1",
		Intent:    "price_check",
		Outcome:   "answered",
		ClaimKeys: `["catalog.price.CHICK_WINGS_1KG"]`,
		LatencyMs: 12,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveTurnAudit(a); err != nil {
		t.Fatalf("SaveTurnAudit: %v", err)
	}

	turns, err := s.RecentTurns("halal-house", 10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 1 || turns[0].Intent != "price_check" {
		t.Errorf("RecentTurns = %+v, want the stored turn", turns)
	}
}
