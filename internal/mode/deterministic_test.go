package mode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tendaro/tendaro/internal/dialog"
	"github.com/tendaro/tendaro/internal/retrieval"
	"github.com/tendaro/tendaro/internal/storage"
)

type mockGateway struct {
	lookupFn        func(ctx context.Context, tenantKey, claimKey string) (dialog.Fact, error)
	searchItemsFn   func(ctx context.Context, tenantKey, query string, tags []string, limit int) ([]dialog.Fact, error)
	bestFAQFn       func(ctx context.Context, tenantKey, question string, hintTags []string) (storage.FAQ, dialog.Fact, error)
	nearestBranchFn func(ctx context.Context, tenantKey, postcode string) (storage.Branch, dialog.Fact, error)
}

func (m *mockGateway) Lookup(ctx context.Context, tenantKey, claimKey string) (dialog.Fact, error) {
	if m.lookupFn == nil {
		return dialog.Fact{}, retrieval.ErrNotFound
	}
	return m.lookupFn(ctx, tenantKey, claimKey)
}

func (m *mockGateway) SearchItems(ctx context.Context, tenantKey, query string, tags []string, limit int) ([]dialog.Fact, error) {
	if m.searchItemsFn == nil {
		return nil, nil
	}
	return m.searchItemsFn(ctx, tenantKey, query, tags, limit)
}

func (m *mockGateway) BestFAQ(ctx context.Context, tenantKey, question string, hintTags []string) (storage.FAQ, dialog.Fact, error) {
	if m.bestFAQFn == nil {
		return storage.FAQ{}, dialog.Fact{}, retrieval.ErrNotFound
	}
	return m.bestFAQFn(ctx, tenantKey, question, hintTags)
}

func (m *mockGateway) NearestBranch(ctx context.Context, tenantKey, postcode string) (storage.Branch, dialog.Fact, error) {
	if m.nearestBranchFn == nil {
		return storage.Branch{}, dialog.Fact{}, retrieval.ErrNotFound
	}
	return m.nearestBranchFn(ctx, tenantKey, postcode)
}

// factLookup returns a lookupFn backed by a fixed key/value map.
func factLookup(facts map[string]string) func(context.Context, string, string) (dialog.Fact, error) {
	return func(_ context.Context, _, key string) (dialog.Fact, error) {
		val, ok := facts[key]
		if !ok {
			return dialog.Fact{}, retrieval.ErrNotFound
		}
		return dialog.Fact{Key: key, Value: val}, nil
	}
}

func TestDeterministicPriceCheck(t *testing.T) {
	gw := &mockGateway{lookupFn: factLookup(map[string]string{
		"catalog.price.CHICK_WINGS_1KG": "4.50",
		"catalog.stock.CHICK_WINGS_1KG": "in stock",
	})}
	d := NewDeterministic(gw)

	draft, err := d.Respond(context.Background(), Request{
		TenantKey: "halal-house",
		Intent:    dialog.IntentPriceCheck,
		Slots:     dialog.Slots{dialog.SlotSKU: "CHICK_WINGS_1KG"},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if draft.Text != "CHICK_WINGS_1KG is £4.50 and currently in stock." {
		t.Errorf("text = %q", draft.Text)
	}
	if len(draft.Facts) != 2 {
		t.Errorf("got %d facts, want price and stock", len(draft.Facts))
	}
	if draft.WantRewrite {
		t.Error("deterministic drafts must not ask for a rewrite")
	}
}

func TestDeterministicFailsClosed(t *testing.T) {
	d := NewDeterministic(&mockGateway{})

	for _, intent := range []dialog.IntentKind{dialog.IntentPriceCheck, dialog.IntentProductSearch, dialog.IntentFAQ, dialog.IntentStoreInfo} {
		draft, err := d.Respond(context.Background(), Request{
			TenantKey: "halal-house",
			Intent:    intent,
			Slots:     dialog.Slots{dialog.SlotSKU: "GONE", dialog.SlotItem: "unicorn"},
		})
		if err != nil {
			t.Fatalf("Respond(%s): %v", intent, err)
		}
		if draft.Text != fallbackText {
			t.Errorf("%s: text = %q, want the honest fallback", intent, draft.Text)
		}
		if len(draft.Facts) != 0 {
			t.Errorf("%s: fallback must assert no facts, got %d", intent, len(draft.Facts))
		}
	}
}

func TestDeterministicDeliveryNotCovered(t *testing.T) {
	d := NewDeterministic(&mockGateway{})

	draft, err := d.Respond(context.Background(), Request{
		TenantKey: "halal-house",
		Intent:    dialog.IntentDeliveryQuote,
		Slots:     dialog.Slots{dialog.SlotPostcode: "SW1A 1AA"},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if draft.Text != "Sorry, we don't deliver to SW1A1AA at the moment." {
		t.Errorf("text = %q", draft.Text)
	}
}

func TestDeterministicProductSearch(t *testing.T) {
	gw := &mockGateway{
		searchItemsFn: func(_ context.Context, _, query string, tags []string, limit int) ([]dialog.Fact, error) {
			if limit != 3 {
				t.Errorf("limit = %d, want 3", limit)
			}
			return []dialog.Fact{
				{Key: "catalog.item.CHICK_WINGS_1KG", Value: "Chicken Wings 1kg | £4.50/kg | in stock"},
			}, nil
		},
	}
	d := NewDeterministic(gw)

	draft, err := d.Respond(context.Background(), Request{
		TenantKey: "halal-house",
		Intent:    dialog.IntentProductSearch,
		Slots:     dialog.Slots{dialog.SlotItem: "chicken"},
		Tags:      []string{"chicken"},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(draft.Text, "Chicken Wings 1kg") {
		t.Errorf("text = %q", draft.Text)
	}
	if len(draft.Facts) != 1 {
		t.Errorf("got %d facts", len(draft.Facts))
	}
}

func TestDeterministicStoreInfoResolvesNearest(t *testing.T) {
	gw := &mockGateway{
		nearestBranchFn: func(_ context.Context, _, pc string) (storage.Branch, dialog.Fact, error) {
			return storage.Branch{ID: "br-bethnal"},
				dialog.Fact{Key: "branch.nearest.E26AH", Value: "Bethnal Green (br-bethnal)"}, nil
		},
		lookupFn: factLookup(map[string]string{
			"branch.hours.br-bethnal": `{"mon":"09:00-18:00"}`,
		}),
	}
	d := NewDeterministic(gw)

	draft, err := d.Respond(context.Background(), Request{
		TenantKey: "halal-house",
		Intent:    dialog.IntentStoreInfo,
		Slots:     dialog.Slots{dialog.SlotPostcode: "E2 6AH"},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(draft.Text, "Bethnal Green") || !strings.Contains(draft.Text, "09:00-18:00") {
		t.Errorf("text = %q", draft.Text)
	}
	if len(draft.Facts) != 2 {
		t.Errorf("got %d facts, want nearest and hours", len(draft.Facts))
	}
}

func TestDeterministicStoreInfoRetryKeepsNearestClaim(t *testing.T) {
	hoursCalls := 0
	gw := &mockGateway{
		nearestBranchFn: func(_ context.Context, _, _ string) (storage.Branch, dialog.Fact, error) {
			return storage.Branch{ID: "br-bethnal"},
				dialog.Fact{Key: "branch.nearest.E26AH", Value: "Bethnal Green (br-bethnal)"}, nil
		},
		lookupFn: func(_ context.Context, _, key string) (dialog.Fact, error) {
			hoursCalls++
			if hoursCalls == 1 {
				return dialog.Fact{}, fmt.Errorf("%w: locked", retrieval.ErrUnavailable)
			}
			return dialog.Fact{Key: key, Value: `{"mon":"09:00-18:00"}`}, nil
		},
	}
	d := NewDeterministic(gw)

	draft, err := d.Respond(context.Background(), Request{
		TenantKey: "halal-house",
		Intent:    dialog.IntentStoreInfo,
		Slots:     dialog.Slots{dialog.SlotPostcode: "E2 6AH"},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	// The retried draft must still assert every claim its text makes.
	if !strings.Contains(draft.Text, "Bethnal Green") {
		t.Fatalf("text = %q", draft.Text)
	}
	keys := map[string]bool{}
	for _, f := range draft.Facts {
		keys[f.Key] = true
	}
	if !keys["branch.nearest.E26AH"] || !keys["branch.hours.br-bethnal"] {
		t.Errorf("facts = %v, want nearest and hours claims", keys)
	}
}

func TestDeterministicDeliveryNotCoveredPointsAtBranch(t *testing.T) {
	gw := &mockGateway{
		nearestBranchFn: func(_ context.Context, _, _ string) (storage.Branch, dialog.Fact, error) {
			return storage.Branch{ID: "br-bethnal"},
				dialog.Fact{Key: "branch.nearest.SW1A1AA", Value: "Bethnal Green (br-bethnal)"}, nil
		},
	}
	d := NewDeterministic(gw)

	draft, err := d.Respond(context.Background(), Request{
		TenantKey: "halal-house",
		Intent:    dialog.IntentDeliveryQuote,
		Slots:     dialog.Slots{dialog.SlotPostcode: "SW1A 1AA"},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !strings.Contains(draft.Text, "don't deliver to SW1A1AA") ||
		!strings.Contains(draft.Text, "nearest branch, Bethnal Green (br-bethnal)") {
		t.Errorf("text = %q", draft.Text)
	}
	if len(draft.Facts) != 1 || draft.Facts[0].Key != "branch.nearest.SW1A1AA" {
		t.Errorf("facts = %+v, want the nearest-branch claim", draft.Facts)
	}
}

func TestDeterministicFAQInterpolation(t *testing.T) {
	gw := &mockGateway{
		bestFAQFn: func(_ context.Context, _, _ string, _ []string) (storage.FAQ, dialog.Fact, error) {
			return storage.FAQ{ID: "faq-delivery"},
				dialog.Fact{Key: "faq.answer.faq-delivery", Value: "We deliver to {postcode} most days."}, nil
		},
	}
	d := NewDeterministic(gw)

	draft, err := d.Respond(context.Background(), Request{
		TenantKey: "halal-house",
		Intent:    dialog.IntentFAQ,
		Query:     "do you deliver",
		Slots:     dialog.Slots{dialog.SlotPostcode: "E1 6AN"},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if draft.Text != "We deliver to E1 6AN most days." {
		t.Errorf("text = %q", draft.Text)
	}

	// Missing values leave the placeholder visible rather than a blank.
	draft, err = d.Respond(context.Background(), Request{
		TenantKey: "halal-house",
		Intent:    dialog.IntentFAQ,
		Query:     "do you deliver",
	})
	if err != nil {
		t.Fatalf("Respond without slot: %v", err)
	}
	if !strings.Contains(draft.Text, "{postcode}") {
		t.Errorf("text = %q, want placeholder kept", draft.Text)
	}
}

func TestWithRetryRecoversOnce(t *testing.T) {
	calls := 0
	gw := &mockGateway{
		lookupFn: func(_ context.Context, _, key string) (dialog.Fact, error) {
			calls++
			if calls == 1 {
				return dialog.Fact{}, fmt.Errorf("%w: locked", retrieval.ErrUnavailable)
			}
			return dialog.Fact{Key: key, Value: "4.50"}, nil
		},
	}
	d := NewDeterministic(gw)

	draft, err := d.Respond(context.Background(), Request{
		TenantKey: "halal-house",
		Intent:    dialog.IntentDeliveryQuote,
		Slots:     dialog.Slots{dialog.SlotPostcode: "E1 6AN"},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if calls != 2 {
		t.Errorf("lookup called %d times, want 2 (one retry)", calls)
	}
	if !strings.Contains(draft.Text, "4.50") {
		t.Errorf("text = %q", draft.Text)
	}
}

func TestWithRetryGivesUpAfterOneRetry(t *testing.T) {
	calls := 0
	gw := &mockGateway{
		lookupFn: func(_ context.Context, _, _ string) (dialog.Fact, error) {
			calls++
			return dialog.Fact{}, fmt.Errorf("%w: still locked", retrieval.ErrUnavailable)
		},
	}
	d := NewDeterministic(gw)

	_, err := d.Respond(context.Background(), Request{
		TenantKey: "halal-house",
		Intent:    dialog.IntentDeliveryQuote,
		Slots:     dialog.Slots{dialog.SlotPostcode: "E1 6AN"},
	})
	if !errors.Is(err, retrieval.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if calls != 2 {
		t.Errorf("lookup called %d times, want exactly 2", calls)
	}
}

func TestHybridSetsWantRewrite(t *testing.T) {
	gw := &mockGateway{lookupFn: factLookup(map[string]string{
		"catalog.price.CHICK_WINGS_1KG": "4.50",
		"catalog.stock.CHICK_WINGS_1KG": "in stock",
	})}
	h := NewHybrid(gw)

	draft, err := h.Respond(context.Background(), Request{
		TenantKey: "halal-house",
		Intent:    dialog.IntentPriceCheck,
		Slots:     dialog.Slots{dialog.SlotSKU: "CHICK_WINGS_1KG"},
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !draft.WantRewrite {
		t.Error("hybrid drafts must ask for a rewrite")
	}
	if len(draft.Facts) != 2 {
		t.Errorf("got %d facts, want the deterministic retrieval unchanged", len(draft.Facts))
	}
}
