package mode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tendaro/tendaro/internal/dialog"
	"github.com/tendaro/tendaro/internal/retrieval"
)

// DefaultStepCap bounds how many retrieval steps one flagship turn may
// spend.
const DefaultStepCap = 4

// Verifier lets the flagship strategy check intermediate facts before
// composing with them. The orchestrator still verifies the final draft.
type Verifier interface {
	Verify(ctx context.Context, tenantKey string, claims []dialog.Fact) ([]dialog.VerificationResult, error)
}

// Flagship is the multi-step strategy: it plans several retrieval steps
// per turn (the primary answer plus grounded enrichments like a delivery
// quote alongside a product search), verifies intermediate facts, and
// fails with ErrBudgetExceeded rather than exceeding its step cap.
type Flagship struct {
	gateway  Gateway
	verifier Verifier
	stepCap  int
}

// NewFlagship creates the flagship strategy. stepCap <= 0 selects the
// default.
func NewFlagship(gateway Gateway, verifier Verifier, stepCap int) *Flagship {
	if stepCap <= 0 {
		stepCap = DefaultStepCap
	}
	return &Flagship{gateway: gateway, verifier: verifier, stepCap: stepCap}
}

func (f *Flagship) Name() string { return "flagship" }

// budget counts retrieval steps. Every gateway call takes one step; the
// turn aborts when the cap would be exceeded.
type budget struct {
	used int
	cap_ int
}

func (b *budget) take(n int) error {
	if b.used+n > b.cap_ {
		return fmt.Errorf("%w: need %d steps, %d of %d left", ErrBudgetExceeded, n, b.cap_-b.used, b.cap_)
	}
	b.used += n
	return nil
}

func (f *Flagship) Respond(ctx context.Context, req Request) (Draft, error) {
	cap_ := f.stepCap
	if req.StepCap > 0 {
		cap_ = req.StepCap
	}
	b := &budget{cap_: cap_}

	var draft Draft
	var err error
	switch req.Intent {
	case dialog.IntentGreeting:
		return Draft{Text: "Hello! Ask me about products, prices, delivery, or opening hours.", WantRewrite: true}, nil
	case dialog.IntentSmalltalk:
		return Draft{Text: "Happy to help with products, prices, delivery, and opening hours.", WantRewrite: true}, nil
	case dialog.IntentProductSearch:
		draft, err = f.productSearch(ctx, req, b)
	case dialog.IntentPriceCheck:
		draft, err = f.priceCheck(ctx, req, b)
	case dialog.IntentDeliveryQuote:
		draft, err = f.deliveryQuote(ctx, req, b)
	case dialog.IntentStoreInfo:
		draft, err = f.storeInfo(ctx, req, b)
	case dialog.IntentFAQ:
		draft, err = f.faq(ctx, req, b)
	default:
		return Draft{Text: fallbackText, WantRewrite: true}, nil
	}
	if err != nil {
		return Draft{}, err
	}
	draft.WantRewrite = true
	return draft, nil
}

// checkFacts verifies intermediate facts and returns only the ones that
// still hold. A stale or vanished enrichment is dropped, not emitted.
func (f *Flagship) checkFacts(ctx context.Context, tenantKey string, facts []dialog.Fact) ([]dialog.Fact, error) {
	if len(facts) == 0 {
		return nil, nil
	}
	results, err := f.verifier.Verify(ctx, tenantKey, facts)
	if err != nil {
		return nil, err
	}
	var ok []dialog.Fact
	for _, r := range results {
		if r.Status == dialog.StatusVerified {
			ok = append(ok, r.Fact)
		}
	}
	return ok, nil
}

func (f *Flagship) productSearch(ctx context.Context, req Request, b *budget) (Draft, error) {
	if err := b.take(1); err != nil {
		return Draft{}, err
	}

	query := req.Slots.Get(dialog.SlotItem)
	if v := req.Slots.Get(dialog.SlotVariant); v != "" {
		query += " " + v
	}

	var items []dialog.Fact
	err := withRetry(ctx, func() error {
		var err error
		items, err = f.gateway.SearchItems(ctx, req.TenantKey, query, req.Tags, 3)
		return err
	})
	if err != nil {
		return Draft{}, err
	}
	if len(items) == 0 {
		return Draft{Text: fallbackText}, nil
	}

	// Enrichment: a delivery quote when the session already knows the
	// postcode, budget permitting.
	var extras []dialog.Fact
	if pc := retrieval.NormalizePostcode(req.Slots.Get(dialog.SlotPostcode)); pc != "" && b.take(1) == nil {
		rule, err := f.gateway.Lookup(ctx, req.TenantKey, "delivery.rule."+pc)
		if err == nil {
			extras = append(extras, rule)
		} else if !errors.Is(err, retrieval.ErrNotFound) {
			return Draft{}, err
		}
	}

	facts, err := f.checkFacts(ctx, req.TenantKey, append(append([]dialog.Fact{}, items...), extras...))
	if err != nil {
		return Draft{}, err
	}
	if len(facts) == 0 {
		return Draft{Text: fallbackText}, nil
	}

	var sb strings.Builder
	sb.WriteString("Here's what I found:")
	for _, fc := range facts {
		if strings.HasPrefix(fc.Key, "catalog.item.") {
			sb.WriteString("\n- ")
			sb.WriteString(fc.Value)
		}
	}
	for _, fc := range facts {
		if strings.HasPrefix(fc.Key, "delivery.rule.") {
			pc := retrieval.SKUFromClaimKey(fc.Key)
			sb.WriteString(fmt.Sprintf("\nDelivery to %s: %s.", pc, fc.Value))
		}
	}
	return Draft{Text: sb.String(), Facts: facts}, nil
}

func (f *Flagship) priceCheck(ctx context.Context, req Request, b *budget) (Draft, error) {
	if err := b.take(3); err != nil {
		return Draft{}, err
	}

	sku := req.Slots.Get(dialog.SlotSKU)
	keys := []string{"catalog.price." + sku, "catalog.stock." + sku, "catalog.item." + sku}
	facts := make([]dialog.Fact, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for i, key := range keys {
		g.Go(func() error {
			return withRetry(gctx, func() error {
				var err error
				facts[i], err = f.gateway.Lookup(gctx, req.TenantKey, key)
				return err
			})
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, retrieval.ErrNotFound) {
			return Draft{Text: fallbackText}, nil
		}
		return Draft{}, err
	}

	verified, err := f.checkFacts(ctx, req.TenantKey, facts)
	if err != nil {
		return Draft{}, err
	}
	if len(verified) < len(keys) {
		return Draft{Text: fallbackText}, nil
	}

	text := fmt.Sprintf("%s — £%s, %s. Full listing: %s.", sku, verified[0].Value, verified[1].Value, verified[2].Value)
	return Draft{Text: text, Facts: verified}, nil
}

func (f *Flagship) deliveryQuote(ctx context.Context, req Request, b *budget) (Draft, error) {
	if err := b.take(3); err != nil {
		return Draft{}, err
	}

	pc := retrieval.NormalizePostcode(req.Slots.Get(dialog.SlotPostcode))

	var rule dialog.Fact
	err := withRetry(ctx, func() error {
		var err error
		rule, err = f.gateway.Lookup(ctx, req.TenantKey, "delivery.rule."+pc)
		return err
	})
	if errors.Is(err, retrieval.ErrNotFound) {
		return Draft{Text: fmt.Sprintf("Sorry, we don't deliver to %s at the moment.", pc)}, nil
	}
	if err != nil {
		return Draft{}, err
	}

	branch, nearest, err := f.gateway.NearestBranch(ctx, req.TenantKey, pc)
	if err != nil && !errors.Is(err, retrieval.ErrNotFound) {
		return Draft{}, err
	}

	facts := []dialog.Fact{rule}
	var pickup string
	if err == nil {
		hours, herr := f.gateway.Lookup(ctx, req.TenantKey, "branch.hours."+branch.ID)
		if herr != nil && !errors.Is(herr, retrieval.ErrNotFound) {
			return Draft{}, herr
		}
		if herr == nil {
			facts = append(facts, nearest, hours)
			pickup = fmt.Sprintf(" Collection is available from %s, open %s.", nearest.Value, hours.Value)
		}
	}

	verified, err := f.checkFacts(ctx, req.TenantKey, facts)
	if err != nil {
		return Draft{}, err
	}
	if len(verified) == 0 || verified[0].Key != rule.Key {
		return Draft{Text: fallbackText}, nil
	}
	if len(verified) < len(facts) {
		pickup = ""
		verified = verified[:1]
	}

	text := fmt.Sprintf("Delivery to %s: %s.%s", pc, verified[0].Value, pickup)
	return Draft{Text: text, Facts: verified}, nil
}

func (f *Flagship) storeInfo(ctx context.Context, req Request, b *budget) (Draft, error) {
	if err := b.take(2); err != nil {
		return Draft{}, err
	}

	slotBranch := req.Slots.Get(dialog.SlotBranch)
	pc := req.Slots.Get(dialog.SlotPostcode)

	var facts []dialog.Fact
	var branchID, intro string
	err := withRetry(ctx, func() error {
		// Fully restart on retry so a re-run can't carry a branch
		// whose claim never made it into facts.
		facts, branchID, intro = facts[:0], slotBranch, ""
		if branchID == "" {
			br, nearest, err := f.gateway.NearestBranch(ctx, req.TenantKey, pc)
			if err != nil {
				return err
			}
			branchID = br.ID
			intro = fmt.Sprintf("Your nearest branch is %s.", nearest.Value)
			facts = append(facts, nearest)
		}
		hours, err := f.gateway.Lookup(ctx, req.TenantKey, "branch.hours."+branchID)
		if err != nil {
			return err
		}
		facts = append(facts, hours)
		return nil
	})
	if errors.Is(err, retrieval.ErrNotFound) {
		return Draft{Text: fallbackText}, nil
	}
	if err != nil {
		return Draft{}, err
	}

	verified, err := f.checkFacts(ctx, req.TenantKey, facts)
	if err != nil {
		return Draft{}, err
	}
	if len(verified) < len(facts) {
		return Draft{Text: fallbackText}, nil
	}

	text := strings.TrimSpace(intro + " Opening hours: " + verified[len(verified)-1].Value + ".")
	return Draft{Text: text, Facts: verified}, nil
}

func (f *Flagship) faq(ctx context.Context, req Request, b *budget) (Draft, error) {
	if err := b.take(1); err != nil {
		return Draft{}, err
	}

	var fact dialog.Fact
	err := withRetry(ctx, func() error {
		var err error
		_, fact, err = f.gateway.BestFAQ(ctx, req.TenantKey, req.Query, req.Tags)
		return err
	})
	if errors.Is(err, retrieval.ErrNotFound) {
		return Draft{Text: fallbackText}, nil
	}
	if err != nil {
		return Draft{}, err
	}

	text := interpolate(fact.Value, map[string]string{
		"postcode": req.Slots.Get(dialog.SlotPostcode),
	})
	return Draft{Text: text, Facts: []dialog.Fact{fact}}, nil
}
