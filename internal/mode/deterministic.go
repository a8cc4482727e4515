package mode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tendaro/tendaro/internal/dialog"
	"github.com/tendaro/tendaro/internal/retrieval"
)

// Deterministic is the template-only strategy: every reply is rendered
// from retrieved facts with fixed wording, and it fails closed with the
// honest fallback whenever nothing grounded matches. No rewrite pass.
type Deterministic struct {
	gateway Gateway
	// SearchLimit caps product-search results in one reply.
	SearchLimit int
}

// NewDeterministic creates the deterministic strategy.
func NewDeterministic(gateway Gateway) *Deterministic {
	return &Deterministic{gateway: gateway, SearchLimit: 3}
}

func (d *Deterministic) Name() string { return "deterministic" }

// Respond renders a templated reply for the routed intent. Required slots
// are guaranteed present by the clarifier before dispatch.
func (d *Deterministic) Respond(ctx context.Context, req Request) (Draft, error) {
	switch req.Intent {
	case dialog.IntentGreeting:
		return Draft{Text: "Hello! Ask me about products, prices, delivery, or opening hours."}, nil
	case dialog.IntentSmalltalk:
		return Draft{Text: "Happy to help with products, prices, delivery, and opening hours."}, nil
	case dialog.IntentProductSearch:
		return d.productSearch(ctx, req)
	case dialog.IntentPriceCheck:
		return d.priceCheck(ctx, req)
	case dialog.IntentDeliveryQuote:
		return d.deliveryQuote(ctx, req)
	case dialog.IntentStoreInfo:
		return d.storeInfo(ctx, req)
	case dialog.IntentFAQ:
		return d.faq(ctx, req)
	}
	return Draft{Text: fallbackText}, nil
}

func (d *Deterministic) productSearch(ctx context.Context, req Request) (Draft, error) {
	query := req.Slots.Get(dialog.SlotItem)
	if v := req.Slots.Get(dialog.SlotVariant); v != "" {
		query += " " + v
	}

	var facts []dialog.Fact
	err := withRetry(ctx, func() error {
		var err error
		facts, err = d.gateway.SearchItems(ctx, req.TenantKey, query, req.Tags, d.SearchLimit)
		return err
	})
	if err != nil {
		return Draft{}, err
	}
	if len(facts) == 0 {
		return Draft{Text: fallbackText}, nil
	}

	var b strings.Builder
	b.WriteString("Here's what I found:")
	for _, f := range facts {
		b.WriteString("\n- ")
		b.WriteString(f.Value)
	}
	return Draft{Text: b.String(), Facts: facts}, nil
}

func (d *Deterministic) priceCheck(ctx context.Context, req Request) (Draft, error) {
	sku := req.Slots.Get(dialog.SlotSKU)

	var price, stock dialog.Fact
	err := withRetry(ctx, func() error {
		var err error
		if price, err = d.gateway.Lookup(ctx, req.TenantKey, "catalog.price."+sku); err != nil {
			return err
		}
		stock, err = d.gateway.Lookup(ctx, req.TenantKey, "catalog.stock."+sku)
		return err
	})
	if errors.Is(err, retrieval.ErrNotFound) {
		return Draft{Text: fallbackText}, nil
	}
	if err != nil {
		return Draft{}, err
	}

	text := fmt.Sprintf("%s is £%s and currently %s.", sku, price.Value, stock.Value)
	return Draft{Text: text, Facts: []dialog.Fact{price, stock}}, nil
}

func (d *Deterministic) deliveryQuote(ctx context.Context, req Request) (Draft, error) {
	pc := retrieval.NormalizePostcode(req.Slots.Get(dialog.SlotPostcode))

	var rule dialog.Fact
	err := withRetry(ctx, func() error {
		var err error
		rule, err = d.gateway.Lookup(ctx, req.TenantKey, "delivery.rule."+pc)
		return err
	})
	if errors.Is(err, retrieval.ErrNotFound) {
		return d.notCovered(ctx, req, pc), nil
	}
	if err != nil {
		return Draft{}, err
	}

	text := fmt.Sprintf("Delivery to %s: %s.", pc, rule.Value)
	return Draft{Text: text, Facts: []dialog.Fact{rule}}, nil
}

// notCovered renders the honest no-delivery reply, pointing at the
// nearest branch when one resolves. A branch lookup failure degrades to
// the plain reply rather than failing the turn.
func (d *Deterministic) notCovered(ctx context.Context, req Request, pc string) Draft {
	text := fmt.Sprintf("Sorry, we don't deliver to %s at the moment.", pc)
	_, nearest, err := d.gateway.NearestBranch(ctx, req.TenantKey, pc)
	if err != nil {
		return Draft{Text: text}
	}
	return Draft{
		Text:  fmt.Sprintf("%s You can still visit our nearest branch, %s.", text, nearest.Value),
		Facts: []dialog.Fact{nearest},
	}
}

func (d *Deterministic) storeInfo(ctx context.Context, req Request) (Draft, error) {
	slotBranch := req.Slots.Get(dialog.SlotBranch)
	pc := req.Slots.Get(dialog.SlotPostcode)

	var facts []dialog.Fact
	var branchID, intro string
	err := withRetry(ctx, func() error {
		// Fully restart on retry so a re-run can't carry a branch
		// whose claim never made it into facts.
		facts, branchID, intro = facts[:0], slotBranch, ""
		if branchID == "" {
			b, nearest, err := d.gateway.NearestBranch(ctx, req.TenantKey, pc)
			if err != nil {
				return err
			}
			branchID = b.ID
			intro = fmt.Sprintf("Your nearest branch is %s.", nearest.Value)
			facts = append(facts, nearest)
		}
		hours, err := d.gateway.Lookup(ctx, req.TenantKey, "branch.hours."+branchID)
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

	text := strings.TrimSpace(intro + " Opening hours: " + facts[len(facts)-1].Value + ".")
	return Draft{Text: text, Facts: facts}, nil
}

func (d *Deterministic) faq(ctx context.Context, req Request) (Draft, error) {
	var fact dialog.Fact
	err := withRetry(ctx, func() error {
		var err error
		_, fact, err = d.gateway.BestFAQ(ctx, req.TenantKey, req.Query, req.Tags)
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

// interpolate substitutes {name} placeholders from vars. Unknown or empty
// placeholders stay verbatim so the reader sees what's missing rather
// than a silent blank.
func interpolate(text string, vars map[string]string) string {
	for k, v := range vars {
		if v == "" {
			continue
		}
		text = strings.ReplaceAll(text, "{"+k+"}", v)
	}
	return text
}
