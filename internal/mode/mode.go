// Package mode holds the reply strategies. Every strategy turns a routed
// request into a grounded draft; the orchestrator verifies the draft's
// facts before anything reaches the user.
package mode

import (
	"context"
	"errors"
	"time"

	"github.com/tendaro/tendaro/internal/dialog"
	"github.com/tendaro/tendaro/internal/retrieval"
	"github.com/tendaro/tendaro/internal/storage"
)

// ErrBudgetExceeded means a strategy's retrieval plan would exceed its
// step cap. The turn fails rather than emitting a partially grounded
// answer.
var ErrBudgetExceeded = errors.New("retrieval step budget exceeded")

// Request is one routed turn handed to a strategy. Slots are the merged
// session slots, not just this utterance's.
type Request struct {
	TenantKey string
	SessionID string
	Intent    dialog.IntentKind
	Slots     dialog.Slots
	Query     string
	Tags      []string
	// StepCap is the tenant's retrieval budget for multi-step
	// strategies; zero means the strategy's own default.
	StepCap int
}

// Draft is a strategy's candidate reply: text plus every fact the text
// asserts. WantRewrite asks the orchestrator for a tone pass, which is
// always followed by re-verification.
type Draft struct {
	Text        string
	Facts       []dialog.Fact
	WantRewrite bool
}

// Strategy produces a grounded draft for one turn.
type Strategy interface {
	Name() string
	Respond(ctx context.Context, req Request) (Draft, error)
}

// Gateway is the retrieval capability strategies draw facts from.
type Gateway interface {
	Lookup(ctx context.Context, tenantKey, claimKey string) (dialog.Fact, error)
	SearchItems(ctx context.Context, tenantKey, query string, tags []string, limit int) ([]dialog.Fact, error)
	BestFAQ(ctx context.Context, tenantKey, question string, hintTags []string) (storage.FAQ, dialog.Fact, error)
	NearestBranch(ctx context.Context, tenantKey, postcode string) (storage.Branch, dialog.Fact, error)
}

// retryBackoff is the pause before the single retry of a transient
// retrieval failure.
const retryBackoff = 150 * time.Millisecond

// withRetry runs fn, retrying exactly once after a short backoff when the
// store reports itself unavailable. Not-found and bad-key errors pass
// through untouched; they will not heal on retry.
func withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, retrieval.ErrUnavailable) {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retryBackoff):
	}
	return fn()
}

// fallbackText is the honest no-answer reply used when nothing grounded
// matches. It asserts no claims, so it always passes verification.
const fallbackText = "Not in my info, sorry. I can check products, prices, delivery, and opening hours."
