// Package grounding checks candidate facts against the retrieval gateway
// before they may appear in any reply. No claim reaches the user without
// passing through Verify.
package grounding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/tendaro/tendaro/internal/dialog"
	"github.com/tendaro/tendaro/internal/retrieval"
)

// Lookup is the gateway capability the verifier re-resolves claims with.
type Lookup interface {
	Lookup(ctx context.Context, tenantKey, claimKey string) (dialog.Fact, error)
}

// Verifier re-resolves claim keys and compares values.
type Verifier struct {
	gateway Lookup
}

// NewVerifier creates a Verifier over the given lookup capability.
func NewVerifier(gateway Lookup) *Verifier {
	return &Verifier{gateway: gateway}
}

// Verify re-resolves every claim against the tenant store. A claim is
// verified only when the fresh value matches the proposed value after
// normalization; not-found when the key no longer resolves; stale when it
// resolves to a different value. A store outage aborts with an error so
// the caller can retry or fail the turn, never emit unverified claims.
func (v *Verifier) Verify(ctx context.Context, tenantKey string, claims []dialog.Fact) ([]dialog.VerificationResult, error) {
	results := make([]dialog.VerificationResult, 0, len(claims))
	for _, claim := range claims {
		fresh, err := v.gateway.Lookup(ctx, tenantKey, claim.Key)
		switch {
		case err == nil:
			status := dialog.StatusStale
			if ValuesMatch(claim.Value, fresh.Value) {
				status = dialog.StatusVerified
			} else {
				slog.Debug("claim went stale",
					"tenant", tenantKey,
					"claim_key", claim.Key,
				)
			}
			results = append(results, dialog.VerificationResult{Fact: claim, Status: status})
		case errors.Is(err, retrieval.ErrNotFound):
			results = append(results, dialog.VerificationResult{Fact: claim, Status: dialog.StatusNotFound})
		default:
			return nil, fmt.Errorf("re-resolving %s: %w", claim.Key, err)
		}
	}
	return results, nil
}

// Strip returns only the verified facts, preserving order.
func Strip(results []dialog.VerificationResult) []dialog.Fact {
	var out []dialog.Fact
	for _, r := range results {
		if r.Status == dialog.StatusVerified {
			out = append(out, r.Fact)
		}
	}
	return out
}

// DiffClaims returns claim keys present in exactly one of the two fact
// sets, sorted. The hybrid/flagship rewrite step must leave this empty: a
// rewrite may change phrasing but never the claim set.
func DiffClaims(before, after []dialog.Fact) []string {
	b := dialog.ClaimKeys(before)
	a := dialog.ClaimKeys(after)

	var diff []string
	for k := range b {
		if !a[k] {
			diff = append(diff, k)
		}
	}
	for k := range a {
		if !b[k] {
			diff = append(diff, k)
		}
	}
	sort.Strings(diff)
	return diff
}

// ValuesMatch compares two claim values: numeric equality when both parse
// as numbers, otherwise string equality after whitespace/case
// normalization.
func ValuesMatch(a, b string) bool {
	na, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	nb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if errA == nil && errB == nil {
		return na == nb
	}
	return retrieval.NormalizeText(a) == retrieval.NormalizeText(b)
}
