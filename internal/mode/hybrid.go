package mode

import (
	"context"
)

// Hybrid retrieves exactly like Deterministic but asks for a tone rewrite
// of the rendered draft. The rewrite is cosmetic only: the orchestrator
// re-verifies the rewritten text's claims and falls back to the plain
// draft when the claim set drifts.
type Hybrid struct {
	inner *Deterministic
}

// NewHybrid creates the hybrid strategy over the same gateway.
func NewHybrid(gateway Gateway) *Hybrid {
	return &Hybrid{inner: NewDeterministic(gateway)}
}

func (h *Hybrid) Name() string { return "hybrid" }

func (h *Hybrid) Respond(ctx context.Context, req Request) (Draft, error) {
	draft, err := h.inner.Respond(ctx, req)
	if err != nil {
		return Draft{}, err
	}
	// Fallback and template-only replies carry no facts; rewriting them is
	// still safe, and keeps a single tenant voice.
	draft.WantRewrite = true
	return draft, nil
}
