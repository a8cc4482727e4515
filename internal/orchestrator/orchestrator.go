// Package orchestrator runs one conversational turn end to end: route,
// clarify, dispatch to the tenant's strategy, verify every claim, and
// only then touch session state. Turns within a session are strictly
// serialized; sessions run concurrently.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendaro/tendaro/internal/clarify"
	"github.com/tendaro/tendaro/internal/dialog"
	"github.com/tendaro/tendaro/internal/grounding"
	"github.com/tendaro/tendaro/internal/mode"
	"github.com/tendaro/tendaro/internal/retrieval"
	"github.com/tendaro/tendaro/internal/rewrite"
	"github.com/tendaro/tendaro/internal/router"
	"github.com/tendaro/tendaro/internal/session"
	"github.com/tendaro/tendaro/internal/storage"
	"github.com/tendaro/tendaro/internal/tenantcfg"
)

// TenantChecker confirms a tenant exists before any work is done for it.
type TenantChecker interface {
	GetTenant(tenantKey string) (storage.Tenant, error)
}

// AuditWriter records completed turns. Audit failures are logged, never
// surfaced to the user.
type AuditWriter interface {
	SaveTurnAudit(a storage.TurnAudit) error
}

// TurnRequest is one inbound user utterance.
type TurnRequest struct {
	TenantKey string
	SessionID string
	Text      string
}

// lockStripes sizes the fixed pool of session mutexes. Hash collisions
// only cost extra serialization, never lost exclusion.
const lockStripes = 128

// Orchestrator wires the per-turn pipeline together.
type Orchestrator struct {
	tenants  TenantChecker
	sessions session.Store
	cache    *retrieval.Cache
	verifier *grounding.Verifier
	config   *tenantcfg.Manager
	rewriter rewrite.Rewriter
	audit    AuditWriter

	strategies map[tenantcfg.Mode]mode.Strategy

	locks [lockStripes]sync.Mutex
}

// New assembles an Orchestrator. rewriter and audit may be nil.
func New(
	tenants TenantChecker,
	sessions session.Store,
	cache *retrieval.Cache,
	verifier *grounding.Verifier,
	config *tenantcfg.Manager,
	rewriter rewrite.Rewriter,
	audit AuditWriter,
	strategies map[tenantcfg.Mode]mode.Strategy,
) *Orchestrator {
	return &Orchestrator{
		tenants:    tenants,
		sessions:   sessions,
		cache:      cache,
		verifier:   verifier,
		config:     config,
		rewriter:   rewriter,
		audit:      audit,
		strategies: strategies,
	}
}

// sessionLock returns the mutex serializing one session's turns. The
// pool is fixed-size so long-running processes never accumulate
// per-session entries.
func (o *Orchestrator) sessionLock(tenantKey, sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(tenantKey))
	h.Write([]byte{0})
	h.Write([]byte(sessionID))
	return &o.locks[h.Sum32()%lockStripes]
}

const escalatedTopicReply = "I've already passed this to our team — someone will be in touch shortly."
const handoffReply = "Of course — I'm passing you to a member of our team now."
const notInInfoReply = "Not in my info, sorry. I can check products, prices, delivery, and opening hours."

// HandleTurn processes one utterance and returns its outcome. State is
// committed only when the turn completes; a failed turn leaves the
// session exactly as it was.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (dialog.TurnOutcome, error) {
	start := time.Now()

	if strings.TrimSpace(req.Text) == "" {
		return dialog.Failed(dialog.ErrKindInvalidInput, "Please type a message."), nil
	}
	if req.TenantKey == "" || req.SessionID == "" {
		return dialog.Failed(dialog.ErrKindInvalidInput, "Missing tenant or session."), nil
	}
	if _, err := o.tenants.GetTenant(req.TenantKey); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return dialog.Failed(dialog.ErrKindInvalidInput, "Unknown tenant."), nil
		}
		return dialog.Failed(dialog.ErrKindUnavailable, "Something went wrong, please try again."), nil
	}

	lock := o.sessionLock(req.TenantKey, req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.sessions.Get(req.TenantKey, req.SessionID)
	if err != nil {
		return dialog.Failed(dialog.ErrKindUnavailable, "Something went wrong, please try again."), nil
	}
	if state == nil {
		state = dialog.NewConversationState(req.TenantKey, req.SessionID, dialog.DefaultHistorySize)
	}

	// All mutations happen on a clone; commit only on success.
	work := state.Clone()
	outcome := o.runTurn(ctx, req, work)

	if outcome.Kind != dialog.OutcomeFailed {
		work.AppendHistory("user", req.Text, start)
		work.AppendHistory("agent", outcome.Text, time.Now())
		work.UpdatedAt = time.Now().UTC()
		if err := o.sessions.Put(work); err != nil {
			slog.Error("persisting session state", "tenant", req.TenantKey, "session", req.SessionID, "error", err)
			return dialog.Failed(dialog.ErrKindUnavailable, "Something went wrong, please try again."), nil
		}
	}

	o.writeAudit(req, work, outcome, time.Since(start))
	return outcome, nil
}

// runTurn is the pipeline body, operating on the cloned state.
func (o *Orchestrator) runTurn(ctx context.Context, req TurnRequest, state *dialog.ConversationState) dialog.TurnOutcome {
	snap, err := o.config.Snapshot(req.TenantKey)
	if err != nil {
		return dialog.Failed(dialog.ErrKindUnavailable, "Something went wrong, please try again.")
	}

	idx, err := o.cache.Get(req.TenantKey)
	if err != nil {
		return dialog.Failed(dialog.ErrKindUnavailable, "Something went wrong, please try again.")
	}

	rt := router.New(snap.ConfidenceThreshold)
	res := rt.Classify(req.Text, idx)
	intent := res.Intent.Kind

	// A clarifier answer rarely classifies as the original intent; resolve
	// the pending slot first, then continue the interrupted topic.
	clarifier := o.clarifierFor(snap)
	if state.PendingSlot != "" {
		if clarifier.ResolvePending(state, res.Slots) {
			if state.LastIntent != "" {
				intent = state.LastIntent
			}
		} else if intent == dialog.IntentUnknown || intent == state.LastIntent {
			// Same topic, still no usable value: count another attempt.
			intent = state.LastIntent
		} else {
			// User changed topic mid-clarification.
			clarifier.ResetForTopicChange(state, intent)
		}
	} else {
		clarifier.ResetForTopicChange(state, intent)
	}

	if state.EscalatedTopics[intent] {
		return dialog.Escalate("topic already escalated", escalatedTopicReply)
	}

	if intent == dialog.IntentHandoff {
		state.EscalatedTopics[intent] = true
		state.LastIntent = intent
		return dialog.Escalate("user requested a human", handoffReply)
	}

	// Merge this turn's slots over the session's.
	for k, v := range res.Slots {
		if v != "" {
			state.Slots[k] = v
		}
	}

	if intent == dialog.IntentUnknown {
		state.LastIntent = intent
		return dialog.Answered("Sorry, I didn't quite get that. Ask me about products, prices, delivery, or opening hours.", nil)
	}

	decision := clarifier.Check(state, req.TenantKey, intent, state.Slots)
	switch {
	case decision.Escalate:
		state.EscalatedTopics[intent] = true
		state.PendingSlot = ""
		state.LastIntent = intent
		return dialog.Escalate(decision.Reason, handoffReply)
	case decision.NeedClarification:
		state.LastIntent = intent
		return dialog.Clarify(decision.Question, decision.Slot)
	}

	strategy, ok := o.strategies[snap.Mode]
	if !ok {
		strategy = o.strategies[tenantcfg.ModeDeterministic]
	}

	draft, err := strategy.Respond(ctx, mode.Request{
		TenantKey: req.TenantKey,
		SessionID: req.SessionID,
		Intent:    intent,
		Slots:     state.Slots,
		Query:     res.Query,
		Tags:      res.Tags,
		StepCap:   snap.FlagshipStepCap,
	})
	if err != nil {
		return o.failureFor(req.TenantKey, err)
	}

	outcome, ok := o.verifyAndRender(ctx, req.TenantKey, snap, draft)
	if !ok {
		return outcome
	}

	state.LastIntent = intent
	state.PendingSlot = ""
	return outcome
}

// verifyAndRender checks every draft claim, strips the claims that
// failed verification from the reply, applies the optional tone rewrite,
// and re-checks that the rewrite preserved the surviving claim set. The
// second return is false when the turn must fail.
func (o *Orchestrator) verifyAndRender(ctx context.Context, tenantKey string, snap tenantcfg.Snapshot, draft mode.Draft) (dialog.TurnOutcome, bool) {
	results, err := o.verifier.Verify(ctx, tenantKey, draft.Facts)
	if err != nil {
		return o.failureFor(tenantKey, err), false
	}
	verified := grounding.Strip(results)
	text := draft.Text
	if len(verified) < len(draft.Facts) {
		// Stale or vanished claims are cut from the reply; whatever
		// still verifies is kept.
		text = stripClaims(text, unverifiedFacts(results))
		verified = claimsIn(text, verified)
		slog.Warn("draft claims failed verification",
			"tenant", tenantKey,
			"proposed", len(draft.Facts),
			"kept", len(verified),
		)
		if len(verified) == 0 {
			return dialog.Answered(notInInfoReply, nil), true
		}
	}
	if snap.RewriteEnabled && draft.WantRewrite && o.rewriter != nil {
		rewritten, err := o.rewriter.Rewrite(ctx, text, snap.ToneProfile)
		if err != nil {
			slog.Warn("tone rewrite failed, using plain draft", "tenant", tenantKey, "error", err)
		} else if diff := grounding.DiffClaims(verified, claimsIn(rewritten, verified)); len(diff) != 0 {
			slog.Warn("rewrite altered claim set, using plain draft", "tenant", tenantKey, "diff", diff)
		} else {
			text = rewritten
		}
	}

	return dialog.Answered(text, verified), true
}

func unverifiedFacts(results []dialog.VerificationResult) []dialog.Fact {
	var out []dialog.Fact
	for _, r := range results {
		if r.Status != dialog.StatusVerified {
			out = append(out, r.Fact)
		}
	}
	return out
}

// stripClaims removes the sentences and list lines that mention a dropped
// claim value, keeping the rest of the draft intact.
func stripClaims(text string, dropped []dialog.Fact) string {
	var values []string
	for _, f := range dropped {
		if v := retrieval.NormalizeText(f.Value); v != "" {
			values = append(values, v)
		}
	}
	mentions := func(segment string) bool {
		n := retrieval.NormalizeText(segment)
		for _, v := range values {
			if strings.Contains(n, v) {
				return true
			}
		}
		return false
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		var kept []string
		for _, s := range rewrite.SplitSentences(line) {
			if !mentions(s) {
				kept = append(kept, s)
			}
		}
		if len(kept) > 0 {
			lines = append(lines, strings.Join(kept, " "))
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// claimsIn returns the facts whose values still appear in the text, after
// whitespace/case normalization.
func claimsIn(text string, facts []dialog.Fact) []dialog.Fact {
	norm := retrieval.NormalizeText(text)
	var out []dialog.Fact
	for _, f := range facts {
		if strings.Contains(norm, retrieval.NormalizeText(f.Value)) {
			out = append(out, f)
		}
	}
	return out
}

// failureFor maps pipeline errors onto the turn failure taxonomy.
func (o *Orchestrator) failureFor(tenantKey string, err error) dialog.TurnOutcome {
	switch {
	case errors.Is(err, mode.ErrBudgetExceeded):
		slog.Warn("turn exceeded step budget", "tenant", tenantKey, "error", err)
		return dialog.Failed(dialog.ErrKindBudgetExceeded, "That took more digging than I'm allowed — could you narrow it down?")
	case errors.Is(err, context.DeadlineExceeded):
		return dialog.Failed(dialog.ErrKindTimeout, "That took too long, please try again.")
	case errors.Is(err, retrieval.ErrUnavailable):
		slog.Error("retrieval unavailable", "tenant", tenantKey, "error", err)
		return dialog.Failed(dialog.ErrKindUnavailable, "Something went wrong, please try again.")
	default:
		slog.Error("turn failed", "tenant", tenantKey, "error", err)
		return dialog.Failed(dialog.ErrKindUnavailable, "Something went wrong, please try again.")
	}
}

// clarifierFor builds a manager honoring the tenant's attempt cap. The
// manager is stateless between calls; attempt counts live in the session.
func (o *Orchestrator) clarifierFor(snap tenantcfg.Snapshot) *clarify.Manager {
	m := clarify.NewManager(snap.MaxClarifyAttempts)
	m.CoverageHint = func(tenantKey string) []string {
		idx, err := o.cache.Get(tenantKey)
		if err != nil {
			return nil
		}
		return idx.CoveragePrefixes()
	}
	return m
}

func (o *Orchestrator) writeAudit(req TurnRequest, state *dialog.ConversationState, outcome dialog.TurnOutcome, latency time.Duration) {
	if o.audit == nil {
		return
	}

	keys := make([]string, 0, len(outcome.FactsUsed))
	for _, f := range outcome.FactsUsed {
		keys = append(keys, f.Key)
	}
	sort.Strings(keys)
	blob, _ := json.Marshal(keys)

	a := storage.TurnAudit{
		ID:        uuid.NewString(),
		TenantKey: req.TenantKey,
		SessionID: req.SessionID,
		Intent:    string(state.LastIntent),
		Outcome:   string(outcome.Kind),
		ClaimKeys: string(blob),
		LatencyMs: latency.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	if outcome.Kind == dialog.OutcomeFailed {
		a.Outcome = fmt.Sprintf("%s:%s", outcome.Kind, outcome.ErrKind)
	}
	if err := o.audit.SaveTurnAudit(a); err != nil {
		slog.Error("writing turn audit", "tenant", req.TenantKey, "error", err)
	}
}
