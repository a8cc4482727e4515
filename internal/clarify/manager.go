// Package clarify tracks missing-slot conversations: which slot to ask
// for next, how many times it has been asked, and when to stop asking and
// hand off to a person.
package clarify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tendaro/tendaro/internal/dialog"
)

// DefaultMaxAttempts is how many times a single slot may be asked before
// the conversation escalates.
const DefaultMaxAttempts = 2

// Decision is what the manager wants the orchestrator to do this turn.
type Decision struct {
	// NeedClarification is true when a required slot is missing and may
	// still be asked for.
	NeedClarification bool
	// Slot is the slot to ask about when NeedClarification is set.
	Slot dialog.SlotName
	// Question is the user-facing clarifying question.
	Question string
	// Escalate is true when a required slot has exhausted its attempts.
	Escalate bool
	// Reason explains an escalation.
	Reason string
}

// Manager decides clarification questions. It is stateless; all attempt
// bookkeeping lives in the per-session ConversationState so it survives
// across turns and is committed only on success.
type Manager struct {
	maxAttempts int
	// CoverageHint, when set, supplies example delivery prefixes for the
	// postcode question.
	CoverageHint func(tenantKey string) []string
}

// NewManager creates a Manager. maxAttempts <= 0 selects the default.
func NewManager(maxAttempts int) *Manager {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Manager{maxAttempts: maxAttempts}
}

// Check inspects the intent's slot schema against the filled slots and
// decides: proceed (zero Decision), ask one clarifying question, or
// escalate. At most one slot is asked per turn; required slots are
// considered before optional ones, each group in declaration order.
// Optional slots are never asked for, they only widen answers when
// present.
func (m *Manager) Check(state *dialog.ConversationState, tenantKey string, intent dialog.IntentKind, slots dialog.Slots) Decision {
	var missing []dialog.SlotName
	for _, spec := range dialog.SchemaFor(intent) {
		if spec.Required && slots.Missing(spec.Name) {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) == 0 {
		return Decision{}
	}

	slot := missing[0]
	ask := state.AskStateFor(slot)
	if ask.Escalated || ask.Attempts >= m.maxAttempts {
		ask.Escalated = true
		return Decision{
			Escalate: true,
			Reason:   fmt.Sprintf("could not obtain %s after %d attempts", slot, ask.Attempts),
		}
	}

	ask.Attempts++
	state.PendingSlot = slot
	return Decision{
		NeedClarification: true,
		Slot:              slot,
		Question:          m.question(tenantKey, intent, slot, ask.Attempts),
	}
}

// ResolvePending tries to fill the slot the previous turn asked about
// from this turn's extracted slots. Returns true when the pending slot
// was satisfied and cleared.
func (m *Manager) ResolvePending(state *dialog.ConversationState, extracted dialog.Slots) bool {
	pending := state.PendingSlot
	if pending == "" {
		return false
	}
	val := extracted.Get(pending)
	if val == "" {
		return false
	}
	state.Slots[pending] = val
	state.PendingSlot = ""
	return true
}

// ResetForTopicChange clears pending-slot and attempt state when the user
// switches intent mid-clarification. Escalated topics stay escalated.
func (m *Manager) ResetForTopicChange(state *dialog.ConversationState, newIntent dialog.IntentKind) {
	if state.LastIntent == newIntent {
		return
	}
	state.PendingSlot = ""
	for slot, ask := range state.Asked {
		if !ask.Escalated {
			delete(state.Asked, slot)
		}
	}
}

func (m *Manager) question(tenantKey string, intent dialog.IntentKind, slot dialog.SlotName, attempt int) string {
	var q string
	switch slot {
	case dialog.SlotPostcode:
		q = "What's your postcode?"
		if m.CoverageHint != nil {
			if prefixes := m.CoverageHint(tenantKey); len(prefixes) > 0 {
				sort.Strings(prefixes)
				if len(prefixes) > 3 {
					prefixes = prefixes[:3]
				}
				q = fmt.Sprintf("What's your postcode? We deliver around %s.", strings.Join(prefixes, ", "))
			}
		}
	case dialog.SlotItem:
		q = "Which product are you after?"
	case dialog.SlotSKU:
		q = "Which product code is that for?"
	case dialog.SlotPhone:
		q = "What's the best number to reach you on?"
	default:
		q = fmt.Sprintf("Could you tell me the %s?", slot)
	}
	if attempt > 1 {
		q = "Sorry, I didn't catch that. " + q
	}
	return q
}
