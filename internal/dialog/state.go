package dialog

import "time"

// DefaultHistorySize bounds the turn history ring when the config gives no
// other value.
const DefaultHistorySize = 10

// TurnRecord is one entry of the bounded conversation history. History is
// context only, never a source of business facts.
type TurnRecord struct {
	Role string // "user" or "agent"
	Text string
	At   time.Time
}

// SlotAskState tracks the clarification state machine for one slot:
// Unasked -> Asked(attempt 1) -> Asked(attempt 2) -> Escalated, or
// Unasked -> Resolved on a successful fill.
type SlotAskState struct {
	Attempts  int
	Escalated bool
}

// ConversationState is the per-(tenant, session) state owned exclusively by
// the orchestrator. Mode strategies and the verifier only ever see copies
// or read-only projections of it.
type ConversationState struct {
	SessionID string
	TenantID  string

	// Slots carries values resolved in earlier turns (postcode, last sku)
	// so follow-up questions can reuse them.
	Slots Slots

	// LastIntent is the topic of the previous turn, used for
	// topic-change detection and escalation scoping.
	LastIntent IntentKind

	// PendingSlot is the slot the last Clarify outcome asked about, or ""
	// when no clarifier is outstanding.
	PendingSlot SlotName

	// Asked holds clarification attempt counters per slot.
	Asked map[SlotName]*SlotAskState

	// EscalatedTopics records intents that have been handed off to a
	// human. Escalation is monotonic: once a topic appears here, turns on
	// it short-circuit to a handoff message.
	EscalatedTopics map[IntentKind]bool

	History    []TurnRecord
	maxHistory int

	UpdatedAt time.Time
}

// NewConversationState creates the state for a session's first turn.
func NewConversationState(tenantID, sessionID string, maxHistory int) *ConversationState {
	if maxHistory <= 0 {
		maxHistory = DefaultHistorySize
	}
	return &ConversationState{
		SessionID:       sessionID,
		TenantID:        tenantID,
		Slots:           make(Slots),
		Asked:           make(map[SlotName]*SlotAskState),
		EscalatedTopics: make(map[IntentKind]bool),
		maxHistory:      maxHistory,
	}
}

// Clone returns a deep copy. The orchestrator mutates a clone during the
// turn and commits it back only on full completion, so a cancelled turn
// never leaves partially mutated state behind.
func (c *ConversationState) Clone() *ConversationState {
	out := &ConversationState{
		SessionID:       c.SessionID,
		TenantID:        c.TenantID,
		Slots:           c.Slots.Clone(),
		LastIntent:      c.LastIntent,
		PendingSlot:     c.PendingSlot,
		Asked:           make(map[SlotName]*SlotAskState, len(c.Asked)),
		EscalatedTopics: make(map[IntentKind]bool, len(c.EscalatedTopics)),
		History:         make([]TurnRecord, len(c.History)),
		maxHistory:      c.maxHistory,
		UpdatedAt:       c.UpdatedAt,
	}
	for k, v := range c.Asked {
		st := *v
		out.Asked[k] = &st
	}
	for k, v := range c.EscalatedTopics {
		out.EscalatedTopics[k] = v
	}
	copy(out.History, c.History)
	return out
}

// AskStateFor returns the clarification state for a slot, creating it on
// first use.
func (c *ConversationState) AskStateFor(slot SlotName) *SlotAskState {
	if c.Asked == nil {
		c.Asked = make(map[SlotName]*SlotAskState)
	}
	st, ok := c.Asked[slot]
	if !ok {
		st = &SlotAskState{}
		c.Asked[slot] = st
	}
	return st
}

// ResetSlot returns a slot to Unasked, used when the user changes topic
// while a clarifier is outstanding.
func (c *ConversationState) ResetSlot(slot SlotName) {
	delete(c.Asked, slot)
	if c.PendingSlot == slot {
		c.PendingSlot = ""
	}
}

// AppendHistory pushes a record onto the bounded history ring.
func (c *ConversationState) AppendHistory(role, text string, at time.Time) {
	max := c.maxHistory
	if max <= 0 {
		max = DefaultHistorySize
	}
	c.History = append(c.History, TurnRecord{Role: role, Text: text, At: at})
	if len(c.History) > max {
		c.History = c.History[len(c.History)-max:]
	}
}
