package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tendaro/tendaro/internal/dialog"
	"github.com/tendaro/tendaro/internal/storage"
)

// SqliteStore persists sessions through the storage layer so state
// survives restarts. TTL is enforced on read and by the background purge.
type SqliteStore struct {
	store      *storage.Store
	ttl        time.Duration
	maxHistory int
}

// NewSqliteStore creates a SqliteStore. ttl <= 0 selects the default.
func NewSqliteStore(store *storage.Store, ttl time.Duration, maxHistory int) *SqliteStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SqliteStore{store: store, ttl: ttl, maxHistory: maxHistory}
}

// stateDoc is the JSON shape of a persisted ConversationState.
type stateDoc struct {
	Slots           map[string]string             `json:"slots,omitempty"`
	LastIntent      string                        `json:"last_intent,omitempty"`
	PendingSlot     string                        `json:"pending_slot,omitempty"`
	Asked           map[string]dialog.SlotAskState `json:"asked,omitempty"`
	EscalatedTopics []string                      `json:"escalated_topics,omitempty"`
	History         []dialog.TurnRecord           `json:"history,omitempty"`
	UpdatedAt       time.Time                     `json:"updated_at"`
}

func (s *SqliteStore) Get(tenantKey, sessionID string) (*dialog.ConversationState, error) {
	row, err := s.store.GetSession(tenantKey, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var doc stateDoc
	if err := json.Unmarshal([]byte(row.StateJSON), &doc); err != nil {
		return nil, fmt.Errorf("decoding session state: %w", err)
	}

	state := dialog.NewConversationState(tenantKey, sessionID, s.maxHistory)
	for k, v := range doc.Slots {
		state.Slots[dialog.SlotName(k)] = v
	}
	state.LastIntent = dialog.IntentKind(doc.LastIntent)
	state.PendingSlot = dialog.SlotName(doc.PendingSlot)
	for k, v := range doc.Asked {
		ask := v
		state.Asked[dialog.SlotName(k)] = &ask
	}
	for _, topic := range doc.EscalatedTopics {
		state.EscalatedTopics[dialog.IntentKind(topic)] = true
	}
	state.History = doc.History
	state.UpdatedAt = doc.UpdatedAt
	return state, nil
}

func (s *SqliteStore) Put(state *dialog.ConversationState) error {
	doc := stateDoc{
		Slots:       make(map[string]string, len(state.Slots)),
		LastIntent:  string(state.LastIntent),
		PendingSlot: string(state.PendingSlot),
		Asked:       make(map[string]dialog.SlotAskState, len(state.Asked)),
		History:     state.History,
		UpdatedAt:   state.UpdatedAt,
	}
	for k, v := range state.Slots {
		doc.Slots[string(k)] = v
	}
	for k, v := range state.Asked {
		doc.Asked[string(k)] = *v
	}
	for topic := range state.EscalatedTopics {
		doc.EscalatedTopics = append(doc.EscalatedTopics, string(topic))
	}

	blob, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding session state: %w", err)
	}

	now := time.Now().UTC()
	return s.store.SaveSession(storage.SessionRow{
		TenantKey: state.TenantID,
		SessionID: state.SessionID,
		StateJSON: string(blob),
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})
}

func (s *SqliteStore) Delete(tenantKey, sessionID string) error {
	return s.store.DeleteSession(tenantKey, sessionID)
}
