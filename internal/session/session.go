// Package session persists per-conversation state between turns with a
// sliding TTL. An expired session reads as absent; the orchestrator then
// starts the conversation fresh.
package session

import (
	"sync"
	"time"

	"github.com/tendaro/tendaro/internal/dialog"
)

// DefaultTTL is the sliding session lifetime when the config gives no
// other value.
const DefaultTTL = 30 * time.Minute

// Store loads and saves conversation state. Get returns (nil, nil) when
// the session is unknown or expired.
type Store interface {
	Get(tenantKey, sessionID string) (*dialog.ConversationState, error)
	Put(state *dialog.ConversationState) error
	Delete(tenantKey, sessionID string) error
}

type memoryEntry struct {
	state     *dialog.ConversationState
	expiresAt time.Time
}

// MemoryStore is the in-process store: a TTL map guarded by a mutex.
// Suited to a single-node deployment; the sqlite store survives restarts.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore. ttl <= 0 selects the default.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func key(tenantKey, sessionID string) string {
	return tenantKey + "\x00" + sessionID
}

func (m *MemoryStore) Get(tenantKey, sessionID string) (*dialog.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key(tenantKey, sessionID)]
	if !ok {
		return nil, nil
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, key(tenantKey, sessionID))
		return nil, nil
	}
	// Callers mutate a clone during the turn; hand out a copy so a failed
	// turn cannot corrupt the stored state.
	return e.state.Clone(), nil
}

func (m *MemoryStore) Put(state *dialog.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key(state.TenantID, state.SessionID)] = memoryEntry{
		state:     state.Clone(),
		expiresAt: m.now().Add(m.ttl),
	}
	return nil
}

func (m *MemoryStore) Delete(tenantKey, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key(tenantKey, sessionID))
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (m *MemoryStore) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}
