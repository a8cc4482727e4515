package storage

import (
	"fmt"
	"time"
)

// SaveTurnAudit appends one completed turn to the audit trail.
func (s *Store) SaveTurnAudit(a TurnAudit) error {
	_, err := s.db.Exec(`
		INSERT INTO turn_audit (id, tenant_key, session_id, intent, outcome, claim_keys, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantKey, a.SessionID, a.Intent, a.Outcome, a.ClaimKeys, a.LatencyMs,
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// RecentTurns returns the newest audit rows for a tenant.
func (s *Store) RecentTurns(tenantKey string, limit int) ([]TurnAudit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, tenant_key, session_id, intent, outcome, claim_keys, latency_ms, created_at
		FROM turn_audit WHERE tenant_key = ? ORDER BY created_at DESC LIMIT ?`, tenantKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TurnAudit
	for rows.Next() {
		var a TurnAudit
		var createdAt string
		if err := rows.Scan(&a.ID, &a.TenantKey, &a.SessionID, &a.Intent, &a.Outcome, &a.ClaimKeys, &a.LatencyMs, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
