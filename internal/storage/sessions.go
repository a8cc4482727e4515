package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveSession upserts a session state blob with its expiry deadline.
func (s *Store) SaveSession(row SessionRow) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (tenant_key, session_id, state_json, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_key, session_id) DO UPDATE SET
			state_json = excluded.state_json,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		row.TenantKey, row.SessionID, row.StateJSON,
		row.UpdatedAt.UTC().Format(time.RFC3339), row.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetSession returns a session row; expired rows behave as not found.
func (s *Store) GetSession(tenantKey, sessionID string) (SessionRow, error) {
	var row SessionRow
	var updatedAt, expiresAt string
	err := s.db.QueryRow(`
		SELECT tenant_key, session_id, state_json, updated_at, expires_at
		FROM sessions WHERE tenant_key = ? AND session_id = ?`, tenantKey, sessionID,
	).Scan(&row.TenantKey, &row.SessionID, &row.StateJSON, &updatedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return SessionRow{}, ErrNotFound
	}
	if err != nil {
		return SessionRow{}, err
	}
	if row.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return SessionRow{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if row.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return SessionRow{}, fmt.Errorf("parsing expires_at: %w", err)
	}
	if time.Now().UTC().After(row.ExpiresAt) {
		return SessionRow{}, ErrNotFound
	}
	return row, nil
}

// DeleteSession removes a session row.
func (s *Store) DeleteSession(tenantKey, sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE tenant_key = ? AND session_id = ?`, tenantKey, sessionID)
	return err
}

// PurgeExpiredSessions deletes rows past their expiry and returns the count.
func (s *Store) PurgeExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
