package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Identity is the persisted account record for a session: who logged in
// and the serialized auth cookies needed to resume without re-entering
// credentials. Conversations and messages are never persisted; only this
// single row survives a daemon restart.
type Identity struct {
	UserID    string
	FullName  string
	Username  string
	AvatarURL string
	Cookies   []byte
	UpdatedAt time.Time
}

// SaveIdentity inserts or replaces the session's identity record.
func (db *DB) SaveIdentity(id *Identity) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO identity (rowid, user_id, full_name, username, avatar_url, cookies, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rowid) DO UPDATE SET
			user_id = excluded.user_id,
			full_name = excluded.full_name,
			username = excluded.username,
			avatar_url = excluded.avatar_url,
			cookies = excluded.cookies,
			updated_at = excluded.updated_at`,
		id.UserID, id.FullName, id.Username, id.AvatarURL, id.Cookies, now)
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// GetIdentity returns the stored identity, or nil if the session has
// never logged in (or was logged out).
func (db *DB) GetIdentity() (*Identity, error) {
	var id Identity
	var updatedAt int64
	err := db.QueryRow(`
		SELECT user_id, full_name, username, avatar_url, cookies, updated_at
		FROM identity WHERE rowid = 1`).
		Scan(&id.UserID, &id.FullName, &id.Username, &id.AvatarURL, &id.Cookies, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	id.UpdatedAt = time.UnixMilli(updatedAt)
	return &id, nil
}

// DeleteIdentity removes the identity record on logout.
func (db *DB) DeleteIdentity() error {
	if _, err := db.Exec(`DELETE FROM identity WHERE rowid = 1`); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}
