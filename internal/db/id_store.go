package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// IdentifierStore persists resolved legacy thread id / message id pairs
type IdentifierStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdentifierStore creates an identifier store from a base store
func NewIdentifierStore(store *Store) *IdentifierStore {
	if store == nil {
		return nil
	}
	return &IdentifierStore{db: store.DB(), now: time.Now}
}

// SaveMapping upserts the pair keyed by legacy id
func (is *IdentifierStore) SaveMapping(ctx context.Context, legacyID, messageID string) error {
	if is == nil || is.db == nil {
		return fmt.Errorf("identifier store not initialized")
	}
	if strings.TrimSpace(legacyID) == "" || strings.TrimSpace(messageID) == "" {
		return fmt.Errorf("invalid mapping inputs")
	}
	_, err := is.db.ExecContext(ctx, `INSERT INTO identifier_map(legacy_id, message_id, updated_at)
VALUES(?,?,?)
ON CONFLICT(legacy_id) DO UPDATE SET message_id=excluded.message_id, updated_at=excluded.updated_at;
`, legacyID, messageID, is.now().Unix())
	return err
}

// LoadMessageID returns the message id cached for a legacy thread id
func (is *IdentifierStore) LoadMessageID(ctx context.Context, legacyID string) (string, bool, error) {
	if is == nil || is.db == nil {
		return "", false, fmt.Errorf("identifier store not initialized")
	}
	return is.scanOne(ctx, `SELECT message_id FROM identifier_map WHERE legacy_id=?`, legacyID)
}

// LoadLegacyID returns the most recently stored legacy id for a message id
func (is *IdentifierStore) LoadLegacyID(ctx context.Context, messageID string) (string, bool, error) {
	if is == nil || is.db == nil {
		return "", false, fmt.Errorf("identifier store not initialized")
	}
	return is.scanOne(ctx, `SELECT legacy_id FROM identifier_map WHERE message_id=? ORDER BY updated_at DESC LIMIT 1`, messageID)
}

func (is *IdentifierStore) scanOne(ctx context.Context, query, arg string) (string, bool, error) {
	var out string
	err := is.db.QueryRowContext(ctx, query, arg).Scan(&out)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

// PruneOlderThan deletes mappings not refreshed since the cutoff
func (is *IdentifierStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if is == nil || is.db == nil {
		return 0, fmt.Errorf("identifier store not initialized")
	}
	res, err := is.db.ExecContext(ctx, `DELETE FROM identifier_map WHERE updated_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
