package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// PrefStore persists string-valued preferences
type PrefStore struct {
	db *sqlx.DB
}

// NewPrefStore creates a preference store from a base store
func NewPrefStore(store *Store) *PrefStore {
	if store == nil {
		return nil
	}
	return &PrefStore{db: store.DB()}
}

// GetPref returns the value for key. A missing key is reported as found=false.
func (ps *PrefStore) GetPref(ctx context.Context, key string) (string, bool, error) {
	if ps == nil || ps.db == nil {
		return "", false, fmt.Errorf("pref store not initialized")
	}
	var out string
	err := ps.db.GetContext(ctx, &out, `SELECT value FROM prefs WHERE key=?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

// SetPref upserts the value for key
func (ps *PrefStore) SetPref(ctx context.Context, key, value string) error {
	if ps == nil || ps.db == nil {
		return fmt.Errorf("pref store not initialized")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("empty pref key")
	}
	_, err := ps.db.ExecContext(ctx, `INSERT INTO prefs(key, value, updated_at) VALUES(?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at;`, key, value, time.Now().Unix())
	return err
}

// DeletePrefs removes the given keys in one transaction
func (ps *PrefStore) DeletePrefs(ctx context.Context, keys ...string) error {
	if ps == nil || ps.db == nil {
		return fmt.Errorf("pref store not initialized")
	}
	if len(keys) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM prefs WHERE key IN (?)`, keys)
	if err != nil {
		return err
	}
	_, err = ps.db.ExecContext(ctx, ps.db.Rebind(query), args...)
	return err
}
