package credstore

import (
	"context"

	"github.com/ajramos/livegmail/internal/db"
)

// SQLite stores preferences in the local database.
type SQLite struct {
	prefs *db.PrefStore
}

func NewSQLite(store *db.Store) *SQLite {
	return &SQLite{prefs: db.NewPrefStore(store)}
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	return s.prefs.GetPref(ctx, key)
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	return s.prefs.SetPref(ctx, key, value)
}

func (s *SQLite) Clear(ctx context.Context, keys ...string) error {
	return s.prefs.DeletePrefs(ctx, keys...)
}

var _ Store = (*SQLite)(nil)
