package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ajramos/livegmail/internal/mailbox"
)

// FallbackStore persists the last non-empty record set
type FallbackStore struct {
	db *sqlx.DB
}

type fallbackRow struct {
	Position    int    `db:"position"`
	ID          string `db:"id"`
	ThreadID    string `db:"thread_id"`
	Sender      string `db:"sender"`
	Subject     string `db:"subject"`
	Snippet     string `db:"snippet"`
	Date        string `db:"date"`
	SourceURL   string `db:"source_url"`
	SourceIndex int    `db:"source_index"`
	SortKey     int64  `db:"sort_key"`
	Origin      string `db:"origin"`
	SavedAt     int64  `db:"saved_at"`
}

// NewFallbackStore creates a fallback store from a base store
func NewFallbackStore(store *Store) *FallbackStore {
	if store == nil {
		return nil
	}
	return &FallbackStore{db: store.DB()}
}

// SaveFallback replaces the stored set wholesale
func (fs *FallbackStore) SaveFallback(ctx context.Context, records []mailbox.UnreadMessage, savedAt time.Time) error {
	if fs == nil || fs.db == nil {
		return fmt.Errorf("fallback store not initialized")
	}
	tx, err := fs.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fallback_records`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear fallback: %w", err)
	}
	for i, r := range records {
		row := fallbackRow{
			Position:    i,
			ID:          r.ID,
			ThreadID:    r.ThreadID,
			Sender:      r.From,
			Subject:     r.Subject,
			Snippet:     r.Snippet,
			Date:        r.Date,
			SourceURL:   r.SourceURL,
			SourceIndex: r.SourceIndex,
			SortKey:     r.SortKey,
			Origin:      string(r.Origin),
			SavedAt:     savedAt.UnixMilli(),
		}
		_, err := tx.NamedExecContext(ctx, `INSERT INTO fallback_records
(position, id, thread_id, sender, subject, snippet, date, source_url, source_index, sort_key, origin, saved_at)
VALUES (:position, :id, :thread_id, :sender, :subject, :snippet, :date, :source_url, :source_index, :sort_key, :origin, :saved_at)`, row)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert fallback record: %w", err)
		}
	}
	return tx.Commit()
}

// LoadFallback returns the stored set in its saved order and when it was saved.
// An empty store yields no records and a zero time.
func (fs *FallbackStore) LoadFallback(ctx context.Context) ([]mailbox.UnreadMessage, time.Time, error) {
	if fs == nil || fs.db == nil {
		return nil, time.Time{}, fmt.Errorf("fallback store not initialized")
	}
	var rows []fallbackRow
	if err := fs.db.SelectContext(ctx, &rows, `SELECT * FROM fallback_records ORDER BY position`); err != nil {
		return nil, time.Time{}, err
	}
	if len(rows) == 0 {
		return nil, time.Time{}, nil
	}
	out := make([]mailbox.UnreadMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, mailbox.UnreadMessage{
			ID:          row.ID,
			ThreadID:    row.ThreadID,
			From:        row.Sender,
			Subject:     row.Subject,
			Snippet:     row.Snippet,
			Date:        row.Date,
			IsUnread:    true,
			SourceURL:   row.SourceURL,
			SourceIndex: row.SourceIndex,
			SortKey:     row.SortKey,
			Origin:      mailbox.Origin(row.Origin),
		})
	}
	return out, time.UnixMilli(rows[0].SavedAt), nil
}
