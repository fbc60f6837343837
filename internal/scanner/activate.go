package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/ajramos/livegmail/internal/mailbox"
	"golang.org/x/net/html"
)

var (
	ErrNoSuchItem     = errors.New("no unread row at that position")
	ErrNotActivatable = errors.New("row has no link and only a synthetic id")
)

// Activate opens the unread row at index on the surface. When locator is
// set, a row with that id is preferred over the position. The row's own
// link is clicked when present; otherwise a URL is built from the id,
// which is impossible for synthetic ids.
func Activate(ctx context.Context, s Surface, index int, locator, baseURL string) error {
	doc, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	row, rec, err := locate(doc, index, locator, baseURL)
	if err != nil {
		return err
	}
	if link := linkSelector.MatchFirst(row); link != nil {
		return s.Click(ctx, link)
	}
	if rec.IsSynthetic() {
		return ErrNotActivatable
	}
	return s.Navigate(ctx, mailbox.WebURL(baseURL, rec.OpenTarget()))
}

func locate(doc *html.Node, index int, locator, baseURL string) (*html.Node, mailbox.UnreadMessage, error) {
	rows, total := unreadRows(doc)
	recs := make([]mailbox.UnreadMessage, len(rows))
	for i, r := range rows {
		recs[i] = extractRecord(r.node, i, total-r.docIndex, baseURL)
	}
	if index >= 0 && index < len(rows) && (locator == "" || recs[index].ID == locator) {
		return rows[index].node, recs[index], nil
	}
	if locator != "" {
		for i, rec := range recs {
			if rec.ID == locator {
				return rows[i].node, rec, nil
			}
		}
	}
	return nil, mailbox.UnreadMessage{}, fmt.Errorf("%w: index %d", ErrNoSuchItem, index)
}
