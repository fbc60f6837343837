// Package scanner extracts unread conversations from a live mailbox
// document it does not control, and reports changes over a protocol
// channel.
package scanner

import (
	"bytes"
	"encoding/json"
	"net/url"

	"github.com/ajramos/livegmail/internal/mailbox"
	"github.com/ajramos/livegmail/internal/protocol"
	"golang.org/x/net/html"
)

// unreadRow is an unread row with its position in document order.
type unreadRow struct {
	node     *html.Node
	docIndex int
}

func unreadRows(doc *html.Node) ([]unreadRow, int) {
	rows := Rows(ObservedRoot(doc))
	var out []unreadRow
	for i, r := range rows {
		if ClassifyUnread(r) {
			out = append(out, unreadRow{node: r, docIndex: i})
		}
	}
	return out, len(rows)
}

// Scan reads every unread row of doc. Records come out in document order
// with SortKey decreasing down the page. Extraction misses produce
// defaults, never errors.
func Scan(doc *html.Node, baseURL string) protocol.ScanResult {
	rows, total := unreadRows(doc)
	records := make([]mailbox.UnreadMessage, 0, len(rows))
	for i, r := range rows {
		records = append(records, extractRecord(r.node, i, total-r.docIndex, baseURL))
	}
	return protocol.ScanResult{
		Records:     records,
		RowCount:    total,
		UnreadCount: len(records),
	}
}

func extractRecord(row *html.Node, index int, sortKey int, baseURL string) mailbox.UnreadMessage {
	rec := mailbox.UnreadMessage{
		From:        ExtractFrom(row),
		Subject:     ExtractSubject(row),
		Snippet:     ExtractSnippet(row),
		Date:        ExtractDate(row),
		IsUnread:    true,
		SourceIndex: index,
		SortKey:     int64(sortKey),
		Origin:      mailbox.OriginScan,
	}
	rec.ID = DeriveID(row, rec.From, rec.Subject, rec.Date)
	rec.ThreadID = threadID(row)
	rec.SourceURL = sourceURL(row, rec, baseURL)
	return rec
}

func sourceURL(row *html.Node, rec mailbox.UnreadMessage, baseURL string) string {
	if link := linkSelector.MatchFirst(row); link != nil {
		if href := resolve(baseURL, attrValue(link, "href")); href != "" {
			return href
		}
	}
	if rec.IsSynthetic() {
		return ""
	}
	return mailbox.WebURL(baseURL, rec.OpenTarget())
}

func resolve(base, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == "" {
		base = mailbox.DefaultWebURL
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref.String()
	}
	return b.ResolveReference(ref).String()
}

// Serialize encodes the content of a scan for change detection. Epoch and
// Seq are excluded so identical content serializes identically.
func Serialize(r protocol.ScanResult) ([]byte, error) {
	r.Epoch, r.Seq = "", 0
	if r.Records == nil {
		r.Records = []mailbox.UnreadMessage{}
	}
	return json.Marshal(r)
}

// ShouldEmit reports whether next differs from the previous emission.
func ShouldEmit(prev, next []byte) bool {
	return !bytes.Equal(prev, next)
}
