package mailbox

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// MaxRecords bounds every record set held or displayed by a sync session.
const MaxRecords = 20

// SyntheticIDPrefix marks identifiers derived from a content hash rather than
// read from the document. They are never treated as a stable cross-session identity.
const SyntheticIDPrefix = "synthetic:"

// DefaultWebURL is the Gmail web client root used to build open targets.
const DefaultWebURL = "https://mail.google.com/mail/u/0/"

// Placeholders used when a sender or subject cannot be read.
const (
	DefaultFrom    = "Unknown"
	DefaultSubject = "(No subject)"
)

// Origin tells which sync path produced a record.
type Origin string

const (
	OriginAPI  Origin = "api"
	OriginScan Origin = "scan"
)

// UnreadMessage is the canonical record shared by both sync paths.
type UnreadMessage struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
	From     string `json:"from"`
	Subject  string `json:"subject"`
	Snippet  string `json:"snippet"`
	Date     string `json:"date"`
	IsUnread bool   `json:"isUnread"`

	// SourceURL and SourceIndex locate the row again in the live document (scan path only).
	SourceURL   string `json:"sourceUrl,omitempty"`
	SourceIndex int    `json:"sourceIndex"`

	// SortKey orders records, newest first. It never participates in identity.
	SortKey int64  `json:"sortKey"`
	Origin  Origin `json:"origin,omitempty"`
}

// OpenTarget returns the identifier used to open the conversation.
func (m UnreadMessage) OpenTarget() string {
	if m.ThreadID != "" {
		return m.ThreadID
	}
	return m.ID
}

// IsSynthetic reports whether the record's id is a content hash.
func (m UnreadMessage) IsSynthetic() bool {
	return IsSyntheticID(m.ID)
}

// IsSyntheticID reports whether id was produced by SyntheticID.
func IsSyntheticID(id string) bool {
	return strings.HasPrefix(id, SyntheticIDPrefix)
}

// SyntheticID derives a deterministic identifier from sender, subject and date.
func SyntheticID(from, subject, date string) string {
	sum := sha256.Sum256([]byte(from + "|" + subject + "|" + date))
	return SyntheticIDPrefix + hex.EncodeToString(sum[:8])
}

// WebURL builds the Gmail web URL that opens the conversation for id.
func WebURL(base, id string) string {
	if base == "" {
		base = DefaultWebURL
	}
	return strings.TrimRight(base, "/") + "/#inbox/" + id
}

// SortAndCap orders records by SortKey descending, keeping arrival order for
// ties, drops duplicate ids (first occurrence wins) and truncates to max.
// The input slice is not modified.
func SortAndCap(records []UnreadMessage, max int) []UnreadMessage {
	if max <= 0 {
		max = MaxRecords
	}
	out := make([]UnreadMessage, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SortKey > out[j].SortKey
	})
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// IDs returns the ids of records in order.
func IDs(records []UnreadMessage) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}
