package scanner

import (
	"net/url"
	"strings"

	"github.com/ajramos/livegmail/internal/mailbox"
	"golang.org/x/net/html"
)

const minSpecificIDLen = 8

// DeriveID identifies a row: an explicit id attribute on the row or inside
// it, then an id parsed from a link fragment, then the row's own id if it
// looks specific, and finally a synthetic hash of sender, subject and date.
func DeriveID(row *html.Node, from, subject, date string) string {
	if id := structuralID(row); id != "" {
		return id
	}
	if id := fragmentID(row); id != "" {
		return id
	}
	if id := attrValue(row, "id"); isSpecific(id) {
		return id
	}
	return mailbox.SyntheticID(from, subject, date)
}

func structuralID(row *html.Node) string {
	for i, sel := range idChain {
		if n := sel.MatchFirst(row); n != nil {
			if v := attrValue(n, idAttrs[i]); v != "" {
				return strings.TrimPrefix(v, "#")
			}
		}
	}
	return ""
}

// threadID returns an explicit thread identifier, if any.
func threadID(row *html.Node) string {
	n := threadIDs.first(row)
	if n == nil {
		return ""
	}
	for _, key := range []string{"data-legacy-thread-id", "data-thread-id"} {
		if v := attrValue(n, key); v != "" {
			return strings.TrimPrefix(v, "#")
		}
	}
	return ""
}

// fragmentID parses the last path segment of a link's fragment, as in
// "#inbox/FMfcgzQXJ...".
func fragmentID(row *html.Node) string {
	for _, a := range linkSelector.MatchAll(row) {
		href := attrValue(a, "href")
		u, err := url.Parse(href)
		if err != nil || u.Fragment == "" {
			continue
		}
		parts := strings.Split(strings.Trim(u.Fragment, "/"), "/")
		if len(parts) < 2 {
			continue
		}
		if id := parts[len(parts)-1]; isSpecific(id) && isToken(id) {
			return id
		}
	}
	return ""
}

func isSpecific(id string) bool {
	return len(id) >= minSpecificIDLen && !strings.HasPrefix(id, ":")
}

func isToken(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
