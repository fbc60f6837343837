package scanner

import (
	"strings"

	"golang.org/x/net/html"
)

// extractor reads one field from a matched element; empty means no value.
type extractor func(n *html.Node) string

// field is an ordered selector chain, the readers tried on each match, and
// the value used when nothing yields text.
type field struct {
	chain   chain
	readers []extractor
	clean   func(string) string
	def     string
}

func (f field) extract(row *html.Node) string {
	for _, sel := range f.chain {
		n := sel.MatchFirst(row)
		if n == nil {
			continue
		}
		for _, read := range f.readers {
			v := strings.TrimSpace(read(n))
			if f.clean != nil {
				v = f.clean(v)
			}
			if v != "" {
				return v
			}
		}
	}
	return f.def
}

func attrReader(key string) extractor {
	return func(n *html.Node) string { return attrValue(n, key) }
}

var (
	fromField = field{
		chain:   senderChain,
		readers: []extractor{attrReader("name"), text, attrReader("email")},
		def:     "Unknown",
	}
	subjectField = field{
		chain:   subjectChain,
		readers: []extractor{text},
		def:     "(No subject)",
	}
	snippetField = field{
		chain:   snippetChain,
		readers: []extractor{text},
		clean:   cleanSnippet,
	}
	dateField = field{
		chain:   dateChain,
		readers: []extractor{attrReader("title"), attrReader("datetime"), text},
	}
)

// ExtractFrom returns the row's sender, or "Unknown".
func ExtractFrom(row *html.Node) string { return fromField.extract(row) }

// ExtractSubject returns the row's subject, or "(No subject)".
func ExtractSubject(row *html.Node) string { return subjectField.extract(row) }

// ExtractSnippet returns the preview text without its leading separator.
func ExtractSnippet(row *html.Node) string { return snippetField.extract(row) }

// ExtractDate returns the row's display date, preferring the full title.
func ExtractDate(row *html.Node) string { return dateField.extract(row) }

func cleanSnippet(s string) string {
	s = strings.TrimSpace(s)
	for _, sep := range []string{"-", "–", "—"} {
		if strings.HasPrefix(s, sep) {
			return strings.TrimSpace(strings.TrimPrefix(s, sep))
		}
	}
	return s
}
