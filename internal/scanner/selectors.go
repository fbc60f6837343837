package scanner

import (
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// chain is an ordered list of selectors; the first one with a match wins.
type chain []cascadia.Selector

func compileChain(sels ...string) chain {
	out := make(chain, 0, len(sels))
	for _, s := range sels {
		out = append(out, cascadia.MustCompile(s))
	}
	return out
}

// first returns the first node matched by the earliest selector that matches anything.
func (c chain) first(n *html.Node) *html.Node {
	for _, sel := range c {
		if m := sel.MatchFirst(n); m != nil {
			return m
		}
	}
	return nil
}

// all returns every match of the earliest selector that matches anything.
func (c chain) all(n *html.Node) []*html.Node {
	for _, sel := range c {
		if ms := sel.MatchAll(n); len(ms) > 0 {
			return ms
		}
	}
	return nil
}

var (
	rootChain = compileChain(`div[role="main"]`, `div.AO`, `body`)
	rowChain  = compileChain(`tr.zA`, `[role="row"]`, `tr[jsmodel]`, `div[role="listitem"]`)

	senderChain  = compileChain(`span.yP`, `span.zF`, `[email]`)
	subjectChain = compileChain(`span.bog`, `span.bqe`)
	snippetChain = compileChain(`span.y2`)
	dateChain    = compileChain(`td.xW span`, `span.xW`, `time`)

	idAttrs   = []string{"data-legacy-message-id", "data-message-id", "data-legacy-thread-id", "data-thread-id"}
	idChain   = compileChain(`[data-legacy-message-id]`, `[data-message-id]`, `[data-legacy-thread-id]`, `[data-thread-id]`)
	threadIDs = compileChain(`[data-legacy-thread-id]`, `[data-thread-id]`)

	linkSelector     = cascadia.MustCompile(`a[href]`)
	emphasisSelector = cascadia.MustCompile(`b, strong`)
	labelledSelector = cascadia.MustCompile(`[aria-label]`)
)

// ObservedRoot returns the element the scanner watches: the main region,
// then the mailbox container, then the document body.
func ObservedRoot(doc *html.Node) *html.Node {
	if doc == nil {
		return nil
	}
	return rootChain.first(doc)
}

// Rows returns the row-like elements under root in document order.
func Rows(root *html.Node) []*html.Node {
	if root == nil {
		return nil
	}
	return rowChain.all(root)
}
