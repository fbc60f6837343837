package scanner

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// classifier decides a row's read state or abstains.
type classifier func(row *html.Node) (unread, decided bool)

// unreadClassifiers run in order; the first decision wins.
var unreadClassifiers = []classifier{
	byStateAttribute,
	byClass,
	byAriaLabel,
	byEmphasis,
	bySenderWeight,
}

// unreadLabels are lowercase fragments of "unread" as accessibility labels
// render it in supported locales.
var unreadLabels = []string{
	"unread",
	"non lu",
	"no leído",
	"ungelesen",
	"non letto",
	"não lida",
	"непрочитан",
	"未読",
}

// ClassifyUnread reports whether row represents an unread conversation.
// A row no heuristic recognizes is treated as read.
func ClassifyUnread(row *html.Node) bool {
	for _, c := range unreadClassifiers {
		if unread, ok := c(row); ok {
			return unread
		}
	}
	return false
}

func byStateAttribute(row *html.Node) (bool, bool) {
	for _, key := range []string{"data-unread", "data-is-unread"} {
		v, ok := attr(row, key)
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "":
			return true, true
		case "false", "0":
			return false, true
		}
	}
	return false, false
}

func byClass(row *html.Node) (bool, bool) {
	switch {
	case hasClass(row, "zE"), hasClass(row, "unread"):
		return true, true
	case hasClass(row, "yO"), hasClass(row, "read"):
		return false, true
	}
	return false, false
}

func byAriaLabel(row *html.Node) (bool, bool) {
	labels := []string{attrValue(row, "aria-label")}
	for _, n := range labelledSelector.MatchAll(row) {
		labels = append(labels, attrValue(n, "aria-label"))
	}
	for _, l := range labels {
		l = strings.ToLower(l)
		if l == "" {
			continue
		}
		for _, frag := range unreadLabels {
			if strings.Contains(l, frag) {
				return true, true
			}
		}
	}
	return false, false
}

func byEmphasis(row *html.Node) (bool, bool) {
	if emphasisSelector.MatchFirst(row) != nil {
		return true, true
	}
	return false, false
}

func bySenderWeight(row *html.Node) (bool, bool) {
	sender := senderChain.first(row)
	if sender == nil {
		return false, false
	}
	weight, ok := fontWeight(attrValue(sender, "style"))
	if !ok {
		return false, false
	}
	return weight >= 600, true
}

// fontWeight reads font-weight from an inline style declaration.
func fontWeight(style string) (int, bool) {
	for _, decl := range strings.Split(style, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "font-weight") {
			continue
		}
		value = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "!important")))
		switch value {
		case "bold", "bolder":
			return 700, true
		case "normal", "lighter":
			return 400, true
		}
		if n, err := strconv.Atoi(value); err == nil {
			return n, true
		}
	}
	return 0, false
}
