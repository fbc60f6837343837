package panel

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

var angleAddr = regexp.MustCompile(`<[^>]*>`)

// DisplaySender drops the "<address>" part of a From value.
func DisplaySender(from string) string {
	name := strings.TrimSpace(angleAddr.ReplaceAllString(from, ""))
	name = strings.Trim(name, `"`)
	if name == "" {
		return strings.Trim(strings.TrimSpace(from), "<>")
	}
	return name
}

// dateLayouts covers API Date headers, ISO timestamps and Gmail row titles.
var dateLayouts = []string{
	time.RFC3339,
	"Mon, Jan 2, 2006, 3:04 PM",
	"Mon, Jan 2, 2006 at 3:04 PM",
	"Jan 2, 2006, 3:04 PM",
	"2006-01-02 15:04:05",
}

func parseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\u202f", " "))
	if t, err := mail.ParseDate(s); err == nil {
		return t, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders a record date relative to now: the clock time for the
// same day, "Yesterday", "N days ago" within a week, otherwise "Jan 2".
// Dates that cannot be parsed are returned unchanged.
func FormatDate(date string, now time.Time) string {
	if date == "" {
		return ""
	}
	t, ok := parseDate(date, now.Location())
	if !ok {
		return date
	}
	t = t.In(now.Location())
	days := int(now.Sub(t) / (24 * time.Hour))
	switch {
	case days <= 0:
		return t.Format("15:04")
	case days == 1:
		return "Yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("Jan 2")
	}
}

// fitWidth truncates and pads on the right to fit a fixed width
func fitWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = runewidth.Truncate(s, width, "...")
	pad := width - runewidth.StringWidth(s)
	if pad > 0 {
		s += strings.Repeat(" ", pad)
	}
	return s
}
