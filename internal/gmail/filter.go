package gmail

const (
	labelUnread = "UNREAD"
	labelInbox  = "INBOX"
)

var excludedLabels = map[string]struct{}{
	"SENT":  {},
	"DRAFT": {},
	"SPAM":  {},
	"TRASH": {},
}

// KeepMessage re-checks a label set on the client: the message must be
// unread and in the inbox, and must not be sent, a draft, spam or trash.
func KeepMessage(labels []string) bool {
	var unread, inbox bool
	for _, l := range labels {
		switch l {
		case labelUnread:
			unread = true
		case labelInbox:
			inbox = true
		default:
			if _, bad := excludedLabels[l]; bad {
				return false
			}
		}
	}
	return unread && inbox
}
