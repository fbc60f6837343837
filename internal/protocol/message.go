// Package protocol carries typed messages between the scanner agent running
// beside the live document and the consumer that reconciles its results.
// Delivery is at most once and unordered; every scan result is a full
// replacement of the previous one.
package protocol

import (
	"fmt"

	"github.com/ajramos/livegmail/internal/mailbox"
)

// Kind names a message type.
type Kind string

const (
	KindScanRequest       Kind = "scan_request"
	KindScanResult        Kind = "scan_result"
	KindReadinessQuery    Kind = "readiness_query"
	KindReadinessResponse Kind = "readiness_response"
	KindActivateItem      Kind = "activate_item"
	KindSetDiagnostics    Kind = "set_diagnostics"
)

// ScanResult is a complete extraction of the unread rows.
type ScanResult struct {
	// Epoch identifies one agent run; Seq increases within it.
	Epoch       string                  `json:"epoch"`
	Seq         uint64                  `json:"seq"`
	Records     []mailbox.UnreadMessage `json:"records"`
	RowCount    int                     `json:"rowCount"`
	UnreadCount int                     `json:"unreadCount"`
}

// Readiness answers a readiness query.
type Readiness struct {
	Ready    bool `json:"ready"`
	RowCount int  `json:"rowCount"`
}

// ActivateItem asks the agent to open the Nth currently-unread row.
// Locator, when set, is the record id expected at that position.
type ActivateItem struct {
	Index   int    `json:"index"`
	Locator string `json:"locator,omitempty"`
}

// SetDiagnostics toggles verbose agent logging.
type SetDiagnostics struct {
	Enabled bool `json:"enabled"`
}

// Message is the envelope for every kind. Exactly the payload matching
// Kind is set.
type Message struct {
	Kind        Kind            `json:"kind"`
	ScanResult  *ScanResult     `json:"scanResult,omitempty"`
	Readiness   *Readiness      `json:"readiness,omitempty"`
	Activate    *ActivateItem   `json:"activate,omitempty"`
	Diagnostics *SetDiagnostics `json:"diagnostics,omitempty"`
}

func NewScanRequest() Message    { return Message{Kind: KindScanRequest} }
func NewReadinessQuery() Message { return Message{Kind: KindReadinessQuery} }

func NewScanResult(r ScanResult) Message {
	return Message{Kind: KindScanResult, ScanResult: &r}
}

func NewReadinessResponse(r Readiness) Message {
	return Message{Kind: KindReadinessResponse, Readiness: &r}
}

func NewActivateItem(index int, locator string) Message {
	return Message{Kind: KindActivateItem, Activate: &ActivateItem{Index: index, Locator: locator}}
}

func NewSetDiagnostics(enabled bool) Message {
	return Message{Kind: KindSetDiagnostics, Diagnostics: &SetDiagnostics{Enabled: enabled}}
}

// Validate checks that the payload required by Kind is present.
func (m Message) Validate() error {
	switch m.Kind {
	case KindScanRequest, KindReadinessQuery:
		return nil
	case KindScanResult:
		if m.ScanResult == nil {
			return fmt.Errorf("%s: missing payload", m.Kind)
		}
	case KindReadinessResponse:
		if m.Readiness == nil {
			return fmt.Errorf("%s: missing payload", m.Kind)
		}
	case KindActivateItem:
		if m.Activate == nil {
			return fmt.Errorf("%s: missing payload", m.Kind)
		}
		if m.Activate.Index < 0 {
			return fmt.Errorf("%s: negative index %d", m.Kind, m.Activate.Index)
		}
	case KindSetDiagnostics:
		if m.Diagnostics == nil {
			return fmt.Errorf("%s: missing payload", m.Kind)
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}
