// Package panel is the presentation boundary: it shows the session's
// visible records in a popup placed next to a trigger element, and routes
// clicks back to the session.
package panel

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ajramos/livegmail/internal/mailbox"
	"github.com/ajramos/livegmail/internal/reconcile"
	"github.com/rs/zerolog"
)

const (
	NotConnectedText = "Not connected. Run `livegmail connect` to link your Gmail account."
	EmptyText        = "No unread messages"
)

// Activator opens a record in the mail client.
type Activator interface {
	Open(ctx context.Context, rec mailbox.UnreadMessage) error
}

// Row is one formatted record.
type Row struct {
	ID      string
	Sender  string
	Subject string
	Snippet string
	Date    string
}

// ViewModel is everything needed to draw the panel.
type ViewModel struct {
	Rows      []Row
	Banner    string
	Notice    string
	Connected bool
	FromCache bool
}

// Panel tracks visibility and placement, and formats the session's records.
type Panel struct {
	session   *reconcile.Session
	activator Activator
	size      Size
	viewport  Size
	now       func() time.Time
	logger    zerolog.Logger

	mu      sync.Mutex
	visible bool
	pos     Point
}

// Option configures a Panel.
type Option func(*Panel)

// WithViewport sets the viewport used for placement.
func WithViewport(v Size) Option {
	return func(p *Panel) { p.viewport = v }
}

// WithSize sets the panel's own size.
func WithSize(s Size) Option {
	return func(p *Panel) { p.size = s }
}

func WithClock(now func() time.Time) Option {
	return func(p *Panel) { p.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Panel) { p.logger = l }
}

// New creates a hidden panel.
func New(session *reconcile.Session, activator Activator, opts ...Option) *Panel {
	p := &Panel{
		session:   session,
		activator: activator,
		size:      Size{Width: 380, Height: 420},
		viewport:  Size{Width: 1280, Height: 800},
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnShow opens the panel next to anchor.
func (p *Panel) OnShow(anchor Rect) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = Place(anchor, p.size, p.viewport)
	p.visible = true
}

func (p *Panel) OnHide() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = false
}

func (p *Panel) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// Position is where the panel was last placed.
func (p *Panel) Position() Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// View formats the session's current state.
func (p *Panel) View() ViewModel {
	snap := p.session.Snapshot()
	now := p.now()
	vm := ViewModel{
		Banner:    snap.Error,
		Connected: snap.Connected,
		FromCache: snap.FromCache,
	}
	for _, r := range snap.Records {
		vm.Rows = append(vm.Rows, Row{
			ID:      r.ID,
			Sender:  DisplaySender(r.From),
			Subject: r.Subject,
			Snippet: r.Snippet,
			Date:    FormatDate(r.Date, now),
		})
	}
	switch {
	case !snap.Connected && len(vm.Rows) == 0:
		vm.Notice = NotConnectedText
	case len(vm.Rows) == 0:
		vm.Notice = EmptyText
	}
	return vm
}

// Click hides the record everywhere, asks the activator to open it and
// closes the panel.
func (p *Panel) Click(ctx context.Context, id string) error {
	var target *mailbox.UnreadMessage
	for _, r := range p.session.Visible() {
		if r.ID == id {
			r := r
			target = &r
			break
		}
	}
	if target == nil {
		return fmt.Errorf("record %q is not visible", id)
	}
	p.session.MarkClicked(ctx, id)
	p.OnHide()
	if err := p.activator.Open(ctx, *target); err != nil {
		p.logger.Warn().Err(err).Str("id", id).Msg("open record failed")
		return err
	}
	return nil
}

// Render writes a plain-text rendition of the view, width columns wide.
func Render(w io.Writer, vm ViewModel, width int) error {
	if width < 40 {
		width = 40
	}
	var b strings.Builder
	if vm.Banner != "" {
		b.WriteString("! " + fitWidth(vm.Banner, width-2) + "\n")
	}
	if vm.Notice != "" {
		b.WriteString(vm.Notice + "\n")
	}
	senderWidth := 22
	dateWidth := 10
	subjectWidth := width - senderWidth - dateWidth - 6 - 4
	for i, r := range vm.Rows {
		fmt.Fprintf(&b, "%2d. %s | %s | %s\n", i+1,
			fitWidth(r.Sender, senderWidth),
			fitWidth(r.Subject, subjectWidth),
			fitWidth(r.Date, dateWidth))
		if r.Snippet != "" {
			b.WriteString("    " + strings.TrimRight(fitWidth(r.Snippet, width-4), " ") + "\n")
		}
	}
	if vm.FromCache {
		b.WriteString("(showing cached results)\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
