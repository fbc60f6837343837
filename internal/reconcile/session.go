// Package reconcile owns the state a sync session shows: the live record
// list, records the user opened locally, the persisted fallback cache, the
// error banner and the connection flag. Every other component proposes
// changes through Session's methods.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/ajramos/livegmail/internal/mailbox"
	"github.com/ajramos/livegmail/internal/protocol"
	"github.com/rs/zerolog"
)

// FallbackStore persists the fallback cache across restarts.
type FallbackStore interface {
	SaveFallback(ctx context.Context, records []mailbox.UnreadMessage, savedAt time.Time) error
	LoadFallback(ctx context.Context) ([]mailbox.UnreadMessage, time.Time, error)
}

// View is a consistent snapshot for presentation.
type View struct {
	Records   []mailbox.UnreadMessage
	FromCache bool
	Error     string
	Connected bool
}

// Session is safe for concurrent use.
type Session struct {
	max         int
	fallbackTTL time.Duration
	store       FallbackStore
	now         func() time.Time
	logger      zerolog.Logger

	persistMu sync.Mutex

	mu           sync.Mutex
	live         []mailbox.UnreadMessage
	marks        map[string]struct{}
	cache        []mailbox.UnreadMessage
	cacheSavedAt time.Time
	reachable    bool
	connected    bool
	errMsg       string

	refreshGen uint64
	scanEpoch  string
	scanSeq    uint64

	subs map[chan struct{}]struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithMaxRecords caps the visible list.
func WithMaxRecords(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.max = n
		}
	}
}

// WithFallbackStore persists the cache through store.
func WithFallbackStore(store FallbackStore) Option {
	return func(s *Session) { s.store = store }
}

// WithFallbackTTL hides cached records older than ttl. Zero keeps them forever.
func WithFallbackTTL(ttl time.Duration) Option {
	return func(s *Session) { s.fallbackTTL = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// NewSession creates an empty session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		max:    mailbox.MaxRecords,
		now:    time.Now,
		logger: zerolog.Nop(),
		marks:  make(map[string]struct{}),
		subs:   make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginRefresh starts a pipeline run. Only the result of the latest run
// started is applied.
func (s *Session) BeginRefresh() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshGen++
	return s.refreshGen
}

// ApplyRefresh installs the result of refresh gen. rawIDs is every id the
// fetch saw before filtering; marks absent from it are pruned. It reports
// false when a newer refresh has started since gen.
func (s *Session) ApplyRefresh(ctx context.Context, gen uint64, records []mailbox.UnreadMessage, rawIDs []string) bool {
	s.mu.Lock()
	if gen != s.refreshGen {
		s.mu.Unlock()
		s.logger.Debug().Uint64("gen", gen).Msg("discarding stale refresh")
		return false
	}
	cached := s.install(records, rawIDs)
	s.mu.Unlock()
	s.notify()
	if cached {
		s.persistCache(ctx)
	}
	return true
}

// FailRefresh records that refresh gen failed: banner goes to the error
// slot and, when disconnect is set, the connection flag is cleared. Records
// already shown stay. It reports false, changing nothing, when a newer
// refresh has started since gen.
func (s *Session) FailRefresh(gen uint64, banner string, disconnect bool) bool {
	s.mu.Lock()
	if gen != s.refreshGen {
		s.mu.Unlock()
		s.logger.Debug().Uint64("gen", gen).Msg("discarding stale refresh failure")
		return false
	}
	s.errMsg = banner
	if disconnect {
		s.connected = false
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// ApplyScan installs a scan result. Within one agent epoch a result with a
// sequence number not above the last applied one is stale and ignored.
func (s *Session) ApplyScan(ctx context.Context, res protocol.ScanResult) bool {
	s.mu.Lock()
	if res.Epoch != "" && res.Epoch == s.scanEpoch && res.Seq <= s.scanSeq {
		s.mu.Unlock()
		s.logger.Debug().Uint64("seq", res.Seq).Msg("discarding stale scan")
		return false
	}
	s.scanEpoch, s.scanSeq = res.Epoch, res.Seq
	cached := s.install(res.Records, mailbox.IDs(res.Records))
	s.mu.Unlock()
	s.notify()
	if cached {
		s.persistCache(ctx)
	}
	return true
}

// install replaces the live list and copies it into the cache when the
// merged list is non-empty, reporting whether it did. Callers hold s.mu.
func (s *Session) install(records []mailbox.UnreadMessage, rawIDs []string) bool {
	s.pruneMarks(rawIDs)
	s.live = mailbox.SortAndCap(s.withoutMarked(records), s.max)
	s.reachable = true
	if len(s.live) == 0 {
		return false
	}
	s.setCache(s.live)
	return true
}

// MarkClicked hides id everywhere at once, before any confirmation.
func (s *Session) MarkClicked(ctx context.Context, id string) {
	s.mu.Lock()
	s.marks[id] = struct{}{}
	s.live = remove(s.live, id)
	cached := contains(s.cache, id)
	if cached {
		s.setCache(remove(s.cache, id))
	}
	s.mu.Unlock()
	s.notify()
	if cached {
		s.persistCache(ctx)
	}
}

// ReconcileAfterRefresh drops marks whose ids are absent from ids. A
// message that left the inbox without being read is indistinguishable
// from one that was read.
func (s *Session) ReconcileAfterRefresh(ids []string) {
	s.mu.Lock()
	s.pruneMarks(ids)
	s.mu.Unlock()
}

func (s *Session) pruneMarks(ids []string) {
	present := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
	}
	for id := range s.marks {
		if _, ok := present[id]; !ok {
			delete(s.marks, id)
		}
	}
}

// IsMarked reports whether the user opened id locally.
func (s *Session) IsMarked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.marks[id]
	return ok
}

// Visible returns the records to show. When the live list is empty and the
// live surface is unreachable, the fallback cache stands in, as long as it
// is not older than the fallback TTL.
func (s *Session) Visible() []mailbox.UnreadMessage {
	return s.Snapshot().Records
}

// Snapshot returns the visible records with the banner and connection state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{Error: s.errMsg, Connected: s.connected}
	if len(s.live) == 0 && !s.reachable && s.cacheFresh() {
		v.Records = s.withoutMarked(s.cache)
		v.FromCache = true
		return v
	}
	v.Records = append([]mailbox.UnreadMessage(nil), s.live...)
	return v
}

func (s *Session) cacheFresh() bool {
	if len(s.cache) == 0 {
		return false
	}
	return s.fallbackTTL <= 0 || s.now().Sub(s.cacheSavedAt) <= s.fallbackTTL
}

// SetSurfaceReachable records whether the live surface currently answers.
func (s *Session) SetSurfaceReachable(ok bool) {
	s.mu.Lock()
	changed := s.reachable != ok
	s.reachable = ok
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// SetError puts msg in the error slot.
func (s *Session) SetError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
	s.notify()
}

// ClearError empties the error slot.
func (s *Session) ClearError() {
	s.SetError("")
}

// Error returns the banner currently shown, or "".
func (s *Session) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// SetConnected records whether a Gmail account is linked and usable.
func (s *Session) SetConnected(ok bool) {
	s.mu.Lock()
	changed := s.connected != ok
	s.connected = ok
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Connected reports the connection flag.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// RestoreFallback loads the persisted cache.
func (s *Session) RestoreFallback(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	records, savedAt, err := s.store.LoadFallback(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cache = mailbox.SortAndCap(records, s.max)
	s.cacheSavedAt = savedAt
	s.mu.Unlock()
	s.logger.Debug().Int("records", len(records)).Time("saved_at", savedAt).Msg("fallback cache restored")
	s.notify()
	return nil
}

// Subscribe returns a channel signalled after every state change, and a
// function that cancels the subscription. Signals coalesce.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// setCache replaces the in-memory cache wholesale. Callers hold s.mu.
func (s *Session) setCache(records []mailbox.UnreadMessage) {
	s.cache = append([]mailbox.UnreadMessage(nil), records...)
	s.cacheSavedAt = s.now()
}

// persistCache writes the current cache to the store without holding s.mu.
// Writes are serialized and each one takes the latest cache, so a slow
// writer never stores an older list over a newer one.
func (s *Session) persistCache(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	records := append([]mailbox.UnreadMessage(nil), s.cache...)
	savedAt := s.cacheSavedAt
	s.mu.Unlock()

	if err := s.store.SaveFallback(ctx, records, savedAt); err != nil {
		s.logger.Warn().Err(err).Msg("persist fallback cache")
	}
}

func (s *Session) withoutMarked(records []mailbox.UnreadMessage) []mailbox.UnreadMessage {
	out := make([]mailbox.UnreadMessage, 0, len(records))
	for _, r := range records {
		if _, marked := s.marks[r.ID]; !marked {
			out = append(out, r)
		}
	}
	return out
}

func remove(records []mailbox.UnreadMessage, id string) []mailbox.UnreadMessage {
	out := make([]mailbox.UnreadMessage, 0, len(records))
	for _, r := range records {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

func contains(records []mailbox.UnreadMessage, id string) bool {
	for _, r := range records {
		if r.ID == id {
			return true
		}
	}
	return false
}
