package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ajramos/livegmail/internal/gmail"
	"github.com/ajramos/livegmail/internal/mailbox"
	"github.com/ajramos/livegmail/internal/reconcile"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchOutcome
	calls   int
}

type fetchOutcome struct {
	res gmail.Result
	err error
}

func (f *scriptedFetcher) Run(_ context.Context, marks gmail.Marks) (gmail.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.results[min(f.calls, len(f.results)-1)]
	f.calls++
	var kept []mailbox.UnreadMessage
	for _, r := range out.res.Messages {
		if !marks.IsMarked(r.ID) {
			kept = append(kept, r)
		}
	}
	return gmail.Result{Messages: kept, ListedIDs: out.res.ListedIDs}, out.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingOpener struct {
	mu   sync.Mutex
	urls []string
}

func (o *recordingOpener) OpenURL(_ context.Context, url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	return nil
}

func result(ids ...string) gmail.Result {
	var msgs []mailbox.UnreadMessage
	for i, id := range ids {
		msgs = append(msgs, mailbox.UnreadMessage{ID: id, ThreadID: "t-" + id, SortKey: int64(len(ids) - i)})
	}
	return gmail.Result{Messages: msgs, ListedIDs: ids}
}

func runPoller(t *testing.T, p *Poller) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestPollerInitialFetchAndRefreshNow(t *testing.T) {
	session := reconcile.NewSession()
	fetcher := &scriptedFetcher{results: []fetchOutcome{{res: result("a", "b")}, {res: result("c")}}}
	p := NewPoller(fetcher, session, &recordingOpener{}, PollerConfig{Interval: time.Hour}, zerolog.Nop())
	runPoller(t, p)

	require.Eventually(t, func() bool { return len(session.Visible()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, session.Connected())

	p.RefreshNow()
	require.Eventually(t, func() bool {
		v := session.Visible()
		return len(v) == 1 && v[0].ID == "c"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPollerAuthFailureKeepsRecords(t *testing.T) {
	session := reconcile.NewSession()
	fetcher := &scriptedFetcher{results: []fetchOutcome{
		{res: result("a")},
		{err: gmail.ErrAuthExpired},
	}}
	p := NewPoller(fetcher, session, &recordingOpener{}, PollerConfig{Interval: time.Hour}, zerolog.Nop())
	runPoller(t, p)

	require.Eventually(t, func() bool { return len(session.Visible()) == 1 }, 2*time.Second, 5*time.Millisecond)
	p.RefreshNow()
	require.Eventually(t, func() bool { return session.Error() != "" }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, BannerAuthExpired, session.Error())
	assert.False(t, session.Connected())
	assert.Len(t, session.Visible(), 1)
}

func TestPollerFetchErrorBanner(t *testing.T) {
	session := reconcile.NewSession()
	fetcher := &scriptedFetcher{results: []fetchOutcome{
		{err: &gmail.FetchError{Status: 503, Message: "Service Unavailable"}},
	}}
	p := NewPoller(fetcher, session, &recordingOpener{}, PollerConfig{Interval: time.Hour}, zerolog.Nop())
	runPoller(t, p)

	require.Eventually(t, func() bool { return session.Error() != "" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "API error: 503 Service Unavailable", session.Error())
}

func TestPollerOpenSchedulesRefetch(t *testing.T) {
	ctx := context.Background()
	session := reconcile.NewSession()
	fetcher := &scriptedFetcher{results: []fetchOutcome{{res: result("a", "b")}, {res: result("b")}}}
	opener := &recordingOpener{}
	p := NewPoller(fetcher, session, opener, PollerConfig{
		Interval:     time.Hour,
		RefetchDelay: 20 * time.Millisecond,
		WebURL:       mailbox.DefaultWebURL,
	}, zerolog.Nop())
	runPoller(t, p)
	require.Eventually(t, func() bool { return len(session.Visible()) == 2 }, 2*time.Second, 5*time.Millisecond)

	rec := session.Visible()[0]
	session.MarkClicked(ctx, rec.ID)
	require.NoError(t, p.Open(ctx, rec))

	opener.mu.Lock()
	assert.Equal(t, []string{"https://mail.google.com/mail/u/0/#inbox/t-a"}, opener.urls)
	opener.mu.Unlock()

	require.Eventually(t, func() bool { return fetcher.callCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !session.IsMarked("a") }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"b"}, mailbox.IDs(session.Visible()))
}

func TestPollerIgnoresFailureOfSupersededFetch(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"api error", &gmail.FetchError{Status: 503, Message: "Service Unavailable"}},
		{"auth error", gmail.ErrAuthExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			session := reconcile.NewSession()
			session.SetConnected(true)
			// the newer fetch answers first, the older one fails afterwards
			fetcher := &scriptedFetcher{results: []fetchOutcome{{res: result("a")}, {err: tt.err}}}
			p := NewPoller(fetcher, session, &recordingOpener{}, PollerConfig{}, zerolog.Nop())

			older := session.BeginRefresh()
			newer := session.BeginRefresh()
			p.refresh(ctx, newer)
			require.Equal(t, []string{"a"}, mailbox.IDs(session.Visible()))

			p.refresh(ctx, older)
			assert.Empty(t, session.Error())
			assert.True(t, session.Connected())
			assert.Equal(t, []string{"a"}, mailbox.IDs(session.Visible()))
		})
	}
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsAuthorizationError(gmail.ErrAuthExpired))
	assert.False(t, IsRetryableError(gmail.ErrAuthExpired))
	assert.True(t, IsRetryableError(&gmail.FetchError{Status: 500}))
	assert.True(t, IsRetryableError(&gmail.FetchError{Status: 429}))
	assert.False(t, IsRetryableError(&gmail.FetchError{Status: 404}))
	assert.Equal(t, "", Banner(nil))
	assert.Equal(t, "Sync failed: boom", Banner(errors.New("boom")))
}
