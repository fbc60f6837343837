package scanner

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ajramos/livegmail/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/html"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSurface struct {
	mu          sync.Mutex
	doc         *html.Node
	mutations   chan struct{}
	clicks      []string
	navigations []string
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{mutations: make(chan struct{}, 1)}
}

func (f *fakeSurface) set(t *testing.T, s string) {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	require.NoError(t, err)
	f.mu.Lock()
	f.doc = doc
	f.mu.Unlock()
	select {
	case f.mutations <- struct{}{}:
	default:
	}
}

func (f *fakeSurface) Snapshot(context.Context) (*html.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.doc == nil {
		return nil, ErrNotReady
	}
	return f.doc, nil
}

func (f *fakeSurface) Mutations() <-chan struct{} { return f.mutations }

func (f *fakeSurface) Click(_ context.Context, n *html.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, attrValue(n, "href"))
	return nil
}

func (f *fakeSurface) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	return nil
}

func (f *fakeSurface) activity() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clicks...), append([]string(nil), f.navigations...)
}

type agentHarness struct {
	surface *fakeSurface
	peer    protocol.Channel
	cancel  context.CancelFunc
	done    chan error
}

func startAgent(t *testing.T, surface *fakeSurface, cfg AgentConfig) *agentHarness {
	t.Helper()
	agentEnd, peer := protocol.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	h := &agentHarness{surface: surface, peer: peer, cancel: cancel, done: make(chan error, 1)}
	agent := NewAgent(surface, agentEnd, cfg, zerolog.Nop())
	go func() { h.done <- agent.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
		peer.Close()
	})
	return h
}

func (h *agentHarness) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case m := <-h.peer.Receive():
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("agent sent nothing")
		return protocol.Message{}
	}
}

func (h *agentHarness) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case m := <-h.peer.Receive():
		t.Fatalf("unexpected %s message", m.Kind)
	case <-time.After(d):
	}
}

var fastConfig = AgentConfig{
	Debounce:       10 * time.Millisecond,
	AttachRetry:    10 * time.Millisecond,
	MinScanSpacing: time.Hour,
	BaseURL:        baseURL,
}

func TestAgentEmitsOnAttachAndSuppressesDuplicates(t *testing.T) {
	surface := newFakeSurface()
	surface.set(t, inboxHTML)
	h := startAgent(t, surface, fastConfig)

	m := h.next(t)
	require.Equal(t, protocol.KindScanResult, m.Kind)
	assert.Equal(t, 2, m.ScanResult.UnreadCount)
	assert.EqualValues(t, 1, m.ScanResult.Seq)
	assert.NotEmpty(t, m.ScanResult.Epoch)

	// same content again: no second emission
	surface.set(t, inboxHTML)
	h.quiet(t, 100*time.Millisecond)

	surface.set(t, `<html><body><div role="main"><p>empty inbox</p></div></body></html>`)
	m = h.next(t)
	require.Equal(t, protocol.KindScanResult, m.Kind)
	assert.Zero(t, m.ScanResult.UnreadCount)
	assert.EqualValues(t, 2, m.ScanResult.Seq)
}

func TestAgentRetriesAttach(t *testing.T) {
	surface := newFakeSurface()
	h := startAgent(t, surface, fastConfig)

	require.NoError(t, h.peer.Send(context.Background(), protocol.NewReadinessQuery()))
	m := h.next(t)
	require.Equal(t, protocol.KindReadinessResponse, m.Kind)
	assert.False(t, m.Readiness.Ready)

	surface.set(t, inboxHTML)
	m = h.next(t)
	require.Equal(t, protocol.KindScanResult, m.Kind)

	require.NoError(t, h.peer.Send(context.Background(), protocol.NewReadinessQuery()))
	m = h.next(t)
	require.Equal(t, protocol.KindReadinessResponse, m.Kind)
	assert.True(t, m.Readiness.Ready)
	assert.Equal(t, 3, m.Readiness.RowCount)
}

func TestAgentScanRequestIsForcedAndRateLimited(t *testing.T) {
	surface := newFakeSurface()
	surface.set(t, inboxHTML)
	h := startAgent(t, surface, fastConfig)
	first := h.next(t)

	ctx := context.Background()
	require.NoError(t, h.peer.Send(ctx, protocol.NewScanRequest()))
	forced := h.next(t)
	require.Equal(t, protocol.KindScanResult, forced.Kind)
	assert.Equal(t, first.ScanResult.Records, forced.ScanResult.Records)
	assert.Greater(t, forced.ScanResult.Seq, first.ScanResult.Seq)

	// inside the minimum spacing: dropped, not queued
	require.NoError(t, h.peer.Send(ctx, protocol.NewScanRequest()))
	h.quiet(t, 100*time.Millisecond)
}

func TestAgentActivate(t *testing.T) {
	surface := newFakeSurface()
	surface.set(t, inboxHTML)
	h := startAgent(t, surface, fastConfig)
	h.next(t)

	ctx := context.Background()
	require.NoError(t, h.peer.Send(ctx, protocol.NewActivateItem(0, "")))
	require.NoError(t, h.peer.Send(ctx, protocol.NewActivateItem(1, "")))
	require.NoError(t, h.peer.Send(ctx, protocol.NewSetDiagnostics(true)))
	require.NoError(t, h.peer.Send(ctx, protocol.NewReadinessQuery()))
	h.next(t) // commands are handled in order

	clicks, navs := surface.activity()
	assert.Equal(t, []string{"#inbox/FMfcgzAAAA1111"}, clicks)
	assert.Equal(t, []string{baseURL + "#inbox/18c0ffee12345678"}, navs)
}

func TestActivate(t *testing.T) {
	ctx := context.Background()

	t.Run("locator wins over a shifted index", func(t *testing.T) {
		surface := newFakeSurface()
		surface.set(t, inboxHTML)
		require.NoError(t, Activate(ctx, surface, 0, "18c0ffee12345678", baseURL))
		_, navs := surface.activity()
		assert.Equal(t, []string{baseURL + "#inbox/18c0ffee12345678"}, navs)
	})

	t.Run("out of range", func(t *testing.T) {
		surface := newFakeSurface()
		surface.set(t, inboxHTML)
		assert.ErrorIs(t, Activate(ctx, surface, 5, "", baseURL), ErrNoSuchItem)
	})

	t.Run("synthetic id without link", func(t *testing.T) {
		surface := newFakeSurface()
		surface.set(t, `<html><body><div role="main"><table><tbody>
<tr class="zA zE"><td><span class="yP">Carl</span></td></tr>
</tbody></table></div></body></html>`)
		assert.ErrorIs(t, Activate(ctx, surface, 0, "", baseURL), ErrNotActivatable)
	})
}
