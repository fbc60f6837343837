package services

import (
	"context"
	"testing"
	"time"

	"github.com/ajramos/livegmail/internal/mailbox"
	"github.com/ajramos/livegmail/internal/protocol"
	"github.com/ajramos/livegmail/internal/reconcile"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectKind(t *testing.T, ch protocol.Channel, kind protocol.Kind) protocol.Message {
	t.Helper()
	select {
	case m := <-ch.Receive():
		require.Equal(t, kind, m.Kind)
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s message", kind)
		return protocol.Message{}
	}
}

func TestLiveSyncAppliesScans(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer, agent := protocol.Pipe()
	defer agent.Close()

	session := reconcile.NewSession()
	live := NewLiveSync(consumer, session, LiveConfig{RequestInterval: time.Hour, MinScanSpacing: time.Hour}, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- live.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	expectKind(t, agent, protocol.KindReadinessQuery)
	require.NoError(t, agent.Send(ctx, protocol.NewReadinessResponse(protocol.Readiness{Ready: true, RowCount: 2})))
	expectKind(t, agent, protocol.KindScanRequest)

	records := []mailbox.UnreadMessage{
		{ID: "a", SourceIndex: 0, SortKey: 2, IsUnread: true},
		{ID: "b", SourceIndex: 1, SortKey: 1, IsUnread: true},
	}
	require.NoError(t, agent.Send(ctx, protocol.NewScanResult(protocol.ScanResult{Epoch: "e", Seq: 1, Records: records, RowCount: 2, UnreadCount: 2})))
	require.Eventually(t, func() bool { return len(session.Visible()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, session.Connected())

	// rate limited: the readiness-triggered request used the only token
	assert.ErrorIs(t, live.RequestScan(ctx), ErrRateLimited)

	require.NoError(t, live.Open(ctx, records[1]))
	m := expectKind(t, agent, protocol.KindActivateItem)
	assert.Equal(t, protocol.ActivateItem{Index: 1, Locator: "b"}, *m.Activate)

	require.NoError(t, live.SetDiagnostics(ctx, true))
	m = expectKind(t, agent, protocol.KindSetDiagnostics)
	assert.True(t, m.Diagnostics.Enabled)
}

func TestLiveSyncChannelCloseFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	consumer, agent := protocol.Pipe()

	session := reconcile.NewSession()
	live := NewLiveSync(consumer, session, LiveConfig{RequestInterval: time.Hour}, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- live.Run(ctx) }()

	expectKind(t, agent, protocol.KindReadinessQuery)
	records := []mailbox.UnreadMessage{{ID: "a", SortKey: 1}}
	require.NoError(t, agent.Send(ctx, protocol.NewScanResult(protocol.ScanResult{Epoch: "e", Seq: 1, Records: records})))
	require.Eventually(t, func() bool { return len(session.Visible()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// an empty scan arrives, then the agent disappears
	require.NoError(t, agent.Send(ctx, protocol.NewScanResult(protocol.ScanResult{Epoch: "e", Seq: 2})))
	require.Eventually(t, func() bool { return len(session.Visible()) == 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, agent.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, protocol.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("live sync did not stop")
	}
	view := session.Snapshot()
	assert.True(t, view.FromCache)
	assert.Equal(t, []string{"a"}, mailbox.IDs(view.Records))
}
