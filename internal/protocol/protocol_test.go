package protocol

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ajramos/livegmail/internal/mailbox"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive(t *testing.T, ch Channel) Message {
	t.Helper()
	select {
	case m := <-ch.Receive():
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, NewScanRequest().Validate())
	assert.NoError(t, NewReadinessQuery().Validate())
	assert.NoError(t, NewActivateItem(2, "abc").Validate())
	assert.NoError(t, NewSetDiagnostics(true).Validate())
	assert.NoError(t, NewScanResult(ScanResult{}).Validate())
	assert.NoError(t, NewReadinessResponse(Readiness{Ready: true}).Validate())

	assert.Error(t, Message{Kind: KindScanResult}.Validate())
	assert.Error(t, Message{Kind: KindActivateItem}.Validate())
	assert.Error(t, NewActivateItem(-1, "").Validate())
	assert.Error(t, Message{Kind: "bogus"}.Validate())
}

func TestMessageJSONShape(t *testing.T) {
	data, err := json.Marshal(NewActivateItem(3, "id-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"activate_item","activate":{"index":3,"locator":"id-1"}}`, string(data))
}

func TestPipeDeliversBothWays(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, NewScanRequest()))
	assert.Equal(t, KindScanRequest, receive(t, b).Kind)

	require.NoError(t, b.Send(ctx, NewReadinessResponse(Readiness{Ready: true, RowCount: 4})))
	m := receive(t, a)
	require.NotNil(t, m.Readiness)
	assert.Equal(t, 4, m.Readiness.RowCount)
}

func TestPipeDropsWhenFull(t *testing.T) {
	a, b := Pipe()
	defer b.Close()
	ctx := context.Background()
	for i := 0; i < DefaultBuffer; i++ {
		require.NoError(t, a.Send(ctx, NewScanRequest()))
	}
	assert.ErrorIs(t, a.Send(ctx, NewScanRequest()), ErrDropped)
}

func TestPipeClosed(t *testing.T) {
	a, b := Pipe()
	require.NoError(t, b.Close())
	assert.ErrorIs(t, a.Send(context.Background(), NewScanRequest()), ErrClosed)
	select {
	case <-a.Done():
	default:
		t.Fatal("closing one end should close the other")
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	accepted := make(chan Channel, 1)
	srv := httptest.NewServer(Handler(func(ch Channel) { accepted <- ch }, zerolog.Nop()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), zerolog.Nop())
	require.NoError(t, err)

	var server Channel
	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatal("server never accepted")
	}

	require.NoError(t, client.Send(ctx, NewScanRequest()))
	assert.Equal(t, KindScanRequest, receive(t, server).Kind)

	result := ScanResult{
		Epoch:       "e1",
		Seq:         7,
		RowCount:    3,
		UnreadCount: 1,
		Records:     []mailbox.UnreadMessage{{ID: "m1", From: "Ann", Subject: "Hi", IsUnread: true}},
	}
	require.NoError(t, server.Send(ctx, NewScanResult(result)))
	got := receive(t, client)
	require.NotNil(t, got.ScanResult)
	assert.Equal(t, result, *got.ScanResult)

	require.NoError(t, client.Close())
	client.Wait()
	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server side did not observe close")
	}
	server.(*WSChannel).Wait()
	assert.ErrorIs(t, client.Send(ctx, NewScanRequest()), ErrClosed)
}
