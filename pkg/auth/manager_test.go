package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajramos/livegmail/internal/credstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type tokenServer struct {
	*httptest.Server
	refreshCalls atomic.Int32
	lastVerifier atomic.Value
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			ts.lastVerifier.Store(r.Form.Get("code_verifier"))
			switch r.Form.Get("code") {
			case "good":
				writeJSON(w, http.StatusOK, map[string]any{
					"access_token": "access-1", "refresh_token": "refresh-1",
					"expires_in": 3600, "token_type": "Bearer",
				})
			case "no-refresh":
				writeJSON(w, http.StatusOK, map[string]any{
					"access_token": "access-1", "expires_in": 3600, "token_type": "Bearer",
				})
			default:
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": "invalid_grant", "error_description": "Bad Request",
				})
			}
		case "refresh_token":
			ts.refreshCalls.Add(1)
			switch r.Form.Get("refresh_token") {
			case "dead":
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
			case "flaky":
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "backend_error"})
			case "rotating":
				writeJSON(w, http.StatusOK, map[string]any{
					"access_token": "access-2", "refresh_token": "refresh-2",
					"expires_in": 3600, "token_type": "Bearer",
				})
			default:
				writeJSON(w, http.StatusOK, map[string]any{
					"access_token": "access-2", "expires_in": 3600, "token_type": "Bearer",
				})
			}
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (ts *tokenServer) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    "client",
		RedirectURL: "http://127.0.0.1/callback",
		Scopes:      DefaultScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   ts.URL + "/auth",
			TokenURL:  ts.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func newTestManager(t *testing.T, ts *tokenServer, store credstore.Store, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithHTTPClient(ts.Client())}, opts...)
	m, err := NewManager(context.Background(), ts.config(), store, opts...)
	require.NoError(t, err)
	return m
}

func TestStartAuthorizationBuildsPKCEURL(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts, credstore.NewMemory())

	req, err := m.StartAuthorization("http://127.0.0.1:9999/callback")
	require.NoError(t, err)
	assert.Equal(t, StateAuthorizing, m.State())

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, req.State, q.Get("state"))
	assert.Equal(t, "http://127.0.0.1:9999/callback", q.Get("redirect_uri"))

	_, err = m.StartAuthorization("")
	assert.ErrorIs(t, err, ErrAuthorizationInProgress)
}

func TestPKCEVerifierShape(t *testing.T) {
	p := NewPKCE()
	assert.GreaterOrEqual(t, len(p.Verifier), 43)
	assert.LessOrEqual(t, len(p.Verifier), 128)
	assert.Regexp(t, `^[A-Za-z0-9\-._~]+$`, p.Verifier)
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(p.Verifier), p.Challenge)
	assert.NotContains(t, p.Challenge, "=")
}

func TestExchangeCodeStoresTokens(t *testing.T) {
	ts := newTokenServer(t)
	store := credstore.NewMemory()
	m := newTestManager(t, ts, store)
	ctx := context.Background()

	_, err := m.StartAuthorization("")
	require.NoError(t, err)
	require.NoError(t, m.ExchangeCode(ctx, "good"))
	assert.Equal(t, StateAuthenticated, m.State())
	assert.NotEmpty(t, ts.lastVerifier.Load())

	state, err := credstore.LoadTokenState(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "access-1", state.AccessToken)
	assert.Equal(t, "refresh-1", state.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour-expirySkew), state.Expiry, 5*time.Second)

	// verifier is consumed
	assert.ErrorIs(t, m.ExchangeCode(ctx, "good"), ErrNoVerifier)
}

func TestExchangeCodeWithoutVerifier(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts, credstore.NewMemory())
	assert.ErrorIs(t, m.ExchangeCode(context.Background(), "good"), ErrNoVerifier)
}

func TestExchangeCodeRejected(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts, credstore.NewMemory())

	_, err := m.StartAuthorization("")
	require.NoError(t, err)
	err = m.ExchangeCode(context.Background(), "bad")

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_grant", authErr.Code)
	assert.Equal(t, "Bad Request", authErr.Description)
	assert.Equal(t, StateUnauthenticated, m.State())
}

func TestExchangeCodeWithoutRefreshToken(t *testing.T) {
	ts := newTokenServer(t)
	store := credstore.NewMemory()
	m := newTestManager(t, ts, store)
	ctx := context.Background()

	_, err := m.StartAuthorization("")
	require.NoError(t, err)
	require.NoError(t, m.ExchangeCode(ctx, "no-refresh"))

	has, err := m.HasRefreshToken(ctx)
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, StateAuthenticated, m.State())
}

func TestCancelAuthorizationRestoresState(t *testing.T) {
	ts := newTokenServer(t)
	store := credstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, credstore.SaveTokenState(ctx, store, credstore.TokenState{AccessToken: "a"}))
	m := newTestManager(t, ts, store)
	require.Equal(t, StateAuthenticated, m.State())

	_, err := m.StartAuthorization("")
	require.NoError(t, err)
	m.CancelAuthorization()
	assert.Equal(t, StateAuthenticated, m.State())
	assert.ErrorIs(t, m.ExchangeCode(ctx, "good"), ErrNoVerifier)
}

func TestDenyReturnsAuthorizationError(t *testing.T) {
	ts := newTokenServer(t)
	m := newTestManager(t, ts, credstore.NewMemory())
	_, err := m.StartAuthorization("")
	require.NoError(t, err)

	err = m.Deny("access_denied", "")
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "access_denied", authErr.Code)
	assert.Equal(t, StateUnauthenticated, m.State())
}

func TestGetValidAccessToken(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("valid token returned without refresh", func(t *testing.T) {
		ts := newTokenServer(t)
		store := credstore.NewMemory()
		require.NoError(t, credstore.SaveTokenState(ctx, store, credstore.TokenState{
			AccessToken: "a", RefreshToken: "r", Expiry: now.Add(time.Minute),
		}))
		m := newTestManager(t, ts, store, WithClock(clock))
		tok, err := m.GetValidAccessToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a", tok)
		assert.Zero(t, ts.refreshCalls.Load())
	})

	t.Run("unknown expiry counts as valid", func(t *testing.T) {
		ts := newTokenServer(t)
		store := credstore.NewMemory()
		require.NoError(t, credstore.SaveTokenState(ctx, store, credstore.TokenState{AccessToken: "a"}))
		m := newTestManager(t, ts, store, WithClock(clock))
		tok, err := m.GetValidAccessToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a", tok)
	})

	t.Run("expired token refreshes", func(t *testing.T) {
		ts := newTokenServer(t)
		store := credstore.NewMemory()
		require.NoError(t, credstore.SaveTokenState(ctx, store, credstore.TokenState{
			AccessToken: "a", RefreshToken: "r", Expiry: now.Add(-time.Second),
		}))
		m := newTestManager(t, ts, store, WithClock(clock))
		tok, err := m.GetValidAccessToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "access-2", tok)
		assert.EqualValues(t, 1, ts.refreshCalls.Load())

		state, err := credstore.LoadTokenState(ctx, store)
		require.NoError(t, err)
		assert.Equal(t, "r", state.RefreshToken)
	})

	t.Run("nothing stored", func(t *testing.T) {
		ts := newTokenServer(t)
		m := newTestManager(t, ts, credstore.NewMemory(), WithClock(clock))
		_, err := m.GetValidAccessToken(ctx)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
		assert.Zero(t, ts.refreshCalls.Load())
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("rotated refresh token replaces stored one", func(t *testing.T) {
		ts := newTokenServer(t)
		store := credstore.NewMemory()
		require.NoError(t, credstore.SaveTokenState(ctx, store, credstore.TokenState{RefreshToken: "rotating"}))
		m := newTestManager(t, ts, store)
		require.NoError(t, m.Refresh(ctx))

		state, err := credstore.LoadTokenState(ctx, store)
		require.NoError(t, err)
		assert.Equal(t, "access-2", state.AccessToken)
		assert.Equal(t, "refresh-2", state.RefreshToken)
		assert.Equal(t, StateAuthenticated, m.State())
	})

	t.Run("invalid grant clears all credentials", func(t *testing.T) {
		ts := newTokenServer(t)
		store := credstore.NewMemory()
		require.NoError(t, credstore.SaveTokenState(ctx, store, credstore.TokenState{
			AccessToken: "a", RefreshToken: "dead", Expiry: time.Now().Add(-time.Hour),
		}))
		m := newTestManager(t, ts, store)
		err := m.Refresh(ctx)
		assert.ErrorIs(t, err, ErrRefreshRevoked)
		assert.Equal(t, StateUnauthenticated, m.State())

		state, err := credstore.LoadTokenState(ctx, store)
		require.NoError(t, err)
		assert.Equal(t, credstore.TokenState{}, state)
	})

	t.Run("transient failure keeps credentials", func(t *testing.T) {
		ts := newTokenServer(t)
		store := credstore.NewMemory()
		require.NoError(t, credstore.SaveTokenState(ctx, store, credstore.TokenState{
			AccessToken: "a", RefreshToken: "flaky",
		}))
		m := newTestManager(t, ts, store)
		err := m.Refresh(ctx)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrRefreshRevoked)
		assert.Equal(t, StateAuthenticated, m.State())

		state, err := credstore.LoadTokenState(ctx, store)
		require.NoError(t, err)
		assert.Equal(t, "a", state.AccessToken)
		assert.Equal(t, "flaky", state.RefreshToken)
	})

	t.Run("no refresh token", func(t *testing.T) {
		ts := newTokenServer(t)
		m := newTestManager(t, ts, credstore.NewMemory())
		assert.ErrorIs(t, m.Refresh(ctx), ErrNoRefreshToken)
		assert.Zero(t, ts.refreshCalls.Load())
	})
}

func TestExpireKeepsRefreshToken(t *testing.T) {
	ctx := context.Background()
	ts := newTokenServer(t)
	store := credstore.NewMemory()
	require.NoError(t, credstore.SaveTokenState(ctx, store, credstore.TokenState{
		AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour),
	}))
	m := newTestManager(t, ts, store)

	require.NoError(t, m.Expire(ctx))
	assert.Equal(t, StateUnauthenticated, m.State())
	state, err := credstore.LoadTokenState(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, state.AccessToken)
	assert.True(t, state.Expiry.IsZero())
	assert.Equal(t, "r", state.RefreshToken)

	tok, err := m.GetValidAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok)
	assert.Equal(t, StateAuthenticated, m.State())
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	ts := newTokenServer(t)
	store := credstore.NewMemory()
	require.NoError(t, credstore.SaveTokenState(ctx, store, credstore.TokenState{AccessToken: "a", RefreshToken: "r"}))
	m := newTestManager(t, ts, store)

	require.NoError(t, m.Disconnect(ctx))
	assert.Equal(t, StateUnauthenticated, m.State())
	state, err := credstore.LoadTokenState(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, credstore.TokenState{}, state)
}
