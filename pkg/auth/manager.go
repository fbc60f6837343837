package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ajramos/livegmail/internal/credstore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// expirySkew is subtracted from every issued token lifetime.
const expirySkew = 60 * time.Second

// State is the lifecycle state of the stored credentials.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthorizing
	StateAuthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateAuthorizing:
		return "authorizing"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

// AuthorizationRequest is what the user must visit to grant access.
type AuthorizationRequest struct {
	URL   string
	State string
}

type pendingAuth struct {
	cfg      *oauth2.Config
	verifier string
	state    string
	prev     State
}

// Manager owns the OAuth token lifecycle: PKCE authorization, code
// exchange, refresh and disconnect. It is safe for concurrent use;
// concurrent refreshes are serialized.
type Manager struct {
	cfg        *oauth2.Config
	store      credstore.Store
	logger     zerolog.Logger
	now        func() time.Time
	httpClient *http.Client

	refreshMu sync.Mutex

	mu      sync.Mutex
	state   State
	pending *pendingAuth
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient routes token endpoint calls through c.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager and derives its initial state from the store.
func NewManager(ctx context.Context, cfg *oauth2.Config, store credstore.Store, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("oauth config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	m := &Manager{
		cfg:    cfg,
		store:  store,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	ts, err := credstore.LoadTokenState(ctx, store)
	if err != nil {
		return nil, err
	}
	if ts.AccessToken != "" {
		m.state = StateAuthenticated
	}
	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	if m.state != s {
		m.logger.Debug().Str("from", m.state.String()).Str("to", s.String()).Msg("auth state")
	}
	m.state = s
}

func (m *Manager) tokenContext(ctx context.Context) context.Context {
	if m.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// StartAuthorization creates a PKCE pair and returns the consent URL. A
// second call while one is pending fails rather than replacing the verifier.
// redirectURL overrides the configured redirect when non-empty.
func (m *Manager) StartAuthorization(redirectURL string) (AuthorizationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		return AuthorizationRequest{}, ErrAuthorizationInProgress
	}

	cfg := *m.cfg
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	pkce := NewPKCE()
	state := uuid.NewString()
	url := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(pkce.Verifier),
	)

	m.pending = &pendingAuth{cfg: &cfg, verifier: pkce.Verifier, state: state, prev: m.state}
	m.setState(StateAuthorizing)
	m.logger.Info().Str("redirect", cfg.RedirectURL).Msg("authorization started")
	return AuthorizationRequest{URL: url, State: state}, nil
}

// CancelAuthorization drops the pending verifier and restores the prior state.
func (m *Manager) CancelAuthorization() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return
	}
	m.setState(m.pending.prev)
	m.pending = nil
	m.logger.Info().Msg("authorization cancelled")
}

// Deny records a redirect carrying an error parameter.
func (m *Manager) Deny(code, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		m.pending = nil
		m.setState(StateUnauthenticated)
	}
	m.logger.Warn().Str("error", code).Msg("authorization denied")
	if description == "" {
		description = code
	}
	return &AuthorizationError{Code: code, Description: description}
}

// ExchangeCode trades an authorization code for tokens using the pending
// verifier. The verifier is consumed whatever the outcome.
func (m *Manager) ExchangeCode(ctx context.Context, code string) error {
	m.mu.Lock()
	p := m.pending
	m.mu.Unlock()
	if p == nil {
		return ErrNoVerifier
	}

	tok, err := p.cfg.Exchange(m.tokenContext(ctx), code, oauth2.VerifierOption(p.verifier))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != p {
		return ErrAuthorizationCancelled
	}
	m.pending = nil

	if err != nil {
		m.setState(StateUnauthenticated)
		m.logger.Error().Err(err).Msg("token exchange failed")
		return exchangeError(err)
	}
	if tok.AccessToken == "" {
		m.setState(StateUnauthenticated)
		return &AuthorizationError{Description: "token response missing access_token"}
	}
	if tok.RefreshToken == "" {
		m.logger.Warn().Msg("token response carried no refresh token; reconnect will be needed when it expires")
	}

	ts := credstore.TokenState{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       storedExpiry(tok),
	}
	if err := credstore.SaveTokenState(ctx, m.store, ts); err != nil {
		m.setState(StateUnauthenticated)
		return err
	}
	m.setState(StateAuthenticated)
	m.logger.Info().Time("expiry", ts.Expiry).Msg("authorization complete")
	return nil
}

// HasRefreshToken reports whether a refresh token is stored.
func (m *Manager) HasRefreshToken(ctx context.Context) (bool, error) {
	ts, err := credstore.LoadTokenState(ctx, m.store)
	if err != nil {
		return false, err
	}
	return ts.RefreshToken != "", nil
}

// GetValidAccessToken returns a usable access token, refreshing first when
// the stored one has expired. An unknown expiry counts as valid.
func (m *Manager) GetValidAccessToken(ctx context.Context) (string, error) {
	ts, err := credstore.LoadTokenState(ctx, m.store)
	if err != nil {
		return "", err
	}
	if ts.AccessToken != "" && (ts.Expiry.IsZero() || m.now().Before(ts.Expiry)) {
		return ts.AccessToken, nil
	}
	if ts.AccessToken == "" && ts.RefreshToken == "" {
		m.mu.Lock()
		if m.state != StateAuthorizing {
			m.setState(StateUnauthenticated)
		}
		m.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	if err := m.Refresh(ctx); err != nil {
		return "", err
	}
	ts, err = credstore.LoadTokenState(ctx, m.store)
	if err != nil {
		return "", err
	}
	if ts.AccessToken == "" {
		return "", ErrNotAuthenticated
	}
	return ts.AccessToken, nil
}

// Refresh obtains a new access token from the stored refresh token. A
// refresh token the server rejects as invalid clears all credentials;
// transient failures leave the stored state untouched.
func (m *Manager) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	ts, err := credstore.LoadTokenState(ctx, m.store)
	if err != nil {
		return err
	}
	if ts.RefreshToken == "" {
		m.mu.Lock()
		m.setState(StateUnauthenticated)
		m.mu.Unlock()
		return ErrNoRefreshToken
	}

	m.mu.Lock()
	prev := m.state
	if prev != StateAuthorizing {
		m.setState(StateRefreshing)
	}
	m.mu.Unlock()

	src := m.cfg.TokenSource(m.tokenContext(ctx), &oauth2.Token{RefreshToken: ts.RefreshToken})
	tok, err := src.Token()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		if isDeadRefreshToken(err) {
			m.logger.Warn().Err(err).Msg("refresh token rejected, clearing credentials")
			if cerr := credstore.ClearTokenState(ctx, m.store); cerr != nil {
				m.logger.Error().Err(cerr).Msg("clear credentials")
			}
			if m.state != StateAuthorizing {
				m.setState(StateUnauthenticated)
			}
			return fmt.Errorf("%w: %v", ErrRefreshRevoked, err)
		}
		m.logger.Error().Err(err).Msg("token refresh failed")
		m.settle(prev)
		return fmt.Errorf("could not refresh token: %w", err)
	}

	next := credstore.TokenState{
		AccessToken: tok.AccessToken,
		Expiry:      storedExpiry(tok),
	}
	if tok.RefreshToken != "" && tok.RefreshToken != ts.RefreshToken {
		next.RefreshToken = tok.RefreshToken
		m.logger.Debug().Msg("refresh token rotated")
	}
	if err := credstore.SaveTokenState(ctx, m.store, next); err != nil {
		m.settle(prev)
		return err
	}
	m.settle(StateAuthenticated)
	m.logger.Info().Time("expiry", next.Expiry).Msg("access token refreshed")
	return nil
}

// Expire forgets the access token but keeps the refresh token, so the next
// GetValidAccessToken attempts a silent refresh.
func (m *Manager) Expire(ctx context.Context) error {
	if err := m.store.Clear(ctx, credstore.KeyAccessToken, credstore.KeyTokenExpiry); err != nil {
		return fmt.Errorf("expire access token: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthorizing {
		m.setState(StateUnauthenticated)
	}
	return nil
}

// Disconnect clears every stored credential.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	if err := credstore.ClearTokenState(ctx, m.store); err != nil {
		return err
	}
	m.setState(StateUnauthenticated)
	m.logger.Info().Msg("disconnected")
	return nil
}

// settle leaves Refreshing for s unless an authorization started meanwhile.
func (m *Manager) settle(s State) {
	if m.state == StateRefreshing {
		m.setState(s)
	}
}

func storedExpiry(tok *oauth2.Token) time.Time {
	if tok.Expiry.IsZero() {
		return time.Time{}
	}
	return tok.Expiry.Add(-expirySkew)
}
