// Package credstore is the string-preference boundary used for OAuth tokens
// and the debug flag. A missing key is a valid "not yet set" state.
package credstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	KeyAccessToken  = "live-gmail.api-key"
	KeyRefreshToken = "live-gmail.refresh-token"
	KeyTokenExpiry  = "live-gmail.token-expiry"
	KeyDebug        = "live-gmail.debug"
)

// Store gets, sets and clears string-valued preferences.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, keys ...string) error
}

// TokenState mirrors the three persisted credential fields.
type TokenState struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time // zero when unknown
}

// LoadTokenState reads all credential fields. Missing fields are left empty.
func LoadTokenState(ctx context.Context, s Store) (TokenState, error) {
	var ts TokenState
	var err error
	if ts.AccessToken, _, err = s.Get(ctx, KeyAccessToken); err != nil {
		return TokenState{}, fmt.Errorf("read access token: %w", err)
	}
	if ts.RefreshToken, _, err = s.Get(ctx, KeyRefreshToken); err != nil {
		return TokenState{}, fmt.Errorf("read refresh token: %w", err)
	}
	raw, ok, err := s.Get(ctx, KeyTokenExpiry)
	if err != nil {
		return TokenState{}, fmt.Errorf("read token expiry: %w", err)
	}
	if ok {
		ts.Expiry = ParseExpiry(raw)
	}
	return ts, nil
}

// SaveTokenState writes the access token and expiry, and the refresh token when non-empty.
func SaveTokenState(ctx context.Context, s Store, ts TokenState) error {
	if err := s.Set(ctx, KeyAccessToken, ts.AccessToken); err != nil {
		return fmt.Errorf("save access token: %w", err)
	}
	if ts.RefreshToken != "" {
		if err := s.Set(ctx, KeyRefreshToken, ts.RefreshToken); err != nil {
			return fmt.Errorf("save refresh token: %w", err)
		}
	}
	if ts.Expiry.IsZero() {
		if err := s.Clear(ctx, KeyTokenExpiry); err != nil {
			return fmt.Errorf("clear token expiry: %w", err)
		}
		return nil
	}
	if err := s.Set(ctx, KeyTokenExpiry, FormatExpiry(ts.Expiry)); err != nil {
		return fmt.Errorf("save token expiry: %w", err)
	}
	return nil
}

// ClearTokenState removes all three credential fields.
func ClearTokenState(ctx context.Context, s Store) error {
	return s.Clear(ctx, KeyAccessToken, KeyRefreshToken, KeyTokenExpiry)
}

// FormatExpiry encodes an instant as decimal Unix milliseconds.
func FormatExpiry(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ParseExpiry decodes FormatExpiry output; garbage or zero yields the zero time.
func ParseExpiry(raw string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// DebugEnabled reports the persisted debug flag.
func DebugEnabled(ctx context.Context, s Store) bool {
	raw, ok, err := s.Get(ctx, KeyDebug)
	if err != nil || !ok {
		return false
	}
	v, _ := strconv.ParseBool(raw)
	return v
}

// SetDebug persists the debug flag.
func SetDebug(ctx context.Context, s Store, on bool) error {
	return s.Set(ctx, KeyDebug, strconv.FormatBool(on))
}
