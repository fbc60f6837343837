package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ajramos/livegmail/internal/gmail"
	"github.com/ajramos/livegmail/pkg/auth"
)

// ErrRateLimited is returned when a scan request comes too soon after the last one.
var ErrRateLimited = errors.New("rate limited")

// Banner texts shown in the panel's error slot.
const (
	BannerAuthExpired      = "Authentication expired. Please reconnect your Gmail account."
	BannerNoRefreshToken   = "No refresh token received. You may need to reconnect when the access token expires."
	BannerAgentUnreachable = "Live agent unreachable. Showing cached messages."
)

// IsAuthorizationError reports failures that need the user to authorize
// again: a dead refresh token, denied consent or no credentials at all.
func IsAuthorizationError(err error) bool {
	var authErr *auth.AuthorizationError
	return errors.Is(err, gmail.ErrAuthExpired) ||
		errors.Is(err, auth.ErrRefreshRevoked) ||
		errors.Is(err, auth.ErrNotAuthenticated) ||
		errors.Is(err, auth.ErrNoRefreshToken) ||
		errors.As(err, &authErr)
}

// IsRetryableError determines if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil || IsAuthorizationError(err) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var fetchErr *gmail.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Status == http.StatusTooManyRequests || fetchErr.Status >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Banner turns a sync failure into the text for the error slot.
func Banner(err error) string {
	var authErr *auth.AuthorizationError
	var fetchErr *gmail.FetchError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &authErr):
		return "Authentication failed: " + authErr.Description
	case IsAuthorizationError(err):
		return BannerAuthExpired
	case errors.As(err, &fetchErr):
		return fmt.Sprintf("API error: %d %s", fetchErr.Status, fetchErr.Message)
	default:
		return "Sync failed: " + err.Error()
	}
}
