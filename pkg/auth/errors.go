package auth

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

var (
	ErrAuthorizationInProgress = errors.New("authorization already in progress")
	ErrNoVerifier              = errors.New("code verifier not found, restart authorization")
	ErrAuthorizationCancelled  = errors.New("authorization cancelled")
	ErrNotAuthenticated        = errors.New("not authenticated")
	ErrNoRefreshToken          = errors.New("no refresh token available")
	ErrRefreshRevoked          = errors.New("refresh token expired or revoked")
	ErrStateMismatch           = errors.New("authorization state mismatch")
)

// AuthorizationError is a user-facing failure that requires authorizing again.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return "authentication failed: " + e.Description
	}
	if e.Code != "" {
		return "authentication failed: " + e.Code
	}
	return "authentication failed"
}

func exchangeError(err error) *AuthorizationError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		out := &AuthorizationError{Code: re.ErrorCode, Description: re.ErrorDescription}
		if out.Description == "" && out.Code == "" {
			out.Description = "token exchange failed"
			if re.Response != nil {
				out.Description = fmt.Sprintf("token exchange failed: %s", re.Response.Status)
			}
		}
		return out
	}
	return &AuthorizationError{Description: err.Error()}
}

// isDeadRefreshToken reports a 400 classified as invalid_grant or invalid_request.
func isDeadRefreshToken(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return false
	}
	if re.Response.StatusCode != http.StatusBadRequest {
		return false
	}
	return re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_request"
}
