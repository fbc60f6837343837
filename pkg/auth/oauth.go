package auth

import (
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// DefaultScopes requests read-only mailbox access.
var DefaultScopes = []string{gmail.GmailReadonlyScope}

// ClientConfig holds OAuth2 client configuration
type ClientConfig struct {
	CredentialsPath string
	ClientID        string
	ClientSecret    string
	RedirectURL     string
	Scopes          []string
}

// OAuth2 builds the oauth2 configuration, preferring a downloaded client
// credentials file when one is configured
func (c ClientConfig) OAuth2() (*oauth2.Config, error) {
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	if c.CredentialsPath != "" {
		cfg, err := LoadClientConfig(c.CredentialsPath, scopes...)
		if err != nil {
			return nil, err
		}
		if c.RedirectURL != "" {
			cfg.RedirectURL = c.RedirectURL
		}
		return cfg, nil
	}
	if c.ClientID == "" {
		return nil, fmt.Errorf("no OAuth client configured: set credentials or client_id")
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       scopes,
		Endpoint:     googleEndpoint(),
	}, nil
}

// LoadClientConfig loads OAuth2 client credentials from file
func LoadClientConfig(credentialsPath string, scopes ...string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("could not read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("could not parse credentials file: %w", err)
	}
	config.Endpoint.AuthStyle = oauth2.AuthStyleInParams

	return config, nil
}

func googleEndpoint() oauth2.Endpoint {
	ep := google.Endpoint
	ep.AuthStyle = oauth2.AuthStyleInParams
	return ep
}
