package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ajramos/livegmail/internal/mailbox"
)

// Manager holds the effective configuration: loaded, validated and with
// paths expanded.
type Manager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	m := &Manager{config: DefaultConfig()}
	m.applyDefaults(m.config)
	return m
}

// LoadFromFile loads configuration from a file with validation
func (m *Manager) LoadFromFile(configPath string) error {
	configPath = expandPath(configPath)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	m.applyDefaults(cfg)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
	m.configPath = configPath
	return nil
}

// GetConfig returns a copy of the current configuration
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyConfig(m.config)
}

// ConfigPath returns the file the configuration was loaded from.
func (m *Manager) ConfigPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configPath
}

// Validate rejects values that cannot be used.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	durations := map[string]string{
		"poll_interval":            cfg.PollInterval,
		"refetch_delay":            cfg.RefetchDelay,
		"fallback_ttl":             cfg.FallbackTTL,
		"scanner.fetch_interval":   cfg.Scanner.FetchInterval,
		"scanner.debounce":         cfg.Scanner.Debounce,
		"scanner.attach_retry":     cfg.Scanner.AttachRetry,
		"scanner.min_scan_spacing": cfg.Scanner.MinScanSpacing,
		"live.request_interval":    cfg.Live.RequestInterval,
		"live.stale_after":         cfg.Live.StaleAfter,
	}
	for key, raw := range durations {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	if cfg.MaxRecords < 0 || cfg.MaxRecords > mailbox.MaxRecords {
		return fmt.Errorf("max_records must be between 0 and %d", mailbox.MaxRecords)
	}

	switch cfg.CredentialBackend {
	case "", BackendKeyring, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown credential_backend %q", cfg.CredentialBackend)
	}

	for key, raw := range map[string]string{"gmail_url": cfg.GmailURL, "redirect_url": cfg.RedirectURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s %q", key, raw)
		}
	}
	return nil
}

// applyDefaults fills paths left empty and expands ~ in the rest.
func (m *Manager) applyDefaults(cfg *Config) {
	if cfg.CredentialBackend == "" {
		cfg.CredentialBackend = BackendKeyring
	}
	if cfg.Credentials == "" && cfg.ClientID == "" {
		cfg.Credentials = DefaultCredentialsPath()
	}
	if cfg.CachePath == "" {
		cfg.CachePath = DefaultCachePath()
	}
	cfg.Credentials = expandPath(cfg.Credentials)
	cfg.CachePath = expandPath(cfg.CachePath)
	cfg.LogFile = expandPath(cfg.LogFile)
}

func copyConfig(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}
	c := *cfg
	c.Scopes = append([]string(nil), cfg.Scopes...)
	return &c
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}
