package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. LIVEGMAIL_POLL_INTERVAL.
const EnvPrefix = "LIVEGMAIL"

// Credential backends.
const (
	BackendKeyring = "keyring"
	BackendSQLite  = "sqlite"
	BackendMemory  = "memory"
)

// ScannerConfig holds settings for the live-document agent.
type ScannerConfig struct {
	URL            string `mapstructure:"url" json:"url" yaml:"url"`
	ListenAddr     string `mapstructure:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
	FetchInterval  string `mapstructure:"fetch_interval" json:"fetch_interval" yaml:"fetch_interval"`
	Debounce       string `mapstructure:"debounce" json:"debounce" yaml:"debounce"`
	AttachRetry    string `mapstructure:"attach_retry" json:"attach_retry" yaml:"attach_retry"`
	MinScanSpacing string `mapstructure:"min_scan_spacing" json:"min_scan_spacing" yaml:"min_scan_spacing"`
	BaseURL        string `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
}

// LiveConfig holds settings for the consumer of an agent's scan results.
type LiveConfig struct {
	AgentURL        string `mapstructure:"agent_url" json:"agent_url" yaml:"agent_url"`
	RequestInterval string `mapstructure:"request_interval" json:"request_interval" yaml:"request_interval"`
	StaleAfter      string `mapstructure:"stale_after" json:"stale_after" yaml:"stale_after"`
}

// Config holds all configuration for livegmail
type Config struct {
	// OAuth client. Either a Google credentials file or an explicit id/secret pair.
	Credentials  string   `mapstructure:"credentials" json:"credentials" yaml:"credentials"`
	ClientID     string   `mapstructure:"client_id" json:"client_id" yaml:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" json:"client_secret" yaml:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url" json:"redirect_url" yaml:"redirect_url"`
	Scopes       []string `mapstructure:"scopes" json:"scopes" yaml:"scopes"`

	PollInterval string `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval"`
	RefetchDelay string `mapstructure:"refetch_delay" json:"refetch_delay" yaml:"refetch_delay"`
	MaxRecords   int    `mapstructure:"max_records" json:"max_records" yaml:"max_records"`
	GmailURL     string `mapstructure:"gmail_url" json:"gmail_url" yaml:"gmail_url"`

	CredentialBackend string `mapstructure:"credential_backend" json:"credential_backend" yaml:"credential_backend"`
	CachePath         string `mapstructure:"cache_path" json:"cache_path" yaml:"cache_path"`
	FallbackTTL       string `mapstructure:"fallback_ttl" json:"fallback_ttl" yaml:"fallback_ttl"`

	// Logging
	LogFile string `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	Debug   bool   `mapstructure:"debug" json:"debug" yaml:"debug"`

	Scanner ScannerConfig `mapstructure:"scanner" json:"scanner" yaml:"scanner"`
	Live    LiveConfig    `mapstructure:"live" json:"live" yaml:"live"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		RedirectURL:       "http://127.0.0.1:8765/callback",
		PollInterval:      "5m",
		RefetchDelay:      "2s",
		MaxRecords:        20,
		GmailURL:          "https://mail.google.com/mail/u/0/",
		CredentialBackend: BackendKeyring,
		FallbackTTL:       "15m",
		Scanner: ScannerConfig{
			ListenAddr:     "127.0.0.1:8766",
			FetchInterval:  "10s",
			Debounce:       "300ms",
			AttachRetry:    "1s",
			MinScanSpacing: "1s",
		},
		Live: LiveConfig{
			AgentURL:        "ws://127.0.0.1:8766/agent",
			RequestInterval: "30s",
			StaleAfter:      "2m",
		},
	}
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("credentials", cfg.Credentials)
	v.SetDefault("client_id", cfg.ClientID)
	v.SetDefault("client_secret", cfg.ClientSecret)
	v.SetDefault("redirect_url", cfg.RedirectURL)
	v.SetDefault("scopes", cfg.Scopes)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("refetch_delay", cfg.RefetchDelay)
	v.SetDefault("max_records", cfg.MaxRecords)
	v.SetDefault("gmail_url", cfg.GmailURL)
	v.SetDefault("credential_backend", cfg.CredentialBackend)
	v.SetDefault("cache_path", cfg.CachePath)
	v.SetDefault("fallback_ttl", cfg.FallbackTTL)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("debug", cfg.Debug)

	v.SetDefault("scanner.url", cfg.Scanner.URL)
	v.SetDefault("scanner.listen_addr", cfg.Scanner.ListenAddr)
	v.SetDefault("scanner.fetch_interval", cfg.Scanner.FetchInterval)
	v.SetDefault("scanner.debounce", cfg.Scanner.Debounce)
	v.SetDefault("scanner.attach_retry", cfg.Scanner.AttachRetry)
	v.SetDefault("scanner.min_scan_spacing", cfg.Scanner.MinScanSpacing)
	v.SetDefault("scanner.base_url", cfg.Scanner.BaseURL)

	v.SetDefault("live.agent_url", cfg.Live.AgentURL)
	v.SetDefault("live.request_interval", cfg.Live.RequestInterval)
	v.SetDefault("live.stale_after", cfg.Live.StaleAfter)
}

// LoadConfig loads configuration from file and LIVEGMAIL_* environment
// variables. A missing file yields the defaults. A .env file in the working
// directory is loaded first when present.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	cfg := DefaultConfig()
	v := viper.New()
	setDefaults(v, cfg)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if filepath.Ext(configPath) == "" {
			v.SetConfigType("json")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", configPath, err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", configPath, err)
	}
	return cfg, nil
}

// DefaultConfigDir returns the directory holding config, cache and logs.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "livegmail")
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.json")
}

// DefaultCredentialsPath returns the default path of the Google client credentials file.
func DefaultCredentialsPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "credentials.json")
}

// DefaultCachePath returns the default SQLite database path
func DefaultCachePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "livegmail.db")
}

// DefaultLogDir returns the default log directory path
func DefaultLogDir() string {
	return DefaultConfigDir()
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}
	setDefaults(v, c)
	return v.WriteConfigAs(path)
}

// YAML renders the configuration with the client secret masked.
func (c *Config) YAML() (string, error) {
	shown := *c
	if shown.ClientSecret != "" {
		shown.ClientSecret = "********"
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&shown); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func (c *Config) GetPollInterval() time.Duration { return parseDuration(c.PollInterval, 5*time.Minute) }
func (c *Config) GetRefetchDelay() time.Duration { return parseDuration(c.RefetchDelay, 2*time.Second) }
func (c *Config) GetFallbackTTL() time.Duration  { return parseDuration(c.FallbackTTL, 15*time.Minute) }

func (c *Config) GetFetchInterval() time.Duration {
	return parseDuration(c.Scanner.FetchInterval, 10*time.Second)
}

func (c *Config) GetDebounce() time.Duration {
	return parseDuration(c.Scanner.Debounce, 300*time.Millisecond)
}

func (c *Config) GetAttachRetry() time.Duration {
	return parseDuration(c.Scanner.AttachRetry, time.Second)
}

func (c *Config) GetMinScanSpacing() time.Duration {
	return parseDuration(c.Scanner.MinScanSpacing, time.Second)
}

func (c *Config) GetRequestInterval() time.Duration {
	return parseDuration(c.Live.RequestInterval, 30*time.Second)
}

func (c *Config) GetStaleAfter() time.Duration {
	return parseDuration(c.Live.StaleAfter, 2*time.Minute)
}
