package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ajramos/livegmail/internal/config"
	"github.com/ajramos/livegmail/internal/credstore"
	"github.com/ajramos/livegmail/internal/db"
	"github.com/ajramos/livegmail/internal/logging"
	"github.com/ajramos/livegmail/internal/reconcile"
	"github.com/ajramos/livegmail/pkg/auth"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app carries what every command shares: flags, configuration, the log
// file and lazily opened stores.
type app struct {
	configPath      string
	credentialsPath string
	debug           bool

	cfg     *config.Config
	logger  zerolog.Logger
	closers []io.Closer

	store *db.Store
	creds credstore.Store
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "livegmail",
		Short:         "Show unread Gmail messages and keep them in sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to configuration file (default: ~/.config/livegmail/config.json)")
	root.PersistentFlags().StringVar(&a.credentialsPath, "credentials", "", "Path to OAuth client credentials JSON (default: ~/.config/livegmail/credentials.json)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newConnectCmd(a),
		newDisconnectCmd(a),
		newStatusCmd(a),
		newDebugCmd(a),
		newWatchCmd(a),
		newAgentCmd(a),
		newLiveCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) load() error {
	path := a.configPath
	if path == "" {
		if env := os.Getenv(config.EnvPrefix + "_CONFIG"); env != "" {
			path = env
		} else {
			path = config.DefaultConfigPath()
		}
	}
	mgr := config.NewManager()
	if err := mgr.LoadFromFile(path); err != nil {
		return err
	}
	a.cfg = mgr.GetConfig()
	if a.credentialsPath != "" {
		a.cfg.Credentials = a.credentialsPath
	}

	logger, closer, err := logging.Open(a.cfg.LogFile, config.DefaultLogDir(), a.debug || a.cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not open log file: %v\n", err)
	}
	a.logger = logger
	a.closers = append(a.closers, closer)
	a.logger.Debug().Str("config", mgr.ConfigPath()).Msg("configuration loaded")
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

// database opens the SQLite file holding preferences and the fallback cache.
func (a *app) database(ctx context.Context) (*db.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if err := os.MkdirAll(filepath.Dir(a.cfg.CachePath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	store, err := db.Open(ctx, a.cfg.CachePath)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store)
	return store, nil
}

// credentials returns the configured credential backend.
func (a *app) credentials(ctx context.Context) (credstore.Store, error) {
	if a.creds != nil {
		return a.creds, nil
	}
	switch a.cfg.CredentialBackend {
	case config.BackendSQLite:
		store, err := a.database(ctx)
		if err != nil {
			return nil, err
		}
		a.creds = credstore.NewSQLite(store)
	case config.BackendMemory:
		a.creds = credstore.NewMemory()
	default:
		ring, err := credstore.OpenKeyring(config.DefaultConfigDir())
		if err != nil {
			return nil, err
		}
		a.creds = ring
	}
	if credstore.DebugEnabled(ctx, a.creds) {
		a.logger = a.logger.Level(zerolog.DebugLevel)
	}
	return a.creds, nil
}

func (a *app) authManager(ctx context.Context) (*auth.Manager, error) {
	oauthCfg, err := auth.ClientConfig{
		CredentialsPath: a.cfg.Credentials,
		ClientID:        a.cfg.ClientID,
		ClientSecret:    a.cfg.ClientSecret,
		RedirectURL:     a.cfg.RedirectURL,
		Scopes:          a.cfg.Scopes,
	}.OAuth2()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("credentials file not found at %s; download OAuth client credentials from Google Cloud Console and place them there", a.cfg.Credentials)
		}
		return nil, err
	}
	store, err := a.credentials(ctx)
	if err != nil {
		return nil, err
	}
	return auth.NewManager(ctx, oauthCfg, store, auth.WithLogger(a.logger.With().Str("component", "auth").Logger()))
}

// session builds a sync session backed by the persisted fallback cache.
func (a *app) session(ctx context.Context) (*reconcile.Session, error) {
	store, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	s := reconcile.NewSession(
		reconcile.WithMaxRecords(a.cfg.MaxRecords),
		reconcile.WithFallbackStore(db.NewFallbackStore(store)),
		reconcile.WithFallbackTTL(a.cfg.GetFallbackTTL()),
		reconcile.WithLogger(a.logger.With().Str("component", "session").Logger()),
	)
	if err := s.RestoreFallback(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("could not restore fallback cache")
	}
	return s, nil
}
