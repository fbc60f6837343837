// Package logging opens the file logger shared by every command.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// DefaultFileName is used when no log file is configured.
const DefaultFileName = "livegmail.log"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open returns a logger writing JSON lines to path, creating its directory
// when needed. An empty path falls back to dir/DefaultFileName; when neither
// is usable, logs go to stderr. debug lowers the level to Debug.
func Open(path, dir string, debug bool) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	if path == "" && dir != "" {
		path = filepath.Join(dir, DefaultFileName)
	}
	if path == "" {
		return New(os.Stderr, level), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return New(os.Stderr, level), nopCloser{}, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return New(os.Stderr, level), nopCloser{}, err
	}
	return New(f, level), f, nil
}

// New builds the standard logger over w.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("app", "livegmail").
		Logger()
}
