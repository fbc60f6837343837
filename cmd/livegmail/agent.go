package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/ajramos/livegmail/internal/protocol"
	"github.com/ajramos/livegmail/internal/scanner"
	"github.com/ajramos/livegmail/internal/services"
	"github.com/spf13/cobra"
)

// AgentPath is where the agent accepts WebSocket consumers.
const AgentPath = "/agent"

func newAgentCmd(a *app) *cobra.Command {
	var pageURL, listen string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Scan a mailbox page and serve unread rows to live consumers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if pageURL == "" {
				pageURL = a.cfg.Scanner.URL
			}
			if listen == "" {
				listen = a.cfg.Scanner.ListenAddr
			}
			if pageURL == "" {
				return fmt.Errorf("no page to scan: set scanner.url or pass --url")
			}
			base := a.cfg.Scanner.BaseURL
			if base == "" {
				base = pageURL
			}

			logger := a.logger.With().Str("component", "agent").Logger()
			surface := &scanner.HTTPSurface{
				URL:      pageURL,
				Interval: a.cfg.GetFetchInterval(),
				Open:     services.BrowserOpener{}.OpenURL,
				Logger:   logger,
			}
			agentCfg := scanner.AgentConfig{
				Debounce:       a.cfg.GetDebounce(),
				AttachRetry:    a.cfg.GetAttachRetry(),
				MinScanSpacing: a.cfg.GetMinScanSpacing(),
				BaseURL:        base,
			}

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = surface.Run(ctx)
			}()

			consumers := &consumerSet{}
			mux := http.NewServeMux()
			mux.Handle(AgentPath, protocol.Handler(func(ch protocol.Channel) {
				started := consumers.start(func() {
					defer ch.Close()
					agent := scanner.NewAgent(surface, ch, agentCfg, logger)
					if err := agent.Run(ctx); err != nil && !errors.Is(err, protocol.ErrClosed) {
						logger.Warn().Err(err).Msg("agent stopped")
					}
				})
				if !started {
					_ = ch.Close()
				}
			}, logger))

			srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			fmt.Fprintf(cmd.OutOrStdout(), "Scanning %s, serving ws://%s%s\n", pageURL, listen, AgentPath)

			select {
			case <-ctx.Done():
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					stop()
					consumers.closeAndWait()
					wg.Wait()
					return err
				}
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := srv.Shutdown(shutdownCtx)
			consumers.closeAndWait()
			wg.Wait()
			return err
		},
	}
	cmd.Flags().StringVar(&pageURL, "url", "", "Mailbox page to scan (default from scanner.url)")
	cmd.Flags().StringVar(&listen, "listen", "", "Address to serve consumers on (default from scanner.listen_addr)")
	return cmd
}

// consumerSet tracks one goroutine per connected consumer. Once closed it
// refuses new consumers, so waiting never races a late connection.
type consumerSet struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// start runs fn in a tracked goroutine and reports whether it did.
func (c *consumerSet) start(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

func (c *consumerSet) closeAndWait() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}
