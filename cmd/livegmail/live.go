package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/ajramos/livegmail/internal/panel"
	"github.com/ajramos/livegmail/internal/protocol"
	"github.com/ajramos/livegmail/internal/reconcile"
	"github.com/ajramos/livegmail/internal/services"
	"github.com/spf13/cobra"
)

func newLiveCmd(a *app) *cobra.Command {
	var agentURL string
	var width int
	var diagnostics bool
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Show unread messages scanned by a running agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if agentURL == "" {
				agentURL = a.cfg.Live.AgentURL
			}

			session, err := a.session(ctx)
			if err != nil {
				return err
			}
			logger := a.logger.With().Str("component", "live").Logger()
			ch, err := protocol.Dial(ctx, agentURL, logger)
			if err != nil {
				logger.Warn().Err(err).Str("agent", agentURL).Msg("agent unreachable")
				return showCached(cmd.OutOrStdout(), session, width)
			}
			defer ch.Close()

			live := services.NewLiveSync(ch, session, services.LiveConfig{
				RequestInterval: a.cfg.GetRequestInterval(),
				StaleAfter:      a.cfg.GetStaleAfter(),
				MinScanSpacing:  a.cfg.GetMinScanSpacing(),
			}, logger)
			if diagnostics {
				if err := live.SetDiagnostics(ctx, true); err != nil {
					logger.Warn().Err(err).Msg("could not enable agent diagnostics")
				}
			}
			pnl := panel.New(session, live, panel.WithLogger(a.logger))

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			done := make(chan struct{})
			var runErr error
			go func() {
				defer close(done)
				runErr = live.Run(ctx)
			}()

			term := &terminal{
				panel:   pnl,
				session: session,
				refresh: func() {
					if err := live.RequestScan(ctx); err != nil && !errors.Is(err, services.ErrRateLimited) {
						logger.Warn().Err(err).Msg("scan request failed")
					}
				},
				width:  width,
				in:     cmd.InOrStdin(),
				out:    cmd.OutOrStdout(),
				logger: a.logger,
			}
			err = term.run(ctx, done)
			cancel()
			<-done
			if errors.Is(runErr, protocol.ErrClosed) {
				fmt.Fprintln(cmd.OutOrStdout(), "Agent disconnected.")
			}
			return err
		},
	}
	cmd.Flags().StringVar(&agentURL, "agent", "", "Agent WebSocket URL (default from live.agent_url)")
	cmd.Flags().IntVar(&width, "width", 80, "Panel width in columns")
	cmd.Flags().BoolVar(&diagnostics, "diagnostics", false, "Turn on the agent's diagnostic logging")
	return cmd
}

// showCached prints the fallback cache with the unreachable-agent banner.
func showCached(w io.Writer, session *reconcile.Session, width int) error {
	session.SetSurfaceReachable(false)
	session.SetError(services.BannerAgentUnreachable)
	pnl := panel.New(session, nil)
	pnl.OnShow(panel.Rect{})
	return panel.Render(w, pnl.View(), width)
}
