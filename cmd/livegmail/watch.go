package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/ajramos/livegmail/internal/gmail"
	"github.com/ajramos/livegmail/internal/panel"
	"github.com/ajramos/livegmail/internal/services"
	"github.com/ajramos/livegmail/pkg/auth"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var width int
	var once bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the Gmail API and show unread inbox messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			mgr, err := a.authManager(ctx)
			if err != nil {
				return err
			}
			session, err := a.session(ctx)
			if err != nil {
				return err
			}

			hasRefresh, err := mgr.HasRefreshToken(ctx)
			if err != nil {
				return err
			}
			connected := mgr.State() == auth.StateAuthenticated || hasRefresh
			session.SetConnected(connected)
			if mgr.State() == auth.StateAuthenticated && !hasRefresh {
				session.SetError(services.BannerNoRefreshToken)
			}

			logger := a.logger.With().Str("component", "poller").Logger()
			pipeline := gmail.NewPipeline(gmail.ClientDialer(), mgr,
				gmail.WithMaxRecords(a.cfg.MaxRecords),
				gmail.WithWebURL(a.cfg.GmailURL),
				gmail.WithPipelineLogger(a.logger.With().Str("component", "gmail").Logger()),
			)
			poller := services.NewPoller(pipeline, session, services.BrowserOpener{}, services.PollerConfig{
				Interval:     a.cfg.GetPollInterval(),
				RefetchDelay: a.cfg.GetRefetchDelay(),
				WebURL:       a.cfg.GmailURL,
			}, logger)
			pnl := panel.New(session, poller, panel.WithLogger(a.logger))

			if once || !connected {
				if connected {
					gen := session.BeginRefresh()
					res, err := pipeline.Run(ctx, session)
					if err != nil {
						session.SetError(services.Banner(err))
					} else {
						session.ApplyRefresh(ctx, gen, res.Messages, res.ListedIDs)
					}
				}
				pnl.OnShow(panel.Rect{})
				return panel.Render(cmd.OutOrStdout(), pnl.View(), width)
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			done := make(chan struct{})
			go func() {
				defer close(done)
				if err := poller.Run(ctx); err != nil {
					logger.Error().Err(err).Msg("poller stopped")
				}
			}()

			term := &terminal{
				panel:   pnl,
				session: session,
				refresh: poller.RefreshNow,
				width:   width,
				in:      cmd.InOrStdin(),
				out:     cmd.OutOrStdout(),
				logger:  a.logger,
			}
			err = term.run(ctx, done)
			cancel()
			<-done
			return err
		},
	}
	cmd.Flags().IntVar(&width, "width", 80, "Panel width in columns")
	cmd.Flags().BoolVar(&once, "once", false, "Fetch once, print the list and exit")
	return cmd
}
