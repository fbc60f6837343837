package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ajramos/livegmail/internal/credstore"
	"github.com/ajramos/livegmail/internal/services"
	"github.com/ajramos/livegmail/pkg/auth"
	"github.com/spf13/cobra"
)

func newConnectCmd(a *app) *cobra.Command {
	var paste, noBrowser bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Authorize access to your Gmail account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			mgr, err := a.authManager(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			open := func(authURL string) error {
				fmt.Fprintf(out, "Open this URL to authorize livegmail:\n\n%s\n\n", authURL)
				if noBrowser {
					return nil
				}
				if err := (services.BrowserOpener{}).OpenURL(ctx, authURL); err != nil {
					a.logger.Warn().Err(err).Msg("could not launch browser")
				}
				return nil
			}

			if paste {
				err = connectByPaste(ctx, mgr, a.cfg.RedirectURL, open, cmd.InOrStdin(), out)
			} else {
				err = connectByCallback(ctx, mgr, a.cfg.RedirectURL, open)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Connected.")
			if ok, err := mgr.HasRefreshToken(ctx); err == nil && !ok {
				fmt.Fprintln(out, "Warning:", services.BannerNoRefreshToken)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&paste, "paste", false, "Paste the redirect URL or code instead of running a local callback server")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the authorization URL without opening a browser")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for authorization")
	return cmd
}

func connectByCallback(ctx context.Context, mgr *auth.Manager, redirectURL string, open func(string) error) error {
	u, err := url.Parse(redirectURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid redirect_url %q", redirectURL)
	}
	cs, err := auth.NewCallbackServer(u.Host)
	if err != nil {
		return err
	}
	return mgr.Authorize(ctx, cs, open)
}

func connectByPaste(ctx context.Context, mgr *auth.Manager, redirectURL string, open func(string) error, in io.Reader, out io.Writer) error {
	req, err := mgr.StartAuthorization(redirectURL)
	if err != nil {
		return err
	}
	if err := open(req.URL); err != nil {
		mgr.CancelAuthorization()
		return err
	}
	fmt.Fprint(out, "Paste the redirect URL or code: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && strings.TrimSpace(line) == "" {
		mgr.CancelAuthorization()
		return fmt.Errorf("reading authorization code: %w", err)
	}
	res, err := auth.ParseRedirect(line)
	if err != nil {
		mgr.CancelAuthorization()
		return err
	}
	return mgr.Complete(ctx, req, res)
}

func newDisconnectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Forget stored Gmail credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := a.authManager(cmd.Context())
			if err != nil {
				return err
			}
			if err := mgr.Disconnect(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Disconnected.")
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored credential state without revealing tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			mgr, err := a.authManager(ctx)
			if err != nil {
				return err
			}
			store, err := a.credentials(ctx)
			if err != nil {
				return err
			}
			ts, err := credstore.LoadTokenState(ctx, store)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State:          %s\n", mgr.State())
			fmt.Fprintf(out, "Backend:        %s\n", a.cfg.CredentialBackend)
			fmt.Fprintf(out, "Access token:   %s\n", presence(ts.AccessToken))
			fmt.Fprintf(out, "Refresh token:  %s\n", presence(ts.RefreshToken))
			if ts.Expiry.IsZero() {
				fmt.Fprintln(out, "Expires:        unknown")
			} else {
				fmt.Fprintf(out, "Expires:        %s\n", ts.Expiry.Local().Format(time.RFC1123))
			}
			fmt.Fprintf(out, "Debug logging:  %t\n", credstore.DebugEnabled(ctx, store))
			return nil
		},
	}
}

func presence(s string) string {
	if s == "" {
		return "absent"
	}
	return "present"
}

func newDebugCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "debug on|off",
		Short:     "Persist the debug logging flag",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.credentials(cmd.Context())
			if err != nil {
				return err
			}
			on := args[0] == "on"
			if err := credstore.SetDebug(cmd.Context(), store, on); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Debug logging %s.\n", args[0])
			return nil
		},
	}
}
