package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CallbackResult is the outcome carried by an OAuth redirect.
type CallbackResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseRedirect accepts a full redirect URL or a bare authorization code,
// as pasted by a user.
func ParseRedirect(input string) (CallbackResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return CallbackResult{}, fmt.Errorf("empty redirect")
	}
	if !strings.Contains(input, "?") && !strings.Contains(input, "://") {
		return CallbackResult{Code: input}, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("parse redirect: %w", err)
	}
	res := resultFromQuery(u.Query())
	if res.Code == "" && res.Error == "" {
		return CallbackResult{}, fmt.Errorf("redirect carries neither code nor error")
	}
	return res, nil
}

func resultFromQuery(q url.Values) CallbackResult {
	return CallbackResult{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
}

// CallbackServer is a loopback HTTP listener that captures a single redirect.
type CallbackServer struct {
	ln      net.Listener
	server  *http.Server
	results chan CallbackResult
	errs    chan error
}

// NewCallbackServer listens on addr (for example "127.0.0.1:0").
func NewCallbackServer(addr string) (*CallbackServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("local server error: %w", err)
	}
	cs := &CallbackServer{
		ln:      ln,
		results: make(chan CallbackResult, 1),
		errs:    make(chan error, 1),
	}
	cs.server = &http.Server{
		Handler:           http.HandlerFunc(cs.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := cs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case cs.errs <- err:
			default:
			}
		}
	}()
	return cs, nil
}

// RedirectURL is the URL to register as the OAuth redirect.
func (cs *CallbackServer) RedirectURL() string {
	return "http://" + cs.ln.Addr().String() + "/callback"
}

func (cs *CallbackServer) handle(w http.ResponseWriter, r *http.Request) {
	res := resultFromQuery(r.URL.Query())
	if res.Code == "" && res.Error == "" {
		http.Error(w, "Authorization code not received.", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if res.Error != "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<html><body><h2>Authorization error</h2><p>You can close this window.</p></body></html>`))
	} else {
		_, _ = w.Write([]byte(`<html><body><h2>Authorization successful</h2><p>You can close this window and return to the application.</p></body></html>`))
	}
	select {
	case cs.results <- res:
	default:
	}
}

// Wait blocks until a redirect arrives or ctx ends, then shuts the server down.
func (cs *CallbackServer) Wait(ctx context.Context) (CallbackResult, error) {
	defer cs.Close()
	select {
	case res := <-cs.results:
		return res, nil
	case err := <-cs.errs:
		return CallbackResult{}, fmt.Errorf("local server error: %w", err)
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	}
}

// Close stops the listener.
func (cs *CallbackServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return cs.server.Shutdown(ctx)
}

// Authorize runs the interactive flow end to end: start, hand the URL to
// open, wait for the redirect on cs, then exchange or record the denial.
func (m *Manager) Authorize(ctx context.Context, cs *CallbackServer, open func(url string) error) error {
	req, err := m.StartAuthorization(cs.RedirectURL())
	if err != nil {
		cs.Close()
		return err
	}
	if err := open(req.URL); err != nil {
		m.CancelAuthorization()
		cs.Close()
		return err
	}
	res, err := cs.Wait(ctx)
	if err != nil {
		m.CancelAuthorization()
		return err
	}
	return m.Complete(ctx, req, res)
}

// Complete finishes an authorization from a captured or pasted redirect.
func (m *Manager) Complete(ctx context.Context, req AuthorizationRequest, res CallbackResult) error {
	if res.Error != "" {
		return m.Deny(res.Error, res.ErrorDescription)
	}
	if res.State != "" && res.State != req.State {
		m.CancelAuthorization()
		return ErrStateMismatch
	}
	return m.ExchangeCode(ctx, res.Code)
}
