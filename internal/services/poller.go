package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ajramos/livegmail/internal/gmail"
	"github.com/ajramos/livegmail/internal/mailbox"
	"github.com/ajramos/livegmail/internal/reconcile"
	"github.com/rs/zerolog"
)

// Fetcher runs one remote fetch. *gmail.Pipeline implements it.
type Fetcher interface {
	Run(ctx context.Context, marks gmail.Marks) (gmail.Result, error)
}

// URLOpener opens a URL for the user.
type URLOpener interface {
	OpenURL(ctx context.Context, url string) error
}

// PollerConfig tunes the API sync path.
type PollerConfig struct {
	Interval     time.Duration
	RefetchDelay time.Duration
	WebURL       string
}

// Poller keeps a session in sync with the Gmail API: one fetch at start,
// then one per interval or on demand. Fetches run concurrently; only the
// most recently started one is applied.
type Poller struct {
	fetcher Fetcher
	session *reconcile.Session
	opener  URLOpener
	cfg     PollerConfig
	logger  zerolog.Logger

	trigger chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	refetch *time.Timer
}

// NewPoller creates a poller.
func NewPoller(fetcher Fetcher, session *reconcile.Session, opener URLOpener, cfg PollerConfig, logger zerolog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.RefetchDelay <= 0 {
		cfg.RefetchDelay = 2 * time.Second
	}
	return &Poller{
		fetcher: fetcher,
		session: session,
		opener:  opener,
		cfg:     cfg,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// Run polls until ctx ends, then waits for in-flight fetches.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer func() {
		ticker.Stop()
		p.stopRefetch()
		p.wg.Wait()
	}()

	p.start(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.start(ctx)
		case <-p.trigger:
			p.start(ctx)
		}
	}
}

// RefreshNow asks for a fetch without waiting for the next tick. Requests
// made while one is already pending collapse into it.
func (p *Poller) RefreshNow() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

func (p *Poller) start(ctx context.Context) {
	gen := p.session.BeginRefresh()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.refresh(ctx, gen)
	}()
}

func (p *Poller) refresh(ctx context.Context, gen uint64) {
	res, err := p.fetcher.Run(ctx, p.session)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		p.fail(gen, err)
		return
	}
	if !p.session.ApplyRefresh(ctx, gen, res.Messages, res.ListedIDs) {
		return
	}
	p.session.SetConnected(true)
	if p.session.Error() != BannerNoRefreshToken {
		p.session.ClearError()
	}
	p.logger.Debug().Uint64("gen", gen).Int("records", len(res.Messages)).Msg("refresh applied")
}

// fail surfaces err unless a newer fetch has started since gen. Records
// already shown stay visible.
func (p *Poller) fail(gen uint64, err error) {
	authLost := IsAuthorizationError(err)
	if !p.session.FailRefresh(gen, Banner(err), authLost) {
		p.logger.Debug().Uint64("gen", gen).Err(err).Msg("stale refresh failed")
		return
	}
	if authLost {
		p.logger.Warn().Err(err).Msg("authorization lost")
	} else {
		p.logger.Error().Err(err).Bool("retryable", IsRetryableError(err)).Msg("refresh failed")
	}
}

// Open opens rec in the browser and schedules a fetch shortly after, so the
// read state Gmail records replaces the local mark.
func (p *Poller) Open(ctx context.Context, rec mailbox.UnreadMessage) error {
	url := rec.SourceURL
	if url == "" {
		url = mailbox.WebURL(p.cfg.WebURL, rec.OpenTarget())
	}
	err := p.opener.OpenURL(ctx, url)
	p.scheduleRefetch()
	return err
}

func (p *Poller) scheduleRefetch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refetch != nil {
		p.refetch.Reset(p.cfg.RefetchDelay)
		return
	}
	p.refetch = time.AfterFunc(p.cfg.RefetchDelay, p.RefreshNow)
}

func (p *Poller) stopRefetch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refetch != nil {
		p.refetch.Stop()
	}
}
