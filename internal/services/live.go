package services

import (
	"context"
	"time"

	"github.com/ajramos/livegmail/internal/mailbox"
	"github.com/ajramos/livegmail/internal/protocol"
	"github.com/ajramos/livegmail/internal/reconcile"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// LiveConfig tunes the scan sync path.
type LiveConfig struct {
	// RequestInterval is how often a fresh scan is requested.
	RequestInterval time.Duration
	// StaleAfter marks the surface unreachable when the agent stays silent that long.
	StaleAfter time.Duration
	// MinScanSpacing drops scan requests closer together than this.
	MinScanSpacing time.Duration
}

// LiveSync consumes scan results from an agent and feeds them to a session.
type LiveSync struct {
	ch      protocol.Channel
	session *reconcile.Session
	cfg     LiveConfig
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time
}

// NewLiveSync creates a consumer for ch.
func NewLiveSync(ch protocol.Channel, session *reconcile.Session, cfg LiveConfig, logger zerolog.Logger) *LiveSync {
	if cfg.RequestInterval <= 0 {
		cfg.RequestInterval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if cfg.MinScanSpacing <= 0 {
		cfg.MinScanSpacing = time.Second
	}
	return &LiveSync{
		ch:      ch,
		session: session,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.MinScanSpacing), 1),
		logger:  logger,
		now:     time.Now,
	}
}

// Run asks whether the agent is ready, then applies every scan result it
// sends and requests fresh scans periodically. It returns when ctx ends or
// the channel closes; the surface is then marked unreachable.
func (l *LiveSync) Run(ctx context.Context) error {
	defer l.session.SetSurfaceReachable(false)

	if err := l.ch.Send(ctx, protocol.NewReadinessQuery()); err != nil {
		l.logger.Debug().Err(err).Msg("readiness query not sent")
	}

	requests := time.NewTicker(l.cfg.RequestInterval)
	defer requests.Stop()
	staleCheck := time.NewTicker(l.cfg.StaleAfter / 4)
	defer staleCheck.Stop()
	lastHeard := l.now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.ch.Done():
			return protocol.ErrClosed

		case <-requests.C:
			if err := l.RequestScan(ctx); err != nil {
				l.logger.Debug().Err(err).Msg("periodic scan request")
			}

		case <-staleCheck.C:
			if l.now().Sub(lastHeard) > l.cfg.StaleAfter {
				l.session.SetSurfaceReachable(false)
			}

		case m := <-l.ch.Receive():
			lastHeard = l.now()
			l.handle(ctx, m)
		}
	}
}

func (l *LiveSync) handle(ctx context.Context, m protocol.Message) {
	switch m.Kind {
	case protocol.KindScanResult:
		if l.session.ApplyScan(ctx, *m.ScanResult) {
			l.session.ClearError()
			l.logger.Debug().
				Str("epoch", m.ScanResult.Epoch).
				Uint64("seq", m.ScanResult.Seq).
				Int("unread", m.ScanResult.UnreadCount).
				Msg("scan applied")
		}
	case protocol.KindReadinessResponse:
		l.session.SetConnected(m.Readiness.Ready)
		l.session.SetSurfaceReachable(m.Readiness.Ready)
		if m.Readiness.Ready {
			if err := l.RequestScan(ctx); err != nil {
				l.logger.Debug().Err(err).Msg("initial scan request")
			}
		}
	default:
		l.logger.Debug().Str("kind", string(m.Kind)).Msg("ignoring message")
	}
}

// RequestScan asks the agent for an immediate scan. Requests closer together
// than the minimum spacing are dropped with ErrRateLimited.
func (l *LiveSync) RequestScan(ctx context.Context) error {
	if !l.limiter.Allow() {
		return ErrRateLimited
	}
	return l.ch.Send(ctx, protocol.NewScanRequest())
}

// Open asks the agent to activate rec's row. There is no reply.
func (l *LiveSync) Open(ctx context.Context, rec mailbox.UnreadMessage) error {
	return l.ch.Send(ctx, protocol.NewActivateItem(rec.SourceIndex, rec.ID))
}

// SetDiagnostics toggles the agent's verbose logging.
func (l *LiveSync) SetDiagnostics(ctx context.Context, on bool) error {
	return l.ch.Send(ctx, protocol.NewSetDiagnostics(on))
}
