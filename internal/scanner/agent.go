package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/ajramos/livegmail/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AgentConfig tunes the agent's timers.
type AgentConfig struct {
	// Debounce is the quiet period after the last mutation before a scan.
	Debounce time.Duration
	// AttachRetry is how often attaching is retried while no root is present.
	AttachRetry time.Duration
	// MinScanSpacing is the minimum gap between requested scans; requests
	// arriving sooner are dropped.
	MinScanSpacing time.Duration
	// BaseURL resolves row links and builds open targets.
	BaseURL string
}

func (c AgentConfig) withDefaults() AgentConfig {
	if c.Debounce <= 0 {
		c.Debounce = 300 * time.Millisecond
	}
	if c.AttachRetry <= 0 {
		c.AttachRetry = time.Second
	}
	if c.MinScanSpacing <= 0 {
		c.MinScanSpacing = time.Second
	}
	return c
}

// Agent watches a Surface and reports unread rows over a channel. All of
// its state is owned by the goroutine running Run.
type Agent struct {
	surface Surface
	ch      protocol.Channel
	cfg     AgentConfig
	base    zerolog.Logger
	logger  zerolog.Logger
	limiter *rate.Limiter

	epoch    string
	seq      uint64
	last     []byte
	attached bool
}

// NewAgent creates an agent. Logging stays disabled until a diagnostics
// command turns it on.
func NewAgent(surface Surface, ch protocol.Channel, cfg AgentConfig, logger zerolog.Logger) *Agent {
	cfg = cfg.withDefaults()
	return &Agent{
		surface: surface,
		ch:      ch,
		cfg:     cfg,
		base:    logger,
		logger:  logger.Level(zerolog.Disabled),
		limiter: rate.NewLimiter(rate.Every(cfg.MinScanSpacing), 1),
		epoch:   uuid.NewString(),
	}
}

// Run attaches to the document, then scans after each debounced burst of
// mutations and answers commands until ctx ends or the channel closes.
func (a *Agent) Run(ctx context.Context) error {
	retry := time.NewTimer(0)
	defer retry.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.ch.Done():
			return nil

		case <-retry.C:
			if a.attach(ctx) {
				a.scanAndEmit(ctx, false)
			} else {
				retry.Reset(a.cfg.AttachRetry)
			}

		case <-a.surface.Mutations():
			if !a.attached {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(a.cfg.Debounce)
			} else {
				debounce.Reset(a.cfg.Debounce)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			a.scanAndEmit(ctx, false)

		case m := <-a.ch.Receive():
			a.handle(ctx, m)
		}
	}
}

func (a *Agent) attach(ctx context.Context) bool {
	doc, err := a.surface.Snapshot(ctx)
	if err != nil {
		a.logger.Debug().Err(err).Msg("attach: no document")
		return false
	}
	root := ObservedRoot(doc)
	if root == nil || !hasElementChild(root) {
		a.logger.Debug().Msg("attach: root not present")
		return false
	}
	a.attached = true
	a.logger.Debug().Str("root", root.Data).Msg("attached")
	return true
}

// scanAndEmit scans and sends the result. Unless forced, a result that
// serializes identically to the previous emission is not sent.
func (a *Agent) scanAndEmit(ctx context.Context, force bool) {
	doc, err := a.surface.Snapshot(ctx)
	if err != nil {
		a.logger.Debug().Err(err).Msg("scan: no document")
		return
	}
	res := Scan(doc, a.cfg.BaseURL)
	data, err := Serialize(res)
	if err != nil {
		a.logger.Error().Err(err).Msg("serialize scan")
		return
	}
	if !force && !ShouldEmit(a.last, data) {
		a.logger.Debug().Int("unread", res.UnreadCount).Msg("scan unchanged")
		return
	}
	a.last = data
	a.seq++
	res.Epoch, res.Seq = a.epoch, a.seq
	a.send(ctx, protocol.NewScanResult(res))
	a.logger.Debug().
		Uint64("seq", res.Seq).
		Int("rows", res.RowCount).
		Int("unread", res.UnreadCount).
		Msg("scan emitted")
}

func (a *Agent) handle(ctx context.Context, m protocol.Message) {
	switch m.Kind {
	case protocol.KindScanRequest:
		if !a.limiter.Allow() {
			a.logger.Debug().Msg("scan request dropped")
			return
		}
		if !a.attached && !a.attach(ctx) {
			return
		}
		a.scanAndEmit(ctx, true)

	case protocol.KindReadinessQuery:
		r := protocol.Readiness{Ready: a.attached}
		if a.attached {
			if doc, err := a.surface.Snapshot(ctx); err == nil {
				r.RowCount = len(Rows(ObservedRoot(doc)))
			}
		}
		a.send(ctx, protocol.NewReadinessResponse(r))

	case protocol.KindActivateItem:
		err := Activate(ctx, a.surface, m.Activate.Index, m.Activate.Locator, a.cfg.BaseURL)
		if err != nil {
			a.logger.Warn().Err(err).Int("index", m.Activate.Index).Msg("activate failed")
		}

	case protocol.KindSetDiagnostics:
		a.setDiagnostics(m.Diagnostics.Enabled)

	default:
		a.logger.Debug().Str("kind", string(m.Kind)).Msg("ignoring message")
	}
}

func (a *Agent) setDiagnostics(on bool) {
	if on {
		a.logger = a.base.Level(zerolog.DebugLevel)
	} else {
		a.logger = a.base.Level(zerolog.Disabled)
	}
	a.logger.Debug().Msg("diagnostics enabled")
}

func (a *Agent) send(ctx context.Context, m protocol.Message) {
	if err := a.ch.Send(ctx, m); err != nil {
		if errors.Is(err, protocol.ErrDropped) {
			a.logger.Debug().Str("kind", string(m.Kind)).Msg("message dropped")
			return
		}
		a.logger.Debug().Err(err).Str("kind", string(m.Kind)).Msg("send failed")
	}
}
