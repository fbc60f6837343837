package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ajramos/livegmail/internal/mailbox"
	"github.com/rs/zerolog"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrAuthExpired means the access token was rejected and could not be renewed.
var ErrAuthExpired = errors.New("authentication expired")

var errUnauthorized = errors.New("unauthorized")

// FetchError is a non-2xx API response other than 401.
type FetchError struct {
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("API error: %d %s", e.Status, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Err }

// API is the subset of the Gmail REST surface the pipeline calls.
type API interface {
	ListUnreadIDs(ctx context.Context, max int64) ([]string, error)
	GetMessage(ctx context.Context, id string) (*gmail.Message, error)
}

// Dialer builds an API bound to one access token.
type Dialer func(ctx context.Context, accessToken string) (API, error)

// Tokens supplies and renews access tokens.
type Tokens interface {
	GetValidAccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
	Expire(ctx context.Context) error
}

// Marks reports ids the user already opened locally.
type Marks interface {
	IsMarked(id string) bool
}

// Result is one pipeline run.
type Result struct {
	Messages []mailbox.UnreadMessage
	// ListedIDs is every id the list call returned, before any filtering.
	ListedIDs []string
}

// Pipeline fetches the unread inbox through the Gmail API.
type Pipeline struct {
	dial   Dialer
	tokens Tokens
	max    int
	webURL string
	logger zerolog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithMaxRecords caps the list call, the detail concurrency and the result.
func WithMaxRecords(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.max = n
		}
	}
}

// WithWebURL sets the Gmail web root used for record open targets.
func WithWebURL(u string) PipelineOption {
	return func(p *Pipeline) { p.webURL = u }
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l zerolog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline.
func NewPipeline(dial Dialer, tokens Tokens, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		dial:   dial,
		tokens: tokens,
		max:    mailbox.MaxRecords,
		webURL: mailbox.DefaultWebURL,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ClientDialer dials the real Gmail API.
func ClientDialer(opts ...option.ClientOption) Dialer {
	return func(ctx context.Context, accessToken string) (API, error) {
		return NewClientForToken(ctx, accessToken, opts...)
	}
}

// Run performs a fetch with a valid token. A 401 triggers exactly one
// refresh and one retry; a failed refresh or a second 401 expires the
// stored access token and returns ErrAuthExpired.
func (p *Pipeline) Run(ctx context.Context, marks Marks) (Result, error) {
	res, err := p.attempt(ctx, marks)
	if !errors.Is(err, errUnauthorized) {
		return res, err
	}

	p.logger.Info().Msg("access token rejected, refreshing once")
	if rerr := p.tokens.Refresh(ctx); rerr != nil {
		p.expire(ctx)
		return Result{}, fmt.Errorf("%w: %w", ErrAuthExpired, rerr)
	}

	res, err = p.attempt(ctx, marks)
	if errors.Is(err, errUnauthorized) {
		p.expire(ctx)
		return Result{}, ErrAuthExpired
	}
	return res, err
}

func (p *Pipeline) expire(ctx context.Context) {
	if err := p.tokens.Expire(ctx); err != nil {
		p.logger.Error().Err(err).Msg("expire access token")
	}
}

func (p *Pipeline) attempt(ctx context.Context, marks Marks) (Result, error) {
	token, err := p.tokens.GetValidAccessToken(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrAuthExpired, err)
	}
	api, err := p.dial(ctx, token)
	if err != nil {
		return Result{}, err
	}
	return p.FetchUnread(ctx, api, marks)
}

// FetchUnread lists unread ids, fetches their metadata in parallel, keeps
// records whose labels still qualify and that are not marked, then sorts
// newest first and caps. A detail call that fails is dropped; a 401 on any
// call fails the whole fetch.
func (p *Pipeline) FetchUnread(ctx context.Context, api API, marks Marks) (Result, error) {
	ids, err := api.ListUnreadIDs(ctx, int64(p.max))
	if err != nil {
		return Result{}, classify(err)
	}
	if len(ids) > p.max {
		ids = ids[:p.max]
	}

	details := make([]*gmail.Message, len(ids))
	var unauthorized atomic.Bool
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.max)
	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			msg, err := api.GetMessage(ctx, id)
			if err != nil {
				if isUnauthorized(err) {
					unauthorized.Store(true)
				}
				p.logger.Debug().Err(err).Str("id", id).Msg("detail fetch failed")
				return
			}
			details[i] = msg
		}(i, id)
	}
	wg.Wait()

	if unauthorized.Load() {
		return Result{}, errUnauthorized
	}

	records := make([]mailbox.UnreadMessage, 0, len(details))
	for i, msg := range details {
		if msg == nil || !KeepMessage(msg.LabelIds) {
			continue
		}
		if marks != nil && marks.IsMarked(msg.Id) {
			continue
		}
		records = append(records, p.toRecord(msg, i))
	}

	p.logger.Debug().Int("listed", len(ids)).Int("kept", len(records)).Msg("fetched unread")
	return Result{
		Messages:  mailbox.SortAndCap(records, p.max),
		ListedIDs: ids,
	}, nil
}

func (p *Pipeline) toRecord(msg *gmail.Message, index int) mailbox.UnreadMessage {
	rec := mailbox.UnreadMessage{
		ID:          msg.Id,
		ThreadID:    msg.ThreadId,
		From:        extractHeader(msg, "From"),
		Subject:     extractHeader(msg, "Subject"),
		Snippet:     snippet(msg),
		Date:        extractHeader(msg, "Date"),
		IsUnread:    true,
		SourceIndex: index,
		SortKey:     sortKey(msg),
		Origin:      mailbox.OriginAPI,
	}
	if rec.From == "" {
		rec.From = mailbox.DefaultFrom
	}
	if rec.Subject == "" {
		rec.Subject = mailbox.DefaultSubject
	}
	rec.SourceURL = mailbox.WebURL(p.webURL, rec.OpenTarget())
	return rec
}

func isUnauthorized(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized
}

func classify(err error) error {
	if isUnauthorized(err) {
		return errUnauthorized
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := http.StatusText(gerr.Code)
		if msg == "" {
			msg = gerr.Message
		}
		return &FetchError{Status: gerr.Code, Message: msg, Err: err}
	}
	return err
}
