package scanner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

// ErrNotReady means no document has been loaded yet.
var ErrNotReady = errors.New("document not available")

// Surface is the live document the agent observes and acts on.
type Surface interface {
	// Snapshot returns the current parsed document.
	Snapshot(ctx context.Context) (*html.Node, error)
	// Mutations signals after every structural change.
	Mutations() <-chan struct{}
	Click(ctx context.Context, node *html.Node) error
	Navigate(ctx context.Context, url string) error
}

// HTTPSurface observes a mailbox page by polling its URL. A change in the
// response body counts as a mutation. Clicks and navigation are handed to
// Open, typically a browser launcher.
type HTTPSurface struct {
	URL      string
	Interval time.Duration
	Client   *http.Client
	Open     func(ctx context.Context, url string) error
	Logger   zerolog.Logger

	mu        sync.RWMutex
	doc       *html.Node
	sum       [sha256.Size]byte
	mutations chan struct{}
	once      sync.Once
}

func (s *HTTPSurface) init() {
	s.once.Do(func() {
		s.mutations = make(chan struct{}, 1)
		if s.Client == nil {
			s.Client = &http.Client{Timeout: 15 * time.Second}
		}
		if s.Interval <= 0 {
			s.Interval = 5 * time.Second
		}
	})
}

// Run polls until ctx ends.
func (s *HTTPSurface) Run(ctx context.Context) error {
	s.init()
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if err := s.poll(ctx); err != nil && ctx.Err() == nil {
			s.Logger.Debug().Err(err).Str("url", s.URL).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *HTTPSurface) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)

	s.mu.RLock()
	same := s.doc != nil && sum == s.sum
	s.mu.RUnlock()
	if same {
		return nil
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	s.mu.Lock()
	s.doc, s.sum = doc, sum
	s.mu.Unlock()

	select {
	case s.mutations <- struct{}{}:
	default:
	}
	return nil
}

func (s *HTTPSurface) Snapshot(ctx context.Context) (*html.Node, error) {
	s.init()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, ErrNotReady
	}
	return s.doc, nil
}

func (s *HTTPSurface) Mutations() <-chan struct{} {
	s.init()
	return s.mutations
}

// Click follows an anchor's href.
func (s *HTTPSurface) Click(ctx context.Context, node *html.Node) error {
	href := attrValue(node, "href")
	if href == "" {
		return fmt.Errorf("element <%s> is not a link", node.Data)
	}
	return s.Navigate(ctx, resolve(s.URL, href))
}

func (s *HTTPSurface) Navigate(ctx context.Context, url string) error {
	if s.Open == nil {
		s.Logger.Info().Str("url", url).Msg("navigate")
		return nil
	}
	return s.Open(ctx, url)
}
