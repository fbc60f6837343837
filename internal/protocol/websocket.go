package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	// The agent listens on loopback only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSChannel is a Channel over a WebSocket connection. A single writer
// goroutine owns all writes to the connection.
type WSChannel struct {
	conn   *websocket.Conn
	logger zerolog.Logger
	in     chan Message
	out    chan Message
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewWSChannel starts the read and write loops for conn.
func NewWSChannel(conn *websocket.Conn, logger zerolog.Logger) *WSChannel {
	c := &WSChannel{
		conn:   conn,
		logger: logger,
		in:     make(chan Message, DefaultBuffer),
		out:    make(chan Message, DefaultBuffer),
		done:   make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Dial connects to an agent endpoint such as ws://127.0.0.1:7411/ws.
func Dial(ctx context.Context, url string, logger zerolog.Logger) (*WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWSChannel(conn, logger), nil
}

// Handler upgrades each request and hands the channel to accept. The
// request stays open until the channel closes.
func Handler(accept func(Channel), logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		ch := NewWSChannel(conn, logger)
		logger.Debug().Str("remote", r.RemoteAddr).Msg("consumer connected")
		accept(ch)
		<-ch.Done()
	})
}

func (c *WSChannel) readLoop() {
	defer c.wg.Done()
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			c.logger.Warn().Err(err).Msg("discarding undecodable message")
			continue
		}
		if err := m.Validate(); err != nil {
			c.logger.Warn().Err(err).Msg("discarding invalid message")
			continue
		}
		select {
		case c.in <- m:
		case <-c.done:
			return
		default:
			c.logger.Debug().Str("kind", string(m.Kind)).Msg("receive buffer full, message dropped")
		}
	}
}

func (c *WSChannel) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case m := <-c.out:
			data, err := json.Marshal(m)
			if err != nil {
				c.logger.Error().Err(err).Msg("encode message")
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("websocket write failed")
				c.Close()
				return
			}
		}
	}
}

func (c *WSChannel) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case c.out <- m:
		return nil
	default:
		return ErrDropped
	}
}

func (c *WSChannel) Receive() <-chan Message { return c.in }
func (c *WSChannel) Done() <-chan struct{}   { return c.done }

// Close sends a close frame and tears down the connection.
func (c *WSChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = c.conn.Close()
	})
	return err
}

// Wait blocks until both connection loops have exited.
func (c *WSChannel) Wait() {
	c.wg.Wait()
}
