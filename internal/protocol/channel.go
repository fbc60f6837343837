package protocol

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrDropped is returned when the peer is not keeping up.
	ErrDropped = errors.New("message dropped")
	ErrClosed  = errors.New("channel closed")
)

// DefaultBuffer is the number of messages a channel holds per direction.
const DefaultBuffer = 16

// Channel is one end of a bidirectional message link. Send never blocks.
type Channel interface {
	Send(ctx context.Context, m Message) error
	Receive() <-chan Message
	Done() <-chan struct{}
	Close() error
}

type pipeEnd struct {
	in   chan Message
	out  chan Message
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-process channel ends. Closing either closes both.
func Pipe() (Channel, Channel) {
	ab := make(chan Message, DefaultBuffer)
	ba := make(chan Message, DefaultBuffer)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeEnd{in: ba, out: ab, done: done, once: once},
		&pipeEnd{in: ab, out: ba, done: done, once: once}
}

func (p *pipeEnd) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case p.out <- m:
		return nil
	default:
		return ErrDropped
	}
}

func (p *pipeEnd) Receive() <-chan Message { return p.in }
func (p *pipeEnd) Done() <-chan struct{}   { return p.done }

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
