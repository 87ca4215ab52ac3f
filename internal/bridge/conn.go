package bridge

import (
	"context"
	"errors"
	"sync"
)

// Conn is one end of a session's message channel. The host bridge owns one
// Conn per session; the hosted application holds the opposite end.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Close(reason string) error
}

// ErrConnClosed is returned once a pipe end has been closed.
var ErrConnClosed = errors.New("bridge: connection closed")

// PipeEnd is an in-process Conn. What one end sends the other receives.
// It backs tests and headless hosted applications; browser apps use the
// websocket transport instead.
type PipeEnd struct {
	send chan []byte
	recv chan []byte

	done      chan struct{}
	closeOnce *sync.Once
	mu        *sync.Mutex
	reason    *string
}

// NewPipe returns two connected ends with the given per-direction buffer.
func NewPipe(buffer int) (*PipeEnd, *PipeEnd) {
	if buffer <= 0 {
		buffer = 32
	}
	ab := make(chan []byte, buffer)
	ba := make(chan []byte, buffer)
	done := make(chan struct{})
	once := &sync.Once{}
	mu := &sync.Mutex{}
	reason := new(string)
	a := &PipeEnd{send: ab, recv: ba, done: done, closeOnce: once, mu: mu, reason: reason}
	b := &PipeEnd{send: ba, recv: ab, done: done, closeOnce: once, mu: mu, reason: reason}
	return a, b
}

// Send delivers msg to the peer end. A copy is made so callers may reuse the
// buffer.
func (p *PipeEnd) Send(ctx context.Context, msg []byte) error {
	select {
	case <-p.done:
		return ErrConnClosed
	default:
	}
	cp := make([]byte, len(msg))
	copy(cp, msg)
	select {
	case p.send <- cp:
		return nil
	case <-p.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message arrives, the pipe closes, or ctx expires.
// Messages queued before close are still drained.
func (p *PipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.recv:
		return msg, nil
	default:
	}
	select {
	case msg := <-p.recv:
		return msg, nil
	case <-p.done:
		return nil, ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down both ends. Subsequent sends fail; queued messages remain
// receivable.
func (p *PipeEnd) Close(reason string) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		*p.reason = reason
		p.mu.Unlock()
		close(p.done)
	})
	return nil
}

// CloseReason returns the reason passed to Close, if any.
func (p *PipeEnd) CloseReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.reason
}

// ServePipe pumps inbound messages from the host end of a pipe into the
// session until the pipe closes or ctx ends. It is the in-process analog of
// the websocket read loop.
func ServePipe(ctx context.Context, s *Session, end *PipeEnd) {
	for {
		msg, err := end.Receive(ctx)
		if err != nil {
			return
		}
		s.HandleMessage(msg)
	}
}
