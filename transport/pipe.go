package transport

import (
	"context"
	"sync"
)

const pipeBuffer = 64

// Pipe returns a symmetric in-process connection pair. It backs the
// embedded-host socket object and test fixtures: every wait is a channel
// operation, so it is safe under a single-threaded cooperative scheduler
// and under real parallelism alike. Closing either end terminates both.
func Pipe() (Conn, Conn) {
	a := &pipeConn{
		in:     make(chan Event, pipeBuffer),
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	b := &pipeConn{
		in:     make(chan Event, pipeBuffer),
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	a.peer, b.peer = b, a
	go a.pump()
	go b.pump()
	return a, b
}

type pipeConn struct {
	peer   *pipeConn
	in     chan Event // written by the peer's Send, bounded
	events chan Event // written and closed only by pump
	done   chan struct{}
	once   sync.Once
}

func (c *pipeConn) Send(ctx context.Context, data []byte) error {
	msg := make([]byte, len(data))
	copy(msg, data)
	select {
	case c.peer.in <- Event{Kind: Data, Data: msg}:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.peer.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pipeConn) Events() <-chan Event {
	return c.events
}

func (c *pipeConn) Close() error {
	c.closeDone()
	c.peer.closeDone()
	return nil
}

func (c *pipeConn) closeDone() {
	c.once.Do(func() { close(c.done) })
}

// pump is the sole writer of the events channel: it forwards inbound
// messages and, on termination, delivers the final Close event before
// closing the channel.
func (c *pipeConn) pump() {
	c.events <- Event{Kind: Open}
	for {
		select {
		case ev := <-c.in:
			select {
			case c.events <- ev:
			case <-c.done:
				c.finish()
				return
			}
		case <-c.done:
			c.finish()
			return
		}
	}
}

func (c *pipeConn) finish() {
	c.events <- Event{Kind: Close}
	close(c.events)
}
