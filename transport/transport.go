// Package transport defines the duplex message-stream boundary the RPC
// runtimes ride on, plus an in-process pipe implementation. Websocket
// backends live in the ws/ subpackages; all backends behave identically
// from the runtimes' point of view, whether driven by a thread pool or a
// single-threaded cooperative scheduler.
package transport

import (
	"context"
	"errors"
	"net/http"
)

// ErrClosed is returned by Send on a connection that has terminated.
var ErrClosed = errors.New("transport: connection closed")

// EventKind tags elements of a connection's inbound stream.
type EventKind int

const (
	// Data carries one complete inbound message.
	Data EventKind = iota
	// Open signals that the connection is ready. Delivered once, first.
	Open
	// Close signals that the connection has terminated. Delivered once,
	// last; the event channel is closed immediately after.
	Close
)

func (k EventKind) String() string {
	switch k {
	case Data:
		return "data"
	case Open:
		return "open"
	case Close:
		return "close"
	}
	return "event(?)"
}

// Event is one element of a connection's inbound stream.
type Event struct {
	Kind EventKind
	Data []byte
}

// Conn is an established duplex message stream. Implementations must close
// the Events channel after delivering the final Close event, so consumers
// may treat channel closure as equivalent to Close.
type Conn interface {
	// Send writes one complete message. It blocks while the peer's inbound
	// buffer is full, bounded by ctx.
	Send(ctx context.Context, data []byte) error
	// Events returns the inbound stream. The channel must be drained until
	// it is closed.
	Events() <-chan Event
	Close() error
}

// Dialer establishes client connections. One call is one attempt; retry
// policy belongs to the caller.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Upgrader adapts an inbound HTTP request into a Conn. It allows switching
// between websocket implementations on the server side.
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error)
}
