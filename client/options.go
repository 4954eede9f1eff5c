package client

import (
	"time"

	"github.com/streamrpc/streamrpc/transport"
	"github.com/streamrpc/streamrpc/wire"
)

// ConnectStrategy selects how Connect treats a failed attempt.
type ConnectStrategy int

const (
	// Retry keeps attempting at RetryInterval until success or
	// cancellation. This is the default.
	Retry ConnectStrategy = iota
	// Fallback makes a single attempt and returns its error immediately.
	Fallback
)

// SendPolicy selects the behavior when the bounded outbound queue is full.
type SendPolicy int

const (
	// SendBlock waits, bounded by the caller's context. Default.
	SendBlock SendPolicy = iota
	// SendFail returns ErrSendQueueFull immediately.
	SendFail
)

// Ctl events are posted to Options.Ctl (when set) as the underlying
// connection opens and closes, for application-level reconnect awareness.
type Ctl int

const (
	CtlOpen Ctl = iota
	CtlClose
)

// Options configures a Client. The zero value of every field is a usable
// default except URL and Dialer, which are required.
type Options struct {
	URL    string
	Dialer transport.Dialer

	// Encoding selects the frame encoding; must match the server.
	Encoding wire.Encoding

	Strategy ConnectStrategy
	// ConnectTimeout bounds each individual dial attempt. Default 10s.
	ConnectTimeout time.Duration
	// RetryInterval is the pause between attempts under Retry. Default 5s.
	RetryInterval time.Duration
	// CallTimeout is the default per-call timeout, overridable per call
	// via a context deadline. Default 60s.
	CallTimeout time.Duration

	// SendQueueSize bounds the outbound queue. Default 64.
	SendQueueSize int
	SendPolicy    SendPolicy
	// QueueWhileDisconnected lets Call/Notify enqueue while the connection
	// is down instead of failing fast with wire.ErrNotConnected.
	QueueWhileDisconnected bool

	// Interface receives inbound notifications. Optional.
	Interface *Interface
	// Generator produces call ids. Default wire.RandomGenerator.
	Generator wire.Generator
	// Ctl receives Open/Close events, posted without blocking. Optional.
	Ctl chan<- Ctl
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRetryInterval  = 5 * time.Second
	defaultCallTimeout    = 60 * time.Second
	defaultSendQueueSize  = 64
)

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = defaultRetryInterval
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.Generator == nil {
		o.Generator = wire.RandomGenerator{}
	}
	return o
}
