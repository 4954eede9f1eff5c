// Package client implements the client-side RPC runtime: a connection
// state machine with retry, a pending-call table with per-call timeouts,
// a bounded outbound queue, and inbound notification dispatch. The same
// runtime logic runs against any transport.Conn backend.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streamrpc/streamrpc/transport"
	"github.com/streamrpc/streamrpc/wire"
)

// State of the connection state machine.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return "state(?)"
}

// ErrAlreadyConnected is returned by Connect if the client is already
// connected or connecting.
var ErrAlreadyConnected = errors.New("client already connected")

// ErrClientClosed is returned once Close has been called.
var ErrClientClosed = errors.New("client is closed")

// ErrSendQueueFull is returned under SendFail policy when the outbound
// queue has no room.
var ErrSendQueueFull = errors.New("send queue full")

type sendItem struct {
	data []byte
	errc chan error // nil for fire-and-forget sends
}

// Client is the RPC client runtime. Create it with New, then Connect.
// All methods are safe for concurrent use.
type Client struct {
	opts    Options
	codec   wire.Codec
	pending *pendingTable
	sendq   chan sendItem

	mu        sync.Mutex
	state     State
	conn      transport.Conn
	runCancel context.CancelFunc
	closed    bool
}

func New(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:    opts,
		codec:   wire.NewCodec(opts.Encoding, nil),
		pending: newPendingTable(),
		sendq:   make(chan sendItem, opts.SendQueueSize),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the connection. Under the Retry strategy it keeps
// attempting, pausing RetryInterval between attempts, until success or ctx
// cancellation; under Fallback a single attempt is made and its error
// returned. After an established connection later drops, the Retry
// strategy keeps reconnecting in the background until Disconnect or Close.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	runCtx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	c.mu.Unlock()

	for {
		err := c.attempt(runCtx)
		if err == nil {
			return nil
		}
		if c.opts.Strategy == Fallback {
			c.setState(Disconnected)
			return err
		}
		logger.Printf("connect to %s failed: %s (retrying in %s)", c.opts.URL, err, c.opts.RetryInterval)
		select {
		case <-ctx.Done():
			c.setState(Disconnected)
			return ctx.Err()
		case <-runCtx.Done():
			c.setState(Disconnected)
			return runCtx.Err()
		case <-time.After(c.opts.RetryInterval):
		}
	}
}

// attempt makes one dial attempt bounded by ConnectTimeout and waits for
// the transport's Open event before reporting success.
func (c *Client) attempt(runCtx context.Context) error {
	dialCtx, cancel := context.WithTimeout(runCtx, c.opts.ConnectTimeout)
	defer cancel()

	conn, err := c.opts.Dialer.Dial(dialCtx, c.opts.URL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return wire.Errorf(wire.CodeConnectionTimeout, "dial %s", c.opts.URL)
		}
		return err
	}

	open := make(chan struct{})
	go c.run(runCtx, conn, open)

	// The open wait shares the dial deadline so ConnectTimeout bounds the
	// whole attempt, not each phase.
	select {
	case <-open:
		return nil
	case <-dialCtx.Done():
		conn.Close()
		if runCtx.Err() != nil {
			return runCtx.Err()
		}
		return wire.Errorf(wire.CodeConnectionTimeout, "no open event from %s", c.opts.URL)
	}
}

// run owns one physical connection: it drives the receive path, spawns the
// send path, and performs teardown and reconnection when the connection
// terminates.
func (c *Client) run(runCtx context.Context, conn transport.Conn, open chan struct{}) {
	connCtx, cancel := context.WithCancel(runCtx)
	defer cancel()
	go c.sendLoop(connCtx, conn)

	opened := false
	for ev := range conn.Events() {
		switch ev.Kind {
		case transport.Open:
			if opened {
				continue
			}
			opened = true
			c.mu.Lock()
			c.conn = conn
			if !c.closed {
				c.state = Connected
			}
			c.mu.Unlock()
			close(open)
			c.ctl(CtlOpen)
		case transport.Data:
			c.handleFrame(connCtx, ev.Data)
		case transport.Close:
			// The event channel closes right after; the loop ends there.
		}
	}

	cancel()
	conn.Close()
	if n := c.pending.failAll(wire.ErrClose); n > 0 {
		logger.Printf("connection closed with %d outstanding calls", n)
	}
	if !c.opts.QueueWhileDisconnected {
		// Frames queued for the dead connection must not replay on the
		// next one; their pending entries were already failed with Close.
		if n := c.drainSendQueue(); n > 0 {
			logger.Printf("discarded %d queued frames on disconnect", n)
		}
	}
	if opened {
		c.ctl(CtlClose)
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	stopping := c.closed || runCtx.Err() != nil
	// A connection that never opened is still owned by the Connect or
	// reconnect loop; only an established connection moves the state here.
	if !stopping && opened {
		if c.opts.Strategy == Retry {
			c.state = Connecting
		} else {
			c.state = Disconnected
		}
	}
	c.mu.Unlock()

	if !stopping && c.opts.Strategy == Retry && opened {
		go c.reconnectLoop(runCtx)
	}
}

func (c *Client) reconnectLoop(runCtx context.Context) {
	for {
		select {
		case <-runCtx.Done():
			c.setState(Disconnected)
			return
		case <-time.After(c.opts.RetryInterval):
		}
		err := c.attempt(runCtx)
		if err == nil {
			return
		}
		if runCtx.Err() != nil {
			c.setState(Disconnected)
			return
		}
		logger.Printf("reconnect to %s failed: %s", c.opts.URL, err)
	}
}

// Disconnect drops the connection, fails every outstanding call with
// wire.ErrClose, and stops any retry loop. It is idempotent.
func (c *Client) Disconnect() {
	c.shutdown(false)
}

// Close disconnects and makes the client terminal: subsequent Connect
// calls return ErrClientClosed.
func (c *Client) Close() error {
	c.shutdown(true)
	return nil
}

func (c *Client) shutdown(terminal bool) {
	c.mu.Lock()
	cancel := c.runCancel
	c.runCancel = nil
	conn := c.conn
	c.conn = nil
	if terminal {
		c.closed = true
		c.state = Closed
	} else if c.state != Closed {
		c.state = Disconnected
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	c.pending.failAll(wire.ErrClose)
}

// Call issues a request and suspends until its response, the timeout, or
// connection close. params and result are JSON-encoded message bodies;
// pass nil for either to skip encoding or decoding.
func (c *Client) Call(ctx context.Context, op wire.Operation, params, result interface{}) error {
	var payload []byte
	if params != nil {
		var err error
		if payload, err = json.Marshal(params); err != nil {
			return fmt.Errorf("encoding params for %q: %w", op, err)
		}
	}
	resp, err := c.CallRaw(ctx, op, payload)
	if err != nil {
		return err
	}
	if result == nil || len(resp) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp, result); err != nil {
		return wire.Errorf(wire.CodeRespDeserialize, "%v", err)
	}
	return nil
}

// CallRaw is Call with an opaque payload. The per-call timeout is
// CallTimeout unless ctx carries an earlier deadline. Every issued call id
// resolves exactly once: with the response, wire.ErrTimeout, or
// wire.ErrClose.
func (c *Client) CallRaw(ctx context.Context, op wire.Operation, payload []byte) ([]byte, error) {
	if err := c.sendable(); err != nil {
		return nil, err
	}

	id := c.opts.Generator.Generate()
	pc := c.pending.add(id)

	data, err := c.codec.EncodeFrame(wire.NewRequest(id, op, payload))
	if err != nil {
		c.pending.remove(id)
		return nil, err
	}

	errc := make(chan error, 1)
	if err := c.enqueue(ctx, sendItem{data: data, errc: errc}); err != nil {
		c.pending.remove(id)
		return nil, err
	}

	timer := time.NewTimer(c.opts.CallTimeout)
	defer timer.Stop()
	for {
		select {
		case res := <-pc.done:
			return res.payload, res.err
		case err := <-errc:
			if err != nil {
				// Never reached the wire.
				if c.pending.remove(id) != nil {
					return nil, fmt.Errorf("sending %q: %w", op, err)
				}
				res := <-pc.done
				return res.payload, res.err
			}
			errc = nil // sent; keep waiting for the response
		case <-timer.C:
			if c.pending.remove(id) != nil {
				return nil, wire.ErrTimeout
			}
			// Lost the race against a resolver; take its result.
			res := <-pc.done
			return res.payload, res.err
		case <-ctx.Done():
			if c.pending.remove(id) != nil {
				// A caller deadline is a per-call timeout override and
				// resolves with the same identity as the default timeout;
				// only genuine cancellation surfaces as the context error.
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, wire.ErrTimeout
				}
				return nil, ctx.Err()
			}
			res := <-pc.done
			return res.payload, res.err
		}
	}
}

// Notify sends a fire-and-forget notification; it returns once the frame
// is enqueued, not once it is delivered.
func (c *Client) Notify(ctx context.Context, op wire.Operation, msg interface{}) error {
	var payload []byte
	if msg != nil {
		var err error
		if payload, err = json.Marshal(msg); err != nil {
			return fmt.Errorf("encoding notification %q: %w", op, err)
		}
	}
	return c.NotifyRaw(ctx, op, payload)
}

// NotifyRaw is Notify with an opaque payload.
func (c *Client) NotifyRaw(ctx context.Context, op wire.Operation, payload []byte) error {
	if err := c.sendable(); err != nil {
		return err
	}
	data, err := c.codec.EncodeFrame(wire.NewNotification(op, payload))
	if err != nil {
		return err
	}
	return c.enqueue(ctx, sendItem{data: data})
}

func (c *Client) sendable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.state != Connected && !c.opts.QueueWhileDisconnected {
		return wire.ErrNotConnected
	}
	return nil
}

func (c *Client) enqueue(ctx context.Context, item sendItem) error {
	if c.opts.SendPolicy == SendFail {
		select {
		case c.sendq <- item:
			return nil
		default:
			return ErrSendQueueFull
		}
	}
	select {
	case c.sendq <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) sendLoop(ctx context.Context, conn transport.Conn) {
	for {
		select {
		case item := <-c.sendq:
			err := conn.Send(ctx, item.data)
			if item.errc != nil {
				item.errc <- err
			}
			if err != nil {
				if item.errc == nil {
					logger.Printf("dropping outbound message: %s", err)
				}
				conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// drainSendQueue empties the outbound queue, resolving tracked sends with
// wire.ErrClose, and reports how many frames it discarded.
func (c *Client) drainSendQueue() int {
	n := 0
	for {
		select {
		case item := <-c.sendq:
			if item.errc != nil {
				item.errc <- wire.ErrClose
			}
			n++
		default:
			return n
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	frame, err := c.codec.DecodeFrame(data)
	if err != nil {
		logger.Printf("dropping malformed inbound frame: %s", err)
		return
	}
	switch frame.Kind {
	case wire.Response:
		res, derr := wire.DecodeResult(c.opts.Encoding, frame.Payload)
		var cr callResult
		switch {
		case derr != nil:
			cr.err = wire.Errorf(wire.CodeRespDeserialize, "%v", derr)
		case res.Err != nil:
			cr.err = res.Err
		default:
			cr.payload = res.OK
		}
		if !c.pending.complete(frame.ID, cr) {
			// Timed out or never issued here; dropping it is not an error.
			logger.Printf("dropping response for unknown call id %d (%s)", frame.ID, frame.Op)
		}
	case wire.Notification:
		if c.opts.Interface == nil {
			logger.Printf("dropping notification %q: no interface configured", frame.Op)
			return
		}
		handled, herr := c.opts.Interface.dispatch(ctx, frame.Op, frame.Payload)
		if !handled {
			logger.Printf("dropping notification %q: no handler registered", frame.Op)
		} else if herr != nil {
			logger.Printf("notification %q handler error: %s", frame.Op, herr)
		}
	case wire.Request:
		logger.Printf("dropping inbound request %q: client does not serve methods", frame.Op)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if !c.closed {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Client) ctl(ev Ctl) {
	if c.opts.Ctl == nil {
		return
	}
	select {
	case c.opts.Ctl <- ev:
	default:
	}
}
