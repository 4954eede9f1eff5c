// Package server implements the server-side RPC runtime: an operation
// registry, a per-connection dispatch loop with a handshake phase, and a
// Sink push channel for server-initiated notifications. It serves any
// transport.Conn and integrates with net/http through transport.Upgrader.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/streamrpc/streamrpc/transport"
	"github.com/streamrpc/streamrpc/wire"
)

// Handler supplies the application's connection lifecycle hooks. C is the
// per-connection context type produced by Handshake and passed to every
// dispatched operation.
type Handler[C any] interface {
	// Accept gates a new connection before the handshake. Returning an
	// error rejects it.
	Accept(peer string) error
	// Handshake negotiates the connection and produces its context. The
	// sink may be retained for pushes until the connection closes. ctx is
	// bounded by HandshakeTimeout.
	Handshake(ctx context.Context, sink *Sink) (C, error)
	// Disconnect runs once after an active connection terminates.
	Disconnect(connCtx C, sink *Sink)
}

// HandlerFuncs adapts optional funcs to the Handler interface. Nil fields
// default to accept-everything, a zero connection context, and a no-op
// disconnect.
type HandlerFuncs[C any] struct {
	OnAccept     func(peer string) error
	OnHandshake  func(ctx context.Context, sink *Sink) (C, error)
	OnDisconnect func(connCtx C, sink *Sink)
}

var _ Handler[struct{}] = HandlerFuncs[struct{}]{}

func (h HandlerFuncs[C]) Accept(peer string) error {
	if h.OnAccept == nil {
		return nil
	}
	return h.OnAccept(peer)
}

func (h HandlerFuncs[C]) Handshake(ctx context.Context, sink *Sink) (C, error) {
	if h.OnHandshake == nil {
		var zero C
		return zero, nil
	}
	return h.OnHandshake(ctx, sink)
}

func (h HandlerFuncs[C]) Disconnect(connCtx C, sink *Sink) {
	if h.OnDisconnect != nil {
		h.OnDisconnect(connCtx, sink)
	}
}

// Options configures a Server. Zero values are usable defaults.
type Options struct {
	// Encoding selects the frame encoding; must match the clients.
	Encoding wire.Encoding
	// HandshakeTimeout bounds the open-plus-handshake phase. Default 5s.
	HandshakeTimeout time.Duration
	// SendQueueSize bounds each connection's outbound queue. Default 64.
	SendQueueSize int
	// AcceptRate throttles inbound HTTP upgrades, connections per second.
	// Zero means unlimited.
	AcceptRate rate.Limit
	// AcceptBurst is the limiter burst when AcceptRate is set. Default 8.
	AcceptBurst int
	// Metrics override; defaults to unregistered collectors.
	Metrics *Metrics
}

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultSendQueueSize    = 64
	defaultAcceptBurst      = 8
)

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.AcceptBurst <= 0 {
		o.AcceptBurst = defaultAcceptBurst
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics(nil)
	}
	return o
}

// Server is the dispatch runtime. All exported methods are safe for
// concurrent use once the interface registry is built.
type Server[S, C any] struct {
	iface   *Interface[S, C]
	handler Handler[C]
	opts    Options
	codec   wire.Codec
	metrics *Metrics
	limiter *rate.Limiter
}

func New[S, C any](iface *Interface[S, C], handler Handler[C], opts Options) *Server[S, C] {
	opts = opts.withDefaults()
	s := &Server[S, C]{
		iface:   iface,
		handler: handler,
		opts:    opts,
		codec:   wire.NewCodec(opts.Encoding, iface.Known),
		metrics: opts.Metrics,
	}
	if opts.AcceptRate > 0 {
		s.limiter = rate.NewLimiter(opts.AcceptRate, opts.AcceptBurst)
	}
	return s
}

// ServeConn drives one connection to completion: accept gate, open event,
// handshake, then the active dispatch loop. It returns when the connection
// terminates; a non-nil error describes why the server faulted it.
func (s *Server[S, C]) ServeConn(ctx context.Context, conn transport.Conn, peer string) error {
	s.metrics.ConnectionsAccepted.Inc()

	// Closed last-in first-out: the connection must close before the
	// final drain, or the drain would wait forever for the Close event.
	events := conn.Events()
	defer func() {
		for range events {
		}
	}()
	defer conn.Close()

	if err := s.handler.Accept(peer); err != nil {
		return fmt.Errorf("rejecting %s: %w", peer, err)
	}

	hsTimer := time.NewTimer(s.opts.HandshakeTimeout)
	defer hsTimer.Stop()
	select {
	case ev, ok := <-events:
		if !ok || ev.Kind == transport.Close {
			return wire.ErrClose
		}
		if ev.Kind != transport.Open {
			return fmt.Errorf("expected open event from %s, got %s", peer, ev.Kind)
		}
	case <-hsTimer.C:
		return wire.Errorf(wire.CodeConnectionTimeout, "no open event from %s", peer)
	case <-ctx.Done():
		return ctx.Err()
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := newSink(conn, s.codec, peer, s.opts.SendQueueSize)
	defer sink.Close()
	go sink.writeLoop(connCtx, s.metrics.FramesOut.Inc)

	hsCtx, hsCancel := context.WithTimeout(connCtx, s.opts.HandshakeTimeout)
	cc, err := s.handler.Handshake(hsCtx, sink)
	hsCancel()
	if err != nil {
		s.metrics.HandshakeFailures.Inc()
		return fmt.Errorf("handshake with %s: %w", peer, err)
	}
	logger.Printf("connection %s from %s is active", sink.ID(), peer)

	s.metrics.ConnectionsActive.Inc()
	defer s.metrics.ConnectionsActive.Dec()
	defer s.handler.Disconnect(cc, sink)

	for ev := range events {
		switch ev.Kind {
		case transport.Data:
			s.metrics.FramesIn.Inc()
			if err := s.handleFrame(connCtx, cc, sink, ev.Data); err != nil {
				return err
			}
		case transport.Close:
			return nil
		}
	}
	return nil
}

// handleFrame routes one inbound frame. Requests and notifications are
// dispatched on their own goroutines so a slow handler never stalls the
// receive loop. A framing error faults the connection; handler errors do
// not.
func (s *Server[S, C]) handleFrame(ctx context.Context, connCtx C, sink *Sink, data []byte) error {
	frame, err := s.codec.DecodeFrame(data)
	if err != nil {
		return fmt.Errorf("decoding inbound frame: %w", err)
	}
	switch frame.Kind {
	case wire.Request:
		go s.serveRequest(ctx, connCtx, sink, frame)
	case wire.Notification:
		go s.serveNotification(ctx, connCtx, sink, frame)
	case wire.Response:
		logger.Printf("connection %s: dropping response frame %q: server issues no calls", sink.ID(), frame.Op)
	}
	return nil
}

func (s *Server[S, C]) serveRequest(ctx context.Context, connCtx C, sink *Sink, frame wire.Frame) {
	result := s.iface.DispatchMethod(ctx, connCtx, frame.Op, frame.Payload)
	if result.Err != nil {
		s.metrics.DispatchErrors.Inc()
	}
	payload, err := wire.EncodeResult(s.opts.Encoding, result)
	if err != nil {
		logger.Printf("connection %s: encoding result for %q: %s", sink.ID(), frame.Op, err)
		payload, _ = wire.EncodeResult(s.opts.Encoding, wire.Result{
			Err: wire.Errorf(wire.CodeRespSerialize, "result for %q", frame.Op),
		})
	}
	data, err := s.codec.EncodeFrame(wire.NewResponse(frame.ID, frame.Op, payload))
	if err != nil {
		logger.Printf("connection %s: encoding response frame for %q: %s", sink.ID(), frame.Op, err)
		return
	}
	if err := sink.enqueue(ctx, data); err != nil {
		logger.Printf("connection %s: dropping response for call %d: %s", sink.ID(), frame.ID, err)
	}
}

func (s *Server[S, C]) serveNotification(ctx context.Context, connCtx C, sink *Sink, frame wire.Frame) {
	handled, err := s.iface.DispatchNotification(ctx, connCtx, frame.Op, frame.Payload)
	if !handled {
		logger.Printf("connection %s: dropping notification %q: no handler registered", sink.ID(), frame.Op)
		return
	}
	if err != nil {
		logger.Printf("connection %s: notification %q handler error: %s", sink.ID(), frame.Op, err)
	}
}

// HTTPHandler upgrades inbound requests and serves each resulting
// connection until it closes.
func (s *Server[S, C]) HTTPHandler(upgrader transport.Upgrader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			return
		}
		conn, err := upgrader.Upgrade(w, r)
		if err != nil {
			logger.Printf("upgrade from %s failed: %s", r.RemoteAddr, err)
			return
		}
		if err := s.ServeConn(context.Background(), conn, r.RemoteAddr); err != nil {
			logger.Printf("connection from %s ended: %s", r.RemoteAddr, err)
		}
	})
}

// ListenAndServe runs an HTTP server on addr until ctx is canceled, then
// shuts it down gracefully.
func (s *Server[S, C]) ListenAndServe(ctx context.Context, addr string, upgrader transport.Upgrader) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.HTTPHandler(upgrader),
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("listening on %s", addr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
