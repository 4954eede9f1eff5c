package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pborman/uuid"

	"github.com/streamrpc/streamrpc/transport"
	"github.com/streamrpc/streamrpc/wire"
)

// Sink is the asynchronous push channel for one active connection. The
// handshake hands it to the application, which may retain it and post
// notifications from any goroutine until the connection closes. All
// outbound frames for the connection, responses included, flow through the
// sink's bounded queue so writes stay serialized.
type Sink struct {
	id    string
	peer  string
	conn  transport.Conn
	codec wire.Codec

	sendq chan []byte
	done  chan struct{}
	once  sync.Once
}

func newSink(conn transport.Conn, codec wire.Codec, peer string, queueSize int) *Sink {
	s := &Sink{
		id:    uuid.New(),
		peer:  peer,
		conn:  conn,
		codec: codec,
		sendq: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
	return s
}

// ID returns the unique identifier assigned to this connection.
func (s *Sink) ID() string { return s.id }

// Peer returns the remote address the connection arrived from.
func (s *Sink) Peer() string { return s.peer }

// Notify pushes a server-initiated notification. msg is JSON-encoded as
// the message body.
func (s *Sink) Notify(ctx context.Context, op wire.Operation, msg interface{}) error {
	var payload []byte
	if msg != nil {
		var err error
		if payload, err = json.Marshal(msg); err != nil {
			return fmt.Errorf("encoding notification %q: %w", op, err)
		}
	}
	return s.NotifyRaw(ctx, op, payload)
}

// NotifyRaw is Notify with an opaque payload. After the connection closes
// it returns wire.ErrClose.
func (s *Sink) NotifyRaw(ctx context.Context, op wire.Operation, payload []byte) error {
	data, err := s.codec.EncodeFrame(wire.NewNotification(op, payload))
	if err != nil {
		return err
	}
	return s.enqueue(ctx, data)
}

func (s *Sink) enqueue(ctx context.Context, data []byte) error {
	select {
	case <-s.done:
		return wire.ErrClose
	default:
	}
	select {
	case s.sendq <- data:
		return nil
	case <-s.done:
		return wire.ErrClose
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop is the sole writer of the underlying connection. It exits when
// the sink closes or a write fails.
func (s *Sink) writeLoop(ctx context.Context, onWrite func()) {
	for {
		select {
		case data := <-s.sendq:
			if err := s.conn.Send(ctx, data); err != nil {
				logger.Printf("sink %s: dropping outbound frame: %s", s.id, err)
				s.close()
				return
			}
			if onWrite != nil {
				onWrite()
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sink) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Close tears down the push channel. Pending queued frames are dropped.
func (s *Sink) Close() error {
	s.close()
	return nil
}
