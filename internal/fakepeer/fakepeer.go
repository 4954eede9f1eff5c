// Package fakepeer provides a scripted remote endpoint for runtime tests.
// A Peer acts as a transport.Dialer that hands out in-process pipe
// connections; each dial yields a Session whose inbound frames the test
// can inspect and answer in any order.
package fakepeer

import (
	"context"

	"github.com/streamrpc/streamrpc/transport"
	"github.com/streamrpc/streamrpc/wire"
)

type Peer struct {
	enc   wire.Encoding
	codec wire.Codec

	// Accepted delivers one Session per successful dial.
	Accepted chan *Session
}

func New(enc wire.Encoding) *Peer {
	return &Peer{
		enc:      enc,
		codec:    wire.NewCodec(enc, nil),
		Accepted: make(chan *Session, 4),
	}
}

var _ transport.Dialer = &Peer{}

func (p *Peer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	client, server := transport.Pipe()
	s := &Session{
		enc:      p.enc,
		codec:    p.codec,
		conn:     server,
		Received: make(chan wire.Frame, 16),
	}
	go s.readLoop()
	p.Accepted <- s
	return client, nil
}

// Session is the remote side of one dialed connection.
type Session struct {
	enc   wire.Encoding
	codec wire.Codec
	conn  transport.Conn

	// Received delivers decoded requests and notifications; it closes when
	// the connection terminates.
	Received chan wire.Frame
}

func (s *Session) readLoop() {
	for ev := range s.conn.Events() {
		if ev.Kind != transport.Data {
			continue
		}
		frame, err := s.codec.DecodeFrame(ev.Data)
		if err != nil {
			continue
		}
		s.Received <- frame
	}
	close(s.Received)
}

// Respond answers a request with a successful result payload.
func (s *Session) Respond(ctx context.Context, id wire.CallID, op wire.Operation, result []byte) error {
	payload, err := wire.EncodeResult(s.enc, wire.Result{OK: result})
	if err != nil {
		return err
	}
	return s.send(ctx, wire.NewResponse(id, op, payload))
}

// RespondError answers a request with an error result.
func (s *Session) RespondError(ctx context.Context, id wire.CallID, op wire.Operation, werr *wire.Error) error {
	payload, err := wire.EncodeResult(s.enc, wire.Result{Err: werr})
	if err != nil {
		return err
	}
	return s.send(ctx, wire.NewResponse(id, op, payload))
}

// Push sends a peer-initiated notification.
func (s *Session) Push(ctx context.Context, op wire.Operation, payload []byte) error {
	return s.send(ctx, wire.NewNotification(op, payload))
}

// SendRaw writes bytes to the connection as-is, bypassing the codec.
func (s *Session) SendRaw(ctx context.Context, data []byte) error {
	return s.conn.Send(ctx, data)
}

func (s *Session) send(ctx context.Context, frame wire.Frame) error {
	data, err := s.codec.EncodeFrame(frame)
	if err != nil {
		return err
	}
	return s.conn.Send(ctx, data)
}

func (s *Session) Close() error {
	return s.conn.Close()
}
