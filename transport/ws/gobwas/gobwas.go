// Package gobwas implements the transport boundary using the gobwas/ws
// websocket library, as an alternative to the gorilla backend.
package gobwas

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/streamrpc/streamrpc/transport"
)

// Dialer dials websocket connections with ws.Dial.
type Dialer struct{}

var _ transport.Dialer = Dialer{}

func (Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	raw, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return newConn(raw, false), nil
}

// Upgrader upgrades inbound HTTP requests with ws.HTTPUpgrader.
type Upgrader struct {
	Upgrader ws.HTTPUpgrader
}

var _ transport.Upgrader = &Upgrader{}

func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (transport.Conn, error) {
	raw, _, _, err := u.Upgrader.Upgrade(r, w)
	if err != nil {
		return nil, err
	}
	return newConn(raw, true), nil
}

type conn struct {
	raw     net.Conn
	server  bool
	events  chan transport.Event
	done    chan struct{}
	muWrite sync.Mutex
	once    sync.Once
}

func newConn(raw net.Conn, server bool) *conn {
	c := &conn{
		raw:    raw,
		server: server,
		events: make(chan transport.Event, 1),
		done:   make(chan struct{}),
	}
	c.events <- transport.Event{Kind: transport.Open}
	go c.readPump()
	return c
}

func (c *conn) readPump() {
	for {
		var data []byte
		var err error
		if c.server {
			data, _, err = wsutil.ReadClientData(c.raw)
		} else {
			data, _, err = wsutil.ReadServerData(c.raw)
		}
		if err != nil {
			c.terminate()
			c.events <- transport.Event{Kind: transport.Close}
			close(c.events)
			return
		}
		select {
		case c.events <- transport.Event{Kind: transport.Data, Data: data}:
		case <-c.done:
			c.events <- transport.Event{Kind: transport.Close}
			close(c.events)
			return
		}
	}
}

func (c *conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	c.muWrite.Lock()
	defer c.muWrite.Unlock()
	// Set the deadline on every write; the zero deadline of a
	// context without one clears whatever the previous write set.
	deadline, _ := ctx.Deadline()
	c.raw.SetWriteDeadline(deadline)
	var err error
	if c.server {
		err = wsutil.WriteServerBinary(c.raw, data)
	} else {
		err = wsutil.WriteClientBinary(c.raw, data)
	}
	if err != nil {
		c.terminate()
		return err
	}
	return nil
}

func (c *conn) Events() <-chan transport.Event {
	return c.events
}

func (c *conn) Close() error {
	c.terminate()
	return nil
}

func (c *conn) terminate() {
	c.once.Do(func() {
		close(c.done)
		c.raw.Close()
	})
}
