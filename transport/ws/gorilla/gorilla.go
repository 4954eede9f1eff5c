// Package gorilla implements the transport boundary using Gorilla's
// websocket library. This is the default native backend.
package gorilla

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/streamrpc/streamrpc/transport"
)

// Dialer dials websocket connections. The zero value uses
// websocket.DefaultDialer.
type Dialer struct {
	WS *websocket.Dialer
}

var _ transport.Dialer = Dialer{}

func (d Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	wsd := d.WS
	if wsd == nil {
		wsd = websocket.DefaultDialer
	}
	conn, _, err := wsd.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newConn(conn), nil
}

// Upgrader upgrades inbound HTTP requests to websocket connections.
type Upgrader struct {
	WS websocket.Upgrader
}

var _ transport.Upgrader = &Upgrader{}

func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (transport.Conn, error) {
	conn, err := u.WS.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newConn(conn), nil
}

type conn struct {
	ws      *websocket.Conn
	events  chan transport.Event
	done    chan struct{}
	muWrite sync.Mutex
	once    sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	c := &conn{
		ws:     ws,
		events: make(chan transport.Event, 1),
		done:   make(chan struct{}),
	}
	c.events <- transport.Event{Kind: transport.Open}
	go c.readPump()
	return c
}

// readPump is the sole reader of the websocket and the sole writer of the
// event channel.
func (c *conn) readPump() {
	for {
		_, data, err := c.ws.ReadMessage()
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
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
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
		c.ws.Close()
	})
}
