package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamrpc/streamrpc/internal/fakepeer"
	"github.com/streamrpc/streamrpc/transport"
	"github.com/streamrpc/streamrpc/wire"
)

func newTestClient(t *testing.T, opts Options) (*Client, *fakepeer.Peer) {
	t.Helper()
	peer := fakepeer.New(opts.Encoding)
	opts.URL = "pipe://test"
	opts.Dialer = peer
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = time.Second
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 10 * time.Millisecond
	}
	c := New(opts)
	t.Cleanup(func() { c.Close() })
	return c, peer
}

func TestCallNotConnected(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	if _, err := c.CallRaw(context.Background(), "ping", nil); !errors.Is(err, wire.ErrNotConnected) {
		t.Errorf("got %v; want %v", err, wire.ErrNotConnected)
	}
	if err := c.Notify(context.Background(), "ping", nil); !errors.Is(err, wire.ErrNotConnected) {
		t.Errorf("got %v; want %v", err, wire.ErrNotConnected)
	}
}

func TestConnectAndCall(t *testing.T) {
	ctx := context.Background()
	c, peer := newTestClient(t, Options{})

	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if got, want := c.State(), Connected; got != want {
		t.Fatalf("state: got %s; want %s", got, want)
	}
	if err := c.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second connect: got %v; want %v", err, ErrAlreadyConnected)
	}
	session := <-peer.Accepted

	var g errgroup.Group
	g.Go(func() error {
		req := <-session.Received
		if req.Kind != wire.Request || req.Op != "ping" {
			t.Errorf("got frame %+v", req.Header)
		}
		return session.Respond(ctx, req.ID, req.Op, []byte(`"pong"`))
	})

	var got string
	if err := c.Call(ctx, "ping", nil, &got); err != nil {
		t.Fatal(err)
	}
	if want := "pong"; got != want {
		t.Errorf("got: %q; want %q", got, want)
	}
	if err := g.Wait(); err != nil {
		t.Error(err)
	}
	if n := c.pending.len(); n != 0 {
		t.Errorf("pending table has %d leftover entries", n)
	}
}

func TestCallErrorResult(t *testing.T) {
	ctx := context.Background()
	c, peer := newTestClient(t, Options{})
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	session := <-peer.Accepted

	go func() {
		req := <-session.Received
		session.RespondError(ctx, req.ID, req.Op, wire.Errorf(wire.CodeNotFound, "no method %q", req.Op))
	}()

	_, err := c.CallRaw(ctx, "missing", nil)
	if !errors.Is(err, wire.ErrNotFound) {
		t.Errorf("got %v; want %v", err, wire.ErrNotFound)
	}
}

func TestCallTimeoutThenLateResponse(t *testing.T) {
	ctx := context.Background()
	c, peer := newTestClient(t, Options{CallTimeout: 50 * time.Millisecond})
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	session := <-peer.Accepted

	if _, err := c.CallRaw(ctx, "slow", nil); !errors.Is(err, wire.ErrTimeout) {
		t.Fatalf("got %v; want %v", err, wire.ErrTimeout)
	}
	if n := c.pending.len(); n != 0 {
		t.Fatalf("pending table has %d leftover entries", n)
	}

	// A response arriving after the timeout must be dropped without fault.
	req := <-session.Received
	if err := session.Respond(ctx, req.ID, req.Op, []byte(`"late"`)); err != nil {
		t.Fatal(err)
	}

	go func() {
		req := <-session.Received
		session.Respond(ctx, req.ID, req.Op, []byte(`"ok"`))
	}()
	var got string
	if err := c.Call(ctx, "ping", nil, &got); err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Errorf("got: %q; want %q", got, "ok")
	}
}

func TestCallContextDeadline(t *testing.T) {
	c, peer := newTestClient(t, Options{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-peer.Accepted

	// A ctx deadline shorter than CallTimeout overrides it and resolves
	// with the same timeout identity.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.CallRaw(ctx, "slow", nil); !errors.Is(err, wire.ErrTimeout) {
		t.Errorf("deadline: got %v; want %v", err, wire.ErrTimeout)
	}
	if n := c.pending.len(); n != 0 {
		t.Fatalf("pending table has %d leftover entries", n)
	}

	// Genuine cancellation keeps its own identity.
	ctx2, cancel2 := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel2)
	if _, err := c.CallRaw(ctx2, "slow", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("cancel: got %v; want %v", err, context.Canceled)
	}
}

func TestDisconnectFailsPending(t *testing.T) {
	ctx := context.Background()
	c, peer := newTestClient(t, Options{})
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	session := <-peer.Accepted

	callErr := make(chan error, 1)
	go func() {
		_, err := c.CallRaw(ctx, "stuck", nil)
		callErr <- err
	}()

	<-session.Received
	c.Disconnect()

	if err := <-callErr; !errors.Is(err, wire.ErrClose) {
		t.Errorf("got %v; want %v", err, wire.ErrClose)
	}
	if got, want := c.State(), Disconnected; got != want {
		t.Errorf("state: got %s; want %s", got, want)
	}
}

func TestPeerDropFailsPending(t *testing.T) {
	ctx := context.Background()
	c, peer := newTestClient(t, Options{Strategy: Fallback})
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	session := <-peer.Accepted

	callErr := make(chan error, 1)
	go func() {
		_, err := c.CallRaw(ctx, "stuck", nil)
		callErr <- err
	}()

	<-session.Received
	session.Close()

	if err := <-callErr; !errors.Is(err, wire.ErrClose) {
		t.Errorf("got %v; want %v", err, wire.ErrClose)
	}
}

func TestNotificationDispatch(t *testing.T) {
	ctx := context.Background()

	type seqMsg struct {
		Seq uint64 `json:"seq"`
	}
	got := make(chan seqMsg, 1)
	iface := NewInterface()
	err := iface.RegisterNotification("seq", NotificationFunc(func(ctx context.Context, msg seqMsg) error {
		got <- msg
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	c, peer := newTestClient(t, Options{Interface: iface})
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	session := <-peer.Accepted

	// An unregistered notification must not fault the connection.
	if err := session.Push(ctx, "unrelated", []byte(`1`)); err != nil {
		t.Fatal(err)
	}
	if err := session.Push(ctx, "seq", []byte(`{"seq":7}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-got:
		if msg.Seq != 7 {
			t.Errorf("got seq %d; want 7", msg.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not dispatched")
	}
}

func TestDuplicateNotificationRegistration(t *testing.T) {
	iface := NewInterface()
	handler := func(ctx context.Context, payload []byte) error { return nil }
	if err := iface.RegisterNotification("seq", handler); err != nil {
		t.Fatal(err)
	}
	if err := iface.RegisterNotification("seq", handler); err == nil {
		t.Error("duplicate registration accepted")
	}
}

func TestConnectRetry(t *testing.T) {
	peer := fakepeer.New(wire.Binary)
	failures := 2
	c := New(Options{
		URL:            "pipe://test",
		Dialer:         flakyDialer{peer: peer, failures: &failures},
		ConnectTimeout: time.Second,
		RetryInterval:  5 * time.Millisecond,
	})
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if failures != 0 {
		t.Errorf("connected with %d failures left", failures)
	}
}

func TestConnectFallback(t *testing.T) {
	dialErr := errors.New("connection refused")
	c := New(Options{
		URL:      "pipe://test",
		Dialer:   failingDialer{err: dialErr},
		Strategy: Fallback,
	})
	defer c.Close()

	if err := c.Connect(context.Background()); !errors.Is(err, dialErr) {
		t.Errorf("got %v; want %v", err, dialErr)
	}
	if got, want := c.State(), Disconnected; got != want {
		t.Errorf("state: got %s; want %s", got, want)
	}
}

func TestConnectTimeoutBoundsAttempt(t *testing.T) {
	c := New(Options{
		URL:            "pipe://test",
		Dialer:         stalledDialer{delay: 60 * time.Millisecond},
		Strategy:       Fallback,
		ConnectTimeout: 80 * time.Millisecond,
	})
	defer c.Close()

	start := time.Now()
	err := c.Connect(context.Background())
	elapsed := time.Since(start)
	if !errors.Is(err, wire.ErrConnectionTimeout) {
		t.Fatalf("got %v; want %v", err, wire.ErrConnectionTimeout)
	}
	// The dial and the open wait share one ConnectTimeout; a slow dial
	// must not grant the open wait a fresh budget.
	if elapsed > 120*time.Millisecond {
		t.Errorf("attempt took %s; want within one ConnectTimeout (80ms)", elapsed)
	}
}

func TestDisconnectDiscardsQueuedFrames(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	errc := make(chan error, 1)
	c.sendq <- sendItem{data: []byte("x"), errc: errc}
	if n := c.drainSendQueue(); n != 1 {
		t.Fatalf("drained %d frames; want 1", n)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, wire.ErrClose) {
			t.Errorf("got %v; want %v", err, wire.ErrClose)
		}
	default:
		t.Fatal("queued send not resolved")
	}
	if len(c.sendq) != 0 {
		t.Errorf("send queue still has %d items", len(c.sendq))
	}
}

func TestStaleQueueNotReplayedAfterReconnect(t *testing.T) {
	ctx := context.Background()
	c, peer := newTestClient(t, Options{})
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	session := <-peer.Accepted

	// A frame still queued when the connection dies must not surface on
	// the next one.
	stale, err := c.codec.EncodeFrame(wire.NewNotification("stale", nil))
	if err != nil {
		t.Fatal(err)
	}
	c.sendq <- sendItem{data: stale}
	session.Close()

	select {
	case session = <-peer.Accepted:
	case <-time.After(time.Second):
		t.Fatal("no reconnect attempt")
	}
	waitForState(t, c, Connected)
	if err := c.Notify(ctx, "fresh", nil); err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-session.Received:
		if frame.Op != "fresh" {
			t.Errorf("got %q; want %q", frame.Op, "fresh")
		}
	case <-time.After(time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	ctx := context.Background()
	ctl := make(chan Ctl, 8)
	c, peer := newTestClient(t, Options{Ctl: ctl})
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	session := <-peer.Accepted
	if ev := <-ctl; ev != CtlOpen {
		t.Fatalf("got ctl %v; want CtlOpen", ev)
	}

	session.Close()
	if ev := <-ctl; ev != CtlClose {
		t.Fatalf("got ctl %v; want CtlClose", ev)
	}

	// The retry strategy redials in the background.
	select {
	case session = <-peer.Accepted:
	case <-time.After(time.Second):
		t.Fatal("no reconnect attempt")
	}
	if ev := <-ctl; ev != CtlOpen {
		t.Fatalf("got ctl %v; want CtlOpen", ev)
	}

	go func() {
		req := <-session.Received
		session.Respond(ctx, req.ID, req.Op, []byte(`"pong"`))
	}()
	waitForState(t, c, Connected)
	var got string
	if err := c.Call(ctx, "ping", nil, &got); err != nil {
		t.Fatal(err)
	}
}

func TestQueueWhileDisconnected(t *testing.T) {
	ctx := context.Background()
	c, peer := newTestClient(t, Options{QueueWhileDisconnected: true})

	if err := c.Notify(ctx, "early", 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	session := <-peer.Accepted

	select {
	case frame := <-session.Received:
		if frame.Op != "early" {
			t.Errorf("got %q; want %q", frame.Op, "early")
		}
	case <-time.After(time.Second):
		t.Fatal("queued notification never flushed")
	}
}

func TestSendFailPolicy(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, Options{
		SendPolicy:             SendFail,
		SendQueueSize:          1,
		QueueWhileDisconnected: true,
	})
	if err := c.Notify(ctx, "a", nil); err != nil {
		t.Fatal(err)
	}
	if err := c.Notify(ctx, "b", nil); !errors.Is(err, ErrSendQueueFull) {
		t.Errorf("got %v; want %v", err, ErrSendQueueFull)
	}
}

func TestClosedClient(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClientClosed) {
		t.Errorf("got %v; want %v", err, ErrClientClosed)
	}
	if _, err := c.CallRaw(context.Background(), "ping", nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("got %v; want %v", err, ErrClientClosed)
	}
}

func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state: got %s; want %s", c.State(), want)
}

type flakyDialer struct {
	peer     *fakepeer.Peer
	failures *int
}

func (d flakyDialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	if *d.failures > 0 {
		*d.failures--
		return nil, errors.New("connection refused")
	}
	return d.peer.Dial(ctx, url)
}

type failingDialer struct {
	err error
}

func (d failingDialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	return nil, d.err
}

// stalledDialer consumes part of the dial budget, then hands back a
// connection that never emits an Open event.
type stalledDialer struct {
	delay time.Duration
}

func (d stalledDialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &silentConn{events: make(chan transport.Event)}, nil
}

type silentConn struct {
	events chan transport.Event
	once   sync.Once
}

func (c *silentConn) Send(ctx context.Context, data []byte) error { return nil }

func (c *silentConn) Events() <-chan transport.Event { return c.events }

func (c *silentConn) Close() error {
	c.once.Do(func() { close(c.events) })
	return nil
}
