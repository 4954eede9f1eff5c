package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamrpc/streamrpc/client"
	"github.com/streamrpc/streamrpc/transport"
	"github.com/streamrpc/streamrpc/wire"
)

// serverDialer connects clients to srv through in-process pipes, one
// served connection per dial.
type serverDialer struct {
	srv *Server[*counterState, connState]
}

func (d serverDialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	local, remote := transport.Pipe()
	go d.srv.ServeConn(context.Background(), remote, url)
	return local, nil
}

type evenOddRequest struct {
	ID uint64 `json:"id"`
	V  uint64 `json:"v"`
}

type evenOddResponse struct {
	ID     uint64 `json:"id"`
	Answer string `json:"answer"`
}

func newEvenOddServer(t *testing.T, enc wire.Encoding) *Server[*counterState, connState] {
	t.Helper()
	iface := NewInterface[*counterState, connState](&counterState{})
	err := iface.RegisterMethod("even-odd", Method(func(ctx context.Context, s *counterState, c connState, req evenOddRequest) (evenOddResponse, error) {
		answer := "even"
		if req.V%2 == 1 {
			answer = "odd"
		}
		return evenOddResponse{ID: req.ID, Answer: answer}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	err = iface.RegisterMethod("increase", Method(func(ctx context.Context, s *counterState, c connState, by int64) (int64, error) {
		s.n += by
		return s.n, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	return New(iface, HandlerFuncs[connState]{}, Options{Encoding: enc})
}

func TestEndToEnd(t *testing.T) {
	for _, enc := range []wire.Encoding{wire.Binary, wire.JSON} {
		t.Run(enc.String(), func(t *testing.T) {
			ctx := context.Background()
			srv := newEvenOddServer(t, enc)
			c := client.New(client.Options{
				URL:      "pipe://evenodd",
				Dialer:   serverDialer{srv: srv},
				Encoding: enc,
			})
			defer c.Close()

			if err := c.Connect(ctx); err != nil {
				t.Fatal(err)
			}

			var resp evenOddResponse
			if err := c.Call(ctx, "even-odd", evenOddRequest{ID: 7, V: 4}, &resp); err != nil {
				t.Fatal(err)
			}
			if resp.ID != 7 || resp.Answer != "even" {
				t.Errorf("got %+v; want id 7, even", resp)
			}
			if err := c.Call(ctx, "even-odd", evenOddRequest{ID: 8, V: 3}, &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Answer != "odd" {
				t.Errorf("got %+v; want odd", resp)
			}

			err := c.Call(ctx, "no-such-op", nil, nil)
			switch enc {
			case wire.Binary:
				// The binary codec defers validity to dispatch, which
				// answers with an error result.
				if !errors.Is(err, wire.ErrNotFound) {
					t.Errorf("got %v; want %v", err, wire.ErrNotFound)
				}
			case wire.JSON:
				// The JSON codec rejects the undeclared operation at
				// decode time, faulting the connection.
				if !errors.Is(err, wire.ErrClose) {
					t.Errorf("got %v; want %v", err, wire.ErrClose)
				}
			}
		})
	}
}

func TestEndToEndConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	srv := newEvenOddServer(t, wire.Binary)
	c := client.New(client.Options{
		URL:    "pipe://evenodd",
		Dialer: serverDialer{srv: srv},
	})
	defer c.Close()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	var g errgroup.Group
	var mu sync.Mutex
	answers := make(map[uint64]string)
	for i := uint64(0); i < 32; i++ {
		i := i
		g.Go(func() error {
			var resp evenOddResponse
			if err := c.Call(ctx, "even-odd", evenOddRequest{ID: i, V: i}, &resp); err != nil {
				return err
			}
			mu.Lock()
			answers[resp.ID] = resp.Answer
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	for i := uint64(0); i < 32; i++ {
		want := "even"
		if i%2 == 1 {
			want = "odd"
		}
		if answers[i] != want {
			t.Errorf("v=%d: got %q; want %q", i, answers[i], want)
		}
	}
}

func TestEndToEndServerPush(t *testing.T) {
	ctx := context.Background()

	iface := NewInterface[*counterState, connState](&counterState{})
	srv := New(iface, HandlerFuncs[connState]{
		OnHandshake: func(ctx context.Context, sink *Sink) (connState, error) {
			go func() {
				for seq := uint64(1); seq <= 3; seq++ {
					if err := sink.Notify(ctx, "seq", map[string]uint64{"seq": seq}); err != nil {
						return
					}
				}
			}()
			return connState{}, nil
		},
	}, Options{})

	got := make(chan uint64, 8)
	clientIface := client.NewInterface()
	err := clientIface.RegisterNotification("seq", client.NotificationFunc(func(ctx context.Context, msg map[string]uint64) error {
		got <- msg["seq"]
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	c := client.New(client.Options{
		URL:       "pipe://push",
		Dialer:    serverDialer{srv: srv},
		Interface: clientIface,
	})
	defer c.Close()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	for want := uint64(1); want <= 3; want++ {
		select {
		case seq := <-got:
			if seq != want {
				t.Errorf("got seq %d; want %d", seq, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("push %d never arrived", want)
		}
	}
}
