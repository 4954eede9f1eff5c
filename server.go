package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streamrpc/streamrpc/server"
	"github.com/streamrpc/streamrpc/transport"
	wsgobwas "github.com/streamrpc/streamrpc/transport/ws/gobwas"
	wsgorilla "github.com/streamrpc/streamrpc/transport/ws/gorilla"
)

// Message bodies of the example even-odd service.
type evenOddRequest struct {
	ID uint64 `json:"id"`
	V  uint64 `json:"v"`
}

type evenOddResponse struct {
	ID     uint64 `json:"id"`
	Answer string `json:"answer"`
}

type seqMsg struct {
	Seq uint64 `json:"seq"`
}

// seqInterval is how often the server pushes a seq notification to each
// connected client.
var seqInterval = 10 * time.Second

type demoState struct {
	mu      sync.Mutex
	counter int64
}

type connInfo struct {
	ID string
}

func upgraderFor(backend string) (transport.Upgrader, error) {
	switch backend {
	case "gorilla":
		return &wsgorilla.Upgrader{}, nil
	case "gobwas":
		return &wsgobwas.Upgrader{}, nil
	}
	return nil, ErrExplain{
		fmt.Errorf("unknown websocket backend: %q", backend),
		`Supported backends are "gorilla" and "gobwas".`,
	}
}

func dialerFor(backend string) (transport.Dialer, error) {
	switch backend {
	case "gorilla":
		return wsgorilla.Dialer{}, nil
	case "gobwas":
		return wsgobwas.Dialer{}, nil
	}
	return nil, ErrExplain{
		fmt.Errorf("unknown websocket backend: %q", backend),
		`Supported backends are "gorilla" and "gobwas".`,
	}
}

func runServer(options Options) error {
	enc, err := parseEncoding(options.Server.Encoding)
	if err != nil {
		return err
	}
	upgrader, err := upgraderFor(options.Server.Backend)
	if err != nil {
		return err
	}

	iface := server.NewInterface[*demoState, connInfo](&demoState{})
	err = iface.RegisterMethod("even-odd", server.Method(func(ctx context.Context, s *demoState, c connInfo, req evenOddRequest) (evenOddResponse, error) {
		answer := "even"
		if req.V%2 == 1 {
			answer = "odd"
		}
		return evenOddResponse{ID: req.ID, Answer: answer}, nil
	}))
	if err != nil {
		return err
	}
	err = iface.RegisterMethod("increase", server.Method(func(ctx context.Context, s *demoState, c connInfo, by int64) (int64, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.counter += by
		return s.counter, nil
	}))
	if err != nil {
		return err
	}

	handler := server.HandlerFuncs[connInfo]{
		OnHandshake: func(ctx context.Context, sink *server.Sink) (connInfo, error) {
			logger.Infof("New connection %s from %s", sink.ID(), sink.Peer())
			go pushSeq(sink)
			return connInfo{ID: sink.ID()}, nil
		},
		OnDisconnect: func(c connInfo, sink *server.Sink) {
			logger.Infof("Connection %s closed", c.ID)
		},
	}

	srv := server.New(iface, handler, server.Options{
		Encoding:   enc,
		AcceptRate: 64,
		Metrics:    server.NewMetrics(prometheus.DefaultRegisterer),
	})

	mux := http.NewServeMux()
	mux.Handle("/", srv.HTTPHandler(upgrader))
	mux.Handle("/metrics", promhttp.Handler())

	logger.Infof("Starting server (version %s, %s encoding), listening on: ws://%s", Version, enc, options.Server.Bind)
	return http.ListenAndServe(options.Server.Bind, mux)
}

// pushSeq streams periodic seq notifications until the connection closes.
func pushSeq(sink *server.Sink) {
	ticker := time.NewTicker(seqInterval)
	defer ticker.Stop()
	var seq uint64
	for range ticker.C {
		seq++
		if err := sink.Notify(context.Background(), "seq", seqMsg{Seq: seq}); err != nil {
			return
		}
	}
}
