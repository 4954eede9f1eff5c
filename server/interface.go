package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streamrpc/streamrpc/wire"
)

// MethodHandler consumes a request payload and produces a response
// payload. Payloads are JSON-encoded message bodies regardless of the
// frame encoding. S is the server context shared by all connections; C is
// the per-connection context produced by the handshake.
type MethodHandler[S, C any] func(ctx context.Context, serverCtx S, connCtx C, payload []byte) ([]byte, error)

// NotificationHandler consumes an inbound notification payload.
type NotificationHandler[S, C any] func(ctx context.Context, serverCtx S, connCtx C, payload []byte) error

// Interface is the server-side operation registry. Build it during
// startup; it is read-only once the server is serving.
type Interface[S, C any] struct {
	serverCtx     S
	methods       map[wire.Operation]MethodHandler[S, C]
	notifications map[wire.Operation]NotificationHandler[S, C]
}

func NewInterface[S, C any](serverCtx S) *Interface[S, C] {
	return &Interface[S, C]{
		serverCtx:     serverCtx,
		methods:       make(map[wire.Operation]MethodHandler[S, C]),
		notifications: make(map[wire.Operation]NotificationHandler[S, C]),
	}
}

// RegisterMethod binds a request handler to op. Registering the same
// operation twice, as a method or a notification, is a programming error.
func (i *Interface[S, C]) RegisterMethod(op wire.Operation, handler MethodHandler[S, C]) error {
	if i.known(op) {
		return fmt.Errorf("operation %q is declared multiple times", op)
	}
	i.methods[op] = handler
	return nil
}

// RegisterNotification binds a notification handler to op.
func (i *Interface[S, C]) RegisterNotification(op wire.Operation, handler NotificationHandler[S, C]) error {
	if i.known(op) {
		return fmt.Errorf("operation %q is declared multiple times", op)
	}
	i.notifications[op] = handler
	return nil
}

func (i *Interface[S, C]) known(op wire.Operation) bool {
	if _, ok := i.methods[op]; ok {
		return true
	}
	_, ok := i.notifications[op]
	return ok
}

// Known reports whether op is registered as a method or a notification.
// The JSON frame codec consults it to reject unknown operations early.
func (i *Interface[S, C]) Known(op wire.Operation) bool {
	return i.known(op)
}

// DispatchMethod routes one request to its handler and folds the outcome
// into a Result. Handler errors become error results; they never fault the
// connection.
func (i *Interface[S, C]) DispatchMethod(ctx context.Context, connCtx C, op wire.Operation, payload []byte) wire.Result {
	handler, ok := i.methods[op]
	if !ok {
		return wire.Result{Err: wire.Errorf(wire.CodeNotFound, "no method %q", op)}
	}
	out, err := handler(ctx, i.serverCtx, connCtx, payload)
	if err != nil {
		return wire.Result{Err: wire.AsError(err, wire.CodeInternal)}
	}
	return wire.Result{OK: out}
}

// DispatchNotification routes one inbound notification. The first return
// reports whether a handler was registered for op.
func (i *Interface[S, C]) DispatchNotification(ctx context.Context, connCtx C, op wire.Operation, payload []byte) (bool, error) {
	handler, ok := i.notifications[op]
	if !ok {
		return false, nil
	}
	return true, handler(ctx, i.serverCtx, connCtx, payload)
}

// Method adapts a typed request handler to the byte-payload contract.
// Request decode failures map to CodeReqDeserialize, response encode
// failures to CodeRespSerialize.
func Method[S, C, Req, Resp any](fn func(ctx context.Context, serverCtx S, connCtx C, req Req) (Resp, error)) MethodHandler[S, C] {
	return func(ctx context.Context, serverCtx S, connCtx C, payload []byte) ([]byte, error) {
		var req Req
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, wire.Errorf(wire.CodeReqDeserialize, "%v", err)
			}
		}
		resp, err := fn(ctx, serverCtx, connCtx, req)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(resp)
		if err != nil {
			return nil, wire.Errorf(wire.CodeRespSerialize, "%v", err)
		}
		return out, nil
	}
}

// Notification adapts a typed notification handler to the byte-payload
// contract.
func Notification[S, C, Msg any](fn func(ctx context.Context, serverCtx S, connCtx C, msg Msg) error) NotificationHandler[S, C] {
	return func(ctx context.Context, serverCtx S, connCtx C, payload []byte) error {
		var msg Msg
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &msg); err != nil {
				return wire.Errorf(wire.CodeNotificationDeserialize, "%v", err)
			}
		}
		return fn(ctx, serverCtx, connCtx, msg)
	}
}
