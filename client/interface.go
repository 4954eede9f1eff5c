package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streamrpc/streamrpc/wire"
)

// NotificationHandler consumes one inbound notification payload.
type NotificationHandler func(ctx context.Context, payload []byte) error

// Interface maps operations to inbound notification handlers. Build it
// before connecting; it is read-only while the client is running.
type Interface struct {
	notifications map[wire.Operation]NotificationHandler
}

func NewInterface() *Interface {
	return &Interface{notifications: make(map[wire.Operation]NotificationHandler)}
}

// RegisterNotification binds a handler to op. Registering the same
// operation twice is a programming error.
func (i *Interface) RegisterNotification(op wire.Operation, handler NotificationHandler) error {
	if _, ok := i.notifications[op]; ok {
		return fmt.Errorf("notification %q is declared multiple times", op)
	}
	i.notifications[op] = handler
	return nil
}

func (i *Interface) dispatch(ctx context.Context, op wire.Operation, payload []byte) (bool, error) {
	handler, ok := i.notifications[op]
	if !ok {
		return false, nil
	}
	return true, handler(ctx, payload)
}

// NotificationFunc adapts a typed handler to the byte-payload contract.
// Payloads are JSON-encoded message bodies regardless of the frame
// encoding; the frame codecs never interpret them.
func NotificationFunc[Msg any](fn func(ctx context.Context, msg Msg) error) NotificationHandler {
	return func(ctx context.Context, payload []byte) error {
		var msg Msg
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &msg); err != nil {
				return wire.Errorf(wire.CodeNotificationDeserialize, "%v", err)
			}
		}
		return fn(ctx, msg)
	}
}
