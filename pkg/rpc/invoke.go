package rpc

import (
	"context"
	"fmt"
	"sync"
)

// Invoke performs a Read or Write call and waits for its response.
// Canceling ctx cancels the call; the channel still consumes its queue slot.
func Invoke(ctx context.Context, ch *Channel, m *Method, request, responsePrototype Message) (Message, error) {
	if m.Kind == MethodSubscribe {
		return nil, fmt.Errorf("%w: %s is a subscription, use Subscribe", ErrUnsupportedMethodKind, m.FullName())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctrl := NewCallController()
	result := make(chan Message, 1)
	ch.CallMethod(m, ctrl, request, responsePrototype, func(resp Message) {
		result <- resp
	})

	select {
	case resp := <-result:
		if err := ctrl.Err(); err != nil {
			return nil, err
		}
		return resp, nil
	case <-ctx.Done():
		ctrl.StartCancel()
		return nil, ctx.Err()
	}
}

// Subscribe subscribes to m and calls onValue for every notification until ctx is
// done or the subscription fails. onValue runs on the channel's listener executor.
// It returns the subscription failure, or ctx.Err() after cancellation.
func Subscribe(ctx context.Context, ch *Channel, m *Method, responsePrototype Message, onValue func(Message)) error {
	if m.Kind != MethodSubscribe {
		return fmt.Errorf("%w: %s is not a subscription", ErrUnsupportedMethodKind, m.FullName())
	}

	ctrl := NewCallController()
	failed := make(chan struct{})
	var once sync.Once
	ch.CallMethod(m, ctrl, nil, responsePrototype, func(resp Message) {
		if ctrl.Failed() {
			once.Do(func() { close(failed) })
			return
		}
		onValue(resp)
	})

	select {
	case <-failed:
		return ctrl.Err()
	case <-ctx.Done():
		ctrl.StartCancel()
		return ctx.Err()
	}
}
