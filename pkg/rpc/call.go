package rpc

import (
	"fmt"

	"github.com/srg/blerpc/internal/device"
)

// call is one submitted invocation. Only the controller changes after creation.
type call struct {
	id     uint64
	method *Method

	service        string
	characteristic string
	descriptor     string

	request    Message
	prototype  Message
	controller Controller
	done       Callback

	// unsubscribe marks calls synthesized by the registry to release a physical subscription.
	unsubscribe bool
}

func newCall(id uint64, m *Method, ctrl Controller, request, prototype Message, done Callback) *call {
	descriptor := m.Descriptor
	if descriptor == "" {
		descriptor = device.ClientCharacteristicConfigUUID
	}
	return &call{
		id:             id,
		method:         m,
		service:        device.NormalizeUUID(m.Service),
		characteristic: device.NormalizeUUID(m.Characteristic),
		descriptor:     device.NormalizeUUID(descriptor),
		request:        request,
		prototype:      prototype,
		controller:     ctrl,
		done:           done,
	}
}

func newUnsubscribeCall(id uint64, g *subscriptionGroup) *call {
	return &call{
		id:             id,
		method:         g.method,
		service:        g.service,
		characteristic: g.characteristic,
		descriptor:     g.descriptor,
		controller:     NewCallController(),
		done:           func(Message) {},
		unsubscribe:    true,
	}
}

// kind is Subscribe for synthesized unsubscribe calls.
func (c *call) kind() MethodKind {
	return c.method.Kind
}

func (c *call) String() string {
	if c.unsubscribe {
		return fmt.Sprintf("#%d unsubscribe %s/%s", c.id, c.service, c.characteristic)
	}
	return fmt.Sprintf("#%d %s %s/%s", c.id, c.kind(), c.service, c.characteristic)
}

// callQueue is a FIFO of calls. Only the head may be in flight.
type callQueue struct {
	calls []*call
}

func (q *callQueue) push(c *call) {
	q.calls = append(q.calls, c)
}

func (q *callQueue) peek() (*call, bool) {
	if len(q.calls) == 0 {
		return nil, false
	}
	return q.calls[0], true
}

func (q *callQueue) pop() (*call, bool) {
	if len(q.calls) == 0 {
		return nil, false
	}
	c := q.calls[0]
	q.calls[0] = nil
	q.calls = q.calls[1:]
	return c, true
}

func (q *callQueue) len() int {
	return len(q.calls)
}

// snapshot returns the queued calls in order. The slice is a copy.
func (q *callQueue) snapshot() []*call {
	out := make([]*call, len(q.calls))
	copy(out, q.calls)
	return out
}

func (q *callQueue) clear() {
	q.calls = nil
}
