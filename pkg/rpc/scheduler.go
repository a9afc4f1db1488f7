package rpc

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
)

// target is a call's resolved GATT entities. descriptor is set for subscribe calls only.
type target struct {
	characteristic device.Characteristic
	descriptor     device.Descriptor
}

// submit validates and enqueues a call, then drives the connection and the queue.
func (c *Channel) submit(cl *call) {
	// Close may have won the race with CallMethod; never reconnect a closed channel.
	if c.closed.Load() {
		c.fail(cl, ErrChannelClosed)
		return
	}
	if !cl.kind().Supported() {
		c.fail(cl, fmt.Errorf("%w: %s on %s", ErrUnsupportedMethodKind, cl.kind(), cl.method.FullName()))
		return
	}

	c.queue.push(cl)
	if cl.kind() == MethodSubscribe {
		c.subs.join(cl)
	}
	c.logger.WithFields(logrus.Fields{
		"call":   cl.String(),
		"method": cl.method.FullName(),
		"queued": c.queue.len(),
	}).Debug("Call submitted")

	if c.ensureConnected() == connectNotNeeded {
		c.dispatch()
	}
}

// dispatch starts the next operation when connected and nothing is in flight.
func (c *Channel) dispatch() {
	for c.state == Connected && c.inFlight == nil {
		head, ok := c.queue.peek()
		if !ok {
			return
		}

		if head.unsubscribe {
			c.startUnsubscribe(head)
			continue
		}

		t, skip := c.filter(head)
		if skip {
			c.queue.pop()
			continue
		}

		switch head.kind() {
		case MethodRead, MethodWrite:
			c.startReadWrite(head, t)
		case MethodSubscribe:
			c.startSubscribe(head, t)
		default:
			panic(fmt.Sprintf("rpc: queued call %s has unsupported kind %s", head, head.kind()))
		}
	}
}

// filter applies the pre-dispatch checks in order. It reports skip when the head
// must be popped without issuing an operation; any failure is already delivered.
func (c *Channel) filter(head *call) (target, bool) {
	ctrl := head.controller

	if ctrl.Failed() {
		// Only subscribe calls can fail while queued: their whole group failed.
		if head.kind() != MethodSubscribe {
			panic(fmt.Sprintf("rpc: call %s failed before dispatch: %s", head, ctrl.ErrorText()))
		}
		return target{}, true
	}

	if ctrl.IsCanceled() {
		if head.kind() != MethodSubscribe {
			c.deliver(head, DefaultInstance(head.prototype))
		}
		c.logger.WithField("call", head.String()).Debug("Skipping canceled call")
		return target{}, true
	}

	if head.kind() == MethodSubscribe && c.subscriptionNotNeeded(head) {
		return target{}, true
	}

	t, err := c.resolve(head)
	if err != nil {
		if head.kind() == MethodSubscribe {
			c.leaveGroup(head)
		}
		c.fail(head, err)
		return target{}, true
	}
	return t, false
}

// subscriptionNotNeeded reports whether the subscribe call at the head needs no enable request.
func (c *Channel) subscriptionNotNeeded(head *call) bool {
	g, ok := c.subs.get(head.characteristic)
	if !ok {
		panic(fmt.Sprintf("rpc: subscribe call %s has no subscription group", head))
	}

	g.pruneCanceled()
	switch g.state {
	case subscriptionPending:
		if g.empty() {
			c.subs.remove(g.characteristic)
			return true
		}
		return false
	case subscriptionSubscribed:
		// The call only joined a live subscription. Release it if nobody is left.
		if g.empty() {
			c.startUnsubscribing(g)
		}
		return true
	default:
		return true
	}
}

func (c *Channel) leaveGroup(cl *call) {
	g, ok := c.subs.get(cl.characteristic)
	if !ok {
		return
	}
	g.drop(cl)
	if g.state == subscriptionPending && g.empty() {
		c.subs.remove(g.characteristic)
	}
}

// resolve looks up the call's GATT entities and checks the required property.
func (c *Channel) resolve(cl *call) (target, error) {
	svc, ok := c.adapter.Service(cl.service)
	if !ok {
		return target{}, fmt.Errorf("%w: %w", ErrMissingTarget,
			&device.NotFoundError{Resource: "service", UUIDs: []string{cl.service}})
	}
	ch, ok := svc.Characteristic(cl.characteristic)
	if !ok {
		return target{}, fmt.Errorf("%w: %w", ErrMissingTarget,
			&device.NotFoundError{Resource: "characteristic", UUIDs: []string{cl.service, cl.characteristic}})
	}

	props := ch.Properties()
	switch cl.kind() {
	case MethodRead:
		if !props.Readable() {
			return target{}, c.propertyError(cl, "readable")
		}
	case MethodWrite:
		if !props.Writable() {
			return target{}, c.propertyError(cl, "writable")
		}
	case MethodSubscribe:
		if !cl.unsubscribe && !props.Notifiable() {
			return target{}, c.propertyError(cl, "notifiable")
		}
		d, ok := ch.Descriptor(cl.descriptor)
		if !ok {
			return target{}, fmt.Errorf("%w: %w", ErrMissingTarget,
				&device.NotFoundError{Resource: "descriptor", UUIDs: []string{cl.service, cl.characteristic, cl.descriptor}})
		}
		return target{characteristic: ch, descriptor: d}, nil
	}
	return target{characteristic: ch}, nil
}

func (c *Channel) propertyError(cl *call, what string) error {
	return fmt.Errorf("%w: characteristic %s on service %s is not %s",
		ErrPropertyUnsupported, cl.characteristic, cl.service, what)
}

func (c *Channel) startReadWrite(head *call, t target) {
	c.inFlight = head

	var err error
	if head.kind() == MethodWrite {
		var payload []byte
		payload, err = c.codec.Encode(head.method, head.request)
		if err != nil {
			c.finishHead()
			c.fail(head, err)
			return
		}
		err = c.adapter.Write(t.characteristic, payload)
	} else {
		err = c.adapter.Read(t.characteristic)
	}

	if err != nil {
		if c.escalateRejection(head, err) {
			return
		}
		c.finishHead()
		c.fail(head, fmt.Errorf("%w: %s %s: %w", ErrAdapterRejected, head.kind(), head.characteristic, err))
		return
	}
	c.logger.WithField("call", head.String()).Debug("Operation issued")
}

func (c *Channel) startSubscribe(head *call, t target) {
	g := c.subs.mustGet(head.characteristic, subscriptionPending)
	c.inFlight = head
	g.transition(subscriptionPending, subscriptionSubscribing)

	err := c.adapter.SetNotify(t.characteristic, true)
	if err == nil {
		err = c.adapter.WriteDescriptor(t.descriptor, device.EnableNotificationValue)
	}
	if err != nil {
		if c.escalateRejection(head, err) {
			return
		}
		c.finishHead()
		c.failGroup(g, fmt.Errorf("%w: failed to enable notifications for descriptor %s in characteristic %s: %w",
			ErrAdapterRejected, g.descriptor, g.characteristic, err))
		c.releaseNotify(t.characteristic)
		return
	}
	c.logger.WithFields(logrus.Fields{
		"call":        head.String(),
		"subscribers": g.subscribers.Len(),
	}).Debug("Subscription requested")
}

// startUnsubscribe issues the disable write for a synthesized unsubscribe call.
// Any failure leaves the physical notification state unknown and is fatal.
func (c *Channel) startUnsubscribe(head *call) {
	c.subs.mustGet(head.characteristic, subscriptionUnsubscribing)

	t, err := c.resolve(head)
	if err == nil {
		c.inFlight = head
		err = c.adapter.WriteDescriptor(t.descriptor, device.DisableNotificationValue)
	}
	if err != nil {
		c.failAllAndReset(fmt.Errorf("%w: failed unsubscribing from characteristic %s, descriptor %s: %w",
			ErrUnsubscribeFailed, head.characteristic, head.descriptor, err))
		return
	}
	c.logger.WithField("call", head.String()).Debug("Unsubscribe requested")
}

// startUnsubscribing moves a subscribed group to unsubscribing and queues the release.
// The caller dispatches.
func (c *Channel) startUnsubscribing(g *subscriptionGroup) {
	g.transition(subscriptionSubscribed, subscriptionUnsubscribing)
	c.queue.push(newUnsubscribeCall(c.nextID.Add(1), g))
	c.logger.WithField("characteristic", g.characteristic).Debug("No live subscribers left, unsubscribing")
}

// escalateRejection turns a connection-level synchronous rejection into a fatal failure.
func (c *Channel) escalateRejection(head *call, err error) bool {
	if !device.IsConnectionState(err, device.NotConnected) {
		return false
	}
	c.failAllAndReset(fmt.Errorf("%w: %s rejected: %w", ErrConnectionLost, head, err))
	return true
}

// finishHead pops the in-flight head and clears the in-flight marker.
func (c *Channel) finishHead() *call {
	head, ok := c.queue.pop()
	if !ok || head != c.inFlight {
		panic(fmt.Sprintf("rpc: in-flight call %v is not the queue head %v", c.inFlight, head))
	}
	c.inFlight = nil
	return head
}
