package rpc

import (
	"bytes"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
)

// completed returns the in-flight call for a completion, or nil when nothing is in
// flight (the completion outlived a reset). A completion for any other operation panics.
func (c *Channel) completed(kind MethodKind, characteristic string) *call {
	head := c.inFlight
	if head == nil {
		c.logger.WithFields(logrus.Fields{
			"kind":           kind,
			"characteristic": characteristic,
		}).Debug("Dropping completion with nothing in flight")
		return nil
	}
	if head.kind() != kind || head.characteristic != characteristic {
		panic(fmt.Sprintf("rpc: %s completion for characteristic %s while %s is in flight", kind, characteristic, head))
	}
	return c.finishHead()
}

func (c *Channel) onReadWriteComplete(kind MethodKind, ch device.Characteristic, value []byte, err error) {
	cl := c.completed(kind, device.NormalizeUUID(ch.UUID()))
	if cl == nil {
		return
	}

	switch {
	case err != nil:
		c.fail(cl, fmt.Errorf("%w: %s %s: %w", ErrAdapterFailure, kind, cl.characteristic, err))
	case cl.controller.IsCanceled():
		c.deliver(cl, DefaultInstance(cl.prototype))
	default:
		resp, derr := c.codec.Decode(cl.method, value, cl.prototype)
		if derr != nil {
			c.fail(cl, derr)
		} else {
			c.deliver(cl, resp)
		}
	}
	c.dispatch()
}

func (c *Channel) onDescriptorWrite(d device.Descriptor, value []byte, err error) {
	characteristic := device.NormalizeUUID(d.Characteristic().UUID())
	if c.completed(MethodSubscribe, characteristic) == nil {
		return
	}

	switch {
	case bytes.Equal(value, device.EnableNotificationValue):
		g := c.subs.mustGet(characteristic, subscriptionSubscribing)
		if err != nil {
			c.failGroup(g, fmt.Errorf("%w: failed to enable notifications for descriptor %s in characteristic %s: %w",
				ErrAdapterFailure, g.descriptor, characteristic, err))
			c.releaseNotify(d.Characteristic())
			break
		}
		g.transition(subscriptionSubscribing, subscriptionSubscribed)
		g.pruneCanceled()
		c.logger.WithFields(logrus.Fields{
			"characteristic": characteristic,
			"subscribers":    g.subscribers.Len(),
		}).Debug("Subscribed")
		if g.empty() {
			c.startUnsubscribing(g)
		}

	case bytes.Equal(value, device.DisableNotificationValue):
		g := c.subs.mustGet(characteristic, subscriptionUnsubscribing)
		if err != nil {
			c.failAllAndReset(fmt.Errorf("%w: failed unsubscribing from characteristic %s, descriptor %s: %w",
				ErrUnsubscribeFailed, characteristic, g.descriptor, err))
			return
		}
		c.releaseNotify(d.Characteristic())

		// Subscribe calls submitted while unsubscribing are queued behind the release
		// and restart the subscription through normal dispatch.
		g.pruneCanceled()
		if g.empty() {
			c.subs.remove(characteristic)
		} else {
			g.transition(subscriptionUnsubscribing, subscriptionPending)
		}
		c.logger.WithField("characteristic", characteristic).Debug("Unsubscribed")

	default:
		panic(fmt.Sprintf("rpc: unexpected descriptor value %x for characteristic %s", value, characteristic))
	}
	c.dispatch()
}

func (c *Channel) releaseNotify(ch device.Characteristic) {
	if err := c.adapter.SetNotify(ch, false); err != nil {
		c.logger.WithFields(logrus.Fields{
			"characteristic": ch.UUID(),
			"error":          err,
		}).Debug("Failed to disable local notifications")
	}
}

// onValueChanged fans one notification out to every live subscriber of a subscribed group.
func (c *Channel) onValueChanged(ch device.Characteristic, value []byte) {
	characteristic := device.NormalizeUUID(ch.UUID())
	g, ok := c.subs.get(characteristic)
	if !ok || g.state != subscriptionSubscribed {
		c.logger.WithField("characteristic", characteristic).Debug("Dropping notification without a live subscription")
		return
	}

	g.pruneCanceled()
	if g.empty() {
		c.startUnsubscribing(g)
		c.dispatch()
		return
	}

	members := g.members()
	resp, err := c.codec.Decode(g.method, value, members[0].prototype)
	if err != nil {
		for _, cl := range members {
			c.fail(cl, err)
		}
		g.clear()
		c.startUnsubscribing(g)
		c.dispatch()
		return
	}
	for _, cl := range members {
		c.deliver(cl, resp)
	}
}
