package rpc

import (
	"github.com/sirupsen/logrus"
)

// deliver schedules a result on the listener. Subscription deliveries re-check
// cancellation right before the callback and are dropped when it is set.
// A listener stopped by Close rejects the task; the callback then runs on the
// worker so no caller is left waiting.
func (c *Channel) deliver(cl *call, msg Message) {
	task := func() {
		if cl.kind() == MethodSubscribe && cl.controller.IsCanceled() {
			c.logger.WithField("call", cl.String()).Debug("Dropping delivery for canceled subscription")
			return
		}
		cl.done(msg)
	}
	if !c.listener.Post(task) {
		task()
	}
}

// fail marks the call failed and delivers the default response.
func (c *Channel) fail(cl *call, err error) {
	c.logger.WithFields(logrus.Fields{
		"call":  cl.String(),
		"error": err,
	}).Debug("Call failed")
	setFailure(cl.controller, err)
	c.deliver(cl, DefaultInstance(cl.prototype))
}

// failGroup fails every subscriber and removes the group.
func (c *Channel) failGroup(g *subscriptionGroup, err error) {
	for _, cl := range g.members() {
		c.fail(cl, err)
	}
	c.subs.remove(g.characteristic)
}

// failAllAndReset fails every queued call and every subscriber with err, once each,
// then resets the connection.
func (c *Channel) failAllAndReset(err error) {
	c.logger.WithFields(logrus.Fields{
		"address": c.address,
		"queued":  c.queue.len(),
		"groups":  c.subs.len(),
		"error":   err,
	}).Warn("Fatal channel failure, resetting connection")

	seen := make(map[uint64]struct{})
	for _, cl := range c.queue.snapshot() {
		seen[cl.id] = struct{}{}
		if cl.unsubscribe || cl.controller.Failed() {
			continue
		}
		c.fail(cl, err)
	}
	for _, g := range c.subs.all() {
		for _, cl := range g.members() {
			if _, ok := seen[cl.id]; ok || cl.controller.Failed() {
				continue
			}
			c.fail(cl, err)
		}
	}
	c.reset()
}
