package rpc

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// ConnectionState is the physical link state as seen by the channel.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	// Connecting covers both the connect and the service discovery steps.
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

type connectResult int

const (
	connectNotNeeded connectResult = iota
	connectInProgress
	connectStarted
	connectFailed
)

func (c *Channel) setState(s ConnectionState) {
	if c.state != s {
		c.logger.WithFields(logrus.Fields{
			"address": c.address,
			"from":    c.state,
			"to":      s,
		}).Debug("Connection state changed")
	}
	c.state = s
	c.stateView.Store(int32(s))
}

// ensureConnected starts a connection when there is none.
func (c *Channel) ensureConnected() connectResult {
	switch c.state {
	case Connected:
		return connectNotNeeded
	case Connecting:
		return connectInProgress
	}

	c.setState(Connecting)
	if err := c.adapter.Connect(c.address, events{c}); err != nil {
		c.failAllAndReset(fmt.Errorf("%w: %w", ErrConnectFailed, err))
		return connectFailed
	}
	return connectStarted
}

func (c *Channel) onConnected(err error) {
	if c.state != Connecting || c.discovering {
		c.logger.WithField("error", err).Debug("Dropping stale connect completion")
		return
	}
	if err != nil {
		c.failAllAndReset(fmt.Errorf("%w: %w", ErrConnectFailed, err))
		return
	}

	c.discovering = true
	if err := c.adapter.DiscoverServices(); err != nil {
		c.failAllAndReset(fmt.Errorf("%w: could not start service discovery: %w", ErrDiscoveryFailed, err))
	}
}

func (c *Channel) onServicesDiscovered(err error) {
	if c.state != Connecting || !c.discovering {
		c.logger.WithField("error", err).Debug("Dropping stale discovery completion")
		return
	}
	if err != nil {
		c.failAllAndReset(fmt.Errorf("%w: %w", ErrDiscoveryFailed, err))
		return
	}

	c.discovering = false
	c.setState(Connected)
	c.logger.WithFields(logrus.Fields{
		"address": c.address,
		"queued":  c.queue.len(),
	}).Info("Channel connected")
	c.dispatch()
}

// onDisconnected handles a link loss reported after connect.
func (c *Channel) onDisconnected(err error) {
	if c.state == Disconnected {
		c.logger.WithField("error", err).Debug("Dropping disconnect while already disconnected")
		return
	}
	if err == nil {
		err = fmt.Errorf("peripheral disconnected")
	}
	c.failAllAndReset(fmt.Errorf("%w: %w", ErrConnectionLost, err))
}

// reset drops all channel state and releases the physical connection. Idempotent.
func (c *Channel) reset() {
	c.setState(Disconnected)
	c.discovering = false
	c.queue.clear()
	c.subs.clear()
	c.inFlight = nil
	if err := c.adapter.Close(); err != nil {
		c.logger.WithField("error", err).Warn("Failed to release connection during reset")
	}
}
