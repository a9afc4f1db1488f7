package rpc

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
)

// Channel runs RPC calls against one peripheral through a device.Adapter.
//
// Fields below the worker marker are confined to the worker executor.
type Channel struct {
	address string
	adapter device.Adapter
	codec   Codec
	logger  *logrus.Logger

	worker      Executor
	listener    Executor
	ownWorker   *SerialExecutor
	ownListener *SerialExecutor

	nextID    atomic.Uint64
	closed    atomic.Bool
	stateView atomic.Int32

	// worker
	state       ConnectionState
	discovering bool
	queue       callQueue
	subs        *registry
	inFlight    *call
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel logger. The default is logrus.StandardLogger().
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// WithWorker replaces the executor that serializes channel state changes.
func WithWorker(e Executor) Option {
	return func(c *Channel) {
		c.worker = e
	}
}

// WithListener replaces the executor callbacks run on.
func WithListener(e Executor) Option {
	return func(c *Channel) {
		c.listener = e
	}
}

// NewChannel creates a disconnected channel. The first call triggers connect and service discovery.
func NewChannel(address string, adapter device.Adapter, codec Codec, opts ...Option) *Channel {
	c := &Channel{
		address: address,
		adapter: adapter,
		codec:   codec,
		subs:    newRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	if c.worker == nil {
		c.ownWorker = NewSerialExecutor("blerpc-worker", c.logger)
		c.worker = c.ownWorker
	}
	if c.listener == nil {
		c.ownListener = NewSerialExecutor("blerpc-listener", c.logger)
		c.listener = c.ownListener
	}
	return c
}

// CallMethod submits a call. done runs on the listener executor: once for Read and
// Write calls, once per notification for Subscribe calls until ctrl is canceled.
// On failure ctrl reports Failed and done receives the default instance of responsePrototype.
//
// Calls made after Close fail with ErrChannelClosed, on the calling goroutine when
// the worker has already stopped.
func (c *Channel) CallMethod(m *Method, ctrl Controller, request, responsePrototype Message, done Callback) {
	if m == nil || ctrl == nil || done == nil {
		panic("rpc: CallMethod requires a method, a controller and a callback")
	}
	cl := newCall(c.nextID.Add(1), m, ctrl, request, responsePrototype, done)

	if c.closed.Load() || !c.worker.Post(func() { c.submit(cl) }) {
		c.rejectClosed(cl)
	}
}

// rejectClosed fails a call the worker will never see, on the calling goroutine.
func (c *Channel) rejectClosed(cl *call) {
	setFailure(cl.controller, ErrChannelClosed)
	if cl.kind() != MethodSubscribe || !cl.controller.IsCanceled() {
		cl.done(DefaultInstance(cl.prototype))
	}
}

// Abort fails every outstanding call with err and resets the connection.
// The next call reconnects.
func (c *Channel) Abort(err error) {
	if err == nil {
		err = fmt.Errorf("aborted")
	}
	c.worker.Post(func() {
		c.logger.WithField("error", err).Warn("Channel aborted")
		c.failAllAndReset(err)
	})
}

// Close fails every outstanding call with ErrChannelClosed, releases the connection
// and stops the executors the channel created. Safe to call more than once.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	flushed := make(chan struct{})
	c.worker.Post(func() {
		c.failAllAndReset(ErrChannelClosed)
		if c.ownListener != nil {
			c.ownListener.Stop()
		}
		close(flushed)
	})
	// A caller-supplied worker may be the goroutine running this Close.
	if c.ownWorker != nil {
		<-flushed
		c.ownWorker.Stop()
	}
	return nil
}

// State returns the last connection state published by the worker.
func (c *Channel) State() ConnectionState {
	return ConnectionState(c.stateView.Load())
}

// events forwards adapter completions onto the worker.
type events struct {
	c *Channel
}

var _ device.Events = events{}

func (e events) OnConnected(err error) {
	e.c.worker.Post(func() { e.c.onConnected(err) })
}

func (e events) OnServicesDiscovered(err error) {
	e.c.worker.Post(func() { e.c.onServicesDiscovered(err) })
}

func (e events) OnDisconnected(err error) {
	e.c.worker.Post(func() { e.c.onDisconnected(err) })
}

func (e events) OnCharacteristicRead(ch device.Characteristic, value []byte, err error) {
	e.c.worker.Post(func() { e.c.onReadWriteComplete(MethodRead, ch, value, err) })
}

func (e events) OnCharacteristicWrite(ch device.Characteristic, value []byte, err error) {
	e.c.worker.Post(func() { e.c.onReadWriteComplete(MethodWrite, ch, value, err) })
}

func (e events) OnDescriptorWrite(d device.Descriptor, value []byte, err error) {
	e.c.worker.Post(func() { e.c.onDescriptorWrite(d, value, err) })
}

func (e events) OnCharacteristicChanged(ch device.Characteristic, value []byte) {
	e.c.worker.Post(func() { e.c.onValueChanged(ch, value) })
}
