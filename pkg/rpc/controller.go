package rpc

import (
	"errors"
	"sync/atomic"
)

// Controller is the per-call state shared between the caller and the channel.
// The caller may request cancellation at any time; the channel only marks failure.
type Controller interface {
	IsCanceled() bool
	SetFailed(reason string)
	Failed() bool
	ErrorText() string
}

// errorSetter is implemented by controllers that keep the failure as an error value.
type errorSetter interface {
	SetError(err error)
}

// setFailure records err on ctrl, keeping the error value when the controller supports it.
func setFailure(ctrl Controller, err error) {
	if es, ok := ctrl.(errorSetter); ok {
		es.SetError(err)
		return
	}
	ctrl.SetFailed(err.Error())
}

type failure struct {
	err error
}

// CallController is a lock-free Controller safe for concurrent use.
type CallController struct {
	canceled atomic.Bool
	failure  atomic.Pointer[failure]
}

var _ Controller = (*CallController)(nil)

func NewCallController() *CallController {
	return &CallController{}
}

// StartCancel requests cooperative cancellation. It never interrupts an issued GATT operation.
func (c *CallController) StartCancel() {
	c.canceled.Store(true)
}

func (c *CallController) IsCanceled() bool {
	return c.canceled.Load()
}

func (c *CallController) SetFailed(reason string) {
	c.SetError(errors.New(reason))
}

// SetError marks the call failed with err. A nil err is ignored.
func (c *CallController) SetError(err error) {
	if err == nil {
		return
	}
	c.failure.Store(&failure{err: err})
}

func (c *CallController) Failed() bool {
	return c.failure.Load() != nil
}

func (c *CallController) ErrorText() string {
	if f := c.failure.Load(); f != nil {
		return f.err.Error()
	}
	return ""
}

// Err returns the failure, or nil if the call has not failed.
func (c *CallController) Err() error {
	if f := c.failure.Load(); f != nil {
		return f.err
	}
	return nil
}

// Reset clears cancellation and failure so the controller can be reused for a new call.
func (c *CallController) Reset() {
	c.canceled.Store(false)
	c.failure.Store(nil)
}
