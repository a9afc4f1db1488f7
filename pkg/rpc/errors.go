package rpc

import "errors"

// Call failure kinds. Failures delivered through a CallController wrap one of these.
var (
	ErrUnsupportedMethodKind = errors.New("unsupported method kind")
	ErrMissingTarget         = errors.New("missing target")
	ErrPropertyUnsupported   = errors.New("property unsupported")
	ErrAdapterRejected       = errors.New("adapter rejected operation")
	ErrAdapterFailure        = errors.New("adapter operation failed")
)

// Fatal failure kinds. Each one fails every outstanding call and resets the connection.
var (
	ErrConnectFailed     = errors.New("could not connect")
	ErrDiscoveryFailed   = errors.New("services discovery failed")
	ErrUnsubscribeFailed = errors.New("unsubscribe failed")
	ErrConnectionLost    = errors.New("connection lost")
	ErrChannelClosed     = errors.New("channel closed")
)
