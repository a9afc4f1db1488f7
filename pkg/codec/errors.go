package codec

import (
	"fmt"

	"github.com/srg/blerpc/pkg/rpc"
)

// Direction of a failed conversion.
type Direction string

const (
	Encoding Direction = "encode"
	Decoding Direction = "decode"
)

// ConversionError reports a payload that could not be converted for a method.
type ConversionError struct {
	Method    string
	Direction Direction
	Err       error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("could not %s message for %s: %v", e.Direction, e.Method, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func encodeError(m *rpc.Method, err error) error {
	return &ConversionError{Method: m.FullName(), Direction: Encoding, Err: err}
}

func decodeError(m *rpc.Method, err error) error {
	return &ConversionError{Method: m.FullName(), Direction: Decoding, Err: err}
}
