package rpc

import "reflect"

// Message is a request or response payload. Its concrete type is defined by the Codec.
type Message = any

// Callback receives the result of a call. On failure it receives the default
// instance of the response prototype and the controller reports Failed.
type Callback func(response Message)

// Codec converts messages to and from characteristic values.
type Codec interface {
	Encode(m *Method, request Message) ([]byte, error)
	// Decode builds a response of the prototype's type from data.
	Decode(m *Method, data []byte, prototype Message) (Message, error)
}

// DefaultInstance returns the zero value of the prototype's type. Pointer
// prototypes yield a pointer to a fresh zero value.
func DefaultInstance(prototype Message) Message {
	if prototype == nil {
		return nil
	}
	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface()
	}
	return reflect.Zero(t).Interface()
}
