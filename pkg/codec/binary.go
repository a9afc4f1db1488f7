package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/srg/blerpc/pkg/rpc"
)

// Binary encodes fixed-size values (structs of sized integers, floats, bools and
// arrays of those) in big-endian order. Decoded data must match the prototype size exactly.
type Binary struct {
	// Order defaults to big-endian when nil.
	Order binary.ByteOrder
}

var _ rpc.Codec = Binary{}

func (c Binary) order() binary.ByteOrder {
	if c.Order == nil {
		return binary.BigEndian
	}
	return c.Order
}

func (c Binary) Encode(m *rpc.Method, request rpc.Message) ([]byte, error) {
	if request == nil {
		return nil, encodeError(m, fmt.Errorf("request is nil"))
	}
	if b, ok := request.([]byte); ok {
		return bytes.Clone(b), nil
	}
	if binary.Size(request) < 0 {
		return nil, encodeError(m, fmt.Errorf("type %T has no fixed binary layout", request))
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, c.order(), request); err != nil {
		return nil, encodeError(m, err)
	}
	return buf.Bytes(), nil
}

func (c Binary) Decode(m *rpc.Method, data []byte, prototype rpc.Message) (rpc.Message, error) {
	if prototype == nil {
		return nil, decodeError(m, fmt.Errorf("response prototype is nil"))
	}
	if _, ok := prototype.([]byte); ok {
		return bytes.Clone(data), nil
	}

	target := reflect.New(elemType(prototype))
	size := binary.Size(target.Interface())
	if size < 0 {
		return nil, decodeError(m, fmt.Errorf("type %T has no fixed binary layout", prototype))
	}
	if len(data) != size {
		return nil, decodeError(m, fmt.Errorf("expected %d bytes, got %d", size, len(data)))
	}
	if err := settable(target.Type().Elem()); err != nil {
		return nil, decodeError(m, err)
	}
	if err := binary.Read(bytes.NewReader(data), c.order(), target.Interface()); err != nil {
		return nil, decodeError(m, err)
	}
	return shaped(prototype, target), nil
}

// elemType is the value type behind a prototype, dereferencing one pointer level.
func elemType(prototype rpc.Message) reflect.Type {
	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

// settable rejects types binary.Read cannot fill: it panics on unexported
// struct fields other than blank ones.
func settable(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Array, reflect.Slice:
		return settable(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Name == "_" {
				continue
			}
			if !f.IsExported() {
				return fmt.Errorf("type %s has unexported field %s", t, f.Name)
			}
			if err := settable(f.Type); err != nil {
				return err
			}
		}
	}
	return nil
}

// shaped returns target (a pointer) in the same shape as prototype.
func shaped(prototype rpc.Message, target reflect.Value) rpc.Message {
	if reflect.TypeOf(prototype).Kind() == reflect.Pointer {
		return target.Interface()
	}
	return target.Elem().Interface()
}
