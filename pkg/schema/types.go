package schema

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/srg/blerpc/pkg/rpc"
	"gopkg.in/yaml.v3"
)

// Type names a method payload type. Fixed-size types work with every codec;
// "string" and "any" need a self-describing codec such as CBOR.
type Type string

const (
	TypeBytes   Type = "bytes"
	TypeString  Type = "string"
	TypeBool    Type = "bool"
	TypeInt8    Type = "int8"
	TypeUint8   Type = "uint8"
	TypeInt16   Type = "int16"
	TypeUint16  Type = "uint16"
	TypeInt32   Type = "int32"
	TypeUint32  Type = "uint32"
	TypeInt64   Type = "int64"
	TypeUint64  Type = "uint64"
	TypeFloat32 Type = "float32"
	TypeFloat64 Type = "float64"
	TypeAny     Type = "any"
)

var prototypes = map[Type]rpc.Message{
	TypeBytes:   []byte(nil),
	TypeString:  "",
	TypeBool:    false,
	TypeInt8:    int8(0),
	TypeUint8:   uint8(0),
	TypeInt16:   int16(0),
	TypeUint16:  uint16(0),
	TypeInt32:   int32(0),
	TypeUint32:  uint32(0),
	TypeInt64:   int64(0),
	TypeUint64:  uint64(0),
	TypeFloat32: float32(0),
	TypeFloat64: float64(0),
	TypeAny:     nil,
}

func typeNames() []string {
	return []string{
		string(TypeBytes), string(TypeString), string(TypeBool),
		string(TypeInt8), string(TypeUint8), string(TypeInt16), string(TypeUint16),
		string(TypeInt32), string(TypeUint32), string(TypeInt64), string(TypeUint64),
		string(TypeFloat32), string(TypeFloat64), string(TypeAny),
	}
}

func (t Type) Valid() bool {
	_, ok := prototypes[t]
	return ok
}

// Prototype returns the response prototype handed to the channel for this type.
func (t Type) Prototype() rpc.Message {
	return prototypes[t]
}

// Parse converts command-line text into a request of this type.
// Bytes are hex, optionally "0x" prefixed and separated by spaces or colons.
// "any" accepts YAML or JSON.
func (t Type) Parse(text string) (rpc.Message, error) {
	text = strings.TrimSpace(text)
	switch t {
	case TypeBytes:
		return parseHex(text)
	case TypeString:
		return text, nil
	case TypeBool:
		return strconv.ParseBool(text)
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return parseInt(t, text)
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		return parseUint(t, text)
	case TypeFloat32:
		v, err := strconv.ParseFloat(text, 32)
		return float32(v), err
	case TypeFloat64:
		return strconv.ParseFloat(text, 64)
	case TypeAny:
		var v any
		if err := yaml.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("invalid structured payload: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown payload type %q", t)
	}
}

func parseHex(text string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(text)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload %q: %w", text, err)
	}
	return b, nil
}

func parseInt(t Type, text string) (rpc.Message, error) {
	bits := map[Type]int{TypeInt8: 8, TypeInt16: 16, TypeInt32: 32, TypeInt64: 64}[t]
	v, err := strconv.ParseInt(text, 0, bits)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeInt8:
		return int8(v), nil
	case TypeInt16:
		return int16(v), nil
	case TypeInt32:
		return int32(v), nil
	default:
		return v, nil
	}
}

func parseUint(t Type, text string) (rpc.Message, error) {
	bits := map[Type]int{TypeUint8: 8, TypeUint16: 16, TypeUint32: 32, TypeUint64: 64}[t]
	v, err := strconv.ParseUint(text, 0, bits)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeUint8:
		return uint8(v), nil
	case TypeUint16:
		return uint16(v), nil
	case TypeUint32:
		return uint32(v), nil
	default:
		return v, nil
	}
}
