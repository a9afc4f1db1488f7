package codec

import (
	"bytes"
	"fmt"

	"github.com/srg/blerpc/pkg/rpc"
)

// Raw passes byte slices through unchanged. Requests may be []byte or string.
type Raw struct{}

var _ rpc.Codec = Raw{}

func (Raw) Encode(m *rpc.Method, request rpc.Message) ([]byte, error) {
	switch v := request.(type) {
	case []byte:
		return bytes.Clone(v), nil
	case string:
		return []byte(v), nil
	case nil:
		return nil, encodeError(m, fmt.Errorf("request is nil"))
	default:
		return nil, encodeError(m, fmt.Errorf("raw codec cannot encode %T", request))
	}
}

func (Raw) Decode(_ *rpc.Method, data []byte, _ rpc.Message) (rpc.Message, error) {
	return bytes.Clone(data), nil
}

// ByName returns the codec registered under name: "binary", "cbor" or "raw".
func ByName(name string) (rpc.Codec, error) {
	switch name {
	case "binary":
		return Binary{}, nil
	case "cbor":
		return CBOR{}, nil
	case "raw", "":
		return Raw{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q (supported: binary, cbor, raw)", name)
	}
}
