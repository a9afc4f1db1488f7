package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/srg/blerpc/pkg/rpc"
)

// encMode is configured for deterministic output.
var encMode cbor.EncMode

// decMode is lenient for forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// CBOR encodes messages as CBOR. A nil response prototype decodes into generic values.
type CBOR struct{}

var _ rpc.Codec = CBOR{}

func (CBOR) Encode(m *rpc.Method, request rpc.Message) ([]byte, error) {
	data, err := encMode.Marshal(request)
	if err != nil {
		return nil, encodeError(m, err)
	}
	return data, nil
}

func (CBOR) Decode(m *rpc.Method, data []byte, prototype rpc.Message) (rpc.Message, error) {
	if prototype == nil {
		var v any
		if err := decMode.Unmarshal(data, &v); err != nil {
			return nil, decodeError(m, err)
		}
		return v, nil
	}

	target := reflect.New(elemType(prototype))
	if err := decMode.Unmarshal(data, target.Interface()); err != nil {
		return nil, decodeError(m, err)
	}
	return shaped(prototype, target), nil
}
