package rpc

import (
	"fmt"
	"strings"
)

// MethodKind selects the GATT operation a Method maps to.
type MethodKind int

const (
	MethodUnknown MethodKind = iota
	MethodRead
	MethodWrite
	MethodSubscribe
)

func (k MethodKind) String() string {
	switch k {
	case MethodRead:
		return "read"
	case MethodWrite:
		return "write"
	case MethodSubscribe:
		return "subscribe"
	case MethodUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("MethodKind(%d)", int(k))
	}
}

// Supported reports whether the channel can dispatch calls of this kind.
func (k MethodKind) Supported() bool {
	return k == MethodRead || k == MethodWrite || k == MethodSubscribe
}

// ParseMethodKind parses "read", "write" or "subscribe", case-insensitive.
func ParseMethodKind(s string) (MethodKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return MethodRead, nil
	case "write":
		return MethodWrite, nil
	case "subscribe", "notify":
		return MethodSubscribe, nil
	default:
		return MethodUnknown, fmt.Errorf("%w: %q", ErrUnsupportedMethodKind, s)
	}
}

// Method is the static metadata of one RPC method. UUIDs may be given in any
// form device.NormalizeUUID accepts. An empty Descriptor on a Subscribe method
// means the Client Characteristic Configuration descriptor.
type Method struct {
	Name           string
	ServiceName    string
	Service        string
	Characteristic string
	Descriptor     string
	Kind           MethodKind
}

// FullName returns "Service.Method", falling back to UUIDs for anonymous methods.
func (m *Method) FullName() string {
	svc := m.ServiceName
	if svc == "" {
		svc = m.Service
	}
	name := m.Name
	if name == "" {
		name = m.Characteristic
	}
	return svc + "." + name
}

func (m *Method) String() string {
	return fmt.Sprintf("%s(%s %s/%s)", m.FullName(), m.Kind, m.Service, m.Characteristic)
}
