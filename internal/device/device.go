package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	// For BLE hierarchy: characteristic is in service, descriptor is in characteristic
	parentResource := "service"
	parent := e.UUIDs[0]
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
		parent = e.UUIDs[len(e.UUIDs)-2]
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, parent)
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff}
)

// Operation errors
var (
	// ErrBusy is returned when a GATT operation is requested while another one is outstanding.
	ErrBusy        = errors.New("gatt operation already in progress")
	ErrUnsupported = errors.New("unsupported")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// EnableNotificationValue and DisableNotificationValue are the Client Characteristic
// Configuration values written to turn notifications on and off.
var (
	EnableNotificationValue  = []byte{0x01, 0x00}
	DisableNotificationValue = []byte{0x00, 0x00}
)

// ClientCharacteristicConfigUUID is the normalized UUID of the CCCD descriptor.
const ClientCharacteristicConfigUUID = "2902"

// Events receives asynchronous completions from an Adapter.
// Implementations must not block: the adapter may call them from its own goroutines.
type Events interface {
	OnConnected(err error)
	OnServicesDiscovered(err error)
	OnDisconnected(err error)
	OnCharacteristicRead(c Characteristic, value []byte, err error)
	OnCharacteristicWrite(c Characteristic, value []byte, err error)
	OnDescriptorWrite(d Descriptor, value []byte, err error)
	OnCharacteristicChanged(c Characteristic, value []byte)
}

// Adapter is the platform GATT driver for a single peripheral connection.
//
// Methods returning an error accept or reject the request immediately; an accepted
// request completes later through Events. At most one of Read, Write and
// WriteDescriptor may be outstanding at a time.
type Adapter interface {
	Connect(address string, events Events) error
	DiscoverServices() error
	Service(uuid string) (Service, bool)

	Read(c Characteristic) error
	Write(c Characteristic, value []byte) error
	WriteDescriptor(d Descriptor, value []byte) error
	SetNotify(c Characteristic, enable bool) error

	// Close releases the physical connection. Safe to call more than once.
	Close() error
}

// Service represents a discovered GATT service
type Service interface {
	UUID() string
	Characteristic(uuid string) (Characteristic, bool)
}

// Characteristic represents a discovered GATT characteristic
type Characteristic interface {
	UUID() string
	Properties() Property
	Descriptor(uuid string) (Descriptor, bool)
}

// Descriptor represents a discovered GATT descriptor
type Descriptor interface {
	UUID() string
	Characteristic() Characteristic
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// NormalizeError maps well-known driver error strings to structured ConnectionError types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}
