package main

import (
	"errors"
	"fmt"

	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/pkg/codec"
	"github.com/srg/blerpc/pkg/rpc"
)

// Command-level errors
var (
	// ErrNoSchema indicates a command needs service definitions but none were configured.
	ErrNoSchema = errors.New("no service definitions: pass --schema or set schema in the config file")

	// ErrNoAddress indicates a command needs a device but no address was configured.
	ErrNoAddress = errors.New("no device address: pass --address or set address in the config file")
)

// FormatUserError turns command errors into a one-line message with a hint where one helps.
func FormatUserError(err error) string {
	var notFound *device.NotFoundError
	var conversion *codec.ConversionError

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; enable it and try again"
	case errors.As(err, &notFound):
		return fmt.Sprintf("%s (check the service definitions against the device)", err)
	case errors.As(err, &conversion):
		return fmt.Sprintf("%s (check the method payload types and --codec)", err)
	case errors.Is(err, rpc.ErrConnectFailed):
		return fmt.Sprintf("%s (is the device powered and in range?)", err)
	case errors.Is(err, rpc.ErrConnectionLost):
		return fmt.Sprintf("%s (the device disconnected during the call)", err)
	default:
		return err.Error()
	}
}
