package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blerpc/internal/device"
)

var propertyFlags = []struct {
	ble ble.Property
	dev device.Property
}{
	{ble.CharBroadcast, device.PropBroadcast},
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteNR},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
	{ble.CharSignedWrite, device.PropSignedWrite},
	{ble.CharExtended, device.PropExtended},
}

// NewProperties converts go-ble property bit flags to a device.Property mask.
func NewProperties(p ble.Property) device.Property {
	var props device.Property
	for _, f := range propertyFlags {
		if p&f.ble != 0 {
			props |= f.dev
		}
	}
	return props
}

// ToBLEProperty is the inverse of NewProperties.
func ToBLEProperty(p device.Property) ble.Property {
	var props ble.Property
	for _, f := range propertyFlags {
		if p.Has(f.dev) {
			props |= f.ble
		}
	}
	return props
}
