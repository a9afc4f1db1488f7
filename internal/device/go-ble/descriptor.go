package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blerpc/internal/device"
)

// BLEDescriptor wraps a go-ble descriptor. BLEDesc is nil for a CCCD the platform manages itself.
type BLEDescriptor struct {
	uuid    string
	char    *BLECharacteristic
	BLEDesc *ble.Descriptor
}

func newDescriptor(char *BLECharacteristic, d *ble.Descriptor) *BLEDescriptor {
	return &BLEDescriptor{
		uuid:    device.NormalizeUUID(d.UUID.String()),
		char:    char,
		BLEDesc: d,
	}
}

func (d *BLEDescriptor) UUID() string {
	return d.uuid
}

func (d *BLEDescriptor) Characteristic() device.Characteristic {
	return d.char
}

func (d *BLEDescriptor) isCCCD() bool {
	return d.uuid == device.ClientCharacteristicConfigUUID
}
