package goble

import (
	"sort"

	"github.com/go-ble/ble"
	"github.com/srg/blerpc/internal/device"
)

// ----------------------------
// BLE Characteristic
// ----------------------------

// BLECharacteristic wraps a go-ble characteristic discovered on the current connection.
type BLECharacteristic struct {
	key         string // "<service>/<characteristic>", unique per connection
	uuid        string
	props       device.Property
	BLEChar     *ble.Characteristic
	descriptors map[string]*BLEDescriptor
}

func newCharacteristic(serviceUUID string, c *ble.Characteristic) *BLECharacteristic {
	char := &BLECharacteristic{
		uuid:        device.NormalizeUUID(c.UUID.String()),
		props:       NewProperties(c.Property),
		BLEChar:     c,
		descriptors: make(map[string]*BLEDescriptor, len(c.Descriptors)+1),
	}
	char.key = serviceUUID + "/" + char.uuid

	for _, d := range c.Descriptors {
		desc := newDescriptor(char, d)
		char.descriptors[desc.uuid] = desc
	}
	if c.CCCD != nil {
		desc := newDescriptor(char, c.CCCD)
		char.descriptors[desc.uuid] = desc
	}

	// Some platforms (CoreBluetooth) manage the CCCD themselves and never report it.
	// Notification enable/disable still goes through Subscribe/Unsubscribe, so expose
	// a handle-less descriptor for any characteristic that can notify or indicate.
	if _, ok := char.descriptors[device.ClientCharacteristicConfigUUID]; !ok &&
		char.props&(device.PropNotify|device.PropIndicate) != 0 {
		char.descriptors[device.ClientCharacteristicConfigUUID] = &BLEDescriptor{
			uuid: device.ClientCharacteristicConfigUUID,
			char: char,
		}
	}
	return char
}

func (c *BLECharacteristic) UUID() string {
	return c.uuid
}

func (c *BLECharacteristic) Properties() device.Property {
	return c.props
}

// Descriptor looks up a descriptor by UUID in any accepted form.
func (c *BLECharacteristic) Descriptor(uuid string) (device.Descriptor, bool) {
	d, ok := c.descriptors[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, false
	}
	return d, true
}

// DescriptorUUIDs returns the descriptor UUIDs sorted for consistent ordering.
func (c *BLECharacteristic) DescriptorUUIDs() []string {
	result := make([]string, 0, len(c.descriptors))
	for uuid := range c.descriptors {
		result = append(result, uuid)
	}
	sort.Strings(result)
	return result
}

// indicate reports whether subscriptions must use indications (no notify support).
func (c *BLECharacteristic) indicate() bool {
	return !c.props.Has(device.PropNotify) && c.props.Has(device.PropIndicate)
}
