package goble

import (
	"sort"

	"github.com/go-ble/ble"
	"github.com/srg/blerpc/internal/device"
)

// ----------------------------
// BLE Service
// ----------------------------

// BLEService represents a discovered GATT service and its characteristics
type BLEService struct {
	uuid            string
	Characteristics map[string]*BLECharacteristic
}

func newService(s *ble.Service) *BLEService {
	svc := &BLEService{
		uuid:            device.NormalizeUUID(s.UUID.String()),
		Characteristics: make(map[string]*BLECharacteristic, len(s.Characteristics)),
	}
	for _, c := range s.Characteristics {
		char := newCharacteristic(svc.uuid, c)
		svc.Characteristics[char.uuid] = char
	}
	return svc
}

func (s *BLEService) UUID() string {
	return s.uuid
}

// Characteristic looks up a characteristic by UUID in any accepted form.
func (s *BLEService) Characteristic(uuid string) (device.Characteristic, bool) {
	c, ok := s.Characteristics[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, false
	}
	return c, true
}

// CharacteristicUUIDs returns the characteristic UUIDs sorted for consistent ordering.
func (s *BLEService) CharacteristicUUIDs() []string {
	result := make([]string, 0, len(s.Characteristics))
	for uuid := range s.Characteristics {
		result = append(result, uuid)
	}
	sort.Strings(result)
	return result
}
