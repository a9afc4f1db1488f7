package testutils

import (
	"encoding/json"
	"fmt"

	blelib "github.com/go-ble/ble"
	"github.com/srg/blerpc/internal/device"
	goble "github.com/srg/blerpc/internal/device/go-ble"
	"github.com/srg/blerpc/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID        string   `json:"uuid"`
	Properties  string   `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value       []byte   `json:"value,omitempty"`
	Descriptors []string `json:"descriptors,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a peripheral profile once and renders it either as a
// go-ble profile behind a MockClient or as a FakeAdapter.
type PeripheralDeviceBuilder struct {
	profile DeviceProfileConfig
}

func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		profile: DeviceProfileConfig{
			Services: []ServiceConfig{},
		},
	}
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string, value []byte, descriptors ...string) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:        uuid,
		Properties:  properties,
		Value:       value,
		Descriptors: descriptors,
	})
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// GetServices returns the configured services
func (b *PeripheralDeviceBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}

func parseProperties(props string) device.Property {
	if props == "" {
		return device.PropRead | device.PropWrite | device.PropNotify
	}
	p, unknown := device.ParseProperty(props)
	if len(unknown) > 0 {
		panic(fmt.Sprintf("PeripheralDeviceBuilder: unknown properties %v", unknown))
	}
	return p
}

// BuildProfile renders the configuration as a go-ble profile.
// Notifiable characteristics get a CCCD with a non-zero handle.
func (b *PeripheralDeviceBuilder) BuildProfile() *blelib.Profile {
	profile := &blelib.Profile{}
	var handle uint16 = 1

	for _, svcConfig := range b.profile.Services {
		svc := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}

		for _, charConfig := range svcConfig.Characteristics {
			props := parseProperties(charConfig.Properties)
			char := &blelib.Characteristic{
				UUID:        blelib.MustParse(charConfig.UUID),
				Property:    goble.ToBLEProperty(props),
				Value:       charConfig.Value,
				Handle:      handle,
				ValueHandle: handle + 1,
			}
			handle += 2

			for _, d := range charConfig.Descriptors {
				char.Descriptors = append(char.Descriptors, &blelib.Descriptor{
					UUID:   blelib.MustParse(d),
					Handle: handle,
				})
				handle++
			}
			if props.Notifiable() || props.Has(device.PropIndicate) {
				cccd := &blelib.Descriptor{UUID: blelib.ClientCharacteristicConfigUUID, Handle: handle}
				handle++
				char.CCCD = cccd
				char.Descriptors = append(char.Descriptors, cccd)
			}
			svc.Characteristics = append(svc.Characteristics, char)
		}
		profile.Services = append(profile.Services, svc)
	}
	return profile
}

// BuildClient returns a MockClient serving the profile. Reads return the configured
// value, writes, subscriptions and cancellation succeed.
func (b *PeripheralDeviceBuilder) BuildClient() (*mocks.MockClient, *blelib.Profile) {
	profile := b.BuildProfile()
	client := mocks.NewMockClient()

	client.On("DiscoverProfile", true).Return(profile, nil)
	client.On("CancelConnection").Return(nil).Maybe()

	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			if char.Property&blelib.CharRead != 0 {
				client.On("ReadCharacteristic", char).Return(char.Value, nil).Maybe()
			} else {
				client.On("ReadCharacteristic", char).Return(nil, fmt.Errorf("characteristic does not support read")).Maybe()
			}
			client.On("WriteCharacteristic", char, mock.Anything, mock.Anything).Return(nil).Maybe()
			client.On("Subscribe", char, mock.Anything, mock.Anything).Return(nil).Maybe()
			client.On("Unsubscribe", char, mock.Anything).Return(nil).Maybe()
		}
	}
	return client, profile
}

// BuildAdapter renders the configuration as a FakeAdapter.
func (b *PeripheralDeviceBuilder) BuildAdapter(t TestingT) *FakeAdapter {
	var services []*FakeService
	for _, svcConfig := range b.profile.Services {
		var chars []*FakeCharacteristic
		for _, charConfig := range svcConfig.Characteristics {
			c := NewFakeCharacteristic(charConfig.UUID, parseProperties(charConfig.Properties), charConfig.Descriptors...)
			c.SetValue(charConfig.Value)
			chars = append(chars, c)
		}
		services = append(services, NewFakeService(svcConfig.UUID, chars...))
	}
	return NewFakeAdapter(t, services...)
}
