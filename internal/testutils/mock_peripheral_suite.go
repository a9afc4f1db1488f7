package testutils

import (
	"context"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	goble "github.com/srg/blerpc/internal/device/go-ble"
	"github.com/srg/blerpc/internal/testutils/mocks"
	"github.com/stretchr/testify/suite"
)

// MockBLEPeripheralSuite provides a reusable test suite with a mocked BLE peripheral.
//
// Before each test the configured peripheral is rendered as a MockClient that the
// go-ble dialer returns, and as a FakeAdapter for tests that drive the device.Adapter
// contract directly.
//
// Custom device profile usage:
//
//	func (s *ChannelSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("180D").
//	        WithCharacteristic("2A37", "read,notify", []byte{80})
//
//	    s.MockBLEPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	TestTimeout time.Duration

	PeripheralBuilder *PeripheralDeviceBuilder

	// Rendered per test from PeripheralBuilder
	Client  *mocks.MockClient
	Profile *blelib.Profile
	Adapter *FakeAdapter

	// Dial attempts seen by the overridden go-ble dialer
	DialedAddresses []string

	originalDialer func(ctx context.Context, address string) (goble.Client, error)
}

func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
}

// SetupTest renders the peripheral and installs the mocked dialer.
func (s *MockBLEPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = createDefaultPeripheralBuilder()
	}

	s.Client, s.Profile = s.PeripheralBuilder.BuildClient()
	s.Adapter = s.PeripheralBuilder.BuildAdapter(s.T())
	s.DialedAddresses = nil

	s.originalDialer = goble.Dialer
	goble.Dialer = func(_ context.Context, address string) (goble.Client, error) {
		s.DialedAddresses = append(s.DialedAddresses, address)
		return s.Client, nil
	}

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest restores the dialer and resets the peripheral builder.
func (s *MockBLEPeripheralSuite) TearDownTest() {
	if s.originalDialer != nil {
		goble.Dialer = s.originalDialer
		s.originalDialer = nil
	}
	s.PeripheralBuilder = nil
}

// WithPeripheral returns the peripheral builder for fluent configuration.
func (s *MockBLEPeripheralSuite) WithPeripheral() *PeripheralDeviceBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralDeviceBuilder()
	}
	return s.PeripheralBuilder
}

// Characteristic returns the go-ble characteristic with the given UUID from the rendered profile.
func (s *MockBLEPeripheralSuite) Characteristic(uuid string) *blelib.Characteristic {
	want := blelib.MustParse(uuid)
	for _, svc := range s.Profile.Services {
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(want) {
				return c
			}
		}
	}
	s.FailNowf("characteristic not found", "no characteristic %s in the mocked profile", uuid)
	return nil
}

// createDefaultPeripheralBuilder creates a peripheral with the Battery Service (180F)
// and a Battery Level characteristic (2A19) set to 50%.
func createDefaultPeripheralBuilder() *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder().
		FromJSON(`
		{
			"services": [
				{
					"uuid": "180F",
					"characteristics": [
						{ "uuid": "2A19", "properties": "read,notify", "value": [50] }
					]
				}
			]
		}`)
}
