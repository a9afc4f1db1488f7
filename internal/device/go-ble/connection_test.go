package goble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/srg/blerpc/internal/device"
	goble "github.com/srg/blerpc/internal/device/go-ble"
	"github.com/srg/blerpc/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type event struct {
	name  string
	uuid  string
	value []byte
	err   error
}

// recordingEvents forwards every adapter callback to a channel.
type recordingEvents struct {
	ch chan event
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{ch: make(chan event, 64)}
}

func (r *recordingEvents) OnConnected(err error) { r.ch <- event{name: "connected", err: err} }

func (r *recordingEvents) OnServicesDiscovered(err error) {
	r.ch <- event{name: "discovered", err: err}
}

func (r *recordingEvents) OnDisconnected(err error) { r.ch <- event{name: "disconnected", err: err} }

func (r *recordingEvents) OnCharacteristicRead(c device.Characteristic, v []byte, err error) {
	r.ch <- event{name: "read", uuid: c.UUID(), value: v, err: err}
}

func (r *recordingEvents) OnCharacteristicWrite(c device.Characteristic, v []byte, err error) {
	r.ch <- event{name: "write", uuid: c.UUID(), value: v, err: err}
}

func (r *recordingEvents) OnDescriptorWrite(d device.Descriptor, v []byte, err error) {
	r.ch <- event{name: "descriptor", uuid: d.Characteristic().UUID() + "/" + d.UUID(), value: v, err: err}
}

func (r *recordingEvents) OnCharacteristicChanged(c device.Characteristic, v []byte) {
	r.ch <- event{name: "changed", uuid: c.UUID(), value: v}
}

// ConnectionTestSuite drives BLEConnection against a mocked go-ble client.
//
// GOAL: Verify the go-ble adapter turns blocking driver calls into asynchronous
// device.Events, enforces a single outstanding operation and drops stale completions.
//
// TEST SCENARIO: Dial the mocked peripheral → discover → read/write/subscribe → close
type ConnectionTestSuite struct {
	testutils.MockBLEPeripheralSuite

	conn   *goble.BLEConnection
	events *recordingEvents
}

func (s *ConnectionTestSuite) SetupTest() {
	s.WithPeripheral().FromJSON(`{
		"services": [
			{
				"uuid": "180F",
				"characteristics": [
					{ "uuid": "2A19", "properties": "read,notify", "value": [50] },
					{ "uuid": "2A1A", "properties": "wnr", "value": [] },
					{ "uuid": "2A1B", "properties": "read,write", "value": [7], "descriptors": ["2901"] }
				]
			}
		]
	}`)
	s.MockBLEPeripheralSuite.SetupTest()

	s.conn = goble.NewBLEConnection(s.Logger, nil)
	s.events = newRecordingEvents()
}

func (s *ConnectionTestSuite) TearDownTest() {
	_ = s.conn.Close()
	s.MockBLEPeripheralSuite.TearDownTest()
}

func (s *ConnectionTestSuite) next(name string) event {
	select {
	case ev := <-s.events.ch:
		s.Require().Equal(name, ev.name, "unexpected event %+v", ev)
		return ev
	case <-time.After(s.TestTimeout):
		s.FailNow("timed out waiting for " + name)
		return event{}
	}
}

func (s *ConnectionTestSuite) connect() {
	s.Require().NoError(s.conn.Connect("AA:BB:CC:DD:EE:FF", s.events))
	s.Require().NoError(s.next("connected").err)
	s.Require().NoError(s.conn.DiscoverServices())
	s.Require().NoError(s.next("discovered").err)
}

func (s *ConnectionTestSuite) characteristic(uuid string) device.Characteristic {
	svc, ok := s.conn.Service("180f")
	s.Require().True(ok)
	c, ok := svc.Characteristic(uuid)
	s.Require().True(ok, "characteristic %s", uuid)
	return c
}

func (s *ConnectionTestSuite) TestConnectAndDiscover() {
	s.connect()

	s.Equal([]string{"AA:BB:CC:DD:EE:FF"}, s.DialedAddresses)

	svc, ok := s.conn.Service("0000180F-0000-1000-8000-00805F9B34FB")
	s.Require().True(ok, "full-form UUID must resolve to the short service")
	c, ok := svc.Characteristic("0x2A19")
	s.Require().True(ok)
	s.Equal(device.PropRead|device.PropNotify, c.Properties())

	_, ok = c.Descriptor("2902")
	s.True(ok, "notifiable characteristic exposes a CCCD")
}

func (s *ConnectionTestSuite) TestConnectValidation() {
	s.Error(s.conn.Connect("  ", s.events))
	s.Error(s.conn.Connect("AA", nil))

	s.connect()
	s.ErrorIs(s.conn.Connect("AA:BB:CC:DD:EE:FF", s.events), device.ErrAlreadyConnected)
}

func (s *ConnectionTestSuite) TestDialFailureReportsConnected() {
	goble.Dialer = func(context.Context, string) (goble.Client, error) {
		return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
	}

	s.Require().NoError(s.conn.Connect("AA:BB:CC:DD:EE:FF", s.events))
	ev := s.next("connected")
	s.ErrorIs(ev.err, device.ErrBluetoothOff)

	s.ErrorIs(s.conn.DiscoverServices(), device.ErrNotConnected)
}

func (s *ConnectionTestSuite) TestOperationsRequireConnection() {
	s.ErrorIs(s.conn.DiscoverServices(), device.ErrNotConnected)
	_, ok := s.conn.Service("180f")
	s.False(ok)
}

func (s *ConnectionTestSuite) TestRead() {
	s.connect()

	s.Require().NoError(s.conn.Read(s.characteristic("2a19")))
	ev := s.next("read")
	s.NoError(ev.err)
	s.Equal("2a19", ev.uuid)
	s.Equal([]byte{50}, ev.value)
}

func (s *ConnectionTestSuite) TestReadFailure() {
	s.connect()

	s.Require().NoError(s.conn.Read(s.characteristic("2a1a")))
	ev := s.next("read")
	s.Error(ev.err)
	s.Contains(ev.err.Error(), "failed to read characteristic 2a1a")
}

func (s *ConnectionTestSuite) TestSingleOutstandingOperation() {
	s.connect()

	release := make(chan struct{})
	char := s.Characteristic("2A1B")
	s.Client.ExpectedCalls = removeCalls(s.Client.ExpectedCalls, "ReadCharacteristic", char)
	s.Client.On("ReadCharacteristic", char).Run(func(mock.Arguments) { <-release }).Return([]byte{7}, nil).Once()

	c := s.characteristic("2a1b")
	s.Require().NoError(s.conn.Read(c))
	s.ErrorIs(s.conn.Read(c), device.ErrBusy)
	s.ErrorIs(s.conn.Write(c, []byte{1}), device.ErrBusy)

	close(release)
	s.Equal([]byte{7}, s.next("read").value)

	s.Require().NoError(s.conn.Write(c, []byte{1}))
	s.NoError(s.next("write").err)
}

func (s *ConnectionTestSuite) TestWriteUsesResponseOnlyWhenSupported() {
	s.connect()

	s.Require().NoError(s.conn.Write(s.characteristic("2a1b"), []byte{9}))
	ev := s.next("write")
	s.NoError(ev.err)
	s.Equal([]byte{9}, ev.value)
	s.Client.AssertCalled(s.T(), "WriteCharacteristic", s.Characteristic("2A1B"), []byte{9}, false)

	s.Require().NoError(s.conn.Write(s.characteristic("2a1a"), []byte{1, 2}))
	s.NoError(s.next("write").err)
	s.Client.AssertCalled(s.T(), "WriteCharacteristic", s.Characteristic("2A1A"), []byte{1, 2}, true)
}

func (s *ConnectionTestSuite) TestWriteReadBack() {
	s.conn = goble.NewBLEConnection(s.Logger, &goble.Options{ConnectTimeout: time.Second, ReadBackWrites: true})
	s.connect()

	s.Require().NoError(s.conn.Write(s.characteristic("2a1b"), []byte{9}))
	ev := s.next("write")
	s.NoError(ev.err)
	s.Equal([]byte{7}, ev.value, "response is the value read back")
}

func (s *ConnectionTestSuite) TestSubscribeAndNotify() {
	s.connect()

	var handler blelib.NotificationHandler
	char := s.Characteristic("2A19")
	s.Client.ExpectedCalls = removeCalls(s.Client.ExpectedCalls, "Subscribe", char)
	s.Client.On("Subscribe", char, false, mock.Anything).
		Run(func(args mock.Arguments) { handler = args.Get(2).(blelib.NotificationHandler) }).
		Return(nil).Once()

	c := s.characteristic("2a19")
	cccd, ok := c.Descriptor("2902")
	s.Require().True(ok)

	s.Require().NoError(s.conn.SetNotify(c, true))
	s.Require().NoError(s.conn.WriteDescriptor(cccd, device.EnableNotificationValue))
	ev := s.next("descriptor")
	s.NoError(ev.err)
	s.Equal("2a19/2902", ev.uuid)
	s.Equal(device.EnableNotificationValue, ev.value)

	s.Require().NotNil(handler)
	handler([]byte{42})
	changed := s.next("changed")
	s.Equal("2a19", changed.uuid)
	s.Equal([]byte{42}, changed.value)

	// Local delivery off: go-ble keeps calling the handler, nothing is reported.
	s.Require().NoError(s.conn.SetNotify(c, false))
	handler([]byte{43})

	s.Require().NoError(s.conn.WriteDescriptor(cccd, device.DisableNotificationValue))
	s.NoError(s.next("descriptor").err)
	s.Client.AssertCalled(s.T(), "Unsubscribe", char, false)
	s.Empty(s.events.ch)
}

func (s *ConnectionTestSuite) TestPlainDescriptorWrite() {
	s.connect()

	char := s.Characteristic("2A1B")
	var userDesc *blelib.Descriptor
	for _, d := range char.Descriptors {
		if d.UUID.Equal(blelib.MustParse("2901")) {
			userDesc = d
		}
	}
	s.Require().NotNil(userDesc)
	s.Client.On("WriteDescriptor", userDesc, []byte("hi")).Return(nil).Once()

	d, ok := s.characteristic("2a1b").Descriptor("2901")
	s.Require().True(ok)
	s.Require().NoError(s.conn.WriteDescriptor(d, []byte("hi")))
	s.NoError(s.next("descriptor").err)
}

func (s *ConnectionTestSuite) TestPeripheralDisconnect() {
	s.connect()

	s.Client.Disconnect()
	ev := s.next("disconnected")
	s.ErrorIs(ev.err, device.ErrNotConnected)
}

func (s *ConnectionTestSuite) TestCloseDropsLateCompletion() {
	s.connect()

	release := make(chan struct{})
	char := s.Characteristic("2A19")
	s.Client.ExpectedCalls = removeCalls(s.Client.ExpectedCalls, "ReadCharacteristic", char)
	s.Client.On("ReadCharacteristic", char).Run(func(mock.Arguments) { <-release }).Return([]byte{1}, nil).Once()

	s.Require().NoError(s.conn.Read(s.characteristic("2a19")))
	s.Require().NoError(s.conn.Close())
	close(release)

	s.Never(func() bool { return len(s.events.ch) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	s.Client.AssertCalled(s.T(), "CancelConnection")

	_, ok := s.conn.Service("180f")
	s.False(ok, "discovered services are forgotten on close")
	s.NoError(s.conn.Close(), "close is idempotent")
}

func (s *ConnectionTestSuite) TestCloseDropsStaleDiscovery() {
	release := make(chan struct{})
	s.Client.ExpectedCalls = withoutMethod(s.Client.ExpectedCalls, "DiscoverProfile")
	s.Client.On("DiscoverProfile", true).Run(func(mock.Arguments) { <-release }).Return(s.Profile, nil).Once()
	s.Client.On("DiscoverProfile", true).Return(s.Profile, nil)

	s.Require().NoError(s.conn.Connect("AA:BB:CC:DD:EE:FF", s.events))
	s.Require().NoError(s.next("connected").err)
	s.Require().NoError(s.conn.DiscoverServices())
	s.Require().NoError(s.conn.Close())
	close(release)

	s.Never(func() bool { return len(s.events.ch) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	_, ok := s.conn.Service("180f")
	s.False(ok, "a discovery finishing after close MUST NOT populate services")

	s.connect()
	_, ok = s.conn.Service("180f")
	s.True(ok)
}

func (s *ConnectionTestSuite) TestStaleCompletionKeepsNewSessionBusy() {
	s.connect()

	staleRelease := make(chan struct{})
	stale := s.Characteristic("2A19")
	s.Client.ExpectedCalls = removeCalls(s.Client.ExpectedCalls, "ReadCharacteristic", stale)
	s.Client.On("ReadCharacteristic", stale).Run(func(mock.Arguments) { <-staleRelease }).Return([]byte{1}, nil).Once()

	s.Require().NoError(s.conn.Read(s.characteristic("2a19")))
	s.Require().NoError(s.conn.Close())
	s.connect()

	release := make(chan struct{})
	char := s.Characteristic("2A1B")
	s.Client.ExpectedCalls = removeCalls(s.Client.ExpectedCalls, "ReadCharacteristic", char)
	s.Client.On("ReadCharacteristic", char).Run(func(mock.Arguments) { <-release }).Return([]byte{7}, nil).Once()

	c := s.characteristic("2a1b")
	s.Require().NoError(s.conn.Read(c))

	close(staleRelease)
	s.Never(func() bool { return len(s.events.ch) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	s.ErrorIs(s.conn.Write(c, []byte{1}), device.ErrBusy, "an old session MUST NOT free the current operation slot")

	close(release)
	s.Equal([]byte{7}, s.next("read").value)
}

func (s *ConnectionTestSuite) TestCloseUnsubscribesNotifying() {
	s.connect()

	c := s.characteristic("2a19")
	s.Require().NoError(s.conn.SetNotify(c, true))
	s.Require().NoError(s.conn.Close())

	s.Client.AssertCalled(s.T(), "Unsubscribe", s.Characteristic("2A19"), false)
}

func (s *ConnectionTestSuite) TestReconnectAfterClose() {
	s.connect()
	s.Require().NoError(s.conn.Close())

	s.connect()
	s.Len(s.DialedAddresses, 2)
}

// removeCalls drops the builder's default expectation for method on char.
func removeCalls(calls []*mock.Call, method string, char *blelib.Characteristic) []*mock.Call {
	kept := calls[:0]
	for _, c := range calls {
		if c.Method == method && len(c.Arguments) > 0 && c.Arguments[0] == char {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// withoutMethod drops every expectation registered for method.
func withoutMethod(calls []*mock.Call, method string) []*mock.Call {
	kept := calls[:0]
	for _, c := range calls {
		if c.Method != method {
			kept = append(kept, c)
		}
	}
	return kept
}

func TestConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionTestSuite))
}
