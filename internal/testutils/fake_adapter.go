package testutils

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/srg/blerpc/internal/device"
)

// OpKind identifies an adapter operation recorded by FakeAdapter.
type OpKind string

const (
	OpConnect         OpKind = "connect"
	OpDiscover        OpKind = "discover"
	OpRead            OpKind = "read"
	OpWrite           OpKind = "write"
	OpWriteDescriptor OpKind = "write-descriptor"

	// OpSetNotify is only used with RejectNext; SetNotify is synchronous.
	OpSetNotify OpKind = "set-notify"
)

// Op is one accepted asynchronous adapter operation.
type Op struct {
	Kind           OpKind
	Characteristic *FakeCharacteristic
	Descriptor     *FakeDescriptor
	Value          []byte
}

func (o Op) String() string {
	switch {
	case o.Descriptor != nil:
		return fmt.Sprintf("%s %s/%s %x", o.Kind, o.Descriptor.char.uuid, o.Descriptor.uuid, o.Value)
	case o.Characteristic != nil:
		return fmt.Sprintf("%s %s %x", o.Kind, o.Characteristic.uuid, o.Value)
	default:
		return string(o.Kind)
	}
}

// TestingT is the subset of testing.T the fakes report through.
type TestingT interface {
	Errorf(format string, args ...interface{})
	Helper()
}

// FakeAdapter is a scriptable device.Adapter.
//
// Every accepted operation becomes the single pending operation until the test
// completes it with one of the Complete methods. Starting an operation while
// another one is pending is reported as a test error and rejected with device.ErrBusy.
// In auto mode operations complete immediately from the peripheral profile.
type FakeAdapter struct {
	t TestingT

	mu        sync.Mutex
	events    device.Events
	services  map[string]*FakeService
	pending   *Op
	history   []Op
	notify    map[string]bool
	reject    map[OpKind]error
	auto      bool
	completed map[OpKind]int
	connects  int
	closes    int
}

var _ device.Adapter = (*FakeAdapter)(nil)

// NewFakeAdapter creates a fake exposing the given services after discovery.
func NewFakeAdapter(t TestingT, services ...*FakeService) *FakeAdapter {
	a := &FakeAdapter{
		t:         t,
		services:  make(map[string]*FakeService, len(services)),
		notify:    make(map[string]bool),
		reject:    make(map[OpKind]error),
		completed: make(map[OpKind]int),
	}
	for _, s := range services {
		a.services[s.uuid] = s
	}
	return a
}

// AutoComplete makes every operation complete synchronously with success.
// Reads return the characteristic value; writes store and echo the written value.
func (a *FakeAdapter) AutoComplete() *FakeAdapter {
	a.mu.Lock()
	a.auto = true
	a.mu.Unlock()
	return a
}

// RejectNext makes the next operation of kind fail synchronously with err.
func (a *FakeAdapter) RejectNext(kind OpKind, err error) {
	a.mu.Lock()
	a.reject[kind] = err
	a.mu.Unlock()
}

func (a *FakeAdapter) Connect(address string, events device.Events) error {
	a.mu.Lock()
	a.events = events
	a.connects++
	a.mu.Unlock()
	return a.start(Op{Kind: OpConnect, Value: []byte(address)})
}

func (a *FakeAdapter) DiscoverServices() error {
	return a.start(Op{Kind: OpDiscover})
}

func (a *FakeAdapter) Service(uuid string) (device.Service, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.services[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, false
	}
	return s, true
}

func (a *FakeAdapter) Read(c device.Characteristic) error {
	return a.start(Op{Kind: OpRead, Characteristic: c.(*FakeCharacteristic)})
}

func (a *FakeAdapter) Write(c device.Characteristic, value []byte) error {
	return a.start(Op{Kind: OpWrite, Characteristic: c.(*FakeCharacteristic), Value: bytes.Clone(value)})
}

func (a *FakeAdapter) WriteDescriptor(d device.Descriptor, value []byte) error {
	desc := d.(*FakeDescriptor)
	return a.start(Op{Kind: OpWriteDescriptor, Characteristic: desc.char, Descriptor: desc, Value: bytes.Clone(value)})
}

func (a *FakeAdapter) SetNotify(c device.Characteristic, enable bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err, ok := a.reject[OpSetNotify]; ok {
		delete(a.reject, OpSetNotify)
		return err
	}
	a.notify[c.UUID()] = enable
	return nil
}

// Close drops the pending operation. Completions injected afterwards still reach
// the last Events, which lets tests exercise late completions.
func (a *FakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closes++
	a.pending = nil
	a.notify = make(map[string]bool)
	return nil
}

func (a *FakeAdapter) start(op Op) error {
	a.mu.Lock()
	if err, ok := a.reject[op.Kind]; ok {
		delete(a.reject, op.Kind)
		a.mu.Unlock()
		return err
	}
	if a.pending != nil {
		a.t.Helper()
		a.t.Errorf("adapter operation %s started while %s is outstanding", op, *a.pending)
		a.mu.Unlock()
		return device.ErrBusy
	}
	a.pending = &op
	a.history = append(a.history, op)
	auto := a.auto
	a.mu.Unlock()

	if auto {
		a.autoComplete(op)
	}
	return nil
}

func (a *FakeAdapter) autoComplete(op Op) {
	switch op.Kind {
	case OpConnect:
		a.CompleteConnect(nil)
	case OpDiscover:
		a.CompleteDiscovery(nil)
	case OpRead:
		a.CompleteRead(op.Characteristic.Value(), nil)
	case OpWrite:
		op.Characteristic.SetValue(op.Value)
		a.CompleteWrite(op.Value, nil)
	case OpWriteDescriptor:
		a.CompleteDescriptorWrite(nil)
	}
}

// take clears and returns the pending operation, which must be of the given kind.
func (a *FakeAdapter) take(kind OpKind) (Op, device.Events, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil || a.pending.Kind != kind {
		a.t.Helper()
		a.t.Errorf("no pending %s operation (pending: %v)", kind, a.pending)
		return Op{}, a.events, false
	}
	op := *a.pending
	a.pending = nil
	return op, a.events, true
}

func (a *FakeAdapter) CompleteConnect(err error) {
	if _, ev, ok := a.take(OpConnect); ok {
		ev.OnConnected(err)
		a.markCompleted(OpConnect)
	}
}

func (a *FakeAdapter) CompleteDiscovery(err error) {
	if _, ev, ok := a.take(OpDiscover); ok {
		ev.OnServicesDiscovered(err)
		a.markCompleted(OpDiscover)
	}
}

func (a *FakeAdapter) CompleteRead(value []byte, err error) {
	if op, ev, ok := a.take(OpRead); ok {
		ev.OnCharacteristicRead(op.Characteristic, value, err)
		a.markCompleted(OpRead)
	}
}

func (a *FakeAdapter) CompleteWrite(value []byte, err error) {
	if op, ev, ok := a.take(OpWrite); ok {
		ev.OnCharacteristicWrite(op.Characteristic, value, err)
		a.markCompleted(OpWrite)
	}
}

// CompleteDescriptorWrite reports the written value back, as platform drivers do.
func (a *FakeAdapter) CompleteDescriptorWrite(err error) {
	if op, ev, ok := a.take(OpWriteDescriptor); ok {
		ev.OnDescriptorWrite(op.Descriptor, op.Value, err)
		a.markCompleted(OpWriteDescriptor)
	}
}

func (a *FakeAdapter) markCompleted(kind OpKind) {
	a.mu.Lock()
	a.completed[kind]++
	a.mu.Unlock()
}

// Completions returns how many operations of kind have been reported to Events.
// A completion is counted after the Events callback returns.
func (a *FakeAdapter) Completions(kind OpKind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed[kind]
}

// Connected completes connect and discovery successfully.
func (a *FakeAdapter) Connected() {
	a.CompleteConnect(nil)
	a.CompleteDiscovery(nil)
}

// Notify reports a value change on the characteristic with the given UUID in any service.
// Nothing is reported before the first Connect.
func (a *FakeAdapter) Notify(characteristic string, value []byte) {
	c := a.characteristic(characteristic)
	if ev := a.Events(); ev != nil {
		ev.OnCharacteristicChanged(c, bytes.Clone(value))
	}
}

// Disconnect reports a link loss.
func (a *FakeAdapter) Disconnect(err error) {
	if ev := a.Events(); ev != nil {
		ev.OnDisconnected(err)
	}
}

// Events returns the sink passed to the last Connect.
func (a *FakeAdapter) Events() device.Events {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events
}

// Pending returns the outstanding operation, if any.
func (a *FakeAdapter) Pending() (Op, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return Op{}, false
	}
	return *a.pending, true
}

// History returns every accepted operation in order.
func (a *FakeAdapter) History() []Op {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Op(nil), a.history...)
}

// Count returns how many accepted operations had the given kind.
func (a *FakeAdapter) Count(kind OpKind) int {
	n := 0
	for _, op := range a.History() {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// NotifyEnabled reports the last SetNotify state for a characteristic UUID.
func (a *FakeAdapter) NotifyEnabled(characteristic string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.notify[device.NormalizeUUID(characteristic)]
}

func (a *FakeAdapter) Connects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

func (a *FakeAdapter) Closes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closes
}

func (a *FakeAdapter) characteristic(uuid string) *FakeCharacteristic {
	a.mu.Lock()
	defer a.mu.Unlock()
	norm := device.NormalizeUUID(uuid)
	keys := make([]string, 0, len(a.services))
	for k := range a.services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if c, ok := a.services[k].chars[norm]; ok {
			return c
		}
	}
	// Characteristics the profile does not know still produce events.
	return NewFakeCharacteristic(norm, device.PropNotify)
}

// ----------------------------
// Fake GATT entities
// ----------------------------

type FakeService struct {
	uuid  string
	chars map[string]*FakeCharacteristic
}

func NewFakeService(uuid string, chars ...*FakeCharacteristic) *FakeService {
	s := &FakeService{uuid: device.NormalizeUUID(uuid), chars: make(map[string]*FakeCharacteristic)}
	for _, c := range chars {
		s.chars[c.uuid] = c
	}
	return s
}

func (s *FakeService) UUID() string { return s.uuid }

func (s *FakeService) Characteristic(uuid string) (device.Characteristic, bool) {
	c, ok := s.chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, false
	}
	return c, true
}

type FakeCharacteristic struct {
	uuid  string
	props device.Property
	descs map[string]*FakeDescriptor

	mu    sync.Mutex
	value []byte
}

// NewFakeCharacteristic creates a characteristic. Notifiable ones get a CCCD.
func NewFakeCharacteristic(uuid string, props device.Property, descriptors ...string) *FakeCharacteristic {
	c := &FakeCharacteristic{uuid: device.NormalizeUUID(uuid), props: props, descs: make(map[string]*FakeDescriptor)}
	if props.Notifiable() {
		descriptors = append(descriptors, device.ClientCharacteristicConfigUUID)
	}
	for _, d := range descriptors {
		norm := device.NormalizeUUID(d)
		c.descs[norm] = &FakeDescriptor{uuid: norm, char: c}
	}
	return c
}

func (c *FakeCharacteristic) UUID() string { return c.uuid }

func (c *FakeCharacteristic) Properties() device.Property { return c.props }

func (c *FakeCharacteristic) Descriptor(uuid string) (device.Descriptor, bool) {
	d, ok := c.descs[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, false
	}
	return d, true
}

func (c *FakeCharacteristic) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.value)
}

func (c *FakeCharacteristic) SetValue(v []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = bytes.Clone(v)
}

type FakeDescriptor struct {
	uuid string
	char *FakeCharacteristic
}

func (d *FakeDescriptor) UUID() string { return d.uuid }

func (d *FakeDescriptor) Characteristic() device.Characteristic { return d.char }
