package goble

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/internal/groutine"
)

// ----------------------------
// Driver seams
// ----------------------------

// Client is the part of ble.Client the connection drives.
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	WriteDescriptor(d *ble.Descriptor, value []byte) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// DeviceFactory creates the host ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Dialer opens a GATT client connection to address (can be overridden in tests).
var Dialer = func(ctx context.Context, address string) (Client, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ----------------------------
// Options
// ----------------------------

// Options tunes a BLEConnection.
type Options struct {
	// ConnectTimeout bounds the dial. Service discovery and GATT operations are not bounded.
	ConnectTimeout time.Duration `default:"10s" yaml:"connect_timeout"`

	// ReadBackWrites reports the characteristic value read after a successful write
	// instead of the written bytes. Only applies to readable characteristics.
	ReadBackWrites bool `yaml:"read_back_writes"`
}

// DefaultOptions returns Options populated from their default tags.
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// ----------------------------
// BLE Connection
// ----------------------------

// BLEConnection is a device.Adapter over go-ble.
//
// Blocking go-ble calls run on named goroutines and report back through the
// device.Events supplied to Connect. Every Connect and Close starts a new
// session; completions and notifications from an older session are dropped.
type BLEConnection struct {
	logger *logrus.Logger
	opts   Options

	mu      sync.Mutex
	session uint64
	client  Client
	events  device.Events
	dialing bool
	cancel  context.CancelCauseFunc

	services  *hashmap.Map[string, *BLEService]
	notifying *hashmap.Map[string, bool] // characteristic key -> notifications wanted
	busy      atomic.Uint64              // session holding the operation slot, 0 when free
}

var _ device.Adapter = (*BLEConnection)(nil)

// NewBLEConnection creates a disconnected adapter. A nil opts uses DefaultOptions.
func NewBLEConnection(logger *logrus.Logger, opts *Options) *BLEConnection {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BLEConnection{
		logger:    logger,
		opts:      *opts,
		services:  hashmap.New[string, *BLEService](),
		notifying: hashmap.New[string, bool](),
	}
}

// Connect starts dialing address. The outcome is reported through events.OnConnected.
func (c *BLEConnection) Connect(address string, events device.Events) error {
	if strings.TrimSpace(address) == "" {
		c.logger.Error("Connection attempt with empty address")
		return fmt.Errorf("device address is empty")
	}
	if events == nil {
		return fmt.Errorf("connection events sink is nil")
	}

	c.mu.Lock()
	if c.client != nil || c.dialing {
		c.mu.Unlock()
		c.logger.WithField("address", address).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}
	c.session++
	session := c.session
	c.events = events
	c.dialing = true
	ctx, cancel := context.WithCancelCause(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": c.opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	groutine.Go(ctx, "ble-dial", func(ctx context.Context) {
		dialCtx, cancelDial := context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancelDial()

		client, err := Dialer(dialCtx, address)

		c.mu.Lock()
		if c.session != session {
			c.mu.Unlock()
			c.logger.WithField("address", address).Debug("Dial finished after close, dropping connection")
			if err == nil {
				_ = client.CancelConnection()
			}
			return
		}
		c.dialing = false
		if err == nil {
			c.client = client
		}
		c.mu.Unlock()

		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"address": address,
				"error":   err,
			}).Error("Failed to dial BLE device")
			events.OnConnected(fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err)))
			return
		}

		c.monitorDisconnect(ctx, session, client, events)
		c.logger.WithField("address", address).Info("BLE device connected")
		events.OnConnected(nil)
	})
	return nil
}

// DiscoverServices discovers the peripheral profile and reports through events.OnServicesDiscovered.
func (c *BLEConnection) DiscoverServices() error {
	client, session, events, err := c.current()
	if err != nil {
		return err
	}
	if !c.busy.CompareAndSwap(0, session) {
		return device.ErrBusy
	}

	groutine.Go(context.Background(), "ble-discover", func(context.Context) {
		profile, err := client.DiscoverProfile(true)

		// Close bumps the session under mu before clearing the tables.
		c.mu.Lock()
		stale := c.session != session
		if !stale && err == nil {
			c.populate(profile)
		}
		c.mu.Unlock()
		c.release(session)

		if stale {
			c.logger.Debug("Dropping discovery from a closed connection")
			return
		}
		if err != nil {
			c.logger.WithField("error", err).Error("Failed to discover profile")
			events.OnServicesDiscovered(fmt.Errorf("failed to discover profile: %w", NormalizeError(err)))
			return
		}
		events.OnServicesDiscovered(nil)
	})
	return nil
}

func (c *BLEConnection) populate(profile *ble.Profile) {
	totalChars := 0
	for _, bleSvc := range profile.Services {
		svc := newService(bleSvc)
		c.services.Set(svc.uuid, svc)
		totalChars += len(svc.Characteristics)

		c.logger.WithFields(logrus.Fields{
			"service_uuid":    svc.uuid,
			"characteristics": svc.CharacteristicUUIDs(),
		}).Debug("Found service")
	}

	c.logger.WithFields(logrus.Fields{
		"services":        len(profile.Services),
		"characteristics": totalChars,
	}).Info("Profile discovered successfully")
}

// Service retrieves a discovered service by UUID in any accepted form.
func (c *BLEConnection) Service(uuid string) (device.Service, bool) {
	svc, ok := c.services.Get(device.NormalizeUUID(uuid))
	if !ok {
		return nil, false
	}
	return svc, true
}

// Read reads c and reports through events.OnCharacteristicRead.
func (c *BLEConnection) Read(ch device.Characteristic) error {
	char, err := asCharacteristic(ch)
	if err != nil {
		return err
	}
	return c.run("ble-read", func(client Client, session uint64, events device.Events) {
		data, err := client.ReadCharacteristic(char.BLEChar)
		if err != nil {
			err = fmt.Errorf("failed to read characteristic %s: %w", char.uuid, NormalizeError(err))
		}
		c.complete(session, func() { events.OnCharacteristicRead(char, data, err) })
	})
}

// Write writes value to c and reports through events.OnCharacteristicWrite.
// Characteristics without the Write property are written without response.
func (c *BLEConnection) Write(ch device.Characteristic, value []byte) error {
	char, err := asCharacteristic(ch)
	if err != nil {
		return err
	}
	payload := bytes.Clone(value)
	noRsp := !char.props.Has(device.PropWrite)

	return c.run("ble-write", func(client Client, session uint64, events device.Events) {
		resp := payload
		err := client.WriteCharacteristic(char.BLEChar, payload, noRsp)
		if err == nil && c.opts.ReadBackWrites && char.props.Readable() {
			resp, err = client.ReadCharacteristic(char.BLEChar)
		}
		if err != nil {
			resp = nil
			err = fmt.Errorf("failed to write characteristic %s: %w", char.uuid, NormalizeError(err))
		}
		c.complete(session, func() { events.OnCharacteristicWrite(char, resp, err) })
	})
}

// WriteDescriptor writes value to d and reports through events.OnDescriptorWrite.
// Writing a notification sentinel to the CCCD subscribes or unsubscribes through go-ble,
// which owns the CCCD on every platform.
func (c *BLEConnection) WriteDescriptor(d device.Descriptor, value []byte) error {
	desc, ok := d.(*BLEDescriptor)
	if !ok {
		return fmt.Errorf("%w: descriptor %T does not belong to this connection", device.ErrUnsupported, d)
	}
	char := desc.char
	payload := bytes.Clone(value)

	return c.run("ble-write-descriptor", func(client Client, session uint64, events device.Events) {
		var err error
		switch {
		case desc.isCCCD() && bytes.Equal(payload, device.EnableNotificationValue):
			err = client.Subscribe(char.BLEChar, char.indicate(), c.notificationHandler(session, char, events))
		case desc.isCCCD() && bytes.Equal(payload, device.DisableNotificationValue):
			err = client.Unsubscribe(char.BLEChar, char.indicate())
		case desc.BLEDesc == nil:
			err = fmt.Errorf("%w: descriptor %s has no handle", device.ErrUnsupported, desc.uuid)
		default:
			err = client.WriteDescriptor(desc.BLEDesc, payload)
		}
		if err != nil {
			err = fmt.Errorf("failed to write descriptor %s of characteristic %s: %w", desc.uuid, char.uuid, NormalizeError(err))
		}
		c.complete(session, func() { events.OnDescriptorWrite(desc, payload, err) })
	})
}

// SetNotify turns local delivery of value changes for c on or off. It issues no radio traffic.
func (c *BLEConnection) SetNotify(ch device.Characteristic, enable bool) error {
	char, err := asCharacteristic(ch)
	if err != nil {
		return err
	}
	if _, _, _, err := c.current(); err != nil {
		return err
	}

	if enable {
		c.notifying.Set(char.key, true)
	} else {
		c.notifying.Del(char.key)
	}
	c.logger.WithFields(logrus.Fields{
		"char_uuid": char.uuid,
		"enabled":   enable,
	}).Debug("Notification delivery updated")
	return nil
}

// Close cancels any dial in progress and disconnects. Safe to call more than once.
func (c *BLEConnection) Close() error {
	c.mu.Lock()
	c.session++
	client := c.client
	cancel := c.cancel
	c.client = nil
	c.events = nil
	c.cancel = nil
	c.dialing = false
	c.mu.Unlock()

	if cancel != nil {
		cancel(nil)
	}
	c.busy.Store(0)

	if client == nil {
		c.clearTables()
		c.logger.Debug("Close called but already disconnected")
		return nil
	}

	c.logger.Info("Disconnecting BLE device...")
	c.services.Range(func(_ string, svc *BLEService) bool {
		for _, char := range svc.Characteristics {
			if _, ok := c.notifying.Get(char.key); !ok {
				continue
			}
			if err := client.Unsubscribe(char.BLEChar, char.indicate()); err != nil {
				c.logger.WithFields(logrus.Fields{
					"char_uuid": char.uuid,
					"error":     NormalizeError(err),
				}).Warn("Failed to unsubscribe during disconnect")
			}
		}
		return true
	})
	c.clearTables()

	err := NormalizeError(client.CancelConnection())
	if err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
	} else {
		c.logger.Info("BLE device disconnected successfully")
	}
	return err
}

func (c *BLEConnection) clearTables() {
	var svcKeys, notifyKeys []string
	c.services.Range(func(k string, _ *BLEService) bool {
		svcKeys = append(svcKeys, k)
		return true
	})
	c.notifying.Range(func(k string, _ bool) bool {
		notifyKeys = append(notifyKeys, k)
		return true
	})
	for _, k := range svcKeys {
		c.services.Del(k)
	}
	for _, k := range notifyKeys {
		c.notifying.Del(k)
	}
}

// run claims the single operation slot and performs op on a named goroutine.
func (c *BLEConnection) run(name string, op func(client Client, session uint64, events device.Events)) error {
	client, session, events, err := c.current()
	if err != nil {
		return err
	}
	if !c.busy.CompareAndSwap(0, session) {
		return device.ErrBusy
	}
	groutine.Go(context.Background(), name, func(context.Context) {
		op(client, session, events)
	})
	return nil
}

// complete releases the operation slot before reporting, so the receiver may issue the next operation.
func (c *BLEConnection) complete(session uint64, report func()) {
	c.release(session)
	if !c.live(session) {
		c.logger.Debug("Dropping completion from a closed connection")
		return
	}
	report()
}

// release frees the operation slot only if session still holds it.
func (c *BLEConnection) release(session uint64) {
	c.busy.CompareAndSwap(session, 0)
}

func (c *BLEConnection) notificationHandler(session uint64, char *BLECharacteristic, events device.Events) ble.NotificationHandler {
	return func(data []byte) {
		if !c.live(session) {
			return
		}
		if enabled, ok := c.notifying.Get(char.key); !ok || !enabled {
			c.logger.WithField("char_uuid", char.uuid).Debug("Dropping notification for characteristic without delivery enabled")
			return
		}
		events.OnCharacteristicChanged(char, bytes.Clone(data))
	}
}

// monitorDisconnect watches the go-ble Disconnected() channel where the client has one.
func (c *BLEConnection) monitorDisconnect(ctx context.Context, session uint64, client Client, events device.Events) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		c.logger.Debug("Client does not support Disconnected() channel")
		return
	}

	groutine.Go(ctx, "ble-connection-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			if !c.live(session) {
				return
			}
			c.logger.Warn("Peripheral reported disconnection")
			events.OnDisconnected(fmt.Errorf("%w: peripheral reported disconnection", device.ErrNotConnected))
		case <-ctx.Done():
		}
	})
}

func (c *BLEConnection) current() (Client, uint64, device.Events, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, 0, nil, device.ErrNotConnected
	}
	return c.client, c.session, c.events, nil
}

func (c *BLEConnection) live(session uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == session
}

func asCharacteristic(ch device.Characteristic) (*BLECharacteristic, error) {
	char, ok := ch.(*BLECharacteristic)
	if !ok {
		return nil, fmt.Errorf("%w: characteristic %T does not belong to this connection", device.ErrUnsupported, ch)
	}
	return char, nil
}
