package bluez

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/nerrad567/gray-logic-ble/internal/bridges/ble"
	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// defaultConnectTimeout applies when the caller's context has no deadline.
const defaultConnectTimeout = 10 * time.Second

// Connector opens GATT connections. It implements ble.Connector.
type Connector struct {
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	logger Logger
}

// NewConnector creates a connector on an adapter such as "hci0".
func NewConnector(adapter string) *Connector {
	if adapter == "" {
		adapter = "hci0"
	}
	return &Connector{
		adapter: bluetooth.NewAdapter(adapter),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the connector.
func (c *Connector) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

func (c *Connector) enable() error {
	c.enableOnce.Do(func() {
		if err := c.adapter.Enable(); err != nil {
			c.enableErr = fmt.Errorf("%w: enabling adapter: %w", ErrAdapterNotFound, err)
		}
	})
	return c.enableErr
}

// parseUUID accepts a 4-digit short UUID or the full 36-character form.
func parseUUID(s string) (bluetooth.UUID, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 {
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("%w: %q", ErrInvalidUUID, s)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	}
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("%w: %q: %w", ErrInvalidUUID, s, err)
	}
	return u, nil
}

// connectTimeout derives the link timeout from the context deadline.
func connectTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
	}
	return defaultConnectTimeout
}

type connectResult struct {
	dev bluetooth.Device
	err error
}

// Connect opens a connection to addr and resolves the endpoint's
// characteristic.
//
// The underlying connect call cannot be cancelled. If ctx ends first, the
// connection is torn down as soon as the call returns.
func (c *Connector) Connect(ctx context.Context, addr device.HardwareAddress, ep ble.Endpoint) (ble.Connection, error) {
	if err := c.enable(); err != nil {
		return nil, err
	}
	serviceUUID, err := parseUUID(ep.Service)
	if err != nil {
		return nil, err
	}
	charUUID, err := parseUUID(ep.Characteristic)
	if err != nil {
		return nil, err
	}
	mac, err := bluetooth.ParseMAC(addr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", device.ErrInvalidAddress, addr)
	}

	params := bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(connectTimeout(ctx)),
	}
	result := make(chan connectResult, 1)
	go func() {
		dev, err := c.adapter.Connect(bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, params)
		result <- connectResult{dev: dev, err: err}
	}()

	var dev bluetooth.Device
	select {
	case r := <-result:
		if r.err != nil {
			return nil, fmt.Errorf("connecting: %w", r.err)
		}
		dev = r.dev
	case <-ctx.Done():
		go func() {
			if r := <-result; r.err == nil {
				_ = r.dev.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}

	char, err := findCharacteristic(dev, serviceUUID, charUUID)
	if err != nil {
		_ = dev.Disconnect()
		return nil, err
	}

	c.logger.Debug("connected", "address", addr.String(), "characteristic", ep.Characteristic)
	return &connection{dev: dev, char: char}, nil
}

func findCharacteristic(dev bluetooth.Device, service, char bluetooth.UUID) (bluetooth.DeviceCharacteristic, error) {
	services, err := dev.DiscoverServices([]bluetooth.UUID{service})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discovering services: %w", err)
	}
	if len(services) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: service %s", ErrCharacteristicNotFound, service)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{char})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discovering characteristics: %w", err)
	}
	if len(chars) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, char)
	}
	return chars[0], nil
}

// connection is one open GATT link.
type connection struct {
	dev  bluetooth.Device
	char bluetooth.DeviceCharacteristic

	mu         sync.Mutex
	subscribed bool
	closed     bool
}

func (c *connection) Write(p []byte) error {
	if _, err := c.char.WriteWithoutResponse(p); err != nil {
		return err
	}
	return nil
}

func (c *connection) Subscribe(handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.char.EnableNotifications(handler); err != nil {
		return err
	}
	c.subscribed = true
	return nil
}

func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.subscribed {
		_ = c.char.EnableNotifications(nil)
	}
	return c.dev.Disconnect()
}
