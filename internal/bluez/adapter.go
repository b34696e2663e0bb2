package bluez

import (
	"context"
	"fmt"
)

// CommandRunner runs the adapter control binary with arguments.
// process.Runner satisfies it.
type CommandRunner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ServiceBus is the system bus surface used by adapter control.
// SystemBus satisfies it.
type ServiceBus interface {
	SetPowered(ctx context.Context, adapter string, on bool) error
	RestartUnit(ctx context.Context, unit string) error
}

// AdapterControl brings an HCI adapter down and up and restarts the
// Bluetooth service. It implements ble.AdapterController.
type AdapterControl struct {
	adapter string
	runner  CommandRunner
	bus     ServiceBus
	unit    string
	logger  Logger
}

// NewAdapterControl creates adapter control for an adapter such as "hci0".
// bus may be nil, in which case Up skips the power-on request and
// RestartService fails.
func NewAdapterControl(adapter string, runner CommandRunner, bus ServiceBus, unit string) *AdapterControl {
	if adapter == "" {
		adapter = "hci0"
	}
	if unit == "" {
		unit = "bluetooth.service"
	}
	return &AdapterControl{
		adapter: adapter,
		runner:  runner,
		bus:     bus,
		unit:    unit,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger.
func (a *AdapterControl) SetLogger(logger Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// Down takes the adapter down.
func (a *AdapterControl) Down(ctx context.Context) error {
	if _, err := a.runner.Run(ctx, a.adapter, "down"); err != nil {
		return fmt.Errorf("adapter %s down: %w", a.adapter, err)
	}
	a.logger.Debug("adapter down", "adapter", a.adapter)
	return nil
}

// Up brings the adapter up and asks BlueZ to power it.
func (a *AdapterControl) Up(ctx context.Context) error {
	if _, err := a.runner.Run(ctx, a.adapter, "up"); err != nil {
		return fmt.Errorf("adapter %s up: %w", a.adapter, err)
	}
	if a.bus != nil {
		if err := a.bus.SetPowered(ctx, a.adapter, true); err != nil {
			return fmt.Errorf("adapter %s up: %w", a.adapter, err)
		}
	}
	a.logger.Debug("adapter up", "adapter", a.adapter)
	return nil
}

// RestartService restarts the Bluetooth service unit.
func (a *AdapterControl) RestartService(ctx context.Context) error {
	if a.bus == nil {
		return ErrNoServiceBus
	}
	if err := a.bus.RestartUnit(ctx, a.unit); err != nil {
		return err
	}
	a.logger.Info("bluetooth service restart queued", "unit", a.unit)
	return nil
}
