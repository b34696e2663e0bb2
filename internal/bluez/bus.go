package bluez

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// systemd D-Bus names.
const (
	systemdBus     = "org.freedesktop.systemd1"
	systemdPath    = dbus.ObjectPath("/org/freedesktop/systemd1")
	systemdManager = "org.freedesktop.systemd1.Manager"
)

// SystemBus is a private connection to the system bus shared by the
// scanner and adapter control.
type SystemBus struct {
	conn *dbus.Conn
}

// ConnectSystemBus opens a private system bus connection.
// The shared connection from dbus.SystemBus is avoided so Close cannot
// break other users in the process.
func ConnectSystemBus() (*SystemBus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to system bus: %w", err)
	}
	return &SystemBus{conn: conn}, nil
}

// Close closes the connection.
func (b *SystemBus) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

// Connected reports whether the connection is still usable.
func (b *SystemBus) Connected() bool {
	return b != nil && b.conn != nil && b.conn.Connected()
}

// Powered reads the Powered property of an adapter.
func (b *SystemBus) Powered(ctx context.Context, adapter string) (bool, error) {
	return adapterProperty[bool](ctx, b.conn, adapter, "Powered")
}

// SetPowered writes the Powered property of an adapter.
func (b *SystemBus) SetPowered(ctx context.Context, adapter string, on bool) error {
	obj := b.conn.Object(bluezBus, adapterPath(adapter))
	call := obj.CallWithContext(ctx, dbusProperties+".Set", 0, bluezAdapter1, "Powered", dbus.MakeVariant(on))
	if call.Err != nil {
		return fmt.Errorf("setting %s powered=%v: %w", adapter, on, call.Err)
	}
	return nil
}

// RestartUnit asks systemd to restart a unit. It returns once the job is
// queued, not when the unit is up again.
func (b *SystemBus) RestartUnit(ctx context.Context, unit string) error {
	obj := b.conn.Object(systemdBus, systemdPath)
	var job dbus.ObjectPath
	call := obj.CallWithContext(ctx, systemdManager+".RestartUnit", 0, unit, "replace")
	if call.Err != nil {
		return fmt.Errorf("restarting %s: %w", unit, call.Err)
	}
	if err := call.Store(&job); err != nil {
		return fmt.Errorf("restarting %s: reading job: %w", unit, err)
	}
	return nil
}

// adapterProperty reads one Adapter1 property.
func adapterProperty[T any](ctx context.Context, conn *dbus.Conn, adapter, name string) (T, error) {
	var zero T
	obj := conn.Object(bluezBus, adapterPath(adapter))

	var v dbus.Variant
	call := obj.CallWithContext(ctx, dbusProperties+".Get", 0, bluezAdapter1, name)
	if call.Err != nil {
		return zero, fmt.Errorf("%w: %s: %w", ErrAdapterNotFound, adapter, call.Err)
	}
	if err := call.Store(&v); err != nil {
		return zero, fmt.Errorf("reading %s.%s: %w", bluezAdapter1, name, err)
	}
	val, ok := v.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", bluezAdapter1, name, v.Value())
	}
	return val, nil
}
