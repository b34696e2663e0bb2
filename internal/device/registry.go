package device

import (
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry maps hardware addresses to the logical devices bound to them.
//
// Registration appends: a second device on the same address joins the
// first rather than replacing it. There is no removal; devices live for
// the process lifetime.
//
// All public methods are thread-safe.
type Registry struct {
	mu        sync.RWMutex
	byAddress map[HardwareAddress][]*Device
	byID      map[string]*Device
	logger    Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byAddress: make(map[HardwareAddress][]*Device),
		byID:      make(map[string]*Device),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds a device under its address.
// Returns ErrDuplicateDevice if the device ID is already registered.
func (r *Registry) Register(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[d.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, d.ID())
	}

	r.byID[d.ID()] = d
	r.byAddress[d.Address()] = append(r.byAddress[d.Address()], d)

	r.logger.Debug("device registered",
		"device_id", d.ID(),
		"address", d.Address().String(),
		"protocol", string(d.Protocol()),
		"shared_with", len(r.byAddress[d.Address()])-1,
	)
	return nil
}

// Lookup returns the devices registered for an address, in registration
// order. An unknown address yields an empty result, not an error.
func (r *Registry) Lookup(address HardwareAddress) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := r.byAddress[address]
	if len(devices) == 0 {
		return nil
	}
	out := make([]*Device, len(devices))
	copy(out, devices)
	return out
}

// Get returns the device with the given ID.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

// All returns every registered device sorted by ID.
func (r *Registry) All() []*Device {
	r.mu.RLock()
	out := make([]*Device, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// AddressCount returns the number of distinct hardware addresses.
func (r *Registry) AddressCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddress)
}
