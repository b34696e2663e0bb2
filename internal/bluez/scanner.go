package bluez

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/gray-logic-ble/internal/bridges/ble"
)

var _ ble.Scanner = (*Scanner)(nil)

// signalBuffer is the capacity of the signal channel between passes.
const signalBuffer = 256

// Scanner runs passive discovery through BlueZ.
//
// Discovery is left running between passes so the controller keeps
// reporting; each Scan collects the device signals that arrive during its
// window. Pause stops it while the radio is used for a connection, and the
// next Scan starts it again. Duplicate reports are requested from BlueZ so a
// repeated, unchanged advertisement still produces a signal.
type Scanner struct {
	bus     *SystemBus
	adapter string

	mu      sync.Mutex
	signals chan *dbus.Signal
	matched bool

	logger Logger
	now    func() time.Time
}

// NewScanner creates a scanner for an adapter such as "hci0".
func NewScanner(bus *SystemBus, adapter string) *Scanner {
	if adapter == "" {
		adapter = "hci0"
	}
	return &Scanner{
		bus:     bus,
		adapter: adapter,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the scanner.
func (s *Scanner) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// matchRules are the discovery signals the scanner listens for.
func matchRules() [][]dbus.MatchOption {
	return [][]dbus.MatchOption{
		{
			dbus.WithMatchSender(bluezBus),
			dbus.WithMatchInterface(dbusObjectManager),
			dbus.WithMatchMember("InterfacesAdded"),
		},
		{
			dbus.WithMatchSender(bluezBus),
			dbus.WithMatchInterface(dbusProperties),
			dbus.WithMatchMember("PropertiesChanged"),
		},
	}
}

// subscribe installs signal matches once. Caller holds s.mu.
func (s *Scanner) subscribe() error {
	if s.matched {
		return nil
	}
	for _, rule := range matchRules() {
		if err := s.bus.conn.AddMatchSignal(rule...); err != nil {
			return fmt.Errorf("%w: adding signal match: %w", ErrScanFailed, err)
		}
	}
	s.signals = make(chan *dbus.Signal, signalBuffer)
	s.bus.conn.Signal(s.signals)
	s.matched = true
	return nil
}

// ensureDiscovery starts discovery when the adapter is not already
// discovering. After a bluetoothd restart the adapter comes back idle.
func (s *Scanner) ensureDiscovery(ctx context.Context) error {
	discovering, err := adapterProperty[bool](ctx, s.bus.conn, s.adapter, "Discovering")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScanFailed, err)
	}
	if discovering {
		return nil
	}
	return s.startDiscovery(ctx)
}

func (s *Scanner) startDiscovery(ctx context.Context) error {
	obj := s.bus.conn.Object(bluezBus, adapterPath(s.adapter))

	filter := map[string]dbus.Variant{
		"Transport":     dbus.MakeVariant("le"),
		"DuplicateData": dbus.MakeVariant(true),
	}
	if call := obj.CallWithContext(ctx, bluezAdapter1+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return fmt.Errorf("%w: setting discovery filter: %w", ErrScanFailed, call.Err)
	}
	if call := obj.CallWithContext(ctx, bluezAdapter1+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("%w: starting discovery: %w", ErrScanFailed, call.Err)
	}
	s.logger.Debug("discovery started", "adapter", s.adapter)
	return nil
}

func (s *Scanner) stopDiscovery(ctx context.Context) error {
	obj := s.bus.conn.Object(bluezBus, adapterPath(s.adapter))
	if call := obj.CallWithContext(ctx, bluezAdapter1+".StopDiscovery", 0); call.Err != nil {
		return fmt.Errorf("stopping discovery: %w", call.Err)
	}
	return nil
}

// drain discards signals queued since the previous pass.
func (s *Scanner) drain() int {
	n := 0
	for {
		select {
		case <-s.signals:
			n++
		default:
			return n
		}
	}
}

// Scan collects advertisements for d and returns one frame per address.
func (s *Scanner) Scan(ctx context.Context, d time.Duration) ([]ble.AdvertisementFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bus.Connected() {
		return nil, fmt.Errorf("%w: system bus disconnected", ErrScanFailed)
	}
	if err := s.subscribe(); err != nil {
		return nil, err
	}
	if err := s.ensureDiscovery(ctx); err != nil {
		return nil, err
	}
	if dropped := s.drain(); dropped > 0 {
		s.logger.Debug("dropped signals from between passes", "count", dropped)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	set := newFrameSet()
	for {
		select {
		case <-ctx.Done():
			return set.frames, ctx.Err()
		case <-timer.C:
			return set.frames, nil
		case sig, ok := <-s.signals:
			if !ok {
				return set.frames, fmt.Errorf("%w: signal channel closed", ErrScanFailed)
			}
			if frame, ok := frameFromSignal(s.adapter, sig, s.now()); ok {
				set.add(frame)
			}
		}
	}
}

// Restart stops and restarts the discovery session.
func (s *Scanner) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stopDiscovery(ctx); err != nil {
		s.logger.Debug("stop before restart failed", "error", err)
	}
	return s.startDiscovery(ctx)
}

// Pause stops discovery until the next Scan. An adapter that is not
// discovering is left alone.
func (s *Scanner) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bus.Connected() {
		return fmt.Errorf("%w: system bus disconnected", ErrScanFailed)
	}
	discovering, err := adapterProperty[bool](ctx, s.bus.conn, s.adapter, "Discovering")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScanFailed, err)
	}
	if !discovering {
		return nil
	}
	if err := s.stopDiscovery(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrScanFailed, err)
	}
	s.logger.Debug("discovery paused", "adapter", s.adapter)
	return nil
}

// Close stops discovery and removes the signal subscription. The bus
// itself stays open.
func (s *Scanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.stopDiscovery(ctx)
	if s.matched {
		s.bus.conn.RemoveSignal(s.signals)
		for _, rule := range matchRules() {
			_ = s.bus.conn.RemoveMatchSignal(rule...)
		}
		s.matched = false
	}
	return err
}
