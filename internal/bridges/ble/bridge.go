package ble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// commandTimeout bounds one command's radio work, including retries.
const commandTimeout = 60 * time.Second

// Bridge connects the radio engine to the MQTT bus.
// It handles:
//   - Publishing entity state whenever a device decodes a frame
//   - Receiving commands and running them through the CommandWriter
//   - Republishing entities whose staleness changed
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt     MQTTClient
	writer   *CommandWriter
	health   *HealthReporter
	entities map[string]*Entity

	// Last published staleness, for SweepStale change detection.
	staleMu   sync.Mutex
	lastStale map[string]bool

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex

	now func() time.Time
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in health messages.
	BridgeID string

	// Version is reported in health messages.
	Version string

	MQTTClient MQTTClient
	Writer     *CommandWriter
	Entities   []*Entity

	// Loop and Recovery feed health reporting. Either may be nil.
	Loop     *DiscoveryLoop
	Recovery *RecoveryController

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("command writer is required")
	}

	entities := make(map[string]*Entity, len(opts.Entities))
	for _, e := range opts.Entities {
		if e == nil || e.Device == nil {
			return nil, fmt.Errorf("%w: entity without device", device.ErrInvalidDevice)
		}
		if _, dup := entities[e.Device.ID()]; dup {
			return nil, fmt.Errorf("%w: %s", device.ErrDuplicateDevice, e.Device.ID())
		}
		entities[e.Device.ID()] = e
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		mqtt:      opts.MQTTClient,
		writer:    opts.Writer,
		entities:  entities,
		lastStale: make(map[string]bool, len(entities)),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
		now:       time.Now,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Loop:      opts.Loop,
		Recovery:  opts.Recovery,
	})
	b.health.SetDeviceCount(len(entities))
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start installs device observers, subscribes to commands, publishes the
// current state of every entity and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	for _, e := range b.entities {
		entity := e
		entity.Device.SetObserver(func(*device.Device) {
			b.publishState(entity)
		})
	}

	topic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(topic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)

	for _, e := range b.sortedEntities() {
		b.publishState(e)
	}

	b.health.Start(ctx)

	b.logInfo("bridge started", "entities", len(b.entities))
	return nil
}

// Stop gracefully shuts down the bridge.
// In-flight commands are cancelled and waited for.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		for _, e := range b.entities {
			e.Device.SetObserver(nil)
		}

		b.health.Stop()
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// CancelCommands aborts in-flight commands and ignores new ones, without
// stopping health reporting. Commands release the radio promptly, so the
// discovery loop can be stopped right after. Stop calls it too.
func (b *Bridge) CancelCommands() {
	b.ctxCancel()
}

// Health returns the bridge's health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// SweepStale republishes every entity whose staleness changed since it was
// last published. Stale devices report off even though no frame arrived.
func (b *Bridge) SweepStale(now time.Time) int {
	republished := 0
	for _, e := range b.sortedEntities() {
		stale := e.Stale(now)
		b.staleMu.Lock()
		prev, known := b.lastStale[e.Device.ID()]
		b.staleMu.Unlock()
		if known && prev == stale {
			continue
		}
		b.publishStateAt(e, now)
		republished++
	}
	return republished
}

// PollCounters polls every notify-counter device once.
func (b *Bridge) PollCounters(ctx context.Context) {
	for _, e := range b.sortedEntities() {
		if !e.Device.Protocol().NeedsPolling() {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		b.writer.PollNotifications(ctx, e.Device)
	}
}

func (b *Bridge) sortedEntities() []*Entity {
	out := make([]*Entity, 0, len(b.entities))
	for _, e := range b.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Device.ID() < out[j].Device.ID()
	})
	return out
}

func (b *Bridge) publishState(e *Entity) {
	b.publishStateAt(e, b.now())
}

func (b *Bridge) publishStateAt(e *Entity, now time.Time) {
	msg := NewStateMessage(e, now)

	b.staleMu.Lock()
	b.lastStale[e.Device.ID()] = msg.State["stale"] == true
	b.staleMu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(e.Device.ID()), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

// handleMQTTMessage processes messages on the command topic.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	select {
	case <-b.done:
		return
	case <-b.ctx.Done():
		return
	default:
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topic[strings.LastIndex(topic, "/")+1:]
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	entity, ok := b.entities[cmd.DeviceID]
	if !ok {
		b.publishAckError(cmd, "", ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", cmd.DeviceID), 0)
		return
	}
	address := entity.Device.Address().String()

	if err := validateCommand(cmd, entity); err != nil {
		code := ErrCodeInvalidCommand
		switch {
		case errors.Is(err, ErrUnsupportedCommand):
			code = ErrCodeNotSupported
		case errors.Is(err, ErrInvalidPin):
			code = ErrCodeInvalidParameters
		}
		b.publishAckError(cmd, address, code, err.Error(), 0)
		return
	}

	b.publishAck(cmd, address, AckAccepted)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
		defer cancel()
		b.executeCommand(ctx, cmd, entity)
	}()
}

// validateCommand checks a command against the entity before any radio work.
func validateCommand(cmd CommandMessage, e *Entity) error {
	switch cmd.Command {
	case CommandOn, CommandOff:
		if !e.Controllable() {
			return fmt.Errorf("%w: %s on %s entity", ErrUnsupportedCommand, cmd.Command, e.Kind)
		}
	case CommandTogglePin:
		if !e.Device.Protocol().CanActuate() {
			return fmt.Errorf("%w: %s cannot drive outputs", ErrUnsupportedCommand, e.Device.Protocol())
		}
		pin, on, err := cmd.PinParameters()
		if err != nil {
			return err
		}
		if _, err := EncodeCommand(pin, on); err != nil {
			return err
		}
	case CommandPoll:
		if !e.Device.Protocol().NeedsPolling() {
			return fmt.Errorf("%w: %s does not notify", ErrUnsupportedCommand, e.Device.Protocol())
		}
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, cmd.Command)
	}
	return nil
}

func (b *Bridge) executeCommand(ctx context.Context, cmd CommandMessage, e *Entity) {
	address := e.Device.Address().String()

	var (
		attempts int
		err      error
	)
	switch cmd.Command {
	case CommandOn, CommandOff:
		on := cmd.Command == CommandOn
		for _, pin := range e.Pins {
			res := b.writer.Execute(ctx, e.Device, pin, on)
			attempts += res.Attempts
			if res.Err != nil {
				err = res.Err
				break
			}
		}
	case CommandTogglePin:
		pin, on, _ := cmd.PinParameters()
		res := b.writer.Execute(ctx, e.Device, pin, on)
		attempts, err = res.Attempts, res.Err
	case CommandPoll:
		res := b.writer.Poll(ctx, e.Device)
		attempts, err = res.Attempts, res.Err
	}

	if err != nil {
		b.publishAckError(cmd, address, ErrCodeDeviceUnreachable, err.Error(), attempts)
		return
	}
	b.publishAck(cmd, address, AckCompleted)
}

func (b *Bridge) publishAck(cmd CommandMessage, address string, status AckStatus) {
	b.sendAck(NewAckMessage(cmd, status, address))
}

func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string, retries int) {
	b.sendAck(NewAckError(cmd, address, code, message, retries))
	b.logWarn("command failed",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"code", code,
		"message", message)
}

func (b *Bridge) sendAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.DeviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
