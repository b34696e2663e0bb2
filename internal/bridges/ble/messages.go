package ble

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/mqtt"
)

// Protocol is the bus protocol identifier used in topics and messages.
const Protocol = "ble"

// Command names accepted on the command topic.
const (
	CommandOn        = "on"
	CommandOff       = "off"
	CommandTogglePin = "toggle_pin"
	CommandPoll      = "poll"
)

// CommandMessage is sent from Core to the bridge to drive a device.
// Topic: graylogic/command/ble/{device_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgements.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	DeviceID string `json:"device_id"`

	// Command is one of on, off, toggle_pin, poll.
	Command string `json:"command"`

	// Parameters holds command arguments:
	//   {"pin": 1, "on": true} for toggle_pin
	Parameters map[string]any `json:"parameters,omitempty"`

	Source string `json:"source,omitempty"`
}

// UnmarshalJSON accepts an RFC 3339 timestamp or none at all.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// PinParameters extracts the pin and level of a toggle_pin command.
func (m CommandMessage) PinParameters() (pin int, on bool, err error) {
	rawPin, ok := m.Parameters["pin"]
	if !ok {
		return 0, false, fmt.Errorf("%w: missing pin", ErrInvalidCommand)
	}
	// JSON numbers decode as float64.
	f, ok := rawPin.(float64)
	if !ok || f != float64(int(f)) {
		return 0, false, fmt.Errorf("%w: pin must be an integer", ErrInvalidCommand)
	}
	rawOn, ok := m.Parameters["on"]
	if !ok {
		return 0, false, fmt.Errorf("%w: missing on", ErrInvalidCommand)
	}
	on, ok = rawOn.(bool)
	if !ok {
		return 0, false, fmt.Errorf("%w: on must be a boolean", ErrInvalidCommand)
	}
	return int(f), on, nil
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was received and queued for the radio.
	AckAccepted AckStatus = "accepted"

	// AckCompleted indicates the radio operation succeeded.
	AckCompleted AckStatus = "completed"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/ble/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address,omitempty"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Retries is the number of radio attempts made.
	Retries int `json:"retries,omitempty"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeNotSupported      = "NOT_SUPPORTED"
)

// StateMessage carries the derived state of one entity.
// Topic: graylogic/state/ble/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	Entity    EntityKind     `json:"entity"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
	Variant   string         `json:"variant"`
	Address   string         `json:"address"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopped  HealthStatus = "stopped"
)

// HealthMessage reports the operational status of the bridge.
// Topic: graylogic/health/ble
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string       `json:"bridge"`
	Timestamp      time.Time    `json:"timestamp"`
	Status         HealthStatus `json:"status"`
	Version        string       `json:"version,omitempty"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	DevicesManaged int          `json:"devices_managed"`
	Radio          *RadioStatus `json:"radio,omitempty"`
	Reason         string       `json:"reason,omitempty"`
}

// RadioStatus summarises scanning and recovery for health messages.
type RadioStatus struct {
	Scanning      bool       `json:"scanning"`
	RecoveryState string     `json:"recovery_state"`
	LastRecovery  *time.Time `json:"last_recovery,omitempty"`
	Loop          LoopStats  `json:"loop"`
}

// NewAckMessage creates an acknowledgement for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError creates a failed acknowledgement with error details.
func NewAckError(cmd CommandMessage, address, code, message string, retries int) AckMessage {
	ack := NewAckMessage(cmd, AckFailed, address)
	ack.Error = &AckError{
		Code:    code,
		Message: message,
		Retries: retries,
	}
	return ack
}

// NewStateMessage creates a state message for an entity.
func NewStateMessage(e *Entity, now time.Time) StateMessage {
	return StateMessage{
		DeviceID:  e.Device.ID(),
		Timestamp: now.UTC(),
		Entity:    e.Kind,
		State:     e.State(now),
		Protocol:  Protocol,
		Variant:   string(e.Device.Protocol()),
		Address:   e.Device.Address().String(),
	}
}

// NewLWTMessage creates the Last Will and Testament health message.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// StateTopic returns the state topic for a device.
func StateTopic(deviceID string) string {
	return mqtt.Topics{}.BridgeState(Protocol, deviceID)
}

// AckTopic returns the acknowledgement topic for a device.
func AckTopic(deviceID string) string {
	return mqtt.Topics{}.BridgeAck(Protocol, deviceID)
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return mqtt.Topics{}.BridgeHealth(Protocol)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return mqtt.Topics{}.AllBridgeCommands(Protocol)
}
