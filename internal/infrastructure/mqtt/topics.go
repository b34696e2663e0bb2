package mqtt

import "fmt"

// TopicPrefix is the base of every bridge topic.
//
// Bridge topics use the flat scheme graylogic/{category}/{protocol}/{id},
// shared by every protocol bridge on the bus.
const TopicPrefix = "graylogic"

// Topics provides builders for bridge MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("ble", "garden-pump")
//	// Returns: "graylogic/state/ble/garden-pump"
type Topics struct{}

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: graylogic/state/ble/garden-pump
func (Topics) BridgeState(protocol, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, deviceID)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: graylogic/command/ble/garden-pump
func (Topics) BridgeCommand(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, deviceID)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: graylogic/ack/ble/garden-pump
func (Topics) BridgeAck(protocol, deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, deviceID)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/ble
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// AllBridgeCommands returns a wildcard matching every command for a bridge.
//
// Example: graylogic/command/ble/+
func (t Topics) AllBridgeCommands(protocol string) string {
	return t.BridgeCommand(protocol, "+")
}
