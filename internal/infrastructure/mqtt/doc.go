// Package mqtt provides MQTT client connectivity for the Gray Logic BLE bridge.
//
// This package manages:
//   - Connection to the Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT is the bus between Gray Logic Core and its protocol bridges. The BLE
// bridge publishes retained device state and health, and receives commands:
//
//	Gray Logic Core ↔ MQTT Broker ↔ BLE bridge ↔ radio
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	will := mqtt.Will{Topic: mqtt.Topics{}.BridgeHealth("ble"), Payload: lwt}
//	client, err := mqtt.Connect(cfg.MQTT, will)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllBridgeCommands("ble"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
