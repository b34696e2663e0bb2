// Package device provides the BLE device model, payload decoders and the
// address-keyed device registry for the Gray Logic BLE bridge.
//
// # Architecture
//
//	 advertisement field ──▶ Registry.Lookup(address) ──▶ []*Device
//	                                                         │
//	                                     Device.Decode(type, payload)
//	                                                         │
//	                                      decoder (pure) ──▶ Telemetry
//	                                                         │
//	                                                   Observer(device)
//
// # Key Types
//
//   - HardwareAddress: canonical upper-case colon form of a 6-octet address
//   - Protocol: jdy08 (environmental beacon), cc41a (notify counter), jdy10 (compact beacon)
//   - Device: one logical device; holds telemetry, last-seen time and an observer
//   - Registry: address → devices, append-only, explicitly owned by the caller
//
// # Decoding
//
// Decoders never fail. A payload too short for a field group leaves that
// group as it was, so a truncated frame cannot zero out good values.
// Every attributed frame still advances the last-seen time via Touch.
//
// # Staleness
//
// Derived on/off interpretations must check Stale first. A device silent for
// longer than DefaultStaleAfter (or the configured threshold) is off.
//
// # Usage
//
//	reg := device.NewRegistry()
//	addr, _ := device.ParseAddress("aa:bb:cc:dd:ee:ff")
//	dev, _ := device.New("garden-pump", "Garden Pump", addr, device.ProtocolJDY08)
//	dev.SetObserver(func(d *device.Device) { publish(d.Snapshot()) })
//	_ = reg.Register(dev)
//
//	for _, d := range reg.Lookup(addr) {
//	    d.Touch(time.Now())
//	    d.Decode(device.FieldServiceData, payload)
//	}
//
// # Thread Safety
//
// Registry and Device are safe for concurrent use. Observers run outside the
// device lock.
package device
