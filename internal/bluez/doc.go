// Package bluez connects the BLE engine to the Linux Bluetooth stack.
//
// Three pieces implement the radio interfaces of package ble:
//
//   - Scanner: passive discovery over the BlueZ D-Bus API (godbus). Property
//     signals for org.bluez.Device1 objects are turned back into
//     advertisement fields, one AdvertisementFrame per address per pass.
//   - AdapterControl: adapter down/up through hciconfig and a service
//     restart through systemd.
//   - Connector: GATT connections through tinygo.org/x/bluetooth, used by
//     the command writer and notification polls.
//
// The system bus connection is shared through SystemBus and outlives
// bluetoothd restarts, so a recovery does not need to reconnect.
package bluez
