package bluez

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/gray-logic-ble/internal/bridges/ble"
	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// BlueZ D-Bus names.
const (
	bluezBus          = "org.bluez"
	bluezAdapter1     = "org.bluez.Adapter1"
	bluezDevice1      = "org.bluez.Device1"
	dbusProperties    = "org.freedesktop.DBus.Properties"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"

	signalPropertiesChanged = dbusProperties + ".PropertiesChanged"
	signalInterfacesAdded   = dbusObjectManager + ".InterfacesAdded"
)

// bluetoothBaseSuffix is the tail shared by every UUID in the 16-bit range.
const bluetoothBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// adapterPath returns the BlueZ object path of an HCI adapter.
func adapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// addressFromPath extracts the device address from a BlueZ object path such
// as /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF. Only paths directly under the
// given adapter match.
func addressFromPath(adapter string, path dbus.ObjectPath) (device.HardwareAddress, bool) {
	prefix := string(adapterPath(adapter)) + "/dev_"
	rest, ok := strings.CutPrefix(string(path), prefix)
	if !ok || strings.Contains(rest, "/") {
		return "", false
	}
	addr, err := device.ParseAddress(strings.ReplaceAll(rest, "_", ":"))
	if err != nil {
		return "", false
	}
	return addr, true
}

// uuid16 returns the little-endian wire form of a UUID in the 16-bit range.
// Both the short form ("fee7") and the full base form are accepted.
func uuid16(uuid string) ([]byte, bool) {
	s := strings.ToLower(strings.TrimSpace(uuid))
	switch {
	case len(s) == 4:
	case len(s) == 36 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, bluetoothBaseSuffix):
		s = s[4:8]
	default:
		return nil, false
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	// Network order in the string, little-endian on air.
	return []byte{raw[1], raw[0]}, true
}

// fieldsFromProperties rebuilds advertisement fields from Device1
// properties. Fields come out in on-air order: service class UUIDs, local
// name, service data, manufacturer data, then any AD structures BlueZ
// passes through untouched in AdvertisingData, by ascending type.
func fieldsFromProperties(props map[string]dbus.Variant) []ble.Field {
	var fields []ble.Field

	if v, ok := props["UUIDs"]; ok {
		if uuids, ok := v.Value().([]string); ok {
			var payload []byte
			for _, u := range uuids {
				if b, ok := uuid16(u); ok {
					payload = append(payload, b...)
				}
			}
			if len(payload) > 0 {
				fields = append(fields, ble.Field{Type: device.FieldServiceClassUUIDs, Payload: payload})
			}
		}
	}

	if v, ok := props["Name"]; ok {
		if name, ok := v.Value().(string); ok && name != "" {
			fields = append(fields, ble.Field{Type: device.FieldLocalName, Payload: []byte(name)})
		}
	}

	if v, ok := props["ServiceData"]; ok {
		if data, ok := v.Value().(map[string]dbus.Variant); ok {
			keys := make([]string, 0, len(data))
			for k := range data {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				prefix, ok := uuid16(k)
				if !ok {
					continue
				}
				value, ok := data[k].Value().([]byte)
				if !ok {
					continue
				}
				fields = append(fields, ble.Field{
					Type:    device.FieldServiceData,
					Payload: append(prefix, value...),
				})
			}
		}
	}

	if v, ok := props["ManufacturerData"]; ok {
		if data, ok := v.Value().(map[uint16]dbus.Variant); ok {
			ids := make([]int, 0, len(data))
			for id := range data {
				ids = append(ids, int(id))
			}
			sort.Ints(ids)
			for _, id := range ids {
				value, ok := data[uint16(id)].Value().([]byte)
				if !ok {
					continue
				}
				payload := binary.LittleEndian.AppendUint16(nil, uint16(id))
				fields = append(fields, ble.Field{
					Type:    device.FieldManufacturerData,
					Payload: append(payload, value...),
				})
			}
		}
	}

	if v, ok := props["AdvertisingData"]; ok {
		fields = append(fields, rawFields(v)...)
	}

	return fields
}

// rawFields converts the AdvertisingData property (AD type to value) into
// fields. Types BlueZ already reports through a dedicated property never
// appear in it.
func rawFields(v dbus.Variant) []ble.Field {
	data, ok := v.Value().(map[byte]dbus.Variant)
	if !ok {
		return nil
	}
	types := make([]int, 0, len(data))
	for t := range data {
		types = append(types, int(t))
	}
	sort.Ints(types)

	fields := make([]ble.Field, 0, len(types))
	for _, t := range types {
		value, ok := data[byte(t)].Value().([]byte)
		if !ok {
			continue
		}
		fields = append(fields, ble.Field{
			Type:    device.FieldType(t),
			Payload: append([]byte(nil), value...),
		})
	}
	return fields
}

// frameFromSignal converts a BlueZ discovery signal into a frame. Signals
// that do not concern a device under the adapter are ignored.
func frameFromSignal(adapter string, sig *dbus.Signal, at time.Time) (ble.AdvertisementFrame, bool) {
	var (
		path  dbus.ObjectPath
		props map[string]dbus.Variant
	)

	switch sig.Name {
	case signalInterfacesAdded:
		if len(sig.Body) < 2 {
			return ble.AdvertisementFrame{}, false
		}
		p, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok {
			return ble.AdvertisementFrame{}, false
		}
		ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok {
			return ble.AdvertisementFrame{}, false
		}
		if props, ok = ifaces[bluezDevice1]; !ok {
			return ble.AdvertisementFrame{}, false
		}
		path = p

	case signalPropertiesChanged:
		if len(sig.Body) < 2 {
			return ble.AdvertisementFrame{}, false
		}
		if iface, ok := sig.Body[0].(string); !ok || iface != bluezDevice1 {
			return ble.AdvertisementFrame{}, false
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return ble.AdvertisementFrame{}, false
		}
		path, props = sig.Path, changed

	default:
		return ble.AdvertisementFrame{}, false
	}

	addr, ok := addressFromPath(adapter, path)
	if !ok {
		return ble.AdvertisementFrame{}, false
	}
	return ble.AdvertisementFrame{
		Address:    addr,
		Fields:     fieldsFromProperties(props),
		ReceivedAt: at,
	}, true
}

// frameSet merges frames per address, keeping first-seen order.
type frameSet struct {
	index  map[device.HardwareAddress]int
	frames []ble.AdvertisementFrame
}

func newFrameSet() *frameSet {
	return &frameSet{index: make(map[device.HardwareAddress]int)}
}

func (s *frameSet) add(f ble.AdvertisementFrame) {
	if i, ok := s.index[f.Address]; ok {
		s.frames[i].Fields = append(s.frames[i].Fields, f.Fields...)
		s.frames[i].ReceivedAt = f.ReceivedAt
		return
	}
	s.index[f.Address] = len(s.frames)
	s.frames = append(s.frames, f)
}
