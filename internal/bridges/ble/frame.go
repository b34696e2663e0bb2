package ble

import (
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// Field is one advertisement data structure: a type code and its raw value.
type Field struct {
	Type    device.FieldType
	Payload []byte
}

// AdvertisementFrame is everything one scan pass observed from one address.
type AdvertisementFrame struct {
	Address    device.HardwareAddress
	Fields     []Field
	ReceivedAt time.Time
}
