package audit

import (
	"context"
	"time"
)

// Audit vocabulary for radio events.
const (
	EntityBLEDevice  = "ble_device"
	EntityBLEAdapter = "ble_adapter"
	SourceBLEBridge  = "ble-bridge"
)

// RadioRecorder writes radio events to a Repository. It satisfies
// ble.EventRecorder.
type RadioRecorder struct {
	repo    Repository
	adapter string
	now     func() time.Time
}

// NewRadioRecorder creates a recorder. Events without a device are
// attributed to adapter (for example "hci0").
func NewRadioRecorder(repo Repository, adapter string) *RadioRecorder {
	return &RadioRecorder{repo: repo, adapter: adapter, now: time.Now}
}

// RecordEvent stores one event. kind becomes the action and detail is kept
// under details.detail.
func (r *RadioRecorder) RecordEvent(ctx context.Context, kind, deviceID, detail string) error {
	log := &AuditLog{
		Action:     kind,
		EntityType: EntityBLEDevice,
		EntityID:   deviceID,
		Source:     SourceBLEBridge,
		CreatedAt:  r.now(),
	}
	if deviceID == "" {
		log.EntityType = EntityBLEAdapter
		log.EntityID = r.adapter
	}
	if detail != "" {
		log.Details = map[string]any{"detail": detail}
	}
	return r.repo.Create(ctx, log)
}
