package ble

import (
	"fmt"

	"github.com/nerrad567/gray-logic-ble/internal/device"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/config"
)

// RecoveryPolicyFromConfig converts the recovery section of the config.
func RecoveryPolicyFromConfig(cfg config.RecoveryConfig) RecoveryPolicy {
	return RecoveryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		ProbeDuration:  cfg.ProbeDuration,
		SettleDelay:    cfg.SettleDelay,
		AttemptDelay:   cfg.AttemptDelay,
		Cooldown:       cfg.Cooldown,
		RestartService: cfg.RestartService,
	}
}

// WriterPolicyFromConfig converts the writer section of the config.
func WriterPolicyFromConfig(cfg config.WriterConfig) WriterPolicy {
	return WriterPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		Backoff:        cfg.Backoff,
		ConnectTimeout: cfg.ConnectTimeout,
		Endpoint:       endpoint(cfg.ServiceUUID, cfg.CharacteristicUUID),
	}
}

// NotifyPolicyFromConfig converts the notify section of the config.
func NotifyPolicyFromConfig(cfg config.NotifyConfig) NotifyPolicy {
	return NotifyPolicy{
		Attempts:  cfg.Attempts,
		Timeout:   cfg.Timeout,
		MaxEvents: cfg.MaxEvents,
		MinValues: cfg.MinValues,
		Endpoint:  endpoint(cfg.ServiceUUID, cfg.CharacteristicUUID),
	}
}

func endpoint(service, characteristic string) Endpoint {
	if service == "" {
		service = config.DefaultServiceUUID
	}
	if characteristic == "" {
		characteristic = config.DefaultCharacteristicUUID
	}
	return Endpoint{Service: service, Characteristic: characteristic}
}

// BuildDevices creates the device registry and entity list from config.
//
// Devices sharing an address are all registered under it. Entities inherit
// the configured stale threshold.
func BuildDevices(cfg config.BLEConfig) (*device.Registry, []*Entity, error) {
	reg := device.NewRegistry()
	entities := make([]*Entity, 0, len(cfg.Devices))

	for i, dc := range cfg.Devices {
		addr, err := device.ParseAddress(dc.Address)
		if err != nil {
			return nil, nil, fmt.Errorf("device %d (%s): %w", i, dc.ID, err)
		}
		protocol, err := device.ParseProtocol(dc.Protocol)
		if err != nil {
			return nil, nil, fmt.Errorf("device %d (%s): %w", i, dc.ID, err)
		}
		d, err := device.New(dc.ID, dc.Name, addr, protocol)
		if err != nil {
			return nil, nil, fmt.Errorf("device %d: %w", i, err)
		}
		if err := reg.Register(d); err != nil {
			return nil, nil, fmt.Errorf("device %d: %w", i, err)
		}

		kind, err := ParseEntityKind(dc.Entity)
		if err != nil {
			return nil, nil, fmt.Errorf("device %s: %w", dc.ID, err)
		}
		e := NewEntity(kind, d)
		if len(dc.Pins) > 0 {
			e.Pins = append([]int(nil), dc.Pins...)
		}
		for _, pin := range e.Pins {
			if _, err := EncodeCommand(pin, false); err != nil {
				return nil, nil, fmt.Errorf("device %s: %w", dc.ID, err)
			}
		}
		if kind == EntitySensor && !ValidReading(protocol, dc.Reading) {
			return nil, nil, fmt.Errorf("device %s: %w: reading %q not available for %s",
				dc.ID, ErrInvalidEntity, dc.Reading, protocol)
		}
		e.Threshold = dc.Threshold
		e.Reading = dc.Reading
		e.Unit = dc.Unit
		e.StaleAfter = cfg.StaleAfter
		entities = append(entities, e)
	}
	return reg, entities, nil
}
