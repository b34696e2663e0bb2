package influxdb

import (
	"testing"

	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/config"
)

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name      string
		batch     int
		flush     int
		wantBatch uint
		wantFlush uint
	}{
		{name: "configured", batch: 500, flush: 2, wantBatch: 500, wantFlush: 2000},
		{name: "zero uses defaults", wantBatch: defaultBatchSize, wantFlush: 10000},
		{name: "negative uses defaults", batch: -5, flush: -1, wantBatch: defaultBatchSize, wantFlush: 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := clientOptions(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
			if got := opts.BatchSize(); got != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", got, tt.wantBatch)
			}
			if got := opts.FlushInterval(); got != tt.wantFlush {
				t.Errorf("FlushInterval() = %d ms, want %d", got, tt.wantFlush)
			}
		})
	}
}

func TestClient_ZeroValue(t *testing.T) {
	var c Client
	if c.IsConnected() {
		t.Error("IsConnected() on zero Client = true")
	}
	// Neither may touch the nil write API.
	c.Flush()
	c.WritePoint(MeasurementCommand, nil, map[string]interface{}{"attempts": 1})
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero Client error = %v", err)
	}
}
