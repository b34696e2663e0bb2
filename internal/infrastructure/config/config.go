package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment variable overrides.
const EnvPrefix = "GRAYLOGIC_BLE_"

// Config is the root configuration structure for the Gray Logic BLE bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	BLE      BLEConfig      `yaml:"ble"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
// The bridge only writes operational radio metrics here, never device telemetry history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// BLEConfig contains the radio, discovery, recovery and device settings.
type BLEConfig struct {
	// Adapter is the HCI adapter name (e.g., "hci0").
	Adapter string `yaml:"adapter"`

	Scan     ScanConfig     `yaml:"scan"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Writer   WriterConfig   `yaml:"writer"`
	Notify   NotifyConfig   `yaml:"notify"`

	// StaleAfter is how long a device may go unseen before derived
	// on/off state is reported as off.
	// Default: 600s
	StaleAfter time.Duration `yaml:"stale_after"`

	// HealthInterval is the health publish period in seconds.
	// Default: 30
	HealthInterval int `yaml:"health_interval"`

	Devices []DeviceConfig `yaml:"devices"`
}

// ScanConfig controls the discovery loop cadence.
type ScanConfig struct {
	// Interval is the wall-clock period between scan passes.
	// Default: 1.1s
	Interval time.Duration `yaml:"interval"`

	// Duration bounds a single scan pass.
	// Default: 1s
	Duration time.Duration `yaml:"duration"`

	// SessionRefreshPasses restarts the scan session after this many
	// successful passes so the stack reports repeated advertisements.
	// 0 disables the refresh. Default: 3
	SessionRefreshPasses int `yaml:"session_refresh_passes"`
}

// RecoveryConfig is the single retry policy for adapter recovery.
type RecoveryConfig struct {
	// MaxAttempts is the number of down/up/restart cycles per recovery.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// ProbeDuration bounds the trial scan run after each attempt.
	// Default: 1s
	ProbeDuration time.Duration `yaml:"probe_duration"`

	// SettleDelay is the wait between bringing the adapter up and probing.
	// Default: 500ms
	SettleDelay time.Duration `yaml:"settle_delay"`

	// AttemptDelay is the backoff between failed attempts.
	// Default: 2s
	AttemptDelay time.Duration `yaml:"attempt_delay"`

	// Cooldown suppresses new recoveries after one has failed.
	// Default: 30s
	Cooldown time.Duration `yaml:"cooldown"`

	// CommandTimeout bounds each adapter control command.
	// Default: 10s
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// HCIConfigBinary is the path to hciconfig, used for adapter down/up.
	// Default: "/usr/bin/hciconfig"
	HCIConfigBinary string `yaml:"hciconfig_binary"`

	// RestartService enables the background service restart step.
	// Default: true
	RestartService bool `yaml:"restart_service"`

	// ServiceUnit is the systemd unit restarted during recovery.
	// Default: "bluetooth.service"
	ServiceUnit string `yaml:"service_unit"`
}

// WriterConfig controls connection-oriented command writes.
type WriterConfig struct {
	// MaxAttempts is the number of connect/write attempts per command.
	// Default: 5
	MaxAttempts int `yaml:"max_attempts"`

	// Backoff is the wait between failed attempts.
	// Default: 500ms
	Backoff time.Duration `yaml:"backoff"`

	// ConnectTimeout bounds a single connection attempt.
	// Default: 5s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ServiceUUID and CharacteristicUUID locate the command endpoint.
	// Default: the ffe0/ffe1 transparent UART pair.
	ServiceUUID        string `yaml:"service_uuid"`
	CharacteristicUUID string `yaml:"characteristic_uuid"`
}

// NotifyConfig controls notification polling of counter devices.
type NotifyConfig struct {
	// Attempts is the number of connect/subscribe attempts per poll.
	// Default: 3
	Attempts int `yaml:"attempts"`

	// Timeout bounds the collection window of one attempt.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`

	// MaxEvents stops collection early once this many values arrived.
	// Default: 3
	MaxEvents int `yaml:"max_events"`

	// MinValues is the number of values an attempt needs to succeed.
	// Default: 2
	MinValues int `yaml:"min_values"`

	// PollInterval is the period between polls. 0 disables polling.
	// Default: 60s
	PollInterval time.Duration `yaml:"poll_interval"`

	ServiceUUID        string `yaml:"service_uuid"`
	CharacteristicUUID string `yaml:"characteristic_uuid"`
}

// DeviceConfig describes one logical device bound to a hardware address.
// Several entries may share an address.
type DeviceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Protocol string `yaml:"protocol"` // jdy08, cc41a, jdy10
	Entity   string `yaml:"entity"`   // switch, light, binary_sensor, sensor

	// Pins are the output indices driven by switch and light entities.
	Pins []int `yaml:"pins,omitempty"`

	// Threshold is the major value above which a binary sensor is on.
	Threshold int `yaml:"threshold,omitempty"`

	// Reading selects the telemetry field a sensor entity reports.
	Reading string `yaml:"reading,omitempty"`

	// Unit is passed through to state messages for display.
	Unit string `yaml:"unit,omitempty"`
}

// Default GATT endpoints of the JDY/HM-10 family transparent UART service.
const (
	DefaultServiceUUID        = "0000ffe0-0000-1000-8000-00805f9b34fb"
	DefaultCharacteristicUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_BLE_SECTION_KEY
// For example: GRAYLOGIC_BLE_DATABASE_PATH, GRAYLOGIC_BLE_ADAPTER
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-ble.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-ble",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		BLE: BLEConfig{
			Adapter: "hci0",
			Scan: ScanConfig{
				Interval:             1100 * time.Millisecond,
				Duration:             time.Second,
				SessionRefreshPasses: 3,
			},
			Recovery: RecoveryConfig{
				MaxAttempts:     3,
				ProbeDuration:   time.Second,
				SettleDelay:     500 * time.Millisecond,
				AttemptDelay:    2 * time.Second,
				Cooldown:        30 * time.Second,
				CommandTimeout:  10 * time.Second,
				HCIConfigBinary: "/usr/bin/hciconfig",
				RestartService:  true,
				ServiceUnit:     "bluetooth.service",
			},
			Writer: WriterConfig{
				MaxAttempts:        5,
				Backoff:            500 * time.Millisecond,
				ConnectTimeout:     5 * time.Second,
				ServiceUUID:        DefaultServiceUUID,
				CharacteristicUUID: DefaultCharacteristicUUID,
			},
			Notify: NotifyConfig{
				Attempts:           3,
				Timeout:            5 * time.Second,
				MaxEvents:          3,
				MinValues:          2,
				PollInterval:       60 * time.Second,
				ServiceUUID:        DefaultServiceUUID,
				CharacteristicUUID: DefaultCharacteristicUUID,
			},
			StaleAfter:     600 * time.Second,
			HealthInterval: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_BLE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv(EnvPrefix + "DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv(EnvPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv(EnvPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv(EnvPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv(EnvPrefix + "LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// BLE
	if v := os.Getenv(EnvPrefix + "ADAPTER"); v != "" {
		cfg.BLE.Adapter = v
	}
}

// Validate checks the configuration for structural errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	errs = append(errs, c.BLE.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (b *BLEConfig) validate() []string {
	var errs []string

	if b.Adapter == "" {
		errs = append(errs, "ble.adapter is required")
	}
	if b.Scan.Interval <= 0 {
		errs = append(errs, "ble.scan.interval must be positive")
	}
	if b.Scan.Duration <= 0 {
		errs = append(errs, "ble.scan.duration must be positive")
	}
	if b.Scan.Duration >= b.Scan.Interval && b.Scan.Interval > 0 {
		errs = append(errs, "ble.scan.duration must be shorter than ble.scan.interval")
	}
	if b.Recovery.MaxAttempts < 1 {
		errs = append(errs, "ble.recovery.max_attempts must be at least 1")
	}
	if b.Writer.MaxAttempts < 1 {
		errs = append(errs, "ble.writer.max_attempts must be at least 1")
	}
	if b.Notify.Attempts < 1 {
		errs = append(errs, "ble.notify.attempts must be at least 1")
	}
	if b.Notify.MinValues > b.Notify.MaxEvents {
		errs = append(errs, "ble.notify.min_values must not exceed ble.notify.max_events")
	}

	ids := make(map[string]bool, len(b.Devices))
	for i, d := range b.Devices {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("ble.devices[%d].id is required", i))
		} else if ids[d.ID] {
			errs = append(errs, fmt.Sprintf("ble.devices[%d].id %q is duplicated", i, d.ID))
		}
		ids[d.ID] = true

		if d.Address == "" {
			errs = append(errs, fmt.Sprintf("ble.devices[%d].address is required", i))
		}
		switch d.Protocol {
		case "jdy08", "cc41a", "jdy10":
		default:
			errs = append(errs, fmt.Sprintf("ble.devices[%d].protocol %q is not one of jdy08, cc41a, jdy10", i, d.Protocol))
		}
		switch d.Entity {
		case "switch", "light", "binary_sensor", "sensor":
		default:
			errs = append(errs, fmt.Sprintf("ble.devices[%d].entity %q is not one of switch, light, binary_sensor, sensor", i, d.Entity))
		}
	}

	return errs
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.BLE.HealthInterval) * time.Second
}
