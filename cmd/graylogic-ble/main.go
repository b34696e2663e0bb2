// Gray Logic BLE bridge.
//
// Listens for advertisements from JDY-08, CC41-A and JDY-10 modules,
// decodes their telemetry and publishes it on the Gray Logic MQTT bus.
// Commands arriving on MQTT are written to the devices over short-lived
// GATT connections that never overlap a scan pass.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-ble/migrations"

	"github.com/nerrad567/gray-logic-ble/internal/audit"
	"github.com/nerrad567/gray-logic-ble/internal/bluez"
	"github.com/nerrad567/gray-logic-ble/internal/bridges/ble"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-ble/internal/process"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configPathEnv     = "GRAYLOGIC_BLE_CONFIG"

	minSweepInterval = time.Second
)

func main() {
	configFlag := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, getConfigPath(*configFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bridge and blocks until ctx is cancelled.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or the first startup failure
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Gray Logic BLE bridge", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.BLE.Devices))

	registry, entities, err := ble.BuildDevices(cfg.BLE)
	if err != nil {
		return fmt.Errorf("building devices: %w", err)
	}
	log.Info("device registry initialised", "devices", registry.Len(), "addresses", registry.AddressCount())

	db, err := database.Open(database.FromConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	events := audit.NewRadioRecorder(audit.NewSQLiteRepository(db.DB), cfg.BLE.Adapter)
	log.Info("database ready", "path", cfg.Database.Path)

	influxClient, metrics, err := connectMetrics(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	bus, err := bluez.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connecting to system bus: %w", err)
	}
	defer bus.Close() //nolint:errcheck // Shutdown path

	guard := ble.NewRadioGuard()
	scanner := bluez.NewScanner(bus, cfg.BLE.Adapter)
	scanner.SetLogger(log)

	hciconfig := process.NewRunner(process.Config{
		Name:    "hciconfig",
		Binary:  cfg.BLE.Recovery.HCIConfigBinary,
		Timeout: cfg.BLE.Recovery.CommandTimeout,
	})
	hciconfig.SetLogger(log)
	adapterCtl := bluez.NewAdapterControl(cfg.BLE.Adapter, hciconfig, bus, cfg.BLE.Recovery.ServiceUnit)
	adapterCtl.SetLogger(log)

	recovery := ble.NewRecoveryController(adapterCtl, scanner, ble.RecoveryPolicyFromConfig(cfg.BLE.Recovery))
	recovery.SetLogger(log)
	recovery.SetMetrics(metrics)
	recovery.SetEvents(events)

	loop := ble.NewDiscoveryLoop(ble.DiscoveryLoopOptions{
		Registry:             registry,
		Scanner:              scanner,
		Guard:                guard,
		Recovery:             recovery,
		ScanDuration:         cfg.BLE.Scan.Duration,
		SessionRefreshPasses: cfg.BLE.Scan.SessionRefreshPasses,
		Metrics:              metrics,
		Logger:               log,
	})

	connector := bluez.NewConnector(cfg.BLE.Adapter)
	connector.SetLogger(log)
	writer := ble.NewCommandWriter(connector, guard,
		ble.WriterPolicyFromConfig(cfg.BLE.Writer), ble.NotifyPolicyFromConfig(cfg.BLE.Notify))
	writer.SetLogger(log)
	writer.SetMetrics(metrics)
	writer.SetEvents(events)
	writer.SetDiscovery(scanner)

	bridgeID := ble.Protocol + "-" + cfg.Site.ID
	mqttClient, err := connectMQTT(cfg, bridgeID)
	if err != nil {
		loop.Stop()
		return err
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := ble.NewBridge(ble.BridgeOptions{
		BridgeID:       bridgeID,
		Version:        version,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Writer:         writer,
		Entities:       entities,
		Loop:           loop,
		Recovery:       recovery,
		HealthInterval: cfg.GetHealthInterval(),
		Logger:         log,
	})
	if err != nil {
		loop.Stop()
		return fmt.Errorf("creating BLE bridge: %w", err)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, bus); err != nil {
		loop.Stop()
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if err := bridge.Start(ctx); err != nil {
		loop.Stop()
		return fmt.Errorf("starting BLE bridge: %w", err)
	}

	sched := newScheduler(cfg, loop, bridge)
	sched.SetLogger(log)

	log.Info("initialisation complete, scanning",
		"adapter", cfg.BLE.Adapter,
		"interval", cfg.BLE.Scan.Interval,
		"duration", cfg.BLE.Scan.Duration,
	)
	sched.Run(ctx)

	log.Info("Gray Logic BLE bridge stopped")
	return nil
}

// newScheduler registers the periodic radio jobs and the shutdown order.
// Hooks run last-registered first: pending commands are cancelled so they
// give up the radio, then the discovery loop stops, then the bridge, so no
// frame is decoded after the bridge has detached its observers.
func newScheduler(cfg *config.Config, loop *ble.DiscoveryLoop, bridge *ble.Bridge) *ble.Scheduler {
	sched := ble.NewScheduler()

	sched.OnInterval("scan", cfg.BLE.Scan.Interval, func(ctx context.Context) {
		loop.RunOnce(ctx)
	})
	sched.OnInterval("stale-sweep", sweepInterval(cfg.BLE.StaleAfter), func(context.Context) {
		bridge.SweepStale(time.Now())
	})
	sched.OnInterval("poll-counters", cfg.BLE.Notify.PollInterval, bridge.PollCounters)

	sched.OnShutdown(bridge.Stop)
	sched.OnShutdown(loop.Stop)
	sched.OnShutdown(bridge.CancelCommands)
	return sched
}

// sweepInterval checks staleness ten times per stale window.
func sweepInterval(staleAfter time.Duration) time.Duration {
	return max(staleAfter/10, minSweepInterval)
}

// getConfigPath picks the -config flag, then GRAYLOGIC_BLE_CONFIG, then the
// default path.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMetrics connects to InfluxDB when enabled. With InfluxDB disabled
// both results are nil and the radio runs without metrics.
func connectMetrics(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, ble.MetricsRecorder, error) {
	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled, radio metrics off")
		return nil, nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	return client, influxdb.NewRadioMetrics(client, cfg.BLE.Adapter), nil
}

// connectMQTT connects with a retained offline health message as the will.
func connectMQTT(cfg *config.Config, bridgeID string) (*mqtt.Client, error) {
	lwt, err := ble.LWTPayload(bridgeID)
	if err != nil {
		return nil, fmt.Errorf("encoding LWT: %w", err)
	}
	client, err := mqtt.Connect(cfg.MQTT, mqtt.Will{Topic: ble.HealthTopic(), Payload: lwt})
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	return client, nil
}

// healthChecker is satisfied by every dependency checked at startup.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies each infrastructure connection once before the
// radio starts.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection
//   - mqttClient: MQTT client
//   - influxClient: InfluxDB client, nil when disabled
//   - bus: System bus used for adapter control
//
// Returns:
//   - error: First failing dependency, or nil
func healthCheck(ctx context.Context, db, mqttClient healthChecker, influxClient *influxdb.Client, bus *bluez.SystemBus) error {
	checks := []struct {
		name    string
		checker healthChecker
	}{
		{"database", db},
		{"mqtt", mqttClient},
	}
	if influxClient != nil {
		checks = append(checks, struct {
			name    string
			checker healthChecker
		}{"influxdb", influxClient})
	}

	for _, c := range checks {
		if err := c.checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}

	if bus != nil && !bus.Connected() {
		return fmt.Errorf("system bus: %w", bluez.ErrNoServiceBus)
	}
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to ble.MQTTClient.
// The infrastructure handlers return an error; the bridge's do not.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect is a no-op: the MQTT client is closed by run's defer chain.
func (a *mqttBridgeAdapter) Disconnect(uint) {}
