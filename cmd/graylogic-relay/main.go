// Gray Logic Relay - network-controlled output node
//
// This is the main entry point for the relay. It keeps a WiFi link and a
// broker session alive and drives one output line from the payloads
// published on the control topic ("1" high, "0" low).
//
// Startup blocks until the link and the first broker session are up;
// after that the supervisor re-checks both every couple of seconds and
// pumps inbound messages in between.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-relay/internal/api"
	"github.com/nerrad567/gray-logic-relay/internal/audit"
	"github.com/nerrad567/gray-logic-relay/internal/control"
	"github.com/nerrad567/gray-logic-relay/internal/events"
	"github.com/nerrad567/gray-logic-relay/internal/gpio"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-relay/internal/link"
	"github.com/nerrad567/gray-logic-relay/internal/retry"
	"github.com/nerrad567/gray-logic-relay/internal/session"
	"github.com/nerrad567/gray-logic-relay/internal/supervisor"
	"github.com/nerrad567/gray-logic-relay/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// configEnvVar overrides defaultConfigPath.
	configEnvVar = "GRAYLOGIC_RELAY_CONFIG"

	eventQueueSize = 256
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown (including a signal during startup),
//     or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Relay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	base := logging.New(cfg.Logging, version)
	defer base.Close()
	log = base.With("node", cfg.Node.Name)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Event fan-out. Sinks are subscribed before the bus starts.
	bus := events.NewBus(eventQueueSize, log)
	checks := make(map[string]api.HealthChecker)

	var eventLog *audit.SQLiteRepository
	if cfg.Database.Enabled {
		db, openErr := openDatabase(ctx, cfg.Database, log)
		if openErr != nil {
			return openErr
		}
		defer closeWithLog(log, "database", db)

		eventLog = audit.NewSQLiteRepository(db.DB)
		bus.Subscribe("audit", eventLog)
		checks["database"] = db

		// The pruner must finish before the database closes.
		pruneCtx, stopPrune := context.WithCancel(ctx)
		pruneDone := make(chan struct{})
		go func() {
			defer close(pruneDone)
			audit.RunRetention(pruneCtx, eventLog, cfg.Database.Retention, cfg.Database.PruneInterval, log)
		}()
		defer func() {
			stopPrune()
			<-pruneDone
		}()
		if cfg.Database.Retention > 0 {
			log.Info("event retention enabled", "retention", cfg.Database.Retention, "interval", cfg.Database.PruneInterval)
		}
	} else {
		log.Info("event history disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Node.Name)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer closeWithLog(log, "InfluxDB", influxClient)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		bus.Subscribe("influxdb", influxClient)
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		bus.Subscribe("websocket", hub)
	}

	busCtx, stopBus := context.WithCancel(context.Background())
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		bus.Run(busCtx)
	}()
	// Stopping the bus drains queued events into the sinks, so it must
	// happen before the sinks above are closed.
	defer func() {
		stopBus()
		<-busDone
		if dropped := bus.Dropped(); dropped > 0 {
			log.Warn("events dropped during run", "count", dropped)
		}
	}()

	// Output starts low, matching a freshly reset board.
	pin, err := gpio.Open(cfg.Output, control.Low)
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	defer closeWithLog(log, "output", pin)
	log.Info("output ready", "backend", cfg.Output.Backend, "chip", cfg.Output.Chip, "line", cfg.Output.Line)

	handler := control.NewHandler(pin, control.Low, log, bus)

	// WiFi link
	transport, err := link.NewTransport(cfg.WiFi, log)
	if err != nil {
		return fmt.Errorf("creating link transport: %w", err)
	}
	if closer, ok := transport.(io.Closer); ok {
		defer closeWithLog(log, "link transport", closer)
	}
	linkMgr := link.NewManager(transport, link.Config{
		SSID:         cfg.WiFi.SSID,
		Password:     cfg.WiFi.Password,
		PollInterval: cfg.WiFi.PollInterval,
		Timeout:      cfg.WiFi.Timeout,
	}, log, bus)

	log.Info("connecting to WiFi", "backend", cfg.WiFi.Backend, "ssid", cfg.WiFi.SSID)
	state, err := linkMgr.Ensure(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown during startup")
			return nil
		}
		return fmt.Errorf("bringing up link: %w", err)
	}
	log.Info("WiFi connected", "address", state.Address.String())

	// Broker session
	mqttClient := mqtt.New(cfg.MQTT)
	mqttClient.SetLogger(log)
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	checks["mqtt"] = mqttClient

	sessionMgr := session.NewManager(mqttClient, linkMgr, handler, session.Config{
		Host:       cfg.MQTT.Broker.Host,
		Port:       cfg.MQTT.Broker.Port,
		ClientID:   clientID(cfg.MQTT.Broker),
		Topic:      cfg.MQTT.ControlTopic,
		MaxPayload: cfg.MQTT.MaxPayload,
		Retry: retry.Policy{
			MaxAttempts: cfg.MQTT.Retry.MaxAttempts,
			Delay:       cfg.MQTT.Retry.Interval,
		},
	}, log, bus)

	sup := supervisor.New(linkMgr, sessionMgr, supervisor.Config{
		Interval:   cfg.Supervisor.Interval,
		Resolution: cfg.Supervisor.Resolution,
	}, log, time.Now())

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log,
			Node:       cfg.Node.Name,
			Version:    version,
			Link:       linkMgr,
			Session:    sessionMgr,
			Output:     handler,
			Supervisor: sup,
			Checks:     checks,
			Hub:        hub,
		}
		if eventLog != nil {
			deps.Events = eventLog
		}
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		go hub.Run(ctx)
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer closeWithLog(log, "API server", server)
	} else {
		log.Info("API disabled")
	}

	log.Info("connecting to MQTT", "broker", cfg.BrokerAddress())
	if err := sessionMgr.Ensure(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown during startup")
			return nil
		}
		// The supervisor keeps retrying on its own schedule.
		log.Warn("initial MQTT session failed", "error", err)
	}

	log.Info("initialisation complete, supervising")

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	stats := sup.Stats()
	log.Info("shutdown signal received, cleaning up",
		"cycles", stats.Cycles,
		"link_errors", stats.LinkErrors,
		"session_errors", stats.SessionErrs,
	)

	// Deferred Close() calls run in reverse order: API, MQTT (offline
	// status), link transport, output, event bus, InfluxDB, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_RELAY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// clientID returns the session client ID, with a random suffix when the
// broker config asks for a unique one. It is computed once per process.
func clientID(cfg config.MQTTBrokerConfig) string {
	if !cfg.UniqueClientID {
		return cfg.ClientID
	}
	return cfg.ClientID + "-" + uuid.NewString()[:8]
}

// openDatabase opens the event store and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database opened", "path", db.Path())

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return db, nil
}

// closeWithLog closes c and logs the outcome under name.
func closeWithLog(log *logging.Logger, name string, c io.Closer) {
	log.Info("closing " + name)
	if err := c.Close(); err != nil {
		log.Error("error closing "+name, "error", err)
	}
}
