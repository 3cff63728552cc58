package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "GRAYLOGIC_RELAY_"

// Link backends.
const (
	BackendHost           = "host"
	BackendNMCLI          = "nmcli"
	BackendWPASupplicant  = "wpa_supplicant"
	OutputBackendGPIOCDev = "gpiocdev"
	OutputBackendMemory   = "memory"
)

// Config is the root configuration structure for the relay node.
// Values come from defaults, then the YAML file, then the environment.
type Config struct {
	Node       NodeConfig       `yaml:"node" envPrefix:"NODE_"`
	WiFi       WiFiConfig       `yaml:"wifi" envPrefix:"WIFI_"`
	MQTT       MQTTConfig       `yaml:"mqtt" envPrefix:"MQTT_"`
	Supervisor SupervisorConfig `yaml:"supervisor" envPrefix:"SUPERVISOR_"`
	Output     OutputConfig     `yaml:"output" envPrefix:"OUTPUT_"`
	Database   DatabaseConfig   `yaml:"database" envPrefix:"DATABASE_"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb" envPrefix:"INFLUXDB_"`
	API        APIConfig        `yaml:"api" envPrefix:"API_"`
	WebSocket  WebSocketConfig  `yaml:"websocket" envPrefix:"WEBSOCKET_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOGGING_"`
}

// NodeConfig identifies this relay node in logs, telemetry and the API.
type NodeConfig struct {
	Name string `yaml:"name" env:"NAME"`
}

// WiFiConfig contains wireless link settings.
type WiFiConfig struct {
	// Backend selects how the link is brought up: "host", "nmcli" or "wpa_supplicant".
	Backend   string `yaml:"backend" env:"BACKEND"`
	Interface string `yaml:"interface" env:"INTERFACE"`
	SSID      string `yaml:"ssid" env:"SSID"`
	Password  string `yaml:"password" env:"PASSWORD"`

	// PollInterval is the delay between link status checks while connecting.
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`

	// Timeout bounds a single link ensure. Zero waits forever.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	NMCLI      NMCLIConfig      `yaml:"nmcli" envPrefix:"NMCLI_"`
	Supplicant SupplicantConfig `yaml:"wpa_supplicant" envPrefix:"WPA_SUPPLICANT_"`
}

// NMCLIConfig contains NetworkManager CLI settings.
type NMCLIConfig struct {
	Binary string `yaml:"binary" env:"BINARY"`
}

// SupplicantConfig contains settings for a managed wpa_supplicant daemon.
type SupplicantConfig struct {
	Binary     string `yaml:"binary" env:"BINARY"`
	ConfigPath string `yaml:"config_path" env:"CONFIG_PATH"`
	Driver     string `yaml:"driver" env:"DRIVER"`

	// RestartDelay is the pause before restarting a crashed daemon.
	RestartDelay time.Duration `yaml:"restart_delay" env:"RESTART_DELAY"`

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts" env:"MAX_RESTART_ATTEMPTS"`
}

// MQTTConfig contains MQTT broker session settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`

	// ControlTopic is the single topic whose payloads drive the output.
	ControlTopic string `yaml:"control_topic" env:"CONTROL_TOPIC"`

	// StatusTopic receives retained online/offline payloads and the LWT.
	// Empty disables availability reporting.
	StatusTopic string `yaml:"status_topic" env:"STATUS_TOPIC"`

	KeepAlive      time.Duration `yaml:"keep_alive" env:"KEEP_ALIVE"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`

	Retry MQTTRetryConfig `yaml:"retry" envPrefix:"RETRY_"`

	// InboundQueue is the number of messages buffered between pumps.
	InboundQueue int `yaml:"inbound_queue" env:"INBOUND_QUEUE"`

	// MaxPayload drops control messages larger than this many bytes.
	MaxPayload int `yaml:"max_payload" env:"MAX_PAYLOAD"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`

	// UniqueClientID appends a random suffix to ClientID once at startup.
	UniqueClientID bool `yaml:"unique_client_id" env:"UNIQUE_CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// MQTTRetryConfig controls session re-establishment.
type MQTTRetryConfig struct {
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`

	// MaxAttempts per ensure. 0 means retry until connected.
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
}

// SupervisorConfig contains the supervisory loop timing.
type SupervisorConfig struct {
	Interval   time.Duration `yaml:"interval" env:"INTERVAL"`
	Resolution time.Duration `yaml:"resolution" env:"RESOLUTION"`
}

// OutputConfig describes the controlled digital output line.
type OutputConfig struct {
	Backend   string `yaml:"backend" env:"BACKEND"`
	Chip      string `yaml:"chip" env:"CHIP"`
	Line      int    `yaml:"line" env:"LINE"`
	ActiveLow bool   `yaml:"active_low" env:"ACTIVE_LOW"`
	Consumer  string `yaml:"consumer" env:"CONSUMER"`
}

// DatabaseConfig contains SQLite event history settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	Path        string `yaml:"path" env:"PATH"`
	WALMode     bool   `yaml:"wal_mode" env:"WAL_MODE"`
	BusyTimeout int    `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`

	// Retention is how long events are kept. 0 keeps them forever.
	Retention     time.Duration `yaml:"retention" env:"RETENTION"`
	PruneInterval time.Duration `yaml:"prune_interval" env:"PRUNE_INTERVAL"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	URL           string `yaml:"url" env:"URL"`
	Token         string `yaml:"token" env:"TOKEN"`
	Org           string `yaml:"org" env:"ORG"`
	Bucket        string `yaml:"bucket" env:"BUCKET"`
	BatchSize     int    `yaml:"batch_size" env:"BATCH_SIZE"`
	FlushInterval int    `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
}

// APIConfig contains the local status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled" env:"ENABLED"`
	Host     string           `yaml:"host" env:"HOST"`
	Port     int              `yaml:"port" env:"PORT"`
	Timeouts APITimeoutConfig `yaml:"timeouts" envPrefix:"TIMEOUT_"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read" env:"READ"`
	Write int `yaml:"write" env:"WRITE"`
	Idle  int `yaml:"idle" env:"IDLE"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path" env:"PATH"`
	MaxMessageSize int    `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	PingInterval   int    `yaml:"ping_interval" env:"PING_INTERVAL"`
	PongTimeout    int    `yaml:"pong_timeout" env:"PONG_TIMEOUT"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level" env:"LEVEL"`
	Format string            `yaml:"format" env:"FORMAT"`
	Output string            `yaml:"output" env:"OUTPUT"`
	File   FileLoggingConfig `yaml:"file" envPrefix:"FILE_"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path" env:"PATH"`
	MaxSize    int    `yaml:"max_size" env:"MAX_SIZE"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAge     int    `yaml:"max_age" env:"MAX_AGE"`
	Compress   bool   `yaml:"compress" env:"COMPRESS"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. A .env file next to the working directory, if present
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_RELAY_SECTION_KEY
// For example: GRAYLOGIC_RELAY_WIFI_PASSWORD, GRAYLOGIC_RELAY_MQTT_HOST
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

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the reference device's settings.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Name: "relay-001",
		},
		WiFi: WiFiConfig{
			Backend:      BackendHost,
			SSID:         "Wokwi-GUEST",
			PollInterval: 100 * time.Millisecond,
			NMCLI: NMCLIConfig{
				Binary: "nmcli",
			},
			Supplicant: SupplicantConfig{
				Binary:             "/usr/sbin/wpa_supplicant",
				ConfigPath:         "/run/graylogic-relay/wpa_supplicant.conf",
				Driver:             "nl80211",
				RestartDelay:       5 * time.Second,
				MaxRestartAttempts: 0,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "broker.hivemq.com",
				Port:     1883,
				ClientID: "esp32_mqtt",
			},
			ControlTopic:   "topic_on_off_led",
			KeepAlive:      15 * time.Second,
			ConnectTimeout: 10 * time.Second,
			Retry: MQTTRetryConfig{
				Interval:    2 * time.Second,
				MaxAttempts: 0,
			},
			InboundQueue: 16,
			MaxPayload:   256,
		},
		Supervisor: SupervisorConfig{
			Interval:   2 * time.Second,
			Resolution: 50 * time.Millisecond,
		},
		Output: OutputConfig{
			Backend:  OutputBackendGPIOCDev,
			Chip:     "gpiochip0",
			Line:     2,
			Consumer: "graylogic-relay",
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/relay.db",
			WALMode:       true,
			BusyTimeout:   5,
			Retention:     7 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/relay.log",
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
	}
}

// applyEnvOverrides loads an optional .env file and then applies
// GRAYLOGIC_RELAY_* variables on top of the file configuration.
func applyEnvOverrides(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Node.Name == "" {
		errs = append(errs, "node.name is required")
	}

	// WiFi
	switch c.WiFi.Backend {
	case BackendHost:
	case BackendNMCLI, BackendWPASupplicant:
		if c.WiFi.SSID == "" {
			errs = append(errs, "wifi.ssid is required for the "+c.WiFi.Backend+" backend")
		}
		if c.WiFi.Backend == BackendWPASupplicant && c.WiFi.Interface == "" {
			errs = append(errs, "wifi.interface is required for the wpa_supplicant backend")
		}
	default:
		errs = append(errs, "wifi.backend must be host, nmcli, or wpa_supplicant")
	}
	if c.WiFi.PollInterval <= 0 {
		errs = append(errs, "wifi.poll_interval must be positive")
	}
	if c.WiFi.Timeout < 0 {
		errs = append(errs, "wifi.timeout must not be negative")
	}

	// MQTT
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.ControlTopic == "" {
		errs = append(errs, "mqtt.control_topic is required")
	} else if strings.ContainsAny(c.MQTT.ControlTopic, "+#") {
		errs = append(errs, "mqtt.control_topic must not contain wildcards")
	}
	if strings.ContainsAny(c.MQTT.StatusTopic, "+#") {
		errs = append(errs, "mqtt.status_topic must not contain wildcards")
	}
	if c.MQTT.Retry.Interval <= 0 {
		errs = append(errs, "mqtt.retry.interval must be positive")
	}
	if c.MQTT.Retry.MaxAttempts < 0 {
		errs = append(errs, "mqtt.retry.max_attempts must not be negative")
	}
	if c.MQTT.InboundQueue < 1 {
		errs = append(errs, "mqtt.inbound_queue must be at least 1")
	}
	if c.MQTT.MaxPayload < 1 {
		errs = append(errs, "mqtt.max_payload must be at least 1")
	}

	// Supervisor
	if c.Supervisor.Interval <= 0 {
		errs = append(errs, "supervisor.interval must be positive")
	}
	if c.Supervisor.Resolution <= 0 || c.Supervisor.Resolution > c.Supervisor.Interval {
		errs = append(errs, "supervisor.resolution must be positive and not exceed supervisor.interval")
	}

	// Output
	switch c.Output.Backend {
	case OutputBackendGPIOCDev:
		if c.Output.Chip == "" {
			errs = append(errs, "output.chip is required for the gpiocdev backend")
		}
		if c.Output.Line < 0 {
			errs = append(errs, "output.line must not be negative")
		}
	case OutputBackendMemory:
	default:
		errs = append(errs, "output.backend must be gpiocdev or memory")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.Retention < 0 {
		errs = append(errs, "database.retention must not be negative")
	}
	if c.Database.Retention > 0 && c.Database.PruneInterval <= 0 {
		errs = append(errs, "database.prune_interval must be positive when retention is set")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Logging.Output == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerAddress returns the broker as host:port.
func (c *Config) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.MQTT.Broker.Host, c.MQTT.Broker.Port)
}

// ReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) WriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
