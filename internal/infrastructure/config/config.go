package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for fleetd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Fleet     FleetConfig     `yaml:"fleet"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Registry  RegistryConfig  `yaml:"registry"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Scripts   ScriptsConfig   `yaml:"scripts"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Reporting ReportingConfig `yaml:"reporting"`
}

// FleetConfig identifies this orchestrator instance.
type FleetConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// Timezone is the IANA zone daily windows and cron expressions are read in.
	Timezone string `yaml:"timezone"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains operations HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket feed settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
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

// RegistryConfig controls device discovery and availability.
type RegistryConfig struct {
	// PollInterval is the active enumeration period in seconds.
	// Devices unseen for twice this long are marked offline.
	PollInterval int `yaml:"poll_interval"`

	// MinBattery is the battery percentage a device must exceed to be available.
	MinBattery int `yaml:"min_battery"`

	ADB ADBConfig `yaml:"adb"`
}

// ADBConfig contains settings for the adb enumerator and server.
type ADBConfig struct {
	Enabled bool   `yaml:"enabled"`
	Binary  string `yaml:"binary"`

	// Managed starts and supervises "adb server" as a child process.
	Managed bool `yaml:"managed"`

	// CommandTimeout bounds each adb invocation (seconds).
	CommandTimeout int `yaml:"command_timeout"`
}

// SchedulerConfig controls plan evaluation and the worker pool.
type SchedulerConfig struct {
	TickInterval       int    `yaml:"tick_interval"`
	MaxConcurrentTasks int    `yaml:"max_concurrent_tasks"`
	PlansFile          string `yaml:"plans_file"`
}

// ScriptsConfig controls the script engine and workflow interpreter.
type ScriptsConfig struct {
	WorkflowDir    string `yaml:"workflow_dir"`
	StepPauseMS    int    `yaml:"step_pause_ms"`
	CommandTimeout int    `yaml:"command_timeout"`
}

// ArtifactsConfig contains the object store used for failure screenshots.
type ArtifactsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`

	// LocalDir stores artifacts on disk when the object store is disabled.
	// Empty discards artifact bytes.
	LocalDir string `yaml:"local_dir"`
}

// ReportingConfig contains optional result fan-out targets.
type ReportingConfig struct {
	AMQP AMQPConfig `yaml:"amqp"`
}

// AMQPConfig configures publishing results to a RabbitMQ exchange.
type AMQPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FLEETD_SECTION_KEY
// For example: FLEETD_DATABASE_PATH, FLEETD_MQTT_HOST
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
		Fleet: FleetConfig{
			ID:       "fleet-001",
			Name:     "Device Fleet",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/fleetd.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fleetd",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Registry: RegistryConfig{
			PollInterval: 10,
			MinBattery:   20,
			ADB: ADBConfig{
				Enabled:        true,
				Binary:         "adb",
				CommandTimeout: 10,
			},
		},
		Scheduler: SchedulerConfig{
			TickInterval:       60,
			MaxConcurrentTasks: 5,
			PlansFile:          "configs/plans.yaml",
		},
		Scripts: ScriptsConfig{
			WorkflowDir:    "workflows",
			StepPauseMS:    1000,
			CommandTimeout: 30,
		},
		Artifacts: ArtifactsConfig{
			Bucket:   "fleet-artifacts",
			LocalDir: "./data/artifacts",
		},
		Reporting: ReportingConfig{
			AMQP: AMQPConfig{
				Exchange: "fleet.results",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FLEETD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Fleet
	if v := os.Getenv("FLEETD_FLEET_TIMEZONE"); v != "" {
		cfg.Fleet.Timezone = v
	}

	// Database
	if v := os.Getenv("FLEETD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FLEETD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FLEETD_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("FLEETD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FLEETD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FLEETD_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("FLEETD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Registry
	if v := os.Getenv("FLEETD_ADB_BINARY"); v != "" {
		cfg.Registry.ADB.Binary = v
	}

	// Scheduler
	if v := os.Getenv("FLEETD_SCHEDULER_PLANS_FILE"); v != "" {
		cfg.Scheduler.PlansFile = v
	}

	// Artifacts and reporting credentials
	if v := os.Getenv("FLEETD_ARTIFACTS_ACCESS_KEY"); v != "" {
		cfg.Artifacts.AccessKey = v
	}
	if v := os.Getenv("FLEETD_ARTIFACTS_SECRET_KEY"); v != "" {
		cfg.Artifacts.SecretKey = v
	}
	if v := os.Getenv("FLEETD_AMQP_URL"); v != "" {
		cfg.Reporting.AMQP.URL = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Fleet.ID == "" {
		errs = append(errs, "fleet.id is required")
	}
	if _, err := time.LoadLocation(c.Fleet.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("fleet.timezone %q is not a valid IANA zone", c.Fleet.Timezone))
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Registry.PollInterval < 1 {
		errs = append(errs, "registry.poll_interval must be at least 1 second")
	}
	if c.Registry.MinBattery < 0 || c.Registry.MinBattery > 100 {
		errs = append(errs, "registry.min_battery must be between 0 and 100")
	}

	if c.Scheduler.TickInterval < 1 {
		errs = append(errs, "scheduler.tick_interval must be at least 1 second")
	}
	if c.Scheduler.MaxConcurrentTasks < 1 {
		errs = append(errs, "scheduler.max_concurrent_tasks must be at least 1")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.Artifacts.Enabled && (c.Artifacts.Endpoint == "" || c.Artifacts.Bucket == "") {
		errs = append(errs, "artifacts.endpoint and artifacts.bucket are required when artifacts are enabled")
	}
	if c.Reporting.AMQP.Enabled && c.Reporting.AMQP.URL == "" {
		errs = append(errs, "reporting.amqp.url is required when amqp reporting is enabled (set FLEETD_AMQP_URL)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the fleet reference timezone.
// Falls back to UTC if the zone cannot be loaded; Validate reports that case.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Fleet.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetPollInterval returns the registry poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Registry.PollInterval) * time.Second
}

// GetTickInterval returns the scheduler tick period as a Duration.
func (c *Config) GetTickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickInterval) * time.Second
}

// GetStepPause returns the pause between workflow step attempts.
func (c *Config) GetStepPause() time.Duration {
	return time.Duration(c.Scripts.StepPauseMS) * time.Millisecond
}

// GetCommandTimeout returns how long a device command may wait for its response.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Scripts.CommandTimeout) * time.Second
}

// GetADBTimeout returns the per-invocation adb timeout.
func (c *Config) GetADBTimeout() time.Duration {
	return time.Duration(c.Registry.ADB.CommandTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
