// Package config manages application configuration loading and validation.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment fleetrelay operates in.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// ServerConfig configures the websocket listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// OpsConfig configures the operational HTTP surface.
type OpsConfig struct {
	Addr string `yaml:"addr"`
}

// FanoutConfig sizes outbound delivery.
type FanoutConfig struct {
	Workers      int    `yaml:"workers"`
	WriteTimeout string `yaml:"writeTimeout"`
}

// ThrottleConfig bounds per-driver location sample intake.
type ThrottleConfig struct {
	SamplesPerSecond float64 `yaml:"samplesPerSecond"`
	Burst            int     `yaml:"burst"`
}

// PostgresConfig configures the notification database. When DSN is empty the
// relay falls back to the data service REST store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// DataServiceConfig points at the fleet data service REST API.
type DataServiceConfig struct {
	BaseURL     string `yaml:"baseUrl"`
	MaxAttempts int    `yaml:"maxAttempts"`
}

// ETAConfig points at the routing engine used for arrival estimates.
type ETAConfig struct {
	BaseURL string `yaml:"baseUrl"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// AppConfig is the unified fleetrelay configuration sourced from YAML.
type AppConfig struct {
	Environment Environment       `yaml:"environment"`
	Server      ServerConfig      `yaml:"server"`
	Ops         OpsConfig         `yaml:"ops"`
	Fanout      FanoutConfig      `yaml:"fanout"`
	Throttle    ThrottleConfig    `yaml:"throttle"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	DataService DataServiceConfig `yaml:"dataService"`
	ETA         ETAConfig         `yaml:"eta"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// Default returns the built-in configuration used when no file is supplied.
func Default() AppConfig {
	return AppConfig{
		Environment: EnvDev,
		Server:      ServerConfig{Addr: ":8080", Path: "/ws"},
		Ops:         OpsConfig{Addr: ":8081"},
		Fanout:      FanoutConfig{Workers: 8, WriteTimeout: "250ms"},
		Throttle:    ThrottleConfig{SamplesPerSecond: 2, Burst: 3},
		Postgres:    PostgresConfig{DSN: ""},
		DataService: DataServiceConfig{BaseURL: "http://localhost:9000", MaxAttempts: 3},
		ETA:         ETAConfig{BaseURL: ""},
		Telemetry:   TelemetryConfig{ServiceName: "fleetrelay", EnableMetrics: false},
	}
}

// Load reads and validates an AppConfig from the provided YAML file, then
// applies environment variable overrides.
func Load(configPath string) (AppConfig, error) {
	candidate := filepath.Clean(strings.TrimSpace(configPath))
	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return AppConfig{}, fmt.Errorf("open app config: %w", err)
	}
	defer func() { _ = file.Close() }()

	raw, err := io.ReadAll(file)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnv()
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads the file when path is non-empty, otherwise returns the
// defaults with environment overrides applied.
func LoadOrDefault(configPath string) (AppConfig, error) {
	if strings.TrimSpace(configPath) != "" {
		return Load(configPath)
	}
	cfg := Default()
	cfg.applyEnv()
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("FLEETRELAY_ENV")); v != "" {
		c.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("FLEETRELAY_LISTEN_ADDR")); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("FLEETRELAY_OPS_ADDR")); v != "" {
		c.Ops.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("FLEETRELAY_POSTGRES_DSN")); v != "" {
		c.Postgres.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("FLEETRELAY_DATA_SERVICE_URL")); v != "" {
		c.DataService.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("FLEETRELAY_ETA_URL")); v != "" {
		c.ETA.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("FLEETRELAY_OTLP_ENDPOINT")); v != "" {
		c.Telemetry.OTLPEndpoint = v
		c.Telemetry.EnableMetrics = true
	}
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Server.Path = strings.TrimSpace(c.Server.Path)
	if c.Server.Path == "" {
		c.Server.Path = "/ws"
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		c.Server.Path = "/" + c.Server.Path
	}
	c.Ops.Addr = strings.TrimSpace(c.Ops.Addr)
	c.Postgres.DSN = strings.TrimSpace(c.Postgres.DSN)
	c.DataService.BaseURL = strings.TrimRight(strings.TrimSpace(c.DataService.BaseURL), "/")
	if c.DataService.MaxAttempts <= 0 {
		c.DataService.MaxAttempts = 3
	}
	c.ETA.BaseURL = strings.TrimRight(strings.TrimSpace(c.ETA.BaseURL), "/")
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Fanout.Workers <= 0 {
		c.Fanout.Workers = 8
	}
	if strings.TrimSpace(c.Fanout.WriteTimeout) == "" {
		c.Fanout.WriteTimeout = "250ms"
	}
	if c.Throttle.SamplesPerSecond <= 0 {
		c.Throttle.SamplesPerSecond = 2
	}
	if c.Throttle.Burst <= 0 {
		c.Throttle.Burst = 3
	}
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr required")
	}
	if c.Ops.Addr == "" {
		return fmt.Errorf("ops addr required")
	}
	if _, err := c.WriteTimeout(); err != nil {
		return err
	}
	if c.DataService.BaseURL == "" {
		return fmt.Errorf("dataService baseUrl required")
	}
	if c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	return nil
}

// WriteTimeout returns the parsed per-subscriber write deadline.
func (c AppConfig) WriteTimeout() (time.Duration, error) {
	dur, err := time.ParseDuration(c.Fanout.WriteTimeout)
	if err != nil {
		return 0, fmt.Errorf("fanout writeTimeout: %w", err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("fanout writeTimeout must be > 0")
	}
	return dur, nil
}
