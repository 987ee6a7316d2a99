// Package config loads server settings. CLUE_ environment variables
// override the YAML file, which overrides the built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	HTTP            HTTPConfig      `mapstructure:"http"`
	GRPC            GRPCConfig      `mapstructure:"grpc"`
	WebSocket       WebSocketConfig `mapstructure:"websocket"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
}

type HTTPConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// EnableCGI serves the legacy form endpoint at /clue.cgi.
	EnableCGI bool   `mapstructure:"enable_cgi"`
	Mode      string `mapstructure:"mode"`
}

type GRPCConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Address              string `mapstructure:"address"`
	MaxConcurrentStreams int    `mapstructure:"max_concurrent_streams"`
}

type WebSocketConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects where stored games live.
type StorageConfig struct {
	Driver     string         `mapstructure:"driver"`
	HistoryDir string         `mapstructure:"history_dir"`
	Badger     BadgerConfig   `mapstructure:"badger"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

type BadgerConfig struct {
	Path           string        `mapstructure:"path"`
	InMemory       bool          `mapstructure:"in_memory"`
	SyncWrites     bool          `mapstructure:"sync_writes"`
	GCInterval     time.Duration `mapstructure:"gc_interval"`
	GCDiscardRatio float64       `mapstructure:"gc_discard_ratio"`
}

type PostgresConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConns       int32         `mapstructure:"max_conns"`
	MinConns       int32         `mapstructure:"min_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SimulationConfig bounds the Monte-Carlo estimate served to clients.
type SimulationConfig struct {
	Trials  int           `mapstructure:"trials"`
	Workers int           `mapstructure:"workers"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.address", ":8080")
	v.SetDefault("server.http.read_timeout", 15*time.Second)
	v.SetDefault("server.http.write_timeout", 60*time.Second)
	v.SetDefault("server.http.enable_cgi", true)
	v.SetDefault("server.http.mode", "release")
	v.SetDefault("server.grpc.enabled", true)
	v.SetDefault("server.grpc.address", ":9090")
	v.SetDefault("server.grpc.max_concurrent_streams", 100)
	v.SetDefault("server.websocket.enabled", true)
	v.SetDefault("server.websocket.read_buffer_size", 1024)
	v.SetDefault("server.websocket.write_buffer_size", 1024)
	v.SetDefault("server.websocket.send_buffer", 256)
	v.SetDefault("server.websocket.ping_interval", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.history_dir", "data/history")
	v.SetDefault("storage.badger.path", "data/badger")
	v.SetDefault("storage.badger.in_memory", false)
	v.SetDefault("storage.badger.sync_writes", false)
	v.SetDefault("storage.badger.gc_interval", 5*time.Minute)
	v.SetDefault("storage.badger.gc_discard_ratio", 0.5)
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.postgres.connect_timeout", 5*time.Second)

	v.SetDefault("simulation.trials", 2000)
	v.SetDefault("simulation.workers", 0)
	v.SetDefault("simulation.timeout", 20*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads the configuration file at path. A missing file is not an
// error; defaults and environment variables still apply. An empty path
// skips the file entirely.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CLUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults always validate.
		panic(err)
	}
	return cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging.format %q", c.Logging.Format)
	}

	if c.Server.HTTP.Address == "" {
		return errors.New("server.http.address is required")
	}
	switch c.Server.HTTP.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("invalid server.http.mode %q", c.Server.HTTP.Mode)
	}
	if c.Server.GRPC.Enabled && c.Server.GRPC.Address == "" {
		return errors.New("server.grpc.address is required when grpc is enabled")
	}
	if c.Server.WebSocket.SendBuffer < 1 {
		return fmt.Errorf("server.websocket.send_buffer must be positive, got %d", c.Server.WebSocket.SendBuffer)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverBadger:
		if c.Storage.Badger.Path == "" && !c.Storage.Badger.InMemory {
			return errors.New("storage.badger.path is required unless in_memory is set")
		}
		if r := c.Storage.Badger.GCDiscardRatio; r <= 0 || r >= 1 {
			return fmt.Errorf("storage.badger.gc_discard_ratio must be in (0, 1), got %v", r)
		}
	case DriverPostgres:
		if c.Storage.Postgres.URL == "" {
			return errors.New("storage.postgres.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.Simulation.Trials < 1 {
		return fmt.Errorf("simulation.trials must be positive, got %d", c.Simulation.Trials)
	}
	if c.Simulation.Workers < 0 {
		return fmt.Errorf("simulation.workers must not be negative, got %d", c.Simulation.Workers)
	}
	return nil
}
