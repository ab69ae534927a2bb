package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	minPacingIntervalMs = 5
	maxPacingIntervalMs = 1000
)

// SharedMemoryConfig holds Snapshot Store shared-memory settings.
type SharedMemoryConfig struct {
	Name     string `json:"name"`      // shared-memory region name (maps to a /dev/shm file)
	MaxVars  int    `json:"max_vars"`  // fixed capacity of the scalar array
	MaxBytes int    `json:"max_bytes"` // fixed capacity of the string pool
}

// TCPConfig holds TCP data/command port settings.
type TCPConfig struct {
	Enabled       bool          `json:"enabled"`
	DataAddr      string        `json:"data_addr"`      // :12345
	CommandAddr   string        `json:"command_addr"`   // :12346
	ReadTimeout   time.Duration `json:"read_timeout"`    // per-read deadline on command connections
	WriteTimeout  time.Duration `json:"write_timeout"`   // per-write deadline on broadcasts
	MaxLineBytes  int           `json:"max_line_bytes"`  // command line-length cap (64 KiB)
}

// WSConfig holds WebSocket server settings.
type WSConfig struct {
	Enabled      bool          `json:"enabled"`
	Addr         string        `json:"addr"` // :8765
	Path         string        `json:"path"` // /
	WriteTimeout time.Duration `json:"write_timeout"`
	PingInterval time.Duration `json:"ping_interval"`
}

// PacingConfig holds the broadcast cadence derived from the host tick rate.
type PacingConfig struct {
	IntervalMs int `json:"interval_ms"` // default 20 (50 Hz), clamped to [5, 1000]
}

// IntervalMsClamped returns the configured pacing interval clamped to the
// valid range, so callers never divide by an out-of-range value.
func (p PacingConfig) IntervalMsClamped() int {
	switch {
	case p.IntervalMs < minPacingIntervalMs:
		return minPacingIntervalMs
	case p.IntervalMs > maxPacingIntervalMs:
		return maxPacingIntervalMs
	default:
		return p.IntervalMs
	}
}

// BroadcastRateHz derives the broadcast rate from the pacing interval. It is
// always computed, never hardcoded, per the broadcast_rate_hz design decision.
func (p PacingConfig) BroadcastRateHz() float64 {
	return 1000.0 / float64(p.IntervalMsClamped())
}

// SessionConfig holds client session lifecycle settings.
type SessionConfig struct {
	IdleTimeout     time.Duration `json:"idle_timeout"`     // reap sessions idle past this duration
	ReapInterval    time.Duration `json:"reap_interval"`    // how often the idle sweep runs
}

// CommandQueueConfig holds Command Queue settings.
type CommandQueueConfig struct {
	Capacity int `json:"capacity"` // bounded MPSC capacity, default 1024
}

// RedisConfig holds the optional command-queue overflow sink settings.
type RedisConfig struct {
	Addr     string `json:"addr"`      // empty disables the overflow sink
	Password string `json:"password"`
	DB       int    `json:"db"`
	ListKey  string `json:"list_key"` // LPUSH target for dropped commands
}

// PostgresConfig holds the optional session-log persistence settings.
type PostgresConfig struct {
	DSN string `json:"dsn"` // empty disables session-log persistence
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter"`     // otlp-http, stdout
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // aerofly-bridge
	SampleRate  float64 `json:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`
	Namespace        string    `json:"namespace"` // bridge
	HistogramBuckets []float64 `json:"histogram_buckets"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `json:"level"`  // debug, info, warn, error
	Format         string `json:"format"` // text, json
	IncludeTraceID bool   `json:"include_trace_id"`
	SessionLogFile string `json:"session_log_file"` // empty disables JSON session-event file logging
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	SharedMemory  SharedMemoryConfig  `json:"shared_memory"`
	TCP           TCPConfig           `json:"tcp"`
	WS            WSConfig            `json:"ws"`
	Pacing        PacingConfig        `json:"pacing"`
	Session       SessionConfig       `json:"session"`
	CommandQueue  CommandQueueConfig  `json:"command_queue"`
	Redis         RedisConfig         `json:"redis"`
	Postgres      PostgresConfig      `json:"postgres"`
	Observability ObservabilityConfig `json:"observability"`

	// CatalogPath points at an external variable-list JSON file; empty uses
	// the embedded default catalog.
	CatalogPath string `json:"catalog_path"`

	// LayoutDescriptorPath is where the layout descriptor JSON document
	// (§6) is written on every load, from the catalog that load built.
	LayoutDescriptorPath string `json:"layout_descriptor_path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LayoutDescriptorPath: "aerofly-bridge-layout.json",
		SharedMemory: SharedMemoryConfig{
			Name:     "aerofly-bridge",
			MaxVars:  4096,
			MaxBytes: 1 << 16,
		},
		TCP: TCPConfig{
			Enabled:      true,
			DataAddr:     ":12345",
			CommandAddr:  ":12346",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Second,
			MaxLineBytes: 64 * 1024,
		},
		WS: WSConfig{
			Enabled:      true,
			Addr:         ":8765",
			Path:         "/",
			WriteTimeout: 5 * time.Second,
			PingInterval: 15 * time.Second,
		},
		Pacing: PacingConfig{
			IntervalMs: 20,
		},
		Session: SessionConfig{
			IdleTimeout:  2 * time.Minute,
			ReapInterval: 15 * time.Second,
		},
		CommandQueue: CommandQueueConfig{
			Capacity: 1024,
		},
		Redis: RedisConfig{
			ListKey: "bridge:command_overflow",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "aerofly-bridge",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "bridge",
				HistogramBuckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
			},
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, detected by
// extension (".yaml"/".yml" for YAML, anything else for JSON).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadFromEnv applies BRIDGE_* environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("BRIDGE_SHM_NAME"); v != "" {
		cfg.SharedMemory.Name = v
	}
	if v := os.Getenv("BRIDGE_SHM_MAX_VARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SharedMemory.MaxVars = n
		}
	}

	if v := os.Getenv("BRIDGE_TCP_ENABLED"); v != "" {
		cfg.TCP.Enabled = parseBool(v)
	}
	if v := os.Getenv("BRIDGE_TCP_DATA_ADDR"); v != "" {
		cfg.TCP.DataAddr = v
	}
	if v := os.Getenv("BRIDGE_TCP_COMMAND_ADDR"); v != "" {
		cfg.TCP.CommandAddr = v
	}
	if v := os.Getenv("BRIDGE_TCP_MAX_LINE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TCP.MaxLineBytes = n
		}
	}

	if v := os.Getenv("BRIDGE_WS_ENABLED"); v != "" {
		cfg.WS.Enabled = parseBool(v)
	}
	if v := os.Getenv("BRIDGE_WS_ADDR"); v != "" {
		cfg.WS.Addr = v
	}
	if v := os.Getenv("BRIDGE_WS_PATH"); v != "" {
		cfg.WS.Path = v
	}

	if v := os.Getenv("BRIDGE_PACING_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pacing.IntervalMs = n
		}
	}

	if v := os.Getenv("BRIDGE_SESSION_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.IdleTimeout = d
		}
	}
	if v := os.Getenv("BRIDGE_SESSION_REAP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.ReapInterval = d
		}
	}

	if v := os.Getenv("BRIDGE_COMMAND_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CommandQueue.Capacity = n
		}
	}

	if v := os.Getenv("BRIDGE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BRIDGE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BRIDGE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("BRIDGE_REDIS_LIST_KEY"); v != "" {
		cfg.Redis.ListKey = v
	}

	if v := os.Getenv("BRIDGE_PG_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}

	if v := os.Getenv("BRIDGE_CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("BRIDGE_LAYOUT_DESCRIPTOR_PATH"); v != "" {
		cfg.LayoutDescriptorPath = v
	}

	if v := os.Getenv("BRIDGE_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("BRIDGE_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("BRIDGE_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("BRIDGE_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("BRIDGE_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("BRIDGE_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("BRIDGE_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("BRIDGE_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("BRIDGE_LOG_INCLUDE_TRACE_ID"); v != "" {
		cfg.Observability.Logging.IncludeTraceID = parseBool(v)
	}
	if v := os.Getenv("BRIDGE_SESSION_LOG_FILE"); v != "" {
		cfg.Observability.Logging.SessionLogFile = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
