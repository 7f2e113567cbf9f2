// Package config provides configuration management for the runtime using
// Viper. It supports configuration from files, environment variables, and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultEdgeCapacity              = 64
	defaultNodeTimeout                = 30 * time.Second
	defaultCircuitBreakerThreshold    = 5
	defaultCircuitBreakerResetWindow  = 30 * time.Second
	defaultSpeculativeSegments        = 32
	defaultCloseDeadline              = 10 * time.Second
	defaultMaxConcurrentSessions      = 0

	defaultShmSegmentSize             = 16 * 1024 * 1024 // 16MB
	defaultMaxMessageSize             = 8 * 1024 * 1024   // 8MB
	defaultOverflowNotificationBuffer = 256
	defaultIPCDialTimeout             = 5 * time.Second

	defaultWorkerSpawnTimeout  = 10 * time.Second
	defaultHeartbeatInterval   = 2 * time.Second
	defaultHeartbeatTimeout    = 6 * time.Second
	defaultReconnectBackoffMin = 250 * time.Millisecond
	defaultReconnectBackoffMax = 10 * time.Second
	defaultWorkerMaxRestarts   = 5
	defaultWorkerCommand       = "mediarun-worker"
	defaultRingSlotCount       = 32
	defaultRingSlotSize        = 1 * 1024 * 1024 // 1MB

	defaultMetricsListenAddr = "127.0.0.1:9090"
)

// Config holds all configuration for the runtime process.
type Config struct {
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	IPC      IPCConfig      `mapstructure:"ipc"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Manifest ManifestConfig `mapstructure:"manifest"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// RuntimeConfig holds streaming executor tuning parameters.
type RuntimeConfig struct {
	// DefaultEdgeCapacity is the bounded channel depth used for an edge
	// whose manifest entry does not specify one explicitly.
	DefaultEdgeCapacity int `mapstructure:"default_edge_capacity"`
	// DefaultOverflowPolicy applies to edges with no explicit policy:
	// drop_oldest, drop_newest, block, or merge_on_overflow.
	DefaultOverflowPolicy string `mapstructure:"default_overflow_policy"`
	// NodeTimeout bounds a single process/process_streaming invocation
	// before the executor treats it as stalled.
	NodeTimeout time.Duration `mapstructure:"node_timeout"`
	// CircuitBreakerThreshold is the number of consecutive node failures
	// that trip the breaker for that node.
	CircuitBreakerThreshold int `mapstructure:"circuit_breaker_threshold"`
	// CircuitBreakerResetTimeout is how long the breaker stays open before
	// allowing a single trial invocation through.
	CircuitBreakerResetTimeout time.Duration `mapstructure:"circuit_breaker_reset_timeout"`
	// SpeculativeSegments bounds the ring buffer size used to retain
	// speculatively-forwarded segments pending confirmation or cancellation.
	SpeculativeSegments int `mapstructure:"speculative_segments"`
	// CloseDeadline bounds a session's cooperative shutdown once Close is
	// called before remaining tasks are force-cancelled.
	CloseDeadline time.Duration `mapstructure:"close_deadline"`
	// MaxConcurrentSessions is the admission-control ceiling on
	// simultaneously active sessions; CreateSession past this limit
	// returns ResourceExhausted. Zero means unlimited.
	MaxConcurrentSessions int `mapstructure:"max_concurrent_sessions"`
}

// IPCConfig holds shared-memory and control-channel configuration for
// worker-process communication.
type IPCConfig struct {
	// ShmSegmentSize is the size of each shared-memory ring segment.
	// Supports human-readable values like "16MB".
	ShmSegmentSize ByteSize `mapstructure:"shm_segment_size"`
	// MaxMessageSize bounds a single RuntimeData payload transferred
	// across the wire codec or shared-memory ring.
	MaxMessageSize ByteSize `mapstructure:"max_message_size"`
	// OverflowNotificationBuffer bounds the pending-notification queue
	// used to report DropOldest/DropNewest overflow events out of band.
	OverflowNotificationBuffer int `mapstructure:"overflow_notification_buffer"`
	// SocketDir is the directory in which worker control-plane unix
	// domain sockets are created.
	SocketDir string `mapstructure:"socket_dir"`
	// DialTimeout bounds connecting to a freshly spawned worker's socket.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// ShmDir is the directory backing the data-plane shared-memory ring
	// segments an out-of-process node's input/output edges are mapped
	// into (spec.md §4.D/§4.E).
	ShmDir string `mapstructure:"shm_dir"`
}

// WorkerConfig holds out-of-process worker lifecycle configuration.
type WorkerConfig struct {
	// SpawnTimeout bounds the Spawning -> Initializing -> Ready transition.
	SpawnTimeout time.Duration `mapstructure:"spawn_timeout"`
	// HeartbeatInterval is how often a worker is expected to report in.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// HeartbeatTimeout is how long a missed heartbeat window may persist
	// before the worker is declared unhealthy.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	// ReconnectBackoffMin/Max bound the exponential backoff used when
	// re-establishing a dropped control connection.
	ReconnectBackoffMin time.Duration `mapstructure:"reconnect_backoff_min"`
	ReconnectBackoffMax time.Duration `mapstructure:"reconnect_backoff_max"`
	// MaxRestartAttempts is passed through to worker.Config.MaxRestarts;
	// no component respawns a crashed worker process.
	MaxRestartAttempts int `mapstructure:"max_restart_attempts"`
	// Command is the binary spawned for every out-of-process node, given
	// its node type via the MEDIARUN_NODE_TYPE environment variable
	// (cmd/mediarun-worker is the default implementation).
	Command string `mapstructure:"command"`
	// Args are additional arguments passed to Command.
	Args []string `mapstructure:"args"`
	// RingSlotCount/RingSlotSize size the shared-memory rings backing an
	// out-of-process node's input/output edges.
	RingSlotCount int      `mapstructure:"ring_slot_count"`
	RingSlotSize  ByteSize `mapstructure:"ring_slot_size"`
}

// ManifestConfig controls where graph manifests are resolved from and how
// strictly they are parsed.
type ManifestConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
	// StrictSchema rejects unknown manifest fields instead of ignoring them.
	StrictSchema bool `mapstructure:"strict_schema"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds the local Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with MEDIARUN_ and use underscores for
// nesting. Example: MEDIARUN_RUNTIME_NODE_TIMEOUT=45s.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/mediarun")
		v.AddConfigPath("$HOME/.mediarun")
	}

	// Environment variable settings
	v.SetEnvPrefix("MEDIARUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	// ByteSize fields accept human-readable strings ("16MB") through their
	// TextUnmarshaler; durations and comma-separated slices keep viper's
	// default handling.
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Runtime defaults
	v.SetDefault("runtime.default_edge_capacity", defaultEdgeCapacity)
	v.SetDefault("runtime.default_overflow_policy", "block")
	v.SetDefault("runtime.node_timeout", defaultNodeTimeout)
	v.SetDefault("runtime.circuit_breaker_threshold", defaultCircuitBreakerThreshold)
	v.SetDefault("runtime.circuit_breaker_reset_timeout", defaultCircuitBreakerResetWindow)
	v.SetDefault("runtime.speculative_segments", defaultSpeculativeSegments)
	v.SetDefault("runtime.close_deadline", defaultCloseDeadline)
	v.SetDefault("runtime.max_concurrent_sessions", defaultMaxConcurrentSessions)

	// IPC defaults
	v.SetDefault("ipc.shm_segment_size", defaultShmSegmentSize)
	v.SetDefault("ipc.max_message_size", defaultMaxMessageSize)
	v.SetDefault("ipc.overflow_notification_buffer", defaultOverflowNotificationBuffer)
	v.SetDefault("ipc.socket_dir", "/tmp/mediarun")
	v.SetDefault("ipc.dial_timeout", defaultIPCDialTimeout)
	v.SetDefault("ipc.shm_dir", "/tmp/mediarun/shm")

	// Worker defaults
	v.SetDefault("worker.spawn_timeout", defaultWorkerSpawnTimeout)
	v.SetDefault("worker.heartbeat_interval", defaultHeartbeatInterval)
	v.SetDefault("worker.heartbeat_timeout", defaultHeartbeatTimeout)
	v.SetDefault("worker.reconnect_backoff_min", defaultReconnectBackoffMin)
	v.SetDefault("worker.reconnect_backoff_max", defaultReconnectBackoffMax)
	v.SetDefault("worker.max_restart_attempts", defaultWorkerMaxRestarts)
	v.SetDefault("worker.command", defaultWorkerCommand)
	v.SetDefault("worker.ring_slot_count", defaultRingSlotCount)
	v.SetDefault("worker.ring_slot_size", defaultRingSlotSize)

	// Manifest defaults
	v.SetDefault("manifest.search_paths", []string{"./manifests"})
	v.SetDefault("manifest.strict_schema", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", defaultMetricsListenAddr)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Runtime validation
	if c.Runtime.DefaultEdgeCapacity < 1 {
		return fmt.Errorf("runtime.default_edge_capacity must be at least 1")
	}
	validPolicies := map[string]bool{"drop_oldest": true, "drop_newest": true, "block": true, "merge_on_overflow": true}
	if !validPolicies[c.Runtime.DefaultOverflowPolicy] {
		return fmt.Errorf("runtime.default_overflow_policy must be one of: drop_oldest, drop_newest, block, merge_on_overflow")
	}
	if c.Runtime.NodeTimeout <= 0 {
		return fmt.Errorf("runtime.node_timeout must be positive")
	}
	if c.Runtime.CircuitBreakerThreshold < 1 {
		return fmt.Errorf("runtime.circuit_breaker_threshold must be at least 1")
	}
	if c.Runtime.CloseDeadline <= 0 {
		return fmt.Errorf("runtime.close_deadline must be positive")
	}
	if c.Runtime.MaxConcurrentSessions < 0 {
		return fmt.Errorf("runtime.max_concurrent_sessions must not be negative")
	}

	// IPC validation
	if c.IPC.ShmSegmentSize <= 0 {
		return fmt.Errorf("ipc.shm_segment_size must be positive")
	}
	if c.IPC.MaxMessageSize <= 0 {
		return fmt.Errorf("ipc.max_message_size must be positive")
	}
	if c.IPC.MaxMessageSize > c.IPC.ShmSegmentSize {
		return fmt.Errorf("ipc.max_message_size must not exceed ipc.shm_segment_size")
	}
	if c.IPC.SocketDir == "" {
		return fmt.Errorf("ipc.socket_dir is required")
	}
	if c.IPC.ShmDir == "" {
		return fmt.Errorf("ipc.shm_dir is required")
	}

	// Worker validation
	if c.Worker.SpawnTimeout <= 0 {
		return fmt.Errorf("worker.spawn_timeout must be positive")
	}
	if c.Worker.HeartbeatTimeout <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker.heartbeat_timeout must be greater than worker.heartbeat_interval")
	}
	if c.Worker.ReconnectBackoffMax < c.Worker.ReconnectBackoffMin {
		return fmt.Errorf("worker.reconnect_backoff_max must be >= worker.reconnect_backoff_min")
	}
	if c.Worker.Command == "" {
		return fmt.Errorf("worker.command is required")
	}
	if c.Worker.RingSlotCount < 1 {
		return fmt.Errorf("worker.ring_slot_count must be at least 1")
	}
	if c.Worker.RingSlotSize <= 0 {
		return fmt.Errorf("worker.ring_slot_size must be positive")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// SocketPath returns the unix domain socket path for a given worker id.
func (c *IPCConfig) SocketPath(workerID string) string {
	return fmt.Sprintf("%s/%s.sock", c.SocketDir, workerID)
}
