package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Backend names
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Defaults applied by Validate when a field is left unset.
const (
	DefaultNetwork           = "rally"
	DefaultRedisAddr         = "localhost:6379"
	DefaultSQLitePath        = "rally.db"
	DefaultKeyFile           = ".rally/identity.key"
	DefaultHealthAddr        = "127.0.0.1:8080"
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultCallTimeout       = 2 * time.Second
)

// RallyConfig represents the top-level rally.yml configuration
type RallyConfig struct {
	Version  string          `yaml:"version"`
	Network  string          `yaml:"network"`
	Backend  string          `yaml:"backend"` // "redis" or "sqlite"
	Redis    *RedisConfig    `yaml:"redis,omitempty"`
	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty"`
	Identity *IdentityConfig `yaml:"identity,omitempty"`
	Peer     *PeerConfig     `yaml:"peer,omitempty"`
	Relay    *RelayConfig    `yaml:"relay,omitempty"`
}

// RedisConfig locates the shared Redis substrate
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// SQLiteConfig locates a SQLite file shared by peers on one host
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// IdentityConfig locates the agent's signing key
type IdentityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// PeerConfig tunes the long-running peer daemon
type PeerConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty"` // Presence publish period
	HealthAddr        string        `yaml:"health_addr,omitempty"`        // "off" disables /healthz
}

// RelayConfig tunes real-time signal delivery
type RelayConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout,omitempty"`
}

// EnvOverrides are environment variables that take precedence over rally.yml.
// Unset variables leave the file value alone.
type EnvOverrides struct {
	Network     string        `env:"RALLY_NETWORK"`
	Backend     string        `env:"RALLY_BACKEND"`
	RedisAddr   string        `env:"RALLY_REDIS_ADDR"`
	SQLitePath  string        `env:"RALLY_SQLITE_PATH"`
	KeyFile     string        `env:"RALLY_KEY_FILE"`
	HealthAddr  string        `env:"RALLY_HEALTH_ADDR"`
	Heartbeat   time.Duration `env:"RALLY_HEARTBEAT"`
	CallTimeout time.Duration `env:"RALLY_CALL_TIMEOUT"`
}

// HealthDisabled is the health_addr value that turns the endpoint off.
const HealthDisabled = "off"

// Default returns a validated configuration for the Redis backend.
func Default() *RallyConfig {
	cfg := &RallyConfig{Version: "1.0"}
	// Defaults always validate
	_ = cfg.Validate()
	return cfg
}

// ApplyEnv overlays environment overrides onto the configuration.
func (c *RallyConfig) ApplyEnv() error {
	var o EnvOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	c.apply(o)
	return nil
}

func (c *RallyConfig) apply(o EnvOverrides) {
	if o.Network != "" {
		c.Network = o.Network
	}
	if o.Backend != "" {
		c.Backend = o.Backend
	}
	if o.RedisAddr != "" {
		c.redis().Addr = o.RedisAddr
	}
	if o.SQLitePath != "" {
		c.sqlite().Path = o.SQLitePath
	}
	if o.KeyFile != "" {
		c.identity().KeyFile = o.KeyFile
	}
	if o.HealthAddr != "" {
		c.peer().HealthAddr = o.HealthAddr
	}
	if o.Heartbeat != 0 {
		c.peer().HeartbeatInterval = o.Heartbeat
	}
	if o.CallTimeout != 0 {
		c.relay().CallTimeout = o.CallTimeout
	}
}

// Validate performs strict validation on the configuration and fills in
// defaults for optional sections
func (c *RallyConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Network == "" {
		c.Network = DefaultNetwork
	}

	switch c.Backend {
	case "":
		c.Backend = BackendRedis
	case BackendRedis, BackendSQLite:
	default:
		return fmt.Errorf("invalid backend: %s (must be '%s' or '%s')", c.Backend, BackendRedis, BackendSQLite)
	}

	switch c.Backend {
	case BackendRedis:
		if c.redis().Addr == "" {
			c.Redis.Addr = DefaultRedisAddr
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("redis.db must be >= 0, got %d", c.Redis.DB)
		}
	case BackendSQLite:
		if c.sqlite().Path == "" {
			c.SQLite.Path = DefaultSQLitePath
		}
	}

	if c.identity().KeyFile == "" {
		c.Identity.KeyFile = DefaultKeyFile
	}

	if c.peer().HeartbeatInterval == 0 {
		c.Peer.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Peer.HeartbeatInterval < 0 {
		return fmt.Errorf("peer.heartbeat_interval must be positive, got %s", c.Peer.HeartbeatInterval)
	}
	if c.Peer.HealthAddr == "" {
		c.Peer.HealthAddr = DefaultHealthAddr
	}

	if c.relay().CallTimeout == 0 {
		c.Relay.CallTimeout = DefaultCallTimeout
	}
	if c.Relay.CallTimeout < 0 {
		return fmt.Errorf("relay.call_timeout must be positive, got %s", c.Relay.CallTimeout)
	}

	return nil
}

// HealthEnabled reports whether the daemon should serve /healthz.
func (c *RallyConfig) HealthEnabled() bool {
	return c.Peer != nil && c.Peer.HealthAddr != HealthDisabled
}

func (c *RallyConfig) redis() *RedisConfig {
	if c.Redis == nil {
		c.Redis = &RedisConfig{}
	}
	return c.Redis
}

func (c *RallyConfig) sqlite() *SQLiteConfig {
	if c.SQLite == nil {
		c.SQLite = &SQLiteConfig{}
	}
	return c.SQLite
}

func (c *RallyConfig) identity() *IdentityConfig {
	if c.Identity == nil {
		c.Identity = &IdentityConfig{}
	}
	return c.Identity
}

func (c *RallyConfig) peer() *PeerConfig {
	if c.Peer == nil {
		c.Peer = &PeerConfig{}
	}
	return c.Peer
}

func (c *RallyConfig) relay() *RelayConfig {
	if c.Relay == nil {
		c.Relay = &RelayConfig{}
	}
	return c.Relay
}

// Load reads rally.yml from the specified path, applies environment
// overrides and validates the result
func Load(path string) (*RallyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config RallyConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Write serialises the configuration to path, refusing to overwrite.
func Write(path string, cfg *RallyConfig) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
