// Package config loads the access node's configuration with viper, and
// hot-reloads the scalar knobs that are safe to change on a live process
// via fsnotify. shard_count and server_address are deliberately excluded
// from hot reload: changing the shard count would silently relocate every
// user to a different shard mid-flight, and rebinding the listen address
// requires a restart regardless.
package config

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConnectionType mirrors the original client's connection_type flag
// (single, pooled, short), carried here because it governs how this
// node's own downstream gRPC client connections are dialed.
type ConnectionType string

const (
	ConnectionSingle ConnectionType = "single"
	ConnectionPooled ConnectionType = "pooled"
	ConnectionShort  ConnectionType = "short"
)

// Static is the subset of configuration read once at startup and never
// hot-reloaded.
type Static struct {
	ServerAddress  string
	LogicChannel   string
	DBChannel      string
	AdminAddress   string
	ConnectionType ConnectionType
	ShardCount     int
}

// Config is the access node's full configuration: Static fields plus the
// live, hot-reloadable scalar knobs, each guarded by its own atomic so
// readers never observe a torn update.
type Config struct {
	Static

	recvHeartbeatTimeout atomic.Int64 // time.Duration
	timeoutMs            atomic.Int64
	maxRetry             atomic.Int64
}

func defaults(v *viper.Viper) {
	v.SetDefault("server_address", ":7000")
	v.SetDefault("admin_address", ":7080")
	v.SetDefault("logic_channel", "localhost:7100")
	v.SetDefault("db_channel", "localhost:7200")
	v.SetDefault("connection_type", string(ConnectionPooled))
	v.SetDefault("shard_count", 16)
	v.SetDefault("recv_heartbeat_timeout_s", 400)
	v.SetDefault("timeout_ms", 1000)
	v.SetDefault("max_retry", 3)
}

// Load reads configFile (if non-empty) plus environment overrides
// (TINYIM_ prefix) into a Config, and arranges for the three scalar
// knobs to hot-reload on file change.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("tinyim")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Static: Static{
			ServerAddress:  v.GetString("server_address"),
			LogicChannel:   v.GetString("logic_channel"),
			DBChannel:      v.GetString("db_channel"),
			AdminAddress:   v.GetString("admin_address"),
			ConnectionType: ConnectionType(v.GetString("connection_type")),
			ShardCount:     v.GetInt("shard_count"),
		},
	}
	cfg.applyScalars(v)

	if configFile != "" {
		v.OnConfigChange(func(in fsnotify.Event) {
			cfg.applyScalars(v)
		})
		v.WatchConfig()
	}

	return cfg, nil
}

func (c *Config) applyScalars(v *viper.Viper) {
	c.recvHeartbeatTimeout.Store(int64(time.Duration(v.GetInt("recv_heartbeat_timeout_s")) * time.Second))
	c.timeoutMs.Store(int64(v.GetInt("timeout_ms")))
	c.maxRetry.Store(int64(v.GetInt("max_retry")))
}

// RecvHeartbeatTimeout is T_idle, the heartbeat supervisor's inactivity
// deadline (spec.md §4.3, default 400s).
func (c *Config) RecvHeartbeatTimeout() time.Duration {
	return time.Duration(c.recvHeartbeatTimeout.Load())
}

// TimeoutMs is the downstream RPC call timeout in milliseconds.
func (c *Config) TimeoutMs() int64 { return c.timeoutMs.Load() }

// MaxRetry is the downstream RPC retry budget.
func (c *Config) MaxRetry() int64 { return c.maxRetry.Load() }
