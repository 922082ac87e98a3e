package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Session   SessionConfig   `toml:"session"`
	Pool      PoolConfig      `toml:"pool"`
	Scripting ScriptingConfig `toml:"scripting"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Database  DatabaseConfig  `toml:"database"`
	Logging   LoggingConfig   `toml:"logging"`
}

type SessionConfig struct {
	Name       string        `toml:"name"`
	Role       string        `toml:"role"` // "server", "host" or "client"
	TickRate   time.Duration `toml:"tick_rate"`
	MaxObjects int           `toml:"max_objects"` // 0 = unlimited
	Replicas   int           `toml:"replicas"`    // in-process client mirrors fed by the replication system
}

type PoolConfig struct {
	AllowAllPoolable    bool   `toml:"allow_all_poolable"`
	DefaultPrewarmCount int    `toml:"default_prewarm_count"`
	PrefabList          string `toml:"prefab_list"`
}

type ScriptingConfig struct {
	Dir string `toml:"dir"` // empty disables scripting
}

type MetricsConfig struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
}

type DatabaseConfig struct {
	DSN             string        `toml:"dsn"` // empty disables pool snapshots
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a TOML document over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pool.DefaultPrewarmCount < 0 {
		return fmt.Errorf("pool.default_prewarm_count must be >= 0, got %d", c.Pool.DefaultPrewarmCount)
	}
	if c.Session.TickRate <= 0 {
		return fmt.Errorf("session.tick_rate must be positive, got %s", c.Session.TickRate)
	}
	if c.Session.Replicas < 0 {
		return fmt.Errorf("session.replicas must be >= 0, got %d", c.Session.Replicas)
	}
	if c.Pool.PrefabList == "" {
		return fmt.Errorf("pool.prefab_list is required")
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Session: SessionConfig{
			Name:     "spawnpool",
			Role:     "host",
			TickRate: 50 * time.Millisecond,
			Replicas: 1,
		},
		Pool: PoolConfig{
			AllowAllPoolable:    false,
			DefaultPrewarmCount: 0,
			PrefabList:          "data/yaml/prefab_list.yaml",
		},
		Scripting: ScriptingConfig{
			Dir: "scripts",
		},
		Metrics: MetricsConfig{
			Enabled:     false,
			BindAddress: "127.0.0.1:9102",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    4,
			MaxIdleConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
