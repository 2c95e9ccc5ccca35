// Package config loads the coordinator and node configuration from an
// optional YAML file, an optional .env file and the process environment,
// in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the settings of both binaries. Each reads its own section.
type Config struct {
	Log struct {
		// dev | prod
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`

	Coordinator struct {
		Addr              string        `yaml:"addr"`
		NumShards         int           `yaml:"num_shards"`
		ReplicationFactor int           `yaml:"replication_factor"`
		HealthInterval    time.Duration `yaml:"health_interval"`
		RequestTimeout    time.Duration `yaml:"request_timeout"`
		MaxInflight       int64         `yaml:"max_inflight"`
	} `yaml:"coordinator"`

	Node struct {
		ID              string `yaml:"id"`
		Listen          string `yaml:"listen"`
		PublicAddr      string `yaml:"public_addr"`
		CoordinatorAddr string `yaml:"coordinator_addr"`
		Database        string `yaml:"database"`

		Workers           int           `yaml:"workers"`
		QueueCapacity     int           `yaml:"queue_capacity"`
		ScriptContexts    int64         `yaml:"script_contexts"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		TopologyTTL       time.Duration `yaml:"topology_ttl"`
	} `yaml:"node"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	c := &Config{}
	c.Log.Env = "dev"
	c.Log.Level = "info"

	c.Coordinator.Addr = ":8080"
	c.Coordinator.NumShards = 4
	c.Coordinator.ReplicationFactor = 1
	c.Coordinator.HealthInterval = 5 * time.Second
	c.Coordinator.RequestTimeout = 5 * time.Second
	c.Coordinator.MaxInflight = 256

	c.Node.Listen = ":8081"
	c.Node.PublicAddr = "tcp://127.0.0.1:8081"
	c.Node.Database = "_system"
	c.Node.Workers = 2
	c.Node.QueueCapacity = 16
	c.Node.ScriptContexts = 2
	c.Node.HeartbeatInterval = time.Second
	c.Node.TopologyTTL = 30 * time.Second
	return c
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply. A .env file in the working directory
// is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := func(k string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			*dst = v
		}
	}
	str("LOG_ENV", &c.Log.Env)
	str("LOG_LEVEL", &c.Log.Level)
	str("COORDINATOR_LISTEN", &c.Coordinator.Addr)
	str("NODE_ID", &c.Node.ID)
	str("NODE_LISTEN", &c.Node.Listen)
	str("NODE_ADDR", &c.Node.PublicAddr)
	str("COORDINATOR_ADDR", &c.Node.CoordinatorAddr)
	str("NODE_DATABASE", &c.Node.Database)

	if err := envInt("NUM_SHARDS", &c.Coordinator.NumShards); err != nil {
		return err
	}
	if err := envInt("REPLICATION_FACTOR", &c.Coordinator.ReplicationFactor); err != nil {
		return err
	}
	if err := envInt("NODE_WORKERS", &c.Node.Workers); err != nil {
		return err
	}
	if err := envDuration("HEALTH_INTERVAL", &c.Coordinator.HealthInterval); err != nil {
		return err
	}
	if err := envDuration("HEARTBEAT_INTERVAL", &c.Node.HeartbeatInterval); err != nil {
		return err
	}
	return envDuration("TOPOLOGY_TTL", &c.Node.TopologyTTL)
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Coordinator.NumShards <= 0 {
		return fmt.Errorf("coordinator.num_shards must be > 0, got %d", c.Coordinator.NumShards)
	}
	if c.Coordinator.ReplicationFactor <= 0 {
		return fmt.Errorf("coordinator.replication_factor must be > 0, got %d", c.Coordinator.ReplicationFactor)
	}
	if c.Node.Workers <= 0 {
		return fmt.Errorf("node.workers must be > 0, got %d", c.Node.Workers)
	}
	if c.Node.ScriptContexts <= 0 {
		return fmt.Errorf("node.script_contexts must be > 0, got %d", c.Node.ScriptContexts)
	}
	if strings.Contains(c.Node.ID, ",") {
		return fmt.Errorf("node.id must not contain ',': %q", c.Node.ID)
	}
	return nil
}

func envInt(k string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("env %s: %w", k, err)
	}
	*dst = n
	return nil
}

func envDuration(k string, dst *time.Duration) error {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("env %s: %w", k, err)
	}
	*dst = d
	return nil
}
