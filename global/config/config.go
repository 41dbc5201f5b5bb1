package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the whole gateway configuration. Loaded from a yaml file, with
// a handful of env overrides for the values that differ per node.
type AppConfig struct {
	NodeID   string `yaml:"node_id"`
	NodeBits int64  `yaml:"node_bits"` // snowflake node number, 0~1023
	Port     int    `yaml:"port"`

	AuthSecret string `yaml:"auth_secret"`

	Mongo MongoConfig `yaml:"mongo"`
	Redis RedisConfig `yaml:"redis"`
	Nats  NatsConfig  `yaml:"nats"`

	// Realtime tuning.
	SendQueueSize   int           `yaml:"send_queue_size"`
	FanoutWorkers   int           `yaml:"fanout_workers"`
	FanoutQueue     int           `yaml:"fanout_queue"`
	BackgroundGrace time.Duration `yaml:"background_grace"`
	StoreTimeout    time.Duration `yaml:"store_timeout"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type NatsConfig struct {
	Servers []string `yaml:"servers"`
	Enabled bool     `yaml:"enabled"`
}

func Default() *AppConfig {
	return &AppConfig{
		NodeID:          "gw-1",
		NodeBits:        1,
		Port:            8080,
		Mongo:           MongoConfig{URI: "mongodb://127.0.0.1:27017", Database: "social"},
		Redis:           RedisConfig{Addr: "127.0.0.1:6379", PoolSize: 64},
		SendQueueSize:   256,
		FanoutWorkers:   8,
		FanoutQueue:     4096,
		BackgroundGrace: 10 * time.Second,
		StoreTimeout:    5 * time.Second,
	}
}

// Load reads the yaml file at path into a config pre-seeded with defaults.
// A missing file is not an error; env overrides still apply.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.norm()
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	if v := os.Getenv("GW_NODE_ID"); v != "" {
		c.NodeID = v
	}
	if v := os.Getenv("GW_MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("GW_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("GW_AUTH_SECRET"); v != "" {
		c.AuthSecret = v
	}
}

func (c *AppConfig) norm() {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 8
	}
	if c.FanoutQueue <= 0 {
		c.FanoutQueue = 4096
	}
	if c.BackgroundGrace <= 0 {
		c.BackgroundGrace = 10 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
}
