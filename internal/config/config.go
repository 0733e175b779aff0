package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type Config struct {
	ServerAddr        string        `yaml:"addr"`
	Store             string        `yaml:"store"`
	DatabaseDSN       string        `yaml:"dsn"`
	Migrate           bool          `yaml:"migrate"`
	MongoURI          string        `yaml:"mongo_uri"`
	MongoDatabase     string        `yaml:"mongo_database"`
	SigningSecret     string        `yaml:"signing_key"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	OutboundQueueSize int           `yaml:"outbound_queue_size"`
	InboundRate       float64       `yaml:"inbound_rate"`
	InboundBurst      int           `yaml:"inbound_burst"`
	RevokeWindow      time.Duration `yaml:"revoke_window"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// SigningKey is the decoded SigningSecret, set by Validate.
	SigningKey []byte `yaml:"-"`
}

func Default() *Config {
	return &Config{
		ServerAddr:        "localhost:8000",
		Store:             StoreMemory,
		DatabaseDSN:       "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable",
		MongoDatabase:     "chat",
		SigningSecret:     defaultSigningKey,
		OutboundQueueSize: 256,
		InboundRate:       20,
		InboundBurst:      40,
		RevokeWindow:      24 * time.Hour,
		ShutdownTimeout:   10 * time.Second,
	}
}

// LoadFile reads a YAML file over the defaults. Keys missing from the file
// keep their default value.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// Validate checks the fields required by the selected store and decodes the
// signing key.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database DSN cannot be empty")
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("mongo uri cannot be empty")
		}
		if c.MongoDatabase == "" {
			return fmt.Errorf("mongo database cannot be empty")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if c.SigningSecret == "" {
		return fmt.Errorf("signing secret cannot be empty")
	}
	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = signingKey

	if c.OutboundQueueSize <= 0 {
		return fmt.Errorf("outbound queue size must be positive")
	}
	if c.InboundRate < 0 || c.InboundBurst < 0 {
		return fmt.Errorf("inbound rate and burst cannot be negative")
	}
	if c.RevokeWindow < 0 {
		return fmt.Errorf("revoke window cannot be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	return nil
}
