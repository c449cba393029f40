package config

import (
	"os"
	"time"
)

// Environment variables read by usagectl.
const (
	EnvServerURL    = "USAGELEDGER_SERVER"
	EnvGRPCAddr     = "USAGELEDGER_GRPC"
	EnvAPIKey       = "USAGELEDGER_API_KEY"
	EnvSessionToken = "USAGELEDGER_SESSION_TOKEN"
)

type Config struct {
	ServerURL string
	GRPCAddr  string
	Timeout   time.Duration
	// Secrets are only ever read from the environment.
	APIKey       string
	SessionToken string
}

func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.GRPCAddr = "127.0.0.1:50051"
	c.Timeout = 30 * time.Second
}

// lookupEnv is replaced in tests.
var lookupEnv = os.LookupEnv

func (c *Config) applyEnv() {
	if v, ok := lookupEnv(EnvServerURL); ok && v != "" {
		c.ServerURL = v
	}
	if v, ok := lookupEnv(EnvGRPCAddr); ok && v != "" {
		c.GRPCAddr = v
	}
	if v, ok := lookupEnv(EnvAPIKey); ok {
		c.APIKey = v
	}
	if v, ok := lookupEnv(EnvSessionToken); ok {
		c.SessionToken = v
	}
}

// Load builds a Config. An empty path skips the JSON layer.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, path); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}
