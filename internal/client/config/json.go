package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/usageledger/internal/timex"
)

// JsonConfig is the file form of Config. Absent keys keep the current value.
type JsonConfig struct {
	ServerURL string          `json:"server_url"`
	GRPCAddr  string          `json:"grpc_addr"`
	Timeout   *timex.Duration `json:"timeout"`
}

func parseJson(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if jc.ServerURL != "" {
		cfg.ServerURL = jc.ServerURL
	}
	if jc.GRPCAddr != "" {
		cfg.GRPCAddr = jc.GRPCAddr
	}
	if jc.Timeout != nil {
		cfg.Timeout = jc.Timeout.Duration
	}
	return nil
}
