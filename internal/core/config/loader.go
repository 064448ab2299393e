package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Queue.RequestTimeout == 0 {
		cfg.Queue.RequestTimeout = 10 * time.Second
	}
	if cfg.Queue.Downstream == "" {
		cfg.Queue.Downstream = "send"
	}
	if cfg.Gateway.RequestTimeout == 0 {
		cfg.Gateway.RequestTimeout = 15 * time.Second
	}
	if cfg.Gateway.ConnectTimeout == 0 {
		cfg.Gateway.ConnectTimeout = 120 * time.Second
	}
	if cfg.Gateway.GraceDelay == 0 {
		cfg.Gateway.GraceDelay = 8 * time.Second
	}
	if cfg.Gateway.ReconnectDelay == 0 {
		cfg.Gateway.ReconnectDelay = 5 * time.Second
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = 20
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	if cfg.Worker.FetchTimeout == 0 {
		cfg.Worker.FetchTimeout = 30 * time.Second
	}
	if cfg.Worker.RetryDelay == 0 {
		cfg.Worker.RetryDelay = 2 * time.Second
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = 30 * time.Second
	}
	if cfg.Worker.ItemDelayMin == 0 {
		cfg.Worker.ItemDelayMin = 3 * time.Second
	}
	if cfg.Worker.ItemDelayMax == 0 {
		cfg.Worker.ItemDelayMax = 8 * time.Second
	}
	if cfg.Worker.TimeoutThreshold == 0 {
		cfg.Worker.TimeoutThreshold = 5
	}
	if cfg.Worker.MarkerRetries == 0 {
		cfg.Worker.MarkerRetries = 2
	}
	if cfg.Worker.MaxCommendations == 0 {
		cfg.Worker.MaxCommendations = 50
	}
	if cfg.Cooldown.Backend == "" {
		cfg.Cooldown.Backend = "http"
	}
	if cfg.Cooldown.BaseURL == "" {
		cfg.Cooldown.BaseURL = cfg.Queue.BaseURL
	}
	if cfg.Cooldown.APIKey == "" {
		cfg.Cooldown.APIKey = cfg.Queue.APIKey
	}
	if cfg.Cooldown.LocalFile == "" {
		cfg.Cooldown.LocalFile = "cooldown_state.json"
	}
}

// Validate fails fast on missing required fields. Configuration errors are
// fatal at startup, never discovered mid-run.
func (cfg *AppConfig) Validate() error {
	if cfg.Queue.BaseURL == "" {
		return fmt.Errorf("queue.base_url is required")
	}
	if cfg.Queue.APIKey == "" {
		return fmt.Errorf("queue.api_key is required")
	}
	if cfg.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if cfg.Cooldown.Backend != "http" && cfg.Cooldown.Backend != "redis" {
		return fmt.Errorf("cooldown.backend must be \"http\" or \"redis\", got %q", cfg.Cooldown.Backend)
	}
	if cfg.Cooldown.Backend == "redis" && cfg.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when cooldown.backend is \"redis\"")
	}
	if cfg.Worker.ItemDelayMax < cfg.Worker.ItemDelayMin {
		return fmt.Errorf("worker.item_delay_max must be >= worker.item_delay_min")
	}
	return nil
}
