package config

import (
	"time"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Queue    QueueConfig    `yaml:"queue"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Worker   WorkerConfig   `yaml:"worker"`
	Cooldown CooldownConfig `yaml:"cooldown"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP health server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// QueueConfig holds settings for the remote work queue API.
type QueueConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Downstream     string        `yaml:"downstream"`      // downstream queue name for passed items
	MarkerURL      string        `yaml:"marker_url"`      // best-effort processed marker, optional
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// GatewayConfig holds settings for the session daemon exposing the
// external service capability surface.
type GatewayConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // window for a connect attempt to succeed
	GraceDelay     time.Duration `yaml:"grace_delay"`     // wait before reacting to a disconnect
	ReconnectDelay time.Duration `yaml:"reconnect_delay"` // pause before the lightweight reconnect
}

// WorkerConfig holds settings for the processing loop.
type WorkerConfig struct {
	BatchSize        int           `yaml:"batch_size"`
	MaxRetries       int           `yaml:"max_retries"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	PollInterval     time.Duration `yaml:"poll_interval"` // wait when the queue is drained
	ItemDelayMin     time.Duration `yaml:"item_delay_min"`
	ItemDelayMax     time.Duration `yaml:"item_delay_max"`
	TimeoutThreshold int           `yaml:"timeout_threshold"` // consecutive timeouts before signalling a ban
	MarkerRetries    int           `yaml:"marker_retries"`
	MaxCommendations int           `yaml:"max_commendations"`
	RequiredMedals   []string      `yaml:"required_medals"`
}

// CooldownConfig holds settings for the cooldown store.
type CooldownConfig struct {
	Backend   string `yaml:"backend"`    // "http" (fleet API, default) or "redis"
	BaseURL   string `yaml:"base_url"`   // fleet cooldown API, defaults to queue base URL
	APIKey    string `yaml:"api_key"`    // defaults to queue API key
	LocalFile string `yaml:"local_file"` // write-through fallback file
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// DatabaseConfig holds PostgreSQL connection configuration for the
// optional outcome journal.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
