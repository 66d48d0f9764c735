package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort     = 8080
	DefaultGRPCPort     = 50051
	DefaultAllowOrigins = "*"
	DefaultAuthHeader   = "x-api-key"

	DefaultInterval     = 60 * time.Second
	DefaultFetchTimeout = 20 * time.Second
	DefaultConcurrency  = 8
	DefaultStopTimeout  = 5 * time.Second
	DefaultSourcesPath  = "webcams.json"

	DefaultRedisURL    = "redis://localhost:6379/0"
	DefaultDialTimeout = 2 * time.Second

	DefaultSendTimeout = 2 * time.Second
	DefaultBufferSize  = 16
)

// Environment variables that override file values.
const (
	EnvRedisURL      = "REDIS_URL"
	EnvFetchInterval = "FETCH_INTERVAL_SEC"
	EnvSourcesPath   = "WEBCAMS_CONFIG_PATH"
	EnvAllowOrigins  = "ALLOW_ORIGINS"
)

// Config is the complete server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Ingest IngestConfig `yaml:"ingest"`
	Store  StoreConfig  `yaml:"store"`
	Hub    HubConfig    `yaml:"hub"`
	Alerts AlertsConfig `yaml:"alerts"`
}

// ServerConfig holds listener and access settings.
type ServerConfig struct {
	// HTTPPort serves the REST API, the WebSocket stream and /metrics.
	HTTPPort int `yaml:"http_port"`

	// GRPCPort serves the gRPC health service.
	GRPCPort int `yaml:"grpc_port"`

	// AllowOrigins is a comma-separated CORS allow list; "*" allows any origin.
	AllowOrigins string `yaml:"allow_origins"`

	Auth AuthConfig `yaml:"auth"`
}

// Origins splits AllowOrigins into trimmed, non-empty entries.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// AuthConfig controls client authentication on the HTTP and gRPC listeners.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header (and gRPC metadata key) carrying the key.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or DefaultAuthHeader.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAuthHeader
}

// IngestConfig tunes the ingestion scheduler.
type IngestConfig struct {
	// Interval between cycle starts. Values below 10s are clamped by the scheduler.
	Interval     time.Duration `yaml:"interval"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Concurrency  int           `yaml:"concurrency"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`

	// SourcesPath is the YAML or JSON source table, re-read every cycle.
	SourcesPath string `yaml:"sources_path"`
}

// StoreConfig configures the result store.
type StoreConfig struct {
	// RedisURL selects the durable backend. Empty runs in fallback mode only.
	RedisURL    string        `yaml:"redis_url"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ResultTTL is the expiry of stored results; 0 keeps them forever.
	ResultTTL time.Duration `yaml:"result_ttl"`
}

// HubConfig tunes the broadcast hub.
type HubConfig struct {
	SendTimeout time.Duration `yaml:"send_timeout"`
	BufferSize  int           `yaml:"buffer_size"`
}

// AlertsConfig holds score alert rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// PublicURL prefixes the analysis links in webhook payloads, e.g.
	// "https://climate.example.org". Empty leaves the links relative.
	PublicURL string `yaml:"public_url"`
}

// AlertRule defines one threshold on the latest score of each source.
type AlertRule struct {
	// Name identifies the rule and is part of the deduplication key.
	Name string `yaml:"name"`

	// Condition is "score <op> <value>", e.g. "score > 0.8".
	Condition string `yaml:"condition"`

	// Severity is info | warning. Defaults to info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires per source. Defaults to 15m.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | discord | http.
	Type string `yaml:"type"`

	// URLEnv names the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load builds the configuration. An empty path skips the file and uses
// defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     DefaultHTTPPort,
			GRPCPort:     DefaultGRPCPort,
			AllowOrigins: DefaultAllowOrigins,
			Auth:         AuthConfig{Mode: "none"},
		},
		Ingest: IngestConfig{
			Interval:     DefaultInterval,
			FetchTimeout: DefaultFetchTimeout,
			Concurrency:  DefaultConcurrency,
			StopTimeout:  DefaultStopTimeout,
			SourcesPath:  DefaultSourcesPath,
		},
		Store: StoreConfig{
			RedisURL:    DefaultRedisURL,
			DialTimeout: DefaultDialTimeout,
		},
		Hub: HubConfig{
			SendTimeout: DefaultSendTimeout,
			BufferSize:  DefaultBufferSize,
		},
	}
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvRedisURL); ok {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv(EnvFetchInterval); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s %q: not an integer", EnvFetchInterval, v)
		}
		cfg.Ingest.Interval = time.Duration(secs) * time.Second
	}
	if v := os.Getenv(EnvSourcesPath); v != "" {
		cfg.Ingest.SourcesPath = v
	}
	if v := os.Getenv(EnvAllowOrigins); v != "" {
		cfg.Server.AllowOrigins = v
	}
	return nil
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", cfg.Server.GRPCPort)
	}
	if cfg.Server.HTTPPort == cfg.Server.GRPCPort {
		return fmt.Errorf("server.http_port and server.grpc_port must differ (both %d)", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey":
		if cfg.Server.Auth.KeyEnv == "" {
			return fmt.Errorf("server.auth.key_env is required when mode is apikey")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Ingest.Interval <= 0 {
		return fmt.Errorf("ingest.interval must be positive")
	}
	if cfg.Ingest.FetchTimeout <= 0 {
		return fmt.Errorf("ingest.fetch_timeout must be positive")
	}
	if cfg.Ingest.Concurrency <= 0 {
		return fmt.Errorf("ingest.concurrency must be positive")
	}
	if cfg.Ingest.StopTimeout <= 0 {
		return fmt.Errorf("ingest.stop_timeout must be positive")
	}
	if cfg.Ingest.SourcesPath == "" {
		return fmt.Errorf("ingest.sources_path is required")
	}
	if cfg.Store.DialTimeout <= 0 {
		return fmt.Errorf("store.dial_timeout must be positive")
	}
	if cfg.Store.ResultTTL < 0 {
		return fmt.Errorf("store.result_ttl must not be negative")
	}
	if cfg.Hub.SendTimeout <= 0 {
		return fmt.Errorf("hub.send_timeout must be positive")
	}
	if cfg.Hub.BufferSize <= 0 {
		return fmt.Errorf("hub.buffer_size must be positive")
	}
	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("alerts.rules[%d]: name and condition are required", i)
		}
		switch r.Severity {
		case "", "info", "warning":
		default:
			return fmt.Errorf("alerts.rules[%d].severity %q unknown: want info|warning", i, r.Severity)
		}
	}
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "discord", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d].type %q unknown: want slack|teams|discord|http", i, w.Type)
		}
	}
	return nil
}
