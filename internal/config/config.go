// Package config loads the gitlab-proxy configuration from an optional YAML
// file and the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable holding the YAML config path.
const FileEnv = "GLCACHE_CONFIG_FILE"

type Config struct {
	Server ServerConfig `yaml:"server"`
	GitLab GitLabConfig `yaml:"gitlab"`
	Cache  CacheConfig  `yaml:"cache"`
	Retry  RetryConfig  `yaml:"retry"`
	Redis  RedisConfig  `yaml:"redis"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT, default=8080" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT, default=25s" validate:"gt=0"`
}

// GitLabConfig specifies the upstream GitLab instance.
type GitLabConfig struct {
	UpstreamURL string `yaml:"upstream_url" env:"UPSTREAM_URL, default=https://gitlab.com" validate:"required,url"`

	// Token is sent as a bearer token; empty proxies unauthenticated.
	Token string `yaml:"token" env:"GITLAB_TOKEN"`

	// TokenCacheTTL bounds how long the token is reused before re-reading it.
	TokenCacheTTL time.Duration `yaml:"token_cache_ttl" env:"GITLAB_TOKEN_CACHE_TTL, default=15m" validate:"gt=0"`

	RequestTimeout time.Duration `yaml:"request_timeout" env:"GITLAB_REQUEST_TIMEOUT, default=30s" validate:"gt=0"`
	UserAgent      string        `yaml:"user_agent" env:"GITLAB_USER_AGENT, default=gitlab-http-cache/0.1.0"`
}

// CacheConfig specifies validator cache and payload store sizing.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries" env:"CACHE_MAX_ENTRIES, default=1000" validate:"min=1"`
	TTL        time.Duration `yaml:"ttl" env:"CACHE_TTL, default=1h" validate:"gt=0"`

	// DisablePayloads turns off the in-memory body store used to answer 304s.
	DisablePayloads bool `yaml:"disable_payloads" env:"CACHE_DISABLE_PAYLOADS"`

	PayloadMaxSizeMB int `yaml:"payload_max_size_mb" env:"CACHE_PAYLOAD_MAX_SIZE_MB, default=64" validate:"min=1"`
	PayloadShards    int `yaml:"payload_shards" env:"CACHE_PAYLOAD_SHARDS, default=64" validate:"min=1"`
}

// RetryConfig mirrors client.RetryConfig.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS, default=3" validate:"min=1,max=10"`
	InitialBackoff    time.Duration `yaml:"initial_backoff" env:"RETRY_INITIAL_BACKOFF, default=500ms" validate:"gte=0"`
	MaxBackoff        time.Duration `yaml:"max_backoff" env:"RETRY_MAX_BACKOFF, default=10s" validate:"gtefield=InitialBackoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" env:"RETRY_BACKOFF_MULTIPLIER, default=2" validate:"gte=1"`
}

// RedisConfig specifies the optional Redis used for validator snapshots and
// shared rate limit state. An empty Address disables both.
type RedisConfig struct {
	Address        string `yaml:"address" env:"REDIS_ADDRESS" validate:"omitempty,hostname_port"`
	Password       string `yaml:"password" env:"REDIS_PASSWORD"`
	DB             int    `yaml:"db" env:"REDIS_DB" validate:"min=0,max=15"`
	SnapshotPrefix string `yaml:"snapshot_prefix" env:"REDIS_SNAPSHOT_PREFIX, default=glcache:etag:"`
}

// Enabled reports whether Redis is configured.
func (c RedisConfig) Enabled() bool {
	return c.Address != ""
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL, default=info" validate:"oneof=debug info warn warning error"`
	Pretty bool   `yaml:"pretty" env:"LOG_PRETTY"`
}

var validate = validator.New()

func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper()) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config

	if path, ok := lookup.Lookup(FileEnv); ok && path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	// Values from the file are kept; the environment fills the rest
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup,
	})
	if err != nil {
		return cfg, fmt.Errorf("process environment: %w", err)
	}

	cfg.GitLab.UpstreamURL = strings.TrimRight(cfg.GitLab.UpstreamURL, "/")

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() { _ = file.Close() }()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode YAML config: %w", err)
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return fmt.Errorf("invalid configuration: %w", err)
}
