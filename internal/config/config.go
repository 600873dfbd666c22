// Package config loads the relay's settings from an optional YAML file, an
// optional .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	DeepSeek DeepSeekConfig `yaml:"deepseek"`
	Cache    CacheConfig    `yaml:"cache"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	// GraphiQL serves the interactive explorer on browser GETs to the GraphQL endpoint.
	GraphiQL bool `yaml:"graphiql"`
}

type DeepSeekConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	StrictRoles     bool          `yaml:"strict_roles"`
}

// CacheConfig controls the exact response cache. Enabling it changes reply
// behavior: replies are sampled, and a hit replays an earlier reply verbatim
// for the same message and history until TTL expires.
type CacheConfig struct {
	Backend   string        `yaml:"backend"` // "none", "memory" or "redis"
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redis_addr"`
	VersionID string        `yaml:"version_id"`
}

type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8080",
			RequestTimeout: 40 * time.Second,
			MaxBodyBytes:   2 * 1024 * 1024,
			GraphiQL:       true,
		},
		DeepSeek: DeepSeekConfig{
			BaseURL:         "https://api.deepseek.com",
			Model:           "deepseek-chat",
			UpstreamTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:   "none",
			TTL:       5 * time.Minute,
			RedisAddr: "127.0.0.1:6379",
			VersionID: "v1",
		},
	}
}

// Load builds the configuration. path may be empty; a missing .env is ignored.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with. A missing API key is
// allowed: it is reported per request instead.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if c.DeepSeek.UpstreamTimeout <= 0 {
		return errors.New("upstream timeout must be positive")
	}
	switch c.Cache.Backend {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Log.Env, "ENV")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.DeepSeek.APIKey, "DEEPSEEK_API_KEY")
	setString(&cfg.DeepSeek.BaseURL, "DEEPSEEK_BASE_URL")
	setString(&cfg.DeepSeek.Model, "DEEPSEEK_MODEL")
	setString(&cfg.Cache.Backend, "CACHE_BACKEND")
	setString(&cfg.Cache.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Cache.VersionID, "GATEWAY_VERSION")

	var errs []error
	errs = append(errs,
		setDuration(&cfg.Server.RequestTimeout, "REQUEST_TIMEOUT"),
		setDuration(&cfg.DeepSeek.UpstreamTimeout, "UPSTREAM_TIMEOUT"),
		setDuration(&cfg.Cache.TTL, "CACHE_TTL"),
		setBool(&cfg.Server.GraphiQL, "GRAPHIQL"),
		setBool(&cfg.DeepSeek.StrictRoles, "STRICT_ROLES"),
	)
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("MAX_BODY_BYTES: invalid size %q", v))
		} else {
			cfg.Server.MaxBodyBytes = n
		}
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// setDuration accepts plain integers (seconds) or Go duration strings ("30s", "1m").
func setDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}
