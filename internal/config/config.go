// Package config loads the settings of the journey command line.
//
// Values come from, in increasing priority: built-in defaults, a YAML file,
// JOURNEY_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no file is given.
const DefaultFile = "journey.yaml"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

type Config struct {
	// Definitions is a Loam repository, a playbook file or a directory of files.
	Definitions string `mapstructure:"definitions" yaml:"definitions"`
	// Format selects the definition reader: "loam" or "file".
	Format string `mapstructure:"format" yaml:"format"`

	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Lock    LockConfig    `mapstructure:"lock" yaml:"lock"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`

	// Timeout bounds every durable store call.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Redact lists payload key patterns masked when responses are printed.
	Redact []string `mapstructure:"redact" yaml:"redact"`
}

type StoreConfig struct {
	Driver   string        `mapstructure:"driver" yaml:"driver"`
	DSN      string        `mapstructure:"dsn" yaml:"dsn"`
	Database string        `mapstructure:"database" yaml:"database"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type CacheConfig struct {
	// Dir holds one snapshot file per session. Empty keeps snapshots in memory.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Key is a base64 AES-256 key; when set snapshots are encrypted at rest.
	Key          string   `mapstructure:"key" yaml:"key"`
	FallbackKeys []string `mapstructure:"fallback_keys" yaml:"fallback_keys"`
}

type LockConfig struct {
	// Redis is the address of the redis used for cross-replica session locks.
	Redis string        `mapstructure:"redis" yaml:"redis"`
	TTL   time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

type HTTPConfig struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	Metrics bool   `mapstructure:"metrics" yaml:"metrics"`
}

type WebhookConfig struct {
	URL     string            `mapstructure:"url" yaml:"url"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// Default returns the built-in settings.
func Default() Config {
	cacheDir := ".journey/cache"
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".journey", "cache")
	}
	return Config{
		Definitions: ".",
		Format:      "loam",
		Store:       StoreConfig{Driver: DriverSQLite, DSN: "journey.db", Database: "journey"},
		Cache:       CacheConfig{Dir: cacheDir},
		Lock:        LockConfig{TTL: 30 * time.Second},
		Log:         LogConfig{Level: "warn"},
		HTTP:        HTTPConfig{Addr: ":8080", Metrics: true},
		Timeout:     5 * time.Second,
	}
}

// envKeys maps environment variables onto config paths.
var envKeys = map[string]string{
	"JOURNEY_DEFINITIONS":   "definitions",
	"JOURNEY_FORMAT":        "format",
	"JOURNEY_STORE_DRIVER":  "store.driver",
	"JOURNEY_STORE_DSN":     "store.dsn",
	"JOURNEY_STORE_DB":      "store.database",
	"JOURNEY_STORE_PREFIX":  "store.prefix",
	"JOURNEY_STORE_TTL":     "store.ttl",
	"JOURNEY_CACHE_DIR":     "cache.dir",
	"JOURNEY_CACHE_KEY":     "cache.key",
	"JOURNEY_CACHE_OLDKEYS": "cache.fallback_keys",
	"JOURNEY_LOCK_REDIS":    "lock.redis",
	"JOURNEY_LOCK_TTL":      "lock.ttl",
	"JOURNEY_LOG_LEVEL":     "log.level",
	"JOURNEY_LOG_JSON":      "log.json",
	"JOURNEY_HTTP_ADDR":     "http.addr",
	"JOURNEY_HTTP_METRICS":  "http.metrics",
	"JOURNEY_WEBHOOK_URL":   "webhook.url",
	"JOURNEY_TIMEOUT":       "timeout",
	"JOURNEY_REDACT":        "redact",
}

// Load reads path (or DefaultFile when path is empty and the file exists)
// over the defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := decode(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	env := map[string]any{}
	for name, key := range envKeys {
		if v, ok := lookup(name); ok {
			setPath(env, key, v)
		}
	}
	if len(env) > 0 {
		if err := decode(env, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid environment override: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

func decode(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

func setPath(m map[string]any, path, value string) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// Validate checks the settings that cannot be caught by decoding.
func (c Config) Validate() error {
	switch c.Format {
	case "loam", "file":
	default:
		return fmt.Errorf("unknown definition format %q (want loam or file)", c.Format)
	}
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverRedis, DriverMongo:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != DriverMemory && c.Store.DSN == "" {
		return fmt.Errorf("store driver %s needs a dsn", c.Store.Driver)
	}
	if c.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	return nil
}
