package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/journey"
	"github.com/aretw0/journey/internal/config"
	"github.com/aretw0/journey/internal/logging"
	"github.com/aretw0/journey/pkg/adapters/file"
	httpAdapter "github.com/aretw0/journey/pkg/adapters/http"
	"github.com/aretw0/journey/pkg/adapters/memory"
	mongoAdapter "github.com/aretw0/journey/pkg/adapters/mongo"
	redisAdapter "github.com/aretw0/journey/pkg/adapters/redis"
	"github.com/aretw0/journey/pkg/adapters/sqldb"
	"github.com/aretw0/journey/pkg/observability"
	"github.com/aretw0/journey/pkg/persistence/middleware"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	backend "github.com/redis/go-redis/v9"
)

// Runtime is everything a command needs, built from a config.Config.
type Runtime struct {
	Engine   *journey.Engine
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Redactor *middleware.Redactor
	Logger   *slog.Logger

	closers []func() error
}

// Close releases store connections in reverse order of creation.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// NewLogger configures the application logger from the log settings.
func NewLogger(c config.LogConfig) (*slog.Logger, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	if c.JSON {
		return logging.NewJSON(level), nil
	}
	return logging.New(level), nil
}

// Build wires the engine and its adapters. The caller must Close the runtime.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *Runtime, err error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	rt := &Runtime{Logger: logger, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	opts := []journey.Option{
		journey.WithLogger(logger),
		journey.WithTimeout(cfg.Timeout),
		journey.WithLifecycleHooks(observability.LogHooks(logger)),
	}

	// 1. Definitions
	repoPath := cfg.Definitions
	if cfg.Format == "file" {
		defs, err := file.DefinitionsFromPath(cfg.Definitions)
		if err != nil {
			return nil, fmt.Errorf("failed to load definitions: %w", err)
		}
		opts = append(opts, journey.WithDefinitions(defs))
	}

	// 2. Durable store
	store, err := rt.openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	opts = append(opts, journey.WithStore(store))

	// 3. Recovery cache
	cache, err := openCache(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, journey.WithCache(cache))

	// 4. Cross-replica locking
	if cfg.Lock.Redis != "" {
		client, err := redisClient(cfg.Lock.Redis)
		if err != nil {
			return nil, fmt.Errorf("invalid lock redis: %w", err)
		}
		rt.closers = append(rt.closers, client.Close)
		opts = append(opts,
			journey.WithDistributedLocker(redisAdapter.NewLocker(client, cfg.Store.Prefix)),
			journey.WithLockTTL(cfg.Lock.TTL),
		)
	}

	// 5. Observability
	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.Metrics, err = observability.NewMetrics(rt.Registry)
	if err != nil {
		return nil, err
	}
	opts = append(opts, journey.WithLifecycleHooks(rt.Metrics.Hooks()))

	if cfg.Webhook.URL != "" {
		opts = append(opts, journey.WithCompletionNotifier(httpAdapter.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Headers)))
	}

	rt.Redactor, err = middleware.NewRedactor(cfg.Redact)
	if err != nil {
		return nil, fmt.Errorf("invalid redact pattern: %w", err)
	}

	rt.Engine, err = journey.New(repoPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, c config.StoreConfig) (ports.DurableStore, error) {
	switch c.Driver {
	case config.DriverMemory:
		return memory.NewStore(), nil
	case config.DriverSQLite, config.DriverPostgres:
		store, err := sqldb.Open(ctx, c.DSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil
	case config.DriverRedis:
		client, err := redisClient(c.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid redis dsn: %w", err)
		}
		store := redisAdapter.NewFromClient(client, redisAdapter.WithTTL(c.TTL), redisAdapter.WithPrefix(c.Prefix))
		rt.closers = append(rt.closers, store.Close)
		return store, nil
	case config.DriverMongo:
		store, client, err := mongoAdapter.Connect(ctx, c.DSN, c.Database)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() error {
			return client.Disconnect(context.Background())
		})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Driver)
	}
}

func openCache(c config.CacheConfig, logger *slog.Logger) (ports.RecoveryCache, error) {
	var cache ports.RecoveryCache
	if c.Dir == "" {
		cache = memory.NewCache()
	} else {
		cache = file.NewCache(c.Dir, file.WithLogger(logger))
	}
	if c.Key == "" {
		return cache, nil
	}

	enc := middleware.EncryptionConfig{}
	var err error
	if enc.ActiveKey, err = decodeKey(c.Key); err != nil {
		return nil, fmt.Errorf("invalid cache key: %w", err)
	}
	for i, k := range c.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, fmt.Errorf("invalid fallback cache key %d: %w", i, err)
		}
		enc.FallbackKeys = append(enc.FallbackKeys, key)
	}
	if err := enc.Validate(); err != nil {
		return nil, err
	}
	return middleware.Chain(cache, middleware.NewEncryptionMiddleware(enc)), nil
}

func decodeKey(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

// redisClient accepts a redis:// URL or a bare host:port.
func redisClient(addr string) (*backend.Client, error) {
	if strings.Contains(addr, "://") {
		opts, err := backend.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		return backend.NewClient(opts), nil
	}
	return backend.NewClient(&backend.Options{Addr: addr}), nil
}
