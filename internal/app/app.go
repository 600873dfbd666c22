// Package app wires configuration, the upstream client, the relay and the
// HTTP surfaces into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatrelay/internal/cache"
	"chatrelay/internal/config"
	"chatrelay/internal/graph"
	"chatrelay/internal/handlers"
	"chatrelay/internal/httpserver"
	"chatrelay/internal/llm"
	"chatrelay/internal/metrics"
	"chatrelay/internal/relay"
)

const (
	shutdownTimeout  = 10 * time.Second
	redisPingTimeout = 5 * time.Second
	cachePrefix      = "chatrelay"
)

type App struct {
	cfg     *config.Config
	variant httpserver.Variant
	logger  *zap.Logger
	router  *chi.Mux
	server  *http.Server
	closers []io.Closer
}

// New builds every component. A missing API key is not fatal: each request
// then fails with a configuration error.
func New(cfg *config.Config, variant httpserver.Variant, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, variant: variant, logger: logger}

	metrics.Register()

	logger.Info("loaded config",
		zap.String("variant", string(variant)),
		zap.String("port", cfg.Server.Port),
		zap.String("deepseek_base_url", cfg.DeepSeek.BaseURL),
		zap.String("model", cfg.DeepSeek.Model),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("strict_roles", cfg.DeepSeek.StrictRoles),
	)

	if cfg.DeepSeek.APIKey == "" {
		logger.Warn("DEEPSEEK_API_KEY is not set; chat requests will fail until it is configured")
	}

	exactCache, err := a.buildCache()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	llmClient, err := llm.NewClient(llm.Config{
		BaseURL:         cfg.DeepSeek.BaseURL,
		APIKey:          cfg.DeepSeek.APIKey,
		UpstreamTimeout: cfg.DeepSeek.UpstreamTimeout,
	}, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("build llm client: %w", err)
	}
	if closer, ok := llmClient.(io.Closer); ok {
		a.closers = append(a.closers, closer)
	}

	svc, err := relay.New(llmClient, relay.Options{
		APIKey:       cfg.DeepSeek.APIKey,
		Model:        cfg.DeepSeek.Model,
		StrictRoles:  cfg.DeepSeek.StrictRoles,
		Cache:        exactCache,
		CacheTTL:     cfg.Cache.TTL,
		CacheVersion: cfg.Cache.VersionID,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	schema, err := graph.NewSchema(svc)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("parse graphql schema: %w", err)
	}

	a.router = chi.NewRouter()
	httpserver.SetupRouter(a.router, logger, httpserver.Options{
		Variant:        variant,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	}, handlers.NewChatHandler(svc), graph.NewHandler(schema, cfg.Server.GraphiQL))

	a.server = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return a, nil
}

func (a *App) buildCache() (cache.ExactCache, error) {
	cfg := a.cfg.Cache

	var redisClient *redis.Client
	if cfg.Backend == cache.BackendRedis {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, redisClient)

		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			a.logger.Error("redis connection failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		a.logger.Info("redis connection established", zap.String("addr", cfg.RedisAddr))
	}

	exactCache, err := cache.NewExactCache(cache.Config{
		Backend: cfg.Backend,
		TTL:     cfg.TTL,
		Prefix:  cachePrefix,
	}, redisClient)
	if err != nil {
		return nil, err
	}
	if closer, ok := exactCache.(io.Closer); ok {
		a.closers = append(a.closers, closer)
	}

	return cache.NewLoggingExactCache(exactCache), nil
}

// Handler returns the fully wired router.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run listens on the configured port until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests for up to shutdownTimeout.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.logger.Info("starting chatrelay",
		zap.String("addr", ln.Addr().String()),
		zap.String("variant", string(a.variant)),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	a.logger.Info("server shutdown complete")
	return nil
}

// Close releases the cache, the redis client and idle upstream connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
