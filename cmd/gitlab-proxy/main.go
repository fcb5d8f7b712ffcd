package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/gitlab-http-cache/internal/config"
	"github.com/Sternrassler/gitlab-http-cache/pkg/auth"
	"github.com/Sternrassler/gitlab-http-cache/pkg/cache"
	"github.com/Sternrassler/gitlab-http-cache/pkg/client"
	"github.com/Sternrassler/gitlab-http-cache/pkg/logging"
	"github.com/Sternrassler/gitlab-http-cache/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Proxy failed")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger(logging.ComponentProxy)

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		logger.Info().Str("address", cfg.Redis.Address).Msg("Connected to Redis")
	}

	p, payloads, err := newProxy(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	if payloads != nil {
		defer payloads.Close()
	}

	var snapshots *cache.Snapshotter
	if rdb != nil {
		snapshots = cache.NewSnapshotter(rdb).WithPrefix(cfg.Redis.SnapshotPrefix)
		n, err := snapshots.Restore(ctx, p.executor.Validators())
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to restore validator snapshot")
		} else {
			logger.Info().Int("validators", n).Msg("Restored validator snapshot")
		}
	}

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      p.router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.GitLab.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("upstream", cfg.GitLab.UpstreamURL).
			Bool("authenticated", p.tokens != nil).
			Msg("Starting GitLab proxy")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down proxy")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	if snapshots != nil {
		n, err := snapshots.Save(shutdownCtx, p.executor.Validators())
		if err != nil {
			logger.Error().Err(err).Msg("Failed to save validator snapshot")
		} else {
			logger.Info().Int("validators", n).Msg("Saved validator snapshot")
		}
	}

	logger.Info().Msg("Proxy exited")
	return nil
}

// newProxy wires the executor and its collaborators from cfg.
// rdb may be nil. The returned payload store is nil when disabled.
func newProxy(ctx context.Context, cfg config.Config, rdb *redis.Client) (*proxy, *cache.PayloadStore, error) {
	upstream, err := url.Parse(cfg.GitLab.UpstreamURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse upstream url: %w", err)
	}

	validators := cache.NewValidatorCache(
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
		cache.WithDefaultTTL(cfg.Cache.TTL),
		cache.WithLogger(logging.NewLogger(logging.ComponentValidators)),
	)

	var payloads *cache.PayloadStore
	if !cfg.Cache.DisablePayloads {
		payloads, err = cache.NewPayloadStore(ctx, cache.PayloadStoreConfig{
			LifeWindow: cfg.Cache.TTL,
			MaxSizeMB:  cfg.Cache.PayloadMaxSizeMB,
			Shards:     cfg.Cache.PayloadShards,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create payload store: %w", err)
		}
	}

	var tracker *ratelimit.Tracker
	if rdb != nil {
		tracker = ratelimit.NewTracker(rdb, logging.NewLogger(logging.ComponentRateLimiter))
	}

	var tokens *auth.Cached
	if source := tokenSource(cfg); source != nil {
		tokens = auth.NewCached(source, upstream.Host, cfg.GitLab.TokenCacheTTL)
	}

	executorLogger := logging.NewLogger(logging.ComponentExecutor)
	execCfg := client.Config{
		Transport: client.NewHTTPTransport(&http.Client{
			Timeout:   cfg.GitLab.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
		Validators:  validators,
		Payloads:    payloads,
		RateLimiter: tracker,
		Retry: client.RetryConfig{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialBackoff:    cfg.Retry.InitialBackoff,
			MaxBackoff:        cfg.Retry.MaxBackoff,
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		},
		UserAgent: cfg.GitLab.UserAgent,
		Logger:    &executorLogger,
	}
	if tokens != nil {
		execCfg.Auth = tokens
	}

	executor, err := client.NewExecutor(execCfg)
	if err != nil {
		if payloads != nil {
			_ = payloads.Close()
		}
		return nil, nil, fmt.Errorf("create executor: %w", err)
	}

	return &proxy{
		executor: executor,
		upstream: upstream,
		redis:    rdb,
		tokens:   tokens,
		timeout:  cfg.GitLab.RequestTimeout,
		logger:   logging.NewLogger(logging.ComponentProxy),
	}, payloads, nil
}

// tokenSource prefers GITLAB_TOKEN from the environment so a rotated token
// is picked up when the cached one expires, and falls back to the
// configured value. Returns nil when no token is available.
func tokenSource(cfg config.Config) auth.TokenSource {
	if os.Getenv("GITLAB_TOKEN") != "" {
		return auth.EnvTokenSource("GITLAB_TOKEN")
	}
	if cfg.GitLab.Token != "" {
		token := cfg.GitLab.Token
		return auth.TokenSourceFunc(func(ctx context.Context) (auth.Token, error) {
			return auth.Token{Value: token}, nil
		})
	}
	return nil
}
