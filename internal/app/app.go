// Package app assembles a chat client from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/huddle-client/internal/api"
	"github.com/rickgao/huddle-client/internal/auth"
	"github.com/rickgao/huddle-client/internal/config"
	"github.com/rickgao/huddle-client/internal/connection"
	"github.com/rickgao/huddle-client/internal/metrics"
	"github.com/rickgao/huddle-client/internal/ratelimit"
	"github.com/rickgao/huddle-client/internal/store"
)

// App holds the wired components of one client process.
type App struct {
	Config   *config.Config
	Store    store.Store
	Auth     *auth.Manager
	Rooms    *api.Client
	Session  *connection.Session
	Bucket   *ratelimit.TokenBucket
	Backoff  *ratelimit.Backoff
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	logger        *slog.Logger
	metricsServer *metrics.Server
}

// New opens the configured store and builds every component on top of it.
// Nothing touches the network until Start or Session.Connect.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kv, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	endpoint := auth.NewClient(cfg.API.BaseURL+cfg.Auth.PathPrefix,
		auth.WithTimeout(cfg.API.Timeout),
		auth.WithClientLogger(logger),
	)
	manager := auth.NewManager(endpoint, kv, cfg.Auth.SessionTimeout,
		auth.WithLogger(logger),
		auth.WithMetrics(m),
	)

	limiterOpts := []ratelimit.Option{
		ratelimit.WithStore(kv),
		ratelimit.WithLogger(logger),
	}

	conn := cfg.Limits.Connection
	backoff := ratelimit.NewBackoff(conn.Key, ratelimit.BackoffConfig{
		MaxAttempts:  conn.MaxAttempts,
		Window:       conn.Window,
		InitialDelay: conn.InitialDelay,
		MaxDelay:     conn.MaxDelay,
		Jitter:       conn.Jitter == nil || *conn.Jitter,
	}, limiterOpts...)

	msgs := cfg.Limits.Messages
	bucketCfg := ratelimit.DefaultTokenBucketConfig()
	bucketCfg.Capacity = msgs.Capacity
	bucketCfg.RefillRate = msgs.RefillRate
	bucketCfg.RefillInterval = msgs.RefillInterval
	bucket := ratelimit.NewTokenBucket(bucketCfg, limiterOpts...)

	sessionCfg := connection.DefaultConfig()
	sessionCfg.URL = cfg.API.WSURL
	sessionCfg.HeartbeatInterval = cfg.Session.HeartbeatInterval
	sessionCfg.PongTimeout = cfg.Session.PongTimeout
	sessionCfg.ConnectTimeout = cfg.Session.ConnectTimeout
	sessionCfg.WriteTimeout = cfg.Session.WriteTimeout
	sessionCfg.ReconnectMinDelay = cfg.Session.ReconnectMinDelay

	session := connection.NewSession(sessionCfg, manager, backoff, bucket,
		connection.WithSessionLogger(logger),
		connection.WithSessionMetrics(m),
	)

	rooms := api.NewClient(cfg.API.BaseURL, manager,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, api.DefaultRetryBackoff),
		api.WithMetrics(m),
	)

	a := &App{
		Config:   cfg,
		Store:    kv,
		Auth:     manager,
		Rooms:    rooms,
		Session:  session,
		Bucket:   bucket,
		Backoff:  backoff,
		Registry: reg,
		Metrics:  m,
		logger:   logger,
	}
	if cfg.Metrics.Addr != "" {
		a.metricsServer = metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, reg, logger)
	}
	return a, nil
}

// Start runs background work: the bucket refill loop and, when configured,
// the metrics endpoint.
func (a *App) Start(ctx context.Context) error {
	a.Bucket.Start(ctx)

	if a.metricsServer != nil {
		if err := a.metricsServer.Start(); err != nil {
			a.Bucket.Stop()
			return fmt.Errorf("start metrics server: %w", err)
		}
	}
	return nil
}

// Close shuts components down in reverse dependency order.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if err := a.Session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close session: %w", err))
	}
	a.Bucket.Stop()
	a.Auth.Close()

	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}
