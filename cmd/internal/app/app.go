// Package app wires the backstage server runtime: config, logging, the invite
// store, HTTP routes, and the live invite feed.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"backstage/cmd/internal/auth"
	"backstage/cmd/internal/feed"
	"backstage/cmd/internal/invite"
	"backstage/cmd/internal/invite/api"
	"backstage/cmd/internal/observability"
)

// App is the backstage server runtime: it owns the HTTP server, the store
// backend, and the feed hub.
type App struct {
	cfg Config
	log Logger

	backend *backend
	metrics *observability.Metrics

	invites *api.Handler
	gateway *feed.Gateway
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	fp, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}

	be, err := newBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	svc, err := invite.NewService(be.store)
	if err != nil {
		_ = be.Close(ctx)
		return nil, err
	}

	metrics := observability.NewMetrics()

	verifier := auth.NewVerifier(cfg.AdminJWTSecret, cfg.AdminRoles)
	if !verifier.Enabled() {
		log.Warn("admin.disabled", "reason", "BACKSTAGE_ADMIN_JWT_SECRET not set")
	}

	hub := feed.NewHub(log, metrics)
	gateway := feed.NewGateway(log, hub, verifier, feed.Config{
		OriginRequired:   cfg.WSOriginRequired,
		AllowedOrigins:   cfg.WSAllowedOrigins,
		DevInsecure:      cfg.WSDevInsecure,
		SendQueueSize:    cfg.WSSendQueueSize,
		HeartbeatEvery:   cfg.WSHeartbeatEvery,
		HeartbeatTimeout: cfg.WSHeartbeatTimeout,
	})

	invites, err := api.NewHandler(log, svc, verifier, api.LoadConfigFromEnv(),
		api.WithPublisher(hub),
		api.WithMetrics(metrics),
		api.WithFingerprinter(fp),
	)
	if err != nil {
		_ = be.Close(ctx)
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		backend: be,
		metrics: metrics,
		invites: invites,
		gateway: gateway,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.backend, a.metrics, a.invites, a.gateway)
	return buildHandler(mux, a.cfg, a.log, a.metrics)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", a.backend.kind)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.backend.Close(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		_ = a.backend.Close(shutdownCtx)
		return err
	}

	if err := a.backend.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases the store resources without running the server.
func (a *App) Close(ctx context.Context) error {
	return a.backend.Close(ctx)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
