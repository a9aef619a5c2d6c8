package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-session-auth/auth"
	"github.com/jrsteele09/go-session-auth/internal/config"
	"github.com/jrsteele09/go-session-auth/internal/metrics"
	"github.com/jrsteele09/go-session-auth/lockout"
	"github.com/jrsteele09/go-session-auth/roles"
	"github.com/jrsteele09/go-session-auth/server"
	"github.com/jrsteele09/go-session-auth/store/memory"
	"github.com/jrsteele09/go-session-auth/store/postgres"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/jrsteele09/go-session-auth/token/refresh"
	"github.com/jrsteele09/go-session-auth/users"
)

// dataStore is implemented by both store drivers.
type dataStore interface {
	auth.Transactor
	Repos() auth.Repos
	Ping(ctx context.Context) error
	Close()
}

type app struct {
	handler http.Handler
	store   dataStore
}

func (a *app) close() {
	a.store.Close()
}

// newApp wires the store, token codec, session service and HTTP server.
func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger, registry *prometheus.Registry) (*app, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	handler, err := newHandler(cfg, store, logger, registry)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{handler: handler, store: store}, nil
}

func newHandler(cfg config.Config, store dataStore, logger zerolog.Logger, registry *prometheus.Registry) (http.Handler, error) {
	signer, err := token.NewHMACSigner(cfg.GetSigningSecret())
	if err != nil {
		return nil, err
	}
	codec, err := token.NewCodec(signer, cfg.GetIssuer(), cfg.GetAudience())
	if err != nil {
		return nil, err
	}
	refreshTokens, err := refresh.NewManager(store.Repos().RefreshTokens)
	if err != nil {
		return nil, err
	}

	service, err := auth.NewSessionService(store.Repos(), store, codec, refreshTokens, users.BcryptVerifier{},
		auth.WithLogger(logger),
		auth.WithMetrics(metrics.New(registry)),
		auth.WithPolicy(lockout.Policy{Threshold: cfg.GetLockoutThreshold(), Duration: cfg.GetLockoutDuration()}),
		auth.WithTokenLifetimes(cfg.GetAccessTokenExpiry(), cfg.GetRefreshTokenExpiry()),
		auth.WithDefaultRole(cfg.GetDefaultRole()),
		auth.WithReuseDetection(cfg.GetRefreshReuseDetection()),
	)
	if err != nil {
		return nil, err
	}

	return server.New(cfg, service, codec, store,
		server.WithLogger(logger),
		server.WithGatherer(registry),
	)
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (dataStore, error) {
	if cfg.GetStoreDriver() == config.StoreDriverMemory {
		store := memory.New()
		seeded, err := roles.Seed(ctx, store.Repos().Roles, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		logger.Warn().Int("roles_seeded", seeded).Msg("using the in-memory store, data is lost on restart")
		return store, nil
	}

	store, err := postgres.Connect(ctx, cfg.GetDatabaseURL(), cfg.GetConnectRetries(), postgres.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return store, nil
}
