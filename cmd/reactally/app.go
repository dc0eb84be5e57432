package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reactally/internal/aggregate"
	"reactally/internal/config"
	"reactally/internal/jobs"
	"reactally/internal/logging"
	"reactally/internal/metrics"
	"reactally/internal/model"
	"reactally/internal/namecache"
	"reactally/internal/ratelimit"
	"reactally/internal/slackclient"
	"reactally/internal/store/postgres"
	"reactally/internal/store/sqlite"
)

// ledger is what every storage driver provides.
type ledger interface {
	aggregate.Store
	namecache.Cache
	jobs.RunLedger
	DailyTotals(ctx context.Context, reaction string, since time.Time) ([]model.DayTotal, error)
	Close() error
}

// app holds the wired components for one command invocation.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	ledger  ledger
	gateway *slackclient.Client
	names   *namecache.Resolver
	engine  *aggregate.Engine
	closers []func() error
}

func openApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		db.SetNameTTL(cfg.Cache.TTL)
		a.ledger = db
	default:
		db, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, err
		}
		db.SetNameTTL(cfg.Cache.TTL)
		a.ledger = db
	}
	a.closers = append(a.closers, a.ledger.Close)

	if cfg.Slack.Token == "" {
		log.Warn().Msg("missing SLACK_TOKEN; Slack API calls will fail")
	}
	opts := []slackclient.Option{slackclient.WithLogger(logging.Component(log, "slack"))}
	if cfg.Slack.APIURL != "" {
		opts = append(opts, slackclient.WithAPIURL(cfg.Slack.APIURL))
	}
	a.gateway = slackclient.New(cfg.Slack.Token, opts...)

	var cache namecache.Cache
	switch cfg.Cache.Backend {
	case config.CacheStore:
		cache = a.ledger
	case config.CacheRedis:
		rc, err := namecache.DialRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.TTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		cache = rc
		a.closers = append(a.closers, rc.Close)
	}
	a.names = namecache.New(a.gateway, cache, logging.Component(log, "names"))

	a.engine = aggregate.New(a.gateway, a.ledger,
		aggregate.WithLimiter(ratelimit.New(cfg.Engine.RateLimitInterval)),
		aggregate.WithLogger(logging.Component(log, "engine")),
	)

	metrics.StartServer(ctx, logging.Component(log, "metrics"), cfg.Metrics.Addr)
	return a, nil
}

// syncOnce runs and records one pass for marker.
func (a *app) syncOnce(ctx context.Context, marker string) error {
	_, err := jobs.RunSyncOnce(ctx, a.engine, a.ledger, marker, logging.Component(a.log, "jobs"))
	return err
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(fmt.Errorf("close: %w", err)).Msg("shutdown")
		}
	}
}
