// Package app assembles the engine from configuration. Both the HTTP server
// and the operator CLI start from here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dapurstok/backend/internal/availability"
	"dapurstok/backend/internal/cache"
	"dapurstok/backend/internal/categorize"
	"dapurstok/backend/internal/config"
	"dapurstok/backend/internal/consumption"
	"dapurstok/backend/internal/deduction"
	"dapurstok/backend/internal/events"
	"dapurstok/backend/internal/matcher"
	"dapurstok/backend/internal/metrics"
	"dapurstok/backend/internal/recipesync"
	"dapurstok/backend/internal/rules"
	"dapurstok/backend/internal/saletx"
	"dapurstok/backend/internal/selection"
	"dapurstok/backend/internal/service"
	"dapurstok/backend/internal/store"
	"dapurstok/backend/internal/store/memory"
	pgstore "dapurstok/backend/internal/store/postgres"
)

// Infra is the set of outside resources the engine runs against.
type Infra struct {
	Repo      store.Repository
	Cache     cache.InventoryCache
	Locker    cache.Locker
	Publisher events.Publisher
	Metrics   *metrics.Recorder
	Rules     *rules.Rules
}

type Components struct {
	Service *service.Service
	Sync    *recipesync.Engine
	Sweeper *recipesync.Sweeper
	Metrics *metrics.Recorder
	Repo    store.Repository

	closers []func() error
	log     logrus.FieldLogger
}

// Build connects to whatever the configuration names. Postgres is required
// once DATABASE_URL is set; Redis and Kafka degrade to local stand-ins.
func Build(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*Components, error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	r := rules.Default()
	if cfg.RulesFile != "" {
		loaded, err := rules.Load(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		r = loaded
		log.WithField("path", cfg.RulesFile).Info("rules: file")
	}

	infra := Infra{
		Cache:     cache.NoopInventoryCache{},
		Locker:    cache.NewLocalLocker(),
		Publisher: events.NoopPublisher{},
		Rules:     r,
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(connectCtx); err != nil {
			closeAll()
			return nil, err
		}
		infra.Repo = pg
		log.Info("repository: postgres")
	} else {
		infra.Repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisInventoryCache(client)
		if err := redisCache.Ping(connectCtx); err != nil {
			log.WithError(err).Warn("redis unavailable, using noop cache and local lock")
			_ = redisCache.Close()
		} else {
			infra.Cache = redisCache
			infra.Locker = cache.NewRedisLocker(client)
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis")
		}
	} else {
		log.Info("cache: noop")
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		infra.Publisher = publisher
		closers = append(closers, publisher.Close)
		log.WithField("topic", cfg.KafkaTopic).Info("events: kafka")
	} else {
		log.Info("events: noop")
	}

	if cfg.MetricsEnabled {
		infra.Metrics = metrics.New()
	}

	c := Assemble(cfg, infra, log)
	c.closers = closers
	return c, nil
}

// Assemble wires the engine on top of already opened infrastructure.
func Assemble(cfg config.Config, infra Infra, log logrus.FieldLogger) *Components {
	if infra.Rules == nil {
		infra.Rules = rules.Default()
	}
	if infra.Cache == nil {
		infra.Cache = cache.NoopInventoryCache{}
	}
	if infra.Publisher == nil {
		infra.Publisher = events.NoopPublisher{}
	}
	if infra.Locker == nil {
		infra.Locker = cache.NewLocalLocker()
	}
	repo := infra.Repo

	resolver := consumption.NewResolver(
		selection.NewParser(infra.Rules, log),
		categorize.New(categorize.NewMetadataFirst(infra.Rules, categorize.NewKeywordHeuristic(infra.Rules))),
	)
	snaps := cache.NewSnapshots(infra.Cache, repo, cfg.InventoryCacheTTL, log)
	validator := availability.New(repo, resolver, snaps, cfg.ValidationChunkSize, log)

	sales := saletx.New(saletx.Deps{
		Store:     repo,
		Validator: validator,
		Planner:   deduction.NewPlanner(repo, resolver, log),
		Executor:  deduction.NewExecutor(repo, log, deduction.WithPolicy(deduction.ParsePolicy(cfg.ShortfallPolicy))),
		Cache:     snaps,
		Publisher: infra.Publisher,
		Metrics:   infra.Metrics,
		Log:       log,
	})
	engine := recipesync.New(recipesync.Deps{
		Store:       repo,
		Provisioner: matcher.NewProvisioner(matcher.New(infra.Rules), repo, log),
		Cache:       snaps,
		Publisher:   infra.Publisher,
		Metrics:     infra.Metrics,
		Log:         log,
	})

	svc := service.New(service.Deps{
		Repo:           repo,
		Availability:   validator,
		Sales:          sales,
		Sync:           engine,
		DefaultStoreID: cfg.StoreID,
		Log:            log,
	})

	return &Components{
		Service: svc,
		Sync:    engine,
		Sweeper: recipesync.NewSweeper(engine, infra.Locker, cfg.SweepInterval, "", log),
		Metrics: infra.Metrics,
		Repo:    repo,
		log:     log,
	}
}

// Close releases connections in reverse order of opening.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.log.WithError(err).Warn("close error")
		}
	}
	c.closers = nil
}
