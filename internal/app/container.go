// Package app wires shared infrastructure and the lazily initialised
// component graph used by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/acme/voice-dispatch/internal/concurrency"
	"github.com/acme/voice-dispatch/internal/config"
	"github.com/acme/voice-dispatch/internal/dialer/mock"
	"github.com/acme/voice-dispatch/internal/dispatch"
	"github.com/acme/voice-dispatch/internal/domain"
	"github.com/acme/voice-dispatch/internal/events"
	"github.com/acme/voice-dispatch/internal/experiment"
	"github.com/acme/voice-dispatch/internal/infra/db"
	"github.com/acme/voice-dispatch/internal/infra/redis"
	"github.com/acme/voice-dispatch/internal/metrics"
	"github.com/acme/voice-dispatch/internal/repository"
	pgrepo "github.com/acme/voice-dispatch/internal/repository/postgres"
	scyllarepo "github.com/acme/voice-dispatch/internal/repository/scylla"
	campaignsvc "github.com/acme/voice-dispatch/internal/service/campaign"
	"github.com/acme/voice-dispatch/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *events.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		engine       *dispatch.Engine
		allocator    *experiment.Allocator
		store        *metrics.Store
		publisher    *events.OutcomePublisher
		ingestor     *events.LeadIngestor
	}
}

type repositories struct {
	Campaign   repository.CampaignRepository
	Lead       repository.LeadRepository
	Experiment repository.ExperimentRepository
	Funnel     repository.FunnelRepository
	Attempt    repository.AttemptStore
	Metrics    *pgrepo.MetricsRepository
}

type services struct {
	Campaign *campaignsvc.Service
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := events.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Campaign:   pgrepo.NewCampaignRepository(c.Postgres.DB()),
			Lead:       pgrepo.NewLeadRepository(c.Postgres.DB()),
			Experiment: pgrepo.NewExperimentRepository(c.Postgres.DB()),
			Funnel:     pgrepo.NewFunnelRepository(c.Postgres.DB()),
			Attempt:    scyllarepo.NewAttemptStore(c.Scylla.Session()),
			Metrics:    pgrepo.NewMetricsRepository(c.Postgres.DB()),
		}

		store := metrics.NewStore(repos.Metrics)
		allocator := experiment.NewAllocator(repos.Experiment, store, c.Logger)
		limiter := concurrency.NewRedisLimiter(
			c.Redis.Inner(), c.Config.Dispatch.DefaultConcurrency, c.Config.Dispatch.SlotTTL)
		publisher := events.NewOutcomePublisher(c.Kafka, c.Config.Kafka.OutcomeTopic)

		dial := mock.NewDialer(c.Config.Provider.Seed)
		executor := dispatch.NewActionExecutor(mock.SMSGateway{}, mock.CRMHandoff{}, repos.Lead)

		engine := dispatch.NewEngine(
			dispatch.Config{
				Workers:            c.Config.Dispatch.Workers,
				PollInterval:       c.Config.Dispatch.PollInterval,
				DefaultDialTimeout: c.Config.Dispatch.DefaultDialTimeout,
			},
			repos.Campaign, repos.Lead, repos.Attempt, repos.Funnel,
			allocator, store, limiter, dial, executor, publisher, c.Logger,
		)

		svc := campaignsvc.NewService(
			repos.Campaign, repos.Lead, repos.Experiment, repos.Funnel,
			allocator, store, engine, c.Config.Dispatch.DefaultConcurrency,
		)

		ingestor := events.NewLeadIngestor(
			c.Kafka, c.Config.Kafka.LeadTopic, c.Config.Kafka.ConsumerGroupID,
			repos.Campaign, repos.Lead, engine, c.Logger,
		)

		c.components.repositories = repos
		c.components.store = store
		c.components.allocator = allocator
		c.components.publisher = publisher
		c.components.engine = engine
		c.components.ingestor = ingestor
		c.components.services = &services{Campaign: svc}
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Engine exposes the dispatch engine.
func (c *Container) Engine() *dispatch.Engine {
	c.initComponents()
	return c.components.engine
}

// Allocator exposes the experiment allocator.
func (c *Container) Allocator() *experiment.Allocator {
	c.initComponents()
	return c.components.allocator
}

// MetricsStore exposes the in-process metrics store.
func (c *Container) MetricsStore() *metrics.Store {
	c.initComponents()
	return c.components.store
}

// LeadIngestor exposes the Kafka lead consumer.
func (c *Container) LeadIngestor() *events.LeadIngestor {
	c.initComponents()
	return c.components.ingestor
}

// EnsureTopics creates the lead and outcome topics when they are missing.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.LeadTopic, c.Config.Kafka.OutcomeTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 3, 1)
}

// SeedMetrics restores durable counters into the in-process store for every
// variant of the campaign's experiment. Called on startup before dispatch.
func (c *Container) SeedMetrics(ctx context.Context) error {
	c.initComponents()
	repos := c.components.repositories

	campaigns, err := repos.Campaign.ListByState(ctx, domain.CampaignStateActive, 0)
	if err != nil {
		return fmt.Errorf("seed metrics: list campaigns: %w", err)
	}
	for _, campaign := range campaigns {
		exp, err := repos.Experiment.GetByCampaign(ctx, campaign.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return fmt.Errorf("seed metrics: experiment: %w", err)
		}
		ids := make([]uuid.UUID, 0, len(exp.Variants))
		for _, v := range exp.Variants {
			ids = append(ids, v.ID)
		}
		persisted, err := repos.Metrics.LoadVariantMetrics(ctx, ids)
		if err != nil {
			return fmt.Errorf("seed metrics: load: %w", err)
		}
		for _, m := range persisted {
			c.components.store.Seed(m)
		}
	}
	return nil
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.components.publisher != nil {
		if err := c.components.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("outcome publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	c.Logger.Sync()
	if len(errs) > 0 {
		return fmt.Errorf("container close: %v", errs)
	}
	return nil
}
