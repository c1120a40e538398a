// Package app assembles the identity services from configuration and owns
// the lifecycle of the external dependencies they use.
package app

import (
	"context"
	"errors"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectoinject/loglevel"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/memory"
	"github.com/Ramsey-B/fern/pkg/cats"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/gate"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/linking"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
	"github.com/Ramsey-B/fern/pkg/places"
	"github.com/Ramsey-B/fern/pkg/pollution"
	"github.com/Ramsey-B/fern/pkg/redis"
	mergeroutes "github.com/Ramsey-B/fern/pkg/routes/merge"
	relationshiproutes "github.com/Ramsey-B/fern/pkg/routes/relationship"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/validators"
)

type Options struct {
	// InMemory skips Postgres and keeps all state in process.
	InMemory bool
	// Store replaces the fresh in-memory store when InMemory is set.
	Store *memory.Store
	// DB reuses an open connection instead of dialing one. The caller keeps
	// ownership of it.
	DB database.DB
	// Migrate applies pending migrations once the database is reachable.
	Migrate bool
	Version string
}

type App struct {
	Config *config.Config
	Logger ectologger.Logger

	Classifier   *validators.Classifier
	Emitter      *events.Emitter
	Resolver     *matching.Resolver
	Cats         *cats.Resolver
	Places       *places.Deduplicator
	Linker       *linking.Linker
	Orchestrator *orchestrator.Orchestrator
	Merger       *merging.Engine
	Pollution    *pollution.Monitor
	Scheduler    *scheduler.Scheduler
	Health       *health.Checker
	Stores       Stores

	startup  *startup.Startup
	db       database.DB
	redis    *redis.Client
	producer *kafka.Producer
	graph    *graph.Client
}

// New starts the configured dependencies and builds every service on top of
// them. Call Close to release what was started.
func New(ctx context.Context, cfg *config.Config, logger ectologger.Logger, opts Options) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
		Health:  health.NewChecker(opts.Version),
	}

	vocab, err := validators.LoadVocabulary(cfg.VocabularyFile)
	if err != nil {
		return nil, err
	}
	a.Classifier = validators.NewClassifier(vocab)

	a.addDependencies(cfg, logger, opts)
	if err := a.startup.Start(ctx); err != nil {
		_ = a.startup.Stop(ctx)
		return nil, err
	}

	if opts.InMemory {
		store := opts.Store
		if store == nil {
			store = memory.New()
		}
		a.Stores = MemoryStores(store)
	} else {
		a.Stores = PostgresStores(a.db, logger)
		a.Health.AddCheck("postgres", health.PingFunc(a.db.PingContext))
	}

	a.Emitter = events.NewEmitter(logger)
	if a.producer != nil {
		a.Emitter.AddSink(a.producer)
	}
	if a.graph != nil {
		a.Emitter.AddSink(graph.NewProjector(a.graph, logger))
		a.Health.AddCheck("graph", a.graph)
	}
	if a.redis != nil {
		a.Health.AddCheck("redis", a.redis)
	}

	a.buildServices(cfg, logger)
	return a, nil
}

func (a *App) addDependencies(cfg *config.Config, logger ectologger.Logger, opts Options) {
	if !opts.InMemory {
		var requires []string
		if opts.DB != nil {
			a.db = opts.DB
		} else {
			requires = []string{"postgres"}
			a.startup.AddDependency(&startup.Func{
				Name: "postgres",
				StartFunc: func(ctx context.Context) error {
					db, err := database.Open(ctx, cfg.DatabaseConfig(), logger)
					if err != nil {
						return err
					}
					a.db = db
					return nil
				},
				StopFunc: func(context.Context) error {
					return a.db.Close()
				},
			})
		}
		if opts.Migrate {
			a.startup.AddDependency(&startup.Func{
				Name:     "migrations",
				Requires: requires,
				StartFunc: func(context.Context) error {
					return database.NewMigrationService(logger, cfg.MigrationConfig()).MigratePostgres(a.db.SQLX(), cfg.DatabaseName)
				},
			})
		}
	}

	if cfg.RedisEnabled {
		a.startup.AddDependency(&startup.Func{
			Name: "redis",
			StartFunc: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, cfg.RedisConfig(), logger)
				if err != nil {
					return err
				}
				a.redis = client
				return nil
			},
			StopFunc: func(context.Context) error {
				return a.redis.Close()
			},
		})
	}

	if cfg.KafkaEnabled {
		a.startup.AddDependency(&startup.Func{
			Name: "kafka",
			StartFunc: func(context.Context) error {
				kafkaCfg := cfg.KafkaConfig()
				if len(kafkaCfg.Brokers) == 0 {
					return errors.New("kafka is enabled but no brokers are configured")
				}
				a.producer = kafka.NewProducer(kafkaCfg, logger)
				return nil
			},
			StopFunc: func(context.Context) error {
				return a.producer.Close()
			},
		})
	}

	if cfg.GraphEnabled {
		a.startup.AddDependency(&startup.Func{
			Name: "graph",
			StartFunc: func(ctx context.Context) error {
				client, err := graph.NewClient(cfg.GraphConfig(), logger)
				if err != nil {
					return err
				}
				if err := client.Ping(ctx); err != nil {
					_ = client.Close(ctx)
					return err
				}
				a.graph = client
				return nil
			},
			StopFunc: func(ctx context.Context) error {
				return a.graph.Close(ctx)
			},
		})
	}
}

func (a *App) buildServices(cfg *config.Config, logger ectologger.Logger) {
	s := a.Stores

	blacklist := gate.NewBlacklist(logger, s.Blacklist, cfg.GateConfig())
	identityGate := gate.NewGate(logger, a.Classifier, blacklist)
	scorer := matching.NewCandidateScorer(logger, s.Candidates, cfg.ScorerConfig())

	a.Resolver = matching.NewResolver(logger, identityGate, scorer, s.Persons, s.Decisions, s.Tx, a.Emitter, cfg.ResolverConfig())
	a.Cats = cats.NewResolver(logger, s.Cats, s.Tx, a.Classifier, a.Emitter)
	a.Places = places.NewDeduplicator(logger, s.Places, s.Tx, nil, a.Emitter, cfg.PlacesConfig())
	a.Linker = linking.NewLinker(logger, s.Relationships, a.Emitter, linking.DefaultConfig())
	a.Orchestrator = orchestrator.New(logger, s.Linking, s.Runs, a.Places, a.Linker, a.Emitter, cfg.LinkingConfig())
	a.Merger = merging.NewEngine(logger, s.Merges, s.Tx, a.Emitter)
	a.Pollution = pollution.NewMonitor(logger, s.Pollution, a.Classifier, cfg.PollutionConfig())

	if cfg.SchedulerEnabled {
		var locker scheduler.Locker
		if a.redis != nil {
			locker = redis.NewLocker(a.redis, "")
		}
		a.Scheduler = scheduler.New(a.Orchestrator, locker, cfg.SchedulerConfig(), logger)
	}
}

// Container registers the services under id so request handlers can resolve
// them with ectoinject.GetContext.
func (a *App) Container(id string) (ectocontainer.DIContainer, error) {
	container, err := ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:                       id,
		AllowCaptiveDependencies: true,
		AllowMissingDependencies: true,
		LoggerConfig: &ectocontainer.DIContainerLoggerConfig{
			Prefix:   "fern",
			LogLevel: loglevel.WARN,
			Enabled:  false,
		},
	})
	if err != nil {
		return nil, err
	}

	registrations := []func(ectocontainer.DIContainer) error{
		instance[ectologger.Logger](a.Logger),
		instance[*validators.Classifier](a.Classifier),
		instance[*matching.Resolver](a.Resolver),
		instance[*cats.Resolver](a.Cats),
		instance[*places.Deduplicator](a.Places),
		instance[*linking.Linker](a.Linker),
		instance[*orchestrator.Orchestrator](a.Orchestrator),
		instance[*merging.Engine](a.Merger),
		instance[*pollution.Monitor](a.Pollution),
		instance[relationshiproutes.Reader](a.Stores.Relationships),
		instance[mergeroutes.AuditReader](a.Stores.Merges),
	}
	for _, register := range registrations {
		if err := register(container); err != nil {
			return nil, err
		}
	}
	return container, nil
}

func instance[T any](v T) func(ectocontainer.DIContainer) error {
	return func(container ectocontainer.DIContainer) error {
		return ectoinject.RegisterInstance[T](container, v)
	}
}

// Close stops the scheduler and every started dependency in reverse order.
func (a *App) Close(ctx context.Context) error {
	if a.Scheduler != nil && a.Scheduler.IsRunning() {
		if err := a.Scheduler.Stop(ctx); err != nil {
			a.Logger.WithContext(ctx).WithError(err).Error("Failed to stop scheduler")
		}
	}
	return a.startup.Stop(ctx)
}
