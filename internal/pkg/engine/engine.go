package engine

import (
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/repository"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/env"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/events"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/jkbackend"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/jobqueue"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/ledger"
	metrics "github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/metrics/counter"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/scheduler"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/syncprocessor"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/syncstrategy"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/webhook"
)

// Config holds the tunables of the sync engine
type Config struct {
	Queue     jobqueue.Options
	JKBaseURL string
	JKTimeout time.Duration
}

// ConfigFromEnv reads SYNC_* and JK_* variables
func ConfigFromEnv() Config {
	return Config{
		Queue: jobqueue.Options{
			Workers:      env.GetEnvInt("SYNC_WORKERS", jobqueue.DefaultWorkers),
			MaxAttempts:  env.GetEnvInt("SYNC_MAX_ATTEMPTS", jobqueue.DefaultMaxAttempts),
			BackoffDelay: env.GetEnvDuration("SYNC_BACKOFF_MS", int(jobqueue.DefaultBackoffDelay/time.Millisecond), time.Millisecond),
			CompletedTTL: env.GetEnvDuration("SYNC_COMPLETED_TTL_MIN", int(jobqueue.DefaultCompletedTTL/time.Minute), time.Minute),
		},
		JKBaseURL: env.GetEnv("JK_API_URL", ""),
		JKTimeout: env.GetEnvDuration("JK_HTTP_TIMEOUT_SEC", int(jkbackend.DefaultTimeout/time.Second), time.Second),
	}
}

// Engine wires every sync component. Nothing in it is process global.
type Engine struct {
	DB    *gorm.DB
	Redis *redis.Client

	Repositories *repository.Repositories
	Events       *events.Bus
	Queue        *jobqueue.Queue
	Counters     *metrics.Counters
	Backend      *jkbackend.Client
	Ledger       *ledger.Service
	Strategies   *syncstrategy.Registry
	Processor    *syncprocessor.Processor
	Scheduler    *scheduler.Scheduler
	Manager      *syncprocessor.Manager
	Ingress      *webhook.Ingress
}

// New builds the engine on db and rdb. Call Manager.Start to run workers and schedules.
func New(db *gorm.DB, rdb *redis.Client, cfg Config) *Engine {
	e := &Engine{DB: db, Redis: rdb}

	e.Events = events.NewBus(rdb)
	e.Repositories = repository.NewFactory(db, e.Events).GetRepositories()
	e.Queue = jobqueue.NewQueue(rdb, cfg.Queue)
	e.Counters = metrics.New(rdb)
	e.Backend = jkbackend.NewClient(cfg.JKBaseURL, cfg.JKTimeout)
	e.Ledger = ledger.NewService(db, e.Repositories.Member)

	jk := syncstrategy.NewJKStrategy(e.Backend, e.Repositories.Member, e.Ledger, e.Queue)
	e.Strategies = syncstrategy.NewRegistry(map[syncstrategy.Provider]syncstrategy.Strategy{
		syncstrategy.ProviderJK: jk,
	})

	e.Processor = syncprocessor.NewProcessor(e.Repositories.Company, e.Strategies, e.Counters)
	e.Queue.Handle(e.Processor)

	e.Scheduler = scheduler.New(rdb, e.Repositories.Company, e.Repositories.Setting, e.Queue)
	e.Manager = syncprocessor.NewManager(e.Queue, e.Scheduler, e.Events)
	e.Ingress = webhook.NewIngress(e.Repositories.Company, e.Queue)
	return e
}
