// Package app assembles the services shared by the API and worker processes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/cors"

	"github.com/inaiurai/promptq/internal/auth"
	"github.com/inaiurai/promptq/internal/compute"
	"github.com/inaiurai/promptq/internal/config"
	"github.com/inaiurai/promptq/internal/database"
	"github.com/inaiurai/promptq/internal/events"
	"github.com/inaiurai/promptq/internal/execution"
	"github.com/inaiurai/promptq/internal/jobs"
	"github.com/inaiurai/promptq/internal/ledger"
	"github.com/inaiurai/promptq/internal/logging"
	"github.com/inaiurai/promptq/internal/queue"
	"github.com/inaiurai/promptq/internal/reconcile"
	"github.com/inaiurai/promptq/internal/retry"
	"github.com/inaiurai/promptq/internal/router"
)

type App struct {
	cfg  *config.Config
	log  logging.Logger
	pool *pgxpool.Pool

	redis  goredis.UniversalClient
	river  *river.Client[pgx.Tx]
	events events.Publisher

	Auth      auth.Service
	Ledger    ledger.Service
	Admission *jobs.Admission
	Reader    *jobs.Reader
	Validator *jobs.Validator
	Processor *execution.Processor
	Sweeper   *reconcile.Sweeper

	withWorker bool
	wg         sync.WaitGroup
}

// New connects to Postgres (and Redis or Kafka when configured) and wires
// every service. When withWorker is set the River client also works the
// generate queue and schedules the staleness sweep.
func New(ctx context.Context, cfg *config.Config, log logging.Logger, withWorker bool) (*App, error) {
	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, pool: pool, events: events.Noop{}, withWorker: withWorker}

	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log.WithField("component", "events"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("kafka: %w", err)
		}
		a.events = kp
		log.WithField("topic", cfg.KafkaTopic).Info("publishing job events to kafka")
	}

	ledgerSvc := ledger.NewService(ledger.NewRepository(pool))
	jobsRepo := jobs.NewRepository(pool)
	validator, err := jobs.NewValidator(cfg.MaxPromptLength)
	if err != nil {
		a.Close()
		return nil, err
	}
	settler := jobs.NewSettler(pool, jobsRepo, ledgerSvc, a.events, log)

	var exec compute.Executable = compute.EchoExecutor{}
	if cfg.InferenceURL != "" {
		exec = compute.NewHTTPExecutor(cfg.InferenceURL, cfg.InferenceTimeout)
	}
	processor := execution.NewProcessor(jobsRepo, settler, exec, execution.Options{
		RefundOnFailure: cfg.RefundOnFailure,
		ComputeTimeout:  cfg.InferenceTimeout,
		Retry:           retry.DefaultConfig(),
	}, log.WithField("component", "worker"))
	sweeper := reconcile.NewSweeper(jobsRepo, settler, cfg.StaleJobAfter, log.WithField("component", "sweeper"))

	publisher, err := a.buildQueue(ctx, processor, sweeper)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Auth = auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	a.Ledger = ledgerSvc
	a.Validator = validator
	a.Admission = jobs.NewAdmission(pool, jobsRepo, ledgerSvc, publisher, validator, settler, a.events, cfg.JobPrice, log)
	a.Reader = jobs.NewReader(jobsRepo)
	a.Processor = processor
	a.Sweeper = sweeper
	return a, nil
}

func (a *App) buildQueue(ctx context.Context, processor *execution.Processor, sweeper *reconcile.Sweeper) (queue.Publisher, error) {
	switch a.cfg.QueueBackend {
	case config.QueueBackendRedis:
		a.redis = goredis.NewClient(&goredis.Options{Addr: a.cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return queue.NewRedisPublisher(a.redis, a.redisConfig()), nil

	default:
		riverCfg := &river.Config{}
		if a.withWorker {
			workers := river.NewWorkers()
			river.AddWorker(workers, execution.NewRiverWorker(processor, a.cfg.InferenceTimeout))
			river.AddWorker(workers, reconcile.NewSweepWorker(sweeper))
			riverCfg.Workers = workers
			riverCfg.Queues = map[string]river.QueueConfig{
				// One job in flight per process.
				queue.QueueName:    {MaxWorkers: 1},
				river.QueueDefault: {MaxWorkers: 1},
			}
			riverCfg.PeriodicJobs = []*river.PeriodicJob{reconcile.PeriodicJob(a.cfg.SweepInterval)}
		}
		client, err := river.NewClient(riverpgxv5.New(a.pool), riverCfg)
		if err != nil {
			return nil, fmt.Errorf("river client: %w", err)
		}
		a.river = client
		pub := queue.NewRiverPublisher()
		pub.BindClient(client)
		return pub, nil
	}
}

func (a *App) redisConfig() queue.RedisConfig {
	rc := retry.DefaultConfig()
	rc.MaxRetries = a.cfg.PublishMaxRetries
	return queue.RedisConfig{
		Stream:    a.cfg.RedisStream,
		Group:     a.cfg.RedisGroup,
		Consumer:  a.cfg.RedisConsumer,
		ClaimIdle: a.cfg.RedisClaimIdle,
		Retry:     rc,
	}
}

// Pool is exposed for migrations.
func (a *App) Pool() *pgxpool.Pool { return a.pool }

// Handler returns the API wrapped in CORS.
func (a *App) Handler() http.Handler {
	h := router.New(router.Handlers{
		Auth:   auth.NewHandler(a.Auth, a.cfg.SecureCookies, a.log),
		Ledger: ledger.NewHandler(a.Ledger, a.log),
		Jobs:   jobs.NewHandler(a.Admission, a.Reader, a.Validator, a.log),
	}, a.Auth)
	return cors.New(cors.Options{
		AllowedOrigins:   a.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(h)
}

// BootstrapAdmin creates or promotes the configured admin account.
func (a *App) BootstrapAdmin(ctx context.Context) error {
	if a.cfg.AdminUsername == "" {
		return nil
	}
	acc, err := a.Auth.EnsureAdmin(ctx, a.cfg.AdminUsername, a.cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	a.log.WithField("account_id", acc.ID).Info("admin account ready")
	return nil
}

// StartWorker starts consuming jobs and sweeping stale ones. It returns once
// the workers are running. The River worker runs until Stop; the Redis
// consumer and sweeper run until ctx is cancelled.
func (a *App) StartWorker(ctx context.Context) error {
	if !a.withWorker {
		return errors.New("app built without worker")
	}
	if a.river != nil {
		// River drains through Stop; cancelling its start context would abort the in-flight job.
		if err := a.river.Start(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("start river: %w", err)
		}
		a.log.WithField("queue", queue.QueueName).Info("river worker started")
		return nil
	}

	consumer := queue.NewRedisConsumer(a.redis, a.redisConfig(), a.log.WithField("component", "consumer"))
	if err := consumer.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("redis consumer group: %w", err)
	}
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := consumer.Consume(ctx, a.Processor.Process); err != nil && ctx.Err() == nil {
			a.log.WithError(err).Error("redis consumer stopped")
		}
	}()
	go func() {
		defer a.wg.Done()
		a.Sweeper.Run(ctx, a.cfg.SweepInterval)
	}()
	a.log.WithField("stream", a.cfg.RedisStream).Info("redis worker started")
	return nil
}

// Stop lets the in-flight River job finish, bounded by ctx, then waits for
// the Redis goroutines to return.
func (a *App) Stop(ctx context.Context) {
	if a.river != nil && a.withWorker {
		if err := a.river.Stop(ctx); err != nil {
			a.log.WithError(err).Warn("river stop")
		}
	}
	a.wg.Wait()
}

func (a *App) Close() {
	if err := a.events.Close(); err != nil {
		a.log.WithError(err).Warn("close events")
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.pool.Close()
}
