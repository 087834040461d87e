// Package server builds the capture engine's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/repo-capture-engine/internal/api"
	"github.com/JakeFAU/repo-capture-engine/internal/blob"
	blobgcs "github.com/JakeFAU/repo-capture-engine/internal/blob/gcs"
	bloblocal "github.com/JakeFAU/repo-capture-engine/internal/blob/local"
	"github.com/JakeFAU/repo-capture-engine/internal/capture"
	"github.com/JakeFAU/repo-capture-engine/internal/classify"
	"github.com/JakeFAU/repo-capture-engine/internal/clock/system"
	"github.com/JakeFAU/repo-capture-engine/internal/config"
	"github.com/JakeFAU/repo-capture-engine/internal/events"
	"github.com/JakeFAU/repo-capture-engine/internal/events/sinks"
	"github.com/JakeFAU/repo-capture-engine/internal/freshness"
	"github.com/JakeFAU/repo-capture-engine/internal/id/uuid"
	"github.com/JakeFAU/repo-capture-engine/internal/intake"
	"github.com/JakeFAU/repo-capture-engine/internal/lifecycle"
	"github.com/JakeFAU/repo-capture-engine/internal/logging"
	"github.com/JakeFAU/repo-capture-engine/internal/processors"
	pubsubpublisher "github.com/JakeFAU/repo-capture-engine/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/repo-capture-engine/internal/queue/memory"
	"github.com/JakeFAU/repo-capture-engine/internal/ratebudget"
	"github.com/JakeFAU/repo-capture-engine/internal/rebalance"
	"github.com/JakeFAU/repo-capture-engine/internal/rollout"
	"github.com/JakeFAU/repo-capture-engine/internal/routing"
	"github.com/JakeFAU/repo-capture-engine/internal/scheduler"
	sourcegithub "github.com/JakeFAU/repo-capture-engine/internal/source/github"
	storememory "github.com/JakeFAU/repo-capture-engine/internal/store/memory"
	storepostgres "github.com/JakeFAU/repo-capture-engine/internal/store/postgres"
	"github.com/JakeFAU/repo-capture-engine/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	apiServer *api.Server
	pool      *worker.Pool
	sched     *scheduler.Scheduler
	hub       *events.Hub
	queue     *queuememory.Queue
	pgPool    *pgxpool.Pool
	gcsClient *gcstorage.Client
	psClient  *pubsub.Client
	psPub     *pubsubpublisher.Publisher
}

// stores bundles the persistence layer behind the capture interfaces.
type stores struct {
	jobs    capture.JobStore
	repos   capture.RepositoryStore
	windows capture.RateWindowStore
	rollout capture.RolloutStore
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies", zap.Int("port", cfg.Server.Port))

	st, err := app.setupStores(ctx)
	if err != nil {
		return nil, err
	}

	archive, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}

	hub, err := app.setupEvents(ctx, archive)
	if err != nil {
		return nil, err
	}
	app.hub = hub

	clock := system.New()
	ids := uuid.New()

	budget, err := ratebudget.New(ctx, ratebudget.Config{
		Credential:    cfg.Budget.Credential,
		HourlyLimit:   cfg.Budget.HourlyLimit,
		BufferPercent: cfg.Budget.BufferPercent,
	}, st.windows, clock, logger.Named("budget"))
	if err != nil {
		return nil, fmt.Errorf("budget tracker init failed: %w", err)
	}
	pacer := ratebudget.NewPacer(ratebudget.PacerConfig{
		CallsPerSecond: float64(cfg.Budget.HourlyLimit) / 3600,
		Burst:          10,
	})

	controller, err := rollout.NewController(ctx, rollout.Config{
		Feature:               cfg.Rollout.Feature,
		MaxErrorRatePercent:   cfg.Rollout.MaxErrorRatePercent,
		MonitoringWindowHours: cfg.Rollout.MonitoringWindowHours,
	}, st.rollout, clock, hub, logger.Named("rollout"))
	if err != nil {
		return nil, fmt.Errorf("rollout controller init failed: %w", err)
	}
	monitor := rollout.NewMonitor(rollout.MonitorConfig{MinSample: cfg.Rollout.MinSample},
		controller, st.jobs, clock, logger.Named("rollout_monitor"))

	source, err := sourcegithub.New(sourcegithub.Config{
		Token:   cfg.Source.Token,
		BaseURL: cfg.Source.BaseURL,
	}, clock, logger.Named("github"))
	if err != nil {
		return nil, fmt.Errorf("github source init failed: %w", err)
	}

	classifier := classify.New(classify.DefaultConfig(), st.repos, source, clock, logger.Named("classify"))
	router := routing.New(routing.Config{
		SmallBatchMax: cfg.Routing.SmallBatchMax,
		BulkBatchMin:  cfg.Routing.BulkBatchMin,
		FreshDataAge:  cfg.Routing.FreshDataAge,
	}, controller)
	gate := freshness.New(cfg.Freshness.Window, clock)

	app.queue = queuememory.NewQueue(cfg.Queue.Depth)

	intakeSvc := intake.NewService(intake.Config{
		MaxAttempts:          cfg.Lifecycle.MaxAttempts,
		ClassifyStandard:     cfg.Intake.ClassifyStandard,
		ClassifyHighPriority: cfg.Intake.ClassifyHighPriority,
	}, st.repos, st.jobs, app.queue, router, gate, classifier, clock, ids, hub, logger.Named("intake"))

	manager := lifecycle.NewManager(lifecycle.Config{
		BaseBackoff:        cfg.Lifecycle.BaseBackoff,
		MaxBackoff:         cfg.Lifecycle.MaxBackoff,
		DefaultMaxAttempts: cfg.Lifecycle.MaxAttempts,
	}, st.jobs, app.queue, clock, hub, logger.Named("lifecycle"))

	table, err := processors.DefaultTable(st.repos, source, classifier)
	if err != nil {
		return nil, fmt.Errorf("processor table init failed: %w", err)
	}
	capabilities := map[capture.Processor]capture.ProcessorCapability{
		capture.ProcessorRealtime: processors.NewRealtime(table, cfg.Workers.RealtimeTimeout, logger.Named("realtime")),
		capture.ProcessorBulk:     processors.NewBulk(table, cfg.Workers.BulkTimeout, logger.Named("bulk")),
	}

	app.pool = worker.NewPool(worker.Config{
		Claimers:     cfg.Workers.RealtimeClaimers + cfg.Workers.BulkClaimers,
		RequeueDelay: cfg.Workers.RequeueDelay,
	}, app.queue, st.jobs, manager, budget, pacer, capabilities, logger.Named("worker"))

	rebalancer := rebalance.New(rebalance.Config{
		SkewRatio:      cfg.Rebalance.SkewRatio,
		MigrationBatch: cfg.Rebalance.MigrationBatch,
		MinPending:     cfg.Rebalance.MinPending,
	}, st.jobs, st.repos, app.queue, clock, hub, logger.Named("rebalance"))

	app.sched = scheduler.New(logger.Named("scheduler"),
		scheduler.Task{
			Name:     "retry_release",
			Interval: cfg.Scheduler.RetryReleaseInterval,
			Run: func(ctx context.Context) error {
				_, err := manager.ReleaseDueRetries(ctx, cfg.Scheduler.RetryReleaseLimit)
				return err
			},
		},
		scheduler.Task{
			Name:     "rebalance",
			Interval: cfg.Scheduler.RebalanceInterval,
			Run: func(ctx context.Context) error {
				_, err := rebalancer.Rebalance(ctx)
				return err
			},
		},
		scheduler.Task{
			Name:     "rollout_monitor",
			Interval: cfg.Scheduler.RolloutCheckInterval,
			Run: func(ctx context.Context) error {
				if err := controller.Refresh(ctx); err != nil {
					return err
				}
				_, err := monitor.CheckOnce(ctx)
				return err
			},
		},
		scheduler.Task{
			Name:     "classification_sweep",
			Interval: cfg.Scheduler.ClassifySweepInterval,
			Run: func(ctx context.Context) error {
				_, err := intakeSvc.SweepClassifications(ctx, cfg.Scheduler.ClassifySweepLimit)
				return err
			},
		},
		scheduler.Task{
			Name:     "budget_rollover",
			Interval: time.Minute,
			Run: func(ctx context.Context) error {
				budget.Rollover(ctx)
				return nil
			},
		},
	)

	var ready api.ReadyFunc
	if app.pgPool != nil {
		pool := app.pgPool
		ready = func(ctx context.Context) error { return pool.Ping(ctx) }
	}
	app.apiServer = api.NewServer(api.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
	}, intakeSvc, st.jobs, st.repos, manager, controller, ready, logger.Named("api"))

	return app, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("worker pool started")
		a.pool.Run(ctx)
	}()
	go func() {
		a.logger.Info("scheduler started")
		a.sched.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
	}
	if a.psPub != nil {
		a.psPub.Close()
	}
	if a.psClient != nil {
		if err := a.psClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) setupStores(ctx context.Context) (stores, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory stores")
		return stores{
			jobs:    storememory.NewJobStore(),
			repos:   storememory.NewRepositoryStore(),
			windows: storememory.NewRateWindowStore(),
			rollout: storememory.NewRolloutStore(),
		}, nil
	}

	pool, err := storepostgres.NewPool(ctx, a.cfg.DB)
	if err != nil {
		return stores{}, fmt.Errorf("postgres pool init failed: %w", err)
	}
	a.pgPool = pool

	jobs, err := storepostgres.NewJobStoreWithPool(pool, "")
	if err != nil {
		return stores{}, fmt.Errorf("job store init failed: %w", err)
	}
	repos, err := storepostgres.NewRepositoryStoreWithPool(pool, "")
	if err != nil {
		return stores{}, fmt.Errorf("repository store init failed: %w", err)
	}
	windows, err := storepostgres.NewRateWindowStoreWithPool(pool, "")
	if err != nil {
		return stores{}, fmt.Errorf("rate window store init failed: %w", err)
	}
	rolloutStore, err := storepostgres.NewRolloutStoreWithPool(pool, "")
	if err != nil {
		return stores{}, fmt.Errorf("rollout store init failed: %w", err)
	}
	a.logger.Info("postgres stores initialized")
	return stores{jobs: jobs, repos: repos, windows: windows, rollout: rolloutStore}, nil
}

func (a *App) setupArchive(ctx context.Context) (blob.Store, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := blobgcs.New(client, blobgcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS audit archive", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case "local":
		store, err := bloblocal.New(bloblocal.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local audit archive", zap.String("dir", a.cfg.Storage.LocalDir))
		return store, nil
	default:
		a.logger.Info("audit archive disabled")
		return nil, nil
	}
}

func (a *App) setupEvents(ctx context.Context, archive blob.Store) (*events.Hub, error) {
	logger := a.logger.Named("events")
	sinkList := []events.Sink{sinks.NewLogSink(logger)}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if archive != nil {
		sinkList = append(sinkList, sinks.NewArchiveSink(archive, a.cfg.Storage.Prefix))
	}

	if a.cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.psClient = client
		a.psPub = pubsubpublisher.New(client)
		sinkList = append(sinkList, sinks.NewPublisherSink(a.psPub, a.cfg.PubSub.Topic))
		a.logger.Info("pubsub event sink initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic))
	}

	return events.NewHub(events.Config{Logger: logger}, sinkList...), nil
}
