package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/djlord-it/sitepulse/internal/activity"
	"github.com/djlord-it/sitepulse/internal/analytics"
	"github.com/djlord-it/sitepulse/internal/api"
	"github.com/djlord-it/sitepulse/internal/circuitbreaker"
	"github.com/djlord-it/sitepulse/internal/config"
	"github.com/djlord-it/sitepulse/internal/directory"
	dirpostgres "github.com/djlord-it/sitepulse/internal/directory/postgres"
	"github.com/djlord-it/sitepulse/internal/dispatcher"
	"github.com/djlord-it/sitepulse/internal/leaderelection"
	"github.com/djlord-it/sitepulse/internal/logging"
	"github.com/djlord-it/sitepulse/internal/metrics"
	"github.com/djlord-it/sitepulse/internal/priority"
	"github.com/djlord-it/sitepulse/internal/reaper"
	"github.com/djlord-it/sitepulse/internal/scheduler"
	"github.com/djlord-it/sitepulse/internal/store"
	"github.com/djlord-it/sitepulse/internal/store/memory"
	"github.com/djlord-it/sitepulse/internal/store/postgres"
	"github.com/djlord-it/sitepulse/internal/store/sqlite"
	"github.com/djlord-it/sitepulse/internal/timing"
	"github.com/djlord-it/sitepulse/internal/transport/channel"

	_ "github.com/lib/pq"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler, sweeper and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadValidConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return invalidConfig(err)
			}
			defer func() { _ = logger.Sync() }()

			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

// backend is the opened execution ledger plus the handle leader election
// and the postgres directory share.
type backend struct {
	records store.Records
	db      *sql.DB
	close   func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*backend, error) {
	var db *sql.DB
	if cfg.StoreDriver == "postgres" || cfg.Directory == "postgres" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "open database")
		}
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

		logger.Infow("db pool configured",
			"max_open", cfg.DBMaxOpenConns,
			"max_idle", cfg.DBMaxIdleConns,
			"max_lifetime", cfg.DBConnMaxLifetime.String(),
			"max_idle_time", cfg.DBConnMaxIdleTime.String(),
		)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "connect to database")
		}
	}

	b := &backend{db: db, close: func() {}}
	if db != nil {
		b.close = func() { db.Close() }
	}

	switch cfg.StoreDriver {
	case "postgres":
		pg := postgres.New(db, cfg.DBOpTimeout)
		if err := pg.EnsureSchema(ctx); err != nil {
			b.close()
			return nil, err
		}
		b.records = pg
	case "sqlite":
		lite, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			b.close()
			return nil, err
		}
		prev := b.close
		b.close = func() {
			lite.Close()
			prev()
		}
		b.records = lite
	default:
		b.records = memory.New()
	}

	logger.Infow("execution store ready", "driver", cfg.StoreDriver)
	return b, nil
}

func openDirectory(cfg config.Config, db *sql.DB, logger *zap.SugaredLogger) scheduler.Directory {
	if cfg.Directory == "postgres" {
		return dirpostgres.New(db, cfg.DBOpTimeout, logger)
	}
	return directory.NewFileSource(cfg.SitesFile, logger)
}

func newDispatcher(cfg config.Config, sink metrics.Sink, logger *zap.SugaredLogger) scheduler.Dispatcher {
	if cfg.DispatchMode != "webhook" {
		return dispatcher.NewLogDispatcher(logger)
	}
	wh := dispatcher.NewWebhook(dispatcher.WebhookConfig{
		URL:     cfg.DispatchURL,
		Secret:  cfg.DispatchSecret,
		Timeout: cfg.DispatchTimeout,
	}, logger).WithMetrics(sink)
	if cfg.CircuitBreakerThreshold > 0 {
		wh = wh.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}
	return wh
}

func runServe(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) error {
	logConfigWarnings(cfg, logger)

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.close()

	fallback, err := cfg.Fallback()
	if err != nil {
		return invalidConfig(err)
	}
	table, err := activity.NewTable(cfg.Policies())
	if err != nil {
		return invalidConfig(err)
	}
	policies := table.All()

	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, logger)
	}

	rp := reaper.New(backend.records, logger).WithMetrics(sink)

	bus := channel.NewReportBus(cfg.ReportBufferSize,
		channel.WithMetrics(sink),
		channel.WithLogger(logger),
	)

	sched := scheduler.New(
		scheduler.Config{
			TickInterval:  cfg.TickInterval,
			Workers:       cfg.SchedulerWorkers,
			DispatchRate:  cfg.DispatchRate,
			DispatchBurst: cfg.DispatchBurst,
		},
		scheduler.Deps{
			Directory:  openDirectory(cfg, backend.db, logger),
			Store:      backend.records,
			Reaper:     rp,
			Engine:     timing.New(fallback),
			Assigner:   priority.NewAssigner(),
			Dispatcher: newDispatcher(cfg, sink, logger),
		},
		logger,
	).WithPolicies(policies).WithPublisher(bus).WithMetrics(sink)

	var sweeper *reaper.Sweeper
	if cfg.SweepEnabled {
		sweeper = reaper.NewSweeper(reaper.SweepConfig{
			Interval:  cfg.SweepInterval,
			BatchSize: cfg.SweepBatchSize,
		}, rp, backend.records, policies)
	} else {
		logger.Info("SWEEP_ENABLED not set; sweeper disabled")
	}

	reportCache := api.NewReportCache(0)
	consumers := []channel.Consumer{reportCache}

	apiHandler := api.NewHandler(backend.records, reportCache, logger).
		WithHealthCheck("store", backend.records)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		consumers = append(consumers, analytics.NewRedisSink(redisClient, cfg.AnalyticsRetention))
		apiHandler.WithHealthCheck("redis", api.HealthCheckFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
		logger.Infow("analytics enabled", "redis", cfg.RedisAddr)
	} else {
		logger.Info("REDIS_ADDR not set; analytics disabled")
	}

	mux := http.NewServeMux()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		if cfg.MetricsPort > 0 {
			metricsMux := http.NewServeMux()
			metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
			metricsServer = &http.Server{Addr: ":" + strconv.Itoa(cfg.MetricsPort), Handler: metricsMux}
			go serveHTTP(metricsServer, "metrics", logger)
		} else {
			mux.Handle(cfg.MetricsPath, promhttp.Handler())
		}
		logger.Infow("metrics enabled", "path", cfg.MetricsPath, "port", cfg.MetricsPort)
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go serveHTTP(httpServer, "api", logger)

	// Reports drain independently of leadership so the API keeps serving
	// the last known state after a demotion.
	busCtx, cancelBus := context.WithCancel(context.Background())
	var busWg sync.WaitGroup
	busWg.Add(1)
	go func() {
		defer busWg.Done()
		bus.Run(busCtx, consumers...)
	}()

	duties := &leaderDuties{sched: sched, sweeper: sweeper, logger: logger}

	runCtx, cancelRun := context.WithCancel(ctx)
	var electorWg sync.WaitGroup
	if cfg.LeaderElection {
		elector := leaderelection.New(
			backend.db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			duties.start,
			duties.stop,
			logger,
		).WithMetrics(sink)
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(runCtx)
		}()
		logger.Infow("leader election enabled", "lock_key", cfg.LeaderLockKey)
	} else {
		duties.start(runCtx)
	}

	logger.Infow("started",
		"tick", cfg.TickInterval.String(),
		"http", cfg.HTTPAddr,
		"store", cfg.StoreDriver,
		"directory", cfg.Directory,
		"dispatch", cfg.DispatchMode,
		"activities", len(policies),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case received := <-sig:
		logger.Infow("received signal, shutting down", "signal", received.String())
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	// Phase 1: stop ticking and sweeping (no new dispatches).
	logger.Info("stopping scheduler")
	cancelRun()
	electorWg.Wait()
	duties.stop()
	logger.Info("scheduler stopped")

	// Phase 2: stop report consumers.
	cancelBus()
	busWg.Wait()

	// Phase 3: stop HTTP servers.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http server shutdown error", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("metrics server shutdown error", "error", err)
		}
	}

	logger.Info("stopped")
	return nil
}

func serveHTTP(srv *http.Server, name string, logger *zap.SugaredLogger) {
	logger.Infow("http server listening", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorw("http server error", "server", name, "error", err)
	}
}

// leaderDuties runs the scheduler loop and the sweeper while this instance
// is allowed to dispatch. stop blocks until both have returned and is safe
// to call when nothing is running.
type leaderDuties struct {
	sched   *scheduler.Scheduler
	sweeper *reaper.Sweeper
	logger  *zap.SugaredLogger
	wg      sync.WaitGroup
}

func (d *leaderDuties) start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Errorw("scheduler stopped with error", "error", err)
		}
	}()

	if d.sweeper != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.sweeper.Run(ctx)
		}()
	}
}

func (d *leaderDuties) stop() {
	d.wg.Wait()
}
