package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devhub-community/reputation-engine/internal/api/handlers"
	"github.com/devhub-community/reputation-engine/internal/cache"
	"github.com/devhub-community/reputation-engine/internal/config"
	"github.com/devhub-community/reputation-engine/internal/lock"
	"github.com/devhub-community/reputation-engine/internal/notify"
	"github.com/devhub-community/reputation-engine/internal/presence"
	"github.com/devhub-community/reputation-engine/internal/reminder"
	"github.com/devhub-community/reputation-engine/internal/repository"
	"github.com/devhub-community/reputation-engine/internal/reputation"
	"github.com/devhub-community/reputation-engine/internal/service/award"
	"github.com/devhub-community/reputation-engine/internal/service/leaderboard"
	"github.com/devhub-community/reputation-engine/internal/service/milestones"
	"github.com/devhub-community/reputation-engine/internal/service/scheduler"
	"github.com/devhub-community/reputation-engine/pkg/idgen"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, live streams and scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, log, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

// app holds every wired component of a running server.
type app struct {
	db         *repository.DB
	cache      *cache.Cache
	registry   *presence.Registry
	dispatcher *notify.Dispatcher
	awards     *award.Service
	milestones *milestones.Service
	reads      *leaderboard.Service
	scheduler  *scheduler.Service
	handler    *handlers.Handler
	log        *logger.Logger
}

func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{log: log}

	db, err := repository.NewDB(&cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.db = db

	if cfg.Database.Redis.Enabled() {
		c, err := cache.New(&cfg.Database.Redis, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.cache = c
	}

	loc, err := cfg.Reputation.GetLocation()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("reputation.timezone: %w", err)
	}

	actions, err := reputation.NewActions(cfg.Reputation.Actions, cfg.Reputation.MaxDelta)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("reputation.actions: %w", err)
	}

	rules, err := milestones.BuildRuleSet(&cfg.Milestones)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("milestones: %w", err)
	}

	ids, err := idgen.New(cfg.Snowflake.NodeID)
	if err != nil {
		a.close()
		return nil, err
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Award.DistributedLock {
		if a.cache == nil {
			a.close()
			return nil, errors.New("award.distributed_lock requires redis")
		}
		locker = lock.NewRedisLocker(a.cache, cfg.Award.LockTTL, cfg.Award.LockWait, log.Component("lock"))
	}

	reps := repository.NewReputationRepository(db)
	grants := repository.NewMilestoneRepository(db)
	content := repository.NewContentMetricsRepository(db)

	a.registry = presence.NewRegistry(cfg.Presence.Shards)
	a.dispatcher = notify.NewDispatcher(a.registry, cfg.Presence.PushTimeout, log.Component("notify"))

	a.awards = award.NewService(reps, grants, content, rules, actions, locker, ids, a.dispatcher, award.Options{
		Location:      loc,
		MetricWorkers: cfg.Milestones.MetricWorkers,
	}, log.Component("award"))
	a.milestones = milestones.NewService(rules, grants, log.Component("milestones"))

	var lbCache leaderboard.Cache
	if a.cache != nil {
		lbCache = a.cache
	}
	a.reads = leaderboard.NewService(reps, a.milestones, lbCache, cfg.Server.LeaderboardTTL, log.Component("leaderboard"))

	sender, err := reminder.New(&cfg.Reminders, log.Component("reminder"))
	if err != nil {
		a.close()
		return nil, err
	}
	a.scheduler = scheduler.NewService(&cfg.Scheduler, reps, a.awards, a.milestones, a.dispatcher, sender, loc, log.Component("scheduler"))

	a.handler = handlers.NewHandler(a.awards, a.reads, a.milestones, a.registry, handlers.StreamConfig{
		Buffer:    cfg.Presence.Buffer,
		Heartbeat: cfg.Presence.Heartbeat,
	}, log.Component("api"))

	return a, nil
}

func (a *app) router(cfg *config.Config) http.Handler {
	health := map[string]handlers.HealthCheck{
		"database": func(context.Context) error { return a.db.Health() },
	}
	if a.cache != nil {
		health["redis"] = a.cache.Health
	}

	metricsPath := ""
	if cfg.Metrics.Prometheus.Enabled {
		metricsPath = cfg.Metrics.Prometheus.Path
	}

	return handlers.NewRouter(a.handler, handlers.RouterOptions{
		Environment: cfg.Server.Environment,
		MetricsPath: metricsPath,
		Health:      health,
	}, a.log)
}

func (a *app) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close redis")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

func runServe(ctx context.Context, cfg *config.Config, log *logger.Logger, migrate bool) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if migrate {
		if err := a.db.RunMigrations(log); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	if err := a.milestones.RefreshHolderMetrics(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to load milestone holder metrics")
	}

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer a.scheduler.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.router(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("environment", cfg.Server.Environment).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Live streams never finish on their own; closing them lets Shutdown drain.
	srv.RegisterOnShutdown(a.registry.CloseAll)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Graceful shutdown timed out")
		_ = srv.Close()
	}
	a.dispatcher.Wait()

	log.Info().Msg("Server stopped")
	return nil
}
