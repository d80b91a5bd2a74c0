package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mishramohit437/rdsguard/internal/alert"
	"github.com/mishramohit437/rdsguard/internal/api"
	"github.com/mishramohit437/rdsguard/internal/cache"
	"github.com/mishramohit437/rdsguard/internal/cluster"
	"github.com/mishramohit437/rdsguard/internal/config"
	"github.com/mishramohit437/rdsguard/internal/controlplane"
	cpmemory "github.com/mishramohit437/rdsguard/internal/controlplane/memory"
	cprds "github.com/mishramohit437/rdsguard/internal/controlplane/rds"
	"github.com/mishramohit437/rdsguard/internal/driver/postgres"
	"github.com/mishramohit437/rdsguard/internal/failover"
	"github.com/mishramohit437/rdsguard/internal/health"
	"github.com/mishramohit437/rdsguard/internal/history"
	"github.com/mishramohit437/rdsguard/internal/metrics"
	"github.com/mishramohit437/rdsguard/internal/pool"
)

func main() {
	configPath := flag.String("config", "", "path to rdsguard.yaml")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cp, err := buildControlPlane(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("control plane", zap.Error(err))
	}

	drv := postgres.New(postgres.Config{
		Database: cfg.Cluster.Database,
		User:     cfg.Cluster.User,
		Password: cfg.Cluster.Password,
		SSLMode:  cfg.Cluster.SSLMode,
	}, logger)

	primary := cluster.Endpoint{
		ID:      cfg.Cluster.Primary.ID,
		Address: cfg.Cluster.Primary.Address,
		Role:    cluster.RolePrimary,
	}
	p := pool.New(drv, primary, pool.Config{
		MaxSize: cfg.Pool.MaxSize,
		MinIdle: cfg.Pool.MinIdle,
	}, logger)
	p.Warm(ctx)

	backend, err := buildCacheBackend(cfg)
	if err != nil {
		logger.Fatal("cache backend", zap.Error(err))
	}
	overlay := cache.New(backend, cache.Config{
		Namespace:  cfg.Cache.Namespace,
		DefaultTTL: cfg.Cache.DefaultTTL.Std(),
	}, logger)

	dispatcher := alert.NewDispatcher(alert.DispatcherConfig{
		QueueSize: cfg.Alerts.QueueSize,
		RateLimit: rate.Limit(cfg.Alerts.RateLimit),
		RateBurst: cfg.Alerts.RateBurst,
	}, logger, alert.NewLogSink(logger))

	if cfg.Alerts.WebhookURL != "" {
		whCfg := alert.DefaultWebhookConfig(cfg.Alerts.WebhookURL)
		whCfg.Secret = cfg.Alerts.Secret
		whCfg.RequestTimeout = cfg.Alerts.Timeout.Std()
		dispatcher.AddSink(alert.NewWebhookSink(whCfg))
	}

	var auditStore *history.Store
	if cfg.History.Enabled {
		auditStore, err = history.New(history.Config{
			Host:     cfg.History.Host,
			Port:     cfg.History.Port,
			Database: cfg.History.Database,
			User:     cfg.History.User,
			Password: cfg.History.Password,
			SSLMode:  cfg.History.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal("audit store", zap.Error(err))
		}
		defer func() { _ = auditStore.Close() }()

		schemaCtx, schemaCancel := context.WithTimeout(ctx, 30*time.Second)
		err = auditStore.EnsureSchema(schemaCtx)
		schemaCancel()
		if err != nil {
			logger.Fatal("audit schema", zap.Error(err))
		}
		dispatcher.AddSink(history.NewSink(auditStore))
	}

	var standby *cluster.Endpoint
	if cfg.Cluster.Standby != nil {
		standby = &cluster.Endpoint{
			ID:      cfg.Cluster.Standby.ID,
			Address: cfg.Cluster.Standby.Address,
			Role:    cluster.RoleStandby,
		}
	}

	orchCfg := failover.DefaultConfig(cfg.Cluster.ID)
	orchCfg.Standby = standby
	orchCfg.AutoFailover = cfg.Failover.Auto
	orchCfg.FailoverDeadline = cfg.Failover.FailoverDeadline.Std()
	orchCfg.RestoreDeadline = cfg.Failover.RestoreDeadline.Std()
	orchCfg.VerifyInterval = cfg.Failover.VerifyInterval.Std()

	var recorder failover.SessionRecorder
	if auditStore != nil {
		recorder = auditStore
	}
	orch := failover.New(cp, p, dispatcher, recorder, orchCfg, logger)
	defer orch.Stop()

	monitor := health.New(cp, health.Config{
		ClusterID:    cfg.Cluster.ID,
		PollInterval: cfg.Health.PollInterval.Std(),
		BadThreshold: cfg.Health.BadThreshold,
		PollTimeout:  cfg.Health.PollTimeout.Std(),
	}, logger)
	monitor.Subscribe(orch.HandleTransition)
	orch.SetMonitor(monitor)
	monitor.Start(ctx)
	defer monitor.Stop()

	m := metrics.New()
	orch.Subscribe(func(ev failover.Event) {
		m.RecordFailoverTransition(string(ev.To))
		switch ev.To {
		case failover.StateIdle:
			m.RecordFailoverOutcome("succeeded")
		case failover.StateTimedOut:
			m.RecordFailoverOutcome("timed-out")
		}
	})
	go collectMetrics(ctx, m, p, overlay, monitor)

	server := api.NewServer(api.Config{Port: cfg.Server.Port}, logger,
		&statusSource{pool: p, overlay: overlay, monitor: monitor, alerts: dispatcher},
		orch, m.Handler())

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, logger, func(next *config.Config) {
				// Pool size and deadlines are fixed at startup; the
				// reload path currently only picks up alert tuning.
				logger.Info("configuration change detected; restart to apply structural changes")
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		cancel()
		dispatcher.Stop()
		p.Close()
	}()

	logger.Info("rdsguard started",
		zap.String("cluster", cfg.Cluster.ID),
		zap.String("primary", primary.Address),
		zap.Int("port", cfg.Server.Port),
	)

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func buildControlPlane(ctx context.Context, cfg *config.Config, logger *zap.Logger) (controlplane.ControlPlane, error) {
	switch cfg.Cluster.ControlPlane {
	case "rds":
		return cprds.New(ctx, cprds.Config{
			Region: cfg.Cluster.RDS.Region,
			Engine: cfg.Cluster.RDS.Engine,
		}, logger)
	default:
		cp := cpmemory.New()
		cp.SetStatus(cfg.Cluster.ID, cluster.StatusAvailable)
		return cp, nil
	}
}

func buildCacheBackend(cfg *config.Config) (cache.Backend, error) {
	if cfg.Cache.Backend == "redis" {
		return cache.NewRedisBackend(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
	}
	return cache.NewMemoryBackend(time.Minute), nil
}

// statusSource aggregates subsystem stats for the /status endpoint.
type statusSource struct {
	pool    *pool.Manager
	overlay *cache.Overlay
	monitor *health.Monitor
	alerts  *alert.Dispatcher
}

func (s *statusSource) Snapshot() map[string]any {
	published, dropped, failed := s.alerts.Stats()
	return map[string]any{
		"health": s.monitor.Stats(),
		"pool":   s.pool.Stats(),
		"cache":  s.overlay.Stats(),
		"alerts": map[string]int64{
			"published": published,
			"dropped":   dropped,
			"failed":    failed,
		},
	}
}

// collectMetrics mirrors subsystem counters into Prometheus gauges.
func collectMetrics(ctx context.Context, m *metrics.Metrics, p *pool.Manager,
	overlay *cache.Overlay, monitor *health.Monitor) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ps := p.Stats()
			m.UpdatePool(ps.Idle, ps.InUse, ps.Broken, ps.Generation)

			cs := overlay.Stats()
			m.UpdateCache(cs.Hits, cs.Misses, cs.Invalidations, cs.HitRate)

			m.SetHealthStatus(int(monitor.Current()))
		}
	}
}
