package main

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/Robitch/Robify-sub001/internal/api"
	"github.com/Robitch/Robify-sub001/internal/config"
	"github.com/Robitch/Robify-sub001/internal/database"
	"github.com/Robitch/Robify-sub001/internal/filesystem"
	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/manager"
	"github.com/Robitch/Robify-sub001/internal/metrics"
	"github.com/Robitch/Robify-sub001/internal/network"
	"github.com/Robitch/Robify-sub001/internal/notifier"
	"github.com/Robitch/Robify-sub001/internal/remote"
	"github.com/Robitch/Robify-sub001/internal/shutdown"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logutils.Log.WithError(err).Fatal("Failed to initialize configuration")
	}

	logutils.InitLogger(cfg.LogLevel)
	logutils.Log.WithFields(map[string]any{
		"version":    Version,
		"build_time": BuildTime,
	}).Info("Starting offline downloads service")

	if err := run(cfg); err != nil {
		logutils.Log.WithError(err).Fatal("Offline downloads service stopped with error")
	}
	logutils.Log.Info("Offline downloads service shutdown complete")
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdowns := shutdown.NewManager(cfg.ShutdownTimeout)

	db, err := database.NewDatabase(cfg)
	if err != nil {
		return err
	}
	shutdowns.Register(shutdown.NewDatabaseShutdown(db))

	settings, err := db.LoadSettings(ctx, cfg.Settings)
	if err != nil {
		_ = shutdowns.Shutdown()
		return err
	}

	netSettings := cfg.GetNetworkSettings()
	monitor := network.NewMonitor(
		network.NewSystemProber(netSettings.ConnectivityURL, netSettings.ConnectivityWait),
		netSettings.PollInterval,
	)
	monitor.Refresh(ctx)

	stats := metrics.NewInMemoryMetrics()

	downloads, err := manager.NewManager(manager.OptionsFromConfig(cfg), settings, manager.Dependencies{
		DB:         db,
		FileSystem: filesystem.NewOSFileSystem(),
		Remote:     remote.NewClient(cfg.StorageBaseURL, 0),
		Network:    monitor,
		Notifier:   notifier.Log,
		Metrics:    stats,
	})
	if err != nil {
		_ = shutdowns.Shutdown()
		return err
	}
	shutdowns.Register(downloads)

	// Files left by a previous run are reconciled before anything new is admitted.
	report, err := downloads.RefreshOfflineStore(ctx)
	if err != nil {
		logutils.Log.WithError(err).Warn("Initial offline store refresh failed")
	} else if report.Repairs() > 0 {
		logutils.Log.WithField("repairs", report.Repairs()).Warn("Offline store repaired at start-up")
	}

	server := api.NewServer(downloads, cfg.APIListenAddr, cfg.APIKey)
	server.SetMetrics(stats)

	collector := metrics.NewCollector(stats, storageGauges(downloads))
	collectCtx, stopCollector := context.WithCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error {
		return collector.Run(collectCtx, cfg.MetricsInterval)
	})
	g.Go(func() error {
		if err := server.Start(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	shutdowns.Register(shutdown.NewFuncShutdown("background", func(context.Context) error {
		return g.Wait()
	}))
	shutdowns.Register(monitor)
	shutdowns.Register(shutdown.NewFuncShutdown("metrics_collector", func(context.Context) error {
		stopCollector()
		return nil
	}))
	shutdowns.Register(shutdown.NewHTTPServerShutdown(server))

	logutils.Log.WithField("addr", cfg.APIListenAddr).Info("Offline downloads service started")

	// A failing background loop cancels gctx and triggers the same shutdown as a signal.
	shutdownErr := shutdowns.WaitForShutdown(gctx)
	if err := g.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

func storageGauges(svc manager.Service) metrics.GaugeSource {
	return func(ctx context.Context) map[string]float64 {
		info := svc.Storage(ctx)
		return map[string]float64{
			"quota_limit_bytes":     float64(info.Limit),
			"quota_used_bytes":      float64(info.Used),
			"quota_reserved_bytes":  float64(info.Reserved),
			"quota_available_bytes": float64(info.Available),
			"offline_tracks":        float64(info.OfflineTracks),
			"live_tasks":            float64(info.LiveTasks),
			"download_queue_length": float64(len(svc.DownloadQueue())),
		}
	}
}
