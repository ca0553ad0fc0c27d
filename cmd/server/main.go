package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Orochidara23000/Game-Downloader/internal/api"
	"github.com/Orochidara23000/Game-Downloader/internal/config"
	"github.com/Orochidara23000/Game-Downloader/internal/download"
	"github.com/Orochidara23000/Game-Downloader/internal/events"
	"github.com/Orochidara23000/Game-Downloader/internal/health"
	"github.com/Orochidara23000/Game-Downloader/internal/logger"
	"github.com/Orochidara23000/Game-Downloader/internal/metrics"
	"github.com/Orochidara23000/Game-Downloader/internal/middleware"
	"github.com/Orochidara23000/Game-Downloader/internal/publish"
	"github.com/Orochidara23000/Game-Downloader/internal/retention"
	"github.com/Orochidara23000/Game-Downloader/internal/steamcmd"
	"github.com/Orochidara23000/Game-Downloader/internal/storage"
	"github.com/Orochidara23000/Game-Downloader/internal/ws"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	cfg := config.Load()

	logger.SetDefault(logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), "server"))

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create working directories: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := steamcmd.NewRunner(cfg.SteamCMDPath)
	if err := runner.Verify(ctx); err != nil {
		log.Fatalf("SteamCMD verification failed: %v", err)
	}
	if err := runner.Update(ctx); err != nil {
		logger.Warn(ctx, "steamcmd self-update failed, continuing with installed version", map[string]interface{}{
			"error": err.Error(),
		})
	}

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		m = metrics.New()
	}

	urlPrefix := "/public"
	if cfg.PublicURL != "" {
		urlPrefix = strings.TrimRight(cfg.PublicURL, "/") + "/public"
	}
	publisher := publish.NewPublisher(urlPrefix)

	var mirror *storage.Mirror
	if cfg.MirrorEnabled() {
		var err error
		mirror, err = storage.NewMirror(&storage.Config{
			Endpoint:  cfg.MirrorEndpoint,
			AccessKey: cfg.MirrorAccessKey,
			SecretKey: cfg.MirrorSecretKey,
			Bucket:    cfg.MirrorBucket,
			Region:    cfg.MirrorRegion,
			UseSSL:    cfg.MirrorUseSSL,
		})
		if err != nil {
			log.Fatalf("Failed to initialize artifact mirror: %v", err)
		}
		if err := mirror.EnsureBucket(ctx); err != nil {
			log.Fatalf("Failed to ensure mirror bucket: %v", err)
		}
	}

	var eventSink *events.Publisher
	if cfg.RedisURL != "" {
		var err error
		eventSink, err = events.NewPublisher(cfg.RedisURL)
		if err != nil {
			logger.Warn(ctx, "redis event sink unavailable, continuing without it", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer eventSink.Close()
		}
	}

	hub := ws.NewHub()
	go hub.Run()

	notifiers := []download.Notifier{ws.NewBroadcaster(hub)}
	if eventSink != nil {
		notifiers = append(notifiers, eventSink)
	}

	registry := download.NewRegistry(cfg.MaxDownloads, cfg.DownloadPath)

	svcCfg := download.ServiceConfig{
		Registry:   registry,
		Launcher:   download.NewSteamLauncher(runner),
		Publisher:  publisher,
		PublicRoot: cfg.PublicPath,
		Notifiers:  notifiers,
		Metrics:    m,
	}
	if mirror != nil {
		svcCfg.Mirror = mirror
	}
	downloadService := download.NewService(svcCfg)

	checkerCfg := &health.CheckerConfig{
		SteamCMDPath: runner.ExecPath(),
		RequiredDirs: []string{cfg.DownloadPath, cfg.PublicPath},
		VolumePath:   cfg.VolumePath,
		CanAdmit:     downloadService.CanAdmit,
		Version:      version,
	}
	if eventSink != nil {
		checkerCfg.Redis = eventSink.Client()
	}
	if mirror != nil {
		checkerCfg.StorageCheck = mirror.Ping
	}
	healthHandler := health.NewHandler(health.NewChecker(checkerCfg))

	sweeper := retention.New(&retention.Config{
		DownloadRoot: cfg.DownloadPath,
		PublicRoot:   cfg.PublicPath,
		VolumePath:   cfg.VolumePath,
		MaxAge:       cfg.MaxFileAge,
		Interval:     cfg.CleanupInterval,
		Jobs:         registry,
		Metrics:      m,
	})
	go sweeper.Run(ctx)

	routerCfg := &api.RouterConfig{
		Downloads:  downloadService,
		Status:     api.NewStatusHandlers(downloadService, hub, cfg.PublicURL, cfg.MaxDownloads, version),
		Health:     healthHandler,
		WS:         ws.NewHandler(hub),
		PublicRoot: cfg.PublicPath,
	}
	if m != nil {
		routerCfg.MetricsHandler = m.Handler()
	}
	router := api.NewRouter(routerCfg)

	handler := middleware.RequestID(middleware.Logging(middleware.Recovery(router)))

	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		downloadService.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "server starting", map[string]interface{}{
		"addr":          cfg.ServerAddr,
		"max_downloads": cfg.MaxDownloads,
		"version":       version,
	})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}
}
