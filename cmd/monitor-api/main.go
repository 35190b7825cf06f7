package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/reseller-monitor/internal/api"
	"github.com/maltedev/reseller-monitor/internal/browser"
	"github.com/maltedev/reseller-monitor/internal/config"
	"github.com/maltedev/reseller-monitor/internal/database"
	"github.com/maltedev/reseller-monitor/internal/events"
	"github.com/maltedev/reseller-monitor/internal/export"
	"github.com/maltedev/reseller-monitor/internal/filter"
	"github.com/maltedev/reseller-monitor/internal/logger"
	"github.com/maltedev/reseller-monitor/internal/models"
	"github.com/maltedev/reseller-monitor/internal/monitor"
	"github.com/maltedev/reseller-monitor/internal/ratelimit"
	"github.com/maltedev/reseller-monitor/internal/scraper"
	"github.com/maltedev/reseller-monitor/internal/search"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		withBrowser = flag.Bool("browser", false, "Start a headless browser for dynamic scraping")
		schedule    = flag.Duration("schedule", 0, "Run the monitor on this interval (0 disables)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run store: postgres with the outbox when enabled, memory otherwise
	var (
		runs      api.RunReader
		recorders []monitor.Recorder
		outbox    api.OutboxStats
		pinger    api.Pinger
	)

	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		runs = database.NewRunRepository(db)
		pinger = db
		publisher := events.NewPublisher(db, logger)
		recorders = append(recorders, monitor.RecorderFunc(publisher.PublishRunCompleted))

		if cfg.Redis.Enabled {
			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer redisClient.Close()

			if err := redisClient.Ping(ctx).Err(); err != nil {
				logger.Error("failed to connect to Redis", "error", err)
				os.Exit(1)
			}

			relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, logger, database.RelayConfig{
				PollInterval: 5 * time.Second,
				BatchSize:    100,
				StreamMaxLen: 10000,
			})
			outbox = relay
			go func() {
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("relay stopped with error", "error", err)
				}
			}()
		}
	} else {
		store := api.NewMemoryStore(50)
		runs = store
		recorders = append(recorders, monitor.RecorderFunc(store.Save))
	}

	writer, err := export.NewWriter(cfg.Output.Dir, cfg.Output.Formats, logger)
	if err != nil {
		logger.Error("invalid output settings", "error", err)
		os.Exit(1)
	}
	recorders = append(recorders, monitor.RecorderFunc(func(_ context.Context, run *models.MonitoringRun) error {
		_, err := writer.Write(run)
		return err
	}))

	// Monitoring pipeline
	var sellers *filter.SellerRules
	if cfg.Monitor.SellerRulesPath != "" {
		sellers, err = filter.LoadSellerRules(cfg.Monitor.SellerRulesPath)
		if err != nil {
			logger.Error("failed to load seller rules", "error", err)
			os.Exit(1)
		}
	}

	gate := ratelimit.NewGate(cfg.RateLimit.MinInterval, cfg.RateLimit.Burst)
	client, err := search.NewClient(search.OptionsFromConfig(cfg.Search, cfg.RateLimit), gate, logger)
	if err != nil {
		logger.Error("failed to create search client", "error", err)
		os.Exit(1)
	}

	productPath := cfg.Monitor.ProductConfigPath
	pipeline := monitor.NewPipeline(
		client,
		filter.New(sellers, logger),
		monitor.Config{ProductDelay: cfg.Monitor.ProductDelay},
		func() (*config.ProductFile, error) { return config.LoadProducts(productPath) },
		logger,
		recorders...,
	)

	if *schedule > 0 {
		go runScheduled(ctx, pipeline, *schedule, logger)
	}

	// Page scraper
	var renderer scraper.Renderer
	if *withBrowser {
		b, err := browser.New(browser.OptionsFromConfig(cfg.Browser), logger)
		if err != nil {
			logger.Error("failed to initialize browser", "error", err)
			os.Exit(1)
		}
		defer b.Close()
		renderer = b
	}

	pages, err := scraper.FromConfig(cfg.Scraper, renderer, logger)
	if err != nil {
		logger.Error("failed to create scraper", "error", err)
		os.Exit(1)
	}

	handlers := api.NewHandlers(runs, pipeline, pages, outbox, logger)
	if pinger != nil {
		handlers.WithDatabase(pinger)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(handlers, cfg.Server.AllowedOrigins, cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// runScheduled triggers a monitoring run every interval until ctx is done.
func runScheduled(ctx context.Context, pipeline *monitor.Pipeline, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run, err := pipeline.Execute(ctx)
			if err != nil {
				logger.Error("scheduled run failed", "error", err)
				continue
			}
			logger.Info("scheduled run completed", "run_id", run.ID, "resellers", run.TotalResellers)
		}
	}
}
