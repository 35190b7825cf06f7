package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/reseller-monitor/internal/apperr"
	"github.com/maltedev/reseller-monitor/internal/config"
	"github.com/maltedev/reseller-monitor/internal/database"
	"github.com/maltedev/reseller-monitor/internal/events"
	"github.com/maltedev/reseller-monitor/internal/export"
	"github.com/maltedev/reseller-monitor/internal/filter"
	"github.com/maltedev/reseller-monitor/internal/logger"
	"github.com/maltedev/reseller-monitor/internal/models"
	"github.com/maltedev/reseller-monitor/internal/monitor"
	"github.com/maltedev/reseller-monitor/internal/ratelimit"
	"github.com/maltedev/reseller-monitor/internal/search"
)

const (
	exitFailure    = 1
	exitCredential = 2
)

func main() {
	var (
		productsPath = flag.String("products", "", "Product config file (overrides PRODUCT_CONFIG)")
		outputDir    = flag.String("output", "", "Output directory (overrides OUTPUT_DIR)")
		formats      = flag.String("formats", "", "Comma separated output formats: json,csv,xlsx")
		store        = flag.Bool("store", false, "Store the run in postgres even if DB_ENABLED is false")
		quiet        = flag.Bool("quiet", false, "Do not print the run summary")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		if apperr.IsKind(err, apperr.KindCredential) {
			log.Printf("Failed to load config: %v", err)
			os.Exit(exitCredential)
		}
		log.Fatalf("Failed to load config: %v", err)
	}

	if *productsPath != "" {
		cfg.Monitor.ProductConfigPath = *productsPath
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *formats != "" {
		cfg.Output.Formats = strings.Split(*formats, ",")
	}
	if *store {
		cfg.Database.Enabled = true
	}

	logger := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	code := run(ctx, cfg, logger, !*quiet)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, summary bool) int {
	var sellers *filter.SellerRules
	if cfg.Monitor.SellerRulesPath != "" {
		rules, err := filter.LoadSellerRules(cfg.Monitor.SellerRulesPath)
		if err != nil {
			logger.Error("failed to load seller rules", "error", err)
			return exitFailure
		}
		sellers = rules
	}

	gate := ratelimit.NewGate(cfg.RateLimit.MinInterval, cfg.RateLimit.Burst)
	client, err := search.NewClient(search.OptionsFromConfig(cfg.Search, cfg.RateLimit), gate, logger)
	if err != nil {
		logger.Error("failed to create search client", "error", err)
		return exitCredential
	}

	writer, err := export.NewWriter(cfg.Output.Dir, cfg.Output.Formats, logger)
	if err != nil {
		logger.Error("invalid output settings", "error", err)
		return exitFailure
	}

	recorders := []monitor.Recorder{
		monitor.RecorderFunc(func(_ context.Context, run *models.MonitoringRun) error {
			_, err := writer.Write(run)
			return err
		}),
	}

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
			return exitFailure
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			return exitFailure
		}

		publisher := events.NewPublisher(db, logger)
		recorders = append(recorders, monitor.RecorderFunc(publisher.PublishRunCompleted))
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

	logger.Info("monitoring started", "products", productPath)
	result, err := pipeline.Execute(ctx)
	if result == nil {
		logger.Error("monitoring run failed", "error", err)
		if apperr.IsKind(err, apperr.KindCredential) {
			return exitCredential
		}
		return exitFailure
	}

	if summary {
		export.PrintSummary(os.Stdout, result)
	}

	if err != nil {
		return exitFailure
	}

	logger.Info("monitoring completed",
		"run_id", result.ID,
		"products", result.TotalProducts,
		"resellers", result.TotalResellers,
		"partial", result.Partial)
	return 0
}
