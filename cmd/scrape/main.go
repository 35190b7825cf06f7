package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/reseller-monitor/internal/apperr"
	"github.com/maltedev/reseller-monitor/internal/browser"
	"github.com/maltedev/reseller-monitor/internal/config"
	"github.com/maltedev/reseller-monitor/internal/logger"
	"github.com/maltedev/reseller-monitor/internal/models"
	"github.com/maltedev/reseller-monitor/internal/scraper"
)

type report struct {
	Records    []models.ScrapedRecord `json:"records"`
	Failures   []failure              `json:"failures,omitempty"`
	Comparison *scraper.Comparison    `json:"comparison,omitempty"`
}

type failure struct {
	URL   string `json:"url"`
	Stage string `json:"stage,omitempty"`
	Error string `json:"error"`
}

func main() {
	var (
		urls        = flag.String("urls", "", "Comma-separated list of product page URLs")
		inputFile   = flag.String("file", "", "File containing URLs (one per line)")
		dynamic     = flag.Bool("dynamic", false, "Render pages in a headless browser before extraction")
		selectors   = flag.String("selectors", "", "Selector sets file (overrides SELECTORS_FILE)")
		target      = flag.Float64("target", 0, "Reference price for the comparison")
		concurrency = flag.Int("concurrency", 0, "Pages in flight (defaults to SCRAPER_CONCURRENT_LIMIT)")
	)
	flag.Parse()

	targets, err := collectURLs(*urls, *inputFile, flag.Args())
	if err != nil {
		log.Fatalf("Failed to read URLs: %v", err)
	}
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "Please provide URLs with -urls, -file or as arguments")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadWithoutCredentials()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *selectors != "" {
		cfg.Scraper.SelectorsPath = *selectors
	}
	if *concurrency > 0 {
		cfg.Scraper.ConcurrentLimit = *concurrency
	}

	logger := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	code := run(ctx, cfg, logger, targets, *dynamic, *target)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, targets []string, dynamic bool, target float64) int {
	strategy := scraper.Static
	var renderer scraper.Renderer
	if dynamic {
		strategy = scraper.Dynamic
		b, err := browser.New(browser.OptionsFromConfig(cfg.Browser), logger)
		if err != nil {
			logger.Error("failed to initialize browser", "error", err)
			return 1
		}
		defer b.Close()
		renderer = b
	}

	s, err := scraper.FromConfig(cfg.Scraper, renderer, logger)
	if err != nil {
		logger.Error("failed to create scraper", "error", err)
		return 1
	}

	results := s.ScrapeAll(ctx, targets, strategy, cfg.Scraper.ConcurrentLimit)
	out := buildReport(results, target)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		logger.Error("failed to write output", "error", err)
		return 1
	}

	logger.Info("scraping completed", "succeeded", len(out.Records), "failed", len(out.Failures))
	if len(out.Failures) > 0 {
		return 1
	}
	return 0
}

func buildReport(results []scraper.Result, target float64) report {
	out := report{Records: scraper.Records(results)}
	for _, res := range results {
		if res.Err != nil {
			out.Failures = append(out.Failures, failure{URL: res.URL, Stage: apperr.StageOf(res.Err), Error: res.Err.Error()})
		}
	}
	if out.Records == nil {
		out.Records = []models.ScrapedRecord{}
	}
	if len(out.Records) > 1 || target > 0 {
		comparison := scraper.Compare(out.Records, target)
		out.Comparison = &comparison
	}
	return out
}

// collectURLs merges the -urls list, the -file lines and positional arguments,
// dropping blanks and duplicates.
func collectURLs(list, file string, args []string) ([]string, error) {
	var raw []string
	if list != "" {
		raw = append(raw, strings.Split(list, ",")...)
	}

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" && !strings.HasPrefix(line, "#") {
				raw = append(raw, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	raw = append(raw, args...)

	seen := make(map[string]bool, len(raw))
	var out []string
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out, nil
}
