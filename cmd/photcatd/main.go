// Package main implements the photcatd daemon. Depending on --mode it
// runs the ingest HTTP service, the inspection service, the periodic
// maintenance loop, or all three.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"

	"github.com/photcat/photcat/internal/app"
	"github.com/photcat/photcat/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile       string
		dataDir          string
		mode             string
		httpIngest       string
		httpInspect      string
		maintainInterval time.Duration
		verbose          bool
		showVersion      bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "", "Service mode: all, ingest, inspect, maintain")
	flag.StringVar(&httpIngest, "http-ingest", "", "HTTP address for the ingest service")
	flag.StringVar(&httpInspect, "http-inspect", "", "HTTP address for the inspect service")
	flag.DurationVar(&maintainInterval, "maintain-interval", 0, "Time between maintenance passes")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "photcatd - stellar photometry catalog service\n\n")
		fmt.Fprintf(os.Stderr, "Usage: photcatd [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  photcatd --data-dir /data/photcat\n")
		fmt.Fprintf(os.Stderr, "  photcatd --mode ingest --http-ingest :8080\n")
		fmt.Fprintf(os.Stderr, "  photcatd --config /etc/photcat/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment variables use the PHOTCAT_ prefix; see the\n")
		fmt.Fprintf(os.Stderr, "configuration reference. A .env file in the working directory\n")
		fmt.Fprintf(os.Stderr, "is loaded when present.\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("photcatd version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// A .env file is optional; flags and real environment win.
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile, dataDir, mode, httpIngest, httpInspect, maintainInterval)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	logger := newLogger(verbose)
	slog.SetDefault(logger)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	application.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Stop error: %v", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}))
}

// loadConfig layers file, environment, and flags, highest last.
func loadConfig(configFile, dataDir, mode, httpIngest, httpInspect string, maintainInterval time.Duration) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if httpIngest != "" {
		cfg.HTTP.IngestAddr = httpIngest
	}
	if httpInspect != "" {
		cfg.HTTP.InspectAddr = httpInspect
	}
	if maintainInterval > 0 {
		cfg.Maintain.Interval = maintainInterval
	}

	return cfg, nil
}

// printBanner prints the startup banner with a configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("photcatd %s starting", version)
	log.Printf("  Mode:     %s", cfg.Mode)
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  Storage:  %s", cfg.Storage.Type)
	if cfg.ShouldRunIngest() {
		log.Printf("  Ingest:   %s", cfg.HTTP.IngestAddr)
	}
	if cfg.ShouldRunInspect() {
		log.Printf("  Inspect:  %s", cfg.HTTP.InspectAddr)
	}
	if cfg.ShouldRunMaintain() {
		log.Printf("  Maintain: every %v, retention %d days",
			cfg.Maintain.Interval, cfg.Maintain.RetentionDays)
	}
}
