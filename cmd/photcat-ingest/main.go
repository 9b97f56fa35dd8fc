// Package main implements photcat-ingest, the one-shot batch ingest
// tool. It runs the full pipeline once for a single target and prints
// a run summary.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"

	"github.com/photcat/photcat/internal/config"
	"github.com/photcat/photcat/internal/pipeline"
	"github.com/photcat/photcat/internal/registry"
)

func main() {
	var (
		target       string
		photPath     string
		columnsPath  string
		infoPath     string
		fakeFiles    []string
		refImages    []string
		imagePaths   []string
		outputPath   string
		lite         bool
		codec        string
		workers      int
		registryPath string
		configFile   string
		verbose      bool
	)

	flag.StringVar(&target, "target", "", "Target or field name for the catalog")
	flag.StringVar(&photPath, "phot", "", "Photometry measurement file")
	flag.StringVar(&columnsPath, "columns", "", "Column description file (default: <phot>.columns)")
	flag.StringVar(&infoPath, "info", "", "Image manifest file")
	flag.StringArrayVar(&fakeFiles, "fake", nil, "Fakestar output file (repeatable; replaces --phot)")
	flag.StringArrayVar(&refImages, "ref", nil, "Astrometric reference image (repeatable)")
	flag.StringArrayVar(&imagePaths, "images", nil, "Contributing FITS image (repeatable)")
	flag.StringVar(&outputPath, "out", "", "Output catalog container path")
	flag.BoolVar(&lite, "lite", false, "Drop per-exposure columns at read time")
	flag.StringVar(&codec, "codec", "", "Section compression codec: zlib, snappy")
	flag.IntVar(&workers, "workers", 0, "Catalog scan parallelism")
	flag.StringVar(&registryPath, "registry", "", "Product ledger database; empty skips registration")
	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "photcat-ingest - one-shot photometry catalog ingest\n\n")
		fmt.Fprintf(os.Stderr, "Usage: photcat-ingest [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  photcat-ingest --target m31 --phot run.phot --info run.info --out m31.pcat\n")
		fmt.Fprintf(os.Stderr, "  photcat-ingest --target m31 --fake fake1.phot --fake fake2.phot \\\n")
		fmt.Fprintf(os.Stderr, "      --columns run.phot.columns --info run.info --out m31_fake.pcat\n")
	}
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}))

	deps := pipeline.Deps{Log: logger}
	if registryPath != "" {
		reg, err := registry.Open(registryPath)
		if err != nil {
			log.Fatalf("Failed to open product ledger: %v", err)
		}
		defer reg.Close()
		deps.Registry = reg
	}

	runner := pipeline.NewRunner(cfg, deps)
	defer runner.Close()

	result, err := runner.Run(context.Background(), pipeline.RunRequest{
		Target:      target,
		PhotPath:    photPath,
		ColumnsPath: columnsPath,
		InfoPath:    infoPath,
		FakeFiles:   fakeFiles,
		RefImages:   refImages,
		ImagePaths:  imagePaths,
		OutputPath:  outputPath,
		Lite:        lite,
		Codec:       codec,
		Workers:     workers,
	})
	if err != nil {
		log.Fatalf("Ingest failed: %v", err)
	}

	printSummary(result)
}

func loadConfig(configFile string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	cfg.Resolve()
	return cfg, nil
}

func printSummary(result *pipeline.RunResult) {
	fmt.Printf("Catalog written: %s\n", result.Product.Path)
	if result.Product.ID != "" {
		fmt.Printf("  Product:   %s\n", result.Product.ID)
	}
	fmt.Printf("  Rows:      %d\n", result.Rows)
	fmt.Printf("  Sections:  %d\n", result.Sections)
	fmt.Printf("  Filters:   %s\n", strings.Join(result.Filters, ", "))
	if len(result.DetFilters) > 0 {
		fmt.Printf("  Detectors: %s\n", strings.Join(result.DetFilters, ", "))
	}
	if result.Reference != "" {
		fmt.Printf("  Reference: %s\n", result.Reference)
	}
	if result.CoordSkipped {
		fmt.Printf("  Coordinates: skipped (no usable reference)\n")
	}
	if len(result.DefaultedKeys) > 0 {
		fmt.Printf("  Defaulted parameters: %s\n", strings.Join(result.DefaultedKeys, ", "))
	}
	for _, w := range result.Warnings {
		fmt.Printf("  [WARN] %s\n", w)
	}
	fmt.Printf("  Duration:  %s\n", result.Duration.Round(time.Millisecond))
}
