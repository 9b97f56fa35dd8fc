// Package main implements photcat-prune, the ledger maintenance tool:
// reconcile the ledger against storage and prune superseded products
// past the retention window.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/photcat/photcat/internal/registry"
	"github.com/photcat/photcat/internal/storage"
)

func main() {
	var (
		registryPath string
		storageDir   string
		s3Bucket     string
		s3Region     string
		s3Endpoint   string
		retention    time.Duration
		reconcile    bool
		dryRun       bool
		yes          bool
	)

	flag.StringVar(&registryPath, "registry", "", "Product ledger database")
	flag.StringVar(&storageDir, "storage-dir", "", "Local archive storage directory")
	flag.StringVar(&s3Bucket, "s3-bucket", "", "Archive S3 bucket")
	flag.StringVar(&s3Region, "s3-region", "", "Archive S3 region")
	flag.StringVar(&s3Endpoint, "s3-endpoint", "", "Archive S3 endpoint override")
	flag.DurationVar(&retention, "retention", 30*24*time.Hour, "Age past which superseded products are pruned")
	flag.BoolVar(&reconcile, "reconcile", false, "Cross-check the ledger against storage and report")
	flag.BoolVar(&dryRun, "dry-run", false, "Report what would be pruned without deleting")
	flag.BoolVar(&yes, "yes", false, "Skip the confirmation prompt")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "photcat-prune - product ledger maintenance\n\n")
		fmt.Fprintf(os.Stderr, "Usage: photcat-prune --registry <db> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  photcat-prune --registry registry.db --reconcile --storage-dir /data/storage\n")
		fmt.Fprintf(os.Stderr, "  photcat-prune --registry registry.db --retention 720h --dry-run\n")
		fmt.Fprintf(os.Stderr, "  photcat-prune --registry registry.db --s3-bucket photcat-archive --yes\n")
	}
	flag.Parse()

	_ = godotenv.Load()

	if registryPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	archive := openArchive(ctx, storageDir, s3Bucket, s3Region, s3Endpoint)

	reg, err := registry.Open(registryPath)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer reg.Close()

	if reconcile {
		runReconcile(ctx, reg, archive)
		return
	}

	if !dryRun && !yes && !confirm(retention) {
		fmt.Println("Aborted.")
		return
	}

	result, err := reg.Prune(ctx, retention, dryRun, archive)
	if err != nil {
		log.Fatalf("Prune failed: %v", err)
	}
	printPrune(result)
}

// openArchive builds the archive client, or returns nil when no
// archive flags are given; reconcile and prune then skip object checks.
func openArchive(ctx context.Context, storageDir, bucket, region, endpoint string) storage.ObjectStorage {
	switch {
	case bucket != "":
		cfg := storage.DefaultS3Config()
		if region != "" {
			cfg.Region = region
		}
		if endpoint != "" {
			cfg.Endpoint = endpoint
			cfg.UsePathStyle = true
		}
		archive, err := storage.NewS3Storage(ctx, bucket, cfg)
		if err != nil {
			log.Fatalf("Failed to initialize S3 storage: %v", err)
		}
		return archive
	case storageDir != "":
		archive, err := storage.NewLocalStorage(storageDir)
		if err != nil {
			log.Fatalf("Failed to initialize local storage: %v", err)
		}
		return archive
	default:
		return nil
	}
}

func runReconcile(ctx context.Context, reg *registry.Registry, archive storage.ObjectStorage) {
	report, err := reg.Reconcile(ctx, archive, "catalogs")
	if err != nil {
		log.Fatalf("Reconciliation failed: %v", err)
	}
	fmt.Printf("Checked %d ledger row(s), %d archive object(s)\n",
		report.TotalLedgerRows, report.TotalObjects)
	for _, d := range report.Dangling {
		fmt.Printf("  dangling: product %s points at missing %s\n", d.ProductID, d.StorePath)
	}
	for _, o := range report.Orphaned {
		fmt.Printf("  orphaned: %s has no ledger row\n", o)
	}
	if !report.HasIssues() {
		fmt.Println("Ledger and storage agree.")
		return
	}
	os.Exit(1)
}

func printPrune(result *registry.PruneResult) {
	if len(result.Candidates) == 0 {
		fmt.Println("Nothing to prune.")
		return
	}
	for _, p := range result.Candidates {
		superseded := "unknown"
		if p.SupersededBy != nil {
			superseded = *p.SupersededBy
		}
		fmt.Printf("  %s  %s  superseded by %s\n", p.ID, p.Target, superseded)
	}
	if result.DryRun {
		fmt.Printf("Dry run: %d product(s) would be pruned.\n", len(result.Candidates))
		return
	}
	fmt.Printf("Pruned %d ledger row(s), %d archived object(s).\n",
		result.DeletedRows, result.DeletedObjects)
}

func confirm(retention time.Duration) bool {
	fmt.Printf("Delete superseded products older than %v? [y/N] ", retention)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
