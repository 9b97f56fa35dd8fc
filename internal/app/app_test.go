package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/photcat/photcat/internal/config"
	"github.com/photcat/photcat/internal/notify"
	"github.com/photcat/photcat/internal/pipeline"
)

// newTestConfig builds a maintain-only configuration rooted in a temp
// directory, so no HTTP listeners are bound.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeMaintain
	cfg.DataDir = t.TempDir()
	cfg.Maintain.Interval = time.Hour
	return cfg
}

// writeCatalogFixture builds the smallest ingestable catalog: one image
// pair, the globals, and one combined filter triple.
func writeCatalogFixture(t *testing.T, dir string) (phot, columns, info string) {
	t.Helper()
	descs := []string{
		"Extension of input star", "Chip of input star",
		"X of input star", "Y of input star",
		"Counts, img_f814w_flc.chip1", "Magnitude, img_f814w_flc.chip1",
		"Extension (zero for base image)", "Chip", "Object X", "Object Y",
		"Chi value", "Signal-to-noise of fit", "Sharpness of fit",
		"Roundness of fit", "Major axis", "Crowding of fit", "Object type",
		"Signal-to-noise, F814W", "Sharpness, F814W", "Crowding, F814W",
	}
	var b strings.Builder
	for i, d := range descs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, d)
	}
	columns = filepath.Join(dir, "run.phot.columns")
	if err := os.WriteFile(columns, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	info = filepath.Join(dir, "run.info")
	if err := os.WriteFile(info, []byte("img_f814w_flc.chip1 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	phot = filepath.Join(dir, "run.phot")
	row := "0 1 10.0 20.0 100 21.5 0 1 100.0 200.0 1.0 5.0 0.1 0.2 1.5 1.0 1 5.0 0.1 1.0\n"
	if err := os.WriteFile(phot, []byte(row), 0o644); err != nil {
		t.Fatal(err)
	}
	return phot, columns, info
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = "sideways"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected invalid-mode error")
	}

	cfg = config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Store.Codec = "brotli"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected invalid-codec error")
	}
}

func TestStartTwiceFails(t *testing.T) {
	a, err := New(newTestConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(ctx)

	if err := a.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
}

func TestMaintainLifecycle(t *testing.T) {
	a, err := New(newTestConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// The first maintenance pass runs at startup.
	deadline := time.Now().Add(2 * time.Second)
	for a.LastReport() == nil {
		if time.Now().After(deadline) {
			t.Fatal("no reconciliation report after startup")
		}
		time.Sleep(10 * time.Millisecond)
	}
	report := a.LastReport()
	if report.TotalLedgerRows != 0 || report.HasIssues() {
		t.Errorf("empty ledger report = %+v", report)
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	// Stop is idempotent.
	if err := a.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestIngestThroughApp(t *testing.T) {
	cfg := newTestConfig(t)
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(ctx)

	sub := a.Notifier().SubscribeAutoID()
	dir := t.TempDir()
	phot, columns, info := writeCatalogFixture(t, dir)

	result, err := a.Runner().Run(ctx, pipeline.RunRequest{
		Target:      "m31",
		PhotPath:    phot,
		ColumnsPath: columns,
		InfoPath:    info,
		OutputPath:  filepath.Join(cfg.Store.OutputDir, "m31.pcat"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Rows != 1 || result.ObjectPath == "" {
		t.Errorf("result = %+v", result)
	}

	// The run is archived and announced.
	ok, err := a.archive.Exists(ctx, result.ObjectPath)
	if err != nil || !ok {
		t.Errorf("archived object missing: ok=%v err=%v", ok, err)
	}
	select {
	case ev := <-sub.Ch:
		if ev.Kind != notify.EventCatalogReady || ev.Target != "m31" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("no catalog-ready event")
	}

	// A maintenance pass over a consistent ledger reports no issues.
	a.runMaintenance(ctx)
	report := a.LastReport()
	if report == nil || report.TotalLedgerRows != 1 || report.HasIssues() {
		t.Errorf("report = %+v", report)
	}
	if snap := a.Stats().Snapshot(); snap.RunsSucceeded != 1 {
		t.Errorf("runs succeeded = %d, want 1", snap.RunsSucceeded)
	}
}
