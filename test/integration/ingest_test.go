// Package integration exercises the ingest stack end to end: pipeline,
// store container, product ledger, archive storage, and notifications.
package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/photcat/photcat/internal/config"
	"github.com/photcat/photcat/internal/notify"
	"github.com/photcat/photcat/internal/pipeline"
	"github.com/photcat/photcat/internal/registry"
	"github.com/photcat/photcat/internal/storage"
	"github.com/photcat/photcat/internal/store"
)

const testImage = "img1_f814w_flc.chip1"

// writeFixture lays out a catalog with one image pair, the eleven
// globals, the F814W combined triple, and one individual column.
func writeFixture(t *testing.T, dir, stem string, rows []string) (phot, columns, info string) {
	t.Helper()

	descs := []string{
		"Extension of input star",
		"Chip of input star",
		"X of input star",
		"Y of input star",
		"Counts, " + testImage,
		"Magnitude, " + testImage,
		"Extension (zero for base image)",
		"Chip (for three-dimensional FITS image)",
		"Object X position on reference image",
		"Object Y position on reference image",
		"Chi value of fit",
		"Signal-to-noise of fit",
		"Sharpness of fit",
		"Roundness of fit",
		"Major axis of fit",
		"Crowding of fit",
		"Object type",
		"Signal-to-noise, F814W",
		"Sharpness, F814W",
		"Crowding, F814W",
		"Signal-to-noise, " + testImage + " (1.0 s), F814W",
	}
	var b strings.Builder
	for i, d := range descs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, d)
	}
	columns = filepath.Join(dir, stem+".phot.columns")
	require.NoError(t, os.WriteFile(columns, []byte(b.String()), 0o644))

	info = filepath.Join(dir, stem+".info")
	require.NoError(t, os.WriteFile(info, []byte(testImage+" 1\n"), 0o644))

	phot = filepath.Join(dir, stem+".phot")
	require.NoError(t, os.WriteFile(phot, []byte(strings.Join(rows, "\n")+"\n"), 0o644))
	return phot, columns, info
}

func fixtureRows() []string {
	return []string{
		"0 1 10.0 20.0 100 21.5 0 1 100.0 200.0 1.0 5.0 0.1 0.2 1.5 1.0 1 5.0 0.1 1.0 4.5",
		"0 1 11.0 21.0 120 21.9 0 1 150.0 250.0 1.1 2.0 0.1 0.2 1.4 1.1 1 2.0 0.1 1.0 2.2",
	}
}

type harness struct {
	cfg      *config.Config
	registry *registry.Registry
	archive  storage.ObjectStorage
	notifier *notify.Notifier
	runner   *pipeline.Runner
}

func newHarness(t *testing.T, dir string) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir

	reg, err := registry.Open(filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	archive, err := storage.NewLocalStorage(filepath.Join(dir, "archive"))
	require.NoError(t, err)

	notifier := notify.NewNotifier(8)
	runner := pipeline.NewRunner(cfg, pipeline.Deps{
		Registry: reg,
		Archive:  archive,
		Notifier: notifier,
	})
	t.Cleanup(runner.Close)

	return &harness{cfg: cfg, registry: reg, archive: archive, notifier: notifier, runner: runner}
}

func TestIngestToStoreLifecycle(t *testing.T) {
	dir := t.TempDir()
	phot, columns, info := writeFixture(t, dir, "run1", fixtureRows())
	out := filepath.Join(dir, "m31.pcat")

	h := newHarness(t, dir)
	sub := h.notifier.Subscribe("integration")
	ctx := context.Background()

	req := pipeline.RunRequest{
		Target:      "m31",
		PhotPath:    phot,
		ColumnsPath: columns,
		InfoPath:    info,
		OutputPath:  out,
	}
	res, err := h.runner.Run(ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Rows)
	require.Equal(t, 3, res.Sections)
	require.Equal(t, []string{"F814W"}, res.Filters)
	require.NotEmpty(t, res.Product.ID)

	// The container holds the fixed sections plus one per filter, and
	// carries the run identity in its stats.
	reader, err := store.OpenReader(out)
	require.NoError(t, err)
	defer reader.Close()

	sections, err := reader.Sections(ctx)
	require.NoError(t, err)
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = s.Name
	}
	require.ElementsMatch(t, []string{"fitsinfo", "data", "F814W"}, names)

	stats, err := reader.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, "m31", stats["target"])
	require.Len(t, stats["source_fingerprint"], 32)

	data, err := reader.ReadSection(ctx, "data")
	require.NoError(t, err)
	require.Equal(t, 2, data.NumRows())
	require.True(t, data.HasColumn("f814w_st"))
	require.False(t, data.HasColumn("x_in"), "input positions stay out of the data section")

	// The product is in the ledger and the archive.
	products, err := h.registry.FindByTarget(ctx, "m31")
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, res.Product.ID, products[0].ID)

	ok, err := h.archive.Exists(ctx, res.ObjectPath)
	require.NoError(t, err)
	require.True(t, ok, "archived object should exist")

	select {
	case ev := <-sub.Ch:
		require.Equal(t, notify.EventCatalogReady, ev.Kind)
		require.Equal(t, "m31", ev.Target)
		require.Equal(t, int64(2), ev.RowCount)
	case <-time.After(time.Second):
		t.Fatal("no catalog-ready event")
	}

	// Re-running the same sources registers nothing new.
	res2, err := h.runner.Run(ctx, req)
	require.NoError(t, err)
	require.Equal(t, res.Product.ID, res2.Product.ID)

	count, err := h.registry.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestSupersedeReconcilePrune(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir)
	ctx := context.Background()

	phot1, columns1, info1 := writeFixture(t, dir, "run1", fixtureRows())
	first, err := h.runner.Run(ctx, pipeline.RunRequest{
		Target:      "ngc6822",
		PhotPath:    phot1,
		ColumnsPath: columns1,
		InfoPath:    info1,
		OutputPath:  filepath.Join(dir, "ngc6822_v1.pcat"),
	})
	require.NoError(t, err)

	// A reprocessed measurement file has a different fingerprint.
	rows := fixtureRows()
	rows[0] = strings.Replace(rows[0], "21.5", "21.6", 1)
	phot2, columns2, info2 := writeFixture(t, dir, "run2", rows)
	second, err := h.runner.Run(ctx, pipeline.RunRequest{
		Target:      "ngc6822",
		PhotPath:    phot2,
		ColumnsPath: columns2,
		InfoPath:    info2,
		OutputPath:  filepath.Join(dir, "ngc6822_v2.pcat"),
	})
	require.NoError(t, err)
	require.NotEqual(t, first.Product.ID, second.Product.ID)

	require.NoError(t, h.registry.MarkSuperseded(ctx, first.Product.ID, second.Product.ID))

	// Both store files and both archive objects exist, so the ledger
	// and reality agree.
	report, err := h.registry.Reconcile(ctx, h.archive, "catalogs")
	require.NoError(t, err)
	require.False(t, report.HasIssues(), "report = %+v", report)
	require.Equal(t, 2, report.TotalLedgerRows)

	// A negative retention window puts the cutoff in the future, so
	// the just-superseded product is already past it.
	result, err := h.registry.Prune(ctx, -time.Minute, false, h.archive)
	require.NoError(t, err)
	require.Equal(t, 1, result.DeletedRows)
	require.Equal(t, 1, result.DeletedObjects)

	ok, err := h.archive.Exists(ctx, first.ObjectPath)
	require.NoError(t, err)
	require.False(t, ok, "pruned object should be gone")
	ok, err = h.archive.Exists(ctx, second.ObjectPath)
	require.NoError(t, err)
	require.True(t, ok, "live object must survive pruning")

	count, err := h.registry.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestFakeRunsShareOneOutput(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir)
	ctx := context.Background()

	_, columns, info := writeFixture(t, dir, "real", fixtureRows())
	fake1 := filepath.Join(dir, "fake1.phot")
	fake2 := filepath.Join(dir, "fake2.phot")
	rows := fixtureRows()
	require.NoError(t, os.WriteFile(fake1, []byte(rows[0]+"\n"), 0o644))
	require.NoError(t, os.WriteFile(fake2, []byte(rows[1]+"\n"), 0o644))

	res, err := h.runner.Run(ctx, pipeline.RunRequest{
		Target:      "m31",
		FakeFiles:   []string{fake1, fake2},
		ColumnsPath: columns,
		InfoPath:    info,
		OutputPath:  filepath.Join(dir, "m31_fake.pcat"),
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Rows)

	// The concatenation scratch file is cleaned up.
	_, err = os.Stat(filepath.Join(dir, "m31_fake.pcat.fakes"))
	require.True(t, os.IsNotExist(err))
}
