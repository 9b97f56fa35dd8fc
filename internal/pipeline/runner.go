// Package pipeline orchestrates one ingest run end to end: schema
// resolution, catalog reading, quality classification, coordinate
// attachment, store construction, registration, archiving, and
// notification.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/photcat/photcat/internal/catalog"
	"github.com/photcat/photcat/internal/config"
	apperrors "github.com/photcat/photcat/internal/errors"
	"github.com/photcat/photcat/internal/fitsmeta"
	"github.com/photcat/photcat/internal/notify"
	"github.com/photcat/photcat/internal/observability"
	"github.com/photcat/photcat/internal/quality"
	"github.com/photcat/photcat/internal/registry"
	"github.com/photcat/photcat/internal/schema"
	"github.com/photcat/photcat/internal/storage"
	"github.com/photcat/photcat/internal/store"
	"github.com/photcat/photcat/internal/wcs"
	"github.com/photcat/photcat/pkg/types"
)

// RunRequest describes one ingest run. Input paths may use the obj://
// scheme to name archive objects; those are fetched to local files
// before the run reads them.
type RunRequest struct {
	// Target names the object or field the catalog belongs to.
	Target string `json:"target"`

	// PhotPath is the raw measurement file. May be empty when FakeFiles
	// supply the input instead.
	PhotPath string `json:"phot_path,omitempty"`

	// ColumnsPath is the column-description file. Defaults to the input
	// path with a ".columns" suffix.
	ColumnsPath string `json:"columns_path,omitempty"`

	// InfoPath is the image-manifest file.
	InfoPath string `json:"info_path"`

	// FakeFiles are fakestar output files; more than one is
	// concatenated before reading.
	FakeFiles []string `json:"fake_files,omitempty"`

	// RefImages are candidate astrometric reference images.
	RefImages []string `json:"ref_images,omitempty"`

	// ImagePaths are the contributing FITS images for the fitsinfo
	// section.
	ImagePaths []string `json:"image_paths,omitempty"`

	// OutputPath is where the store container is written.
	OutputPath string `json:"output_path"`

	// Lite drops per-exposure columns at read time.
	Lite bool `json:"lite,omitempty"`

	// DetFilters overrides the INSTRUMENT_FILTER identifiers to
	// classify; derived from the image headers when empty.
	DetFilters []string `json:"det_filters,omitempty"`

	// Codec overrides the configured store compression codec.
	Codec string `json:"codec,omitempty"`

	// Workers sets the catalog scan parallelism.
	Workers int `json:"workers,omitempty"`
}

func (req *RunRequest) normalize() error {
	if req.Target == "" {
		return apperrors.NewInvalidConfig("run request: target is required")
	}
	if req.PhotPath == "" && len(req.FakeFiles) == 0 {
		return apperrors.NewInvalidConfig("run request: phot_path or fake_files is required")
	}
	if req.InfoPath == "" {
		return apperrors.NewInvalidConfig("run request: info_path is required")
	}
	if req.OutputPath == "" {
		return apperrors.NewInvalidConfig("run request: output_path is required")
	}
	if req.ColumnsPath == "" {
		base := req.PhotPath
		if base == "" {
			base = req.FakeFiles[0]
		}
		req.ColumnsPath = base + ".columns"
	}
	return nil
}

// RunResult reports what one run produced.
type RunResult struct {
	Product       types.ProductHandle `json:"product"`
	Rows          int64               `json:"rows"`
	Sections      int                 `json:"sections"`
	Filters       []string            `json:"filters"`
	DetFilters    []string            `json:"det_filters,omitempty"`
	DefaultedKeys []string            `json:"defaulted_keys,omitempty"`

	CoordSkipped   bool   `json:"coord_skipped,omitempty"`
	CoordAmbiguous bool   `json:"coord_ambiguous,omitempty"`
	Reference      string `json:"reference,omitempty"`

	Outcomes   []quality.Outcome `json:"outcomes,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
	ObjectPath string            `json:"object_path,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// Deps are the shared services a Runner publishes into. Registry and
// Archive may be nil; registration and archiving are then skipped.
// Fetcher may be nil when every request path is local.
type Deps struct {
	Registry *registry.Registry
	Archive  storage.ObjectStorage
	Fetcher  *storage.Fetcher
	Notifier *notify.Notifier
	Stats    *observability.RunStats
	Log      *slog.Logger
}

// Runner executes ingest runs. Concurrent runs are admitted, but runs
// targeting the same output path are serialized.
type Runner struct {
	cfg  *config.Config
	deps Deps
	log  *slog.Logger

	locks *pathLocks

	// paramsMu guards write-back into the shared parameter store.
	paramsMu sync.Mutex
}

// NewRunner wires a runner over the shared configuration and services.
func NewRunner(cfg *config.Config, deps Deps) *Runner {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Stats == nil {
		deps.Stats = observability.NewRunStats()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewNotifier(0)
	}
	return &Runner{cfg: cfg, deps: deps, log: deps.Log, locks: newPathLocks()}
}

// Stats exposes the run counters, for the stats endpoint.
func (r *Runner) Stats() *observability.RunStats { return r.deps.Stats }

// Close refuses new runs and waits for in-flight ones to finish.
func (r *Runner) Close() { r.locks.close() }

// Run executes one ingest run. Failures are recorded in the run
// statistics and published on the notifier before being returned.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	release, err := r.locks.acquire(req.OutputPath)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	r.deps.Stats.RunStarted()

	result, err := r.run(ctx, &req, start)
	if err != nil {
		r.deps.Stats.RunFailed(req.Target, time.Since(start))
		r.deps.Notifier.Publish(notify.Event{
			Kind:   notify.EventRunFailed,
			Target: req.Target,
			Err:    err.Error(),
		})
		return nil, err
	}
	return result, nil
}

func (r *Runner) run(ctx context.Context, req *RunRequest, start time.Time) (*RunResult, error) {
	result := &RunResult{}

	if err := r.fetchRemoteInputs(ctx, req); err != nil {
		return nil, err
	}

	descs, err := schema.ReadDescriptionsFile(req.ColumnsPath)
	if err != nil {
		return nil, err
	}
	manifest, err := schema.ReadManifestFile(req.InfoPath)
	if err != nil {
		return nil, err
	}
	layout, err := schema.Resolve(descs, manifest)
	if err != nil {
		return nil, err
	}
	result.Filters = layout.Filters

	input := req.PhotPath
	switch len(req.FakeFiles) {
	case 0:
	case 1:
		input = req.FakeFiles[0]
	default:
		concat := req.OutputPath + ".fakes"
		if err := catalog.ConcatFiles(concat, req.FakeFiles); err != nil {
			return nil, err
		}
		defer os.Remove(concat)
		input = concat
	}

	table, err := catalog.ReadFile(ctx, input, layout, catalog.ReadOptions{
		Lite:    req.Lite,
		Workers: r.readWorkers(req.Workers),
	})
	if err != nil {
		return nil, err
	}
	result.Rows = int64(table.NumRows())
	r.log.Info("catalog read", "target", req.Target,
		"rows", table.NumRows(), "columns", table.NumCols(), "lite", req.Lite)

	fitsinfo := types.NewTable()
	var metas []fitsmeta.ImageMeta
	if len(req.ImagePaths) > 0 {
		fitsinfo, metas, err = fitsmeta.Build(ctx, req.ImagePaths)
		if err != nil {
			return nil, err
		}
	}

	detFilters := req.DetFilters
	if len(detFilters) == 0 {
		detFilters = detFiltersFromImages(metas)
	}
	result.DetFilters = detFilters

	snap, warnings := r.qualitySnapshot()
	result.Warnings = append(result.Warnings, warnings...)
	report, err := quality.NewClassifier(snap, r.log).Classify(table, detFilters)
	if err != nil {
		return nil, err
	}
	result.Outcomes = report.Outcomes
	r.persistParams(layout.Filters, report)
	for key := range report.DefaultedKeys {
		result.DefaultedKeys = append(result.DefaultedKeys, key)
		r.deps.Stats.RecordDefaultedParam(key)
	}
	sort.Strings(result.DefaultedKeys)
	for _, o := range report.Outcomes {
		r.deps.Stats.RecordFilterFlags(o.Filter, int64(o.STCount), int64(o.GSTCount), o.Failed)
		if o.Failed {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("filter %s not classified: %s", o.Filter, o.Reason))
		}
	}

	outcome, err := wcs.NewAttacher(nil, r.log).Attach(table, req.RefImages)
	if err != nil {
		// The catalog is still publishable without sky coordinates.
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("coordinates not attached: %v", err))
		r.log.Warn("coordinate attachment failed, continuing", "err", err)
	}
	result.CoordSkipped = outcome.Skipped
	result.CoordAmbiguous = outcome.Ambiguous
	result.Reference = outcome.Reference

	fingerprint, err := SourceFingerprint(r.sourceFiles(req))
	if err != nil {
		return nil, err
	}

	opts := store.Options{Codec: req.Codec}
	if opts.Codec == "" {
		opts.Codec = r.cfg.Store.Codec
	}
	info, err := store.BuildCatalog(ctx, req.OutputPath, opts,
		fitsinfo, combinedSubset(table, layout), table, layout.Filters,
		map[string]string{
			"target":             req.Target,
			"source_fingerprint": fingerprint,
		})
	if err != nil {
		return nil, err
	}
	result.Sections = info.SectionCount

	rec := &registry.ProductRecord{
		ID:                uuid.NewString(),
		Target:            req.Target,
		StorePath:         info.Path,
		SizeBytes:         info.SizeBytes,
		RowCount:          info.RowCount,
		SectionCount:      info.SectionCount,
		Filters:           layout.Filters,
		SourceFingerprint: fingerprint,
	}
	if r.deps.Archive != nil {
		rec.ObjectPath = path.Join("catalogs", req.Target, rec.ID+".pcat")
	}
	if r.deps.Registry != nil {
		rec, err = r.deps.Registry.Register(ctx, rec)
		if err != nil {
			return nil, err
		}
	}
	result.Product = types.ProductHandle{ID: rec.ID, Path: rec.StorePath}
	result.ObjectPath = rec.ObjectPath

	if r.deps.Archive != nil && rec.ObjectPath != "" {
		if err := r.deps.Archive.UploadFile(ctx, info.Path, rec.ObjectPath); err != nil {
			return nil, err
		}
		r.log.Info("archived store", "object", rec.ObjectPath, "bytes", info.SizeBytes)
	}

	result.Duration = time.Since(start)
	r.deps.Stats.RunSucceeded(req.Target, result.Rows, info.SizeBytes, result.Duration)
	r.deps.Notifier.Publish(notify.Event{
		Kind:     notify.EventCatalogReady,
		Target:   req.Target,
		Product:  result.Product,
		Filters:  layout.Filters,
		RowCount: result.Rows,
	})
	r.log.Info("ingest run complete", "target", req.Target, "product", rec.ID,
		"rows", result.Rows, "sections", result.Sections, "duration", result.Duration)
	return result, nil
}

// remoteScheme marks a request path that names an archive object
// instead of a local file.
const remoteScheme = "obj://"

func isRemotePath(p string) bool { return strings.HasPrefix(p, remoteScheme) }

// fetchRemoteInputs downloads every obj:// request path through the
// fetcher in one pass and rewrites the request to the local copies.
// Reference images are queued ahead of the rest.
func (r *Runner) fetchRemoteInputs(ctx context.Context, req *RunRequest) error {
	paths := []*string{&req.PhotPath, &req.ColumnsPath, &req.InfoPath}
	for i := range req.FakeFiles {
		paths = append(paths, &req.FakeFiles[i])
	}
	for i := range req.ImagePaths {
		paths = append(paths, &req.ImagePaths[i])
	}
	refs := make(map[*string]bool, len(req.RefImages))
	for i := range req.RefImages {
		p := &req.RefImages[i]
		paths = append(paths, p)
		refs[p] = true
	}

	var remote []*string
	for _, p := range paths {
		if isRemotePath(*p) {
			remote = append(remote, p)
		}
	}
	if len(remote) == 0 {
		return nil
	}
	if r.deps.Fetcher == nil {
		return apperrors.NewInvalidConfig("run request: remote inputs require archive storage")
	}

	freq := &storage.FetchRequest{
		ObjectPaths: make([]string, len(remote)),
		Priority:    make([]int, len(remote)),
	}
	for i, p := range remote {
		freq.ObjectPaths[i] = strings.TrimPrefix(*p, remoteScheme)
		if refs[p] {
			freq.Priority[i] = storage.PriorityReference
		} else {
			freq.Priority[i] = storage.PriorityPrefetch
		}
	}
	res, err := r.deps.Fetcher.Fetch(ctx, freq)
	if err != nil {
		return err
	}
	for i, p := range remote {
		obj := freq.ObjectPaths[i]
		if ferr, ok := res.Errors[obj]; ok {
			return apperrors.NewStorageError(apperrors.CodeDownloadFailed,
				fmt.Sprintf("fetching remote input %s", obj), ferr)
		}
		*p = res.LocalPaths[obj]
	}
	r.log.Info("remote inputs resolved", "target", req.Target,
		"downloads", res.Downloads, "cache_hits", res.CacheHits)
	return nil
}

func (r *Runner) readWorkers(override int) int {
	if override > 0 {
		return override
	}
	return r.cfg.Store.ReadWorkers
}

// sourceFiles lists the inputs that define a run's identity.
func (r *Runner) sourceFiles(req *RunRequest) []string {
	sources := []string{req.ColumnsPath, req.InfoPath}
	if len(req.FakeFiles) > 0 {
		return append(sources, req.FakeFiles...)
	}
	return append(sources, req.PhotPath)
}

// qualitySnapshot copies the shared parameter store into an immutable
// snapshot for one classification pass.
func (r *Runner) qualitySnapshot() (*quality.Snapshot, []string) {
	r.paramsMu.Lock()
	params := make(map[string]string, len(r.cfg.Params))
	for k, v := range r.cfg.Params {
		params[k] = v
	}
	r.paramsMu.Unlock()
	return quality.NewSnapshot(params)
}

// persistParams writes det_filters and any defaulted thresholds back
// into the shared parameter store. Existing values are never
// overwritten; a later run sees the same thresholds this one used.
func (r *Runner) persistParams(filters []string, report *quality.Report) {
	r.paramsMu.Lock()
	defer r.paramsMu.Unlock()
	if r.cfg.Params == nil {
		r.cfg.Params = map[string]string{}
	}
	r.cfg.Params["det_filters"] = strings.Join(filters, ",")
	for key, value := range report.DefaultedKeys {
		if _, ok := r.cfg.Params[key]; !ok {
			r.cfg.Params[key] = strconv.FormatFloat(value, 'g', -1, 64)
		}
	}
	if report.SNRCutDefaulted {
		if _, ok := r.cfg.Params["snrcut"]; !ok {
			r.cfg.Params["snrcut"] = strconv.FormatFloat(report.SNRCut, 'g', -1, 64)
		}
	}
}

// detFiltersFromImages derives the INSTRUMENT_FILTER identifiers from
// the tagged image metadata, de-duplicated and sorted.
func detFiltersFromImages(metas []fitsmeta.ImageMeta) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range metas {
		if m.Camera == "" || m.Filter == "" {
			continue
		}
		id := m.Camera + "_" + m.Filter
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// combinedSubset drops the input-position and per-exposure columns,
// leaving globals, combined photometry, quality flags, and coordinates
// for the data section.
func combinedSubset(table *types.Table, layout *schema.Layout) *types.Table {
	drop := make(map[string]struct{})
	for _, c := range layout.Columns {
		if c.Class == types.ColPosition || c.Class.PerExposure() {
			drop[c.Name] = struct{}{}
		}
	}
	return table.SelectFunc(func(name string) bool {
		_, dropped := drop[name]
		return !dropped
	})
}
