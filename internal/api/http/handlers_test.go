package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/photcat/photcat/internal/config"
	"github.com/photcat/photcat/internal/observability"
	"github.com/photcat/photcat/internal/pipeline"
	"github.com/photcat/photcat/internal/registry"
)

func openRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func seedProduct(t *testing.T, reg *registry.Registry, id, target, fingerprint string) {
	t.Helper()
	_, err := reg.Register(context.Background(), &registry.ProductRecord{
		ID:                id,
		Target:            target,
		StorePath:         "/data/out/" + target + ".pcat",
		RowCount:          100,
		SectionCount:      3,
		Filters:           []string{"F814W"},
		SourceFingerprint: fingerprint,
	})
	if err != nil {
		t.Fatal(err)
	}
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

func TestIngestHandler(t *testing.T) {
	dir := t.TempDir()
	phot, columns, info := writeCatalogFixture(t, dir)
	reg := openRegistry(t)
	runner := pipeline.NewRunner(config.DefaultConfig(), pipeline.Deps{Registry: reg})
	defer runner.Close()

	handler := DefaultMiddleware()(NewIngestHandler(runner))

	body, _ := json.Marshal(pipeline.RunRequest{
		Target:      "m31",
		PhotPath:    phot,
		ColumnsPath: columns,
		InfoPath:    info,
		OutputPath:  filepath.Join(dir, "m31.pcat"),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp IngestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ProductID == "" || resp.Rows != 1 || resp.Sections != 3 {
		t.Errorf("response = %+v", resp)
	}
	if resp.RequestID == "" {
		t.Error("response should carry the request ID")
	}
}

func TestIngestHandlerErrors(t *testing.T) {
	runner := pipeline.NewRunner(config.DefaultConfig(), pipeline.Deps{})
	defer runner.Close()
	handler := DefaultMiddleware()(NewIngestHandler(runner))

	get := httptest.NewRequest(http.MethodGet, "/v1/ingest", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, get)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	malformed := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader("{nope"))
	malformed.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, malformed)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed status = %d, want 400", rec.Code)
	}

	// Valid JSON that fails request validation.
	invalid := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"target":"m31"}`))
	invalid.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, invalid)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status = %d, want 400", rec.Code)
	}
	var envelope ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Code != "INVALID_CONFIG" || envelope.RequestID == "" {
		t.Errorf("envelope = %+v", envelope)
	}

	wrongType := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader("x"))
	wrongType.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, wrongType)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("wrong content type status = %d, want 415", rec.Code)
	}
}

func TestProductsHandler(t *testing.T) {
	reg := openRegistry(t)
	seedProduct(t, reg, "p-1", "m31", "fp-1")
	seedProduct(t, reg, "p-2", "ngc6822", "fp-2")

	handler := DefaultMiddleware()(NewProductsHandler(reg))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/products", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var products []*registry.ProductRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &products); err != nil {
		t.Fatal(err)
	}
	if len(products) != 2 {
		t.Errorf("products = %d, want 2", len(products))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/products?target=m31", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &products); err != nil {
		t.Fatal(err)
	}
	if len(products) != 1 || products[0].ID != "p-1" {
		t.Errorf("target filter = %+v", products)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/products/p-2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var one registry.ProductRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &one); err != nil {
		t.Fatal(err)
	}
	if one.ID != "p-2" || one.Target != "ngc6822" {
		t.Errorf("record = %+v", one)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/products/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/products?limit=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestStatsHandler(t *testing.T) {
	stats := observability.NewRunStats()
	stats.RunStarted()
	handler := DefaultMiddleware()(NewStatsHandler(stats))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap observability.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.RunsStarted != 1 {
		t.Errorf("runs started = %d, want 1", snap.RunsStarted)
	}
}

type stubReportSource struct {
	report *registry.ReconcileReport
}

func (s *stubReportSource) LastReport() *registry.ReconcileReport { return s.report }

func TestMaintainReportHandler(t *testing.T) {
	source := &stubReportSource{}
	handler := DefaultMiddleware()(NewMaintainReportHandler(source))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/maintain/report", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("empty status = %d, want 404", rec.Code)
	}

	source.report = &registry.ReconcileReport{Orphaned: []string{"catalogs/stray.pcat"}}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/maintain/report", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var report registry.ReconcileReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if len(report.Orphaned) != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestRecoveryAndRequestID(t *testing.T) {
	panics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := DefaultMiddleware()(panics)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") != "req-42" {
		t.Error("supplied request ID should be echoed")
	}
	var envelope ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.RequestID != "req-42" {
		t.Errorf("envelope = %+v", envelope)
	}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}
