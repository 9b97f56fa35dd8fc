package http

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/photcat/photcat/internal/errors"
	"github.com/photcat/photcat/internal/observability"
	"github.com/photcat/photcat/internal/registry"
)

// ProductsHandler serves the ledger: GET /v1/products lists records,
// GET /v1/products/{id} fetches one.
type ProductsHandler struct {
	registry *registry.Registry
}

// NewProductsHandler creates the ledger inspection handler.
func NewProductsHandler(reg *registry.Registry) *ProductsHandler {
	return &ProductsHandler{registry: reg}
}

func (h *ProductsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed", requestID)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/products"), "/")
	if id != "" {
		h.serveOne(w, r, id, requestID)
		return
	}

	if target := r.URL.Query().Get("target"); target != "" {
		products, err := h.registry.FindByTarget(r.Context(), target)
		if err != nil {
			writeError(w, http.StatusInternalServerError, apperrors.CodeOf(err), err.Error(), requestID)
			return
		}
		writeJSON(w, http.StatusOK, productList(products))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "", "limit must be a positive integer", requestID)
			return
		}
		limit = n
	}
	products, err := h.registry.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, apperrors.CodeOf(err), err.Error(), requestID)
		return
	}
	writeJSON(w, http.StatusOK, productList(products))
}

func (h *ProductsHandler) serveOne(w http.ResponseWriter, r *http.Request, id, requestID string) {
	product, err := h.registry.Get(r.Context(), id)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeProductNotFound) {
			writeError(w, http.StatusNotFound, apperrors.CodeProductNotFound,
				"product not found: "+id, requestID)
			return
		}
		writeError(w, http.StatusInternalServerError, apperrors.CodeOf(err), err.Error(), requestID)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// productList keeps the empty case a JSON array, not null.
func productList(products []*registry.ProductRecord) []*registry.ProductRecord {
	if products == nil {
		return []*registry.ProductRecord{}
	}
	return products
}

// StatsHandler serves GET /v1/stats: a snapshot of the run counters.
type StatsHandler struct {
	stats *observability.RunStats
}

// NewStatsHandler creates the statistics handler.
func NewStatsHandler(stats *observability.RunStats) *StatsHandler {
	return &StatsHandler{stats: stats}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed", requestID)
		return
	}
	writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

// ReportSource yields the most recent reconciliation report, or nil
// when no maintenance pass has run yet.
type ReportSource interface {
	LastReport() *registry.ReconcileReport
}

// MaintainReportHandler serves GET /v1/maintain/report.
type MaintainReportHandler struct {
	source ReportSource
}

// NewMaintainReportHandler creates the maintenance report handler.
func NewMaintainReportHandler(source ReportSource) *MaintainReportHandler {
	return &MaintainReportHandler{source: source}
}

func (h *MaintainReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed", requestID)
		return
	}
	report := h.source.LastReport()
	if report == nil {
		writeError(w, http.StatusNotFound, "", "no reconciliation has run yet", requestID)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
