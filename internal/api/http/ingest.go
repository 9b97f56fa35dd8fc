package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/photcat/photcat/internal/errors"
	"github.com/photcat/photcat/internal/pipeline"
)

// IngestResponse reports a finished ingest run.
type IngestResponse struct {
	ProductID  string   `json:"product_id"`
	Path       string   `json:"path"`
	ObjectPath string   `json:"object_path,omitempty"`
	Rows       int64    `json:"rows"`
	Sections   int      `json:"sections"`
	Filters    []string `json:"filters"`
	Warnings   []string `json:"warnings,omitempty"`
	DurationMS int64    `json:"duration_ms"`
	RequestID  string   `json:"request_id"`
}

// IngestHandler handles POST /v1/ingest: one synchronous pipeline run
// per request.
type IngestHandler struct {
	runner *pipeline.Runner
}

// NewIngestHandler creates the ingest handler over a shared runner.
func NewIngestHandler(runner *pipeline.Runner) *IngestHandler {
	return &IngestHandler{runner: runner}
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed", requestID)
		return
	}

	var req pipeline.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "",
			fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	result, err := h.runner.Run(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if apperrors.IsCode(err, apperrors.CodeInvalidConfig) {
			status = http.StatusBadRequest
		}
		writeError(w, status, apperrors.CodeOf(err), err.Error(), requestID)
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		ProductID:  result.Product.ID,
		Path:       result.Product.Path,
		ObjectPath: result.ObjectPath,
		Rows:       result.Rows,
		Sections:   result.Sections,
		Filters:    result.Filters,
		Warnings:   result.Warnings,
		DurationMS: result.Duration.Milliseconds(),
		RequestID:  requestID,
	})
}
