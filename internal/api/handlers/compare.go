package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/alicorn-scan/alicorn/internal/compare"
	"github.com/alicorn-scan/alicorn/internal/export"
	"github.com/alicorn-scan/alicorn/internal/logging"
	"github.com/alicorn-scan/alicorn/internal/metrics"
)

// Comparator runs multi-scan comparisons. compare.Comparator implements
// it.
type Comparator interface {
	Compare(ctx context.Context, scanIDs []int64) (*compare.Result, error)
}

// CompareRequest is the body for comparison endpoints.
type CompareRequest struct {
	ScanIDs []int64 `json:"scan_ids" validate:"required,min=2,dive,min=1"`
}

// CompareHandler serves comparison runs and comparison exports.
type CompareHandler struct {
	comparator Comparator
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

// NewCompareHandler creates a compare handler. metrics may be nil.
func NewCompareHandler(comparator Comparator, m *metrics.Metrics, logger *logging.Logger) *CompareHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CompareHandler{
		comparator: comparator,
		metrics:    m,
		logger:     logger.WithComponent("api.compare"),
	}
}

// run executes one comparison with metrics accounting.
func (h *CompareHandler) run(ctx context.Context, scanIDs []int64) (*compare.Result, error) {
	started := time.Now()
	result, err := h.comparator.Compare(ctx, scanIDs)
	if h.metrics != nil {
		h.metrics.RecordComparison(len(scanIDs), time.Since(started), err)
	}
	return result, err
}

// Compare serves POST /compare. A nil result means fewer than two of
// the requested scans exist; that is the client's problem, not a server
// failure.
func (h *CompareHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.run(r.Context(), req.ScanIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "fewer than two of the requested scans exist",
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Export serves POST /compare/export?format=csv|json with the full
// comparison result as a downloadable file.
func (h *CompareHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.run(r.Context(), req.ScanIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "fewer than two of the requested scans exist",
		})
		return
	}

	filename := "comparison-" + time.Now().UTC().Format("20060102-150405") + "." + string(format)
	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := export.WriteComparison(w, format, result); err != nil {
		h.logger.WithError(err).Error("comparison export failed")
	}
}
