package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alicorn-scan/alicorn/internal/db"
	"github.com/alicorn-scan/alicorn/internal/errors"
	"github.com/alicorn-scan/alicorn/internal/logging"
)

// Activity window bounds, in days.
const (
	defaultActivityDays = 365
	maxActivityDays     = 3650
)

// ActivityHandler serves the per-day scan activity feed behind the
// dashboard heatmap.
type ActivityHandler struct {
	store  ScanStore
	logger *logging.Logger
	now    func() time.Time
}

// NewActivityHandler creates an activity handler.
func NewActivityHandler(store ScanStore, logger *logging.Logger) *ActivityHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ActivityHandler{
		store:  store,
		logger: logger.WithComponent("api.activity"),
		now:    time.Now,
	}
}

// Get serves GET /activity?days=N with one bucket per UTC day that saw
// scan activity.
func (h *ActivityHandler) Get(w http.ResponseWriter, r *http.Request) {
	days := defaultActivityDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxActivityDays {
			writeError(w, r, errors.ErrValidation("invalid days: "+raw))
			return
		}
		days = parsed
	}

	since := h.now().UTC().AddDate(0, 0, -days).Unix()
	buckets, err := h.store.GetActivity(r.Context(), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if buckets == nil {
		buckets = []*db.ActivityBucket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days":    days,
		"buckets": buckets,
	})
}
