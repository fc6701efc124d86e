package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/alicorn-scan/alicorn/internal/db"
	"github.com/alicorn-scan/alicorn/internal/export"
	"github.com/alicorn-scan/alicorn/internal/geoip"
	"github.com/alicorn-scan/alicorn/internal/logging"
)

// ScanStore is the database surface scan handlers depend on. db.Store
// implements it.
type ScanStore interface {
	GetScan(ctx context.Context, id int64) (*db.Scan, error)
	ListScans(ctx context.Context, offset, limit int) ([]*db.Scan, int64, error)
	DeleteScan(ctx context.Context, id int64) error
	GetReports(ctx context.Context, scanID int64) ([]*db.IPReport, error)
	GetBanners(ctx context.Context, scanID int64) (map[int64]string, error)
	GetARPReports(ctx context.Context, scanID int64) ([]*db.ARPReport, error)
	GetActivity(ctx context.Context, since int64) ([]*db.ActivityBucket, error)
}

// Resolver is the reverse-DNS surface used for report enrichment.
type Resolver interface {
	Reverse(ctx context.Context, addr string) (string, error)
}

// ScanHandler serves scan listing, detail, reports, deletion, and
// export. The geo provider and resolver are optional; when nil the
// matching enrichment is skipped.
type ScanHandler struct {
	store    ScanStore
	geo      geoip.Provider
	resolver Resolver
	logger   *logging.Logger
}

// NewScanHandler creates a scan handler.
func NewScanHandler(store ScanStore, geo geoip.Provider, resolver Resolver, logger *logging.Logger) *ScanHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ScanHandler{
		store:    store,
		geo:      geo,
		resolver: resolver,
		logger:   logger.WithComponent("api.scans"),
	}
}

// List serves GET /scans with pagination, newest scan first.
func (h *ScanHandler) List(w http.ResponseWriter, r *http.Request) {
	params, err := paginationFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	scans, total, err := h.store.ListScans(r.Context(), params.Offset, params.PageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if scans == nil {
		scans = []*db.Scan{}
	}
	writeJSON(w, http.StatusOK, newPaginatedResponse(scans, params, total))
}

// Get serves GET /scans/{id}.
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := scanIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	scan, err := h.store.GetScan(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

// Delete serves DELETE /scans/{id}, removing the scan and all of its
// report data.
func (h *ScanHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := scanIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.store.DeleteScan(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.logger.Info("scan deleted", "scan_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// reportView is one report row with its banner and optional enrichment.
type reportView struct {
	*db.IPReport
	Protocol string          `json:"protocol"`
	Banner   string          `json:"banner,omitempty"`
	Hostname string          `json:"hostname,omitempty"`
	Location *geoip.Location `json:"location,omitempty"`
}

// Reports serves GET /scans/{id}/reports. The enrich query parameter
// turns on reverse DNS and GeoIP annotation when those providers are
// configured.
func (h *ScanHandler) Reports(w http.ResponseWriter, r *http.Request) {
	id, err := scanIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Verify the scan exists so an unknown id is a 404, not an empty list.
	if _, err := h.store.GetScan(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	reports, err := h.store.GetReports(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	banners, err := h.store.GetBanners(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	enrich := r.URL.Query().Get("enrich") == "true"
	views := make([]*reportView, len(reports))
	enrichment := h.enrichAddrs(r.Context(), reports, enrich)
	for i, report := range reports {
		view := &reportView{
			IPReport: report,
			Protocol: db.ProtoName(report.Proto),
			Banner:   banners[report.ID],
		}
		if info, ok := enrichment[report.HostAddr.String()]; ok {
			view.Hostname = info.hostname
			view.Location = info.location
		}
		views[i] = view
	}
	writeJSON(w, http.StatusOK, views)
}

// addrInfo is per-address enrichment shared across report rows.
type addrInfo struct {
	hostname string
	location *geoip.Location
}

// enrichAddrs annotates each distinct address once. Lookup failures are
// logged and leave the row unannotated rather than failing the request.
func (h *ScanHandler) enrichAddrs(ctx context.Context, reports []*db.IPReport, enrich bool) map[string]addrInfo {
	out := make(map[string]addrInfo)
	if !enrich || (h.geo == nil && h.resolver == nil) {
		return out
	}

	for _, report := range reports {
		addr := report.HostAddr.String()
		if addr == "" {
			continue
		}
		if _, done := out[addr]; done {
			continue
		}
		info := addrInfo{}
		if h.resolver != nil {
			name, err := h.resolver.Reverse(ctx, addr)
			if err != nil {
				h.logger.Debug("reverse lookup failed", "addr", addr, "error", err)
			} else {
				info.hostname = name
			}
		}
		if h.geo != nil {
			loc, err := h.geo.Lookup(ctx, addr)
			if err != nil {
				h.logger.Debug("geoip lookup failed", "addr", addr, "error", err)
			} else {
				info.location = loc
			}
		}
		out[addr] = info
	}
	return out
}

// ARPReports serves GET /scans/{id}/arp.
func (h *ScanHandler) ARPReports(w http.ResponseWriter, r *http.Request) {
	id, err := scanIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.store.GetScan(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	reports, err := h.store.GetARPReports(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reports == nil {
		reports = []*db.ARPReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

// Export serves GET /scans/{id}/export?format=csv|json with the scan's
// report rows as a downloadable file.
func (h *ScanHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, err := scanIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := h.store.GetScan(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	reports, err := h.store.GetReports(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	banners, err := h.store.GetBanners(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filename := "scan-" + strconv.FormatInt(id, 10) + "-" +
		time.Now().UTC().Format("20060102") + "." + string(format)
	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := export.WriteReports(w, format, reports, banners); err != nil {
		h.logger.WithError(err).Error("report export failed", "scan_id", id)
	}
}
