package compare

import (
	"context"

	"github.com/alicorn-scan/alicorn/internal/db"
)

// DataSource is the narrow collaborator contract the comparator depends
// on. db.Store satisfies it; tests supply fakes.
type DataSource interface {
	// GetScan resolves scan metadata. Missing scans are reported with a
	// not-found error code; any other error is an infrastructure failure.
	GetScan(ctx context.Context, id int64) (*db.Scan, error)

	// GetReports returns every report row for one scan.
	GetReports(ctx context.Context, id int64) ([]*db.IPReport, error)

	// GetBanners returns decoded banner text keyed by report row id.
	// An empty map means no banner data; it is never an error.
	GetBanners(ctx context.Context, id int64) (map[int64]string, error)
}

// Status records whether an entity was observed in one scan.
type Status string

// Presence status values.
const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

// Presence is one per-scan slot in an entity's timeline. Snapshot is set
// only when the status is present.
type Presence[T any] struct {
	ScanID   int64  `json:"scan_id"`
	Status   Status `json:"status"`
	Snapshot *T     `json:"snapshot,omitempty"`
}

// HostSnapshot is the per-scan attribute snapshot for a host entity.
type HostSnapshot struct {
	PortCount int `json:"port_count"`
}

// PortObservation is the per-scan attribute snapshot for a (port, protocol)
// entity: the TTL, raw flags, and banner (empty when none was captured)
// taken from the scan's report row.
type PortObservation struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	TTL      int    `json:"ttl"`
	Flags    int    `json:"flags"`
	Banner   string `json:"banner,omitempty"`
}

// PortDiff tracks one (port, protocol) pair on one host across the
// compared scans.
type PortDiff struct {
	Port             int                        `json:"port"`
	Protocol         string                     `json:"protocol"`
	Presence         []Presence[PortObservation] `json:"presence"`
	FirstSeenScanID  int64                      `json:"first_seen_scan_id"`
	LastSeenScanID   int64                      `json:"last_seen_scan_id"`
	PresentCount     int                        `json:"present_count"`
	HasChanges       bool                       `json:"has_changes"`
	HasTTLChanges    bool                       `json:"has_ttl_changes"`
	TTLValues        []int                      `json:"ttl_values"`
	HasBannerChanges bool                       `json:"has_banner_changes"`
	HasBanner        bool                       `json:"has_banner"`
}

// HostDiff tracks one host across the compared scans, with the nested
// port diffs for every (port, protocol) pair ever observed on it.
type HostDiff struct {
	Addr            string                   `json:"addr"`
	Presence        []Presence[HostSnapshot] `json:"presence"`
	FirstSeenScanID int64                    `json:"first_seen_scan_id"`
	LastSeenScanID  int64                    `json:"last_seen_scan_id"`
	PresentCount    int                      `json:"present_count"`
	HasChanges      bool                     `json:"has_changes"`
	Ports           []*PortDiff              `json:"ports"`
}

// Summary holds the aggregate counts computed in a single pass over the
// completed host and port diffs.
type Summary struct {
	ScanCount              int `json:"scan_count"`
	TotalHosts             int `json:"total_hosts"`
	HostsInAllScans        int `json:"hosts_in_all_scans"`
	HostsInSomeScans       int `json:"hosts_in_some_scans"`
	HostsInOneScan         int `json:"hosts_in_one_scan"`
	TotalPorts             int `json:"total_ports"`
	PortsInAllScans        int `json:"ports_in_all_scans"`
	PortsInSomeScans       int `json:"ports_in_some_scans"`
	PortsInOneScan         int `json:"ports_in_one_scan"`
	PortsWithTTLChanges    int `json:"ports_with_ttl_changes"`
	PortsWithBannerChanges int `json:"ports_with_banner_changes"`
	PortsWithBanner        int `json:"ports_with_banner"`
}

// Result is the immutable output of one comparison: the chronologically
// sorted scans, host diffs in numeric IP order, and the summary.
type Result struct {
	Scans   []*db.Scan  `json:"scans"`
	Hosts   []*HostDiff `json:"hosts"`
	Summary Summary     `json:"summary"`
}
