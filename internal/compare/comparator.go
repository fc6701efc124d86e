// Package compare implements the multi-scan diff engine. It resolves a
// list of scan ids against the database, lines every host and port up on
// a chronological timeline, and classifies what appeared, disappeared, or
// changed between the scans.
package compare

import (
	"bytes"
	"context"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alicorn-scan/alicorn/internal/db"
	"github.com/alicorn-scan/alicorn/internal/errors"
	"github.com/alicorn-scan/alicorn/internal/logging"
)

// maxConcurrentFetches bounds how many scans are loaded from the
// database at once.
const maxConcurrentFetches = 8

// Comparator builds multi-scan diffs from a DataSource.
type Comparator struct {
	source DataSource
	logger *logging.Logger
}

// New creates a comparator over the given data source.
func New(source DataSource, logger *logging.Logger) *Comparator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Comparator{
		source: source,
		logger: logger.WithComponent("compare"),
	}
}

// scanData bundles everything fetched for one scan id.
type scanData struct {
	scan    *db.Scan
	reports []*db.IPReport
	banners map[int64]string
}

// portKey identifies a (port, protocol) pair on a host.
type portKey struct {
	port  int
	proto string
}

// slotView is one scan's reports regrouped for timeline assembly: which
// hosts responded, and the first observation per (host, port, protocol).
type slotView struct {
	scanID int64
	hosts  map[string]map[portKey]*PortObservation
}

// Compare resolves the given scan ids and produces the diff result.
//
// Ids that do not resolve to a stored scan are dropped without error;
// any other fetch failure aborts the comparison and is returned
// unchanged. When fewer than two ids resolve there is nothing to
// compare and both return values are nil. Duplicate ids are kept: each
// occurrence contributes its own timeline slot, backed by a single
// fetch per distinct id.
func (c *Comparator) Compare(ctx context.Context, scanIDs []int64) (*Result, error) {
	started := time.Now()

	fetched, err := c.fetchAll(ctx, scanIDs)
	if err != nil {
		return nil, err
	}

	// Rebuild the request order, keeping duplicates and skipping ids
	// that did not resolve.
	resolved := make([]*scanData, 0, len(scanIDs))
	for _, id := range scanIDs {
		if data, ok := fetched[id]; ok {
			resolved = append(resolved, data)
		}
	}
	if len(resolved) < 2 {
		c.logger.Warn("not enough scans resolved for comparison",
			"requested", len(scanIDs), "resolved", len(resolved))
		return nil, nil
	}

	// Chronological order by start time. The stable sort keeps the
	// request order for scans that share a start time.
	sort.SliceStable(resolved, func(i, j int) bool {
		return resolved[i].scan.StartTime < resolved[j].scan.StartTime
	})

	slots := make([]*slotView, len(resolved))
	scans := make([]*db.Scan, len(resolved))
	for i, data := range resolved {
		slots[i] = buildSlotView(data)
		scans[i] = data.scan
	}

	hosts := buildHostDiffs(slots)
	result := &Result{
		Scans:   scans,
		Hosts:   hosts,
		Summary: summarize(len(slots), hosts),
	}

	c.logger.InfoCompare("comparison complete", scanIDs,
		"hosts", result.Summary.TotalHosts,
		"ports", result.Summary.TotalPorts,
		"duration", time.Since(started))
	return result, nil
}

// fetchAll loads scan metadata, reports, and banners for every distinct
// id in parallel. Missing scans are simply left out of the result map.
func (c *Comparator) fetchAll(ctx context.Context, scanIDs []int64) (map[int64]*scanData, error) {
	distinct := make([]int64, 0, len(scanIDs))
	seen := make(map[int64]bool, len(scanIDs))
	for _, id := range scanIDs {
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}

	fetched := make(map[int64]*scanData, len(distinct))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, id := range distinct {
		id := id
		g.Go(func() error {
			scan, err := c.source.GetScan(gctx, id)
			if err != nil {
				if errors.IsNotFound(err) {
					c.logger.Debug("skipping unknown scan id", "scan_id", id)
					return nil
				}
				return err
			}
			reports, err := c.source.GetReports(gctx, id)
			if err != nil {
				return err
			}
			banners, err := c.source.GetBanners(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			fetched[id] = &scanData{scan: scan, reports: reports, banners: banners}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fetched, nil
}

// buildSlotView regroups one scan's report rows by host and (port,
// protocol). When a scan carries multiple rows for the same pair, the
// first row provides the observation and the first non-empty banner of
// any row wins.
func buildSlotView(data *scanData) *slotView {
	view := &slotView{
		scanID: data.scan.ID,
		hosts:  make(map[string]map[portKey]*PortObservation),
	}
	for _, report := range data.reports {
		addr := report.HostAddr.String()
		ports := view.hosts[addr]
		if ports == nil {
			ports = make(map[portKey]*PortObservation)
			view.hosts[addr] = ports
		}
		key := portKey{port: report.Port, proto: db.ProtoName(report.Proto)}
		banner := data.banners[report.ID]
		if obs, ok := ports[key]; ok {
			if obs.Banner == "" && banner != "" {
				obs.Banner = banner
			}
			continue
		}
		ports[key] = &PortObservation{
			Port:     report.Port,
			Protocol: key.proto,
			TTL:      report.TTL,
			Flags:    report.Flags,
			Banner:   banner,
		}
	}
	return view
}

// buildHostDiffs assembles the full timeline for every host observed in
// any slot, with nested port timelines, sorted for stable output.
func buildHostDiffs(slots []*slotView) []*HostDiff {
	addrs := make(map[string]bool)
	for _, slot := range slots {
		for addr := range slot.hosts {
			addrs[addr] = true
		}
	}

	hosts := make([]*HostDiff, 0, len(addrs))
	for addr := range addrs {
		hosts = append(hosts, buildHostDiff(addr, slots))
	}
	sort.Slice(hosts, func(i, j int) bool {
		return addrLess(hosts[i].Addr, hosts[j].Addr)
	})
	return hosts
}

func buildHostDiff(addr string, slots []*slotView) *HostDiff {
	diff := &HostDiff{
		Addr:     addr,
		Presence: make([]Presence[HostSnapshot], 0, len(slots)),
	}

	keys := make(map[portKey]bool)
	for _, slot := range slots {
		ports, present := slot.hosts[addr]
		if present {
			diff.Presence = append(diff.Presence, Presence[HostSnapshot]{
				ScanID:   slot.scanID,
				Status:   StatusPresent,
				Snapshot: &HostSnapshot{PortCount: len(ports)},
			})
			for key := range ports {
				keys[key] = true
			}
		} else {
			diff.Presence = append(diff.Presence, Presence[HostSnapshot]{
				ScanID: slot.scanID,
				Status: StatusAbsent,
			})
		}
	}
	diff.FirstSeenScanID, diff.LastSeenScanID, diff.PresentCount, diff.HasChanges =
		classifyPresence(diff.Presence)

	diff.Ports = make([]*PortDiff, 0, len(keys))
	for key := range keys {
		diff.Ports = append(diff.Ports, buildPortDiff(addr, key, slots))
	}
	sort.Slice(diff.Ports, func(i, j int) bool {
		if diff.Ports[i].Port != diff.Ports[j].Port {
			return diff.Ports[i].Port < diff.Ports[j].Port
		}
		return diff.Ports[i].Protocol < diff.Ports[j].Protocol
	})
	return diff
}

func buildPortDiff(addr string, key portKey, slots []*slotView) *PortDiff {
	diff := &PortDiff{
		Port:     key.port,
		Protocol: key.proto,
		Presence: make([]Presence[PortObservation], 0, len(slots)),
	}

	ttls := make([]int, 0, len(slots))
	banners := make([]string, 0, len(slots))
	for _, slot := range slots {
		obs := slot.hosts[addr][key]
		if obs != nil {
			diff.Presence = append(diff.Presence, Presence[PortObservation]{
				ScanID:   slot.scanID,
				Status:   StatusPresent,
				Snapshot: obs,
			})
			ttls = append(ttls, obs.TTL)
			banners = append(banners, obs.Banner)
		} else {
			diff.Presence = append(diff.Presence, Presence[PortObservation]{
				ScanID: slot.scanID,
				Status: StatusAbsent,
			})
		}
	}
	diff.FirstSeenScanID, diff.LastSeenScanID, diff.PresentCount, diff.HasChanges =
		classifyPresence(diff.Presence)

	diff.TTLValues = ttls
	diff.HasTTLChanges = distinctInts(ttls) > 1

	for _, banner := range banners {
		if banner != "" {
			diff.HasBanner = true
		}
		if banner != banners[0] {
			diff.HasBannerChanges = true
		}
	}
	return diff
}

// classifyPresence derives the first/last seen scan ids, present count,
// and the change flag from one entity timeline. An entity has changes
// unless it is uniformly present or uniformly absent across every slot.
func classifyPresence[T any](presence []Presence[T]) (first, last int64, count int, changed bool) {
	for _, slot := range presence {
		if slot.Status != StatusPresent {
			continue
		}
		if count == 0 {
			first = slot.ScanID
		}
		last = slot.ScanID
		count++
	}
	changed = count != 0 && count != len(presence)
	return first, last, count, changed
}

// summarize computes the aggregate counts in one pass over the host
// diffs. The per-scan-count buckets partition the entities: present in
// every slot, present in exactly one, or somewhere in between.
func summarize(scanCount int, hosts []*HostDiff) Summary {
	summary := Summary{ScanCount: scanCount}
	for _, host := range hosts {
		summary.TotalHosts++
		switch {
		case host.PresentCount == scanCount:
			summary.HostsInAllScans++
		case host.PresentCount == 1:
			summary.HostsInOneScan++
		default:
			summary.HostsInSomeScans++
		}
		for _, port := range host.Ports {
			summary.TotalPorts++
			switch {
			case port.PresentCount == scanCount:
				summary.PortsInAllScans++
			case port.PresentCount == 1:
				summary.PortsInOneScan++
			default:
				summary.PortsInSomeScans++
			}
			if port.HasTTLChanges {
				summary.PortsWithTTLChanges++
			}
			if port.HasBannerChanges {
				summary.PortsWithBannerChanges++
			}
			if port.HasBanner {
				summary.PortsWithBanner++
			}
		}
	}
	return summary
}

func distinctInts(values []int) int {
	seen := make(map[int]bool, len(values))
	for _, v := range values {
		seen[v] = true
	}
	return len(seen)
}

// addrLess orders host addresses numerically. IPv4 sorts before IPv6,
// and anything unparseable sorts last, lexically.
func addrLess(a, b string) bool {
	ipA := net.ParseIP(a)
	ipB := net.ParseIP(b)
	if ipA == nil || ipB == nil {
		if (ipA == nil) != (ipB == nil) {
			return ipB == nil
		}
		return strings.Compare(a, b) < 0
	}
	v4A, v4B := ipA.To4(), ipB.To4()
	if (v4A != nil) != (v4B != nil) {
		return v4A != nil
	}
	if v4A != nil {
		return bytes.Compare(v4A, v4B) < 0
	}
	return bytes.Compare(ipA.To16(), ipB.To16()) < 0
}
