package compare

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alicorn-scan/alicorn/internal/db"
	"github.com/alicorn-scan/alicorn/internal/errors"
)

// fakeSource is an in-memory DataSource for comparator tests. It counts
// GetScan calls per id so tests can assert single-fetch behavior.
type fakeSource struct {
	mu        sync.Mutex
	scans     map[int64]*db.Scan
	reports   map[int64][]*db.IPReport
	banners   map[int64]map[int64]string
	scanCalls map[int64]int
	failWith  map[int64]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		scans:     make(map[int64]*db.Scan),
		reports:   make(map[int64][]*db.IPReport),
		banners:   make(map[int64]map[int64]string),
		scanCalls: make(map[int64]int),
		failWith:  make(map[int64]error),
	}
}

func (f *fakeSource) addScan(id, startTime int64) {
	f.scans[id] = &db.Scan{ID: id, StartTime: startTime, EndTime: startTime + 60}
}

func (f *fakeSource) addReport(scanID int64, addr string, port, proto, ttl int) *db.IPReport {
	report := &db.IPReport{
		ID:       int64(len(f.reports[scanID])*1000) + scanID,
		ScanID:   scanID,
		Port:     port,
		Proto:    proto,
		TTL:      ttl,
		HostAddr: db.IPAddr{IP: net.ParseIP(addr)},
	}
	f.reports[scanID] = append(f.reports[scanID], report)
	return report
}

func (f *fakeSource) addBanner(scanID, reportID int64, data string) {
	if f.banners[scanID] == nil {
		f.banners[scanID] = make(map[int64]string)
	}
	f.banners[scanID][reportID] = data
}

func (f *fakeSource) GetScan(_ context.Context, id int64) (*db.Scan, error) {
	f.mu.Lock()
	f.scanCalls[id]++
	f.mu.Unlock()
	if err, ok := f.failWith[id]; ok {
		return nil, err
	}
	scan, ok := f.scans[id]
	if !ok {
		return nil, errors.ErrNotFoundWithID("scan", fmt.Sprintf("%d", id))
	}
	return scan, nil
}

func (f *fakeSource) GetReports(_ context.Context, id int64) ([]*db.IPReport, error) {
	return f.reports[id], nil
}

func (f *fakeSource) GetBanners(_ context.Context, id int64) (map[int64]string, error) {
	if f.banners[id] == nil {
		return map[int64]string{}, nil
	}
	return f.banners[id], nil
}

func hostByAddr(t *testing.T, result *Result, addr string) *HostDiff {
	t.Helper()
	for _, host := range result.Hosts {
		if host.Addr == addr {
			return host
		}
	}
	t.Fatalf("host %s not in result", addr)
	return nil
}

func portDiff(t *testing.T, host *HostDiff, port int, proto string) *PortDiff {
	t.Helper()
	for _, p := range host.Ports {
		if p.Port == port && p.Protocol == proto {
			return p
		}
	}
	t.Fatalf("port %d/%s not on host %s", port, proto, host.Addr)
	return nil
}

func TestCompareSortsScansByStartTime(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 3000)
	source.addScan(2, 1000)
	source.addScan(3, 2000)

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	require.NotNil(t, result)

	ids := make([]int64, len(result.Scans))
	for i, scan := range result.Scans {
		ids[i] = scan.ID
	}
	assert.Equal(t, []int64{2, 3, 1}, ids)
	assert.Equal(t, 3, result.Summary.ScanCount)
}

func TestCompareTooFewResolvableScans(t *testing.T) {
	tests := []struct {
		name    string
		scanIDs []int64
	}{
		{name: "empty input", scanIDs: []int64{}},
		{name: "single id", scanIDs: []int64{1}},
		{name: "one resolvable one unknown", scanIDs: []int64{1, 99}},
		{name: "all unknown", scanIDs: []int64{98, 99}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newFakeSource()
			source.addScan(1, 1000)

			comparator := New(source, nil)
			result, err := comparator.Compare(context.Background(), tt.scanIDs)
			assert.NoError(t, err)
			assert.Nil(t, result)
		})
	}
}

func TestCompareDropsUnknownIDs(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 99, 2})
	require.NoError(t, err)
	require.NotNil(t, result)

	require.Len(t, result.Scans, 2)
	assert.Equal(t, int64(1), result.Scans[0].ID)
	assert.Equal(t, int64(2), result.Scans[1].ID)
}

func TestComparePropagatesFetchErrors(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	dbErr := errors.NewDatabaseError(errors.CodeDatabaseQuery, "connection reset")
	source.failWith[2] = dbErr

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2})
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Equal(t, errors.CodeDatabaseQuery, errors.GetCode(err))
}

func TestCompareDuplicateIDsKeepSlots(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	source.addReport(1, "10.0.0.1", 22, db.ProtoTCP, 64)

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2, 1})
	require.NoError(t, err)
	require.NotNil(t, result)

	// Three slots, one per occurrence, but each id fetched once.
	require.Len(t, result.Scans, 3)
	assert.Equal(t, 3, result.Summary.ScanCount)
	assert.Equal(t, 1, source.scanCalls[1])
	assert.Equal(t, 1, source.scanCalls[2])

	host := hostByAddr(t, result, "10.0.0.1")
	require.Len(t, host.Presence, 3)
	assert.Equal(t, 2, host.PresentCount)
}

func TestCompareHostTimeline(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	source.addScan(3, 3000)
	// Present in scans 1 and 3, gone in scan 2.
	source.addReport(1, "10.0.0.1", 22, db.ProtoTCP, 64)
	source.addReport(3, "10.0.0.1", 22, db.ProtoTCP, 64)
	// Only ever in scan 2.
	source.addReport(2, "10.0.0.2", 80, db.ProtoTCP, 64)

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Hosts, 2)

	flapping := hostByAddr(t, result, "10.0.0.1")
	require.Len(t, flapping.Presence, 3)
	assert.Equal(t, StatusPresent, flapping.Presence[0].Status)
	assert.Equal(t, StatusAbsent, flapping.Presence[1].Status)
	assert.Equal(t, StatusPresent, flapping.Presence[2].Status)
	assert.Equal(t, int64(1), flapping.FirstSeenScanID)
	assert.Equal(t, int64(3), flapping.LastSeenScanID)
	assert.Equal(t, 2, flapping.PresentCount)
	assert.True(t, flapping.HasChanges)

	once := hostByAddr(t, result, "10.0.0.2")
	assert.Equal(t, 1, once.PresentCount)
	assert.Equal(t, int64(2), once.FirstSeenScanID)
	assert.Equal(t, int64(2), once.LastSeenScanID)
	assert.True(t, once.HasChanges)
}

func TestCompareStableHostNoChanges(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	source.addReport(1, "10.0.0.1", 22, db.ProtoTCP, 64)
	source.addReport(2, "10.0.0.1", 22, db.ProtoTCP, 64)

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2})
	require.NoError(t, err)

	host := hostByAddr(t, result, "10.0.0.1")
	assert.False(t, host.HasChanges)
	assert.Equal(t, 2, host.PresentCount)

	port := portDiff(t, host, 22, "tcp")
	assert.False(t, port.HasChanges)
	assert.False(t, port.HasTTLChanges)
	assert.False(t, port.HasBannerChanges)
}

func TestCompareTTLChanges(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	source.addScan(3, 3000)
	source.addReport(1, "10.0.0.1", 443, db.ProtoTCP, 64)
	source.addReport(2, "10.0.0.1", 443, db.ProtoTCP, 128)
	source.addReport(3, "10.0.0.1", 443, db.ProtoTCP, 64)

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)

	port := portDiff(t, hostByAddr(t, result, "10.0.0.1"), 443, "tcp")
	assert.Equal(t, []int{64, 128, 64}, port.TTLValues)
	assert.True(t, port.HasTTLChanges)
	assert.Equal(t, 1, result.Summary.PortsWithTTLChanges)
}

func TestCompareBannerChanges(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	r1 := source.addReport(1, "10.0.0.1", 22, db.ProtoTCP, 64)
	source.addReport(2, "10.0.0.1", 22, db.ProtoTCP, 64)
	source.addBanner(1, r1.ID, "SSH-2.0-OpenSSH_9.6")

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2})
	require.NoError(t, err)

	// Banner present in one scan and missing in the next is a change.
	port := portDiff(t, hostByAddr(t, result, "10.0.0.1"), 22, "tcp")
	assert.True(t, port.HasBanner)
	assert.True(t, port.HasBannerChanges)
	assert.Equal(t, "SSH-2.0-OpenSSH_9.6", port.Presence[0].Snapshot.Banner)
	assert.Equal(t, "", port.Presence[1].Snapshot.Banner)
	assert.Equal(t, 1, result.Summary.PortsWithBanner)
	assert.Equal(t, 1, result.Summary.PortsWithBannerChanges)
}

func TestCompareSameBannerNoChange(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	r1 := source.addReport(1, "10.0.0.1", 80, db.ProtoTCP, 64)
	r2 := source.addReport(2, "10.0.0.1", 80, db.ProtoTCP, 64)
	source.addBanner(1, r1.ID, "nginx/1.24.0")
	source.addBanner(2, r2.ID, "nginx/1.24.0")

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2})
	require.NoError(t, err)

	port := portDiff(t, hostByAddr(t, result, "10.0.0.1"), 80, "tcp")
	assert.True(t, port.HasBanner)
	assert.False(t, port.HasBannerChanges)
}

func TestCompareProtocolSeparatesPorts(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	source.addReport(1, "10.0.0.1", 53, db.ProtoTCP, 64)
	source.addReport(2, "10.0.0.1", 53, db.ProtoUDP, 64)

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2})
	require.NoError(t, err)

	host := hostByAddr(t, result, "10.0.0.1")
	require.Len(t, host.Ports, 2)
	// Same port number sorts by protocol name.
	assert.Equal(t, "tcp", host.Ports[0].Protocol)
	assert.Equal(t, "udp", host.Ports[1].Protocol)

	tcp := portDiff(t, host, 53, "tcp")
	udp := portDiff(t, host, 53, "udp")
	assert.Equal(t, 1, tcp.PresentCount)
	assert.Equal(t, 1, udp.PresentCount)
	assert.True(t, tcp.HasChanges)
	assert.True(t, udp.HasChanges)
}

func TestCompareHostsSortedNumerically(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	for _, addr := range []string{"10.0.0.100", "10.0.0.2", "10.0.0.20"} {
		source.addReport(1, addr, 22, db.ProtoTCP, 64)
		source.addReport(2, addr, 22, db.ProtoTCP, 64)
	}

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2})
	require.NoError(t, err)

	addrs := make([]string, len(result.Hosts))
	for i, host := range result.Hosts {
		addrs[i] = host.Addr
	}
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.20", "10.0.0.100"}, addrs)
}

func TestComparePortsSortedWithinHost(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	source.addReport(1, "10.0.0.1", 443, db.ProtoTCP, 64)
	source.addReport(1, "10.0.0.1", 22, db.ProtoTCP, 64)
	source.addReport(2, "10.0.0.1", 80, db.ProtoTCP, 64)

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2})
	require.NoError(t, err)

	host := hostByAddr(t, result, "10.0.0.1")
	ports := make([]int, len(host.Ports))
	for i, p := range host.Ports {
		ports[i] = p.Port
	}
	assert.Equal(t, []int{22, 80, 443}, ports)
}

func TestCompareSummaryPartitions(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	source.addScan(3, 3000)
	// In all three scans.
	source.addReport(1, "10.0.0.1", 22, db.ProtoTCP, 64)
	source.addReport(2, "10.0.0.1", 22, db.ProtoTCP, 64)
	source.addReport(3, "10.0.0.1", 22, db.ProtoTCP, 64)
	// In two of three.
	source.addReport(1, "10.0.0.2", 80, db.ProtoTCP, 64)
	source.addReport(2, "10.0.0.2", 80, db.ProtoTCP, 64)
	// In exactly one.
	source.addReport(3, "10.0.0.3", 443, db.ProtoTCP, 64)

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)

	summary := result.Summary
	assert.Equal(t, 3, summary.TotalHosts)
	assert.Equal(t, 1, summary.HostsInAllScans)
	assert.Equal(t, 1, summary.HostsInSomeScans)
	assert.Equal(t, 1, summary.HostsInOneScan)
	assert.Equal(t, summary.TotalHosts,
		summary.HostsInAllScans+summary.HostsInSomeScans+summary.HostsInOneScan)

	assert.Equal(t, 3, summary.TotalPorts)
	assert.Equal(t, 1, summary.PortsInAllScans)
	assert.Equal(t, 1, summary.PortsInSomeScans)
	assert.Equal(t, 1, summary.PortsInOneScan)
}

func TestCompareHostPortCounts(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	source.addReport(1, "10.0.0.1", 22, db.ProtoTCP, 64)
	source.addReport(1, "10.0.0.1", 80, db.ProtoTCP, 64)
	source.addReport(2, "10.0.0.1", 22, db.ProtoTCP, 64)

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2})
	require.NoError(t, err)

	host := hostByAddr(t, result, "10.0.0.1")
	require.NotNil(t, host.Presence[0].Snapshot)
	require.NotNil(t, host.Presence[1].Snapshot)
	assert.Equal(t, 2, host.Presence[0].Snapshot.PortCount)
	assert.Equal(t, 1, host.Presence[1].Snapshot.PortCount)
}

func TestCompareDuplicateReportRowsCollapse(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	// The scanner can log the same response twice within one run. The
	// pair still yields one port entity with one slot observation.
	source.addReport(1, "10.0.0.1", 22, db.ProtoTCP, 64)
	dup := source.addReport(1, "10.0.0.1", 22, db.ProtoTCP, 64)
	source.addBanner(1, dup.ID, "SSH-2.0-OpenSSH_9.6")
	source.addReport(2, "10.0.0.1", 22, db.ProtoTCP, 64)

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2})
	require.NoError(t, err)

	host := hostByAddr(t, result, "10.0.0.1")
	require.Len(t, host.Ports, 1)
	assert.Equal(t, 1, host.Presence[0].Snapshot.PortCount)
	// The banner attached to the duplicate row is still picked up.
	assert.Equal(t, "SSH-2.0-OpenSSH_9.6", host.Ports[0].Presence[0].Snapshot.Banner)
}

func TestCompareUnknownProtocolName(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)
	source.addReport(1, "10.0.0.1", 0, 47, 64)
	source.addReport(2, "10.0.0.1", 0, 47, 64)

	comparator := New(source, nil)
	result, err := comparator.Compare(context.Background(), []int64{1, 2})
	require.NoError(t, err)

	host := hostByAddr(t, result, "10.0.0.1")
	require.Len(t, host.Ports, 1)
	assert.Equal(t, fmt.Sprintf("proto-%d", 47), host.Ports[0].Protocol)
}

func TestCompareContextCancellation(t *testing.T) {
	source := newFakeSource()
	source.addScan(1, 1000)
	source.addScan(2, 2000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	comparator := New(source, nil)
	// The fake never checks the context, so a pre-canceled context still
	// produces a result. This pins down that cancellation handling lives
	// in the data source, not the comparator.
	result, err := comparator.Compare(ctx, []int64{1, 2})
	assert.NoError(t, err)
	assert.NotNil(t, result)
}
