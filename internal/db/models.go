package db

import (
	"database/sql/driver"
	"fmt"
	"net"
)

// IPAddr wraps net.IP to implement PostgreSQL INET type.
type IPAddr struct {
	net.IP
}

// Scan implements sql.Scanner for PostgreSQL INET type.
func (ip *IPAddr) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case string:
		parsed := net.ParseIP(v)
		if parsed == nil {
			return fmt.Errorf("failed to parse IP address: %s", v)
		}
		ip.IP = parsed
		return nil
	case []byte:
		parsed := net.ParseIP(string(v))
		if parsed == nil {
			return fmt.Errorf("failed to parse IP address: %s", string(v))
		}
		ip.IP = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into IPAddr", value)
	}
}

// Value implements driver.Valuer for PostgreSQL INET type.
func (ip IPAddr) Value() (driver.Value, error) {
	if ip.IP == nil {
		return nil, nil
	}
	return ip.IP.String(), nil
}

// String returns the IP address string.
func (ip IPAddr) String() string {
	if ip.IP == nil {
		return ""
	}
	return ip.IP.String()
}

// MarshalJSON renders the address as a plain string.
func (ip IPAddr) MarshalJSON() ([]byte, error) {
	return []byte(`"` + ip.String() + `"`), nil
}

// Scan represents one completed scan run recorded in uni_scans. Timestamps
// are seconds since epoch, as written by the scanner.
type Scan struct {
	ID           int64   `db:"scans_id" json:"id"`
	StartTime    int64   `db:"s_time" json:"start_time"`
	EndTime      int64   `db:"e_time" json:"end_time"`
	EstEndTime   int64   `db:"est_e_time" json:"est_end_time"`
	Senders      int     `db:"senders" json:"senders"`
	Listeners    int     `db:"listeners" json:"listeners"`
	Profile      string  `db:"profile" json:"profile"`
	PayloadGroup int     `db:"payload_group" json:"payload_group"`
	User         string  `db:"username" json:"user"`
	TickRate     int     `db:"tickrate" json:"tickrate"`
	NumHosts     float64 `db:"num_hosts" json:"num_hosts"`
	NumPackets   float64 `db:"num_packets" json:"num_packets"`
	// Target is derived from the scan's first send workunit; empty when the
	// workunit rows were pruned.
	Target  string `db:"target" json:"target"`
	PortStr string `db:"port_str" json:"port_str"`
}

// IPReport represents one response row from uni_ipreport: a single
// (host, port, protocol) observation within a scan.
type IPReport struct {
	ID         int64  `db:"ipreport_id" json:"id"`
	ScanID     int64  `db:"scans_id" json:"scan_id"`
	SrcPort    int    `db:"sport" json:"sport"`
	Port       int    `db:"dport" json:"port"`
	Proto      int    `db:"proto" json:"proto"`
	Type       int    `db:"type" json:"type"`
	Subtype    int    `db:"subtype" json:"subtype"`
	HostAddr   IPAddr `db:"host_addr" json:"host_addr"`
	TraceAddr  IPAddr `db:"trace_addr" json:"trace_addr"`
	TTL        int    `db:"ttl" json:"ttl"`
	Timestamp  int64  `db:"tstamp" json:"tstamp"`
	Flags      int    `db:"flags" json:"flags"`
	WindowSize int    `db:"window_size" json:"window_size"`
}

// ARPReport represents one row from uni_arpreport.
type ARPReport struct {
	ID        int64  `db:"arpreport_id" json:"id"`
	ScanID    int64  `db:"scans_id" json:"scan_id"`
	HostAddr  IPAddr `db:"host_addr" json:"host_addr"`
	HWAddr    string `db:"hwaddr" json:"hwaddr"`
	Timestamp int64  `db:"tstamp" json:"tstamp"`
}

// BannerRow is one decoded banner from uni_ipreportdata, keyed by the
// report row it belongs to.
type BannerRow struct {
	ReportID int64  `db:"ipreport_id" json:"report_id"`
	Data     string `db:"data" json:"data"`
}

// ActivityBucket is one day's worth of scan activity for the heatmap view.
type ActivityBucket struct {
	Day     int64 `db:"day" json:"day"`
	Scans   int   `db:"scans" json:"scans"`
	Reports int   `db:"reports" json:"reports"`
}

// Report data type discriminator in uni_ipreportdata. The scanner writes
// decoded payload banners with type 1.
const reportDataBanner = 1

// Transport protocol numbers as they appear in uni_ipreport.proto.
const (
	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

// ProtoName renders a transport protocol number the way the dashboard
// displays it.
func ProtoName(proto int) string {
	switch proto {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMP:
		return "icmp"
	default:
		return fmt.Sprintf("proto-%d", proto)
	}
}
