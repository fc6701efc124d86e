// Package export renders scan reports and comparison results as CSV or
// JSON for download from the dashboard and the command line.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/alicorn-scan/alicorn/internal/compare"
	"github.com/alicorn-scan/alicorn/internal/db"
	"github.com/alicorn-scan/alicorn/internal/errors"
)

// Format identifies an export encoding.
type Format string

// Supported export formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a format string, defaulting to JSON when empty.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", errors.ErrValidation(fmt.Sprintf("unsupported export format %q", s))
	}
}

// reportHeader is the fixed column order for report exports.
var reportHeader = []string{
	"host", "port", "protocol", "ttl", "sport", "flags", "window_size", "tstamp", "banner",
}

// WriteReportsCSV writes one scan's report rows as CSV, one row per
// report, in the order they were fetched.
func WriteReportsCSV(w io.Writer, reports []*db.IPReport, banners map[int64]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return err
	}
	for _, report := range reports {
		row := []string{
			report.HostAddr.String(),
			strconv.Itoa(report.Port),
			db.ProtoName(report.Proto),
			strconv.Itoa(report.TTL),
			strconv.Itoa(report.SrcPort),
			strconv.Itoa(report.Flags),
			strconv.Itoa(report.WindowSize),
			strconv.FormatInt(report.Timestamp, 10),
			banners[report.ID],
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// reportExport is the JSON shape for one exported report row.
type reportExport struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Protocol   string `json:"protocol"`
	TTL        int    `json:"ttl"`
	SrcPort    int    `json:"sport"`
	Flags      int    `json:"flags"`
	WindowSize int    `json:"window_size"`
	Timestamp  int64  `json:"tstamp"`
	Banner     string `json:"banner,omitempty"`
}

// WriteReportsJSON writes one scan's report rows as a JSON array.
func WriteReportsJSON(w io.Writer, reports []*db.IPReport, banners map[int64]string) error {
	rows := make([]reportExport, len(reports))
	for i, report := range reports {
		rows[i] = reportExport{
			Host:       report.HostAddr.String(),
			Port:       report.Port,
			Protocol:   db.ProtoName(report.Proto),
			TTL:        report.TTL,
			SrcPort:    report.SrcPort,
			Flags:      report.Flags,
			WindowSize: report.WindowSize,
			Timestamp:  report.Timestamp,
			Banner:     banners[report.ID],
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// WriteComparisonCSV flattens a comparison result into one CSV row per
// (host, port) pair. The per-scan presence columns follow the result's
// chronological scan order.
func WriteComparisonCSV(w io.Writer, result *compare.Result) error {
	cw := csv.NewWriter(w)

	header := []string{"host", "port", "protocol"}
	for _, scan := range result.Scans {
		header = append(header, "scan_"+strconv.FormatInt(scan.ID, 10))
	}
	header = append(header,
		"present_count", "first_seen", "last_seen",
		"changed", "ttl_changed", "banner_changed")
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, host := range result.Hosts {
		for _, port := range host.Ports {
			row := []string{
				host.Addr,
				strconv.Itoa(port.Port),
				port.Protocol,
			}
			for _, slot := range port.Presence {
				row = append(row, string(slot.Status))
			}
			row = append(row,
				strconv.Itoa(port.PresentCount),
				strconv.FormatInt(port.FirstSeenScanID, 10),
				strconv.FormatInt(port.LastSeenScanID, 10),
				strconv.FormatBool(port.HasChanges),
				strconv.FormatBool(port.HasTTLChanges),
				strconv.FormatBool(port.HasBannerChanges))
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteComparisonJSON writes the full comparison result as indented JSON.
func WriteComparisonJSON(w io.Writer, result *compare.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// WriteReports dispatches a report export to the requested format.
func WriteReports(w io.Writer, format Format, reports []*db.IPReport, banners map[int64]string) error {
	switch format {
	case FormatCSV:
		return WriteReportsCSV(w, reports, banners)
	default:
		return WriteReportsJSON(w, reports, banners)
	}
}

// WriteComparison dispatches a comparison export to the requested format.
func WriteComparison(w io.Writer, format Format, result *compare.Result) error {
	switch format {
	case FormatCSV:
		return WriteComparisonCSV(w, result)
	default:
		return WriteComparisonJSON(w, result)
	}
}

// ContentType returns the MIME type for a format.
func ContentType(format Format) string {
	if format == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}
