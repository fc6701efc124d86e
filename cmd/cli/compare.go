package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/alicorn-scan/alicorn/internal/compare"
	"github.com/alicorn-scan/alicorn/internal/db"
	"github.com/alicorn-scan/alicorn/internal/export"
	"github.com/alicorn-scan/alicorn/internal/logging"
	"github.com/alicorn-scan/alicorn/internal/saved"
)

var (
	compareJSON     bool
	compareChanged  bool
	compareSaveName string
)

var compareCmd = &cobra.Command{
	Use:   "compare <scan-id> <scan-id> [scan-id...]",
	Short: "Diff two or more scans against each other",
	Long: `Compare the hosts, ports, TTLs, and banners observed across two or more
scan runs. Scans are lined up chronologically; the diff shows what
appeared, disappeared, or changed between them.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().BoolVar(&compareJSON, "json", false, "print the full result as JSON")
	compareCmd.Flags().BoolVar(&compareChanged, "changed-only", false, "only list entities with changes")
	compareCmd.Flags().StringVar(&compareSaveName, "save", "", "save this comparison under the given name")
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	scanIDs := make([]int64, len(args))
	for i, arg := range args {
		id, err := parseScanID(arg)
		if err != nil {
			return err
		}
		scanIDs[i] = id
	}

	return withStore(func(ctx context.Context, store *db.Store) error {
		comparator := compare.New(store, logging.Default())
		result, err := comparator.Compare(ctx, scanIDs)
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("fewer than two of the requested scans exist")
		}

		if compareSaveName != "" {
			if err := saveComparison(compareSaveName, scanIDs, result); err != nil {
				return err
			}
		}

		if compareJSON {
			return export.WriteComparisonJSON(os.Stdout, result)
		}
		printComparison(result)
		return nil
	})
}

// saveComparison records the scan id set in the configured saved store,
// annotated with the earliest scan's target and profile.
func saveComparison(name string, scanIDs []int64, result *compare.Result) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := saved.NewStore(saved.NewFileBackend(cfg.Saved.Path), logging.Default())
	record, err := store.Save(scanIDs, saved.Fields{
		Name:   name,
		Target: result.Scans[0].Target,
		Mode:   result.Scans[0].Profile,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Saved comparison %q (%s)\n\n", record.Name, record.ID)
	return nil
}

func printComparison(result *compare.Result) {
	fmt.Printf("Comparing %d scans:\n", result.Summary.ScanCount)
	for _, scan := range result.Scans {
		fmt.Printf("  scan %d  %s  %s\n", scan.ID, formatEpoch(scan.StartTime), scan.Target)
	}
	fmt.Println()

	table := tablewriter.NewWriter(os.Stdout)
	header := []string{"Host", "Port", "Proto"}
	for _, scan := range result.Scans {
		header = append(header, strconv.FormatInt(scan.ID, 10))
	}
	header = append(header, "Changes")
	table.Header(toAnySlice(header)...)

	for _, host := range result.Hosts {
		for _, port := range host.Ports {
			if compareChanged && !port.HasChanges && !port.HasTTLChanges && !port.HasBannerChanges {
				continue
			}
			row := []string{host.Addr, strconv.Itoa(port.Port), port.Protocol}
			for _, slot := range port.Presence {
				if slot.Status == compare.StatusPresent {
					row = append(row, "open")
				} else {
					row = append(row, "-")
				}
			}
			row = append(row, changeFlags(port))
			_ = table.Append(row)
		}
	}
	_ = table.Render()

	summary := result.Summary
	fmt.Printf("\n%d hosts (%d stable, %d partial, %d single)  "+
		"%d ports (%d ttl changes, %d banner changes)\n",
		summary.TotalHosts, summary.HostsInAllScans,
		summary.HostsInSomeScans, summary.HostsInOneScan,
		summary.TotalPorts, summary.PortsWithTTLChanges, summary.PortsWithBannerChanges)
}

// changeFlags renders a compact change marker column.
func changeFlags(port *compare.PortDiff) string {
	flags := ""
	if port.HasChanges {
		flags += "presence "
	}
	if port.HasTTLChanges {
		flags += "ttl "
	}
	if port.HasBannerChanges {
		flags += "banner"
	}
	if flags == "" {
		return "-"
	}
	return flags
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
