package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/alicorn-scan/alicorn/internal/db"
	"github.com/alicorn-scan/alicorn/internal/export"
)

const commandTimeout = 30 * time.Second

var (
	scansLimit  int
	scansOffset int
	exportFmt   string
	exportOut   string
)

var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "Browse scan runs in the database",
}

var scansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scan runs, newest first",
	RunE:  runScansList,
}

var scansShowCmd = &cobra.Command{
	Use:   "show <scan-id>",
	Short: "Show one scan's report rows",
	Args:  cobra.ExactArgs(1),
	RunE:  runScansShow,
}

var scansDeleteCmd = &cobra.Command{
	Use:   "delete <scan-id>",
	Short: "Delete a scan and all of its report data",
	Args:  cobra.ExactArgs(1),
	RunE:  runScansDelete,
}

var scansExportCmd = &cobra.Command{
	Use:   "export <scan-id>",
	Short: "Export a scan's report rows as CSV or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runScansExport,
}

func init() {
	scansListCmd.Flags().IntVar(&scansLimit, "limit", 25, "maximum scans to list")
	scansListCmd.Flags().IntVar(&scansOffset, "offset", 0, "scans to skip")
	scansExportCmd.Flags().StringVar(&exportFmt, "format", "csv", "export format (csv or json)")
	scansExportCmd.Flags().StringVar(&exportOut, "output", "", "output file (default stdout)")

	scansCmd.AddCommand(scansListCmd, scansShowCmd, scansDeleteCmd, scansExportCmd)
	rootCmd.AddCommand(scansCmd)
}

// withStore connects to the database and hands a store to fn.
func withStore(fn func(ctx context.Context, store *db.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = database.Close() }()

	return fn(ctx, db.NewStore(database))
}

func parseScanID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid scan id %q", arg)
	}
	return id, nil
}

func formatEpoch(seconds int64) string {
	if seconds == 0 {
		return "-"
	}
	return time.Unix(seconds, 0).UTC().Format("2006-01-02 15:04:05")
}

func runScansList(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store *db.Store) error {
		scans, total, err := store.ListScans(ctx, scansOffset, scansLimit)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("ID", "Started", "Finished", "Target", "Ports", "Profile", "Hosts", "Packets")
		for _, scan := range scans {
			_ = table.Append([]string{
				strconv.FormatInt(scan.ID, 10),
				formatEpoch(scan.StartTime),
				formatEpoch(scan.EndTime),
				scan.Target,
				scan.PortStr,
				scan.Profile,
				strconv.FormatFloat(scan.NumHosts, 'f', 0, 64),
				strconv.FormatFloat(scan.NumPackets, 'f', 0, 64),
			})
		}
		if err := table.Render(); err != nil {
			return err
		}
		fmt.Printf("%d of %d scans\n", len(scans), total)
		return nil
	})
}

func runScansShow(cmd *cobra.Command, args []string) error {
	id, err := parseScanID(args[0])
	if err != nil {
		return err
	}

	return withStore(func(ctx context.Context, store *db.Store) error {
		scan, err := store.GetScan(ctx, id)
		if err != nil {
			return err
		}
		reports, err := store.GetReports(ctx, id)
		if err != nil {
			return err
		}
		banners, err := store.GetBanners(ctx, id)
		if err != nil {
			return err
		}

		fmt.Printf("Scan %d  started %s  target %s  ports %s\n\n",
			scan.ID, formatEpoch(scan.StartTime), scan.Target, scan.PortStr)

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Host", "Port", "Proto", "TTL", "Banner")
		for _, report := range reports {
			banner := banners[report.ID]
			if len(banner) > 60 {
				banner = banner[:57] + "..."
			}
			_ = table.Append([]string{
				report.HostAddr.String(),
				strconv.Itoa(report.Port),
				db.ProtoName(report.Proto),
				strconv.Itoa(report.TTL),
				banner,
			})
		}
		return table.Render()
	})
}

func runScansDelete(cmd *cobra.Command, args []string) error {
	id, err := parseScanID(args[0])
	if err != nil {
		return err
	}

	return withStore(func(ctx context.Context, store *db.Store) error {
		if err := store.DeleteScan(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Scan %d deleted\n", id)
		return nil
	})
}

func runScansExport(cmd *cobra.Command, args []string) error {
	id, err := parseScanID(args[0])
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(exportFmt)
	if err != nil {
		return err
	}

	return withStore(func(ctx context.Context, store *db.Store) error {
		if _, err := store.GetScan(ctx, id); err != nil {
			return err
		}
		reports, err := store.GetReports(ctx, id)
		if err != nil {
			return err
		}
		banners, err := store.GetBanners(ctx, id)
		if err != nil {
			return err
		}

		out := os.Stdout
		if exportOut != "" {
			file, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer func() { _ = file.Close() }()
			out = file
		}
		return export.WriteReports(out, format, reports, banners)
	})
}
