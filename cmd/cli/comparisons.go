package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/alicorn-scan/alicorn/internal/compare"
	"github.com/alicorn-scan/alicorn/internal/db"
	"github.com/alicorn-scan/alicorn/internal/logging"
	"github.com/alicorn-scan/alicorn/internal/saved"
)

var comparisonsCmd = &cobra.Command{
	Use:   "comparisons",
	Short: "Manage saved comparisons",
}

var comparisonsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved comparisons",
	RunE:  runComparisonsList,
}

var comparisonsRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Re-run a saved comparison",
	Args:  cobra.ExactArgs(1),
	RunE:  runComparisonsRun,
}

var comparisonsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved comparison",
	Args:  cobra.ExactArgs(1),
	RunE:  runComparisonsDelete,
}

func init() {
	comparisonsCmd.AddCommand(comparisonsListCmd, comparisonsRunCmd, comparisonsDeleteCmd)
	rootCmd.AddCommand(comparisonsCmd)
}

// savedStore opens the configured saved comparison store.
func savedStore() (*saved.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return saved.NewStore(saved.NewFileBackend(cfg.Saved.Path), logging.Default()), nil
}

func runComparisonsList(cmd *cobra.Command, args []string) error {
	store, err := savedStore()
	if err != nil {
		return err
	}
	records, err := store.List()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Scans", "Updated")
	for _, record := range records {
		ids := make([]string, len(record.ScanIDs))
		for i, id := range record.ScanIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		_ = table.Append([]string{
			record.ID,
			record.Name,
			strings.Join(ids, ","),
			record.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	return table.Render()
}

func runComparisonsRun(cmd *cobra.Command, args []string) error {
	store, err := savedStore()
	if err != nil {
		return err
	}
	record, err := store.Get(args[0])
	if err != nil {
		return err
	}

	return withStore(func(ctx context.Context, dbStore *db.Store) error {
		comparator := compare.New(dbStore, logging.Default())
		result, err := comparator.Compare(ctx, record.ScanIDs)
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("fewer than two scans of %q still exist", record.Name)
		}
		fmt.Printf("Saved comparison %q\n\n", record.Name)
		printComparison(result)
		return nil
	})
}

func runComparisonsDelete(cmd *cobra.Command, args []string) error {
	store, err := savedStore()
	if err != nil {
		return err
	}
	if err := store.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("Comparison %s deleted\n", args[0])
	return nil
}
