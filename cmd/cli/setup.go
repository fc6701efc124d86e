package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alicorn-scan/alicorn/internal/config"
	"github.com/alicorn-scan/alicorn/internal/db"
)

var setupOutput string

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactively create a config file",
	Long: `Walk through the database and API settings and write a config.yaml.
The wizard verifies database connectivity before writing the file.`,
	RunE: runSetup,
}

func init() {
	setupCmd.Flags().StringVar(&setupOutput, "output", "config.yaml", "where to write the config file")
	rootCmd.AddCommand(setupCmd)
}

// prompt reads one line with a default value.
func prompt(reader *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		return def
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func runSetup(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)
	cfg := config.Default()

	fmt.Println("alicorn setup")
	fmt.Println()
	fmt.Println("Database (the PostgreSQL instance unicornscan logs to):")
	cfg.Database.Host = prompt(reader, "  host", cfg.Database.Host)
	if port, err := strconv.Atoi(prompt(reader, "  port", strconv.Itoa(cfg.Database.Port))); err == nil {
		cfg.Database.Port = port
	}
	cfg.Database.Database = prompt(reader, "  database", "unicornscan")
	cfg.Database.Username = prompt(reader, "  username", "unicornscan")
	cfg.Database.Password = prompt(reader, "  password", "")
	cfg.Database.SSLMode = prompt(reader, "  ssl mode", cfg.Database.SSLMode)

	fmt.Println()
	fmt.Println("API server:")
	cfg.API.ListenAddr = prompt(reader, "  listen address", cfg.API.ListenAddr)
	if port, err := strconv.Atoi(prompt(reader, "  port", strconv.Itoa(cfg.API.Port))); err == nil {
		cfg.API.Port = port
	}

	fmt.Println()
	cfg.Saved.Path = prompt(reader, "Saved comparisons file", cfg.Saved.Path)

	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Println()
	fmt.Print("Checking database connectivity... ")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		fmt.Println("failed")
		fmt.Printf("  %v\n", err)
		if prompt(reader, "Write the config anyway? (y/N)", "n") != "y" {
			return fmt.Errorf("setup aborted")
		}
	} else {
		fmt.Println("ok")
		_ = database.Close()
	}

	if err := cfg.Save(setupOutput); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", setupOutput)
	return nil
}
