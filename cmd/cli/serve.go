package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alicorn-scan/alicorn/internal/api"
	"github.com/alicorn-scan/alicorn/internal/db"
	"github.com/alicorn-scan/alicorn/internal/geoip"
	"github.com/alicorn-scan/alicorn/internal/logging"
	"github.com/alicorn-scan/alicorn/internal/resolve"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API server",
	Long: `Start the HTTP API server backing the dashboard. The server reads the
unicornscan database configured in the config file and serves scan
browsing, comparison, and export endpoints until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logging.Error("failed to close database", "error", err)
		}
	}()

	opts := api.Options{Version: version}

	if cfg.GeoIP.Enabled {
		provider, err := geoip.NewCachedProvider(
			geoip.NewHTTPProvider(cfg.GeoIP.Endpoint, cfg.GeoIP.Token, cfg.GeoIP.Timeout), nil)
		if err != nil {
			return fmt.Errorf("failed to initialize geoip cache: %w", err)
		}
		defer provider.Close()
		opts.GeoIP = provider
	}

	if cfg.Resolve.Enabled {
		resolver, err := resolve.New(cfg.Resolve.Server, cfg.Resolve.Timeout, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize resolver: %w", err)
		}
		defer resolver.Close()
		opts.Resolver = resolver
	}

	server := api.New(cfg, database, opts)
	logging.Info("alicorn serving", "address", server.Address(), "version", version)
	return server.Start(ctx)
}
