// Package api provides the HTTP REST surface of the alicorn dashboard
// backend: scan browsing, multi-scan comparison, saved comparisons,
// activity, exports, and operational endpoints.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/alicorn-scan/alicorn/internal/api/handlers"
	apimw "github.com/alicorn-scan/alicorn/internal/api/middleware"
	"github.com/alicorn-scan/alicorn/internal/compare"
	"github.com/alicorn-scan/alicorn/internal/config"
	"github.com/alicorn-scan/alicorn/internal/db"
	"github.com/alicorn-scan/alicorn/internal/geoip"
	"github.com/alicorn-scan/alicorn/internal/logging"
	"github.com/alicorn-scan/alicorn/internal/metrics"
	"github.com/alicorn-scan/alicorn/internal/resolve"
	"github.com/alicorn-scan/alicorn/internal/saved"
)

// Server timeouts.
const (
	serverShutdownTimeout = 30 * time.Second
	serverReadTimeout     = 10 * time.Second
	serverWriteTimeout    = 60 * time.Second
	serverIdleTimeout     = 60 * time.Second
	serverMaxHeaderBytes  = 1 << 20
)

// Server is the alicorn API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	database   *db.DB
	metrics    *metrics.Metrics
	logger     *logging.Logger
	version    string
}

// Options carries optional server collaborators. Nil fields disable the
// matching feature.
type Options struct {
	Version  string
	GeoIP    geoip.Provider
	Resolver *resolve.Resolver
}

// New assembles the server: database store, comparison engine, saved
// comparison store, handlers, routes, and middleware.
func New(cfg *config.Config, database *db.DB, opts Options) *Server {
	logger := logging.Default().WithComponent("api")
	m := metrics.New()

	server := &Server{
		router:   mux.NewRouter(),
		config:   cfg,
		database: database,
		metrics:  m,
		logger:   logger,
		version:  opts.Version,
	}

	store := db.NewStore(database).WithMetrics(m)
	comparator := compare.New(store, logging.Default())

	savedPath := cfg.Saved.Path
	var backend saved.Backend
	if savedPath != "" {
		backend = saved.NewFileBackend(savedPath)
	} else {
		backend = saved.NewMemoryBackend()
	}
	savedStore := saved.NewStore(backend, logging.Default())

	var resolver handlers.Resolver
	if opts.Resolver != nil {
		resolver = opts.Resolver
	}

	server.setupRoutes(
		handlers.NewScanHandler(store, opts.GeoIP, resolver, logging.Default()),
		handlers.NewCompareHandler(comparator, m, logging.Default()),
		handlers.NewSavedHandler(savedStore, logging.Default()),
		handlers.NewActivityHandler(store, logging.Default()),
		handlers.NewHealthHandler(database, opts.Version, logging.Default()),
	)
	server.setupMiddleware()

	server.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.API.ListenAddr, strconv.Itoa(cfg.API.Port)),
		Handler:        server.router,
		ReadTimeout:    serverReadTimeout,
		WriteTimeout:   serverWriteTimeout,
		IdleTimeout:    serverIdleTimeout,
		MaxHeaderBytes: serverMaxHeaderBytes,
	}

	return server
}

// Start runs the server until the context is canceled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting API server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.logger.Info("stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

// Router returns the configured router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// setupRoutes wires every endpoint under /api/v1.
func (s *Server) setupRoutes(
	scans *handlers.ScanHandler,
	comparisons *handlers.CompareHandler,
	savedHandler *handlers.SavedHandler,
	activity *handlers.ActivityHandler,
	health *handlers.HealthHandler,
) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Operational endpoints.
	api.HandleFunc("/liveness", health.Liveness).Methods(http.MethodGet)
	api.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	api.HandleFunc("/version", health.Version).Methods(http.MethodGet)
	api.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	// Scans.
	api.HandleFunc("/scans", scans.List).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id:[0-9]+}", scans.Get).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id:[0-9]+}", scans.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/scans/{id:[0-9]+}/reports", scans.Reports).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id:[0-9]+}/arp", scans.ARPReports).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id:[0-9]+}/export", scans.Export).Methods(http.MethodGet)

	// Comparison engine.
	api.HandleFunc("/compare", comparisons.Compare).Methods(http.MethodPost)
	api.HandleFunc("/compare/export", comparisons.Export).Methods(http.MethodPost)

	// Saved comparisons.
	api.HandleFunc("/comparisons", savedHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/comparisons", savedHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/comparisons/{id}", savedHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/comparisons/{id}", savedHandler.Update).Methods(http.MethodPut)
	api.HandleFunc("/comparisons/{id}", savedHandler.Delete).Methods(http.MethodDelete)

	// Activity heatmap.
	api.HandleFunc("/activity", activity.Get).Methods(http.MethodGet)

	// Root index for API clients poking around.
	s.router.HandleFunc("/", s.indexHandler).Methods(http.MethodGet)
}

// setupMiddleware installs the middleware chain.
func (s *Server) setupMiddleware() {
	s.router.Use(apimw.RequestID)
	s.router.Use(apimw.Recovery(s.logger))
	s.router.Use(apimw.Logging(s.logger, s.metrics))

	if s.config.API.CORS.Enabled {
		origins := gorillahandlers.AllowedOrigins(s.config.API.CORS.AllowedOrigins)
		headers := gorillahandlers.AllowedHeaders([]string{"Content-Type", apimw.RequestIDHeader})
		methods := gorillahandlers.AllowedMethods([]string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
		})
		s.router.Use(gorillahandlers.CORS(origins, headers, methods))
	}
}

// indexHandler lists the entry points.
func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	writeIndex(w, s.version)
}

func writeIndex(w http.ResponseWriter, version string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"service":"alicorn","version":%q,"endpoints":{`+
		`"scans":"/api/v1/scans","compare":"/api/v1/compare",`+
		`"comparisons":"/api/v1/comparisons","activity":"/api/v1/activity",`+
		`"health":"/api/v1/health"}}`+"\n", version)
}
