package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lattice-editor/exthost/internal/download"
	exthttp "github.com/lattice-editor/exthost/internal/http"
	"github.com/lattice-editor/exthost/internal/infrastructure/config"
	"github.com/lattice-editor/exthost/internal/infrastructure/logging"
	"github.com/lattice-editor/exthost/internal/infrastructure/monitoring"
	"github.com/lattice-editor/exthost/internal/supervisor"
	"github.com/lattice-editor/exthost/internal/ws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server wires the supervisor to its HTTP and WebSocket surfaces.
type Server struct {
	cfg     *config.Config
	log     *logging.Logger
	metrics *monitoring.Metrics
	sup     *supervisor.Supervisor
	httpSrv *http.Server
}

// New builds the full daemon: supervisor, download client, router, and
// observability endpoints.
func New(cfg *config.Config, log *logging.Logger) *Server {
	metrics := monitoring.NewMetrics()

	sup := supervisor.New(supervisor.Options{
		ExtensionsDir: cfg.Extensions.Dir,
		BuiltinDir:    cfg.Extensions.BuiltinDir,
		RuntimeBinary: cfg.Runtime.Binary,
		NewTransport: func() supervisor.Transport {
			return supervisor.NewProcessTransport(cfg.Runtime.Binary, log)
		},
		StartupTimeout:    cfg.Runtime.StartupTimeout,
		ShutdownGrace:     cfg.Runtime.ShutdownGrace,
		ActivationTimeout: cfg.Runtime.ActivationTimeout,
		Logger:            log,
		Metrics:           metrics,
		Downloader:        download.NewClient(log),
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestMetrics(metrics))
	router.Use(cors.Default())

	handlers := exthttp.NewHandlers(sup, log)
	wsHandler := ws.NewHandler(sup, log, metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Runtime process lifecycle
	router.GET("/host", handlers.HostState)
	router.POST("/host/start", handlers.StartHost)
	router.POST("/host/stop", handlers.StopHost)

	// Registry and extension lifecycle
	router.GET("/extensions", handlers.ListExtensions)
	router.GET("/extensions/active", handlers.ListActiveExtensions)
	router.POST("/extensions/scan", handlers.ScanExtensions)
	router.GET("/extensions/:id", handlers.GetExtension)
	router.POST("/extensions/:id/load", handlers.LoadExtension)
	router.POST("/extensions/:id/activate", handlers.ActivateExtension)
	router.POST("/extensions/:id/deactivate", handlers.DeactivateExtension)
	router.POST("/extensions/install", handlers.InstallExtension)
	router.DELETE("/extensions/:id", handlers.UninstallExtension)

	// Contributions and commands
	router.GET("/contributions", handlers.GetContributions)
	router.GET("/commands", handlers.ListCommands)
	router.POST("/commands/execute", handlers.ExecuteCommand)

	// Downloads
	router.POST("/download", handlers.Download)

	// Event feed
	router.GET("/stream", wsHandler.HandleConnection)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	return &Server{
		cfg:     cfg,
		log:     log.Named("server"),
		metrics: metrics,
		sup:     sup,
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Supervisor exposes the wired supervisor, mainly for the daemon's
// startup sequence.
func (s *Server) Supervisor() *supervisor.Supervisor {
	return s.sup
}

// Run scans the registry, starts the runtime process, and serves the
// control API until the listener fails or Shutdown is called. A runtime
// that fails to start is logged, not fatal; it can be started later
// through the API.
func (s *Server) Run(ctx context.Context) error {
	if _, err := s.sup.Scan(); err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}

	if err := s.sup.Start(ctx); err != nil {
		s.log.Warn("runtime did not start, control API up anyway", zap.Error(err))
	}

	s.log.Info("control API listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP listener, then the supervisor and its runtime
// process.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", zap.Error(err))
	}
	return s.sup.Stop()
}

// requestMetrics records per-route counters and latency.
func requestMetrics(metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}
