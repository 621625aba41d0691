package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"ratecal/internal/config"
	apierrors "ratecal/internal/errors"
	"ratecal/internal/evolve"
	"ratecal/internal/exporter"
	"ratecal/internal/infrastructure"
	"ratecal/internal/ingest"
	customMiddleware "ratecal/internal/middleware"
	"ratecal/internal/services"
	handlers "ratecal/internal/transport/http"
	ws "ratecal/internal/websocket"
	"ratecal/pkg/contracts"
)

const (
	AppName = "ratecal"

	systemMetricsInterval = 15 * time.Second
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Router        *chi.Mux
	Server        *http.Server
	WebSocketHub  *ws.Hub
	Runs          *services.MemoryRunStore
	Calibration   *services.CalibrationService
	HealthService *services.HealthService
	SystemMetrics *infrastructure.SystemMetricsCollector
	Metrics       *infrastructure.BusinessMetrics
	OTelProviders *infrastructure.OTelProviders
	ErrorHandler  *apierrors.ErrorHandler
	Logger        *slog.Logger

	stopOnce sync.Once
	stopErr  error
}

// Option customizes New.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	baseDir string
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBaseDir anchors relative paths somewhere other than the working
// directory.
func WithBaseDir(dir string) Option {
	return func(o *options) { o.baseDir = dir }
}

// New wires every component from cfg. The hub is running when New returns;
// the HTTP server starts with Run.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version))

	paths, err := config.ResolvePaths(cfg.Paths, o.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	logger.Info("Application paths",
		slog.String("base_dir", paths.BaseDir),
		slog.String("reports_dir", paths.ReportsDir),
		slog.String("logs_dir", paths.LogsDir))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Paths:         paths,
		OTelProviders: otelProviders,
		ErrorHandler:  apierrors.NewErrorHandler(logger, false),
		Logger:        logger,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.setupRouter()
	app.createServer()
	return app, nil
}

// initializeServices initializes all application services
func (a *Application) initializeServices() error {
	metrics, err := infrastructure.CreateBusinessMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create business metrics: %w", err)
	}
	a.Metrics = metrics

	system, err := infrastructure.NewSystemMetricsCollector(a.OTelProviders.Meter, systemMetricsInterval)
	if err != nil {
		return fmt.Errorf("failed to create system metrics collector: %w", err)
	}
	a.SystemMetrics = system

	hub := ws.NewHub(infrastructure.WithComponent(a.Logger, "websocket_hub"), ws.WithHubMetrics(metrics))
	hub.Start()
	a.WebSocketHub = hub

	a.Runs = services.NewMemoryRunStore(a.Config.Server.MaxRuns)
	a.Calibration = services.NewCalibrationService(
		a.Runs,
		evolve.New(infrastructure.WithComponent(a.Logger, "optimizer")),
		a.Logger,
		services.WithBroadcaster(hub),
		services.WithMetrics(metrics),
		services.WithReports(a.Paths, exporter.NewReportExporter(a.Paths, exporter.DefaultPrecision, a.Logger)),
		services.WithRunLimits(a.Config.Server.RunTimeout, a.Config.Server.MaxActiveRuns),
	)

	a.HealthService = services.NewHealthService(contracts.Version, a.Paths, a.Runs, hub, system, a.Logger)
	return nil
}

// setupRouter builds the chi router. The websocket route only gets the
// middleware that leaves the ResponseWriter hijackable.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.With(customMiddleware.WebSocketTraceMiddleware(a.Logger)).
		Handle(handlers.EventsPath, handlers.NewWebSocketHandler(a.WebSocketHub, a.Config.WebSocket, a.Logger))

	r.Group(func(r chi.Router) {
		otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics, a.Logger)
		if err != nil {
			a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(apierrors.RecoveryMiddleware(a.ErrorHandler))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins: a.Config.WebSocket.AllowedOrigins,
			Logger:         a.Logger,
		}))
		if rl := a.Config.Server.RateLimit; rl.Enabled {
			r.Use(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger, a.Metrics).Handler)
		}
		r.Use(customMiddleware.Compress(5))

		a.setupAPIRoutes(r)
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	a.Router = r
}

func (a *Application) setupAPIRoutes(r chi.Router) {
	validator := customMiddleware.NewValidator(a.Logger, a.Config.Server.MaxUploadBytes)
	calibration := handlers.NewCalibrationHandler(a.Calibration, a.Config.Calibration, validator, a.ErrorHandler, a.Logger,
		handlers.WithSheets(ingest.SheetsOptions{
			CredentialsFile: a.Config.Sheets.CredentialsFile,
			APIKey:          a.Config.Sheets.APIKey,
		}),
		handlers.WithHandlerMetrics(a.Metrics),
	)
	r.Mount(handlers.CalibrationsPath, calibration.Routes())
	r.Mount("/api/v1/schema", handlers.NewSchemaHandler(a.ErrorHandler).Routes())
	r.Mount("/api/v1/stats", handlers.NewMetricsHandler(a.Calibration, a.WebSocketHub, a.SystemMetrics).Routes())

	health := handlers.NewHealthHandler(a.HealthService, a.Logger)
	r.Get("/healthz", health.HealthCheck)
	r.Get("/readyz", health.ReadinessCheck)
	r.Get("/livez", health.LivenessCheck)
	r.Get("/version", health.Version)
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run serves HTTP until ctx is cancelled, SIGINT or SIGTERM arrives, or the
// server fails, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "HTTP server listening",
			slog.String("address", a.Server.Addr),
			slog.Bool("rate_limit", a.Config.Server.RateLimit.Enabled))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.SystemMetrics.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("Shutdown requested")
		return a.Stop(context.Background())
	})

	return g.Wait()
}

// Stop gracefully stops the application. Later calls return the first
// result.
func (a *Application) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.stopErr = a.stop(ctx)
	})
	return a.stopErr
}

func (a *Application) stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.Calibration.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("calibration shutdown: %w", err))
	}
	a.WebSocketHub.Stop()
	a.SystemMetrics.Stop()

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}
