package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"modelmux/internal/cache"
	"modelmux/internal/config"
	adminHandler "modelmux/internal/handler/http/admin"
	"modelmux/internal/handler/http/middleware"
	"modelmux/internal/handler/http/requestid"
	routeHandler "modelmux/internal/handler/http/route"
	"modelmux/internal/health"
	infraProvider "modelmux/internal/infra/provider"
	"modelmux/internal/observability/logging"
	"modelmux/internal/ratebudget"
	"modelmux/internal/resilience/circuitbreaker"
	"modelmux/internal/routing"
	"modelmux/internal/scheduler"
)

const defaultAdminPort = 8081

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	cfg := loadConfig(logger)

	registry, err := infraProvider.BuildRegistry(cfg)
	if err != nil {
		logger.Error("failed to build provider registry", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("provider registry built", slog.Any("providers", registry.IDs()))

	// Shared state: one instance per process, passed by reference to the
	// routing engine, the scheduler, and the admin API.
	limits := make(map[string]ratebudget.Limits, len(cfg.Providers))
	for _, p := range cfg.Providers {
		limits[p.ID] = ratebudget.Limits{
			PerMinute: p.RateLimits.PerMinute,
			PerHour:   p.RateLimits.PerHour,
			PerDay:    p.RateLimits.PerDay,
		}
	}
	budget := ratebudget.NewTracker(limits)
	healthTracker := health.NewTracker()
	breakers := circuitbreaker.NewSet(func(id string) circuitbreaker.Config {
		b := cfg.BreakerFor(id)
		return circuitbreaker.Config{
			Name:             id,
			FailureThreshold: b.FailureThreshold,
			ResetTimeout:     b.ResetTimeout.Std(),
		}
	})
	responseCache := cache.New()

	router := routing.NewService(cfg, registry, healthTracker, budget, breakers, responseCache, logger)

	sched := scheduler.New(scheduler.Options{
		Tick:            cfg.Scheduler.Tick.Std(),
		FreshnessWindow: cfg.Scheduler.FreshnessWindow.Std(),
		Logger:          logger,
	})
	registerJobs(logger, sched, cfg, scheduler.MaintenanceDeps{
		Cache:           responseCache,
		CacheMaxEntries: cfg.Cache.MaxEntries,
		Budget:          budget,
		Health:          healthTracker,
		Registry:        registry,
		Router:          router,
		Logger:          logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startMetricsServer(ctx, logger)
	go sched.Run(ctx)

	adminSrv := startAdminServer(logger, adminHandler.Deps{
		Registry: registry,
		Health:   healthTracker,
		Budget:   budget,
		Breakers: breakers,
		Jobs:     sched,
	}, router)

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", slog.Any("error", err))
	}
	logger.Info("shutdown complete")
}

// loadConfig resolves CONFIG_PATH and loads the configuration file.
func loadConfig(logger *slog.Logger) *config.Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load configuration",
			slog.String("path", path),
			slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded",
		slog.String("path", path),
		slog.Int("providers", len(cfg.Providers)),
		slog.Int("categories", len(cfg.Categories)))
	return cfg
}

// registerJobs registers the default maintenance jobs, applying config-file
// overrides for schedule, timeout, and enabled flag.
func registerJobs(logger *slog.Logger, sched *scheduler.Scheduler, cfg *config.Config, deps scheduler.MaintenanceDeps) {
	overrides := make(map[string]config.JobOverride, len(cfg.Jobs))
	for _, o := range cfg.Jobs {
		overrides[o.ID] = o
	}

	for _, job := range scheduler.DefaultJobs(deps) {
		if o, ok := overrides[job.ID]; ok {
			if o.Schedule != "" {
				job.Schedule = o.Schedule
			}
			if o.Timeout.Std() > 0 {
				job.Timeout = o.Timeout.Std()
			}
			if o.Enabled != nil {
				job.Enabled = *o.Enabled
			}
		}
		if err := sched.Register(job); err != nil {
			logger.Error("failed to register job", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("job registered",
			slog.String("job", job.ID),
			slog.String("schedule", job.Schedule),
			slog.Bool("enabled", job.Enabled))
	}
}

// startAdminServer starts the admin and route HTTP server.
func startAdminServer(logger *slog.Logger, deps adminHandler.Deps, router *routing.Service) *http.Server {
	mux := http.NewServeMux()
	adminHandler.Register(mux, deps)
	routeHandler.Register(mux, router)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	handler := middleware.Chain(mux,
		requestid.Middleware,
		middleware.Recover(logger),
		middleware.Logging(logger),
		middleware.LimitRequestBody(1<<20),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", adminPort()),
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("admin server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server error", slog.Any("error", err))
		}
	}()

	return server
}

// adminPort retrieves the admin server port from the environment.
// Defaults to 8081 if not set or invalid.
func adminPort() int {
	portStr := os.Getenv("ADMIN_PORT")
	if portStr == "" {
		return defaultAdminPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return defaultAdminPort
	}
	return port
}
