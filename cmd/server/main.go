// Package main is the entry point for the GitLab bridge server binary. It
// dispatches two subcommands — serve and version — via a simple switch on
// os.Args so the binary's full CLI surface is readable in one place without
// requiring a cobra dependency.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gitlab-bridge/gitlab-bridge/internal/api"
	"github.com/gitlab-bridge/gitlab-bridge/internal/config"
	"github.com/gitlab-bridge/gitlab-bridge/internal/safego"
	"github.com/gitlab-bridge/gitlab-bridge/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		// Configuration problems must surface here, before any listener opens.
		configPath := os.Getenv("CONFIG_PATH")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return serve(cfg)
	case "version":
		fmt.Printf("GitLab Bridge v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise structured logger as early as possible so all subsequent log
	// output uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Prometheus metrics are served on a dedicated port so the scrape path
	// stays off the public ingress and outside the gate's rate limiting.
	if cfg.Telemetry.Enabled && cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		safego.Named("metrics-server", func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	router, bgServices, err := api.NewRouter(cfg)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	safego.Named("http-server", func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"upstream", cfg.GitLab.BaseURL,
			"rate_limiting", cfg.Gate.RateLimiting.Enabled,
			"webhook_gate", cfg.Gate.Webhook.Enabled,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Drain in-flight requests before stopping the limiter sweepers and the
	// audit pipeline, so every admitted request still gets audited.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}
