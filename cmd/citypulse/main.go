// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command citypulse starts the CityPulse dashboard backend.
//
// The server exposes the lighting, blackout, and cyber simulation APIs,
// broadcasts state changes over a websocket, and persists incidents to a
// local Badger store. Configuration comes from a YAML file plus a small
// set of environment variables for containerized deployments.
//
// # Environment Variables
//
//   - CITYPULSE_CONFIG: path to the YAML config file (optional)
//   - CITYPULSE_PORT: HTTP server port (default: 8080)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama, disabled (default: disabled)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL for decision history (optional)
//   - CITYPULSE_DATA_DIR: incident store directory; empty keeps incidents in memory
//   - CITYPULSE_LOG_DIR: per-day JSON log file directory (optional)
//
// # Usage
//
//	# Build
//	go build -o citypulse ./cmd/citypulse
//
//	# Run
//	./citypulse serve
//
//	# Or with an explicit config
//	./citypulse serve --config deploy/citypulse.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	weaviateclient "github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/CityPulse/config"
	"github.com/AleutianAI/CityPulse/pkg/logging"
	"github.com/AleutianAI/CityPulse/services/blackout"
	"github.com/AleutianAI/CityPulse/services/cyber"
	"github.com/AleutianAI/CityPulse/services/dashboard"
	"github.com/AleutianAI/CityPulse/services/lighting"
	"github.com/AleutianAI/CityPulse/services/llm"
)

var (
	flagConfig  string
	flagPort    int
	flagLogJSON bool

	rootCmd = &cobra.Command{
		Use:   "citypulse",
		Short: "Smart city dashboard backend",
		Long: `CityPulse runs the smart city dashboard backend: street lighting
control, blackout response, and cyber defense simulations driven by
staged decision pipelines, with live state pushed to the dashboard
over a websocket.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard HTTP server",
		RunE:  runServe,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	serveCmd.Flags().StringVar(&flagConfig, "config", "", "path to YAML config (overrides CITYPULSE_CONFIG)")
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "HTTP port (overrides config)")
	serveCmd.Flags().BoolVar(&flagLogJSON, "log-json", false, "emit JSON logs on stderr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Service: "citypulse",
		LogDir:  os.Getenv("CITYPULSE_LOG_DIR"),
		JSON:    flagLogJSON,
	})
	defer logger.Close()
	slogger := logger.Slog()

	configPath := flagConfig
	if configPath == "" {
		configPath = os.Getenv("CITYPULSE_CONFIG")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Environment and flags win over the file.
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	} else if port := getEnvInt("CITYPULSE_PORT", 0); port != 0 {
		cfg.Server.Port = port
	}
	cfg.LLM.Backend = getEnvString("LLM_BACKEND_TYPE", cfg.LLM.Backend)
	cfg.Weaviate.URL = getEnvString("WEAVIATE_SERVICE_URL", cfg.Weaviate.URL)
	cfg.Storage.BadgerPath = getEnvString("CITYPULSE_DATA_DIR", cfg.Storage.BadgerPath)

	slogger.Info("starting citypulse",
		"port", cfg.Server.Port,
		"llm_backend", cfg.LLM.Backend,
		"weaviate_url", cfg.Weaviate.URL,
		"badger_path", cfg.Storage.BadgerPath,
	)

	client, err := llm.NewFromBackend(cfg.LLM.Backend)
	if err != nil {
		return fmt.Errorf("llm backend: %w", err)
	}

	incidents, err := dashboard.OpenBadgerIncidentStore(cfg.Storage.BadgerPath, slogger)
	if err != nil {
		return fmt.Errorf("incident store: %w", err)
	}
	defer incidents.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	history := buildHistory(ctx, cfg.Weaviate.URL, slogger)

	powerZones := dashboard.NewMemoryStore(cfg.PowerZones...)
	cyberZones := dashboard.NewMemoryStore(cfg.CyberZones...)
	lightZones := dashboard.NewMemoryStore(cfg.LightZones...)

	hub := dashboard.NewHub(slogger)
	defer hub.Close()

	locks := &dashboard.KeyedMutex{}
	recovery := dashboard.NewRecoveryScheduler(incidents, powerZones, hub, locks, slogger, cfg.RecoveryConfig())
	defer recovery.Shutdown()

	seed := cfg.Pipelines.Seed
	judgeTimeout := cfg.JudgeTimeout()
	fatalStages := cfg.Pipelines.FatalStages

	deps := &dashboard.Deps{
		Logger:     slogger,
		Hub:        hub,
		PowerZones: powerZones,
		CyberZones: cyberZones,
		LightZones: lightZones,
		Incidents:  incidents,
		Locks:      locks,
		Recovery:   recovery,
		Events:     dashboard.NewEventLog(),
		Lighting: lighting.NewPipeline(lighting.Config{
			Seed:         seed,
			JudgeTimeout: judgeTimeout,
			FatalStages:  fatalStages,
		}, client, history, slogger),
		Blackout: blackout.NewPipeline(blackout.Config{
			Seed:         seed,
			JudgeTimeout: judgeTimeout,
			FatalStages:  fatalStages,
		}, client, slogger),
		Cyber: cyber.NewPipeline(cyber.Config{
			Seed:         seed,
			JudgeTimeout: judgeTimeout,
			FatalStages:  fatalStages,
		}, client, slogger),
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(next *config.Config) {
			// Zone additions apply live; server settings need a restart.
			seedNewZones(ctx, next, deps)
		}, slogger)
		if err != nil {
			slogger.Warn("config watcher unavailable", "error", err)
		} else {
			defer watcher.Close()
			watcher.Start(ctx)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	dashboard.SetupRoutes(router, deps)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slogger.Info("citypulse listening", "addr", server.Addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.Error("server shutdown", "error", err)
	}
	return nil
}

// buildHistory connects to Weaviate when a URL is configured and falls
// back to the in-memory matcher when the connection or schema setup fails.
func buildHistory(ctx context.Context, url string, logger *slog.Logger) lighting.DecisionHistory {
	if url == "" {
		logger.Info("no weaviate configured, decision history kept in memory")
		return dashboard.NewMemoryHistory()
	}

	scheme, host := parseWeaviateURL(url)
	client, err := weaviateclient.NewClient(weaviateclient.Config{Scheme: scheme, Host: host})
	if err != nil {
		logger.Warn("weaviate client failed, decision history kept in memory", "error", err)
		return dashboard.NewMemoryHistory()
	}

	history := dashboard.NewWeaviateHistory(client, logger)
	schemaCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := history.EnsureSchema(schemaCtx); err != nil {
		logger.Warn("weaviate schema setup failed, decision history kept in memory", "error", err)
		return dashboard.NewMemoryHistory()
	}
	logger.Info("decision history backed by weaviate", "host", host)
	return history
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// seedNewZones adds zones that appear in a reloaded config but not yet in
// the live stores. Existing zones keep their runtime state.
func seedNewZones(ctx context.Context, next *config.Config, d *dashboard.Deps) {
	for _, zone := range next.PowerZones {
		if _, err := d.PowerZones.Get(ctx, zone.ID); errors.Is(err, dashboard.ErrNotFound) {
			d.PowerZones.Upsert(ctx, zone)
		}
	}
	for _, zone := range next.CyberZones {
		if _, err := d.CyberZones.Get(ctx, zone.ID); errors.Is(err, dashboard.ErrNotFound) {
			d.CyberZones.Upsert(ctx, zone)
		}
	}
	for _, zone := range next.LightZones {
		if _, err := d.LightZones.Get(ctx, zone.ID); errors.Is(err, dashboard.ErrNotFound) {
			d.LightZones.Upsert(ctx, zone)
		}
	}
}

func parseWeaviateURL(url string) (scheme, host string) {
	scheme = "http"
	host = url
	if strings.HasPrefix(url, "https://") {
		scheme = "https"
		host = strings.TrimPrefix(url, "https://")
	} else if strings.HasPrefix(url, "http://") {
		host = strings.TrimPrefix(url, "http://")
	}
	return scheme, host
}
