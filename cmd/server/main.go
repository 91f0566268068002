// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/webstream/internal/api/connect"
	"github.com/osa030/webstream/internal/app/enrich"
	"github.com/osa030/webstream/internal/app/filter"
	"github.com/osa030/webstream/internal/app/focus"
	"github.com/osa030/webstream/internal/app/notification"
	"github.com/osa030/webstream/internal/app/playback"
	"github.com/osa030/webstream/internal/infra/config"
	"github.com/osa030/webstream/internal/infra/logger"
	"github.com/osa030/webstream/internal/infra/player"
	"github.com/osa030/webstream/internal/infra/store"
)

var (
	app        = kingpin.New("webstream-server", "webstream internet radio daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	jsonLogs   = app.Flag("json-logs", "Write JSON log lines to stdout").Bool()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available track-log filters and exit")

	// check-config command
	checkConfigCmd = app.Command("check-config", "Validate the config file and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the daemon (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Handle list-filters command
	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
		JSON:   *jsonLogs,
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == checkConfigCmd.FullCommand() {
		if err := checkConfig(cfg); err != nil {
			zlog.Fatal().Msgf("Invalid config: %v", err)
		}
		zlog.Info().Msg("Config OK")
		return
	}

	// Run server (defer ensures shutdown hook is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	// Storage
	st, err := store.Open(cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			zlog.Error().Err(err).Msg("Failed to close store")
		}
	}()

	// Track-log filters and title enrichment
	filters, err := filter.NewChainFromConfig(cfg)
	if err != nil {
		return errors.Wrap(err, "invalid filter config")
	}
	enricher, err := enrich.NewProviderChainFromConfig(cfg)
	if err != nil {
		return errors.Wrap(err, "invalid enrichment config")
	}

	// Audio engine
	engine, err := player.New(cfg.Player)
	if err != nil {
		return errors.Wrap(err, "failed to create player")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := playback.NewMetrics(registry)
	if err != nil {
		return errors.Wrap(err, "failed to register metrics")
	}

	broker := focus.NewBroker()
	notices := notification.NewManager()
	defer notices.Close()

	deps := playback.Deps{
		Engine:    engine,
		Playlists: st,
		TrackLog:  st,
		FocusHost: broker.Client("player"),
		Notifier:  notices,
		Filter:    filters,
		Metrics:   metrics,
	}
	// A nil *ProviderChain must not become a non-nil interface.
	if enricher != nil {
		deps.Enricher = enricher
	}
	orchestrator, err := playback.New(playback.ConfigFrom(cfg), deps)
	if err != nil {
		return errors.Wrap(err, "failed to create orchestrator")
	}

	// RPC service
	controlService := apiconnect.NewControlService(orchestrator, st, notices, broker)
	controlHandler := apiconnect.NewHandler(
		controlService,
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Admin.Token)),
	)

	// Create HTTP mux
	mux := http.NewServeMux()
	mux.Handle("/"+apiconnect.ServiceName+"/", controlHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	if cfg.Admin.Token == "" {
		zlog.Warn().Msg("admin.token is empty, the control API is unauthenticated")
	}

	// Create server with h2c (HTTP/2 cleartext) support
	serverAddr := cfg.Server.Addr
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	// Start server
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", serverAddr)
		// Signal that we're about to start listening
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Wait for server to start listening
	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	// Start playback
	if err := orchestrator.Start(ctx); err != nil {
		zlog.Error().Msgf("Failed to start playback: %v", err)
	}

	// Execute startup hook if configured (after server is running)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal, orchestrator exit, or server error.
	// SIGUSR1 simulates a transient focus loss from the host.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	var runErr error
wait:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGUSR1 {
				zlog.Info().Msg("Received SIGUSR1, revoking audio focus")
				broker.Notify(focus.LossTransient)
				continue
			}
			zlog.Info().Msg("Received shutdown signal...")
			break wait
		case <-orchestrator.Done():
			zlog.Info().Msg("Playback stopped, shutting down...")
			break wait
		case err := <-serverErrCh:
			runErr = errors.Wrap(err, "server error")
			break wait
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop playback first so pending writes are flushed and streams end
	if err := orchestrator.Stop(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to stop playback: %v", err)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// printFilters prints available filters.
func printFilters() {
	registry := filter.GetRegistered()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available Filters:")
	for _, name := range names {
		f := registry[name]()
		fmt.Printf("  %-20s - %s\n", f.Name(), f.Description())
	}
}

// checkConfig builds every config-driven component without starting anything.
func checkConfig(cfg *config.Config) error {
	if _, err := filter.NewChainFromConfig(cfg); err != nil {
		return errors.Wrap(err, "filters")
	}
	if _, err := enrich.NewProviderChainFromConfig(cfg); err != nil {
		return errors.Wrap(err, "enrichment")
	}
	if _, err := player.New(cfg.Player); err != nil {
		return errors.Wrap(err, "player")
	}
	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
