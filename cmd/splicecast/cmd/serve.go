package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/splicecast/splicecast/internal/adapter"
	"github.com/splicecast/splicecast/internal/config"
	"github.com/splicecast/splicecast/internal/database"
	internalhttp "github.com/splicecast/splicecast/internal/http"
	"github.com/splicecast/splicecast/internal/http/handlers"
	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/observability"
	"github.com/splicecast/splicecast/internal/repository"
	"github.com/splicecast/splicecast/internal/session"
	"github.com/splicecast/splicecast/internal/supervisor"
	"github.com/splicecast/splicecast/internal/version"
	"github.com/splicecast/splicecast/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the splicecast server",
	Long: `Start the splicecast HTTP server and API.

The server provides:
- REST API for starting streams, injecting SCTE-35 cues, and managing presets
- Ingest-server webhook endpoints under /scte35
- Prometheus metrics at /metrics
- Health check endpoint at /health
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to")
	serveCmd.Flags().Int("port", 0, "port to listen on")
	serveCmd.Flags().String("database", "", "preset database DSN")
	serveCmd.Flags().String("output-dir", "", "directory for generated media artifacts")
	serveCmd.Flags().String("ffmpeg", "", "path to the ffmpeg binary")
	serveCmd.Flags().String("schedule", "", "ad-break schedule file (enables the scheduler)")
}

// applyServeFlags overrides loaded config with explicitly set CLI flags.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database") {
		cfg.Database.DSN, _ = flags.GetString("database")
	}
	if flags.Changed("output-dir") {
		cfg.Storage.OutputDir, _ = flags.GetString("output-dir")
	}
	if flags.Changed("ffmpeg") {
		cfg.Encoder.BinaryPath, _ = flags.GetString("ffmpeg")
	}
	if flags.Changed("schedule") {
		cfg.Schedule.File, _ = flags.GetString("schedule")
		cfg.Schedule.Enabled = true
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	applyServeFlags(cmd, cfg)

	logger := slog.Default()
	metrics := observability.NewMetrics()

	// Preset store
	db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"))
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	presetRepo := repository.NewPresetRepository(db.DB)

	// Encoder supervision and per-format output adapters. The manager is
	// declared up front so adapter exit callbacks can reach it.
	var manager *session.Manager

	sup := supervisor.New(supervisorOptions(cfg.Encoder), observability.WithComponent(logger, "supervisor"))
	registry := adapter.NewRegistry(adapter.Deps{
		Supervisor: sup,
		Ports:      adapter.NewPortRegistry(),
		StorageDir: cfg.Storage.OutputDir,
		FFmpegPath: cfg.Encoder.BinaryPath,
		Logger:     observability.WithComponent(logger, "adapter"),
		OnTargetExit: func(targetID string, err error) {
			manager.TargetExited(targetID, err)
		},
		OnRestart: func(format models.OutputFormat) {
			metrics.EncoderRestarts.WithLabelValues(string(format)).Inc()
		},
	})

	manager = session.NewManager(cfg.Session, registry, metrics, observability.WithComponent(logger, "session"))

	// Recurring ad-break schedule
	var scheduler *session.Scheduler
	if cfg.Schedule.Enabled {
		scheduler, err = session.NewScheduler(cfg.Schedule.File, manager, observability.WithComponent(logger, "scheduler"))
		if err != nil {
			return fmt.Errorf("loading schedule: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// HTTP server and API handlers
	server := internalhttp.NewServer(cfg.Server, observability.WithComponent(logger, "http"), version.Version)

	streamHandler := handlers.NewStreamHandler(manager).WithPresets(presetRepo)
	streamHandler.Register(server.API())

	presetHandler := handlers.NewPresetHandler(presetRepo)
	presetHandler.Register(server.API())

	validateHandler := handlers.NewValidateHandler()
	validateHandler.Register(server.API())

	healthHandler := handlers.NewHealthHandler(version.Version, manager).WithDB(db.DB)
	healthHandler.Register(server.API())

	// Ingest-server webhooks and Prometheus metrics sit next to the API.
	gateway := webhook.New(cfg.Webhook, manager, metrics, observability.WithComponent(logger, "webhook"))
	server.Router().Mount("/scte35", gateway.Routes())
	server.Router().Handle("/metrics", metrics.Handler())

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting splicecast server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
	)

	serveErr := server.ListenAndServe(ctx)

	// Stop every running session after the API goes quiet so no new
	// requests race the teardown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	manager.Shutdown(shutdownCtx)

	return serveErr
}

// supervisorOptions maps encoder config onto supervisor tuning, keeping
// the built-in defaults for anything left unset.
func supervisorOptions(cfg config.EncoderConfig) supervisor.Options {
	opts := supervisor.DefaultOptions()
	if cfg.StartTimeout > 0 {
		opts.StartTimeout = cfg.StartTimeout
	}
	if cfg.StopTimeout > 0 {
		opts.StopTimeout = cfg.StopTimeout
	}
	if cfg.RestartAttempts > 0 {
		opts.RestartAttempts = cfg.RestartAttempts
	}
	if cfg.RestartBaseDelay > 0 {
		opts.RestartBaseDelay = cfg.RestartBaseDelay
	}
	if cfg.RestartMaxDelay > 0 {
		opts.RestartMaxDelay = cfg.RestartMaxDelay
	}
	if cfg.KillGracePeriod > 0 {
		opts.KillGracePeriod = cfg.KillGracePeriod
	}
	return opts
}
