package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/config"
	"github.com/irjudson/lumina/internal/database"
	"github.com/irjudson/lumina/internal/events"
	"github.com/irjudson/lumina/internal/jobs"
	"github.com/irjudson/lumina/internal/jobs/definitions"
	"github.com/irjudson/lumina/internal/logger"
	"github.com/irjudson/lumina/internal/media"
	"github.com/irjudson/lumina/internal/server"
	"github.com/irjudson/lumina/internal/tagging"
	"github.com/irjudson/lumina/internal/watcher"
)

// NewServeCommand builds the command that runs the full server: HTTP
// API, job controller, and optionally the source directory watcher.
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lumina server",
		Long: `Start the lumina server: the HTTP API, the job controller with
all standard job types, and, when enabled in the configuration, the
source directory watcher. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
	return cmd
}

func runServe(configPath string) error {
	if err := config.Load(configPath); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := config.Get()

	db, err := database.Initialize(&cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus(events.DefaultConfig(), hclog.New(&hclog.LoggerOptions{
		Name:  "lumina",
		Level: hclog.LevelFromString(cfg.Logging.Level),
	}))
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}

	store := catalog.NewStore(db, bus)

	prober, err := media.NewProber(media.DefaultProbeCacheSize)
	if err != nil {
		return fmt.Errorf("create metadata prober: %w", err)
	}
	thumbnailer := media.NewThumbnailer(cfg.Thumbnails.Dir, cfg.Thumbnails.SizePx, cfg.Thumbnails.Quality)

	reg := jobs.NewRegistry()
	if err := definitions.Register(reg, definitions.Deps{
		Store:       store,
		Prober:      prober,
		Thumbnailer: thumbnailer,
		Tagger:      tagging.NewHeuristic(),
		Cfg:         cfg,
	}); err != nil {
		return fmt.Errorf("register job definitions: %w", err)
	}

	var load *jobs.LoadMonitor
	if cfg.Jobs.AdaptiveWorkers {
		load = jobs.NewLoadMonitor()
	}

	ctrl := jobs.NewController(db, store, reg, load, cfg.Jobs)
	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("start job controller: %w", err)
	}

	var w *watcher.Watcher
	if cfg.Watcher.Enabled {
		w, err = watcher.New(store, ctrl, bus, cfg.Watcher)
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := w.WatchAll(); err != nil {
			return fmt.Errorf("watch source directories: %w", err)
		}
		w.Start()
	}

	srv := server.New(cfg, store, ctrl, load, bus)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if w != nil {
		w.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown: %v", err)
	}
	if err := ctrl.Stop(shutdownCtx); err != nil {
		logger.Warn("controller shutdown: %v", err)
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		logger.Warn("event bus shutdown: %v", err)
	}
	return nil
}
