package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/api/handlers"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/api/routes"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/browser"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/capture"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/config"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/notify"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/playback"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/services"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/session"
	"github.com/midhunp1/visual-intelligent-automation-sub000/internal/store"
	"github.com/midhunp1/visual-intelligent-automation-sub000/pkg/database"
	"github.com/midhunp1/visual-intelligent-automation-sub000/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session server",
	Long:  `Run the HTTP and websocket server. Configuration comes from CONFIG_FILE (YAML) and environment variables.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	gin.SetMode(cfg.Server.Mode)

	srv, cleanup, err := buildServer(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr), zap.String("engine", cfg.Browser.Engine))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	return nil
}

// buildServer wires the whole pipeline. cleanup stops the reaper, closes
// every session and releases the browser and database.
func buildServer(cfg *config.Config, log *zap.Logger) (*http.Server, func(), error) {
	engine, err := browser.New(browser.Options{
		Engine:            cfg.Browser.Engine,
		Headless:          cfg.Browser.Headless,
		ExecPath:          cfg.Browser.ExecPath,
		LaunchTimeout:     cfg.Browser.Launch(),
		NavigationTimeout: cfg.Browser.Navigation(),
		ActionTimeout:     cfg.Browser.Action(),
		Logger:            log,
	})
	if err != nil {
		return nil, nil, err
	}

	files, err := store.NewFileStore(cfg.Recording.ArtifactDir)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}
	saver := store.Multi{files}
	closeDB := func() {}
	if cfg.Database.Enabled {
		db, err := database.InitDatabase(cfg, log)
		if err != nil {
			engine.Close()
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		saver = append(saver, store.NewDBStore(db))
		closeDB = func() {
			if err := database.Close(db); err != nil {
				log.Warn("close database", zap.Error(err))
			}
		}
	}

	hub := notify.NewHub(0, log)
	mgr := session.NewManager(session.Options{
		Engine:            engine,
		Device:            cfg.Browser.Device,
		LaunchTimeout:     cfg.Browser.Launch(),
		NavigationTimeout: cfg.Browser.Navigation(),
		Capture: capture.Options{
			PollInterval:   cfg.Recording.Poll(),
			EventBuffer:    cfg.Recording.EventBuffer,
			CodegenCommand: cfg.Recording.CodegenCommand,
			MaskPasswords:  cfg.Recording.MaskPasswords,
		},
		Player: playback.New(playback.Options{
			SettleInterval: cfg.Playback.Settle(),
			HighlightColor: cfg.Playback.HighlightColor,
			Notifier:       hub,
			Logger:         log,
		}),
		Notifier: hub,
		Store:    saver,
		Logger:   log,
	})

	scheduler := services.NewScheduler(log)
	if _, err := scheduler.AddReaper(cfg.Reaper.Spec, cfg.Reaper.TTL(), mgr); err != nil {
		closeDB()
		engine.Close()
		return nil, nil, err
	}
	scheduler.Start()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      routes.SetupRoutes(handlers.New(mgr, hub, log), log),
		ReadTimeout:  cfg.Server.Read(),
		WriteTimeout: cfg.Server.Write(),
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		scheduler.Stop(ctx)
		mgr.Shutdown(ctx)
		if err := engine.Close(); err != nil {
			log.Warn("close browser engine", zap.Error(err))
		}
		closeDB()
		log.Info("server shutdown complete")
	}
	return srv, cleanup, nil
}
