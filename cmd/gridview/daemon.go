package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gridfleet/gridview/internal/audit"
	"github.com/gridfleet/gridview/internal/config"
	"github.com/gridfleet/gridview/internal/controlplane"
	"github.com/gridfleet/gridview/internal/reconcile"
	"github.com/gridfleet/gridview/internal/shell"
	"github.com/gridfleet/gridview/internal/store"
)

var (
	listenAddr string
	dbPath     string
	seedDemo   bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the gridview daemon",
	Long:  `Starts the gridview daemon: the HTTP API, the status reconciler and the shell session manager.`,
	RunE:  runDaemon,
}

func init() {
	homeDir, _ := os.UserHomeDir()
	defaultDB := filepath.Join(homeDir, ".gridview", "gridview.db")

	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides GRIDVIEW_LISTEN_ADDR)")
	daemonCmd.Flags().StringVar(&dbPath, "db", defaultDB, "Path to SQLite database")
	daemonCmd.Flags().BoolVar(&seedDemo, "seed", false, "Load a demo fixture when the database is empty")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if cfg.DBPath == "" {
		cfg.DBPath = dbPath
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}

	if seedDemo {
		if err := seedFixture(s, logger); err != nil {
			logger.Warn("seed failed", zap.Error(err))
		}
	}

	recorder := audit.NewRecorder(s)

	shells := shell.NewManager(cfg.ShellCommand, logger)
	shells.ScrollbackSize = cfg.ShellScrollbackKiB * 1024
	shells.IdleTimeout = cfg.IdleTimeout()
	if err := shell.ValidateShell(cfg.ShellCommand); err != nil {
		return err
	}

	service := controlplane.NewService(s, recorder, shells)
	server := controlplane.NewServer(service, cfg.ListenAddr, logger)

	reconciler := reconcile.New(s, recorder, cfg.ReconcileEvery(), logger)
	reconciler.HeartbeatTTL = cfg.HeartbeatTTL()
	reconciler.NodeHeartbeatTTL = cfg.HeartbeatTTL()
	reconciler.Start()
	defer reconciler.Stop()

	// Idle shell sessions are reclaimed on a schedule.
	cleanup := cron.New()
	cleanup.AddFunc("@every 5m", func() {
		if n := shells.CleanupIdle(); n > 0 {
			logger.Info("reclaimed idle shell sessions", zap.Int("count", n))
		}
	})
	cleanup.Start()
	defer cleanup.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			s.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	if err := s.Close(); err != nil {
		logger.Warn("database close error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
