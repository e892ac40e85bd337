package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dirtybirdnj/gellyroller/internal/admission"
	"github.com/dirtybirdnj/gellyroller/internal/config"
	"github.com/dirtybirdnj/gellyroller/internal/eventbus"
	"github.com/dirtybirdnj/gellyroller/internal/job"
	"github.com/dirtybirdnj/gellyroller/internal/logger"
	"github.com/dirtybirdnj/gellyroller/internal/observes"
	"github.com/dirtybirdnj/gellyroller/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the controller and serve the WebSocket event bus",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cleanup, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer cleanup()
	log := logger.StdLogger()

	if err := observes.InitSentry(&observes.SentryOptions{
		Dsn:         cfg.Observability.SentryDSN,
		Name:        cfg.AppName,
		Environment: cfg.RunMode,
	}); err != nil {
		log.Warn(context.Background(), "sentry init failed", "error", err)
	}

	trans := transport.New(&transport.Config{
		DevMode:        cfg.Transport.DevMode,
		Path:           cfg.Transport.SerialPath,
		Baud:           cfg.Transport.BaudRate,
		CommandTimeout: cfg.Transport.CommandTimeout,
	}, log)
	if err := trans.Open(context.Background()); err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	defer trans.Close()

	heartbeat := time.Duration(cfg.Bus.HeartbeatIntervalMs) * time.Millisecond
	hub := eventbus.NewHub(heartbeat, log)
	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()
	go hub.Run(busCtx)

	gate, err := admission.NewGate(1)
	if err != nil {
		return fmt.Errorf("build admission gate: %w", err)
	}
	jobs := job.NewManager(trans, hub, gate, log)

	api := &apiServer{jobs: jobs, log: log}
	api.applyConfig(cfg)

	config.Watch(func(reloaded *config.Config) {
		api.applyConfig(reloaded)
		log.Info(context.Background(), "config reloaded", "path", reloaded.Viper.ConfigFileUsed())
	})

	mux := http.NewServeMux()
	wsHandler := eventbus.NewHandler(hub, log)
	mux.Handle("/ws", wsHandler)
	mux.HandleFunc("/stats", wsHandler.StatsHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/svg/compile", api.handleCompile)
	mux.HandleFunc("/jobs", api.handleJobs)
	mux.HandleFunc("/jobs/control", api.handleJobControl)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info(context.Background(), "gellyrollerd listening", "addr", addr, "dev_mode", cfg.Transport.DevMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		log.Error(context.Background(), "server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(context.Background(), "server shutdown error", "error", err)
	}

	log.Info(context.Background(), "gellyrollerd exited")
	return nil
}
