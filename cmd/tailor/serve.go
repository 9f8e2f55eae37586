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
	"go.uber.org/zap"

	"github.com/dshills/tailorgraph/internal/config"
	"github.com/dshills/tailorgraph/internal/logging"
	"github.com/dshills/tailorgraph/internal/server"
	"github.com/dshills/tailorgraph/internal/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server that runs tailoring sessions and pushes state
updates to websocket subscribers.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.close(shutdownCtx)
	}()

	broker := session.NewBroker(32, logger)
	st := session.Publishing(a.store, broker)
	wf, err := a.workflow(st)
	if err != nil {
		return err
	}

	opts := []session.Option{
		session.WithTTL(cfg.Session.TTL),
		session.WithSweepSchedule(cfg.Session.SweepSchedule),
		session.WithLogger(logger),
	}
	if cfg.Session.DistributedLock {
		opts = append(opts, session.WithLocker(session.NewRedisLocker(a.redis, cfg.Store.KeyPrefix, cfg.Session.LockTTL)))
	}
	manager := session.NewManager(wf, st, opts...)
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Stop()

	srv := server.New(manager, broker, server.Config{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		WriteTimeout:   cfg.Server.WriteTimeout,
	},
		server.WithLogger(logger),
		server.WithMetrics(a.registry, a.registry),
		server.WithHealthCheck(a.ping),
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", httpServer.Addr),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("store", cfg.Store.Driver),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
