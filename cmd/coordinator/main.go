package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/clustercomm/internal/config"
	"github.com/dreamware/clustercomm/internal/logger"
	"github.com/dreamware/clustercomm/internal/metrics"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfgPath := os.Getenv("CLUSTERCOMM_CONFIG")
	cmd := &cobra.Command{
		Use:          "coordinator",
		Short:        "Cluster plan authority and request router",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", cfgPath, "path to a YAML config file (env CLUSTERCOMM_CONFIG)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.Init(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level, ServiceName: "coordinator"})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("coordinator")

	if err := metrics.Register(nil); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := newServer(cfg, log)
	defer srv.close()
	go srv.monitor.Start(ctx, srv.nodeList)

	httpSrv := &http.Server{
		Addr:              cfg.Coordinator.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("coordinator listening", zap.String("addr", cfg.Coordinator.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info("coordinator stopped")
	return nil
}
