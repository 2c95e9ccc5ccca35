package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dreamware/clustercomm/internal/cluster"
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
		Use:          "node",
		Short:        "Data node: hosts shards and applies cluster plan changes",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Node.ID == "" || cfg.Node.CoordinatorAddr == "" {
				return errors.New("node.id and node.coordinator_addr are required (env NODE_ID, COORDINATOR_ADDR)")
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", cfgPath, "path to a YAML config file (env CLUSTERCOMM_CONFIG)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.Init(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level, ServiceName: "node"})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("node").With(logger.NodeID(cfg.Node.ID))

	if err := metrics.Register(nil); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := strings.TrimRight(cfg.Node.CoordinatorAddr, "/")
	n := newNode(cfg, cluster.LoaderFromURL(coord+"/plan"), log)

	httpSrv := &http.Server{
		Addr:              cfg.Node.Listen,
		Handler:           n.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("node listening", zap.String("addr", cfg.Node.Listen), logger.Endpoint(cfg.Node.PublicAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	if err := register(ctx, coord, cfg.Node.ID, cfg.Node.PublicAddr, log); err != nil {
		_ = httpSrv.Close()
		return err
	}
	n.start(ctx)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen failed", zap.Error(err))
			n.stop()
			return err
		}
	case <-ctx.Done():
	}

	n.stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info("node stopped")
	return nil
}

// register announces the node to the coordinator, retrying while the
// coordinator comes up.
func register(ctx context.Context, coord, id, addr string, log *zap.Logger) error {
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: id, Addr: addr}}
	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = cluster.PostJSON(ctx, coord+"/register", body, nil)
		if lastErr == nil {
			log.Info("registered with coordinator", zap.String("coordinator", coord))
			return nil
		}
		log.Warn("register retry", zap.Int("attempt", i+1), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(400 * time.Millisecond):
		}
	}
	return fmt.Errorf("failed to register with coordinator: %w", lastErr)
}
