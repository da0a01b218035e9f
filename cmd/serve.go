package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker pool and the periodic reconciliation sweep",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go runReconcileLoop(ctx, cfg.ReconcileInterval)

		log.Infof("Starting %d workers (poll %s, reconcile sweep %s)", cfg.Workers, cfg.PollInterval, cfg.ReconcileInterval)
		workerPool.Run(ctx)
		log.Info("Workers stopped")
	},
}

// runReconcileLoop re-runs the drift sweep on a timer. Reconciliation never
// runs concurrently with itself: one loop, one sweep at a time; duplicate
// work across deployments is absorbed by the job dedupe constraint.
func runReconcileLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := placementService.ReconcileAll(ctx); err != nil {
				log.Errorf("Reconciliation sweep failed: %v", err)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
