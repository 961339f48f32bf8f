package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/She20222w/AGILIZAP-ONLINE/app"
	"github.com/She20222w/AGILIZAP-ONLINE/app/config"
	"github.com/She20222w/AGILIZAP-ONLINE/app/logger"
	"github.com/She20222w/AGILIZAP-ONLINE/app/metrics"
	"github.com/She20222w/AGILIZAP-ONLINE/app/queue"
)

// metricsAddr serves the worker's /metrics.
const metricsAddr = ":9102"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zl, err := app.NewLogger(cfg, "worker")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, zl)

	consumer, err := queue.NewConsumer(ctx, cfg.Queue)
	if err != nil {
		zl.Fatal("failed to connect to queue", zap.Error(err))
	}
	defer consumer.Close()

	m := metrics.New(app.ServiceName+"-worker", nil)
	worker := app.NewInstanceWorker(cfg, m)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("metrics server failed", zap.Error(err))
		}
	}()

	zl.Info("worker started", zap.String("driver", cfg.Queue.Driver))
	if err := consumer.Consume(ctx, worker.ProcessInstanceJob); err != nil && !errors.Is(err, context.Canceled) {
		zl.Fatal("worker stopped", zap.Error(err))
	}
	zl.Info("worker stopped gracefully")
}
