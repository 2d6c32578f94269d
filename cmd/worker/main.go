package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/leadflow-backend/internal/app"
	"github.com/unclebandit/leadflow-backend/internal/config"
	"github.com/unclebandit/leadflow-backend/internal/logx"
	"github.com/unclebandit/leadflow-backend/internal/metrics"
	"github.com/unclebandit/leadflow-backend/internal/router"
	"github.com/unclebandit/leadflow-backend/internal/service"
)

func metricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", router.Health)
	r.Handle("/metrics", metrics.Handler())
	return r
}

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logx.Init(cfg.LogLevel)
	defer logx.Sync()
	lg := logx.L()

	if cfg.QueueDriver == config.QueueDriverMemory {
		lg.Warnw("worker_memory_queue", "msg", "in-memory queue only sees tasks published by this process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, lg)
	if err != nil {
		lg.Fatalw("app_build_failed", "error", err)
	}
	defer a.Close()

	if err := a.Ingestion.Subscribe(); err != nil {
		lg.Fatalw("subscribe_failed", "error", err)
	}
	lg.Infow("worker_started", "queue", cfg.UploadQueue, "driver", cfg.QueueDriver)

	ticker, err := service.NewCampaignTicker(a.Scheduler, cfg.CampaignTickSpec, lg)
	if err != nil {
		lg.Fatalw("campaign_ticker_invalid", "error", err)
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Infow("metrics_server_started", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker.Start()
		<-gctx.Done()
		<-ticker.Stop().Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Infow("worker_stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		lg.Errorw("worker_exit", "error", err)
	}
}
