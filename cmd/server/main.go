// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclebandit/leadflow-backend/internal/app"
	"github.com/unclebandit/leadflow-backend/internal/config"
	"github.com/unclebandit/leadflow-backend/internal/controller"
	"github.com/unclebandit/leadflow-backend/internal/handler"
	"github.com/unclebandit/leadflow-backend/internal/logx"
	"github.com/unclebandit/leadflow-backend/internal/router"
)

func main() {
	// Load .env
	dotenv := config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logx.Init(cfg.LogLevel)
	defer logx.Sync()
	lg := logx.L()
	if !dotenv {
		lg.Infow("dotenv_missing", "msg", "relying on OS environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, lg)
	if err != nil {
		lg.Fatalw("app_build_failed", "error", err)
	}
	defer a.Close()

	// The in-memory queue only reaches workers inside this process.
	if cfg.QueueDriver == config.QueueDriverMemory {
		if err := a.Ingestion.Subscribe(); err != nil {
			lg.Fatalw("subscribe_failed", "error", err)
		}
	}

	r := router.New(router.Deps{
		Uploads:   &controller.UploadController{IngestionService: a.Ingestion},
		Jobs:      &controller.JobController{JobRepo: a.Repos.Jobs, Events: a.Recorder},
		Campaigns: handler.NewCampaignHandler(a.Scheduler),
		Logger:    lg,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lg.Infow("server_started", "addr", srv.Addr, "store", cfg.StoreDriver, "queue", cfg.QueueDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Errorw("server_error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	lg.Infow("server_stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Errorw("server_shutdown_error", "error", err)
	}
}
