// Package app builds the object graph shared by the binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/leadflow-backend/internal/config"
	"github.com/unclebandit/leadflow-backend/internal/db"
	"github.com/unclebandit/leadflow-backend/internal/eventlog"
	"github.com/unclebandit/leadflow-backend/internal/queue"
	"github.com/unclebandit/leadflow-backend/internal/repository"
	"github.com/unclebandit/leadflow-backend/internal/repository/memstore"
	"github.com/unclebandit/leadflow-backend/internal/service"
	"github.com/unclebandit/leadflow-backend/internal/storage"
)

type Repos struct {
	Jobs        repository.JobRepositoryInterface
	Events      repository.EventRepositoryInterface
	Engine      repository.EngineStateRepositoryInterface
	Staging     repository.StagingRepositoryInterface
	Eligibility repository.EligibilityInterface
}

type App struct {
	Config    *config.Config
	Logger    *zap.SugaredLogger
	DB        *sql.DB
	Repos     Repos
	Recorder  *eventlog.Recorder
	Queue     queue.Queue
	Ingestion *service.IngestionService
	Scheduler *service.CampaignScheduler
}

// OpenRepos connects the configured store driver. The returned *sql.DB is nil
// for the memory driver.
func OpenRepos(ctx context.Context, cfg *config.Config) (Repos, *sql.DB, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		return Repos{
			Jobs:        memstore.NewJobStore(),
			Events:      memstore.NewEventStore(),
			Engine:      memstore.NewEngineStateStore(),
			Staging:     memstore.NewStagingStore(),
			Eligibility: memstore.NewEligibility(),
		}, nil, nil
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return Repos{}, nil, err
	}
	return Repos{
		Jobs:        &repository.JobRepository{DB: conn},
		Events:      &repository.EventRepository{DB: conn},
		Engine:      &repository.EngineStateRepository{DB: conn},
		Staging:     &repository.StagingRepository{DB: conn},
		Eligibility: &repository.EligibilityRepository{DB: conn},
	}, conn, nil
}

func OpenQueue(cfg *config.Config, logger *zap.SugaredLogger) (queue.Queue, error) {
	switch cfg.QueueDriver {
	case config.QueueDriverAMQP:
		return queue.NewAMQPQueue(cfg.AMQPURL, cfg.MaxRetries, cfg.WorkerCount, cfg.WorkerCount, logger)
	case config.QueueDriverMemory:
		return queue.NewInMemoryQueue(queue.Options{
			Workers:    cfg.WorkerCount,
			Buffer:     cfg.QueueBuffer,
			MaxRetries: cfg.MaxRetries,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
	}
}

func Build(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*App, error) {
	repos, conn, err := OpenRepos(ctx, cfg)
	if err != nil {
		return nil, err
	}
	q, err := OpenQueue(cfg, logger)
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, err
	}

	recorder := eventlog.NewRecorder(repos.Events, logger)
	a := &App{
		Config:   cfg,
		Logger:   logger,
		DB:       conn,
		Repos:    repos,
		Recorder: recorder,
		Queue:    q,
	}
	a.Ingestion = &service.IngestionService{
		JobRepo:     repos.Jobs,
		StagingRepo: repos.Staging,
		Source:      &storage.LocalSource{Root: cfg.UploadRoot},
		Events:      recorder,
		Queue:       q,
		Topic:       cfg.UploadQueue,
		Logger:      logger,
	}
	a.Scheduler = &service.CampaignScheduler{
		EngineRepo:  repos.Engine,
		Eligibility: repos.Eligibility,
		Events:      recorder,
		Logger:      logger,
	}
	return a, nil
}

// Close drains the queue before releasing the database.
func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Warnw("queue_close_error", "error", err)
		}
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
