package repository

import (
	"context"
	"time"

	"github.com/unclebandit/leadflow-backend/internal/model"
)

// JobRepositoryInterface is the durable job table. It is the only state
// shared between the start and run halves of a pipeline.
type JobRepositoryInterface interface {
	Create(ctx context.Context, job *model.Job) error
	GetByID(ctx context.Context, id string) (*model.Job, error)
	Update(ctx context.Context, id string, u model.JobUpdate) error
	// Claim moves a PENDING job to PROCESSING. It fails with a Conflict
	// error when another worker already claimed the job.
	Claim(ctx context.Context, id, message string) (*model.Job, error)
	ListStale(ctx context.Context, status model.JobStatus, olderThan time.Time) ([]*model.Job, error)
}

type EventRepositoryInterface interface {
	Insert(ctx context.Context, e *model.Event) error
	ListRecent(ctx context.Context, limit int) ([]*model.Event, error)
}

type EngineStateRepositoryInterface interface {
	Get(ctx context.Context, campaignID string) (*model.EngineState, error)
	Upsert(ctx context.Context, st *model.EngineState) error
	ListByStatus(ctx context.Context, status model.EngineStatus) ([]*model.EngineState, error)
}

// StagingRepositoryInterface is the bulk insert of parsed upload rows.
type StagingRepositoryInterface interface {
	StageRecords(ctx context.Context, jobID, marketRegion string, records []model.StagingRecord) error
}

// EligibilityInterface computes and enqueues the send-jobs of a campaign and
// returns how many were created. The eligibility rule itself lives outside
// this service.
type EligibilityInterface interface {
	ScheduleEligible(ctx context.Context, campaignID string) (int, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}
