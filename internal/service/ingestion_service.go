// internal/service/ingestion_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/leadflow-backend/internal/errors"
	"github.com/unclebandit/leadflow-backend/internal/eventlog"
	"github.com/unclebandit/leadflow-backend/internal/metrics"
	"github.com/unclebandit/leadflow-backend/internal/model"
	"github.com/unclebandit/leadflow-backend/internal/queue"
	"github.com/unclebandit/leadflow-backend/internal/repository"
	"github.com/unclebandit/leadflow-backend/internal/storage"
)

const DefaultUploadTopic = "upload_runs"

const (
	msgAwaitingUpload = "Awaiting file upload to storage"
	msgDownloading    = "Downloading file from storage"
	msgParsing        = "Parsing CSV..."
	msgStaging        = "Staging data..."
	msgImporting      = "Importing staged data..."
	msgImported       = "Import successful!"
)

// UploadRunTask is the queued half of an upload run.
type UploadRunTask struct {
	JobID        string `json:"job_id"`
	MarketRegion string `json:"market_region"`
}

type IngestionService struct {
	JobRepo     repository.JobRepositoryInterface
	StagingRepo repository.StagingRepositoryInterface
	Source      storage.Source
	Events      *eventlog.Recorder
	Queue       queue.Queue
	Topic       string
	Logger      *zap.SugaredLogger
}

func (s *IngestionService) topic() string {
	if s.Topic == "" {
		return DefaultUploadTopic
	}
	return s.Topic
}

func (s *IngestionService) log() *zap.SugaredLogger {
	if s.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return s.Logger
}

// Start reserves a tracking record for an upload. No bytes are read here.
func (s *IngestionService) Start(ctx context.Context, owner, fileName string) (*model.Job, error) {
	owner = strings.TrimSpace(owner)
	fileName = strings.TrimSpace(fileName)
	if owner == "" {
		return nil, appErrors.Unauthorized("authentication required")
	}
	if fileName == "" {
		return nil, appErrors.InvalidArgument("fileName is required")
	}

	id := uuid.NewString()
	job := &model.Job{
		ID:         id,
		Owner:      &owner,
		Kind:       model.KindUpload,
		Status:     model.StatusPending,
		Progress:   0,
		Message:    msgAwaitingUpload,
		PayloadRef: storage.UploadPath(owner, id, fileName),
	}
	if err := s.JobRepo.Create(ctx, job); err != nil {
		return nil, appErrors.Unexpected(err)
	}

	s.Events.Record(ctx, model.Event{
		EventType: model.EventUploadJobCreated,
		Message:   "Upload job created",
		Details:   map[string]any{"job_id": id, "file_name": fileName, "upload_path": job.PayloadRef},
		UserID:    job.Owner,
	})
	s.log().Infow("upload_job_created", "job_id", id, "owner", owner, "upload_path", job.PayloadRef)
	return job, nil
}

// Dispatch validates a run request and hands it to the worker pool. It
// returns as soon as the task is queued.
func (s *IngestionService) Dispatch(ctx context.Context, jobID, marketRegion string) error {
	if err := validateRun(jobID, marketRegion); err != nil {
		return err
	}
	job, err := s.JobRepo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.StatusPending {
		return appErrors.Conflict("job %s is %s and cannot be run", jobID, job.Status)
	}

	body, err := json.Marshal(UploadRunTask{JobID: jobID, MarketRegion: marketRegion})
	if err != nil {
		return appErrors.Unexpected(err)
	}
	if err := s.Queue.Publish(ctx, s.topic(), body); err != nil {
		return s.fail(ctx, job, marketRegion, appErrors.Upstream("failed to enqueue upload run", err), "")
	}
	s.log().Infow("upload_run_dispatched", "job_id", jobID, "market_region", marketRegion)
	return nil
}

// Subscribe registers HandleUploadRun on the upload topic.
func (s *IngestionService) Subscribe() error {
	return s.Queue.Subscribe(s.topic(), s.HandleUploadRun)
}

// HandleUploadRun is the queue handler for UploadRunTask. Only errors raised
// before the job was claimed are retried; anything later is already recorded
// on the job. When the last retry fails too, the job is failed here so it
// does not stay PENDING after the task is dropped.
func (s *IngestionService) HandleUploadRun(ctx context.Context, body []byte) error {
	var t UploadRunTask
	if err := json.Unmarshal(body, &t); err != nil {
		s.log().Warnw("upload_task_unmarshal_error", "error", err)
		return queue.Permanent(err)
	}

	err := s.Run(ctx, t.JobID, t.MarketRegion)
	switch {
	case err == nil:
		return nil
	case isRecorded(err):
		return queue.Permanent(err)
	case appErrors.Is(err, appErrors.KindInvalidArgument),
		appErrors.Is(err, appErrors.KindNotFound),
		appErrors.Is(err, appErrors.KindConflict):
		s.log().Warnw("upload_run_rejected", "job_id", t.JobID, "error", err)
		return queue.Permanent(err)
	case queue.IsFinalAttempt(ctx):
		return queue.Permanent(s.abandon(ctx, t, err))
	default:
		return err
	}
}

// abandon fails a job whose run could not start within the retry budget.
func (s *IngestionService) abandon(ctx context.Context, t UploadRunTask, cause error) error {
	job, err := s.JobRepo.GetByID(context.WithoutCancel(ctx), t.JobID)
	if err != nil {
		job = &model.Job{ID: t.JobID}
	}
	if job.Status.IsTerminal() {
		return cause
	}
	return s.fail(ctx, job, t.MarketRegion, appErrors.Upstream("failed to start upload run", cause), "")
}

// Run executes the pipeline for one claimed job. A missing job returns
// NotFound and writes no event, since there is no job to attribute it to.
func (s *IngestionService) Run(ctx context.Context, jobID, marketRegion string) (err error) {
	if err := validateRun(jobID, marketRegion); err != nil {
		return err
	}
	if _, err := s.JobRepo.GetByID(ctx, jobID); err != nil {
		return err
	}

	job, err := s.JobRepo.Claim(ctx, jobID, msgDownloading)
	if err != nil {
		return err
	}

	started := time.Now()
	metrics.JobsStarted.WithLabelValues(string(model.KindUpload)).Inc()
	defer func() {
		metrics.JobRunDuration.WithLabelValues(string(model.KindUpload)).Observe(time.Since(started).Seconds())
	}()
	defer func() {
		if p := recover(); p != nil {
			err = s.fail(ctx, job, marketRegion, fmt.Errorf("unexpected error: %v", p), string(debug.Stack()))
		}
	}()

	s.Events.Record(ctx, model.Event{
		EventType: model.EventUploadProcessingStart,
		Message:   "Upload processing started",
		Details:   map[string]any{"job_id": jobID, "market_region": marketRegion},
		UserID:    job.Owner,
	})

	data, err := s.Source.Fetch(ctx, job.PayloadRef)
	if err != nil {
		return s.fail(ctx, job, marketRegion, appErrors.Upstream("failed to download file", err), "")
	}

	if err := s.step(ctx, jobID, 10, msgParsing); err != nil {
		return s.fail(ctx, job, marketRegion, err, "")
	}
	records, err := ParseCSV(data)
	if err != nil {
		return s.fail(ctx, job, marketRegion, appErrors.InvalidArgument("failed to parse CSV: %v", err), "")
	}

	if err := s.step(ctx, jobID, 50, msgStaging); err != nil {
		return s.fail(ctx, job, marketRegion, err, "")
	}
	if len(records) > 0 {
		if err := s.StagingRepo.StageRecords(ctx, jobID, marketRegion, records); err != nil {
			return s.fail(ctx, job, marketRegion, appErrors.Upstream("staging insert failed", err), "")
		}
	}
	metrics.StagedRecords.Add(float64(len(records)))

	if err := s.step(ctx, jobID, 90, msgImporting); err != nil {
		return s.fail(ctx, job, marketRegion, err, "")
	}

	if err := s.JobRepo.Update(ctx, jobID, model.Finish(model.StatusComplete, msgImported)); err != nil {
		return s.fail(ctx, job, marketRegion, err, "")
	}
	metrics.JobsFinished.WithLabelValues(string(model.KindUpload), string(model.StatusComplete)).Inc()

	s.Events.Record(ctx, model.Event{
		EventType: model.EventUploadProcessingSuccess,
		Message:   "Upload processed successfully",
		Details:   map[string]any{"job_id": jobID, "market_region": marketRegion, "records": len(records)},
		UserID:    job.Owner,
	})
	s.log().Infow("upload_processing_complete", "job_id", jobID, "records", len(records), "duration", time.Since(started).String())
	return nil
}

func (s *IngestionService) step(ctx context.Context, jobID string, progress int, message string) error {
	return s.JobRepo.Update(ctx, jobID, model.Step(progress, message))
}

// fail is the single failure path of an upload: the job goes to FAILED with
// the error text and exactly one ERROR event is written.
func (s *IngestionService) fail(ctx context.Context, job *model.Job, marketRegion string, cause error, stack string) error {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()

	if err := s.JobRepo.Update(ctx, job.ID, model.Finish(model.StatusFailed, msg)); err != nil {
		s.log().Errorw("job_fail_update_failed", "job_id", job.ID, "cause", msg, "error", err)
	}
	metrics.JobsFinished.WithLabelValues(string(model.KindUpload), string(model.StatusFailed)).Inc()

	details := map[string]any{"job_id": job.ID, "error": msg}
	if marketRegion != "" {
		details["market_region"] = marketRegion
	}
	if stack != "" {
		details["stack"] = stack
	}
	s.Events.Record(ctx, model.Event{
		EventType: model.EventUploadProcessingFailure,
		Message:   "Upload processing failed",
		Details:   details,
		Level:     model.LevelError,
		UserID:    job.Owner,
	})
	s.log().Errorw("upload_processing_failed", "job_id", job.ID, "error", msg)

	return &recordedError{err: appErrors.Unexpected(cause)}
}

// recordedError marks a failure already written to the job and event log.
type recordedError struct{ err error }

func (r *recordedError) Error() string { return r.err.Error() }
func (r *recordedError) Unwrap() error { return r.err }

func isRecorded(err error) bool {
	var r *recordedError
	return errors.As(err, &r)
}

func validateRun(jobID, marketRegion string) error {
	if strings.TrimSpace(jobID) == "" {
		return appErrors.InvalidArgument("jobId is required")
	}
	if strings.TrimSpace(marketRegion) == "" {
		return appErrors.InvalidArgument("marketRegion is required")
	}
	return nil
}
