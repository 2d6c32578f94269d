// Package eventlog appends audit events for the job core. Writes are best
// effort: a failed append is logged and counted, never propagated.
package eventlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/leadflow-backend/internal/metrics"
	"github.com/unclebandit/leadflow-backend/internal/model"
	"github.com/unclebandit/leadflow-backend/internal/repository"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

type Recorder struct {
	Repo   repository.EventRepositoryInterface
	Logger *zap.SugaredLogger
}

func NewRecorder(repo repository.EventRepositoryInterface, logger *zap.SugaredLogger) *Recorder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Recorder{Repo: repo, Logger: logger}
}

// Record appends e. It never returns an error and never panics on a sink
// failure, so callers can record from their own failure paths.
func (r *Recorder) Record(ctx context.Context, e model.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Level == "" {
		e.Level = model.LevelInfo
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if err := r.insert(ctx, &e); err != nil {
		metrics.EventWriteFailures.Inc()
		r.Logger.Errorw("event_write_failed",
			"event_type", e.EventType,
			"level", e.Level,
			"message", e.Message,
			"details", e.Details,
			"error", err,
		)
		return
	}
	metrics.EventsRecorded.WithLabelValues(string(e.Level)).Inc()
}

func (r *Recorder) insert(ctx context.Context, e *model.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError{p}
		}
	}()
	// a cancelled request must not lose the event of its own failure
	return r.Repo.Insert(context.WithoutCancel(ctx), e)
}

// Info and Error are shorthands for the two levels the core writes.
func (r *Recorder) Info(ctx context.Context, eventType, message string, details map[string]any) {
	r.Record(ctx, model.Event{EventType: eventType, Message: message, Details: details, Level: model.LevelInfo})
}

func (r *Recorder) Error(ctx context.Context, eventType, message string, details map[string]any) {
	r.Record(ctx, model.Event{EventType: eventType, Message: message, Details: details, Level: model.LevelError})
}

// ListRecent returns the newest events first. limit <= 0 means the default,
// and limit is capped at MaxListLimit.
func (r *Recorder) ListRecent(ctx context.Context, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return r.Repo.ListRecent(ctx, limit)
}
