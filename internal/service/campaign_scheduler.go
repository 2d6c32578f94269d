// internal/service/campaign_scheduler.go
package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/leadflow-backend/internal/errors"
	"github.com/unclebandit/leadflow-backend/internal/eventlog"
	"github.com/unclebandit/leadflow-backend/internal/metrics"
	"github.com/unclebandit/leadflow-backend/internal/model"
	"github.com/unclebandit/leadflow-backend/internal/repository"
)

type CampaignScheduler struct {
	EngineRepo  repository.EngineStateRepositoryInterface
	Eligibility repository.EligibilityInterface
	Events      *eventlog.Recorder
	Logger      *zap.SugaredLogger
}

// Result struct for ScheduleCampaignJobs
type ScheduleResult struct {
	Success     bool   `json:"success"`
	JobsCreated int    `json:"jobs_created"`
	Message     string `json:"message"`
}

func (s *CampaignScheduler) log() *zap.SugaredLogger {
	if s.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return s.Logger
}

// ScheduleCampaignJobs asks the eligibility operation to create the send
// jobs of a campaign. The engine state is read and recorded but not
// enforced here; the eligibility operation owns that policy. Calls are not
// idempotent.
func (s *CampaignScheduler) ScheduleCampaignJobs(ctx context.Context, campaignID string) (res *ScheduleResult, err error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, appErrors.InvalidArgument("campaignId is required")
	}

	startDetails := map[string]any{"campaign_id": campaignID, "engine_status": s.engineStatus(ctx, campaignID)}
	s.Events.Record(ctx, model.Event{
		EventType:  model.EventCampaignSchedulingStart,
		Message:    "Campaign scheduling started",
		Details:    startDetails,
		CampaignID: &campaignID,
	})

	defer func() {
		if p := recover(); p != nil {
			res, err = s.fail(ctx, campaignID, appErrors.Unexpected(fmt.Errorf("unexpected error: %v", p)), string(debug.Stack()))
		}
	}()

	created, err := s.Eligibility.ScheduleEligible(ctx, campaignID)
	if err != nil {
		return s.fail(ctx, campaignID, appErrors.Upstream("campaign scheduling failed", err), "")
	}

	s.Events.Record(ctx, model.Event{
		EventType:  model.EventCampaignSchedulingOK,
		Message:    "Campaign scheduling completed",
		Details:    map[string]any{"campaign_id": campaignID, "jobs_created": created},
		CampaignID: &campaignID,
	})
	metrics.CampaignSchedules.WithLabelValues("success").Inc()
	metrics.CampaignJobsCreated.Add(float64(created))
	s.log().Infow("campaign_scheduling_complete", "campaign_id", campaignID, "jobs_created", created)

	return &ScheduleResult{
		Success:     true,
		JobsCreated: created,
		Message:     fmt.Sprintf("Scheduled %d jobs for campaign %s", created, campaignID),
	}, nil
}

// fail writes the single CAMPAIGN_SCHEDULING_FAILURE event of a call.
func (s *CampaignScheduler) fail(ctx context.Context, campaignID string, cause error, stack string) (*ScheduleResult, error) {
	details := map[string]any{"campaign_id": campaignID, "error": cause.Error()}
	if stack != "" {
		details["stack"] = stack
	}
	s.Events.Record(ctx, model.Event{
		EventType:  model.EventCampaignSchedulingFailed,
		Message:    "Campaign scheduling failed",
		Details:    details,
		Level:      model.LevelError,
		CampaignID: &campaignID,
	})
	metrics.CampaignSchedules.WithLabelValues("failure").Inc()
	s.log().Errorw("campaign_scheduling_failed", "campaign_id", campaignID, "error", cause)

	return &ScheduleResult{Success: false, Message: cause.Error()}, cause
}

// engineStatus is informational only; a missing row or a read error does
// not block scheduling.
func (s *CampaignScheduler) engineStatus(ctx context.Context, campaignID string) string {
	st, err := s.EngineRepo.Get(ctx, campaignID)
	switch {
	case err == nil:
		return string(st.Status)
	case appErrors.Is(err, appErrors.KindNotFound):
		return "UNSET"
	default:
		s.log().Warnw("engine_state_read_failed", "campaign_id", campaignID, "error", err)
		return "UNKNOWN"
	}
}

func (s *CampaignScheduler) GetEngineState(ctx context.Context, campaignID string) (*model.EngineState, error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, appErrors.InvalidArgument("campaignId is required")
	}
	return s.EngineRepo.Get(ctx, campaignID)
}

// SetEngineState is the operator control of a campaign engine. paused_at is
// stamped on PAUSED and cleared on any other status.
func (s *CampaignScheduler) SetEngineState(ctx context.Context, campaignID string, status model.EngineStatus, actor string) (*model.EngineState, error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return nil, appErrors.InvalidArgument("campaignId is required")
	}
	status = model.EngineStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return nil, appErrors.InvalidArgument("invalid engine status %q", status)
	}

	previous := "UNSET"
	if cur, err := s.EngineRepo.Get(ctx, campaignID); err == nil {
		previous = string(cur.Status)
	} else if !appErrors.Is(err, appErrors.KindNotFound) {
		return nil, appErrors.Unexpected(err)
	}

	st := &model.EngineState{CampaignID: campaignID, Status: status}
	if status == model.EnginePaused {
		now := time.Now().UTC()
		st.PausedAt = &now
	}
	if err := s.EngineRepo.Upsert(ctx, st); err != nil {
		return nil, appErrors.Unexpected(err)
	}

	s.Events.Record(ctx, model.Event{
		EventType:  model.EventCampaignEngineChanged,
		Message:    fmt.Sprintf("Campaign engine set to %s", status),
		Details:    map[string]any{"campaign_id": campaignID, "status": string(status), "previous": previous},
		CampaignID: &campaignID,
		UserID:     model.StringPtr(actor),
	})
	s.log().Infow("campaign_engine_state_changed", "campaign_id", campaignID, "status", status, "previous", previous)
	return st, nil
}
