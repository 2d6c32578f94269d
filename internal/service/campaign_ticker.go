package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/unclebandit/leadflow-backend/internal/model"
)

const DefaultTickSpec = "@every 5m"

// CampaignTicker periodically schedules every campaign whose engine is
// RUNNING. PAUSED and STOPPED campaigns are skipped.
type CampaignTicker struct {
	Scheduler *CampaignScheduler
	Logger    *zap.SugaredLogger

	cron *cron.Cron
}

func NewCampaignTicker(scheduler *CampaignScheduler, spec string, logger *zap.SugaredLogger) (*CampaignTicker, error) {
	if spec == "" {
		spec = DefaultTickSpec
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	t := &CampaignTicker{
		Scheduler: scheduler,
		Logger:    logger,
		cron: cron.New(
			cron.WithParser(cron.NewParser(
				cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
			)),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
	}
	if _, err := t.cron.AddFunc(spec, func() { t.Tick(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid campaign tick spec %q: %w", spec, err)
	}
	return t, nil
}

// cronLogger routes cron's own logging, including recovered job panics,
// through zap.
type cronLogger struct{ l *zap.SugaredLogger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw("cron_"+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw("cron_"+msg, append(keysAndValues, "error", err)...)
}

func (t *CampaignTicker) Start() {
	t.Logger.Infow("campaign_ticker_started")
	t.cron.Start()
}

// Stop halts the schedule and returns a context that is done once a
// running tick has finished.
func (t *CampaignTicker) Stop() context.Context {
	return t.cron.Stop()
}

// Tick schedules all RUNNING campaigns once and returns how many were
// scheduled successfully.
func (t *CampaignTicker) Tick(ctx context.Context) int {
	states, err := t.Scheduler.EngineRepo.ListByStatus(ctx, model.EngineRunning)
	if err != nil {
		t.Logger.Errorw("campaign_tick_list_failed", "error", err)
		return 0
	}

	ok := 0
	for _, st := range states {
		if _, err := t.Scheduler.ScheduleCampaignJobs(ctx, st.CampaignID); err != nil {
			continue
		}
		ok++
	}
	t.Logger.Infow("campaign_tick", "running", len(states), "scheduled", ok)
	return ok
}
