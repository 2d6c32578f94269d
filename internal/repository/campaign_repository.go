package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/leadflow-backend/internal/errors"
	"github.com/unclebandit/leadflow-backend/internal/model"
)

// ====================== Engine state ======================

type EngineStateRepository struct {
	DB *sql.DB
}

func (r *EngineStateRepository) Get(ctx context.Context, campaignID string) (*model.EngineState, error) {
	query := `SELECT campaign_id, status, paused_at, updated_at FROM campaign_engine_state WHERE campaign_id=$1`
	var st model.EngineState
	err := r.DB.QueryRowContext(ctx, query, campaignID).Scan(&st.CampaignID, &st.Status, &st.PausedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("campaign engine state", campaignID)
		}
		return nil, fmt.Errorf("get engine state: %w", err)
	}
	return &st, nil
}

// Upsert keeps exactly one row per campaign.
func (r *EngineStateRepository) Upsert(ctx context.Context, st *model.EngineState) error {
	query := `
        INSERT INTO campaign_engine_state (campaign_id, status, paused_at, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (campaign_id) DO UPDATE SET
            status = EXCLUDED.status,
            paused_at = EXCLUDED.paused_at,
            updated_at = NOW()
        RETURNING updated_at
    `
	if err := r.DB.QueryRowContext(ctx, query, st.CampaignID, st.Status, st.PausedAt).Scan(&st.UpdatedAt); err != nil {
		return fmt.Errorf("upsert engine state: %w", err)
	}
	return nil
}

func (r *EngineStateRepository) ListByStatus(ctx context.Context, status model.EngineStatus) ([]*model.EngineState, error) {
	query := `SELECT campaign_id, status, paused_at, updated_at FROM campaign_engine_state WHERE status=$1 ORDER BY campaign_id`
	rows, err := r.DB.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("list engine states: %w", err)
	}
	defer rows.Close()

	states := []*model.EngineState{}
	for rows.Next() {
		st := &model.EngineState{}
		if err := rows.Scan(&st.CampaignID, &st.Status, &st.PausedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// ====================== Eligibility ======================

// EligibilityRepository delegates to the schedule_campaign_jobs stored
// function, which owns the lead matching and de-duplication rules.
type EligibilityRepository struct {
	DB *sql.DB
}

func (r *EligibilityRepository) ScheduleEligible(ctx context.Context, campaignID string) (int, error) {
	var created int
	if err := r.DB.QueryRowContext(ctx, `SELECT schedule_campaign_jobs($1)`, campaignID).Scan(&created); err != nil {
		return 0, err
	}
	return created, nil
}

var (
	_ EngineStateRepositoryInterface = (*EngineStateRepository)(nil)
	_ EligibilityInterface           = (*EligibilityRepository)(nil)
)
