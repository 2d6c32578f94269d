package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/unclebandit/leadflow-backend/internal/model"
)

type EventRepository struct {
	DB *sql.DB
}

func (r *EventRepository) Insert(ctx context.Context, e *model.Event) error {
	details, err := e.DetailsJSON()
	if err != nil {
		return fmt.Errorf("encode event details: %w", err)
	}
	// jsonb must be sent as text; lib/pq would encode []byte as bytea.
	var detailsText sql.NullString
	if details != nil {
		detailsText = sql.NullString{String: string(details), Valid: true}
	}

	query := `
        INSERT INTO system_events (id, event_type, message, details, level, campaign_id, user_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err = r.DB.ExecContext(ctx, query,
		e.ID, e.EventType, e.Message, detailsText, e.Level, e.CampaignID, e.UserID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *EventRepository) ListRecent(ctx context.Context, limit int) ([]*model.Event, error) {
	query := `
        SELECT id, event_type, message, details, level, campaign_id, user_id, created_at
        FROM system_events
        ORDER BY created_at DESC
        LIMIT $1
    `
	rows, err := r.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []*model.Event{}
	for rows.Next() {
		var e model.Event
		var details, campaignID, userID sql.NullString
		if err := rows.Scan(&e.ID, &e.EventType, &e.Message, &details, &e.Level, &campaignID, &userID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decode details of event %s: %w", e.ID, err)
			}
		}
		if campaignID.Valid {
			e.CampaignID = &campaignID.String
		}
		if userID.Valid {
			e.UserID = &userID.String
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

var _ EventRepositoryInterface = (*EventRepository)(nil)
