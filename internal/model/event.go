// internal/model/event.go
package model

import (
	"encoding/json"
	"time"
)

type EventLevel string

const (
	LevelDebug EventLevel = "DEBUG"
	LevelInfo  EventLevel = "INFO"
	LevelWarn  EventLevel = "WARN"
	LevelError EventLevel = "ERROR"
)

// Event types written by the job core.
const (
	EventUploadJobCreated         = "UPLOAD_JOB_CREATED"
	EventUploadProcessingStart    = "UPLOAD_PROCESSING_START"
	EventUploadProcessingSuccess  = "UPLOAD_PROCESSING_SUCCESS"
	EventUploadProcessingFailure  = "UPLOAD_PROCESSING_FAILURE"
	EventCampaignSchedulingStart  = "CAMPAIGN_SCHEDULING_START"
	EventCampaignSchedulingOK     = "CAMPAIGN_SCHEDULING_SUCCESS"
	EventCampaignSchedulingFailed = "CAMPAIGN_SCHEDULING_FAILURE"
	EventCampaignEngineChanged    = "CAMPAIGN_ENGINE_STATE_CHANGED"
)

// Event is an append-only audit record. The core writes events but never
// reads them back for control flow.
type Event struct {
	ID         string         `db:"id" json:"id"`
	EventType  string         `db:"event_type" json:"event_type"`
	Message    string         `db:"message" json:"message"`
	Details    map[string]any `db:"details" json:"details,omitempty"`
	Level      EventLevel     `db:"level" json:"level"`
	CampaignID *string        `db:"campaign_id" json:"campaign_id,omitempty"`
	UserID     *string        `db:"user_id" json:"user_id,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// DetailsJSON encodes Details for a jsonb column. Nil details encode as NULL.
func (e *Event) DetailsJSON() ([]byte, error) {
	if len(e.Details) == 0 {
		return nil, nil
	}
	return json.Marshal(e.Details)
}

// StringPtr returns nil for "" so optional columns stay NULL.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
