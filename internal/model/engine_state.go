// internal/model/engine_state.go
package model

import "time"

type EngineStatus string

const (
	EngineRunning EngineStatus = "RUNNING"
	EnginePaused  EngineStatus = "PAUSED"
	EngineStopped EngineStatus = "STOPPED"
)

func (s EngineStatus) Valid() bool {
	switch s {
	case EngineRunning, EnginePaused, EngineStopped:
		return true
	}
	return false
}

// EngineState is the singleton run/pause/stop control row of a campaign.
type EngineState struct {
	CampaignID string       `db:"campaign_id" json:"campaign_id"`
	Status     EngineStatus `db:"status" json:"status"`
	PausedAt   *time.Time   `db:"paused_at" json:"paused_at,omitempty"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}
