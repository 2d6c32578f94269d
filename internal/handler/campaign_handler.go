// internal/handler/campaign_handler.go
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/leadflow-backend/internal/httpx"
	"github.com/unclebandit/leadflow-backend/internal/middleware"
	"github.com/unclebandit/leadflow-backend/internal/model"
	"github.com/unclebandit/leadflow-backend/internal/service"
)

// CampaignHandler holds the dependencies for campaign-related HTTP handlers
type CampaignHandler struct {
	Scheduler *service.CampaignScheduler
}

func NewCampaignHandler(scheduler *service.CampaignScheduler) *CampaignHandler {
	return &CampaignHandler{Scheduler: scheduler}
}

// ScheduleCampaignHandler triggers send-job creation for one campaign
func (h *CampaignHandler) ScheduleCampaignHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.Scheduler.ScheduleCampaignJobs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// GetEngineHandler returns the engine state of a campaign
func (h *CampaignHandler) GetEngineHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.Scheduler.GetEngineState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "engine": st})
}

// SetEngineHandler moves a campaign engine to RUNNING, PAUSED or STOPPED
func (h *CampaignHandler) SetEngineHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, err)
		return
	}

	st, err := h.Scheduler.SetEngineState(r.Context(), chi.URLParam(r, "id"),
		model.EngineStatus(payload.Status), middleware.OwnerFrom(r.Context()))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "engine": st})
}
