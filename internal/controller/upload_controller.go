// internal/controller/upload_controller.go
package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/leadflow-backend/internal/httpx"
	"github.com/unclebandit/leadflow-backend/internal/middleware"
	"github.com/unclebandit/leadflow-backend/internal/service"
)

type UploadController struct {
	IngestionService *service.IngestionService
}

func (c *UploadController) StartUpload(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FileName      string `json:"file_name"`
		FileNameCamel string `json:"fileName"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if body.FileName == "" {
		body.FileName = body.FileNameCamel
	}

	job, err := c.IngestionService.Start(r.Context(), middleware.OwnerFrom(r.Context()), body.FileName)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"jobId":       job.ID,
		"upload_path": job.PayloadRef,
	})
}

// RunUpload queues the run and answers 202 without waiting for it.
func (c *UploadController) RunUpload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	var body struct {
		MarketRegion      string `json:"market_region"`
		MarketRegionCamel string `json:"marketRegion"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if body.MarketRegion == "" {
		body.MarketRegion = body.MarketRegionCamel
	}

	if err := c.IngestionService.Dispatch(r.Context(), jobID, body.MarketRegion); err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"jobId":   jobID,
		"message": "Upload processing started",
	})
}
