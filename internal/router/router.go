// Package router wires the HTTP surface of the job core.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unclebandit/leadflow-backend/internal/controller"
	"github.com/unclebandit/leadflow-backend/internal/handler"
	"github.com/unclebandit/leadflow-backend/internal/httpx"
	"github.com/unclebandit/leadflow-backend/internal/metrics"
	"github.com/unclebandit/leadflow-backend/internal/middleware"
)

type Deps struct {
	Uploads   *controller.UploadController
	Jobs      *controller.JobController
	Campaigns *handler.CampaignHandler
	Logger    *zap.SugaredLogger
}

// Health answers liveness probes for both the API and the worker.
func Health(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

func New(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Owner)

	r.Get("/healthz", Health)
	r.Handle("/metrics", metrics.Handler())

	// Upload routes
	r.Post("/uploads", d.Uploads.StartUpload)
	r.Post("/uploads/{id}/run", d.Uploads.RunUpload)

	// Job status routes
	r.Get("/jobs/{id}", d.Jobs.GetJob)
	r.Get("/events", d.Jobs.ListEvents)

	// Campaign routes
	r.Post("/campaigns/{id}/schedule", d.Campaigns.ScheduleCampaignHandler)
	r.Get("/campaigns/{id}/engine", d.Campaigns.GetEngineHandler)
	r.Put("/campaigns/{id}/engine", d.Campaigns.SetEngineHandler)

	return r
}
