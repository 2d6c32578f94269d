package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/leadflow-backend/internal/eventlog"
	"github.com/unclebandit/leadflow-backend/internal/httpx"
	"github.com/unclebandit/leadflow-backend/internal/repository"
)

// JobController is the read side of the status API. It always re-reads the
// store.
type JobController struct {
	JobRepo repository.JobRepositoryInterface
	Events  *eventlog.Recorder
}

func (c *JobController) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := c.JobRepo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
}

// ListEvents takes an optional positive ?limit; anything else means the
// default.
func (c *JobController) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = eventlog.DefaultListLimit
	}

	events, err := c.Events.ListRecent(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "events": events})
}
