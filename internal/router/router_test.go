package router_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/leadflow-backend/internal/controller"
	"github.com/unclebandit/leadflow-backend/internal/eventlog"
	"github.com/unclebandit/leadflow-backend/internal/handler"
	"github.com/unclebandit/leadflow-backend/internal/queue"
	"github.com/unclebandit/leadflow-backend/internal/repository/memstore"
	"github.com/unclebandit/leadflow-backend/internal/router"
	"github.com/unclebandit/leadflow-backend/internal/service"
)

type memSource struct{ files map[string][]byte }

func (m memSource) Fetch(ctx context.Context, path string) ([]byte, error) {
	if b, ok := m.files[path]; ok {
		return b, nil
	}
	return nil, errors.New("object not found")
}

type testServer struct {
	http.Handler
	queue  *queue.InMemoryQueue
	source memSource
	elig   *memstore.Eligibility
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	jobs := memstore.NewJobStore()
	recorder := eventlog.NewRecorder(memstore.NewEventStore(), nil)
	q := queue.NewInMemoryQueue(queue.Options{Workers: 2, Buffer: 8, Backoff: time.Millisecond}, nil)
	src := memSource{files: map[string][]byte{}}
	elig := memstore.NewEligibility()

	ingestion := &service.IngestionService{
		JobRepo:     jobs,
		StagingRepo: memstore.NewStagingStore(),
		Source:      src,
		Events:      recorder,
		Queue:       q,
	}
	require.NoError(t, ingestion.Subscribe())
	scheduler := &service.CampaignScheduler{
		EngineRepo:  memstore.NewEngineStateStore(),
		Eligibility: elig,
		Events:      recorder,
	}

	h := router.New(router.Deps{
		Uploads:   &controller.UploadController{IngestionService: ingestion},
		Jobs:      &controller.JobController{JobRepo: jobs, Events: recorder},
		Campaigns: handler.NewCampaignHandler(scheduler),
	})
	t.Cleanup(func() { q.Close() })
	return &testServer{Handler: h, queue: q, source: src, elig: elig}
}

func (s *testServer) do(t *testing.T, method, path, owner, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if owner != "" {
		req.Header.Set("X-User-ID", owner)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestUploadLifecycle(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/uploads", "u1", `{"file_name":"leads.csv"}`)
	require.Equal(t, http.StatusCreated, code, body)
	jobID := body["jobId"].(string)
	s.source.files[body["upload_path"].(string)] = []byte("email\na@x.io\nb@x.io\nc@x.io\n")

	code, body = s.do(t, http.MethodGet, "/jobs/"+jobID, "", "")
	require.Equal(t, http.StatusOK, code)
	job := body["job"].(map[string]any)
	assert.Equal(t, "PENDING", job["status"])
	assert.Equal(t, float64(0), job["progress"])

	code, body = s.do(t, http.MethodPost, "/uploads/"+jobID+"/run", "u1", `{"market_region":"west"}`)
	require.Equal(t, http.StatusAccepted, code, body)
	assert.Equal(t, true, body["success"])

	s.queue.Close()

	_, body = s.do(t, http.MethodGet, "/jobs/"+jobID, "", "")
	job = body["job"].(map[string]any)
	assert.Equal(t, "COMPLETE", job["status"])
	assert.Equal(t, float64(100), job["progress"])

	code, body = s.do(t, http.MethodGet, "/events?limit=abc", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["events"], 3)
}

func TestStatusMapping(t *testing.T) {
	s := newTestServer(t)
	_, created := s.do(t, http.MethodPost, "/uploads", "u1", `{"file_name":"leads.csv"}`)
	jobID := created["jobId"].(string)

	cases := []struct {
		name, method, path, owner, body string
		want                            int
	}{
		{"no owner", http.MethodPost, "/uploads", "", `{"file_name":"a.csv"}`, http.StatusUnauthorized},
		{"no file name", http.MethodPost, "/uploads", "u1", `{}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/uploads", "u1", `{`, http.StatusBadRequest},
		{"missing job", http.MethodGet, "/jobs/nope", "", "", http.StatusNotFound},
		{"run without region", http.MethodPost, "/uploads/" + jobID + "/run", "u1", `{}`, http.StatusBadRequest},
		{"run missing job", http.MethodPost, "/uploads/nope/run", "u1", `{"market_region":"west"}`, http.StatusNotFound},
		{"engine invalid", http.MethodPut, "/campaigns/7/engine", "ops", `{"status":"DRAINING"}`, http.StatusBadRequest},
		{"engine missing", http.MethodGet, "/campaigns/8/engine", "", "", http.StatusNotFound},
		{"healthz", http.MethodGet, "/healthz", "", "", http.StatusOK},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			code, body := s.do(t, c.method, c.path, c.owner, c.body)
			assert.Equal(t, c.want, code, body)
			if code >= 400 {
				assert.Equal(t, false, body["success"])
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestRunTwiceConflicts(t *testing.T) {
	s := newTestServer(t)
	_, created := s.do(t, http.MethodPost, "/uploads", "u1", `{"file_name":"leads.csv"}`)
	jobID := created["jobId"].(string)
	s.source.files[created["upload_path"].(string)] = []byte("email\na@x.io\n")

	code, _ := s.do(t, http.MethodPost, "/uploads/"+jobID+"/run", "u1", `{"market_region":"west"}`)
	require.Equal(t, http.StatusAccepted, code)
	s.queue.Close()

	code, _ = s.do(t, http.MethodPost, "/uploads/"+jobID+"/run", "u1", `{"market_region":"west"}`)
	assert.Equal(t, http.StatusConflict, code)
}

func TestScheduleCampaign(t *testing.T) {
	s := newTestServer(t)
	s.elig.Counts["7"] = 7

	code, body := s.do(t, http.MethodPost, "/campaigns/7/schedule", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(7), body["jobs_created"])

	s.elig.Err = errors.New("function schedule_campaign_jobs does not exist")
	code, body = s.do(t, http.MethodPost, "/campaigns/7/schedule", "", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body["error"], "does not exist")
}

func TestEngineRoundTrip(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPut, "/campaigns/7/engine", "ops", `{"status":"PAUSED"}`)
	require.Equal(t, http.StatusOK, code, body)

	code, body = s.do(t, http.MethodGet, "/campaigns/7/engine", "", "")
	require.Equal(t, http.StatusOK, code)
	engine := body["engine"].(map[string]any)
	assert.Equal(t, "PAUSED", engine["status"])
	assert.NotNil(t, engine["paused_at"])
}
