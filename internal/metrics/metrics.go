package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	JobsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jobs_started_total", Help: "Jobs whose run phase began"},
		[]string{"kind"},
	)
	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jobs_finished_total", Help: "Jobs that reached a terminal status"},
		[]string{"kind", "status"},
	)
	JobRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_run_duration_seconds",
			Help:    "Time from claim to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"kind"},
	)
	StagedRecords = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "staged_records_total", Help: "CSV rows written to staging"},
	)

	TasksPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "queue_tasks_published_total", Help: "Tasks published"},
		[]string{"topic"},
	)
	TaskRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "queue_task_retries_total", Help: "Task retries"},
		[]string{"topic"},
	)
	TasksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "queue_tasks_dropped_total", Help: "Tasks dropped after exhausting retries"},
		[]string{"topic"},
	)

	EventsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "events_recorded_total", Help: "Events appended to the event log"},
		[]string{"level"},
	)
	EventWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "event_write_failures_total", Help: "Event appends that degraded to local logging"},
	)

	CampaignSchedules = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "campaign_schedule_runs_total", Help: "scheduleCampaignJobs calls"},
		[]string{"outcome"},
	)
	CampaignJobsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "campaign_send_jobs_created_total", Help: "Send jobs created by the eligibility operation"},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration,
		JobsStarted, JobsFinished, JobRunDuration, StagedRecords,
		TasksPublished, TaskRetries, TasksDropped,
		EventsRecorded, EventWriteFailures,
		CampaignSchedules, CampaignJobsCreated,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
