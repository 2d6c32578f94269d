// Package memstore backs the repository interfaces with process memory. It is
// used for STORE_DRIVER=memory and by the service tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/leadflow-backend/internal/errors"
	"github.com/unclebandit/leadflow-backend/internal/model"
	"github.com/unclebandit/leadflow-backend/internal/repository"
)

type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	now  func() time.Time
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*model.Job), now: time.Now}
}

func (s *JobStore) Create(ctx context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		return appErrors.Conflict("job %s already exists", j.ID)
	}
	now := s.now()
	j.CreatedAt, j.UpdatedAt = now, now
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *JobStore) GetByID(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, appErrors.NotFound("job", id)
	}
	cp := *j
	return &cp, nil
}

func (s *JobStore) Update(ctx context.Context, id string, u model.JobUpdate) error {
	if u.IsEmpty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return appErrors.NotFound("job", id)
	}
	next := *j
	if err := next.Apply(u, s.now()); err != nil {
		return appErrors.Conflict("%v", err)
	}
	*j = next
	return nil
}

func (s *JobStore) Claim(ctx context.Context, id, message string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, appErrors.NotFound("job", id)
	}
	if j.Status != model.StatusPending {
		return nil, appErrors.Conflict("job %s is %s and cannot be changed", id, j.Status)
	}
	j.Status = model.StatusProcessing
	j.Message = message
	j.UpdatedAt = s.now()
	cp := *j
	return &cp, nil
}

func (s *JobStore) ListStale(ctx context.Context, status model.JobStatus, olderThan time.Time) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*model.Job{}
	for _, j := range s.jobs {
		if j.Status == status && j.UpdatedAt.Before(olderThan) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	return out, nil
}

// ====================== Events ======================

type EventStore struct {
	mu     sync.Mutex
	events []*model.Event
	// FailWith, when set, makes every Insert fail. Used to exercise the
	// recorder's degraded path.
	FailWith error
}

func NewEventStore() *EventStore {
	return &EventStore{}
}

func (s *EventStore) Insert(ctx context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

func (s *EventStore) ListRecent(ctx context.Context, limit int) ([]*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*model.Event{}
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.events[i]
		out = append(out, &cp)
	}
	return out, nil
}

// All returns every event in insertion order.
func (s *EventStore) All() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Event, len(s.events))
	for i, e := range s.events {
		out[i] = *e
	}
	return out
}

// ====================== Engine state ======================

type EngineStateStore struct {
	mu     sync.Mutex
	states map[string]*model.EngineState
}

func NewEngineStateStore() *EngineStateStore {
	return &EngineStateStore{states: make(map[string]*model.EngineState)}
}

func (s *EngineStateStore) Get(ctx context.Context, campaignID string) (*model.EngineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[campaignID]
	if !ok {
		return nil, appErrors.NotFound("campaign engine state", campaignID)
	}
	cp := *st
	return &cp, nil
}

func (s *EngineStateStore) Upsert(ctx context.Context, st *model.EngineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.UpdatedAt = time.Now()
	cp := *st
	s.states[st.CampaignID] = &cp
	return nil
}

func (s *EngineStateStore) ListByStatus(ctx context.Context, status model.EngineStatus) ([]*model.EngineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*model.EngineState{}
	for _, st := range s.states {
		if st.Status == status {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CampaignID < out[b].CampaignID })
	return out, nil
}

// ====================== Staging ======================

type StagingStore struct {
	mu   sync.Mutex
	rows map[string][]model.StagingRecord
	// RejectDuplicateRows mirrors the UNIQUE(job_id, row_number) constraint.
	RejectDuplicateRows bool
}

func NewStagingStore() *StagingStore {
	return &StagingStore{rows: make(map[string][]model.StagingRecord), RejectDuplicateRows: true}
}

// StageRecords is all-or-nothing per call.
func (s *StagingStore) StageRecords(ctx context.Context, jobID, marketRegion string, records []model.StagingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.RejectDuplicateRows {
		seen := make(map[int]bool, len(s.rows[jobID])+len(records))
		for _, r := range s.rows[jobID] {
			seen[r.Row] = true
		}
		for _, r := range records {
			if seen[r.Row] {
				return appErrors.Conflict("duplicate key value violates unique constraint (job_id, row_number)=(%s, %d)", jobID, r.Row)
			}
			seen[r.Row] = true
		}
	}
	s.rows[jobID] = append(s.rows[jobID], records...)
	return nil
}

func (s *StagingStore) Rows(jobID string) []model.StagingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.StagingRecord(nil), s.rows[jobID]...)
}

// ====================== Eligibility ======================

// Eligibility returns a fixed count per campaign, or Err when set.
type Eligibility struct {
	mu     sync.Mutex
	Counts map[string]int
	Err    error
	Calls  int
}

func NewEligibility() *Eligibility {
	return &Eligibility{Counts: make(map[string]int)}
}

func (e *Eligibility) ScheduleEligible(ctx context.Context, campaignID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Calls++
	if e.Err != nil {
		return 0, e.Err
	}
	return e.Counts[campaignID], nil
}

var (
	_ repository.JobRepositoryInterface         = (*JobStore)(nil)
	_ repository.EventRepositoryInterface       = (*EventStore)(nil)
	_ repository.EngineStateRepositoryInterface = (*EngineStateStore)(nil)
	_ repository.StagingRepositoryInterface     = (*StagingStore)(nil)
	_ repository.EligibilityInterface           = (*Eligibility)(nil)
)
