// internal/model/job.go
package model

import (
	"fmt"
	"time"
)

type JobKind string

const (
	KindUpload           JobKind = "UPLOAD"
	KindCampaignSchedule JobKind = "CAMPAIGN_SCHEDULE"
)

type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusComplete   JobStatus = "COMPLETE"
	StatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further automatic transition can leave s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusProcessing},
	{From: StatusProcessing, To: StatusComplete},
	{From: StatusProcessing, To: StatusFailed},
	{From: StatusPending, To: StatusFailed},
}

// SourceStatuses lists the statuses a job may hold right before moving to
// to, including to itself so that repeated writes of the same status pass.
func SourceStatuses(to JobStatus) []JobStatus {
	out := []JobStatus{to}
	for _, t := range ValidTransitions {
		if t.To == to {
			out = append(out, t.From)
		}
	}
	return out
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Job is a tracked unit of asynchronous work. Upload jobs and campaign
// schedule runs share this row shape.
type Job struct {
	ID         string    `db:"id" json:"id"`
	Owner      *string   `db:"owner" json:"owner,omitempty"`
	Kind       JobKind   `db:"kind" json:"kind"`
	Status     JobStatus `db:"status" json:"status"`
	Progress   int       `db:"progress" json:"progress"`
	Message    string    `db:"message" json:"message"`
	PayloadRef string    `db:"payload_ref" json:"payload_ref"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// OwnerID returns the owner or "" for system-triggered jobs.
func (j *Job) OwnerID() string {
	if j.Owner == nil {
		return ""
	}
	return *j.Owner
}

// JobUpdate is a field-level mutation. Nil fields are left untouched.
type JobUpdate struct {
	Status   *JobStatus
	Progress *int
	Message  *string
}

func (u JobUpdate) IsEmpty() bool {
	return u.Status == nil && u.Progress == nil && u.Message == nil
}

// Step builds the update for an in-flight pipeline step.
func Step(progress int, message string) JobUpdate {
	return JobUpdate{Progress: &progress, Message: &message}
}

// Finish builds the update moving a job into a terminal status.
func Finish(status JobStatus, message string) JobUpdate {
	progress := 100
	return JobUpdate{Status: &status, Progress: &progress, Message: &message}
}

// Apply validates u against the job's current state and mutates j in place.
// Status moves only along ValidTransitions, progress never decreases and a
// terminal status pins progress at 100.
func (j *Job) Apply(u JobUpdate, now time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("job %s is already %s", j.ID, j.Status)
	}

	status := j.Status
	if u.Status != nil && *u.Status != j.Status {
		if !IsValidTransition(j.Status, *u.Status) {
			return fmt.Errorf("invalid status transition %s -> %s", j.Status, *u.Status)
		}
		status = *u.Status
	}

	progress := j.Progress
	if u.Progress != nil {
		p := clampProgress(*u.Progress)
		if p > progress {
			progress = p
		}
	}
	if status.IsTerminal() {
		progress = 100
	}

	j.Status = status
	j.Progress = progress
	if u.Message != nil {
		j.Message = *u.Message
	}
	j.UpdatedAt = now
	return nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
