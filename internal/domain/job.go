package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known lifecycle states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// ProgressCeiling is the highest progress a job may report before completion.
const ProgressCeiling = 99

// Job is the durable record of one book generation request.
type Job struct {
	ID        string
	OwnerID   string
	Status    JobStatus
	Progress  int
	Step      string
	Request   GenerationRequest
	Result    *BookResult
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy that shares no mutable slices with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Request = j.Request.Clone()
	if j.Result != nil {
		r := j.Result.Clone()
		out.Result = &r
	}
	return &out
}
