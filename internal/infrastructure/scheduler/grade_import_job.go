package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the status of a grade import job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusPartial JobStatus = "PARTIAL"
	JobStatusFailed  JobStatus = "FAILED"
)

// Trigger names what started a job
type Trigger string

const (
	TriggerInterval Trigger = "interval"
	TriggerManual   Trigger = "manual"
)

// maxRetryDelay caps the exponential backoff
const maxRetryDelay = 30 * time.Minute

// GradeImportJob is one run of the all-courses grade import
type GradeImportJob struct {
	ID          uuid.UUID  `json:"id"`
	Trigger     Trigger    `json:"trigger"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// NewGradeImportJob creates a pending job
func NewGradeImportJob(trigger Trigger, maxRetries int) *GradeImportJob {
	return &GradeImportJob{
		ID:         uuid.New(),
		Trigger:    trigger,
		Status:     JobStatusPending,
		CreatedAt:  time.Now(),
		MaxRetries: maxRetries,
	}
}

// Start marks the job as running
func (j *GradeImportJob) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.NextRetryAt = nil
	j.Error = ""
}

// Complete records the per-enrollment counts. A run where nothing succeeded
// but something failed counts as FAILED, which usually means the LMS was
// unreachable, so it is eligible for a retry.
func (j *GradeImportJob) Complete(succeeded, failed, skipped int) {
	now := time.Now()
	j.Succeeded = succeeded
	j.Failed = failed
	j.Skipped = skipped
	j.CompletedAt = &now

	switch {
	case failed == 0:
		j.Status = JobStatusSuccess
	case succeeded > 0:
		j.Status = JobStatusPartial
	default:
		j.Status = JobStatusFailed
		j.Error = "every grade import failed"
	}
}

// Fail marks the whole run as failed, e.g. the mapping store was unreachable
func (j *GradeImportJob) Fail(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if a failed run has retries left
func (j *GradeImportJob) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry puts the job back to pending and returns the backoff delay:
// base * 2^(retry-1), capped at 30 minutes
func (j *GradeImportJob) ScheduleRetry(base time.Duration) time.Duration {
	j.RetryCount++
	j.Status = JobStatusPending
	delay := base * time.Duration(1<<(j.RetryCount-1))
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}
	next := time.Now().Add(delay)
	j.NextRetryAt = &next
	return delay
}

// IsFinal reports whether the job reached a terminal state
func (j *GradeImportJob) IsFinal() bool {
	switch j.Status {
	case JobStatusSuccess, JobStatusPartial:
		return true
	case JobStatusFailed:
		return !j.ShouldRetry()
	}
	return false
}
