package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an enhancement job.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCanceled
}

// Stage names the pipeline step a job is in. Progress percentages match the
// milestones the dashboard has always shown users.
type Stage string

const (
	StageAccepted  Stage = "accepted"
	StageExtracted Stage = "audio_extracted"
	StageEnhanced  Stage = "audio_enhanced"
	StageSaved     Stage = "audio_saved"
	StageDone      Stage = "done"
)

// StageProgress maps each stage to its progress percentage.
var StageProgress = map[Stage]int{
	StageAccepted:  10,
	StageExtracted: 30,
	StageEnhanced:  60,
	StageSaved:     80,
	StageDone:      100,
}

// Job is one video enhancement request.
type Job struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	SizeBytes    int64      `json:"size_bytes"`
	Status       Status     `json:"status"`
	Stage        Stage      `json:"stage"`
	Progress     int        `json:"progress"`
	Error        string     `json:"error,omitempty"`
	OriginalPath string     `json:"-"`
	EnhancedPath string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// NewJob creates a queued job for an uploaded video.
func NewJob(filename string, sizeBytes int64) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Filename:  filename,
		SizeBytes: sizeBytes,
		Status:    StatusQueued,
		Stage:     StageAccepted,
		Progress:  StageProgress[StageAccepted],
		CreatedAt: time.Now().UTC(),
	}
}

// ProgressEvent is published on every job state transition and fans out to
// websocket subscribers.
type ProgressEvent struct {
	JobID     string `json:"job_id"`
	Status    Status `json:"status"`
	Stage     Stage  `json:"stage"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// EventFor builds the progress event for the job's current state.
func EventFor(job *Job) ProgressEvent {
	return ProgressEvent{
		JobID:     job.ID,
		Status:    job.Status,
		Stage:     job.Stage,
		Progress:  job.Progress,
		Error:     job.Error,
		Timestamp: time.Now().Unix(),
	}
}

// ErrNotFound is returned by stores when no job exists for an id.
var ErrNotFound = errors.New("job not found")

// Store holds hot job state and fans out progress events. Implementations
// live in internal/state (Redis-backed and in-memory).
type Store interface {
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	PublishProgress(ctx context.Context, event ProgressEvent) error
	SubscribeProgress(ctx context.Context, jobID string, handler func(ProgressEvent)) error
}
