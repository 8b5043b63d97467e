// Package job provides the GenerationJob aggregate and the long-running
// poller that drives an image-to-video generation from submission to a
// materialized artifact, together with the animate use case that tracks jobs
// for the HTTP surface.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/genstudio-api/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the generation was accepted and is in progress.
	StatusPending Status = "PENDING"
	// StatusDone indicates the video was generated and materialized.
	StatusDone Status = "DONE"
	// StatusFailed indicates the job ended with an error.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("job: invalid state transition")

// validTransitions defines which state transitions are allowed.
// Jobs only move forward.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusDone, StatusFailed},
	StatusDone:    {},
	StatusFailed:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Result references the materialized artifact of a finished job.
type Result struct {
	// Path is the local path of the video file.
	Path string
	// URL is the public S3 URL, if the video was pushed.
	URL string
	// MimeType is the content type of the video.
	MimeType string
	// Size is the artifact size in bytes.
	Size int64
	// SourceURI is the backend URI the artifact was downloaded from.
	SourceURI string
}

// ErrorInfo describes why a job failed.
type ErrorInfo struct {
	Kind    Kind
	Message string
}

// Job represents a video generation job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the service-side identifier for this job.
	ID string
	// Operation is the opaque backend handle used to poll the generation.
	Operation string
	// Status is the current job state.
	Status Status
	// Prompt is the prompt sent to the backend.
	Prompt string
	// AspectRatio is the requested video aspect ratio.
	AspectRatio string
	// PushToS3 indicates whether to upload the result to S3.
	PushToS3 bool
	// Progress is the latest human-readable progress message.
	Progress string
	// Result is set only when the job is done.
	Result *Result
	// Error is set only when the job failed.
	Error *ErrorInfo
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial PENDING status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial PENDING status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// transitionTo changes the status. Callers must hold the lock.
func (j *Job) transitionTo(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}
	j.Status = status
	j.UpdatedAt = time.Now()
	j.CompletedAt = j.UpdatedAt
	return nil
}

// Complete transitions the job to DONE and records its result.
// Returns ErrInvalidTransition if the job is not pending.
func (j *Job) Complete(result Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionTo(StatusDone); err != nil {
		return err
	}
	j.Result = &result
	return nil
}

// Fail transitions the job to FAILED with the given error kind and message.
// Returns ErrInvalidTransition if the job is not pending.
func (j *Job) Fail(kind Kind, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionTo(StatusFailed); err != nil {
		return err
	}
	j.Error = &ErrorInfo{Kind: kind, Message: message}
	return nil
}

// SetOperation records the backend handle once the generation was submitted.
func (j *Job) SetOperation(operation string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Operation = operation
	j.UpdatedAt = time.Now()
}

// SetProgress records the latest progress message.
func (j *Job) SetProgress(message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = message
	j.UpdatedAt = time.Now()
}

// SetResultURL records the public URL of an uploaded artifact.
func (j *Job) SetResultURL(url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Result != nil {
		j.Result.URL = url
		j.UpdatedAt = time.Now()
	}
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusDone || j.Status == StatusFailed
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	c := &Job{
		ID:          j.ID,
		Operation:   j.Operation,
		Status:      j.Status,
		Prompt:      j.Prompt,
		AspectRatio: j.AspectRatio,
		PushToS3:    j.PushToS3,
		Progress:    j.Progress,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return c
}
