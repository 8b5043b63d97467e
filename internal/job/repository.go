package job

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job: not found")

// Repository stores video generation jobs.
type Repository interface {
	// Save inserts or replaces a job.
	Save(ctx context.Context, job *Job) error

	// FindByID returns ErrJobNotFound for unknown IDs.
	FindByID(ctx context.Context, id string) (*Job, error)

	// Update applies fn to the stored job atomically. Nothing is written
	// when fn returns an error.
	Update(ctx context.Context, id string, fn func(*Job) error) error

	// List returns every job, newest first.
	List(ctx context.Context) ([]*Job, error)

	// DeleteFinishedBefore removes the terminal jobs completed at or before
	// cutoff and returns them. Pending jobs are never removed.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]*Job, error)
}
