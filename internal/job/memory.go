package job

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps jobs in a map for the lifetime of the process.
// Callers always receive clones, so a job read from the repository can be
// changed freely without affecting the stored copy.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*Job
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Job)}
}

func (r *MemoryRepository) Save(_ context.Context, j *Job) error {
	r.mu.Lock()
	r.byID[j.ID] = j.Clone()
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if j, ok := r.byID[id]; ok {
		return j.Clone(), nil
	}
	return nil, ErrJobNotFound
}

// Update runs fn on a clone and swaps it in only when fn succeeds. The
// write lock is held for the whole call so concurrent updates of the same
// job serialize.
func (r *MemoryRepository) Update(_ context.Context, id string, fn func(*Job) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[id]
	if !ok {
		return ErrJobNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	r.byID[id] = next
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.byID))
	for _, j := range r.byID {
		jobs = append(jobs, j.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b *Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return jobs, nil
}

func (r *MemoryRepository) DeleteFinishedBefore(_ context.Context, cutoff time.Time) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []*Job
	for id, j := range r.byID {
		if !j.IsTerminal() || j.CompletedAt.After(cutoff) {
			continue
		}
		removed = append(removed, j)
		delete(r.byID, id)
	}
	return removed, nil
}
