package conversion

import (
	"sort"
	"sync"
	"time"

	"kindlegarden/internal/domain/book"
)

type jobRegistry struct {
	mu   sync.Mutex
	jobs map[string]*book.Job
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{jobs: make(map[string]*book.Job)}
}

func (j *jobRegistry) Add(job book.Job) {
	j.mu.Lock()
	defer j.mu.Unlock()
	stored := job
	j.jobs[job.ID] = &stored
}

func (j *jobRegistry) Get(id string) (book.Job, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return book.Job{}, false
	}
	return *job, true
}

// Update applies fn to the stored job and returns the updated copy.
func (j *jobRegistry) Update(id string, fn func(*book.Job)) (book.Job, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return book.Job{}, false
	}
	fn(job)
	return *job, true
}

// Start moves a queued job into converting. It fails when the job was
// withdrawn in the meantime.
func (j *jobRegistry) Start(id string) (book.Job, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok || job.State != book.StateQueued {
		return book.Job{}, false
	}
	job.State = book.StateConverting
	job.StartedAt = time.Now()
	return *job, true
}

// Withdraw removes a job that has not started yet.
func (j *jobRegistry) Withdraw(id string) (book.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return book.Job{}, ErrJobNotFound
	}
	if job.State != book.StateQueued {
		return *job, ErrJobStarted
	}
	delete(j.jobs, id)
	job.State = book.StateCancelled
	job.FinishedAt = time.Now()
	return *job, nil
}

func (j *jobRegistry) Delete(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.jobs, id)
}

func (j *jobRegistry) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.jobs)
}

// List returns jobs ordered by queue time, optionally filtered by user.
func (j *jobRegistry) List(userID int64) []book.Job {
	j.mu.Lock()
	out := make([]book.Job, 0, len(j.jobs))
	for _, job := range j.jobs {
		if userID != 0 && job.UserID != userID {
			continue
		}
		out = append(out, *job)
	}
	j.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		return out[a].QueuedAt.Before(out[b].QueuedAt)
	})
	return out
}
