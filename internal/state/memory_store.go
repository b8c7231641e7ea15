package state

import (
	"context"
	"sort"
	"sync"

	"github.com/m-b-davis/content-creator-voice-ai/internal/jobs"
)

// MemoryStore implements jobs.Store in process memory. Used when Redis is not
// configured and throughout the tests.
type MemoryStore struct {
	mu          sync.RWMutex
	jobs        map[string]jobs.Job
	subscribers map[string]map[chan jobs.ProgressEvent]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[string]jobs.Job),
		subscribers: make(map[string]map[chan jobs.ProgressEvent]struct{}),
	}
}

// SaveJob stores a copy of the job record.
func (s *MemoryStore) SaveJob(ctx context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

// GetJob returns a copy of the job record.
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	out := job
	return &out, nil
}

// ListJobs returns the newest jobs first.
func (s *MemoryStore) ListJobs(ctx context.Context, limit int) ([]*jobs.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	out := make([]*jobs.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		j := job
		out = append(out, &j)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PublishProgress delivers the event to current subscribers of the job.
// Slow subscribers drop events rather than block the pipeline.
func (s *MemoryStore) PublishProgress(ctx context.Context, event jobs.ProgressEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers[event.JobID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// SubscribeProgress invokes handler for each event until ctx is canceled.
func (s *MemoryStore) SubscribeProgress(ctx context.Context, jobID string, handler func(jobs.ProgressEvent)) error {
	ch := make(chan jobs.ProgressEvent, 16)

	s.mu.Lock()
	if s.subscribers[jobID] == nil {
		s.subscribers[jobID] = make(map[chan jobs.ProgressEvent]struct{})
	}
	s.subscribers[jobID][ch] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers[jobID], ch)
		if len(s.subscribers[jobID]) == 0 {
			delete(s.subscribers, jobID)
		}
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-ch:
			handler(event)
		}
	}
}
