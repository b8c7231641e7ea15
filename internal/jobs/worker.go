package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/m-b-davis/content-creator-voice-ai/pkg/logging"
)

// ErrQueueFull is returned when the job queue cannot accept more work.
var ErrQueueFull = errors.New("job queue is full")

// Pool runs queued jobs through the pipeline with a bounded number of
// workers. The default is a single worker: the model is CPU-bound and
// concurrent runs just thrash each other.
type Pool struct {
	pipeline *Pipeline
	logger   logging.Logger
	queue    chan *Job

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a worker pool over the given pipeline.
func NewPool(pipeline *Pipeline, workers, queueSize int, logger logging.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 8
	}

	p := &Pool{
		pipeline: pipeline,
		logger:   logger,
		queue:    make(chan *Job, queueSize),
		cancels:  make(map[string]context.CancelFunc),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// Enqueue submits a job for processing. Returns ErrQueueFull when the
// backlog is at capacity so the handler can shed load with a 503.
func (p *Pool) Enqueue(job *Job) error {
	select {
	case p.queue <- job:
		if p.pipeline.Metrics != nil {
			p.pipeline.Metrics.QueueDepth.Set(float64(len(p.queue)))
		}
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel aborts a running job. Queued jobs are canceled lazily when a worker
// picks them up and finds their store state already terminal.
func (p *Pool) Cancel(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.cancels[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// Close stops accepting work and waits for in-flight jobs to finish.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.queue {
		if p.pipeline.Metrics != nil {
			p.pipeline.Metrics.QueueDepth.Set(float64(len(p.queue)))
		}

		// skip jobs canceled while still queued
		if current, err := p.pipeline.Store.GetJob(context.Background(), job.ID); err == nil && current.Status.Terminal() {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.mu.Lock()
		p.cancels[job.ID] = cancel
		p.mu.Unlock()

		p.pipeline.Run(ctx, job)

		p.mu.Lock()
		delete(p.cancels, job.ID)
		p.mu.Unlock()
		cancel()
	}
}
