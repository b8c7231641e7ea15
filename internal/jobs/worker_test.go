package jobs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/m-b-davis/content-creator-voice-ai/internal/enhance"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/logging"
)

// blockingProcessor signals when extraction starts and then waits for release
// or context cancellation.
type blockingProcessor struct {
	started chan string
	release chan struct{}
}

func (p *blockingProcessor) ExtractAudio(ctx context.Context, videoPath, wavPath string) error {
	p.started <- wavPath
	select {
	case <-p.release:
		return os.WriteFile(wavPath, []byte("pcm"), 0o644)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *blockingProcessor) Remux(ctx context.Context, videoPath, wavPath, outPath string) error {
	return os.WriteFile(outPath, []byte("remuxed"), 0o644)
}

func waitForStatus(t *testing.T, store Store, jobID string, want Status) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job never reached %s, last state %+v", want, job)
	return nil
}

func TestPoolShedsLoadWhenQueueFull(t *testing.T) {
	store := newMemStore()
	proc := &blockingProcessor{started: make(chan string, 1), release: make(chan struct{})}
	p, first := newTestPipeline(t, proc, enhance.CopyEnhancer{}, store)

	pool := NewPool(p, 1, 1, logging.NewTestLogger())
	defer pool.Close()
	defer close(proc.release) // unblock the worker before Close waits on it

	if err := pool.Enqueue(first); err != nil {
		t.Fatalf("Enqueue first: %v", err)
	}
	<-proc.started // worker is now busy with the first job

	second := NewJob("second.mp4", 1)
	if err := pool.Enqueue(second); err != nil {
		t.Fatalf("Enqueue second: %v", err)
	}

	third := NewJob("third.mp4", 1)
	if err := pool.Enqueue(third); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestPoolCancelsRunningJob(t *testing.T) {
	store := newMemStore()
	proc := &blockingProcessor{started: make(chan string, 1), release: make(chan struct{})}
	p, job := newTestPipeline(t, proc, enhance.CopyEnhancer{}, store)

	pool := NewPool(p, 1, 2, logging.NewTestLogger())
	defer pool.Close()

	if err := pool.Enqueue(job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-proc.started

	if !pool.Cancel(job.ID) {
		t.Fatal("expected Cancel to find the running job")
	}
	waitForStatus(t, store, job.ID, StatusCanceled)
}

func TestPoolSkipsJobsCanceledWhileQueued(t *testing.T) {
	store := newMemStore()
	proc := &blockingProcessor{started: make(chan string, 2), release: make(chan struct{})}
	p, job := newTestPipeline(t, proc, enhance.CopyEnhancer{}, store)

	job.Status = StatusCanceled
	if err := store.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	pool := NewPool(p, 1, 2, logging.NewTestLogger())

	if err := pool.Enqueue(job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	pool.Close() // waits for the worker to drain the queue

	select {
	case <-proc.started:
		t.Fatal("expected canceled job to be skipped, but the pipeline ran")
	default:
	}
}

func TestPoolRunsJobsToCompletion(t *testing.T) {
	store := newMemStore()
	p, job := newTestPipeline(t, stubProcessor{}, enhance.CopyEnhancer{}, store)

	pool := NewPool(p, 1, 2, logging.NewTestLogger())
	defer pool.Close()

	if err := store.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := pool.Enqueue(job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	done := waitForStatus(t, store, job.ID, StatusDone)
	if done.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", done.Progress)
	}
}
