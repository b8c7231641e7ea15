package jobs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/m-b-davis/content-creator-voice-ai/internal/enhance"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/logging"
)

// memStore is a minimal in-package Store for pipeline tests.
type memStore struct {
	mu     sync.Mutex
	jobs   map[string]Job
	events []ProgressEvent
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]Job)}
}

func (s *memStore) SaveJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *memStore) GetJob(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := job
	return &out, nil
}

func (s *memStore) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return nil, nil
}

func (s *memStore) PublishProgress(ctx context.Context, event ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memStore) SubscribeProgress(ctx context.Context, jobID string, handler func(ProgressEvent)) error {
	<-ctx.Done()
	return nil
}

func (s *memStore) progressSeen() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Progress)
	}
	return out
}

// stubProcessor fakes ffmpeg by writing the expected output files.
type stubProcessor struct {
	extractErr error
	remuxErr   error
}

func (p stubProcessor) ExtractAudio(ctx context.Context, videoPath, wavPath string) error {
	if p.extractErr != nil {
		return p.extractErr
	}
	return os.WriteFile(wavPath, []byte("pcm"), 0o644)
}

func (p stubProcessor) Remux(ctx context.Context, videoPath, wavPath, outPath string) error {
	if p.remuxErr != nil {
		return p.remuxErr
	}
	return os.WriteFile(outPath, []byte("remuxed"), 0o644)
}

// failingEnhancer always returns the configured error.
type failingEnhancer struct{ err error }

func (f failingEnhancer) Enhance(ctx context.Context, inputWAV, outputWAV string) error {
	return f.err
}

func newTestPipeline(t *testing.T, media AudioProcessor, enh enhance.Enhancer, store Store) (*Pipeline, *Job) {
	t.Helper()

	dir := t.TempDir()
	original := filepath.Join(dir, "original.mp4")
	if err := os.WriteFile(original, []byte("video"), 0o644); err != nil {
		t.Fatalf("write original: %v", err)
	}

	job := NewJob("original.mp4", 5)
	job.OriginalPath = original
	job.EnhancedPath = filepath.Join(dir, "enhanced.mp4")

	return &Pipeline{
		Media:    media,
		Enhancer: enh,
		Store:    store,
		Logger:   logging.NewTestLogger(),
		WorkDir:  t.TempDir(),
	}, job
}

func TestPipelineSuccess(t *testing.T) {
	store := newMemStore()
	p, job := newTestPipeline(t, stubProcessor{}, enhance.CopyEnhancer{}, store)

	p.Run(context.Background(), job)

	if job.Status != StatusDone {
		t.Fatalf("expected done, got %s (%s)", job.Status, job.Error)
	}
	if job.Progress != 100 || job.Stage != StageDone {
		t.Fatalf("expected stage done at 100, got %s at %d", job.Stage, job.Progress)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Fatal("expected start and finish timestamps")
	}
	if _, err := os.Stat(job.EnhancedPath); err != nil {
		t.Fatalf("expected enhanced artifact: %v", err)
	}

	// 100 appears twice: once for the remux stage, once for the terminal record
	want := []int{10, 30, 60, 80, 100, 100}
	got := store.progressSeen()
	if len(got) != len(want) {
		t.Fatalf("expected %d progress events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected milestones %v, got %v", want, got)
		}
	}
}

func TestPipelineTimeoutMessage(t *testing.T) {
	store := newMemStore()
	p, job := newTestPipeline(t, stubProcessor{}, failingEnhancer{err: enhance.ErrTimeout}, store)

	p.Run(context.Background(), job)

	if job.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error != "Enhancement took too long. Please try with a shorter video." {
		t.Fatalf("unexpected error message %q", job.Error)
	}
}

func TestPipelineOutOfMemoryMessage(t *testing.T) {
	store := newMemStore()
	p, job := newTestPipeline(t, stubProcessor{}, failingEnhancer{err: enhance.ErrOutOfMemory}, store)

	p.Run(context.Background(), job)

	if job.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error != "Not enough memory. Please try with a shorter video." {
		t.Fatalf("unexpected error message %q", job.Error)
	}
}

func TestPipelineRecordsCancellation(t *testing.T) {
	store := newMemStore()
	p, job := newTestPipeline(t, stubProcessor{}, failingEnhancer{err: context.Canceled}, store)

	p.Run(context.Background(), job)

	if job.Status != StatusCanceled {
		t.Fatalf("expected canceled, got %s", job.Status)
	}
	saved, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if saved.Status != StatusCanceled {
		t.Fatalf("expected canceled state persisted, got %s", saved.Status)
	}
}

func TestPipelineScratchDirRemoved(t *testing.T) {
	store := newMemStore()
	p, job := newTestPipeline(t, stubProcessor{}, enhance.CopyEnhancer{}, store)

	p.Run(context.Background(), job)

	entries, err := os.ReadDir(p.WorkDir)
	if err != nil {
		t.Fatalf("read work dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected scratch dir removed, found %d entries", len(entries))
	}
}
