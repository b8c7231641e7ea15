package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/m-b-davis/content-creator-voice-ai/internal/enhance"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/logging"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/monitoring"
)

// AudioProcessor is the ffmpeg surface the pipeline needs.
type AudioProcessor interface {
	ExtractAudio(ctx context.Context, videoPath, wavPath string) error
	Remux(ctx context.Context, videoPath, wavPath, outPath string) error
}

// Pipeline runs a job through extract, enhance and remux. One scratch
// directory is created per job and removed when the job leaves the pipeline.
type Pipeline struct {
	Media    AudioProcessor
	Enhancer enhance.Enhancer
	Store    Store
	Repo     *Repo
	Logger   logging.Logger
	Metrics  *monitoring.PipelineMetrics
	WorkDir  string
}

// Run executes the pipeline for a job whose original upload is already on
// disk at job.OriginalPath and whose enhanced artifact belongs at
// job.EnhancedPath. The job's terminal state is always recorded, including on
// cancellation.
func (p *Pipeline) Run(ctx context.Context, job *Job) {
	log := p.Logger.WithFields(logging.Fields{
		"job_id":   job.ID,
		"filename": job.Filename,
	})

	scratch, err := os.MkdirTemp(p.WorkDir, "job-"+job.ID+"-")
	if err != nil {
		p.fail(ctx, job, fmt.Errorf("create scratch dir: %w", err))
		return
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.WithError(err).Warn("Failed to remove scratch directory")
		}
	}()

	now := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &now
	p.record(ctx, job)

	log.WithField("size_mb", float64(job.SizeBytes)/(1024*1024)).Info("Starting video enhancement")

	if p.Metrics != nil {
		p.Metrics.BytesProcessed.WithLabelValues("in").Add(float64(job.SizeBytes))
	}

	extractedWAV := filepath.Join(scratch, "input.wav")
	enhancedWAV := filepath.Join(scratch, "enhanced.wav")

	if err := p.stage(ctx, job, StageExtracted, func(stageCtx context.Context) error {
		return p.Media.ExtractAudio(stageCtx, job.OriginalPath, extractedWAV)
	}); err != nil {
		p.fail(ctx, job, err)
		return
	}

	if err := p.stage(ctx, job, StageEnhanced, func(stageCtx context.Context) error {
		return p.Enhancer.Enhance(stageCtx, extractedWAV, enhancedWAV)
	}); err != nil {
		p.fail(ctx, job, err)
		return
	}

	if err := p.stage(ctx, job, StageSaved, func(context.Context) error {
		info, statErr := os.Stat(enhancedWAV)
		if statErr != nil {
			return fmt.Errorf("enhanced audio missing: %w", statErr)
		}
		if info.Size() == 0 {
			return fmt.Errorf("enhanced audio is empty")
		}
		return nil
	}); err != nil {
		p.fail(ctx, job, err)
		return
	}

	if err := p.stage(ctx, job, StageDone, func(stageCtx context.Context) error {
		return p.Media.Remux(stageCtx, job.OriginalPath, enhancedWAV, job.EnhancedPath)
	}); err != nil {
		p.fail(ctx, job, err)
		return
	}

	finished := time.Now().UTC()
	job.Status = StatusDone
	job.FinishedAt = &finished
	p.record(ctx, job)

	if p.Metrics != nil {
		p.Metrics.JobsTotal.WithLabelValues(string(StatusDone)).Inc()
		if info, err := os.Stat(job.EnhancedPath); err == nil {
			p.Metrics.BytesProcessed.WithLabelValues("out").Add(float64(info.Size()))
		}
	}

	log.WithField("processing_time", finished.Sub(now).String()).Info("Enhancement complete")
}

// stage runs one pipeline step and advances the job on success.
func (p *Pipeline) stage(ctx context.Context, job *Job, next Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		return err
	}

	if p.Metrics != nil {
		p.Metrics.StageDuration.WithLabelValues(string(next)).Observe(time.Since(start).Seconds())
	}

	job.Stage = next
	job.Progress = StageProgress[next]
	p.record(ctx, job)
	return nil
}

// fail records a terminal failure (or cancellation) for the job.
func (p *Pipeline) fail(ctx context.Context, job *Job, cause error) {
	finished := time.Now().UTC()
	job.FinishedAt = &finished

	if errors.Is(cause, context.Canceled) {
		job.Status = StatusCanceled
		job.Error = "canceled"
	} else {
		job.Status = StatusFailed
		job.Error = userFacingError(cause)
	}

	// terminal updates must not be lost to the canceled job context
	p.record(context.WithoutCancel(ctx), job)

	if p.Metrics != nil {
		p.Metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
	}

	p.Logger.WithError(cause).WithFields(logging.Fields{
		"job_id": job.ID,
		"stage":  job.Stage,
		"status": job.Status,
	}).Error("Enhancement job finished unsuccessfully")
}

// record persists the job's current state and publishes a progress event.
func (p *Pipeline) record(ctx context.Context, job *Job) {
	if err := p.Store.SaveJob(ctx, job); err != nil {
		p.Logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to save job state")
	}
	if err := p.Store.PublishProgress(ctx, EventFor(job)); err != nil {
		p.Logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to publish progress")
	}
	if p.Repo != nil {
		if err := p.Repo.UpdateJob(ctx, job); err != nil {
			p.Logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to update job record")
		}
	}
}

// userFacingError maps pipeline failures onto the messages shown to creators.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, enhance.ErrTimeout):
		return "Enhancement took too long. Please try with a shorter video."
	case errors.Is(err, enhance.ErrOutOfMemory):
		return "Not enough memory. Please try with a shorter video."
	default:
		return err.Error()
	}
}
