// Package state holds hot job state and progress fan-out. The Redis store is
// authoritative when configured; the memory store backs single-instance and
// test deployments.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/m-b-davis/content-creator-voice-ai/internal/jobs"
	pkgredis "github.com/m-b-davis/content-creator-voice-ai/pkg/redis"
)

// jobTTL keeps finished job state around long enough for the dashboard to
// poll and download, without growing Redis forever.
const jobTTL = 24 * time.Hour

// RedisStore implements jobs.Store on Redis. Job records are JSON values, a
// sorted set indexes them by creation time, and progress events fan out over
// pub/sub so every instance's websockets see them.
type RedisStore struct {
	client goredis.UniversalClient
	pubsub *pkgredis.TypedPubSub[jobs.ProgressEvent]
}

// NewRedisStore wraps a connected Redis client.
func NewRedisStore(client goredis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		pubsub: pkgredis.NewTypedPubSub[jobs.ProgressEvent](client),
	}
}

func keyJob(id string) string          { return "voiceboost:jobs:" + id }
func keyIndex() string                 { return "voiceboost:jobs:index" }
func channelProgress(id string) string { return "voiceboost:progress:" + id }

// jobRecord is the stored shape of a job. The artifact paths are hidden from
// the API JSON but must survive the Redis round-trip or downloads break.
type jobRecord struct {
	jobs.Job
	OriginalPath string `json:"original_path,omitempty"`
	EnhancedPath string `json:"enhanced_path,omitempty"`
}

func recordFor(job *jobs.Job) jobRecord {
	return jobRecord{
		Job:          *job,
		OriginalPath: job.OriginalPath,
		EnhancedPath: job.EnhancedPath,
	}
}

func (r jobRecord) toJob() *jobs.Job {
	job := r.Job
	job.OriginalPath = r.OriginalPath
	job.EnhancedPath = r.EnhancedPath
	return &job
}

// SaveJob writes the job record and refreshes its index entry.
func (s *RedisStore) SaveJob(ctx context.Context, job *jobs.Job) error {
	payload, err := json.Marshal(recordFor(job))
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyJob(job.ID), payload, jobTTL)
	pipe.ZAdd(ctx, keyIndex(), goredis.Z{
		Score:  float64(job.CreatedAt.UnixNano()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads one job record.
func (s *RedisStore) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	data, err := s.client.Get(ctx, keyJob(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, jobs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	var record jobRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return record.toJob(), nil
}

// ListJobs returns the newest jobs first. Index entries whose records have
// expired are pruned as they are encountered.
func (s *RedisStore) ListJobs(ctx context.Context, limit int) ([]*jobs.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	ids, err := s.client.ZRevRange(ctx, keyIndex(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	out := make([]*jobs.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if errors.Is(err, jobs.ErrNotFound) {
			_ = s.client.ZRem(ctx, keyIndex(), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// PublishProgress fans the event out to subscribers of the job's channel.
func (s *RedisStore) PublishProgress(ctx context.Context, event jobs.ProgressEvent) error {
	return s.pubsub.Publish(ctx, channelProgress(event.JobID), event)
}

// SubscribeProgress invokes handler for every progress event of the job
// until ctx is canceled.
func (s *RedisStore) SubscribeProgress(ctx context.Context, jobID string, handler func(jobs.ProgressEvent)) error {
	return s.pubsub.Subscribe(ctx, channelProgress(jobID), handler)
}
