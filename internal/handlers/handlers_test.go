package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/m-b-davis/content-creator-voice-ai/internal/enhance"
	"github.com/m-b-davis/content-creator-voice-ai/internal/jobs"
	"github.com/m-b-davis/content-creator-voice-ai/internal/state"
	"github.com/m-b-davis/content-creator-voice-ai/internal/storage"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/logging"
)

// fakeProcessor stands in for ffmpeg.
type fakeProcessor struct{}

func (fakeProcessor) ExtractAudio(ctx context.Context, videoPath, wavPath string) error {
	return os.WriteFile(wavPath, []byte("wav"), 0o644)
}

func (fakeProcessor) Remux(ctx context.Context, videoPath, wavPath, outPath string) error {
	data, err := os.ReadFile(videoPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

type testHarness struct {
	handlers *Handlers
	store    jobs.Store
	local    *storage.Local
	router   *gin.Engine
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	return newTestHarnessWithStore(t, state.NewMemoryStore())
}

func newTestHarnessWithStore(t *testing.T, store jobs.Store) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	local, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	pipeline := &jobs.Pipeline{
		Media:    fakeProcessor{},
		Enhancer: enhance.CopyEnhancer{},
		Store:    store,
		Logger:   logging.NewTestLogger(),
		WorkDir:  t.TempDir(),
	}
	pool := jobs.NewPool(pipeline, 1, 4, logging.NewTestLogger())
	t.Cleanup(pool.Close)

	h := &Handlers{
		Logger:         logging.NewTestLogger(),
		Store:          store,
		Pool:           pool,
		Local:          local,
		Tokens:         NewTokenIssuer("test-secret", time.Minute),
		MaxUploadBytes: 1024 * 1024,
	}

	router := gin.New()
	h.RegisterRoutes(router)

	return &testHarness{handlers: h, store: store, local: local, router: router}
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("video", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	w.Close()
	return body, w.FormDataContentType()
}

func (th *testHarness) waitForStatus(t *testing.T, jobID string, want jobs.Status) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := th.store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := th.store.GetJob(context.Background(), jobID)
	t.Fatalf("job never reached %s, last state %+v", want, job)
	return nil
}

func TestUploadRunsJobToCompletion(t *testing.T) {
	th := newTestHarness(t)

	body, contentType := multipartUpload(t, "interview.mp4", []byte("fake video bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var job jobs.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Filename != "interview.mp4" {
		t.Fatalf("unexpected filename %q", job.Filename)
	}

	done := th.waitForStatus(t, job.ID, jobs.StatusDone)
	if done.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", done.Progress)
	}
	if _, err := os.Stat(th.local.EnhancedPath(job.ID, "mp4")); err != nil {
		t.Fatalf("expected enhanced artifact on disk: %v", err)
	}
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	th := newTestHarness(t)

	body, contentType := multipartUpload(t, "clip.avi", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUploadRejectsOversizedVideo(t *testing.T) {
	th := newTestHarness(t)
	th.handlers.MaxUploadBytes = 16

	body, contentType := multipartUpload(t, "big.mp4", bytes.Repeat([]byte("a"), 1024))
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestUploadRejectsOversizedChunkedBody(t *testing.T) {
	th := newTestHarness(t)
	th.handlers.MaxUploadBytes = 16

	body, contentType := multipartUpload(t, "big.mp4", bytes.Repeat([]byte("a"), 1024))
	// hide the length so the limit is hit while reading the body
	req := httptest.NewRequest(http.MethodPost, "/api/videos", struct{ io.Reader }{body})
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadResponseReportsQueuedState(t *testing.T) {
	th := newTestHarness(t)

	body, contentType := multipartUpload(t, "interview.mp4", []byte("fake video bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	// the response is the state at accept time, even when a worker has
	// already picked the job up
	var job jobs.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Status != jobs.StatusQueued || job.Stage != jobs.StageAccepted || job.Progress != 10 {
		t.Fatalf("expected freshly queued job in response, got %+v", job)
	}
	th.waitForStatus(t, job.ID, jobs.StatusDone)
}

func TestGetJobNotFound(t *testing.T) {
	th := newTestHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/no-such-job", nil)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	th := newTestHarness(t)

	older := jobs.NewJob("a.mp4", 1)
	older.CreatedAt = older.CreatedAt.Add(-time.Minute)
	newer := jobs.NewJob("b.mp4", 1)
	for _, j := range []*jobs.Job{older, newer} {
		if err := th.store.SaveJob(context.Background(), j); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Jobs  []jobs.Job `json:"jobs"`
		Count int        `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || resp.Jobs[0].ID != newer.ID {
		t.Fatalf("expected newest job first, got %+v", resp.Jobs)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	th := newTestHarness(t)

	job := jobs.NewJob("queued.mp4", 1)
	if err := th.store.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got, err := th.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != jobs.StatusCanceled {
		t.Fatalf("expected canceled, got %s", got.Status)
	}
}

func TestCancelFinishedJobConflicts(t *testing.T) {
	th := newTestHarness(t)

	job := jobs.NewJob("done.mp4", 1)
	job.Status = jobs.StatusDone
	if err := th.store.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestDownloadRequiresValidToken(t *testing.T) {
	th := newTestHarness(t)

	job := finishedJob(t, th, "talk.mov", []byte("enhanced video"))

	req := httptest.NewRequest(http.MethodGet, "/api/videos/"+job.ID+"/download?token=garbage", nil)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDownloadConflictsUntilDone(t *testing.T) {
	th := newTestHarness(t)

	job := jobs.NewJob("pending.mp4", 1)
	job.Status = jobs.StatusRunning
	if err := th.store.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	token, err := th.handlers.Tokens.Issue(job.ID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/videos/"+job.ID+"/download?token="+token, nil)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestDownloadServesEnhancedArtifact(t *testing.T) {
	th := newTestHarness(t)

	job := finishedJob(t, th, "talk.mov", []byte("enhanced video"))

	tokenReq := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/download_token", nil)
	tokenRec := httptest.NewRecorder()
	th.router.ServeHTTP(tokenRec, tokenReq)
	if tokenRec.Code != http.StatusOK {
		t.Fatalf("expected 200 issuing token, got %d: %s", tokenRec.Code, tokenRec.Body.String())
	}
	var tokenResp struct {
		Token       string `json:"token"`
		DownloadURL string `json:"download_url"`
	}
	if err := json.Unmarshal(tokenRec.Body.Bytes(), &tokenResp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, tokenResp.DownloadURL, nil)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="enhanced_talk.mov"` {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/quicktime" {
		t.Fatalf("unexpected Content-Type %q", ct)
	}
	data, _ := io.ReadAll(rec.Body)
	if string(data) != "enhanced video" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestDownloadServesArtifactFromRedisState(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	th := newTestHarnessWithStore(t, state.NewRedisStore(client))

	// the artifact path must survive the Redis round-trip for the download
	// to find the file
	job := finishedJob(t, th, "talk.mov", []byte("enhanced video"))
	token, err := th.handlers.Tokens.Issue(job.ID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/videos/"+job.ID+"/download?token="+token, nil)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data, _ := io.ReadAll(rec.Body)
	if string(data) != "enhanced video" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestDownloadTokenRefusedUntilDone(t *testing.T) {
	th := newTestHarness(t)

	job := jobs.NewJob("pending.mp4", 1)
	if err := th.store.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+job.ID+"/download_token", nil)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestOriginalServesUpload(t *testing.T) {
	th := newTestHarness(t)

	job := jobs.NewJob("raw.mp4", 1)
	path, _, err := th.local.SaveOriginal(job.ID, "mp4", bytes.NewReader([]byte("original video")))
	if err != nil {
		t.Fatalf("SaveOriginal: %v", err)
	}
	job.OriginalPath = path
	if err := th.store.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/videos/"+job.ID+"/original", nil)
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data, _ := io.ReadAll(rec.Body)
	if string(data) != "original video" {
		t.Fatalf("unexpected body %q", data)
	}
}

// finishedJob writes an enhanced artifact and saves a done job pointing at it.
func finishedJob(t *testing.T, th *testHarness, filename string, enhanced []byte) *jobs.Job {
	t.Helper()

	job := jobs.NewJob(filename, int64(len(enhanced)))
	job.Status = jobs.StatusDone
	job.Stage = jobs.StageDone
	job.Progress = 100
	job.EnhancedPath = th.local.EnhancedPath(job.ID, "mov")
	if filename[len(filename)-3:] == "mp4" {
		job.EnhancedPath = th.local.EnhancedPath(job.ID, "mp4")
	}
	if err := os.WriteFile(job.EnhancedPath, enhanced, 0o644); err != nil {
		t.Fatalf("write enhanced: %v", err)
	}
	if err := th.store.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	return job
}
