// Package handlers implements the HTTP surface of the enhancement service.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m-b-davis/content-creator-voice-ai/internal/jobs"
	"github.com/m-b-davis/content-creator-voice-ai/internal/media"
	"github.com/m-b-davis/content-creator-voice-ai/internal/storage"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/api"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/logging"
	"github.com/m-b-davis/content-creator-voice-ai/pkg/middleware"
)

// Handlers wires the HTTP endpoints to the job pipeline and stores.
type Handlers struct {
	Logger logging.Logger
	Store  jobs.Store
	Repo   *jobs.Repo
	Pool   *jobs.Pool
	Local  *storage.Local
	S3     *storage.S3Client // nil when offload is not configured
	Tokens *TokenIssuer

	MaxUploadBytes int64
}

// RegisterRoutes attaches all API routes to the router.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.POST("/api/videos", h.Upload)
	router.GET("/api/jobs", h.ListJobs)
	router.GET("/api/jobs/:id", h.GetJob)
	router.DELETE("/api/jobs/:id", h.CancelJob)
	router.POST("/api/jobs/:id/download_token", h.IssueDownloadToken)
	router.GET("/api/videos/:id/download", h.Download)
	router.GET("/api/videos/:id/original", h.Original)
	router.GET("/ws/jobs/:id", h.StreamProgress)
}

// Upload accepts a multipart video upload and queues an enhancement job.
func (h *Handlers) Upload(c *gin.Context) {
	if c.Request.ContentLength > h.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, api.ErrorResponse{
			Error: fmt.Sprintf("Video exceeds the %d MB upload limit", h.MaxUploadBytes/(1024*1024)),
			Code:  "upload_too_large",
		})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)

	file, header, err := c.Request.FormFile("video")
	if err != nil {
		// Chunked uploads bypass the Content-Length check and surface the
		// limit here instead.
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, api.ErrorResponse{
				Error: fmt.Sprintf("Video exceeds the %d MB upload limit", h.MaxUploadBytes/(1024*1024)),
				Code:  "upload_too_large",
			})
			return
		}
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error: "Missing video file in form field 'video'",
			Code:  "missing_file",
		})
		return
	}
	defer file.Close()

	filename := media.SanitizeFilename(header.Filename)
	if !media.IsAllowedVideo(filename) {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error: "Only MP4 and MOV videos are supported",
			Code:  "unsupported_format",
		})
		return
	}
	if header.Size > h.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, api.ErrorResponse{
			Error: fmt.Sprintf("Video exceeds the %d MB upload limit", h.MaxUploadBytes/(1024*1024)),
			Code:  "upload_too_large",
		})
		return
	}

	job := jobs.NewJob(filename, header.Size)
	ext := media.Ext(filename)

	path, size, err := h.Local.SaveOriginal(job.ID, ext, file)
	if err != nil {
		h.Logger.WithError(err).Error("Failed to store uploaded video")
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error: "Failed to store uploaded video",
			Code:  "storage_error",
		})
		return
	}
	job.SizeBytes = size
	job.OriginalPath = path
	job.EnhancedPath = h.Local.EnhancedPath(job.ID, ext)

	if err := h.Store.SaveJob(c.Request.Context(), job); err != nil {
		h.Logger.WithError(err).Error("Failed to save job")
		_ = h.Local.RemoveJob(job.ID, ext)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error: "Failed to create enhancement job",
			Code:  "state_error",
		})
		return
	}
	if h.Repo != nil {
		if err := h.Repo.InsertJob(c.Request.Context(), job); err != nil {
			h.Logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to record job history")
		}
	}

	// Once enqueued the workers own the job record; respond from a snapshot
	// taken before they can touch it.
	accepted := *job
	if err := h.Pool.Enqueue(job); err != nil {
		job.Status = jobs.StatusFailed
		job.Error = "Service is busy. Please try again in a few minutes."
		_ = h.Store.SaveJob(c.Request.Context(), job)
		c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{
			Error: job.Error,
			Code:  "queue_full",
		})
		return
	}

	_ = h.Store.PublishProgress(c.Request.Context(), jobs.EventFor(&accepted))

	middleware.GetContextLogger(c, h.Logger).WithFields(logging.Fields{
		"job_id":   accepted.ID,
		"filename": accepted.Filename,
		"size_mb":  float64(accepted.SizeBytes) / (1024 * 1024),
	}).Info("Video accepted for enhancement")

	c.JSON(http.StatusAccepted, accepted)
}

// GetJob returns the current state of one job.
func (h *Handlers) GetJob(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs returns recent jobs, newest first.
func (h *Handlers) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	list, err := h.Store.ListJobs(c.Request.Context(), limit)
	if err != nil {
		h.Logger.WithError(err).Error("Failed to list jobs")
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error: "Failed to list jobs",
			Code:  "state_error",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list, "count": len(list)})
}

// CancelJob aborts a queued or running job.
func (h *Handlers) CancelJob(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}
	if job.Status.Terminal() {
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error: fmt.Sprintf("Job is already %s", job.Status),
			Code:  "already_finished",
		})
		return
	}

	// a running job is interrupted through its context; a queued job is
	// marked terminal here and skipped when a worker reaches it
	if !h.Pool.Cancel(job.ID) {
		now := time.Now().UTC()
		job.Status = jobs.StatusCanceled
		job.Error = "canceled"
		job.FinishedAt = &now
		if err := h.Store.SaveJob(c.Request.Context(), job); err != nil {
			h.Logger.WithError(err).WithField("job_id", job.ID).Error("Failed to cancel queued job")
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{
				Error: "Failed to cancel job",
				Code:  "state_error",
			})
			return
		}
		_ = h.Store.PublishProgress(c.Request.Context(), jobs.EventFor(job))
		if h.Repo != nil {
			if err := h.Repo.UpdateJob(c.Request.Context(), job); err != nil {
				h.Logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to update job history")
			}
		}
	}

	middleware.GetContextLogger(c, h.Logger).WithField("job_id", job.ID).Info("Job canceled")
	c.JSON(http.StatusOK, api.SuccessResponse{Success: true, Message: "Job canceled"})
}

// IssueDownloadToken returns a signed token for the enhanced artifact.
func (h *Handlers) IssueDownloadToken(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}
	if job.Status != jobs.StatusDone {
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error: "Enhanced video is not ready yet",
			Code:  "not_ready",
		})
		return
	}

	token, err := h.Tokens.Issue(job.ID)
	if err != nil {
		h.Logger.WithError(err).Error("Failed to issue download token")
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error: "Failed to issue download token",
			Code:  "token_error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":        token,
		"download_url": fmt.Sprintf("/api/videos/%s/download?token=%s", job.ID, token),
	})
}

// Download serves the enhanced video. Requires a valid token; redirects to a
// presigned object URL when S3 offload is configured.
func (h *Handlers) Download(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}

	if err := h.Tokens.Verify(c.Query("token"), job.ID); err != nil {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{
			Error: "Invalid or expired download token",
			Code:  "invalid_token",
		})
		return
	}
	if job.Status != jobs.StatusDone {
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error: "Enhanced video is not ready yet",
			Code:  "not_ready",
		})
		return
	}

	downloadName := media.EnhancedName(job.Filename)

	if h.S3 != nil {
		url, err := h.presignedArtifact(c.Request.Context(), job)
		if err == nil {
			c.Redirect(http.StatusTemporaryRedirect, url)
			return
		}
		h.Logger.WithError(err).WithField("job_id", job.ID).Warn("S3 offload unavailable, serving artifact locally")
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	c.Header("Content-Type", media.ContentType(job.Filename))
	c.File(job.EnhancedPath)
}

// presignedArtifact makes sure the artifact is in the bucket and returns a
// time-limited URL for it.
func (h *Handlers) presignedArtifact(ctx context.Context, job *jobs.Job) (string, error) {
	ext := media.Ext(job.Filename)
	key := h.S3.ArtifactKey(job.ID, ext)

	if !h.S3.ArtifactExists(ctx, key) {
		if err := h.S3.UploadArtifact(ctx, job.EnhancedPath, key, media.ContentType(job.Filename)); err != nil {
			return "", err
		}
	}
	return h.S3.PresignDownload(ctx, key, 0)
}

// Original serves the uploaded video for the side-by-side preview.
func (h *Handlers) Original(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}

	c.Header("Content-Type", media.ContentType(job.Filename))
	c.File(job.OriginalPath)
}

// lookupJob fetches the job for the :id route param, writing the error
// response itself when the job cannot be served. Jobs that have expired from
// hot state are still answered from the durable history when configured.
func (h *Handlers) lookupJob(c *gin.Context) (*jobs.Job, bool) {
	job, err := h.Store.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, jobs.ErrNotFound) && h.Repo != nil {
		if archived, repoErr := h.Repo.GetJob(c.Request.Context(), c.Param("id")); repoErr == nil {
			return archived, true
		}
	}
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.JSON(http.StatusNotFound, api.ErrorResponse{
				Error: "Job not found",
				Code:  "not_found",
			})
		} else {
			h.Logger.WithError(err).Error("Failed to load job")
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{
				Error: "Failed to load job",
				Code:  "state_error",
			})
		}
		return nil, false
	}
	return job, true
}
