package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/m-b-davis/content-creator-voice-ai/pkg/logging"
)

// FFmpeg shells out to the system ffmpeg binary for audio extraction and
// remuxing. The binary path is configurable for tests and containers.
type FFmpeg struct {
	Binary string
	Logger logging.Logger
}

// NewFFmpeg returns an FFmpeg runner for the given binary path.
func NewFFmpeg(binary string, logger logging.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{Binary: binary, Logger: logger}
}

// CheckInstalled verifies the ffmpeg binary is resolvable on PATH.
func (f *FFmpeg) CheckInstalled() error {
	if _, err := exec.LookPath(f.Binary); err != nil {
		return fmt.Errorf("ffmpeg not installed (looked for %q): %w", f.Binary, err)
	}
	return nil
}

// extractArgs builds the argument list for pulling the audio track out of a
// video as mono 16-bit PCM at the model's sample rate.
func extractArgs(videoPath, wavPath string) []string {
	return []string{
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", "1",
		wavPath,
	}
}

// remuxArgs builds the argument list for merging enhanced audio back into the
// original video. The video stream is copied untouched; audio is AAC.
func remuxArgs(videoPath, wavPath, outPath string) []string {
	return []string{
		"-y",
		"-i", videoPath,
		"-i", wavPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-map", "0:v:0",
		"-map", "1:a:0",
		outPath,
	}
}

// ExtractAudio extracts the audio track of videoPath into wavPath.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, wavPath string) error {
	if err := f.run(ctx, extractArgs(videoPath, wavPath)); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	return nil
}

// Remux merges the enhanced audio in wavPath with the video stream of
// videoPath into outPath.
func (f *FFmpeg) Remux(ctx context.Context, videoPath, wavPath, outPath string) error {
	if err := f.run(ctx, remuxArgs(videoPath, wavPath, outPath)); err != nil {
		return fmt.Errorf("remux video: %w", err)
	}
	return nil
}

func (f *FFmpeg) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, f.Binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if f.Logger != nil {
		f.Logger.WithFields(logging.Fields{
			"binary": f.Binary,
			"args":   strings.Join(args, " "),
		}).Debug("Running ffmpeg")
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", err, stderrTail(stderr.String()))
	}
	return nil
}

// stderrTail keeps the last few lines of ffmpeg output; the useful error is
// always at the end and full output can be tens of kilobytes.
func stderrTail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
