// Package enhance runs the voice-restoration model over extracted audio.
// The model itself is an external CPU process; this package owns the process
// boundary, its timeout, and the mapping of runner failures onto errors the
// pipeline can act on.
package enhance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/m-b-davis/content-creator-voice-ai/pkg/logging"
)

var (
	// ErrTimeout is returned when the model runner exceeds its deadline.
	ErrTimeout = errors.New("enhancement timed out")
	// ErrOutOfMemory is returned when the model runner dies from memory pressure.
	ErrOutOfMemory = errors.New("enhancement ran out of memory")
)

// Enhancer produces an enhanced WAV from a source WAV.
type Enhancer interface {
	Enhance(ctx context.Context, inputWAV, outputWAV string) error
}

const (
	// placeholders substituted into the runner command line
	inputPlaceholder  = "{input}"
	outputPlaceholder = "{output}"

	// DefaultTimeout mirrors the model's historical 5 minute budget.
	DefaultTimeout = 300 * time.Second
)

// CommandEnhancer invokes an external model-runner command. The configured
// argument list may contain {input} and {output} placeholders.
type CommandEnhancer struct {
	Binary  string
	Args    []string
	Timeout time.Duration
	Logger  logging.Logger
}

// NewCommandEnhancer builds a CommandEnhancer from a space-separated command
// string such as "voicefixer --mode 2 --in {input} --out {output}".
func NewCommandEnhancer(command string, timeout time.Duration, logger logging.Logger) (*CommandEnhancer, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("enhancer command is empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CommandEnhancer{
		Binary:  fields[0],
		Args:    fields[1:],
		Timeout: timeout,
		Logger:  logger,
	}, nil
}

// Enhance runs the model over inputWAV and writes the result to outputWAV.
func (e *CommandEnhancer) Enhance(ctx context.Context, inputWAV, outputWAV string) error {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		a = strings.ReplaceAll(a, inputPlaceholder, inputWAV)
		a = strings.ReplaceAll(a, outputPlaceholder, outputWAV)
		args[i] = a
	}

	cmd := exec.CommandContext(ctx, e.Binary, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if e.Logger != nil {
		e.Logger.WithFields(logging.Fields{
			"binary":  e.Binary,
			"timeout": timeout,
		}).Info("Running enhancement model")
	}

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		return classifyRunnerError(ctx, err, output.String())
	}

	// The runner exiting zero without producing output is still a failure.
	info, statErr := os.Stat(outputWAV)
	if statErr != nil || info.Size() == 0 {
		return fmt.Errorf("model runner produced no output: %s", runnerOutputTail(output.String()))
	}

	if e.Logger != nil {
		e.Logger.WithFields(logging.Fields{
			"duration":   time.Since(start),
			"size_bytes": info.Size(),
		}).Info("Enhancement complete")
	}
	return nil
}

// classifyRunnerError maps a runner failure onto the pipeline's sentinel
// errors where the cause is recognizable.
func classifyRunnerError(ctx context.Context, err error, output string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	// A canceled job kills the runner; surface the cancellation, not the
	// resulting "signal: killed" exit error.
	if errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	if strings.Contains(strings.ToLower(output), "out of memory") {
		return ErrOutOfMemory
	}
	return fmt.Errorf("model runner failed: %w: %s", err, runnerOutputTail(output))
}

func runnerOutputTail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// CopyEnhancer passes audio through unchanged. It keeps the full pipeline
// runnable in development environments without the model installed.
type CopyEnhancer struct{}

func (CopyEnhancer) Enhance(ctx context.Context, inputWAV, outputWAV string) error {
	in, err := os.Open(inputWAV)
	if err != nil {
		return fmt.Errorf("open source audio: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outputWAV)
	if err != nil {
		return fmt.Errorf("create output audio: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy audio: %w", err)
	}
	return out.Close()
}
