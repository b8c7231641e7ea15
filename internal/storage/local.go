// Package storage owns artifact files on disk: original uploads, enhanced
// outputs, the eviction monitor that keeps the volume from filling, and the
// optional S3 offload.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local stores artifacts under a root directory:
//
//	<root>/originals/<job id>.<ext>
//	<root>/enhanced/<job id>.<ext>
type Local struct {
	Root string
}

// NewLocal creates the artifact directories under root.
func NewLocal(root string) (*Local, error) {
	for _, dir := range []string{
		filepath.Join(root, "originals"),
		filepath.Join(root, "enhanced"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
		}
	}
	return &Local{Root: root}, nil
}

// OriginalPath returns the storage path for a job's uploaded video.
func (l *Local) OriginalPath(jobID, ext string) string {
	return filepath.Join(l.Root, "originals", jobID+"."+ext)
}

// EnhancedPath returns the storage path for a job's enhanced video.
func (l *Local) EnhancedPath(jobID, ext string) string {
	return filepath.Join(l.Root, "enhanced", jobID+"."+ext)
}

// SaveOriginal streams an upload to disk and returns its path and size.
func (l *Local) SaveOriginal(jobID, ext string, r io.Reader) (string, int64, error) {
	path := l.OriginalPath(jobID, ext)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create original: %w", err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("write original: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("close original: %w", err)
	}
	return path, n, nil
}

// RemoveJob deletes both artifacts of a job, ignoring files already gone.
func (l *Local) RemoveJob(jobID, ext string) error {
	var firstErr error
	for _, path := range []string{l.OriginalPath(jobID, ext), l.EnhancedPath(jobID, ext)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
