package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/m-b-davis/content-creator-voice-ai/pkg/logging"
)

// evictionCandidate is one artifact file that may be removed to free space.
type evictionCandidate struct {
	JobID     string
	FilePath  string
	SizeBytes uint64
	ModTime   time.Time
	Kind      string // "original" or "enhanced"
	Priority  float64
}

// CleanupMonitor evicts old artifacts when the storage volume runs hot.
// Eviction starts above the cleanup threshold and continues until usage
// drops below the target threshold; artifacts younger than the minimum
// retention are never touched.
type CleanupMonitor struct {
	logger logging.Logger
	local  *Local
	stopCh chan struct{}

	cleanupThreshold float64
	targetThreshold  float64
	minRetention     time.Duration
	checkInterval    time.Duration

	// replaceable for tests
	usage func(path string) (fraction float64, used, total uint64, err error)
}

// CleanupConfig tunes the monitor. Zero values take the defaults.
type CleanupConfig struct {
	CleanupThreshold float64       // default 0.90
	TargetThreshold  float64       // default 0.80
	MinRetention     time.Duration // default 1h
	CheckInterval    time.Duration // default 5m
}

// NewCleanupMonitor builds a monitor over a local artifact store.
func NewCleanupMonitor(local *Local, cfg CleanupConfig, logger logging.Logger) *CleanupMonitor {
	if cfg.CleanupThreshold <= 0 {
		cfg.CleanupThreshold = 0.90
	}
	if cfg.TargetThreshold <= 0 {
		cfg.TargetThreshold = 0.80
	}
	if cfg.MinRetention <= 0 {
		cfg.MinRetention = time.Hour
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Minute
	}

	return &CleanupMonitor{
		logger:           logger,
		local:            local,
		stopCh:           make(chan struct{}),
		cleanupThreshold: cfg.CleanupThreshold,
		targetThreshold:  cfg.TargetThreshold,
		minRetention:     cfg.MinRetention,
		checkInterval:    cfg.CheckInterval,
		usage:            filesystemUsage,
	}
}

// Start begins the background check loop.
func (cm *CleanupMonitor) Start() {
	go cm.loop()

	cm.logger.WithFields(logging.Fields{
		"root":              cm.local.Root,
		"cleanup_threshold": cm.cleanupThreshold,
		"target_threshold":  cm.targetThreshold,
		"min_retention":     cm.minRetention,
		"check_interval":    cm.checkInterval,
	}).Info("Artifact cleanup monitor started")
}

// Stop terminates the check loop.
func (cm *CleanupMonitor) Stop() {
	close(cm.stopCh)
}

func (cm *CleanupMonitor) loop() {
	ticker := time.NewTicker(cm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cm.stopCh:
			return
		case <-ticker.C:
			if err := cm.checkAndCleanup(); err != nil {
				cm.logger.WithError(err).Error("Artifact cleanup check failed")
			}
		}
	}
}

func (cm *CleanupMonitor) checkAndCleanup() error {
	fraction, used, total, err := cm.usage(cm.local.Root)
	if err != nil {
		return fmt.Errorf("storage usage: %w", err)
	}

	if fraction < cm.cleanupThreshold {
		return nil
	}

	cm.logger.WithFields(logging.Fields{
		"usage_percent": fraction * 100,
		"used_gb":       float64(used) / (1024 * 1024 * 1024),
		"total_gb":      float64(total) / (1024 * 1024 * 1024),
	}).Info("Storage above threshold, evicting artifacts")

	targetBytes := uint64(float64(total) * cm.targetThreshold)
	bytesToFree := used - targetBytes

	candidates := cm.gatherCandidates()
	if len(candidates) == 0 {
		cm.logger.Warn("No eviction candidates despite high storage usage")
		return nil
	}

	var freed uint64
	var evicted int
	for _, c := range pickEvictions(candidates, bytesToFree) {
		if err := os.Remove(c.FilePath); err != nil {
			cm.logger.WithError(err).WithField("path", c.FilePath).Error("Failed to evict artifact")
			continue
		}
		freed += c.SizeBytes
		evicted++
		cm.logger.WithFields(logging.Fields{
			"job_id":  c.JobID,
			"kind":    c.Kind,
			"size_mb": float64(c.SizeBytes) / (1024 * 1024),
		}).Info("Evicted artifact")
	}

	cm.logger.WithFields(logging.Fields{
		"evicted_count": evicted,
		"freed_mb":      float64(freed) / (1024 * 1024),
	}).Info("Artifact cleanup completed")
	return nil
}

// gatherCandidates lists evictable artifact files older than the minimum
// retention, oldest work first.
func (cm *CleanupMonitor) gatherCandidates() []evictionCandidate {
	minAge := time.Now().Add(-cm.minRetention)
	var out []evictionCandidate

	for _, kind := range []string{"originals", "enhanced"} {
		dir := filepath.Join(cm.local.Root, kind)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(minAge) {
				continue
			}
			name := entry.Name()
			c := evictionCandidate{
				JobID:     name[:len(name)-len(filepath.Ext(name))],
				FilePath:  filepath.Join(dir, name),
				SizeBytes: uint64(info.Size()),
				ModTime:   info.ModTime(),
				Kind:      kind[:len(kind)-1],
			}
			c.Priority = evictionPriority(c)
			out = append(out, c)
		}
	}
	return out
}

// evictionPriority scores a candidate; lower scores are evicted first.
// Older and larger artifacts go first, mirroring what a creator would least
// mind losing from a cache of processed videos.
func evictionPriority(c evictionCandidate) float64 {
	ageDays := time.Since(c.ModTime).Hours() / 24.0
	sizeMB := float64(c.SizeBytes) / (1024 * 1024)
	return 1.0 / (1.0 + ageDays + sizeMB/100.0)
}

// pickEvictions returns candidates in eviction order up to the requested
// number of bytes.
func pickEvictions(candidates []evictionCandidate, bytesToFree uint64) []evictionCandidate {
	sorted := make([]evictionCandidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	var out []evictionCandidate
	var sum uint64
	for _, c := range sorted {
		if sum >= bytesToFree {
			break
		}
		out = append(out, c)
		sum += c.SizeBytes
	}
	return out
}

// filesystemUsage reports used fraction, used bytes and total bytes of the
// filesystem containing path.
func filesystemUsage(path string) (float64, uint64, uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, 0, err
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	used := total - free

	return float64(used) / float64(total), used, total, nil
}
