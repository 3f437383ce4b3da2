package services

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/firmscope/backend/internal/config"
	"github.com/firmscope/backend/internal/logger"
)

const bytesPerGB = 1 << 30

// StorageService keeps total disk usage of the upload and results trees
// under the configured quota. Above 90% of the quota it evicts the oldest
// result sets; a scheduled loop also runs an unconditional retention sweep.
type StorageService struct {
	uploadDir   string
	resultsDir  string
	maxGB       float64
	cleanupDays int
	interval    time.Duration

	mu sync.Mutex // one reclaim pass at a time
}

func NewStorageService(cfg *config.Config) *StorageService {
	return &StorageService{
		uploadDir:   cfg.Storage.UploadDir,
		resultsDir:  cfg.Storage.ResultsDir,
		maxGB:       cfg.Storage.MaxStorageGB,
		cleanupDays: cfg.Storage.CleanupDays,
		interval:    cfg.Storage.CleanupInterval,
	}
}

// DirSize sums regular-file sizes under path. Entries that vanish during
// the walk (a job finishing, a concurrent delete) are skipped, not errors.
func DirSize(path string) int64 {
	var total int64
	filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// TotalUsageGB reports combined usage of the managed trees in binary GB.
func (s *StorageService) TotalUsageGB() float64 {
	var total int64
	for _, dir := range []string{s.uploadDir, s.resultsDir} {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		total += DirSize(dir)
	}
	return float64(total) / bytesPerGB
}

// CleanupOldResults removes every top-level results subdirectory whose
// modification time is older than daysThreshold days, returning the number
// of directories removed and the bytes freed. A threshold of 0 evicts
// everything.
func (s *StorageService) CleanupOldResults(daysThreshold int) (int, int64) {
	logger.Info("Running cleanup for old results", map[string]interface{}{
		"results_dir":    s.resultsDir,
		"days_threshold": daysThreshold,
	})

	entries, err := os.ReadDir(s.resultsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("Failed to read results directory", map[string]interface{}{
				"path":  s.resultsDir,
				"error": err.Error(),
			})
		}
		return 0, 0
	}

	cutoff := time.Now().AddDate(0, 0, -daysThreshold)
	var count int
	var freed int64
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.resultsDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue // vanished mid-sweep
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		size := DirSize(path)
		if err := os.RemoveAll(path); err != nil {
			logger.Error("Failed to remove old result set", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		count++
		freed += size
		logger.Info("Removed old result set", map[string]interface{}{
			"path":          path,
			"last_modified": info.ModTime().Format(time.RFC3339),
			"bytes":         size,
		})
	}

	logger.Info("Cleanup completed", map[string]interface{}{
		"removed":  count,
		"freed_mb": fmt.Sprintf("%.2f", float64(freed)/(1<<20)),
	})
	return count, freed
}

// CheckAndReclaim measures usage and, above 90% of the quota, evicts old
// result sets. If the normal sweep frees nothing it retries with half the
// threshold; if usage is still high after that, the condition is logged and
// the system keeps running over quota rather than deleting active jobs'
// data. Returns whether a reclaim pass ran.
func (s *StorageService) CheckAndReclaim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage := s.TotalUsageGB()
	logger.Info("Current storage usage", map[string]interface{}{
		"usage_gb": fmt.Sprintf("%.2f", usage),
		"max_gb":   s.maxGB,
	})

	if usage <= s.maxGB*0.9 {
		return false
	}

	logger.Warn("Storage usage high, starting cleanup", map[string]interface{}{
		"usage_gb": fmt.Sprintf("%.2f", usage),
	})

	count, _ := s.CleanupOldResults(s.cleanupDays)
	if count == 0 {
		logger.Warn("No results removed at normal threshold, retrying with a stricter one", map[string]interface{}{
			"days_threshold": s.cleanupDays / 2,
		})
		s.CleanupOldResults(s.cleanupDays / 2)

		if after := s.TotalUsageGB(); after > s.maxGB*0.9 {
			logger.Error("Storage still over threshold after cleanup, continuing over quota", map[string]interface{}{
				"usage_gb": fmt.Sprintf("%.2f", after),
				"max_gb":   s.maxGB,
			})
		}
	}
	return true
}

// StartScheduledCleanup runs the maintenance loop until stop is closed.
// Each tick performs the threshold-triggered reclaim plus an unconditional
// retention sweep; a failing iteration is logged and never ends the loop.
func (s *StorageService) StartScheduledCleanup(stop <-chan struct{}) {
	go func() {
		logger.Info("Scheduled cleanup worker started", map[string]interface{}{
			"interval": s.interval.String(),
		})
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runMaintenance()
			case <-stop:
				logger.Info("Scheduled cleanup worker stopping", nil)
				return
			}
		}
	}()
}

func (s *StorageService) runMaintenance() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Cleanup iteration panicked", map[string]interface{}{
				"panic": fmt.Sprint(r),
			})
		}
	}()

	s.CheckAndReclaim()
	if s.cleanupDays > 0 {
		s.CleanupOldResults(s.cleanupDays)
	}
}
