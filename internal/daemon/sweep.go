package daemon

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/velo-sh/rift/internal/logging"
	"github.com/velo-sh/rift/internal/metrics"
)

// SweepOrphanedStaging scans STAGING/*/* and removes any staging file
// older than ttl. Safe to call concurrently with active writes: only files
// whose mtime predates the cutoff are removed, so an in-progress
// OpenForWrite/CommitWrite is left untouched while files orphaned by a
// client crash are reclaimed.
func (d *Daemon) SweepOrphanedStaging(ttl time.Duration) int {
	log := logging.WithComponent("daemon")
	workspaceDirs, err := os.ReadDir(d.cfg.StagingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", d.cfg.StagingDir).Msg("sweep: readdir staging root failed")
		}
		return 0
	}

	cutoff := time.Now().Add(-ttl)
	var removed int
	for _, wd := range workspaceDirs {
		if !wd.IsDir() {
			continue
		}
		wsDir := filepath.Join(d.cfg.StagingDir, wd.Name())
		files, err := os.ReadDir(wsDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			info, err := f.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				path := filepath.Join(wsDir, f.Name())
				if err := os.Remove(path); err != nil {
					log.Warn().Err(err).Str("path", path).Msg("sweep: remove failed")
					continue
				}
				removed++
			}
		}
	}
	if removed > 0 {
		metrics.OrphanSweepRemovedTotal.Add(float64(removed))
		log.Info().Int("removed", removed).Msg("sweep: cycle complete")
	}
	return removed
}

// RunPeriodicSweep starts a background goroutine running
// SweepOrphanedStaging immediately and then on every interval until ctx is
// cancelled.
func (d *Daemon) RunPeriodicSweep(ctx context.Context, ttl, interval time.Duration) {
	go func() {
		d.SweepOrphanedStaging(ttl)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.SweepOrphanedStaging(ttl)
			case <-ctx.Done():
				return
			}
		}
	}()
}
