package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/velo-sh/rift/internal/events"
	"github.com/velo-sh/rift/internal/hashid"
	"github.com/velo-sh/rift/internal/logging"
	"github.com/velo-sh/rift/internal/metrics"
)

// GC reconciles the CAS store's actual blob set against the union of every
// registered workspace's manifest snapshot (the desired set), removing any
// blob that is reachable from no workspace and not currently held open.
func (d *Daemon) GC() (removed int, err error) {
	reachable := make(map[hashid.BlobRef]struct{})

	records, err := d.registry.List()
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		ws, werr := d.Workspace(rec.WorkspaceID)
		if werr != nil {
			return 0, werr
		}
		snap, serr := ws.manifest.Snapshot()
		if serr != nil {
			return 0, serr
		}
		for _, entry := range snap.Entries {
			if entry.Hash != "" {
				reachable[entry.BlobRef()] = struct{}{}
			}
		}
	}

	removed, err = d.cas.GC(reachable, d.fdCache.isOpen)
	d.statsMu.Lock()
	d.lastGCAt = time.Now()
	d.lastGCRemove = removed
	d.statsMu.Unlock()
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		metrics.CASGCRemovedTotal.Add(float64(removed))
	}
	d.events.Publish(&events.Event{Type: events.GCCompleted, Message: fmt.Sprintf("removed %d blob(s)", removed)})
	return removed, nil
}

// RunPeriodicGC starts a background goroutine running GC on every interval
// until ctx is cancelled.
func (d *Daemon) RunPeriodicGC(ctx context.Context, interval time.Duration) {
	log := logging.WithComponent("daemon")
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed, err := d.GC(); err != nil {
					log.Warn().Err(err).Msg("gc: cycle failed")
				} else if removed > 0 {
					log.Info().Int("removed", removed).Msg("gc: cycle complete")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
