package daemon

import (
	"context"
	"math/rand"
	"time"

	"github.com/velo-sh/rift/internal/events"
	"github.com/velo-sh/rift/internal/hashid"
	"github.com/velo-sh/rift/internal/logging"
)

// DefaultScrubSampleSize bounds how many blobs one background scrub cycle
// re-hashes, keeping a cycle cheap enough to run on a short interval even
// over a large store; over successive cycles the random sample covers the
// whole reachable set.
const DefaultScrubSampleSize = 64

// Scrub re-hashes a random sample of reachable blobs against their stored
// refs. A mismatch is escalated (logged, counted, published as an event),
// never repaired: the store does not rewrite blobs. sample <= 0 means
// verify every reachable blob.
func (d *Daemon) Scrub(sample int) (checked, failed int, err error) {
	log := logging.WithComponent("daemon")

	// Walk the registry rather than the in-memory workspace map, so a
	// freshly restarted daemon scrubs registered workspaces before any IPC
	// traffic has lazily opened them.
	records, err := d.registry.List()
	if err != nil {
		return 0, 0, err
	}
	reachable := make(map[hashid.BlobRef]struct{})
	for _, rec := range records {
		ws, werr := d.Workspace(rec.WorkspaceID)
		if werr != nil {
			return 0, 0, werr
		}
		snap, serr := ws.manifest.Snapshot()
		if serr != nil {
			return 0, 0, serr
		}
		for _, entry := range snap.Entries {
			if entry.Hash != "" {
				reachable[entry.BlobRef()] = struct{}{}
			}
		}
	}

	refs := make([]hashid.BlobRef, 0, len(reachable))
	for ref := range reachable {
		refs = append(refs, ref)
	}
	if sample > 0 && sample < len(refs) {
		rand.Shuffle(len(refs), func(i, j int) { refs[i], refs[j] = refs[j], refs[i] })
		refs = refs[:sample]
	}

	for _, ref := range refs {
		checked++
		if verr := d.cas.Verify(ref); verr != nil {
			failed++
			log.Error().Str("blob", ref.String()).Err(verr).Msg("scrub: integrity failure")
			d.events.Publish(&events.Event{Type: events.IntegrityFailure, Message: ref.String()})
		}
	}
	return checked, failed, nil
}

// RunPeriodicScrub starts a background goroutine running Scrub on every
// interval until ctx is cancelled.
func (d *Daemon) RunPeriodicScrub(ctx context.Context, interval time.Duration, sample int) {
	log := logging.WithComponent("daemon")
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if checked, failed, err := d.Scrub(sample); err != nil {
					log.Warn().Err(err).Msg("scrub: cycle failed")
				} else if failed > 0 {
					log.Error().Int("checked", checked).Int("failed", failed).Msg("scrub: cycle found corrupt blobs")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
