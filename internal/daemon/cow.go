package daemon

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/velo-sh/rift/internal/events"
	"github.com/velo-sh/rift/internal/hashid"
	"github.com/velo-sh/rift/internal/manifest"
	"github.com/velo-sh/rift/internal/metrics"
	"github.com/velo-sh/rift/internal/vfserr"
	"github.com/velo-sh/rift/internal/vnode"
)

// StagingHandle is returned by OpenForWrite: the real host path the Shim
// opens directly for subsequent writes, plus the Manifest entry (if any)
// that existed before the copy-on-write began.
type StagingHandle struct {
	WorkspaceID  string
	VPath        string
	HostPath     string
	OriginalSize int64
	Existed      bool
}

// OpenForWrite materializes a private staging copy of vpath's current
// content (or an empty file, for O_TRUNC) and returns the host path the
// Shim opens directly.
func (d *Daemon) OpenForWrite(ws *Workspace, vpath string, truncate bool) (StagingHandle, error) {
	stagePath := filepath.Join(ws.stageDir, uuid.NewString()+".part")

	entry, found, err := ws.manifest.Lookup(vpath)
	if err != nil {
		return StagingHandle{}, fmt.Errorf("daemon: lookup for cow: %w", err)
	}

	f, err := os.OpenFile(stagePath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return StagingHandle{}, fmt.Errorf("daemon: create staging file: %w", err)
	}
	defer f.Close()

	if found && !truncate && entry.Kind == vnode.RegularFile {
		src, err := d.cas.Read(entry.BlobRef())
		if err != nil {
			os.Remove(stagePath) //nolint:errcheck
			return StagingHandle{}, fmt.Errorf("daemon: open original blob: %w", err)
		}
		_, copyErr := io.Copy(f, src)
		src.Close()
		if copyErr != nil {
			os.Remove(stagePath) //nolint:errcheck
			return StagingHandle{}, fmt.Errorf("daemon: copy original into staging: %w", copyErr)
		}
	}

	metrics.StagingFilesTotal.Inc()
	return StagingHandle{
		WorkspaceID:  ws.ID,
		VPath:        vpath,
		HostPath:     stagePath,
		OriginalSize: entry.Size,
		Existed:      found,
	}, nil
}

// CommitWrite ingests the staging file named by handle into CAS, updates
// the Manifest atomically via applyCommand(CmdCommitWrite), and removes
// the staging file. Retried with identical (hash, size, mtimeNS) on an
// already-applied entry it is a no-op; a concurrent commit on the same
// (workspace, vpath) that arrived later wins (last-writer-wins by commit
// order, see arbitration.go).
func (d *Daemon) CommitWrite(ws *Workspace, handle StagingHandle, hash hashid.ContentHash, size int64, mtimeNS int64, mode uint32) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CommitDuration)

	if existing, found, err := ws.manifest.Lookup(handle.VPath); err == nil && found {
		if existing.Hash == hash && existing.Size == size && existing.MtimeNS == mtimeNS {
			os.Remove(handle.HostPath) //nolint:errcheck
			metrics.StagingFilesTotal.Dec()
			return nil
		}
	}

	_, commit := d.arbiter.begin(ws.ID, handle.VPath)

	f, err := os.Open(handle.HostPath)
	if err != nil {
		return vfserr.New(vfserr.Internal, "daemon.CommitWrite", handle.HostPath, err)
	}
	ref, isNew, err := d.cas.Insert(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("daemon: insert staged content: %w", err)
	}
	if isNew {
		metrics.CASInsertsTotal.WithLabelValues("new").Inc()
	} else {
		metrics.CASInsertsTotal.WithLabelValues("dedup_hit").Inc()
	}
	if ref.Hash != hash || ref.Size != size {
		return vfserr.New(vfserr.IntegrityError, "daemon.CommitWrite", handle.VPath,
			fmt.Errorf("recomputed %s (%d bytes) does not match claimed %s (%d bytes)", ref.Hash, ref.Size, hash, size))
	}

	if superseded := commit(); superseded {
		os.Remove(handle.HostPath) //nolint:errcheck
		metrics.StagingFilesTotal.Dec()
		return nil
	}

	cmd := Command{
		Op:      CmdCommitWrite,
		VPath:   handle.VPath,
		Mode:    mode,
		Hash:    ref.Hash,
		Size:    ref.Size,
		MtimeNS: mtimeNS,
	}
	if err := ws.applyCommand(cmd); err != nil {
		return fmt.Errorf("daemon: apply commit: %w", err)
	}

	if err := os.Remove(handle.HostPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("daemon: remove staging file: %w", err)
	}
	metrics.StagingFilesTotal.Dec()
	d.events.Publish(&events.Event{Type: events.CommitApplied, WorkspaceID: ws.ID, Message: handle.VPath})
	return d.publishSnapshot(ws)
}

// publishSnapshot flattens ws's manifest and publishes a new snapshot, the
// step that makes a commit visible to other processes consulting the same
// workspace's snapshot.
func (d *Daemon) publishSnapshot(ws *Workspace) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ManifestSnapshotPublishDuration)

	snap, err := ws.manifest.Snapshot()
	if err != nil {
		return fmt.Errorf("daemon: snapshot: %w", err)
	}
	snapDir := filepath.Join(d.cfg.ManifestDir, ws.ID+"-snapshots")
	if _, err := manifest.PublishSnapshot(snapDir, snap); err != nil {
		return fmt.Errorf("daemon: publish snapshot: %w", err)
	}
	metrics.ManifestGeneration.WithLabelValues(ws.ID).Set(float64(snap.Generation))
	d.events.Publish(&events.Event{Type: events.SnapshotPublished, WorkspaceID: ws.ID})
	return nil
}
