package shimcore

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/velo-sh/rift/internal/hashid"
	"github.com/velo-sh/rift/internal/manifest"
	"github.com/velo-sh/rift/internal/protocol"
	"github.com/velo-sh/rift/internal/vfserr"
	"github.com/velo-sh/rift/internal/vnode"
)

// Engine is the Shim's per-process logic engine: the single object
// cmd/vriftshim's exported C symbols call into once InitGuard reports
// StateReady. It owns no file descriptors itself (the C layer does, via the
// real libc symbols); Engine only decides what those symbols should do.
type Engine struct {
	Prefix      string
	WorkspaceID string
	Client      *protocol.Client

	// SnapshotDir, when set, names the Daemon-published snapshot directory
	// (VRIFT_VDIR_MMAP) this Engine reloads its read view from after a
	// mutation it performed itself.
	SnapshotDir string

	FDs   *FDTable
	Locks *LockTable

	snapshot atomic.Pointer[manifest.Snapshot]
}

// NewEngine constructs an Engine. snapshot may be nil until the first
// RefreshSnapshot call; lookups before then fall through to the Daemon RPC.
func NewEngine(prefix, workspaceID string, client *protocol.Client) *Engine {
	return &Engine{
		Prefix:      prefix,
		WorkspaceID: workspaceID,
		Client:      client,
		FDs:         NewFDTable(),
		Locks:       NewLockTable(),
	}
}

// RefreshSnapshot installs a newly loaded Manifest snapshot, the Shim-side
// counterpart of the Daemon's publishSnapshot: cmd/vriftshim loads the
// snapshot named by the directory's generation header and calls this once a
// newer generation appears.
func (e *Engine) RefreshSnapshot(snap *manifest.Snapshot) {
	e.snapshot.Store(snap)
}

// revisitSnapshot is called after this Engine successfully mutated the
// Manifest through the Daemon. The commit published a new snapshot
// generation, so the loaded view is stale; reload it from SnapshotDir, or
// drop it entirely so lookups fall back to the Daemon until a fresh view is
// installed. Either way the open-write-close-open sequence within one
// process observes the new entry.
func (e *Engine) revisitSnapshot() {
	if e.snapshot.Load() == nil {
		return
	}
	if e.SnapshotDir != "" {
		if gen, err := manifest.ReadGenerationHeader(e.SnapshotDir); err == nil {
			if snap, err := manifest.LoadSnapshot(e.SnapshotDir, gen); err == nil {
				e.snapshot.Store(snap)
				return
			}
		}
	}
	e.snapshot.Store(nil)
}

func (e *Engine) lookup(vpath string) (vnode.Entry, bool, error) {
	if snap := e.snapshot.Load(); snap != nil {
		if entry, ok := snap.Entries[vpath]; ok {
			return entry, true, nil
		}
		// Absence in a loaded snapshot is authoritative: a consulted
		// snapshot is the source of truth for virtual paths, never followed
		// by a second round-trip per lookup.
		return vnode.Entry{}, false, nil
	}
	resp, err := e.Client.Call(&protocol.Request{
		Op: protocol.OpLookup, WorkspaceID: e.WorkspaceID, VPath: vpath,
	})
	if err != nil {
		return vnode.Entry{}, false, vfserr.New(vfserr.DaemonUnreachable, "shimcore.lookup", vpath, err)
	}
	if resp.Status == protocol.StatusNotFound {
		return vnode.Entry{}, false, nil
	}
	if resp.Status != protocol.StatusOK {
		return vnode.Entry{}, false, resp.Err()
	}
	return vnode.Entry{
		Mode: resp.Mode, Size: resp.Size, MtimeNS: resp.MtimeNS,
		Hash: resp.Hash, Kind: vnode.Kind(resp.Kind), SymlinkTarget: resp.SymlinkTarget,
	}, true, nil
}

// Stat resolves vpath against the current snapshot (or the Daemon, as a
// fallback) and returns its entry without following a symlink, the lstat
// half of the stat pair. Virtualizing st_dev/st_ino is left to
// cmd/vriftshim since those are populated directly into a C struct stat
// the Go layer never sees.
func (e *Engine) Stat(vpath string) (vnode.Entry, error) {
	entry, found, err := e.lookup(vpath)
	if err != nil {
		return vnode.Entry{}, err
	}
	if !found {
		return vnode.Entry{}, vfserr.New(vfserr.NotFound, "shimcore.Stat", vpath, fmt.Errorf("no such entry"))
	}
	return entry, nil
}

// maxSymlinkDepth bounds symlink chain resolution, the POSIX-style cycle
// protection a stored-literal-target scheme relies on.
const maxSymlinkDepth = 40

// ErrSymlinkLoop reports a symlink chain longer than maxSymlinkDepth;
// cmd/vriftshim maps it to ELOOP.
var ErrSymlinkLoop = errors.New("too many levels of symbolic links")

// StatFollow resolves vpath through the Manifest, following symlink
// entries to the target they name, the stat(2) half of the stat pair.
// Returns the final entry plus the vpath it lives at, so st_ino can be
// derived from the resolved path rather than the link's. A chain that
// leaves the virtual tree resolves to NotFound, never to a host path.
func (e *Engine) StatFollow(vpath string) (vnode.Entry, string, error) {
	cur := vpath
	for i := 0; i < maxSymlinkDepth; i++ {
		entry, err := e.Stat(cur)
		if err != nil {
			return vnode.Entry{}, "", err
		}
		if entry.Kind != vnode.Symlink {
			return entry, cur, nil
		}
		target := entry.SymlinkTarget
		if !strings.HasPrefix(target, "/") {
			target = vnode.Join(vnode.Parent(cur), target)
		}
		clean, ok := vnode.Canonicalize(e.Prefix, target)
		if !ok {
			return vnode.Entry{}, "", vfserr.New(vfserr.NotFound, "shimcore.StatFollow", cur,
				fmt.Errorf("symlink target %q leaves the virtual tree", entry.SymlinkTarget))
		}
		cur = clean
	}
	return vnode.Entry{}, "", fmt.Errorf("shimcore: resolve %q: %w", vpath, ErrSymlinkLoop)
}

// OpenResult tells cmd/vriftshim's open() replacement what host path to
// hand the real open symbol, and how to populate the fd table entry.
type OpenResult struct {
	HostPath    string
	WriteIntent bool
	Record      *OpenFileRecord
}

// OpenRead resolves a read-intent open: the virtual path must resolve,
// symlinks followed, to an existing regular-file entry, and the Shim opens
// its CAS blob path directly: the read fast path takes no Daemon round
// trip once the CAS path is known, only the snapshot lookup above. The
// record carries the resolved vpath so fstat on the returned fd reports
// the target's metadata, as open(2) through a symlink does.
func (e *Engine) OpenRead(vpath string, casPathForHash func(hashid.ContentHash, int64) string) (OpenResult, error) {
	entry, resolved, err := e.StatFollow(vpath)
	if err != nil {
		return OpenResult{}, err
	}
	if entry.Kind == vnode.Directory {
		return OpenResult{}, vfserr.New(vfserr.IsADirectory, "shimcore.OpenRead", vpath, fmt.Errorf("is a directory"))
	}
	hostPath := casPathForHash(entry.Hash, entry.Size)
	return OpenResult{
		HostPath: hostPath,
		Record:   &OpenFileRecord{VPath: resolved, WorkspaceID: e.WorkspaceID, Mode: entry.Mode},
	}, nil
}

// OpenWrite requests a CoW staging copy from the Daemon for a write-intent
// open. excl mirrors O_EXCL: the Daemon rejects the call with
// vfserr.Exists if vpath already has a Manifest entry.
func (e *Engine) OpenWrite(vpath string, truncate, excl bool, mode uint32) (OpenResult, error) {
	resp, err := e.Client.Call(&protocol.Request{
		Op: protocol.OpOpenForWrite, WorkspaceID: e.WorkspaceID,
		VPath: vpath, Truncate: truncate, Excl: excl, Mode: mode,
	})
	if err != nil {
		return OpenResult{}, vfserr.New(vfserr.DaemonUnreachable, "shimcore.OpenWrite", vpath, err)
	}
	if resp.Status != protocol.StatusOK {
		return OpenResult{}, resp.Err()
	}
	return OpenResult{
		HostPath:    resp.HostPath,
		WriteIntent: true,
		Record: &OpenFileRecord{
			VPath: vpath, WorkspaceID: e.WorkspaceID,
			WriteIntent: true, StagingPath: resp.HostPath, Mode: mode,
		},
	}, nil
}

// CloseWritten finalizes a dirty write-intent descriptor on close(2): issue
// CommitWrite for ref, the staging file's final content hash, which the
// caller computes. Called only when
// FDTable.Remove reports this was the last reference to rec and rec.Dirty
// is true.
func (e *Engine) CloseWritten(rec *OpenFileRecord, ref hashid.BlobRef, mtimeNS int64) error {
	resp, err := e.Client.Call(&protocol.Request{
		Op: protocol.OpCommitWrite, WorkspaceID: e.WorkspaceID,
		VPath: rec.VPath, StagingHandle: rec.StagingPath,
		Hash: ref.Hash, Size: ref.Size, MtimeNS: mtimeNS, Mode: rec.Mode,
	})
	if err != nil {
		return vfserr.New(vfserr.DaemonUnreachable, "shimcore.CloseWritten", rec.VPath, err)
	}
	if resp.Status != protocol.StatusOK {
		return resp.Err()
	}
	e.revisitSnapshot()
	return nil
}

func (e *Engine) mutate(op protocol.Opcode, req *protocol.Request) error {
	req.Op = op
	req.WorkspaceID = e.WorkspaceID
	resp, err := e.Client.Call(req)
	if err != nil {
		return vfserr.New(vfserr.DaemonUnreachable, "shimcore.mutate", req.VPath, err)
	}
	if resp.Status != protocol.StatusOK {
		return resp.Err()
	}
	e.revisitSnapshot()
	return nil
}

// Mkdir issues a CmdMkdir-backed RPC for vpath.
func (e *Engine) Mkdir(vpath string, mode uint32) error {
	return e.mutate(protocol.OpMkdir, &protocol.Request{VPath: vpath, Mode: mode})
}

// Remove issues a removal RPC for vpath (unlink or rmdir, undifferentiated
// at this layer; the Daemon's Manifest.Remove handles both entry kinds).
func (e *Engine) Remove(vpath string) error {
	return e.mutate(protocol.OpRemove, &protocol.Request{VPath: vpath})
}

// Rename issues a rename RPC from oldVpath to newVpath, both already
// resolved and confirmed to share the same vfs_prefix by the caller; a
// rename across two different virtual filesystems, or between a virtual
// and a real path, must fail with CrossDevice before this call.
func (e *Engine) Rename(oldVpath, newVpath string) error {
	return e.mutate(protocol.OpRename, &protocol.Request{VPath: oldVpath, NewVPath: newVpath})
}

// Symlink issues a symlink RPC creating vpath pointing at target.
func (e *Engine) Symlink(vpath, target string, mode uint32) error {
	return e.mutate(protocol.OpSymlink, &protocol.Request{VPath: vpath, SymlinkTarget: target, Mode: mode})
}

// Readlink resolves the symlink target for vpath without a Daemon round
// trip when a snapshot is loaded.
func (e *Engine) Readlink(vpath string) (string, error) {
	entry, found, err := e.lookup(vpath)
	if err != nil {
		return "", err
	}
	if !found || entry.Kind != vnode.Symlink {
		return "", vfserr.New(vfserr.NotFound, "shimcore.Readlink", vpath, fmt.Errorf("not a symlink"))
	}
	return entry.SymlinkTarget, nil
}

// Chmod issues a chmod RPC for vpath.
func (e *Engine) Chmod(vpath string, mode uint32) error {
	return e.mutate(protocol.OpChmod, &protocol.Request{VPath: vpath, Mode: mode})
}

// Utime issues an utimes RPC for vpath.
func (e *Engine) Utime(vpath string, mtimeNS int64) error {
	return e.mutate(protocol.OpUtime, &protocol.Request{VPath: vpath, MtimeNS: mtimeNS})
}

// Readdir builds a DirStream for vpath, consulting the loaded snapshot if
// present or a Daemon RPC otherwise.
func (e *Engine) Readdir(vpath string) (*DirStream, error) {
	if snap := e.snapshot.Load(); snap != nil {
		return NewDirStream(snap, vpath), nil
	}
	resp, err := e.Client.Call(&protocol.Request{Op: protocol.OpReaddir, WorkspaceID: e.WorkspaceID, VPath: vpath})
	if err != nil {
		return nil, vfserr.New(vfserr.DaemonUnreachable, "shimcore.Readdir", vpath, err)
	}
	if resp.Status != protocol.StatusOK {
		return nil, resp.Err()
	}
	snap := &manifest.Snapshot{Entries: make(map[string]vnode.Entry, len(resp.Entries))}
	for _, de := range resp.Entries {
		snap.Entries[vnode.Join(vpath, de.Name)] = vnode.Entry{Mode: de.Mode, Kind: vnode.Kind(de.Kind)}
	}
	return NewDirStream(snap, vpath), nil
}
