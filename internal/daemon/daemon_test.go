package daemon

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velo-sh/rift/internal/hashid"
	"github.com/velo-sh/rift/internal/vnode"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		DataDir:     root,
		CASRoot:     filepath.Join(root, "cas"),
		ManifestDir: filepath.Join(root, "manifests"),
		RegistryDir: filepath.Join(root, "registry"),
		StagingDir:  filepath.Join(root, "staging"),
	}
	require.NoError(t, os.MkdirAll(cfg.ManifestDir, 0o750))
	d, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRegisterWorkspace(t *testing.T) {
	d := newTestDaemon(t)
	ws, err := d.RegisterWorkspace(context.Background(), t.TempDir(), "/vrift")
	require.NoError(t, err)
	require.NotEmpty(t, ws.ID)

	rec, ok, err := d.registry.Get(ws.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ws.VFSPrefix, rec.VFSPrefix)
}

func TestWorkspaceLookupReopensAfterEviction(t *testing.T) {
	d := newTestDaemon(t)
	ws, err := d.RegisterWorkspace(context.Background(), t.TempDir(), "/vrift")
	require.NoError(t, err)

	d.workspaces.Delete(ws.ID)
	got, err := d.Workspace(ws.ID)
	require.NoError(t, err)
	require.Equal(t, ws.ID, got.ID)
}

func TestOpenForWriteEmptyOnTrunc(t *testing.T) {
	d := newTestDaemon(t)
	ws, err := d.RegisterWorkspace(context.Background(), t.TempDir(), "/vrift")
	require.NoError(t, err)

	handle, err := d.OpenForWrite(ws, "/vrift/new.txt", true)
	require.NoError(t, err)
	require.False(t, handle.Existed)

	info, err := os.Stat(handle.HostPath)
	require.NoError(t, err)
	require.Zero(t, info.Size())
}

func TestCommitWriteThenLookup(t *testing.T) {
	d := newTestDaemon(t)
	ws, err := d.RegisterWorkspace(context.Background(), t.TempDir(), "/vrift")
	require.NoError(t, err)

	handle, err := d.OpenForWrite(ws, "/vrift/hello.txt", true)
	require.NoError(t, err)

	content := []byte("hello from cow")
	require.NoError(t, os.WriteFile(handle.HostPath, content, 0o640))

	ref, err := hashid.HashReader(bytes.NewReader(content))
	require.NoError(t, err)

	require.NoError(t, d.CommitWrite(ws, handle, ref.Hash, ref.Size, 1000, 0o644))

	entry, found, err := ws.manifest.Lookup("/vrift/hello.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ref.Hash, entry.Hash)
	require.Equal(t, vnode.RegularFile, entry.Kind)

	_, err = os.Stat(handle.HostPath)
	require.True(t, os.IsNotExist(err), "staging file should be removed after commit")
}

// Retrying CommitWrite with identical (hash, size, mtime) is a no-op.
func TestCommitWriteIdempotentRetry(t *testing.T) {
	d := newTestDaemon(t)
	ws, err := d.RegisterWorkspace(context.Background(), t.TempDir(), "/vrift")
	require.NoError(t, err)

	content := []byte("idempotent content")
	ref, err := hashid.HashReader(bytes.NewReader(content))
	require.NoError(t, err)

	handle, err := d.OpenForWrite(ws, "/vrift/a.txt", true)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(handle.HostPath, content, 0o640))
	require.NoError(t, d.CommitWrite(ws, handle, ref.Hash, ref.Size, 42, 0o644))

	// Second commit for the same vpath with the same logical content but a
	// fresh staging file (as a retried client would produce).
	handle2, err := d.OpenForWrite(ws, "/vrift/a.txt", true)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(handle2.HostPath, content, 0o640))
	require.NoError(t, d.CommitWrite(ws, handle2, ref.Hash, ref.Size, 42, 0o644))

	entry, found, err := ws.manifest.Lookup("/vrift/a.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ref.Hash, entry.Hash)
}

func TestOpenForWriteCopiesExistingContentWithoutTrunc(t *testing.T) {
	d := newTestDaemon(t)
	ws, err := d.RegisterWorkspace(context.Background(), t.TempDir(), "/vrift")
	require.NoError(t, err)

	original := []byte("original content")
	ref, _, err := d.cas.Insert(bytes.NewReader(original))
	require.NoError(t, err)
	require.NoError(t, ws.applyCommand(Command{
		Op: CmdInsert, VPath: "/vrift/existing.txt", Hash: ref.Hash, Size: ref.Size, Mode: 0o644,
	}))

	handle, err := d.OpenForWrite(ws, "/vrift/existing.txt", false)
	require.NoError(t, err)
	require.True(t, handle.Existed)

	got, err := os.ReadFile(handle.HostPath)
	require.NoError(t, err)
	require.Equal(t, original, got)
}

func TestSweepOrphanedStagingRemovesOldFiles(t *testing.T) {
	d := newTestDaemon(t)
	ws, err := d.RegisterWorkspace(context.Background(), t.TempDir(), "/vrift")
	require.NoError(t, err)

	stale := filepath.Join(ws.stageDir, "stale.part")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o640))
	oldTime := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, oldTime, oldTime))

	fresh := filepath.Join(ws.stageDir, "fresh.part")
	require.NoError(t, os.WriteFile(fresh, []byte("y"), 0o640))

	removed := d.SweepOrphanedStaging(time.Hour)
	require.Equal(t, 1, removed)

	_, err = os.Stat(stale)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	require.NoError(t, err)
}

func TestGCRemovesUnreachableBlobs(t *testing.T) {
	d := newTestDaemon(t)
	ws, err := d.RegisterWorkspace(context.Background(), t.TempDir(), "/vrift")
	require.NoError(t, err)

	kept, _, err := d.cas.Insert(bytes.NewReader([]byte("kept")))
	require.NoError(t, err)
	require.NoError(t, ws.applyCommand(Command{
		Op: CmdInsert, VPath: "/vrift/kept.txt", Hash: kept.Hash, Size: kept.Size, Mode: 0o644,
	}))

	_, _, err = d.cas.Insert(bytes.NewReader([]byte("orphaned")))
	require.NoError(t, err)

	removed, err := d.GC()
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.True(t, d.cas.Exists(kept))
}

func TestScrubDetectsCorruptBlob(t *testing.T) {
	d := newTestDaemon(t)
	ws, err := d.RegisterWorkspace(context.Background(), t.TempDir(), "/vrift")
	require.NoError(t, err)

	ref, _, err := d.cas.Insert(bytes.NewReader([]byte("trust me")))
	require.NoError(t, err)
	require.NoError(t, ws.applyCommand(Command{
		Op: CmdInsert, VPath: "/vrift/a.txt", Hash: ref.Hash, Size: ref.Size, Mode: 0o644,
	}))

	checked, failed, err := d.Scrub(0)
	require.NoError(t, err)
	require.Equal(t, 1, checked)
	require.Zero(t, failed)

	blobPath, err := d.cas.GetPath(ref)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(blobPath, 0o644))
	require.NoError(t, os.WriteFile(blobPath, []byte("tampered"), 0o644))

	_, failed, err = d.Scrub(0)
	require.NoError(t, err)
	require.Equal(t, 1, failed)
}

func TestScrubSampleBoundsWork(t *testing.T) {
	d := newTestDaemon(t)
	ws, err := d.RegisterWorkspace(context.Background(), t.TempDir(), "/vrift")
	require.NoError(t, err)

	for i, content := range [][]byte{[]byte("one"), []byte("two"), []byte("three")} {
		ref, _, err := d.cas.Insert(bytes.NewReader(content))
		require.NoError(t, err)
		require.NoError(t, ws.applyCommand(Command{
			Op: CmdInsert, VPath: fmt.Sprintf("/vrift/f%d", i), Hash: ref.Hash, Size: ref.Size, Mode: 0o644,
		}))
	}

	checked, failed, err := d.Scrub(2)
	require.NoError(t, err)
	require.Equal(t, 2, checked)
	require.Zero(t, failed)
}

func TestFDCacheEvictsLRU(t *testing.T) {
	root := t.TempDir()
	c := newFDCache(2)

	mk := func(name string) *os.File {
		f, err := os.Create(filepath.Join(root, name))
		require.NoError(t, err)
		return f
	}
	refA := hashid.BlobRef{Hash: hashid.ContentHash("a00000000000000000000000000000000000000000000000000000000000000a"), Size: 1}
	refB := hashid.BlobRef{Hash: hashid.ContentHash("b00000000000000000000000000000000000000000000000000000000000000b"), Size: 1}
	refC := hashid.BlobRef{Hash: hashid.ContentHash("c00000000000000000000000000000000000000000000000000000000000000c"), Size: 1}

	c.put(refA, mk("a"))
	c.put(refB, mk("b"))
	c.put(refC, mk("c")) // evicts A (least recently used)

	_, ok := c.get(refA)
	require.False(t, ok)
	_, ok = c.get(refB)
	require.True(t, ok)
	_, ok = c.get(refC)
	require.True(t, ok)
}
