// Package integration exercises the seven seed scenarios end to end
// against a real daemon.Daemon, cas.Store, and manifest.Manifest wired
// together over a real internal/protocol Unix socket. No cgo shim runs in
// this process (a c-shared library cannot load into the go test binary),
// so the interposition boundary itself is simulated by driving
// internal/shimcore.Engine directly, the same entry point cmd/vriftshim's
// exported C symbols call into.
package integration

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velo-sh/rift/internal/daemon"
	"github.com/velo-sh/rift/internal/hashid"
	"github.com/velo-sh/rift/internal/protocol"
	"github.com/velo-sh/rift/internal/shimcore"
)

// statusKind lets a test branch on a protocol remote error's wire Status
// without depending on protocol's unexported remoteError type, mirroring
// cmd/vriftshim/errno.go's own structural probe.
type statusKind interface{ Status() protocol.Status }

type harness struct {
	d      *daemon.Daemon
	ws     *daemon.Workspace
	engine *shimcore.Engine
	client *protocol.Client
}

func newHarness(t *testing.T, vfsPrefix string) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := daemon.Config{
		DataDir:     root,
		CASRoot:     filepath.Join(root, "cas"),
		ManifestDir: filepath.Join(root, "manifests"),
		RegistryDir: filepath.Join(root, "registry"),
		StagingDir:  filepath.Join(root, "staging"),
	}
	require.NoError(t, os.MkdirAll(cfg.ManifestDir, 0o750))

	d, err := daemon.New(cfg)
	require.NoError(t, err)

	ws, err := d.RegisterWorkspace(context.Background(), t.TempDir(), vfsPrefix)
	require.NoError(t, err)

	socketPath := filepath.Join(root, "vriftd.sock")
	srv := &protocol.Server{SocketPath: socketPath, Handler: daemon.NewIPCHandler(d)}
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx) //nolint:errcheck

	client, err := protocol.Dial(socketPath)
	require.NoError(t, err)

	engine := shimcore.NewEngine(vfsPrefix, ws.ID, client)

	t.Cleanup(func() {
		cancel()
		client.Close() //nolint:errcheck
		srv.Close()    //nolint:errcheck
		d.Close()      //nolint:errcheck
	})
	return &harness{d: d, ws: ws, engine: engine, client: client}
}

// ingest drives the same OpenWrite -> write -> hash -> CloseWritten path
// cmd/vriftshim's open()/close() replacements drive for a write-intent fd,
// standing in for the cgo layer this test cannot load.
func (h *harness) ingest(t *testing.T, vpath string, content []byte, mode uint32) hashid.BlobRef {
	t.Helper()
	result, err := h.engine.OpenWrite(vpath, true, false, mode)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(result.HostPath, content, 0o640))
	ref, err := hashid.HashReader(bytes.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, h.engine.CloseWritten(result.Record, ref, time.Now().UnixNano()))
	return ref
}

// Scenario 1: read-only projection of a known blob.
func TestScenario1ReadOnlyProjection(t *testing.T) {
	h := newHarness(t, "/vrift")
	content := []byte("Hello Velo\n")
	ref := h.ingest(t, "/vrift/hello.txt", content, 0o444)

	entry, err := h.engine.Stat("/vrift/hello.txt")
	require.NoError(t, err)
	require.EqualValues(t, len(content), entry.Size)
	require.Equal(t, uint32(0o444), entry.Mode)

	blobPath, err := h.d.CAS().GetPath(ref)
	require.NoError(t, err)
	info, err := os.Stat(blobPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	data, err := os.ReadFile(blobPath)
	require.NoError(t, err)
	require.Equal(t, content, data)
}

// Scenario 2: copy-on-write preserves the original CAS blob.
func TestScenario2CowPreservesCAS(t *testing.T) {
	h := newHarness(t, "/vrift")
	original := []byte("Hello Velo\n")
	origRef := h.ingest(t, "/vrift/hello.txt", original, 0o644)

	origBlobPath, err := h.d.CAS().GetPath(origRef)
	require.NoError(t, err)
	origData, err := os.ReadFile(origBlobPath)
	require.NoError(t, err)

	result, err := h.engine.OpenWrite("/vrift/hello.txt", false, false, 0o644)
	require.NoError(t, err)
	staged, err := os.ReadFile(result.HostPath)
	require.NoError(t, err)
	require.Equal(t, original, staged)

	mutated := append([]byte("HACK"), staged[4:]...)
	require.NoError(t, os.WriteFile(result.HostPath, mutated, 0o640))
	newRef, err := hashid.HashReader(bytes.NewReader(mutated))
	require.NoError(t, err)
	require.NoError(t, h.engine.CloseWritten(result.Record, newRef, time.Now().UnixNano()))
	require.NotEqual(t, origRef.Hash, newRef.Hash)

	stillData, err := os.ReadFile(origBlobPath)
	require.NoError(t, err)
	require.Equal(t, origData, stillData)

	entry, err := h.engine.Stat("/vrift/hello.txt")
	require.NoError(t, err)
	require.Equal(t, newRef.Hash, entry.Hash)
}

// Scenario 3: opening a 0444 entry for write is rejected with
// PermissionDenied, the Daemon-side check handleOpenForWrite performs.
func TestScenario3PermissionDeniedOnReadOnlyEntry(t *testing.T) {
	h := newHarness(t, "/vrift")
	h.ingest(t, "/vrift/readonly.txt", []byte("static"), 0o444)

	_, err := h.engine.OpenWrite("/vrift/readonly.txt", false, false, 0o444)
	require.Error(t, err)
	var sk statusKind
	require.ErrorAs(t, err, &sk)
	require.Equal(t, protocol.StatusPermissionDenied, sk.Status())
}

// Scenario 4: a rename straddling the virtual/real boundary is the
// condition cmd/vriftshim's rename() replacement maps to EXDEV; the
// resolution classification it keys that decision on is exercised here
// since the cgo-level syscall itself cannot run inside go test.
func TestScenario4CrossDeviceRenameDetection(t *testing.T) {
	h := newHarness(t, "/vrift")
	h.ingest(t, "/vrift/a", []byte("x"), 0o644)

	oldRes := shimcore.Resolve(h.engine.Prefix, "/vrift/a")
	newRes := shimcore.Resolve(h.engine.Prefix, "/tmp/a")
	require.True(t, oldRes.Virtual)
	require.False(t, newRes.Virtual)
}

// Scenario 5: logical flock on a virtual path blocks a second exclusive
// holder for at least as long as the first holds it.
func TestScenario5LogicalFlockBlocksSecondHolder(t *testing.T) {
	h := newHarness(t, "/vrift")
	h.ingest(t, "/vrift/lock.txt", []byte("x"), 0o644)

	unlockA := h.engine.Locks.LockExclusive("/vrift/lock.txt")
	released := make(chan time.Time, 1)
	go func() {
		time.Sleep(200 * time.Millisecond)
		released <- time.Now()
		unlockA()
	}()

	start := time.Now()
	unlockB := h.engine.Locks.LockExclusive("/vrift/lock.txt")
	waited := time.Since(start)
	unlockB()

	releaseTime := <-released
	require.GreaterOrEqual(t, waited, 150*time.Millisecond)
	require.True(t, time.Since(releaseTime) >= 0)
}

// Scenario 6: a traversal escape above vfs_prefix never resolves to a host
// file; cmd/vriftshim surfaces this as ENOENT rather than as any valid
// handle.
func TestScenario6TraversalBlocked(t *testing.T) {
	h := newHarness(t, "/vrift")
	res := shimcore.Resolve(h.engine.Prefix, "/vrift/../etc/passwd")
	require.True(t, res.Escaped)
}

// Scenario 7: dedup across distinct virtual paths collapses to one blob;
// the blob stays reachable until every referencing entry is removed, then
// becomes a GC candidate.
func TestScenario7DedupAndGC(t *testing.T) {
	h := newHarness(t, "/vrift")
	content := []byte("identical content")
	ref1 := h.ingest(t, "/vrift/a.txt", content, 0o644)
	ref2 := h.ingest(t, "/vrift/b.txt", content, 0o644)
	require.Equal(t, ref1, ref2)

	blobPath, err := h.d.CAS().GetPath(ref1)
	require.NoError(t, err)
	_, err = os.Stat(blobPath)
	require.NoError(t, err)

	require.NoError(t, h.engine.Remove("/vrift/a.txt"))
	_, err = os.Stat(blobPath)
	require.NoError(t, err, "blob must stay reachable via b.txt")

	require.NoError(t, h.engine.Remove("/vrift/b.txt"))
	removed, err := h.d.GC()
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = os.Stat(blobPath)
	require.True(t, os.IsNotExist(err))
}
