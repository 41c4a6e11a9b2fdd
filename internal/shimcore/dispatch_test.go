package shimcore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velo-sh/rift/internal/manifest"
	"github.com/velo-sh/rift/internal/protocol"
	"github.com/velo-sh/rift/internal/vnode"
)

// fakeDaemon is a minimal protocol.Handler standing in for the real
// internal/daemon IPC handler, letting Engine's RPC plumbing be exercised
// without spinning up a full Daemon.
type fakeDaemon struct {
	mkdirCalls  int
	lastMkdir   string
	lookupEntry vnode.Entry
	lookupFound bool
}

func (f *fakeDaemon) handle(ctx context.Context, peer protocol.PeerCredentials, req *protocol.Request) *protocol.Response {
	switch req.Op {
	case protocol.OpMkdir:
		f.mkdirCalls++
		f.lastMkdir = req.VPath
		return &protocol.Response{RequestID: req.RequestID, Status: protocol.StatusOK}
	case protocol.OpLookup:
		if !f.lookupFound {
			return &protocol.Response{RequestID: req.RequestID, Status: protocol.StatusNotFound}
		}
		return &protocol.Response{
			RequestID: req.RequestID, Status: protocol.StatusOK,
			Mode: f.lookupEntry.Mode, Size: f.lookupEntry.Size, Kind: uint8(f.lookupEntry.Kind),
		}
	default:
		return &protocol.Response{RequestID: req.RequestID, Status: protocol.StatusInternal, Message: "unhandled in test fake"}
	}
}

func startFakeDaemon(t *testing.T, fake *fakeDaemon) *protocol.Client {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "ipc.sock")
	srv := &protocol.Server{SocketPath: sockPath, Handler: fake.handle}
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx) //nolint:errcheck
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	client, err := protocol.Dial(sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestEngineMkdirRoundTrip(t *testing.T) {
	fake := &fakeDaemon{}
	client := startFakeDaemon(t, fake)

	e := NewEngine("/vrift", "ws-1", client)
	err := e.Mkdir("/vrift/newdir", 0o755)
	require.NoError(t, err)
	require.Equal(t, 1, fake.mkdirCalls)
	require.Equal(t, "/vrift/newdir", fake.lastMkdir)
}

func TestEngineStatFallsBackToRPCWithoutSnapshot(t *testing.T) {
	fake := &fakeDaemon{lookupFound: true, lookupEntry: vnode.Entry{Mode: 0o644, Size: 123, Kind: vnode.RegularFile}}
	client := startFakeDaemon(t, fake)

	e := NewEngine("/vrift", "ws-1", client)
	entry, err := e.Stat("/vrift/a.txt")
	require.NoError(t, err)
	require.Equal(t, int64(123), entry.Size)
}

func TestEngineStatUsesLoadedSnapshotWithoutRPC(t *testing.T) {
	fake := &fakeDaemon{} // would error if consulted
	client := startFakeDaemon(t, fake)

	e := NewEngine("/vrift", "ws-1", client)
	e.RefreshSnapshot(&manifest.Snapshot{Entries: map[string]vnode.Entry{
		"/vrift/a.txt": {Mode: 0o644, Size: 7, Kind: vnode.RegularFile},
	}})

	entry, err := e.Stat("/vrift/a.txt")
	require.NoError(t, err)
	require.Equal(t, int64(7), entry.Size)
}

func TestStatFollowResolvesSymlinkChain(t *testing.T) {
	fake := &fakeDaemon{}
	client := startFakeDaemon(t, fake)

	e := NewEngine("/vrift", "ws-1", client)
	e.RefreshSnapshot(&manifest.Snapshot{Entries: map[string]vnode.Entry{
		"/vrift/real.txt": {Mode: 0o644, Size: 9, Kind: vnode.RegularFile},
		// Absolute target, then a relative one hopping through it.
		"/vrift/abs.lnk":     {Kind: vnode.Symlink, SymlinkTarget: "/vrift/real.txt"},
		"/vrift/sub/rel.lnk": {Kind: vnode.Symlink, SymlinkTarget: "../abs.lnk"},
	}})

	entry, resolved, err := e.StatFollow("/vrift/sub/rel.lnk")
	require.NoError(t, err)
	require.Equal(t, vnode.RegularFile, entry.Kind)
	require.Equal(t, int64(9), entry.Size)
	require.Equal(t, "/vrift/real.txt", resolved)

	// Lstat semantics stay untouched: Stat on the link itself returns the
	// link's own entry.
	link, err := e.Stat("/vrift/abs.lnk")
	require.NoError(t, err)
	require.Equal(t, vnode.Symlink, link.Kind)
}

func TestStatFollowLoopHitsDepthBound(t *testing.T) {
	fake := &fakeDaemon{}
	client := startFakeDaemon(t, fake)

	e := NewEngine("/vrift", "ws-1", client)
	e.RefreshSnapshot(&manifest.Snapshot{Entries: map[string]vnode.Entry{
		"/vrift/a": {Kind: vnode.Symlink, SymlinkTarget: "/vrift/b"},
		"/vrift/b": {Kind: vnode.Symlink, SymlinkTarget: "/vrift/a"},
	}})

	_, _, err := e.StatFollow("/vrift/a")
	require.ErrorIs(t, err, ErrSymlinkLoop)
}

func TestStatFollowTargetOutsideTreeIsNotFound(t *testing.T) {
	fake := &fakeDaemon{}
	client := startFakeDaemon(t, fake)

	e := NewEngine("/vrift", "ws-1", client)
	e.RefreshSnapshot(&manifest.Snapshot{Entries: map[string]vnode.Entry{
		"/vrift/escape": {Kind: vnode.Symlink, SymlinkTarget: "/etc/passwd"},
	}})

	_, _, err := e.StatFollow("/vrift/escape")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSymlinkLoop)
}

func TestEngineStatNotFoundFromSnapshot(t *testing.T) {
	fake := &fakeDaemon{}
	client := startFakeDaemon(t, fake)

	e := NewEngine("/vrift", "ws-1", client)
	e.RefreshSnapshot(&manifest.Snapshot{Entries: map[string]vnode.Entry{}})

	_, err := e.Stat("/vrift/missing.txt")
	require.Error(t, err)
}
