package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)

	rec := WorkspaceRecord{
		WorkspaceID:     "ws-1",
		ProjectRoot:     "/home/dev/project",
		ProjectRootHash: ProjectRootHash("/home/dev/project"),
		VFSPrefix:       "/vrift",
		ManifestPath:    "/var/lib/vrift/manifests/ws-1",
		Status:          StatusActive,
	}
	require.NoError(t, r.Register(rec))

	got, ok, err := r.Get("ws-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec, got)
}

func TestGetMissing(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)

	_, ok, err := r.Get("nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnregister(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Register(WorkspaceRecord{WorkspaceID: "ws-1"}))

	require.NoError(t, r.Unregister("ws-1"))
	_, ok, err := r.Get("ws-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.Error(t, r.Unregister("ws-1"))
}

func TestListReturnsAllWorkspaces(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Register(WorkspaceRecord{WorkspaceID: "ws-1"}))
	require.NoError(t, r.Register(WorkspaceRecord{WorkspaceID: "ws-2"}))

	list, err := r.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestTouchVerifiedAndSetStatus(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.Register(WorkspaceRecord{WorkspaceID: "ws-1", Status: StatusActive}))

	require.NoError(t, r.TouchVerified("ws-1", 1234))
	rec, _, err := r.Get("ws-1")
	require.NoError(t, err)
	require.EqualValues(t, 1234, rec.LastVerified)

	require.NoError(t, r.SetStatus("ws-1", StatusStale))
	rec, _, err = r.Get("ws-1")
	require.NoError(t, err)
	require.Equal(t, StatusStale, rec.Status)
}

// ProjectRootHash detects a moved/renamed checkout: the hash of the
// project root path changes if the path changes, even if the directory's
// contents did not.
func TestProjectRootHashDetectsMove(t *testing.T) {
	h1 := ProjectRootHash("/home/dev/project")
	h2 := ProjectRootHash("/home/dev/project-renamed")
	require.NotEqual(t, h1, h2)
	require.Equal(t, h1, ProjectRootHash("/home/dev/project"))
}

func TestRegistryPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	r1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, r1.Register(WorkspaceRecord{WorkspaceID: "ws-1"}))

	r2, err := Open(dir)
	require.NoError(t, err)
	_, ok, err := r2.Get("ws-1")
	require.NoError(t, err)
	require.True(t, ok)
}
