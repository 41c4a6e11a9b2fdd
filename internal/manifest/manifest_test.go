package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/velo-sh/rift/internal/hashid"
	"github.com/velo-sh/rift/internal/vnode"
)

func newTestManifest(t *testing.T) *Manifest {
	t.Helper()
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "delta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func fileEntry(hash string) vnode.Entry {
	return vnode.Entry{
		Mode: 0o644,
		Size: 42,
		Hash: hashid.ContentHash(hash),
		Kind: vnode.RegularFile,
	}
}

const testHashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const testHashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func TestInsertLookup(t *testing.T) {
	m := newTestManifest(t)
	entry := fileEntry(testHashA)

	require.NoError(t, m.Insert("/vrift/a.txt", entry))
	got, found, err := m.Lookup("/vrift/a.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, entry, got)
}

func TestLookupMiss(t *testing.T) {
	m := newTestManifest(t)
	_, found, err := m.Lookup("/vrift/nope.txt")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoveTombstonesDeltaEntry(t *testing.T) {
	m := newTestManifest(t)
	require.NoError(t, m.Insert("/vrift/a.txt", fileEntry(testHashA)))
	require.NoError(t, m.Remove("/vrift/a.txt"))

	_, found, err := m.Lookup("/vrift/a.txt")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoveMissingIsNotFound(t *testing.T) {
	m := newTestManifest(t)
	err := m.Remove("/vrift/nope.txt")
	require.Error(t, err)
}

// A tombstone in the delta layer hides an entry present in a lower,
// read-only base layer.
func TestBaseLayerEntryHiddenByDeltaTombstone(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.db")

	seed, err := Open(basePath)
	require.NoError(t, err)
	require.NoError(t, seed.Insert("/vrift/base.txt", fileEntry(testHashA)))
	require.NoError(t, seed.Close())

	base, err := OpenLayer(basePath, true)
	require.NoError(t, err)
	defer base.Close()

	m := &Manifest{}
	delta, err := OpenLayer(filepath.Join(dir, "delta.db"), false)
	require.NoError(t, err)
	defer delta.Close()
	m.Delta = delta
	m.Bases = []*Layer{base}

	entry, found, err := m.Lookup("/vrift/base.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, fileEntry(testHashA), entry)

	require.NoError(t, m.Remove("/vrift/base.txt"))
	_, found, err = m.Lookup("/vrift/base.txt")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRename(t *testing.T) {
	m := newTestManifest(t)
	require.NoError(t, m.Insert("/vrift/old.txt", fileEntry(testHashA)))

	require.NoError(t, m.Rename("/vrift/old.txt", "/vrift/new.txt"))

	_, found, err := m.Lookup("/vrift/old.txt")
	require.NoError(t, err)
	require.False(t, found)

	got, found, err := m.Lookup("/vrift/new.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, fileEntry(testHashA), got)
}

func TestListDirMergesAndSortsNames(t *testing.T) {
	m := newTestManifest(t)
	require.NoError(t, m.Insert("/vrift/dir/b.txt", fileEntry(testHashA)))
	require.NoError(t, m.Insert("/vrift/dir/a.txt", fileEntry(testHashB)))
	require.NoError(t, m.Insert("/vrift/dir/sub/nested.txt", fileEntry(testHashA)))

	it, err := m.ListDir("/vrift/dir")
	require.NoError(t, err)

	var names []string
	it(func(d DirEntry) bool {
		names = append(names, d.Name)
		return true
	})
	require.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestListDirExcludesTombstoned(t *testing.T) {
	m := newTestManifest(t)
	require.NoError(t, m.Insert("/vrift/dir/keep.txt", fileEntry(testHashA)))
	require.NoError(t, m.Insert("/vrift/dir/gone.txt", fileEntry(testHashB)))
	require.NoError(t, m.Remove("/vrift/dir/gone.txt"))

	it, err := m.ListDir("/vrift/dir")
	require.NoError(t, err)

	var names []string
	it(func(d DirEntry) bool {
		names = append(names, d.Name)
		return true
	})
	require.Equal(t, []string{"keep.txt"}, names)
}

func TestSnapshotAndPublish(t *testing.T) {
	m := newTestManifest(t)
	require.NoError(t, m.Insert("/vrift/a.txt", fileEntry(testHashA)))
	require.NoError(t, m.Insert("/vrift/b.txt", fileEntry(testHashB)))

	snap, err := m.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Entries, 2)

	dir := t.TempDir()
	path, err := PublishSnapshot(dir, snap)
	require.NoError(t, err)
	require.FileExists(t, path)

	reloaded, err := LoadSnapshot(dir, snap.Generation)
	require.NoError(t, err)
	require.Equal(t, snap.Entries, reloaded.Entries)

	gen, err := ReadGenerationHeader(dir)
	require.NoError(t, err)
	require.Equal(t, snap.Generation, gen)
}

// Every VnodeEntry in a published snapshot references a blob that was
// reachable from CAS at publish time. The Manifest layer's job is only to
// reproduce the hash faithfully; this test pins that Snapshot never mutates
// or drops the Hash field while flattening layers.
func TestSnapshotPreservesHash(t *testing.T) {
	m := newTestManifest(t)
	entry := fileEntry(testHashA)
	require.NoError(t, m.Insert("/vrift/a.txt", entry))

	snap, err := m.Snapshot()
	require.NoError(t, err)
	require.Equal(t, entry.Hash, snap.Entries["/vrift/a.txt"].Hash)
}
