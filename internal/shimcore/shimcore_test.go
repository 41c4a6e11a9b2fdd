package shimcore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/velo-sh/rift/internal/manifest"
	"github.com/velo-sh/rift/internal/vnode"
)

func TestResolveOutsidePrefixIsNonVirtual(t *testing.T) {
	res := Resolve("/vrift", "/home/user/file.txt")
	require.False(t, res.Virtual)
}

func TestResolveWithinPrefix(t *testing.T) {
	res := Resolve("/vrift", "/vrift/a/b.txt")
	require.True(t, res.Virtual)
	require.False(t, res.Escaped)
	require.Equal(t, "/vrift/a/b.txt", res.VPath)
}

// TestResolveTraversalEscape: a ".." sequence that walks above
// vfs_prefix must resolve to ENOENT, never fall through to the real host
// path it would otherwise name.
func TestResolveTraversalEscape(t *testing.T) {
	res := Resolve("/vrift", "/vrift/a/../../etc/passwd")
	require.True(t, res.Virtual)
	require.True(t, res.Escaped)
}

func TestResolveDotDotWithinPrefixStaysVirtual(t *testing.T) {
	res := Resolve("/vrift", "/vrift/a/b/../c.txt")
	require.True(t, res.Virtual)
	require.False(t, res.Escaped)
	require.Equal(t, "/vrift/a/c.txt", res.VPath)
}

func TestClassifyOpenWriteIntent(t *testing.T) {
	require.True(t, ClassifyOpen(OpenFlags{WriteOnly: true}))
	require.True(t, ClassifyOpen(OpenFlags{ReadWrite: true}))
	require.True(t, ClassifyOpen(OpenFlags{Create: true}))
	require.True(t, ClassifyOpen(OpenFlags{Truncate: true}))
	require.False(t, ClassifyOpen(OpenFlags{}))
	require.False(t, ClassifyOpen(OpenFlags{Append: true}))
}

func TestInitGuardAdvancesInOrder(t *testing.T) {
	g := &InitGuard{}
	require.Equal(t, StateUninitialized, g.State())
	require.False(t, g.Ready())

	require.True(t, g.Advance(StateUninitialized, StateSymbolsResolved))
	require.False(t, g.Ready())

	require.True(t, g.Advance(StateSymbolsResolved, StateReady))
	require.True(t, g.Ready())
}

func TestInitGuardRejectsOutOfOrderAdvance(t *testing.T) {
	g := &InitGuard{}
	require.False(t, g.Advance(StateSymbolsResolved, StateReady))
	require.Equal(t, StateUninitialized, g.State())
}

func TestFDTableAliasSharesRecordAndRefcounts(t *testing.T) {
	tbl := NewFDTable()
	rec := &OpenFileRecord{VPath: "/vrift/a.txt"}
	tbl.Insert(3, rec)

	aliased, ok := tbl.Alias(3, 9)
	require.True(t, ok)
	require.Same(t, rec, aliased)

	_, last := tbl.Remove(3)
	require.False(t, last)

	_, last = tbl.Remove(9)
	require.True(t, last)

	require.Equal(t, 0, tbl.Len())
}

func TestFDTableLookupMiss(t *testing.T) {
	tbl := NewFDTable()
	_, ok := tbl.Lookup(42)
	require.False(t, ok)
}

func TestDirStreamOrdersAlphabeticallyAndStreams(t *testing.T) {
	snap := &manifest.Snapshot{Entries: map[string]vnode.Entry{
		"/vrift/c.txt":  {Kind: vnode.RegularFile},
		"/vrift/a.txt":  {Kind: vnode.RegularFile},
		"/vrift/b":      {Kind: vnode.Directory},
		"/vrift/b/deep": {Kind: vnode.RegularFile}, // not a direct child of /vrift
	}}
	ds := NewDirStream(snap, "/vrift")
	require.Equal(t, 3, ds.Len())

	var names []string
	for {
		e, ok := ds.Next()
		if !ok {
			break
		}
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"a.txt", "b", "c.txt"}, names)

	_, ok := ds.Next()
	require.False(t, ok)

	ds.Rewind()
	first, ok := ds.Next()
	require.True(t, ok)
	require.Equal(t, "a.txt", first.Name)
}

func TestDirStreamStableInodeMatchesVnode(t *testing.T) {
	snap := &manifest.Snapshot{Entries: map[string]vnode.Entry{
		"/vrift/a.txt": {Kind: vnode.RegularFile},
	}}
	ds := NewDirStream(snap, "/vrift")
	e, ok := ds.Next()
	require.True(t, ok)
	require.Equal(t, vnode.StableInode("/vrift/a.txt"), e.Ino)
}
