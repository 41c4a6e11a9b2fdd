package shimcore

import (
	"sort"

	"github.com/velo-sh/rift/internal/manifest"
	"github.com/velo-sh/rift/internal/vnode"
)

// DirStream is an in-progress readdir() enumeration over a flattened
// Manifest snapshot, handed back name-by-name as cmd/vriftshim's readdir
// replacement is called repeatedly. NewDirStream collects and sorts every
// name in the directory up front, so the whole listing is held in memory
// for the stream's lifetime; only the hand-out is one entry at a time.
type DirStream struct {
	names   []string
	entries map[string]vnode.Entry
	dir     string
	pos     int
}

// NewDirStream builds a DirStream over a flattened snapshot for dir,
// selecting every entry whose parent is exactly dir and sorting
// alphabetically, matching ManifestListDir's ordering so a Daemon-served
// readdir and a snapshot-served one agree.
func NewDirStream(snap *manifest.Snapshot, dir string) *DirStream {
	ds := &DirStream{dir: dir, entries: make(map[string]vnode.Entry)}
	for vpath, entry := range snap.Entries {
		if vnode.Parent(vpath) != dir {
			continue
		}
		name := vnode.Base(vpath)
		ds.entries[name] = entry
		ds.names = append(ds.names, name)
	}
	sort.Strings(ds.names)
	return ds
}

// DirStreamEntry is one readdir() row: a synthetic d_ino (stable across
// repeated enumerations of the same vpath) plus the Kind
// needed to populate d_type.
type DirStreamEntry struct {
	Name string
	Ino  uint64
	Kind vnode.Kind
}

// Next returns the next entry and true, or a zero value and false once the
// stream is exhausted.
func (ds *DirStream) Next() (DirStreamEntry, bool) {
	if ds.pos >= len(ds.names) {
		return DirStreamEntry{}, false
	}
	name := ds.names[ds.pos]
	ds.pos++
	entry := ds.entries[name]
	vpath := vnode.Join(ds.dir, name)
	return DirStreamEntry{Name: name, Ino: vnode.StableInode(vpath), Kind: entry.Kind}, true
}

// Rewind resets the stream to its first entry, the logical equivalent of
// rewinddir().
func (ds *DirStream) Rewind() { ds.pos = 0 }

// Len reports the total entry count, for telldir/seekdir-style offset math
// the C layer may need.
func (ds *DirStream) Len() int { return len(ds.names) }
