package manifest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/velo-sh/rift/internal/vfserr"
	"github.com/velo-sh/rift/internal/vnode"
)

// Manifest composes an ordered layer stack: Delta is the writable,
// per-workspace top layer; Bases is zero or more read-only layers beneath
// it (e.g. a project layer followed by one or more shared base layers).
// Lookup walks top-to-bottom and returns the first hit.
type Manifest struct {
	mu    sync.Mutex
	Delta *Layer
	Bases []*Layer

	generation uint64
}

// Open opens deltaPath as the writable layer and basePaths (outermost
// first) as read-only layers, and returns a ready-to-use Manifest.
func Open(deltaPath string, basePaths ...string) (*Manifest, error) {
	delta, err := OpenLayer(deltaPath, false)
	if err != nil {
		return nil, err
	}
	var bases []*Layer
	for _, p := range basePaths {
		l, err := OpenLayer(p, true)
		if err != nil {
			for _, opened := range bases {
				opened.Close()
			}
			delta.Close()
			return nil, err
		}
		bases = append(bases, l)
	}
	return &Manifest{Delta: delta, Bases: bases}, nil
}

// Close closes every layer in the stack.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	if err := m.Delta.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, l := range m.Bases {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// layers returns the stack top-to-bottom: delta first, then bases in
// registration order.
func (m *Manifest) layers() []*Layer {
	out := make([]*Layer, 0, 1+len(m.Bases))
	out = append(out, m.Delta)
	out = append(out, m.Bases...)
	return out
}

// Lookup walks the layer stack top-to-bottom and returns the first hit.
// A tombstone in a higher layer stops the search before any lower layer is
// consulted: a deleted path never resurfaces from a base layer.
func (m *Manifest) Lookup(vpath string) (vnode.Entry, bool, error) {
	for _, l := range m.layers() {
		entry, found, tombstoned, err := l.get(vpath)
		if err != nil {
			return vnode.Entry{}, false, fmt.Errorf("manifest: lookup %q: %w", vpath, err)
		}
		if tombstoned {
			return vnode.Entry{}, false, nil
		}
		if found {
			return entry, true, nil
		}
	}
	return vnode.Entry{}, false, nil
}

// Insert writes entry at vpath in the delta layer. Writing always targets
// the delta layer: base layers are never mutated directly; the delta is
// the only layer a running Daemon writes to.
func (m *Manifest) Insert(vpath string, entry vnode.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Delta.put(vpath, entry); err != nil {
		return fmt.Errorf("manifest: insert %q: %w", vpath, err)
	}
	m.generation++
	return nil
}

// Remove tombstones vpath in the delta layer, hiding any base-layer entry
// at the same path regardless of whether the delta layer held one itself.
func (m *Manifest) Remove(vpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, found, err := m.lookupLocked(vpath)
	if err != nil {
		return err
	}
	if !found {
		return vfserr.New(vfserr.NotFound, "manifest.Remove", vpath, fmt.Errorf("no such entry"))
	}
	if err := m.Delta.tombstone(vpath); err != nil {
		return fmt.Errorf("manifest: remove %q: %w", vpath, err)
	}
	m.generation++
	return nil
}

// Rename moves the entry at oldVpath to newVpath: tombstones the old path
// and inserts the looked-up entry at the new one. Not atomic across a
// crash between the two bbolt transactions; the Daemon's command log
// (internal/daemon/apply.go) is what gives rename crash-atomicity by
// replaying the whole command on recovery, not the Manifest layer itself.
func (m *Manifest) Rename(oldVpath, newVpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, found, err := m.lookupLocked(oldVpath)
	if err != nil {
		return err
	}
	if !found {
		return vfserr.New(vfserr.NotFound, "manifest.Rename", oldVpath, fmt.Errorf("no such entry"))
	}
	if err := m.Delta.tombstone(oldVpath); err != nil {
		return fmt.Errorf("manifest: rename tombstone %q: %w", oldVpath, err)
	}
	if err := m.Delta.put(newVpath, entry); err != nil {
		return fmt.Errorf("manifest: rename insert %q: %w", newVpath, err)
	}
	m.generation += 2
	return nil
}

func (m *Manifest) lookupLocked(vpath string) (vnode.Entry, bool, error) {
	for _, l := range m.layers() {
		entry, found, tombstoned, err := l.get(vpath)
		if err != nil {
			return vnode.Entry{}, false, err
		}
		if tombstoned {
			return vnode.Entry{}, false, nil
		}
		if found {
			return entry, true, nil
		}
	}
	return vnode.Entry{}, false, nil
}

// DirEntry is one row of a ListDir result.
type DirEntry struct {
	Name  string
	Entry vnode.Entry
}

// ListDir returns the union of every layer's direct children of dir,
// delta-layer entries and tombstones taking precedence over base layers,
// in name order. Every child of dir is collected from all layers and
// sorted before ListDir returns, so the returned iterator yields from a
// listing already held in memory; it does not stream from the layers.
func (m *Manifest) ListDir(dir string) (func(yield func(DirEntry) bool), error) {
	seen := make(map[string]struct{})
	tombstoned := make(map[string]struct{})
	merged := make(map[string]vnode.Entry)

	for _, l := range m.layers() {
		err := l.forEachChild(dir, func(vpath string, entry vnode.Entry, isTomb bool) error {
			name := vnode.Base(vpath)
			if _, already := seen[name]; already {
				return nil
			}
			if isTomb {
				tombstoned[name] = struct{}{}
				seen[name] = struct{}{}
				return nil
			}
			merged[name] = entry
			seen[name] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("manifest: list_dir %q: %w", dir, err)
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		if _, hidden := tombstoned[name]; hidden {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return func(yield func(DirEntry) bool) {
		for _, name := range names {
			if !yield(DirEntry{Name: name, Entry: merged[name]}) {
				return
			}
		}
	}, nil
}

// Generation returns the current in-memory mutation counter, used by
// Snapshot/PublishSnapshot to detect whether a new snapshot is needed.
func (m *Manifest) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}
