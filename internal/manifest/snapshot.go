package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/velo-sh/rift/internal/vnode"
)

// Snapshot is a flattened, point-in-time view of a Manifest: every
// VirtualPath visible through the full layer stack, tombstones already
// applied. It is what gets serialized (as JSON) to the snapshot file a
// reader loads: the
// writer installs new snapshots by atomically advancing a small
// fixed-size header.
type Snapshot struct {
	Generation uint64                 `json:"generation"`
	Entries    map[string]vnode.Entry `json:"entries"`
}

// Snapshot flattens the current layer stack into one map. Held only across
// the bbolt view transactions, never across any CAS I/O, per the Daemon's
// "never hold a lock across a disk-I/O suspension point" rule.
func (m *Manifest) Snapshot() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make(map[string]vnode.Entry)
	tombstoned := make(map[string]struct{})

	// Walk bottom-to-top so higher layers (closer to Delta) overwrite
	// lower ones, and a tombstone removes whatever a lower layer wrote.
	stack := m.layers()
	for i := len(stack) - 1; i >= 0; i-- {
		l := stack[i]
		if err := l.forEachAll(func(vpath string, entry vnode.Entry, isTomb bool) error {
			if isTomb {
				tombstoned[vpath] = struct{}{}
				delete(entries, vpath)
				return nil
			}
			delete(tombstoned, vpath)
			entries[vpath] = entry
			return nil
		}); err != nil {
			return nil, fmt.Errorf("manifest: snapshot: %w", err)
		}
	}
	for vpath := range tombstoned {
		delete(entries, vpath)
	}

	return &Snapshot{Generation: m.generation, Entries: entries}, nil
}

// PublishSnapshot serializes snap into a new file under dir and atomically
// installs it as current: write-to-temp, rename into place, then update the
// small generation header (publishGeneration) so readers polling it observe
// the new snapshot.
func PublishSnapshot(dir string, snap *Snapshot) (path string, err error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("manifest: create snapshot dir: %w", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("manifest: encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-"+uuid.NewString()+"-*")
	if err != nil {
		return "", fmt.Errorf("manifest: create snapshot temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath) //nolint:errcheck
		return "", fmt.Errorf("manifest: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath) //nolint:errcheck
		return "", fmt.Errorf("manifest: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return "", fmt.Errorf("manifest: close snapshot: %w", err)
	}

	finalPath := filepath.Join(dir, fmt.Sprintf("snapshot-%020d.json", snap.Generation))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return "", fmt.Errorf("manifest: publish snapshot: %w", err)
	}

	if err := publishGeneration(dir, snap.Generation); err != nil {
		return "", fmt.Errorf("manifest: publish generation header: %w", err)
	}
	return finalPath, nil
}

// LoadSnapshot reads back the snapshot file named by generation.
func LoadSnapshot(dir string, generation uint64) (*Snapshot, error) {
	path := filepath.Join(dir, fmt.Sprintf("snapshot-%020d.json", generation))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("manifest: decode snapshot: %w", err)
	}
	return &snap, nil
}

// currentGeneration is an in-process fallback when the mmap header hasn't
// been initialized for this generation dir yet (tests, single-process use
// without a reader mapping the header file).
var currentGeneration atomic.Uint64

// CurrentGeneration returns the last generation published via
// publishGeneration in this process.
func CurrentGeneration() uint64 {
	return currentGeneration.Load()
}
